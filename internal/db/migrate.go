package db

import (
	"encoding/json"
	"fmt"

	"github.com/zulandar/trellis/internal/config"
	"github.com/zulandar/trellis/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AllModels returns the list of all GORM models for migration.
func AllModels() []interface{} {
	return []interface{}{
		&models.WorkItemType{},
		&models.FieldDefinition{},
		&models.Status{},
		&models.WorkItem{},
		&models.WorkItemField{},
		&models.TypeRelationship{},
		&models.StatusTransition{},
		&models.Watcher{},
		&models.User{},
		&models.ActionResult{},
	}
}

// AutoMigrate creates or updates all tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}

// SeedTypes upserts work item types, field definitions, and statuses from
// configuration. Existing rows are matched by name so reseeding is safe.
func SeedTypes(db *gorm.DB, org string, types []config.TypeConfig) error {
	for _, tc := range types {
		var wt models.WorkItemType
		err := db.Where("name = ? AND organization_id = ?", tc.Name, org).First(&wt).Error
		if err == gorm.ErrRecordNotFound {
			wt = models.WorkItemType{Name: tc.Name, OrganizationID: &org}
			if err := db.Create(&wt).Error; err != nil {
				return fmt.Errorf("db: seed type %q: %w", tc.Name, err)
			}
		} else if err != nil {
			return fmt.Errorf("db: look up type %q: %w", tc.Name, err)
		}

		for order, fc := range tc.Fields {
			options, err := marshalJSON(fc.Options)
			if err != nil {
				return fmt.Errorf("db: marshal options for field %q: %w", fc.Name, err)
			}
			fieldType := fc.Type
			if fieldType == "" {
				fieldType = models.FieldText
			}
			fd := models.FieldDefinition{
				TypeID:       wt.ID,
				Name:         fc.Name,
				FieldType:    fieldType,
				Options:      options,
				Required:     fc.Required,
				DisplayOrder: order,
			}
			result := db.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "type_id"}, {Name: "name"}},
				DoUpdates: clause.AssignmentColumns([]string{"field_type", "options", "required", "display_order"}),
			}).Create(&fd)
			if result.Error != nil {
				return fmt.Errorf("db: seed field %q on type %q: %w", fc.Name, tc.Name, result.Error)
			}
		}

		for order, sc := range tc.Statuses {
			st := models.Status{
				TypeID:       wt.ID,
				Name:         sc.Name,
				IsInitial:    sc.Initial,
				IsFinal:      sc.Final,
				DisplayOrder: order,
			}
			result := db.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "type_id"}, {Name: "name"}},
				DoUpdates: clause.AssignmentColumns([]string{"is_initial", "is_final", "display_order"}),
			}).Create(&st)
			if result.Error != nil {
				return fmt.Errorf("db: seed status %q on type %q: %w", sc.Name, tc.Name, result.Error)
			}
		}
	}
	return nil
}

// marshalJSON marshals a value to a JSON string, returning empty string for nil.
func marshalJSON(v interface{}) (string, error) {
	if v == nil {
		return "", nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
