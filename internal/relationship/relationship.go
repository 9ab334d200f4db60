// Package relationship enforces which child item types a parent type may
// spawn and drives template-based automatic child creation.
package relationship

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/zulandar/trellis/internal/interp"
	"github.com/zulandar/trellis/internal/models"
	"github.com/zulandar/trellis/internal/registry"
	"gorm.io/gorm"
)

// Sentinel errors surfaced by relationship operations.
var (
	ErrCircularRelationship  = errors.New("relationship: parent and child type must differ")
	ErrDuplicateRelationship = errors.New("relationship: relationship already declared for this type pair")
	ErrChildTypeNotAllowed   = errors.New("relationship: child type not declared for parent type")
	ErrCountConstraint       = errors.New("relationship: child count constraint violated")
)

// AutoCreateConfig drives automatic child creation for a relationship.
// Template strings use the {parent.*} grammar; InheritFields names
// standard fields copied verbatim from the parent.
type AutoCreateConfig struct {
	SubjectTemplate string            `json:"subject_template"`
	FieldTemplates  map[string]string `json:"field_templates,omitempty"`
	InheritFields   []string          `json:"inherit_fields,omitempty"`
}

// ParseAutoCreateConfig unmarshals the JSON column value. An empty string
// yields the zero config.
func ParseAutoCreateConfig(raw string) (AutoCreateConfig, error) {
	var cfg AutoCreateConfig
	if raw == "" {
		return cfg, nil
	}
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return cfg, fmt.Errorf("relationship: parse auto-create config: %w", err)
	}
	return cfg, nil
}

// Validate checks every template in the config at save time, so runtime
// interpolation never fails.
func (c AutoCreateConfig) Validate() error {
	if err := interp.Validate(c.SubjectTemplate); err != nil {
		return fmt.Errorf("relationship: subject template: %w", err)
	}
	for field, tmpl := range c.FieldTemplates {
		if err := interp.Validate(tmpl); err != nil {
			return fmt.Errorf("relationship: template for field %q: %w", field, err)
		}
	}
	return nil
}

// DefineOpts holds parameters for declaring a type relationship.
type DefineOpts struct {
	ParentTypeID     uint
	ChildTypeID      uint
	Name             string
	IsRequired       bool
	MinCount         int
	MaxCount         *int
	AutoCreate       bool
	AutoCreateConfig AutoCreateConfig
	DisplayOrder     int
}

// Define declares a new relationship between two types. Self-relationships
// and duplicate (parent, child) pairs are rejected; auto-create templates
// are syntax-checked here so they never fail at interpolation time.
func Define(db *gorm.DB, opts DefineOpts) (*models.TypeRelationship, error) {
	if opts.ParentTypeID == opts.ChildTypeID {
		return nil, fmt.Errorf("%w: type %d", ErrCircularRelationship, opts.ParentTypeID)
	}
	if opts.MaxCount != nil && opts.MinCount > *opts.MaxCount {
		return nil, fmt.Errorf("relationship: min_count %d exceeds max_count %d", opts.MinCount, *opts.MaxCount)
	}
	if opts.AutoCreate {
		if err := opts.AutoCreateConfig.Validate(); err != nil {
			return nil, err
		}
	}

	var count int64
	if err := db.Model(&models.TypeRelationship{}).
		Where("parent_type_id = ? AND child_type_id = ?", opts.ParentTypeID, opts.ChildTypeID).
		Count(&count).Error; err != nil {
		return nil, fmt.Errorf("relationship: check duplicate: %w", err)
	}
	if count > 0 {
		return nil, fmt.Errorf("%w: (%d, %d)", ErrDuplicateRelationship, opts.ParentTypeID, opts.ChildTypeID)
	}

	cfgJSON, err := json.Marshal(opts.AutoCreateConfig)
	if err != nil {
		return nil, fmt.Errorf("relationship: marshal auto-create config: %w", err)
	}

	rel := models.TypeRelationship{
		ParentTypeID:     opts.ParentTypeID,
		ChildTypeID:      opts.ChildTypeID,
		Name:             opts.Name,
		IsRequired:       opts.IsRequired,
		MinCount:         opts.MinCount,
		MaxCount:         opts.MaxCount,
		AutoCreate:       opts.AutoCreate,
		AutoCreateConfig: string(cfgJSON),
		DisplayOrder:     opts.DisplayOrder,
	}
	if err := db.Create(&rel).Error; err != nil {
		return nil, fmt.Errorf("relationship: create: %w", err)
	}
	return &rel, nil
}

// ValidateChildType reports whether childTypeID is a declared child of
// parentTypeID. Closed world: no declared relationship means not allowed.
func ValidateChildType(snap *registry.Snapshot, parentTypeID, childTypeID uint) (bool, *models.TypeRelationship) {
	rel := snap.Relationship(parentTypeID, childTypeID)
	if rel == nil {
		return false, nil
	}
	return true, rel
}

// CheckCountConstraint rejects a creation that would push the parent's
// live child count of the relationship's child type past max_count.
func CheckCountConstraint(db *gorm.DB, parentID string, rel *models.TypeRelationship) error {
	if rel.MaxCount == nil {
		return nil
	}
	var count int64
	if err := db.Model(&models.WorkItem{}).
		Where("parent_id = ? AND type_id = ?", parentID, rel.ChildTypeID).
		Count(&count).Error; err != nil {
		return fmt.Errorf("relationship: count children: %w", err)
	}
	if count+1 > int64(*rel.MaxCount) {
		return fmt.Errorf("%w: parent %s already has %d of type %d (max %d)",
			ErrCountConstraint, parentID, count, rel.ChildTypeID, *rel.MaxCount)
	}
	return nil
}
