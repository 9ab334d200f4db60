package relationship

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/zulandar/trellis/internal/hierarchy"
	"github.com/zulandar/trellis/internal/interp"
	"github.com/zulandar/trellis/internal/models"
	"github.com/zulandar/trellis/internal/registry"
	"gorm.io/gorm"
)

// DefaultWorkers caps concurrent sibling auto-creates when the caller
// passes no explicit bound.
const DefaultWorkers = 4

// AutoCreateResult reports one relationship's auto-create outcome.
// Failures are isolated: a failed relationship never rolls back the
// parent or its siblings.
type AutoCreateResult struct {
	Relationship *models.TypeRelationship
	Child        *models.WorkItem
	Err          error
}

// AutoCreate spawns the auto_create children declared for the parent's
// type. Relationships are walked in display order; sibling creations run
// on a bounded worker pool so one slow child does not serialize the rest.
// A cancelled context aborts relationships not yet started but never
// interrupts one mid-insert.
func AutoCreate(ctx context.Context, db *gorm.DB, parent *models.WorkItem, snap *registry.Snapshot, workers int) []AutoCreateResult {
	var auto []models.TypeRelationship
	for _, rel := range snap.RelationshipsFor(parent.TypeID) {
		if rel.AutoCreate {
			auto = append(auto, rel)
		}
	}
	if len(auto) == 0 {
		return nil
	}
	if workers <= 0 {
		workers = DefaultWorkers
	}

	parentSnap := interp.NewSnapshot(parent)
	if st := snap.Status(parent.StatusID); st != nil {
		parentSnap.SetStatus(st.Name)
	}
	results := make([]AutoCreateResult, len(auto))
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup

	for i := range auto {
		rel := &auto[i]
		results[i].Relationship = rel

		if err := ctx.Err(); err != nil {
			results[i].Err = fmt.Errorf("relationship: auto-create %q aborted: %w", rel.Name, err)
			continue
		}

		sem <- struct{}{}
		wg.Add(1)
		go func(res *AutoCreateResult) {
			defer wg.Done()
			defer func() { <-sem }()
			child, err := createOne(db, parent, parentSnap, res.Relationship, snap)
			res.Child = child
			res.Err = err
		}(&results[i])
	}
	wg.Wait()

	// Log in display order so failure logs stay deterministic.
	for _, res := range results {
		if res.Err != nil {
			logrus.WithFields(logrus.Fields{
				"parent":       parent.ID,
				"relationship": res.Relationship.Name,
			}).WithError(res.Err).Warn("auto-create failed")
		}
	}
	return results
}

// createOne builds and inserts the child for one auto-create relationship.
func createOne(db *gorm.DB, parent *models.WorkItem, parentSnap interp.Snapshot, rel *models.TypeRelationship, snap *registry.Snapshot) (*models.WorkItem, error) {
	cfg, err := ParseAutoCreateConfig(rel.AutoCreateConfig)
	if err != nil {
		return nil, err
	}

	subject := interp.Render(cfg.SubjectTemplate, parentSnap)
	if subject == "" {
		subject = rel.Name
	}

	child := &models.WorkItem{
		TypeID:         rel.ChildTypeID,
		OrganizationID: parent.OrganizationID,
		Subject:        subject,
		Priority:       parent.Priority,
		Creator:        parent.Creator,
	}
	if st := snap.InitialStatus(rel.ChildTypeID); st != nil {
		child.StatusID = st.ID
	}
	for _, name := range cfg.InheritFields {
		inheritStandard(child, parent, name)
	}

	if len(cfg.FieldTemplates) > 0 {
		defs, err := fieldDefinitions(db, rel.ChildTypeID)
		if err != nil {
			return nil, err
		}
		for _, def := range defs {
			tmpl, ok := cfg.FieldTemplates[def.Name]
			if !ok {
				continue
			}
			child.Fields = append(child.Fields, models.WorkItemField{
				FieldID:   def.ID,
				Name:      def.Name,
				FieldType: def.FieldType,
				Value:     interp.Render(tmpl, parentSnap),
			})
		}
		for name := range cfg.FieldTemplates {
			if !hasField(child.Fields, name) {
				logrus.WithFields(logrus.Fields{
					"relationship": rel.Name,
					"field":        name,
				}).Warn("auto-create template targets undefined field")
			}
		}
	}

	if err := hierarchy.CreateChild(db, parent.ID, child); err != nil {
		return nil, fmt.Errorf("relationship: auto-create %q: %w", rel.Name, err)
	}
	return child, nil
}

// inheritStandard copies one standard field verbatim from parent to child.
func inheritStandard(child, parent *models.WorkItem, name string) {
	switch name {
	case "subject":
		child.Subject = parent.Subject
	case "priority":
		child.Priority = parent.Priority
	case "assignee":
		child.Assignee = parent.Assignee
	case "due_date":
		child.DueDate = parent.DueDate
	case "creator":
		child.Creator = parent.Creator
	}
}

func fieldDefinitions(db *gorm.DB, typeID uint) ([]models.FieldDefinition, error) {
	var defs []models.FieldDefinition
	if err := db.Where("type_id = ?", typeID).Order("display_order ASC").Find(&defs).Error; err != nil {
		return nil, fmt.Errorf("relationship: load field definitions for type %d: %w", typeID, err)
	}
	return defs, nil
}

func hasField(fields []models.WorkItemField, name string) bool {
	for _, f := range fields {
		if f.Name == name {
			return true
		}
	}
	return false
}
