// Package workitem is the orchestration layer over the hierarchy,
// relationship, and transition engines. The server and CLI call it
// instead of composing engine calls themselves, so authorization,
// watcher bookkeeping, and auto-creation happen the same way on every
// path.
package workitem

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/zulandar/trellis/internal/hierarchy"
	"github.com/zulandar/trellis/internal/models"
	"github.com/zulandar/trellis/internal/notify"
	"github.com/zulandar/trellis/internal/registry"
	"github.com/zulandar/trellis/internal/relationship"
	"github.com/zulandar/trellis/internal/transition"
	"github.com/zulandar/trellis/internal/watch"
	"gorm.io/gorm"
)

// Sentinel errors surfaced by service operations.
var (
	ErrForbidden     = errors.New("workitem: user may not act on this item")
	ErrUnknownStatus = errors.New("workitem: status does not belong to the item's type")
	ErrUnknownField  = errors.New("workitem: field not defined on type")
)

// Authorizer decides whether a user may act on an item. A nil Authorizer
// allows everything.
type Authorizer interface {
	CanActOn(userID string, item *models.WorkItem) bool
}

// Service wires the engines together behind one API.
type Service struct {
	DB       *gorm.DB
	Registry *registry.Registry
	Sink     notify.Sink
	Auth     Authorizer
	Workers  int
}

// New builds a Service. Sink and auth may be nil; workers <= 0 falls back
// to each engine's default.
func New(db *gorm.DB, reg *registry.Registry, sink notify.Sink, auth Authorizer, workers int) *Service {
	return &Service{DB: db, Registry: reg, Sink: sink, Auth: auth, Workers: workers}
}

// CreateOpts holds parameters for creating a work item. Fields maps
// custom field names to their initial values.
type CreateOpts struct {
	TypeID         uint
	OrganizationID string
	ParentID       *string
	Subject        string
	Priority       int
	Assignee       string
	Creator        string
	DueDate        *time.Time
	Fields         map[string]string
}

// CreateResult is a created item plus the outcome of every auto-create
// relationship fired by it. A failed auto-create never fails the create.
type CreateResult struct {
	Item        *models.WorkItem
	AutoCreated []relationship.AutoCreateResult
}

// Create inserts a work item, as a root or under a parent. A parented
// create is validated against the declared type relationships and their
// count constraints before insert. The creator is auto-subscribed, and
// the type's auto-create relationships fan out afterwards.
func (s *Service) Create(ctx context.Context, opts CreateOpts) (*CreateResult, error) {
	snap := s.Registry.Current()

	item := &models.WorkItem{
		TypeID:         opts.TypeID,
		OrganizationID: opts.OrganizationID,
		Subject:        opts.Subject,
		Priority:       opts.Priority,
		Assignee:       opts.Assignee,
		Creator:        opts.Creator,
		DueDate:        opts.DueDate,
	}
	if item.Priority == 0 {
		item.Priority = 2
	}
	if st := snap.InitialStatus(opts.TypeID); st != nil {
		item.StatusID = st.ID
	}
	fields, err := s.resolveFields(opts.TypeID, opts.Fields)
	if err != nil {
		return nil, err
	}
	item.Fields = fields

	if opts.ParentID == nil {
		if err := hierarchy.CreateRoot(s.DB, item); err != nil {
			return nil, err
		}
	} else {
		parent, err := hierarchy.Get(s.DB, *opts.ParentID)
		if err != nil {
			return nil, err
		}
		if err := s.authorize(opts.Creator, parent); err != nil {
			return nil, err
		}
		ok, rel := relationship.ValidateChildType(snap, parent.TypeID, opts.TypeID)
		if !ok {
			return nil, fmt.Errorf("%w: type %d under type %d", relationship.ErrChildTypeNotAllowed, opts.TypeID, parent.TypeID)
		}
		if err := relationship.CheckCountConstraint(s.DB, parent.ID, rel); err != nil {
			return nil, err
		}
		if err := hierarchy.CreateChild(s.DB, parent.ID, item); err != nil {
			return nil, err
		}
	}

	if opts.Creator != "" {
		if err := watch.AutoAdd(s.DB, item.ID, opts.Creator, models.WatchAutoCreator); err != nil {
			logrus.WithField("item", item.ID).WithError(err).Warn("auto-watch creator failed")
		}
	}
	if opts.Assignee != "" && opts.Assignee != opts.Creator {
		if err := watch.AutoAdd(s.DB, item.ID, opts.Assignee, models.WatchAutoAssignee); err != nil {
			logrus.WithField("item", item.ID).WithError(err).Warn("auto-watch assignee failed")
		}
	}

	auto := relationship.AutoCreate(ctx, s.DB, item, snap, s.Workers)
	return &CreateResult{Item: item, AutoCreated: auto}, nil
}

// Get returns a live item with its custom field values.
func (s *Service) Get(id string) (*models.WorkItem, error) {
	return hierarchy.Get(s.DB, id)
}

// Move re-parents an item. Beyond the tree invariants enforced by the
// hierarchy engine, the item's type must be a declared child of the new
// parent's type and satisfy its count constraint.
func (s *Service) Move(ctx context.Context, userID, itemID, newParentID string) error {
	item, err := hierarchy.Get(s.DB, itemID)
	if err != nil {
		return err
	}
	if err := s.authorize(userID, item); err != nil {
		return err
	}
	parent, err := hierarchy.Get(s.DB, newParentID)
	if err != nil {
		return err
	}
	if item.ParentID == nil || *item.ParentID != parent.ID {
		snap := s.Registry.Current()
		ok, rel := relationship.ValidateChildType(snap, parent.TypeID, item.TypeID)
		if !ok {
			return fmt.Errorf("%w: type %d under type %d", relationship.ErrChildTypeNotAllowed, item.TypeID, parent.TypeID)
		}
		if err := relationship.CheckCountConstraint(s.DB, parent.ID, rel); err != nil {
			return err
		}
	}
	return hierarchy.Move(ctx, s.DB, itemID, newParentID)
}

// StatusResult is a completed status change plus the audit trail of the
// edge's post-transition actions.
type StatusResult struct {
	Item    *models.WorkItem
	Actions []models.ActionResult
}

// UpdateStatus moves an item to a new status. The target must belong to
// the item's type. The edge is validated first; on success the status is
// written, final statuses stamp completed_at (and leaving one clears
// it), and the edge's actions execute afterwards. Action failures never
// roll back the status write.
func (s *Service) UpdateStatus(ctx context.Context, userID, itemID string, toStatusID uint) (*StatusResult, error) {
	item, err := hierarchy.Get(s.DB, itemID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(userID, item); err != nil {
		return nil, err
	}

	snap := s.Registry.Current()
	target := snap.Status(toStatusID)
	if target == nil || target.TypeID != item.TypeID {
		return nil, fmt.Errorf("%w: status %d on type %d", ErrUnknownStatus, toStatusID, item.TypeID)
	}
	if item.StatusID == toStatusID {
		return &StatusResult{Item: item}, nil
	}

	tr, err := transition.Validate(snap, item, item.StatusID, toStatusID)
	if err != nil {
		return nil, err
	}

	updates := map[string]interface{}{"status_id": toStatusID}
	if target.IsFinal && item.CompletedAt == nil {
		now := time.Now()
		updates["completed_at"] = &now
		item.CompletedAt = &now
	}
	if !target.IsFinal && item.CompletedAt != nil {
		updates["completed_at"] = nil
		item.CompletedAt = nil
	}
	if err := s.DB.Model(&models.WorkItem{}).Where("id = ?", item.ID).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("workitem: update status of %s: %w", item.ID, err)
	}
	item.StatusID = toStatusID

	actions := transition.Execute(ctx, s.DB, item, tr, s.Sink, s.Workers)
	return &StatusResult{Item: item, Actions: actions}, nil
}

// Delete soft-deletes an item. Items with live children are rejected.
func (s *Service) Delete(userID, itemID string) error {
	item, err := hierarchy.Get(s.DB, itemID)
	if err != nil {
		return err
	}
	if err := s.authorize(userID, item); err != nil {
		return err
	}
	return hierarchy.SoftDelete(s.DB, itemID)
}

// ListOpts filters List. Zero values mean no filter on that column.
type ListOpts struct {
	OrganizationID string
	TypeID         uint
	StatusID       uint
	Assignee       string
	ParentID       string
	RootID         string
	Overdue        bool
}

// List returns live items matching the filters, highest priority first.
func (s *Service) List(opts ListOpts) ([]models.WorkItem, error) {
	q := s.DB.Model(&models.WorkItem{})
	if opts.OrganizationID != "" {
		q = q.Where("organization_id = ?", opts.OrganizationID)
	}
	if opts.TypeID != 0 {
		q = q.Where("type_id = ?", opts.TypeID)
	}
	if opts.StatusID != 0 {
		q = q.Where("status_id = ?", opts.StatusID)
	}
	if opts.Assignee != "" {
		q = q.Where("assignee = ?", opts.Assignee)
	}
	if opts.ParentID != "" {
		q = q.Where("parent_id = ?", opts.ParentID)
	}
	if opts.RootID != "" {
		q = q.Where("root_id = ?", opts.RootID)
	}
	if opts.Overdue {
		q = q.Where("due_date < ? AND completed_at IS NULL", time.Now())
	}
	var items []models.WorkItem
	if err := q.Order("priority ASC, created_at ASC").Find(&items).Error; err != nil {
		return nil, fmt.Errorf("workitem: list: %w", err)
	}
	return items, nil
}

// resolveFields matches requested custom field values against the type's
// field definitions. Unknown names are an error at create time, unlike
// auto-create templates which only warn.
func (s *Service) resolveFields(typeID uint, values map[string]string) ([]models.WorkItemField, error) {
	if len(values) == 0 {
		return nil, nil
	}
	var defs []models.FieldDefinition
	if err := s.DB.Where("type_id = ?", typeID).Find(&defs).Error; err != nil {
		return nil, fmt.Errorf("workitem: load field definitions: %w", err)
	}
	byName := make(map[string]models.FieldDefinition, len(defs))
	for _, def := range defs {
		byName[def.Name] = def
	}

	fields := make([]models.WorkItemField, 0, len(values))
	for name, value := range values {
		def, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("%w: %q on type %d", ErrUnknownField, name, typeID)
		}
		fields = append(fields, models.WorkItemField{
			FieldID:   def.ID,
			Name:      def.Name,
			FieldType: def.FieldType,
			Value:     value,
		})
	}
	return fields, nil
}

func (s *Service) authorize(userID string, item *models.WorkItem) error {
	if s.Auth == nil || userID == "" {
		return nil
	}
	if !s.Auth.CanActOn(userID, item) {
		return fmt.Errorf("%w: %s on %s", ErrForbidden, userID, item.ID)
	}
	return nil
}
