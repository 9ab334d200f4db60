package transition

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/zulandar/trellis/internal/interp"
	"github.com/zulandar/trellis/internal/models"
	"github.com/zulandar/trellis/internal/notify"
	"github.com/zulandar/trellis/internal/rule"
	"github.com/zulandar/trellis/internal/watch"
	"gorm.io/gorm"
)

// DefaultWorkers caps concurrent notification dispatch when the caller
// passes no explicit bound.
const DefaultWorkers = 4

// Action types recorded on ActionResult rows.
const (
	ActionNotify      = "notify"
	ActionFieldUpdate = "field_update"
	ActionReassign    = "reassign"
)

// Recipient selectors for NotificationSpec.Recipient. Anything else is
// treated as an explicit user id.
const (
	RecipientAssignee = "assignee"
	RecipientCreator  = "creator"
	RecipientWatchers = "watchers"
)

// NotificationSpec fans a message out after a transition.
type NotificationSpec struct {
	Recipient string `json:"recipient"`          // assignee, creator, watchers, or a user id
	Category  string `json:"category,omitempty"` // watcher category; defaults to status
	Template  string `json:"template"`
}

// FieldUpdateSpec writes a field when its optional guard holds. The value
// template may use {parent.*} tokens (resolved against the item itself)
// plus {now}, {creator}, and {assignee}.
type FieldUpdateSpec struct {
	Field     string     `json:"field"`
	Value     string     `json:"value"`
	Condition *rule.Rule `json:"condition,omitempty"`
}

// AssignmentSpec reassigns the item when its optional guard holds.
// Assignee accepts the same tokens as FieldUpdateSpec values.
type AssignmentSpec struct {
	Assignee  string     `json:"assignee"`
	Condition *rule.Rule `json:"condition,omitempty"`
}

// ActionConfig is the edge's post-transition side effects.
type ActionConfig struct {
	Notifications []NotificationSpec `json:"notifications,omitempty"`
	FieldUpdates  []FieldUpdateSpec  `json:"field_updates,omitempty"`
	Assignments   []AssignmentSpec   `json:"assignments,omitempty"`
}

// ParseActionConfig unmarshals the JSON column value.
func ParseActionConfig(raw string) (ActionConfig, error) {
	var cfg ActionConfig
	if raw == "" {
		return cfg, nil
	}
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return cfg, fmt.Errorf("transition: parse action config: %w", err)
	}
	return cfg, nil
}

// Validate syntax-checks all templates and guard rules at save time.
func (c ActionConfig) Validate() error {
	for _, n := range c.Notifications {
		if n.Template == "" {
			return fmt.Errorf("transition: notification template is required")
		}
	}
	for _, f := range c.FieldUpdates {
		if f.Field == "" {
			return fmt.Errorf("transition: field update target is required")
		}
		if err := interp.Validate(stripActionTokens(f.Value)); err != nil {
			return fmt.Errorf("transition: field update value for %q: %w", f.Field, err)
		}
		if f.Condition != nil {
			if err := rule.Validate(*f.Condition); err != nil {
				return fmt.Errorf("transition: field update guard for %q: %w", f.Field, err)
			}
		}
	}
	for _, a := range c.Assignments {
		if err := interp.Validate(stripActionTokens(a.Assignee)); err != nil {
			return fmt.Errorf("transition: assignment target: %w", err)
		}
		if a.Condition != nil {
			if err := rule.Validate(*a.Condition); err != nil {
				return fmt.Errorf("transition: assignment guard: %w", err)
			}
		}
	}
	return nil
}

// Execute runs the edge's configured actions after a validated status
// write: notifications first (bounded fan-out, failures logged only),
// then guarded field updates, then guarded reassignments. Every action
// yields a persisted audit row; Execute itself never fails the
// transition.
func Execute(ctx context.Context, db *gorm.DB, item *models.WorkItem, tr *models.StatusTransition, sink notify.Sink, workers int) []models.ActionResult {
	if tr == nil {
		return nil
	}
	cfg, err := ParseActionConfig(tr.ActionConfig)
	if err != nil {
		logrus.WithField("transition", tr.ID).WithError(err).Warn("action config unreadable, skipping actions")
		return nil
	}
	if workers <= 0 {
		workers = DefaultWorkers
	}

	itemSnap := interp.NewSnapshot(item)
	var st models.Status
	if err := db.First(&st, item.StatusID).Error; err == nil {
		itemSnap.SetStatus(st.Name)
	}
	now := time.Now()
	var results []models.ActionResult

	results = append(results, dispatchNotifications(ctx, db, item, tr, cfg.Notifications, sink, workers)...)

	for _, spec := range cfg.FieldUpdates {
		results = append(results, applyFieldUpdate(db, item, tr, spec, itemSnap, now))
	}
	for _, spec := range cfg.Assignments {
		results = append(results, applyAssignment(db, item, tr, spec, itemSnap, now))
	}

	for i := range results {
		if err := db.Create(&results[i]).Error; err != nil {
			logrus.WithField("item", item.ID).WithError(err).Warn("persist action result failed")
		}
	}
	return results
}

// dispatchNotifications resolves each spec's recipients and hands the
// message to the sink on a bounded pool. Delivery failures are recorded
// and logged, never propagated.
func dispatchNotifications(ctx context.Context, db *gorm.DB, item *models.WorkItem, tr *models.StatusTransition, specs []NotificationSpec, sink notify.Sink, workers int) []models.ActionResult {
	if len(specs) == 0 {
		return nil
	}
	results := make([]models.ActionResult, len(specs))
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup

	for i, spec := range specs {
		res := &results[i]
		*res = models.ActionResult{WorkItemID: item.ID, TransitionID: tr.ID, ActionType: ActionNotify}

		recipients, err := resolveRecipients(db, item, spec)
		if err != nil {
			res.Outcome = "failed"
			res.Detail = err.Error()
			continue
		}
		if len(recipients) == 0 {
			res.Outcome = "skipped"
			res.Detail = fmt.Sprintf("no recipients for %q", spec.Recipient)
			continue
		}
		if sink == nil {
			res.Outcome = "skipped"
			res.Detail = "no sink configured"
			continue
		}

		n := notify.Notification{
			Recipients: recipients,
			Template:   spec.Template,
			Context: map[string]string{
				"item":    item.ID,
				"subject": item.Subject,
			},
		}
		sem <- struct{}{}
		wg.Add(1)
		go func(res *models.ActionResult, n notify.Notification) {
			defer wg.Done()
			defer func() { <-sem }()
			if err := sink.Send(ctx, n); err != nil {
				res.Outcome = "failed"
				res.Detail = err.Error()
				logrus.WithFields(logrus.Fields{
					"item":     item.ID,
					"template": n.Template,
				}).WithError(err).Warn("notification delivery failed")
				return
			}
			res.Outcome = "success"
			res.Detail = fmt.Sprintf("delivered %q to %d recipients", n.Template, len(n.Recipients))
		}(res, n)
	}
	wg.Wait()
	return results
}

// resolveRecipients expands a recipient selector into user ids.
func resolveRecipients(db *gorm.DB, item *models.WorkItem, spec NotificationSpec) ([]string, error) {
	switch spec.Recipient {
	case RecipientAssignee:
		if item.Assignee == "" {
			return nil, nil
		}
		return []string{item.Assignee}, nil
	case RecipientCreator:
		if item.Creator == "" {
			return nil, nil
		}
		return []string{item.Creator}, nil
	case RecipientWatchers:
		category := spec.Category
		if category == "" {
			category = models.NotifyStatus
		}
		watchers, err := watch.ListForNotification(db, item.ID, category)
		if err != nil {
			return nil, err
		}
		ids := make([]string, 0, len(watchers))
		for _, w := range watchers {
			ids = append(ids, w.UserID)
		}
		return ids, nil
	case "":
		return nil, fmt.Errorf("transition: notification recipient is required")
	default:
		return []string{spec.Recipient}, nil
	}
}

// applyFieldUpdate writes one standard or custom field when the guard
// holds.
func applyFieldUpdate(db *gorm.DB, item *models.WorkItem, tr *models.StatusTransition, spec FieldUpdateSpec, itemSnap interp.Snapshot, now time.Time) models.ActionResult {
	res := models.ActionResult{WorkItemID: item.ID, TransitionID: tr.ID, ActionType: ActionFieldUpdate}

	if spec.Condition != nil && !rule.Eval(*spec.Condition, itemSnap) {
		res.Outcome = "skipped"
		res.Detail = fmt.Sprintf("guard not met for %q", spec.Field)
		return res
	}

	value := renderActionValue(spec.Value, item, itemSnap, now)
	if err := writeField(db, item, spec.Field, value); err != nil {
		res.Outcome = "failed"
		res.Detail = err.Error()
		logrus.WithFields(logrus.Fields{"item": item.ID, "field": spec.Field}).WithError(err).Warn("field update failed")
		return res
	}
	res.Outcome = "success"
	res.Detail = fmt.Sprintf("%s = %q", spec.Field, value)
	return res
}

// applyAssignment reassigns the item when the guard holds, and auto-adds
// the new assignee as a watcher.
func applyAssignment(db *gorm.DB, item *models.WorkItem, tr *models.StatusTransition, spec AssignmentSpec, itemSnap interp.Snapshot, now time.Time) models.ActionResult {
	res := models.ActionResult{WorkItemID: item.ID, TransitionID: tr.ID, ActionType: ActionReassign}

	if spec.Condition != nil && !rule.Eval(*spec.Condition, itemSnap) {
		res.Outcome = "skipped"
		res.Detail = "guard not met"
		return res
	}

	assignee := renderActionValue(spec.Assignee, item, itemSnap, now)
	if assignee == "" {
		res.Outcome = "skipped"
		res.Detail = "assignment target resolved empty"
		return res
	}
	if err := db.Model(&models.WorkItem{}).Where("id = ?", item.ID).Update("assignee", assignee).Error; err != nil {
		res.Outcome = "failed"
		res.Detail = err.Error()
		return res
	}
	item.Assignee = assignee
	if err := watch.AutoAdd(db, item.ID, assignee, models.WatchAutoAssignee); err != nil {
		logrus.WithField("item", item.ID).WithError(err).Warn("auto-watch new assignee failed")
	}
	res.Outcome = "success"
	res.Detail = fmt.Sprintf("assigned to %s", assignee)
	return res
}

// renderActionValue expands action tokens ({now}, {creator}, {assignee})
// and then the {parent.*} grammar against the item's own snapshot.
func renderActionValue(tmpl string, item *models.WorkItem, itemSnap interp.Snapshot, now time.Time) string {
	expanded := strings.NewReplacer(
		"{now}", now.Format(interp.DateFormat),
		"{creator}", item.Creator,
		"{assignee}", item.Assignee,
	).Replace(tmpl)
	return interp.Render(expanded, itemSnap)
}

// stripActionTokens removes the action-only tokens before syntax
// validation, which otherwise only accepts the {parent.*} grammar.
func stripActionTokens(tmpl string) string {
	return strings.NewReplacer("{now}", "", "{creator}", "", "{assignee}", "").Replace(tmpl)
}

// writeField updates a standard attribute or a typed custom field value.
func writeField(db *gorm.DB, item *models.WorkItem, field, value string) error {
	switch field {
	case "subject":
		return updateColumn(db, item, "subject", value)
	case "priority":
		return updateColumn(db, item, "priority", value)
	case "due_date":
		return updateColumn(db, item, "due_date", value)
	case "completed_at":
		return updateColumn(db, item, "completed_at", value)
	}

	var def models.FieldDefinition
	if err := db.Where("type_id = ? AND name = ?", item.TypeID, field).First(&def).Error; err != nil {
		return fmt.Errorf("transition: field %q not defined on type %d: %w", field, item.TypeID, err)
	}
	fv := models.WorkItemField{
		WorkItemID: item.ID,
		FieldID:    def.ID,
		Name:       def.Name,
		FieldType:  def.FieldType,
		Value:      value,
	}
	result := db.Where("work_item_id = ? AND field_id = ?", item.ID, def.ID).
		Assign(map[string]interface{}{"value": value, "name": def.Name, "field_type": def.FieldType}).
		FirstOrCreate(&fv)
	if result.Error != nil {
		return fmt.Errorf("transition: write field %q: %w", field, result.Error)
	}
	return nil
}

func updateColumn(db *gorm.DB, item *models.WorkItem, column, value string) error {
	if err := db.Model(&models.WorkItem{}).Where("id = ?", item.ID).Update(column, value).Error; err != nil {
		return fmt.Errorf("transition: update %s: %w", column, err)
	}
	return nil
}
