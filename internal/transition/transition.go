// Package transition implements per-type status state machines: edge
// lookup, validation predicates, and post-transition actions. Transitions
// are permissive by default: organizations declare the few edges they
// want to block or decorate, not an exhaustive allow-list.
package transition

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/zulandar/trellis/internal/interp"
	"github.com/zulandar/trellis/internal/models"
	"github.com/zulandar/trellis/internal/registry"
	"github.com/zulandar/trellis/internal/rule"
	"gorm.io/gorm"
)

// Sentinel errors surfaced by transition operations.
var (
	ErrNotAllowed          = errors.New("transition: status transition not allowed")
	ErrDuplicateTransition = errors.New("transition: transition already declared for this edge")
)

// ValidationError carries the complete list of unmet conditions so a UI
// can render all errors together.
type ValidationError struct {
	Messages []string
}

func (e *ValidationError) Error() string {
	return "transition: validation failed: " + strings.Join(e.Messages, "; ")
}

// ValidationConfig is the edge's validation half: fields that must be
// non-empty plus operator-based predicate rules.
type ValidationConfig struct {
	RequiredFields []string    `json:"required_fields,omitempty"`
	Rules          []rule.Rule `json:"rules,omitempty"`
}

// ParseValidationConfig unmarshals the JSON column value.
func ParseValidationConfig(raw string) (ValidationConfig, error) {
	var cfg ValidationConfig
	if raw == "" {
		return cfg, nil
	}
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return cfg, fmt.Errorf("transition: parse validation config: %w", err)
	}
	return cfg, nil
}

// DefineOpts holds parameters for declaring a status transition.
type DefineOpts struct {
	TypeID       uint
	FromStatusID uint
	ToStatusID   uint
	IsAllowed    bool
	Validation   ValidationConfig
	Actions      ActionConfig
}

// Define declares a transition edge for a type. Duplicate edges are
// rejected; predicate rules and action templates are checked here so
// execution never hits a malformed config.
func Define(db *gorm.DB, opts DefineOpts) (*models.StatusTransition, error) {
	for _, r := range opts.Validation.Rules {
		if err := rule.Validate(r); err != nil {
			return nil, fmt.Errorf("transition: %w", err)
		}
	}
	if err := opts.Actions.Validate(); err != nil {
		return nil, err
	}

	var count int64
	if err := db.Model(&models.StatusTransition{}).
		Where("type_id = ? AND from_status_id = ? AND to_status_id = ?", opts.TypeID, opts.FromStatusID, opts.ToStatusID).
		Count(&count).Error; err != nil {
		return nil, fmt.Errorf("transition: check duplicate: %w", err)
	}
	if count > 0 {
		return nil, fmt.Errorf("%w: type %d, %d -> %d", ErrDuplicateTransition, opts.TypeID, opts.FromStatusID, opts.ToStatusID)
	}

	validationJSON, err := json.Marshal(opts.Validation)
	if err != nil {
		return nil, fmt.Errorf("transition: marshal validation config: %w", err)
	}
	actionJSON, err := json.Marshal(opts.Actions)
	if err != nil {
		return nil, fmt.Errorf("transition: marshal action config: %w", err)
	}

	tr := models.StatusTransition{
		TypeID:           opts.TypeID,
		FromStatusID:     opts.FromStatusID,
		ToStatusID:       opts.ToStatusID,
		IsAllowed:        opts.IsAllowed,
		ValidationConfig: string(validationJSON),
		ActionConfig:     string(actionJSON),
	}
	if err := db.Create(&tr).Error; err != nil {
		return nil, fmt.Errorf("transition: create: %w", err)
	}
	return &tr, nil
}

// Validate decides whether item may move between the two statuses. A
// missing edge row is allowed. A row with is_allowed=false is rejected
// outright. Otherwise every required-field failure is collected, then the
// first failing predicate rule's message is appended. Returns the edge
// row (nil when undeclared) for the caller to execute actions from.
func Validate(snap *registry.Snapshot, item *models.WorkItem, fromStatusID, toStatusID uint) (*models.StatusTransition, error) {
	tr := snap.Transition(item.TypeID, fromStatusID, toStatusID)
	if tr == nil {
		return nil, nil
	}
	if !tr.IsAllowed {
		return tr, fmt.Errorf("%w: type %d, %d -> %d", ErrNotAllowed, item.TypeID, fromStatusID, toStatusID)
	}

	cfg, err := ParseValidationConfig(tr.ValidationConfig)
	if err != nil {
		return tr, err
	}

	itemSnap := interp.NewSnapshot(item)
	if st := snap.Status(fromStatusID); st != nil {
		itemSnap.SetStatus(st.Name)
	}
	messages := rule.RequiredFields(cfg.RequiredFields, itemSnap)
	for _, r := range cfg.Rules {
		if !rule.Eval(r, itemSnap) {
			messages = append(messages, r.FailureMessage())
			break
		}
	}
	if len(messages) > 0 {
		return tr, &ValidationError{Messages: messages}
	}
	return tr, nil
}
