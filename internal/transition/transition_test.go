package transition

import (
	"errors"
	"reflect"
	"testing"

	"github.com/zulandar/trellis/internal/models"
	"github.com/zulandar/trellis/internal/registry"
	"github.com/zulandar/trellis/internal/rule"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := db.AutoMigrate(
		&models.WorkItem{},
		&models.WorkItemField{},
		&models.FieldDefinition{},
		&models.Status{},
		&models.StatusTransition{},
		&models.TypeRelationship{},
		&models.Watcher{},
		&models.ActionResult{},
	); err != nil {
		t.Fatalf("auto-migrate: %v", err)
	}
	return db
}

func loadSnap(t *testing.T, db *gorm.DB) *registry.Snapshot {
	t.Helper()
	snap, err := registry.Load(db)
	if err != nil {
		t.Fatalf("registry.Load: %v", err)
	}
	return snap
}

const (
	openStatus   = 10
	closedStatus = 11
)

func TestDefine_RejectsDuplicateEdge(t *testing.T) {
	db := openTestDB(t)
	opts := DefineOpts{TypeID: 1, FromStatusID: openStatus, ToStatusID: closedStatus, IsAllowed: true}
	if _, err := Define(db, opts); err != nil {
		t.Fatalf("first Define: %v", err)
	}
	if _, err := Define(db, opts); !errors.Is(err, ErrDuplicateTransition) {
		t.Errorf("error = %v, want ErrDuplicateTransition", err)
	}
}

func TestDefine_RejectsBadRule(t *testing.T) {
	db := openTestDB(t)
	_, err := Define(db, DefineOpts{
		TypeID: 1, FromStatusID: openStatus, ToStatusID: closedStatus, IsAllowed: true,
		Validation: ValidationConfig{Rules: []rule.Rule{{Field: "x", Operator: "regex"}}},
	})
	if err == nil {
		t.Error("Define accepted unknown operator")
	}
}

func TestDefine_RejectsBadActionTemplate(t *testing.T) {
	db := openTestDB(t)
	_, err := Define(db, DefineOpts{
		TypeID: 1, FromStatusID: openStatus, ToStatusID: closedStatus, IsAllowed: true,
		Actions: ActionConfig{FieldUpdates: []FieldUpdateSpec{{Field: "note", Value: "{parent.unclosed"}}},
	})
	if err == nil {
		t.Error("Define accepted unbalanced template")
	}
}

func TestDefine_AcceptsActionTokens(t *testing.T) {
	db := openTestDB(t)
	_, err := Define(db, DefineOpts{
		TypeID: 1, FromStatusID: openStatus, ToStatusID: closedStatus, IsAllowed: true,
		Actions: ActionConfig{
			FieldUpdates: []FieldUpdateSpec{{Field: "completed_at", Value: "{now}"}},
			Assignments:  []AssignmentSpec{{Assignee: "{creator}"}},
		},
	})
	if err != nil {
		t.Errorf("Define with action tokens: %v", err)
	}
}

func TestValidate_PermissiveWhenUndeclared(t *testing.T) {
	db := openTestDB(t)
	snap := loadSnap(t, db)
	item := &models.WorkItem{ID: "wi-1", TypeID: 1}

	tr, err := Validate(snap, item, openStatus, closedStatus)
	if err != nil {
		t.Errorf("undeclared edge rejected: %v", err)
	}
	if tr != nil {
		t.Errorf("tr = %v, want nil", tr)
	}
}

func TestValidate_BlockedEdgeAlwaysRejected(t *testing.T) {
	db := openTestDB(t)
	if _, err := Define(db, DefineOpts{
		TypeID: 1, FromStatusID: openStatus, ToStatusID: closedStatus, IsAllowed: false,
		// Validation config is irrelevant on a blocked edge.
		Validation: ValidationConfig{RequiredFields: []string{"whatever"}},
	}); err != nil {
		t.Fatalf("Define: %v", err)
	}
	snap := loadSnap(t, db)
	item := &models.WorkItem{ID: "wi-1", TypeID: 1}

	_, err := Validate(snap, item, openStatus, closedStatus)
	if !errors.Is(err, ErrNotAllowed) {
		t.Errorf("error = %v, want ErrNotAllowed", err)
	}
}

func TestValidate_RequiredFieldScenario(t *testing.T) {
	db := openTestDB(t)
	if _, err := Define(db, DefineOpts{
		TypeID: 1, FromStatusID: openStatus, ToStatusID: closedStatus, IsAllowed: true,
		Validation: ValidationConfig{RequiredFields: []string{"resolution_notes"}},
	}); err != nil {
		t.Fatalf("Define: %v", err)
	}
	snap := loadSnap(t, db)

	item := &models.WorkItem{
		ID: "wi-1", TypeID: 1, Subject: "Ticket",
		Fields: []models.WorkItemField{{Name: "resolution_notes", FieldType: models.FieldText, Value: ""}},
	}
	_, err := Validate(snap, item, openStatus, closedStatus)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("error = %v, want ValidationError", err)
	}
	want := []string{"resolution_notes is required"}
	if !reflect.DeepEqual(verr.Messages, want) {
		t.Errorf("messages = %v, want %v", verr.Messages, want)
	}

	item.Fields[0].Value = "fixed by restarting"
	if _, err := Validate(snap, item, openStatus, closedStatus); err != nil {
		t.Errorf("valid item rejected: %v", err)
	}
}

func TestValidate_StatusPredicateRule(t *testing.T) {
	db := openTestDB(t)
	statuses := []models.Status{
		{ID: openStatus, TypeID: 1, Name: "open", IsInitial: true},
		{ID: closedStatus, TypeID: 1, Name: "closed", IsFinal: true},
	}
	if err := db.Create(&statuses).Error; err != nil {
		t.Fatalf("seed statuses: %v", err)
	}
	if _, err := Define(db, DefineOpts{
		TypeID: 1, FromStatusID: closedStatus, ToStatusID: openStatus, IsAllowed: true,
		Validation: ValidationConfig{
			Rules: []rule.Rule{
				{Field: "status", Operator: rule.OpNotEquals, Value: "closed", Message: "status is terminal"},
			},
		},
	}); err != nil {
		t.Fatalf("Define: %v", err)
	}
	snap := loadSnap(t, db)

	item := &models.WorkItem{ID: "wi-1", TypeID: 1, Subject: "Ticket", StatusID: closedStatus}
	_, err := Validate(snap, item, closedStatus, openStatus)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("error = %v, want ValidationError", err)
	}
	want := []string{"status is terminal"}
	if !reflect.DeepEqual(verr.Messages, want) {
		t.Errorf("messages = %v, want %v", verr.Messages, want)
	}
}

func TestValidate_CollectsAllRequiredButFirstRule(t *testing.T) {
	db := openTestDB(t)
	if _, err := Define(db, DefineOpts{
		TypeID: 1, FromStatusID: openStatus, ToStatusID: closedStatus, IsAllowed: true,
		Validation: ValidationConfig{
			RequiredFields: []string{"resolution_notes", "approver"},
			Rules: []rule.Rule{
				{Field: "severity", Operator: rule.OpLessThan, Value: "5", Message: "severity too high to close"},
				{Field: "subject", Operator: rule.OpContains, Value: "zzz", Message: "never reached"},
			},
		},
	}); err != nil {
		t.Fatalf("Define: %v", err)
	}
	snap := loadSnap(t, db)

	item := &models.WorkItem{
		ID: "wi-1", TypeID: 1, Subject: "Ticket",
		Fields: []models.WorkItemField{{Name: "severity", FieldType: models.FieldNumber, Value: "8"}},
	}
	_, err := Validate(snap, item, openStatus, closedStatus)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("error = %v, want ValidationError", err)
	}
	want := []string{
		"resolution_notes is required",
		"approver is required",
		"severity too high to close",
	}
	if !reflect.DeepEqual(verr.Messages, want) {
		t.Errorf("messages = %v, want %v", verr.Messages, want)
	}
}

func TestParseValidationConfig(t *testing.T) {
	cfg, err := ParseValidationConfig("")
	if err != nil || len(cfg.RequiredFields) != 0 {
		t.Errorf("empty = %+v, %v", cfg, err)
	}
	cfg, err = ParseValidationConfig(`{"required_fields":["a"],"rules":[{"field":"b","operator":"equals","value":"c"}]}`)
	if err != nil || len(cfg.RequiredFields) != 1 || len(cfg.Rules) != 1 {
		t.Errorf("parsed = %+v, %v", cfg, err)
	}
	if _, err := ParseValidationConfig("{bad"); err == nil {
		t.Error("accepted malformed JSON")
	}
}
