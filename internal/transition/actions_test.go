package transition

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/zulandar/trellis/internal/interp"
	"github.com/zulandar/trellis/internal/models"
	"github.com/zulandar/trellis/internal/notify"
	"github.com/zulandar/trellis/internal/rule"
	"github.com/zulandar/trellis/internal/watch"
	"gorm.io/gorm"
)

type mockSink struct {
	mu   sync.Mutex
	sent []notify.Notification
	err  error
}

func (m *mockSink) Send(_ context.Context, n notify.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, n)
	return nil
}

func seedItem(t *testing.T, db *gorm.DB) *models.WorkItem {
	t.Helper()
	item := &models.WorkItem{
		ID: "wi-act01", TypeID: 1, Subject: "Ticket",
		Assignee: "u-kim", Creator: "u-lee",
		RootID: "wi-act01", Path: "wi-act01",
	}
	if err := db.Create(item).Error; err != nil {
		t.Fatalf("seed item: %v", err)
	}
	return item
}

func seedEdge(t *testing.T, db *gorm.DB, actions ActionConfig) *models.StatusTransition {
	t.Helper()
	tr, err := Define(db, DefineOpts{
		TypeID: 1, FromStatusID: openStatus, ToStatusID: closedStatus,
		IsAllowed: true, Actions: actions,
	})
	if err != nil {
		t.Fatalf("Define: %v", err)
	}
	return tr
}

func outcomes(results []models.ActionResult) []string {
	var out []string
	for _, r := range results {
		out = append(out, r.ActionType+":"+r.Outcome)
	}
	return out
}

func TestExecute_NotificationRecipients(t *testing.T) {
	db := openTestDB(t)
	item := seedItem(t, db)
	if err := watch.Add(db, item.ID, "u-watch"); err != nil {
		t.Fatalf("watch.Add: %v", err)
	}
	tr := seedEdge(t, db, ActionConfig{
		Notifications: []NotificationSpec{
			{Recipient: RecipientAssignee, Template: "status_changed"},
			{Recipient: RecipientCreator, Template: "status_changed"},
			{Recipient: RecipientWatchers, Category: models.NotifyStatus, Template: "status_changed"},
			{Recipient: "u-boss", Template: "escalation"},
		},
	})

	sink := &mockSink{}
	results := Execute(context.Background(), db, item, tr, sink, 2)
	if len(results) != 4 {
		t.Fatalf("results = %v", outcomes(results))
	}
	for i, r := range results {
		if r.Outcome != "success" {
			t.Errorf("result[%d] = %s: %s", i, r.Outcome, r.Detail)
		}
	}
	if len(sink.sent) != 4 {
		t.Errorf("sent = %d notifications, want 4", len(sink.sent))
	}

	got := map[string]bool{}
	for _, n := range sink.sent {
		for _, r := range n.Recipients {
			got[r] = true
		}
	}
	for _, want := range []string{"u-kim", "u-lee", "u-watch", "u-boss"} {
		if !got[want] {
			t.Errorf("recipient %s never notified; got %v", want, got)
		}
	}
}

func TestExecute_DeliveryFailureIsNotFatal(t *testing.T) {
	db := openTestDB(t)
	item := seedItem(t, db)
	tr := seedEdge(t, db, ActionConfig{
		Notifications: []NotificationSpec{{Recipient: RecipientAssignee, Template: "status_changed"}},
	})

	sink := &mockSink{err: fmt.Errorf("gateway down")}
	results := Execute(context.Background(), db, item, tr, sink, 2)
	if len(results) != 1 || results[0].Outcome != "failed" {
		t.Fatalf("results = %v", outcomes(results))
	}
}

func TestExecute_SkipsWhenNoRecipient(t *testing.T) {
	db := openTestDB(t)
	item := seedItem(t, db)
	item.Assignee = ""
	db.Model(&models.WorkItem{}).Where("id = ?", item.ID).Update("assignee", "")
	tr := seedEdge(t, db, ActionConfig{
		Notifications: []NotificationSpec{{Recipient: RecipientAssignee, Template: "status_changed"}},
	})

	sink := &mockSink{}
	results := Execute(context.Background(), db, item, tr, sink, 2)
	if len(results) != 1 || results[0].Outcome != "skipped" {
		t.Fatalf("results = %v", outcomes(results))
	}
	if len(sink.sent) != 0 {
		t.Errorf("sent = %v, want none", sink.sent)
	}
}

func TestExecute_FieldUpdateStampsCompletion(t *testing.T) {
	db := openTestDB(t)
	item := seedItem(t, db)
	tr := seedEdge(t, db, ActionConfig{
		FieldUpdates: []FieldUpdateSpec{{Field: "completed_at", Value: "{now}"}},
	})

	results := Execute(context.Background(), db, item, tr, nil, 2)
	if len(results) != 1 || results[0].Outcome != "success" {
		t.Fatalf("results = %v", outcomes(results))
	}

	var got models.WorkItem
	db.Where("id = ?", item.ID).First(&got)
	if got.CompletedAt == nil {
		t.Fatal("completed_at not stamped")
	}
	if got.CompletedAt.Format(interp.DateFormat) != time.Now().Format(interp.DateFormat) {
		t.Errorf("completed_at = %v", got.CompletedAt)
	}
}

func TestExecute_FieldUpdateCustomFieldWithGuard(t *testing.T) {
	db := openTestDB(t)
	item := seedItem(t, db)
	if err := db.Create(&models.FieldDefinition{TypeID: 1, Name: "closure_note", FieldType: models.FieldText}).Error; err != nil {
		t.Fatalf("seed def: %v", err)
	}
	tr := seedEdge(t, db, ActionConfig{
		FieldUpdates: []FieldUpdateSpec{
			{
				Field:     "closure_note",
				Value:     "closed by {creator} on {now}",
				Condition: &rule.Rule{Field: "assignee", Operator: rule.OpEquals, Value: "u-kim"},
			},
			{
				Field:     "closure_note",
				Value:     "never written",
				Condition: &rule.Rule{Field: "assignee", Operator: rule.OpEquals, Value: "u-nobody"},
			},
		},
	})

	results := Execute(context.Background(), db, item, tr, nil, 2)
	if len(results) != 2 || results[0].Outcome != "success" || results[1].Outcome != "skipped" {
		t.Fatalf("results = %v", outcomes(results))
	}

	var fv models.WorkItemField
	if err := db.Where("work_item_id = ? AND name = ?", item.ID, "closure_note").First(&fv).Error; err != nil {
		t.Fatalf("lookup field value: %v", err)
	}
	want := "closed by u-lee on " + time.Now().Format(interp.DateFormat)
	if fv.Value != want {
		t.Errorf("closure_note = %q, want %q", fv.Value, want)
	}
}

func TestExecute_FieldUpdateUndefinedFieldFails(t *testing.T) {
	db := openTestDB(t)
	item := seedItem(t, db)
	tr := seedEdge(t, db, ActionConfig{
		FieldUpdates: []FieldUpdateSpec{{Field: "no_such_field", Value: "x"}},
	})
	results := Execute(context.Background(), db, item, tr, nil, 2)
	if len(results) != 1 || results[0].Outcome != "failed" {
		t.Fatalf("results = %v", outcomes(results))
	}
}

func TestExecute_ReassignToCreator(t *testing.T) {
	db := openTestDB(t)
	item := seedItem(t, db)
	tr := seedEdge(t, db, ActionConfig{
		Assignments: []AssignmentSpec{{Assignee: "{creator}"}},
	})

	results := Execute(context.Background(), db, item, tr, nil, 2)
	if len(results) != 1 || results[0].Outcome != "success" {
		t.Fatalf("results = %v", outcomes(results))
	}

	var got models.WorkItem
	db.Where("id = ?", item.ID).First(&got)
	if got.Assignee != "u-lee" {
		t.Errorf("assignee = %q, want u-lee", got.Assignee)
	}

	// New assignee is auto-watching.
	watchers, err := watch.ListForNotification(db, item.ID, models.NotifyAssignment)
	if err != nil {
		t.Fatalf("ListForNotification: %v", err)
	}
	if len(watchers) != 1 || watchers[0].UserID != "u-lee" || watchers[0].WatchType != models.WatchAutoAssignee {
		t.Errorf("watchers = %+v", watchers)
	}
}

func TestExecute_PersistsAuditRows(t *testing.T) {
	db := openTestDB(t)
	item := seedItem(t, db)
	tr := seedEdge(t, db, ActionConfig{
		Notifications: []NotificationSpec{{Recipient: RecipientCreator, Template: "status_changed"}},
		FieldUpdates:  []FieldUpdateSpec{{Field: "completed_at", Value: "{now}"}},
	})

	Execute(context.Background(), db, item, tr, &mockSink{}, 2)

	var count int64
	db.Model(&models.ActionResult{}).Where("work_item_id = ?", item.ID).Count(&count)
	if count != 2 {
		t.Errorf("audit rows = %d, want 2", count)
	}
}

func TestExecute_NilTransitionNoActions(t *testing.T) {
	db := openTestDB(t)
	item := seedItem(t, db)
	if results := Execute(context.Background(), db, item, nil, &mockSink{}, 2); results != nil {
		t.Errorf("results = %v, want nil", results)
	}
}
