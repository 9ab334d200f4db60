package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/trellis/internal/models"
	"github.com/zulandar/trellis/internal/registry"
	"github.com/zulandar/trellis/internal/relationship"
	"github.com/zulandar/trellis/internal/transition"
	"github.com/zulandar/trellis/internal/workitem"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	ticketType = 1
	recordType = 2

	ticketOpen   = 10
	ticketClosed = 11
)

func setupRouter(t *testing.T) (*gin.Engine, *workitem.Service) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := db.AutoMigrate(
		&models.WorkItemType{},
		&models.FieldDefinition{},
		&models.Status{},
		&models.WorkItem{},
		&models.WorkItemField{},
		&models.TypeRelationship{},
		&models.StatusTransition{},
		&models.Watcher{},
		&models.ActionResult{},
	); err != nil {
		t.Fatalf("auto-migrate: %v", err)
	}
	rows := []interface{}{
		&models.WorkItemType{ID: ticketType, Name: "ticket"},
		&models.WorkItemType{ID: recordType, Name: "record"},
		&models.Status{ID: ticketOpen, TypeID: ticketType, Name: "open", IsInitial: true},
		&models.Status{ID: ticketClosed, TypeID: ticketType, Name: "closed", IsFinal: true},
		&models.FieldDefinition{TypeID: ticketType, Name: "resolution_notes", FieldType: models.FieldText},
	}
	for _, row := range rows {
		if err := db.Create(row).Error; err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	if _, err := relationship.Define(db, relationship.DefineOpts{
		ParentTypeID: ticketType, ChildTypeID: recordType, Name: "records",
	}); err != nil {
		t.Fatalf("seed relationship: %v", err)
	}
	if _, err := transition.Define(db, transition.DefineOpts{
		TypeID: ticketType, FromStatusID: ticketOpen, ToStatusID: ticketClosed, IsAllowed: true,
		Validation: transition.ValidationConfig{RequiredFields: []string{"resolution_notes"}},
	}); err != nil {
		t.Fatalf("seed transition: %v", err)
	}

	reg, err := registry.New(db)
	if err != nil {
		t.Fatalf("registry.New: %v", err)
	}
	svc := workitem.New(db, reg, nil, nil, 2)
	return newRouter(db, svc, reg), svc
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User", "u-lee")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return out
}

func createTicket(t *testing.T, router *gin.Engine) string {
	t.Helper()
	w := doJSON(t, router, http.MethodPost, "/api/items", gin.H{
		"type_id": ticketType, "subject": "Broken login", "organization_id": "acme",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create = %d: %s", w.Code, w.Body.String())
	}
	item := decode(t, w)["item"].(map[string]interface{})
	return item["ID"].(string)
}

func TestCreateAndGetItem(t *testing.T) {
	router, _ := setupRouter(t)
	id := createTicket(t, router)
	if !strings.HasPrefix(id, "wi-") {
		t.Errorf("id = %q", id)
	}

	w := doJSON(t, router, http.MethodGet, "/api/items/"+id, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get = %d: %s", w.Code, w.Body.String())
	}
	item := decode(t, w)["item"].(map[string]interface{})
	if item["Subject"] != "Broken login" {
		t.Errorf("subject = %v", item["Subject"])
	}
}

func TestGetItem_NotFound(t *testing.T) {
	router, _ := setupRouter(t)
	w := doJSON(t, router, http.MethodGet, "/api/items/wi-nope0", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("code = %d", w.Code)
	}
}

func TestCreateItem_MissingSubject(t *testing.T) {
	router, _ := setupRouter(t)
	w := doJSON(t, router, http.MethodPost, "/api/items", gin.H{"type_id": ticketType})
	if w.Code != http.StatusBadRequest {
		t.Errorf("code = %d: %s", w.Code, w.Body.String())
	}
}

func TestCreateChild_UndeclaredTypeConflicts(t *testing.T) {
	router, _ := setupRouter(t)
	parent := createTicket(t, router)
	w := doJSON(t, router, http.MethodPost, "/api/items", gin.H{
		"type_id": ticketType, "subject": "Nested", "parent_id": parent,
	})
	if w.Code != http.StatusConflict {
		t.Errorf("code = %d: %s", w.Code, w.Body.String())
	}
}

func TestMoveItem_CircularConflicts(t *testing.T) {
	router, _ := setupRouter(t)
	parent := createTicket(t, router)

	w := doJSON(t, router, http.MethodPost, "/api/items", gin.H{
		"type_id": recordType, "subject": "Record", "parent_id": parent,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create child = %d: %s", w.Code, w.Body.String())
	}
	child := decode(t, w)["item"].(map[string]interface{})["ID"].(string)

	w = doJSON(t, router, http.MethodPost, fmt.Sprintf("/api/items/%s/move", child), gin.H{
		"new_parent_id": child,
	})
	if w.Code != http.StatusConflict {
		t.Errorf("code = %d: %s", w.Code, w.Body.String())
	}
}

func TestUpdateStatus_ValidationFailureIs422(t *testing.T) {
	router, _ := setupRouter(t)
	id := createTicket(t, router)

	w := doJSON(t, router, http.MethodPost, fmt.Sprintf("/api/items/%s/status", id), gin.H{
		"status_id": ticketClosed,
	})
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("code = %d: %s", w.Code, w.Body.String())
	}
	body := decode(t, w)
	messages, ok := body["messages"].([]interface{})
	if !ok || len(messages) != 1 || messages[0] != "resolution_notes is required" {
		t.Errorf("messages = %v", body["messages"])
	}
}

func TestWatcherEndpoints(t *testing.T) {
	router, _ := setupRouter(t)
	id := createTicket(t, router)

	w := doJSON(t, router, http.MethodPost, fmt.Sprintf("/api/items/%s/watchers", id), gin.H{"user_id": "u-watch"})
	if w.Code != http.StatusNoContent {
		t.Fatalf("add watcher = %d: %s", w.Code, w.Body.String())
	}

	w = doJSON(t, router, http.MethodGet, fmt.Sprintf("/api/items/%s/watchers", id), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list watchers = %d", w.Code)
	}
	watchers := decode(t, w)["watchers"].([]interface{})
	// creator auto-watch plus the explicit add
	if len(watchers) != 2 {
		t.Errorf("watchers = %d, want 2", len(watchers))
	}

	w = doJSON(t, router, http.MethodDelete, fmt.Sprintf("/api/items/%s/watchers/u-watch", id), nil)
	if w.Code != http.StatusNoContent {
		t.Errorf("remove watcher = %d", w.Code)
	}
}

func TestDefineRelationship_DuplicateConflicts(t *testing.T) {
	router, _ := setupRouter(t)
	w := doJSON(t, router, http.MethodPost, "/api/relationships", gin.H{
		"parent_type_id": ticketType, "child_type_id": recordType, "name": "records again",
	})
	if w.Code != http.StatusConflict {
		t.Errorf("code = %d: %s", w.Code, w.Body.String())
	}
}

func TestDefineTransition_ReloadsRegistry(t *testing.T) {
	router, svc := setupRouter(t)
	before := svc.Registry.Current().Version()

	w := doJSON(t, router, http.MethodPost, "/api/transitions", gin.H{
		"type_id": ticketType, "from_status_id": ticketClosed, "to_status_id": ticketOpen,
		"is_allowed": false,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("code = %d: %s", w.Code, w.Body.String())
	}
	if svc.Registry.Current().Version() <= before {
		t.Error("registry was not reloaded")
	}
	if tr := svc.Registry.Current().Transition(ticketType, ticketClosed, ticketOpen); tr == nil || tr.IsAllowed {
		t.Errorf("transition = %+v", tr)
	}
}

func TestTypeStatuses(t *testing.T) {
	router, _ := setupRouter(t)
	w := doJSON(t, router, http.MethodGet, fmt.Sprintf("/api/types/%d/statuses", ticketType), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("code = %d", w.Code)
	}
	statuses := decode(t, w)["statuses"].([]interface{})
	if len(statuses) != 2 {
		t.Errorf("statuses = %d, want 2", len(statuses))
	}
}

func TestStart_RequiresDBAndService(t *testing.T) {
	if err := Start(context.Background(), StartOpts{}); err == nil {
		t.Error("Start accepted nil db")
	}
}
