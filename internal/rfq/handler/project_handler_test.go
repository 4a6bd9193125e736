package handler

import (
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/factorypulse/pulse/internal/config"
	"github.com/factorypulse/pulse/internal/rfq/cache"
	"github.com/factorypulse/pulse/internal/rfq/entity"
	"github.com/factorypulse/pulse/internal/rfq/realtime"
	"github.com/factorypulse/pulse/internal/rfq/repository"
	"github.com/factorypulse/pulse/internal/rfq/service"
	"github.com/factorypulse/pulse/internal/rfq/sse"
	"github.com/factorypulse/pulse/internal/rfq/state"
	"github.com/factorypulse/pulse/internal/rfq/testutil"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func setupProjectTest(t *testing.T) (*gin.Engine, *gorm.DB) {
	t.Helper()
	db := testutil.SetupTestDB(t)
	testutil.SeedStages(t, db)

	cfg := &config.Config{}
	cfg.Cache.TTL = 5 * time.Minute
	cfg.JWT.Secret = testutil.JWTSecret

	logger := zap.NewNop()
	repos := repository.NewRepositories(db)
	qc := cache.NewQueryCache(cfg.Cache.TTL, 0)
	t.Cleanup(qc.Close)
	store := state.NewProjectStore()
	publisher := realtime.NewPublisher(nil, "pulse:changes", logger)

	services := service.NewServices(repos, nil, cfg, qc, store, publisher, logger)
	hub := sse.NewHub(logger)
	handlers := NewHandlers(services, hub)

	router := testutil.SetupRouter()
	api := testutil.AuthGroup(router, "/api/v1")

	projects := api.Group("/projects")
	projects.GET("", handlers.Project.ListProjects)
	projects.POST("", handlers.Project.CreateProject)
	projects.GET("/:id", handlers.Project.GetProject)
	projects.PUT("/:id", handlers.Project.UpdateProject)
	projects.DELETE("/:id", handlers.Project.DeleteProject)
	projects.PUT("/:id/stage", handlers.Project.UpdateProjectStage)
	projects.PUT("/:id/status", handlers.Project.UpdateProjectStatus)
	projects.POST("/:id/validate-transition", handlers.Workflow.ValidateTransition)
	projects.GET("/:id/progress", handlers.Workflow.GetStageProgress)
	projects.GET("/:id/history", handlers.History.GetProjectHistory)

	api.GET("/stages", handlers.Stage.ListStages)
	api.GET("/history/stats", handlers.History.GetStats)

	return router, db
}

func seedValidDocument(t *testing.T, db *gorm.DB, projectID, requirementKey string) {
	t.Helper()
	doc := &entity.ProjectDocument{
		ID:             fmt.Sprintf("doc-%s-%s", projectID, requirementKey),
		ProjectID:      projectID,
		OrgID:          testutil.TestOrgID,
		RequirementKey: requirementKey,
		FileName:       "rfq.pdf",
		ObjectKey:      "projects/" + projectID + "/rfq.pdf",
		Status:         entity.DocumentStatusValid,
		UploadedBy:     "test-user-001",
	}
	if err := db.Create(doc).Error; err != nil {
		t.Fatalf("Failed to seed document: %v", err)
	}
}

func TestCreateProject(t *testing.T) {
	router, _ := setupProjectTest(t)
	token := testutil.DefaultTestToken()

	w := testutil.DoRequest(router, "POST", "/api/v1/projects", map[string]interface{}{
		"title":       "蓝牙音箱外壳打样",
		"description": "ABS外壳，3件套",
	}, token)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	resp := testutil.ParseResponse(w)
	data := resp["data"].(map[string]interface{})
	if code, _ := data["project_id"].(string); len(code) < 2 || code[:2] != "P-" {
		t.Errorf("project code not generated: %q", code)
	}
	if data["status"] != entity.ProjectStatusActive {
		t.Errorf("default status should be active, got %v", data["status"])
	}
	if data["priority_level"] != entity.PriorityMedium {
		t.Errorf("default priority should be medium, got %v", data["priority_level"])
	}
}

func TestCreateProjectLegacyFields(t *testing.T) {
	router, _ := setupProjectTest(t)
	token := testutil.DefaultTestToken()

	// Old clients send current_stage (slug) and priority instead of the
	// new field names; the boundary normalizes them.
	w := testutil.DoRequest(router, "POST", "/api/v1/projects", map[string]interface{}{
		"title":         "旧版客户端项目",
		"current_stage": "technical_review",
		"priority":      "urgent",
		"due_date":      "2026-10-01",
	}, token)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	data := testutil.ParseResponse(w)["data"].(map[string]interface{})
	if data["current_stage_id"] != "stage-review" {
		t.Errorf("legacy stage slug not resolved: %v", data["current_stage_id"])
	}
	if data["priority_level"] != entity.PriorityUrgent {
		t.Errorf("legacy priority not normalized: %v", data["priority_level"])
	}
	if data["estimated_delivery_date"] == nil {
		t.Error("legacy due_date not normalized")
	}
}

func TestCreateProjectInvalidEnumRejected(t *testing.T) {
	router, _ := setupProjectTest(t)
	token := testutil.DefaultTestToken()

	w := testutil.DoRequest(router, "POST", "/api/v1/projects", map[string]interface{}{
		"title":          "坏枚举",
		"priority_level": "asap",
	}, token)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
}

func TestUpdateProjectStageFlow(t *testing.T) {
	router, db := setupProjectTest(t)
	token := testutil.DefaultTestToken()
	project := testutil.SeedProject(t, db, "proj-stage-flow-1", "stage-inquiry")

	// Skipping two stages forward without a bypass is refused
	w := testutil.DoRequest(router, "PUT", "/api/v1/projects/"+project.ID+"/stage", map[string]interface{}{
		"target_stage_id": "stage-quoted",
	}, token)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("skip without bypass: expected 400, got %d: %s", w.Code, w.Body.String())
	}

	// One step forward with the exit criterion unmet is refused
	w = testutil.DoRequest(router, "PUT", "/api/v1/projects/"+project.ID+"/stage", map[string]interface{}{
		"target_stage_id": "stage-review",
	}, token)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("unmet criteria: expected 400, got %d: %s", w.Code, w.Body.String())
	}

	// Satisfy the criterion and the same transition goes through
	seedValidDocument(t, db, project.ID, "rfq_document")
	w = testutil.DoRequest(router, "PUT", "/api/v1/projects/"+project.ID+"/stage", map[string]interface{}{
		"target_stage_id": "stage-review",
	}, token)
	if w.Code != http.StatusOK {
		t.Fatalf("valid transition: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	// Project row reflects the confirmed stage
	var updated entity.Project
	if err := db.First(&updated, "id = ?", project.ID).Error; err != nil {
		t.Fatalf("reload project: %v", err)
	}
	if updated.CurrentStageID == nil || *updated.CurrentStageID != "stage-review" {
		t.Errorf("stage not persisted: %v", updated.CurrentStageID)
	}
	if updated.StageEnteredAt == nil {
		t.Error("stage_entered_at not set")
	}

	// The transition was audited
	w = testutil.DoRequest(router, "GET", "/api/v1/projects/"+project.ID+"/history", nil, token)
	if w.Code != http.StatusOK {
		t.Fatalf("history: expected 200, got %d", w.Code)
	}
	data := testutil.ParseResponse(w)["data"].(map[string]interface{})
	items := data["items"].([]interface{})
	if len(items) != 1 {
		t.Fatalf("expected 1 history entry, got %d", len(items))
	}
	entry := items[0].(map[string]interface{})
	if entry["to_stage_id"] != "stage-review" {
		t.Errorf("wrong audited target: %v", entry["to_stage_id"])
	}
	if entry["exited_at"] != nil {
		t.Error("current stage entry should be open")
	}
}

func TestUpdateProjectStageBypassAudited(t *testing.T) {
	router, db := setupProjectTest(t)
	token := testutil.DefaultTestToken()
	project := testutil.SeedProject(t, db, "proj-bypass-1", "stage-inquiry")

	// Bypass without reason refused
	w := testutil.DoRequest(router, "PUT", "/api/v1/projects/"+project.ID+"/stage", map[string]interface{}{
		"target_stage_id": "stage-quoted",
		"bypass":          true,
	}, token)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bypass without reason: expected 400, got %d", w.Code)
	}

	// With a reason the skip is allowed and flagged
	w = testutil.DoRequest(router, "PUT", "/api/v1/projects/"+project.ID+"/stage", map[string]interface{}{
		"target_stage_id": "stage-quoted",
		"bypass":          true,
		"bypass_reason":   "客户直接确认报价",
	}, token)
	if w.Code != http.StatusOK {
		t.Fatalf("bypassed skip: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	data := testutil.ParseResponse(w)["data"].(map[string]interface{})
	if data["bypass_required"] != true {
		t.Error("result should flag the bypass")
	}

	// Stats pick up the bypass
	w = testutil.DoRequest(router, "GET", "/api/v1/history/stats", nil, token)
	if w.Code != http.StatusOK {
		t.Fatalf("stats: expected 200, got %d", w.Code)
	}
	stats := testutil.ParseResponse(w)["data"].(map[string]interface{})
	if stats["bypassed_count"].(float64) != 1 {
		t.Errorf("expected 1 bypassed transition, got %v", stats["bypassed_count"])
	}
}

func TestValidateTransitionEndpoint(t *testing.T) {
	router, db := setupProjectTest(t)
	token := testutil.DefaultTestToken()
	project := testutil.SeedProject(t, db, "proj-validate-1", "stage-quoted")

	// Dry-run validation never mutates
	w := testutil.DoRequest(router, "POST", "/api/v1/projects/"+project.ID+"/validate-transition", map[string]interface{}{
		"target_stage_id": "stage-inquiry",
	}, token)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	data := testutil.ParseResponse(w)["data"].(map[string]interface{})
	if data["is_valid"] != true {
		t.Errorf("backward transition should validate: %v", data)
	}

	var reloaded entity.Project
	db.First(&reloaded, "id = ?", project.ID)
	if reloaded.CurrentStageID == nil || *reloaded.CurrentStageID != "stage-quoted" {
		t.Error("validation endpoint must not move the project")
	}
}

func TestUpdateProjectStatus(t *testing.T) {
	router, db := setupProjectTest(t)
	token := testutil.DefaultTestToken()
	project := testutil.SeedProject(t, db, "proj-status-1", "stage-inquiry")

	w := testutil.DoRequest(router, "PUT", "/api/v1/projects/"+project.ID+"/status", map[string]interface{}{
		"status": "on_hold",
	}, token)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w = testutil.DoRequest(router, "PUT", "/api/v1/projects/"+project.ID+"/status", map[string]interface{}{
		"status": "paused",
	}, token)
	if w.Code != http.StatusBadRequest {
		t.Errorf("invalid status: expected 400, got %d", w.Code)
	}
}

func TestProjectResponsesCarryDaysInStage(t *testing.T) {
	router, db := setupProjectTest(t)
	token := testutil.DefaultTestToken()

	project := testutil.SeedProject(t, db, "proj-days-1", "stage-inquiry")
	enteredAt := time.Now().Add(-73 * time.Hour)
	if err := db.Model(project).Update("stage_entered_at", enteredAt).Error; err != nil {
		t.Fatalf("backdate stage entry: %v", err)
	}

	w := testutil.DoRequest(router, "GET", "/api/v1/projects/proj-days-1", nil, token)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	data := testutil.ParseResponse(w)["data"].(map[string]interface{})
	if days, _ := data["days_in_stage"].(float64); days != 3 {
		t.Errorf("expected 3 days in stage, got %v", data["days_in_stage"])
	}

	w = testutil.DoRequest(router, "GET", "/api/v1/projects", nil, token)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	items := testutil.ParseResponse(w)["data"].(map[string]interface{})["items"].([]interface{})
	if len(items) == 0 {
		t.Fatal("expected at least one project in the list")
	}
	if _, ok := items[0].(map[string]interface{})["days_in_stage"]; !ok {
		t.Error("list items missing days_in_stage")
	}
}

func TestListProjectsScopedToOrg(t *testing.T) {
	router, db := setupProjectTest(t)
	testutil.SeedProject(t, db, "proj-mine-1", "stage-inquiry")

	// A project belonging to another organization
	now := time.Now()
	other := &entity.Project{
		ID:                     "proj-other-1",
		ProjectID:              "P-2026090199",
		Title:                  "别家的项目",
		Status:                 entity.ProjectStatusActive,
		PriorityLevel:          entity.PriorityMedium,
		CustomerOrganizationID: "org-other",
		CreatedBy:              "someone-else",
		CreatedAt:              now,
		UpdatedAt:              now,
	}
	if err := db.Create(other).Error; err != nil {
		t.Fatalf("seed other-org project: %v", err)
	}

	w := testutil.DoRequest(router, "GET", "/api/v1/projects", nil, testutil.DefaultTestToken())
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	data := testutil.ParseResponse(w)["data"].(map[string]interface{})
	items := data["items"].([]interface{})
	if len(items) != 1 {
		t.Fatalf("expected only own org's project, got %d", len(items))
	}
}

func TestStagesEndpoint(t *testing.T) {
	router, _ := setupProjectTest(t)

	w := testutil.DoRequest(router, "GET", "/api/v1/stages", nil, testutil.DefaultTestToken())
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	data := testutil.ParseResponse(w)["data"].(map[string]interface{})
	items := data["items"].([]interface{})
	if len(items) != 4 {
		t.Fatalf("expected 4 seeded stages, got %d", len(items))
	}
	first := items[0].(map[string]interface{})
	if first["slug"] != "inquiry_received" {
		t.Errorf("stages not ordered by stage_order: first is %v", first["slug"])
	}
}

func TestRequiresAuth(t *testing.T) {
	router, _ := setupProjectTest(t)

	w := testutil.DoRequest(router, "GET", "/api/v1/projects", nil, "")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without token, got %d", w.Code)
	}
}
