package testutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/factorypulse/pulse/internal/middleware"
	"github.com/factorypulse/pulse/internal/rfq/entity"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	TestSchema = "test_pulse"
	JWTSecret  = "factory-pulse-jwt-secret-key-2026"
	TestOrgID  = "org-test-001"
)

// TestEnv holds test environment resources
type TestEnv struct {
	DB     *gorm.DB
	Router *gin.Engine
	T      *testing.T
}

// projectRoot returns the project root directory by looking for go.mod
func projectRoot() string {
	_, filename, _, _ := runtime.Caller(0)
	dir := filepath.Dir(filename)
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return ""
}

// loadEnv loads .env from the project root
func loadEnv() {
	root := projectRoot()
	if root != "" {
		godotenv.Load(filepath.Join(root, ".env"))
	}
}

// SetupTestDB creates a test database connection using a dedicated test schema.
// Each test gets an isolated schema that is cleaned up after the test.
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	loadEnv()

	host := getEnv("DB_HOST", "127.0.0.1")
	port := getEnv("DB_PORT", "5432")
	user := getEnv("DB_USER", "pulse")
	password := getEnv("DB_PASSWORD", "pulse123")
	dbname := getEnv("DB_NAME", "factory_pulse")

	baseDSN := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		host, port, user, password, dbname)

	// Create a unique test schema for isolation
	schemaName := fmt.Sprintf("%s_%d", TestSchema, time.Now().UnixNano()%1000000)

	// First: create schema using a temporary connection
	setupDB, err := gorm.Open(postgres.Open(baseDSN), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("Failed to connect to database for schema setup: %v", err)
	}
	setupDB.Exec(fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", schemaName))
	sqlSetup, _ := setupDB.DB()
	sqlSetup.Close()

	// Second: open connection with search_path in DSN so ALL pooled connections use test schema
	testDSN := fmt.Sprintf("%s search_path=%s", baseDSN, schemaName)
	db, err := gorm.Open(postgres.Open(testDSN), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}

	// Migrate test tables
	err = db.AutoMigrate(
		&entity.Project{},
		&entity.WorkflowStage{},
		&entity.StageTransition{},
		&entity.ProjectDocument{},
	)
	if err != nil {
		t.Fatalf("Failed to migrate test tables: %v", err)
	}

	// Cleanup on test completion
	t.Cleanup(func() {
		sqlDB, _ := db.DB()
		if sqlDB != nil {
			sqlDB.Close()
		}
		// Reconnect to drop the schema
		cleanDB, cleanErr := gorm.Open(postgres.Open(baseDSN), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if cleanErr == nil {
			cleanDB.Exec(fmt.Sprintf("DROP SCHEMA IF EXISTS %s CASCADE", schemaName))
			sqlClean, _ := cleanDB.DB()
			if sqlClean != nil {
				sqlClean.Close()
			}
		}
	})

	return db
}

// SetupRouter creates a gin test router
func SetupRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(gin.Recovery())
	return r
}

// AuthGroup creates an API group with JWT auth middleware for testing
func AuthGroup(r *gin.Engine, path string) *gin.RouterGroup {
	return r.Group(path, middleware.JWTAuth(JWTSecret, nil))
}

// GenerateTestToken creates a valid JWT token for testing
func GenerateTestToken(userID, name, email, orgID string, roles []string) string {
	if roles == nil {
		roles = []string{}
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"sub":    userID,
		"uid":    userID,
		"name":   name,
		"email":  email,
		"org_id": orgID,
		"roles":  roles,
		"iss":    "factory-pulse",
		"iat":    now.Unix(),
		"exp":    now.Add(24 * time.Hour).Unix(),
		"jti":    fmt.Sprintf("test-jti-%d", now.UnixNano()),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, _ := token.SignedString([]byte(JWTSecret))
	return tokenString
}

// DefaultTestToken returns a token for a default admin test user
func DefaultTestToken() string {
	return GenerateTestToken(
		"test-user-001",
		"Test Admin",
		"admin@test.com",
		TestOrgID,
		[]string{"pulse_admin"},
	)
}

// DoRequest executes an HTTP request against the test router
func DoRequest(r *gin.Engine, method, path string, body interface{}, token string) *httptest.ResponseRecorder {
	var reqBody *bytes.Buffer
	if body != nil {
		jsonBytes, _ := json.Marshal(body)
		reqBody = bytes.NewBuffer(jsonBytes)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req, _ := http.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// ParseResponse parses the JSON response body into a handler.Response-like map
func ParseResponse(w *httptest.ResponseRecorder) map[string]interface{} {
	var result map[string]interface{}
	json.Unmarshal(w.Body.Bytes(), &result)
	return result
}

// SeedStages creates a small ordered workflow for tests:
// inquiry_received(1) → technical_review(2) → quoted(3) → order_confirmed(4)
func SeedStages(t *testing.T, db *gorm.DB) []entity.WorkflowStage {
	t.Helper()
	now := time.Now()
	stages := []entity.WorkflowStage{
		{
			ID: "stage-inquiry", Name: "Inquiry Received", Slug: "inquiry_received",
			StageOrder: 1, IsActive: true, EstimatedDurationDays: 2, Color: "#3b82f6",
			ExitCriteria: entity.CriteriaList{
				{Key: "rfq_document", Label: "RFQ document uploaded", Required: true},
			},
			CreatedAt: now, UpdatedAt: now,
		},
		{
			ID: "stage-review", Name: "Technical Review", Slug: "technical_review",
			StageOrder: 2, IsActive: true, EstimatedDurationDays: 3, Color: "#f59e0b",
			CreatedAt: now, UpdatedAt: now,
		},
		{
			ID: "stage-quoted", Name: "Quoted", Slug: "quoted",
			StageOrder: 3, IsActive: true, EstimatedDurationDays: 5, Color: "#10b981",
			CreatedAt: now, UpdatedAt: now,
		},
		{
			ID: "stage-confirmed", Name: "Order Confirmed", Slug: "order_confirmed",
			StageOrder: 4, IsActive: true, EstimatedDurationDays: 1, Color: "#8b5cf6",
			CreatedAt: now, UpdatedAt: now,
		},
	}
	for i := range stages {
		if err := db.Create(&stages[i]).Error; err != nil {
			t.Fatalf("Failed to seed stage %s: %v", stages[i].Slug, err)
		}
	}
	return stages
}

// SeedProject creates a test project positioned at the given stage
func SeedProject(t *testing.T, db *gorm.DB, id, stageID string) *entity.Project {
	t.Helper()
	now := time.Now()
	project := &entity.Project{
		ID:                     id,
		ProjectID:              fmt.Sprintf("P-%s%02d", now.Format("20060102"), 1),
		Title:                  "测试项目",
		Status:                 entity.ProjectStatusActive,
		PriorityLevel:          entity.PriorityMedium,
		CustomerOrganizationID: TestOrgID,
		CreatedBy:              "test-user-001",
		CreatedAt:              now,
		UpdatedAt:              now,
	}
	if stageID != "" {
		project.CurrentStageID = &stageID
		project.StageEnteredAt = &now
	}
	if err := db.Create(project).Error; err != nil {
		t.Fatalf("Failed to seed project: %v", err)
	}
	return project
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
