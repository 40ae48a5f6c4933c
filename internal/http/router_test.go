package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/medtrack/go-medtrack-backend/internal/config"
	"github.com/medtrack/go-medtrack-backend/internal/domain"
)

// --- test DB helper (pure-Go sqlite, no CGO) ---
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:routerdb_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	// schema so handlers don't explode on list endpoints
	if err := db.AutoMigrate(
		&domain.Medication{},
		&domain.ScheduleTemplate{},
		&domain.ScheduleEntry{},
		&domain.DayStatus{},
		&domain.ShareLink{},
		&domain.CareAccess{},
		&domain.Idempotency{},
	); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func testConfig() config.Config {
	return config.Config{
		APIBasePath:     "/api/v1",
		RateRPS:         100,
		RateBurst:       10,
		DefaultTimezone: "UTC",
		GenerationDays:  30,
		ShareLinkTTL:    7 * 24 * time.Hour,
		CORS:            config.CORSConfig{AllowedOrigins: nil}, // triggers AllowAllOrigins branch
		Security:        config.SecurityConfig{EnableHSTS: false, HSTSMaxAge: 0},
		OTEL:            config.OTELConfig{ServiceName: "test-svc"},
	}
}

func TestRegisterRoutes_CORSAllowAll_Health_Metrics_Fallbacks(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	RegisterRoutes(r, newTestDB(t), testConfig())

	// /health works
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", w.Code)
	}
	// CORS (AllowAllOrigins) → header "*"
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("AllowAllOrigins expected '*', got %q", got)
	}

	// /metrics is wired
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK || w.Body.Len() == 0 {
		t.Fatalf("GET /metrics bad: code=%d len=%d", w.Code, w.Body.Len())
	}

	// NoRoute fallback returns the JSON envelope
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/nope", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("GET /nope = %d", w.Code)
	}

	// NoMethod fallback
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPatch, "/health", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("PATCH /health = %d", w.Code)
	}
}

func TestRegisterRoutes_CORSAllowlistEchoesOrigin(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	cfg := testConfig()
	cfg.CORS.AllowedOrigins = []string{"https://app.example"}
	RegisterRoutes(r, newTestDB(t), cfg)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://app.example")
	r.ServeHTTP(w, req)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example" {
		t.Fatalf("allowlisted origin not echoed, got %q", got)
	}

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://evil.example")
	r.ServeHTTP(w, req)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got == "https://evil.example" {
		t.Fatalf("non-allowlisted origin echoed")
	}
}

func TestRegisterRoutes_MedicationLifecycleEndToEnd(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	RegisterRoutes(r, newTestDB(t), testConfig())

	// Create through the full middleware stack.
	body, _ := json.Marshal(map[string]string{"name": "Aspirin", "dose": "100mg", "form": "tablet"})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/medications", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-ID", "router-user")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("create = %d, body = %s", w.Code, w.Body.String())
	}
	var med domain.Medication
	if err := json.Unmarshal(w.Body.Bytes(), &med); err != nil {
		t.Fatalf("json: %v", err)
	}
	if med.ID == "" || med.UserID != "router-user" {
		t.Fatalf("created: %+v", med)
	}
	if rid := w.Header().Get("X-Request-ID"); rid == "" {
		t.Fatalf("request id middleware not wired")
	}

	// List sees it and carries an ETag.
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/api/v1/medications", nil)
	req.Header.Set("X-User-ID", "router-user")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("list = %d, body = %s", w.Code, w.Body.String())
	}
	etag := w.Header().Get("ETag")
	if etag == "" {
		t.Fatalf("missing ETag on list")
	}

	// Conditional re-read returns 304.
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/api/v1/medications", nil)
	req.Header.Set("X-User-ID", "router-user")
	req.Header.Set("If-None-Match", etag)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNotModified {
		t.Fatalf("conditional list = %d", w.Code)
	}

	// Delete and confirm it is gone.
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodDelete, "/api/v1/medications/"+med.ID, nil)
	req.Header.Set("X-User-ID", "router-user")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Fatalf("delete = %d, body = %s", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/api/v1/medications/"+med.ID, nil)
	req.Header.Set("X-User-ID", "router-user")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("get after delete = %d", w.Code)
	}
}
