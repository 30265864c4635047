package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dubaigit/task-mail-sub001/internal/cache"
	"github.com/dubaigit/task-mail-sub001/internal/config"
	"github.com/dubaigit/task-mail-sub001/internal/domain"
	"github.com/dubaigit/task-mail-sub001/internal/logger"
	"github.com/dubaigit/task-mail-sub001/internal/metrics"
	"github.com/dubaigit/task-mail-sub001/internal/repository"
	"github.com/gin-gonic/gin"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func testRouter(t *testing.T) (*gin.Engine, *repository.JobRepository, *cache.Store) {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	if err := db.AutoMigrate(&domain.AnalysisJob{}, &domain.CacheEntry{}); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}

	jobs := repository.NewJobRepository(db)
	store, err := cache.New(repository.NewCacheRepository(db), cache.Options{TTL: time.Hour}, logger.Default())
	if err != nil {
		t.Fatalf("failed to create cache store: %v", err)
	}

	cfg := &config.Config{}
	cfg.Server.Mode = "test"
	cfg.Pipeline.MaxRetries = 3

	return SetupRouter(jobs, store, metrics.NewCollector(), cfg), jobs, store
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRouter_Health(t *testing.T) {
	r, _, _ := testRouter(t)

	w := doJSON(t, r, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
}

func TestRouter_EnqueueAndStatus(t *testing.T) {
	r, _, _ := testRouter(t)

	w := doJSON(t, r, http.MethodPost, "/api/v1/jobs", map[string]interface{}{
		"record_id":      "msg-1",
		"operation_type": "CLASSIFY",
		"priority":       5,
	})
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}

	var job domain.AnalysisJob
	if err := json.Unmarshal(w.Body.Bytes(), &job); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if job.ID == "" || job.Status != domain.JobStatusPending {
		t.Errorf("unexpected job in response: %+v", job)
	}

	w = doJSON(t, r, http.MethodGet, "/api/v1/jobs/"+job.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var status struct {
		Status   string `json:"status"`
		RecordID string `json:"record_id"`
	}
	json.Unmarshal(w.Body.Bytes(), &status)
	if status.Status != "PENDING" || status.RecordID != "msg-1" {
		t.Errorf("unexpected status view: %+v", status)
	}

	w = doJSON(t, r, http.MethodGet, "/api/v1/jobs?record_id=msg-1&operation_type=CLASSIFY", nil)
	if w.Code != http.StatusOK {
		t.Errorf("query by record/operation: expected 200, got %d", w.Code)
	}
}

func TestRouter_EnqueueRejectsBadInput(t *testing.T) {
	r, _, _ := testRouter(t)

	w := doJSON(t, r, http.MethodPost, "/api/v1/jobs", map[string]interface{}{
		"record_id": "msg-1",
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing operation_type: expected 400, got %d", w.Code)
	}

	w = doJSON(t, r, http.MethodPost, "/api/v1/jobs", map[string]interface{}{
		"record_id":      "msg-1",
		"operation_type": "RESIZE",
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("unknown operation_type: expected 400, got %d", w.Code)
	}
}

func TestRouter_EnqueueBulk(t *testing.T) {
	r, _, _ := testRouter(t)

	w := doJSON(t, r, http.MethodPost, "/api/v1/jobs/bulk", map[string]interface{}{
		"jobs": []map[string]interface{}{
			{"record_id": "msg-1", "operation_type": "CLASSIFY"},
			{"record_id": "msg-2", "operation_type": "DRAFT", "priority": 7},
			{"record_id": "msg-3", "operation_type": "RESIZE"},
		},
	})
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Results []struct {
			JobID string `json:"job_id"`
			Error string `json:"error"`
		} `json:"results"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(resp.Results))
	}
	if resp.Results[0].JobID == "" || resp.Results[1].JobID == "" {
		t.Error("expected valid items to carry job ids")
	}
	if resp.Results[2].Error == "" {
		t.Error("expected invalid item to carry an error, not fail the batch")
	}
}

func TestRouter_UnknownJobIs404(t *testing.T) {
	r, _, _ := testRouter(t)

	w := doJSON(t, r, http.MethodGet, "/api/v1/jobs/no-such-id", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestRouter_CacheInvalidation(t *testing.T) {
	r, _, store := testRouter(t)
	ctx := context.Background()

	store.Put(ctx, "body", domain.OperationClassify, "m1", "v")
	key := cache.Key("body", domain.OperationClassify, "m1")

	w := doJSON(t, r, http.MethodDelete, "/api/v1/cache/"+key, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if _, ok := store.Get(ctx, "body", domain.OperationClassify, "m1"); ok {
		t.Error("expected entry gone after invalidation")
	}

	store.Put(ctx, "a", domain.OperationClassify, "m1", "v1")
	store.Put(ctx, "b", domain.OperationDraft, "m1", "v2")

	w = doJSON(t, r, http.MethodDelete, "/api/v1/cache?operation_type=CLASSIFY", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if _, ok := store.Get(ctx, "a", domain.OperationClassify, "m1"); ok {
		t.Error("expected classify entry gone")
	}
	if _, ok := store.Get(ctx, "b", domain.OperationDraft, "m1"); !ok {
		t.Error("expected draft entry to survive")
	}

	w = doJSON(t, r, http.MethodDelete, "/api/v1/cache", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
}

func TestRouter_Metrics(t *testing.T) {
	r, _, _ := testRouter(t)

	w := doJSON(t, r, http.MethodGet, "/api/v1/metrics", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var snap metrics.Snapshot
	if err := json.Unmarshal(w.Body.Bytes(), &snap); err != nil {
		t.Fatalf("failed to decode snapshot: %v", err)
	}
}
