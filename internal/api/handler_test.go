package api

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ferhates/earshot/internal/config"
	"github.com/ferhates/earshot/internal/session"
	"github.com/ferhates/earshot/internal/storage/sqlite"
	"github.com/ferhates/earshot/pkg/logger"
)

func testRouter(t *testing.T) http.Handler {
	t.Helper()

	log, err := logger.New(logger.Config{Level: "error", Format: "json"})
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	storage := sqlite.NewSessionStorage(db, log)

	cfg := config.DefaultConfig()
	manager := session.NewManager(cfg, nil, log)
	t.Cleanup(manager.Teardown)

	return NewRouter(manager, storage, cfg, log).Routes()
}

func doJSON(t *testing.T, router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	router := testRouter(t)
	rec := doJSON(t, router, http.MethodGet, "/api/v1/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestSessionEndpointsWithoutSession(t *testing.T) {
	router := testRouter(t)

	for _, path := range []string{"/api/v1/session", "/api/v1/state", "/api/v1/transcript", "/api/v1/words"} {
		rec := doJSON(t, router, http.MethodGet, path, "")
		if rec.Code != http.StatusNotFound {
			t.Errorf("GET %s status = %d, want 404", path, rec.Code)
		}
	}
}

func TestControlsConflictWithoutSession(t *testing.T) {
	router := testRouter(t)

	cases := []struct {
		path string
		body string
	}{
		{"/api/v1/controls/dtmf", `{"digits":"1"}`},
		{"/api/v1/controls/detection-paused", `{"paused":true}`},
		{"/api/v1/controls/qa-started", ""},
		{"/api/v1/controls/redial", ""},
		{"/api/v1/controls/force-call-end", ""},
		{"/api/v1/controls/mute", `{"muted":true}`},
		{"/api/v1/mic/stop", ""},
	}
	for _, tc := range cases {
		rec := doJSON(t, router, http.MethodPost, tc.path, tc.body)
		if rec.Code != http.StatusConflict {
			t.Errorf("POST %s status = %d, want 409", tc.path, rec.Code)
		}
		var resp map[string]string
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Errorf("POST %s: invalid error body: %v", tc.path, err)
		} else if resp["error"] == "" {
			t.Errorf("POST %s: missing error message", tc.path)
		}
	}
}

func TestLaunchSessionValidation(t *testing.T) {
	router := testRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/session", `{"session_id":""}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty session_id status = %d, want 400", rec.Code)
	}

	rec = doJSON(t, router, http.MethodPost, "/api/v1/session", `{"session_id":`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("malformed body status = %d, want 400", rec.Code)
	}
}

func TestBetSizeValidation(t *testing.T) {
	router := testRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/controls/bet-size", `{"dollars":-5}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("negative dollars status = %d, want 400", rec.Code)
	}
}

func TestEndSessionIdempotent(t *testing.T) {
	router := testRouter(t)

	rec := doJSON(t, router, http.MethodDelete, "/api/v1/session", "")
	if rec.Code != http.StatusNoContent {
		t.Errorf("DELETE status = %d, want 204", rec.Code)
	}
	rec = doJSON(t, router, http.MethodDelete, "/api/v1/session", "")
	if rec.Code != http.StatusNoContent {
		t.Errorf("second DELETE status = %d, want 204", rec.Code)
	}
}

func TestStoredHistoryEndpoints(t *testing.T) {
	log, err := logger.New(logger.Config{Level: "error", Format: "json"})
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	storage := sqlite.NewSessionStorage(db, log)

	now := time.Now().UTC()
	if _, err := storage.StoreSegment(&sqlite.SegmentRecord{
		SessionID: "acme-q3", Text: "guidance raised", Timestamp: 4.2, CreatedAt: now,
	}); err != nil {
		t.Fatalf("failed to seed segment: %v", err)
	}
	if _, err := storage.StoreWordEvent(&sqlite.WordEventRecord{
		SessionID: "acme-q3", MarketTicker: "GROWTH-24", Word: "growth", TriggeredAt: 4.2, CreatedAt: now,
	}); err != nil {
		t.Fatalf("failed to seed word event: %v", err)
	}

	cfg := config.DefaultConfig()
	manager := session.NewManager(cfg, nil, log)
	t.Cleanup(manager.Teardown)
	router := NewRouter(manager, storage, cfg, log).Routes()

	rec := doJSON(t, router, http.MethodGet, "/api/v1/history/acme-q3/transcript", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("transcript status = %d, want 200", rec.Code)
	}
	var segments []sqlite.SegmentRecord
	if err := json.Unmarshal(rec.Body.Bytes(), &segments); err != nil {
		t.Fatalf("invalid transcript body: %v", err)
	}
	if len(segments) != 1 || segments[0].Text != "guidance raised" {
		t.Errorf("segments = %+v", segments)
	}

	rec = doJSON(t, router, http.MethodGet, "/api/v1/history/acme-q3/word-events", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("word events status = %d, want 200", rec.Code)
	}
	var events []sqlite.WordEventRecord
	if err := json.Unmarshal(rec.Body.Bytes(), &events); err != nil {
		t.Fatalf("invalid word events body: %v", err)
	}
	if len(events) != 1 || events[0].MarketTicker != "GROWTH-24" {
		t.Errorf("events = %+v", events)
	}

	rec = doJSON(t, router, http.MethodGet, "/api/v1/history/acme-q3/transcript?start=bad&end=1", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad range status = %d, want 400", rec.Code)
	}
}
