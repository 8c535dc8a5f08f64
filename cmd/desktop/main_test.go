package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/klee/careerfly/internal/config"
	"github.com/klee/careerfly/internal/db"
	"github.com/klee/careerfly/internal/export"
	"github.com/klee/careerfly/internal/ingest"
	"github.com/klee/careerfly/internal/models"
	"github.com/klee/careerfly/internal/notify"
	"github.com/klee/careerfly/internal/stats"
)

// newTestServer wires a Server against an in-memory store, sync disabled.
func newTestServer(t *testing.T) *Server {
	t.Helper()
	database, err := db.OpenMemory()
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := db.NewMigrator(database.DB).Up(); err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}

	repo := db.NewRepository(database.DB)
	hub := notify.NewHub()
	statsEngine := stats.NewEngine(repo, hub)
	t.Cleanup(statsEngine.Close)

	return &Server{
		cfg: &config.Config{
			DataDir: t.TempDir(),
			UserID:  models.GuestUserID,
		},
		repo:   repo,
		ingest: ingest.NewService(repo, hub, nil),
		stats:  statsEngine,
		export: export.NewService(repo),
		wsHub:  NewWSHub(),
	}
}

func TestHealthEndpoint(t *testing.T) {
	server := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	w := httptest.NewRecorder()
	server.handleHealth(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("Invalid JSON response: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("Expected status ok, got %s", body["status"])
	}
}

func TestHealthEndpointRejectsPost(t *testing.T) {
	server := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/health", nil)
	w := httptest.NewRecorder()
	server.handleHealth(w, req)

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected 405, got %d", w.Code)
	}
}

func TestCreateAndListLogs(t *testing.T) {
	server := newTestServer(t)

	payload, _ := json.Marshal(CreateLogRequest{
		Content: models.Content{
			Format: models.FormatTiptapJSON,
			Body:   json.RawMessage(`{"type":"doc","content":[{"type":"paragraph","content":[{"type":"text","text":"shipped PROJ-1 #release"}]}]}`),
		},
		Impact: models.ImpactHigh,
	})
	req := httptest.NewRequest(http.MethodPost, "/api/logs", bytes.NewReader(payload))
	w := httptest.NewRecorder()
	server.handleLogs(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var created models.LogEntry
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("Invalid JSON response: %v", err)
	}
	if len(created.Tags) != 1 || created.Tags[0] != "release" {
		t.Errorf("Expected extracted tag release, got %v", created.Tags)
	}

	listReq := httptest.NewRequest(http.MethodGet, "/api/logs", nil)
	listW := httptest.NewRecorder()
	server.handleLogs(listW, listReq)

	var logs []models.LogEntry
	if err := json.Unmarshal(listW.Body.Bytes(), &logs); err != nil {
		t.Fatalf("Invalid JSON response: %v", err)
	}
	if len(logs) != 1 || logs[0].ID != created.ID {
		t.Errorf("Expected the created log back, got %d logs", len(logs))
	}
}

func TestDeleteLogEndpoint(t *testing.T) {
	server := newTestServer(t)

	entry, err := server.ingest.Ingest(ingest.Request{
		UserID:    models.GuestUserID,
		Content:   models.Content{Format: models.FormatMarkdown, Body: json.RawMessage(`"to delete"`)},
		PlainText: "to delete",
	})
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}

	req := httptest.NewRequest(http.MethodDelete, "/api/logs/"+string(entry.ID), nil)
	w := httptest.NewRecorder()
	server.handleLogByID(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("Expected 204, got %d", w.Code)
	}

	getReq := httptest.NewRequest(http.MethodGet, "/api/logs/"+string(entry.ID), nil)
	getW := httptest.NewRecorder()
	server.handleLogByID(getW, getReq)
	if getW.Code != http.StatusNotFound {
		t.Errorf("Expected 404 after delete, got %d", getW.Code)
	}
}

func TestStatsEndpoint(t *testing.T) {
	server := newTestServer(t)

	if _, err := server.ingest.Ingest(ingest.Request{
		UserID:    models.GuestUserID,
		Content:   models.Content{Format: models.FormatMarkdown, Body: json.RawMessage(`"work #golang"`)},
		PlainText: "work #golang",
	}); err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	w := httptest.NewRecorder()
	server.handleStats(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var snap stats.Snapshot
	if err := json.Unmarshal(w.Body.Bytes(), &snap); err != nil {
		t.Fatalf("Invalid JSON response: %v", err)
	}
	if snap.TotalLogs != 1 {
		t.Errorf("Expected 1 log in stats, got %d", snap.TotalLogs)
	}
}

func TestResetRequiresConfirmation(t *testing.T) {
	server := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/reset", bytes.NewReader([]byte(`{"confirm":false}`)))
	w := httptest.NewRecorder()
	server.handleReset(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 without confirmation, got %d", w.Code)
	}

	confirmed := httptest.NewRequest(http.MethodPost, "/api/reset", bytes.NewReader([]byte(`{"confirm":true}`)))
	cw := httptest.NewRecorder()
	server.handleReset(cw, confirmed)
	if cw.Code != http.StatusNoContent {
		t.Errorf("Expected 204 with confirmation, got %d", cw.Code)
	}
}

func TestSyncStatusWhenDisabled(t *testing.T) {
	server := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/sync/status", nil)
	w := httptest.NewRecorder()
	server.handleSyncStatus(w, req)

	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("Invalid JSON response: %v", err)
	}
	if body["state"] != "disabled" {
		t.Errorf("Expected disabled state, got %s", body["state"])
	}
}

func TestWebSocketOriginCheck(t *testing.T) {
	cases := []struct {
		host    string
		allowed bool
	}{
		{"localhost:8090", true},
		{"127.0.0.1:8090", true},
		{"localhost", true},
		{"example.com", false},
		{"evil.example.com:8090", false},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/ws", nil)
		req.Host = tc.host
		if got := upgrader.CheckOrigin(req); got != tc.allowed {
			t.Errorf("CheckOrigin(%s) = %v, want %v", tc.host, got, tc.allowed)
		}
	}
}
