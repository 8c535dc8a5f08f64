// REST API handlers for the desktop bridge.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/klee/careerfly/internal/config"
	"github.com/klee/careerfly/internal/db"
	"github.com/klee/careerfly/internal/export"
	"github.com/klee/careerfly/internal/ingest"
	"github.com/klee/careerfly/internal/models"
	"github.com/klee/careerfly/internal/stats"
	syncengine "github.com/klee/careerfly/internal/sync"
)

// Server holds the wired services behind the REST surface.
type Server struct {
	cfg    *config.Config
	repo   *db.Repository
	ingest *ingest.Service
	stats  *stats.Engine
	export *export.Service
	engine *syncengine.Engine
	wsHub  *WSHub
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// handleHealth handles GET /api/health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "careerfly-desktop"})
}

// CreateLogRequest is the POST /api/logs body.
type CreateLogRequest struct {
	Content      models.Content `json:"content"`
	PlainText    string         `json:"plainText"`
	Impact       models.Impact  `json:"impact"`
	IsMajorWin   bool           `json:"isMajorWin"`
	ExplicitDate *time.Time     `json:"explicitDate,omitempty"`
}

// handleLogs handles GET and POST /api/logs.
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		logs, err := s.repo.ListLogs(s.cfg.UserID)
		if err != nil {
			http.Error(w, "Failed to list logs: "+err.Error(), http.StatusInternalServerError)
			return
		}
		if logs == nil {
			logs = []*models.LogEntry{}
		}
		writeJSON(w, http.StatusOK, logs)

	case http.MethodPost:
		var req CreateLogRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
			return
		}
		entry, err := s.ingest.Ingest(ingest.Request{
			UserID:       s.cfg.UserID,
			Content:      req.Content,
			PlainText:    req.PlainText,
			Impact:       req.Impact,
			IsMajorWin:   req.IsMajorWin,
			ExplicitDate: req.ExplicitDate,
		})
		if err != nil {
			http.Error(w, "Ingestion failed: "+err.Error(), http.StatusBadRequest)
			return
		}
		writeJSON(w, http.StatusCreated, entry)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleLogByID handles GET/DELETE /api/logs/{id} and POST /api/logs/{id}/star.
func (s *Server) handleLogByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/logs/")
	id, action := rest, ""
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		id, action = rest[:i], rest[i+1:]
	}
	logID := models.UUID(id)

	switch {
	case action == "star" && r.Method == http.MethodPost:
		var req struct {
			Starred bool `json:"starred"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
			return
		}
		if err := s.ingest.ToggleStar(s.cfg.UserID, logID, req.Starred); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				http.Error(w, "Log not found", http.StatusNotFound)
				return
			}
			http.Error(w, "Star toggle failed: "+err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"starred": req.Starred})

	case action == "" && r.Method == http.MethodGet:
		entry, err := s.repo.GetLog(logID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				http.Error(w, "Log not found", http.StatusNotFound)
				return
			}
			http.Error(w, "Failed to get log: "+err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, entry)

	case action == "" && r.Method == http.MethodDelete:
		if err := s.ingest.Delete(s.cfg.UserID, logID); err != nil {
			http.Error(w, "Delete failed: "+err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleStats handles GET /api/stats?managerMode=true.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	managerMode := r.URL.Query().Get("managerMode") == "true"
	snapshot, err := s.stats.Snapshot(s.cfg.UserID, managerMode)
	if err != nil {
		http.Error(w, "Failed to compute stats: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

// handleExport handles POST /api/export.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Dir string `json:"dir"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.Dir == "" {
		req.Dir = filepath.Join(s.cfg.DataDir, "exports")
	}
	result, err := s.export.ExportLogs(s.cfg.UserID, req.Dir)
	if err != nil {
		http.Error(w, "Export failed: "+err.Error(), http.StatusInternalServerError)
		return
	}
	s.wsHub.Broadcast(EventExportCompleted, map[string]interface{}{
		"file_path":  result.FilePath,
		"count":      result.Count,
		"size_bytes": result.SizeBytes,
	})
	writeJSON(w, http.StatusOK, result)
}

// handleSyncStatus handles GET /api/sync/status.
func (s *Server) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.engine == nil {
		writeJSON(w, http.StatusOK, map[string]string{"state": "disabled", "status": "offline"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"state":  string(s.engine.State()),
		"status": string(s.engine.Status()),
	})
}

// handleSyncRetry handles POST /api/sync/retry.
func (s *Server) handleSyncRetry(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.engine == nil {
		http.Error(w, "Sync is disabled", http.StatusConflict)
		return
	}
	s.wsHub.Broadcast(EventSyncStarted, nil)
	// The session must outlive this request.
	if err := s.engine.RetrySync(context.Background()); err != nil {
		s.wsHub.Broadcast(EventSyncFailed, map[string]interface{}{"error": err.Error()})
		http.Error(w, "Retry failed: "+err.Error(), http.StatusBadGateway)
		return
	}
	s.wsHub.Broadcast(EventSyncCompleted, nil)
	writeJSON(w, http.StatusOK, map[string]string{"status": string(s.engine.Status())})
}

// handleReset handles POST /api/reset. The wipe is irreversible and only
// touches local data; anything already synced survives on the remote.
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Confirm bool `json:"confirm"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || !req.Confirm {
		http.Error(w, "Reset requires explicit confirmation", http.StatusBadRequest)
		return
	}
	if err := s.repo.WipeAll(); err != nil {
		http.Error(w, "Reset failed: "+err.Error(), http.StatusInternalServerError)
		return
	}
	s.stats.Invalidate(s.cfg.UserID)
	w.WriteHeader(http.StatusNoContent)
}
