// Package export writes a user's log collection to a portable JSON file.
package export

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/klee/careerfly/internal/db"
	apperrors "github.com/klee/careerfly/internal/errors"
	"github.com/klee/careerfly/internal/logging"
	"github.com/klee/careerfly/internal/models"
)

// Result describes a completed export.
type Result struct {
	FilePath  string `json:"filePath"`
	Count     int    `json:"count"`
	SizeBytes int64  `json:"sizeBytes"`
}

// Service exports log data.
type Service struct {
	repo   *db.Repository
	logger *logging.Logger
	now    func() time.Time
}

// NewService creates an export service.
func NewService(repo *db.Repository) *Service {
	return &Service{repo: repo, logger: logging.Get(), now: time.Now}
}

// WithClock substitutes the time source, used by tests to pin the filename.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// ExportLogs writes all of the user's logs, newest first, to
// careerfly-export-<YYYY-MM-DD>.json under dir as a pretty-printed JSON
// array. An export of zero logs still produces a file with an empty array.
func (s *Service) ExportLogs(userID, dir string) (*Result, error) {
	logs, err := s.repo.ListLogs(userID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrExport, "failed to load logs", err)
	}
	if logs == nil {
		// Zero logs still export as an empty array, not null.
		logs = []*models.LogEntry{}
	}

	data, err := json.MarshalIndent(logs, "", "  ")
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrExport, "failed to encode logs", err)
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrExport, "failed to create export directory", err)
	}

	filename := fmt.Sprintf("careerfly-export-%s.json", s.now().UTC().Format("2006-01-02"))
	path := filepath.Join(dir, filename)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrExport, "failed to write export file", err)
	}

	s.logger.Info("export completed", map[string]interface{}{
		"path":  path,
		"count": len(logs),
	})
	return &Result{FilePath: path, Count: len(logs), SizeBytes: int64(len(data))}, nil
}
