// Package ingest orchestrates creation of new log entries: extraction,
// tag/ticket bookkeeping, the store write, and downstream notification.
package ingest

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/klee/careerfly/internal/db"
	apperrors "github.com/klee/careerfly/internal/errors"
	"github.com/klee/careerfly/internal/extract"
	"github.com/klee/careerfly/internal/logging"
	"github.com/klee/careerfly/internal/models"
	"github.com/klee/careerfly/internal/notify"
	"github.com/klee/careerfly/internal/richtext"
	"github.com/klee/careerfly/internal/uuid"
)

// Pusher is the slice of the sync engine ingestion needs. A stopped engine
// ignores pushes; ingestion never blocks on the network.
type Pusher interface {
	Running() bool
	PushAsync(log *models.LogEntry)
}

// Request carries everything needed to create one entry. PlainText is the
// editor's projection of Body; when empty it is derived from Body instead.
type Request struct {
	UserID       string          `validate:"required"`
	Content      models.Content  `validate:"required"`
	PlainText    string
	Impact       models.Impact   `validate:"omitempty,oneof=low medium high"`
	IsMajorWin   bool
	ExplicitDate *time.Time
}

// Service is the log ingestion orchestrator.
type Service struct {
	repo     *db.Repository
	hub      *notify.Hub
	pusher   Pusher
	validate *validator.Validate
	logger   *logging.Logger
	now      func() time.Time
}

// NewService creates an ingestion service. pusher may be nil when sync is
// disabled entirely.
func NewService(repo *db.Repository, hub *notify.Hub, pusher Pusher) *Service {
	return &Service{
		repo:     repo,
		hub:      hub,
		pusher:   pusher,
		validate: validator.New(),
		logger:   logging.Get(),
		now:      time.Now,
	}
}

// WithClock substitutes the time source, used by tests to pin directive
// resolution to a known date.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Ingest creates a log entry from a request. The effective date is the
// caller's explicit date when given, else the text directive's date, else
// now. A store failure aborts the whole operation; no partial record
// becomes visible and nothing is retried automatically.
func (s *Service) Ingest(req Request) (*models.LogEntry, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrValidation, "invalid ingestion request", err)
	}

	now := s.now()
	plainText := req.PlainText
	if plainText == "" {
		derived, err := richtext.ToPlainText(req.Content)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrValidation, "cannot derive plain text", err)
		}
		plainText = derived
	}

	extracted := extract.Extract(plainText, now)

	effectiveDate := now
	switch {
	case req.ExplicitDate != nil:
		effectiveDate = *req.ExplicitDate
	case extracted.HasDateDirective:
		effectiveDate = extracted.EffectiveDate
	}

	impact := req.Impact
	if impact == "" {
		impact = models.ImpactMedium
	}

	content := req.Content
	content.PlainTextSnippet = richtext.Snippet(extracted.CleanedText)

	entry := &models.LogEntry{
		ID:      models.UUID(uuid.New()),
		UserID:  req.UserID,
		DateISO: effectiveDate,
		Content: content,
		Tags:    extracted.Tags,
		Metadata: models.Metadata{
			Impact:                impact,
			IsMajorWin:            req.IsMajorWin,
			PerformanceCategories: extracted.PerformanceCategories,
		},
		SyncState: models.SyncState{
			IsSynced:     false,
			LastModified: now.UnixMilli(),
		},
		CreatedAt: now,
	}

	if err := s.repo.CreateLogEntry(entry, extracted.TicketKeys); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStoreOp, "ingestion failed", err)
	}

	s.logger.Info("log created", map[string]interface{}{
		"log_id":  string(entry.ID),
		"tags":    len(entry.Tags),
		"tickets": len(entry.ExternalTickets),
	})

	s.hub.Publish(notify.Change{
		Collection: "logs",
		Op:         notify.OpCreated,
		ID:         string(entry.ID),
		UserID:     entry.UserID,
	})
	if s.pusher != nil && s.pusher.Running() {
		s.pusher.PushAsync(entry)
	}
	return entry, nil
}

// Delete hard-deletes an entry. The join-table index rows cascade, so tag,
// ticket and date queries all stop returning it at once. The remote copy,
// if any, is left alone. Idempotent.
func (s *Service) Delete(userID string, id models.UUID) error {
	if err := s.repo.DeleteLog(id); err != nil {
		return apperrors.Wrap(apperrors.ErrStoreOp, "delete failed", err)
	}
	s.hub.Publish(notify.Change{
		Collection: "logs",
		Op:         notify.OpDeleted,
		ID:         string(id),
		UserID:     userID,
	})
	return nil
}

// ToggleStar flips the star flag, touches the modification timestamp so the
// change is eligible for the next push, and notifies subscribers.
func (s *Service) ToggleStar(userID string, id models.UUID, starred bool) error {
	now := s.now()
	if err := s.repo.SetStarred(id, starred, now); err != nil {
		return apperrors.Wrap(apperrors.ErrStoreOp, "star toggle failed", err)
	}
	s.hub.Publish(notify.Change{
		Collection: "logs",
		Op:         notify.OpUpdated,
		ID:         string(id),
		UserID:     userID,
	})
	if s.pusher != nil && s.pusher.Running() {
		if entry, err := s.repo.GetLog(id); err == nil {
			s.pusher.PushAsync(entry)
		}
	}
	return nil
}

// UpdateContent replaces an entry's body on edit-save. Tags and tickets are
// fixed at ingestion; extraction is not re-run.
func (s *Service) UpdateContent(userID string, id models.UUID, content models.Content) error {
	plain, err := richtext.ToPlainText(content)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrValidation, "cannot derive plain text", err)
	}
	content.PlainTextSnippet = richtext.Snippet(plain)

	now := s.now()
	if err := s.repo.UpdateLogContent(id, content, now); err != nil {
		return apperrors.Wrap(apperrors.ErrStoreOp, fmt.Sprintf("update of log %s failed", id), err)
	}
	s.hub.Publish(notify.Change{
		Collection: "logs",
		Op:         notify.OpUpdated,
		ID:         string(id),
		UserID:     userID,
	})
	if s.pusher != nil && s.pusher.Running() {
		if entry, err := s.repo.GetLog(id); err == nil {
			s.pusher.PushAsync(entry)
		}
	}
	return nil
}
