// Package db provides CRUD repository operations for CareerFly data models.
package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/klee/careerfly/internal/models"
)

// dateFormat is a fixed-width UTC timestamp layout so that stored date
// strings sort lexicographically in index order.
const dateFormat = "2006-01-02T15:04:05.000Z07:00"

// Repository provides CRUD operations for all collections.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a new Repository instance.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func formatDate(t time.Time) string {
	return t.UTC().Format(dateFormat)
}

func parseDate(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func marshalStrings(values []string) string {
	if values == nil {
		values = []string{}
	}
	data, _ := json.Marshal(values)
	return string(data)
}

func unmarshalStrings(data string) []string {
	var values []string
	if data != "" && data != "null" {
		_ = json.Unmarshal([]byte(data), &values)
	}
	if values == nil {
		values = []string{}
	}
	return values
}

func marshalUUIDs(ids []models.UUID) string {
	if ids == nil {
		ids = []models.UUID{}
	}
	data, _ := json.Marshal(ids)
	return string(data)
}

func unmarshalUUIDs(data string) []models.UUID {
	var ids []models.UUID
	if data != "" && data != "null" {
		_ = json.Unmarshal([]byte(data), &ids)
	}
	if ids == nil {
		ids = []models.UUID{}
	}
	return ids
}

// =====================================================
// LogEntry Operations
// =====================================================

const logColumns = `id, user_id, date_iso, content_format, content_body, plain_text_snippet,
	impact, is_major_win, is_starred, performance_categories, tags,
	is_synced, last_modified, created_at`

func scanLog(row interface{ Scan(...interface{}) error }) (*models.LogEntry, error) {
	var (
		log                  models.LogEntry
		dateISO, createdAt   string
		body, categories     string
		tags                 string
	)
	err := row.Scan(
		&log.ID, &log.UserID, &dateISO, &log.Content.Format, &body,
		&log.Content.PlainTextSnippet, &log.Metadata.Impact,
		&log.Metadata.IsMajorWin, &log.Metadata.IsStarred,
		&categories, &tags,
		&log.SyncState.IsSynced, &log.SyncState.LastModified, &createdAt,
	)
	if err != nil {
		return nil, err
	}
	log.DateISO = parseDate(dateISO)
	log.CreatedAt = parseDate(createdAt)
	log.Content.Body = json.RawMessage(body)
	log.Metadata.PerformanceCategories = unmarshalStrings(categories)
	log.Tags = unmarshalStrings(tags)
	return &log, nil
}

func collectLogs(rows *sql.Rows) ([]*models.LogEntry, error) {
	defer rows.Close()
	var logs []*models.LogEntry
	for rows.Next() {
		log, err := scanLog(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan log: %w", err)
		}
		logs = append(logs, log)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating logs: %w", err)
	}
	return logs, nil
}

// loadTickets fills ExternalTickets from the join table for each log.
func (r *Repository) loadTickets(logs []*models.LogEntry) error {
	for _, log := range logs {
		rows, err := r.db.Query(`SELECT ticket_id FROM log_tickets WHERE log_id = ?`, log.ID)
		if err != nil {
			return err
		}
		ids := []models.UUID{}
		for rows.Next() {
			var id models.UUID
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return err
			}
			ids = append(ids, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		log.ExternalTickets = ids
	}
	return nil
}

// CreateLogEntry inserts a new log entry together with its tag and ticket
// usage bookkeeping, all inside one transaction. On return the entry's
// ExternalTickets holds the ticket entity ids resolved for ticketKeys.
//
// The tag and ticket counters are advanced with single conflict-clause
// statements, so overlapping ingestions can never lose an increment.
// A failure anywhere rolls back the whole ingestion: no partial record.
func (r *Repository) CreateLogEntry(log *models.LogEntry, ticketKeys []string) error {
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	lastUsed := log.CreatedAt.UnixMilli()
	createdAt := formatDate(log.CreatedAt)
	for _, label := range log.Tags {
		_, err := tx.Exec(`
		INSERT INTO tags (id, user_id, label, normalized_label, category, usage_count, last_used, created_at)
		VALUES (?, ?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT(user_id, label) DO UPDATE SET
			usage_count = usage_count + 1,
			last_used = excluded.last_used
		`, models.UUID(newID()), log.UserID, label, models.NormalizeLabel(label),
			models.DefaultTagCategory, lastUsed, createdAt)
		if err != nil {
			return fmt.Errorf("failed to upsert tag %q: %w", label, err)
		}
	}

	workedOn := formatDate(log.DateISO)
	ticketIDs := []models.UUID{}
	for _, key := range ticketKeys {
		var id models.UUID
		err := tx.QueryRow(`
		INSERT INTO external_tickets (id, user_id, ticket_key, ticket_system, url,
			first_worked_on, last_worked_on, total_log_count, status)
		VALUES (?, ?, ?, 'unknown', '', ?, ?, 1, ?)
		ON CONFLICT(user_id, ticket_key) DO UPDATE SET
			last_worked_on = excluded.last_worked_on,
			total_log_count = total_log_count + 1
		RETURNING id
		`, models.UUID(newID()), log.UserID, key, workedOn, workedOn,
			models.TicketStatusActive).Scan(&id)
		if err != nil {
			return fmt.Errorf("failed to upsert ticket %q: %w", key, err)
		}
		ticketIDs = append(ticketIDs, id)
	}
	log.ExternalTickets = ticketIDs

	if err := insertLogTx(tx, log); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit ingestion: %w", err)
	}
	return nil
}

func insertLogTx(tx *sql.Tx, log *models.LogEntry) error {
	_, err := tx.Exec(`
	INSERT INTO logs (`+logColumns+`)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		user_id = excluded.user_id,
		date_iso = excluded.date_iso,
		content_format = excluded.content_format,
		content_body = excluded.content_body,
		plain_text_snippet = excluded.plain_text_snippet,
		impact = excluded.impact,
		is_major_win = excluded.is_major_win,
		is_starred = excluded.is_starred,
		performance_categories = excluded.performance_categories,
		tags = excluded.tags,
		is_synced = excluded.is_synced,
		last_modified = excluded.last_modified,
		created_at = excluded.created_at
	`,
		log.ID, log.UserID, formatDate(log.DateISO), log.Content.Format,
		string(log.Content.Body), log.Content.PlainTextSnippet,
		log.Metadata.Impact, log.Metadata.IsMajorWin, log.Metadata.IsStarred,
		marshalStrings(log.Metadata.PerformanceCategories), marshalStrings(log.Tags),
		log.SyncState.IsSynced, log.SyncState.LastModified, formatDate(log.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert log: %w", err)
	}

	// Replace the multi-valued index rows for this log.
	if _, err := tx.Exec(`DELETE FROM log_tags WHERE log_id = ?`, log.ID); err != nil {
		return fmt.Errorf("failed to clear tag index: %w", err)
	}
	for _, label := range log.Tags {
		if _, err := tx.Exec(`INSERT OR IGNORE INTO log_tags (log_id, label) VALUES (?, ?)`, log.ID, label); err != nil {
			return fmt.Errorf("failed to index tag %q: %w", label, err)
		}
	}
	if _, err := tx.Exec(`DELETE FROM log_tickets WHERE log_id = ?`, log.ID); err != nil {
		return fmt.Errorf("failed to clear ticket index: %w", err)
	}
	for _, ticketID := range log.ExternalTickets {
		if _, err := tx.Exec(`INSERT OR IGNORE INTO log_tickets (log_id, ticket_id) VALUES (?, ?)`, log.ID, ticketID); err != nil {
			return fmt.Errorf("failed to index ticket %s: %w", ticketID, err)
		}
	}
	return nil
}

// PutLog idempotently upserts a full log record by primary key, replacing
// the multi-valued index rows. Unconditional counterpart of MergeLog;
// ingestion goes through CreateLogEntry.
func (r *Repository) PutLog(log *models.LogEntry) error {
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := insertLogTx(tx, log); err != nil {
		return err
	}
	return tx.Commit()
}

// MergeLog upserts a remote-origin record unless the stored record carries a
// strictly newer modification stamp than remoteStamp. The stamp check and the
// write run in one transaction, so a local edit or star toggle landing while
// a merge is in flight can never be overwritten by the older remote copy.
// It reports whether the write was applied and whether a record existed.
func (r *Repository) MergeLog(log *models.LogEntry, remoteStamp int64) (applied, existed bool, err error) {
	tx, err := r.db.Begin()
	if err != nil {
		return false, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var lastModified int64
	err = tx.QueryRow(`SELECT last_modified FROM logs WHERE id = ?`, log.ID).Scan(&lastModified)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		// First sight of this record; insert below.
	case err != nil:
		return false, false, fmt.Errorf("failed to read log stamp: %w", err)
	default:
		existed = true
		if lastModified > remoteStamp {
			return false, true, nil
		}
	}

	if err := insertLogTx(tx, log); err != nil {
		return false, existed, err
	}
	if err := tx.Commit(); err != nil {
		return false, existed, fmt.Errorf("failed to commit merge: %w", err)
	}
	return true, existed, nil
}

// GetLog retrieves a single log entry by id.
// Returns sql.ErrNoRows if the log is not found.
func (r *Repository) GetLog(id models.UUID) (*models.LogEntry, error) {
	row := r.db.QueryRow(`SELECT `+logColumns+` FROM logs WHERE id = ?`, id)
	log, err := scanLog(row)
	if err != nil {
		return nil, err
	}
	if err := r.loadTickets([]*models.LogEntry{log}); err != nil {
		return nil, err
	}
	return log, nil
}

// DeleteLog hard-deletes a log entry. The tag and ticket index rows cascade.
// Returns nil if the log doesn't exist (idempotent).
func (r *Repository) DeleteLog(id models.UUID) error {
	if _, err := r.db.Exec(`DELETE FROM logs WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete log %s: %w", id, err)
	}
	return nil
}

// ListLogs returns all logs for a user ordered by effective date, newest
// first. Entries sharing an identical backdated date have unspecified
// relative order.
func (r *Repository) ListLogs(userID string) ([]*models.LogEntry, error) {
	rows, err := r.db.Query(`SELECT `+logColumns+` FROM logs WHERE user_id = ? ORDER BY date_iso DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list logs: %w", err)
	}
	logs, err := collectLogs(rows)
	if err != nil {
		return nil, err
	}
	if err := r.loadTickets(logs); err != nil {
		return nil, err
	}
	return logs, nil
}

// RangeByUserAndDate returns logs with an effective date in [start, end]
// inclusive for the user, newest first.
func (r *Repository) RangeByUserAndDate(userID string, start, end time.Time) ([]*models.LogEntry, error) {
	rows, err := r.db.Query(`
	SELECT `+logColumns+` FROM logs
	WHERE user_id = ? AND date_iso >= ? AND date_iso <= ?
	ORDER BY date_iso DESC`, userID, formatDate(start), formatDate(end))
	if err != nil {
		return nil, fmt.Errorf("failed to query date range: %w", err)
	}
	logs, err := collectLogs(rows)
	if err != nil {
		return nil, err
	}
	if err := r.loadTickets(logs); err != nil {
		return nil, err
	}
	return logs, nil
}

// LogsByTag returns the user's logs carrying the exact tag label.
func (r *Repository) LogsByTag(userID, label string) ([]*models.LogEntry, error) {
	rows, err := r.db.Query(`
	SELECT `+logColumns+` FROM logs
	WHERE user_id = ? AND id IN (SELECT log_id FROM log_tags WHERE label = ?)
	ORDER BY date_iso DESC`, userID, label)
	if err != nil {
		return nil, fmt.Errorf("failed to query logs by tag: %w", err)
	}
	logs, err := collectLogs(rows)
	if err != nil {
		return nil, err
	}
	if err := r.loadTickets(logs); err != nil {
		return nil, err
	}
	return logs, nil
}

// LogsByTicket returns the user's logs linked to the ticket entity.
func (r *Repository) LogsByTicket(userID string, ticketID models.UUID) ([]*models.LogEntry, error) {
	rows, err := r.db.Query(`
	SELECT `+logColumns+` FROM logs
	WHERE user_id = ? AND id IN (SELECT log_id FROM log_tickets WHERE ticket_id = ?)
	ORDER BY date_iso DESC`, userID, ticketID)
	if err != nil {
		return nil, fmt.Errorf("failed to query logs by ticket: %w", err)
	}
	logs, err := collectLogs(rows)
	if err != nil {
		return nil, err
	}
	if err := r.loadTickets(logs); err != nil {
		return nil, err
	}
	return logs, nil
}

// UnsyncedLogs returns the user's logs that have not been pushed yet.
func (r *Repository) UnsyncedLogs(userID string) ([]*models.LogEntry, error) {
	rows, err := r.db.Query(`
	SELECT `+logColumns+` FROM logs
	WHERE user_id = ? AND is_synced = 0
	ORDER BY date_iso DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query unsynced logs: %w", err)
	}
	logs, err := collectLogs(rows)
	if err != nil {
		return nil, err
	}
	if err := r.loadTickets(logs); err != nil {
		return nil, err
	}
	return logs, nil
}

// MarkLogSynced flips the local sync flag for one log.
func (r *Repository) MarkLogSynced(id models.UUID, synced bool) error {
	result, err := r.db.Exec(`UPDATE logs SET is_synced = ? WHERE id = ?`, synced, id)
	if err != nil {
		return fmt.Errorf("failed to mark log synced: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// SetStarred toggles the star flag and touches the modification timestamp so
// the change is eligible for the next push.
func (r *Repository) SetStarred(id models.UUID, starred bool, now time.Time) error {
	result, err := r.db.Exec(`
	UPDATE logs SET is_starred = ?, is_synced = 0, last_modified = ? WHERE id = ?`,
		starred, now.UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("failed to set star: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// UpdateLogContent replaces an entry's content on edit-save. Tags and
// tickets stay fixed at their ingestion-time values; only the body, its
// plain-text snippet and the modification bookkeeping change.
func (r *Repository) UpdateLogContent(id models.UUID, content models.Content, now time.Time) error {
	result, err := r.db.Exec(`
	UPDATE logs SET content_format = ?, content_body = ?, plain_text_snippet = ?,
		is_synced = 0, last_modified = ?
	WHERE id = ?`,
		content.Format, string(content.Body), content.PlainTextSnippet,
		now.UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("failed to update log content: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}
