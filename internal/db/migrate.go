// Package db provides database schema migration management.
package db

import (
	"database/sql"
	"fmt"
	"time"
)

// migration is one additive schema step. Versions are applied in order and
// recorded in schema_migrations; existing records are never rewritten.
type migration struct {
	Version     int
	Description string
	SQL         string
}

// Schema history. V1 mirrors the original store layout (logs, tags,
// external tickets, goals); V2 adds templates. New collections or indexes
// get a new version, never an edit to an applied one.
var migrations = []migration{
	{
		Version:     1,
		Description: "base_schema",
		SQL: `
		CREATE TABLE IF NOT EXISTS logs (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			date_iso TEXT NOT NULL,
			content_format TEXT NOT NULL DEFAULT 'tiptap-json',
			content_body TEXT NOT NULL DEFAULT '{}',
			plain_text_snippet TEXT NOT NULL DEFAULT '',
			impact TEXT NOT NULL DEFAULT 'medium',
			is_major_win INTEGER NOT NULL DEFAULT 0,
			is_starred INTEGER NOT NULL DEFAULT 0,
			performance_categories TEXT NOT NULL DEFAULT '[]',
			tags TEXT NOT NULL DEFAULT '[]',
			is_synced INTEGER NOT NULL DEFAULT 0,
			last_modified INTEGER NOT NULL,
			created_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_logs_date ON logs(date_iso);
		CREATE INDEX IF NOT EXISTS idx_logs_user_date ON logs(user_id, date_iso);
		CREATE INDEX IF NOT EXISTS idx_logs_synced ON logs(is_synced);

		-- Multi-valued indexes: one row per (log, tag) and (log, ticket).
		-- Cascades keep them consistent with hard deletes of logs.
		CREATE TABLE IF NOT EXISTS log_tags (
			log_id TEXT NOT NULL REFERENCES logs(id) ON DELETE CASCADE,
			label TEXT NOT NULL,
			PRIMARY KEY (log_id, label)
		);
		CREATE INDEX IF NOT EXISTS idx_log_tags_label ON log_tags(label);

		CREATE TABLE IF NOT EXISTS log_tickets (
			log_id TEXT NOT NULL REFERENCES logs(id) ON DELETE CASCADE,
			ticket_id TEXT NOT NULL,
			PRIMARY KEY (log_id, ticket_id)
		);
		CREATE INDEX IF NOT EXISTS idx_log_tickets_ticket ON log_tickets(ticket_id);

		CREATE TABLE IF NOT EXISTS tags (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			label TEXT NOT NULL,
			normalized_label TEXT NOT NULL,
			category TEXT NOT NULL DEFAULT 'skill',
			usage_count INTEGER NOT NULL DEFAULT 0,
			last_used INTEGER NOT NULL,
			created_at TEXT NOT NULL,
			UNIQUE (user_id, label)
		);
		CREATE INDEX IF NOT EXISTS idx_tags_usage ON tags(usage_count);

		CREATE TABLE IF NOT EXISTS external_tickets (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			ticket_key TEXT NOT NULL,
			ticket_system TEXT NOT NULL DEFAULT 'unknown',
			url TEXT NOT NULL DEFAULT '',
			first_worked_on TEXT NOT NULL,
			last_worked_on TEXT NOT NULL,
			total_log_count INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL DEFAULT 'active',
			UNIQUE (user_id, ticket_key)
		);
		CREATE INDEX IF NOT EXISTS idx_tickets_last_worked ON external_tickets(last_worked_on);

		CREATE TABLE IF NOT EXISTS career_goals (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			title TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'active',
			target_date TEXT NOT NULL DEFAULT '',
			linked_log_ids TEXT NOT NULL DEFAULT '[]',
			created_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_goals_user ON career_goals(user_id);
		CREATE INDEX IF NOT EXISTS idx_goals_status ON career_goals(status);
		`,
	},
	{
		Version:     2,
		Description: "templates",
		SQL: `
		CREATE TABLE IF NOT EXISTS templates (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			name TEXT NOT NULL,
			body TEXT NOT NULL DEFAULT '{}',
			created_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_templates_user ON templates(user_id);
		`,
	},
}

// Migrator applies the embedded schema history.
type Migrator struct {
	db *sql.DB
}

// NewMigrator creates a new Migrator instance.
func NewMigrator(db *sql.DB) *Migrator {
	return &Migrator{db: db}
}

// Initialize creates the schema_migrations table if it doesn't exist.
func (m *Migrator) Initialize() error {
	query := `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY CHECK(version > 0),
		applied_at INTEGER NOT NULL CHECK(applied_at > 0),
		description TEXT NOT NULL CHECK(length(description) > 0)
	);`
	_, err := m.db.Exec(query)
	return err
}

// CurrentVersion returns the current schema version.
func (m *Migrator) CurrentVersion() (int, error) {
	var version int
	err := m.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	return version, err
}

// Up applies all pending migrations. Idempotent.
func (m *Migrator) Up() error {
	if err := m.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize migrations table: %w", err)
	}

	current, err := m.CurrentVersion()
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	for _, mig := range migrations {
		if mig.Version <= current {
			continue
		}
		if err := m.apply(mig); err != nil {
			return fmt.Errorf("failed to apply migration V%d (%s): %w", mig.Version, mig.Description, err)
		}
	}
	return nil
}

// apply runs a single migration inside a transaction.
func (m *Migrator) apply(mig migration) error {
	tx, err := m.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(mig.SQL); err != nil {
		return fmt.Errorf("failed to execute migration SQL: %w", err)
	}

	query := `INSERT INTO schema_migrations (version, applied_at, description) VALUES (?, ?, ?)`
	if _, err := tx.Exec(query, mig.Version, time.Now().Unix(), mig.Description); err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}

	return tx.Commit()
}
