package db

import (
	"database/sql"
	"fmt"

	"github.com/klee/careerfly/internal/models"
	"github.com/klee/careerfly/internal/uuid"
)

func newID() string {
	return uuid.New()
}

// =====================================================
// Tag Operations
// =====================================================

const tagColumns = `id, user_id, label, normalized_label, category, usage_count, last_used, created_at`

func scanTag(row interface{ Scan(...interface{}) error }) (*models.Tag, error) {
	var tag models.Tag
	var createdAt string
	err := row.Scan(&tag.ID, &tag.UserID, &tag.Label, &tag.NormalizedLabel,
		&tag.Category, &tag.UsageCount, &tag.LastUsed, &createdAt)
	if err != nil {
		return nil, err
	}
	tag.CreatedAt = parseDate(createdAt)
	return &tag, nil
}

// GetTagByLabel looks up a tag by its unique (userID, label) key.
// Returns sql.ErrNoRows when the user never used the label.
func (r *Repository) GetTagByLabel(userID, label string) (*models.Tag, error) {
	row := r.db.QueryRow(`SELECT `+tagColumns+` FROM tags WHERE user_id = ? AND label = ?`, userID, label)
	return scanTag(row)
}

// TagsByUsage returns the user's tags ranked by usage count, highest first.
func (r *Repository) TagsByUsage(userID string) ([]*models.Tag, error) {
	rows, err := r.db.Query(`SELECT `+tagColumns+` FROM tags WHERE user_id = ? ORDER BY usage_count DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tags: %w", err)
	}
	defer rows.Close()

	var tags []*models.Tag
	for rows.Next() {
		tag, err := scanTag(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan tag: %w", err)
		}
		tags = append(tags, tag)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tags: %w", err)
	}
	return tags, nil
}

// =====================================================
// ExternalTicket Operations
// =====================================================

const ticketColumns = `id, user_id, ticket_key, ticket_system, url, first_worked_on, last_worked_on, total_log_count, status`

func scanTicket(row interface{ Scan(...interface{}) error }) (*models.ExternalTicket, error) {
	var ticket models.ExternalTicket
	var first, last string
	err := row.Scan(&ticket.ID, &ticket.UserID, &ticket.TicketKey, &ticket.TicketSystem,
		&ticket.URL, &first, &last, &ticket.TotalLogCount, &ticket.Status)
	if err != nil {
		return nil, err
	}
	ticket.FirstWorkedOn = parseDate(first)
	ticket.LastWorkedOn = parseDate(last)
	return &ticket, nil
}

// GetTicketByKey looks up a ticket by its unique (userID, ticketKey) key.
// Returns sql.ErrNoRows when the key was never mentioned.
func (r *Repository) GetTicketByKey(userID, ticketKey string) (*models.ExternalTicket, error) {
	row := r.db.QueryRow(`SELECT `+ticketColumns+` FROM external_tickets WHERE user_id = ? AND ticket_key = ?`, userID, ticketKey)
	return scanTicket(row)
}

// GetTicket retrieves a ticket entity by id.
func (r *Repository) GetTicket(id models.UUID) (*models.ExternalTicket, error) {
	row := r.db.QueryRow(`SELECT `+ticketColumns+` FROM external_tickets WHERE id = ?`, id)
	return scanTicket(row)
}

// ActiveTickets returns the user's active tickets, most recently worked
// first.
func (r *Repository) ActiveTickets(userID string) ([]*models.ExternalTicket, error) {
	rows, err := r.db.Query(`
	SELECT `+ticketColumns+` FROM external_tickets
	WHERE user_id = ? AND status = ?
	ORDER BY last_worked_on DESC`, userID, models.TicketStatusActive)
	if err != nil {
		return nil, fmt.Errorf("failed to list active tickets: %w", err)
	}
	defer rows.Close()

	var tickets []*models.ExternalTicket
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ticket: %w", err)
		}
		tickets = append(tickets, ticket)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tickets: %w", err)
	}
	return tickets, nil
}

// SetTicketStatus updates a ticket's lifecycle status.
func (r *Repository) SetTicketStatus(id models.UUID, status string) error {
	result, err := r.db.Exec(`UPDATE external_tickets SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("failed to set ticket status: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// =====================================================
// CareerGoal Operations
// =====================================================

const goalColumns = `id, user_id, title, description, status, target_date, linked_log_ids, created_at`

// CreateGoal inserts a new career goal, generating its id.
func (r *Repository) CreateGoal(goal *models.CareerGoal) error {
	if goal.ID == "" {
		goal.ID = models.UUID(newID())
	}
	if goal.Status == "" {
		goal.Status = models.GoalStatusActive
	}
	_, err := r.db.Exec(`
	INSERT INTO career_goals (`+goalColumns+`)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		goal.ID, goal.UserID, goal.Title, goal.Description, goal.Status,
		goal.TargetDate, marshalUUIDs(goal.LinkedLogIDs), formatDate(goal.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to create goal: %w", err)
	}
	return nil
}

// ListGoals returns all goals for a user, newest first.
func (r *Repository) ListGoals(userID string) ([]*models.CareerGoal, error) {
	rows, err := r.db.Query(`SELECT `+goalColumns+` FROM career_goals WHERE user_id = ? ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list goals: %w", err)
	}
	defer rows.Close()

	var goals []*models.CareerGoal
	for rows.Next() {
		var goal models.CareerGoal
		var linked, createdAt string
		err := rows.Scan(&goal.ID, &goal.UserID, &goal.Title, &goal.Description,
			&goal.Status, &goal.TargetDate, &linked, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan goal: %w", err)
		}
		goal.LinkedLogIDs = unmarshalUUIDs(linked)
		goal.CreatedAt = parseDate(createdAt)
		goals = append(goals, &goal)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating goals: %w", err)
	}
	return goals, nil
}

// SetGoalStatus toggles a goal between active and completed.
func (r *Repository) SetGoalStatus(id models.UUID, status string) error {
	result, err := r.db.Exec(`UPDATE career_goals SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("failed to set goal status: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// DeleteGoal removes a goal. Idempotent.
func (r *Repository) DeleteGoal(id models.UUID) error {
	if _, err := r.db.Exec(`DELETE FROM career_goals WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete goal: %w", err)
	}
	return nil
}

// =====================================================
// Template Operations
// =====================================================

// CreateTemplate saves a document fragment as a named template.
func (r *Repository) CreateTemplate(tpl *models.Template) error {
	if tpl.ID == "" {
		tpl.ID = models.UUID(newID())
	}
	_, err := r.db.Exec(`
	INSERT INTO templates (id, user_id, name, body, created_at)
	VALUES (?, ?, ?, ?, ?)`,
		tpl.ID, tpl.UserID, tpl.Name, string(tpl.Body), formatDate(tpl.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to create template: %w", err)
	}
	return nil
}

// ListTemplates returns the user's templates, newest first.
func (r *Repository) ListTemplates(userID string) ([]*models.Template, error) {
	rows, err := r.db.Query(`SELECT id, user_id, name, body, created_at FROM templates WHERE user_id = ? ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	defer rows.Close()

	var templates []*models.Template
	for rows.Next() {
		var tpl models.Template
		var body, createdAt string
		if err := rows.Scan(&tpl.ID, &tpl.UserID, &tpl.Name, &body, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan template: %w", err)
		}
		tpl.Body = []byte(body)
		tpl.CreatedAt = parseDate(createdAt)
		templates = append(templates, &tpl)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating templates: %w", err)
	}
	return templates, nil
}

// DeleteTemplate removes a template. Idempotent.
func (r *Repository) DeleteTemplate(id models.UUID) error {
	if _, err := r.db.Exec(`DELETE FROM templates WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete template: %w", err)
	}
	return nil
}

// =====================================================
// Destructive Reset
// =====================================================

// WipeAll irreversibly deletes every record of every collection in one
// transaction. Already-synced remote data is not touched. The schema and
// migration history survive so the store stays usable afterwards.
func (r *Repository) WipeAll() error {
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin wipe: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"log_tags", "log_tickets", "logs", "tags", "external_tickets", "career_goals", "templates"} {
		if _, err := tx.Exec("DELETE FROM " + table); err != nil {
			return fmt.Errorf("failed to wipe %s: %w", table, err)
		}
	}
	return tx.Commit()
}
