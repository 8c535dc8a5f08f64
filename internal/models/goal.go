package models

import "time"

// CareerGoal status values.
const (
	GoalStatusActive    = "active"
	GoalStatusCompleted = "completed"
)

// CareerGoal is a user-defined objective. Goals are created, toggled and
// deleted by direct user action only; nothing is derived into them.
type CareerGoal struct {
	ID           UUID      `json:"id"`
	UserID       string    `json:"userId"`
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	Status       string    `json:"status"`
	TargetDate   string    `json:"targetDate"` // YYYY-MM-DD, empty when unset
	LinkedLogIDs []UUID    `json:"linkedLogIds"`
	CreatedAt    time.Time `json:"createdAt"`
}
