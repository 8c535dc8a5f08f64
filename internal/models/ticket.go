package models

import "time"

// Ticket status values.
const (
	TicketStatusActive = "active"
	TicketStatusClosed = "closed"
)

// ExternalTicket tracks a work-item key (e.g. "PROJ-123") mentioned across
// entries. Uniqueness is (UserID, TicketKey).
//
// FirstWorkedOn is set once at creation and never changes; LastWorkedOn and
// TotalLogCount advance on every referencing ingestion. TotalLogCount equals
// the number of ingestion events that referenced the key for this user.
type ExternalTicket struct {
	ID            UUID      `json:"id"`
	UserID        string    `json:"userId"`
	TicketKey     string    `json:"ticketKey"`
	TicketSystem  string    `json:"ticketSystem"`
	URL           string    `json:"url"`
	FirstWorkedOn time.Time `json:"firstWorkedOn"`
	LastWorkedOn  time.Time `json:"lastWorkedOn"`
	TotalLogCount int64     `json:"totalLogCount"`
	Status        string    `json:"status"`
}
