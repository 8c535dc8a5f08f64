package models

import (
	"encoding/json"
	"time"
)

// Template is a named, reusable document fragment a user can insert into a
// new entry. Created by an explicit "save selection as template" action and
// deleted by explicit action only.
type Template struct {
	ID        UUID            `json:"id"`
	UserID    string          `json:"userId"`
	Name      string          `json:"name"`
	Body      json.RawMessage `json:"body"`
	CreatedAt time.Time       `json:"createdAt"`
}
