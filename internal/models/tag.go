package models

import (
	"strings"
	"time"
)

// Tag is a distinct, user-scoped vocabulary entry derived from #labels.
// Uniqueness is (UserID, Label); tags are created lazily on first use and
// never deleted automatically.
type Tag struct {
	ID              UUID      `json:"id"`
	UserID          string    `json:"userId"`
	Label           string    `json:"label"`
	NormalizedLabel string    `json:"normalizedLabel"`
	Category        string    `json:"category"`
	UsageCount      int64     `json:"usageCount"`
	LastUsed        int64     `json:"lastUsed"` // unix milliseconds
	CreatedAt       time.Time `json:"createdAt"`
}

// DefaultTagCategory is assigned to tags created by extraction.
const DefaultTagCategory = "skill"

// NormalizeLabel lowercases a tag label for case-insensitive grouping.
func NormalizeLabel(label string) string {
	return strings.ToLower(label)
}
