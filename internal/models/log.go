package models

import (
	"encoding/json"
	"time"
)

// Impact classifies how significant a log entry was.
type Impact string

const (
	ImpactLow    Impact = "low"
	ImpactMedium Impact = "medium"
	ImpactHigh   Impact = "high"
)

// Content formats understood by the rich-text projection layer.
const (
	FormatTiptapJSON = "tiptap-json"
	FormatMarkdown   = "markdown"
)

// Content holds the entry body and its plain-text projection.
// Body is owned by the external editor; the core treats it as an opaque
// serializable blob and only ever derives plain text or emptiness from it.
type Content struct {
	Format           string          `json:"format"`
	Body             json.RawMessage `json:"body"`
	PlainTextSnippet string          `json:"plainTextSnippet"`
}

// Metadata carries the self-review classification of an entry.
type Metadata struct {
	Impact                Impact   `json:"impact"`
	IsMajorWin            bool     `json:"isMajorWin"`
	IsStarred             bool     `json:"isStarred"`
	PerformanceCategories []string `json:"performanceCategories"`
}

// SyncState is local-only bookkeeping; it is never pushed to the remote
// collection verbatim. LastModified is unix milliseconds.
type SyncState struct {
	IsSynced     bool  `json:"isSynced"`
	LastModified int64 `json:"lastModified"`
}

// LogEntry is one journal entry.
//
// Tags and ExternalTickets are fixed at ingestion time; editing the content
// later does not re-run extraction.
type LogEntry struct {
	ID              UUID      `json:"id"`
	UserID          string    `json:"userId"`
	DateISO         time.Time `json:"dateIso"`
	Content         Content   `json:"content"`
	Tags            []string  `json:"tags"`
	ExternalTickets []UUID    `json:"externalTickets"`
	Metadata        Metadata  `json:"metadata"`
	SyncState       SyncState `json:"syncState"`
	CreatedAt       time.Time `json:"createdAt"`
}

// Touch refreshes the local-modification timestamp and marks the entry as
// needing a push.
func (l *LogEntry) Touch(now time.Time) {
	l.SyncState.LastModified = now.UnixMilli()
	l.SyncState.IsSynced = false
}
