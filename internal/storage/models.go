package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested item, job or row does not exist.
var ErrNotFound = errors.New("not found")

// Named items persisted in the items table.
const (
	KeyTimelineEntries = "timelineEntries"
	KeyHistoryClasses  = "historyClasses"
	KeyAISummaries     = "ai_summaries"
	KeyAccessKey       = "historianAccessKey"
	KeyAIFingerprint   = "ai_fingerprint"
)

type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}

// Generation is one logged call to the text-generation endpoint.
type Generation struct {
	ID         string    `json:"id"`
	RecordID   string    `json:"record_id"`
	Kind       string    `json:"kind"`
	Intent     string    `json:"intent"`
	Model      string    `json:"model"`
	Status     string    `json:"status"` // "succeeded" or "failed"
	Error      string    `json:"error,omitempty"`
	DurationMs int64     `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
}
