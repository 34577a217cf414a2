package storage

import (
	"errors"
	"time"
)

var ErrNotFound = errors.New("record not found")

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file (durable, default)
//   - "memory": process-local maps (tests, throwaway runs)
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Task kinds. A workflow is a scheduled task whose payload names a
// workflow action instead of a literal reminder message.
const (
	KindReminder = "reminder"
	KindWorkflow = "workflow"
)

// Task is a due-time-triggered, possibly recurring action.
//
// Interval == 0 means one-shot. A fired one-shot is deactivated, not
// deleted, so it stays queryable until an explicit delete or sweep.
type Task struct {
	ID        string
	OwnerID   int64
	Kind      string
	Payload   string
	DueAt     time.Time
	Interval  time.Duration
	Active    bool
	FailCount int
	CreatedAt time.Time
}

// Watch is a monitored web resource. Fingerprint is empty until the first
// successful fetch establishes a baseline. Content holds the normalized
// text of the last fetch so change summaries can diff old against new.
type Watch struct {
	ID          string
	OwnerID     int64
	URL         string
	Fingerprint string
	Content     string
	LastChecked time.Time
	Active      bool
	CreatedAt   time.Time
}

type Note struct {
	ID        int64
	OwnerID   int64
	Content   string
	Tags      string
	CreatedAt time.Time
}

// ChatTurn is one exchange half in the rolling conversation memory.
type ChatTurn struct {
	Role    string // "user" or "assistant"
	Content string
	At      time.Time
}

// TaskQuery filters ListTasks. Zero fields are ignored.
type TaskQuery struct {
	OwnerID    int64
	Kind       string
	ActiveOnly bool
	TextLike   string
	From       time.Time
	To         time.Time
	Limit      int
}
