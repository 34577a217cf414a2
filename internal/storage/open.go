package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"aide/pkg/logx"
)

// Store is the persistence API shared by the dispatcher, the engines and
// the skills. Implementations serialize conflicting writes to the same
// record; callers never hold locks across Store calls.
type Store interface {
	// Scheduled tasks.
	PutTask(ctx context.Context, t Task) error
	GetTask(ctx context.Context, id string) (Task, error)
	DueTasks(ctx context.Context, now time.Time) ([]Task, error)
	ListTasks(ctx context.Context, q TaskQuery) ([]Task, error)
	RescheduleTask(ctx context.Context, id string, dueAt time.Time) error
	CompleteTask(ctx context.Context, id string) error
	CancelTask(ctx context.Context, id string) error
	SetTaskFailures(ctx context.Context, id string, n int) error
	DeleteTask(ctx context.Context, id string) error
	CancelTasks(ctx context.Context, owner int64, kind string) (int, error)

	// Monitored resources.
	PutWatch(ctx context.Context, w Watch) error
	ListWatches(ctx context.Context, activeOnly bool) ([]Watch, error)
	UpdateWatchResult(ctx context.Context, id, fingerprint, content string, checkedAt time.Time) error
	TouchWatch(ctx context.Context, id string, checkedAt time.Time) error
	DeleteWatchByURL(ctx context.Context, owner int64, url string) (int, error)

	// Notes.
	AddNote(ctx context.Context, n Note) error
	ListNotes(ctx context.Context, owner int64, limit int) ([]Note, error)

	// Conversation memory.
	AppendHistory(ctx context.Context, owner int64, role, content string) error
	RecentHistory(ctx context.Context, owner int64, limit int) ([]ChatTurn, error)
	ClearHistory(ctx context.Context, owner int64) error

	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, errors.New("unknown storage driver: " + cfg.Driver)
	}
}
