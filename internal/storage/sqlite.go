package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"aide/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	s := &sqliteStore{db: db, log: log}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage migrate: %w", err)
	}
	return s, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ---- tasks ----

func (s *sqliteStore) PutTask(ctx context.Context, t Task) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks(id, owner_id, kind, payload, due_at, interval_ms, active, fail_count, created_at)
		 VALUES(?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
		   payload=excluded.payload, due_at=excluded.due_at,
		   interval_ms=excluded.interval_ms, active=excluded.active`,
		t.ID, t.OwnerID, t.Kind, t.Payload,
		t.DueAt.UnixMilli(), t.Interval.Milliseconds(), boolInt(t.Active), t.FailCount,
		t.CreatedAt.UnixMilli(),
	)
	return err
}

func (s *sqliteStore) GetTask(ctx context.Context, id string) (Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, owner_id, kind, payload, due_at, interval_ms, active, fail_count, created_at
		 FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Task{}, ErrNotFound
	}
	return t, err
}

func (s *sqliteStore) DueTasks(ctx context.Context, now time.Time) ([]Task, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, owner_id, kind, payload, due_at, interval_ms, active, fail_count, created_at
		 FROM tasks WHERE active = 1 AND due_at <= ? ORDER BY due_at ASC, id ASC`,
		now.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTasks(rows)
}

func (s *sqliteStore) ListTasks(ctx context.Context, q TaskQuery) ([]Task, error) {
	sb := strings.Builder{}
	sb.WriteString(`SELECT id, owner_id, kind, payload, due_at, interval_ms, active, fail_count, created_at FROM tasks WHERE 1=1`)
	args := []any{}
	if q.OwnerID != 0 {
		sb.WriteString(" AND owner_id = ?")
		args = append(args, q.OwnerID)
	}
	if q.Kind != "" {
		sb.WriteString(" AND kind = ?")
		args = append(args, q.Kind)
	}
	if q.ActiveOnly {
		sb.WriteString(" AND active = 1")
	}
	if q.TextLike != "" {
		sb.WriteString(" AND payload LIKE ?")
		args = append(args, "%"+q.TextLike+"%")
	}
	if !q.From.IsZero() {
		sb.WriteString(" AND due_at >= ?")
		args = append(args, q.From.UnixMilli())
	}
	if !q.To.IsZero() {
		sb.WriteString(" AND due_at <= ?")
		args = append(args, q.To.UnixMilli())
	}
	sb.WriteString(" ORDER BY due_at ASC, id ASC")
	if q.Limit > 0 {
		sb.WriteString(" LIMIT ?")
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTasks(rows)
}

func (s *sqliteStore) RescheduleTask(ctx context.Context, id string, dueAt time.Time) error {
	return s.execOne(ctx,
		`UPDATE tasks SET due_at = ?, fail_count = 0 WHERE id = ? AND active = 1`,
		dueAt.UnixMilli(), id)
}

func (s *sqliteStore) CompleteTask(ctx context.Context, id string) error {
	return s.execOne(ctx, `UPDATE tasks SET active = 0, fail_count = 0 WHERE id = ?`, id)
}

func (s *sqliteStore) CancelTask(ctx context.Context, id string) error {
	return s.execOne(ctx, `UPDATE tasks SET active = 0 WHERE id = ?`, id)
}

func (s *sqliteStore) SetTaskFailures(ctx context.Context, id string, n int) error {
	return s.execOne(ctx, `UPDATE tasks SET fail_count = ? WHERE id = ?`, n, id)
}

func (s *sqliteStore) DeleteTask(ctx context.Context, id string) error {
	return s.execOne(ctx, `DELETE FROM tasks WHERE id = ?`, id)
}

func (s *sqliteStore) CancelTasks(ctx context.Context, owner int64, kind string) (int, error) {
	q := `UPDATE tasks SET active = 0 WHERE active = 1 AND owner_id = ?`
	args := []any{owner}
	if kind != "" {
		q += ` AND kind = ?`
		args = append(args, kind)
	}
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// ---- watches ----

func (s *sqliteStore) PutWatch(ctx context.Context, w Watch) error {
	if w.CreatedAt.IsZero() {
		w.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO watches(id, owner_id, url, fingerprint, last_content, last_checked, active, created_at)
		 VALUES(?,?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET url=excluded.url, active=excluded.active`,
		w.ID, w.OwnerID, w.URL, w.Fingerprint, w.Content, unixMilliOrZero(w.LastChecked), boolInt(w.Active),
		w.CreatedAt.UnixMilli(),
	)
	return err
}

func (s *sqliteStore) ListWatches(ctx context.Context, activeOnly bool) ([]Watch, error) {
	q := `SELECT id, owner_id, url, fingerprint, last_content, last_checked, active, created_at FROM watches`
	if activeOnly {
		q += ` WHERE active = 1`
	}
	q += ` ORDER BY created_at ASC, id ASC`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Watch
	for rows.Next() {
		var w Watch
		var checked, created int64
		var active int
		if err := rows.Scan(&w.ID, &w.OwnerID, &w.URL, &w.Fingerprint, &w.Content, &checked, &active, &created); err != nil {
			return nil, err
		}
		if checked > 0 {
			w.LastChecked = time.UnixMilli(checked)
		}
		w.Active = active != 0
		w.CreatedAt = time.UnixMilli(created)
		out = append(out, w)
	}
	return out, rows.Err()
}

func (s *sqliteStore) UpdateWatchResult(ctx context.Context, id, fingerprint, content string, checkedAt time.Time) error {
	return s.execOne(ctx,
		`UPDATE watches SET fingerprint = ?, last_content = ?, last_checked = ? WHERE id = ?`,
		fingerprint, content, checkedAt.UnixMilli(), id)
}

func (s *sqliteStore) TouchWatch(ctx context.Context, id string, checkedAt time.Time) error {
	return s.execOne(ctx, `UPDATE watches SET last_checked = ? WHERE id = ?`, checkedAt.UnixMilli(), id)
}

func (s *sqliteStore) DeleteWatchByURL(ctx context.Context, owner int64, url string) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM watches WHERE owner_id = ? AND url = ?`, owner, url)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// ---- notes ----

func (s *sqliteStore) AddNote(ctx context.Context, n Note) error {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO notes(owner_id, content, tags, created_at) VALUES(?,?,?,?)`,
		n.OwnerID, n.Content, n.Tags, n.CreatedAt.UnixMilli())
	return err
}

func (s *sqliteStore) ListNotes(ctx context.Context, owner int64, limit int) ([]Note, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, owner_id, content, tags, created_at FROM notes
		 WHERE owner_id = ? ORDER BY id DESC LIMIT ?`, owner, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Note
	for rows.Next() {
		var n Note
		var created int64
		if err := rows.Scan(&n.ID, &n.OwnerID, &n.Content, &n.Tags, &created); err != nil {
			return nil, err
		}
		n.CreatedAt = time.UnixMilli(created)
		out = append(out, n)
	}
	return out, rows.Err()
}

// ---- conversation memory ----

func (s *sqliteStore) AppendHistory(ctx context.Context, owner int64, role, content string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_history(owner_id, role, content, at) VALUES(?,?,?,?)`,
		owner, role, content, time.Now().UnixMilli())
	return err
}

func (s *sqliteStore) RecentHistory(ctx context.Context, owner int64, limit int) ([]ChatTurn, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT role, content, at FROM chat_history
		 WHERE owner_id = ? ORDER BY id DESC LIMIT ?`, owner, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ChatTurn
	for rows.Next() {
		var t ChatTurn
		var at int64
		if err := rows.Scan(&t.Role, &t.Content, &at); err != nil {
			return nil, err
		}
		t.At = time.UnixMilli(at)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// Return in chronological order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *sqliteStore) ClearHistory(ctx context.Context, owner int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM chat_history WHERE owner_id = ?`, owner)
	return err
}

// ---- helpers ----

func (s *sqliteStore) execOne(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(r rowScanner) (Task, error) {
	var t Task
	var due, intervalMS, created int64
	var active int
	err := r.Scan(&t.ID, &t.OwnerID, &t.Kind, &t.Payload, &due, &intervalMS, &active, &t.FailCount, &created)
	if err != nil {
		return Task{}, err
	}
	t.DueAt = time.UnixMilli(due)
	t.Interval = time.Duration(intervalMS) * time.Millisecond
	t.Active = active != 0
	t.CreatedAt = time.UnixMilli(created)
	return t, nil
}

func collectTasks(rows *sql.Rows) ([]Task, error) {
	var out []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func unixMilliOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}
