package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// memoryStore keeps everything in maps behind one mutex. It backs tests
// and throwaway runs; durability comes from the sqlite driver.
type memoryStore struct {
	mu      sync.Mutex
	tasks   map[string]Task
	watches map[string]Watch
	notes   []Note
	noteSeq int64
	history map[int64][]ChatTurn
}

// NewMemory returns an empty in-memory store.
func NewMemory() Store {
	return &memoryStore{
		tasks:   map[string]Task{},
		watches: map[string]Watch{},
		history: map[int64][]ChatTurn{},
	}
}

func (s *memoryStore) Close() error { return nil }

// ---- tasks ----

func (s *memoryStore) PutTask(ctx context.Context, t Task) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	s.mu.Lock()
	s.tasks[t.ID] = t
	s.mu.Unlock()
	return nil
}

func (s *memoryStore) GetTask(ctx context.Context, id string) (Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return Task{}, ErrNotFound
	}
	return t, nil
}

func (s *memoryStore) DueTasks(ctx context.Context, now time.Time) ([]Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Task
	for _, t := range s.tasks {
		if t.Active && !t.DueAt.After(now) {
			out = append(out, t)
		}
	}
	sortTasks(out)
	return out, nil
}

func (s *memoryStore) ListTasks(ctx context.Context, q TaskQuery) ([]Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Task
	for _, t := range s.tasks {
		if q.OwnerID != 0 && t.OwnerID != q.OwnerID {
			continue
		}
		if q.Kind != "" && t.Kind != q.Kind {
			continue
		}
		if q.ActiveOnly && !t.Active {
			continue
		}
		if q.TextLike != "" && !strings.Contains(strings.ToLower(t.Payload), strings.ToLower(q.TextLike)) {
			continue
		}
		if !q.From.IsZero() && t.DueAt.Before(q.From) {
			continue
		}
		if !q.To.IsZero() && t.DueAt.After(q.To) {
			continue
		}
		out = append(out, t)
	}
	sortTasks(out)
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (s *memoryStore) RescheduleTask(ctx context.Context, id string, dueAt time.Time) error {
	return s.mutateTask(id, func(t *Task) bool {
		if !t.Active {
			return false
		}
		t.DueAt = dueAt
		t.FailCount = 0
		return true
	})
}

func (s *memoryStore) CompleteTask(ctx context.Context, id string) error {
	return s.mutateTask(id, func(t *Task) bool {
		t.Active = false
		t.FailCount = 0
		return true
	})
}

func (s *memoryStore) CancelTask(ctx context.Context, id string) error {
	return s.mutateTask(id, func(t *Task) bool {
		t.Active = false
		return true
	})
}

func (s *memoryStore) SetTaskFailures(ctx context.Context, id string, n int) error {
	return s.mutateTask(id, func(t *Task) bool {
		t.FailCount = n
		return true
	})
}

func (s *memoryStore) DeleteTask(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[id]; !ok {
		return ErrNotFound
	}
	delete(s.tasks, id)
	return nil
}

func (s *memoryStore) CancelTasks(ctx context.Context, owner int64, kind string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, t := range s.tasks {
		if !t.Active || t.OwnerID != owner {
			continue
		}
		if kind != "" && t.Kind != kind {
			continue
		}
		t.Active = false
		s.tasks[id] = t
		n++
	}
	return n, nil
}

func (s *memoryStore) mutateTask(id string, fn func(*Task) bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return ErrNotFound
	}
	if !fn(&t) {
		return ErrNotFound
	}
	s.tasks[id] = t
	return nil
}

// ---- watches ----

func (s *memoryStore) PutWatch(ctx context.Context, w Watch) error {
	if w.CreatedAt.IsZero() {
		w.CreatedAt = time.Now()
	}
	s.mu.Lock()
	s.watches[w.ID] = w
	s.mu.Unlock()
	return nil
}

func (s *memoryStore) ListWatches(ctx context.Context, activeOnly bool) ([]Watch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Watch
	for _, w := range s.watches {
		if activeOnly && !w.Active {
			continue
		}
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *memoryStore) UpdateWatchResult(ctx context.Context, id, fingerprint, content string, checkedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.watches[id]
	if !ok {
		return ErrNotFound
	}
	w.Fingerprint = fingerprint
	w.Content = content
	w.LastChecked = checkedAt
	s.watches[id] = w
	return nil
}

func (s *memoryStore) TouchWatch(ctx context.Context, id string, checkedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.watches[id]
	if !ok {
		return ErrNotFound
	}
	w.LastChecked = checkedAt
	s.watches[id] = w
	return nil
}

func (s *memoryStore) DeleteWatchByURL(ctx context.Context, owner int64, url string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, w := range s.watches {
		if w.OwnerID == owner && w.URL == url {
			delete(s.watches, id)
			n++
		}
	}
	return n, nil
}

// ---- notes ----

func (s *memoryStore) AddNote(ctx context.Context, n Note) error {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	s.mu.Lock()
	s.noteSeq++
	n.ID = s.noteSeq
	s.notes = append(s.notes, n)
	s.mu.Unlock()
	return nil
}

func (s *memoryStore) ListNotes(ctx context.Context, owner int64, limit int) ([]Note, error) {
	if limit <= 0 {
		limit = 10
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Note
	for i := len(s.notes) - 1; i >= 0 && len(out) < limit; i-- {
		if s.notes[i].OwnerID == owner {
			out = append(out, s.notes[i])
		}
	}
	return out, nil
}

// ---- conversation memory ----

func (s *memoryStore) AppendHistory(ctx context.Context, owner int64, role, content string) error {
	s.mu.Lock()
	s.history[owner] = append(s.history[owner], ChatTurn{Role: role, Content: content, At: time.Now()})
	s.mu.Unlock()
	return nil
}

func (s *memoryStore) RecentHistory(ctx context.Context, owner int64, limit int) ([]ChatTurn, error) {
	if limit <= 0 {
		limit = 10
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.history[owner]
	if len(h) > limit {
		h = h[len(h)-limit:]
	}
	return append([]ChatTurn(nil), h...), nil
}

func (s *memoryStore) ClearHistory(ctx context.Context, owner int64) error {
	s.mu.Lock()
	delete(s.history, owner)
	s.mu.Unlock()
	return nil
}

func sortTasks(ts []Task) {
	sort.Slice(ts, func(i, j int) bool {
		if !ts[i].DueAt.Equal(ts[j].DueAt) {
			return ts[i].DueAt.Before(ts[j].DueAt)
		}
		return ts[i].ID < ts[j].ID
	})
}
