package storage

import (
	"context"
	"errors"
	"testing"
	"time"
)

func mustPut(t *testing.T, s Store, task Task) {
	t.Helper()
	if err := s.PutTask(context.Background(), task); err != nil {
		t.Fatalf("PutTask(%s): %v", task.ID, err)
	}
}

func TestDueTasksOrdering(t *testing.T) {
	t.Parallel()
	s := NewMemory()
	now := time.Now()

	mustPut(t, s, Task{ID: "b", OwnerID: 1, Kind: KindReminder, DueAt: now.Add(-time.Minute), Active: true})
	mustPut(t, s, Task{ID: "a", OwnerID: 1, Kind: KindReminder, DueAt: now.Add(-time.Minute), Active: true})
	mustPut(t, s, Task{ID: "c", OwnerID: 1, Kind: KindReminder, DueAt: now.Add(-time.Hour), Active: true})
	mustPut(t, s, Task{ID: "future", OwnerID: 1, Kind: KindReminder, DueAt: now.Add(time.Hour), Active: true})
	mustPut(t, s, Task{ID: "inactive", OwnerID: 1, Kind: KindReminder, DueAt: now.Add(-time.Hour), Active: false})

	due, err := s.DueTasks(context.Background(), now)
	if err != nil {
		t.Fatalf("DueTasks: %v", err)
	}
	got := make([]string, 0, len(due))
	for _, d := range due {
		got = append(got, d.ID)
	}
	want := []string{"c", "a", "b"}
	if len(got) != len(want) {
		t.Fatalf("due = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("due = %v, want %v", got, want)
		}
	}
}

func TestRescheduleOnlyActive(t *testing.T) {
	t.Parallel()
	s := NewMemory()
	ctx := context.Background()
	now := time.Now()

	mustPut(t, s, Task{ID: "t1", OwnerID: 1, Kind: KindReminder, DueAt: now, Active: true, FailCount: 2})
	if err := s.RescheduleTask(ctx, "t1", now.Add(time.Hour)); err != nil {
		t.Fatalf("RescheduleTask active: %v", err)
	}
	got, err := s.GetTask(ctx, "t1")
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if !got.DueAt.Equal(now.Add(time.Hour)) {
		t.Fatalf("DueAt = %v, want %v", got.DueAt, now.Add(time.Hour))
	}
	if got.FailCount != 0 {
		t.Fatalf("FailCount = %d, want 0 after reschedule", got.FailCount)
	}

	if err := s.CancelTask(ctx, "t1"); err != nil {
		t.Fatalf("CancelTask: %v", err)
	}
	if err := s.RescheduleTask(ctx, "t1", now.Add(2*time.Hour)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("RescheduleTask cancelled = %v, want ErrNotFound", err)
	}
}

func TestCancelTasksByKind(t *testing.T) {
	t.Parallel()
	s := NewMemory()
	ctx := context.Background()
	now := time.Now()

	mustPut(t, s, Task{ID: "r1", OwnerID: 7, Kind: KindReminder, DueAt: now, Active: true})
	mustPut(t, s, Task{ID: "w1", OwnerID: 7, Kind: KindWorkflow, DueAt: now, Active: true})
	mustPut(t, s, Task{ID: "r2", OwnerID: 8, Kind: KindReminder, DueAt: now, Active: true})

	n, err := s.CancelTasks(ctx, 7, KindReminder)
	if err != nil {
		t.Fatalf("CancelTasks: %v", err)
	}
	if n != 1 {
		t.Fatalf("cancelled %d, want 1", n)
	}
	if got, _ := s.GetTask(ctx, "w1"); !got.Active {
		t.Fatal("workflow of same owner must stay active")
	}
	if got, _ := s.GetTask(ctx, "r2"); !got.Active {
		t.Fatal("reminder of other owner must stay active")
	}
}

func TestListTasksFilters(t *testing.T) {
	t.Parallel()
	s := NewMemory()
	ctx := context.Background()
	now := time.Now()

	mustPut(t, s, Task{ID: "a", OwnerID: 1, Kind: KindReminder, Payload: `{"text":"buy milk"}`, DueAt: now.Add(time.Hour), Active: true})
	mustPut(t, s, Task{ID: "b", OwnerID: 1, Kind: KindReminder, Payload: `{"text":"call mom"}`, DueAt: now.Add(2 * time.Hour), Active: true})
	mustPut(t, s, Task{ID: "c", OwnerID: 1, Kind: KindWorkflow, Payload: `{"name":"briefing"}`, DueAt: now.Add(3 * time.Hour), Active: true})

	got, err := s.ListTasks(ctx, TaskQuery{OwnerID: 1, Kind: KindReminder, TextLike: "MILK"})
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if len(got) != 1 || got[0].ID != "a" {
		t.Fatalf("got %v, want single task a", got)
	}

	got, err = s.ListTasks(ctx, TaskQuery{OwnerID: 1, From: now, To: now.Add(150 * time.Minute)})
	if err != nil {
		t.Fatalf("ListTasks window: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("window returned %d tasks, want 2", len(got))
	}
}

func TestWatchLifecycle(t *testing.T) {
	t.Parallel()
	s := NewMemory()
	ctx := context.Background()

	w := Watch{ID: "w1", OwnerID: 1, URL: "https://example.com", Active: true}
	if err := s.PutWatch(ctx, w); err != nil {
		t.Fatalf("PutWatch: %v", err)
	}
	at := time.Now()
	if err := s.UpdateWatchResult(ctx, "w1", "abc123", "page text", at); err != nil {
		t.Fatalf("UpdateWatchResult: %v", err)
	}
	list, err := s.ListWatches(ctx, true)
	if err != nil {
		t.Fatalf("ListWatches: %v", err)
	}
	if len(list) != 1 || list[0].Fingerprint != "abc123" {
		t.Fatalf("watch list = %+v", list)
	}

	n, err := s.DeleteWatchByURL(ctx, 1, "https://example.com")
	if err != nil || n != 1 {
		t.Fatalf("DeleteWatchByURL = (%d, %v), want (1, nil)", n, err)
	}
	list, _ = s.ListWatches(ctx, false)
	if len(list) != 0 {
		t.Fatalf("watches remain after delete: %+v", list)
	}
}

func TestNotesNewestFirst(t *testing.T) {
	t.Parallel()
	s := NewMemory()
	ctx := context.Background()

	for i, c := range []string{"first", "second", "third"} {
		if err := s.AddNote(ctx, Note{OwnerID: 1, Content: c, CreatedAt: time.Now().Add(time.Duration(i) * time.Second)}); err != nil {
			t.Fatalf("AddNote: %v", err)
		}
	}
	got, err := s.ListNotes(ctx, 1, 2)
	if err != nil {
		t.Fatalf("ListNotes: %v", err)
	}
	if len(got) != 2 || got[0].Content != "third" || got[1].Content != "second" {
		t.Fatalf("notes = %+v, want newest first capped at 2", got)
	}
}

func TestHistoryWindow(t *testing.T) {
	t.Parallel()
	s := NewMemory()
	ctx := context.Background()

	for i := 0; i < 15; i++ {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		if err := s.AppendHistory(ctx, 1, role, "turn"); err != nil {
			t.Fatalf("AppendHistory: %v", err)
		}
	}
	got, err := s.RecentHistory(ctx, 1, 10)
	if err != nil {
		t.Fatalf("RecentHistory: %v", err)
	}
	if len(got) != 10 {
		t.Fatalf("history length = %d, want 10", len(got))
	}
	// oldest retained turn is the sixth appended, a user turn
	if got[0].Role != "assistant" {
		t.Fatalf("first retained role = %s", got[0].Role)
	}

	if err := s.ClearHistory(ctx, 1); err != nil {
		t.Fatalf("ClearHistory: %v", err)
	}
	got, _ = s.RecentHistory(ctx, 1, 10)
	if len(got) != 0 {
		t.Fatalf("history after clear = %d turns", len(got))
	}
}
