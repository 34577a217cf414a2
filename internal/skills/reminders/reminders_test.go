package reminders

import (
	"context"
	"strings"
	"testing"
	"time"

	"aide/internal/skill"
	"aide/internal/storage"
)

func resolve(t *testing.T, name string, store storage.Store) skill.Handler {
	t.Helper()
	for _, d := range Descriptors(store) {
		if d.Name == name {
			return d.Handler
		}
	}
	t.Fatalf("descriptor %s not found", name)
	return nil
}

func TestAddOneShotReminder(t *testing.T) {
	t.Parallel()
	store := storage.NewMemory()
	ctx := context.Background()
	caller := skill.Caller{OwnerID: 1, ChatID: 1}

	reply, err := resolve(t, "ADD_REMINDER", store)(ctx, caller, map[string]string{
		"text": "water the plants",
		"when": "in 2 hours",
	})
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if !strings.Contains(reply, "water the plants") {
		t.Fatalf("reply = %q", reply)
	}

	tasks, err := store.ListTasks(ctx, storage.TaskQuery{OwnerID: 1, Kind: storage.KindReminder, ActiveOnly: true})
	if err != nil || len(tasks) != 1 {
		t.Fatalf("tasks = %v, err %v", tasks, err)
	}
	got := tasks[0]
	if got.Interval != 0 || got.Payload != "water the plants" {
		t.Fatalf("task = %+v", got)
	}
	if d := time.Until(got.DueAt); d < 119*time.Minute || d > 121*time.Minute {
		t.Fatalf("DueAt = %v, want ~2h out", got.DueAt)
	}
}

func TestAddRecurringReminder(t *testing.T) {
	t.Parallel()
	store := storage.NewMemory()
	_, err := resolve(t, "ADD_REMINDER", store)(context.Background(), skill.Caller{OwnerID: 1}, map[string]string{
		"text": "stand up",
		"when": "every 30 minutes",
	})
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	tasks, _ := store.ListTasks(context.Background(), storage.TaskQuery{OwnerID: 1})
	if len(tasks) != 1 || tasks[0].Interval != 30*time.Minute {
		t.Fatalf("tasks = %+v", tasks)
	}
}

func TestCancelByText(t *testing.T) {
	t.Parallel()
	store := storage.NewMemory()
	ctx := context.Background()
	caller := skill.Caller{OwnerID: 1}
	add := resolve(t, "ADD_REMINDER", store)
	for _, text := range []string{"call dentist", "buy milk"} {
		if _, err := add(ctx, caller, map[string]string{"text": text, "when": "in 1 hour"}); err != nil {
			t.Fatalf("add %q: %v", text, err)
		}
	}

	reply, err := resolve(t, "CANCEL_REMINDER", store)(ctx, caller, map[string]string{"text": "dentist"})
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if !strings.Contains(reply, "call dentist") {
		t.Fatalf("reply = %q", reply)
	}
	left, _ := store.ListTasks(ctx, storage.TaskQuery{OwnerID: 1, ActiveOnly: true})
	if len(left) != 1 || left[0].Payload != "buy milk" {
		t.Fatalf("remaining = %+v", left)
	}
}

func TestListEmptySchedule(t *testing.T) {
	t.Parallel()
	store := storage.NewMemory()
	reply, err := resolve(t, "QUERY_SCHEDULE", store)(context.Background(), skill.Caller{OwnerID: 1}, nil)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(reply, "no active reminders") {
		t.Fatalf("reply = %q", reply)
	}
}
