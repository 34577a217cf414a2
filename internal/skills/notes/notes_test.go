package notes

import (
	"context"
	"strings"
	"testing"

	"aide/internal/skill"
	"aide/internal/storage"
)

func handler(t *testing.T, name string, store storage.Store) skill.Handler {
	t.Helper()
	for _, d := range Descriptors(store) {
		if d.Name == name {
			return d.Handler
		}
	}
	t.Fatalf("descriptor %s not found", name)
	return nil
}

func TestAddAndListNotes(t *testing.T) {
	t.Parallel()
	store := storage.NewMemory()
	ctx := context.Background()
	caller := skill.Caller{OwnerID: 1}

	reply, err := handler(t, "ADD_NOTE", store)(ctx, caller, map[string]string{"content": "buy coffee beans"})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if reply != "Noted." {
		t.Fatalf("reply = %q", reply)
	}
	if _, err := handler(t, "ADD_NOTE", store)(ctx, caller, map[string]string{
		"content": "call the plumber",
		"tags":    "home",
	}); err != nil {
		t.Fatalf("add tagged: %v", err)
	}

	listed, err := handler(t, "LIST_NOTES", store)(ctx, caller, nil)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(listed, "call the plumber [home]") {
		t.Fatalf("tags missing from listing: %q", listed)
	}
	// Newest first.
	if strings.Index(listed, "call the plumber") > strings.Index(listed, "buy coffee beans") {
		t.Fatalf("listing not newest-first: %q", listed)
	}
}

func TestListNotesEmpty(t *testing.T) {
	t.Parallel()
	store := storage.NewMemory()
	reply, err := handler(t, "LIST_NOTES", store)(context.Background(), skill.Caller{OwnerID: 1}, nil)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if reply != "No notes yet." {
		t.Fatalf("reply = %q", reply)
	}
}

func TestNotesAreOwnerScoped(t *testing.T) {
	t.Parallel()
	store := storage.NewMemory()
	ctx := context.Background()

	if _, err := handler(t, "ADD_NOTE", store)(ctx, skill.Caller{OwnerID: 1}, map[string]string{"content": "mine"}); err != nil {
		t.Fatalf("add: %v", err)
	}
	reply, err := handler(t, "LIST_NOTES", store)(ctx, skill.Caller{OwnerID: 2}, nil)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if strings.Contains(reply, "mine") {
		t.Fatalf("note leaked across owners: %q", reply)
	}
}
