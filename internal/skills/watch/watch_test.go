package watch

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

func TestNormalizeURL(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "https://example.com/news", want: "https://example.com/news"},
		{in: "example.com/news", want: "https://example.com/news"},
		{in: "  example.com  ", want: "https://example.com"},
		{in: "ftp://example.com", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tc := range cases {
		got, err := normalizeURL(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("normalizeURL(%q): expected error, got %q", tc.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("normalizeURL(%q): %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("normalizeURL(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestWatchAddDuplicateRemove(t *testing.T) {
	t.Parallel()
	store := storage.NewMemory()
	ctx := context.Background()
	caller := skill.Caller{OwnerID: 1}
	args := map[string]string{"url": "example.com/releases"}

	reply, err := handler(t, "WATCH_SITE", store)(ctx, caller, args)
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	if !strings.Contains(reply, "https://example.com/releases") {
		t.Fatalf("reply = %q", reply)
	}

	reply, err = handler(t, "WATCH_SITE", store)(ctx, caller, args)
	if err != nil {
		t.Fatalf("watch again: %v", err)
	}
	if !strings.HasPrefix(reply, "Already watching") {
		t.Fatalf("duplicate reply = %q", reply)
	}
	watches, _ := store.ListWatches(ctx, false)
	if len(watches) != 1 {
		t.Fatalf("got %d watches, want 1", len(watches))
	}

	reply, err = handler(t, "UNWATCH_SITE", store)(ctx, caller, args)
	if err != nil {
		t.Fatalf("unwatch: %v", err)
	}
	if !strings.HasPrefix(reply, "Stopped watching") {
		t.Fatalf("unwatch reply = %q", reply)
	}

	reply, err = handler(t, "UNWATCH_SITE", store)(ctx, caller, args)
	if err != nil {
		t.Fatalf("unwatch missing: %v", err)
	}
	if !strings.HasPrefix(reply, "I wasn't watching") {
		t.Fatalf("missing reply = %q", reply)
	}
}

func TestWatchBadURLIsUserFacing(t *testing.T) {
	t.Parallel()
	store := storage.NewMemory()
	reply, err := handler(t, "WATCH_SITE", store)(context.Background(), skill.Caller{OwnerID: 1}, map[string]string{"url": "ftp://example.com"})
	if err != nil {
		t.Fatalf("expected user-facing reply, got error %v", err)
	}
	if !strings.Contains(reply, "http") {
		t.Fatalf("reply = %q", reply)
	}
}

func TestListWatchesOwnerScoped(t *testing.T) {
	t.Parallel()
	store := storage.NewMemory()
	ctx := context.Background()

	if _, err := handler(t, "WATCH_SITE", store)(ctx, skill.Caller{OwnerID: 1}, map[string]string{"url": "example.com/a"}); err != nil {
		t.Fatalf("watch: %v", err)
	}
	if _, err := handler(t, "WATCH_SITE", store)(ctx, skill.Caller{OwnerID: 2}, map[string]string{"url": "example.com/b"}); err != nil {
		t.Fatalf("watch: %v", err)
	}

	reply, err := handler(t, "LIST_WATCHES", store)(ctx, skill.Caller{OwnerID: 1}, nil)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(reply, "example.com/a") || strings.Contains(reply, "example.com/b") {
		t.Fatalf("listing = %q", reply)
	}
}
