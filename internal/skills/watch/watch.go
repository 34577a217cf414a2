// Package watch contributes the website monitoring capabilities.
package watch

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"aide/internal/skill"
	"aide/internal/storage"
)

func Descriptors(store storage.Store) []skill.Descriptor {
	return []skill.Descriptor{
		{
			Name:        "WATCH_SITE",
			Description: "Start monitoring a web page for changes. Use for 'watch/monitor this site/URL'.",
			Params: []skill.Param{
				{Name: "url", Kind: skill.KindString, Required: true},
			},
			Handler: addHandler(store),
		},
		{
			Name:        "UNWATCH_SITE",
			Description: "Stop monitoring a web page. Use for 'stop watching URL'.",
			Params: []skill.Param{
				{Name: "url", Kind: skill.KindString, Required: true},
			},
			Handler: removeHandler(store),
		},
		{
			Name:        "LIST_WATCHES",
			Description: "List monitored web pages. Use for 'what sites am I watching'.",
			Handler:     listHandler(store),
		},
	}
}

func normalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("empty url")
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("that doesn't look like a valid URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("only http and https URLs can be watched")
	}
	return u.String(), nil
}

func addHandler(store storage.Store) skill.Handler {
	return func(ctx context.Context, c skill.Caller, args map[string]string) (string, error) {
		u, err := normalizeURL(args["url"])
		if err != nil {
			return err.Error(), nil
		}
		existing, err := store.ListWatches(ctx, false)
		if err != nil {
			return "", err
		}
		for _, w := range existing {
			if w.OwnerID == c.OwnerID && w.URL == u {
				if w.Active {
					return fmt.Sprintf("Already watching %s.", u), nil
				}
				w.Active = true
				if err := store.PutWatch(ctx, w); err != nil {
					return "", err
				}
				return fmt.Sprintf("Resumed watching %s.", u), nil
			}
		}
		w := storage.Watch{ID: uuid.NewString(), OwnerID: c.OwnerID, URL: u, Active: true}
		if err := store.PutWatch(ctx, w); err != nil {
			return "", fmt.Errorf("store watch: %w", err)
		}
		return fmt.Sprintf("Watching %s. I'll tell you when it changes.", u), nil
	}
}

func removeHandler(store storage.Store) skill.Handler {
	return func(ctx context.Context, c skill.Caller, args map[string]string) (string, error) {
		u, err := normalizeURL(args["url"])
		if err != nil {
			return err.Error(), nil
		}
		n, err := store.DeleteWatchByURL(ctx, c.OwnerID, u)
		if err != nil {
			return "", err
		}
		if n == 0 {
			return fmt.Sprintf("I wasn't watching %s.", u), nil
		}
		return fmt.Sprintf("Stopped watching %s.", u), nil
	}
}

func listHandler(store storage.Store) skill.Handler {
	return func(ctx context.Context, c skill.Caller, _ map[string]string) (string, error) {
		all, err := store.ListWatches(ctx, true)
		if err != nil {
			return "", err
		}
		var mine []storage.Watch
		for _, w := range all {
			if w.OwnerID == c.OwnerID {
				mine = append(mine, w)
			}
		}
		if len(mine) == 0 {
			return "You aren't watching any sites.", nil
		}
		var b strings.Builder
		b.WriteString("Watched sites:\n")
		for i, w := range mine {
			fmt.Fprintf(&b, "%d. %s", i+1, w.URL)
			if !w.LastChecked.IsZero() {
				fmt.Fprintf(&b, " (last checked %s)", w.LastChecked.Format("Jan 2 15:04"))
			}
			b.WriteString("\n")
		}
		return strings.TrimRight(b.String(), "\n"), nil
	}
}
