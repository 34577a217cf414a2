// Package notes contributes the quick-note capabilities.
package notes

import (
	"context"
	"fmt"
	"strings"

	"aide/internal/skill"
	"aide/internal/storage"
)

const listLimit = 10

func Descriptors(store storage.Store) []skill.Descriptor {
	return []skill.Descriptor{
		{
			Name:        "ADD_NOTE",
			Description: "Save a short note. Use for 'note that X', 'remember X', 'jot down X'.",
			Params: []skill.Param{
				{Name: "content", Kind: skill.KindText, Required: true},
				{Name: "tags", Kind: skill.KindString, Required: false},
			},
			Handler: addHandler(store),
		},
		{
			Name:        "LIST_NOTES",
			Description: "Show recent notes. Use for 'show my notes', 'what did I write down'.",
			Handler:     listHandler(store),
		},
	}
}

func addHandler(store storage.Store) skill.Handler {
	return func(ctx context.Context, c skill.Caller, args map[string]string) (string, error) {
		n := storage.Note{
			OwnerID: c.OwnerID,
			Content: args["content"],
			Tags:    strings.TrimSpace(args["tags"]),
		}
		if err := store.AddNote(ctx, n); err != nil {
			return "", fmt.Errorf("store note: %w", err)
		}
		return "Noted.", nil
	}
}

func listHandler(store storage.Store) skill.Handler {
	return func(ctx context.Context, c skill.Caller, _ map[string]string) (string, error) {
		recent, err := store.ListNotes(ctx, c.OwnerID, listLimit)
		if err != nil {
			return "", err
		}
		if len(recent) == 0 {
			return "No notes yet.", nil
		}
		var b strings.Builder
		b.WriteString("Recent notes:\n")
		for i, n := range recent {
			fmt.Fprintf(&b, "%d. %s", i+1, n.Content)
			if n.Tags != "" {
				fmt.Fprintf(&b, " [%s]", n.Tags)
			}
			b.WriteString("\n")
		}
		return strings.TrimRight(b.String(), "\n"), nil
	}
}
