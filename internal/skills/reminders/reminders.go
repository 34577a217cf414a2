// Package reminders contributes the reminder capabilities: create a
// one-shot or recurring reminder, cancel reminders, and list what is
// coming up.
package reminders

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"aide/internal/dispatch"
	"aide/internal/skill"
	"aide/internal/storage"
)

// Descriptors returns the reminder capabilities bound to the store.
func Descriptors(store storage.Store) []skill.Descriptor {
	return []skill.Descriptor{
		{
			Name:        "ADD_REMINDER",
			Description: "Schedule a reminder. Use for 'remind me to X in/at/every Y'.",
			Params: []skill.Param{
				{Name: "text", Kind: skill.KindText, Required: true},
				{Name: "when", Kind: skill.KindDuration, Required: true},
			},
			Handler: addHandler(store),
		},
		{
			Name:        "CANCEL_REMINDER",
			Description: "Cancel reminders whose text matches the given words. Use for 'cancel/delete the X reminder'.",
			Params: []skill.Param{
				{Name: "text", Kind: skill.KindText, Required: false},
			},
			Handler: cancelHandler(store),
		},
		{
			Name:        "QUERY_SCHEDULE",
			Description: "List upcoming reminders. Use for 'what reminders do I have', 'what's on my schedule'.",
			Params:      nil,
			Handler:     listHandler(store),
		},
	}
}

func addHandler(store storage.Store) skill.Handler {
	return func(ctx context.Context, c skill.Caller, args map[string]string) (string, error) {
		when, err := dispatch.ParseWhen(args["when"])
		if err != nil {
			return "", err
		}
		t := storage.Task{
			ID:       uuid.NewString(),
			OwnerID:  c.OwnerID,
			Kind:     storage.KindReminder,
			Payload:  args["text"],
			DueAt:    when.At,
			Interval: when.Interval,
			Active:   true,
		}
		if err := store.PutTask(ctx, t); err != nil {
			return "", fmt.Errorf("store reminder: %w", err)
		}
		if t.Interval > 0 {
			return fmt.Sprintf("Recurring reminder set: %q every %s, first at %s.",
				t.Payload, t.Interval, t.DueAt.Format("Mon 15:04")), nil
		}
		return fmt.Sprintf("Reminder set: %q at %s.", t.Payload, t.DueAt.Format("Mon Jan 2 15:04")), nil
	}
}

func cancelHandler(store storage.Store) skill.Handler {
	return func(ctx context.Context, c skill.Caller, args map[string]string) (string, error) {
		match := strings.TrimSpace(args["text"])
		if match == "" {
			n, err := store.CancelTasks(ctx, c.OwnerID, storage.KindReminder)
			if err != nil {
				return "", err
			}
			if n == 0 {
				return "You have no active reminders.", nil
			}
			return fmt.Sprintf("Cancelled all %d reminders.", n), nil
		}

		found, err := store.ListTasks(ctx, storage.TaskQuery{
			OwnerID:    c.OwnerID,
			Kind:       storage.KindReminder,
			ActiveOnly: true,
			TextLike:   match,
		})
		if err != nil {
			return "", err
		}
		if len(found) == 0 {
			return fmt.Sprintf("No active reminder matches %q.", match), nil
		}
		for _, t := range found {
			if err := store.CancelTask(ctx, t.ID); err != nil {
				return "", err
			}
		}
		if len(found) == 1 {
			return fmt.Sprintf("Cancelled reminder %q.", found[0].Payload), nil
		}
		return fmt.Sprintf("Cancelled %d matching reminders.", len(found)), nil
	}
}

func listHandler(store storage.Store) skill.Handler {
	return func(ctx context.Context, c skill.Caller, _ map[string]string) (string, error) {
		upcoming, err := store.ListTasks(ctx, storage.TaskQuery{
			OwnerID:    c.OwnerID,
			Kind:       storage.KindReminder,
			ActiveOnly: true,
			Limit:      20,
		})
		if err != nil {
			return "", err
		}
		if len(upcoming) == 0 {
			return "You have no active reminders.", nil
		}
		var b strings.Builder
		b.WriteString("Upcoming reminders:\n")
		for i, t := range upcoming {
			fmt.Fprintf(&b, "%d. %s — %s", i+1, t.Payload, t.DueAt.Format("Mon Jan 2 15:04"))
			if t.Interval > 0 {
				fmt.Fprintf(&b, " (every %s)", t.Interval)
			}
			b.WriteString("\n")
		}
		return strings.TrimRight(b.String(), "\n"), nil
	}
}

// Format is shared with the briefing workflow so schedule listings look
// the same everywhere.
func Format(t storage.Task, now time.Time) string {
	due := t.DueAt.Format("15:04")
	if t.DueAt.YearDay() != now.YearDay() || t.DueAt.Year() != now.Year() {
		due = t.DueAt.Format("Mon Jan 2 15:04")
	}
	return fmt.Sprintf("%s — %s", t.Payload, due)
}
