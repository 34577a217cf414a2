// Package workflows contributes scheduled workflow capabilities: named
// recurring actions (a morning briefing, a scheduled notification) that
// the task engine fires on their cadence.
package workflows

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"aide/internal/dispatch"
	"aide/internal/skill"
	"aide/internal/skills/reminders"
	"aide/internal/storage"
	"aide/internal/transport"
)

// Workflow actions.
const (
	ActionBriefing = "briefing"
	ActionNotify   = "notify"
)

// Payload is the JSON stored in a workflow task's payload column.
type Payload struct {
	Name   string `json:"name"`
	Action string `json:"action"`
	Text   string `json:"text,omitempty"`
}

// Sink delivers workflow output; the notifier service satisfies it.
type Sink interface {
	Notify(ctx context.Context, n transport.Notification) error
}

func Descriptors(store storage.Store) []skill.Descriptor {
	return []skill.Descriptor{
		{
			Name: "SCHEDULE_WORKFLOW",
			Description: "Schedule a named recurring workflow. Supported actions: 'briefing' " +
				"(daily agenda summary) and 'notify' (send a fixed message). " +
				"Use for 'send me a briefing every morning at 8', 'every Friday remind the team X'.",
			Params: []skill.Param{
				{Name: "name", Kind: skill.KindString, Required: true},
				{Name: "action", Kind: skill.KindString, Required: true},
				{Name: "when", Kind: skill.KindDuration, Required: true},
				{Name: "text", Kind: skill.KindText, Required: false},
			},
			Handler: scheduleHandler(store),
		},
		{
			Name:        "LIST_WORKFLOWS",
			Description: "List scheduled workflows. Use for 'what workflows are set up'.",
			Handler:     listHandler(store),
		},
		{
			Name:        "CANCEL_WORKFLOW",
			Description: "Cancel a scheduled workflow by name.",
			Params: []skill.Param{
				{Name: "name", Kind: skill.KindString, Required: true},
			},
			Handler: cancelHandler(store),
		},
	}
}

func scheduleHandler(store storage.Store) skill.Handler {
	return func(ctx context.Context, c skill.Caller, args map[string]string) (string, error) {
		action := strings.ToLower(strings.TrimSpace(args["action"]))
		switch action {
		case ActionBriefing, ActionNotify:
		default:
			return fmt.Sprintf("Unknown workflow action %q. I support: briefing, notify.", action), nil
		}
		if action == ActionNotify && strings.TrimSpace(args["text"]) == "" {
			return "A notify workflow needs the text to send.", nil
		}
		when, err := dispatch.ParseWhen(args["when"])
		if err != nil {
			return "", err
		}

		p := Payload{Name: args["name"], Action: action, Text: args["text"]}
		raw, err := json.Marshal(p)
		if err != nil {
			return "", err
		}
		t := storage.Task{
			ID:       uuid.NewString(),
			OwnerID:  c.OwnerID,
			Kind:     storage.KindWorkflow,
			Payload:  string(raw),
			DueAt:    when.At,
			Interval: when.Interval,
			Active:   true,
		}
		if err := store.PutTask(ctx, t); err != nil {
			return "", fmt.Errorf("store workflow: %w", err)
		}
		if t.Interval > 0 {
			return fmt.Sprintf("Workflow %q scheduled every %s, first run %s.",
				p.Name, t.Interval, t.DueAt.Format("Mon 15:04")), nil
		}
		return fmt.Sprintf("Workflow %q scheduled for %s.", p.Name, t.DueAt.Format("Mon Jan 2 15:04")), nil
	}
}

func listHandler(store storage.Store) skill.Handler {
	return func(ctx context.Context, c skill.Caller, _ map[string]string) (string, error) {
		active, err := store.ListTasks(ctx, storage.TaskQuery{
			OwnerID:    c.OwnerID,
			Kind:       storage.KindWorkflow,
			ActiveOnly: true,
		})
		if err != nil {
			return "", err
		}
		if len(active) == 0 {
			return "No workflows scheduled.", nil
		}
		var b strings.Builder
		b.WriteString("Scheduled workflows:\n")
		for i, t := range active {
			p, perr := parsePayload(t.Payload)
			name := "?"
			if perr == nil {
				name = p.Name
			}
			fmt.Fprintf(&b, "%d. %s — next %s", i+1, name, t.DueAt.Format("Mon Jan 2 15:04"))
			if t.Interval > 0 {
				fmt.Fprintf(&b, " (every %s)", t.Interval)
			}
			b.WriteString("\n")
		}
		return strings.TrimRight(b.String(), "\n"), nil
	}
}

func cancelHandler(store storage.Store) skill.Handler {
	return func(ctx context.Context, c skill.Caller, args map[string]string) (string, error) {
		name := strings.TrimSpace(args["name"])
		active, err := store.ListTasks(ctx, storage.TaskQuery{
			OwnerID:    c.OwnerID,
			Kind:       storage.KindWorkflow,
			ActiveOnly: true,
		})
		if err != nil {
			return "", err
		}
		cancelled := 0
		for _, t := range active {
			p, perr := parsePayload(t.Payload)
			if perr != nil || !strings.EqualFold(p.Name, name) {
				continue
			}
			if err := store.CancelTask(ctx, t.ID); err != nil {
				return "", err
			}
			cancelled++
		}
		if cancelled == 0 {
			return fmt.Sprintf("No workflow named %q.", name), nil
		}
		return fmt.Sprintf("Cancelled workflow %q.", name), nil
	}
}

func parsePayload(raw string) (Payload, error) {
	var p Payload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return Payload{}, err
	}
	return p, nil
}

// Runner executes fired workflow tasks for the task engine.
func Runner(store storage.Store, sink Sink) func(ctx context.Context, t storage.Task) error {
	return func(ctx context.Context, t storage.Task) error {
		p, err := parsePayload(t.Payload)
		if err != nil {
			return fmt.Errorf("workflow payload: %w", err)
		}
		var text string
		switch p.Action {
		case ActionNotify:
			text = p.Text
		case ActionBriefing:
			text, err = composeBriefing(ctx, store, t.OwnerID)
			if err != nil {
				return err
			}
		default:
			return fmt.Errorf("workflow %q: unknown action %q", p.Name, p.Action)
		}
		return sink.Notify(ctx, transport.Notification{
			Target:   transport.ChatTarget{ChatID: t.OwnerID},
			Priority: 3,
			Text:     text,
		})
	}
}

// composeBriefing builds the agenda: reminders due inside the next day
// plus the most recent notes.
func composeBriefing(ctx context.Context, store storage.Store, owner int64) (string, error) {
	now := time.Now()
	agenda, err := store.ListTasks(ctx, storage.TaskQuery{
		OwnerID:    owner,
		Kind:       storage.KindReminder,
		ActiveOnly: true,
		From:       now,
		To:         now.Add(24 * time.Hour),
	})
	if err != nil {
		return "", err
	}
	recent, err := store.ListNotes(ctx, owner, 5)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("Briefing for " + now.Format("Monday, Jan 2") + "\n\n")
	if len(agenda) == 0 {
		b.WriteString("Nothing scheduled in the next 24 hours.\n")
	} else {
		b.WriteString("Coming up:\n")
		for _, t := range agenda {
			fmt.Fprintf(&b, "- %s\n", reminders.Format(t, now))
		}
	}
	if len(recent) > 0 {
		b.WriteString("\nRecent notes:\n")
		for _, n := range recent {
			fmt.Fprintf(&b, "- %s\n", n.Content)
		}
	}
	return strings.TrimRight(b.String(), "\n"), nil
}
