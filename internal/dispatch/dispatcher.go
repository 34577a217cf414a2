// Package dispatch routes free-text input to registered capabilities.
// It composes a routing prompt from the capability catalog, asks the
// oracle for a structured decision, validates that decision against the
// registry, coerces arguments, and invokes the handler. Anything that
// goes wrong short of a dead oracle degrades to a conversational reply.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"aide/internal/oracle"
	"aide/internal/skill"
	"aide/internal/storage"
	"aide/pkg/logx"
)

const (
	historyWindow = 10

	retryReply   = "I'm having trouble reaching my language model right now. Please try again in a moment."
	apologyReply = "Something went wrong while handling that. I've logged the details."
)

// Result is what a dispatch produces: either a capability invocation
// (Capability set, Reply from its handler) or a conversational fallback
// (Capability empty).
type Result struct {
	Capability string
	Reply      string
}

// ValidationError carries a user-facing clarification request when an
// extracted argument fails coercion.
type ValidationError struct {
	Param  string
	Reason string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Param, e.Reason)
}

// Dispatcher wires the registry, the oracle and the conversation store.
type Dispatcher struct {
	reg   *skill.Registry
	llm   oracle.Client
	store storage.Store
	log   logx.Logger
}

// New builds a Dispatcher. The routing prompt is composed per call from
// the registry, so skills registered after construction are still seen
// (bootstrap order stays flexible).
func New(reg *skill.Registry, llm oracle.Client, store storage.Store, log logx.Logger) *Dispatcher {
	return &Dispatcher{reg: reg, llm: llm, store: store, log: log}
}

// Dispatch routes one inbound message. The returned Result always has a
// non-empty Reply, even on internal failure. The only error returned is
// oracle.ErrUnavailable, already mapped to a retry reply in Result, so
// callers may ignore it and just send the reply.
func (d *Dispatcher) Dispatch(ctx context.Context, caller skill.Caller, text string) (Result, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Result{Reply: "Say something and I'll try to help."}, nil
	}

	history, err := d.store.RecentHistory(ctx, caller.OwnerID, historyWindow)
	if err != nil {
		d.log.Warn("history load failed", logx.Err(err), logx.Int64("owner", caller.OwnerID))
	}

	reply, err := d.llm.Chat(ctx, d.routingMessages(history, text))
	if err != nil {
		if errors.Is(err, oracle.ErrUnavailable) {
			return Result{Reply: retryReply}, err
		}
		d.log.Error("routing call failed", logx.Err(err))
		return Result{Reply: retryReply}, oracle.ErrUnavailable
	}

	intent, perr := oracle.ParseIntent(reply)
	if perr != nil || intent.Action == "" {
		return d.converse(ctx, caller, history, text)
	}

	desc, rerr := d.reg.Resolve(intent.Action)
	if rerr != nil {
		// Hallucinated capability name. Never invoke, just chat.
		d.log.Debug("oracle picked unknown capability",
			logx.String("action", intent.Action))
		return d.converse(ctx, caller, history, text)
	}

	args, cerr := coerceArgs(desc.Params, intent.Params)
	if cerr != nil {
		var v ValidationError
		if errors.As(cerr, &v) {
			return Result{Capability: desc.Name, Reply: v.Error()}, nil
		}
		return Result{Capability: desc.Name, Reply: apologyReply}, nil
	}

	out, herr := safeCall(ctx, desc.Handler, caller, args)
	if herr != nil {
		d.log.Error("capability handler failed",
			logx.String("capability", desc.Name),
			logx.Int64("owner", caller.OwnerID),
			logx.Err(herr))
		return Result{Capability: desc.Name, Reply: apologyReply}, nil
	}

	d.remember(ctx, caller.OwnerID, text, out)
	return Result{Capability: desc.Name, Reply: out}, nil
}

// converse answers with a plain chat completion when no capability
// applies. The routing attempt has no side effects to undo.
func (d *Dispatcher) converse(ctx context.Context, caller skill.Caller, history []storage.ChatTurn, text string) (Result, error) {
	msgs := make([]oracle.Message, 0, len(history)+2)
	msgs = append(msgs, oracle.Message{
		Role:    oracle.RoleSystem,
		Content: "You are a concise personal assistant. Answer in plain text, no markdown.",
	})
	for _, turn := range history {
		msgs = append(msgs, oracle.Message{Role: turn.Role, Content: turn.Content})
	}
	msgs = append(msgs, oracle.Message{Role: oracle.RoleUser, Content: text})

	reply, err := d.llm.Chat(ctx, msgs)
	if err != nil {
		return Result{Reply: retryReply}, oracle.ErrUnavailable
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		reply = "I don't have a good answer for that."
	}
	d.remember(ctx, caller.OwnerID, text, reply)
	return Result{Reply: reply}, nil
}

func (d *Dispatcher) remember(ctx context.Context, owner int64, userText, reply string) {
	if err := d.store.AppendHistory(ctx, owner, oracle.RoleUser, userText); err != nil {
		d.log.Warn("history append failed", logx.Err(err))
		return
	}
	if err := d.store.AppendHistory(ctx, owner, oracle.RoleAssistant, reply); err != nil {
		d.log.Warn("history append failed", logx.Err(err))
	}
}

// routingMessages builds the structured-extraction conversation: the
// capability catalog plus the short rolling context and the user text.
func (d *Dispatcher) routingMessages(history []storage.ChatTurn, text string) []oracle.Message {
	var b strings.Builder
	b.WriteString("You route user requests to capabilities. Reply with ONLY a JSON object:\n")
	b.WriteString(`{"action": "<CAPABILITY_NAME or NONE>", "params": {"<name>": "<value>"}}`)
	b.WriteString("\n\nCurrent time: ")
	b.WriteString(time.Now().Format("Monday, 2006-01-02 15:04 MST"))
	b.WriteString("\n\nCapabilities:\n")
	for _, desc := range d.reg.List() {
		b.WriteString("- ")
		b.WriteString(desc.Name)
		b.WriteString(": ")
		b.WriteString(desc.Description)
		if len(desc.Params) > 0 {
			b.WriteString(" (params: ")
			for i, p := range desc.Params {
				if i > 0 {
					b.WriteString(", ")
				}
				b.WriteString(p.Name)
				b.WriteString(" ")
				b.WriteString(p.Kind)
				if p.Required {
					b.WriteString(" required")
				}
			}
			b.WriteString(")")
		}
		b.WriteString("\n")
	}
	b.WriteString("\nIf no capability fits, use action NONE. Never invent capability names.")

	msgs := []oracle.Message{{Role: oracle.RoleSystem, Content: b.String()}}
	for _, turn := range history {
		msgs = append(msgs, oracle.Message{Role: turn.Role, Content: turn.Content})
	}
	msgs = append(msgs, oracle.Message{Role: oracle.RoleUser, Content: text})
	return msgs
}

// safeCall contains handler panics so a buggy skill cannot take the
// process down mid-dispatch.
func safeCall(ctx context.Context, h skill.Handler, caller skill.Caller, args map[string]string) (out string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, caller, args)
}
