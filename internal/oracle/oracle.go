// Package oracle talks to an OpenAI-compatible chat endpoint (Ollama,
// vLLM, the hosted APIs). The rest of the app sees only the Client
// interface, so tests can script replies without a server.
package oracle

import (
	"context"
	"errors"
)

// Chat roles on the wire.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ErrUnavailable wraps transport-level failures: the endpoint is down,
// timed out, or returned a non-OK status. Callers degrade gracefully
// instead of surfacing raw HTTP errors to chat.
var ErrUnavailable = errors.New("oracle: unavailable")

// Message is one turn of a chat exchange.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Client is the minimal completion surface the dispatcher and the
// change monitor need.
type Client interface {
	// Chat sends the conversation and returns the assistant reply text.
	Chat(ctx context.Context, msgs []Message) (string, error)
}
