package transport

import "context"

// Message is an inbound chat message, transport-neutral.
type Message struct {
	ID           int
	ChatID       int64
	FromID       int64
	FromUsername string
	Text         string
	IsGroup      bool
}

// ChatTarget identifies where an outbound message goes.
type ChatTarget struct {
	ChatID int64
}

type MessageRef struct {
	ChatID    int64
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

// Notification is a message pushed proactively (reminders, change alerts)
// as opposed to a direct reply.
type Notification struct {
	Target   ChatTarget
	Priority int // 0 low .. 10 high
	Text     string
	Options  *SendOptions
}

// Adapter is the chat transport boundary. Inbound messages are delivered
// on the channel given to Start; outbound text goes through SendText.
type Adapter interface {
	Start(ctx context.Context, out chan<- Message) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
}

// BotCommand is a single command menu entry.
type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater is optionally implemented by adapters that can expose
// a platform command menu (e.g. Telegram's / list).
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}
