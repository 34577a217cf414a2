package notifier

import "time"

// Config controls the async notification pipeline.
type Config struct {
	Workers       int
	QueueSize     int
	RatePerSec    int
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	DedupWindow   time.Duration
}

// DeliveryEvent is emitted on the event bus for delivery lifecycle
// events. Keep it small; subscribers may log or serialize it.
type DeliveryEvent struct {
	ChatID   int64     `json:"chat_id"`
	Priority int       `json:"priority"`
	Key      string    `json:"key"`
	At       time.Time `json:"at"`
	Error    string    `json:"error,omitempty"`
}
