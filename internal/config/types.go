package config

import (
	"errors"
	"fmt"
)

// Config is the full application configuration. All durations are Go
// duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Oracle   OracleConfig   `json:"oracle"`
	Storage  StorageConfig  `json:"storage"`
	Logging  LoggingConfig  `json:"logging"`
	Notifier NotifierConfig `json:"notifier,omitempty"`
	Tasks    TasksConfig    `json:"tasks,omitempty"`
	Monitor  MonitorConfig  `json:"monitor,omitempty"`
}

type TelegramConfig struct {
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	PollTimeout  string  `json:"poll_timeout,omitempty"`
}

// OracleConfig points at an OpenAI-compatible chat endpoint.
type OracleConfig struct {
	BaseURL     string  `json:"base_url,omitempty"` // default http://localhost:11434/v1
	APIKey      string  `json:"api_key,omitempty"`
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature,omitempty"`
	Timeout     string  `json:"timeout,omitempty"`
}

type StorageConfig struct {
	Driver      string `json:"driver,omitempty"` // "sqlite" (default) or "memory"
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file,omitempty"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

type NotifierConfig struct {
	Workers       int    `json:"workers,omitempty"`
	QueueSize     int    `json:"queue_size,omitempty"`
	RatePerSec    int    `json:"rate_per_sec,omitempty"`
	RetryMax      int    `json:"retry_max,omitempty"`
	RetryBase     string `json:"retry_base,omitempty"`
	RetryMaxDelay string `json:"retry_max_delay,omitempty"`
	DedupWindow   string `json:"dedup_window,omitempty"`
}

// TasksConfig controls the scheduled task engine.
type TasksConfig struct {
	Cadence     string `json:"cadence,omitempty"`  // cron spec, default "@every 30s"
	CatchUp     string `json:"catch_up,omitempty"` // "all" (default) or "skip"
	MaxFailures int    `json:"max_failures,omitempty"`
	Timezone    string `json:"timezone,omitempty"`
}

// MonitorConfig controls the change detection engine.
type MonitorConfig struct {
	Cadence      string `json:"cadence,omitempty"` // cron spec, default "@every 5m"
	FetchTimeout string `json:"fetch_timeout,omitempty"`
}

// Validate checks the fields the process cannot run without and the
// enum-like fields where a typo should fail loudly instead of silently
// picking a default.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if c.Telegram.Token == "" {
		return errors.New("telegram.token is required")
	}
	if len(c.Telegram.OwnerUserIDs) == 0 {
		return errors.New("telegram.owner_user_ids must list at least one user")
	}
	if c.Oracle.Model == "" {
		return errors.New("oracle.model is required")
	}
	switch c.Tasks.CatchUp {
	case "", "all", "skip":
	default:
		return fmt.Errorf("tasks.catch_up: %q is not one of all, skip", c.Tasks.CatchUp)
	}
	switch c.Storage.Driver {
	case "", "sqlite", "sqlite3", "memory":
	default:
		return fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver)
	}
	for _, field := range []struct{ path, raw string }{
		{"telegram.poll_timeout", c.Telegram.PollTimeout},
		{"oracle.timeout", c.Oracle.Timeout},
		{"storage.busy_timeout", c.Storage.BusyTimeout},
		{"notifier.retry_base", c.Notifier.RetryBase},
		{"notifier.retry_max_delay", c.Notifier.RetryMaxDelay},
		{"notifier.dedup_window", c.Notifier.DedupWindow},
		{"monitor.fetch_timeout", c.Monitor.FetchTimeout},
	} {
		if _, err := ParseDurationField(field.path, field.raw); err != nil {
			return err
		}
	}
	return nil
}
