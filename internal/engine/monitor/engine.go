// Package monitor runs the change detection engine: on a fixed cadence
// each active watch is fetched, normalized and fingerprinted, and a
// divergence from the stored fingerprint produces a summarized change
// notification. The first successful fetch only establishes a baseline.
package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"aide/internal/eventbus"
	"aide/internal/oracle"
	"aide/internal/storage"
	"aide/internal/transport"
	"aide/pkg/logx"
)

// maxOracleChars bounds how much page text goes into the summary prompt.
const maxOracleChars = 30000

// Sink receives change notifications; the notifier service satisfies it.
type Sink interface {
	Notify(ctx context.Context, n transport.Notification) error
}

// Config tunes the engine.
type Config struct {
	Cadence      string // cron spec, default "@every 5m"
	FetchTimeout time.Duration
}

// Engine owns the check loop.
type Engine struct {
	cfg   Config
	store storage.Store
	fetch Fetcher
	llm   oracle.Client
	sink  Sink
	bus   eventbus.Bus
	log   logx.Logger

	mu      sync.Mutex
	c       *cron.Cron
	ticking bool
}

// New builds an engine. llm may be nil; summaries then degrade to a
// plain "content changed" message.
func New(cfg Config, store storage.Store, fetch Fetcher, llm oracle.Client, sink Sink, bus eventbus.Bus, log logx.Logger) *Engine {
	if cfg.Cadence == "" {
		cfg.Cadence = "@every 5m"
	}
	return &Engine{cfg: cfg, store: store, fetch: fetch, llm: llm, sink: sink, bus: bus, log: log}
}

// Start spins up the cron ticker.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.c != nil {
		return nil
	}
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	c := cron.New(cron.WithParser(parser))
	if _, err := c.AddFunc(e.cfg.Cadence, func() { e.Tick(ctx) }); err != nil {
		return fmt.Errorf("monitor: bad cadence %q: %w", e.cfg.Cadence, err)
	}
	e.c = c
	c.Start()
	e.log.Info("change monitor started", logx.String("cadence", e.cfg.Cadence))
	return nil
}

// Apply swaps the engine configuration at runtime. A cadence change
// restarts the cron clock.
func (e *Engine) Apply(ctx context.Context, cfg Config) error {
	if cfg.Cadence == "" {
		cfg.Cadence = "@every 5m"
	}
	e.mu.Lock()
	restart := e.c != nil && cfg.Cadence != e.cfg.Cadence
	e.cfg = cfg
	e.mu.Unlock()
	if !restart {
		return nil
	}
	e.Stop()
	return e.Start(ctx)
}

// Stop halts the ticker and waits for an in-flight tick.
func (e *Engine) Stop() {
	e.mu.Lock()
	c := e.c
	e.c = nil
	e.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
}

// Tick checks every active watch once. Overlapping ticks collapse.
func (e *Engine) Tick(ctx context.Context) {
	e.mu.Lock()
	if e.ticking {
		e.mu.Unlock()
		return
	}
	e.ticking = true
	fetchTimeout := e.cfg.FetchTimeout
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.ticking = false
		e.mu.Unlock()
	}()

	watches, err := e.store.ListWatches(ctx, true)
	if err != nil {
		e.log.Error("watch list failed", logx.Err(err))
		return
	}
	for _, w := range watches {
		if ctx.Err() != nil {
			return
		}
		e.check(ctx, w, fetchTimeout)
	}
}

func (e *Engine) check(ctx context.Context, w storage.Watch, fetchTimeout time.Duration) {
	fctx := ctx
	if fetchTimeout > 0 {
		var cancel context.CancelFunc
		fctx, cancel = context.WithTimeout(ctx, fetchTimeout)
		defer cancel()
	}
	raw, err := e.fetch.Fetch(fctx, w.URL)
	if err != nil {
		// Transient by assumption: fingerprint stays, next tick retries.
		e.log.Warn("fetch failed", logx.String("url", w.URL), logx.Err(err))
		return
	}

	now := time.Now()
	text := Normalize(raw)
	fp := Fingerprint(text)

	if w.Fingerprint == "" {
		// Baseline, no notification.
		if err := e.store.UpdateWatchResult(ctx, w.ID, fp, text, now); err != nil {
			e.log.Warn("baseline store failed", logx.String("id", w.ID), logx.Err(err))
		}
		e.log.Info("watch baseline established", logx.String("url", w.URL))
		return
	}
	if fp == w.Fingerprint {
		if err := e.store.TouchWatch(ctx, w.ID, now); err != nil {
			e.log.Warn("touch failed", logx.String("id", w.ID), logx.Err(err))
		}
		return
	}

	meaningful, summary := e.assess(ctx, w.Content, text)
	if meaningful {
		msg := fmt.Sprintf("Change detected: %s\n\n%s", w.URL, summary)
		// Priority 7: if the notifier later exhausts delivery retries
		// the failure escalates instead of dropping silently.
		if err := e.sink.Notify(ctx, transport.Notification{
			Target:   transport.ChatTarget{ChatID: w.OwnerID},
			Priority: 7,
			Text:     msg,
		}); err != nil {
			// A Notify error means the alert never entered the queue.
			// Leave the old fingerprint so the change is re-detected
			// and re-notified next tick rather than silently lost.
			e.log.Warn("change notification failed", logx.String("url", w.URL), logx.Err(err))
			return
		}
		e.bus.Publish(eventbus.Event{Type: eventbus.TypeWatchChanged, Data: w.URL})
	} else {
		e.log.Info("change judged not meaningful", logx.String("url", w.URL))
	}
	if err := e.store.UpdateWatchResult(ctx, w.ID, fp, text, now); err != nil {
		e.log.Warn("fingerprint update failed", logx.String("id", w.ID), logx.Err(err))
	}
}

// assess asks the oracle whether the diff matters and for a summary.
// Any oracle trouble degrades to a plain changed notification rather
// than suppressing it.
func (e *Engine) assess(ctx context.Context, oldText, newText string) (bool, string) {
	const fallback = "The page content changed."
	if e.llm == nil {
		return true, fallback
	}
	prompt := fmt.Sprintf(`You monitor websites. Compare the old and new content below.
Ignore timestamps, tokens, ads and formatting noise.
Reply with ONLY a JSON object: {"changed": <bool>, "summary": "<what changed, concise>"}

OLD:
%s

NEW:
%s`, clip(oldText, maxOracleChars), clip(newText, maxOracleChars))

	reply, err := e.llm.Chat(ctx, []oracle.Message{{Role: oracle.RoleUser, Content: prompt}})
	if err != nil {
		e.log.Warn("change summary failed", logx.Err(err))
		return true, fallback
	}

	start := strings.Index(reply, "{")
	end := strings.LastIndex(reply, "}")
	if start < 0 || end <= start {
		return true, fallback
	}
	var verdict struct {
		Changed bool   `json:"changed"`
		Summary string `json:"summary"`
	}
	if err := json.Unmarshal([]byte(reply[start:end+1]), &verdict); err != nil {
		return true, fallback
	}
	if !verdict.Changed {
		return false, ""
	}
	if strings.TrimSpace(verdict.Summary) == "" {
		verdict.Summary = fallback
	}
	return true, verdict.Summary
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
