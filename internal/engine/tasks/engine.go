// Package tasks runs the persistent scheduled-task engine: reminders
// and workflows stored with a due time, fired at-least-once on a fixed
// tick cadence, rescheduled when recurring, retired when one-shot.
package tasks

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"aide/internal/eventbus"
	"aide/internal/storage"
	"aide/pkg/logx"
)

// Catch-up policies for recurring tasks after downtime. "all" keeps the
// exact grid (dueAt advances by whole intervals past now, firing once
// for the backlog); "skip" abandons the grid and resumes at now+I.
const (
	CatchUpAll  = "all"
	CatchUpSkip = "skip"
)

// Config tunes the engine. Zero values fall back to defaults.
type Config struct {
	Cadence     string // cron spec for the tick, default "@every 30s"
	CatchUp     string // CatchUpAll (default) or CatchUpSkip
	MaxFailures int    // consecutive failures before deactivation, default 5
	Timezone    string // IANA TZ for the cron clock, default local
}

// Runner executes one due task of a given kind. A nil error marks the
// firing successful; an error leaves the task due for the next tick.
type Runner func(ctx context.Context, t storage.Task) error

// Engine owns the tick loop. Runners are registered per task kind
// before Start; the set is fixed afterwards.
type Engine struct {
	cfg     Config
	store   storage.Store
	bus     eventbus.Bus
	log     logx.Logger
	runners map[string]Runner

	mu      sync.Mutex
	c       *cron.Cron
	ticking bool
	now     func() time.Time
}

func withDefaults(cfg Config) Config {
	if cfg.Cadence == "" {
		cfg.Cadence = "@every 30s"
	}
	if cfg.CatchUp == "" {
		cfg.CatchUp = CatchUpAll
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	return cfg
}

// New builds an engine. Register runners with Handle before Start.
func New(cfg Config, store storage.Store, bus eventbus.Bus, log logx.Logger) *Engine {
	return &Engine{
		cfg:     withDefaults(cfg),
		store:   store,
		bus:     bus,
		log:     log,
		runners: map[string]Runner{},
		now:     time.Now,
	}
}

// Handle registers the runner for a task kind. Not safe after Start.
func (e *Engine) Handle(kind string, r Runner) {
	e.runners[kind] = r
}

// Start spins up the cron ticker. The loop stops when ctx is done or
// Stop is called.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.c != nil {
		return nil
	}
	loc := time.Local
	if e.cfg.Timezone != "" {
		l, err := time.LoadLocation(e.cfg.Timezone)
		if err != nil {
			e.log.Warn("invalid timezone, using local", logx.String("tz", e.cfg.Timezone), logx.Err(err))
		} else {
			loc = l
		}
	}
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	c := cron.New(cron.WithParser(parser), cron.WithLocation(loc))
	if _, err := c.AddFunc(e.cfg.Cadence, func() { e.Tick(ctx) }); err != nil {
		return fmt.Errorf("tasks: bad cadence %q: %w", e.cfg.Cadence, err)
	}
	e.c = c
	c.Start()
	e.log.Info("task engine started",
		logx.String("cadence", e.cfg.Cadence),
		logx.String("catch_up", e.cfg.CatchUp))
	return nil
}

// Apply swaps the engine configuration at runtime. A cadence or
// timezone change restarts the cron clock; other fields take effect on
// the next tick.
func (e *Engine) Apply(ctx context.Context, cfg Config) error {
	cfg = withDefaults(cfg)
	e.mu.Lock()
	restart := e.c != nil && (cfg.Cadence != e.cfg.Cadence || cfg.Timezone != e.cfg.Timezone)
	e.cfg = cfg
	e.mu.Unlock()
	if !restart {
		return nil
	}
	e.Stop()
	return e.Start(ctx)
}

// Stop halts the ticker and waits for an in-flight tick to drain.
func (e *Engine) Stop() {
	e.mu.Lock()
	c := e.c
	e.c = nil
	e.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
}

// Tick runs one evaluation pass. Overlapping ticks collapse: if the
// previous pass is still running, this one is a no-op rather than a
// concurrent duplicate.
func (e *Engine) Tick(ctx context.Context) {
	e.mu.Lock()
	if e.ticking {
		e.mu.Unlock()
		return
	}
	e.ticking = true
	cfg := e.cfg
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.ticking = false
		e.mu.Unlock()
	}()

	now := e.now()
	due, err := e.store.DueTasks(ctx, now)
	if err != nil {
		e.log.Error("due query failed", logx.Err(err))
		return
	}
	if len(due) == 0 {
		return
	}

	// Owners run concurrently; within one owner, firings stay in dueAt
	// order so notifications arrive in the order they were scheduled.
	byOwner := map[int64][]storage.Task{}
	for _, t := range due {
		byOwner[t.OwnerID] = append(byOwner[t.OwnerID], t)
	}
	var wg sync.WaitGroup
	for _, group := range byOwner {
		group := group
		sort.SliceStable(group, func(i, j int) bool { return group[i].DueAt.Before(group[j].DueAt) })
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, t := range group {
				e.fire(ctx, t, now, cfg)
			}
		}()
	}
	wg.Wait()
}

func (e *Engine) fire(ctx context.Context, t storage.Task, now time.Time, cfg Config) {
	// Cancellation may have landed between the due query and this
	// firing. Re-read and skip inactive tasks so a cancelled task is
	// never delivered.
	fresh, err := e.store.GetTask(ctx, t.ID)
	if err != nil || !fresh.Active {
		return
	}
	t = fresh

	runner, ok := e.runners[t.Kind]
	if !ok {
		e.log.Error("no runner for task kind, deactivating",
			logx.String("id", t.ID), logx.String("kind", t.Kind))
		_ = e.store.CancelTask(ctx, t.ID)
		return
	}

	if err := e.safeRun(ctx, runner, t); err != nil {
		e.onFailure(ctx, t, err, cfg)
		return
	}

	e.bus.Publish(eventbus.Event{Type: eventbus.TypeTaskFired, Data: t.ID})
	if t.Interval > 0 {
		next := nextDue(t.DueAt, t.Interval, now, cfg.CatchUp)
		if err := e.store.RescheduleTask(ctx, t.ID, next); err != nil {
			// Cancelled mid-flight: the firing stands, the reschedule
			// is dropped.
			e.log.Debug("reschedule skipped", logx.String("id", t.ID), logx.Err(err))
		}
		return
	}
	if err := e.store.CompleteTask(ctx, t.ID); err != nil {
		e.log.Warn("complete failed", logx.String("id", t.ID), logx.Err(err))
	}
}

func (e *Engine) onFailure(ctx context.Context, t storage.Task, ferr error, cfg Config) {
	fails := t.FailCount + 1
	e.log.Warn("task firing failed",
		logx.String("id", t.ID),
		logx.String("kind", t.Kind),
		logx.Int("consecutive", fails),
		logx.Err(ferr))
	e.bus.Publish(eventbus.Event{Type: eventbus.TypeTaskFailed, Data: t.ID})

	if fails >= cfg.MaxFailures {
		if err := e.store.CancelTask(ctx, t.ID); err != nil {
			e.log.Error("deactivate failed", logx.String("id", t.ID), logx.Err(err))
			return
		}
		e.log.Error("task disabled after repeated failures",
			logx.String("id", t.ID),
			logx.Int("failures", fails))
		e.bus.Publish(eventbus.Event{Type: eventbus.TypeTaskDisabled, Data: t})
		return
	}
	if err := e.store.SetTaskFailures(ctx, t.ID, fails); err != nil {
		e.log.Warn("failure count update failed", logx.String("id", t.ID), logx.Err(err))
	}
}

func (e *Engine) safeRun(ctx context.Context, r Runner, t storage.Task) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("runner panic: %v", rec)
		}
	}()
	return r(ctx, t)
}

// nextDue computes the rescheduled due time for a recurring task.
func nextDue(dueAt time.Time, interval time.Duration, now time.Time, policy string) time.Time {
	if policy == CatchUpSkip {
		return now.Add(interval)
	}
	next := dueAt.Add(interval)
	// Downtime may have left the grid several intervals behind; advance
	// in whole steps so the cadence stays anchored to the original
	// schedule without firing once per missed interval.
	for !next.After(now) {
		next = next.Add(interval)
	}
	return next
}
