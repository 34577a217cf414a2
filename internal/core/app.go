// Package core assembles the application: config, logging, storage,
// transport, the skill registry, the dispatcher and the two engines,
// all supervised under one context.
package core

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"aide/internal/config"
	"aide/internal/dispatch"
	"aide/internal/engine/monitor"
	"aide/internal/engine/tasks"
	"aide/internal/eventbus"
	"aide/internal/notifier"
	"aide/internal/oracle"
	rtsup "aide/internal/runtime/supervisor"
	"aide/internal/skill"
	"aide/internal/skills/notes"
	"aide/internal/skills/reminders"
	"aide/internal/skills/watch"
	"aide/internal/skills/workflows"
	"aide/internal/storage"
	"aide/internal/transport"
	"aide/internal/transport/telegram"
	"aide/pkg/logx"
)

const inboundBuffer = 256

type App struct {
	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service

	store   storage.Store
	adapter *telegram.Adapter
	bus     eventbus.Bus
	llm     *oracle.HTTPClient

	reg   *skill.Registry
	disp  *dispatch.Dispatcher
	notif *notifier.Service
	tasks *tasks.Engine
	mon   *monitor.Engine

	ownerMu sync.RWMutex
	owners  map[int64]struct{}

	inbound chan transport.Message
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath, logx.NewConsole("info"))
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logs, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	busyTimeout, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		logs.Close()
		return nil, err
	}
	store, err := storage.Open(storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busyTimeout,
	}, log.With(logx.String("comp", "storage")))
	if err != nil {
		logs.Close()
		return nil, err
	}

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		store.Close()
		logs.Close()
		return nil, err
	}
	adapter, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, log.With(logx.String("comp", "telegram")))
	if err != nil {
		store.Close()
		logs.Close()
		return nil, err
	}

	bus := eventbus.New()

	oracleTimeout, _ := config.ParseDurationField("oracle.timeout", cfg.Oracle.Timeout)
	llm := oracle.NewHTTP(oracle.HTTPConfig{
		BaseURL:     cfg.Oracle.BaseURL,
		APIKey:      cfg.Oracle.APIKey,
		Model:       cfg.Oracle.Model,
		Temperature: cfg.Oracle.Temperature,
		Timeout:     oracleTimeout,
	}, log.With(logx.String("comp", "oracle")))

	notif := notifier.New(notifierConfig(cfg.Notifier), adapter, bus, log.With(logx.String("comp", "notifier")))

	reg := skill.NewRegistry()
	if err := registerSkills(reg, store); err != nil {
		store.Close()
		logs.Close()
		return nil, err
	}

	disp := dispatch.New(reg, llm, store, log.With(logx.String("comp", "dispatch")))

	taskEngine := tasks.New(tasks.Config{
		Cadence:     cfg.Tasks.Cadence,
		CatchUp:     cfg.Tasks.CatchUp,
		MaxFailures: cfg.Tasks.MaxFailures,
		Timezone:    cfg.Tasks.Timezone,
	}, store, bus, log.With(logx.String("comp", "tasks")))
	taskEngine.Handle(storage.KindReminder, reminderRunner(notif))
	taskEngine.Handle(storage.KindWorkflow, workflows.Runner(store, notif))

	fetchTimeout, _ := config.ParseDurationField("monitor.fetch_timeout", cfg.Monitor.FetchTimeout)
	mon := monitor.New(monitor.Config{
		Cadence:      cfg.Monitor.Cadence,
		FetchTimeout: fetchTimeout,
	}, store, monitor.NewHTTPFetcher(fetchTimeout), llm, notif, bus, log.With(logx.String("comp", "monitor")))

	owners := make(map[int64]struct{}, len(cfg.Telegram.OwnerUserIDs))
	for _, id := range cfg.Telegram.OwnerUserIDs {
		owners[id] = struct{}{}
	}

	return &App{
		cfgm:    cfgm,
		log:     log,
		logs:    logs,
		store:   store,
		adapter: adapter,
		bus:     bus,
		llm:     llm,
		reg:     reg,
		disp:    disp,
		notif:   notif,
		tasks:   taskEngine,
		mon:     mon,
		owners:  owners,
		inbound: make(chan transport.Message, inboundBuffer),
	}, nil
}

// registerSkills wires every capability package into the registry.
// A duplicate name here is a programming error and fails startup.
func registerSkills(reg *skill.Registry, store storage.Store) error {
	if err := reg.RegisterAll(reminders.Descriptors(store)...); err != nil {
		return err
	}
	if err := reg.RegisterAll(notes.Descriptors(store)...); err != nil {
		return err
	}
	if err := reg.RegisterAll(watch.Descriptors(store)...); err != nil {
		return err
	}
	if err := reg.RegisterAll(workflows.Descriptors(store)...); err != nil {
		return err
	}
	return reg.Register(skill.Descriptor{
		Name:        "CLEAR_MEMORY",
		Description: "Forget the conversation so far. Use for 'forget everything', 'clear our chat'.",
		Handler: func(ctx context.Context, c skill.Caller, _ map[string]string) (string, error) {
			if err := store.ClearHistory(ctx, c.OwnerID); err != nil {
				return "", err
			}
			return "Done. I've forgotten our conversation.", nil
		},
	})
}

// reminderRunner delivers a fired reminder to its owner through the
// notification pipeline.
func reminderRunner(sink tasksSink) tasks.Runner {
	return func(ctx context.Context, t storage.Task) error {
		return sink.Notify(ctx, transport.Notification{
			Target:   transport.ChatTarget{ChatID: t.OwnerID},
			Priority: 5,
			Text:     "Reminder: " + t.Payload,
		})
	}
}

type tasksSink interface {
	Notify(ctx context.Context, n transport.Notification) error
}

// Done is closed when the supervisor context ends (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	a.notif.Start(a.sup.Context())

	if err := a.adapter.Start(a.sup.Context(), a.inbound); err != nil {
		return err
	}
	if err := a.tasks.Start(a.sup.Context()); err != nil {
		return err
	}
	if err := a.mon.Start(a.sup.Context()); err != nil {
		return err
	}

	a.sup.Go("messages", func(c context.Context) error {
		return a.messageLoop(c)
	})

	events, unsub := a.bus.Subscribe(32)
	a.sup.Go("events", func(c context.Context) error {
		defer unsub()
		return a.eventLoop(c, events)
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-c.Done():
				return nil
			case cfg, ok := <-sub:
				if !ok {
					return nil
				}
				// Coalesce bursts; only the newest config matters.
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							cfg = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				a.applyConfig(cfg)
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	if err := a.adapter.UpdateMenuCommands(a.sup.Context(), menuCommands()); err != nil {
		a.log.Warn("command menu update failed", logx.Err(err))
	}

	a.log.Info("started")
	return nil
}

// applyConfig applies a hot-reloaded config to the live components.
// Storage and the Telegram token cannot change without a restart.
func (a *App) applyConfig(cfg *config.Config) {
	if cfg == nil {
		return
	}
	a.logs.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	a.llm.SetModel(cfg.Oracle.Model)
	a.notif.Apply(notifierConfig(cfg.Notifier))

	if err := a.tasks.Apply(a.sup.Context(), tasks.Config{
		Cadence:     cfg.Tasks.Cadence,
		CatchUp:     cfg.Tasks.CatchUp,
		MaxFailures: cfg.Tasks.MaxFailures,
		Timezone:    cfg.Tasks.Timezone,
	}); err != nil {
		a.log.Error("task engine config apply failed", logx.Err(err))
	}
	fetchTimeout, _ := config.ParseDurationField("monitor.fetch_timeout", cfg.Monitor.FetchTimeout)
	if err := a.mon.Apply(a.sup.Context(), monitor.Config{
		Cadence:      cfg.Monitor.Cadence,
		FetchTimeout: fetchTimeout,
	}); err != nil {
		a.log.Error("monitor config apply failed", logx.Err(err))
	}

	owners := make(map[int64]struct{}, len(cfg.Telegram.OwnerUserIDs))
	for _, id := range cfg.Telegram.OwnerUserIDs {
		owners[id] = struct{}{}
	}
	a.ownerMu.Lock()
	a.owners = owners
	a.ownerMu.Unlock()

	a.log.Info("config applied")
}

func notifierConfig(nc config.NotifierConfig) notifier.Config {
	retryBase, _ := config.ParseDurationField("notifier.retry_base", nc.RetryBase)
	retryMaxDelay, _ := config.ParseDurationField("notifier.retry_max_delay", nc.RetryMaxDelay)
	dedupWindow, _ := config.ParseDurationField("notifier.dedup_window", nc.DedupWindow)
	return notifier.Config{
		Workers:       nc.Workers,
		QueueSize:     nc.QueueSize,
		RatePerSec:    nc.RatePerSec,
		RetryMax:      nc.RetryMax,
		RetryBase:     retryBase,
		RetryMaxDelay: retryMaxDelay,
		DedupWindow:   dedupWindow,
	}
}

func (a *App) isOwner(id int64) bool {
	a.ownerMu.RLock()
	_, ok := a.owners[id]
	a.ownerMu.RUnlock()
	return ok
}

// eventLoop surfaces lifecycle events that warrant an operator's
// attention; routine events stay at debug.
func (a *App) eventLoop(ctx context.Context, events <-chan eventbus.Event) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			switch ev.Type {
			case eventbus.TypeTaskDisabled:
				a.log.Warn("event", logx.String("type", ev.Type), logx.Any("data", ev.Data))
				// Tell the owner their task died; this goes around the
				// engine so a broken runner can't swallow its own alert.
				if t, ok := ev.Data.(storage.Task); ok {
					if err := a.notif.Notify(ctx, transport.Notification{
						Target:   transport.ChatTarget{ChatID: t.OwnerID},
						Priority: 8,
						Text:     fmt.Sprintf("I've disabled %q after repeated failures. Re-schedule it to try again.", t.Payload),
					}); err != nil {
						a.log.Error("disable alert failed", logx.Err(err))
					}
				}
			case eventbus.TypeNotifyFailed, eventbus.TypeNotifyEscalate:
				a.log.Warn("event", logx.String("type", ev.Type), logx.Any("data", ev.Data))
			default:
				a.log.Debug("event", logx.String("type", ev.Type), logx.Any("data", ev.Data))
			}
		}
	}
}

func (a *App) messageLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-a.inbound:
			if !ok {
				return nil
			}
			a.handleMessage(ctx, msg)
		}
	}
}

func (a *App) handleMessage(ctx context.Context, msg transport.Message) {
	if !a.isOwner(msg.FromID) {
		a.log.Debug("message from non-owner ignored", logx.Int64("from", msg.FromID))
		return
	}
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}

	caller := skill.Caller{OwnerID: msg.FromID, ChatID: msg.ChatID, Username: msg.FromUsername}

	reply, handled := a.handleCommand(ctx, caller, text)
	if !handled {
		res, err := a.disp.Dispatch(ctx, caller, text)
		if err != nil {
			a.log.Warn("dispatch degraded", logx.Err(err))
		}
		reply = res.Reply
		if res.Capability != "" {
			a.log.Info("capability invoked",
				logx.String("capability", res.Capability), logx.Int64("owner", caller.OwnerID))
		}
	}
	if reply == "" {
		return
	}
	if _, err := a.adapter.SendText(ctx, transport.ChatTarget{ChatID: msg.ChatID}, reply, nil); err != nil {
		a.log.Error("reply send failed", logx.Int64("chat", msg.ChatID), logx.Err(err))
	}
}

// handleCommand serves the slash commands. They bypass the oracle and
// call the same capability handlers the dispatcher would.
func (a *App) handleCommand(ctx context.Context, caller skill.Caller, text string) (string, bool) {
	if !strings.HasPrefix(text, "/") {
		return "", false
	}
	cmd := strings.ToLower(strings.Fields(text)[0])
	if i := strings.IndexByte(cmd, '@'); i > 0 {
		cmd = cmd[:i]
	}

	invoke := func(name string) string {
		d, err := a.reg.Resolve(name)
		if err != nil {
			return "That isn't available right now."
		}
		out, err := d.Handler(ctx, caller, map[string]string{})
		if err != nil {
			a.log.Error("command handler failed", logx.String("capability", name), logx.Err(err))
			return "Something went wrong, sorry."
		}
		return out
	}

	switch cmd {
	case "/start":
		return "Hi! Tell me things like 'remind me to stretch in an hour', 'note that the wifi password changed', or 'watch example.com/releases'. /help lists everything I can do.", true
	case "/help":
		return a.helpText(), true
	case "/reminders":
		return invoke("QUERY_SCHEDULE"), true
	case "/notes":
		return invoke("LIST_NOTES"), true
	case "/watches":
		return invoke("LIST_WATCHES"), true
	case "/workflows":
		return invoke("LIST_WORKFLOWS"), true
	case "/forget":
		return invoke("CLEAR_MEMORY"), true
	default:
		return "Unknown command. Try /help.", true
	}
}

func (a *App) helpText() string {
	var b strings.Builder
	b.WriteString("I understand plain language. Capabilities:\n")
	for _, d := range a.reg.List() {
		fmt.Fprintf(&b, "• %s", d.Name)
		if len(d.Params) > 0 {
			names := make([]string, 0, len(d.Params))
			for _, p := range d.Params {
				names = append(names, p.Name)
			}
			fmt.Fprintf(&b, " (%s)", strings.Join(names, ", "))
		}
		b.WriteString("\n")
	}
	b.WriteString("\nCommands: /reminders /notes /watches /workflows /forget")
	return b.String()
}

func menuCommands() []transport.BotCommand {
	return []transport.BotCommand{
		{Command: "start", Description: "What this assistant does"},
		{Command: "help", Description: "List capabilities"},
		{Command: "reminders", Description: "Upcoming reminders"},
		{Command: "notes", Description: "Recent notes"},
		{Command: "watches", Description: "Monitored sites"},
		{Command: "workflows", Description: "Scheduled workflows"},
		{Command: "forget", Description: "Clear conversation memory"},
	}
}

func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping")
	a.sup.Cancel()

	// Bound each shutdown step so one stuck component can't stall the rest.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		if dl, ok := ctx.Deadline(); ok {
			if rem := time.Until(dl); rem > 0 && rem < max {
				max = rem
			}
		}
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()
		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached", logx.String("name", name))
		}
	}

	step("monitor", 2*time.Second, func(context.Context) error { a.mon.Stop(); return nil })
	step("tasks", 2*time.Second, func(context.Context) error { a.tasks.Stop(); return nil })
	step("notifier", 3*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("storage", 1*time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		a.logs.Close()
	}
	return nil
}
