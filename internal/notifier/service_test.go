package notifier

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"aide/internal/eventbus"
	"aide/internal/transport"
	"aide/pkg/logx"
)

type fakeAdapter struct {
	mu       sync.Mutex
	sent     []string
	failNext int
}

func (a *fakeAdapter) Start(_ context.Context, _ chan<- transport.Message) error { return nil }
func (a *fakeAdapter) Stop(_ context.Context) error                              { return nil }

func (a *fakeAdapter) SendText(_ context.Context, to transport.ChatTarget, text string, _ *transport.SendOptions) (transport.MessageRef, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.failNext > 0 {
		a.failNext--
		return transport.MessageRef{}, errors.New("flood control")
	}
	a.sent = append(a.sent, text)
	return transport.MessageRef{ChatID: to.ChatID, MessageID: len(a.sent)}, nil
}

func (a *fakeAdapter) snapshot() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.sent...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestDeliversQueuedNotifications(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{}
	s := New(Config{RatePerSec: 100}, ad, eventbus.New(), logx.Nop())
	ctx := context.Background()
	s.Start(ctx)
	defer s.Stop(ctx)

	if err := s.Notify(ctx, transport.Notification{Target: transport.ChatTarget{ChatID: 1}, Text: "hello"}); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	waitFor(t, func() bool { return len(ad.snapshot()) == 1 })
	if got := ad.snapshot()[0]; got != "hello" {
		t.Fatalf("sent = %q", got)
	}
}

func TestRetriesTransientSendFailure(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{failNext: 2}
	s := New(Config{RatePerSec: 100, RetryMax: 3, RetryBase: 5 * time.Millisecond}, ad, eventbus.New(), logx.Nop())
	ctx := context.Background()
	s.Start(ctx)
	defer s.Stop(ctx)

	if err := s.Notify(ctx, transport.Notification{Target: transport.ChatTarget{ChatID: 1}, Text: "retry me"}); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	waitFor(t, func() bool { return len(ad.snapshot()) == 1 })
}

func TestAbandonedDeliveryEscalates(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{failNext: 100}
	bus := eventbus.New()
	events, unsub := bus.Subscribe(32)
	defer unsub()

	s := New(Config{RatePerSec: 100, RetryMax: 1, RetryBase: time.Millisecond}, ad, bus, logx.Nop())
	ctx := context.Background()
	s.Start(ctx)
	defer s.Stop(ctx)

	if err := s.Notify(ctx, transport.Notification{Target: transport.ChatTarget{ChatID: 1}, Priority: 9, Text: "urgent"}); err != nil {
		t.Fatalf("Notify: %v", err)
	}

	var failed, escalated bool
	deadline := time.After(3 * time.Second)
	for !(failed && escalated) {
		select {
		case ev := <-events:
			switch ev.Type {
			case eventbus.TypeNotifyFailed:
				failed = true
			case eventbus.TypeNotifyEscalate:
				escalated = true
			}
		case <-deadline:
			t.Fatalf("missing events: failed=%v escalated=%v", failed, escalated)
		}
	}
}

func TestDedupWindowSwallowsRepeats(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{}
	s := New(Config{RatePerSec: 100, DedupWindow: time.Minute}, ad, eventbus.New(), logx.Nop())
	ctx := context.Background()
	s.Start(ctx)
	defer s.Stop(ctx)

	n := transport.Notification{Target: transport.ChatTarget{ChatID: 1}, Text: "same alert"}
	for i := 0; i < 5; i++ {
		if err := s.Notify(ctx, n); err != nil {
			t.Fatalf("Notify #%d: %v", i, err)
		}
	}
	waitFor(t, func() bool { return len(ad.snapshot()) == 1 })
	time.Sleep(50 * time.Millisecond)
	if got := len(ad.snapshot()); got != 1 {
		t.Fatalf("delivered %d, want 1 within dedup window", got)
	}
}

func TestHighPriorityGetsPrefix(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{}
	s := New(Config{RatePerSec: 100}, ad, eventbus.New(), logx.Nop())
	ctx := context.Background()
	s.Start(ctx)
	defer s.Stop(ctx)

	if err := s.Notify(ctx, transport.Notification{Target: transport.ChatTarget{ChatID: 1}, Priority: 9, Text: "disk full"}); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	waitFor(t, func() bool { return len(ad.snapshot()) == 1 })
	if got := ad.snapshot()[0]; !strings.HasSuffix(got, "disk full") || got == "disk full" {
		t.Fatalf("sent = %q, want a priority prefix", got)
	}
}

func TestNotifyAfterStopReturnsErrStopped(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{}
	s := New(Config{RatePerSec: 100}, ad, eventbus.New(), logx.Nop())
	ctx := context.Background()
	s.Start(ctx)
	s.Stop(ctx)

	err := s.Notify(ctx, transport.Notification{Target: transport.ChatTarget{ChatID: 1}, Text: "late"})
	if !errors.Is(err, ErrStopped) {
		t.Fatalf("err = %v, want ErrStopped", err)
	}
}
