package notify

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"wafleet/internal/eventbus"
	logx "wafleet/pkg/logx"
)

type fakeSender struct {
	mu    sync.Mutex
	sent  []string
	fails int // fail this many calls before succeeding
}

func (f *fakeSender) SendAlert(ctx context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fails > 0 {
		f.fails--
		return errors.New("telegram unreachable")
	}
	f.sent = append(f.sent, text)
	return nil
}

func (f *fakeSender) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func startService(t *testing.T, cfg Config, snd Sender) *Service {
	t.Helper()
	cfg.Enabled = true
	if cfg.RatePerSec == 0 {
		cfg.RatePerSec = 100
	}
	s := New(cfg, snd, logx.Nop(), nil)
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition never satisfied")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestNotifyDelivers(t *testing.T) {
	snd := &fakeSender{}
	s := startService(t, Config{}, snd)

	if err := s.Notify(context.Background(), Alert{Key: "k", Priority: 9, Text: "session down"}); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	waitFor(t, func() bool { return len(snd.texts()) == 1 })
	if got := snd.texts()[0]; !strings.Contains(got, "session down") || !strings.HasPrefix(got, "\U0001F6A8") {
		t.Fatalf("alert text = %q", got)
	}
}

func TestNotifyDedupWindow(t *testing.T) {
	snd := &fakeSender{}
	s := startService(t, Config{DedupWindow: time.Minute}, snd)

	for i := 0; i < 5; i++ {
		_ = s.Notify(context.Background(), Alert{Key: "same", Priority: 9, Text: "flap"})
	}
	waitFor(t, func() bool { return len(snd.texts()) >= 1 })
	time.Sleep(50 * time.Millisecond)
	if got := len(snd.texts()); got != 1 {
		t.Fatalf("deduped alert sent %d times", got)
	}
}

func TestNotifyRetries(t *testing.T) {
	snd := &fakeSender{fails: 2}
	s := startService(t, Config{RetryMax: 3, RetryBase: time.Millisecond}, snd)

	if err := s.Notify(context.Background(), Alert{Key: "r", Priority: 7, Text: "retry me"}); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	waitFor(t, func() bool { return len(snd.texts()) == 1 })
}

func TestNotifyDisabled(t *testing.T) {
	s := New(Config{}, &fakeSender{}, logx.Nop(), nil)
	s.Start(context.Background())
	if err := s.Notify(context.Background(), Alert{Text: "x"}); !errors.Is(err, ErrDisabled) {
		t.Fatalf("want ErrDisabled, got %v", err)
	}
}

func TestWatchConvertsLifecycleErrors(t *testing.T) {
	snd := &fakeSender{}
	s := startService(t, Config{}, snd)
	bus := eventbus.New()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Watch(ctx, bus)

	// Give the subscriber a moment to attach.
	time.Sleep(20 * time.Millisecond)
	bus.Publish(eventbus.Event{
		Type: eventbus.TypeLifecycleTransition,
		Data: eventbus.LifecycleTransition{Bot: "bot-a", From: "ready", To: "error_connection", Error: "net::ERR_FAILED", At: time.Now()},
	})
	bus.Publish(eventbus.Event{
		Type: eventbus.TypeLifecycleTransition,
		Data: eventbus.LifecycleTransition{Bot: "bot-a", From: "initializing", To: "ready", At: time.Now()},
	})

	waitFor(t, func() bool { return len(snd.texts()) >= 1 })
	time.Sleep(50 * time.Millisecond)
	got := snd.texts()
	if len(got) != 1 || !strings.Contains(got[0], "error_connection") {
		t.Fatalf("alerts = %v", got)
	}
}

func TestAlertForRecoverySuspended(t *testing.T) {
	a, ok := alertFor(eventbus.Event{
		Type: eventbus.TypeRecoverySuspended,
		Data: eventbus.RecoverySuspended{Bot: "bot-a", State: "error_browser", ResetAt: time.Now().Add(time.Hour)},
	})
	if !ok || a.Priority != 9 || !strings.Contains(a.Text, "recovery suspended") {
		t.Fatalf("alert = %+v ok=%v", a, ok)
	}
}
