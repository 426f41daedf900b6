package session

import (
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"wafleet/internal/eventbus"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestMachineStartsInitializing(t *testing.T) {
	m := NewMachine("bot-a", 10, discardLogger(), nil)
	snap := m.Current()
	if snap.State != StateInitializing {
		t.Fatalf("initial state = %s", snap.State)
	}
	if snap.At.IsZero() {
		t.Fatalf("initial snapshot missing timestamp")
	}
}

func TestMachineTransitionsAndHistory(t *testing.T) {
	m := NewMachine("bot-a", 10, discardLogger(), nil)
	m.Set(StateBrowserLaunch, "launching")
	m.Set(StateWaitingForQR, "waiting")
	m.OnQR()
	m.OnAuthenticated()
	m.Set(StateConnected, "session open")
	m.OnReady()

	if got := m.Current().State; got != StateReady {
		t.Fatalf("state = %s, want %s", got, StateReady)
	}

	h := m.History()
	if len(h) != 6 {
		t.Fatalf("history len = %d, want 6", len(h))
	}
	if h[0].From != StateInitializing || h[0].To != StateBrowserLaunch {
		t.Fatalf("first transition wrong: %+v", h[0])
	}
	last := h[len(h)-1]
	if last.To != StateReady || last.At.IsZero() {
		t.Fatalf("last transition wrong: %+v", last)
	}
}

func TestMachineHistoryBounded(t *testing.T) {
	m := NewMachine("bot-a", 5, discardLogger(), nil)
	for i := 0; i < 20; i++ {
		m.Set(StateReconnecting, "spin")
	}
	if got := len(m.History()); got != 5 {
		t.Fatalf("history len = %d, want 5", got)
	}
}

func TestGateRejectsWhenNotReady(t *testing.T) {
	m := NewMachine("bot-a", 10, discardLogger(), nil)
	m.Set(StateWaitingForQR, "pairing pending")

	err := m.Gate()
	if err == nil {
		t.Fatalf("gate must reject in waiting_for_qr")
	}
	var nre *NotReadyError
	if !errors.As(err, &nre) {
		t.Fatalf("want *NotReadyError, got %T", err)
	}
	if nre.State != StateWaitingForQR {
		t.Fatalf("rejection state = %s", nre.State)
	}
	if nre.Since.IsZero() {
		t.Fatalf("rejection must carry the last transition timestamp")
	}
}

func TestGateAllowsConnectedAndReady(t *testing.T) {
	m := NewMachine("bot-a", 10, discardLogger(), nil)
	for _, s := range []State{StateConnected, StateReady} {
		m.Set(s, "up")
		if err := m.Gate(); err != nil {
			t.Fatalf("gate rejected %s: %v", s, err)
		}
	}
}

func TestMachinePublishesTransitions(t *testing.T) {
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(4)
	defer unsub()

	m := NewMachine("bot-a", 10, discardLogger(), bus)
	m.OnDisconnected("socket closed")

	select {
	case e := <-ch:
		tr, ok := e.Data.(eventbus.LifecycleTransition)
		if !ok {
			t.Fatalf("payload type %T", e.Data)
		}
		if tr.To != string(StateDisconnected) || tr.Detail != "socket closed" {
			t.Fatalf("unexpected transition %+v", tr)
		}
	case <-time.After(time.Second):
		t.Fatalf("no transition event published")
	}
}

func TestOnErrorRouting(t *testing.T) {
	cases := []struct {
		err  string
		want State
	}{
		{"Protocol error (Runtime.callFunctionOn): Target closed.", StateErrorBrowser},
		{"net::ERR_INTERNET_DISCONNECTED", StateErrorConnection},
		{"navigation timeout of 30000 ms exceeded... connection reset", StateErrorConnection},
		{"something odd happened", StateErrorUnknown},
	}
	for _, tc := range cases {
		m := NewMachine("bot-a", 10, discardLogger(), nil)
		m.OnError(errors.New(tc.err))
		if got := m.Current().State; got != tc.want {
			t.Fatalf("OnError(%q) -> %s, want %s", tc.err, got, tc.want)
		}
	}
}

func TestAuthFailure(t *testing.T) {
	m := NewMachine("bot-a", 10, discardLogger(), nil)
	m.OnAuthFailure("invalid session payload")
	if got := m.Current().State; got != StateErrorAuth {
		t.Fatalf("state = %s", got)
	}
	h := m.History()
	if h[len(h)-1].Detail != "invalid session payload" {
		t.Fatalf("detail lost: %+v", h[len(h)-1])
	}
}
