package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"wafleet/internal/eventbus"
)

// Watch tails the event bus and turns lifecycle trouble into alerts.
// Call it on its own goroutine; it returns when ctx is canceled.
func (s *Service) Watch(ctx context.Context, bus eventbus.Bus) {
	if bus == nil {
		return
	}
	ch, unsub := bus.Subscribe(64)
	defer unsub()

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			if a, ok := alertFor(e); ok {
				_ = s.Notify(ctx, a)
			}
		}
	}
}

func alertFor(e eventbus.Event) (Alert, bool) {
	switch e.Type {
	case eventbus.TypeLifecycleTransition:
		t, ok := e.Data.(eventbus.LifecycleTransition)
		if !ok || !strings.HasPrefix(t.To, "error_") {
			return Alert{}, false
		}
		detail := t.Error
		if detail == "" {
			detail = t.Detail
		}
		return Alert{
			Key:      "lifecycle:" + t.Bot + ":" + t.To,
			Priority: 9,
			Text:     fmt.Sprintf("bot %s entered %s (%s)", t.Bot, t.To, detail),
		}, true

	case eventbus.TypeRecoverySuspended:
		r, ok := e.Data.(eventbus.RecoverySuspended)
		if !ok {
			return Alert{}, false
		}
		return Alert{
			Key:      "recovery_suspended:" + r.Bot,
			Priority: 9,
			Text: fmt.Sprintf("bot %s recovery suspended in %s; retries resume at %s",
				r.Bot, r.State, r.ResetAt.Format(time.RFC3339)),
		}, true

	case eventbus.TypeRecoveryAttempt:
		r, ok := e.Data.(eventbus.RecoveryAttempt)
		if !ok {
			return Alert{}, false
		}
		mode := "reinit"
		if r.Fresh {
			mode = "fresh reinit"
		}
		return Alert{
			Key:      "recovery:" + r.Bot,
			Priority: 5,
			Text:     fmt.Sprintf("bot %s: %s from %s (%d attempts left)", r.Bot, mode, r.State, r.Remaining),
		}, true
	}
	return Alert{}, false
}
