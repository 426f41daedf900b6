package storage

import (
	"context"

	"wafleet/internal/eventbus"
	logx "wafleet/pkg/logx"
)

// Recorder tails the event bus and writes diagnostics records. Writes are
// best effort: a failed append is logged at debug and dropped.
type Recorder struct {
	store Store
	log   logx.Logger
}

func NewRecorder(store Store, log logx.Logger) *Recorder {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Recorder{store: store, log: log}
}

// Run consumes events until ctx is canceled. Call it on its own
// goroutine.
func (r *Recorder) Run(ctx context.Context, bus eventbus.Bus) {
	if r.store == nil || bus == nil {
		return
	}
	ch, unsub := bus.Subscribe(128)
	defer unsub()

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			r.record(ctx, e)
		}
	}
}

func (r *Recorder) record(ctx context.Context, e eventbus.Event) {
	switch e.Type {
	case eventbus.TypeLifecycleTransition:
		t, ok := e.Data.(eventbus.LifecycleTransition)
		if !ok {
			return
		}
		detail := t.Detail
		if t.Error != "" {
			detail = t.Error
		}
		err := r.store.AppendTransition(ctx, TransitionEntry{
			At: t.At, Bot: t.Bot, From: t.From, To: t.To, Detail: detail,
		})
		if err != nil {
			r.log.Debug("transition record dropped", logx.Any("err", err))
		}

	case eventbus.TypeDispatchDone:
		d, ok := e.Data.(eventbus.DispatchDone)
		if !ok {
			return
		}
		for _, o := range d.Outcomes {
			err := r.store.AppendOutcome(ctx, OutcomeEntry{
				At:        o.At,
				Bot:       d.Bot,
				RequestID: d.RequestID,
				Pathway:   d.Pathway,
				Recipient: o.Recipient,
				Sent:      o.Sent,
				ErrorType: o.ErrorType,
				Error:     o.Error,
			})
			if err != nil {
				r.log.Debug("outcome record dropped", logx.Any("err", err))
				return
			}
		}
	}
}
