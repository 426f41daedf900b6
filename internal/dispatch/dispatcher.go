package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"wafleet/internal/recipient"
	"wafleet/internal/route"
	"wafleet/internal/session"
)

// Outcome is the per-recipient result of one fan-out.
type Outcome struct {
	Recipient recipient.Recipient
	Sent      bool
	Err       *SendError // nil when Sent
	At        time.Time
}

// Result aggregates a fan-out. Every input recipient appears in exactly
// one of Sent or Errors, never both, never omitted.
type Result struct {
	Sent   []recipient.Recipient
	Errors []Outcome
}

// Status is the tri-state aggregate the surrounding layer maps to an HTTP
// status (200 / 207 / 500).
type Status int

const (
	StatusAllSent Status = iota
	StatusPartial
	StatusNoneSent
)

func (s Status) String() string {
	switch s {
	case StatusAllSent:
		return "all_sent"
	case StatusPartial:
		return "partial"
	default:
		return "none_sent"
	}
}

// HTTPStatus returns the HTTP code convention of the surrounding layer.
func (s Status) HTTPStatus() int {
	switch s {
	case StatusAllSent:
		return 200
	case StatusPartial:
		return 207
	default:
		return 500
	}
}

// Status derives the aggregate: all sent, none sent, or mixed.
func (r Result) Status() Status {
	switch {
	case len(r.Errors) == 0:
		return StatusAllSent
	case len(r.Sent) == 0:
		return StatusNoneSent
	default:
		return StatusPartial
	}
}

// DispatcherConfig bounds the fan-out.
type DispatcherConfig struct {
	// RatePerSec limits send issuance across recipients; 0 disables the
	// limiter (naive fan-out, fine at tens of recipients).
	RatePerSec int
}

// Dispatcher invokes the send capability once per recipient concurrently.
// No recipient's failure or latency blocks another's attempt; the group vs
// phone difference is only the identifier format, so one orchestration
// path serves every pathway.
type Dispatcher struct {
	client  session.Client
	log     *slog.Logger
	limiter *rate.Limiter
}

func NewDispatcher(cfg DispatcherConfig, client session.Client, log *slog.Logger) *Dispatcher {
	limit, burst := limiterParams(cfg.RatePerSec)
	return &Dispatcher{
		client:  client,
		log:     log,
		limiter: rate.NewLimiter(limit, burst),
	}
}

func limiterParams(perSec int) (rate.Limit, int) {
	if perSec <= 0 {
		return rate.Inf, 1
	}
	return rate.Limit(perSec), perSec
}

// SetRate swaps the send rate at runtime. 0 removes the cap.
// rate.Limiter supports this concurrently with in-flight Waits.
func (d *Dispatcher) SetRate(perSec int) {
	limit, burst := limiterParams(perSec)
	d.limiter.SetLimit(limit)
	d.limiter.SetBurst(burst)
}

// Dispatch fans plan out to every recipient and collects outcomes. Once
// dispatched there is no mid-flight cancellation: each attempt runs to
// completion (success or classified failure).
func (d *Dispatcher) Dispatch(ctx context.Context, plan route.Plan) Result {
	targets := plan.Recipients

	var (
		mu       sync.Mutex
		outcomes = make([]Outcome, 0, len(targets))
		wg       sync.WaitGroup
	)
	for _, tgt := range targets {
		wg.Add(1)
		go func(tgt recipient.Recipient) {
			defer wg.Done()
			out := d.sendOne(ctx, plan, tgt)
			mu.Lock()
			outcomes = append(outcomes, out)
			mu.Unlock()
		}(tgt)
	}
	wg.Wait()

	var res Result
	for _, out := range outcomes {
		if out.Sent {
			res.Sent = append(res.Sent, out.Recipient)
		} else {
			res.Errors = append(res.Errors, out)
		}
	}
	return res
}

func (d *Dispatcher) sendOne(ctx context.Context, plan route.Plan, tgt recipient.Recipient) Outcome {
	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			return Outcome{
				Recipient: tgt,
				Err:       &SendError{Kind: KindClientNotReady, Detail: err.Error()},
				At:        time.Now(),
			}
		}
	}

	jid := tgt.JID()
	err := d.deliver(ctx, plan, jid)
	at := time.Now()
	if err == nil {
		return Outcome{Recipient: tgt, Sent: true, At: at}
	}

	se := Classify(err)
	if se.Ignorable() {
		// Post-send noise: the message almost certainly left the wire.
		d.log.Debug("ignoring post-send error",
			slog.String("recipient", tgt.Value),
			slog.String("kind", string(se.Kind)),
			slog.String("detail", se.Detail),
		)
		return Outcome{Recipient: tgt, Sent: true, At: at}
	}

	d.log.Warn("send failed",
		slog.String("recipient", tgt.Value),
		slog.String("pathway", plan.Pathway.String()),
		slog.String("kind", string(se.Kind)),
		slog.String("detail", se.Detail),
	)
	return Outcome{Recipient: tgt, Err: se, At: at}
}

// deliver issues the actual send call(s) for one recipient.
func (d *Dispatcher) deliver(ctx context.Context, plan route.Plan, jid string) error {
	if plan.Attachment == nil {
		return d.client.SendText(ctx, jid, plan.Body)
	}
	if err := d.client.SendMedia(ctx, jid, plan.Attachment, plan.Caption, plan.VoiceNote); err != nil {
		return err
	}
	if plan.SeparateBody {
		// Document pathway: the body goes out as a second, separate
		// message after the file.
		return d.client.SendText(ctx, jid, plan.Body)
	}
	return nil
}
