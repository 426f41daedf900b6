package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"wafleet/internal/eventbus"
	"wafleet/internal/recipient"
	"wafleet/internal/route"
	"wafleet/internal/session"
)

var (
	// ErrNoRecipients is the classification-level rejection for requests
	// that resolve to an empty recipient set; nothing fans out.
	ErrNoRecipients = errors.New("no recipients after normalization")
)

// Request is one inbound logical send: recipients in their legacy shapes,
// an optional body, an optional single attachment.
type Request struct {
	Raw        recipient.RawRequest
	Body       string
	Attachment *route.Attachment
}

// ErrorEntry is a failed recipient in the caller-facing report.
type ErrorEntry struct {
	Recipient string    `json:"recipient"`
	Error     string    `json:"error"`
	ErrorType ErrorKind `json:"errorType"`
	Timestamp time.Time `json:"timestamp"`
}

// Report is the aggregate response for one request. It never claims total
// success when any recipient failed, and never total failure when at
// least one recipient was classified as sent.
type Report struct {
	RequestID    string       `json:"requestId"`
	Success      bool         `json:"success"`
	Pathway      string       `json:"pathway"`
	MessagesSent []string     `json:"messagesSent"`
	Errors       []ErrorEntry `json:"errors"`
	TotalSent    int          `json:"totalSent"`
	TotalErrors  int          `json:"totalErrors"`
	Status       Status       `json:"-"`
	Warnings     []string     `json:"warnings,omitempty"`
}

// ServiceConfig configures one bot's dispatch service.
type ServiceConfig struct {
	Bot            string
	FallbackNumber string
	Dispatcher     DispatcherConfig
}

// Service is the classify -> route -> gate -> fan-out pipeline for one bot
// instance. The session machine is the single authority on whether the
// client handle is safe to use.
type Service struct {
	cfg        ServiceConfig
	machine    *session.Machine
	dispatcher *Dispatcher
	log        *slog.Logger
	bus        eventbus.Bus
}

func NewService(cfg ServiceConfig, machine *session.Machine, client session.Client, log *slog.Logger, bus eventbus.Bus) *Service {
	return &Service{
		cfg:        cfg,
		machine:    machine,
		dispatcher: NewDispatcher(cfg.Dispatcher, client, log),
		log:        log,
		bus:        bus,
	}
}

// SetRate swaps the fan-out send rate at runtime.
func (s *Service) SetRate(perSec int) { s.dispatcher.SetRate(perSec) }

// Send runs one request through the full pipeline. A returned error means
// the request was rejected before any send call was issued; partial and
// even total delivery failure are reported through the Report instead.
func (s *Service) Send(ctx context.Context, req Request) (Report, error) {
	id := uuid.NewString()

	raw := recipient.Normalize(req.Raw)
	set := recipient.Classify(raw, s.cfg.FallbackNumber)

	var warnings []string
	for _, p := range set.Phones {
		if p.Invalid {
			warnings = append(warnings, fmt.Sprintf("invalid phone replaced by fallback %s", p.Value))
		}
	}

	plan := route.Route(set, req.Body, req.Attachment)
	if plan.Pathway == route.PathwayNone {
		return Report{RequestID: id, Status: StatusNoneSent, Warnings: warnings}, ErrNoRecipients
	}
	if err := plan.Check(); err != nil {
		return Report{RequestID: id, Pathway: plan.Pathway.String(), Status: StatusNoneSent, Warnings: warnings}, err
	}

	// Gate before any send call: refusal is structured, never silent.
	if err := s.machine.Gate(); err != nil {
		var nre *session.NotReadyError
		state := ""
		if errors.As(err, &nre) {
			state = string(nre.State)
		}
		s.log.Warn("dispatch rejected by lifecycle gate",
			slog.String("bot", s.cfg.Bot),
			slog.String("request", id),
			slog.String("state", state),
		)
		eventbus.Post(s.bus, eventbus.DispatchRejected{Bot: s.cfg.Bot, RequestID: id, State: state, At: time.Now()})
		return Report{RequestID: id, Pathway: plan.Pathway.String(), Status: StatusNoneSent, Warnings: warnings}, err
	}

	start := time.Now()
	res := s.dispatcher.Dispatch(ctx, plan)

	report := Report{
		RequestID:   id,
		Pathway:     plan.Pathway.String(),
		Status:      res.Status(),
		Success:     res.Status() == StatusAllSent,
		TotalSent:   len(res.Sent),
		TotalErrors: len(res.Errors),
		Warnings:    warnings,
	}
	for _, r := range res.Sent {
		report.MessagesSent = append(report.MessagesSent, r.Value)
	}
	for _, out := range res.Errors {
		report.Errors = append(report.Errors, ErrorEntry{
			Recipient: out.Recipient.Value,
			Error:     out.Err.Detail,
			ErrorType: out.Err.Kind,
			Timestamp: out.At,
		})
	}

	s.log.Info("dispatch finished",
		slog.String("bot", s.cfg.Bot),
		slog.String("request", id),
		slog.String("pathway", report.Pathway),
		slog.String("status", report.Status.String()),
		slog.Int("sent", report.TotalSent),
		slog.Int("failed", report.TotalErrors),
		slog.Duration("dur", time.Since(start)),
	)
	outcomes := make([]eventbus.DispatchOutcome, 0, len(res.Sent)+len(res.Errors))
	for _, r := range res.Sent {
		outcomes = append(outcomes, eventbus.DispatchOutcome{Recipient: r.Value, Sent: true, At: start})
	}
	for _, out := range res.Errors {
		outcomes = append(outcomes, eventbus.DispatchOutcome{
			Recipient: out.Recipient.Value,
			ErrorType: string(out.Err.Kind),
			Error:     out.Err.Detail,
			At:        out.At,
		})
	}
	eventbus.Post(s.bus, eventbus.DispatchDone{
		Bot:       s.cfg.Bot,
		RequestID: id,
		Pathway:   report.Pathway,
		Sent:      report.TotalSent,
		Failed:    report.TotalErrors,
		Outcomes:  outcomes,
		At:        time.Now(),
	})
	return report, nil
}
