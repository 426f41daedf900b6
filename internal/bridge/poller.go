package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"wafleet/internal/session"
)

// statusReply is the sidecar's status document.
type statusReply struct {
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Poller maps the sidecar's status document onto session machine events.
// The sidecar has no push channel; polling is the boundary.
type Poller struct {
	client  *Client
	machine *session.Machine
	log     *slog.Logger

	interval time.Duration
	last     string
}

func NewPoller(client *Client, machine *session.Machine, interval time.Duration, log *slog.Logger) *Poller {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	return &Poller{client: client, machine: machine, log: log, interval: interval}
}

// Run polls until ctx is canceled. Call it on its own goroutine.
func (p *Poller) Run(ctx context.Context) {
	t := time.NewTicker(p.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			p.Tick(ctx)
		}
	}
}

// Tick fetches the status once and applies it. Exported for tests.
func (p *Poller) Tick(ctx context.Context) {
	st, err := p.fetch(ctx)
	if err != nil {
		// An unreachable sidecar is a connection-class failure for the
		// session, but only report the edge, not every poll.
		if p.last != "unreachable" {
			p.machine.OnError(fmt.Errorf("sidecar status: connection failed: %w", err))
			p.last = "unreachable"
		}
		return
	}
	if st.Status == p.last {
		return
	}
	p.last = st.Status
	p.apply(st)
}

func (p *Poller) fetch(ctx context.Context) (statusReply, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.client.base+"/session/status", nil)
	if err != nil {
		return statusReply{}, err
	}
	resp, err := p.client.client.Do(req)
	if err != nil {
		return statusReply{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return statusReply{}, fmt.Errorf("status %d", resp.StatusCode)
	}

	var st statusReply
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&st); err != nil {
		return statusReply{}, err
	}
	return st, nil
}

func (p *Poller) apply(st statusReply) {
	switch st.Status {
	case "initializing":
		p.machine.Set(session.StateInitializing, st.Detail)
	case "browser_launching":
		p.machine.Set(session.StateBrowserLaunch, st.Detail)
	case "waiting_for_qr":
		p.machine.Set(session.StateWaitingForQR, st.Detail)
	case "qr":
		p.machine.OnQR()
	case "qr_scanned":
		p.machine.Set(session.StateQRScanned, st.Detail)
	case "authenticated":
		p.machine.OnAuthenticated()
	case "connected":
		p.machine.Set(session.StateConnected, st.Detail)
	case "ready":
		p.machine.OnReady()
	case "disconnected":
		p.machine.OnDisconnected(st.Detail)
	case "auth_failure":
		p.machine.OnAuthFailure(st.Detail)
	case "error":
		p.machine.OnError(errors.New(st.Detail))
	default:
		if p.log != nil {
			p.log.Debug("unknown sidecar status", slog.String("status", st.Status))
		}
	}
}
