package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"wafleet/internal/eventbus"
	"wafleet/internal/schedule"
)

// MonitorConfig controls the health monitor.
type MonitorConfig struct {
	Interval      time.Duration // inspection period, default 30s
	MaxAttempts   int           // recovery attempts per window
	Window        time.Duration // rolling window
	ReinitTimeout time.Duration // per-attempt deadline for Reinitialize
}

// Monitor periodically inspects the session machine and runs bounded
// recovery against the client.
type Monitor struct {
	bot     string
	machine *Machine
	client  Client
	budget  *Budget
	log     *slog.Logger
	bus     eventbus.Bus

	cfg MonitorConfig

	// suspendedLogged avoids spamming one alert per tick while the
	// budget stays exhausted.
	suspendedLogged bool
}

func NewMonitor(bot string, m *Machine, c Client, cfg MonitorConfig, log *slog.Logger, bus eventbus.Bus) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.ReinitTimeout <= 0 {
		cfg.ReinitTimeout = 2 * time.Minute
	}
	return &Monitor{
		bot:     bot,
		machine: m,
		client:  c,
		budget:  NewBudget(cfg.MaxAttempts, cfg.Window),
		log:     log,
		bus:     bus,
		cfg:     cfg,
	}
}

// Budget exposes the recovery budget for status reporting.
func (mon *Monitor) Budget() *Budget { return mon.budget }

// Register schedules the periodic inspection on the shared schedule
// service, upserting by name so reloads don't double-register.
func (mon *Monitor) Register(s *schedule.Service) error {
	name := fmt.Sprintf("session:health:%s", mon.bot)
	return s.AddInterval(name, mon.cfg.Interval, mon.Tick)
}

// Tick runs one inspection. Exported so tests drive it directly.
func (mon *Monitor) Tick(ctx context.Context) error {
	snap := mon.machine.Current()
	rec := Recommend(snap.State)
	if rec == RecommendNothing {
		mon.suspendedLogged = false
		return nil
	}

	if !mon.budget.Allow() {
		if !mon.suspendedLogged {
			mon.suspendedLogged = true
			mon.log.Warn("recovery suspended until window elapses",
				slog.String("bot", mon.bot),
				slog.String("state", string(snap.State)),
				slog.Time("reset_at", mon.budget.ResetAt()),
			)
			eventbus.Post(mon.bus, eventbus.RecoverySuspended{
				Bot:     mon.bot,
				State:   string(snap.State),
				ResetAt: mon.budget.ResetAt(),
			})
		}
		return nil
	}
	mon.suspendedLogged = false

	fresh := rec == RecommendReinitFresh
	mon.log.Info("recovery attempt",
		slog.String("bot", mon.bot),
		slog.String("state", string(snap.State)),
		slog.Bool("fresh_browser", fresh),
		slog.Int("remaining", mon.budget.Remaining()),
	)
	eventbus.Post(mon.bus, eventbus.RecoveryAttempt{
		Bot:       mon.bot,
		State:     string(snap.State),
		Fresh:     fresh,
		Remaining: mon.budget.Remaining(),
		At:        time.Now(),
	})

	mon.machine.Set(StateReconnecting, "recovery reinit started")

	rctx, cancel := context.WithTimeout(ctx, mon.cfg.ReinitTimeout)
	defer cancel()
	if err := mon.client.Reinitialize(rctx, fresh); err != nil {
		mon.machine.SetError(StateErrorUnknown, "recovery reinit failed", err)
		return fmt.Errorf("reinitialize bot %s: %w", mon.bot, err)
	}
	// The client's own lifecycle events move the machine forward from
	// here (initializing -> ... -> ready).
	return nil
}
