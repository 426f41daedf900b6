// Package app assembles one bot daemon: config, logging, the session
// machine with its sidecar bridge, the dispatch pipeline, scheduled
// health/pruning jobs, the alert pipeline, and the HTTP surface.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"wafleet/internal/adapters/telegram"
	"wafleet/internal/bridge"
	"wafleet/internal/config"
	"wafleet/internal/dispatch"
	"wafleet/internal/eventbus"
	"wafleet/internal/logging"
	"wafleet/internal/notify"
	rtsup "wafleet/internal/runtime/supervisor"
	"wafleet/internal/schedule"
	"wafleet/internal/session"
	"wafleet/internal/storage"
	logx "wafleet/pkg/logx"
)

// StopReason tags why the daemon is shutting down (for logs only).
type StopReason string

const (
	StopSignal     StopReason = "signal"
	StopFatalError StopReason = "fatal_error"
	StopAppStop    StopReason = "app_stop"
)

// Options selects which bot of the fleet config this process runs.
type Options struct {
	ConfigPath string
	BotID      string
}

// App is one running bot daemon.
type App struct {
	opts Options

	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log  *slog.Logger
	logs *logging.Service
	lx   *logx.Service
	lxl  logx.Logger

	bus      eventbus.Bus
	store    storage.Store
	recorder *storage.Recorder

	machine *session.Machine
	sidecar *bridge.Client
	poller  *bridge.Poller
	monitor *session.Monitor

	sched *schedule.Service
	disp  *dispatch.Service

	notif *notify.Service

	pprofSrv *pprofServer

	httpSrv *http.Server
	listen  string
}

// New loads the config and builds the full daemon for opts.BotID.
// Nothing starts running until Start.
func New(opts Options) (*App, error) {
	if strings.TrimSpace(opts.BotID) == "" {
		return nil, fmt.Errorf("bot id is required")
	}

	cfgm := config.NewManager(opts.ConfigPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	bot, ok := cfg.Bots[opts.BotID]
	if !ok {
		return nil, fmt.Errorf("bot %q not present in config", opts.BotID)
	}
	if strings.TrimSpace(bot.SidecarURL) == "" {
		return nil, fmt.Errorf("bots.%s: sidecar_url is required to run the daemon", opts.BotID)
	}
	listen, err := bot.ListenAddr()
	if err != nil {
		return nil, fmt.Errorf("bots.%s: %w", opts.BotID, err)
	}

	// Two log roots from one config section: slog for the domain
	// services, logx for the bootstrap-side infrastructure that was
	// built on it (config, storage, supervisor, notify).
	logs, log := logging.New(logging.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File:    logging.FileConfig{Enabled: cfg.Logging.File.Enabled, Path: cfg.Logging.File.Path},
	})
	log = log.With(slog.String("bot", opts.BotID))

	lx, lxl := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File:    logx.FileConfig{Enabled: cfg.Logging.File.Enabled, Path: cfg.Logging.File.Path},
	})
	lxl = lxl.With(logx.String("bot", opts.BotID))

	a := &App{
		opts:   opts,
		cfgm:   cfgm,
		log:    log,
		logs:   logs,
		lx:     lx,
		lxl:    lxl,
		listen: listen,
	}

	a.bus = eventbus.New()

	if err := a.buildStorage(cfg); err != nil {
		return nil, err
	}

	histSize := cfg.Session.HistorySize
	if histSize <= 0 {
		histSize = 50
	}
	a.machine = session.NewMachine(opts.BotID, histSize, log.With(slog.String("comp", "session")), a.bus)

	sendTimeout, err := config.ParseDurationOrDefault("dispatch.send_timeout", cfg.Dispatch.SendTimeout, 30*time.Second)
	if err != nil {
		return nil, err
	}
	a.sidecar = bridge.New(bot.SidecarURL, sendTimeout, log.With(slog.String("comp", "bridge")))
	a.poller = bridge.NewPoller(a.sidecar, a.machine, 0, log.With(slog.String("comp", "bridge")))

	a.disp = dispatch.NewService(dispatch.ServiceConfig{
		Bot:            opts.BotID,
		FallbackNumber: bot.FallbackNumber,
		Dispatcher:     dispatch.DispatcherConfig{RatePerSec: cfg.Dispatch.RatePerSec},
	}, a.machine, a.sidecar, log.With(slog.String("comp", "dispatch")), a.bus)

	a.sched = schedule.New(log.With(slog.String("comp", "schedule")))

	if err := a.buildMonitor(cfg, bot); err != nil {
		return nil, err
	}
	if err := a.buildNotify(cfg); err != nil {
		return nil, err
	}

	a.pprofSrv = newPprofServer(log)

	return a, nil
}

func (a *App) buildStorage(cfg *config.Config) error {
	if cfg.Storage == nil {
		return nil
	}
	busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return err
	}
	retention, err := config.ParseDurationField("storage.retention", cfg.Storage.Retention)
	if err != nil {
		return err
	}
	st, err := storage.Open(storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busy,
		Retention:   retention,
	}, a.lxl.With(logx.String("comp", "storage")))
	if err != nil {
		return err
	}
	if st != nil {
		a.store = st
		a.recorder = storage.NewRecorder(st, a.lxl.With(logx.String("comp", "recorder")))
	}
	return nil
}

func (a *App) buildMonitor(cfg *config.Config, bot config.BotConfig) error {
	interval, err := config.ParseDurationOrDefault("session.health_interval", cfg.Session.HealthInterval, 30*time.Second)
	if err != nil {
		return err
	}
	window, err := config.ParseDurationOrDefault("session.recovery_window", cfg.Session.RecoveryWindow, 10*time.Minute)
	if err != nil {
		return err
	}
	reinit, err := config.ParseDurationOrDefault("session.reinit_timeout", cfg.Session.ReinitTimeout, 2*time.Minute)
	if err != nil {
		return err
	}
	maxAttempts := cfg.Session.RecoveryMaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	a.monitor = session.NewMonitor(a.opts.BotID, a.machine, a.sidecar, session.MonitorConfig{
		Interval:      interval,
		MaxAttempts:   maxAttempts,
		Window:        window,
		ReinitTimeout: reinit,
	}, a.log.With(slog.String("comp", "monitor")), a.bus)
	return nil
}

func (a *App) buildNotify(cfg *config.Config) error {
	n := cfg.Notify
	if n == nil || !n.Enabled {
		return nil
	}
	ad, err := telegram.New(telegram.Config{
		Token:    n.Token,
		ChatID:   n.ChatID,
		ThreadID: n.ThreadID,
	}, a.log.With(slog.String("comp", "telegram")))
	if err != nil {
		return err
	}
	ncfg, err := notifyConfig(n)
	if err != nil {
		return err
	}
	a.notif = notify.New(ncfg, ad, a.lxl.With(logx.String("comp", "notify")), a.store)
	return nil
}

func notifyConfig(n *config.NotifyConfig) (notify.Config, error) {
	window, err := config.ParseDurationField("notify.dedup_window", n.DedupWindow)
	if err != nil {
		return notify.Config{}, err
	}
	return notify.Config{
		Enabled:         n.Enabled,
		Workers:         n.Workers,
		QueueSize:       n.QueueSize,
		RatePerSec:      n.RatePerSec,
		RetryMax:        3,
		DedupWindow:     window,
		DedupMaxEntries: n.DedupMaxEntries,
	}, nil
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

// Err returns the first fatal error observed by the supervisor, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(a.lxl.With(logx.String("comp", "supervisor"))),
		rtsup.WithCancelOnError(true),
	)
	runCtx := a.sup.Context()

	// Transactional hot reload: a config that fails validation is never
	// committed or published.
	a.cfgm.SetLogger(a.lxl.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if err := cfg.Validate(); err != nil {
			return err
		}
		if _, ok := cfg.Bots[a.opts.BotID]; !ok {
			return fmt.Errorf("bots.%s: entry removed; refusing to apply", a.opts.BotID)
		}
		return nil
	})

	if a.recorder != nil {
		a.sup.Go0("storage.recorder", func(c context.Context) {
			a.recorder.Run(c, a.bus)
		})
	}

	a.sched.Start(runCtx)
	if err := a.monitor.Register(a.sched); err != nil {
		return err
	}
	a.registerPrune()

	a.sup.Go0("bridge.poll", a.poller.Run)

	if a.notif != nil {
		a.notif.Start(runCtx)
		a.sup.Go0("notify.watch", func(c context.Context) {
			a.notif.Watch(c, a.bus)
		})
	}

	if err := a.startHTTP(); err != nil {
		return err
	}

	if cfg := a.cfgm.Get(); cfg != nil && cfg.Pprof != nil {
		a.pprofSrv.Apply(runCtx, *cfg.Pprof)
	}

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.log.Info("bot daemon started", slog.String("listen", a.listen))
	return nil
}

// reloadLoop applies committed config updates. Bursts are coalesced so
// only the newest config is applied.
func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					goto APPLY
				}
			}
		APPLY:
			sections, attrs, botIDs := config.SummarizeConfigChange(lastApplied, newCfg)
			if len(sections) == 0 {
				a.log.Debug("config reload received, but no effective changes detected")
				lastApplied = newCfg
				continue
			}
			a.lxl.Debug("config change summary", append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)...)
			lastApplied = newCfg

			a.applyConfig(newCfg, sections, botIDs)

			a.log.Info("config reloaded", slog.String("changed", strings.Join(sections, ",")))
		}
	}
}

func (a *App) applyConfig(cfg *config.Config, sections []string, botIDs []string) {
	for _, s := range sections {
		switch s {
		case "logging":
			a.logs.Apply(logging.Config{
				Level:   cfg.Logging.Level,
				Console: cfg.Logging.Console,
				File:    logging.FileConfig{Enabled: cfg.Logging.File.Enabled, Path: cfg.Logging.File.Path},
			})
			a.lx.Apply(logx.Config{
				Level:   cfg.Logging.Level,
				Console: cfg.Logging.Console,
				File:    logx.FileConfig{Enabled: cfg.Logging.File.Enabled, Path: cfg.Logging.File.Path},
			})
		case "notify":
			if a.notif == nil || cfg.Notify == nil {
				// Enabling notify from scratch needs the adapter, which
				// needs the token; that path requires a restart.
				a.log.Warn("notify section changed but pipeline was not built at startup; restart to apply")
				continue
			}
			ncfg, err := notifyConfig(cfg.Notify)
			if err != nil {
				a.log.Warn("invalid notify config on reload", slog.Any("err", err))
				continue
			}
			a.notif.Apply(ncfg)
		case "pprof":
			p := config.PprofConfig{}
			if cfg.Pprof != nil {
				p = *cfg.Pprof
			}
			a.pprofSrv.Apply(context.Background(), p)
		case "dispatch":
			a.disp.SetRate(cfg.Dispatch.RatePerSec)
			// send_timeout is baked into the sidecar client.
			a.log.Info("dispatch rate applied", slog.Int("rate_per_sec", cfg.Dispatch.RatePerSec))
		case "session", "storage":
			// Wired at construction time.
			a.log.Warn("config section requires restart to apply", slog.String("section", s))
		case "bots":
			for _, id := range botIDs {
				if id == a.opts.BotID {
					a.log.Warn("this bot's entry changed; restart to apply", slog.String("section", s))
				}
			}
		}
	}
}

// registerPrune schedules retention pruning when both a store and a
// retention bound exist.
func (a *App) registerPrune() {
	if a.store == nil {
		return
	}
	cfg := a.cfgm.Get()
	if cfg == nil || cfg.Storage == nil {
		return
	}
	retention, err := config.ParseDurationField("storage.retention", cfg.Storage.Retention)
	if err != nil || retention <= 0 {
		return
	}
	_ = a.sched.AddInterval("storage.prune", time.Hour, func(c context.Context) error {
		return a.store.Prune(c, time.Now().Add(-retention))
	})
}

func (a *App) startHTTP() error {
	h := &handler{
		bot:     a.opts.BotID,
		disp:    a.disp,
		machine: a.machine,
		monitor: a.monitor,
		log:     a.log.With(slog.String("comp", "http")),
	}
	a.httpSrv = &http.Server{
		Addr:              a.listen,
		Handler:           h.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	a.sup.Go("http.serve", func(c context.Context) error {
		errCh := make(chan error, 1)
		go func() { errCh <- a.httpSrv.ListenAndServe() }()
		select {
		case err := <-errCh:
			if err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		case <-c.Done():
			shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = a.httpSrv.Shutdown(shCtx)
			return nil
		}
	})
	return nil
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", slog.String("reason", string(reason)))

	// The lifecycle machine is the status surface; record the shutdown
	// there too so /status and the transition log tell the whole story.
	if a.machine != nil {
		a.machine.Set(session.StateStopping, string(reason))
	}

	a.sup.Cancel()

	// Bound each shutdown step so one stalled component cannot hold the
	// whole daemon hostage.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}

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
				a.log.Warn("stop step error", slog.String("name", name), slog.Any("err", err))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", slog.String("name", name))
		}
	}

	step("http", 5*time.Second, func(c context.Context) error {
		if a.httpSrv == nil {
			return nil
		}
		return a.httpSrv.Shutdown(c)
	})
	step("pprof", 2*time.Second, func(c context.Context) error { a.pprofSrv.Stop(c); return nil })
	step("schedule", 5*time.Second, func(_ context.Context) error { a.sched.Stop(); return nil })
	if a.notif != nil {
		step("notify", 2*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	}
	step("supervisor", 3*time.Second, a.sup.Wait)
	step("storage", 2*time.Second, func(_ context.Context) error {
		if a.store == nil {
			return nil
		}
		return a.store.Close()
	})

	if a.machine != nil {
		a.machine.Set(session.StateStopped, "")
	}

	a.log.Info("stopped")
	_ = a.logs.Close()
	_ = a.lx.Close()
	return nil
}
