package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"wafleet/internal/config"
	"wafleet/internal/forward"
	"wafleet/internal/logging"
	rtsup "wafleet/internal/runtime/supervisor"
	logx "wafleet/pkg/logx"
)

// Relay is the proxy daemon: one public surface that forwards send
// requests to the bot daemon named in the path.
type Relay struct {
	cfgPath string

	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log  *slog.Logger
	logs *logging.Service
	lx   *logx.Service
	lxl  logx.Logger

	dir *forward.StaticDirectory
	fwd *forward.Forwarder

	httpSrv *http.Server
	listen  string
}

func NewRelay(cfgPath string) (*Relay, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logs, log := logging.New(logging.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File:    logging.FileConfig{Enabled: cfg.Logging.File.Enabled, Path: cfg.Logging.File.Path},
	})
	log = log.With(slog.String("comp", "relay"))

	lx, lxl := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File:    logx.FileConfig{Enabled: cfg.Logging.File.Enabled, Path: cfg.Logging.File.Path},
	})

	timeout, err := config.ParseDurationOrDefault("relay.forward_timeout", cfg.Relay.ForwardTimeout, 30*time.Second)
	if err != nil {
		return nil, err
	}

	listen := strings.TrimSpace(cfg.Relay.Listen)
	if listen == "" {
		listen = "127.0.0.1:7070"
	}

	dir := forward.NewStaticDirectory(cfg.BotBaseURLs())
	return &Relay{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logs,
		lx:      lx,
		lxl:     lxl,
		dir:     dir,
		fwd:     forward.New(dir, timeout, log.With(slog.String("comp", "forward"))),
		listen:  listen,
	}, nil
}

func (r *Relay) Done() <-chan struct{} {
	if r.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return r.sup.Context().Done()
}

func (r *Relay) Err() error {
	if r.sup == nil {
		return nil
	}
	return r.sup.Err()
}

func (r *Relay) Start(ctx context.Context) error {
	r.sup = rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(r.lxl.With(logx.String("comp", "supervisor"))),
		rtsup.WithCancelOnError(true),
	)

	r.cfgm.SetLogger(r.lxl.With(logx.String("comp", "config")))
	r.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return cfg.Validate()
	})

	mux := http.NewServeMux()
	mux.HandleFunc("POST /bots/{bot}/send", r.handleForward)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.httpSrv = &http.Server{
		Addr:              r.listen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	r.sup.Go("http.serve", func(c context.Context) error {
		errCh := make(chan error, 1)
		go func() { errCh <- r.httpSrv.ListenAndServe() }()
		select {
		case err := <-errCh:
			if err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		case <-c.Done():
			shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = r.httpSrv.Shutdown(shCtx)
			return nil
		}
	})

	sub := r.cfgm.Subscribe(8)
	r.sup.Go0("config.reload", func(c context.Context) {
		defer r.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-c.Done():
				return
			case cfg, ok := <-sub:
				if !ok {
					return
				}
				r.dir.Update(cfg.BotBaseURLs())
				r.logs.Apply(logging.Config{
					Level:   cfg.Logging.Level,
					Console: cfg.Logging.Console,
					File:    logging.FileConfig{Enabled: cfg.Logging.File.Enabled, Path: cfg.Logging.File.Path},
				})
				r.lx.Apply(logx.Config{
					Level:   cfg.Logging.Level,
					Console: cfg.Logging.Console,
					File:    logx.FileConfig{Enabled: cfg.Logging.File.Enabled, Path: cfg.Logging.File.Path},
				})
				r.log.Info("config reloaded", slog.Int("bots", len(cfg.Bots)))
			}
		}
	})
	r.sup.Go("config.watch", r.cfgm.Watch)

	r.log.Info("relay started", slog.String("listen", r.listen))
	return nil
}

// handleForward relays one send request verbatim and maps transport
// faults onto the relay's status convention. The remote reply, including
// the partial-success 207, passes through untouched.
func (r *Relay) handleForward(w http.ResponseWriter, req *http.Request) {
	bot := req.PathValue("bot")

	body, err := io.ReadAll(io.LimitReader(req.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorReply{Error: "reading request body: " + err.Error()})
		return
	}

	resp, err := r.fwd.Forward(req.Context(), bot, "/send", req.Header.Get("Content-Type"), body)
	if err != nil {
		var fe *forward.Error
		if errors.As(err, &fe) {
			status := fe.Kind.HTTPStatus()
			if len(fe.RemoteBody) > 0 {
				// The bot's own error document is more useful than a
				// relay-side paraphrase.
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(status)
				_, _ = w.Write(fe.RemoteBody)
				return
			}
			writeJSON(w, status, forwardErrorReply{
				Success:   false,
				ErrorType: string(fe.Kind),
				Error:     fe.Detail,
				Bot:       bot,
			})
			return
		}
		writeJSON(w, http.StatusInternalServerError, forwardErrorReply{
			Success:   false,
			ErrorType: string(forward.KindUnknown),
			Error:     err.Error(),
			Bot:       bot,
		})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(resp.Body)
}

type forwardErrorReply struct {
	Success   bool   `json:"success"`
	ErrorType string `json:"errorType"`
	Error     string `json:"error"`
	Bot       string `json:"bot"`
}

func (r *Relay) Stop(ctx context.Context, reason StopReason) error {
	if r.sup == nil {
		return nil
	}
	r.log.Info("stopping", slog.String("reason", string(reason)))

	r.sup.Cancel()

	shCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if r.httpSrv != nil {
		_ = r.httpSrv.Shutdown(shCtx)
	}
	_ = r.sup.Wait(shCtx)

	r.log.Info("stopped")
	_ = r.logs.Close()
	_ = r.lx.Close()
	return nil
}
