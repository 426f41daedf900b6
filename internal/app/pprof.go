package app

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/http/pprof"
	"runtime"
	"sync"
	"time"

	"wafleet/internal/config"
)

// pprofServer manages the optional debug listener. It exists outside the
// supervisor because enable/disable follows config reloads, not the
// daemon lifecycle.
type pprofServer struct {
	mu   sync.Mutex
	log  *slog.Logger
	srv  *http.Server
	ln   net.Listener
	addr string
}

func newPprofServer(log *slog.Logger) *pprofServer {
	return &pprofServer{log: log.With(slog.String("comp", "pprof"))}
}

// Apply starts or stops the listener according to cfg and updates the
// global profile rates either way.
func (p *pprofServer) Apply(ctx context.Context, cfg config.PprofConfig) {
	if cfg.Address == "" {
		cfg.Address = "127.0.0.1:6060"
	}

	runtime.SetBlockProfileRate(cfg.BlockProfileRate)
	runtime.SetMutexProfileFraction(cfg.MutexProfileFraction)

	p.mu.Lock()
	defer p.mu.Unlock()

	if !cfg.Enabled {
		p.stopLocked(ctx)
		return
	}
	if p.srv != nil && p.addr == cfg.Address {
		return
	}

	p.stopLocked(ctx)

	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	ln, err := net.Listen("tcp", cfg.Address)
	if err != nil {
		p.log.Warn("pprof listen failed", slog.String("addr", cfg.Address), slog.Any("err", err))
		return
	}

	p.srv = &http.Server{Addr: cfg.Address, Handler: mux}
	p.ln = ln
	p.addr = ln.Addr().String()

	srv := p.srv
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			p.log.Warn("pprof server error", slog.Any("err", err))
		}
	}()
	p.log.Info("pprof enabled", slog.String("addr", p.addr))
}

func (p *pprofServer) Stop(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked(ctx)
}

func (p *pprofServer) stopLocked(ctx context.Context) {
	if p.srv == nil {
		return
	}
	srv, ln, addr := p.srv, p.ln, p.addr
	p.srv, p.ln, p.addr = nil, nil, ""

	if ctx == nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
	}
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		p.log.Warn("pprof shutdown error", slog.Any("err", err))
	}
	if ln != nil {
		_ = ln.Close()
	}
	p.log.Info("pprof disabled", slog.String("addr", addr))
}

// Addr reports the live listen address, empty when stopped.
func (p *pprofServer) Addr() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.addr
}
