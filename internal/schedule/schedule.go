// Package schedule runs named periodic jobs (cron spec or fixed interval)
// for the health monitor and storage pruning. Jobs are upserted by name so
// hot-reloads never double-register, and a job never overlaps itself.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

type Job func(ctx context.Context) error

type entry struct {
	name string
	id   cron.EntryID

	mu      sync.Mutex
	running bool
}

// Service is a thin wrapper over robfig/cron with name-keyed upserts and
// skip-if-running overlap handling.
type Service struct {
	mu      sync.Mutex
	c       *cron.Cron
	entries map[string]*entry

	log *slog.Logger

	runCtx    context.Context
	runCancel context.CancelFunc
}

func New(log *slog.Logger) *Service {
	return &Service{
		c:       cron.New(),
		entries: map[string]*entry{},
		log:     log,
	}
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runCancel != nil {
		return
	}
	s.runCtx, s.runCancel = context.WithCancel(ctx)
	s.c.Start()
	s.log.Info("schedule service started")
}

func (s *Service) Stop() {
	s.mu.Lock()
	cancel := s.runCancel
	s.runCancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	stopCtx := s.c.Stop()
	// Wait briefly for in-flight jobs; they also observe runCtx.
	select {
	case <-stopCtx.Done():
	case <-time.After(5 * time.Second):
	}
	s.log.Info("schedule service stopped")
}

// AddCron registers (or replaces) a job under name using a cron spec like
// "*/30 * * * *" or "@every 30s".
func (s *Service) AddCron(name, spec string, job Job) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("name required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.removeLocked(name)
	e := &entry{name: name}
	id, err := s.c.AddFunc(spec, func() { s.run(e, job) })
	if err != nil {
		return fmt.Errorf("cron spec %q: %w", spec, err)
	}
	e.id = id
	s.entries[name] = e
	return nil
}

// AddInterval registers (or replaces) a fixed-interval job.
func (s *Service) AddInterval(name string, every time.Duration, job Job) error {
	if every <= 0 {
		return fmt.Errorf("interval must be positive, got %v", every)
	}
	return s.AddCron(name, "@every "+every.String(), job)
}

func (s *Service) Remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(name)
}

func (s *Service) removeLocked(name string) {
	if e, ok := s.entries[name]; ok {
		s.c.Remove(e.id)
		delete(s.entries, name)
	}
}

func (s *Service) run(e *entry, job Job) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		s.log.Debug("schedule tick skipped (still running)", slog.String("job", e.name))
		return
	}
	e.running = true
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
	}()

	s.mu.Lock()
	ctx := s.runCtx
	s.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}

	start := time.Now()
	if err := job(ctx); err != nil {
		s.log.Warn("scheduled job failed", slog.String("job", e.name), slog.Duration("dur", time.Since(start)), slog.Any("err", err))
	}
}
