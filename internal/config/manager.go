package config

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "wafleet/pkg/logx"

	"github.com/fsnotify/fsnotify"
	yaml "go.yaml.in/yaml/v3"
)

// Manager owns the fleet config file: it decodes it (JSON or YAML, both
// through the same strict decoder), hands out the current snapshot, and
// pushes validated reloads to subscribers while Watch is running.
type Manager struct {
	path string

	mu       sync.RWMutex
	cfg      *Config
	lastHash uint64

	// subsMu guards the subscriber set and serializes publish against
	// Unsubscribe's close.
	subsMu sync.Mutex
	subs   map[chan *Config]struct{}

	// timerMu guards the debounce timer shared by filesystem events.
	timerMu sync.Mutex
	timer   *time.Timer

	log       logx.Logger
	validator func(ctx context.Context, cfg *Config) error
}

func NewManager(path string) *Manager {
	return &Manager{path: path, subs: map[chan *Config]struct{}{}}
}

func (m *Manager) SetLogger(log logx.Logger) { m.log = log }

// SetValidator installs the hook Watch runs before committing a reload.
// A rejected config leaves the previous snapshot in place.
func (m *Manager) SetValidator(fn func(ctx context.Context, cfg *Config) error) {
	m.validator = fn
}

// Load reads and decodes the file, commits the result as the current
// snapshot, and returns it.
func (m *Manager) Load() (*Config, error) {
	cfg, err := m.read()
	if err != nil {
		return nil, err
	}
	m.commit(cfg)
	return cfg, nil
}

func (m *Manager) read() (*Config, error) {
	raw, err := os.ReadFile(m.path)
	if err != nil {
		return nil, err
	}

	// YAML goes through a JSON round-trip so both formats share the
	// strict decoder below.
	switch strings.ToLower(filepath.Ext(m.path)) {
	case ".yaml", ".yml":
		var v any
		if err := yaml.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("yaml unmarshal: %w", err)
		}
		if raw, err = json.Marshal(stringifyKeys(v)); err != nil {
			return nil, fmt.Errorf("yaml->json marshal: %w", err)
		}
	}

	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return nil, fmt.Errorf("invalid config: trailing data")
		}
		return nil, err
	}
	return &cfg, nil
}

// stringifyKeys rewrites YAML's map[any]any keys to strings so the
// intermediate value survives json.Marshal.
func stringifyKeys(in any) any {
	switch x := in.(type) {
	case map[any]any:
		out := make(map[string]any, len(x))
		for k, v := range x {
			out[fmt.Sprint(k)] = stringifyKeys(v)
		}
		return out
	case map[string]any:
		for k, v := range x {
			x[k] = stringifyKeys(v)
		}
		return x
	case []any:
		for i := range x {
			x[i] = stringifyKeys(x[i])
		}
		return x
	default:
		return in
	}
}

func (m *Manager) commit(cfg *Config) {
	h := uint64(0)
	if b, err := json.Marshal(cfg); err == nil {
		h = hashBytes(b)
	}
	m.mu.Lock()
	m.cfg = cfg
	m.lastHash = h
	m.mu.Unlock()
}

func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

func (m *Manager) Subscribe(buffer int) chan *Config {
	ch := make(chan *Config, buffer)
	m.subsMu.Lock()
	m.subs[ch] = struct{}{}
	m.subsMu.Unlock()
	return ch
}

func (m *Manager) Unsubscribe(ch chan *Config) {
	if ch == nil {
		return
	}
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	if _, ok := m.subs[ch]; ok {
		delete(m.subs, ch)
		close(ch)
	}
}

// publish pushes the new snapshot to every subscriber. A full buffer
// sheds its oldest entry first; only the latest config matters.
func (m *Manager) publish(cfg *Config) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for ch := range m.subs {
		select {
		case ch <- cfg:
			continue
		default:
		}
		// Buffer full: shed the oldest entry, then try once more.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- cfg:
		default:
			if !m.log.IsZero() {
				m.log.Debug("config update dropped (subscriber slow)", logx.Int("queue_cap", cap(ch)))
			}
		}
	}
}

// scheduleReload debounces bursts of filesystem events (editors write,
// rename, and chmod in quick succession) into one reload attempt.
func (m *Manager) scheduleReload(ctx context.Context) {
	m.timerMu.Lock()
	defer m.timerMu.Unlock()
	if m.timer != nil {
		m.timer.Stop()
	}
	m.timer = time.AfterFunc(250*time.Millisecond, func() { m.reload(ctx) })
}

func (m *Manager) reload(ctx context.Context) {
	cfg, err := m.read()
	if err != nil {
		if !m.log.IsZero() {
			m.log.Warn("config parse failed", logx.String("path", m.path), logx.Any("err", err))
		}
		return
	}

	h := uint64(0)
	if b, err := json.Marshal(cfg); err == nil {
		h = hashBytes(b)
	}
	m.mu.RLock()
	unchanged := h != 0 && h == m.lastHash
	m.mu.RUnlock()
	if unchanged {
		return
	}

	if m.validator != nil {
		vctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := m.validator(vctx, cfg)
		cancel()
		if err != nil {
			if !m.log.IsZero() {
				m.log.Warn("config rejected", logx.String("path", m.path), logx.Any("err", err))
			}
			return
		}
	}

	m.commit(cfg)
	m.publish(cfg)
	if !m.log.IsZero() {
		m.log.Debug("config published", logx.String("path", m.path))
	}
}

// Watch follows the config file until ctx ends. The directory, not the
// file, is watched so atomic rename-over-replace keeps working; when the
// fsnotify watcher degrades it is rebuilt with a jittered backoff.
func (m *Manager) Watch(ctx context.Context) error {
	dir := filepath.Dir(m.path)
	wait := watchBackoff{base: 250 * time.Millisecond, max: 5 * time.Second}

	for ctx.Err() == nil {
		w, err := fsnotify.NewWatcher()
		if err == nil {
			if err = w.Add(dir); err != nil {
				_ = w.Close()
			}
		}
		if err != nil {
			if !m.log.IsZero() {
				m.log.Warn("config watch setup failed", logx.Any("err", err), logx.String("dir", dir))
			}
			if !sleepCtx(ctx, wait.next()) {
				return nil
			}
			continue
		}

		wait.reset()
		err = m.follow(ctx, w)
		_ = w.Close()
		if ctx.Err() != nil {
			return nil
		}
		if !m.log.IsZero() {
			m.log.Warn("config watcher stopped; restarting", logx.Any("err", err), logx.String("dir", dir))
		}
		if !sleepCtx(ctx, wait.next()) {
			return nil
		}
	}
	return nil
}

// follow drains one watcher until it breaks or ctx ends.
func (m *Manager) follow(ctx context.Context, w *fsnotify.Watcher) error {
	base := filepath.Base(m.path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return fmt.Errorf("event channel closed")
			}
			if strings.EqualFold(filepath.Base(ev.Name), base) {
				m.scheduleReload(ctx)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return fmt.Errorf("error channel closed")
			}
			if err == nil {
				continue
			}
			msg := strings.ToLower(err.Error())
			// Overflow means events were lost; force one reload and
			// keep the watcher alive.
			if strings.Contains(msg, "overflow") {
				m.scheduleReload(ctx)
				continue
			}
			if strings.Contains(msg, "closed") {
				return err
			}
			if !m.log.IsZero() {
				m.log.Warn("config watch error", logx.Any("err", err))
			}
		}
	}
}

type watchBackoff struct {
	base, max, cur time.Duration
}

func (b *watchBackoff) reset() { b.cur = 0 }

func (b *watchBackoff) next() time.Duration {
	if b.cur == 0 {
		b.cur = b.base
	} else if b.cur < b.max {
		b.cur *= 2
		if b.cur > b.max {
			b.cur = b.max
		}
	}
	return b.cur + time.Duration(rand.Int63n(int64(b.cur/2)+1))
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
