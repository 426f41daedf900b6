package config

import (
	"fmt"
	"net/url"
	"strings"

	"wafleet/internal/recipient"
)

type Config struct {
	// Bots is the fleet directory: logical bot identifier -> per-bot settings.
	Bots map[string]BotConfig `json:"bots"`

	Dispatch DispatchConfig `json:"dispatch"`
	Session  SessionConfig  `json:"session"`
	Logging  LoggingConfig  `json:"logging"`
	Relay    RelayConfig    `json:"relay,omitempty"`

	// Notify enables the operator alert pipeline. Omitted means disabled.
	Notify *NotifyConfig `json:"notify,omitempty"`

	// Storage enables best-effort diagnostics persistence. Omitted means disabled.
	Storage *StorageConfig `json:"storage,omitempty"`

	// Pprof exposes the runtime profiling endpoints on a local port.
	// Omitted means disabled.
	Pprof *PprofConfig `json:"pprof,omitempty"`
}

// PprofConfig controls the optional pprof HTTP listener.
type PprofConfig struct {
	Enabled              bool   `json:"enabled"`
	Address              string `json:"address,omitempty"` // default: "127.0.0.1:6060"
	BlockProfileRate     int    `json:"block_profile_rate,omitempty"`
	MutexProfileFraction int    `json:"mutex_profile_fraction,omitempty"`
}

// BotConfig describes one bot process in the fleet.
type BotConfig struct {
	// BaseURL is where this bot's daemon serves its dispatch API,
	// e.g. "http://127.0.0.1:7101". The relay forwards here.
	BaseURL string `json:"base_url"`

	// Listen overrides the daemon's listen address. Empty derives it
	// from BaseURL's host and port.
	Listen string `json:"listen,omitempty"`

	// SidecarURL is where the bot's chat-client sidecar listens,
	// e.g. "http://127.0.0.1:8101". Required to run the bot daemon.
	SidecarURL string `json:"sidecar_url,omitempty"`

	// FallbackNumber is substituted when a submitted phone number cannot be
	// normalized into a dispatchable form.
	FallbackNumber string `json:"fallback_number"`
}

// DispatchConfig controls message fan-out.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type DispatchConfig struct {
	// RatePerSec caps outgoing sends per bot. 0 disables the limiter.
	RatePerSec int `json:"rate_per_sec,omitempty"`

	// SendTimeout bounds a single send call. "0s" disables it.
	SendTimeout string `json:"send_timeout,omitempty"`
}

// SessionConfig controls lifecycle tracking and automated recovery.
//
// Defaults (when fields are omitted/zero):
//   - history_size: 50
//   - health_interval: "30s"
//   - recovery_max_attempts: 5
//   - recovery_window: "10m"
//   - reinit_timeout: "2m"
type SessionConfig struct {
	HistorySize    int    `json:"history_size,omitempty"`
	HealthInterval string `json:"health_interval,omitempty"`

	RecoveryMaxAttempts int    `json:"recovery_max_attempts,omitempty"`
	RecoveryWindow      string `json:"recovery_window,omitempty"`

	// ReinitTimeout bounds one reinitialization attempt.
	ReinitTimeout string `json:"reinit_timeout,omitempty"`
}

// NotifyConfig controls the async operator alert pipeline.
//
// All durations are Go duration strings.
type NotifyConfig struct {
	Enabled bool `json:"enabled"`

	Token    string `json:"token"`
	ChatID   int64  `json:"chat_id"`
	ThreadID int    `json:"thread_id,omitempty"`

	Workers         int    `json:"workers,omitempty"`
	QueueSize       int    `json:"queue_size,omitempty"`
	RatePerSec      int    `json:"rate_per_sec,omitempty"`
	DedupWindow     string `json:"dedup_window,omitempty"`
	DedupMaxEntries int    `json:"dedup_max_entries,omitempty"`
}

// StorageConfig controls the diagnostics persistence layer.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./wafleet_store" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)

	// Retention bounds how long transition/outcome records are kept.
	Retention string `json:"retention,omitempty"`
}

// RelayConfig controls the proxy-side daemon.
type RelayConfig struct {
	Listen string `json:"listen,omitempty"` // default: "127.0.0.1:7070"

	// ForwardTimeout bounds one relayed request end to end.
	ForwardTimeout string `json:"forward_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// Validate checks cross-field constraints that the strict decoder cannot.
func (c *Config) Validate() error {
	for id, b := range c.Bots {
		if strings.TrimSpace(id) == "" {
			return fmt.Errorf("bots: empty bot identifier")
		}
		base := strings.TrimSpace(b.BaseURL)
		if base == "" {
			return fmt.Errorf("bots.%s: base_url is required", id)
		}
		u, err := url.Parse(base)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("bots.%s: base_url %q is not an absolute URL", id, b.BaseURL)
		}
		if sc := strings.TrimSpace(b.SidecarURL); sc != "" {
			su, err := url.Parse(sc)
			if err != nil || su.Scheme == "" || su.Host == "" {
				return fmt.Errorf("bots.%s: sidecar_url %q is not an absolute URL", id, b.SidecarURL)
			}
		}
		// The fallback is what invalid recipients get rewritten to; a
		// fallback that itself fails normalization would be substituted
		// silently at dispatch time.
		if fb := strings.TrimSpace(b.FallbackNumber); fb != "" {
			if _, ok := recipient.FormatPhone(fb, ""); !ok {
				return fmt.Errorf("bots.%s: fallback_number %q is not a dispatchable phone number", id, b.FallbackNumber)
			}
		}
	}
	if c.Dispatch.RatePerSec < 0 {
		return fmt.Errorf("dispatch.rate_per_sec must be >= 0")
	}
	if _, err := ParseDurationField("dispatch.send_timeout", c.Dispatch.SendTimeout); err != nil {
		return err
	}
	if c.Session.HistorySize < 0 {
		return fmt.Errorf("session.history_size must be >= 0")
	}
	if c.Session.RecoveryMaxAttempts < 0 {
		return fmt.Errorf("session.recovery_max_attempts must be >= 0")
	}
	for _, f := range []struct{ path, raw string }{
		{"session.health_interval", c.Session.HealthInterval},
		{"session.recovery_window", c.Session.RecoveryWindow},
		{"session.reinit_timeout", c.Session.ReinitTimeout},
		{"relay.forward_timeout", c.Relay.ForwardTimeout},
	} {
		if _, err := ParseDurationField(f.path, f.raw); err != nil {
			return err
		}
	}
	if n := c.Notify; n != nil && n.Enabled {
		if strings.TrimSpace(n.Token) == "" {
			return fmt.Errorf("notify.token is required when notify is enabled")
		}
		if n.ChatID == 0 {
			return fmt.Errorf("notify.chat_id is required when notify is enabled")
		}
		if _, err := ParseDurationField("notify.dedup_window", n.DedupWindow); err != nil {
			return err
		}
	}
	if s := c.Storage; s != nil {
		switch strings.TrimSpace(s.Driver) {
		case "file", "sqlite":
		case "":
			return fmt.Errorf("storage.driver is required")
		default:
			return fmt.Errorf("storage.driver %q is not supported (file, sqlite)", s.Driver)
		}
		if strings.TrimSpace(s.Path) == "" {
			return fmt.Errorf("storage.path is required")
		}
		for _, f := range []struct{ path, raw string }{
			{"storage.busy_timeout", s.BusyTimeout},
			{"storage.retention", s.Retention},
		} {
			if _, err := ParseDurationField(f.path, f.raw); err != nil {
				return err
			}
		}
	}
	return nil
}

// ListenAddr resolves the daemon listen address for this bot entry,
// deriving it from BaseURL when Listen is not set.
func (b BotConfig) ListenAddr() (string, error) {
	if l := strings.TrimSpace(b.Listen); l != "" {
		return l, nil
	}
	u, err := url.Parse(strings.TrimSpace(b.BaseURL))
	if err != nil {
		return "", fmt.Errorf("base_url: %w", err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("base_url %q has no host", b.BaseURL)
	}
	return u.Host, nil
}

// BotBaseURLs projects the fleet directory into the shape the relay
// directory consumes.
func (c *Config) BotBaseURLs() map[string]string {
	out := make(map[string]string, len(c.Bots))
	for id, b := range c.Bots {
		out[id] = strings.TrimSpace(b.BaseURL)
	}
	return out
}
