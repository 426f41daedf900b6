package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free file backend (jsonl + snapshot)
//   - "sqlite": SQLite database file (optional build tag)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
	Retention   time.Duration // 0 means keep forever
}

// TransitionEntry records one lifecycle state change.
// Keep it compact and schema-stable.
type TransitionEntry struct {
	At     time.Time
	Bot    string
	From   string
	To     string
	Detail string
}

// OutcomeEntry records one per-recipient delivery result.
type OutcomeEntry struct {
	At        time.Time
	Bot       string
	RequestID string
	Pathway   string
	Recipient string
	Sent      bool
	ErrorType string
	Error     string
	TookMS    int64
}
