package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"wafleet/internal/eventbus"
)

const defaultHistorySize = 50

// Transition is one recorded state change.
type Transition struct {
	From   State     `json:"from"`
	To     State     `json:"to"`
	Detail string    `json:"detail,omitempty"`
	Error  string    `json:"error,omitempty"`
	At     time.Time `json:"at"`
}

// Snapshot is a consistent read of the machine: current state plus the
// timestamp and detail of the transition that produced it.
type Snapshot struct {
	State  State     `json:"state"`
	At     time.Time `json:"at"`
	Detail string    `json:"detail,omitempty"`
}

// Machine holds the single current lifecycle state of one bot instance and
// a bounded trailing history of transitions for diagnostics.
type Machine struct {
	bot string
	log *slog.Logger
	bus eventbus.Bus

	mu      sync.RWMutex
	current State
	at      time.Time
	detail  string
	history []Transition
	keep    int
}

// NewMachine starts in StateInitializing. historySize <= 0 uses the default.
func NewMachine(bot string, historySize int, log *slog.Logger, bus eventbus.Bus) *Machine {
	if historySize <= 0 {
		historySize = defaultHistorySize
	}
	return &Machine{
		bot:     bot,
		log:     log,
		bus:     bus,
		current: StateInitializing,
		at:      time.Now(),
		keep:    historySize,
	}
}

// Set records a transition to state with a free-text detail.
func (m *Machine) Set(state State, detail string) {
	m.record(state, detail, nil)
}

// SetError records a transition carrying an error detail.
func (m *Machine) SetError(state State, detail string, err error) {
	m.record(state, detail, err)
}

func (m *Machine) record(state State, detail string, err error) {
	now := time.Now()

	m.mu.Lock()
	from := m.current
	tr := Transition{From: from, To: state, Detail: detail, At: now}
	if err != nil {
		tr.Error = err.Error()
	}
	m.current = state
	m.at = now
	m.detail = detail
	m.history = append(m.history, tr)
	if len(m.history) > m.keep {
		m.history = m.history[len(m.history)-m.keep:]
	}
	m.mu.Unlock()

	lvl := slog.LevelInfo
	if state.IsError() {
		lvl = slog.LevelWarn
	}
	m.log.Log(context.Background(), lvl, "session state changed",
		slog.String("bot", m.bot),
		slog.String("from", string(from)),
		slog.String("to", string(state)),
		slog.String("detail", detail),
	)

	eventbus.Post(m.bus, eventbus.LifecycleTransition{
		Bot:    m.bot,
		From:   string(from),
		To:     string(state),
		Detail: detail,
		Error:  tr.Error,
		At:     now,
	})
}

// Current returns a consistent snapshot even while a transition is being
// recorded.
func (m *Machine) Current() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Snapshot{State: m.current, At: m.at, Detail: m.detail}
}

// History returns the trailing transitions, oldest first.
func (m *Machine) History() []Transition {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Transition, len(m.history))
	copy(out, m.history)
	return out
}

// Gate checks whether dispatch may proceed. A refusal carries the current
// state and the timestamp of the last transition, never a silent failure.
func (m *Machine) Gate() error {
	snap := m.Current()
	if snap.State.CanDispatch() {
		return nil
	}
	return &NotReadyError{State: snap.State, Since: snap.At}
}

// NotReadyError is the structured rejection raised by the dispatch gate.
type NotReadyError struct {
	State State
	Since time.Time
}

func (e *NotReadyError) Error() string {
	return fmt.Sprintf("client not ready for dispatch: state=%s since %s", e.State, e.Since.Format(time.RFC3339))
}
