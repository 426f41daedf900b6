package session

import (
	"sync"
	"time"
)

// Recommendation is what the health monitor should do about the current
// lifecycle state.
type Recommendation int

const (
	// RecommendNothing: state is healthy or recovery would not help
	// (e.g. waiting for a QR scan needs a human, not a restart).
	RecommendNothing Recommendation = iota
	// RecommendReinit: reinitialize the client, keeping the browser.
	RecommendReinit
	// RecommendReinitFresh: destroy and recreate the browser too.
	RecommendReinitFresh
)

// Recommend maps a lifecycle state to a recovery action.
func Recommend(s State) Recommendation {
	switch s {
	case StateErrorBrowser:
		return RecommendReinitFresh
	case StateDisconnected, StateErrorConnection:
		return RecommendReinit
	default:
		return RecommendNothing
	}
}

// Budget bounds recovery attempts to at most Max per rolling Window. When
// exhausted, recovery is suspended until the window elapses; this keeps a
// crash-restart loop from starving the process.
//
// The counter and reset timestamp are plain state so tests can assert on
// them directly.
type Budget struct {
	Max    int
	Window time.Duration

	mu      sync.Mutex
	used    int
	resetAt time.Time

	now func() time.Time // test hook
}

func NewBudget(maxAttempts int, window time.Duration) *Budget {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if window <= 0 {
		window = 10 * time.Minute
	}
	return &Budget{Max: maxAttempts, Window: window, now: time.Now}
}

// Allow consumes one attempt if the budget permits. The first consumption
// of a fresh window arms the reset timestamp.
func (b *Budget) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now()
	if !b.resetAt.IsZero() && now.After(b.resetAt) {
		b.used = 0
		b.resetAt = time.Time{}
	}
	if b.used >= b.Max {
		return false
	}
	if b.used == 0 {
		b.resetAt = now.Add(b.Window)
	}
	b.used++
	return true
}

// Remaining reports how many attempts are left in the current window.
func (b *Budget) Remaining() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.resetAt.IsZero() && b.now().After(b.resetAt) {
		return b.Max
	}
	return b.Max - b.used
}

// ResetAt returns when the current window elapses; zero when no attempt
// has been consumed yet.
func (b *Budget) ResetAt() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.resetAt
}
