package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event is an in-memory signal carrying one of the typed payloads from
// events.go. It decouples the session machine and the dispatcher from
// their observers (diagnostics storage, operator alerts).
//
// Contract:
//   - Publish never blocks; a subscriber with a full buffer loses the
//     event.
//   - Subscribers own their exit: unsubscribing stops delivery but does
//     not close the channel, so readers must also watch their context.
type Event struct {
	Type string
	Time time.Time
	Data any
}

// Payload is implemented by the event bodies in events.go. Post uses it
// to wrap a body into a stamped Event under its canonical type name.
type Payload interface {
	EventType() string
}

// Post publishes a typed payload. A nil bus is a no-op, so producers
// with optional wiring don't need to guard every publish.
func Post(b Bus, p Payload) {
	if b == nil {
		return
	}
	b.Publish(Event{Type: p.EventType(), Time: time.Now(), Data: p})
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

const defaultBuffer = 8

// New returns an in-memory fanout bus. It owns no goroutines; delivery
// happens on the publisher's stack.
func New() Bus {
	return &fanout{}
}

type fanout struct {
	mu    sync.Mutex
	subs  []*subscriber
	drops atomic.Uint64
}

type subscriber struct {
	ch   chan Event
	gone bool
}

func (f *fanout) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	// Deliver and compact departed subscribers in the same pass.
	live := f.subs[:0]
	for _, s := range f.subs {
		if s.gone {
			continue
		}
		live = append(live, s)
		select {
		case s.ch <- e:
		default:
			f.drops.Add(1)
		}
	}
	f.subs = live
}

func (f *fanout) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	s := &subscriber{ch: make(chan Event, buffer)}
	f.mu.Lock()
	f.subs = append(f.subs, s)
	f.mu.Unlock()

	unsubscribe := func() {
		f.mu.Lock()
		s.gone = true
		f.mu.Unlock()
	}
	return s.ch, unsubscribe
}

// Dropped reports how many events were lost to full subscriber buffers
// since the bus was created.
func (f *fanout) Dropped() uint64 {
	return f.drops.Load()
}
