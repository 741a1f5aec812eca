package session

import (
	"context"
	"fmt"
	"sync"
)

// EventKind classifies a deduplicated identity transition.
type EventKind string

const (
	EventSignedIn  EventKind = "SIGNED_IN"
	EventSignedOut EventKind = "SIGNED_OUT"
	EventUnchanged EventKind = "UNCHANGED"
)

// Event is one identity transition. UserID and Email are set only for
// signed-in events.
type Event struct {
	Kind   EventKind
	UserID string
	Email  string
}

// Monitor subscribes to a Backend feed and emits exactly one Event per real
// identity transition. Token refreshes that keep the same user id classify
// as Unchanged and are not delivered downstream, so rapid refreshes never
// re-run a resolution cycle.
type Monitor struct {
	backend Backend

	mu          sync.Mutex
	lastUserID  string
	started     bool
	closed      bool
	unsubscribe func()

	events chan Event
}

// NewMonitor creates a monitor for the given backend.
func NewMonitor(backend Backend) *Monitor {
	return &Monitor{
		backend: backend,
		events:  make(chan Event, 16),
	}
}

// Events returns the ordered stream of identity transitions. The channel is
// closed by Close.
func (m *Monitor) Events() <-chan Event {
	return m.events
}

// Start subscribes to the backend feed and performs the single startup
// session query. The identity guard makes the startup check and a concurrent
// listener callback for the same identity idempotent: whichever observes the
// identity first wins, the other classifies as Unchanged.
func (m *Monitor) Start(ctx context.Context) error {
	if m.backend == nil {
		return fmt.Errorf("session backend is required")
	}

	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return fmt.Errorf("monitor already started")
	}
	m.started = true
	m.mu.Unlock()

	unsubscribe := m.backend.OnSessionChange(func(change Change) {
		m.observe(change.Session)
	})

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		unsubscribe()
		return nil
	}
	m.unsubscribe = unsubscribe
	m.mu.Unlock()

	current, err := m.backend.CurrentSession(ctx)
	if err != nil {
		return fmt.Errorf("query current session: %w", err)
	}
	m.observe(current)
	return nil
}

// Close unsubscribes from the backend and closes the event channel. It is
// safe to call once; the feed listener never fires after Close returns.
func (m *Monitor) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	unsubscribe := m.unsubscribe
	m.unsubscribe = nil
	m.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}

	// The backend guarantees no listener callback after unsubscribe, so the
	// channel can be closed without racing a send.
	close(m.events)
}

// observe classifies a session observation against the last seen identity
// and delivers the resulting event. Unchanged observations are dropped.
//
// The lock is held across the send: Close acquires the same lock before
// closing the channel, so a delivery in flight always completes first.
func (m *Monitor) observe(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	event := m.classify(s)
	if event.Kind == EventUnchanged {
		return
	}
	m.events <- event
}

// classify computes the transition for an observation. Caller holds mu.
func (m *Monitor) classify(s *Session) Event {
	if s == nil || s.UserID == "" {
		if m.lastUserID == "" {
			return Event{Kind: EventUnchanged}
		}
		m.lastUserID = ""
		return Event{Kind: EventSignedOut}
	}
	if s.UserID == m.lastUserID {
		return Event{Kind: EventUnchanged}
	}
	m.lastUserID = s.UserID
	return Event{Kind: EventSignedIn, UserID: s.UserID, Email: s.Email}
}
