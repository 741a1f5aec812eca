package session

import (
	"context"
	"sync"
	"testing"
	"time"
)

// fakeBackend is an in-test Backend with a controllable feed.
type fakeBackend struct {
	mu        sync.Mutex
	current   *Session
	listeners map[int]func(Change)
	nextID    int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{listeners: make(map[int]func(Change))}
}

func (b *fakeBackend) CurrentSession(ctx context.Context) (*Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current, nil
}

func (b *fakeBackend) OnSessionChange(fn func(Change)) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.listeners[id] = fn
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		delete(b.listeners, id)
		b.mu.Unlock()
	}
}

func (b *fakeBackend) SignInWithPassword(ctx context.Context, email, password string) (*Session, error) {
	return nil, nil
}

func (b *fakeBackend) SignUp(ctx context.Context, input SignUpInput) (*Session, error) {
	return nil, nil
}

func (b *fakeBackend) SignOut(ctx context.Context) error { return nil }

func (b *fakeBackend) emit(change Change) {
	b.mu.Lock()
	b.current = change.Session
	fns := make([]func(Change), 0, len(b.listeners))
	for _, fn := range b.listeners {
		fns = append(fns, fn)
	}
	b.mu.Unlock()
	for _, fn := range fns {
		fn(change)
	}
}

func (b *fakeBackend) listenerCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.listeners)
}

func receiveEvent(t *testing.T, events <-chan Event) Event {
	t.Helper()
	select {
	case ev, ok := <-events:
		if !ok {
			t.Fatal("event channel closed")
		}
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
	return Event{}
}

func assertNoEvent(t *testing.T, events <-chan Event) {
	t.Helper()
	select {
	case ev := <-events:
		t.Fatalf("unexpected event: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestStartEmitsSignedInForExistingSession(t *testing.T) {
	backend := newFakeBackend()
	backend.current = &Session{UserID: "u1", Email: "u1@example.com"}

	monitor := NewMonitor(backend)
	defer monitor.Close()
	if err := monitor.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	ev := receiveEvent(t, monitor.Events())
	if ev.Kind != EventSignedIn || ev.UserID != "u1" || ev.Email != "u1@example.com" {
		t.Fatalf("unexpected event: %+v", ev)
	}
	assertNoEvent(t, monitor.Events())
}

func TestStartWithoutSessionEmitsNothing(t *testing.T) {
	backend := newFakeBackend()

	monitor := NewMonitor(backend)
	defer monitor.Close()
	if err := monitor.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	assertNoEvent(t, monitor.Events())
}

func TestTokenRefreshCoalesced(t *testing.T) {
	backend := newFakeBackend()

	monitor := NewMonitor(backend)
	defer monitor.Close()
	if err := monitor.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	s := &Session{UserID: "u1", Email: "u1@example.com"}
	backend.emit(Change{Kind: ChangeSignedIn, Session: s})
	ev := receiveEvent(t, monitor.Events())
	if ev.Kind != EventSignedIn {
		t.Fatalf("expected signed-in, got %+v", ev)
	}

	// Rapid refreshes for the same user must not reach the consumer.
	for range 5 {
		refreshed := &Session{UserID: "u1", Email: "u1@example.com", IssuedAt: time.Now()}
		backend.emit(Change{Kind: ChangeTokenRefreshed, Session: refreshed})
	}
	assertNoEvent(t, monitor.Events())
}

func TestStartupCheckAndListenerCallbackAreIdempotent(t *testing.T) {
	backend := newFakeBackend()
	backend.current = &Session{UserID: "u1", Email: "u1@example.com"}

	monitor := NewMonitor(backend)
	defer monitor.Close()
	if err := monitor.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	// A listener callback for the identity the startup check already saw.
	backend.emit(Change{Kind: ChangeSignedIn, Session: backend.current})

	ev := receiveEvent(t, monitor.Events())
	if ev.Kind != EventSignedIn || ev.UserID != "u1" {
		t.Fatalf("unexpected event: %+v", ev)
	}
	assertNoEvent(t, monitor.Events())
}

func TestSignOutTransition(t *testing.T) {
	backend := newFakeBackend()
	backend.current = &Session{UserID: "u1"}

	monitor := NewMonitor(backend)
	defer monitor.Close()
	if err := monitor.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	receiveEvent(t, monitor.Events())

	backend.emit(Change{Kind: ChangeSignedOut})
	ev := receiveEvent(t, monitor.Events())
	if ev.Kind != EventSignedOut {
		t.Fatalf("expected signed-out, got %+v", ev)
	}

	// A duplicate sign-out notification is not a transition.
	backend.emit(Change{Kind: ChangeSignedOut})
	assertNoEvent(t, monitor.Events())
}

func TestUserSwitchEmitsBothTransitions(t *testing.T) {
	backend := newFakeBackend()

	monitor := NewMonitor(backend)
	defer monitor.Close()
	if err := monitor.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	backend.emit(Change{Kind: ChangeSignedIn, Session: &Session{UserID: "u1"}})
	if ev := receiveEvent(t, monitor.Events()); ev.UserID != "u1" {
		t.Fatalf("expected u1, got %+v", ev)
	}

	// Direct identity switch without an intervening sign-out.
	backend.emit(Change{Kind: ChangeSignedIn, Session: &Session{UserID: "u2"}})
	ev := receiveEvent(t, monitor.Events())
	if ev.Kind != EventSignedIn || ev.UserID != "u2" {
		t.Fatalf("expected signed-in u2, got %+v", ev)
	}
}

func TestCloseUnsubscribesAndClosesChannel(t *testing.T) {
	backend := newFakeBackend()

	monitor := NewMonitor(backend)
	if err := monitor.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if backend.listenerCount() != 1 {
		t.Fatalf("expected one listener, got %d", backend.listenerCount())
	}

	monitor.Close()
	if backend.listenerCount() != 0 {
		t.Fatalf("expected no listeners after close, got %d", backend.listenerCount())
	}

	if _, ok := <-monitor.Events(); ok {
		t.Fatal("expected closed event channel")
	}

	// Close is idempotent.
	monitor.Close()
}

func TestStartTwiceFails(t *testing.T) {
	backend := newFakeBackend()

	monitor := NewMonitor(backend)
	defer monitor.Close()
	if err := monitor.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := monitor.Start(context.Background()); err == nil {
		t.Fatal("expected error for second start")
	}
}
