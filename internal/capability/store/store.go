// Package store holds the live capability view and drives resolution cycles.
//
// The store is the single owner of the published view. Identity transitions
// from the session monitor start resolution cycles; every cycle captures the
// epoch counter at start and its results are discarded if the epoch moved
// before publication. That fence is what keeps a slow profile fetch from
// resurrecting stale state after a sign-out or a user switch.
package store

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/louisbranch/capability.space/internal/capability/entitlement"
	"github.com/louisbranch/capability.space/internal/capability/profile"
	"github.com/louisbranch/capability.space/internal/capability/resolver"
	"github.com/louisbranch/capability.space/internal/capability/session"
	"github.com/louisbranch/capability.space/internal/capability/snapshot"
	"github.com/louisbranch/capability.space/internal/capability/storage"
)

// State names the store's position in the resolution lifecycle.
type State string

const (
	StateUnauthenticated State = "UNAUTHENTICATED"
	StateResolving       State = "RESOLVING"
	StateAuthenticated   State = "AUTHENTICATED"
)

// Quality reports whether an authenticated view settled with authoritative
// data or degraded to cached/default data after a timeout.
type Quality string

const (
	QualityFresh    Quality = "FRESH"
	QualityDegraded Quality = "DEGRADED"
)

// View is the published capability snapshot the application reads.
// Loading is true only while a resolution cycle is in flight.
type View struct {
	User    *session.Session
	Profile *profile.Profile
	Premium bool
	Admin   bool
	Loading bool
	State   State
	Quality Quality
}

// Config wires the store's collaborators.
type Config struct {
	Backend      session.Backend
	Profiles     storage.ProfileStore
	Entitlements *entitlement.Resolver
	Cache        *snapshot.Cache
}

// cycleStart captures a queued resolution trigger while a cycle for the
// same user is still in flight.
type cycleStart struct {
	epoch uint64
	email string
	hint  string
}

// Store owns the live capability view.
type Store struct {
	backend      session.Backend
	monitor      *session.Monitor
	profiles     storage.ProfileStore
	resolver     *resolver.Resolver
	entitlements *entitlement.Resolver
	cache        *snapshot.Cache
	tracer       trace.Tracer

	mu            sync.Mutex
	view          View
	epoch         uint64
	currentUserID string
	inflight      map[string]bool
	queued        map[string]cycleStart
	pendingNames  map[string]string
	subscribers   map[int]func(View)
	nextSub       int

	loopDone chan struct{}
	cycles   sync.WaitGroup
}

// New creates a store over the given collaborators.
func New(cfg Config) (*Store, error) {
	if cfg.Backend == nil {
		return nil, fmt.Errorf("session backend is required")
	}
	if cfg.Profiles == nil {
		return nil, fmt.Errorf("profile store is required")
	}

	return &Store{
		backend:      cfg.Backend,
		monitor:      session.NewMonitor(cfg.Backend),
		profiles:     cfg.Profiles,
		resolver:     resolver.New(cfg.Profiles),
		entitlements: cfg.Entitlements,
		cache:        cfg.Cache,
		tracer:       otel.Tracer("capability.store"),
		view:         View{State: StateUnauthenticated},
		inflight:     make(map[string]bool),
		queued:       make(map[string]cycleStart),
		pendingNames: make(map[string]string),
		subscribers:  make(map[int]func(View)),
		loopDone:     make(chan struct{}),
	}, nil
}

// SetProfileDeadline overrides the profile resolution deadline. Intended
// for configuration before Start.
func (s *Store) SetProfileDeadline(d time.Duration) {
	s.resolver.SetDeadline(d)
}

// Start subscribes to the session feed and begins consuming identity
// transitions. The context bounds the lifetime of resolution work.
func (s *Store) Start(ctx context.Context) error {
	if err := s.monitor.Start(ctx); err != nil {
		return err
	}
	go s.loop(ctx)
	return nil
}

// Close stops the session monitor and waits for the event loop and any
// in-flight resolution cycles to finish.
func (s *Store) Close() {
	s.monitor.Close()
	<-s.loopDone
	s.cycles.Wait()
}

// Current returns the live capability view.
func (s *Store) Current() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view
}

// Subscribe registers a listener invoked on every published view. Listeners
// run under the store lock so delivery order matches publication order; they
// must not call back into the store. The returned function removes the
// listener.
func (s *Store) Subscribe(fn func(View)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subscribers[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.subscribers, id)
		s.mu.Unlock()
	}
}

// loop consumes identity transitions until the monitor closes.
func (s *Store) loop(ctx context.Context) {
	defer close(s.loopDone)
	for ev := range s.monitor.Events() {
		switch ev.Kind {
		case session.EventSignedIn:
			s.signedIn(ctx, ev.UserID, ev.Email)
		case session.EventSignedOut:
			s.signedOut(ctx)
		}
	}
}

// signedIn advances the epoch and starts a resolution cycle for the user.
// When a cycle for the same user is still in flight the trigger is queued;
// the running cycle is already fenced out by the epoch bump and the queued
// start runs as soon as it finishes. This keeps at most one in-flight cycle
// per user id without losing transitions.
func (s *Store) signedIn(ctx context.Context, userID, email string) {
	s.mu.Lock()
	s.epoch++
	epoch := s.epoch
	s.currentUserID = userID
	key := normalizeEmail(email)
	hint := s.pendingNames[key]
	delete(s.pendingNames, key)
	if s.inflight[userID] {
		s.queued[userID] = cycleStart{epoch: epoch, email: email, hint: hint}
		s.mu.Unlock()
		return
	}
	s.inflight[userID] = true
	s.mu.Unlock()

	s.startCycle(ctx, epoch, userID, email, hint)
}

// signedOut short-circuits to the unauthenticated view and clears the cache
// for the departing user. Pending cycles are not aborted; the epoch bump
// guarantees their eventual results are discarded.
func (s *Store) signedOut(ctx context.Context) {
	s.mu.Lock()
	// currentUserID, not the published view, is the transition marker: a
	// cycle's seed publish is asynchronous and may not have landed yet.
	if s.currentUserID == "" && s.view.State == StateUnauthenticated {
		s.mu.Unlock()
		return
	}
	s.epoch++
	userID := s.currentUserID
	s.currentUserID = ""
	s.view = View{State: StateUnauthenticated}
	for _, fn := range s.subscribers {
		fn(s.view)
	}
	s.mu.Unlock()

	if userID != "" {
		if err := s.cache.Clear(ctx, userID); err != nil {
			log.Printf("clear capability snapshot for %s: %v", userID, err)
		}
	}
}

func (s *Store) startCycle(ctx context.Context, epoch uint64, userID, email, hint string) {
	s.cycles.Add(1)
	go func() {
		defer s.cycles.Done()
		s.runCycle(ctx, epoch, userID, email, hint)
		s.finishCycle(ctx, userID)
	}()
}

// finishCycle releases the per-user reentrancy guard, or restarts with the
// most recent queued trigger.
func (s *Store) finishCycle(ctx context.Context, userID string) {
	s.mu.Lock()
	next, ok := s.queued[userID]
	if ok {
		delete(s.queued, userID)
		s.mu.Unlock()
		s.startCycle(ctx, next.epoch, userID, next.email, next.hint)
		return
	}
	delete(s.inflight, userID)
	s.mu.Unlock()
}

// runCycle executes one resolution cycle: optimistic seed from the cache,
// profile fetch-or-provision under deadline, entitlement derivation, and
// epoch-fenced publication.
func (s *Store) runCycle(ctx context.Context, epoch uint64, userID, email, hint string) {
	ctx, span := s.tracer.Start(ctx, "capability.resolve",
		trace.WithAttributes(attribute.String("capability.user_hash", hashUserID(userID))))
	defer span.End()

	seed := View{
		User:    &session.Session{UserID: userID, Email: email},
		Loading: true,
		State:   StateResolving,
	}
	if snap, ok := s.cache.Load(ctx, userID); ok {
		cached := snap.Profile
		seed.Profile = &cached
		seed.Premium = snap.Premium
		seed.Admin = snap.Admin
	}
	if !s.publish(epoch, seed) {
		span.SetAttributes(attribute.String("capability.settlement", "superseded"))
		return
	}

	settled := s.resolver.Resolve(ctx, userID, email, hint)
	switch {
	case settled.Err == nil:
		s.settle(ctx, epoch, userID, email, settled.Profile, QualityFresh)
		span.SetAttributes(attribute.String("capability.settlement", "fresh"))

	case errors.Is(settled.Err, resolver.ErrTimeout):
		// Unblock the UI with the best data at hand; the fetch keeps
		// running and may still land as a late same-epoch update.
		degraded := seed
		degraded.Loading = false
		degraded.State = StateAuthenticated
		degraded.Quality = QualityDegraded
		s.publish(epoch, degraded)
		span.SetAttributes(attribute.String("capability.settlement", "degraded"))

		if settled.Late != nil {
			s.cycles.Add(1)
			late := settled.Late
			go func() {
				defer s.cycles.Done()
				res := <-late
				if res.Err != nil {
					log.Printf("late profile fetch for %s: %v", userID, res.Err)
					return
				}
				s.settle(context.WithoutCancel(ctx), epoch, userID, email, res.Profile, QualityFresh)
			}()
		}

	default:
		log.Printf("resolution cycle for %s: %v", userID, settled.Err)
		degraded := seed
		degraded.Loading = false
		degraded.State = StateAuthenticated
		degraded.Quality = QualityDegraded
		s.publish(epoch, degraded)
		span.SetAttributes(attribute.String("capability.settlement", "failed"))
	}
}

// settle derives entitlements for an authoritative profile, publishes the
// final view, and writes through to the cache. Publication is epoch-checked;
// the cache write follows only a successful publication.
func (s *Store) settle(ctx context.Context, epoch uint64, userID, email string, p profile.Profile, quality Quality) {
	s.mu.Lock()
	lastPremium := s.view.Premium
	s.mu.Unlock()

	ent := s.entitlements.Resolve(ctx, p, lastPremium)
	stored := p
	view := View{
		User:    &session.Session{UserID: userID, Email: email},
		Profile: &stored,
		Premium: ent.Premium,
		Admin:   ent.Admin,
		State:   StateAuthenticated,
		Quality: quality,
	}
	if !s.publish(epoch, view) {
		return
	}

	err := s.cache.Save(ctx, snapshot.Snapshot{
		UserID:  userID,
		Profile: p,
		Premium: ent.Premium,
		Admin:   ent.Admin,
	})
	if err != nil {
		log.Printf("save capability snapshot for %s: %v", userID, err)
	}
}

// publish installs a view if the epoch is still current and notifies
// subscribers. Returns false when the cycle was superseded.
//
// The lock is held across the fan-out so subscribers see views in the order
// they were published.
func (s *Store) publish(epoch uint64, view View) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if epoch != s.epoch {
		return false
	}
	s.view = view
	for _, fn := range s.subscribers {
		fn(view)
	}
	return true
}

// hashUserID obscures the user id for trace attributes.
func hashUserID(userID string) string {
	h := fnv.New64a()
	h.Write([]byte(userID))
	return fmt.Sprintf("%016x", h.Sum64())
}
