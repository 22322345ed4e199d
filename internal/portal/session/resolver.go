package session

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/patientdoc/portal/internal/domain/profile"
	"github.com/patientdoc/portal/internal/platform/authstore"
)

type State int

const (
	Unresolved State = iota
	ResolvingProfile
	Ready
	SignedOut
)

func (s State) String() string {
	switch s {
	case ResolvingProfile:
		return "resolving_profile"
	case Ready:
		return "ready"
	case SignedOut:
		return "signed_out"
	}
	return "unresolved"
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Snapshot is the read-only view of who is signed in. Version increases with
// every change.
type Snapshot struct {
	Session *authstore.Session `json:"-"`
	User    *authstore.User    `json:"user"`
	Profile *profile.Profile   `json:"profile"`
	Role    profile.Role       `json:"role"`
	Loading bool               `json:"loading"`
	State   State              `json:"state"`
	Version uint64             `json:"version"`
}

func (s Snapshot) SignedIn() bool { return s.User != nil }

// Store is the slice of the session store the resolver and manager use.
type Store interface {
	OnAuthStateChange(l authstore.Listener) authstore.Subscription
	SignInWithPassword(ctx context.Context, email, password string) error
	SignOut(ctx context.Context) error
	Close()
}

type ProfileFetcher interface {
	FetchProfile(ctx context.Context, s *authstore.Session) (*profile.Profile, error)
}

// Resolver composes the session store and the profile lookup into a single
// Snapshot. It is the only writer of that snapshot. Each session change starts
// a new generation; profile results tagged with an older generation are
// dropped, so the most recent subscription wins regardless of completion
// order.
type Resolver struct {
	store    Store
	profiles ProfileFetcher
	timeout  time.Duration
	logger   zerolog.Logger

	mu      sync.Mutex
	snap    Snapshot
	gen     uint64
	changed chan struct{}
	sub     authstore.Subscription
	started bool
	closed  bool

	inflight sync.WaitGroup
}

func NewResolver(store Store, profiles ProfileFetcher, fetchTimeout time.Duration, logger zerolog.Logger) *Resolver {
	if fetchTimeout <= 0 {
		fetchTimeout = 5 * time.Second
	}
	return &Resolver{
		store:    store,
		profiles: profiles,
		timeout:  fetchTimeout,
		logger:   logger.With().Str("component", "auth-resolver").Logger(),
		snap:     Snapshot{Loading: true, State: Unresolved},
		changed:  make(chan struct{}),
	}
}

// Start subscribes to the store. The first emission decides between
// SignedOut and ResolvingProfile. Calling Start twice is a no-op.
func (r *Resolver) Start() {
	r.mu.Lock()
	if r.started || r.closed {
		r.mu.Unlock()
		return
	}
	r.started = true
	r.mu.Unlock()

	sub := r.store.OnAuthStateChange(r.handle)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		sub.Unsubscribe()
		return
	}
	r.sub = sub
}

func (r *Resolver) handle(event authstore.Event, sess *authstore.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}

	r.gen++
	gen := r.gen
	prev := r.snap
	next := prev
	next.Session = sess
	id := sess.Identity()

	r.logger.Debug().Str("event", string(event)).Str("identity", id).Uint64("generation", gen).Msg("auth state change")

	if id == "" {
		next.User = nil
		next.Profile = nil
		next.Role = profile.RoleNone
		next.Loading = false
		next.State = SignedOut
		r.publishLocked(next)
		return
	}

	user := sess.User
	next.User = &user
	switch {
	case prev.State == Unresolved:
		next.Loading = true
	case event == authstore.SignedIn && id != prev.Session.Identity():
		next.Loading = true
		next.Profile = nil
		next.Role = profile.RoleNone
	case id != prev.Session.Identity():
		next.Profile = nil
		next.Role = profile.RoleNone
	}
	next.State = ResolvingProfile
	r.publishLocked(next)

	r.inflight.Add(1)
	go r.fetch(gen, sess)
}

func (r *Resolver) fetch(gen uint64, sess *authstore.Session) {
	defer r.inflight.Done()

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	p, err := r.profiles.FetchProfile(ctx, sess)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || gen != r.gen {
		r.logger.Debug().Uint64("generation", gen).Uint64("current", r.gen).Msg("discarding stale profile result")
		return
	}

	next := r.snap
	next.State = Ready
	next.Loading = false
	if err != nil {
		r.logger.Warn().Err(err).Str("identity", sess.Identity()).Msg("profile fetch failed")
		next.Profile = nil
		next.Role = profile.RoleNone
	} else {
		next.Profile = p
		next.Role = p.Role
	}
	r.publishLocked(next)
}

func (r *Resolver) publishLocked(next Snapshot) {
	next.Version = r.snap.Version + 1
	r.snap = next
	close(r.changed)
	r.changed = make(chan struct{})
}

// SignIn delegates to the store. The snapshot changes only when the store
// reports the new session.
func (r *Resolver) SignIn(ctx context.Context, email, password string) error {
	return r.store.SignInWithPassword(ctx, email, password)
}

// SignOut delegates to the store and logs a failure.
func (r *Resolver) SignOut(ctx context.Context) {
	if err := r.store.SignOut(ctx); err != nil {
		r.logger.Warn().Err(err).Msg("sign out")
	}
}

func (r *Resolver) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snap
}

// Updated returns a channel closed on the next snapshot change.
func (r *Resolver) Updated() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.changed
}

// Wait blocks until the snapshot is no longer loading or ctx is done. It
// returns the latest snapshot either way.
func (r *Resolver) Wait(ctx context.Context) (Snapshot, error) {
	for {
		r.mu.Lock()
		snap, ch := r.snap, r.changed
		r.mu.Unlock()
		if !snap.Loading {
			return snap, nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return snap, ctx.Err()
		}
	}
}

// Close ends the subscription. Profile fetches still in flight finish but
// their results are dropped.
func (r *Resolver) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.gen++
	sub := r.sub
	r.sub = nil
	r.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
	}
}

func (r *Resolver) drain() { r.inflight.Wait() }
