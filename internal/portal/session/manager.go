package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var ErrInvalidID = errors.New("invalid portal session id")

// ErrClosed is returned by Attach after CloseAll.
var ErrClosed = errors.New("session manager closed")

// ErrCapacity is returned by Attach when MaxSessions are live.
var ErrCapacity = errors.New("too many live portal sessions")

// NewStoreFunc builds the session store of one portal session. The id doubles
// as the persistence key, so a store built for a known id restores its tokens.
type NewStoreFunc func(id string) Store

type ManagerOptions struct {
	NewStore     NewStoreFunc
	Profiles     ProfileFetcher
	FetchTimeout time.Duration
	IdleTTL      time.Duration
	// MaxSessions caps the live sessions; zero means no cap.
	MaxSessions int
	// OnClose, when set, runs after a session is closed.
	OnClose func(id string)
	Logger  zerolog.Logger
}

type entry struct {
	id       string
	store    Store
	resolver *Resolver
	lastSeen time.Time
}

// Manager owns the live portal sessions, one store and resolver per browser.
type Manager struct {
	opts   ManagerOptions
	logger zerolog.Logger
	now    func() time.Time

	mu      sync.Mutex
	entries map[string]*entry
	closed  bool
}

func NewManager(opts ManagerOptions) *Manager {
	if opts.IdleTTL <= 0 {
		opts.IdleTTL = 30 * time.Minute
	}
	return &Manager{
		opts:    opts,
		logger:  opts.Logger.With().Str("component", "session-manager").Logger(),
		now:     time.Now,
		entries: make(map[string]*entry),
	}
}

// NewID returns a fresh portal session id.
func NewID() string { return uuid.NewString() }

// Attach returns the resolver for id, creating and starting it when the id
// is not live.
func (m *Manager) Attach(id string) (*Resolver, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidID, id)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	if e, ok := m.entries[id]; ok {
		e.lastSeen = m.now()
		return e.resolver, nil
	}
	if m.opts.MaxSessions > 0 && len(m.entries) >= m.opts.MaxSessions {
		return nil, ErrCapacity
	}

	store := m.opts.NewStore(id)
	r := NewResolver(store, m.opts.Profiles, m.opts.FetchTimeout, m.opts.Logger.With().Str("portal_session", id).Logger())
	m.entries[id] = &entry{id: id, store: store, resolver: r, lastSeen: m.now()}
	r.Start()
	m.logger.Debug().Str("portal_session", id).Int("live", len(m.entries)).Msg("portal session attached")
	return r, nil
}

// Get returns the live resolver for id without creating one.
func (m *Manager) Get(id string) (*Resolver, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return nil, false
	}
	e.lastSeen = m.now()
	return e.resolver, true
}

// Remove closes and forgets id. The persisted tokens are untouched.
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	e, ok := m.entries[id]
	delete(m.entries, id)
	m.mu.Unlock()
	if ok {
		m.close(e)
	}
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Sweep closes sessions idle for longer than IdleTTL and returns how many.
func (m *Manager) Sweep() int {
	cutoff := m.now().Add(-m.opts.IdleTTL)

	m.mu.Lock()
	var idle []*entry
	for id, e := range m.entries {
		if e.lastSeen.Before(cutoff) {
			idle = append(idle, e)
			delete(m.entries, id)
		}
	}
	m.mu.Unlock()

	for _, e := range idle {
		m.close(e)
	}
	if len(idle) > 0 {
		m.logger.Info().Int("swept", len(idle)).Msg("idle portal sessions closed")
	}
	return len(idle)
}

// Run sweeps on a ticker until ctx is done, then closes every session.
func (m *Manager) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.opts.IdleTTL / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.CloseAll()
			return nil
		case <-ticker.C:
			m.Sweep()
		}
	}
}

func (m *Manager) CloseAll() {
	m.mu.Lock()
	m.closed = true
	all := m.entries
	m.entries = make(map[string]*entry)
	m.mu.Unlock()

	for _, e := range all {
		m.close(e)
	}
}

func (m *Manager) close(e *entry) {
	e.resolver.Close()
	e.store.Close()
	if m.opts.OnClose != nil {
		m.opts.OnClose(e.id)
	}
}
