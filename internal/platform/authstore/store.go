// Package authstore keeps one browser session's credentials: it persists the
// tokens, refreshes them before expiry and emits auth state change events.
package authstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/patientdoc/portal/internal/platform/auth"
	"github.com/patientdoc/portal/internal/platform/gotrue"
)

const (
	initTimeout    = 10 * time.Second
	refreshTimeout = 10 * time.Second
	persistTimeout = 3 * time.Second
)

// API is the subset of the auth REST API the store drives.
type API interface {
	SignInWithPassword(ctx context.Context, email, password string) (*gotrue.Session, error)
	RefreshToken(ctx context.Context, refreshToken string) (*gotrue.Session, error)
	SignUp(ctx context.Context, email, password string) (*gotrue.User, *gotrue.Session, error)
	Logout(ctx context.Context, accessToken string) error
	GetUser(ctx context.Context, accessToken string) (*gotrue.User, error)
}

type Options struct {
	// Key names the persisted session, normally the portal session id.
	Key           string
	API           API
	Tokens        TokenParser
	Persister     Persister
	RefreshMargin time.Duration
	RetryInterval time.Duration
	Logger        zerolog.Logger
}

type delivery struct {
	targets []uint64
	event   Event
	session *Session
}

type Store struct {
	key     string
	api     API
	tokens  TokenParser
	persist Persister
	margin  time.Duration
	retry   time.Duration
	log     zerolog.Logger
	now     func() time.Time

	initOnce sync.Once
	initDone chan struct{}

	mu        sync.Mutex
	session   *Session
	listeners map[uint64]Listener
	// awaiting holds listeners registered before initialization finished.
	// They receive nothing until their INITIAL_SESSION is queued.
	awaiting  map[uint64]bool
	ready     bool
	nextID    uint64
	queue     []delivery
	timer     *time.Timer
	closed    bool

	wake      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func New(opts Options) *Store {
	if opts.Persister == nil {
		opts.Persister = NewMemoryPersister()
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = 10 * time.Second
	}
	s := &Store{
		key:       opts.Key,
		api:       opts.API,
		tokens:    opts.Tokens,
		persist:   opts.Persister,
		margin:    opts.RefreshMargin,
		retry:     opts.RetryInterval,
		log:       opts.Logger.With().Str("component", "authstore").Logger(),
		now:       time.Now,
		initDone:  make(chan struct{}),
		listeners: make(map[uint64]Listener),
		awaiting:  make(map[uint64]bool),
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
	go s.dispatch()
	return s
}

func (s *Store) Key() string { return s.key }

// OnAuthStateChange registers l. Its first delivery is INITIAL_SESSION with
// the restored session, or nil when there is none.
func (s *Store) OnAuthStateChange(l Listener) Subscription {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.listeners[id] = l
	ready := s.ready
	if ready {
		s.enqueueLocked(delivery{targets: []uint64{id}, event: InitialSession, session: s.session})
	} else {
		s.awaiting[id] = true
	}
	s.mu.Unlock()

	if !ready {
		go s.initialize()
	}
	return &subscription{store: s, id: id}
}

type subscription struct {
	store *Store
	id    uint64
	once  sync.Once
}

func (sub *subscription) Unsubscribe() {
	sub.once.Do(func() {
		sub.store.mu.Lock()
		delete(sub.store.listeners, sub.id)
		delete(sub.store.awaiting, sub.id)
		sub.store.mu.Unlock()
	})
}

// GetSession returns the current session, refreshing it first when it has
// already expired.
func (s *Store) GetSession(ctx context.Context) (*Session, error) {
	if err := s.waitInit(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	cur := s.session
	s.mu.Unlock()
	if cur == nil || !cur.expired(s.now()) {
		return cur, nil
	}
	if err := s.refresh(ctx, cur); err != nil {
		if gotrue.IsRejection(err) {
			s.clearIf(ctx, cur)
			return nil, nil
		}
		return nil, fmt.Errorf("refresh expired session: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session, nil
}

// SignInWithPassword leaves the current session untouched on failure; the
// error is an *AuthError carrying the message to show.
func (s *Store) SignInWithPassword(ctx context.Context, email, password string) error {
	if err := s.waitInit(ctx); err != nil {
		return err
	}
	gs, err := s.api.SignInWithPassword(ctx, email, password)
	if err != nil {
		return toAuthError(err)
	}
	sess, err := newSession(gs, s.tokens, s.now())
	if err != nil {
		return fmt.Errorf("sign in: %w", err)
	}
	s.adopt(ctx, sess, SignedIn)
	return nil
}

// SignUp registers an identity and adopts its session when the auth API
// returns one.
func (s *Store) SignUp(ctx context.Context, email, password string) (*User, error) {
	if err := s.waitInit(ctx); err != nil {
		return nil, err
	}
	gu, gs, err := s.api.SignUp(ctx, email, password)
	if err != nil {
		return nil, toAuthError(err)
	}
	u := userFrom(gu, User{})
	if gs == nil || gs.AccessToken == "" {
		return &u, nil
	}
	sess, err := newSession(gs, s.tokens, s.now())
	if err != nil {
		return nil, fmt.Errorf("sign up: %w", err)
	}
	s.adopt(ctx, sess, SignedIn)
	return &sess.User, nil
}

// SignOut always clears the local session. The returned error reports a
// failed remote logout.
func (s *Store) SignOut(ctx context.Context) error {
	if err := s.waitInit(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	cur := s.session
	s.mu.Unlock()

	var remoteErr error
	if cur != nil {
		if err := s.api.Logout(ctx, cur.AccessToken); err != nil && !gotrue.IsRejection(err) {
			remoteErr = fmt.Errorf("remote logout: %w", err)
		}
	}

	s.mu.Lock()
	s.clearLocked(ctx)
	s.mu.Unlock()
	return remoteErr
}

// SetSession adopts externally obtained tokens. An expired access token is
// exchanged through the refresh token first.
func (s *Store) SetSession(ctx context.Context, accessToken, refreshToken string) error {
	if err := s.waitInit(ctx); err != nil {
		return err
	}
	if accessToken == "" || refreshToken == "" {
		return &AuthError{Message: "access token and refresh token are required"}
	}

	claims, err := s.tokens.Parse(accessToken)
	if err != nil || (claims.ExpiresAt != nil && !s.now().Before(claims.ExpiresAt.Time)) {
		gs, err := s.api.RefreshToken(ctx, refreshToken)
		if err != nil {
			return toAuthError(err)
		}
		sess, err := newSession(gs, s.tokens, s.now())
		if err != nil {
			return fmt.Errorf("set session: %w", err)
		}
		s.adopt(ctx, sess, TokenRefreshed)
		return nil
	}

	gu, err := s.api.GetUser(ctx, accessToken)
	if err != nil {
		return toAuthError(err)
	}
	sess := &Session{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		Claims:       claims,
		User:         userFrom(gu, User{ID: claims.Subject, Email: claims.Email}),
	}
	if claims.ExpiresAt != nil {
		sess.ExpiresAt = claims.ExpiresAt.Time
	}
	s.adopt(ctx, sess, SignedIn)
	return nil
}

// RefreshUser reloads the identity attributes of the current session and
// emits USER_UPDATED.
func (s *Store) RefreshUser(ctx context.Context) error {
	if err := s.waitInit(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	cur := s.session
	s.mu.Unlock()
	if cur == nil {
		return nil
	}

	gu, err := s.api.GetUser(ctx, cur.AccessToken)
	if err != nil {
		return fmt.Errorf("get user: %w", err)
	}
	next := *cur
	next.User = userFrom(gu, cur.User)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.session != cur {
		return nil
	}
	s.session = &next
	s.enqueueLocked(s.broadcastLocked(UserUpdated, &next))
	s.saveLocked(ctx, &next)
	return nil
}

// Close stops the refresh timer and the dispatcher. Persisted tokens stay.
func (s *Store) Close() {
	s.mu.Lock()
	s.closed = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.listeners = map[uint64]Listener{}
	s.awaiting = map[uint64]bool{}
	s.queue = nil
	s.mu.Unlock()
	s.closeOnce.Do(func() { close(s.done) })
}

func (s *Store) waitInit(ctx context.Context) error {
	select {
	case <-s.initDone:
		return nil
	default:
	}
	go s.initialize()
	select {
	case <-s.initDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Store) initialize() {
	s.initOnce.Do(func() {
		defer close(s.initDone)
		defer s.finishInit()
		ctx, cancel := context.WithTimeout(context.Background(), initTimeout)
		defer cancel()

		p, err := s.persist.Load(ctx, s.key)
		if err != nil {
			s.log.Warn().Err(err).Msg("load persisted session")
			return
		}
		if p == nil {
			return
		}

		sess, refreshed, err := s.restore(ctx, p)
		if err != nil {
			if gotrue.IsRejection(err) || errors.Is(err, auth.ErrInvalidToken) {
				if derr := s.persist.Delete(ctx, s.key); derr != nil {
					s.log.Warn().Err(derr).Msg("delete rejected session")
				}
			}
			s.log.Warn().Err(err).Msg("restore persisted session")
			return
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		if s.closed {
			return
		}
		s.session = sess
		s.scheduleLocked()
		if refreshed {
			s.saveLocked(ctx, sess)
		}
		s.log.Debug().Str("user_id", sess.User.ID).Bool("refreshed", refreshed).Msg("session restored")
	})
}

// finishInit queues INITIAL_SESSION for every listener that registered
// during initialization, before any later event can reach them.
func (s *Store) finishInit() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ready = true
	if s.closed || len(s.awaiting) == 0 {
		return
	}
	ids := make([]uint64, 0, len(s.awaiting))
	for id := range s.awaiting {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	s.awaiting = make(map[uint64]bool)
	s.enqueueLocked(delivery{targets: ids, event: InitialSession, session: s.session})
}

func (s *Store) restore(ctx context.Context, p *Persisted) (*Session, bool, error) {
	now := s.now()
	expiresAt := time.Time{}
	if p.ExpiresAt > 0 {
		expiresAt = time.Unix(p.ExpiresAt, 0)
	}

	if !expiresAt.IsZero() && !now.Add(s.margin).Before(expiresAt) {
		gs, err := s.api.RefreshToken(ctx, p.RefreshToken)
		if err != nil {
			return nil, false, err
		}
		sess, err := newSession(gs, s.tokens, now)
		if err != nil {
			return nil, false, err
		}
		return sess, true, nil
	}

	claims, err := s.tokens.Parse(p.AccessToken)
	if err != nil {
		return nil, false, err
	}
	return &Session{
		AccessToken:  p.AccessToken,
		RefreshToken: p.RefreshToken,
		ExpiresAt:    expiresAt,
		Claims:       claims,
		User:         User{ID: claims.Subject, Email: p.Email, Phone: claims.Phone},
	}, false, nil
}

func (s *Store) refresh(ctx context.Context, cur *Session) error {
	gs, err := s.api.RefreshToken(ctx, cur.RefreshToken)
	if err != nil {
		return err
	}
	sess, err := newSession(gs, s.tokens, s.now())
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.session != cur {
		return nil
	}
	s.session = sess
	s.scheduleLocked()
	s.enqueueLocked(s.broadcastLocked(TokenRefreshed, sess))
	s.saveLocked(ctx, sess)
	return nil
}

func (s *Store) autoRefresh(cur *Session) {
	ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
	defer cancel()

	err := s.refresh(ctx, cur)
	if err == nil {
		return
	}
	if gotrue.IsRejection(err) {
		s.log.Warn().Err(err).Str("user_id", cur.User.ID).Msg("refresh token rejected, signing out")
		s.clearIf(ctx, cur)
		return
	}

	s.log.Warn().Err(err).Dur("retry_in", s.retry).Msg("token refresh failed")
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.session != cur {
		return
	}
	s.timer = time.AfterFunc(s.retry, func() { s.autoRefresh(cur) })
}

func (s *Store) adopt(ctx context.Context, sess *Session, event Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.session = sess
	s.scheduleLocked()
	s.enqueueLocked(s.broadcastLocked(event, sess))
	s.saveLocked(ctx, sess)
}

func (s *Store) clearIf(ctx context.Context, cur *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == cur {
		s.clearLocked(ctx)
	}
}

func (s *Store) clearLocked(ctx context.Context) {
	if s.closed {
		return
	}
	s.session = nil
	s.scheduleLocked()
	s.enqueueLocked(s.broadcastLocked(SignedOut, nil))

	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if err := s.persist.Delete(pctx, s.key); err != nil {
		s.log.Warn().Err(err).Msg("delete persisted session")
	}
}

func (s *Store) saveLocked(ctx context.Context, sess *Session) {
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if err := s.persist.Save(pctx, s.key, persistedFrom(sess)); err != nil {
		s.log.Warn().Err(err).Msg("persist session")
	}
}

func (s *Store) scheduleLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	cur := s.session
	if s.closed || cur == nil || cur.RefreshToken == "" || cur.ExpiresAt.IsZero() {
		return
	}
	d := cur.ExpiresAt.Sub(s.now()) - s.margin
	if d < 0 {
		d = 0
	}
	s.timer = time.AfterFunc(d, func() { s.autoRefresh(cur) })
}

func (s *Store) broadcastLocked(event Event, sess *Session) delivery {
	ids := make([]uint64, 0, len(s.listeners))
	for id := range s.listeners {
		if !s.awaiting[id] {
			ids = append(ids, id)
		}
	}
	return delivery{targets: ids, event: event, session: sess}
}

func (s *Store) enqueueLocked(d delivery) {
	s.log.Debug().Str("event", string(d.event)).Str("user_id", d.session.Identity()).Msg("auth state change")
	s.queue = append(s.queue, d)
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Store) dispatch() {
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
		}
		for {
			s.mu.Lock()
			if s.closed || len(s.queue) == 0 {
				s.mu.Unlock()
				break
			}
			d := s.queue[0]
			s.queue[0] = delivery{}
			s.queue = s.queue[1:]
			ls := make([]Listener, 0, len(d.targets))
			for _, id := range d.targets {
				if l, ok := s.listeners[id]; ok {
					ls = append(ls, l)
				}
			}
			s.mu.Unlock()

			for _, l := range ls {
				l(d.event, d.session)
			}
		}
	}
}

func toAuthError(err error) error {
	var apiErr *gotrue.APIError
	if errors.As(err, &apiErr) {
		return &AuthError{Message: apiErr.Message, Err: err}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &AuthError{Message: "Unable to reach the sign-in service. Try again later.", Err: err}
}
