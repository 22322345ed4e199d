package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/patientdoc/portal/internal/domain/profile"
	"github.com/patientdoc/portal/internal/platform/authstore"
)

// fakeStore delivers events synchronously on the test goroutine.
type fakeStore struct {
	mu         sync.Mutex
	listener   authstore.Listener
	signInErr  error
	signOutErr error
	signIns    int
	closed     bool
	unsubbed   bool
}

type fakeSub struct{ s *fakeStore }

func (f fakeSub) Unsubscribe() {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	f.s.listener = nil
	f.s.unsubbed = true
}

func (f *fakeStore) OnAuthStateChange(l authstore.Listener) authstore.Subscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listener = l
	return fakeSub{f}
}

func (f *fakeStore) SignInWithPassword(context.Context, string, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signIns++
	return f.signInErr
}

func (f *fakeStore) SignOut(context.Context) error { return f.signOutErr }

func (f *fakeStore) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakeStore) emit(e authstore.Event, s *authstore.Session) {
	f.mu.Lock()
	l := f.listener
	f.mu.Unlock()
	if l != nil {
		l(e, s)
	}
}

type fetchResult struct {
	p   *profile.Profile
	err error
}

// fakeFetcher answers immediately unless a gate is registered for the
// identity, in which case it blocks until the gate yields a result.
type fakeFetcher struct {
	mu    sync.Mutex
	gates map[string]chan fetchResult
	roles map[string]profile.Role
	calls []string
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{gates: map[string]chan fetchResult{}, roles: map[string]profile.Role{}}
}

func (f *fakeFetcher) gate(id string) chan fetchResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan fetchResult, 1)
	f.gates[id] = ch
	return ch
}

func (f *fakeFetcher) FetchProfile(ctx context.Context, s *authstore.Session) (*profile.Profile, error) {
	id := s.Identity()
	f.mu.Lock()
	f.calls = append(f.calls, id)
	ch, gated := f.gates[id]
	delete(f.gates, id)
	role, known := f.roles[id]
	f.mu.Unlock()

	if gated {
		select {
		case res := <-ch:
			return res.p, res.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if !known {
		return nil, profile.ErrNotFound
	}
	return &profile.Profile{ID: uuid.MustParse(id), Role: role}, nil
}

func sess(id string) *authstore.Session {
	return &authstore.Session{AccessToken: "at-" + id, User: authstore.User{ID: id, Email: id + "@example.com"}}
}

var (
	idA = "11111111-1111-1111-1111-111111111111"
	idB = "22222222-2222-2222-2222-222222222222"
)

func newTestResolver(t *testing.T) (*Resolver, *fakeStore, *fakeFetcher) {
	t.Helper()
	st := &fakeStore{}
	ff := newFakeFetcher()
	r := NewResolver(st, ff, time.Second, zerolog.Nop())
	r.Start()
	t.Cleanup(func() {
		r.Close()
		r.drain()
	})
	return r, st, ff
}

func TestResolver_InitialNoSession(t *testing.T) {
	r, st, _ := newTestResolver(t)
	if s := r.Snapshot(); !s.Loading || s.State != Unresolved {
		t.Fatalf("expected unresolved loading snapshot, got %+v", s)
	}

	st.emit(authstore.InitialSession, nil)
	s := r.Snapshot()
	if s.Loading || s.State != SignedOut || s.User != nil {
		t.Fatalf("expected signed out, got %+v", s)
	}
}

func TestResolver_InitialSessionResolvesProfile(t *testing.T) {
	r, st, ff := newTestResolver(t)
	ff.roles[idA] = profile.RoleDoctor

	st.emit(authstore.InitialSession, sess(idA))
	if s := r.Snapshot(); !s.Loading || s.State != ResolvingProfile {
		t.Fatalf("expected resolving, got %+v", s)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s, err := r.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if s.State != Ready || s.Role != profile.RoleDoctor || s.Profile == nil {
		t.Fatalf("expected ready doctor, got %+v", s)
	}
}

func TestResolver_ProfileFailureIsAbsentProfile(t *testing.T) {
	r, st, _ := newTestResolver(t)

	st.emit(authstore.InitialSession, sess(idA))
	r.drain()
	s := r.Snapshot()
	if s.Loading || s.State != Ready {
		t.Fatalf("expected ready, got %+v", s)
	}
	if s.Profile != nil || s.Role != profile.RoleNone || s.User == nil {
		t.Fatalf("expected signed in without profile, got %+v", s)
	}
}

func TestResolver_StaleFetchIsDiscarded(t *testing.T) {
	r, st, ff := newTestResolver(t)
	gateA := ff.gate(idA)
	gateB := ff.gate(idB)

	st.emit(authstore.InitialSession, sess(idA))
	st.emit(authstore.SignedIn, sess(idB))

	gateB <- fetchResult{p: &profile.Profile{ID: uuid.MustParse(idB), Role: profile.RoleAdmin}}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := r.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	gateA <- fetchResult{p: &profile.Profile{ID: uuid.MustParse(idA), Role: profile.RolePatient}}
	r.drain()

	s := r.Snapshot()
	if s.Profile == nil || s.Profile.ID.String() != idB || s.Role != profile.RoleAdmin {
		t.Fatalf("expected B's profile to survive, got %+v", s.Profile)
	}
}

func TestResolver_StaleFetchFinishingFirstIsDiscarded(t *testing.T) {
	r, st, ff := newTestResolver(t)
	gateA := ff.gate(idA)
	gateB := ff.gate(idB)

	st.emit(authstore.InitialSession, sess(idA))
	st.emit(authstore.SignedIn, sess(idB))

	gateA <- fetchResult{p: &profile.Profile{ID: uuid.MustParse(idA), Role: profile.RolePatient}}
	time.Sleep(20 * time.Millisecond)
	if s := r.Snapshot(); !s.Loading || s.Profile != nil {
		t.Fatalf("A's result must not resolve B's epoch, got %+v", s)
	}

	gateB <- fetchResult{err: errors.New("timeout")}
	r.drain()
	s := r.Snapshot()
	if s.Loading || s.Profile != nil || s.User.ID != idB {
		t.Fatalf("expected B signed in with absent profile, got %+v", s)
	}
}

func TestResolver_LoadingFalseOncePerIdentity(t *testing.T) {
	r, st, ff := newTestResolver(t)
	ff.roles[idA] = profile.RolePatient
	ff.roles[idB] = profile.RoleDoctor

	st.emit(authstore.InitialSession, sess(idA))
	r.drain()
	if r.Snapshot().Loading {
		t.Fatal("expected loading false after first resolve")
	}

	st.emit(authstore.TokenRefreshed, sess(idA))
	if s := r.Snapshot(); s.Loading || s.Profile == nil {
		t.Fatalf("token refresh must not toggle loading or drop profile, got %+v", s)
	}
	r.drain()
	if s := r.Snapshot(); s.Loading || s.Role != profile.RolePatient {
		t.Fatalf("expected background refetch to keep patient, got %+v", s)
	}

	st.emit(authstore.UserUpdated, sess(idA))
	if r.Snapshot().Loading {
		t.Fatal("user update must not toggle loading")
	}
	r.drain()

	st.emit(authstore.SignedOut, nil)
	if r.Snapshot().Loading {
		t.Fatal("sign out must not toggle loading")
	}

	st.emit(authstore.SignedIn, sess(idB))
	if !r.Snapshot().Loading {
		t.Fatal("expected loading on a new sign in")
	}
	r.drain()
	if s := r.Snapshot(); s.Loading || s.Role != profile.RoleDoctor {
		t.Fatalf("expected doctor ready, got %+v", s)
	}

	st.emit(authstore.SignedIn, sess(idB))
	if r.Snapshot().Loading {
		t.Fatal("signed in for the same identity must not toggle loading")
	}
	r.drain()
}

func TestResolver_SignInErrorLeavesSnapshot(t *testing.T) {
	r, st, _ := newTestResolver(t)
	st.emit(authstore.InitialSession, nil)
	before := r.Snapshot()

	st.signInErr = &authstore.AuthError{Message: "Invalid login credentials"}
	err := r.SignIn(context.Background(), "p@example.com", "wrong")
	var ae *authstore.AuthError
	if !errors.As(err, &ae) || ae.Message == "" {
		t.Fatalf("expected auth error message, got %v", err)
	}
	after := r.Snapshot()
	if after.Version != before.Version || after.Session != nil {
		t.Fatalf("snapshot changed on failed sign in: %+v", after)
	}
}

func TestResolver_SignOutYieldsNoRole(t *testing.T) {
	r, st, ff := newTestResolver(t)
	ff.roles[idA] = profile.RoleAdmin
	st.emit(authstore.InitialSession, sess(idA))
	r.drain()

	st.signOutErr = errors.New("network down")
	r.SignOut(context.Background())
	st.emit(authstore.SignedOut, nil)

	s := r.Snapshot()
	if s.Role != profile.RoleNone || s.Profile != nil || s.User != nil || s.State != SignedOut {
		t.Fatalf("expected signed out without role, got %+v", s)
	}
}

func TestResolver_UpdatedFiresOnChange(t *testing.T) {
	r, st, _ := newTestResolver(t)
	ch := r.Updated()
	st.emit(authstore.InitialSession, nil)
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("expected update notification")
	}
}

func TestResolver_CloseDropsInFlight(t *testing.T) {
	st := &fakeStore{}
	ff := newFakeFetcher()
	r := NewResolver(st, ff, time.Second, zerolog.Nop())
	r.Start()
	gate := ff.gate(idA)

	st.emit(authstore.InitialSession, sess(idA))
	r.Close()
	gate <- fetchResult{p: &profile.Profile{ID: uuid.MustParse(idA), Role: profile.RolePatient}}
	r.drain()

	if s := r.Snapshot(); s.Profile != nil {
		t.Fatalf("closed resolver applied a result: %+v", s)
	}
	if !st.unsubbed {
		t.Error("expected unsubscribe on close")
	}
	st.emit(authstore.SignedOut, nil)
	if s := r.Snapshot(); s.State == SignedOut {
		t.Error("closed resolver handled an event")
	}
}

func TestResolver_WaitHonoursContext(t *testing.T) {
	r, st, ff := newTestResolver(t)
	gate := ff.gate(idA)
	st.emit(authstore.InitialSession, sess(idA))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	s, err := r.Wait(ctx)
	if !errors.Is(err, context.DeadlineExceeded) || !s.Loading {
		t.Fatalf("expected deadline with loading snapshot, got %v %+v", err, s)
	}
	gate <- fetchResult{err: profile.ErrNotFound}
}
