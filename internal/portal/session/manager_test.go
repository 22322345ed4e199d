package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestManager(t *testing.T) (*Manager, map[string]*fakeStore) {
	t.Helper()
	stores := map[string]*fakeStore{}
	m := NewManager(ManagerOptions{
		NewStore: func(id string) Store {
			s := &fakeStore{}
			stores[id] = s
			return s
		},
		Profiles:     newFakeFetcher(),
		FetchTimeout: time.Second,
		IdleTTL:      time.Minute,
		Logger:       zerolog.Nop(),
	})
	return m, stores
}

func TestManager_AttachReusesLiveSession(t *testing.T) {
	m, stores := newTestManager(t)
	id := NewID()

	r1, err := m.Attach(id)
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	r2, err := m.Attach(id)
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	if r1 != r2 {
		t.Error("expected the same resolver for the same id")
	}
	if len(stores) != 1 || stores[id].listener == nil {
		t.Errorf("expected one started store, got %d", len(stores))
	}
}

func TestManager_AttachRejectsBadID(t *testing.T) {
	m, _ := newTestManager(t)
	if _, err := m.Attach("../../etc"); !errors.Is(err, ErrInvalidID) {
		t.Fatalf("expected ErrInvalidID, got %v", err)
	}
}

func TestManager_SweepClosesIdle(t *testing.T) {
	m, stores := newTestManager(t)
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	idle, fresh := NewID(), NewID()
	m.Attach(idle)
	now = now.Add(50 * time.Second)
	m.Attach(fresh)
	now = now.Add(20 * time.Second)

	if n := m.Sweep(); n != 1 {
		t.Fatalf("expected 1 swept, got %d", n)
	}
	if _, ok := m.Get(idle); ok {
		t.Error("idle session still live")
	}
	if _, ok := m.Get(fresh); !ok {
		t.Error("fresh session swept")
	}
	if !stores[idle].closed || stores[fresh].closed {
		t.Error("expected only the idle store closed")
	}
}

func TestManager_RemoveAndCloseAll(t *testing.T) {
	m, stores := newTestManager(t)
	a, b := NewID(), NewID()
	m.Attach(a)
	m.Attach(b)

	m.Remove(a)
	if !stores[a].closed || m.Len() != 1 {
		t.Fatalf("expected a removed, live=%d", m.Len())
	}

	m.CloseAll()
	if !stores[b].closed || m.Len() != 0 {
		t.Fatal("expected all closed")
	}
	if _, err := m.Attach(NewID()); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed after CloseAll, got %v", err)
	}
}

func TestManager_RunStopsOnCancel(t *testing.T) {
	m, stores := newTestManager(t)
	id := NewID()
	m.Attach(id)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- m.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
	if !stores[id].closed {
		t.Error("expected sessions closed on shutdown")
	}
}

func TestManager_OnCloseReportsID(t *testing.T) {
	var closed []string
	m := NewManager(ManagerOptions{
		NewStore:     func(string) Store { return &fakeStore{} },
		Profiles:     newFakeFetcher(),
		FetchTimeout: time.Second,
		IdleTTL:      time.Minute,
		OnClose:      func(id string) { closed = append(closed, id) },
		Logger:       zerolog.Nop(),
	})
	id := NewID()
	m.Attach(id)
	m.Remove(id)

	if len(closed) != 1 || closed[0] != id {
		t.Fatalf("expected OnClose(%s), got %v", id, closed)
	}
}

func TestManager_AttachStopsAtCapacity(t *testing.T) {
	m, stores := newTestManager(t)
	m.opts.MaxSessions = 2
	a, b := NewID(), NewID()
	m.Attach(a)
	m.Attach(b)

	if _, err := m.Attach(NewID()); !errors.Is(err, ErrCapacity) {
		t.Fatalf("expected ErrCapacity, got %v", err)
	}
	if len(stores) != 2 {
		t.Errorf("expected no store built past the cap, got %d", len(stores))
	}
	if _, err := m.Attach(a); err != nil {
		t.Errorf("expected a live session to stay reachable, got %v", err)
	}

	m.Remove(b)
	if _, err := m.Attach(NewID()); err != nil {
		t.Errorf("expected room after Remove, got %v", err)
	}
}
