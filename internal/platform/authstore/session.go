package authstore

import (
	"fmt"
	"time"

	"github.com/patientdoc/portal/internal/platform/auth"
	"github.com/patientdoc/portal/internal/platform/gotrue"
)

// Event names match the auth state change events of the hosted client SDKs.
type Event string

const (
	InitialSession Event = "INITIAL_SESSION"
	SignedIn       Event = "SIGNED_IN"
	SignedOut      Event = "SIGNED_OUT"
	TokenRefreshed Event = "TOKEN_REFRESHED"
	UserUpdated    Event = "USER_UPDATED"
)

type User struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

// Session is an immutable credential snapshot. The store replaces it, never
// mutates it, so listeners may keep the pointer.
type Session struct {
	AccessToken  string       `json:"-"`
	RefreshToken string       `json:"-"`
	ExpiresAt    time.Time    `json:"expires_at"`
	User         User         `json:"user"`
	Claims       *auth.Claims `json:"-"`
}

// Identity returns the identity id, or "" for a nil session.
func (s *Session) Identity() string {
	if s == nil {
		return ""
	}
	return s.User.ID
}

func (s *Session) expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// AuthError is an authentication failure meant to be shown to the user.
type AuthError struct {
	Message string
	Err     error
}

func (e *AuthError) Error() string { return e.Message }

func (e *AuthError) Unwrap() error { return e.Err }

// Listener receives auth state changes. It runs on the store's dispatcher
// goroutine; deliveries are serial and in emission order.
type Listener func(event Event, session *Session)

type Subscription interface {
	Unsubscribe()
}

// TokenParser decodes access token claims.
type TokenParser interface {
	Parse(token string) (*auth.Claims, error)
}

func newSession(gs *gotrue.Session, tokens TokenParser, now time.Time) (*Session, error) {
	claims, err := tokens.Parse(gs.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("parse access token: %w", err)
	}
	s := &Session{
		AccessToken:  gs.AccessToken,
		RefreshToken: gs.RefreshToken,
		ExpiresAt:    gs.Expiry(now),
		Claims:       claims,
		User:         User{ID: claims.Subject, Email: claims.Email, Phone: claims.Phone},
	}
	if s.ExpiresAt.IsZero() && claims.ExpiresAt != nil {
		s.ExpiresAt = claims.ExpiresAt.Time
	}
	if gs.User != nil {
		s.User = userFrom(gs.User, s.User)
	}
	return s, nil
}

func userFrom(u *gotrue.User, fallback User) User {
	out := User{ID: u.ID, Email: u.Email, Phone: u.Phone}
	if out.ID == "" {
		out.ID = fallback.ID
	}
	if out.Email == "" {
		out.Email = fallback.Email
	}
	return out
}
