// Package web serves the portal's own screens: sign in and out, the
// dashboard, the session snapshot and its websocket feed. It also binds each
// signed-in browser to its portal session through a cookie.
package web

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/patientdoc/portal/internal/platform/auth"
	"github.com/patientdoc/portal/internal/portal/session"
)

// SessionSource hands out and retires portal sessions; *session.Manager
// satisfies it.
type SessionSource interface {
	Attach(id string) (*session.Resolver, error)
	Remove(id string)
}

type CookieConfig struct {
	Name   string
	Secure bool
	MaxAge time.Duration
}

// Sessions attaches the portal session named by the caller's cookie. A
// request without a usable cookie is served signed out and starts nothing;
// sessions are only created by signing in. /health is left alone.
func Sessions(sessions SessionSource, cookie CookieConfig, logger zerolog.Logger) echo.MiddlewareFunc {
	log := logger.With().Str("component", "portal-sessions").Logger()
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if strings.HasPrefix(c.Request().URL.Path, "/health") {
				return next(c)
			}

			ck, err := c.Cookie(cookie.Name)
			if err != nil || ck.Value == "" {
				return signedOut(c, next)
			}

			r, err := sessions.Attach(ck.Value)
			switch {
			case errors.Is(err, session.ErrInvalidID):
				c.SetCookie(expiredCookie(cookie))
				return signedOut(c, next)
			case err != nil:
				return attachError(err, log)
			}

			ctx := session.WithResolver(c.Request().Context(), ck.Value, r)
			ctx = session.WithSnapshot(ctx, r.Snapshot())
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

func signedOut(c echo.Context, next echo.HandlerFunc) error {
	c.SetRequest(c.Request().WithContext(session.WithSnapshot(c.Request().Context(), session.SignedOutSnapshot)))
	return next(c)
}

func attachError(err error, log zerolog.Logger) error {
	switch {
	case errors.Is(err, session.ErrClosed):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "server is shutting down")
	case errors.Is(err, session.ErrCapacity):
		log.Warn().Msg("portal session capacity reached")
		return echo.NewHTTPError(http.StatusServiceUnavailable, "too many active sessions, try again later")
	}
	log.Error().Err(err).Msg("attach portal session")
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
}

func newCookie(cfg CookieConfig, id string) *http.Cookie {
	ck := &http.Cookie{
		Name:     cfg.Name,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		Secure:   cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	}
	if cfg.MaxAge > 0 {
		ck.MaxAge = int(cfg.MaxAge / time.Second)
	}
	return ck
}

func expiredCookie(cfg CookieConfig) *http.Cookie {
	ck := newCookie(CookieConfig{Name: cfg.Name, Secure: cfg.Secure}, "")
	ck.MaxAge = -1
	return ck
}

// Identity publishes the signed-in user of the request's snapshot to the
// auth context helpers. It must run after the guard so the snapshot is
// resolved.
func Identity() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			snap := session.SnapshotFromContext(ctx)
			if !snap.SignedIn() {
				return next(c)
			}

			var claims *auth.Claims
			if snap.Session != nil {
				claims = snap.Session.Claims
			}
			ctx = auth.WithIdentity(ctx, snap.User.ID, string(snap.Role), claims)
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}
