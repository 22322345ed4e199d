// Package guard decides, from a resolved snapshot, whether a screen renders,
// waits, or redirects.
package guard

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/patientdoc/portal/internal/portal/session"
)

type Outcome int

const (
	Allow Outcome = iota
	Pending
	Redirect
)

type Decision struct {
	Outcome Outcome
	To      string
}

const (
	LoginPath = "/login"
	HomePath  = "/"
)

// Protected renders nothing while loading and sends visitors without a user
// to the login screen.
func Protected(s session.Snapshot) Decision {
	switch {
	case s.Loading:
		return Decision{Outcome: Pending}
	case !s.SignedIn():
		return Decision{Outcome: Redirect, To: LoginPath}
	}
	return Decision{Outcome: Allow}
}

// LoginOnly is the inverse of Protected for the login screen.
func LoginOnly(s session.Snapshot) Decision {
	switch {
	case s.Loading:
		return Decision{Outcome: Pending}
	case s.SignedIn():
		return Decision{Outcome: Redirect, To: HomePath}
	}
	return Decision{Outcome: Allow}
}

// Middleware applies rule to the request's portal session. It waits up to
// wait for the resolver to settle. Pending answers 204 with Retry-After and
// no body; Redirect answers 303.
func Middleware(rule func(session.Snapshot) Decision, wait time.Duration) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			snap := session.SnapshotFromContext(req.Context())
			if r := session.ResolverFromContext(req.Context()); r != nil {
				ctx, cancel := context.WithTimeout(req.Context(), wait)
				snap, _ = r.Wait(ctx)
				cancel()
				c.SetRequest(req.WithContext(session.WithSnapshot(req.Context(), snap)))
			}

			d := rule(snap)
			switch d.Outcome {
			case Pending:
				c.Response().Header().Set("Retry-After", strconv.Itoa(1))
				return c.NoContent(http.StatusNoContent)
			case Redirect:
				return c.Redirect(http.StatusSeeOther, d.To)
			}
			return next(c)
		}
	}
}
