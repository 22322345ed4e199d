package db

import (
	"fmt"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/patientdoc/portal/internal/platform/auth"
)

// ScopeFor builds the Scope for an access token's claims.
func ScopeFor(role string, claims *auth.Claims) (Scope, error) {
	raw, err := json.Marshal(claims)
	if err != nil {
		return Scope{}, fmt.Errorf("encode request claims: %w", err)
	}
	return Scope{Role: role, Claims: raw}, nil
}

// ScopeMiddleware attaches a Scope for the signed-in identity so statements
// run through Run see the caller's claims. Anonymous requests are left
// unscoped.
func ScopeMiddleware(role string, logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			claims := auth.ClaimsFromContext(ctx)
			if claims == nil {
				return next(c)
			}

			s, err := ScopeFor(role, claims)
			if err != nil {
				logger.Error().Err(err).Msg("build request scope")
				return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
			}
			c.SetRequest(c.Request().WithContext(WithScope(ctx, s)))
			return next(c)
		}
	}
}
