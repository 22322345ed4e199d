package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
)

type TimeoutConfig struct {
	Timeout time.Duration
	// Skipper exempts long-lived requests. Nil skips paths under /ws/.
	Skipper echomw.Skipper
}

func skipStreams(c echo.Context) bool {
	return strings.HasPrefix(c.Request().URL.Path, "/ws/")
}

// RequestTimeout bounds each request with cfg.Timeout. A handler still
// running at the deadline gets a cancelled context and the caller a 504.
func RequestTimeout(cfg TimeoutConfig) echo.MiddlewareFunc {
	if cfg.Skipper == nil {
		cfg.Skipper = skipStreams
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if cfg.Timeout <= 0 || cfg.Skipper(c) {
				return next(c)
			}

			ctx, cancel := context.WithTimeout(c.Request().Context(), cfg.Timeout)
			defer cancel()
			c.SetRequest(c.Request().WithContext(ctx))

			done := make(chan error, 1)
			go func() { done <- next(c) }()

			select {
			case err := <-done:
				return err
			case <-ctx.Done():
			}
			if !errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return ctx.Err()
			}
			if c.Response().Committed {
				return nil
			}
			return c.JSON(http.StatusGatewayTimeout, map[string]string{
				"message": "The request took too long. Try again.",
			})
		}
	}
}
