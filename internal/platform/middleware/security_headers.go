package middleware

import (
	"strings"

	"github.com/labstack/echo/v4"
)

var baseHeaders = [][2]string{
	{"X-Content-Type-Options", "nosniff"},
	{"X-Frame-Options", "DENY"},
	{"X-XSS-Protection", "0"},
	{"Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'"},
	{"Referrer-Policy", "no-referrer"},
	{"Permissions-Policy", "camera=(), microphone=(), geolocation=()"},
}

type SecurityConfig struct {
	// HSTS pins browsers to TLS; leave it off for plain-HTTP development.
	HSTS bool
	// CacheablePrefixes are paths allowed into shared caches. Everything
	// else may carry patient data and is sent no-store.
	CacheablePrefixes []string
}

func SecurityHeaders(cfg SecurityConfig) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()
			for _, kv := range baseHeaders {
				h.Set(kv[0], kv[1])
			}
			if cfg.HSTS {
				h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
			}
			if !cacheable(c.Request().URL.Path, cfg.CacheablePrefixes) {
				h.Set("Cache-Control", "no-store")
			}
			return next(c)
		}
	}
}

func cacheable(path string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}
