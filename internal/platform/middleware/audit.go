package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/patientdoc/portal/internal/platform/auth"
)

// AuditEntry records one access to a screen showing health or account data.
type AuditEntry struct {
	UserID     string
	Role       string
	Screen     string
	PatientID  string
	Action     string
	IPAddress  string
	UserAgent  string
	Path       string
	Method     string
	Timestamp  time.Time
	RequestID  string
	StatusCode int
}

// phiScreens are the screens whose access is audited.
var phiScreens = map[string]bool{
	"book-appointment": true,
	"medical-records":  true,
	"appointments":     true,
	"my-patients":      true,
	"doctor-records":   true,
	"manage-users":     true,
}

// AuditPatientKey is the echo context key a handler sets to the patient a
// request touched when it is not in the query string.
const AuditPatientKey = "audit_patient_id"

// Audit logs an access line for each request to a PHI screen after the
// handler ran.
func Audit(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			screen := screenOf(c.Request().URL.Path)
			if !phiScreens[screen] {
				return next(c)
			}

			err := next(c)

			req := c.Request()
			ctx := req.Context()
			entry := AuditEntry{
				UserID:     auth.UserIDFromContext(ctx),
				Role:       auth.RoleFromContext(ctx),
				Screen:     screen,
				PatientID:  patientOf(c),
				Action:     httpMethodToAction(req.Method),
				IPAddress:  c.RealIP(),
				UserAgent:  req.UserAgent(),
				Path:       req.URL.Path,
				Method:     req.Method,
				Timestamp:  time.Now().UTC(),
				RequestID:  requestID(c),
				StatusCode: c.Response().Status,
			}
			if he, ok := err.(*echo.HTTPError); ok {
				entry.StatusCode = he.Code
			}

			logger.Info().
				Str("type", "phi_audit").
				Str("request_id", entry.RequestID).
				Str("user_id", entry.UserID).
				Str("role", entry.Role).
				Str("screen", entry.Screen).
				Str("patient_id", entry.PatientID).
				Str("action", entry.Action).
				Str("method", entry.Method).
				Str("path", entry.Path).
				Str("remote_ip", entry.IPAddress).
				Str("user_agent", entry.UserAgent).
				Int("status", entry.StatusCode).
				Time("at", entry.Timestamp).
				Msg("phi_access")

			return err
		}
	}
}

// patientOf prefers the handler's value, then the query, then a form body.
func patientOf(c echo.Context) string {
	if v, ok := c.Get(AuditPatientKey).(string); ok && v != "" {
		return v
	}
	if v := c.QueryParam("patient_id"); v != "" {
		return v
	}
	if strings.HasPrefix(c.Request().Header.Get(echo.HeaderContentType), echo.MIMEApplicationForm) {
		return c.FormValue("patient_id")
	}
	return ""
}

func screenOf(path string) string {
	first, _, _ := strings.Cut(strings.TrimPrefix(path, "/"), "/")
	return first
}

func httpMethodToAction(method string) string {
	switch method {
	case http.MethodPost:
		return "create"
	case http.MethodPut, http.MethodPatch:
		return "update"
	case http.MethodDelete:
		return "delete"
	}
	return "read"
}
