package guard

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/patientdoc/portal/internal/domain/profile"
	"github.com/patientdoc/portal/internal/platform/authstore"
	"github.com/patientdoc/portal/internal/portal/session"
)

var signedIn = session.Snapshot{
	User:  &authstore.User{ID: "P1"},
	Role:  profile.RolePatient,
	State: session.Ready,
}

func TestProtected(t *testing.T) {
	tests := []struct {
		name string
		snap session.Snapshot
		want Decision
	}{
		{"loading", session.Snapshot{Loading: true}, Decision{Outcome: Pending}},
		{"loading with user", session.Snapshot{Loading: true, User: &authstore.User{ID: "P1"}}, Decision{Outcome: Pending}},
		{"signed out", session.Snapshot{State: session.SignedOut}, Decision{Outcome: Redirect, To: "/login"}},
		{"signed in", signedIn, Decision{Outcome: Allow}},
		{"signed in without role", session.Snapshot{User: &authstore.User{ID: "U1"}, State: session.Ready}, Decision{Outcome: Allow}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Protected(tt.snap); got != tt.want {
				t.Errorf("Protected() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestLoginOnly(t *testing.T) {
	if got := LoginOnly(session.Snapshot{Loading: true}); got.Outcome != Pending {
		t.Errorf("expected pending, got %+v", got)
	}
	if got := LoginOnly(signedIn); got.Outcome != Redirect || got.To != "/" {
		t.Errorf("expected redirect home, got %+v", got)
	}
	if got := LoginOnly(session.Snapshot{State: session.SignedOut}); got.Outcome != Allow {
		t.Errorf("expected allow, got %+v", got)
	}
}

func serve(t *testing.T, snap session.Snapshot, rule func(session.Snapshot) Decision) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/medical-records", nil)
	req = req.WithContext(session.WithSnapshot(req.Context(), snap))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	h := Middleware(rule, 10*time.Millisecond)(func(c echo.Context) error {
		return c.String(http.StatusOK, "screen")
	})
	if err := h(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return rec
}

func TestMiddleware_PendingRendersNothing(t *testing.T) {
	rec := serve(t, session.Snapshot{Loading: true}, Protected)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if rec.Body.Len() != 0 {
		t.Errorf("expected empty body, got %q", rec.Body.String())
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}
}

func TestMiddleware_RedirectsToLogin(t *testing.T) {
	rec := serve(t, session.Snapshot{State: session.SignedOut}, Protected)
	if rec.Code != http.StatusSeeOther || rec.Header().Get("Location") != "/login" {
		t.Fatalf("expected 303 to /login, got %d %q", rec.Code, rec.Header().Get("Location"))
	}
}

func TestMiddleware_Allows(t *testing.T) {
	rec := serve(t, signedIn, Protected)
	if rec.Code != http.StatusOK || rec.Body.String() != "screen" {
		t.Fatalf("expected screen, got %d %q", rec.Code, rec.Body.String())
	}
}
