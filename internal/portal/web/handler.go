package web

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/patientdoc/portal/internal/domain/profile"
	"github.com/patientdoc/portal/internal/platform/auth"
	"github.com/patientdoc/portal/internal/platform/authstore"
	"github.com/patientdoc/portal/internal/platform/websocket"
	"github.com/patientdoc/portal/internal/portal/guard"
	"github.com/patientdoc/portal/internal/portal/nav"
	"github.com/patientdoc/portal/internal/portal/screen"
	"github.com/patientdoc/portal/internal/portal/session"
)

type Options struct {
	// Sessions creates the session a sign-in lands in.
	Sessions SessionSource
	// Cookie names the session cookie issued on sign-in.
	Cookie CookieConfig
	// ResolveWait bounds how long a request waits for the session to settle.
	ResolveWait time.Duration
	// Location picks "today" on the dashboard.
	Location *time.Location
	// LoginLimiter throttles sign-in attempts.
	LoginLimiter echo.MiddlewareFunc
	Hub          *websocket.Hub
	Upgrader     *websocket.Upgrader
	Logger       zerolog.Logger
}

type Handler struct {
	opts   Options
	logger zerolog.Logger
	now    func() time.Time
}

func NewHandler(opts Options) *Handler {
	if opts.ResolveWait <= 0 {
		opts.ResolveWait = 3 * time.Second
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &Handler{
		opts:   opts,
		logger: opts.Logger.With().Str("component", "portal-web").Logger(),
		now:    time.Now,
	}
}

// RegisterRoutes mounts the sign-in surface on e and the signed-in screens on
// app, which already carries the Protected guard and the identity.
func (h *Handler) RegisterRoutes(e *echo.Echo, app *echo.Group) {
	loginOnly := guard.Middleware(guard.LoginOnly, h.opts.ResolveWait)
	login := []echo.MiddlewareFunc{loginOnly}
	if h.opts.LoginLimiter != nil {
		login = append(login, h.opts.LoginLimiter)
	}

	e.GET(guard.LoginPath, h.LoginForm, loginOnly)
	e.POST(guard.LoginPath, h.Login, login...)
	e.POST("/logout", h.Logout)
	e.GET("/session", h.Session)
	if h.opts.Upgrader != nil && h.opts.Hub != nil {
		e.GET("/ws/session", h.Feed)
	}

	app.GET(guard.HomePath, h.Dashboard)
	app.GET("/messages", h.Messages, auth.RequireRole(string(profile.RoleDoctor)))
}

type loginView struct {
	Title  string   `json:"title"`
	Fields []string `json:"fields"`
}

func (h *Handler) LoginForm(c echo.Context) error {
	return c.JSON(http.StatusOK, loginView{Title: "Sign in", Fields: []string{"email", "password"}})
}

type credentials struct {
	Email    string `json:"email" form:"email"`
	Password string `json:"password" form:"password"`
}

// Login signs in on a fresh portal session and hands the browser its cookie,
// so an id known before sign-in never becomes a signed-in session. Auth
// failures come back as 401 with the provider's message and the caller's
// session unchanged; success redirects home once the session reports the
// user.
func (h *Handler) Login(c echo.Context) error {
	var in credentials
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	in.Email = strings.TrimSpace(in.Email)
	if in.Email == "" || in.Password == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "email and password are required")
	}

	ctx := c.Request().Context()
	id := session.NewID()
	r, err := h.opts.Sessions.Attach(id)
	if err != nil {
		return attachError(err, h.logger)
	}

	if err := r.SignIn(ctx, in.Email, in.Password); err != nil {
		h.opts.Sessions.Remove(id)
		var authErr *authstore.AuthError
		if errors.As(err, &authErr) {
			return c.JSON(http.StatusUnauthorized, screen.Destructive(authErr.Message))
		}
		h.logger.Error().Err(err).Msg("sign in")
		return c.JSON(http.StatusBadGateway, screen.Destructive("Sign in is unavailable. Try again later."))
	}

	if prev := session.IDFromContext(ctx); prev != "" {
		h.opts.Sessions.Remove(prev)
	}
	c.SetCookie(newCookie(h.opts.Cookie, id))

	wait, cancel := context.WithTimeout(ctx, h.opts.ResolveWait)
	defer cancel()
	await(wait, r, session.Snapshot.SignedIn)
	return c.Redirect(http.StatusSeeOther, guard.HomePath)
}

// await returns once cond holds for the resolver's snapshot or ctx ends.
func await(ctx context.Context, r *session.Resolver, cond func(session.Snapshot) bool) {
	for {
		ch := r.Updated()
		if cond(r.Snapshot()) {
			return
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return
		}
	}
}

// Logout redirects to the login screen once the session reports it is signed
// out, so the next request does not bounce back home.
func (h *Handler) Logout(c echo.Context) error {
	ctx := c.Request().Context()
	if r := session.ResolverFromContext(ctx); r != nil {
		r.SignOut(ctx)
		wait, cancel := context.WithTimeout(ctx, h.opts.ResolveWait)
		defer cancel()
		await(wait, r, func(s session.Snapshot) bool { return !s.SignedIn() })
	}
	return c.Redirect(http.StatusSeeOther, guard.LoginPath)
}

type dashboardView struct {
	Title      string   `json:"title"`
	Email      string   `json:"email"`
	Role       string   `json:"role"`
	Name       string   `json:"name,omitempty"`
	Menu       nav.Menu `json:"menu"`
	Today      string   `json:"today"`
	TodayLabel string   `json:"today_label"`
}

func (h *Handler) Dashboard(c echo.Context) error {
	snap := session.SnapshotFromContext(c.Request().Context())
	today := h.now().In(h.opts.Location)

	v := dashboardView{
		Title:      "Dashboard",
		Role:       string(snap.Role),
		Menu:       nav.For(snap.Role, guard.HomePath),
		Today:      today.Format("2006-01-02"),
		TodayLabel: today.Format("Monday, January 2, 2006"),
	}
	if snap.User != nil {
		v.Email = snap.User.Email
	}
	if snap.Profile != nil {
		v.Name = snap.Profile.DisplayName()
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) Messages(c echo.Context) error {
	return c.JSON(http.StatusOK, screen.NewView[struct{}]("Messages", "No messages yet.", nil, nil))
}

type sessionView struct {
	session.Snapshot
	Menu nav.Menu `json:"menu"`
}

func viewOf(s session.Snapshot, path string) sessionView {
	return sessionView{Snapshot: s, Menu: nav.For(s.Role, path)}
}

// Session reports the current snapshot without waiting. ?path= marks the
// active menu entry.
func (h *Handler) Session(c echo.Context) error {
	snap := session.SnapshotFromContext(c.Request().Context())
	if r := session.ResolverFromContext(c.Request().Context()); r != nil {
		snap = r.Snapshot()
	}
	return c.JSON(http.StatusOK, viewOf(snap, c.QueryParam("path")))
}
