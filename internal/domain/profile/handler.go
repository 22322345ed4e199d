package profile

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/patientdoc/portal/internal/platform/auth"
	"github.com/patientdoc/portal/internal/portal/screen"
)

// PortalSettings are the non-secret runtime settings shown to admins.
type PortalSettings struct {
	Environment     string `json:"environment"`
	DisplayTimezone string `json:"display_timezone"`
	SessionIdleTTL  string `json:"session_idle_ttl"`
	PersistentStore string `json:"session_persistence"`
	ManagedUsers    bool   `json:"managed_user_creation"`
	VerifiedTokens  bool   `json:"verified_tokens"`
}

type Handler struct {
	svc      *Service
	settings PortalSettings
	logger   zerolog.Logger
}

func NewHandler(svc *Service, settings PortalSettings, logger zerolog.Logger) *Handler {
	return &Handler{svc: svc, settings: settings, logger: logger.With().Str("component", "profile-handler").Logger()}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	admin := g.Group("", auth.RequireRole(string(RoleAdmin)))
	admin.GET("/manage-users", h.ManageUsers)
	admin.POST("/manage-users", h.CreateUser)
	admin.POST("/manage-users/:id/role", h.ChangeRole)
	admin.GET("/settings", h.Settings)
	admin.GET("/analytics", h.Analytics)
}

type manageUsersView struct {
	screen.View[*Profile]
	Roles               []Role            `json:"roles"`
	ManagedUsersEnabled bool              `json:"managed_users_enabled"`
	Created             *CreateUserResult `json:"created,omitempty"`
}

const manageUsersEmpty = "No users found."

func (h *Handler) users() *screen.List[*Profile] {
	return screen.NewList("manage-users", h.svc.ListAll, h.logger)
}

func (h *Handler) render(c echo.Context, rows []*Profile, notice *screen.Notice, form map[string]string, created *CreateUserResult) error {
	v := manageUsersView{
		View:                screen.NewView("Manage Users", manageUsersEmpty, rows, notice),
		Roles:               Roles,
		ManagedUsersEnabled: h.svc.ManagedUsersEnabled(),
		Created:             created,
	}
	v.Form = form
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) ManageUsers(c echo.Context) error {
	rows := h.users().Load(c.Request().Context())
	return h.render(c, rows, nil, nil, nil)
}

type roleChange struct {
	Role string `json:"role" form:"role"`
}

func (h *Handler) ChangeRole(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var in roleChange
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	rows, notice := h.users().Mutate(c.Request().Context(), "Role updated.", func(ctx context.Context) error {
		role, err := ParseRole(in.Role)
		if err != nil {
			return fmt.Errorf("role must be one of: patient, doctor, admin")
		}
		return h.svc.ChangeRole(ctx, id, role)
	})
	return h.render(c, rows, notice, nil, nil)
}

func (h *Handler) CreateUser(c echo.Context) error {
	var req CreateUserRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	var created *CreateUserResult
	var createErr error
	rows, notice := h.users().Mutate(c.Request().Context(), "", func(ctx context.Context) error {
		created, createErr = h.svc.CreateUser(ctx, &req)
		return createErr
	})

	var form map[string]string
	switch {
	case createErr == nil:
		notice = screen.Success(fmt.Sprintf("User %s created.", created.Email))
	case errors.Is(createErr, ErrRoleAssignment) && created != nil:
		notice = screen.Destructive(fmt.Sprintf("User %s was created (id %s) but the role could not be assigned.",
			created.Email, created.UserID))
	default:
		form = map[string]string{
			"email":      req.Email,
			"first_name": req.FirstName,
			"last_name":  req.LastName,
			"role":       req.Role,
		}
	}
	return h.render(c, rows, notice, form, created)
}

type settingsView struct {
	Title    string         `json:"title"`
	Profile  *Profile       `json:"profile"`
	Settings PortalSettings `json:"settings"`
}

func (h *Handler) Settings(c echo.Context) error {
	ctx := c.Request().Context()
	p, err := h.svc.FetchProfile(ctx, auth.UserIDFromContext(ctx))
	if err != nil {
		h.logger.Warn().Err(err).Msg("settings profile fetch failed")
		p = nil
	}
	return c.JSON(http.StatusOK, settingsView{Title: "Settings", Profile: p, Settings: h.settings})
}

type analyticsView struct {
	Title        string        `json:"title"`
	Distribution *Distribution `json:"distribution"`
}

func (h *Handler) Analytics(c echo.Context) error {
	d, err := h.svc.Distribution(c.Request().Context())
	if err != nil {
		h.logger.Warn().Err(err).Msg("analytics fetch failed")
		d = &Distribution{}
	}
	return c.JSON(http.StatusOK, analyticsView{Title: "Analytics", Distribution: d})
}
