package careteam

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/patientdoc/portal/internal/platform/auth"
	"github.com/patientdoc/portal/internal/portal/screen"
)

type Handler struct {
	svc    *Service
	logger zerolog.Logger
}

func NewHandler(svc *Service, logger zerolog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger.With().Str("component", "careteam-handler").Logger()}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	doctor := g.Group("", auth.RequireRole("doctor"))
	doctor.GET("/my-patients", h.MyPatients)
}

type patientsView struct {
	screen.View[*Patient]
	Search string `json:"search"`
}

func (h *Handler) MyPatients(c echo.Context) error {
	did, ok := auth.UserUUIDFromContext(c.Request().Context())
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "sign in required")
	}
	search := c.QueryParam("search")

	list := screen.NewList("my-patients", func(ctx context.Context) ([]*Patient, error) {
		return h.svc.Patients(ctx, did, search)
	}, h.logger)
	rows := list.Load(c.Request().Context())
	return c.JSON(http.StatusOK, patientsView{
		View:   screen.NewView("My Patients", "No patients found.", rows, nil),
		Search: search,
	})
}
