package scheduling

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
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
	return &Handler{svc: svc, logger: logger.With().Str("component", "scheduling-handler").Logger()}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	patient := g.Group("", auth.RequireRole("patient"))
	patient.GET("/book-appointment", h.BookForm)
	patient.POST("/book-appointment", h.Book)

	doctor := g.Group("", auth.RequireRole("doctor"))
	doctor.GET("/appointments", h.Appointments)
}

const (
	bookTitle   = "Book Appointment"
	bookEmpty   = "No appointment requests yet."
	bookSuccess = "Submitted"

	appointmentsTitle = "Appointments"
	appointmentsEmpty = "No appointments for this date."
)

func callerID(c echo.Context) (uuid.UUID, error) {
	id, ok := auth.UserUUIDFromContext(c.Request().Context())
	if !ok {
		return uuid.Nil, echo.NewHTTPError(http.StatusUnauthorized, "sign in required")
	}
	return id, nil
}

func (h *Handler) requests(patientID uuid.UUID) *screen.List[*AppointmentRequest] {
	return screen.NewList("book-appointment", func(ctx context.Context) ([]*AppointmentRequest, error) {
		return h.svc.Requests(ctx, patientID)
	}, h.logger)
}

func (h *Handler) BookForm(c echo.Context) error {
	pid, err := callerID(c)
	if err != nil {
		return err
	}
	rows := h.requests(pid).Load(c.Request().Context())
	return c.JSON(http.StatusOK, screen.NewView(bookTitle, bookEmpty, rows, nil))
}

type bookInput struct {
	Symptoms string `json:"symptoms" form:"symptoms"`
}

// Book submits a request. Blank symptoms submit nothing; a failure keeps the
// text in the form.
func (h *Handler) Book(c echo.Context) error {
	pid, err := callerID(c)
	if err != nil {
		return err
	}
	var in bookInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	list := h.requests(pid)
	ctx := c.Request().Context()
	if strings.TrimSpace(in.Symptoms) == "" {
		v := screen.NewView(bookTitle, bookEmpty, list.Load(ctx), nil)
		v.Form = map[string]string{"symptoms": in.Symptoms}
		return c.JSON(http.StatusOK, v)
	}

	rows, notice := list.Mutate(ctx, bookSuccess, func(ctx context.Context) error {
		_, err := h.svc.Book(ctx, pid, in.Symptoms)
		return err
	})
	v := screen.NewView(bookTitle, bookEmpty, rows, notice)
	if notice.Kind == screen.NoticeSuccess {
		v.Form = map[string]string{"symptoms": ""}
	} else {
		v.Form = map[string]string{"symptoms": in.Symptoms}
	}
	return c.JSON(http.StatusOK, v)
}

type appointmentsView struct {
	screen.View[*Appointment]
	Date    string `json:"date"`
	Heading string `json:"heading"`
}

func (h *Handler) Appointments(c echo.Context) error {
	did, err := callerID(c)
	if err != nil {
		return err
	}
	day, err := h.svc.Day(c.QueryParam("date"))
	if errors.Is(err, ErrInvalidDate) {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	list := screen.NewList("appointments", func(ctx context.Context) ([]*Appointment, error) {
		return h.svc.Appointments(ctx, did, day)
	}, h.logger)
	rows := list.Load(c.Request().Context())
	return c.JSON(http.StatusOK, appointmentsView{
		View:    screen.NewView(appointmentsTitle, appointmentsEmpty, rows, nil),
		Date:    day.String(),
		Heading: day.Heading(),
	})
}
