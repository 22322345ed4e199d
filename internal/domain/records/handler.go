package records

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/patientdoc/portal/internal/domain/careteam"
	"github.com/patientdoc/portal/internal/platform/auth"
	"github.com/patientdoc/portal/internal/platform/middleware"
	"github.com/patientdoc/portal/internal/portal/screen"
)

type Handler struct {
	svc    *Service
	logger zerolog.Logger
}

func NewHandler(svc *Service, logger zerolog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger.With().Str("component", "records-handler").Logger()}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/medical-records", h.PatientRecords, auth.RequireRole("patient"))

	doctor := g.Group("", auth.RequireRole("doctor"))
	doctor.GET("/doctor-records", h.DoctorRecords)
	doctor.POST("/doctor-records", h.SaveRecord)
}

const (
	recordsTitle  = "Medical Records"
	patientEmpty  = "Nothing here yet."
	doctorEmpty   = "No records for this patient."
	recordSuccess = "Record saved."
)

func callerID(c echo.Context) (uuid.UUID, error) {
	id, ok := auth.UserUUIDFromContext(c.Request().Context())
	if !ok {
		return uuid.Nil, echo.NewHTTPError(http.StatusUnauthorized, "sign in required")
	}
	return id, nil
}

func (h *Handler) PatientRecords(c echo.Context) error {
	pid, err := callerID(c)
	if err != nil {
		return err
	}
	list := screen.NewList("medical-records", func(ctx context.Context) ([]*Visit, error) {
		return h.svc.PatientVisits(ctx, pid)
	}, h.logger)
	rows := list.Load(c.Request().Context())
	return c.JSON(http.StatusOK, screen.NewView(recordsTitle, patientEmpty, rows, nil))
}

type doctorRecordsView struct {
	Title           string               `json:"title"`
	Patients        []*careteam.Patient  `json:"patients"`
	SelectedPatient string               `json:"selected_patient,omitempty"`
	Visits          *screen.View[*Visit] `json:"visits,omitempty"`
}

func (h *Handler) visits(doctorID, patientID uuid.UUID) *screen.List[*Visit] {
	return screen.NewList("doctor-records", func(ctx context.Context) ([]*Visit, error) {
		return h.svc.DoctorVisits(ctx, doctorID, patientID)
	}, h.logger)
}

func (h *Handler) patients(ctx context.Context, doctorID uuid.UUID) []*careteam.Patient {
	return screen.NewList("doctor-records-patients", func(ctx context.Context) ([]*careteam.Patient, error) {
		return h.svc.LinkedPatients(ctx, doctorID)
	}, h.logger).Load(ctx)
}

// DoctorRecords lists linked patients and, when ?patient_id= names one of
// them, the caller's visits for that patient.
func (h *Handler) DoctorRecords(c echo.Context) error {
	did, err := callerID(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	v := doctorRecordsView{Title: recordsTitle, Patients: h.patients(ctx, did)}

	if pid, ok := selected(c.QueryParam("patient_id"), v.Patients); ok {
		rows := h.visits(did, pid).Load(ctx)
		view := screen.NewView(recordsTitle, doctorEmpty, rows, nil)
		v.SelectedPatient = pid.String()
		v.Visits = &view
	}
	return c.JSON(http.StatusOK, v)
}

// SaveRecord writes a visit and reloads the list. Blank notes or no patient
// save nothing.
func (h *Handler) SaveRecord(c echo.Context) error {
	did, err := callerID(c)
	if err != nil {
		return err
	}
	var in RecordInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	c.Set(middleware.AuditPatientKey, in.PatientID)
	ctx := c.Request().Context()
	v := doctorRecordsView{Title: recordsTitle, Patients: h.patients(ctx, did)}

	pid, ok := selected(in.PatientID, v.Patients)
	if !ok {
		return c.JSON(http.StatusOK, v)
	}
	v.SelectedPatient = pid.String()

	list := h.visits(did, pid)
	var recordErr error
	rows, notice := list.Mutate(ctx, recordSuccess, func(ctx context.Context) error {
		_, recordErr = h.svc.Record(ctx, did, in)
		return recordErr
	})
	if errors.Is(recordErr, ErrNothingToRecord) {
		notice = nil
	}

	view := screen.NewView(recordsTitle, doctorEmpty, rows, notice)
	if recordErr == nil {
		view.Form = map[string]string{"notes": "", "diagnosis": ""}
	} else {
		view.Form = map[string]string{"notes": in.Notes, "diagnosis": in.Diagnosis}
	}
	v.Visits = &view
	return c.JSON(http.StatusOK, v)
}

func selected(raw string, patients []*careteam.Patient) (uuid.UUID, bool) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, false
	}
	for _, p := range patients {
		if p.ID == id {
			return id, true
		}
	}
	return uuid.Nil, false
}
