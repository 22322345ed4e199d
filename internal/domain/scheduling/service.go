package scheduling

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Service struct {
	requests     RequestRepository
	appointments AppointmentRepository
	loc          *time.Location
	now          func() time.Time
}

func NewService(requests RequestRepository, appointments AppointmentRepository, loc *time.Location) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{requests: requests, appointments: appointments, loc: loc, now: time.Now}
}

// Book files an appointment request. Symptoms are trimmed; empty text is
// rejected before anything is written.
func (s *Service) Book(ctx context.Context, patientID uuid.UUID, symptoms string) (*AppointmentRequest, error) {
	symptoms = strings.TrimSpace(symptoms)
	if symptoms == "" {
		return nil, ErrEmptySymptoms
	}
	req := &AppointmentRequest{PatientID: patientID, Symptoms: symptoms}
	if err := s.requests.Create(ctx, req); err != nil {
		return nil, err
	}
	return req, nil
}

func (s *Service) Requests(ctx context.Context, patientID uuid.UUID) ([]*AppointmentRequest, error) {
	return s.requests.ListByPatient(ctx, patientID)
}

// Day parses a ?date= value against the display timezone.
func (s *Service) Day(q string) (Day, error) {
	return ParseDay(q, s.loc, s.now())
}

func (s *Service) Appointments(ctx context.Context, doctorID uuid.UUID, day Day) ([]*Appointment, error) {
	return s.appointments.ListByDoctor(ctx, doctorID, day.Window())
}
