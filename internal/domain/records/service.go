package records

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/patientdoc/portal/internal/domain/careteam"
	"github.com/patientdoc/portal/internal/domain/profile"
)

// ProfileSource looks up the author's profile to denormalise doctor_name.
type ProfileSource interface {
	FetchProfile(ctx context.Context, identityID string) (*profile.Profile, error)
}

// PatientDirectory lists the patients linked to a doctor.
type PatientDirectory interface {
	Patients(ctx context.Context, doctorID uuid.UUID, search string) ([]*careteam.Patient, error)
	Linked(ctx context.Context, doctorID, patientID uuid.UUID) (bool, error)
}

type Service struct {
	visits   VisitRepository
	profiles ProfileSource
	patients PatientDirectory
	logger   zerolog.Logger
	now      func() time.Time
}

func NewService(visits VisitRepository, profiles ProfileSource, patients PatientDirectory, logger zerolog.Logger) *Service {
	return &Service{
		visits:   visits,
		profiles: profiles,
		patients: patients,
		logger:   logger.With().Str("component", "records-service").Logger(),
		now:      time.Now,
	}
}

func (s *Service) PatientVisits(ctx context.Context, patientID uuid.UUID) ([]*Visit, error) {
	return s.visits.ListByPatient(ctx, patientID)
}

// DoctorVisits returns only the visits doctorID wrote for patientID.
func (s *Service) DoctorVisits(ctx context.Context, doctorID, patientID uuid.UUID) ([]*Visit, error) {
	return s.visits.ListByPatientAndDoctor(ctx, patientID, doctorID)
}

func (s *Service) LinkedPatients(ctx context.Context, doctorID uuid.UUID) ([]*careteam.Patient, error) {
	return s.patients.Patients(ctx, doctorID, "")
}

// Record writes a visit for one of the doctor's patients. Blank notes or a
// missing patient return ErrNothingToRecord without writing.
func (s *Service) Record(ctx context.Context, doctorID uuid.UUID, in RecordInput) (*Visit, error) {
	notes := strings.TrimSpace(in.Notes)
	pid, err := uuid.Parse(strings.TrimSpace(in.PatientID))
	if notes == "" || err != nil {
		return nil, ErrNothingToRecord
	}

	linked, err := s.patients.Linked(ctx, doctorID, pid)
	if err != nil {
		return nil, err
	}
	if !linked {
		return nil, ErrNotLinked
	}

	name := s.doctorName(ctx, doctorID)
	v := &Visit{
		PatientID:  pid,
		DoctorID:   doctorID,
		DoctorName: &name,
		VisitDate:  s.now().UTC(),
		Notes:      notes,
	}
	if d := strings.TrimSpace(in.Diagnosis); d != "" {
		v.Diagnosis = &d
	}
	if err := s.visits.Create(ctx, v); err != nil {
		return nil, err
	}
	return v, nil
}

func (s *Service) doctorName(ctx context.Context, doctorID uuid.UUID) string {
	p, err := s.profiles.FetchProfile(ctx, doctorID.String())
	if err != nil {
		s.logger.Debug().Err(err).Str("doctor_id", doctorID.String()).Msg("doctor profile unavailable")
		return UnknownDoctor
	}
	if name := p.DisplayName(); name != "" {
		return name
	}
	return UnknownDoctor
}
