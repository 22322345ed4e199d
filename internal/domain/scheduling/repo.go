package scheduling

import (
	"context"

	"github.com/google/uuid"
)

type RequestRepository interface {
	Create(ctx context.Context, r *AppointmentRequest) error
	ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*AppointmentRequest, error)
}

type AppointmentRepository interface {
	// ListByDoctor returns appointment_date ascending. A nil window means all.
	ListByDoctor(ctx context.Context, doctorID uuid.UUID, w *Window) ([]*Appointment, error)
}
