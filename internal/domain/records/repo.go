package records

import (
	"context"

	"github.com/google/uuid"
)

// VisitRepository has no update or delete: visits are append-only.
type VisitRepository interface {
	Create(ctx context.Context, v *Visit) error
	// ListByPatient and ListByPatientAndDoctor return visit_date descending.
	ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Visit, error)
	ListByPatientAndDoctor(ctx context.Context, patientID, doctorID uuid.UUID) ([]*Visit, error)
}
