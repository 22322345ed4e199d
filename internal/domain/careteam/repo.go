package careteam

import (
	"context"

	"github.com/google/uuid"
)

// LinkRepository reads doctor_patients. Links are maintained outside the
// portal.
type LinkRepository interface {
	ListPatients(ctx context.Context, doctorID uuid.UUID) ([]*Patient, error)
	IsLinked(ctx context.Context, doctorID, patientID uuid.UUID) (bool, error)
}
