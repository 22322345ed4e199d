package records

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNothingToRecord = errors.New("notes and patient are required")
	ErrNotLinked       = errors.New("patient is not linked to this doctor")
)

// UnknownDoctor is written as doctor_name when the author has no name on file.
const UnknownDoctor = "Unknown"

// Visit maps to visits. Rows are immutable once written.
type Visit struct {
	ID         uuid.UUID `db:"id" json:"id"`
	PatientID  uuid.UUID `db:"patient_id" json:"patient_id"`
	DoctorID   uuid.UUID `db:"doctor_id" json:"doctor_id"`
	DoctorName *string   `db:"doctor_name" json:"doctor_name"`
	VisitDate  time.Time `db:"visit_date" json:"visit_date"`
	Notes      string    `db:"notes" json:"notes"`
	Diagnosis  *string   `db:"diagnosis" json:"diagnosis"`
}

// RecordInput is the doctor's visit form.
type RecordInput struct {
	PatientID string `json:"patient_id" form:"patient_id"`
	Notes     string `json:"notes" form:"notes"`
	Diagnosis string `json:"diagnosis" form:"diagnosis"`
}
