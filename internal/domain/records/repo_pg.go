package records

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/patientdoc/portal/internal/platform/db"
)

type visitRepoPG struct{ pool db.Beginner }

func NewVisitRepoPG(pool db.Beginner) VisitRepository { return &visitRepoPG{pool: pool} }

const visitCols = `id, patient_id, doctor_id, doctor_name, visit_date, notes, diagnosis`

func scanVisit(row pgx.CollectableRow) (*Visit, error) {
	var v Visit
	err := row.Scan(&v.ID, &v.PatientID, &v.DoctorID, &v.DoctorName, &v.VisitDate, &v.Notes, &v.Diagnosis)
	return &v, err
}

func (r *visitRepoPG) Create(ctx context.Context, v *Visit) error {
	err := db.Run(ctx, r.pool, func(q db.Querier) error {
		return q.QueryRow(ctx, `
			INSERT INTO visits (patient_id, doctor_id, doctor_name, visit_date, notes, diagnosis)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id`,
			v.PatientID, v.DoctorID, v.DoctorName, v.VisitDate, v.Notes, v.Diagnosis).Scan(&v.ID)
	})
	if err != nil {
		return fmt.Errorf("insert visit: %w", err)
	}
	return nil
}

func (r *visitRepoPG) list(ctx context.Context, where string, args ...interface{}) ([]*Visit, error) {
	var out []*Visit
	err := db.Run(ctx, r.pool, func(q db.Querier) error {
		rows, err := q.Query(ctx, `SELECT `+visitCols+` FROM visits WHERE `+where+` ORDER BY visit_date DESC`, args...)
		if err != nil {
			return err
		}
		out, err = pgx.CollectRows(rows, scanVisit)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list visits: %w", err)
	}
	return out, nil
}

func (r *visitRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Visit, error) {
	return r.list(ctx, `patient_id = $1`, patientID)
}

func (r *visitRepoPG) ListByPatientAndDoctor(ctx context.Context, patientID, doctorID uuid.UUID) ([]*Visit, error) {
	return r.list(ctx, `patient_id = $1 AND doctor_id = $2`, patientID, doctorID)
}
