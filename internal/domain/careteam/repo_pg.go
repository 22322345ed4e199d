package careteam

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/patientdoc/portal/internal/platform/db"
)

type linkRepoPG struct{ pool db.Beginner }

func NewLinkRepoPG(pool db.Beginner) LinkRepository { return &linkRepoPG{pool: pool} }

func (r *linkRepoPG) ListPatients(ctx context.Context, doctorID uuid.UUID) ([]*Patient, error) {
	var out []*Patient
	err := db.Run(ctx, r.pool, func(q db.Querier) error {
		rows, err := q.Query(ctx, `
			SELECT p.id, p.first_name, p.last_name, p.phone, p.email
			FROM doctor_patients dp
			JOIN profiles p ON p.id = dp.patient_id
			WHERE dp.doctor_id = $1
			ORDER BY p.last_name NULLS LAST, p.first_name NULLS LAST`, doctorID)
		if err != nil {
			return err
		}
		out, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (*Patient, error) {
			var p Patient
			err := row.Scan(&p.ID, &p.FirstName, &p.LastName, &p.Phone, &p.Email)
			return &p, err
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list linked patients: %w", err)
	}
	return out, nil
}

func (r *linkRepoPG) IsLinked(ctx context.Context, doctorID, patientID uuid.UUID) (bool, error) {
	var ok bool
	err := db.Run(ctx, r.pool, func(q db.Querier) error {
		return q.QueryRow(ctx, `SELECT EXISTS (
			SELECT 1 FROM doctor_patients WHERE doctor_id = $1 AND patient_id = $2)`,
			doctorID, patientID).Scan(&ok)
	})
	if err != nil {
		return false, fmt.Errorf("check patient link: %w", err)
	}
	return ok, nil
}
