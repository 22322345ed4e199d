package scheduling

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/patientdoc/portal/internal/platform/db"
)

// =========== Appointment Request Repository ===========

type requestRepoPG struct{ pool db.Beginner }

func NewRequestRepoPG(pool db.Beginner) RequestRepository { return &requestRepoPG{pool: pool} }

const requestCols = `id, patient_id, symptoms, status, created_at`

func (r *requestRepoPG) Create(ctx context.Context, req *AppointmentRequest) error {
	err := db.Run(ctx, r.pool, func(q db.Querier) error {
		return q.QueryRow(ctx, `
			INSERT INTO appointment_requests (patient_id, symptoms)
			VALUES ($1, $2)
			RETURNING id, status, created_at`,
			req.PatientID, req.Symptoms).Scan(&req.ID, &req.Status, &req.CreatedAt)
	})
	if err != nil {
		return fmt.Errorf("insert appointment request: %w", err)
	}
	return nil
}

func (r *requestRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*AppointmentRequest, error) {
	var out []*AppointmentRequest
	err := db.Run(ctx, r.pool, func(q db.Querier) error {
		rows, err := q.Query(ctx, `SELECT `+requestCols+` FROM appointment_requests
			WHERE patient_id = $1 ORDER BY created_at DESC`, patientID)
		if err != nil {
			return err
		}
		out, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (*AppointmentRequest, error) {
			var a AppointmentRequest
			err := row.Scan(&a.ID, &a.PatientID, &a.Symptoms, &a.Status, &a.CreatedAt)
			return &a, err
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list appointment requests: %w", err)
	}
	return out, nil
}

// =========== Appointment Repository ===========

type appointmentRepoPG struct{ pool db.Beginner }

func NewAppointmentRepoPG(pool db.Beginner) AppointmentRepository {
	return &appointmentRepoPG{pool: pool}
}

const apptCols = `id, patient_id, doctor_id, request_id, patient_name, symptoms, status, appointment_date`

func (r *appointmentRepoPG) ListByDoctor(ctx context.Context, doctorID uuid.UUID, w *Window) ([]*Appointment, error) {
	sql := `SELECT ` + apptCols + ` FROM appointments WHERE doctor_id = $1`
	args := []interface{}{doctorID}
	if w != nil {
		sql += ` AND appointment_date >= $2 AND appointment_date < $3`
		args = append(args, w.From, w.To)
	}
	sql += ` ORDER BY appointment_date ASC`

	var out []*Appointment
	err := db.Run(ctx, r.pool, func(q db.Querier) error {
		rows, err := q.Query(ctx, sql, args...)
		if err != nil {
			return err
		}
		out, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (*Appointment, error) {
			var a Appointment
			err := row.Scan(&a.ID, &a.PatientID, &a.DoctorID, &a.RequestID, &a.PatientName,
				&a.Symptoms, &a.Status, &a.AppointmentDate)
			return &a, err
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	return out, nil
}
