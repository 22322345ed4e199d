package scheduling

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrEmptySymptoms = errors.New("symptoms are required")
	ErrInvalidDate   = errors.New("date must be YYYY-MM-DD or all")
)

// AppointmentRequest maps to appointment_requests. A patient creates one; a
// doctor later turns it into an appointment.
type AppointmentRequest struct {
	ID        uuid.UUID `db:"id" json:"id"`
	PatientID uuid.UUID `db:"patient_id" json:"patient_id"`
	Symptoms  string    `db:"symptoms" json:"symptoms"`
	Status    string    `db:"status" json:"status"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Appointment maps to appointments.
type Appointment struct {
	ID              uuid.UUID  `db:"id" json:"id"`
	PatientID       uuid.UUID  `db:"patient_id" json:"patient_id"`
	DoctorID        uuid.UUID  `db:"doctor_id" json:"doctor_id"`
	RequestID       *uuid.UUID `db:"request_id" json:"request_id,omitempty"`
	PatientName     *string    `db:"patient_name" json:"patient_name"`
	Symptoms        *string    `db:"symptoms" json:"symptoms"`
	Status          string     `db:"status" json:"status"`
	AppointmentDate time.Time  `db:"appointment_date" json:"appointment_date"`
}

// Window is a half-open time range [From, To).
type Window struct {
	From time.Time
	To   time.Time
}

// Day is a calendar day in a display timezone. The zero Day means every day.
type Day struct {
	date time.Time
}

const dayLayout = "2006-01-02"

// ParseDay reads the ?date= filter. Empty means today in loc, "all" means no
// filter.
func ParseDay(s string, loc *time.Location, now time.Time) (Day, error) {
	switch s {
	case "":
		n := now.In(loc)
		return Day{date: time.Date(n.Year(), n.Month(), n.Day(), 0, 0, 0, 0, loc)}, nil
	case "all":
		return Day{}, nil
	}
	d, err := time.ParseInLocation(dayLayout, s, loc)
	if err != nil {
		return Day{}, ErrInvalidDate
	}
	return Day{date: d}, nil
}

func (d Day) All() bool { return d.date.IsZero() }

// Window returns the day's bounds, or nil for every day.
func (d Day) Window() *Window {
	if d.All() {
		return nil
	}
	return &Window{From: d.date, To: d.date.AddDate(0, 0, 1)}
}

func (d Day) String() string {
	if d.All() {
		return "all"
	}
	return d.date.Format(dayLayout)
}

// Heading is the title shown above the day's list.
func (d Day) Heading() string {
	if d.All() {
		return "All Appointments"
	}
	return d.date.Format("January 2, 2006")
}
