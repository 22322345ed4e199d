package scheduling

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

type mockRequestRepo struct {
	created []*AppointmentRequest
	err     error
}

func (m *mockRequestRepo) Create(_ context.Context, r *AppointmentRequest) error {
	if m.err != nil {
		return m.err
	}
	r.ID = uuid.New()
	r.Status = "pending"
	r.CreatedAt = time.Now()
	m.created = append(m.created, r)
	return nil
}

func (m *mockRequestRepo) ListByPatient(_ context.Context, pid uuid.UUID) ([]*AppointmentRequest, error) {
	var out []*AppointmentRequest
	for i := len(m.created) - 1; i >= 0; i-- {
		if m.created[i].PatientID == pid {
			out = append(out, m.created[i])
		}
	}
	return out, nil
}

type mockAppointmentRepo struct {
	items   []*Appointment
	windows []*Window
}

func (m *mockAppointmentRepo) ListByDoctor(_ context.Context, did uuid.UUID, w *Window) ([]*Appointment, error) {
	m.windows = append(m.windows, w)
	var out []*Appointment
	for _, a := range m.items {
		if a.DoctorID != did {
			continue
		}
		if w != nil && (a.AppointmentDate.Before(w.From) || !a.AppointmentDate.Before(w.To)) {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

func TestBook_TrimsAndInserts(t *testing.T) {
	reqs := &mockRequestRepo{}
	svc := NewService(reqs, &mockAppointmentRepo{}, time.UTC)
	pid := uuid.New()

	r, err := svc.Book(context.Background(), pid, "  headache since Monday \n")
	if err != nil {
		t.Fatalf("Book: %v", err)
	}
	if r.Symptoms != "headache since Monday" || r.PatientID != pid || r.Status != "pending" {
		t.Errorf("unexpected request %+v", r)
	}
}

func TestBook_EmptyIsRejectedWithoutInsert(t *testing.T) {
	reqs := &mockRequestRepo{}
	svc := NewService(reqs, &mockAppointmentRepo{}, time.UTC)

	for _, s := range []string{"", "   ", "\n\t"} {
		if _, err := svc.Book(context.Background(), uuid.New(), s); !errors.Is(err, ErrEmptySymptoms) {
			t.Errorf("Book(%q): expected ErrEmptySymptoms, got %v", s, err)
		}
	}
	if len(reqs.created) != 0 {
		t.Errorf("expected no inserts, got %d", len(reqs.created))
	}
}

func TestAppointments_DayWindow(t *testing.T) {
	did := uuid.New()
	appts := &mockAppointmentRepo{items: []*Appointment{
		{ID: uuid.New(), DoctorID: did, AppointmentDate: time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)},
		{ID: uuid.New(), DoctorID: did, AppointmentDate: time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)},
		{ID: uuid.New(), DoctorID: uuid.New(), AppointmentDate: time.Date(2026, 10, 14, 10, 0, 0, 0, time.UTC)},
	}}
	svc := NewService(&mockRequestRepo{}, appts, time.UTC)
	svc.now = func() time.Time { return time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC) }

	day, _ := svc.Day("")
	got, err := svc.Appointments(context.Background(), did, day)
	if err != nil {
		t.Fatalf("Appointments: %v", err)
	}
	if len(got) != 1 || got[0].AppointmentDate.Day() != 14 {
		t.Fatalf("expected today's appointment only, got %d", len(got))
	}

	all, _ := svc.Day("all")
	got, _ = svc.Appointments(context.Background(), did, all)
	if len(got) != 2 {
		t.Errorf("expected both of the doctor's appointments, got %d", len(got))
	}
	if appts.windows[1] != nil {
		t.Error("expected no window for all")
	}
}
