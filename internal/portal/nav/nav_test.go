package nav

import (
	"testing"

	"github.com/patientdoc/portal/internal/domain/profile"
)

func TestFor_DoctorMenuOrder(t *testing.T) {
	m := For(profile.RoleDoctor, "")
	want := []string{"Appointments", "My Patients", "Medical Records", "Messages"}
	if len(m.Entries) != len(want) {
		t.Fatalf("expected %d entries, got %d", len(want), len(m.Entries))
	}
	for i, label := range want {
		if m.Entries[i].Label != label {
			t.Errorf("entry %d: expected %q, got %q", i, label, m.Entries[i].Label)
		}
	}
	if m.Entries[2].Path != "/doctor-records" {
		t.Errorf("expected doctor records path, got %q", m.Entries[2].Path)
	}
	if m.Placeholder != "" {
		t.Errorf("expected no placeholder, got %q", m.Placeholder)
	}
}

func TestFor_NoRole(t *testing.T) {
	for _, role := range []profile.Role{profile.RoleNone, profile.Role("nurse")} {
		m := For(role, "/")
		if len(m.Entries) != 0 {
			t.Errorf("role %q: expected no entries, got %d", role, len(m.Entries))
		}
		if m.Placeholder != Placeholder {
			t.Errorf("role %q: expected placeholder, got %q", role, m.Placeholder)
		}
	}
}

func TestFor_MarksActiveWithoutMutatingTable(t *testing.T) {
	m := For(profile.RolePatient, "/medical-records/")
	if m.Entries[0].Active || !m.Entries[1].Active {
		t.Fatalf("expected only medical records active, got %+v", m.Entries)
	}
	again := For(profile.RolePatient, "")
	for _, e := range again.Entries {
		if e.Active {
			t.Errorf("active flag leaked into table: %+v", e)
		}
	}
}

func TestFor_AdminAndPatientCounts(t *testing.T) {
	if n := len(For(profile.RoleAdmin, "").Entries); n != 3 {
		t.Errorf("expected 3 admin entries, got %d", n)
	}
	if n := len(For(profile.RolePatient, "").Entries); n != 2 {
		t.Errorf("expected 2 patient entries, got %d", n)
	}
}

func TestPaths(t *testing.T) {
	paths := Paths(profile.RoleAdmin)
	if len(paths) != 3 || paths[0] != "/manage-users" {
		t.Errorf("unexpected admin paths %v", paths)
	}
	if len(Paths(profile.RoleNone)) != 0 {
		t.Error("expected no paths for unassigned role")
	}
}
