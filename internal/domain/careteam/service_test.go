package careteam

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/patientdoc/portal/internal/platform/auth"
)

type mockLinkRepo struct {
	links map[uuid.UUID][]*Patient
	err   error
}

func (m *mockLinkRepo) ListPatients(_ context.Context, did uuid.UUID) ([]*Patient, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.links[did], nil
}

func (m *mockLinkRepo) IsLinked(_ context.Context, did, pid uuid.UUID) (bool, error) {
	for _, p := range m.links[did] {
		if p.ID == pid {
			return true, nil
		}
	}
	return false, nil
}

func strPtr(s string) *string { return &s }

func fixture() (*mockLinkRepo, uuid.UUID, *Patient, *Patient) {
	did := uuid.New()
	p1 := &Patient{ID: uuid.New(), FirstName: strPtr("Maria"), LastName: strPtr("Lopez")}
	p2 := &Patient{ID: uuid.New(), FirstName: strPtr("Omar"), LastName: nil}
	return &mockLinkRepo{links: map[uuid.UUID][]*Patient{did: {p1, p2}}}, did, p1, p2
}

func TestPatients_Search(t *testing.T) {
	repo, did, p1, p2 := fixture()
	svc := NewService(repo)

	tests := []struct {
		search string
		want   []*Patient
	}{
		{"", []*Patient{p1, p2}},
		{"  ", []*Patient{p1, p2}},
		{"LOPEZ", []*Patient{p1}},
		{"ia lo", []*Patient{p1}},
		{"omar", []*Patient{p2}},
		{"zed", nil},
	}
	for _, tt := range tests {
		got, err := svc.Patients(context.Background(), did, tt.search)
		if err != nil {
			t.Fatalf("Patients(%q): %v", tt.search, err)
		}
		if len(got) != len(tt.want) {
			t.Errorf("Patients(%q): expected %d, got %d", tt.search, len(tt.want), len(got))
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("Patients(%q)[%d]: unexpected patient", tt.search, i)
			}
		}
	}
}

func TestLinked(t *testing.T) {
	repo, did, p1, _ := fixture()
	svc := NewService(repo)
	if ok, _ := svc.Linked(context.Background(), did, p1.ID); !ok {
		t.Error("expected link")
	}
	if ok, _ := svc.Linked(context.Background(), uuid.New(), p1.ID); ok {
		t.Error("expected no link for another doctor")
	}
}

func TestHandler_MyPatientsEmptyOnError(t *testing.T) {
	repo := &mockLinkRepo{err: errors.New("timeout")}
	h := NewHandler(NewService(repo), zerolog.Nop())

	req := httptest.NewRequest(http.MethodGet, "/my-patients?search=x", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), uuid.NewString(), "doctor", nil))
	rec := httptest.NewRecorder()
	if err := h.MyPatients(echo.New().NewContext(req, rec)); err != nil {
		t.Fatalf("MyPatients: %v", err)
	}
	body := rec.Body.String()
	if !strings.Contains(body, `"rows":[]`) || !strings.Contains(body, "No patients found.") {
		t.Errorf("unexpected body %s", body)
	}
	if !strings.Contains(body, `"search":"x"`) {
		t.Errorf("expected search echoed, got %s", body)
	}
}
