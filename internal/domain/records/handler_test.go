package records

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/patientdoc/portal/internal/platform/auth"
	"github.com/patientdoc/portal/internal/platform/middleware"
)

type recordsResponse struct {
	SelectedPatient string `json:"selected_patient"`
	Visits          *struct {
		Rows         []Visit `json:"rows"`
		EmptyMessage string  `json:"empty_message"`
		Notice       *struct {
			Kind string `json:"kind"`
			Text string `json:"text"`
		} `json:"notice"`
		Form map[string]string `json:"form"`
	} `json:"visits"`
}

func doctorRequest(method, target string, doctor uuid.UUID, form url.Values) *http.Request {
	var req *http.Request
	if form != nil {
		req = httptest.NewRequest(method, target, strings.NewReader(form.Encode()))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	return req.WithContext(auth.WithIdentity(req.Context(), doctor.String(), "doctor", nil))
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) recordsResponse {
	t.Helper()
	var out recordsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v (%s)", err, rec.Body.String())
	}
	return out
}

func TestHandler_DoctorRecordsSelectsLinkedPatient(t *testing.T) {
	w := newWorld()
	h := NewHandler(w.svc, zerolog.Nop())

	rec := httptest.NewRecorder()
	c := echo.New().NewContext(doctorRequest(http.MethodGet, "/doctor-records?patient_id="+w.p1.String(), w.d1, nil), rec)
	if err := h.DoctorRecords(c); err != nil {
		t.Fatalf("DoctorRecords: %v", err)
	}
	out := decode(t, rec)
	if out.SelectedPatient != w.p1.String() || out.Visits == nil {
		t.Fatalf("expected P1 selected, got %+v", out)
	}
	if len(out.Visits.Rows) != 1 || out.Visits.Rows[0].DoctorID != w.d1 || out.Visits.Rows[0].PatientID != w.p1 {
		t.Errorf("expected D1's visit for P1 only, got %+v", out.Visits.Rows)
	}
}

func TestHandler_DoctorRecordsIgnoresUnlinked(t *testing.T) {
	w := newWorld()
	h := NewHandler(w.svc, zerolog.Nop())

	rec := httptest.NewRecorder()
	c := echo.New().NewContext(doctorRequest(http.MethodGet, "/doctor-records?patient_id="+w.p2.String(), w.d2, nil), rec)
	if err := h.DoctorRecords(c); err != nil {
		t.Fatalf("DoctorRecords: %v", err)
	}
	if out := decode(t, rec); out.Visits != nil || out.SelectedPatient != "" {
		t.Errorf("expected no selection for an unlinked patient, got %+v", out)
	}
}

func TestHandler_SaveRecordReloads(t *testing.T) {
	w := newWorld()
	h := NewHandler(w.svc, zerolog.Nop())

	rec := httptest.NewRecorder()
	form := url.Values{"patient_id": {w.p1.String()}, "notes": {"BP normal"}, "diagnosis": {""}}
	c := echo.New().NewContext(doctorRequest(http.MethodPost, "/doctor-records", w.d1, form), rec)
	if err := h.SaveRecord(c); err != nil {
		t.Fatalf("SaveRecord: %v", err)
	}
	out := decode(t, rec)
	if out.Visits == nil || out.Visits.Notice == nil || out.Visits.Notice.Text != "Record saved." {
		t.Fatalf("expected saved notice, got %+v", out.Visits)
	}
	if len(out.Visits.Rows) != 2 || out.Visits.Rows[0].Notes != "BP normal" {
		t.Errorf("expected reloaded list with new visit first, got %+v", out.Visits.Rows)
	}
	if out.Visits.Form["notes"] != "" {
		t.Errorf("expected cleared form, got %v", out.Visits.Form)
	}
	if got, _ := c.Get(middleware.AuditPatientKey).(string); got != w.p1.String() {
		t.Errorf("expected the audited patient %s, got %q", w.p1, got)
	}
}

func TestHandler_SaveRecordBlankNotesIsNoop(t *testing.T) {
	w := newWorld()
	h := NewHandler(w.svc, zerolog.Nop())
	before := len(w.visits.visits)

	rec := httptest.NewRecorder()
	form := url.Values{"patient_id": {w.p1.String()}, "notes": {"   "}}
	c := echo.New().NewContext(doctorRequest(http.MethodPost, "/doctor-records", w.d1, form), rec)
	if err := h.SaveRecord(c); err != nil {
		t.Fatalf("SaveRecord: %v", err)
	}
	out := decode(t, rec)
	if len(w.visits.visits) != before {
		t.Error("expected no insert")
	}
	if out.Visits == nil || out.Visits.Notice != nil {
		t.Errorf("expected no notice, got %+v", out.Visits)
	}
}

func TestHandler_SaveRecordFailureKeepsForm(t *testing.T) {
	w := newWorld()
	w.visits.createErr = errors.New("permission denied for table visits")
	h := NewHandler(w.svc, zerolog.Nop())

	rec := httptest.NewRecorder()
	form := url.Values{"patient_id": {w.p1.String()}, "notes": {"note"}, "diagnosis": {"dx"}}
	c := echo.New().NewContext(doctorRequest(http.MethodPost, "/doctor-records", w.d1, form), rec)
	if err := h.SaveRecord(c); err != nil {
		t.Fatalf("SaveRecord: %v", err)
	}
	out := decode(t, rec)
	if out.Visits.Notice == nil || out.Visits.Notice.Kind != "destructive" {
		t.Fatalf("expected destructive notice, got %+v", out.Visits.Notice)
	}
	if out.Visits.Form["notes"] != "note" || out.Visits.Form["diagnosis"] != "dx" {
		t.Errorf("expected form kept, got %v", out.Visits.Form)
	}
}

func TestHandler_PatientRecordsEmpty(t *testing.T) {
	w := newWorld()
	h := NewHandler(w.svc, zerolog.Nop())

	req := httptest.NewRequest(http.MethodGet, "/medical-records", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), uuid.NewString(), "patient", nil))
	rec := httptest.NewRecorder()
	if err := h.PatientRecords(echo.New().NewContext(req, rec)); err != nil {
		t.Fatalf("PatientRecords: %v", err)
	}
	if !strings.Contains(rec.Body.String(), "Nothing here yet.") {
		t.Errorf("unexpected body %s", rec.Body.String())
	}
}
