package scheduling

import (
	"errors"
	"testing"
	"time"
)

func TestParseDay(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skip("timezone database unavailable")
	}
	// 02:30 UTC on the 15th is still the 14th in New York.
	now := time.Date(2026, 10, 15, 2, 30, 0, 0, time.UTC)

	d, err := ParseDay("", loc, now)
	if err != nil {
		t.Fatalf("ParseDay: %v", err)
	}
	if d.String() != "2026-10-14" {
		t.Errorf("expected local today 2026-10-14, got %s", d)
	}
	w := d.Window()
	if w == nil || !w.From.Equal(time.Date(2026, 10, 14, 4, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected window %+v", w)
	}
	if w.To.Sub(w.From) != 24*time.Hour {
		t.Errorf("expected a 24h window, got %v", w.To.Sub(w.From))
	}
	if d.Heading() != "October 14, 2026" {
		t.Errorf("unexpected heading %q", d.Heading())
	}

	all, err := ParseDay("all", loc, now)
	if err != nil || !all.All() || all.Window() != nil || all.Heading() != "All Appointments" {
		t.Errorf("unexpected all day %+v %v", all, err)
	}

	if _, err := ParseDay("14/10/2026", loc, now); !errors.Is(err, ErrInvalidDate) {
		t.Errorf("expected ErrInvalidDate, got %v", err)
	}
}
