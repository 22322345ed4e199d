package careteam

import (
	"strings"

	"github.com/google/uuid"
)

// Patient is a profile reached through a doctor_patients link.
type Patient struct {
	ID        uuid.UUID `db:"id" json:"id"`
	FirstName *string   `db:"first_name" json:"first_name"`
	LastName  *string   `db:"last_name" json:"last_name"`
	Phone     *string   `db:"phone" json:"phone"`
	Email     *string   `db:"email" json:"email"`
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// Name is "first last" with missing parts left blank.
func (p *Patient) Name() string {
	return deref(p.FirstName) + " " + deref(p.LastName)
}

// Matches reports whether search is a case-insensitive substring of Name.
func (p *Patient) Matches(search string) bool {
	return strings.Contains(strings.ToLower(p.Name()), strings.ToLower(search))
}
