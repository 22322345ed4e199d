package profile

import (
	"errors"
	"strings"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

var (
	ErrNotFound             = errors.New("profile not found")
	ErrInvalidRole          = errors.New("invalid role")
	ErrManagedUsersDisabled = errors.New("user creation is not configured")
	ErrRoleAssignment       = errors.New("user created but role assignment failed")
)

// Role is the application role of an identity. RoleNone means unassigned and
// is encoded as JSON null.
type Role string

const (
	RoleNone    Role = ""
	RolePatient Role = "patient"
	RoleDoctor  Role = "doctor"
	RoleAdmin   Role = "admin"
)

var Roles = []Role{RolePatient, RoleDoctor, RoleAdmin}

func (r Role) Valid() bool {
	switch r {
	case RolePatient, RoleDoctor, RoleAdmin:
		return true
	}
	return false
}

func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return RoleNone, ErrInvalidRole
	}
	return r, nil
}

func (r Role) MarshalJSON() ([]byte, error) {
	if r == RoleNone {
		return []byte("null"), nil
	}
	return json.Marshal(string(r))
}

func (r *Role) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*r = RoleNone
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*r = RoleNone
		return nil
	}
	parsed, err := ParseRole(s)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// Profile maps to the profiles table.
type Profile struct {
	ID        uuid.UUID `db:"id" json:"id"`
	Role      Role      `db:"role" json:"role"`
	FirstName *string   `db:"first_name" json:"first_name"`
	LastName  *string   `db:"last_name" json:"last_name"`
	Phone     *string   `db:"phone" json:"phone"`
	Email     *string   `db:"email" json:"email,omitempty"`
}

// DisplayName joins the non-empty name parts, or returns "".
func (p *Profile) DisplayName() string {
	if p == nil {
		return ""
	}
	var parts []string
	for _, s := range []*string{p.FirstName, p.LastName} {
		if s != nil && strings.TrimSpace(*s) != "" {
			parts = append(parts, strings.TrimSpace(*s))
		}
	}
	return strings.Join(parts, " ")
}

// row is the boundary schema for profile rows returned by remote procedures.
type row struct {
	ID        string  `json:"id" validate:"required,uuid"`
	Role      *string `json:"role" validate:"omitempty,oneof=patient doctor admin"`
	FirstName *string `json:"first_name" validate:"omitempty,max=200"`
	LastName  *string `json:"last_name" validate:"omitempty,max=200"`
	Phone     *string `json:"phone" validate:"omitempty,max=50"`
	Email     *string `json:"email" validate:"omitempty,email"`
}

func (r *row) profile() *Profile {
	p := &Profile{
		ID:        uuid.MustParse(r.ID),
		FirstName: r.FirstName,
		LastName:  r.LastName,
		Phone:     r.Phone,
		Email:     r.Email,
	}
	if r.Role != nil {
		p.Role = Role(*r.Role)
	}
	return p
}

// UpdateParams are the arguments of admin_update_profile. Nil fields are
// omitted from the call.
type UpdateParams struct {
	TargetID  uuid.UUID
	Role      *Role
	FirstName *string
	LastName  *string
}

// CreateUserRequest is the admin form for a managed account.
type CreateUserRequest struct {
	Email     string `json:"email" form:"email" validate:"required,email"`
	Password  string `json:"password" form:"password" validate:"required,min=6"`
	FirstName string `json:"first_name" form:"first_name" validate:"omitempty,max=200"`
	LastName  string `json:"last_name" form:"last_name" validate:"omitempty,max=200"`
	Role      string `json:"role" form:"role" validate:"required,oneof=patient doctor admin"`
}

type CreateUserResult struct {
	UserID uuid.UUID `json:"user_id"`
	Email  string    `json:"email"`
}

// Distribution counts profiles per role.
type Distribution struct {
	Total      int `json:"total"`
	Patients   int `json:"patients"`
	Doctors    int `json:"doctors"`
	Admins     int `json:"admins"`
	Unassigned int `json:"unassigned"`
}
