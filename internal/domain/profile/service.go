package profile

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/patientdoc/portal/internal/platform/gotrue"
)

// UserCreator creates accounts without touching any caller's session.
type UserCreator interface {
	HasServiceRole() bool
	AdminCreateUser(ctx context.Context, params gotrue.AdminUserParams) (*gotrue.User, error)
}

type Service struct {
	repo     Repository
	users    UserCreator
	validate *validator.Validate
	logger   zerolog.Logger
}

func NewService(repo Repository, users UserCreator, logger zerolog.Logger) *Service {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &Service{
		repo:     repo,
		users:    users,
		validate: v,
		logger:   logger.With().Str("component", "profile-service").Logger(),
	}
}

// FetchProfile loads the profile keyed by an identity id.
func (s *Service) FetchProfile(ctx context.Context, identityID string) (*Profile, error) {
	id, err := uuid.Parse(identityID)
	if err != nil {
		return nil, fmt.Errorf("identity id %q: %w", identityID, ErrNotFound)
	}
	return s.repo.GetByID(ctx, id)
}

// ListAll returns every profile from get_all_profiles(). Rows that fail the
// profile schema are dropped and logged.
func (s *Service) ListAll(ctx context.Context) ([]*Profile, error) {
	raws, err := s.repo.ListAllRaw(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]*Profile, 0, len(raws))
	for i, raw := range raws {
		var r row
		if err := json.Unmarshal(raw, &r); err != nil {
			s.logger.Warn().Err(err).Int("row", i).Msg("dropping undecodable profile row")
			continue
		}
		if err := s.validate.Struct(&r); err != nil {
			s.logger.Warn().Err(err).Int("row", i).Str("id", r.ID).Msg("dropping invalid profile row")
			continue
		}
		out = append(out, r.profile())
	}
	return out, nil
}

func (s *Service) ChangeRole(ctx context.Context, target uuid.UUID, role Role) error {
	if target == uuid.Nil {
		return fmt.Errorf("target id is required")
	}
	if !role.Valid() {
		return ErrInvalidRole
	}
	return s.repo.AdminUpdate(ctx, UpdateParams{TargetID: target, Role: &role})
}

// ManagedUsersEnabled reports whether CreateUser can succeed.
func (s *Service) ManagedUsersEnabled() bool {
	return s.users != nil && s.users.HasServiceRole()
}

// CreateUser creates a confirmed account, then assigns its role and names.
// When the second step fails the account is kept and the result still
// carries its id, alongside an error wrapping ErrRoleAssignment.
func (s *Service) CreateUser(ctx context.Context, req *CreateUserRequest) (*CreateUserResult, error) {
	req.Email = strings.TrimSpace(req.Email)
	req.FirstName = strings.TrimSpace(req.FirstName)
	req.LastName = strings.TrimSpace(req.LastName)
	if err := s.validate.Struct(req); err != nil {
		return nil, validationError(err)
	}
	if !s.ManagedUsersEnabled() {
		return nil, ErrManagedUsersDisabled
	}

	meta := map[string]any{}
	if req.FirstName != "" {
		meta["first_name"] = req.FirstName
	}
	if req.LastName != "" {
		meta["last_name"] = req.LastName
	}
	u, err := s.users.AdminCreateUser(ctx, gotrue.AdminUserParams{
		Email:        req.Email,
		Password:     req.Password,
		EmailConfirm: true,
		UserMetadata: meta,
	})
	if err != nil {
		var apiErr *gotrue.APIError
		if errors.As(err, &apiErr) {
			return nil, errors.New(apiErr.Message)
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	id, err := uuid.Parse(u.ID)
	if err != nil {
		return nil, fmt.Errorf("create user: unexpected id %q", u.ID)
	}
	result := &CreateUserResult{UserID: id, Email: req.Email}

	role := Role(req.Role)
	params := UpdateParams{TargetID: id, Role: &role}
	if req.FirstName != "" {
		params.FirstName = &req.FirstName
	}
	if req.LastName != "" {
		params.LastName = &req.LastName
	}
	if err := s.repo.AdminUpdate(ctx, params); err != nil {
		s.logger.Error().Err(err).Str("user_id", id.String()).Msg("role assignment after user creation")
		return result, fmt.Errorf("%w: %v", ErrRoleAssignment, err)
	}
	return result, nil
}

// Distribution counts the profiles visible through get_all_profiles().
func (s *Service) Distribution(ctx context.Context) (*Distribution, error) {
	all, err := s.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	d := &Distribution{Total: len(all)}
	for _, p := range all {
		switch p.Role {
		case RolePatient:
			d.Patients++
		case RoleDoctor:
			d.Doctors++
		case RoleAdmin:
			d.Admins++
		default:
			d.Unassigned++
		}
	}
	return d, nil
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	fe := verrs[0]
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return fmt.Errorf("%s is required", field)
	case "email":
		return fmt.Errorf("%s must be a valid email address", field)
	case "min":
		return fmt.Errorf("%s must be at least %s characters", field, fe.Param())
	case "max":
		return fmt.Errorf("%s must be at most %s characters", field, fe.Param())
	case "oneof":
		return fmt.Errorf("%s must be one of: %s", field, fe.Param())
	}
	return fmt.Errorf("%s is invalid", field)
}
