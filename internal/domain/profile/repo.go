package profile

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Profile, error)
	// ListAllRaw returns get_all_profiles() rows as undecoded JSON objects.
	ListAllRaw(ctx context.Context) ([][]byte, error)
	AdminUpdate(ctx context.Context, p UpdateParams) error
}
