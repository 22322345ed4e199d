package profile

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/patientdoc/portal/internal/platform/db"
)

type repoPG struct{ pool db.Beginner }

func NewRepoPG(pool db.Beginner) Repository {
	return &repoPG{pool: pool}
}

const profileCols = `id, role, first_name, last_name, phone`

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Profile, error) {
	var p Profile
	var role *string
	err := db.Run(ctx, r.pool, func(q db.Querier) error {
		return q.QueryRow(ctx, `SELECT `+profileCols+` FROM profiles WHERE id = $1`, id).
			Scan(&p.ID, &role, &p.FirstName, &p.LastName, &p.Phone)
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	if role != nil {
		p.Role = Role(*role)
	}
	return &p, nil
}

func (r *repoPG) ListAllRaw(ctx context.Context) ([][]byte, error) {
	var out [][]byte
	err := db.Run(ctx, r.pool, func(q db.Querier) error {
		rows, err := q.Query(ctx, `SELECT to_jsonb(p) FROM get_all_profiles() p`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var raw []byte
			if err := rows.Scan(&raw); err != nil {
				return err
			}
			out = append(out, raw)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("get_all_profiles: %w", err)
	}
	return out, nil
}

func (r *repoPG) AdminUpdate(ctx context.Context, p UpdateParams) error {
	sql, args := adminUpdateCall(p)
	err := db.Run(ctx, r.pool, func(q db.Querier) error {
		_, err := q.Exec(ctx, sql, args...)
		return err
	})
	if err != nil {
		return fmt.Errorf("admin_update_profile: %w", err)
	}
	return nil
}

// adminUpdateCall builds the named-argument call so omitted fields fall back
// to the procedure's defaults.
func adminUpdateCall(p UpdateParams) (string, []interface{}) {
	named := []string{"target_id => $1::uuid"}
	args := []interface{}{p.TargetID}
	add := func(name string, v interface{}) {
		args = append(args, v)
		named = append(named, fmt.Sprintf("%s => $%d::text", name, len(args)))
	}
	if p.Role != nil {
		add("new_role", string(*p.Role))
	}
	if p.FirstName != nil {
		add("new_first_name", *p.FirstName)
	}
	if p.LastName != nil {
		add("new_last_name", *p.LastName)
	}
	return "SELECT admin_update_profile(" + strings.Join(named, ", ") + ")", args
}
