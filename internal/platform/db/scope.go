package db

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type contextKey string

const ScopeKey contextKey = "db_scope"

var ErrInvalidRole = errors.New("invalid database role")

var roleIdentPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

// Scope is the identity a transaction runs as. Claims is the JSON access token
// payload exposed to row-level policies through request.jwt.claims.
type Scope struct {
	Role   string
	Claims []byte
}

func WithScope(ctx context.Context, s Scope) context.Context {
	return context.WithValue(ctx, ScopeKey, s)
}

func ScopeFromContext(ctx context.Context) (Scope, bool) {
	s, ok := ctx.Value(ScopeKey).(Scope)
	return s, ok
}

// Querier is what repositories issue statements against.
type Querier interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// Beginner starts transactions; *pgxpool.Pool satisfies it.
type Beginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Run executes fn inside one short transaction. When ctx carries a Scope the
// transaction first switches to that role and publishes the claims, both
// LOCAL so they end with the transaction.
func Run(ctx context.Context, b Beginner, fn func(q Querier) error) error {
	tx, err := b.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if s, ok := ScopeFromContext(ctx); ok {
		if err := applyScope(ctx, tx, s); err != nil {
			return err
		}
	}

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func applyScope(ctx context.Context, tx pgx.Tx, s Scope) error {
	if !roleIdentPattern.MatchString(s.Role) {
		return fmt.Errorf("%w: %q", ErrInvalidRole, s.Role)
	}
	claims := string(s.Claims)
	if claims == "" {
		claims = "{}"
	}
	if _, err := tx.Exec(ctx, `SELECT set_config('request.jwt.claims', $1, true)`, claims); err != nil {
		return fmt.Errorf("set request claims: %w", err)
	}
	if _, err := tx.Exec(ctx, "SET LOCAL ROLE "+pgx.Identifier{s.Role}.Sanitize()); err != nil {
		return fmt.Errorf("set role %s: %w", s.Role, err)
	}
	return nil
}
