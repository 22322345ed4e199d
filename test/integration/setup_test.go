package integration

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/patientdoc/portal/internal/platform/auth"
	"github.com/patientdoc/portal/internal/platform/db"
)

// globalPool is shared by every test in the package, initialized in TestMain.
var globalPool *pgxpool.Pool

// rpcStubs stand in for the hosted remote procedures. admin_update_profile
// checks the caller's claims the way the hosted one does.
const rpcStubs = `
CREATE OR REPLACE FUNCTION get_all_profiles() RETURNS SETOF profiles
LANGUAGE sql STABLE AS $$ SELECT * FROM profiles ORDER BY created_at $$;

CREATE OR REPLACE FUNCTION admin_update_profile(
    target_id uuid,
    new_role text DEFAULT NULL,
    new_first_name text DEFAULT NULL,
    new_last_name text DEFAULT NULL
) RETURNS void
LANGUAGE plpgsql SECURITY DEFINER AS $$
DECLARE
    caller uuid := (current_setting('request.jwt.claims', true)::jsonb ->> 'sub')::uuid;
BEGIN
    IF (SELECT role FROM profiles WHERE id = caller) IS DISTINCT FROM 'admin' THEN
        RAISE EXCEPTION 'only admins may update profiles';
    END IF;
    UPDATE profiles SET
        role = COALESCE(new_role, role),
        first_name = COALESCE(new_first_name, first_name),
        last_name = COALESCE(new_last_name, last_name)
    WHERE id = target_id;
END
$$;
`

func TestMain(m *testing.M) {
	flag.Parse()
	if testing.Short() {
		fmt.Println("skipping integration tests in -short mode")
		os.Exit(0)
	}

	ctx := context.Background()
	pool, cleanup, err := setupPostgres(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "skipping integration tests: %v\n", err)
		os.Exit(0)
	}

	globalPool = pool
	code := m.Run()
	cleanup()
	os.Exit(code)
}

func setupPostgres(ctx context.Context) (pool *pgxpool.Pool, cleanup func(), err error) {
	// testcontainers panics when no Docker provider is reachable.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("docker unavailable: %v", r)
		}
	}()

	container, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("portal"),
		postgres.WithUsername("portal"),
		postgres.WithPassword("portal"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("start postgres container: %w", err)
	}
	terminate := func() { _ = container.Terminate(context.Background()) }

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		terminate()
		return nil, nil, fmt.Errorf("resolve connection string: %w", err)
	}

	pool, err = db.NewPool(ctx, dsn, 8, 1)
	if err != nil {
		terminate()
		return nil, nil, err
	}

	if _, err := db.NewMigrator(pool, migrationsDir()).Up(ctx); err != nil {
		pool.Close()
		terminate()
		return nil, nil, fmt.Errorf("apply migrations: %w", err)
	}
	if _, err := pool.Exec(ctx, rpcStubs); err != nil {
		pool.Close()
		terminate()
		return nil, nil, fmt.Errorf("create rpc stubs: %w", err)
	}

	return pool, func() {
		pool.Close()
		terminate()
	}, nil
}

// migrationsDir locates the repository migrations relative to this file.
func migrationsDir() string {
	_, filename, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(filename), "..", "..", "migrations")
}

// createProfile inserts a profile directly and returns its id.
func createProfile(t *testing.T, role, first, last string) uuid.UUID {
	t.Helper()
	id := uuid.New()
	var r interface{}
	if role != "" {
		r = role
	}
	_, err := globalPool.Exec(context.Background(),
		`INSERT INTO profiles (id, role, first_name, last_name, email) VALUES ($1, $2, $3, $4, $5)`,
		id, r, first, last, id.String()[:8]+"@example.com")
	if err != nil {
		t.Fatalf("create profile: %v", err)
	}
	return id
}

func linkPatient(t *testing.T, doctorID, patientID uuid.UUID) {
	t.Helper()
	_, err := globalPool.Exec(context.Background(),
		`INSERT INTO doctor_patients (doctor_id, patient_id) VALUES ($1, $2)`, doctorID, patientID)
	if err != nil {
		t.Fatalf("link patient: %v", err)
	}
}

// scopedAs returns a context whose statements run as the authenticated role
// with id as the token subject.
func scopedAs(t *testing.T, id uuid.UUID) context.Context {
	t.Helper()
	scope, err := db.ScopeFor("authenticated", &auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: id.String()},
		Role:             "authenticated",
	})
	if err != nil {
		t.Fatalf("scope: %v", err)
	}
	return db.WithScope(context.Background(), scope)
}
