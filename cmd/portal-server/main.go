package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/patientdoc/portal/internal/config"
	"github.com/patientdoc/portal/internal/domain/careteam"
	"github.com/patientdoc/portal/internal/domain/profile"
	"github.com/patientdoc/portal/internal/domain/records"
	"github.com/patientdoc/portal/internal/domain/scheduling"
	"github.com/patientdoc/portal/internal/platform/auth"
	"github.com/patientdoc/portal/internal/platform/authstore"
	"github.com/patientdoc/portal/internal/platform/db"
	"github.com/patientdoc/portal/internal/platform/gotrue"
	"github.com/patientdoc/portal/internal/platform/middleware"
	"github.com/patientdoc/portal/internal/platform/websocket"
	"github.com/patientdoc/portal/internal/portal/guard"
	"github.com/patientdoc/portal/internal/portal/session"
	"github.com/patientdoc/portal/internal/portal/web"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// tokenAudience is the aud claim the auth API puts on user access tokens.
const tokenAudience = "authenticated"

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "portal-server",
		Short:        "PatientDoc portal server",
		SilenceUsage: true,
	}
	root.AddCommand(serveCmd())
	root.AddCommand(migrateCmd())
	root.AddCommand(versionCmd())
	return root
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the portal server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the server version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the local development schema",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			return withMigrator(dir, func(ctx context.Context, m *db.Migrator) error {
				count, err := m.Up(ctx)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
				return nil
			})
		},
	}
	upCmd.Flags().String("dir", "", "Path to migrations directory (default MIGRATIONS_DIR)")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			return withMigrator(dir, func(ctx context.Context, m *db.Migrator) error {
				statuses, err := m.Status(ctx)
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
				fmt.Fprintln(out, "---------- ---------------------------------------- ---------- --------------------")
				for _, s := range statuses {
					status, appliedAt := "pending", ""
					if s.Applied {
						status = "applied"
						if s.AppliedAt != nil {
							appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
						}
					}
					fmt.Fprintf(out, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
				}
				return nil
			})
		},
	}
	statusCmd.Flags().String("dir", "", "Path to migrations directory (default MIGRATIONS_DIR)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func withMigrator(dir string, fn func(ctx context.Context, m *db.Migrator) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if dir == "" {
		dir = cfg.MigrationsDir
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return err
	}
	defer pool.Close()
	return fn(ctx, db.NewMigrator(pool, dir))
}

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// profileFetcher resolves the profile of a session outside any request, so it
// scopes the query to the session's own claims.
type profileFetcher struct {
	profiles  records.ProfileSource
	scopeRole string
}

func (f *profileFetcher) FetchProfile(ctx context.Context, s *authstore.Session) (*profile.Profile, error) {
	if s == nil || s.Claims == nil {
		return nil, errors.New("session has no claims")
	}
	scope, err := db.ScopeFor(f.scopeRole, s.Claims)
	if err != nil {
		return nil, err
	}
	return f.profiles.FetchProfile(db.WithScope(ctx, scope), s.User.ID)
}

func portalSettings(cfg *config.Config, verifier *auth.Verifier) profile.PortalSettings {
	store := "memory"
	if cfg.RedisURL != "" {
		store = "redis"
	}
	return profile.PortalSettings{
		Environment:     cfg.Env,
		DisplayTimezone: cfg.DisplayTimezone,
		SessionIdleTTL:  cfg.SessionIdleTTL.String(),
		PersistentStore: store,
		ManagedUsers:    cfg.ManagedUsersEnabled(),
		VerifiedTokens:  verifier.Verifies(),
	}
}

func newPersister(ctx context.Context, cfg *config.Config) (authstore.Persister, *redis.Client, error) {
	if cfg.RedisURL == "" {
		return authstore.NewMemoryPersister(), nil, nil
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("ping redis: %w", err)
	}
	return authstore.NewRedisPersister(client, "portal:session:", cfg.SessionPersistTTL), client, nil
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cfg.Env)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	persister, rdb, err := newPersister(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to redis")
	}
	var checks []db.Check
	if rdb != nil {
		defer rdb.Close()
		checks = append(checks, db.Check{Name: "redis", Ping: func(ctx context.Context) error { return rdb.Ping(ctx).Err() }})
		logger.Info().Msg("persisting portal sessions in redis")
	}

	verifier := auth.NewVerifier(cfg.SupabaseJWTSecret, tokenAudience)
	if !verifier.Verifies() {
		logger.Warn().Msg("SUPABASE_JWT_SECRET not set, access tokens are decoded without verification")
	}
	authAPI := gotrue.NewClient(gotrue.Config{
		URL:            cfg.SupabaseURL,
		AnonKey:        cfg.SupabaseAnonKey,
		ServiceRoleKey: cfg.SupabaseServiceRoleKey,
	})

	// Domain services
	profileSvc := profile.NewService(profile.NewRepoPG(pool), authAPI, logger)
	careteamSvc := careteam.NewService(careteam.NewLinkRepoPG(pool))
	schedulingSvc := scheduling.NewService(scheduling.NewRequestRepoPG(pool), scheduling.NewAppointmentRepoPG(pool), cfg.Location())
	recordsSvc := records.NewService(records.NewVisitRepoPG(pool), profileSvc, careteamSvc, logger)

	// Portal sessions
	hub := websocket.NewHub(logger)
	manager := session.NewManager(session.ManagerOptions{
		NewStore: func(id string) session.Store {
			return authstore.New(authstore.Options{
				Key:           id,
				API:           authAPI,
				Tokens:        verifier,
				Persister:     persister,
				RefreshMargin: cfg.TokenRefreshMargin,
				Logger:        logger.With().Str("portal_session", id).Logger(),
			})
		},
		Profiles:     &profileFetcher{profiles: profileSvc, scopeRole: cfg.DBScopeRole},
		FetchTimeout: cfg.ProfileFetchTimeout,
		IdleTTL:      cfg.SessionIdleTTL,
		MaxSessions:  cfg.SessionMaxLive,
		OnClose:      hub.CloseTopic,
		Logger:       logger,
	})

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders(middleware.SecurityConfig{
		HSTS:              cfg.TLSEnabled,
		CacheablePrefixes: []string{"/health"},
	}))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:     cfg.CORSOrigins,
		AllowMethods:     []string{http.MethodGet, http.MethodPost},
		AllowHeaders:     []string{"Content-Type", middleware.RequestIDHeader},
		AllowCredentials: true,
	}))
	e.Use(echomw.BodyLimit("1M"))
	e.Use(middleware.RequestTimeout(middleware.TimeoutConfig{Timeout: cfg.RequestTimeout}))
	cookie := web.CookieConfig{
		Name:   cfg.SessionCookieName,
		Secure: cfg.SessionCookieSecure,
		MaxAge: cfg.SessionPersistTTL,
	}
	e.Use(web.Sessions(manager, cookie, logger))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok", "version": version})
	})
	e.GET("/health/db", db.HealthHandler(pool, checks...))

	// Signed-in screens
	app := e.Group("",
		guard.Middleware(guard.Protected, cfg.ResolveWait),
		web.Identity(),
		db.ScopeMiddleware(cfg.DBScopeRole, logger),
		middleware.Audit(logger),
	)

	portal := web.NewHandler(web.Options{
		Sessions:    manager,
		Cookie:      cookie,
		ResolveWait: cfg.ResolveWait,
		Location:    cfg.Location(),
		LoginLimiter: middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimitRPS,
			BurstSize:         cfg.RateLimitBurst,
		}),
		Hub:      hub,
		Upgrader: websocket.NewUpgrader(hub, cfg.CORSOrigins),
		Logger:   logger,
	})
	portal.RegisterRoutes(e, app)

	profile.NewHandler(profileSvc, portalSettings(cfg, verifier), logger).RegisterRoutes(app)
	scheduling.NewHandler(schedulingSvc, logger).RegisterRoutes(app)
	careteam.NewHandler(careteamSvc, logger).RegisterRoutes(app)
	records.NewHandler(recordsSvc, logger).RegisterRoutes(app)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("version", version).Msg("starting server")
		var err error
		if cfg.TLSEnabled {
			err = e.StartTLS(addr, cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			err = e.Start(addr)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return manager.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("server stopped with error")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
