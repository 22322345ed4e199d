package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port          string `mapstructure:"PORT"`
	Env           string `mapstructure:"ENV"`
	DatabaseURL   string `mapstructure:"DATABASE_URL"`
	DBMaxConns    int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns    int32  `mapstructure:"DB_MIN_CONNS"`
	DBScopeRole   string `mapstructure:"DB_SCOPE_ROLE"`
	RedisURL      string `mapstructure:"REDIS_URL"`
	MigrationsDir string `mapstructure:"MIGRATIONS_DIR"`

	SupabaseURL            string `mapstructure:"SUPABASE_URL"`
	SupabaseAnonKey        string `mapstructure:"SUPABASE_ANON_KEY"`
	SupabaseServiceRoleKey string `mapstructure:"SUPABASE_SERVICE_ROLE_KEY"`
	SupabaseJWTSecret      string `mapstructure:"SUPABASE_JWT_SECRET"`

	SessionCookieName   string        `mapstructure:"SESSION_COOKIE_NAME"`
	SessionCookieSecure bool          `mapstructure:"SESSION_COOKIE_SECURE"`
	SessionIdleTTL      time.Duration `mapstructure:"SESSION_IDLE_TTL"`
	SessionPersistTTL   time.Duration `mapstructure:"SESSION_PERSIST_TTL"`
	SessionMaxLive      int           `mapstructure:"SESSION_MAX_LIVE"`
	ResolveWait         time.Duration `mapstructure:"RESOLVE_WAIT"`
	ProfileFetchTimeout time.Duration `mapstructure:"PROFILE_FETCH_TIMEOUT"`
	TokenRefreshMargin  time.Duration `mapstructure:"TOKEN_REFRESH_MARGIN"`
	DisplayTimezone     string        `mapstructure:"DISPLAY_TIMEZONE"`

	CORSOrigins    []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS   float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int           `mapstructure:"RATE_LIMIT_BURST"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	TLSEnabled     bool          `mapstructure:"TLS_ENABLED"`
	TLSCertFile    string        `mapstructure:"TLS_CERT_FILE"`
	TLSKeyFile     string        `mapstructure:"TLS_KEY_FILE"`
}

var keys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "DB_SCOPE_ROLE",
	"REDIS_URL", "MIGRATIONS_DIR",
	"SUPABASE_URL", "SUPABASE_ANON_KEY", "SUPABASE_SERVICE_ROLE_KEY", "SUPABASE_JWT_SECRET",
	"SESSION_COOKIE_NAME", "SESSION_COOKIE_SECURE", "SESSION_IDLE_TTL", "SESSION_PERSIST_TTL", "SESSION_MAX_LIVE",
	"RESOLVE_WAIT", "PROFILE_FETCH_TIMEOUT", "TOKEN_REFRESH_MARGIN", "DISPLAY_TIMEZONE",
	"CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "REQUEST_TIMEOUT",
	"TLS_ENABLED", "TLS_CERT_FILE", "TLS_KEY_FILE",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("DB_SCOPE_ROLE", "authenticated")
	v.SetDefault("MIGRATIONS_DIR", "migrations")
	v.SetDefault("SUPABASE_URL", "http://localhost:54321")
	v.SetDefault("SESSION_COOKIE_NAME", "portal_session")
	v.SetDefault("SESSION_COOKIE_SECURE", false)
	v.SetDefault("SESSION_IDLE_TTL", "30m")
	v.SetDefault("SESSION_PERSIST_TTL", "168h")
	v.SetDefault("SESSION_MAX_LIVE", 10000)
	v.SetDefault("RESOLVE_WAIT", "3s")
	v.SetDefault("PROFILE_FETCH_TIMEOUT", "5s")
	v.SetDefault("TOKEN_REFRESH_MARGIN", "60s")
	v.SetDefault("DISPLAY_TIMEZONE", "UTC")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 5)
	v.SetDefault("RATE_LIMIT_BURST", 10)
	v.SetDefault("REQUEST_TIMEOUT", "30s")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) == 1 && strings.Contains(cfg.CORSOrigins[0], ",") {
		cfg.CORSOrigins = strings.Split(cfg.CORSOrigins[0], ",")
	}
	for i := range cfg.CORSOrigins {
		cfg.CORSOrigins[i] = strings.TrimSpace(cfg.CORSOrigins[i])
	}
	cfg.SupabaseURL = strings.TrimRight(cfg.SupabaseURL, "/")

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// ManagedUsersEnabled reports whether admins can create accounts. It needs the
// service-role key for the auth admin API.
func (c *Config) ManagedUsersEnabled() bool {
	return c.SupabaseServiceRoleKey != ""
}

// Location returns the timezone used to pick "today" on date-filtered screens.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.DisplayTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Validate checks that the configuration is safe to run. Outside development
// the anon key must be set, and production additionally requires the JWT
// secret so access tokens are verified rather than decoded.
func (c *Config) Validate() error {
	if c.SupabaseURL == "" {
		return fmt.Errorf("SUPABASE_URL is required")
	}
	if !c.IsDev() && c.SupabaseAnonKey == "" {
		return fmt.Errorf("SUPABASE_ANON_KEY is required when ENV=%q", c.Env)
	}
	if c.IsProduction() && c.SupabaseJWTSecret == "" {
		return fmt.Errorf("SUPABASE_JWT_SECRET is required in production")
	}
	if c.IsProduction() && !c.SessionCookieSecure {
		return fmt.Errorf("SESSION_COOKIE_SECURE must be true in production")
	}
	if c.SessionCookieName == "" {
		return fmt.Errorf("SESSION_COOKIE_NAME must not be empty")
	}
	if c.ResolveWait <= 0 || c.ProfileFetchTimeout <= 0 {
		return fmt.Errorf("RESOLVE_WAIT and PROFILE_FETCH_TIMEOUT must be positive")
	}
	if c.SessionMaxLive < 0 {
		return fmt.Errorf("SESSION_MAX_LIVE must not be negative")
	}
	if c.TokenRefreshMargin < 0 {
		return fmt.Errorf("TOKEN_REFRESH_MARGIN must not be negative")
	}
	if _, err := time.LoadLocation(c.DisplayTimezone); err != nil {
		return fmt.Errorf("DISPLAY_TIMEZONE %q: %w", c.DisplayTimezone, err)
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive")
	}

	// TLS validation: when TLS is enabled, cert and key files must be specified.
	if c.TLSEnabled {
		if c.TLSCertFile == "" {
			return fmt.Errorf("TLS_CERT_FILE is required when TLS_ENABLED is true")
		}
		if c.TLSKeyFile == "" {
			return fmt.Errorf("TLS_KEY_FILE is required when TLS_ENABLED is true")
		}
	}

	return nil
}
