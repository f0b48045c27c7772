package config

import (
	"fmt"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds all environment-based configuration for tokengate.
type Config struct {
	// API root every request path is resolved against. Required for the
	// client commands, ignored by the dev server.
	APIBaseURL string `env:"API_BASE_URL"`

	// Endpoints on the API. Requests whose path contains LoginSegment are
	// never treated as needing a token refresh.
	LoginPath    string `env:"LOGIN_PATH" envDefault:"/auth/login"`
	LoginSegment string `env:"LOGIN_SEGMENT" envDefault:"login"`
	RefreshPath  string `env:"REFRESH_PATH" envDefault:"/auth/refresh-access-token"`

	// Where the user is sent when the session cannot be recovered.
	AuthRedirectURL string `env:"AUTH_REDIRECT_URL" envDefault:"/auth"`

	// When false, a 401 arriving with no stored access token only
	// redirects and leaves any stored refresh token in place.
	ClearOnMissingAccessToken bool `env:"CLEAR_ON_MISSING_ACCESS_TOKEN" envDefault:"true"`

	// bbolt file holding the session credentials. Defaults to
	// ~/.tokengate/session.db.
	SessionDB string `env:"SESSION_DB"`

	HTTPTimeout  time.Duration `env:"HTTP_TIMEOUT" envDefault:"30s"`
	PollInterval time.Duration `env:"POLL_INTERVAL" envDefault:"2s"`
	PollTimeout  time.Duration `env:"POLL_TIMEOUT" envDefault:"1m"`

	// Environment controls log format
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL"`

	// Development API server settings.
	DevListenAddr string        `env:"DEV_LISTEN_ADDR" envDefault:":8095"`
	DevJWTSecret  string        `env:"DEV_JWT_SECRET"`
	DevAccessTTL  time.Duration `env:"DEV_ACCESS_TTL" envDefault:"1m"`
	DevRefreshTTL time.Duration `env:"DEV_REFRESH_TTL" envDefault:"24h"`
	DevUsers      string        `env:"DEV_USERS"`
}

// devSecretMinLen is the minimum HS256 key length accepted for the dev
// server. 32 bytes matches the SHA-256 block output.
const devSecretMinLen = 32

// warnInsecureEnvFile checks whether the .env file (if present) has
// overly permissive permissions. On Unix systems, group or world
// readable files risk exposing credentials to other users.
func warnInsecureEnvFile() {
	if runtime.GOOS == "windows" {
		return
	}

	info, err := os.Stat(".env")
	if err != nil {
		return // file does not exist, nothing to check
	}

	mode := info.Mode().Perm()
	if mode&0o077 != 0 {
		log.Printf("WARNING: .env file has insecure permissions %04o; recommended 0600", mode)
	}
}

// Load reads configuration from environment variables.
// It first attempts to load a .env file if present, then parses env vars.
// Mode specific requirements are checked by RequireClient and
// RequireDevServer.
func Load() (*Config, error) {
	_ = godotenv.Load()

	warnInsecureEnvFile()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if cfg.SessionDB == "" {
		path, err := DefaultSessionDB()
		if err != nil {
			return nil, err
		}

		cfg.SessionDB = path
	}

	absPath, err := filepath.Abs(cfg.SessionDB)
	if err != nil {
		return nil, fmt.Errorf("resolving session db to absolute path: %w", err)
	}

	cfg.SessionDB = absPath
	cfg.APIBaseURL = strings.TrimRight(cfg.APIBaseURL, "/")

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if !strings.HasPrefix(c.LoginPath, "/") {
		return fmt.Errorf("LOGIN_PATH must start with '/'")
	}

	if !strings.HasPrefix(c.RefreshPath, "/") {
		return fmt.Errorf("REFRESH_PATH must start with '/'")
	}

	if c.LoginSegment == "" {
		return fmt.Errorf("LOGIN_SEGMENT must not be empty")
	}

	// The refresh call must not look like a login call, otherwise a 401
	// from it would be exempt from handling for the wrong reason.
	if strings.Contains(c.RefreshPath, c.LoginSegment) {
		return fmt.Errorf("REFRESH_PATH %q must not contain LOGIN_SEGMENT %q", c.RefreshPath, c.LoginSegment)
	}

	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("HTTP_TIMEOUT must be positive")
	}

	if c.PollInterval <= 0 {
		return fmt.Errorf("POLL_INTERVAL must be positive")
	}

	if c.PollTimeout < 0 {
		return fmt.Errorf("POLL_TIMEOUT must not be negative")
	}

	return nil
}

// RequireClient checks the settings needed by commands that talk to the API.
func (c *Config) RequireClient() error {
	if c.APIBaseURL == "" {
		return fmt.Errorf("API_BASE_URL is required")
	}

	u, err := url.Parse(c.APIBaseURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("API_BASE_URL must be an absolute http(s) URL")
	}

	return nil
}

// RequireDevServer checks the settings needed by the development API server.
func (c *Config) RequireDevServer() error {
	if len(c.DevJWTSecret) < devSecretMinLen {
		return fmt.Errorf("DEV_JWT_SECRET must be at least %d characters", devSecretMinLen)
	}

	if c.DevAccessTTL <= 0 || c.DevRefreshTTL <= 0 {
		return fmt.Errorf("DEV_ACCESS_TTL and DEV_REFRESH_TTL must be positive")
	}

	if c.DevRefreshTTL < c.DevAccessTTL {
		return fmt.Errorf("DEV_REFRESH_TTL must not be shorter than DEV_ACCESS_TTL")
	}

	if c.DevUsers == "" {
		return fmt.Errorf("DEV_USERS is required for the dev server")
	}

	return nil
}

// DefaultSessionDB returns ~/.tokengate/session.db.
func DefaultSessionDB() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("determining home directory: %w", err)
	}

	return filepath.Join(home, ".tokengate", "session.db"), nil
}

// IsProduction returns true when the environment is set to production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// APIHost returns the host[:port] of API_BASE_URL, or "" if it does not
// parse.
func (c *Config) APIHost() string {
	u, err := url.Parse(c.APIBaseURL)
	if err != nil {
		return ""
	}

	return u.Host
}

// URL joins a path onto the API base URL.
func (c *Config) URL(path string) string {
	return c.APIBaseURL + path
}

// ParseDevUsers parses the DEV_USERS string into an email -> password map.
// Format: "alice@example.com:password1,bob@example.com:password2"
func (c *Config) ParseDevUsers() (map[string]string, error) {
	users := make(map[string]string)
	if c.DevUsers == "" {
		return users, nil
	}

	for _, pair := range strings.Split(c.DevUsers, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}

		idx := strings.Index(pair, ":")
		if idx < 0 {
			return nil, fmt.Errorf("invalid user entry (missing ':')")
		}

		email := pair[:idx]

		password := pair[idx+1:]
		if email == "" || password == "" {
			return nil, fmt.Errorf("empty email or password in entry %d", len(users)+1)
		}

		if _, dup := users[email]; dup {
			return nil, fmt.Errorf("duplicate email %q in DEV_USERS", email)
		}

		users[email] = password
	}

	return users, nil
}
