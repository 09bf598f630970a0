package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

const (
	TransportStdio = "stdio"
	TransportHTTP  = "http"

	SessionStoreFile     = "file"
	SessionStoreRedis    = "redis"
	SessionStorePostgres = "postgres"
)

type Config struct {
	Username        string `env:"AULA_USERNAME"`
	Password        string `env:"AULA_PASSWORD"`
	CredentialsFile string `env:"AULA_CREDENTIALS_FILE"`

	Transport          string `env:"TRANSPORT" envDefault:"stdio"`
	Port               int    `env:"PORT" envDefault:"8000"`
	MCPAuthTokenHash   string `env:"MCP_AUTH_TOKEN_HASH"`
	RateLimitPerMin    int    `env:"RATE_LIMIT_PER_MIN" envDefault:"60"`
	LogLevel           string `env:"LOG_LEVEL" envDefault:"info"`
	RefreshIntervalMin int    `env:"REFRESH_INTERVAL_MINUTES" envDefault:"0"`

	SessionStore         string `env:"SESSION_STORE" envDefault:"file"`
	SessionCacheDir      string `env:"SESSION_CACHE_DIR"`
	SessionMaxAgeHours   int    `env:"SESSION_MAX_AGE_HOURS" envDefault:"12"`
	SessionEncryptionKey string `env:"SESSION_ENCRYPTION_KEY"`
	RedisURL             string `env:"REDIS_URL"`
	DatabaseURL          string `env:"DATABASE_URL"`

	LoginURL           string   `env:"PORTAL_LOGIN_URL" envDefault:"https://login.aula.dk/auth/login.php"`
	APIBase            string   `env:"PORTAL_API_BASE" envDefault:"https://www.aula.dk/api/v"`
	APIVersion         int      `env:"PORTAL_API_VERSION" envDefault:"20"`
	LandingURL         string   `env:"PORTAL_LANDING_URL" envDefault:"https://www.aula.dk:443/portal/"`
	MaxRedirects       int      `env:"PORTAL_MAX_REDIRECTS" envDefault:"10"`
	MaxVersionAttempts int      `env:"PORTAL_MAX_VERSION_ATTEMPTS" envDefault:"20"`
	HTTPTimeoutSeconds int      `env:"PORTAL_HTTP_TIMEOUT_SECONDS" envDefault:"30"`
	LoginActor         string   `env:"LOGIN_ACTOR" envDefault:"KONTAKT"`
	LoginFieldAllow    []string `env:"LOGIN_FIELD_ALLOWLIST" envDefault:"username,password,selected-aktoer" envSeparator:","`

	CalendarDays     int    `env:"CALENDAR_DAYS" envDefault:"14"`
	FeatureUgeplan   bool   `env:"FEATURE_UGEPLAN" envDefault:"true"`
	MinUddannelseAPI string `env:"MINUDDANNELSE_API" envDefault:"https://api.minuddannelse.net/aula"`
	MockTokens       bool   `env:"MOCK_TOKENS" envDefault:"false"`
}

// credentialsFile is the on-disk shape of AULA_CREDENTIALS_FILE. JSON
// files decode too.
type credentialsFile struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Ugeplan  *bool  `yaml:"ugeplan"`
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) SessionMaxAge() time.Duration {
	return time.Duration(c.SessionMaxAgeHours) * time.Hour
}

func (c *Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTPTimeoutSeconds) * time.Second
}

func (c *Config) RefreshInterval() time.Duration {
	return time.Duration(c.RefreshIntervalMin) * time.Minute
}

// SessionDir returns the file store directory, defaulting to ~/.aula.
func (c *Config) SessionDir() string {
	if c.SessionCacheDir != "" {
		return c.SessionCacheDir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return DefaultSessionDirName
	}
	return filepath.Join(home, DefaultSessionDirName)
}

func (c *Config) Validate() error {
	if c.Username == "" || c.Password == "" {
		return fmt.Errorf("AULA_USERNAME and AULA_PASSWORD are required (or set AULA_CREDENTIALS_FILE)")
	}

	switch c.Transport {
	case TransportStdio, TransportHTTP:
	default:
		return fmt.Errorf("TRANSPORT must be %q or %q, got %q", TransportStdio, TransportHTTP, c.Transport)
	}

	switch c.SessionStore {
	case SessionStoreFile:
	case SessionStoreRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required when SESSION_STORE=redis")
		}
	case SessionStorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when SESSION_STORE=postgres")
		}
	default:
		return fmt.Errorf("SESSION_STORE must be one of file, redis, postgres, got %q", c.SessionStore)
	}

	if c.SessionEncryptionKey != "" && len(c.SessionEncryptionKey) != 64 {
		return fmt.Errorf("SESSION_ENCRYPTION_KEY must be 64 hex characters (generate with: openssl rand -hex 32)")
	}

	if c.MCPAuthTokenHash != "" {
		if !strings.HasPrefix(c.MCPAuthTokenHash, "$2a$") &&
			!strings.HasPrefix(c.MCPAuthTokenHash, "$2b$") &&
			!strings.HasPrefix(c.MCPAuthTokenHash, "$2y$") {
			return fmt.Errorf("MCP_AUTH_TOKEN_HASH must be a bcrypt hash (generate with: go run scripts/hash-token.go <token>)")
		}
	}

	if c.MaxRedirects <= 0 || c.MaxVersionAttempts <= 0 {
		return fmt.Errorf("PORTAL_MAX_REDIRECTS and PORTAL_MAX_VERSION_ATTEMPTS must be positive")
	}

	if c.Transport == TransportHTTP && c.MCPAuthTokenHash == "" {
		log.Warn().Msg("MCP_AUTH_TOKEN_HASH is empty: /mcp is reachable without authentication")
	}
	if c.SessionStore == SessionStoreRedis && strings.HasPrefix(c.RedisURL, "redis://") {
		log.Warn().Msg("REDIS_URL uses redis:// (not TLS): portal cookies travel in clear text")
	}
	if c.SessionEncryptionKey == "" {
		log.Debug().Msg("SESSION_ENCRYPTION_KEY is empty: transport state is stored unencrypted")
	}

	return nil
}

// LoadCredentialsFile fills unset credentials and features from path.
func (c *Config) LoadCredentialsFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read credentials file: %w", err)
	}

	var file credentialsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse credentials file: %w", err)
	}

	if c.Username == "" {
		c.Username = file.Username
	}
	if c.Password == "" {
		c.Password = file.Password
	}
	if file.Ugeplan != nil && os.Getenv("FEATURE_UGEPLAN") == "" {
		c.FeatureUgeplan = *file.Ugeplan
	}
	c.CredentialsFile = path
	return nil
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.CredentialsFile != "" {
		if err := cfg.LoadCredentialsFile(cfg.CredentialsFile); err != nil {
			return nil, err
		}
	}
	return &cfg, nil
}
