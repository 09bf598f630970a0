package config

import "time"

// Database connection pool settings
const (
	DBMaxOpenConns    = 5
	DBMaxIdleConns    = 2
	DBConnMaxLifetime = 5 * time.Minute
)

// HTTP server timeouts
const (
	ServerReadTimeout     = 15 * time.Second
	ServerIdleTimeout     = 120 * time.Second
	ServerShutdownTimeout = 30 * time.Second
)

// Startup ping timeout for redis and postgres
const StorePingTimeout = 5 * time.Second

// Portal freshness windows
const (
	TokenFreshness = time.Minute
	SummaryTTL     = 15 * time.Minute
)

// Background refresh
const RefreshJobTimeout = 2 * time.Minute

const DefaultSessionDirName = ".aula"

// Default rate limiting
const DefaultRateLimitPerMin = 60
