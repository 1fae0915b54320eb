package config

import "time"

// Database connection pool settings
const (
	DBMaxOpenConns    = 25
	DBMaxIdleConns    = 5
	DBConnMaxLifetime = 5 * time.Minute
)

// HTTP server timeouts
const (
	ServerRequestTimeout  = 60 * time.Second
	ServerReadTimeout     = 15 * time.Second
	ServerIdleTimeout     = 120 * time.Second
	ServerShutdownTimeout = 30 * time.Second
)

// Database ping timeout for health checks
const DBPingTimeout = 5 * time.Second

// Per-call ceiling on store backend I/O before the in-memory fallback
// takes over.
const StoreOpTimeout = 2 * time.Second

// Background job intervals
const RetryJobInterval = 10 * time.Minute

// Maximum failed records processed in one retry pass
const RetryBatchSize = 10
