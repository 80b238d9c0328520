package constants

import "time"

// Application constants
const (
	// Application metadata
	AppName        = "aidrin"
	AppDescription = "AI Data Readiness Inspector privacy-risk engine"
	AppVersion     = "0.1.0"

	// API constants
	APIVersion = "v1"
	APIPrefix  = "/api/v1"

	// Default configuration values
	DefaultPort            = 8080
	DefaultMetricsPort     = 9090
	DefaultHost            = "0.0.0.0"
	DefaultLogLevel        = "info"
	DefaultLogFormat       = "json"
	DefaultReadTimeout     = 15 * time.Second
	DefaultWriteTimeout    = 15 * time.Second
	DefaultIdleTimeout     = 60 * time.Second
	DefaultShutdownTimeout = 30 * time.Second

	// Dataset conventions
	MissingValueSentinel       = "?"
	MaxCategoricalCardinality  = 100
	DefaultCancelCheckInterval = 4096

	// Report defaults
	DefaultDisplayPrecision = 2

	// Data quality defaults
	DefaultMaxDroppedFraction = 0.5

	// Task defaults
	DefaultWorkerConcurrency = 4
	DefaultTaskSoftTimeLimit = 15 * time.Minute
	DefaultTaskHardTimeLimit = 20 * time.Minute
	DefaultResultExpiry      = 1 * time.Hour
	DefaultQueueCapacity     = 64

	// Cache defaults
	DefaultCacheTTL       = 30 * time.Minute
	DefaultCacheKeyPrefix = "aidrin"

	// Storage defaults
	DefaultStorageTimeout    = 30 * time.Second
	DefaultConnectionTimeout = 10 * time.Second

	// File size limits
	MaxUploadSize = 100 * 1024 * 1024 // 100MB
)

// HTTP headers
const (
	HeaderContentType  = "Content-Type"
	HeaderRequestID    = "X-Request-ID"
	HeaderForwardedFor = "X-Forwarded-For"
	HeaderRealIP       = "X-Real-IP"
	HeaderLocation     = "Location"

	// HeaderUserID carries the caller identity used to scope cache entries.
	HeaderUserID = "X-User-ID"
)
