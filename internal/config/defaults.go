// Package config - defaults.go centralizes magic numbers and default values.
//
// DESIGN: All default values that appear in multiple places should be defined
// here. This makes configuration more maintainable and auditable.
package config

import "time"

// =============================================================================
// UPSTREAM
// =============================================================================

// DefaultUpstreamBaseURL is the RAG server base URL when no env alias is set.
const DefaultUpstreamBaseURL = "http://127.0.0.1:3002"

// DefaultTenant is the tenant used when none is supplied anywhere.
const DefaultTenant = "demo"

// DefaultUser is the acting user used when none is supplied anywhere.
const DefaultUser = "local"

// =============================================================================
// TIMEOUTS PER ROUTE CLASS
// =============================================================================

// DefaultProxyTimeout applies to generic proxied calls.
const DefaultProxyTimeout = 60 * time.Second

// DefaultGenerateTimeout applies to the SSE generation endpoint. Generation
// can legitimately run for minutes.
const DefaultGenerateTimeout = 240 * time.Second

// MaxGenerateTimeout caps operator overrides for the generation endpoint.
const MaxGenerateTimeout = 300 * time.Second

// DefaultSummarizeTimeout applies to summarize/start and summarize/cancel.
const DefaultSummarizeTimeout = 120 * time.Second

// DefaultHealthProbeTimeout is the per-service health probe deadline.
const DefaultHealthProbeTimeout = 5 * time.Second

// =============================================================================
// HTTP AND NETWORKING
// =============================================================================

// DefaultListenAddr is the gateway's own listen address.
const DefaultListenAddr = ":8720"

// DefaultBufferSize is the standard I/O buffer size for stream relaying.
const DefaultBufferSize = 4096

// MaxRequestBodySize is the maximum buffered request body (50MB). Streamed
// uploads (ingest) are not buffered and are not subject to this limit.
const MaxRequestBodySize = 50 * 1024 * 1024

// DefaultServerReadTimeout for the gateway's HTTP server.
const DefaultServerReadTimeout = 2 * time.Minute

// DefaultServerWriteTimeout for the gateway's HTTP server (safe for streaming).
const DefaultServerWriteTimeout = 10 * time.Minute

// =============================================================================
// HEALTH SERVICE DEFAULTS
// =============================================================================

// Auxiliary service base URLs when their env overrides are unset.
const (
	DefaultMeilisearchURL = "http://localhost:7700"
	DefaultQdrantURL      = "http://localhost:6333"
	DefaultRerankerURL    = "http://localhost:8080"
)
