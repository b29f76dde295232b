// Package config holds the gateway's injected configuration.
//
// DESIGN: Config is constructed exactly once in main (FromEnv, optionally
// overlaid with a YAML file) and passed explicitly into every constructor.
// Core packages never read ambient environment state, which keeps unit tests
// deterministic with fake configs.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Timeouts groups the per-route-class upstream deadlines.
type Timeouts struct {
	Proxy       time.Duration `yaml:"proxy"`
	Generate    time.Duration `yaml:"generate"`
	Summarize   time.Duration `yaml:"summarize"`
	HealthProbe time.Duration `yaml:"health_probe"`
}

// Service describes one probeable backend service.
type Service struct {
	Enabled bool          `yaml:"enabled"`
	BaseURL string        `yaml:"base_url"`
	Path    string        `yaml:"path"`
	Timeout time.Duration `yaml:"timeout"`
	// Rich probes parse the JSON health body (document counts, tenant);
	// generic probes only look at HTTP status and latency.
	Rich bool `yaml:"rich"`
}

// Config is the root configuration object.
type Config struct {
	ListenAddr      string `yaml:"listen_addr"`
	UpstreamBaseURL string `yaml:"upstream_base_url"`
	APIKey          string `yaml:"api_key"`

	DefaultTenantID string `yaml:"default_tenant"`
	DefaultUserID   string `yaml:"default_user"`

	// IncludeGlobalFallback is the value include_global resolves to when the
	// supplied string is outside the tolerant boolean vocabulary.
	IncludeGlobalFallback bool `yaml:"include_global_fallback"`

	Timeouts Timeouts           `yaml:"timeouts"`
	Services map[string]Service `yaml:"services"`

	MetricsEnabled bool `yaml:"metrics_enabled"`
}

// firstEnv returns the first non-empty value among the named env variables.
func firstEnv(names ...string) string {
	for _, n := range names {
		if v := strings.TrimSpace(os.Getenv(n)); v != "" {
			return v
		}
	}
	return ""
}

func envDuration(name string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	ms, err := strconv.Atoi(raw)
	if err != nil || ms <= 0 {
		return fallback
	}
	return time.Duration(ms) * time.Millisecond
}

// envFlag reads FEATURE_<NAME>, accepting true/1/on and false/0/off.
// Anything else keeps the per-service default.
func envFlag(name string, fallback bool) bool {
	raw := strings.TrimSpace(os.Getenv("FEATURE_" + strings.ToUpper(name)))
	switch strings.ToLower(raw) {
	case "true", "1", "on":
		return true
	case "false", "0", "off":
		return false
	}
	return fallback
}

// FromEnv builds a Config from environment variables. Several keys are
// checked under aliased names for back-compat with earlier deployments;
// the first non-empty value wins.
func FromEnv() *Config {
	upstream := firstEnv("RAG_SERVER_URL", "RAG_API_BASE", "RAG_BASE_URL")
	if upstream == "" {
		upstream = DefaultUpstreamBaseURL
	}
	upstream = strings.TrimRight(upstream, "/")

	tenant := firstEnv("RAG_TENANT_DEFAULT", "TENANT_DEFAULT")
	if tenant == "" {
		tenant = DefaultTenant
	}
	user := firstEnv("RAG_DEFAULT_USER", "DEFAULT_USER_ID")
	if user == "" {
		user = DefaultUser
	}

	listen := firstEnv("GATEWAY_LISTEN_ADDR")
	if listen == "" {
		listen = DefaultListenAddr
	}

	generate := envDuration("RAG_GENERATE_TIMEOUT_MS", DefaultGenerateTimeout)
	if generate > MaxGenerateTimeout {
		generate = MaxGenerateTimeout
	}

	cfg := &Config{
		ListenAddr:      listen,
		UpstreamBaseURL: upstream,
		APIKey:          firstEnv("RAG_API_KEY", "API_KEY"),
		DefaultTenantID: tenant,
		DefaultUserID:   user,
		Timeouts: Timeouts{
			Proxy:       envDuration("BACKEND_PROXY_TIMEOUT_MS", DefaultProxyTimeout),
			Generate:    generate,
			Summarize:   envDuration("RAG_SUMMARIZE_TIMEOUT_MS", DefaultSummarizeTimeout),
			HealthProbe: envDuration("HEALTH_PROBE_TIMEOUT_MS", DefaultHealthProbeTimeout),
		},
		Services:       defaultServices(upstream),
		MetricsEnabled: envFlag("METRICS", true),
	}

	if path := firstEnv("GATEWAY_CONFIG"); path != "" {
		_ = cfg.overlayFile(path)
	}
	return cfg
}

// defaultServices declares the probeable backends. The rag and mcp probes hit
// the RAG server itself; the auxiliary services are disabled unless a feature
// flag turns them on.
func defaultServices(upstream string) map[string]Service {
	return map[string]Service{
		"rag": {
			Enabled: envFlag("RAG", true),
			BaseURL: upstream,
			Path:    "/api/health",
			Timeout: DefaultHealthProbeTimeout,
			Rich:    true,
		},
		"mcp": {
			Enabled: envFlag("MCP", true),
			BaseURL: upstream,
			Path:    "/api/health",
			Timeout: DefaultHealthProbeTimeout,
			Rich:    true,
		},
		"meilisearch": {
			Enabled: envFlag("MEILISEARCH", false),
			BaseURL: pickURL("MEILI_URL", DefaultMeilisearchURL),
			Path:    "/health",
			Timeout: DefaultHealthProbeTimeout,
		},
		"qdrant": {
			Enabled: envFlag("QDRANT", false),
			BaseURL: pickURL("QDRANT_URL", DefaultQdrantURL),
			Path:    "/healthz",
			Timeout: DefaultHealthProbeTimeout,
		},
		"reranker": {
			Enabled: envFlag("RERANKER", false),
			BaseURL: pickURL("RERANKER_URL", DefaultRerankerURL),
			Path:    "/health",
			Timeout: DefaultHealthProbeTimeout,
		},
	}
}

func pickURL(env, fallback string) string {
	if v := firstEnv(env); v != "" {
		return strings.TrimRight(v, "/")
	}
	return fallback
}

// overlayFile applies a YAML config file on top of the env-derived config.
// Only keys present in the file are overridden.
func (c *Config) overlayFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(raw, c)
}

// ServiceNames returns the declared probe targets in a stable order.
func (c *Config) ServiceNames() []string {
	return []string{"rag", "mcp", "meilisearch", "qdrant", "reranker"}
}
