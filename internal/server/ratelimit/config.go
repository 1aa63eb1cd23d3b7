package ratelimit

import (
	"strings"
	"time"
)

// EndpointConfig represents rate limiting configuration for a specific endpoint.
type EndpointConfig struct {
	Path   string        // Path pattern: exact, "*" segment wildcards, or a "/"-terminated prefix
	Method string        // HTTP method (GET, POST, etc.)
	Limit  int           // Maximum requests per window
	Window time.Duration // Time window
	Burst  int           // Burst capacity (defaults to Limit if 0)
}

// Config holds rate limiting configuration.
type Config struct {
	Enabled         bool
	DefaultLimit    int
	DefaultWindow   time.Duration
	CleanupInterval time.Duration
	Whitelist       map[string]bool
	Blacklist       map[string]bool
	EndpointConfigs []EndpointConfig
}

// DefaultConfig returns the configuration used when none is supplied.
func DefaultConfig() *Config {
	return &Config{
		Enabled:         true,
		DefaultLimit:    1000,
		DefaultWindow:   time.Minute,
		CleanupInterval: 5 * time.Minute,
		Whitelist:       make(map[string]bool),
		Blacklist:       make(map[string]bool),
		EndpointConfigs: DefaultEndpointConfigs(),
	}
}

// DefaultEndpointConfigs returns the default endpoint-specific configurations.
func DefaultEndpointConfigs() []EndpointConfig {
	return []EndpointConfig{
		// Tier 1: model and engine calls
		{Path: "/chat/generate-pipeline", Method: "POST", Limit: 30, Window: time.Hour, Burst: 5},
		{Path: "/chat/message", Method: "POST", Limit: 120, Window: time.Hour, Burst: 10},
		{Path: "/chat/validate-script", Method: "POST", Limit: 60, Window: time.Hour, Burst: 5},
		{Path: "/pipelines/*/execute", Method: "POST", Limit: 10, Window: time.Hour, Burst: 2},
		{Path: "/alphafold/", Method: "POST", Limit: 30, Window: time.Minute, Burst: 5},

		// Tier 2: writes
		{Path: "/projects", Method: "POST", Limit: 100, Window: time.Minute, Burst: 10},
		{Path: "/projects/", Method: "POST", Limit: 100, Window: time.Minute, Burst: 10},
		{Path: "/projects/", Method: "DELETE", Limit: 100, Window: time.Minute, Burst: 10},
		{Path: "/pipelines/", Method: "PUT", Limit: 100, Window: time.Minute, Burst: 10},
		{Path: "/pipelines/", Method: "POST", Limit: 100, Window: time.Minute, Burst: 10},

		// Reads use the default limit; GET /health is unlimited (see MatchEndpoint)
	}
}

// IPSet turns a list of addresses into a lookup set, skipping blanks.
// Entries may themselves be comma-separated.
func IPSet(list []string) map[string]bool {
	result := make(map[string]bool)
	for _, entry := range list {
		for _, ip := range strings.Split(entry, ",") {
			ip = strings.TrimSpace(ip)
			if ip != "" {
				result[ip] = true
			}
		}
	}
	return result
}
