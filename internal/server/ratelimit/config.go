package ratelimit

import (
	"time"
)

// EndpointConfig represents rate limiting configuration for a specific endpoint.
type EndpointConfig struct {
	Path   string        // Endpoint path pattern (supports prefix matching)
	Method string        // HTTP method (GET, POST, etc.)
	Limit  int           // Maximum requests per window
	Window time.Duration // Time window
	Burst  int           // Burst capacity (defaults to Limit if 0)
}

// Config holds rate limiting configuration.
type Config struct {
	Enabled bool
	// RPS and Burst apply to requests that match no endpoint config.
	RPS             float64
	Burst           int
	CleanupInterval time.Duration
	IdleTTL         time.Duration
	// Allowlist holds client IDs (tenants or IPs) that are never limited.
	Allowlist       map[string]bool
	EndpointConfigs []EndpointConfig
}

// NewConfig returns an enabled config with the given default rate and the
// endpoint tiers from DefaultEndpointConfigs.
func NewConfig(rps float64, burst int) *Config {
	return &Config{
		Enabled:         rps > 0,
		RPS:             rps,
		Burst:           burst,
		CleanupInterval: 5 * time.Minute,
		IdleTTL:         time.Hour,
		Allowlist:       make(map[string]bool),
		EndpointConfigs: DefaultEndpointConfigs(),
	}
}

// DefaultEndpointConfigs returns the default endpoint-specific configurations.
func DefaultEndpointConfigs() []EndpointConfig {
	return []EndpointConfig{
		// Run creation starts drivers and activity calls
		{Path: "/runs", Method: "POST", Limit: 60, Window: time.Minute, Burst: 10},

		// Run commands
		{Path: "/runs/", Method: "POST", Limit: 300, Window: time.Minute, Burst: 30},
		{Path: "/runs/", Method: "PUT", Limit: 300, Window: time.Minute, Burst: 30},
		{Path: "/runs/", Method: "DELETE", Limit: 60, Window: time.Minute, Burst: 10},
		{Path: "/settings/", Method: "PUT", Limit: 60, Window: time.Minute, Burst: 10},

		// Chain verification walks the whole ledger
		{Path: "/audit/verify", Method: "GET", Limit: 6, Window: time.Minute, Burst: 2},
	}
}
