package config

import "strings"

// RPCConfig controls the JSON-RPC surface.
type RPCConfig struct {
	// JWTSecretEnv names the environment variable holding the HMAC secret.
	// Authentication is disabled when it is empty.
	JWTSecretEnv     string   `toml:"JWTSecretEnv"`
	JWTIssuer        string   `toml:"JWTIssuer"`
	JWTAudience      []string `toml:"JWTAudience"`
	RateLimitPerSec  float64  `toml:"RateLimitPerSec"`
	RateLimitBurst   int      `toml:"RateLimitBurst"`
	ReadTimeoutSecs  int      `toml:"ReadTimeoutSecs"`
	WriteTimeoutSecs int      `toml:"WriteTimeoutSecs"`
	MaxBodyBytes     int64    `toml:"MaxBodyBytes"`
}

func (r *RPCConfig) applyDefaults() {
	if r.RateLimitPerSec == 0 {
		r.RateLimitPerSec = 20
	}
	if r.RateLimitBurst == 0 {
		r.RateLimitBurst = 40
	}
	if r.ReadTimeoutSecs == 0 {
		r.ReadTimeoutSecs = 10
	}
	if r.WriteTimeoutSecs == 0 {
		r.WriteTimeoutSecs = 15
	}
	if r.MaxBodyBytes == 0 {
		r.MaxBodyBytes = 1 << 20
	}
}

// TelemetryConfig configures the OTLP exporters.
type TelemetryConfig struct {
	Endpoint string `toml:"Endpoint"`
	Insecure bool   `toml:"Insecure"`
	Headers  string `toml:"Headers"`
	Traces   bool   `toml:"Traces"`
	Metrics  bool   `toml:"Metrics"`

	// SampleRatio is the fraction of traces exported; 0 exports all.
	SampleRatio float64 `toml:"SampleRatio"`
}

func (t *TelemetryConfig) applyDefaults() {
	t.Endpoint = strings.TrimSpace(t.Endpoint)
}

// Enabled reports whether any exporter is switched on.
func (t TelemetryConfig) Enabled() bool {
	return t.Traces || t.Metrics
}
