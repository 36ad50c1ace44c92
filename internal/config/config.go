package config

import (
	"os"
	"strconv"
	"strings"
)

// Config holds all configuration for the agent gateway. It is resolved once
// at startup and threaded into the server explicitly; handlers never read
// the environment themselves.
type Config struct {
	Port         int
	Version      string
	ActivePreset string
	PresetsDir   string
	CORSOrigins  []string

	// AuthToken enables bearer authentication on invoking/mutating routes
	// when non-empty. A deployment-level switch, not per-request state.
	AuthToken string

	Provider  ProviderConfig
	Storage   StorageConfig
	Telemetry TelemetryConfig
}

type ProviderConfig struct {
	// Name selects the provider implementation: stub, openai, openrouter,
	// anthropic. Unknown values fall back to stub.
	Name   string
	APIKey string
	Model  string
}

type StorageConfig struct {
	// Path is the SQLite database file. Empty selects the in-memory store.
	Path string
}

type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
	ServiceName  string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		Port:         envInt("GATEWAY_PORT", 4280),
		Version:      envStr("GATEWAY_VERSION", "0.1.0"),
		ActivePreset: envStr("AGENT_PRESET", "summarizer"),
		PresetsDir:   envStr("PRESETS_DIR", "presets"),
		CORSOrigins:  splitCSV(envStr("CORS_ORIGINS", "*")),
		AuthToken:    envStr("AUTH_TOKEN", ""),
		Provider: ProviderConfig{
			Name:   strings.ToLower(envStr("PROVIDER", "stub")),
			APIKey: providerAPIKey(),
			Model:  envStr("PROVIDER_MODEL", ""),
		},
		Storage: StorageConfig{
			Path: envStr("DB_PATH", ""),
		},
		Telemetry: TelemetryConfig{
			Enabled:      envBool("OTEL_ENABLED", false),
			OTLPEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			ServiceName:  envStr("OTEL_SERVICE_NAME", "agent-gateway"),
		},
	}
}

// providerAPIKey resolves the key for whichever provider is selected.
func providerAPIKey() string {
	switch strings.ToLower(envStr("PROVIDER", "stub")) {
	case "openai":
		return envStr("OPENAI_API_KEY", "")
	case "openrouter":
		return envStr("OPENROUTER_API_KEY", "")
	case "anthropic":
		return envStr("ANTHROPIC_API_KEY", "")
	}
	return ""
}

func splitCSV(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
