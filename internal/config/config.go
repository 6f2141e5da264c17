package config

import (
	"fmt"
	"time"
)

// Config is the root configuration for the conversation layer.
type Config struct {
	Version       int                 `yaml:"version" json:"version"`
	LLM           LLMConfig           `yaml:"llm" json:"llm"`
	Stream        StreamConfig        `yaml:"stream" json:"stream"`
	History       HistoryConfig       `yaml:"history" json:"history"`
	Logging       LoggingConfig       `yaml:"logging" json:"logging"`
	Observability ObservabilityConfig `yaml:"observability" json:"observability"`
}

// LLMConfig selects the default backend and configures each provider.
type LLMConfig struct {
	DefaultProvider string                       `yaml:"default_provider" json:"default_provider"`
	Providers       map[string]LLMProviderConfig `yaml:"providers" json:"providers"`
}

// LLMProviderConfig holds per-backend credentials and tuning. Which fields
// apply depends on the provider: api_key for anthropic/openai/google,
// region plus the credential triple for bedrock.
type LLMProviderConfig struct {
	APIKey       string `yaml:"api_key" json:"api_key"`
	DefaultModel string `yaml:"default_model" json:"default_model"`
	BaseURL      string `yaml:"base_url" json:"base_url"`

	Region          string `yaml:"region" json:"region"`
	AccessKeyID     string `yaml:"access_key_id" json:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key" json:"secret_access_key"`
	SessionToken    string `yaml:"session_token" json:"session_token"`

	MaxRetries int           `yaml:"max_retries" json:"max_retries"`
	RetryDelay time.Duration `yaml:"retry_delay" json:"retry_delay"`
}

// StreamConfig tunes behavior shared by every backend adapter.
type StreamConfig struct {
	// RedactionSentinel replaces reasoning text that the backend withholds.
	RedactionSentinel string `yaml:"redaction_sentinel" json:"redaction_sentinel"`

	// CacheUserTurns is how many trailing user-side entries receive prompt
	// cache markers on backends that support them.
	CacheUserTurns int `yaml:"cache_user_turns" json:"cache_user_turns"`
}

// HistoryConfig tunes the legacy transcript importer.
type HistoryConfig struct {
	// StrictImport rejects files with malformed entries instead of
	// skipping them.
	StrictImport bool `yaml:"strict_import" json:"strict_import"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// ObservabilityConfig configures metrics, tracing, and the event timeline.
type ObservabilityConfig struct {
	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`
	Tracing TracingConfig `yaml:"tracing" json:"tracing"`
	Events  EventsConfig  `yaml:"events" json:"events"`
}

type MetricsConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
}

type TracingConfig struct {
	Enabled        bool              `yaml:"enabled" json:"enabled"`
	Endpoint       string            `yaml:"endpoint" json:"endpoint"`
	ServiceName    string            `yaml:"service_name" json:"service_name"`
	ServiceVersion string            `yaml:"service_version" json:"service_version"`
	Environment    string            `yaml:"environment" json:"environment"`
	SamplingRate   float64           `yaml:"sampling_rate" json:"sampling_rate"`
	Insecure       bool              `yaml:"insecure" json:"insecure"`
	Attributes     map[string]string `yaml:"attributes" json:"attributes"`
}

type EventsConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
	// MaxEvents bounds the in-memory timeline store.
	MaxEvents int `yaml:"max_events" json:"max_events"`
}

// Load reads, merges, and validates the configuration file at path.
// Includes are resolved and environment variables expanded before decoding.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	version := 0
	if v, ok := raw["version"]; ok {
		switch typed := v.(type) {
		case int:
			version = typed
		case float64:
			version = int(typed)
		}
	}
	if err := ValidateVersion(version); err != nil {
		return nil, err
	}

	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}

	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.LLM.DefaultProvider == "" {
		cfg.LLM.DefaultProvider = "anthropic"
	}
	if cfg.Stream.CacheUserTurns == 0 {
		cfg.Stream.CacheUserTurns = 2
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Observability.Tracing.ServiceName == "" {
		cfg.Observability.Tracing.ServiceName = "conduit"
	}
	if cfg.Observability.Tracing.SamplingRate == 0 {
		cfg.Observability.Tracing.SamplingRate = 1.0
	}
	if cfg.Observability.Events.MaxEvents == 0 {
		cfg.Observability.Events.MaxEvents = 10000
	}
}

// Validate checks cross-field constraints that the decoder cannot express.
func (c *Config) Validate() error {
	if len(c.LLM.Providers) == 0 {
		return fmt.Errorf("llm.providers must configure at least one provider")
	}
	if _, ok := c.LLM.Providers[c.LLM.DefaultProvider]; !ok {
		return fmt.Errorf("llm.default_provider %q is not configured under llm.providers", c.LLM.DefaultProvider)
	}
	for name, p := range c.LLM.Providers {
		switch name {
		case "anthropic", "openai", "google":
			if p.APIKey == "" {
				return fmt.Errorf("llm.providers.%s.api_key is required", name)
			}
		case "bedrock":
			if p.Region == "" {
				return fmt.Errorf("llm.providers.bedrock.region is required")
			}
		default:
			return fmt.Errorf("unknown provider %q (supported: anthropic, openai, google, bedrock)", name)
		}
	}
	if rate := c.Observability.Tracing.SamplingRate; rate < 0 || rate > 1 {
		return fmt.Errorf("observability.tracing.sampling_rate must be between 0 and 1, got %v", rate)
	}
	return nil
}
