package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadFullConfig(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "conduit.yaml", `
version: 1
llm:
  default_provider: anthropic
  providers:
    anthropic:
      api_key: sk-ant-test
      default_model: claude-sonnet-4-20250514
      max_retries: 5
      retry_delay: 2s
    openai:
      api_key: sk-test
      base_url: https://proxy.internal/v1
stream:
  redaction_sentinel: "[redacted]"
  cache_user_turns: 3
logging:
  level: debug
  format: text
observability:
  tracing:
    enabled: true
    endpoint: localhost:4317
    sampling_rate: 0.25
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.LLM.DefaultProvider != "anthropic" {
		t.Errorf("default_provider = %q", cfg.LLM.DefaultProvider)
	}
	anthropic := cfg.LLM.Providers["anthropic"]
	if anthropic.APIKey != "sk-ant-test" || anthropic.MaxRetries != 5 || anthropic.RetryDelay != 2*time.Second {
		t.Errorf("anthropic provider = %+v", anthropic)
	}
	if cfg.LLM.Providers["openai"].BaseURL != "https://proxy.internal/v1" {
		t.Errorf("openai base_url = %q", cfg.LLM.Providers["openai"].BaseURL)
	}
	if cfg.Stream.RedactionSentinel != "[redacted]" || cfg.Stream.CacheUserTurns != 3 {
		t.Errorf("stream = %+v", cfg.Stream)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "text" {
		t.Errorf("logging = %+v", cfg.Logging)
	}
	if !cfg.Observability.Tracing.Enabled || cfg.Observability.Tracing.SamplingRate != 0.25 {
		t.Errorf("tracing = %+v", cfg.Observability.Tracing)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "conduit.yaml", `
version: 1
llm:
  providers:
    anthropic:
      api_key: sk-ant-test
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.LLM.DefaultProvider != "anthropic" {
		t.Errorf("default_provider = %q, want anthropic", cfg.LLM.DefaultProvider)
	}
	if cfg.Stream.CacheUserTurns != 2 {
		t.Errorf("cache_user_turns = %d, want 2", cfg.Stream.CacheUserTurns)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Errorf("logging defaults = %+v", cfg.Logging)
	}
	if cfg.Observability.Tracing.ServiceName != "conduit" {
		t.Errorf("service_name = %q", cfg.Observability.Tracing.ServiceName)
	}
	if cfg.Observability.Tracing.SamplingRate != 1.0 {
		t.Errorf("sampling_rate = %v, want 1.0", cfg.Observability.Tracing.SamplingRate)
	}
	if cfg.Observability.Events.MaxEvents != 10000 {
		t.Errorf("max_events = %d, want 10000", cfg.Observability.Events.MaxEvents)
	}
}

func TestLoadExpandsEnvironment(t *testing.T) {
	t.Setenv("CONDUIT_TEST_KEY", "sk-ant-from-env")

	dir := t.TempDir()
	path := writeFile(t, dir, "conduit.yaml", `
version: 1
llm:
  providers:
    anthropic:
      api_key: ${CONDUIT_TEST_KEY}
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got := cfg.LLM.Providers["anthropic"].APIKey; got != "sk-ant-from-env" {
		t.Errorf("api_key = %q, want env value", got)
	}
}

func TestLoadResolvesIncludes(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "providers.yaml", `
llm:
  providers:
    anthropic:
      api_key: sk-ant-test
    google:
      api_key: AIza-test
`)
	path := writeFile(t, dir, "conduit.yaml", `
$include: providers.yaml
version: 1
llm:
  default_provider: google
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.LLM.DefaultProvider != "google" {
		t.Errorf("default_provider = %q", cfg.LLM.DefaultProvider)
	}
	if len(cfg.LLM.Providers) != 2 {
		t.Errorf("providers = %d, want 2 from include", len(cfg.LLM.Providers))
	}
}

func TestLoadIncludeCycle(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", "$include: b.yaml\n")
	writeFile(t, dir, "b.yaml", "$include: a.yaml\n")

	_, err := Load(filepath.Join(dir, "a.yaml"))
	if err == nil || !strings.Contains(err.Error(), "cycle") {
		t.Errorf("Load() error = %v, want include cycle", err)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "conduit.yaml", `
version: 1
llm:
  providers:
    anthropic:
      api_key: sk-ant-test
sessions:
  persist: true
`)

	if _, err := Load(path); err == nil {
		t.Error("Load() should reject unknown top-level fields")
	}
}

func TestLoadJSON5(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "conduit.json5", `{
  // comments are allowed in json5 configs
  version: 1,
  llm: {
    providers: {
      openai: { api_key: "sk-test" },
    },
    default_provider: "openai",
  },
}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.LLM.Providers["openai"].APIKey != "sk-test" {
		t.Errorf("openai api_key = %q", cfg.LLM.Providers["openai"].APIKey)
	}
}

func TestLoadMissingVersion(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "conduit.yaml", `
llm:
  providers:
    anthropic:
      api_key: sk-ant-test
`)

	_, err := Load(path)
	var verr *VersionError
	if err == nil {
		t.Fatal("Load() should fail without a version")
	}
	if !errors.As(err, &verr) {
		t.Errorf("Load() error = %T, want *VersionError", err)
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			LLM: LLMConfig{
				DefaultProvider: "anthropic",
				Providers: map[string]LLMProviderConfig{
					"anthropic": {APIKey: "sk-ant-test"},
				},
			},
			Observability: ObservabilityConfig{
				Tracing: TracingConfig{SamplingRate: 1.0},
			},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid",
			mutate: func(c *Config) {},
		},
		{
			name:    "no providers",
			mutate:  func(c *Config) { c.LLM.Providers = nil },
			wantErr: "at least one provider",
		},
		{
			name: "default provider not configured",
			mutate: func(c *Config) {
				c.LLM.DefaultProvider = "openai"
			},
			wantErr: "not configured",
		},
		{
			name: "unknown provider",
			mutate: func(c *Config) {
				c.LLM.Providers["azure"] = LLMProviderConfig{APIKey: "k"}
			},
			wantErr: "unknown provider",
		},
		{
			name: "missing api key",
			mutate: func(c *Config) {
				c.LLM.Providers["anthropic"] = LLMProviderConfig{}
			},
			wantErr: "api_key is required",
		},
		{
			name: "bedrock missing region",
			mutate: func(c *Config) {
				c.LLM.Providers["bedrock"] = LLMProviderConfig{}
			},
			wantErr: "region is required",
		},
		{
			name: "sampling rate out of range",
			mutate: func(c *Config) {
				c.Observability.Tracing.SamplingRate = 1.5
			},
			wantErr: "sampling_rate",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestJSONSchema(t *testing.T) {
	data, err := JSONSchema()
	if err != nil {
		t.Fatalf("JSONSchema() error = %v", err)
	}
	schema := string(data)
	for _, field := range []string{"default_provider", "redaction_sentinel", "sampling_rate"} {
		if !strings.Contains(schema, field) {
			t.Errorf("schema missing field %q", field)
		}
	}
}
