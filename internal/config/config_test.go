package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/example/captcha-relay/internal/config"
)

var relayEnv = []string{
	"PORT", "PROVIDER_BACKEND", "PROVIDER_API_KEY", "GEMINI_API_KEY", "PROVIDER_MODEL", "GEMINI_MODEL",
	"PROVIDER_BASE_URL", "GEMINI_API_URL", "SUBMIT_API_KEY", "QUERY_API_KEY", "STORE_URL",
	"STORE_MAINTENANCE_SCHEDULE", "LOG_LEVEL", "SENTRY_DSN_GO", "OTEL_EXPORTER", "OTEL_ENDPOINT",
	"OTEL_SERVICE_NAME", "TASK_TTL_SECONDS", "PROVIDER_HTTP_TIMEOUT", "MAX_BODY_BYTES", "OTEL_ENABLED", "CONFIG_FILE",
}

// isolate runs the test in an empty directory with every relay variable unset.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	for _, k := range relayEnv {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
	return dir
}

func TestLoadFromEnv(t *testing.T) {
	isolate(t)
	t.Setenv("GEMINI_API_KEY", "g-key")
	t.Setenv("GEMINI_MODEL", "gemini-2.0-flash")
	t.Setenv("SUBMIT_API_KEY", "submit")
	t.Setenv("QUERY_API_KEY", "query")
	t.Setenv("STORE_URL", "memory://")
	t.Setenv("TASK_TTL_SECONDS", "120")
	t.Setenv("PROVIDER_HTTP_TIMEOUT", "10s")
	t.Setenv("OTEL_ENABLED", "true")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if cfg.ProviderAPIKey != "g-key" || cfg.ProviderModel != "gemini-2.0-flash" {
		t.Fatalf("provider settings not loaded: %+v", cfg)
	}
	if cfg.TaskTTL != 120*time.Second {
		t.Fatalf("expected 120s ttl, got %s", cfg.TaskTTL)
	}
	if cfg.ProviderTimeout != 10*time.Second {
		t.Fatalf("expected 10s timeout, got %s", cfg.ProviderTimeout)
	}
	if !cfg.Telemetry.Enabled {
		t.Fatal("expected telemetry enabled")
	}
	if cfg.Addr() != ":8080" {
		t.Fatalf("expected default port, got %s", cfg.Addr())
	}
}

func TestDefaults(t *testing.T) {
	isolate(t)
	cfg, err := config.Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.TaskTTL != config.DefaultTaskTTL {
		t.Fatalf("expected default ttl 300s, got %s", cfg.TaskTTL)
	}
	if cfg.MaxBodyBytes != config.DefaultMaxBody || cfg.LogLevel != "info" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestValidateNamesEveryMissingSetting(t *testing.T) {
	isolate(t)
	t.Setenv("GEMINI_API_KEY", "g-key")
	t.Setenv("STORE_URL", "memory://")

	cfg, err := config.Load()
	if err != nil {
		t.Fatal(err)
	}
	err = cfg.Validate()
	var missing *config.MissingError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingError, got %v", err)
	}
	want := []string{"GEMINI_MODEL", "SUBMIT_API_KEY", "QUERY_API_KEY"}
	if strings.Join(missing.Names, ",") != strings.Join(want, ",") {
		t.Fatalf("expected %v, got %v", want, missing.Names)
	}
	if !strings.Contains(err.Error(), "SUBMIT_API_KEY") {
		t.Fatalf("error text should name the setting: %v", err)
	}
}

func TestYAMLFileWithEnvOverride(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "relay.yaml")
	yml := `port: "9090"
provider_backend: openai
provider_api_key: file-key
provider_model: gpt-4o-mini
submit_api_key: file-submit
query_api_key: file-query
store_url: badger:///var/lib/relay
task_ttl: 5m
telemetry:
  enabled: true
  exporter: stdout
`
	if err := os.WriteFile(path, []byte(yml), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("SUBMIT_API_KEY", "env-submit")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.SubmitAPIKey != "env-submit" {
		t.Fatalf("env should override file, got %q", cfg.SubmitAPIKey)
	}
	if cfg.ProviderBackend != "openai" || cfg.Port != "9090" || cfg.TaskTTL != 5*time.Minute {
		t.Fatalf("file settings not applied: %+v", cfg)
	}
	if cfg.Telemetry.Exporter != "stdout" || !cfg.Telemetry.Enabled {
		t.Fatalf("telemetry block not applied: %+v", cfg.Telemetry)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestDotEnvFile(t *testing.T) {
	dir := isolate(t)
	env := "GEMINI_API_KEY=dot-key\nGEMINI_MODEL=dot-model\n"
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte(env), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		os.Unsetenv("GEMINI_API_KEY")
		os.Unsetenv("GEMINI_MODEL")
	})

	cfg, err := config.Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ProviderAPIKey != "dot-key" || cfg.ProviderModel != "dot-model" {
		t.Fatalf(".env not loaded: %+v", cfg)
	}
}

func TestLoadRejectsBadNumbers(t *testing.T) {
	isolate(t)
	t.Setenv("TASK_TTL_SECONDS", "soon")
	if _, err := config.Load(); err == nil {
		t.Fatal("expected error for non-numeric ttl")
	}
}
