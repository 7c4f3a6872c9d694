package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/example/captcha-relay/internal/otel"
)

const (
	DefaultPort        = "8080"
	DefaultTaskTTL     = 300 * time.Second
	DefaultHTTPTimeout = 45 * time.Second
	DefaultMaxBody     = 10 * 1024 * 1024
)

// Config is built once at startup and passed by value; nothing reads the
// environment after Load returns.
type Config struct {
	Port string `yaml:"port"`

	ProviderBackend string        `yaml:"provider_backend"`
	ProviderAPIKey  string        `yaml:"provider_api_key"`
	ProviderModel   string        `yaml:"provider_model"`
	ProviderBaseURL string        `yaml:"provider_base_url"`
	ProviderTimeout time.Duration `yaml:"provider_timeout"`

	SubmitAPIKey string `yaml:"submit_api_key"`
	QueryAPIKey  string `yaml:"query_api_key"`

	StoreURL                 string        `yaml:"store_url"`
	StoreMaintenanceSchedule string        `yaml:"store_maintenance_schedule"`
	TaskTTL                  time.Duration `yaml:"task_ttl"`

	MaxBodyBytes int64 `yaml:"max_body_bytes"`

	LogLevel  string      `yaml:"log_level"`
	SentryDSN string      `yaml:"sentry_dsn"`
	Telemetry otel.Config `yaml:"telemetry"`
}

// MissingError lists required settings that were not provided.
type MissingError struct {
	Names []string
}

func (e *MissingError) Error() string {
	return "missing required configuration: " + strings.Join(e.Names, ", ")
}

// Load reads .env (if present), then the YAML file named by CONFIG_FILE (if
// set), then applies environment overrides. It does not validate.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	var cfg Config
	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	applyDefaults(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	str := func(dst *string, keys ...string) {
		for _, k := range keys {
			if v := strings.TrimSpace(os.Getenv(k)); v != "" {
				*dst = v
				return
			}
		}
	}
	str(&cfg.Port, "PORT")
	str(&cfg.ProviderBackend, "PROVIDER_BACKEND")
	str(&cfg.ProviderAPIKey, "PROVIDER_API_KEY", "GEMINI_API_KEY")
	str(&cfg.ProviderModel, "PROVIDER_MODEL", "GEMINI_MODEL")
	str(&cfg.ProviderBaseURL, "PROVIDER_BASE_URL", "GEMINI_API_URL")
	str(&cfg.SubmitAPIKey, "SUBMIT_API_KEY")
	str(&cfg.QueryAPIKey, "QUERY_API_KEY")
	str(&cfg.StoreURL, "STORE_URL")
	str(&cfg.StoreMaintenanceSchedule, "STORE_MAINTENANCE_SCHEDULE")
	str(&cfg.LogLevel, "LOG_LEVEL")
	str(&cfg.SentryDSN, "SENTRY_DSN_GO")
	str(&cfg.Telemetry.Exporter, "OTEL_EXPORTER")
	str(&cfg.Telemetry.Endpoint, "OTEL_ENDPOINT")
	str(&cfg.Telemetry.ServiceName, "OTEL_SERVICE_NAME")

	if v := os.Getenv("TASK_TTL_SECONDS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return fmt.Errorf("TASK_TTL_SECONDS: expected a positive integer, got %q", v)
		}
		cfg.TaskTTL = time.Duration(n) * time.Second
	}
	if v := os.Getenv("PROVIDER_HTTP_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("PROVIDER_HTTP_TIMEOUT: %w", err)
		}
		cfg.ProviderTimeout = d
	}
	if v := os.Getenv("MAX_BODY_BYTES"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n <= 0 {
			return fmt.Errorf("MAX_BODY_BYTES: expected a positive integer, got %q", v)
		}
		cfg.MaxBodyBytes = n
	}
	if v := os.Getenv("OTEL_ENABLED"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("OTEL_ENABLED: %w", err)
		}
		cfg.Telemetry.Enabled = b
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Port == "" {
		cfg.Port = DefaultPort
	}
	if cfg.TaskTTL <= 0 {
		cfg.TaskTTL = DefaultTaskTTL
	}
	if cfg.ProviderTimeout <= 0 {
		cfg.ProviderTimeout = DefaultHTTPTimeout
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBody
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
}

// Validate reports every missing required setting by its environment name.
func (c Config) Validate() error {
	var missing []string
	check := func(v, name string) {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, name)
		}
	}
	check(c.ProviderAPIKey, "GEMINI_API_KEY")
	check(c.ProviderModel, "GEMINI_MODEL")
	check(c.SubmitAPIKey, "SUBMIT_API_KEY")
	check(c.QueryAPIKey, "QUERY_API_KEY")
	check(c.StoreURL, "STORE_URL")
	if len(missing) > 0 {
		return &MissingError{Names: missing}
	}
	return nil
}

// Addr is the listen address.
func (c Config) Addr() string { return ":" + c.Port }
