package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Environment variables read by FromEnv.
const (
	EnvEngineURL      = "CARWASH_ENGINE_URL"
	EnvEngineCmd      = "CARWASH_ENGINE_CMD"
	EnvRunsDir        = "CARWASH_RUNS_DIR"
	EnvLogFile        = "CARWASH_LOG_FILE"
	EnvLogLevel       = "CARWASH_LOG_LEVEL"
	EnvLogFormat      = "CARWASH_LOG_FORMAT"
	EnvRequestTimeout = "CARWASH_REQUEST_TIMEOUT"
	EnvHealthTimeout  = "CARWASH_HEALTH_TIMEOUT"
)

type Config struct {
	// EngineURL is the base URL of the simulation engine.
	EngineURL string
	// EngineCmd, when set, is launched and supervised for the session.
	EngineCmd string
	RunsDir   string
	LogFile   string
	LogLevel  string
	LogFormat string
	// RequestTimeout bounds a single run request. Zero disables it.
	RequestTimeout time.Duration
	HealthTimeout  time.Duration
}

func Default() Config {
	return Config{
		EngineURL:      "http://127.0.0.1:5000",
		RunsDir:        "runs",
		LogFile:        "carwash-tui.log",
		LogLevel:       "info",
		LogFormat:      "text",
		RequestTimeout: 2 * time.Minute,
		HealthTimeout:  15 * time.Second,
	}
}

// LoadEnvFile loads KEY=VALUE pairs from path into the process environment
// without overriding variables that are already set. A missing file is not an
// error.
func LoadEnvFile(path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file %q: %w", path, err)
	}
	return nil
}

// FromEnv overlays the environment on top of base.
func FromEnv(base Config, getenv func(string) string) (Config, error) {
	cfg := base
	if v := strings.TrimSpace(getenv(EnvEngineURL)); v != "" {
		cfg.EngineURL = v
	}
	if v := strings.TrimSpace(getenv(EnvEngineCmd)); v != "" {
		cfg.EngineCmd = v
	}
	if v := strings.TrimSpace(getenv(EnvRunsDir)); v != "" {
		cfg.RunsDir = v
	}
	if v := strings.TrimSpace(getenv(EnvLogFile)); v != "" {
		cfg.LogFile = v
	}
	if v := strings.TrimSpace(getenv(EnvLogLevel)); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}
	if v := strings.TrimSpace(getenv(EnvLogFormat)); v != "" {
		cfg.LogFormat = strings.ToLower(v)
	}
	if v := strings.TrimSpace(getenv(EnvRequestTimeout)); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("%s: %w", EnvRequestTimeout, err)
		}
		cfg.RequestTimeout = d
	}
	if v := strings.TrimSpace(getenv(EnvHealthTimeout)); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("%s: %w", EnvHealthTimeout, err)
		}
		cfg.HealthTimeout = d
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	u, err := url.Parse(strings.TrimSpace(c.EngineURL))
	if err != nil {
		return fmt.Errorf("invalid engine url %q: %w", c.EngineURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid engine url %q: scheme must be http or https", c.EngineURL)
	}
	if u.Host == "" {
		return fmt.Errorf("invalid engine url %q: missing host", c.EngineURL)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level %q: must be 'debug', 'info', 'warn', or 'error'", c.LogLevel)
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("invalid log format %q: must be 'text' or 'json'", c.LogFormat)
	}
	if c.RequestTimeout < 0 {
		return fmt.Errorf("request timeout must not be negative")
	}
	if c.HealthTimeout < 0 {
		return fmt.Errorf("health timeout must not be negative")
	}
	if strings.TrimSpace(c.RunsDir) == "" {
		return fmt.Errorf("runs dir is required")
	}
	return nil
}

// EngineCommand splits EngineCmd into an argv.
func (c Config) EngineCommand() []string {
	return strings.Fields(c.EngineCmd)
}
