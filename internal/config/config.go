/*
Package config loads runtime settings from an optional YAML file, then applies
environment overrides (a local .env file is picked up automatically).
*/
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"gopkg.in/yaml.v3"
)

// Config is the root of all runtime settings.
type Config struct {
	Port   int    `yaml:"port"`
	AppEnv string `yaml:"app_env"`

	Gemini  GeminiConfig  `yaml:"gemini"`
	Session SessionConfig `yaml:"session"`
	Log     LogConfig     `yaml:"log"`

	// RateLimit is the number of AI-backed requests allowed per second per client IP.
	RateLimit float64 `yaml:"rate_limit"`

	// TrustedProxies lists the CIDRs whose X-Forwarded-For is believed.
	// Empty means the TCP peer address is the client IP.
	TrustedProxies []string `yaml:"trusted_proxies"`
}

type GeminiConfig struct {
	APIKey         string        `yaml:"api_key"`
	Model          string        `yaml:"model"`
	ImageModel     string        `yaml:"image_model"`
	BaseURL        string        `yaml:"base_url"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	MaxRetries     int           `yaml:"max_retries"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
}

type SessionConfig struct {
	Secret     string        `yaml:"secret"`
	MaxEntries int           `yaml:"max_entries"`
	IdleTTL    time.Duration `yaml:"idle_ttl"`
	SweepSpec  string        `yaml:"sweep_spec"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// IsProduction reports whether cookies should be marked Secure.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// Path returns the config file location from TASTE_CONFIG or the default.
func Path() string {
	if p := os.Getenv("TASTE_CONFIG"); p != "" {
		return p
	}
	return "./config.yaml"
}

// Load reads the YAML file at path if it exists, fills defaults, applies
// environment overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config yaml: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
		// env-only configuration
	default:
		return nil, fmt.Errorf("read config file: %w", err)
	}

	applyDefaults(cfg)
	if err := applyEnvironmentOverrides(cfg); err != nil {
		return nil, err
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.AppEnv == "" {
		cfg.AppEnv = "development"
	}
	if cfg.Gemini.Model == "" {
		cfg.Gemini.Model = "gemini-2.5-flash"
	}
	if cfg.Gemini.ImageModel == "" {
		cfg.Gemini.ImageModel = "imagen-4.0-generate-001"
	}
	if cfg.Gemini.BaseURL == "" {
		cfg.Gemini.BaseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	if cfg.Gemini.RequestTimeout == 0 {
		cfg.Gemini.RequestTimeout = 30 * time.Second
	}
	if cfg.Gemini.MaxRetries == 0 {
		cfg.Gemini.MaxRetries = 3
	}
	if cfg.Gemini.InitialBackoff == 0 {
		cfg.Gemini.InitialBackoff = time.Second
	}
	if cfg.Session.MaxEntries == 0 {
		cfg.Session.MaxEntries = 10000
	}
	if cfg.Session.IdleTTL == 0 {
		cfg.Session.IdleTTL = 24 * time.Hour
	}
	if cfg.Session.SweepSpec == "" {
		cfg.Session.SweepSpec = "@every 10m"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = 1
	}
}

func applyEnvironmentOverrides(cfg *Config) error {
	if v := os.Getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil || port <= 0 {
			return fmt.Errorf("invalid PORT %q", v)
		}
		cfg.Port = port
	}
	if v := os.Getenv("APP_ENV"); v != "" {
		cfg.AppEnv = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		cfg.Gemini.APIKey = v
	}
	if v := os.Getenv("GEMINI_MODEL"); v != "" {
		cfg.Gemini.Model = v
	}
	if v := os.Getenv("GEMINI_IMAGE_MODEL"); v != "" {
		cfg.Gemini.ImageModel = v
	}
	if v := os.Getenv("GEMINI_BASE_URL"); v != "" {
		cfg.Gemini.BaseURL = v
	}
	if v := os.Getenv("SESSION_SECRET"); v != "" {
		cfg.Session.Secret = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("TRUSTED_PROXIES"); v != "" {
		cfg.TrustedProxies = nil
		for _, cidr := range strings.Split(v, ",") {
			if cidr = strings.TrimSpace(cidr); cidr != "" {
				cfg.TrustedProxies = append(cfg.TrustedProxies, cidr)
			}
		}
	}
	return nil
}

func validate(cfg *Config) error {
	if cfg.Gemini.APIKey == "" {
		return errors.New("gemini api_key is required (GEMINI_API_KEY)")
	}
	if cfg.Session.Secret == "" {
		return errors.New("session secret is required (SESSION_SECRET)")
	}
	if len(cfg.Session.Secret) < 32 {
		return errors.New("session secret must be at least 32 bytes")
	}
	if cfg.Gemini.MaxRetries < 1 {
		return errors.New("gemini max_retries must be at least 1")
	}
	if cfg.RateLimit < 0 {
		return errors.New("rate_limit must not be negative")
	}
	for _, cidr := range cfg.TrustedProxies {
		if _, _, err := net.ParseCIDR(cidr); err != nil {
			return fmt.Errorf("trusted_proxies: %w", err)
		}
	}
	return nil
}
