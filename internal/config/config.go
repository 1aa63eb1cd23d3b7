// Package config loads ciencia configuration from an optional YAML file, the
// environment and built-in defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config represents the full configuration of the API server and the CLI.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Store     StoreConfig     `mapstructure:"store"`
	Gemini    GeminiConfig    `mapstructure:"gemini"`
	Execution ExecutionConfig `mapstructure:"execution"`
	Structure StructureConfig `mapstructure:"structure"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Client    ClientConfig    `mapstructure:"client"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type StoreConfig struct {
	Driver      string `mapstructure:"driver"`
	DatabaseURL string `mapstructure:"database_url"`
	SQLitePath  string `mapstructure:"sqlite_path"`
}

type GeminiConfig struct {
	APIKey       string       `mapstructure:"api_key"`
	HistoryLimit int          `mapstructure:"history_limit"`
	GenerateTier string       `mapstructure:"generate_tier"`
	Models       ModelsConfig `mapstructure:"models"`
}

// ModelsConfig overrides the model used per tier. Empty keeps the built-in default.
type ModelsConfig struct {
	Lite     string `mapstructure:"lite"`
	Standard string `mapstructure:"standard"`
	Advanced string `mapstructure:"advanced"`
}

type ExecutionConfig struct {
	BaseDir string `mapstructure:"base_dir"`
	Binary  string `mapstructure:"binary"`
}

type StructureConfig struct {
	UniProtURL   string        `mapstructure:"uniprot_url"`
	AlphaFoldURL string        `mapstructure:"alphafold_url"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

// JWTConfig holds configuration for JWT token generation and validation.
// An empty Secret disables authentication on the API.
type JWTConfig struct {
	Secret          string `mapstructure:"secret"`
	ExpirationHours int    `mapstructure:"expiration_hours"`
}

type RateLimitConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	DefaultLimit    int           `mapstructure:"default_limit"`
	DefaultWindow   time.Duration `mapstructure:"default_window"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
	Whitelist       []string      `mapstructure:"whitelist"`
	Blacklist       []string      `mapstructure:"blacklist"`
}

// ClientConfig is used by the workspace CLI to reach a running API server.
type ClientConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Token   string        `mapstructure:"token"`
	Timeout time.Duration `mapstructure:"timeout"`
}

var defaults = map[string]any{
	"server.port":                 8080,
	"server.shutdown_timeout":     30 * time.Second,
	"store.driver":                DriverMemory,
	"store.database_url":          "",
	"store.sqlite_path":           "ciencia.db",
	"gemini.api_key":              "",
	"gemini.history_limit":        10,
	"gemini.generate_tier":        "standard",
	"gemini.models.lite":          "",
	"gemini.models.standard":      "",
	"gemini.models.advanced":      "",
	"execution.base_dir":          "runs",
	"execution.binary":            "nextflow",
	"structure.uniprot_url":       "https://rest.uniprot.org",
	"structure.alphafold_url":     "https://alphafold.ebi.ac.uk",
	"structure.timeout":           30 * time.Second,
	"jwt.secret":                  "",
	"jwt.expiration_hours":        24,
	"rate_limit.enabled":          true,
	"rate_limit.default_limit":    1000,
	"rate_limit.default_window":   time.Minute,
	"rate_limit.cleanup_interval": 5 * time.Minute,
	"rate_limit.whitelist":        []string{},
	"rate_limit.blacklist":        []string{},
	"client.base_url":             "http://localhost:8080",
	"client.token":                "",
	"client.timeout":              5 * time.Minute,
}

// Well-known variables shared with other tooling, read in addition to CIENCIA_*.
var aliases = map[string]string{
	"store.database_url":          "DATABASE_URL",
	"gemini.api_key":              "GEMINI_API_KEY",
	"jwt.secret":                  "JWT_SECRET",
	"jwt.expiration_hours":        "JWT_EXPIRATION_HOURS",
	"rate_limit.enabled":          "RATE_LIMIT_ENABLED",
	"rate_limit.default_limit":    "RATE_LIMIT_DEFAULT_LIMIT",
	"rate_limit.default_window":   "RATE_LIMIT_DEFAULT_WINDOW",
	"rate_limit.cleanup_interval": "RATE_LIMIT_CLEANUP_INTERVAL",
	"rate_limit.whitelist":        "RATE_LIMIT_WHITELIST",
	"rate_limit.blacklist":        "RATE_LIMIT_BLACKLIST",
}

// EnvPrefix prefixes every environment override, e.g. CIENCIA_SERVER_PORT.
const EnvPrefix = "CIENCIA"

// Load reads configuration. When path is empty, ciencia.yaml is looked up in
// the working directory and ./config; a missing file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("ciencia")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range aliases {
		prefixed := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.Structure.UniProtURL = strings.TrimRight(cfg.Structure.UniProtURL, "/")
	cfg.Structure.AlphaFoldURL = strings.TrimRight(cfg.Structure.AlphaFoldURL, "/")
	cfg.Client.BaseURL = strings.TrimRight(cfg.Client.BaseURL, "/")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that the configuration has valid values.
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config error: 'server.port' out of range: %d", c.Server.Port)
	}

	switch c.Store.Driver {
	case DriverMemory:
	case DriverPostgres:
		if c.Store.DatabaseURL == "" {
			return fmt.Errorf("config error: store driver %q requires DATABASE_URL", c.Store.Driver)
		}
	case DriverSQLite:
		if c.Store.SQLitePath == "" {
			return fmt.Errorf("config error: store driver %q requires 'store.sqlite_path'", c.Store.Driver)
		}
	default:
		return fmt.Errorf("config error: unknown store driver %q", c.Store.Driver)
	}

	if c.Gemini.HistoryLimit < 0 {
		return fmt.Errorf("config error: 'gemini.history_limit' must be non-negative")
	}
	if c.JWT.Secret != "" && c.JWT.ExpirationHours < 1 {
		return fmt.Errorf("config error: JWT_EXPIRATION_HOURS must be at least 1 hour, got: %d", c.JWT.ExpirationHours)
	}
	if c.RateLimit.Enabled && (c.RateLimit.DefaultLimit < 1 || c.RateLimit.DefaultWindow <= 0) {
		return fmt.Errorf("config error: rate limit needs a positive limit and window")
	}
	return nil
}

// AuthEnabled reports whether API requests must carry a bearer token.
func (c *Config) AuthEnabled() bool {
	return c.JWT.Secret != ""
}
