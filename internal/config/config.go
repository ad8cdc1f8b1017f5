// ABOUTME: Configuration loading and parsing for courier
// ABOUTME: Supports YAML or TOML files with env var expansion, env overrides and duration parsing

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// MinSecretLength is the minimum accepted length of auth.jwt_secret.
const MinSecretLength = 32

// Config represents the complete courier configuration
type Config struct {
	Server   ServerConfig   `yaml:"server" toml:"server"`
	Line     LineConfig     `yaml:"line" toml:"line"`
	Storage  StorageConfig  `yaml:"storage" toml:"storage"`
	Delivery DeliveryConfig `yaml:"delivery" toml:"delivery"`
	Bot      BotConfig      `yaml:"bot" toml:"bot"`
	Auth     AuthConfig     `yaml:"auth" toml:"auth"`
	Logging  LoggingConfig  `yaml:"logging" toml:"logging"`
}

// ServerConfig holds the HTTP listener configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr" env:"COURIER_HTTP_ADDR"`
}

// LineConfig holds LINE Messaging API credentials and client limits
type LineConfig struct {
	ChannelSecret      string  `yaml:"channel_secret" toml:"channel_secret" env:"CHANNEL_SECRET"`
	ChannelAccessToken string  `yaml:"channel_access_token" toml:"channel_access_token" env:"CHANNEL_ACCESS_TOKEN"`
	APIBaseURL         string  `yaml:"api_base_url" toml:"api_base_url"`
	PushRate           float64 `yaml:"push_rate" toml:"push_rate"`   // requests per second
	PushBurst          int     `yaml:"push_burst" toml:"push_burst"` // limiter burst size
}

// StorageConfig holds the flat-file and ledger locations
type StorageConfig struct {
	DirectoryFile    string `yaml:"directory_file" toml:"directory_file"`
	AnnouncementFile string `yaml:"announcement_file" toml:"announcement_file"`
	HistoryDir       string `yaml:"history_dir" toml:"history_dir"`
	LedgerPath       string `yaml:"ledger_path" toml:"ledger_path"`
}

// DeliveryConfig holds announcement delivery loop timing
type DeliveryConfig struct {
	Interval     time.Duration `yaml:"-" toml:"-"`
	ErrorBackoff time.Duration `yaml:"-" toml:"-"`

	// Raw string values for unmarshaling
	IntervalRaw     string `yaml:"interval" toml:"interval"`
	ErrorBackoffRaw string `yaml:"error_backoff" toml:"error_backoff"`
}

// BotConfig holds conversational behavior settings
type BotConfig struct {
	IntroURL         string        `yaml:"intro_url" toml:"intro_url"`
	DedupeTTL        time.Duration `yaml:"-" toml:"-"`
	DedupeTTLRaw     string        `yaml:"dedupe_ttl" toml:"dedupe_ttl"`
	DedupeMaxEntries int           `yaml:"dedupe_max_entries" toml:"dedupe_max_entries"`
}

// AuthConfig holds admin API authentication configuration.
// An empty JWTSecret disables the admin API.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" toml:"jwt_secret" env:"COURIER_JWT_SECRET"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded, then the
// variables named in env struct tags override the file values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	return Parse(path, expandEnvVars(string(data)))
}

// Parse decodes already-expanded config content. The name is only used to pick
// the format by extension.
func Parse(name, content string) (*Config, error) {
	var cfg Config
	if strings.EqualFold(filepath.Ext(name), ".toml") {
		if _, err := toml.Decode(content, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(content), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyDefaults fills every optional field left empty by the file.
func (c *Config) applyDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = "0.0.0.0:5001"
	}
	if c.Line.APIBaseURL == "" {
		c.Line.APIBaseURL = "https://api.line.me"
	}
	if c.Line.PushRate == 0 {
		c.Line.PushRate = 20
	}
	if c.Line.PushBurst == 0 {
		c.Line.PushBurst = 20
	}
	if c.Storage.DirectoryFile == "" {
		c.Storage.DirectoryFile = "user_data.json"
	}
	if c.Storage.AnnouncementFile == "" {
		c.Storage.AnnouncementFile = "announcement.json"
	}
	if c.Storage.HistoryDir == "" {
		c.Storage.HistoryDir = "announcement_history"
	}
	if c.Storage.LedgerPath == "" {
		c.Storage.LedgerPath = "courier.db"
	}
	if c.Delivery.Interval == 0 {
		c.Delivery.Interval = 5 * time.Second
	}
	if c.Delivery.ErrorBackoff == 0 {
		c.Delivery.ErrorBackoff = 10 * time.Second
	}
	if c.Bot.DedupeTTL == 0 {
		c.Bot.DedupeTTL = 5 * time.Minute
	}
	if c.Bot.DedupeMaxEntries == 0 {
		c.Bot.DedupeMaxEntries = 100_000
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Line.ChannelSecret == "" {
		return fmt.Errorf("line.channel_secret is required (or set CHANNEL_SECRET)")
	}
	if c.Line.ChannelAccessToken == "" {
		return fmt.Errorf("line.channel_access_token is required (or set CHANNEL_ACCESS_TOKEN)")
	}
	if !strings.HasPrefix(c.Line.APIBaseURL, "http://") && !strings.HasPrefix(c.Line.APIBaseURL, "https://") {
		return fmt.Errorf("line.api_base_url must use http or https scheme")
	}
	if c.Line.PushRate < 0 || c.Line.PushBurst < 0 {
		return fmt.Errorf("line.push_rate and line.push_burst must not be negative")
	}
	if c.Delivery.Interval < 0 || c.Delivery.ErrorBackoff < 0 {
		return fmt.Errorf("delivery durations must be positive")
	}
	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < MinSecretLength {
		return fmt.Errorf("auth.jwt_secret must be at least %d bytes", MinSecretLength)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Delivery.IntervalRaw != "" {
		cfg.Delivery.Interval, err = time.ParseDuration(cfg.Delivery.IntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing interval %q: %w", cfg.Delivery.IntervalRaw, err)
		}
	}

	if cfg.Delivery.ErrorBackoffRaw != "" {
		cfg.Delivery.ErrorBackoff, err = time.ParseDuration(cfg.Delivery.ErrorBackoffRaw)
		if err != nil {
			return fmt.Errorf("parsing error_backoff %q: %w", cfg.Delivery.ErrorBackoffRaw, err)
		}
	}

	if cfg.Bot.DedupeTTLRaw != "" {
		cfg.Bot.DedupeTTL, err = time.ParseDuration(cfg.Bot.DedupeTTLRaw)
		if err != nil {
			return fmt.Errorf("parsing dedupe_ttl %q: %w", cfg.Bot.DedupeTTLRaw, err)
		}
	}

	return nil
}
