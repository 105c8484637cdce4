package config

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
	"gopkg.in/yaml.v3"
)

const (
	DefaultConfigDir    = ".rsspinger"
	DefaultConfigFile   = "config.yaml"
	DefaultStoragePath  = ".rsspinger/rsspinger.db"
	DefaultRetainDays   = 30
	DefaultInterval     = 60 * time.Second
	DefaultFeedTimeout  = 20 * time.Second
	DefaultFeedMaxBytes = 10 << 20
	DefaultTokenEnv     = "TELEGRAM_TOKEN"
	DefaultLogLevel     = "info"
	DefaultLogFormat    = "console"
)

// Duration wraps time.Duration for YAML unmarshaling from strings like "90s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

type Config struct {
	Feed     FeedConfig     `yaml:"feed"`
	Telegram TelegramConfig `yaml:"telegram"`
	Watch    WatchConfig    `yaml:"watch"`
	Storage  StorageConfig  `yaml:"storage"`
	Message  MessageConfig  `yaml:"message"`
	Log      LogConfig      `yaml:"log"`
}

type FeedConfig struct {
	URL      string   `yaml:"url"`
	Timeout  Duration `yaml:"timeout"`
	MaxBytes int64    `yaml:"max_bytes"`
}

type TelegramConfig struct {
	TokenEnv     string  `yaml:"token_env"`
	ChatID       int64   `yaml:"chat_id"`
	AllowedChats []int64 `yaml:"allowed_chats"`
	APIEndpoint  string  `yaml:"api_endpoint"`

	// Resolved from env var at load time.
	Token string `yaml:"-"`
}

type WatchConfig struct {
	Interval    Duration `yaml:"interval"`
	SkipBacklog bool     `yaml:"skip_backlog"`
}

type StorageConfig struct {
	Path       string `yaml:"path"`
	RetainDays int    `yaml:"retain_days"`
	Disabled   bool   `yaml:"disabled"`
}

type MessageConfig struct {
	Redact []string `yaml:"redact"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// envOverlay holds the deployment variables that override config.yaml.
type envOverlay struct {
	FeedURL      string `env:"RSS_URL"`
	Token        string `env:"TELEGRAM_TOKEN"`
	ChatID       int64  `env:"CHAT_ID"`
	CheckTimeout int64  `env:"CHECK_TIMEOUT"` // seconds between checks
	LogLevel     string `env:"LOG_LEVEL"`
}

// Load reads config.yaml from dir, overlays environment variables, applies defaults and validates.
// A missing config.yaml is not an error.
func Load(dir string) (*Config, error) {
	return LoadWith(context.Background(), dir, envconfig.OsLookuper())
}

// LoadWith is Load with an explicit environment source.
func LoadWith(ctx context.Context, dir string, env envconfig.Lookuper) (*Config, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("config dir is required")
	}

	var cfg Config
	path := filepath.Join(dir, DefaultConfigFile)
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	var overlay envOverlay
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{Target: &overlay, Lookuper: env}); err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}

	applyDefaults(&cfg)
	applyOverlay(&cfg, overlay)
	resolveEnv(&cfg, env)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Feed.Timeout.Duration == 0 {
		cfg.Feed.Timeout.Duration = DefaultFeedTimeout
	}
	if cfg.Feed.MaxBytes == 0 {
		cfg.Feed.MaxBytes = DefaultFeedMaxBytes
	}
	if cfg.Telegram.TokenEnv == "" {
		cfg.Telegram.TokenEnv = DefaultTokenEnv
	}
	if cfg.Watch.Interval.Duration == 0 {
		cfg.Watch.Interval.Duration = DefaultInterval
	}
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = DefaultStoragePath
	}
	if cfg.Storage.RetainDays == 0 {
		cfg.Storage.RetainDays = DefaultRetainDays
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = DefaultLogLevel
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = DefaultLogFormat
	}
}

func applyOverlay(cfg *Config, env envOverlay) {
	if env.FeedURL != "" {
		cfg.Feed.URL = env.FeedURL
	}
	if env.ChatID != 0 {
		cfg.Telegram.ChatID = env.ChatID
	}
	if env.CheckTimeout != 0 {
		cfg.Watch.Interval.Duration = time.Duration(env.CheckTimeout) * time.Second
	}
	if env.LogLevel != "" {
		cfg.Log.Level = env.LogLevel
	}
	cfg.Telegram.Token = env.Token
}

// resolveEnv reads the token from telegram.token_env when it names a non-default variable.
func resolveEnv(cfg *Config, env envconfig.Lookuper) {
	if cfg.Telegram.TokenEnv == DefaultTokenEnv {
		return
	}
	if v, ok := env.Lookup(cfg.Telegram.TokenEnv); ok && v != "" {
		cfg.Telegram.Token = v
	}
}

func validate(cfg *Config) error {
	if cfg.Feed.URL == "" {
		return errors.New("feed.url: required (or set RSS_URL)")
	}
	u, err := url.Parse(cfg.Feed.URL)
	if err != nil {
		return fmt.Errorf("feed.url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("feed.url: unsupported scheme %q", u.Scheme)
	}
	if cfg.Feed.Timeout.Duration < 0 {
		return errors.New("feed.timeout: must be positive")
	}
	if cfg.Feed.MaxBytes < 0 {
		return errors.New("feed.max_bytes: must be positive")
	}
	if cfg.Watch.Interval.Duration <= 0 {
		return errors.New("watch.interval: must be positive")
	}
	if cfg.Storage.RetainDays < 0 {
		return errors.New("storage.retain_days: must not be negative")
	}

	switch strings.ToLower(cfg.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
		// valid
	default:
		return fmt.Errorf("log.level: unknown level %q", cfg.Log.Level)
	}
	switch cfg.Log.Format {
	case "console", "json":
		// valid
	default:
		return fmt.Errorf("log.format: unknown format %q (want console or json)", cfg.Log.Format)
	}

	return nil
}
