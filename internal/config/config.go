// Package config loads pocketpaw's config.yaml and applies POCKETPAW_*
// environment overrides, following the teacher's nested-struct-with-
// yaml-tags pattern (internal/config/config.go): defaults filled in after
// unmarshal, secrets resolved from env vars rather than stored in the file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// BackendConfig configures one agentrouter backend. APIKeyEnv names the
// environment variable holding the key; the key itself is never written
// to config.yaml.
type BackendConfig struct {
	Model     string `yaml:"model"`
	APIKeyEnv string `yaml:"api_key_env"`
	BaseURL   string `yaml:"base_url"`
}

type BackendsConfig struct {
	Genkit    BackendConfig `yaml:"genkit"`
	Anthropic BackendConfig `yaml:"anthropic"`
	OpenAI    BackendConfig `yaml:"openai"`
}

type TelegramConfig struct {
	Enabled    bool    `yaml:"enabled"`
	TokenEnv   string  `yaml:"token_env"`
	AllowedIDs []int64 `yaml:"allowed_ids"`
}

type DiscordConfig struct {
	Enabled  bool   `yaml:"enabled"`
	TokenEnv string `yaml:"token_env"`
}

type SlackConfig struct {
	Enabled     bool   `yaml:"enabled"`
	BotTokenEnv string `yaml:"bot_token_env"`
	AppTokenEnv string `yaml:"app_token_env"`
}

type WhatsAppConfig struct {
	Enabled     bool   `yaml:"enabled"`
	TokenEnv    string `yaml:"token_env"`
	PhoneNumber string `yaml:"phone_number"`
}

type ChannelsConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
	Discord  DiscordConfig  `yaml:"discord"`
	Slack    SlackConfig    `yaml:"slack"`
	WhatsApp WhatsAppConfig `yaml:"whatsapp"`
}

// Config is the top-level pocketpaw configuration.
type Config struct {
	HomeDir string `yaml:"-"`

	BindAddr string `yaml:"bind_addr"`
	LogLevel string `yaml:"log_level"`

	// MaxConcurrentTasks is loaded (default 5, env override) but not read by
	// the executor, which enforces its own fixed cap of 5 in-flight tasks.
	MaxConcurrentTasks int `yaml:"max_concurrent_tasks"`

	// AllowOrigins controls accepted Origin headers for the dashboard
	// WebSocket; empty means same-origin only.
	AllowOrigins []string `yaml:"allow_origins"`

	Backends BackendsConfig `yaml:"backends"`
	Channels ChannelsConfig `yaml:"channels"`
}

func defaultConfig() Config {
	return Config{
		BindAddr:           "127.0.0.1:8888",
		LogLevel:           "info",
		MaxConcurrentTasks: 5,
	}
}

// HomeDir returns the pocketpaw state directory, honoring POCKETPAW_HOME.
func HomeDir() string {
	if override := os.Getenv("POCKETPAW_HOME"); override != "" {
		return override
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".pocketpaw")
}

// ConfigPath returns the path to config.yaml within the given home directory.
func ConfigPath(homeDir string) string {
	return filepath.Join(homeDir, "config.yaml")
}

// Load reads config.yaml from HomeDir (creating the directory if absent),
// applies POCKETPAW_* env overrides, and fills in defaults.
func Load() (Config, error) {
	return LoadFrom(HomeDir())
}

// LoadFrom reads config.yaml from a specific homeDir rather than the
// process-wide HomeDir(). Load calls this with HomeDir(); Watcher calls it
// directly with its own homeDir on every reload, so a reload picks up
// exactly the same directory the original Load did, independent of a
// POCKETPAW_HOME change in the meantime.
func LoadFrom(homeDir string) (Config, error) {
	cfg := defaultConfig()
	cfg.HomeDir = homeDir

	if err := os.MkdirAll(cfg.HomeDir, 0o755); err != nil {
		return cfg, fmt.Errorf("create pocketpaw home: %w", err)
	}

	data, err := os.ReadFile(ConfigPath(cfg.HomeDir))
	if err != nil && !os.IsNotExist(err) {
		return cfg, fmt.Errorf("read config.yaml: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config.yaml: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	normalize(&cfg)
	return cfg, nil
}

func normalize(cfg *Config) {
	if cfg.BindAddr == "" {
		cfg.BindAddr = "127.0.0.1:8888"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.MaxConcurrentTasks <= 0 {
		cfg.MaxConcurrentTasks = 5
	}
	if cfg.Backends.Anthropic.APIKeyEnv == "" {
		cfg.Backends.Anthropic.APIKeyEnv = "ANTHROPIC_API_KEY"
	}
	if cfg.Backends.OpenAI.APIKeyEnv == "" {
		cfg.Backends.OpenAI.APIKeyEnv = "OPENAI_API_KEY"
	}
	if cfg.Channels.Telegram.TokenEnv == "" {
		cfg.Channels.Telegram.TokenEnv = "TELEGRAM_TOKEN"
	}
	if cfg.Channels.Discord.TokenEnv == "" {
		cfg.Channels.Discord.TokenEnv = "DISCORD_TOKEN"
	}
	if cfg.Channels.Slack.BotTokenEnv == "" {
		cfg.Channels.Slack.BotTokenEnv = "SLACK_BOT_TOKEN"
	}
	if cfg.Channels.Slack.AppTokenEnv == "" {
		cfg.Channels.Slack.AppTokenEnv = "SLACK_APP_TOKEN"
	}
	if cfg.Channels.WhatsApp.TokenEnv == "" {
		cfg.Channels.WhatsApp.TokenEnv = "WHATSAPP_TOKEN"
	}
}

func applyEnvOverrides(cfg *Config) {
	if raw := os.Getenv("POCKETPAW_BIND_ADDR"); raw != "" {
		cfg.BindAddr = raw
	}
	if raw := os.Getenv("POCKETPAW_LOG_LEVEL"); raw != "" {
		cfg.LogLevel = raw
	}
	if raw := os.Getenv("POCKETPAW_MAX_CONCURRENT_TASKS"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.MaxConcurrentTasks = v
		}
	}
	if raw := os.Getenv("POCKETPAW_ALLOW_ORIGINS"); raw != "" {
		cfg.AllowOrigins = strings.Split(raw, ",")
	}
}

// APIKey resolves a backend's API key from its configured env var.
func (b BackendConfig) APIKey() string {
	if b.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(b.APIKeyEnv)
}

// Token resolves a channel's token/secret from its configured env var.
func (t TelegramConfig) Token() string { return os.Getenv(t.TokenEnv) }
func (d DiscordConfig) Token() string  { return os.Getenv(d.TokenEnv) }
func (s SlackConfig) BotToken() string { return os.Getenv(s.BotTokenEnv) }
func (s SlackConfig) AppToken() string { return os.Getenv(s.AppTokenEnv) }
func (w WhatsAppConfig) Token() string { return os.Getenv(w.TokenEnv) }
