// Package config loads the agentbridge configuration file.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/haasonsaas/agentbridge/pkg/models"
)

// Database drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Provider types.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// CurrentVersion is the configuration schema this build reads. Load treats
// a file without a version field as current.
const CurrentVersion = 1

// ErrUnsupportedVersion is wrapped by Validate when the version field is not CurrentVersion.
var ErrUnsupportedVersion = errors.New("unsupported config version")

// Config is the main configuration structure for agentbridge.
type Config struct {
	Version   int                       `yaml:"version"`
	Logging   LoggingConfig             `yaml:"logging"`
	Database  DatabaseConfig            `yaml:"database"`
	Providers map[string]ProviderConfig `yaml:"providers"`
	Agents    []AgentConfig             `yaml:"agents"`
	Engine    EngineConfig              `yaml:"engine"`
	Tools     ToolsConfig               `yaml:"tools"`
	Channels  ChannelsConfig            `yaml:"channels"`
	Server    ServerConfig              `yaml:"server"`
	Tracing   TracingConfig             `yaml:"tracing"`
}

type LoggingConfig struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"`
	AddSource bool   `yaml:"add_source"`
}

type DatabaseConfig struct {
	Driver       string        `yaml:"driver"`
	DSN          string        `yaml:"dsn"`
	MaxOpenConns int           `yaml:"max_open_conns"`
	LeaseTTL     time.Duration `yaml:"lease_ttl"`
}

// ProviderConfig configures one model endpoint. Type selects the wire
// dialect.
type ProviderConfig struct {
	Type             string        `yaml:"type"`
	BaseURL          string        `yaml:"base_url"`
	APIKey           string        `yaml:"api_key"`
	Timeout          time.Duration `yaml:"timeout"`
	AnthropicVersion string        `yaml:"anthropic_version"`
}

type AgentConfig struct {
	ID           string   `yaml:"id"`
	Name         string   `yaml:"name"`
	Description  string   `yaml:"description"`
	Provider     string   `yaml:"provider"`
	Model        string   `yaml:"model"`
	SystemPrompt string   `yaml:"system_prompt"`
	Permissions  []string `yaml:"permissions"`
	MaxTokens    int      `yaml:"max_tokens"`
}

type EngineConfig struct {
	MaxIterations     int  `yaml:"max_iterations"`
	HideUntaggedTools bool `yaml:"hide_untagged_tools"`
}

type ToolsConfig struct {
	// WorkspaceRoot holds one directory per session for the file tools.
	// File tools are disabled when empty.
	WorkspaceRoot string `yaml:"workspace_root"`
}

type ChannelsConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
	Discord  DiscordConfig  `yaml:"discord"`
	Slack    SlackConfig    `yaml:"slack"`
	Console  ConsoleConfig  `yaml:"console"`
}

type TelegramConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
}

type DiscordConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`

	// GuildID scopes slash commands to one guild; empty registers globally.
	ApplicationID string `yaml:"application_id"`
	GuildID       string `yaml:"guild_id"`
}

type SlackConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BotToken string `yaml:"bot_token"`
	AppToken string `yaml:"app_token"`
}

type ConsoleConfig struct {
	Enabled bool `yaml:"enabled"`
}

type ServerConfig struct {
	// MetricsAddr serves /metrics and /healthz. Empty disables the listener.
	MetricsAddr string `yaml:"metrics_addr"`
}

type TracingConfig struct {
	// Endpoint is an OTLP gRPC collector address. Tracing is off when empty.
	Endpoint     string  `yaml:"endpoint"`
	Insecure     bool    `yaml:"insecure"`
	SamplingRate float64 `yaml:"sampling_rate"`
}

// Load reads, defaults, and validates the configuration file at path.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
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
	if cfg.Version == 0 {
		cfg.Version = CurrentVersion
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = DriverMemory
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 10
	}
	if cfg.Database.LeaseTTL == 0 {
		cfg.Database.LeaseTTL = 2 * time.Minute
	}
	for name, p := range cfg.Providers {
		if p.Type == "" {
			p.Type = ProviderOpenAI
		}
		if p.Timeout == 0 {
			p.Timeout = 2 * time.Minute
		}
		cfg.Providers[name] = p
	}
	if cfg.Engine.MaxIterations == 0 {
		cfg.Engine.MaxIterations = 10
	}
	if cfg.Tracing.SamplingRate == 0 {
		cfg.Tracing.SamplingRate = 1
	}
}

// Validate reports every configuration problem it finds.
func (c *Config) Validate() error {
	var issues []error
	add := func(format string, args ...any) {
		issues = append(issues, fmt.Errorf(format, args...))
	}

	switch {
	case c.Version > CurrentVersion:
		issues = append(issues, fmt.Errorf("version: %w: %d is newer than this build (%d), upgrade agentbridge",
			ErrUnsupportedVersion, c.Version, CurrentVersion))
	case c.Version != CurrentVersion:
		issues = append(issues, fmt.Errorf("version: %w: %d, set it to %d",
			ErrUnsupportedVersion, c.Version, CurrentVersion))
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		add("logging.level: unknown level %q", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		add("logging.format: must be json or text, got %q", c.Logging.Format)
	}

	switch c.Database.Driver {
	case DriverMemory:
	case DriverSQLite, DriverPostgres:
		if strings.TrimSpace(c.Database.DSN) == "" {
			add("database.dsn: required for driver %s", c.Database.Driver)
		}
	default:
		add("database.driver: must be memory, sqlite, or postgres, got %q", c.Database.Driver)
	}
	if c.Database.MaxOpenConns < 0 {
		add("database.max_open_conns: must not be negative")
	}
	if c.Database.LeaseTTL < 0 {
		add("database.lease_ttl: must not be negative")
	}

	for name, p := range c.Providers {
		switch p.Type {
		case ProviderOpenAI:
		case ProviderAnthropic:
			if strings.TrimSpace(p.APIKey) == "" {
				add("providers.%s.api_key: required for anthropic providers", name)
			}
		default:
			add("providers.%s.type: must be openai or anthropic, got %q", name, p.Type)
		}
		if p.Timeout < 0 {
			add("providers.%s.timeout: must not be negative", name)
		}
	}

	seen := make(map[string]bool, len(c.Agents))
	for i, a := range c.Agents {
		label := fmt.Sprintf("agents[%d]", i)
		if strings.TrimSpace(a.ID) == "" {
			add("%s.id: required", label)
		} else {
			label = fmt.Sprintf("agents[%s]", a.ID)
			if seen[a.ID] {
				add("%s.id: duplicate", label)
			}
			seen[a.ID] = true
		}
		if _, ok := c.Providers[a.Provider]; !ok {
			add("%s.provider: unknown provider %q", label, a.Provider)
		}
		if strings.TrimSpace(a.Model) == "" {
			add("%s.model: required", label)
		}
		if a.MaxTokens < 0 {
			add("%s.max_tokens: must not be negative", label)
		}
	}

	if c.Engine.MaxIterations < 0 {
		add("engine.max_iterations: must not be negative")
	}

	ch := c.Channels
	if ch.Telegram.Enabled && strings.TrimSpace(ch.Telegram.Token) == "" {
		add("channels.telegram.token: required when enabled")
	}
	if ch.Discord.Enabled && strings.TrimSpace(ch.Discord.Token) == "" {
		add("channels.discord.token: required when enabled")
	}
	if ch.Slack.Enabled {
		if strings.TrimSpace(ch.Slack.BotToken) == "" {
			add("channels.slack.bot_token: required when enabled")
		}
		if strings.TrimSpace(ch.Slack.AppToken) == "" {
			add("channels.slack.app_token: required when enabled")
		}
	}

	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		add("tracing.sampling_rate: must be between 0 and 1")
	}

	return errors.Join(issues...)
}

// AgentModels converts the agent section into catalog entries, preserving
// order.
func (c *Config) AgentModels() []models.Agent {
	agents := make([]models.Agent, 0, len(c.Agents))
	for _, a := range c.Agents {
		agents = append(agents, models.Agent{
			ID:           a.ID,
			Name:         a.Name,
			Description:  a.Description,
			Provider:     a.Provider,
			Model:        a.Model,
			SystemPrompt: a.SystemPrompt,
			Permissions:  append([]string(nil), a.Permissions...),
			MaxTokens:    a.MaxTokens,
		})
	}
	return agents
}

// EnabledChannels lists the enabled channel names in a fixed order.
func (c *Config) EnabledChannels() []models.ChannelType {
	var out []models.ChannelType
	if c.Channels.Telegram.Enabled {
		out = append(out, models.ChannelTelegram)
	}
	if c.Channels.Discord.Enabled {
		out = append(out, models.ChannelDiscord)
	}
	if c.Channels.Slack.Enabled {
		out = append(out, models.ChannelSlack)
	}
	if c.Channels.Console.Enabled {
		out = append(out, models.ChannelConsole)
	}
	return out
}
