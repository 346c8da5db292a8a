package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nidhogg/nuka-mind/internal/provider"
)

// Config is the top-level configuration structure.
type Config struct {
	Server    ServerConfig     `json:"server" yaml:"server"`
	Database  DatabaseConfig   `json:"database" yaml:"database"`
	Scheduler SchedulerConfig  `json:"scheduler" yaml:"scheduler"`
	Backend   BackendConfig    `json:"backend" yaml:"backend"`
	Providers []ProviderConfig `json:"providers" yaml:"providers"`
	Redis     RedisConfig      `json:"redis" yaml:"redis"`
	Notify    NotifyConfig     `json:"notify" yaml:"notify"`
	Daemon    DaemonConfig     `json:"daemon" yaml:"daemon"`
}

type ServerConfig struct {
	Port     int    `json:"port" yaml:"port"`
	LogLevel string `json:"log_level" yaml:"log_level"`
}

type DatabaseConfig struct {
	// Driver is sqlite or postgres.
	Driver string `json:"driver" yaml:"driver"`
	Path   string `json:"path" yaml:"path"`
	DSN    string `json:"dsn" yaml:"dsn"`
}

type SchedulerConfig struct {
	DailyCap        int      `json:"daily_cap" yaml:"daily_cap"`
	WALLimitMB      int      `json:"wal_limit_mb" yaml:"wal_limit_mb"`
	System1Timeout  Duration `json:"system1_timeout" yaml:"system1_timeout"`
	System2Timeout  Duration `json:"system2_timeout" yaml:"system2_timeout"`
	SharedNamespace string   `json:"shared_namespace" yaml:"shared_namespace"`
	NoiseSigma      float64  `json:"noise_sigma" yaml:"noise_sigma"`
}

type BackendConfig struct {
	// Type is cli, provider or mock.
	Type    string   `json:"type" yaml:"type"`
	Command string   `json:"command" yaml:"command"`
	Args    []string `json:"args,omitempty" yaml:"args,omitempty"`
	// MockResponse is the System 1 answer in mock mode.
	MockResponse string                        `json:"mock_response,omitempty" yaml:"mock_response,omitempty"`
	MaxTokens    int                           `json:"max_tokens" yaml:"max_tokens"`
	Tiers        map[string]provider.Binding   `json:"tiers,omitempty" yaml:"tiers,omitempty"`
	Fallbacks    map[string][]provider.Binding `json:"fallbacks,omitempty" yaml:"fallbacks,omitempty"`
}

type ProviderConfig struct {
	ID       string            `json:"id" yaml:"id"`
	Type     string            `json:"type" yaml:"type"`
	Name     string            `json:"name" yaml:"name"`
	Endpoint string            `json:"endpoint" yaml:"endpoint"`
	APIKey   string            `json:"api_key" yaml:"api_key"`
	Models   []string          `json:"models,omitempty" yaml:"models,omitempty"`
	Extra    map[string]string `json:"extra,omitempty" yaml:"extra,omitempty"`
	Timeout  Duration          `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// Provider converts the entry to the provider package's config.
func (p ProviderConfig) Provider() provider.ProviderConfig {
	return provider.ProviderConfig{
		ID:       p.ID,
		Type:     p.Type,
		Name:     p.Name,
		Endpoint: p.Endpoint,
		APIKey:   p.APIKey,
		Models:   p.Models,
		Extra:    p.Extra,
		Timeout:  p.Timeout.Std(),
	}
}

type RedisConfig struct {
	URL string `json:"url" yaml:"url"`
}

type NotifyConfig struct {
	Source         string `json:"source" yaml:"source"`
	Username       string `json:"username" yaml:"username"`
	SlackWebhook   string `json:"slack_webhook" yaml:"slack_webhook"`
	DiscordWebhook string `json:"discord_webhook" yaml:"discord_webhook"`
}

type DaemonConfig struct {
	Interval Duration `json:"interval" yaml:"interval"`
	// Agents is the static agent list. Empty means every agent with a
	// scheduler row.
	Agents []string `json:"agents,omitempty" yaml:"agents,omitempty"`
}

// Duration reads "90s" style strings, or plain numbers as seconds.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	return d.set(v)
}

func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	var v any
	if err := n.Decode(&v); err != nil {
		return err
	}
	return d.set(v)
}

func (d *Duration) set(v any) error {
	switch x := v.(type) {
	case float64:
		*d = Duration(x * float64(time.Second))
	case int:
		*d = Duration(time.Duration(x) * time.Second)
	case string:
		if x == "" {
			*d = 0
			return nil
		}
		parsed, err := time.ParseDuration(x)
		if err != nil {
			return fmt.Errorf("parse duration %q: %w", x, err)
		}
		*d = Duration(parsed)
	case nil:
		*d = 0
	default:
		return fmt.Errorf("invalid duration %v", v)
	}
	return nil
}

// envVarRe matches ${VAR} and ${VAR:default} patterns.
var envVarRe = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

// Load reads a JSON or YAML config file (by extension), substitutes
// environment variable references and fills defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	resolved := expandEnv(string(data))

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal([]byte(resolved), &cfg)
	default:
		err = json.Unmarshal([]byte(resolved), &cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return &cfg, nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	var cfg Config
	cfg.ApplyDefaults()
	return &cfg
}

// expandEnv substitutes ${VAR} and ${VAR:default} with environment values.
func expandEnv(s string) string {
	return envVarRe.ReplaceAllStringFunc(s, func(match string) string {
		parts := envVarRe.FindStringSubmatch(match)
		if v := os.Getenv(parts[1]); v != "" {
			return v
		}
		return parts[2]
	})
}

// ApplyDefaults fills every unset field.
func (c *Config) ApplyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8470
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.Path == "" {
		c.Database.Path = filepath.Join("state", "mind.db")
	}
	s := &c.Scheduler
	if s.DailyCap == 0 {
		s.DailyCap = 2
	}
	if s.WALLimitMB == 0 {
		s.WALLimitMB = 50
	}
	if s.System1Timeout == 0 {
		s.System1Timeout = Duration(60 * time.Second)
	}
	if s.System2Timeout == 0 {
		s.System2Timeout = Duration(90 * time.Second)
	}
	if s.SharedNamespace == "" {
		s.SharedNamespace = "__shared__"
	}
	if s.NoiseSigma == 0 {
		s.NoiseSigma = 0.1
	}
	if c.Backend.Type == "" {
		c.Backend.Type = "cli"
	}
	if c.Backend.Command == "" {
		c.Backend.Command = provider.DefaultAgentCommand
	}
	if c.Backend.MaxTokens == 0 {
		c.Backend.MaxTokens = 1024
	}
	if c.Notify.Username == "" {
		c.Notify.Username = "nuka-mind"
	}
	if c.Daemon.Interval == 0 {
		c.Daemon.Interval = Duration(30 * time.Minute)
	}
}

// Validate rejects settings the rest of the program cannot act on.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite":
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for postgres")
		}
	default:
		return fmt.Errorf("unknown database.driver %q", c.Database.Driver)
	}
	switch c.Backend.Type {
	case "cli", "mock":
	case "provider":
		if len(c.Providers) == 0 {
			return fmt.Errorf("backend.type provider needs at least one provider")
		}
	default:
		return fmt.Errorf("unknown backend.type %q", c.Backend.Type)
	}
	if c.Scheduler.DailyCap < 0 {
		return fmt.Errorf("scheduler.daily_cap must not be negative")
	}
	return nil
}

// Target is the connection target for the configured driver.
func (d DatabaseConfig) Target() string {
	if d.Driver == "postgres" {
		return d.DSN
	}
	return d.Path
}
