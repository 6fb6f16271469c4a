package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/viper"
)

const (
	EnvPrefix       = "DISPATCH"
	DefaultFileName = "config.yaml"
)

type Config struct {
	Sandbox   SandboxConfig   `mapstructure:"sandbox"`
	Agents    AgentsConfig    `mapstructure:"agents"`
	Model     ModelConfig     `mapstructure:"model"`
	Resources ResourcesConfig `mapstructure:"resources"`
	Analytics AnalyticsConfig `mapstructure:"analytics"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

type SandboxConfig struct {
	MemoryLimitMB int64         `mapstructure:"memory_limit_mb"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

func (c SandboxConfig) MemoryLimitBytes() int64 {
	return c.MemoryLimitMB * 1024 * 1024
}

type AgentsConfig struct {
	MaxWorkers        int64         `mapstructure:"max_workers"`
	CreationTimeout   time.Duration `mapstructure:"creation_timeout"`
	CompletionTimeout time.Duration `mapstructure:"completion_timeout"`
	HistoryLimit      int           `mapstructure:"history_limit"`
	EventBuffer       int           `mapstructure:"event_buffer"`
}

type ModelConfig struct {
	Name      string `mapstructure:"name"`
	MaxTokens int64  `mapstructure:"max_tokens"`
}

type ResourcesConfig struct {
	// Fixtures is a YAML document served by the static resource backend.
	Fixtures string        `mapstructure:"fixtures"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

type AnalyticsConfig struct {
	PosthogKey string `mapstructure:"posthog_key"`
}

func (c AnalyticsConfig) Enabled() bool {
	return c.PosthogKey != ""
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

var defaults = map[string]any{
	"sandbox.memory_limit_mb":   256,
	"sandbox.timeout":           "30s",
	"agents.max_workers":        3,
	"agents.creation_timeout":   "5s",
	"agents.completion_timeout": "5m",
	"agents.history_limit":      100,
	"agents.event_buffer":       256,
	"model.name":                "claude-sonnet-4-5",
	"model.max_tokens":          8192,
	"resources.fixtures":        "",
	"resources.cache_ttl":       "5m",
	"analytics.posthog_key":     "",
	"metrics.addr":              "",
}

// DefaultPath is the optional configuration file below the user's home.
func DefaultPath(homeDir string) string {
	return filepath.Join(homeDir, ".dispatch", DefaultFileName)
}

// Load reads the configuration. Values come from the defaults, then the YAML
// file at path if path is not empty, then DISPATCH_ environment variables.
func Load(fs afero.Fs, path string) (*Config, error) {
	v := viper.New()
	v.SetFs(fs)

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadDefault loads the file at DefaultPath when it exists.
func LoadDefault(fs afero.Fs, homeDir string) (*Config, error) {
	path := DefaultPath(homeDir)
	exists, err := afero.Exists(fs, path)
	if err != nil {
		return nil, fmt.Errorf("stat config %s: %w", path, err)
	}
	if !exists {
		path = ""
	}
	return Load(fs, path)
}

func (c *Config) Validate() error {
	var errs []error
	if c.Sandbox.MemoryLimitMB <= 0 {
		errs = append(errs, fmt.Errorf("sandbox.memory_limit_mb must be positive, got %d", c.Sandbox.MemoryLimitMB))
	}
	if c.Sandbox.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("sandbox.timeout must be positive, got %s", c.Sandbox.Timeout))
	}
	if c.Agents.MaxWorkers < 1 {
		errs = append(errs, fmt.Errorf("agents.max_workers must be at least 1, got %d", c.Agents.MaxWorkers))
	}
	if c.Agents.CreationTimeout <= 0 {
		errs = append(errs, fmt.Errorf("agents.creation_timeout must be positive, got %s", c.Agents.CreationTimeout))
	}
	if c.Agents.CompletionTimeout <= 0 {
		errs = append(errs, fmt.Errorf("agents.completion_timeout must be positive, got %s", c.Agents.CompletionTimeout))
	}
	if c.Agents.HistoryLimit < 1 {
		errs = append(errs, fmt.Errorf("agents.history_limit must be at least 1, got %d", c.Agents.HistoryLimit))
	}
	if c.Agents.EventBuffer < 1 {
		errs = append(errs, fmt.Errorf("agents.event_buffer must be at least 1, got %d", c.Agents.EventBuffer))
	}
	if c.Model.Name == "" {
		errs = append(errs, errors.New("model.name must not be empty"))
	}
	if c.Model.MaxTokens <= 0 {
		errs = append(errs, fmt.Errorf("model.max_tokens must be positive, got %d", c.Model.MaxTokens))
	}
	if c.Resources.CacheTTL < 0 {
		errs = append(errs, fmt.Errorf("resources.cache_ttl must not be negative, got %s", c.Resources.CacheTTL))
	}
	return errors.Join(errs...)
}
