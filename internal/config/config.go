// Package config defines the console's configuration and loading logic.
// Configuration comes from a YAML file with defaults, optional .env files
// and BLOCKCTL_* environment overrides.
package config

import (
	"fmt"
	"os"
	"time"

	"blockctl/internal/utils"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Cache    CacheConfig    `yaml:"cache"`
	Blocking BlockingConfig `yaml:"blocking"`
	Helper   HelperConfig   `yaml:"helper"`
	Settle   SettleConfig   `yaml:"settle"`
	History  HistoryConfig  `yaml:"history"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	Listen             string `yaml:"listen"`
	RateLimitPerMinute int    `yaml:"rateLimitPerMinute"`
	RateLimitBurst     int    `yaml:"rateLimitBurst"`
	WebSocket          bool   `yaml:"webSocket"`
}

type CacheConfig struct {
	// Backend is "memory" or "memcached"
	Backend string        `yaml:"backend"`
	Servers []string      `yaml:"servers"`
	TTL     time.Duration `yaml:"ttl"`
	Timeout time.Duration `yaml:"timeout"`
}

type BlockingConfig struct {
	// ConfigPath is the helper-owned key = value file holding Status
	ConfigPath string `yaml:"configPath"`
	// ExpiryLeeway forces a reload when a pause ends within this window
	ExpiryLeeway time.Duration `yaml:"expiryLeeway"`
}

type HelperConfig struct {
	Path string `yaml:"path"`
	Sudo bool   `yaml:"sudo"`
}

type SettleConfig struct {
	// Mode is "fixed" or "watch"
	Mode      string        `yaml:"mode"`
	Change    time.Duration `yaml:"change"`
	Refresh   time.Duration `yaml:"refresh"`
	Flush     time.Duration `yaml:"flush"`
	Grace     time.Duration `yaml:"grace"`
	ExitDelay time.Duration `yaml:"exitDelay"`
}

type HistoryConfig struct {
	Path          string `yaml:"path"`
	AuditDir      string `yaml:"auditDir"`
	RetentionDays int    `yaml:"retentionDays"`
}

type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

type LoggingConfig struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"`
	EnablePII bool   `yaml:"enablePII"`
}

// DefaultPaths are searched in order when no config path is given.
var DefaultPaths = []string{"./blockctl.yaml", "/etc/blockctl/blockctl.yaml"}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Listen:             "127.0.0.1:8080",
			RateLimitPerMinute: 120,
			RateLimitBurst:     20,
			WebSocket:          true,
		},
		Cache: CacheConfig{
			Backend: "memory",
			Servers: []string{"127.0.0.1:11211"},
			TTL:     10 * time.Minute,
			Timeout: 500 * time.Millisecond,
		},
		Blocking: BlockingConfig{
			ConfigPath:   "/etc/notrack/notrack.conf",
			ExpiryLeeway: 60 * time.Second,
		},
		Helper: HelperConfig{
			Path: "/usr/local/sbin/ntrk-exec",
			Sudo: true,
		},
		Settle: SettleConfig{
			Mode:      "fixed",
			Change:    5 * time.Second,
			Refresh:   6 * time.Second,
			Flush:     8 * time.Second,
			Grace:     250 * time.Millisecond,
			ExitDelay: time.Second,
		},
		History: HistoryConfig{
			Path:          "/var/lib/blockctl/history.db",
			AuditDir:      "/var/log/blockctl",
			RetentionDays: 30,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadConfig loads configuration from a YAML file over the defaults, then
// applies environment overrides. An empty path searches DefaultPaths; if
// none exist the defaults are used.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()

	loadEnvFiles()

	if path == "" {
		for _, p := range DefaultPaths {
			if _, err := os.Stat(p); err == nil {
				path = p
				break
			}
		}
	}

	if path != "" {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
		if info.Size() > utils.MaxConfigFileSize {
			return nil, fmt.Errorf("config file exceeds maximum size of %d bytes", utils.MaxConfigFileSize)
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := utils.CheckYAML(data, utils.MaxConfigFileSize); err != nil {
			return nil, fmt.Errorf("unsafe config file: %w", err)
		}

		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	ApplyEnvOverrides(cfg)
	return cfg, nil
}
