package config

import (
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Environment variables recognized by ApplyEnvOverrides.
const (
	EnvLogLevel       = "BLOCKCTL_LOG_LEVEL"
	EnvEnablePII      = "BLOCKCTL_ENABLE_PII_LOGGING"
	EnvListen         = "BLOCKCTL_LISTEN"
	EnvCacheBackend   = "BLOCKCTL_CACHE_BACKEND"
	EnvCacheServers   = "BLOCKCTL_CACHE_SERVERS"
	EnvHelperPath     = "BLOCKCTL_HELPER_PATH"
	EnvBlockingConfig = "BLOCKCTL_BLOCKING_CONFIG"
)

// EnvFiles are loaded, if present, before overrides are applied. Values
// already in the process environment win.
var EnvFiles = []string{".env", ".env.local"}

func loadEnvFiles() {
	for _, path := range EnvFiles {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			logrus.WithError(err).WithField("path", path).Warn("Failed to load env file")
			continue
		}
		logrus.WithField("path", path).Debug("Loaded environment file")
	}
}

// ApplyEnvOverrides replaces config values with BLOCKCTL_* variables.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv(EnvEnablePII); v != "" {
		cfg.Logging.EnablePII = v == "true"
	}
	if v := os.Getenv(EnvListen); v != "" {
		cfg.Server.Listen = v
	}
	if v := os.Getenv(EnvCacheBackend); v != "" {
		cfg.Cache.Backend = v
	}
	if v := os.Getenv(EnvCacheServers); v != "" {
		var servers []string
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				servers = append(servers, s)
			}
		}
		cfg.Cache.Servers = servers
	}
	if v := os.Getenv(EnvHelperPath); v != "" {
		cfg.Helper.Path = v
	}
	if v := os.Getenv(EnvBlockingConfig); v != "" {
		cfg.Blocking.ConfigPath = v
	}
}

// PIILoggingEnabled reports whether client addresses may be logged. PII is
// only logged at debug level.
func (c *Config) PIILoggingEnabled() bool {
	return c.Logging.EnablePII && strings.EqualFold(c.Logging.Level, "debug")
}
