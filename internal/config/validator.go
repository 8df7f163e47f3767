package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// SecurityWarnings returns risky settings worth flagging at startup.
func SecurityWarnings(cfg *Config) []string {
	warnings := []string{}

	if host, _, err := net.SplitHostPort(cfg.Server.Listen); err == nil && (host == "" || host == "0.0.0.0" || host == "::") {
		warnings = append(warnings, "console listens on all interfaces and has no authentication of its own - put it behind the admin login")
	}

	if !cfg.Helper.Sudo && os.Geteuid() == 0 {
		warnings = append(warnings, "console runs as root - run it unprivileged with helper.sudo enabled")
	}

	if cfg.Logging.Level == "debug" {
		warnings = append(warnings, "Running in debug mode - sensitive data may be exposed in logs")

		if cfg.PIILoggingEnabled() {
			warnings = append(warnings, "PII logging is enabled - client IPs will be logged")
		}
	}

	return warnings
}

// LogSecurityWarnings logs SecurityWarnings.
func LogSecurityWarnings(cfg *Config) {
	for _, warning := range SecurityWarnings(cfg) {
		logrus.Warn(fmt.Sprintf("SECURITY: %s", warning))
	}
}

// SanitizeConfigForLogging returns a sanitized version of the config for logging
func SanitizeConfigForLogging(cfg *Config) map[string]interface{} {
	sanitized := make(map[string]interface{})

	sanitized["server"] = map[string]interface{}{
		"listen":     cfg.Server.Listen,
		"rate_limit": cfg.Server.RateLimitPerMinute,
		"websocket":  cfg.Server.WebSocket,
	}

	cache := map[string]interface{}{
		"backend": cfg.Cache.Backend,
		"ttl":     cfg.Cache.TTL.String(),
	}
	if cfg.Cache.Backend == "memcached" {
		// Server strings may carry credentials
		cache["servers"] = len(cfg.Cache.Servers)
	}
	sanitized["cache"] = cache

	sanitized["blocking"] = map[string]interface{}{
		"config_path":   cfg.Blocking.ConfigPath,
		"expiry_leeway": cfg.Blocking.ExpiryLeeway.String(),
	}
	sanitized["helper"] = map[string]interface{}{
		"path": cfg.Helper.Path,
		"sudo": cfg.Helper.Sudo,
	}
	sanitized["settle"] = map[string]interface{}{
		"mode":    cfg.Settle.Mode,
		"change":  cfg.Settle.Change.String(),
		"refresh": cfg.Settle.Refresh.String(),
		"flush":   cfg.Settle.Flush.String(),
	}
	sanitized["history"] = map[string]interface{}{
		"path":           cfg.History.Path,
		"retention_days": cfg.History.RetentionDays,
	}
	sanitized["logging"] = map[string]interface{}{
		"level":  cfg.Logging.Level,
		"format": cfg.Logging.Format,
	}

	return sanitized
}

// ValidateConfig performs basic configuration validation
func ValidateConfig(cfg *Config) error {
	if cfg.Server.Listen == "" {
		return fmt.Errorf("no listen address configured")
	}
	if _, _, err := net.SplitHostPort(cfg.Server.Listen); err != nil {
		return fmt.Errorf("invalid listen address %q: %w", cfg.Server.Listen, err)
	}
	if cfg.Server.RateLimitPerMinute < 0 || cfg.Server.RateLimitBurst < 0 {
		return fmt.Errorf("invalid rate limit: %d/min burst %d", cfg.Server.RateLimitPerMinute, cfg.Server.RateLimitBurst)
	}

	switch cfg.Cache.Backend {
	case "memory":
	case "memcached":
		if len(cfg.Cache.Servers) == 0 {
			return fmt.Errorf("memcached cache backend configured without servers")
		}
	default:
		return fmt.Errorf("unknown cache backend %q", cfg.Cache.Backend)
	}
	if cfg.Cache.TTL <= 0 {
		return fmt.Errorf("cache ttl must be positive")
	}

	if cfg.Blocking.ConfigPath == "" {
		return fmt.Errorf("no blocking config path configured")
	}
	if cfg.Blocking.ExpiryLeeway < 0 {
		return fmt.Errorf("expiry leeway must not be negative")
	}

	if cfg.Helper.Path == "" {
		return fmt.Errorf("no helper path configured")
	}
	if !filepath.IsAbs(cfg.Helper.Path) {
		return fmt.Errorf("helper path must be absolute: %s", cfg.Helper.Path)
	}

	switch cfg.Settle.Mode {
	case "fixed", "watch":
	default:
		return fmt.Errorf("unknown settle mode %q", cfg.Settle.Mode)
	}
	if cfg.Settle.Change <= 0 || cfg.Settle.Refresh <= 0 || cfg.Settle.Flush <= 0 {
		return fmt.Errorf("settle windows must be positive")
	}
	if !(cfg.Settle.Change < cfg.Settle.Refresh && cfg.Settle.Refresh < cfg.Settle.Flush) {
		return fmt.Errorf("settle windows must satisfy change < refresh < flush, got %s, %s, %s",
			cfg.Settle.Change, cfg.Settle.Refresh, cfg.Settle.Flush)
	}
	if cfg.Settle.ExitDelay < 0 || cfg.Settle.Grace < 0 {
		return fmt.Errorf("settle grace and exit delay must not be negative")
	}

	if cfg.History.RetentionDays < 0 {
		return fmt.Errorf("invalid history retention: %d days", cfg.History.RetentionDays)
	}

	switch cfg.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", cfg.Logging.Format)
	}

	return nil
}
