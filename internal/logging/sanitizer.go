package logging

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"
)

// secretPatterns match credentials that may show up in helper output or
// cache server addresses.
var secretPatterns = []*regexp.Regexp{
	// password=..., secret: ..., token=... pairs
	regexp.MustCompile(`(?i)\b(password|passwd|secret|token|apikey|api_key)\s*[=:]\s*\S+`),
	// user:pass@host in URLs and server strings
	regexp.MustCompile(`://[^/\s:@]+:[^/\s@]+@`),
	// Generic API keys (32+ hex characters)
	regexp.MustCompile(`\b[a-fA-F0-9]{32,}\b`),
	// Base64 encoded keys
	regexp.MustCompile(`\b[A-Za-z0-9+/]{100,}={0,2}`),
	// JWT tokens
	regexp.MustCompile(`\beyJ[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+\b`),
}

var (
	emailPattern = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)
	ipPattern    = regexp.MustCompile(`\b(?:(?:25[0-5]|2[0-4][0-9]|[01]?[0-9][0-9]?)\.){3}(?:25[0-5]|2[0-4][0-9]|[01]?[0-9][0-9]?)\b`)
)

// SensitiveFieldNames are field names whose values are always redacted.
var SensitiveFieldNames = map[string]bool{
	"password":      true,
	"secret":        true,
	"token":         true,
	"apikey":        true,
	"credentials":   true,
	"authorization": true,
	"cookie":        true,
}

// SanitizeString removes secrets and PII (client addresses, emails).
func SanitizeString(s string) string {
	s = sanitizeSecretsOnly(s)
	s = emailPattern.ReplaceAllString(s, "[EMAIL-REDACTED]")
	s = ipPattern.ReplaceAllString(s, "[IP-REDACTED]")
	return s
}

// sanitizeSecretsOnly removes only secrets, leaving PII.
func sanitizeSecretsOnly(s string) string {
	for i, pattern := range secretPatterns {
		switch i {
		case 0:
			s = pattern.ReplaceAllString(s, "$1=[REDACTED]")
		case 1:
			s = pattern.ReplaceAllString(s, "://[REDACTED]@")
		default:
			s = pattern.ReplaceAllString(s, "[REDACTED]")
		}
	}
	return s
}

// SanitizeFields removes sensitive data from log fields
func SanitizeFields(fields logrus.Fields) logrus.Fields {
	return sanitizeFields(fields, SanitizeString)
}

func sanitizeFields(fields logrus.Fields, clean func(string) string) logrus.Fields {
	sanitized := make(logrus.Fields, len(fields))
	for k, v := range fields {
		if SensitiveFieldNames[strings.ToLower(k)] {
			sanitized[k] = "[REDACTED]"
			continue
		}

		switch val := v.(type) {
		case string:
			sanitized[k] = clean(val)
		case error:
			if val != nil {
				sanitized[k] = clean(val.Error())
			}
		case fmt.Stringer:
			sanitized[k] = clean(val.String())
		case int, int64, int32, uint, uint64, bool, float64:
			sanitized[k] = val
		default:
			sanitized[k] = clean(fmt.Sprintf("%v", val))
		}
	}
	return sanitized
}

// SanitizingHook scrubs every entry before it is written.
type SanitizingHook struct {
	enablePIILogging bool
}

// NewSanitizingHook creates a new sanitizing hook. With enablePII set,
// client addresses are kept and only secrets are removed.
func NewSanitizingHook(enablePII bool) *SanitizingHook {
	return &SanitizingHook{enablePIILogging: enablePII}
}

// Levels returns all log levels
func (h *SanitizingHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

// Fire sanitizes log entries before they're written
func (h *SanitizingHook) Fire(entry *logrus.Entry) error {
	clean := SanitizeString
	if h.enablePIILogging {
		clean = sanitizeSecretsOnly
	}
	entry.Message = clean(entry.Message)
	if entry.Data != nil {
		entry.Data = sanitizeFields(entry.Data, clean)
	}
	return nil
}
