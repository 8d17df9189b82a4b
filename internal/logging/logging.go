// Package logging builds the zap logger and scrubs secrets before they are logged.
package logging

import (
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/paveg/tabula/internal/config"
)

// RedactedText replaces sensitive values.
const RedactedText = "[REDACTED]"

var (
	// password=xxx, pwd=xxx, pass=xxx up to the next delimiter
	passwordPattern = regexp.MustCompile(`(?i)(password|pwd|pass)=[^;&\s]+`)

	// user:pass@host
	userInfoPattern = regexp.MustCompile(`://[^:/@\s]+:[^@\s]+@`)
)

// New builds a logger for cfg: JSON production output by default, console
// output when Development is set.
func New(cfg config.LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		return nil, fmt.Errorf("log level %q: %w", cfg.Level, err)
	}

	zc := zap.NewProductionConfig()
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.OutputPaths = []string{"stderr"}

	logger, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger, nil
}

// SanitizeError returns err's message with credentials removed.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}
	return SanitizeDSN(err.Error())
}

// SanitizeDSN removes credentials from a connection string or URL.
func SanitizeDSN(dsn string) string {
	if dsn == "" {
		return ""
	}
	sanitized := passwordPattern.ReplaceAllString(dsn, "${1}="+RedactedText)
	return userInfoPattern.ReplaceAllStringFunc(sanitized, func(m string) string {
		user := strings.TrimPrefix(m, "://")
		user = user[:strings.Index(user, ":")]
		return "://" + user + ":" + RedactedText + "@"
	})
}
