// Package logger configures the process-wide structured logger: JSON to
// stdout, level taken from configuration or the LOG_LEVEL environment
// variable.
package logger

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
)

var programLevel = new(slog.LevelVar)

// Setup installs a JSON slog handler as the default logger and returns
// it. Call once at process start.
func Setup(level string) (*slog.Logger, error) {
	parsed, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}
	programLevel.Set(parsed)

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: programLevel})
	log := slog.New(handler)
	slog.SetDefault(log)
	return log, nil
}

// SetLevel changes the level of the running logger.
func SetLevel(level slog.Level) {
	programLevel.Set(level)
}

// ParseLevel maps a level name to its slog level. Empty input means INFO.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "INFO":
		return slog.LevelInfo, nil
	case "DEBUG":
		return slog.LevelDebug, nil
	case "WARN", "WARNING":
		return slog.LevelWarn, nil
	case "ERROR":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}
