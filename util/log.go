package util

import (
	"log/slog"
	"os"
	"sync"
)

var (
	defaultLogger *slog.Logger
	logOnce       sync.Once
)

// InitLogger sets up the structured logger. Debug enables debug level
// output. The first call wins, later calls are ignored.
func InitLogger(debug bool) {
	logOnce.Do(func() {
		level := slog.LevelInfo
		if debug {
			level = slog.LevelDebug
		}
		handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
		defaultLogger = slog.New(handler)
	})
}

// Logger returns the default structured logger.
func Logger() *slog.Logger {
	InitLogger(false)
	return defaultLogger
}

// LogInfo logs an info level message.
func LogInfo(msg string, args ...any) {
	Logger().Info(msg, args...)
}

// LogWarn logs a warning level message.
func LogWarn(msg string, args ...any) {
	Logger().Warn(msg, args...)
}

// LogError logs an error level message.
func LogError(msg string, args ...any) {
	Logger().Error(msg, args...)
}

// LogDebug logs a debug level message.
func LogDebug(msg string, args ...any) {
	Logger().Debug(msg, args...)
}
