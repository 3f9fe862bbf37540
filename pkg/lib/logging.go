package lib

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Standard field names for structured logging
const (
	FieldComponent  = "component"
	FieldHandleID   = "handle_id"
	FieldPID        = "pid"
	FieldPort       = "port"
	FieldConfigPath = "config_path"
	FieldScenario   = "scenario"
	FieldDuration   = "duration_ms"
	FieldLiveness   = "liveness"
)

// NewLogger builds a logrus logger writing to stderr.
func NewLogger(level string, format string) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)

	switch level {
	case "debug":
		logger.SetLevel(logrus.DebugLevel)
	case "info":
		logger.SetLevel(logrus.InfoLevel)
	case "warn":
		logger.SetLevel(logrus.WarnLevel)
	case "error":
		logger.SetLevel(logrus.ErrorLevel)
	default:
		logger.SetLevel(logrus.InfoLevel)
	}

	if format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	}

	return logger
}

// DiscardLogger is the default for library packages; callers inject a real one.
func DiscardLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// WithHandle tags a logger with the identity of a launched daemon.
func WithHandle(logger logrus.FieldLogger, handle *ProcessHandle) logrus.FieldLogger {
	if handle == nil {
		return logger
	}
	return logger.WithFields(logrus.Fields{
		FieldHandleID:   handle.ID,
		FieldPID:        handle.PID,
		FieldConfigPath: handle.ConfigPath,
	})
}
