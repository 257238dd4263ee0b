// Package logger holds the process-wide logrus logger.
package logger

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

const timestampFormat = "2006-01-02T15:04:05.000Z07:00"

var Logger *logrus.Logger

// New builds a logger. Unknown levels fall back to info and unknown formats
// to JSON. output is "stdout", "stderr" or a file path.
func New(level, format, output string) (*logrus.Logger, error) {
	l := logrus.New()

	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	l.SetLevel(logLevel)

	switch strings.ToLower(format) {
	case "text":
		l.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: timestampFormat,
		})
	default:
		l.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: timestampFormat,
		})
	}

	w, err := openOutput(output)
	if err != nil {
		return nil, err
	}
	l.SetOutput(w)
	return l, nil
}

func openOutput(output string) (io.Writer, error) {
	switch output {
	case "", "stdout":
		return os.Stdout, nil
	case "stderr":
		return os.Stderr, nil
	}
	if err := os.MkdirAll(filepath.Dir(output), 0755); err != nil {
		return nil, err
	}
	return os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
}

// InitLogger replaces the global logger
func InitLogger(level, format, output string) error {
	l, err := New(level, format, output)
	if err != nil {
		return err
	}
	Logger = l
	return nil
}

// GetLogger returns the global logger, creating a JSON stdout logger on
// first use
func GetLogger() *logrus.Logger {
	if Logger == nil {
		Logger, _ = New("info", "json", "stdout")
	}
	return Logger
}

// WithField creates a logger entry with a single field
func WithField(key string, value interface{}) *logrus.Entry {
	return GetLogger().WithField(key, value)
}

// WithFields creates a logger entry with multiple fields
func WithFields(fields logrus.Fields) *logrus.Entry {
	return GetLogger().WithFields(fields)
}

// WithError creates a logger entry with an error field
func WithError(err error) *logrus.Entry {
	return GetLogger().WithError(err)
}
