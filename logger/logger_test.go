package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFallsBackOnUnknownValues(t *testing.T) {
	l, err := New("chatty", "xml", "stderr")
	require.NoError(t, err)

	assert.Equal(t, logrus.InfoLevel, l.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, l.Formatter)
	assert.Equal(t, os.Stderr, l.Out)
}

func TestNewWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "signin.log")

	l, err := New("debug", "text", path)
	require.NoError(t, err)
	l.WithField("attempt", 1).Debug("Sign-in attempt")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Sign-in attempt")
	assert.Contains(t, string(data), "attempt=1")
}

func TestGetLoggerUsesInitialisedLogger(t *testing.T) {
	prev := Logger
	defer func() { Logger = prev }()

	require.NoError(t, InitLogger("warn", "json", "stdout"))
	assert.Equal(t, logrus.WarnLevel, GetLogger().GetLevel())
}
