package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Run("create logger with console output", func(t *testing.T) {
		var buf bytes.Buffer
		logger, err := New(Config{Level: "info", Console: true, Output: &buf})
		require.NoError(t, err)
		defer logger.Close()

		logger.Info().Str("extension", "foobar").Msg("initialized")
		assert.Contains(t, buf.String(), `"extension":"foobar"`)
		assert.Contains(t, buf.String(), `"message":"initialized"`)
	})

	t.Run("pretty console output", func(t *testing.T) {
		var buf bytes.Buffer
		logger, err := New(Config{Level: "info", Console: true, Pretty: true, Output: &buf})
		require.NoError(t, err)
		defer logger.Close()

		logger.Info().Msg("hello")
		assert.Contains(t, buf.String(), "INF")
		assert.Contains(t, buf.String(), "hello")
	})

	t.Run("create logger with file output", func(t *testing.T) {
		logFile := filepath.Join(t.TempDir(), "logs", "test.log")

		logger, err := New(Config{Level: "debug", File: logFile, MaxSize: 1})
		require.NoError(t, err)

		logger.Debug().Msg("test message")
		require.NoError(t, logger.Close())

		data, err := os.ReadFile(logFile)
		require.NoError(t, err)
		assert.Contains(t, string(data), "test message")
	})

	t.Run("create logger with redaction", func(t *testing.T) {
		var buf bytes.Buffer
		logger, err := New(Config{Level: "info", Console: true, Redaction: true, Output: &buf})
		require.NoError(t, err)
		defer logger.Close()
		assert.NotNil(t, logger.redactor)

		logger.Info().Str("db", "mongodb://u:pw@host/db").Msg("settings")
		assert.NotContains(t, buf.String(), "pw@")
	})

	t.Run("invalid level falls back to info", func(t *testing.T) {
		logger, err := New(Config{Level: "loud", Output: &bytes.Buffer{}})
		require.NoError(t, err)
		defer logger.Close()

		assert.Equal(t, zerolog.InfoLevel, logger.GetZerolog().GetLevel())
	})
}

func TestLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Level: "warn", Console: true, Output: &buf})
	require.NoError(t, err)
	defer logger.Close()

	logger.Debug().Msg("debug message")
	logger.Info().Msg("info message")
	logger.Warn().Msg("warn message")
	logger.Error().Msg("error message")

	out := buf.String()
	assert.NotContains(t, out, "debug message")
	assert.NotContains(t, out, "info message")
	assert.Contains(t, out, "warn message")
	assert.Contains(t, out, "error message")
}

func TestLoggerComponent(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Level: "info", Console: true, Output: &buf})
	require.NoError(t, err)
	defer logger.Close()

	child := logger.Component("initializer")
	child.Info().Msg("pass started")

	assert.Contains(t, buf.String(), `"component":"initializer"`)
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "info", cfg.Level)
	assert.True(t, cfg.Console)
	assert.True(t, cfg.Pretty)
	assert.True(t, cfg.Redaction)
	assert.Equal(t, 100, cfg.MaxSize)
	assert.Equal(t, 7, cfg.MaxAge)
	assert.True(t, cfg.Compress)
}
