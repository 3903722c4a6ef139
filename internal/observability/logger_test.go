// internal/observability/logger_test.go
package observability

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/halcyondata/browser-operator/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// syncBuffer adapts bytes.Buffer to zapcore.WriteSyncer.
type syncBuffer struct{ bytes.Buffer }

func (b *syncBuffer) Sync() error { return nil }

func TestInitialize(t *testing.T) {
	t.Run("console format is colorized", func(t *testing.T) {
		ResetForTest()
		var buf syncBuffer

		Initialize(config.LoggerConfig{Level: "debug", Format: "console"}, &buf)
		GetLogger().Info("hello from the console")
		Sync()

		out := buf.String()
		assert.Contains(t, out, "INFO")
		assert.Contains(t, out, "hello from the console")
		assert.Contains(t, out, colorGreen)
		assert.Contains(t, out, colorReset)
	})

	t.Run("json format produces valid json", func(t *testing.T) {
		ResetForTest()
		var buf syncBuffer

		Initialize(config.LoggerConfig{Level: "info", Format: "json"}, &buf)
		GetLogger().Warn("structured message", zap.String("key", "value"))
		Sync()

		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
		assert.Equal(t, "warn", entry["level"])
		assert.Equal(t, "structured message", entry["msg"])
		assert.Equal(t, "value", entry["key"])
	})

	t.Run("writes to a log file when configured", func(t *testing.T) {
		ResetForTest()
		logFile := filepath.Join(t.TempDir(), "operator.log")
		var buf syncBuffer

		Initialize(config.LoggerConfig{
			Level:   "debug",
			Format:  "json",
			LogFile: logFile,
			MaxSize: 1,
		}, &buf)
		GetLogger().Error("file sink message")
		Sync()

		content, err := os.ReadFile(logFile)
		require.NoError(t, err)
		assert.Contains(t, string(content), "file sink message")
	})

	t.Run("console_quiet suppresses console output", func(t *testing.T) {
		ResetForTest()
		logFile := filepath.Join(t.TempDir(), "operator.log")
		var buf syncBuffer

		Initialize(config.LoggerConfig{
			Level:        "info",
			Format:       "console",
			LogFile:      logFile,
			ConsoleQuiet: true,
		}, &buf)
		GetLogger().Info("quiet message")
		Sync()

		assert.Empty(t, buf.String())
		content, err := os.ReadFile(logFile)
		require.NoError(t, err)
		assert.Contains(t, string(content), "quiet message")
	})

	t.Run("initializes only once", func(t *testing.T) {
		ResetForTest()
		var first, second syncBuffer

		Initialize(config.LoggerConfig{Level: "info", Format: "console"}, &first)
		logger1 := GetLogger()
		Initialize(config.LoggerConfig{Level: "debug", Format: "json"}, &second)
		logger2 := GetLogger()

		assert.Equal(t, logger1, logger2)
		logger2.Info("one writer only")
		Sync()

		assert.Contains(t, first.String(), "one writer only")
		assert.Empty(t, second.String())
	})
}

func TestGetLogger(t *testing.T) {
	t.Run("returns a fallback logger before initialization", func(t *testing.T) {
		ResetForTest()
		logger := GetLogger()
		require.NotNil(t, logger)
	})

	t.Run("returns the global logger after initialization", func(t *testing.T) {
		ResetForTest()
		var buf syncBuffer
		Initialize(config.LoggerConfig{Level: "info", Format: "json"}, &buf)

		logger := GetLogger()
		assert.Equal(t, globalLogger.Load(), logger)
	})
}

var _ zapcore.WriteSyncer = (*syncBuffer)(nil)
