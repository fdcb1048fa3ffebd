package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNewLogger(t *testing.T) {
	t.Run("生产模式输出JSON", func(t *testing.T) {
		var buf bytes.Buffer
		l, err := NewLogger(Config{Level: "info", output: zapcore.AddSync(&buf)})
		require.NoError(t, err)

		l.Info("inbox created", zap.String("address", "test-abc@localhost.local"))
		l.Debug("hidden")
		require.NoError(t, l.Sync())

		lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
		require.Len(t, lines, 1)

		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
		assert.Equal(t, "inbox created", entry["message"])
		assert.Equal(t, "info", entry["level"])
		assert.Equal(t, "test-abc@localhost.local", entry["address"])
	})

	t.Run("无效级别回落到info", func(t *testing.T) {
		var buf bytes.Buffer
		l, err := NewLogger(Config{Level: "nonsense", output: zapcore.AddSync(&buf)})
		require.NoError(t, err)
		assert.True(t, l.Core().Enabled(zapcore.InfoLevel))
		assert.False(t, l.Core().Enabled(zapcore.DebugLevel))
	})

	t.Run("写入日志文件", func(t *testing.T) {
		var buf bytes.Buffer
		path := filepath.Join(t.TempDir(), "logs", "app.log")
		l, err := NewLogger(Config{Level: "debug", LogFile: path, output: zapcore.AddSync(&buf)})
		require.NoError(t, err)

		l.Warn("smtp session aborted")
		require.NoError(t, l.Sync())

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(data), "smtp session aborted")
		assert.Contains(t, buf.String(), "smtp session aborted")
	})
}

func TestNewStdLog(t *testing.T) {
	var buf bytes.Buffer
	l, err := NewLogger(Config{Level: "debug", output: zapcore.AddSync(&buf)})
	require.NoError(t, err)

	std := NewStdLog(l, "smtp")
	std.Printf("accept error: %v", "boom")
	require.NoError(t, l.Sync())

	out := buf.String()
	assert.Contains(t, out, "accept error: boom")
	assert.Contains(t, out, `"logger":"smtp"`)
	assert.Contains(t, out, `"level":"warn"`)
}
