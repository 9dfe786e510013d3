package observability

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var entries []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &entry), line)
		entries = append(entries, entry)
	}
	return entries
}

func TestLogger_JSONOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(INFO, &buf)

	logger.Info("test message", map[string]interface{}{"index": "docs", "count": 3})

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 1)
	assert.Equal(t, "INFO", entries[0]["level"])
	assert.Equal(t, "test message", entries[0]["msg"])
	assert.Equal(t, "docs", entries[0]["index"])
	assert.EqualValues(t, 3, entries[0]["count"])
	assert.Contains(t, entries[0], "time")
	assert.Contains(t, entries[0]["caller"], "logging_test.go")
}

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(INFO, &buf)

	logger.Debug("hidden")
	assert.Empty(t, buf.String())
	assert.False(t, logger.Enabled(DEBUG))

	logger.SetLevel(DEBUG)
	logger.Debug("shown")
	assert.Contains(t, buf.String(), "shown")

	logger.SetLevel(ERROR)
	buf.Reset()
	logger.Warn("hidden")
	logger.Error("shown")
	entries := decodeLines(t, &buf)
	require.Len(t, entries, 1)
	assert.Equal(t, "ERROR", entries[0]["level"])
}

func TestLogger_FieldsAreScoped(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	base := NewFromZap(zap.New(core))

	child := base.WithField("index", "docs").WithFields(map[string]interface{}{"threads": 4})
	child.Info("child")
	base.Info("base")

	entries := logs.AllUntimed()
	require.Len(t, entries, 2)
	assert.Equal(t, map[string]interface{}{"index": "docs", "threads": int64(4)}, entries[0].ContextMap())
	assert.Empty(t, entries[1].ContextMap())
}

func TestLogger_CallFieldsOverrideScoped(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := NewFromZap(zap.New(core)).WithField("index", "docs")

	logger.Warn("override", map[string]interface{}{"index": "images"})

	entries := logs.FilterMessage("override").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
	assert.Equal(t, "images", entries[0].ContextMap()["index"])
}

func TestLogger_SharedLevel(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	parent := NewFromZap(zap.New(core))
	child := parent.WithField("k", "v")

	parent.SetLevel(WARN)
	child.Info("dropped")
	child.Warn("kept")

	assert.Equal(t, 0, logs.FilterMessage("dropped").Len())
	assert.Equal(t, 1, logs.FilterMessage("kept").Len())
}

func TestLogger_ErrorField(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := NewFromZap(zap.New(core))

	logger.Error("insert failed", map[string]interface{}{"error": errors.New("boom")})

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "boom", entries[0].ContextMap()["error"])
}

func TestLogger_LogOperation(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := NewFromZap(zap.New(core))

	err := logger.LogOperation("save", func() error { return nil })
	require.NoError(t, err)
	assert.Equal(t, 1, logs.FilterMessage("operation started").Len())
	assert.Equal(t, 1, logs.FilterMessage("operation completed").Len())

	want := errors.New("write failed")
	err = logger.LogOperationWithFields("load", map[string]interface{}{"index": "docs"}, func() error { return want })
	assert.ErrorIs(t, err, want)

	failed := logs.FilterMessage("operation failed").All()
	require.Len(t, failed, 1)
	assert.Equal(t, "load", failed[0].ContextMap()["operation"])
	assert.Equal(t, "docs", failed[0].ContextMap()["index"])
}

func TestLogger_ZapCarriesFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := NewFromZap(zap.New(core)).WithField("component", "rest")

	logger.Zap().Info("direct")

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "rest", entries[0].ContextMap()["component"])
}

func TestLogger_ConsoleFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithFormat(INFO, "console", &buf)

	logger.Info("console message", map[string]interface{}{"index": "docs"})

	out := buf.String()
	assert.Contains(t, out, "INFO")
	assert.Contains(t, out, "console message")
	assert.Contains(t, out, `"index": "docs"`)
}

func TestNopLogger(t *testing.T) {
	logger := NewNopLogger()
	logger.Info("nothing")
	assert.NoError(t, logger.LogOperation("noop", func() error { return nil }))
}

func TestLogLevel_String(t *testing.T) {
	tests := []struct {
		level    LogLevel
		expected string
	}{
		{DEBUG, "DEBUG"},
		{INFO, "INFO"},
		{WARN, "WARN"},
		{ERROR, "ERROR"},
		{FATAL, "FATAL"},
		{LogLevel(99), "UNKNOWN"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, tt.level.String())
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected LogLevel
		wantErr  bool
	}{
		{"debug", DEBUG, false},
		{"INFO", INFO, false},
		{"", INFO, false},
		{"warning", WARN, false},
		{"Error", ERROR, false},
		{"fatal", FATAL, false},
		{"verbose", INFO, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			level, err := ParseLogLevel(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.expected, level)
		})
	}
}

func TestAccessLogger(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	al := NewAccessLogger(NewFromZap(zap.New(core)))

	al.LogAccess("POST", "/v1/indexes/docs/query", "200", 15*time.Millisecond, map[string]interface{}{
		"request_id": "abc",
	})

	entries := logs.FilterMessage("access").All()
	require.Len(t, entries, 1)
	ctx := entries[0].ContextMap()
	assert.Equal(t, "POST", ctx["method"])
	assert.Equal(t, "/v1/indexes/docs/query", ctx["path"])
	assert.Equal(t, "200", ctx["status"])
	assert.Equal(t, "abc", ctx["request_id"])
}
