package debuglog

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogLevelString(t *testing.T) {
	tests := []struct {
		level    LogLevel
		expected string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{LevelOff, "OFF"},
		{LogLevel(42), "UNKNOWN"},
	}

	for _, test := range tests {
		assert.Equal(t, test.expected, test.level.String())
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected LogLevel
	}{
		{"DEBUG", LevelDebug},
		{"debug", LevelDebug},
		{"INFO", LevelInfo},
		{" info ", LevelInfo},
		{"WARN", LevelWarn},
		{"WARNING", LevelWarn},
		{"error", LevelError},
		{"off", LevelOff},
		{"INVALID", LevelInfo},
		{"", LevelInfo},
	}

	for _, test := range tests {
		assert.Equal(t, test.expected, ParseLogLevel(test.input), "input %q", test.input)
	}
}

func TestSetupWithLevel(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "nested", "test.log")

	require.NoError(t, Setup(LevelInfo, logPath))
	assert.Equal(t, LevelInfo, GetLevel())

	Debugf("debug message")
	Infof("info message")
	Warnf("warn message")
	Errorf("error message")

	require.NoError(t, Close())

	content, err := os.ReadFile(logPath)
	require.NoError(t, err)

	logContent := string(content)
	assert.NotContains(t, logContent, "debug message")
	assert.Contains(t, logContent, "[INFO] info message")
	assert.Contains(t, logContent, "[WARN] warn message")
	assert.Contains(t, logContent, "[ERROR] error message")
}

func TestSetupWithLevelOff(t *testing.T) {
	require.NoError(t, Setup(LevelOff))
	assert.Equal(t, LevelOff, GetLevel())

	// Must not panic without a logger.
	Debugf("debug message")
	Errorf("error message")
	WithFields(Fields{"k": "v"}).Errorf("field message")
}

func TestFieldLogger(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "field_test.log")

	require.NoError(t, Setup(LevelDebug, logPath))
	defer Close()

	logger := WithFields(Fields{
		"component": "test",
		"action":    "testing",
		"count":     42,
	})
	logger.Infof("test message with fields")

	require.NoError(t, Close())

	content, err := os.ReadFile(logPath)
	require.NoError(t, err)

	assert.Contains(t, string(content), "test message with fields [action=testing component=test count=42]")
}

func TestSetLevel(t *testing.T) {
	defer SetLevel(LevelOff)

	SetLevel(LevelDebug)
	assert.Equal(t, LevelDebug, GetLevel())

	SetLevel(LevelError)
	assert.Equal(t, LevelError, GetLevel())
}

func TestFieldLoggerWith(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf, LevelDebug)
	defer Setup(LevelOff)

	base := WithFields(Fields{"machine": "people", "fetch": 1})
	child := base.With(Fields{"fetch": 2})
	child.Debugf("started")
	base.Debugf("cancelled")

	out := buf.String()
	assert.Contains(t, out, "[DEBUG] started [fetch=2 machine=people]")
	assert.Contains(t, out, "[DEBUG] cancelled [fetch=1 machine=people]")
}

func TestSetOutputRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf, LevelWarn)
	defer Setup(LevelOff)

	Infof("hidden")
	Warnf("shown %d", 1)

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "[WARN] shown 1")
}
