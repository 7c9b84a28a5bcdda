package logging

import (
	"bytes"
	"log"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captured(l *Logger) *bytes.Buffer {
	var buf bytes.Buffer
	l.logger = log.New(&buf, "TEST: ", 0)
	return &buf
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name    string
		want    LogLevel
		wantErr bool
	}{
		{"error", LevelError, false},
		{"WARN", LevelWarn, false},
		{"warning", LevelWarn, false},
		{" Info ", LevelInfo, false},
		{"debug", LevelDebug, false},
		{"TRACE", LevelTrace, false},
		{"loud", LevelInfo, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.name)
		if tt.wantErr {
			assert.Error(t, err, tt.name)
			continue
		}
		require.NoError(t, err, tt.name)
		assert.Equal(t, tt.want, got, tt.name)
	}
}

func TestLevelFiltering(t *testing.T) {
	l := NewLogger("TEST")
	buf := captured(l)

	l.SetLevel(LevelWarn)
	l.Info("hidden")
	l.Warn("shown %d", 1)
	l.Error("shown %d", 2)

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "[WARN] shown 1")
	assert.Contains(t, out, "[ERROR] shown 2")
	assert.True(t, l.Enabled(LevelError))
	assert.False(t, l.Enabled(LevelDebug))
}

func TestWithPrefixSharesLevel(t *testing.T) {
	l := NewLogger("TEST")
	buf := captured(l)

	child := l.WithPrefix("bridge").WithPrefix("serve")
	child.Debug("before")
	require.NoError(t, l.SetLevelName("trace"))
	child.Debug("after")
	child.FuseDebug("request")

	out := buf.String()
	assert.NotContains(t, out, "before")
	assert.Contains(t, out, "[DEBUG] bridge/serve: after")
	assert.Contains(t, out, "[TRACE] bridge/serve: request")
	assert.Equal(t, LevelTrace, child.Level())

	assert.Error(t, l.SetLevelName("nope"))
	assert.Equal(t, LevelTrace, l.Level())
}
