package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{in: "", want: slog.LevelInfo},
		{in: "debug", want: slog.LevelDebug},
		{in: "WARN", want: slog.LevelWarn},
		{in: "error", want: slog.LevelError},
		{in: "chatty", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFanOut(t *testing.T) {
	var jsonBuf, consoleBuf bytes.Buffer
	logger := New(&jsonBuf, &consoleBuf, slog.LevelWarn)

	logger.With("component", "transfer").Debug("chunk uploaded", "index", 3)
	logger.Warn("retrying", "attempt", 2)

	lines := bytes.Split(bytes.TrimSpace(jsonBuf.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)

	var first map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &first))
	assert.Equal(t, "chunk uploaded", first["msg"])
	assert.Equal(t, "transfer", first["component"])

	assert.NotContains(t, consoleBuf.String(), "chunk uploaded")
	assert.Contains(t, consoleBuf.String(), "retrying")
}

func TestNewLoggerRejectsBadLevel(t *testing.T) {
	_, _, err := NewLogger(filepath.Join(t.TempDir(), "x.log"), "loud")
	assert.Error(t, err)
}

func TestRedactsCredentials(t *testing.T) {
	var jsonBuf, consoleBuf bytes.Buffer
	logger := New(&jsonBuf, &consoleBuf, slog.LevelInfo)

	logger.Info("backend configured", "backend", "webdav", "password", "hunter2", "Access_Token", "abc123")

	for _, out := range []string{jsonBuf.String(), consoleBuf.String()} {
		assert.NotContains(t, out, "hunter2")
		assert.NotContains(t, out, "abc123")
		assert.Contains(t, out, redacted)
		assert.Contains(t, out, "webdav")
	}
}
