package utils

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected slog.Level
		wantErr  bool
	}{
		{name: "debug level", input: "DEBUG", expected: slog.LevelDebug},
		{name: "info level", input: "INFO", expected: slog.LevelInfo},
		{name: "empty defaults to info", input: "", expected: slog.LevelInfo},
		{name: "warn level", input: "WARN", expected: slog.LevelWarn},
		{name: "warning level", input: "WARNING", expected: slog.LevelWarn},
		{name: "error level", input: "ERROR", expected: slog.LevelError},
		{name: "case insensitive", input: "debug", expected: slog.LevelDebug},
		{name: "invalid level", input: "INVALID", expected: slog.LevelInfo, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseLogLevel(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestNewHandler(t *testing.T) {
	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		logger := slog.New(NewHandler(&buf, slog.LevelInfo, "json"))
		logger.Info("folder created", "component", "directory", "path", "docs/")

		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
		assert.Equal(t, "folder created", entry["msg"])
		assert.Equal(t, "directory", entry["component"])
		assert.Equal(t, "docs/", entry["path"])
	})

	t.Run("text filters below level", func(t *testing.T) {
		var buf bytes.Buffer
		logger := slog.New(NewHandler(&buf, slog.LevelWarn, "text"))
		logger.Info("hidden")
		logger.Warn("shown")

		out := buf.String()
		assert.NotContains(t, out, "hidden")
		assert.Contains(t, out, "msg=shown")
	})
}

func TestNewLogger(t *testing.T) {
	t.Run("writes to file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "clouddrive.log")
		logger, closer, err := NewLogger(LoggerOptions{Level: "debug", Format: "text", File: path})
		require.NoError(t, err)

		logger.Debug("listing", "prefix", "tenant-1-files/")
		require.NoError(t, closer.Close())

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.True(t, strings.Contains(string(data), "prefix=tenant-1-files/"))
	})

	t.Run("rejects invalid level", func(t *testing.T) {
		_, _, err := NewLogger(LoggerOptions{Level: "loud"})
		assert.Error(t, err)
	})
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		input    int64
		expected string
	}{
		{0, "0 B"},
		{512, "512 B"},
		{1024, "1.0 KB"},
		{1536, "1.5 KB"},
		{1048576, "1.0 MB"},
		{1073741824, "1.0 GB"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, FormatBytes(tt.input))
	}
}

func TestParseBytes(t *testing.T) {
	tests := []struct {
		input    string
		expected int64
		wantErr  bool
	}{
		{input: "1024", expected: 1024},
		{input: "64KB", expected: 64 * 1024},
		{input: "64k", expected: 64 * 1024},
		{input: "10M", expected: 10 * 1024 * 1024},
		{input: "1.5GB", expected: 1536 * 1024 * 1024},
		{input: "", wantErr: true},
		{input: "lots", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseBytes(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}
