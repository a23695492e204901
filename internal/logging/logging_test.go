package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gmontielDeltree/fieldpartner-backoffice-sub001/internal/model"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"", slog.LevelInfo, false},
		{"DEBUG", slog.LevelDebug, false},
		{" warning ", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"verbose", slog.LevelInfo, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantErr, err != nil)
		})
	}
}

func TestNewJSONWithComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := ForComponent(New(model.LoggingConfig{Level: "warn", Format: "json"}, &buf), "store")

	logger.Info("dropped")
	logger.Warn("kept", "id", "a1")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "kept", record["msg"])
	assert.Equal(t, "store", record["component"])
	assert.Equal(t, "a1", record["id"])
}

func TestNewReportsInvalidSettings(t *testing.T) {
	var buf bytes.Buffer
	New(model.LoggingConfig{Level: "loud", Format: "xml"}, &buf)

	out := buf.String()
	assert.Contains(t, out, "invalid logging level")
	assert.Contains(t, out, "invalid logging format")
}
