package tmem

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
	ctx := context.Background()

	// Per-operation success is debug and filtered out.
	l.LogStore(ctx, 1, false, nil)
	l.LogLoad(ctx, 1, nil)
	l.LogInvalidate(ctx, 1, true)
	assert.Empty(t, buf.String())

	l.LogViolation(ctx, errors.New("double release"))

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "ERROR", rec["level"])
	assert.Equal(t, "slot protocol violation", rec["msg"])
	assert.Equal(t, "double release", rec["error"])
}

func TestLogger_Teardown(t *testing.T) {
	tests := []struct {
		name     string
		leftover int
		err      error
		level    string
	}{
		{"clean", 0, nil, "INFO"},
		{"leftover pages", 3, nil, "WARN"},
		{"failure", 0, errors.New("munmap"), "ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			l := NewLogger(slog.NewJSONHandler(&buf, nil))

			l.LogTeardown(context.Background(), tt.leftover, tt.err)

			var rec map[string]any
			require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
			assert.Equal(t, tt.level, rec["level"])
		})
	}
}

func TestLogger_WithKey(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(slog.NewJSONHandler(&buf, nil)).WithKey(42)

	l.Info("hello")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.EqualValues(t, 42, rec["key"])
}

func TestLogger_Cache(t *testing.T) {
	var buf bytes.Buffer
	c, err := New(context.Background(),
		WithCapacity(2),
		WithLogger(NewLogger(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))),
	)
	require.NoError(t, err)

	require.NoError(t, c.Store(5, new(Page)))
	require.NoError(t, c.Close())

	out := buf.String()
	assert.Contains(t, out, "cache opened")
	assert.Contains(t, out, "store completed")
	assert.Contains(t, out, "key=5")
	assert.Contains(t, out, "cache closed with pages still cached")
	assert.Contains(t, out, "leftover_pages=1")
}

func TestNoopLogger(t *testing.T) {
	l := NoopLogger()
	assert.False(t, l.Enabled(context.Background(), slog.LevelError))

	// nil options fall back to no-op implementations
	o := applyOptions([]Option{WithLogger(nil), WithMetricsCollector(nil)})
	assert.NotNil(t, o.logger)
	assert.IsType(t, NoopMetricsCollector{}, o.metricsCollector)
}
