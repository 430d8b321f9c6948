package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextFieldsPropagate(t *testing.T) {
	var buf bytes.Buffer
	base := New(&Config{Level: "debug", Format: "json", Output: &buf, ServiceName: "test"})

	ctx := base.WithContext(context.Background())
	ctx = SetCorrelationID(ctx, "corr-1")
	ctx = SetJobID(ctx, "job-1")

	assert.Equal(t, "corr-1", GetCorrelationID(ctx))
	assert.Equal(t, "job-1", GetJobID(ctx))

	With(Fields{FieldDurationMs: int64(12)}).Info(ctx, "stage %s done", "VISION")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "stage VISION done", line["message"])
	assert.Equal(t, "corr-1", line[FieldCorrelationID])
	assert.Equal(t, "job-1", line[FieldJobID])
	assert.Equal(t, "test", line["service"])
	assert.EqualValues(t, 12, line[FieldDurationMs])
}

func TestFromContextFallsBackToDefault(t *testing.T) {
	assert.Same(t, GetDefault(), FromContext(context.Background()))
	assert.Empty(t, GetJobID(context.Background()))
}

func TestNewUnknownLevelDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	l := New(&Config{Level: "chatty", Output: &buf})

	l.Debug("hidden")
	assert.Zero(t, buf.Len())

	l.Info("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestWithElapsedRecordsMilliseconds(t *testing.T) {
	var buf bytes.Buffer
	ctx := New(&Config{Output: &buf}).WithContext(context.Background())

	With(Fields{FieldCount: 3}).WithElapsed(1500 * time.Millisecond).Warn(ctx, "slow")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.EqualValues(t, 1500, line[FieldDurationMs])
	assert.EqualValues(t, 3, line[FieldCount])
	assert.Equal(t, "warning", line["level"])
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_MAX_SIZE", "not-a-number")
	t.Setenv("LOG_COMPRESS", "false")
	t.Setenv("APP_ENV", "")

	cfg := LoadFromEnv()
	assert.Equal(t, "debug", cfg.Level)
	assert.Equal(t, 100, cfg.MaxSize)
	assert.False(t, cfg.Compress)
	assert.Equal(t, "local", cfg.Environment)
}

func TestNewFromEnvHonoursOutput(t *testing.T) {
	var buf bytes.Buffer
	l := NewFromEnv(&EnvConfig{Level: "info", Format: "text", Output: &buf, ServiceName: "cli"})

	l.Info("hello")
	assert.Contains(t, buf.String(), "hello")
	assert.Contains(t, buf.String(), "service=cli")
}
