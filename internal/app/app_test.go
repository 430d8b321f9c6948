package app

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"path/filepath"
	"testing"
	"time"

	"github.com/scanium/enricher/internal/config"
	"github.com/scanium/enricher/internal/domain"
	"github.com/scanium/enricher/internal/logger"
	"github.com/scanium/enricher/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Vision.Provider = "mock"
	cfg.Draft.Provider = "mock"
	return cfg
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 4, 4))))
	return buf.Bytes()
}

func TestBuildRunsJobEndToEnd(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.Enabled = true
	cfg.Audit.Enabled = true
	cfg.Audit.Path = filepath.Join(t.TempDir(), "audit.db")

	var out bytes.Buffer
	log := logger.New(&logger.Config{Level: "debug", Output: &out, ServiceName: "test"})

	ctx := context.Background()
	a, err := Build(ctx, cfg, log)
	require.NoError(t, err)
	require.NotNil(t, a.Runs)

	res, err := a.Pipeline.Submit(ctx, service.SubmitRequest{
		Image:  pngBytes(t),
		Format: "png",
		ItemID: "item-1",
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		st, err := a.Pipeline.GetStatus(ctx, res.RequestID)
		return err == nil && st.Stage == domain.StageDraftDone
	}, 5*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		run, err := a.Runs.GetByRequestID(ctx, res.RequestID)
		return err == nil && run.FinalStage == domain.StageDraftDone
	}, 5*time.Second, 10*time.Millisecond)

	st, err := a.Pipeline.GetStatus(ctx, res.RequestID)
	require.NoError(t, err)
	assert.Equal(t, cfg.Enrich.DefaultDomainPackID, st.DomainPackID)
	assert.NotEmpty(t, st.Attributes)
	require.NotNil(t, st.Draft)
	assert.NotEmpty(t, st.Draft.Title)

	closeCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	require.NoError(t, a.Close(closeCtx))

	_, err = a.Pipeline.Submit(ctx, service.SubmitRequest{Image: pngBytes(t), Format: "png", ItemID: "item-2"})
	assert.ErrorIs(t, err, domain.ErrShuttingDown)
}

func TestBuildRejectsOpenAIVisionWithoutKey(t *testing.T) {
	cfg := testConfig(t)
	cfg.Vision.Provider = "openai"
	cfg.Vision.APIKey = ""

	_, err := Build(context.Background(), cfg, logger.New(&logger.Config{Output: &bytes.Buffer{}}))
	assert.Error(t, err)
}
