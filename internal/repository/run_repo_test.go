package repository

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/scanium/enricher/internal/config"
	"github.com/scanium/enricher/internal/domain"
	"github.com/scanium/enricher/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRunRepo(t *testing.T) *RunRepository {
	t.Helper()
	db, err := InitAuditDB(config.AuditConfig{
		Enabled: true,
		Driver:  "sqlite",
		Path:    filepath.Join(t.TempDir(), "audit", "runs.db"),
	})
	require.NoError(t, err)
	return NewRunRepository(db)
}

func finishedJob(id string, at time.Time) *domain.EnrichmentJob {
	job := domain.NewEnrichmentJob(id, "corr-"+id, at)
	job.ItemID = "item-1"
	job.DomainPackID = "home_resale"
	_ = job.Advance(domain.StageVisionStarted, at)
	_ = job.Advance(domain.StageVisionDone, at.Add(800*time.Millisecond))
	_ = job.Advance(domain.StageAttributesStarted, at.Add(800*time.Millisecond))
	job.ItemAttributes = map[string]domain.Attribute{
		"brand": {Value: "Nike", Confidence: 0.97, Source: domain.SourceLogo},
	}
	_ = job.Advance(domain.StageAttributesDone, at.Add(900*time.Millisecond))
	_ = job.Advance(domain.StageDraftStarted, at.Add(900*time.Millisecond))
	job.Draft = &domain.Draft{Title: "Nike sneaker", GeneratedBy: domain.DraftModeTemplate}
	_ = job.Advance(domain.StageDraftDone, at.Add(1200*time.Millisecond))
	return job
}

func TestRecordSummarizesTerminalJob(t *testing.T) {
	repo := newRunRepo(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Record(ctx, finishedJob("req-1", at)))

	run, err := repo.GetByRequestID(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StageDraftDone, run.FinalStage)
	assert.Equal(t, domain.DraftModeTemplate, run.DraftMode)
	assert.Equal(t, 1, run.AttributeCount)
	assert.Equal(t, int64(800), run.VisionMs)
	assert.Equal(t, int64(100), run.AttributesMs)
	assert.Equal(t, int64(300), run.DraftMs)
	assert.Equal(t, int64(1200), run.TotalMs)
}

func TestRecordIsIdempotent(t *testing.T) {
	repo := newRunRepo(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Record(ctx, finishedJob("req-1", at)))
	require.NoError(t, repo.Record(ctx, finishedJob("req-1", at)))

	failed := domain.NewEnrichmentJob("req-2", "", at)
	require.NoError(t, failed.Fail(domain.StepVision, domain.ErrorKindVisionTimeout, "deadline", at.Add(time.Second)))
	require.NoError(t, repo.Record(ctx, failed))

	counts, err := repo.CountByStage(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[domain.StageDraftDone])
	assert.Equal(t, int64(1), counts[domain.StageFailed])
}

func TestInitAuditDBLogsDriver(t *testing.T) {
	var buf bytes.Buffer
	prev := logger.GetDefault()
	logger.SetDefaultLogger(logger.New(&logger.Config{Output: &buf, ServiceName: "test"}))
	t.Cleanup(func() { logger.SetDefaultLogger(prev) })

	db, err := InitAuditDB(config.AuditConfig{
		Enabled: true,
		Driver:  "sqlite",
		Path:    filepath.Join(t.TempDir(), "runs.db"),
	})
	require.NoError(t, err)
	assert.True(t, db.Migrator().HasTable(&domain.EnrichmentRun{}))
	assert.Contains(t, buf.String(), "Initializing audit database with driver")
	assert.Contains(t, buf.String(), "sqlite")
}
