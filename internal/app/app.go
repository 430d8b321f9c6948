// Package app assembles the enrichment pipeline from configuration.
package app

import (
	"context"
	"fmt"

	"github.com/scanium/enricher/internal/cache"
	"github.com/scanium/enricher/internal/config"
	"github.com/scanium/enricher/internal/logger"
	"github.com/scanium/enricher/internal/repository"
	"github.com/scanium/enricher/internal/service"
	"github.com/scanium/enricher/internal/storage"
)

// App owns the pipeline and the background workers that serve it.
type App struct {
	Pipeline *service.Pipeline
	Store    *repository.MemoryResultStore
	Cache    *cache.VisionCache
	Runs     *repository.RunRepository

	sweeper *repository.Sweeper
	closers []func() error
}

// Build creates every component the configuration enables. Storage and audit
// are optional; the pipeline runs without them.
func Build(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	visionProvider, err := service.NewVisionProvider(cfg.Vision)
	if err != nil {
		return nil, fmt.Errorf("vision provider: %w", err)
	}
	draftProvider, err := service.NewDraftProvider(cfg.Draft)
	if err != nil {
		return nil, fmt.Errorf("draft provider: %w", err)
	}
	if draftProvider == nil {
		log.Warn("No draft provider key configured, drafts will use the template")
	}

	a := &App{
		Store: repository.NewMemoryResultStore(cfg.Enrich.ResultRetention(), nil),
		Cache: cache.NewVisionCache(cache.Options{
			TTL:           cfg.Enrich.VisionCacheTTL(),
			Dedupe:        cfg.Enrich.DedupeVisionCalls,
			FlightTimeout: cfg.Enrich.VisionTimeout(),
		}),
	}

	deps := service.PipelineDeps{
		Store:      a.Store,
		Vision:     service.NewVisionStage(visionProvider, a.Cache, cfg.Enrich.VisionTimeout(), cfg.Enrich.VisionCachePackSensitive),
		Normalizer: service.NewNormalizer(cfg.Enrich.MinAttributeConfidence),
		Draft:      service.NewDraftStage(draftProvider, cfg.Enrich.DraftTimeout()),
		Cache:      a.Cache,
	}

	if cfg.Storage.Enabled {
		objectStorage, err := storage.NewStorage(cfg.Storage)
		if err != nil {
			return nil, fmt.Errorf("storage: %w", err)
		}
		if s3, ok := objectStorage.(*storage.S3Storage); ok {
			if err := s3.EnsureBucket(ctx); err != nil {
				return nil, fmt.Errorf("ensure bucket: %w", err)
			}
		}
		deps.Archive = storage.NewImageArchive(objectStorage, "")
		log.WithField("bucket", cfg.Storage.Bucket).Info("Image archive enabled")
	}

	if cfg.Audit.Enabled {
		db, err := repository.InitAuditDB(cfg.Audit)
		if err != nil {
			return nil, fmt.Errorf("audit database: %w", err)
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("audit database handle: %w", err)
		}
		a.closers = append(a.closers, sqlDB.Close)
		a.Runs = repository.NewRunRepository(db)
		deps.Recorder = a.Runs
		log.WithField("driver", cfg.Audit.Driver).Info("Run audit log enabled")
	}

	a.Pipeline = service.NewPipeline(deps, service.PipelineConfig{
		MaxConcurrent:         cfg.Enrich.MaxConcurrent,
		EnableDraftGeneration: cfg.Enrich.EnableDraftGeneration,
		DefaultDomainPackID:   cfg.Enrich.DefaultDomainPackID,
	})

	a.sweeper = repository.NewSweeper(a.Store, cfg.Enrich.SweepInterval(), func(int) {
		if n := a.Cache.Sweep(); n > 0 {
			log.WithField(logger.FieldCount, n).Debug("Evicted expired vision cache entries")
		}
	})
	a.sweeper.Start(log.WithContext(ctx))

	return a, nil
}

// Close drains the pipeline, stops the sweeper and releases the audit database.
func (a *App) Close(ctx context.Context) error {
	err := a.Pipeline.Shutdown(ctx)
	a.sweeper.Stop()
	for _, closeFn := range a.closers {
		if cerr := closeFn(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}
