package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/scanium/enricher/internal/cache"
	"github.com/scanium/enricher/internal/domain"
	"github.com/scanium/enricher/internal/logger"
	"github.com/scanium/enricher/internal/repository"
)

// ImageArchiver stores submitted images. Failures never affect the job.
type ImageArchiver interface {
	Archive(ctx context.Context, imageHash, format string, image []byte) (string, error)
}

// RunRecorder persists a summary of every terminal job.
type RunRecorder interface {
	Record(ctx context.Context, job *domain.EnrichmentJob) error
}

// PipelineConfig tunes admission and stage selection.
type PipelineConfig struct {
	MaxConcurrent         int
	EnableDraftGeneration bool
	DefaultDomainPackID   string
}

// PipelineDeps are the collaborators of a Pipeline. Archive and Recorder are optional.
type PipelineDeps struct {
	Store      repository.ResultStore
	Vision     *VisionStage
	Normalizer *Normalizer
	Draft      *DraftStage
	Cache      *cache.VisionCache
	Clock      domain.Clock
	Archive    ImageArchiver
	Recorder   RunRecorder
}

// SubmitRequest is one enrichment submission.
type SubmitRequest struct {
	Image         []byte
	Format        string
	ItemID        string
	DomainPackID  string
	DeviceID      string
	CorrelationID string
	Hints         map[string]string
}

// SubmitResult identifies an accepted job.
type SubmitResult struct {
	RequestID     string `json:"requestId"`
	CorrelationID string `json:"correlationId"`
}

// Pipeline admits enrichment jobs under a concurrency ceiling and drives each
// one through vision, attributes and draft. Each job is owned by exactly one
// goroutine; pollers only ever see snapshots published through the store.
type Pipeline struct {
	store      repository.ResultStore
	vision     *VisionStage
	normalizer *Normalizer
	draft      *DraftStage
	cache      *cache.VisionCache
	clock      domain.Clock
	archive    ImageArchiver
	recorder   RunRecorder
	cfg        PipelineConfig
	newID      func() string

	active atomic.Int64
	// mu orders admission against Shutdown: no wg.Add happens after closing is set.
	mu      sync.Mutex
	closing atomic.Bool
	wg      sync.WaitGroup

	baseCtx context.Context
	cancel  context.CancelFunc

	totals struct {
		submitted      atomic.Int64
		rejected       atomic.Int64
		succeeded      atomic.Int64
		failed         atomic.Int64
		fallbackDrafts atomic.Int64
	}
}

// NewPipeline wires a pipeline from its collaborators.
func NewPipeline(deps PipelineDeps, cfg PipelineConfig) *Pipeline {
	clock := deps.Clock
	if clock == nil {
		clock = domain.SystemClock{}
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pipeline{
		store:      deps.Store,
		vision:     deps.Vision,
		normalizer: deps.Normalizer,
		draft:      deps.Draft,
		cache:      deps.Cache,
		clock:      clock,
		archive:    deps.Archive,
		recorder:   deps.Recorder,
		cfg:        cfg,
		newID:      uuid.NewString,
		baseCtx:    ctx,
		cancel:     cancel,
	}
}

// Submit admits a job and schedules its stages. It returns as soon as the job
// is recorded at VISION_STARTED; the stages run on their own goroutine.
// A full pipeline refuses immediately with domain.ErrCapacityExceeded and
// creates no job.
func (p *Pipeline) Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	if len(req.Image) == 0 {
		return nil, fmt.Errorf("%w: image is required", domain.ErrValidation)
	}
	if strings.TrimSpace(req.ItemID) == "" {
		return nil, fmt.Errorf("%w: itemId is required", domain.ErrValidation)
	}
	p.mu.Lock()
	if p.closing.Load() {
		p.mu.Unlock()
		return nil, domain.ErrShuttingDown
	}
	if !p.acquire() {
		p.mu.Unlock()
		p.totals.rejected.Add(1)
		logger.With(logger.Fields{logger.FieldCount: p.active.Load()}).
			Warn(ctx, "Enrichment refused: %d jobs in flight", p.cfg.MaxConcurrent)
		return nil, fmt.Errorf("%w: %d jobs already in flight", domain.ErrCapacityExceeded, p.cfg.MaxConcurrent)
	}
	p.wg.Add(1)
	p.mu.Unlock()
	slot := &capacitySlot{p: p}

	correlationID := req.CorrelationID
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	packID := req.DomainPackID
	if packID == "" {
		packID = p.cfg.DefaultDomainPackID
	}
	sum := sha256.Sum256(req.Image)

	now := p.clock.Now()
	job := domain.NewEnrichmentJob(p.newID(), correlationID, now)
	job.ItemID = req.ItemID
	job.DeviceID = req.DeviceID
	job.DomainPackID = packID
	job.ImageHash = hex.EncodeToString(sum[:])
	job.ImageFormat = req.Format
	job.Hints = req.Hints
	if err := job.Advance(domain.StageVisionStarted, now); err != nil {
		slot.Release()
		p.wg.Done()
		return nil, err
	}
	if err := p.store.Create(ctx, job); err != nil {
		slot.Release()
		p.wg.Done()
		return nil, fmt.Errorf("failed to create job: %w", err)
	}
	p.totals.submitted.Add(1)

	jobCtx := p.jobContext(job)
	logger.With(logger.Fields{logger.FieldSize: len(req.Image)}).
		Info(jobCtx, "Enrichment accepted: item_id=%s, pack=%s, image_hash=%s", job.ItemID, packID, job.ImageHash)

	go p.run(jobCtx, job, req.Image, slot)

	return &SubmitResult{RequestID: job.RequestID, CorrelationID: correlationID}, nil
}

// acquire takes a capacity slot if one is free.
func (p *Pipeline) acquire() bool {
	for {
		n := p.active.Load()
		if n >= int64(p.cfg.MaxConcurrent) {
			return false
		}
		if p.active.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

// capacitySlot returns its admission to the pipeline at most once.
type capacitySlot struct {
	p    *Pipeline
	once sync.Once
}

func (s *capacitySlot) Release() {
	s.once.Do(func() { s.p.active.Add(-1) })
}

func (p *Pipeline) jobContext(job *domain.EnrichmentJob) context.Context {
	ctx := logger.SetJobID(p.baseCtx, job.RequestID)
	ctx = logger.SetCorrelationID(ctx, job.CorrelationID)
	ctx = logger.SetComponent(ctx, "pipeline")
	if job.DeviceID != "" {
		ctx = logger.WithField(ctx, logger.FieldDeviceID, job.DeviceID)
	}
	return ctx
}

// run drives one job to a terminal stage. It is the only writer of the job.
func (p *Pipeline) run(ctx context.Context, job *domain.EnrichmentJob, image []byte, slot *capacitySlot) {
	defer p.wg.Done()
	id := job.RequestID
	step := domain.StepVision

	defer func() {
		if r := recover(); r != nil {
			logger.CtxError(ctx, "Enrichment task panicked in %s: %v\n%s", step, r, debug.Stack())
			p.fail(ctx, id, step, domain.ErrorKindInternal, fmt.Sprintf("internal error: %v", r), slot)
		}
		// Covers every exit path that did not publish a terminal stage.
		slot.Release()
		p.record(ctx, id)
	}()

	if p.archive != nil {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			if _, err := p.archive.Archive(ctx, job.ImageHash, job.ImageFormat, image); err != nil {
				logger.CtxWarn(ctx, "Image archive failed: %v", err)
			}
		}()
	}

	// Vision
	visionCtx := logger.SetStage(ctx, string(domain.StepVision))
	outcome, err := p.vision.Run(visionCtx, job.ImageHash, job.DomainPackID, image, job.ImageFormat)
	if err != nil {
		kind := domain.ErrorKindVisionFailed
		if errors.Is(err, domain.ErrProviderTimeout) {
			kind = domain.ErrorKindVisionTimeout
		}
		logger.CtxWarn(visionCtx, "Vision extraction failed: %v", err)
		p.fail(ctx, id, domain.StepVision, kind, err.Error(), slot)
		return
	}
	snap, ok := p.update(ctx, id, func(j *domain.EnrichmentJob) error {
		j.VisionCacheHit = outcome.CacheHit
		return j.Advance(domain.StageVisionDone, p.clock.Now())
	})
	if !ok {
		return
	}
	p.logStageDone(visionCtx, snap, domain.StepVision)

	// Attributes
	step = domain.StepAttributes
	attrCtx := logger.SetStage(ctx, string(domain.StepAttributes))
	if _, ok := p.update(ctx, id, advanceTo(domain.StageAttributesStarted, p.clock)); !ok {
		return
	}
	attrs, err := p.normalize(outcome.Result, job.DomainPackID, job.Hints)
	if err != nil {
		logger.CtxError(attrCtx, "Attribute normalization failed: %v", err)
		p.fail(ctx, id, domain.StepAttributes, domain.ErrorKindAttributes, err.Error(), slot)
		return
	}
	snap, ok = p.update(ctx, id, func(j *domain.EnrichmentJob) error {
		j.ItemAttributes = attrs
		if err := j.Advance(domain.StageAttributesDone, p.clock.Now()); err != nil {
			return err
		}
		if p.cfg.EnableDraftGeneration {
			return nil
		}
		if err := j.Finish(p.clock.Now()); err != nil {
			return err
		}
		// Released under the store lock so a poller that sees the terminal
		// stage also sees the freed slot.
		slot.Release()
		return nil
	})
	if !ok {
		return
	}
	p.logStageDone(attrCtx, snap, domain.StepAttributes)
	if !p.cfg.EnableDraftGeneration {
		p.totals.succeeded.Add(1)
		logger.CtxInfo(ctx, "Enrichment finished without draft: attributes=%d", len(attrs))
		return
	}

	// Draft
	step = domain.StepDraft
	draftCtx := logger.SetStage(ctx, string(domain.StepDraft))
	if _, ok := p.update(ctx, id, advanceTo(domain.StageDraftStarted, p.clock)); !ok {
		return
	}
	drafted := p.draft.Run(draftCtx, attrs, job.DomainPackID)
	if drafted.ProviderErr != nil {
		p.totals.fallbackDrafts.Add(1)
	}
	snap, ok = p.update(ctx, id, func(j *domain.EnrichmentJob) error {
		j.Draft = drafted.Draft
		if err := j.Advance(domain.StageDraftDone, p.clock.Now()); err != nil {
			return err
		}
		slot.Release()
		return nil
	})
	if !ok {
		return
	}
	p.totals.succeeded.Add(1)
	p.logStageDone(draftCtx, snap, domain.StepDraft)
	logger.CtxInfo(ctx, "Enrichment finished: generated_by=%s, attributes=%d", drafted.Draft.GeneratedBy, len(attrs))
}

func advanceTo(stage domain.Stage, clock domain.Clock) repository.Mutation {
	return func(j *domain.EnrichmentJob) error {
		return j.Advance(stage, clock.Now())
	}
}

// normalize runs the normalizer, turning a panic into an error.
func (p *Pipeline) normalize(vision *domain.VisionResult, packID string, hints map[string]string) (attrs map[string]domain.Attribute, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", domain.ErrAttributeNormalization, r)
		}
	}()
	return p.normalizer.Normalize(vision, packID, hints)
}

// update applies mutation and reports whether the job may continue. A missing
// job was evicted while running; any other error is a defect and fails the job.
func (p *Pipeline) update(ctx context.Context, id string, mutation repository.Mutation) (*domain.EnrichmentJob, bool) {
	snap, err := p.store.Update(ctx, id, mutation)
	if err == nil {
		return snap, true
	}
	if errors.Is(err, domain.ErrNotFound) {
		logger.CtxWarn(ctx, "Job disappeared from the result store while running")
		return nil, false
	}

	logger.CtxError(ctx, "Job update rejected: %v", err)
	current, getErr := p.store.Get(ctx, id)
	step := domain.StepVision
	if getErr == nil {
		if s := current.Stage.Step(); s != "" {
			step = s
		}
	}
	p.fail(ctx, id, step, domain.ErrorKindInternal, err.Error(), nil)
	return nil, false
}

// fail moves the job to FAILED. slot, when given, is released with the write.
func (p *Pipeline) fail(ctx context.Context, id string, step domain.StepName, kind domain.ErrorKind, message string, slot *capacitySlot) {
	_, err := p.store.Update(ctx, id, func(j *domain.EnrichmentJob) error {
		if err := j.Fail(step, kind, message, p.clock.Now()); err != nil {
			return err
		}
		if slot != nil {
			slot.Release()
		}
		return nil
	})
	if err != nil {
		logger.CtxError(ctx, "Could not mark job failed: %v", err)
		return
	}
	p.totals.failed.Add(1)
	logger.With(logger.Fields{logger.FieldStatus: string(kind)}).
		Warn(logger.SetStage(ctx, string(step)), "Enrichment failed: %s", message)
}

func (p *Pipeline) logStageDone(ctx context.Context, job *domain.EnrichmentJob, step domain.StepName) {
	d, _ := job.Timing(step).Elapsed()
	logger.With(nil).WithElapsed(d).Info(ctx, "Stage %s done", step)
}

// record writes the terminal job to the audit log, if one is configured.
func (p *Pipeline) record(ctx context.Context, id string) {
	if p.recorder == nil {
		return
	}
	job, err := p.store.Get(ctx, id)
	if err != nil || !job.IsTerminal() {
		return
	}
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := p.recorder.Record(recordCtx, job); err != nil {
		logger.CtxWarn(ctx, "Failed to record enrichment run: %v", err)
	}
}

// Shutdown refuses new submissions and waits for running jobs. If ctx ends
// first the remaining stages are cancelled and ctx's error is returned.
func (p *Pipeline) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	p.closing.Store(true)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		<-done
		return ctx.Err()
	}
}

// ActiveJobs returns the number of jobs holding a capacity slot.
func (p *Pipeline) ActiveJobs() int64 {
	return p.active.Load()
}
