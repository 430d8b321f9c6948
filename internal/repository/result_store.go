package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/scanium/enricher/internal/domain"
	"github.com/scanium/enricher/internal/logger"
)

// Mutation edits a private copy of a job. Returning an error discards the copy.
type Mutation func(job *domain.EnrichmentJob) error

// ResultStore holds enrichment jobs for polling.
type ResultStore interface {
	// Create inserts a new job. The id must not already exist.
	Create(ctx context.Context, job *domain.EnrichmentJob) error

	// Get returns a snapshot of the job or domain.ErrNotFound.
	Get(ctx context.Context, requestID string) (*domain.EnrichmentJob, error)

	// Update applies mutation atomically and returns the new snapshot.
	Update(ctx context.Context, requestID string, mutation Mutation) (*domain.EnrichmentJob, error)

	// Sweep evicts every job past its retention deadline.
	Sweep(ctx context.Context) int

	// Len returns the number of stored jobs.
	Len() int
}

// MemoryResultStore is a process-local ResultStore.
//
// Records are treated as immutable once published: Update applies the
// mutation to a clone and swaps it in under the write lock, so readers never
// observe a partially applied transition.
type MemoryResultStore struct {
	mu        sync.RWMutex
	jobs      map[string]*domain.EnrichmentJob
	retention time.Duration
	clock     domain.Clock
}

// NewMemoryResultStore creates an empty store that retains jobs for retention
// after completion (or after submission if they never complete).
func NewMemoryResultStore(retention time.Duration, clock domain.Clock) *MemoryResultStore {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	return &MemoryResultStore{
		jobs:      make(map[string]*domain.EnrichmentJob),
		retention: retention,
		clock:     clock,
	}
}

// Create inserts a new job.
func (s *MemoryResultStore) Create(_ context.Context, job *domain.EnrichmentJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.RequestID]; exists {
		return fmt.Errorf("job %s already exists", job.RequestID)
	}
	s.jobs[job.RequestID] = job.Clone()
	return nil
}

// Get returns a snapshot of the job. Expired jobs are evicted on access.
func (s *MemoryResultStore) Get(ctx context.Context, requestID string) (*domain.EnrichmentJob, error) {
	s.mu.RLock()
	job, ok := s.jobs[requestID]
	s.mu.RUnlock()
	if !ok {
		return nil, domain.ErrNotFound
	}

	if s.expired(job, s.clock.Now()) {
		s.mu.Lock()
		// Re-check: the record may have been replaced since the read lock was dropped.
		if current, ok := s.jobs[requestID]; ok && s.expired(current, s.clock.Now()) {
			delete(s.jobs, requestID)
			logger.CtxDebug(ctx, "Evicted expired job on access: job_id=%s", requestID)
		}
		s.mu.Unlock()
		return nil, domain.ErrNotFound
	}
	return job.Clone(), nil
}

// Update applies mutation to a copy of the job and publishes it.
func (s *MemoryResultStore) Update(_ context.Context, requestID string, mutation Mutation) (*domain.EnrichmentJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.jobs[requestID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	next := current.Clone()
	if err := mutation(next); err != nil {
		return nil, err
	}
	s.jobs[requestID] = next
	return next.Clone(), nil
}

// Sweep evicts expired jobs and returns how many were removed.
func (s *MemoryResultStore) Sweep(ctx context.Context) int {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, job := range s.jobs {
		if !s.expired(job, now) {
			continue
		}
		if !job.IsTerminal() {
			logger.CtxWarn(ctx, "Evicting job that never reached a terminal stage: job_id=%s, stage=%s", id, job.Stage)
		}
		delete(s.jobs, id)
		removed++
	}
	return removed
}

// Len returns the number of stored jobs.
func (s *MemoryResultStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}

func (s *MemoryResultStore) expired(job *domain.EnrichmentJob, now time.Time) bool {
	return !now.Before(job.EvictionDeadline(s.retention))
}

// Sweeper periodically evicts expired jobs from a ResultStore.
type Sweeper struct {
	store    ResultStore
	interval time.Duration
	onSweep  func(removed int)

	cancel context.CancelFunc
	done   chan struct{}
}

// NewSweeper creates a sweeper. onSweep, if non-nil, observes every pass.
func NewSweeper(store ResultStore, interval time.Duration, onSweep func(removed int)) *Sweeper {
	return &Sweeper{store: store, interval: interval, onSweep: onSweep}
}

// Start launches the sweep loop. It stops when ctx is cancelled or Stop is called.
func (w *Sweeper) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})

	go func() {
		defer close(w.done)
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				removed := w.store.Sweep(ctx)
				if removed > 0 {
					logger.With(logger.Fields{logger.FieldCount: removed}).Info(ctx, "Evicted expired enrichment jobs")
				}
				if w.onSweep != nil {
					w.onSweep(removed)
				}
			}
		}
	}()
}

// Stop halts the sweep loop and waits for it to exit.
func (w *Sweeper) Stop() {
	if w.cancel == nil {
		return
	}
	w.cancel()
	<-w.done
}
