package service

import (
	"context"
	"time"

	"github.com/scanium/enricher/internal/cache"
	"github.com/scanium/enricher/internal/domain"
)

// StageStatus is the external view of one step's timing.
type StageStatus struct {
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	ElapsedMs   *int64     `json:"elapsedMs,omitempty"`
}

// JobStatus is the polled projection of an enrichment job.
type JobStatus struct {
	RequestID      string                      `json:"requestId"`
	CorrelationID  string                      `json:"correlationId"`
	ItemID         string                      `json:"itemId"`
	DomainPackID   string                      `json:"domainPackId"`
	Stage          domain.Stage                `json:"stage"`
	SubmittedAt    time.Time                   `json:"submittedAt"`
	CompletedAt    *time.Time                  `json:"completedAt,omitempty"`
	Stages         map[string]StageStatus      `json:"stages"`
	VisionCacheHit bool                        `json:"visionCacheHit"`
	Attributes     map[string]domain.Attribute `json:"attributes,omitempty"`
	Draft          *domain.Draft               `json:"draft,omitempty"`
	Error          *domain.JobError            `json:"error,omitempty"`
}

// Totals are lifetime counters of the pipeline.
type Totals struct {
	Submitted      int64 `json:"submitted"`
	Rejected       int64 `json:"rejected"`
	Succeeded      int64 `json:"succeeded"`
	Failed         int64 `json:"failed"`
	FallbackDrafts int64 `json:"fallbackDrafts"`
}

// Metrics is the aggregate capacity view.
type Metrics struct {
	ActiveJobs    int64       `json:"activeJobs"`
	MaxConcurrent int         `json:"maxConcurrent"`
	StoredJobs    int         `json:"storedJobs"`
	VisionCache   cache.Stats `json:"visionCache"`
	Totals        Totals      `json:"totals"`
}

// GetStatus returns the current projection of requestID. Unknown and evicted
// ids both yield domain.ErrNotFound.
func (p *Pipeline) GetStatus(ctx context.Context, requestID string) (*JobStatus, error) {
	job, err := p.store.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	return NewJobStatus(job), nil
}

// NewJobStatus projects a job snapshot.
func NewJobStatus(job *domain.EnrichmentJob) *JobStatus {
	status := &JobStatus{
		RequestID:      job.RequestID,
		CorrelationID:  job.CorrelationID,
		ItemID:         job.ItemID,
		DomainPackID:   job.DomainPackID,
		Stage:          job.Stage,
		SubmittedAt:    job.SubmittedAt,
		CompletedAt:    job.CompletedAt,
		Stages:         make(map[string]StageStatus, 3),
		VisionCacheHit: job.VisionCacheHit,
		Attributes:     job.ItemAttributes,
		Draft:          job.Draft,
		Error:          job.Error,
	}

	steps := []struct {
		key    string
		timing domain.StepTiming
	}{
		{"vision", job.Vision},
		{"attributes", job.Attributes},
		{"draft", job.DraftStep},
	}
	for _, s := range steps {
		if s.timing.StartedAt == nil {
			continue
		}
		st := StageStatus{StartedAt: s.timing.StartedAt, CompletedAt: s.timing.CompletedAt}
		if d, ok := s.timing.Elapsed(); ok {
			ms := d.Milliseconds()
			st.ElapsedMs = &ms
		}
		status.Stages[s.key] = st
	}
	return status
}

// GetMetrics reports in-flight jobs against the ceiling plus cache and
// lifetime counters.
func (p *Pipeline) GetMetrics() *Metrics {
	m := &Metrics{
		ActiveJobs:    p.active.Load(),
		MaxConcurrent: p.cfg.MaxConcurrent,
		StoredJobs:    p.store.Len(),
		Totals: Totals{
			Submitted:      p.totals.submitted.Load(),
			Rejected:       p.totals.rejected.Load(),
			Succeeded:      p.totals.succeeded.Load(),
			Failed:         p.totals.failed.Load(),
			FallbackDrafts: p.totals.fallbackDrafts.Load(),
		},
	}
	if p.cache != nil {
		m.VisionCache = p.cache.Stats()
	}
	return m
}
