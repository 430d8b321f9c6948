package domain

import "time"

// EnrichmentRun is the audit row written once a job reaches a terminal stage.
// It is write-only: polling never reads it.
type EnrichmentRun struct {
	RequestID      string    `gorm:"type:text;primaryKey" json:"request_id"`
	CorrelationID  string    `gorm:"type:text;index" json:"correlation_id"`
	ItemID         string    `gorm:"type:text;index" json:"item_id"`
	DeviceID       string    `gorm:"type:text" json:"device_id,omitempty"`
	DomainPackID   string    `gorm:"type:text" json:"domain_pack_id"`
	ImageHash      string    `gorm:"type:text;index" json:"image_hash"`
	FinalStage     Stage     `gorm:"type:text;index" json:"final_stage"`
	FailedStep     StepName  `gorm:"type:text" json:"failed_step,omitempty"`
	ErrorKind      ErrorKind `gorm:"type:text" json:"error_kind,omitempty"`
	DraftMode      DraftMode `gorm:"type:text" json:"draft_mode,omitempty"`
	VisionCacheHit bool      `json:"vision_cache_hit"`
	AttributeCount int       `json:"attribute_count"`
	VisionMs       int64     `json:"vision_ms"`
	AttributesMs   int64     `json:"attributes_ms"`
	DraftMs        int64     `json:"draft_ms"`
	TotalMs        int64     `json:"total_ms"`
	SubmittedAt    time.Time `json:"submitted_at"`
	CompletedAt    time.Time `json:"completed_at"`
	CreatedAt      time.Time `json:"created_at"`
}

// TableName returns the database table name for EnrichmentRun.
func (EnrichmentRun) TableName() string {
	return "enrichment_runs"
}

// NewEnrichmentRun summarizes a terminal job for the audit log.
func NewEnrichmentRun(job *EnrichmentJob) *EnrichmentRun {
	run := &EnrichmentRun{
		RequestID:      job.RequestID,
		CorrelationID:  job.CorrelationID,
		ItemID:         job.ItemID,
		DeviceID:       job.DeviceID,
		DomainPackID:   job.DomainPackID,
		ImageHash:      job.ImageHash,
		FinalStage:     job.Stage,
		VisionCacheHit: job.VisionCacheHit,
		AttributeCount: len(job.ItemAttributes),
		VisionMs:       elapsedMs(job.Vision),
		AttributesMs:   elapsedMs(job.Attributes),
		DraftMs:        elapsedMs(job.DraftStep),
		SubmittedAt:    job.SubmittedAt,
	}
	if job.CompletedAt != nil {
		run.CompletedAt = *job.CompletedAt
		run.TotalMs = job.CompletedAt.Sub(job.SubmittedAt).Milliseconds()
	}
	if job.Error != nil {
		run.FailedStep = job.Error.StageThatFailed
		run.ErrorKind = job.Error.Kind
	}
	if job.Draft != nil {
		run.DraftMode = job.Draft.GeneratedBy
	}
	return run
}

func elapsedMs(t StepTiming) int64 {
	d, ok := t.Elapsed()
	if !ok {
		return 0
	}
	return d.Milliseconds()
}
