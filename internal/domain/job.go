package domain

import (
	"fmt"
	"time"
)

// AttributeSource identifies which raw signal produced an attribute.
type AttributeSource string

const (
	SourceOCR   AttributeSource = "ocr"
	SourceLabel AttributeSource = "label"
	SourceLogo  AttributeSource = "logo"
	SourceColor AttributeSource = "color"
	SourceUser  AttributeSource = "user"
)

// Attribute is a single normalized item attribute.
type Attribute struct {
	Value      string          `json:"value"`
	Confidence float64         `json:"confidence"`
	Source     AttributeSource `json:"source"`
}

// DraftMode records how a draft was produced.
type DraftMode string

const (
	DraftModeLLM      DraftMode = "llm"
	DraftModeTemplate DraftMode = "template"
)

// Draft is the generated listing text.
type Draft struct {
	Title       string    `json:"title"`
	Description string    `json:"description"`
	GeneratedBy DraftMode `json:"generatedBy"`
}

// ErrorKind classifies a job failure.
type ErrorKind string

const (
	ErrorKindVisionFailed  ErrorKind = "VISION_EXTRACTION_FAILED"
	ErrorKindVisionTimeout ErrorKind = "VISION_TIMEOUT"
	ErrorKindAttributes    ErrorKind = "ATTRIBUTE_NORMALIZATION_FAILED"
	ErrorKindInternal      ErrorKind = "INTERNAL_ERROR"
)

// JobError describes why a job reached FAILED.
type JobError struct {
	StageThatFailed StepName  `json:"stageThatFailed"`
	Kind            ErrorKind `json:"kind"`
	Message         string    `json:"message"`
}

// StepTiming holds the start and completion instants of one pipeline step.
type StepTiming struct {
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// Elapsed returns the step duration, or false if the step has not completed.
func (t StepTiming) Elapsed() (time.Duration, bool) {
	if t.StartedAt == nil || t.CompletedAt == nil {
		return 0, false
	}
	return t.CompletedAt.Sub(*t.StartedAt), true
}

// EnrichmentJob is the per-request state machine polled by clients.
// A job is mutated only by the task driving it; readers always work on clones.
type EnrichmentJob struct {
	RequestID      string               `json:"requestId"`
	CorrelationID  string               `json:"correlationId"`
	ItemID         string               `json:"itemId"`
	DeviceID       string               `json:"deviceId,omitempty"`
	DomainPackID   string               `json:"domainPackId"`
	ImageHash      string               `json:"imageHash"`
	ImageFormat    string               `json:"-"`
	Hints          map[string]string    `json:"-"`
	Stage          Stage                `json:"stage"`
	SubmittedAt    time.Time            `json:"submittedAt"`
	CompletedAt    *time.Time           `json:"completedAt,omitempty"`
	Vision         StepTiming           `json:"vision"`
	Attributes     StepTiming           `json:"attributesStep"`
	DraftStep      StepTiming           `json:"draftStep"`
	VisionCacheHit bool                 `json:"visionCacheHit"`
	ItemAttributes map[string]Attribute `json:"attributes,omitempty"`
	Draft          *Draft               `json:"draft,omitempty"`
	Error          *JobError            `json:"error,omitempty"`
}

// NewEnrichmentJob creates a PENDING job.
func NewEnrichmentJob(requestID, correlationID string, submittedAt time.Time) *EnrichmentJob {
	return &EnrichmentJob{
		RequestID:     requestID,
		CorrelationID: correlationID,
		Stage:         StagePending,
		SubmittedAt:   submittedAt,
	}
}

// Timing returns the timing record for step.
func (j *EnrichmentJob) Timing(step StepName) *StepTiming {
	switch step {
	case StepVision:
		return &j.Vision
	case StepAttributes:
		return &j.Attributes
	case StepDraft:
		return &j.DraftStep
	default:
		return nil
	}
}

// IsTerminal reports whether the job has finished, successfully or not.
func (j *EnrichmentJob) IsTerminal() bool {
	return j.Stage == StageFailed || j.Stage == StageDraftDone || j.CompletedAt != nil
}

// Advance moves the job to next, stamping the step timing at.
// Moves outside the transition table are rejected with ErrInvalidTransition.
func (j *EnrichmentJob) Advance(next Stage, at time.Time) error {
	if next == StageFailed {
		return fmt.Errorf("%w: use Fail to enter %s", ErrInvalidTransition, StageFailed)
	}
	if err := j.checkTransition(next); err != nil {
		return err
	}
	if next == StageDraftDone && j.Draft == nil {
		return fmt.Errorf("%w: %s requires a draft", ErrInvalidTransition, next)
	}

	t := at
	timing := j.Timing(next.Step())
	switch next {
	case StageVisionStarted, StageAttributesStarted, StageDraftStarted:
		timing.StartedAt = &t
	case StageVisionDone, StageAttributesDone, StageDraftDone:
		timing.CompletedAt = &t
	}
	j.Stage = next
	if next == StageDraftDone {
		j.CompletedAt = &t
	}
	return nil
}

// Fail moves the job to FAILED, recording which step failed and why.
func (j *EnrichmentJob) Fail(step StepName, kind ErrorKind, message string, at time.Time) error {
	if err := j.checkTransition(StageFailed); err != nil {
		return err
	}
	if step == StepDraft && j.Draft != nil {
		return fmt.Errorf("%w: draft already produced", ErrInvalidTransition)
	}

	t := at
	if timing := j.Timing(step); timing != nil {
		if timing.StartedAt == nil {
			timing.StartedAt = &t
		}
		timing.CompletedAt = &t
	}
	j.Stage = StageFailed
	j.Error = &JobError{StageThatFailed: step, Kind: kind, Message: message}
	j.CompletedAt = &t
	return nil
}

// Finish marks a job that stops after ATTRIBUTES_DONE as successfully terminated.
func (j *EnrichmentJob) Finish(at time.Time) error {
	if j.IsTerminal() {
		return fmt.Errorf("%w: job already terminal at %s", ErrInvalidTransition, j.Stage)
	}
	if j.Stage != StageAttributesDone {
		return fmt.Errorf("%w: cannot finish from %s", ErrInvalidTransition, j.Stage)
	}
	t := at
	j.CompletedAt = &t
	return nil
}

func (j *EnrichmentJob) checkTransition(next Stage) error {
	if j.CompletedAt != nil {
		return fmt.Errorf("%w: job already terminal at %s", ErrInvalidTransition, j.Stage)
	}
	if !j.Stage.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Stage, next)
	}
	return nil
}

// EvictionDeadline returns the instant after which the job may be evicted.
func (j *EnrichmentJob) EvictionDeadline(retention time.Duration) time.Time {
	if j.CompletedAt != nil {
		return j.CompletedAt.Add(retention)
	}
	return j.SubmittedAt.Add(retention)
}

// Clone returns a deep copy that shares no mutable state with j.
func (j *EnrichmentJob) Clone() *EnrichmentJob {
	if j == nil {
		return nil
	}
	c := *j
	c.CompletedAt = cloneTime(j.CompletedAt)
	c.Vision = j.Vision.clone()
	c.Attributes = j.Attributes.clone()
	c.DraftStep = j.DraftStep.clone()
	if j.Hints != nil {
		c.Hints = make(map[string]string, len(j.Hints))
		for k, v := range j.Hints {
			c.Hints[k] = v
		}
	}
	if j.ItemAttributes != nil {
		c.ItemAttributes = make(map[string]Attribute, len(j.ItemAttributes))
		for k, v := range j.ItemAttributes {
			c.ItemAttributes[k] = v
		}
	}
	if j.Draft != nil {
		d := *j.Draft
		c.Draft = &d
	}
	if j.Error != nil {
		e := *j.Error
		c.Error = &e
	}
	return &c
}

func (t StepTiming) clone() StepTiming {
	return StepTiming{StartedAt: cloneTime(t.StartedAt), CompletedAt: cloneTime(t.CompletedAt)}
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
