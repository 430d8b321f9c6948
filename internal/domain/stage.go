package domain

import "fmt"

// Stage is the position of an enrichment job in its pipeline.
// Values include StagePending through StageDraftDone, plus the terminal StageFailed.
type Stage string

const (
	StagePending           Stage = "PENDING"
	StageVisionStarted     Stage = "VISION_STARTED"
	StageVisionDone        Stage = "VISION_DONE"
	StageAttributesStarted Stage = "ATTRIBUTES_STARTED"
	StageAttributesDone    Stage = "ATTRIBUTES_DONE"
	StageDraftStarted      Stage = "DRAFT_STARTED"
	StageDraftDone         Stage = "DRAFT_DONE"
	StageFailed            Stage = "FAILED"
)

// stageRank orders stages for monotonicity checks. FAILED sorts last.
var stageRank = map[Stage]int{
	StagePending:           0,
	StageVisionStarted:     1,
	StageVisionDone:        2,
	StageAttributesStarted: 3,
	StageAttributesDone:    4,
	StageDraftStarted:      5,
	StageDraftDone:         6,
	StageFailed:            7,
}

// transitions is the complete table of legal stage moves.
var transitions = map[Stage][]Stage{
	StagePending:           {StageVisionStarted, StageFailed},
	StageVisionStarted:     {StageVisionDone, StageFailed},
	StageVisionDone:        {StageAttributesStarted, StageFailed},
	StageAttributesStarted: {StageAttributesDone, StageFailed},
	StageAttributesDone:    {StageDraftStarted, StageFailed},
	StageDraftStarted:      {StageDraftDone, StageFailed},
	StageDraftDone:         {},
	StageFailed:            {},
}

// IsValid reports whether s is one of the declared stages.
func (s Stage) IsValid() bool {
	_, ok := stageRank[s]
	return ok
}

// Rank returns the ordinal of s, or -1 for an unknown stage.
func (s Stage) Rank() int {
	r, ok := stageRank[s]
	if !ok {
		return -1
	}
	return r
}

// CanTransitionTo reports whether the table allows moving from s to next.
func (s Stage) CanTransitionTo(next Stage) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Step returns the pipeline step a stage belongs to, or "" for PENDING and FAILED.
func (s Stage) Step() StepName {
	switch s {
	case StageVisionStarted, StageVisionDone:
		return StepVision
	case StageAttributesStarted, StageAttributesDone:
		return StepAttributes
	case StageDraftStarted, StageDraftDone:
		return StepDraft
	default:
		return ""
	}
}

func (s Stage) String() string {
	return string(s)
}

// StepName identifies one of the three sequential pipeline steps.
type StepName string

const (
	StepVision     StepName = "VISION"
	StepAttributes StepName = "ATTRIBUTES"
	StepDraft      StepName = "DRAFT"
)

// ParseStage converts a string into a Stage.
func ParseStage(raw string) (Stage, error) {
	s := Stage(raw)
	if !s.IsValid() {
		return "", fmt.Errorf("%w: unknown stage %q", ErrValidation, raw)
	}
	return s, nil
}
