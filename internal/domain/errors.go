package domain

import "errors"

// Errors shared across the enrichment pipeline and its HTTP surface.
var (
	// ErrValidation is returned when a submission is malformed.
	ErrValidation = errors.New("validation failed")

	// ErrUnauthorized is returned when the API key is missing or invalid.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrCapacityExceeded is returned when admission is refused because
	// maxConcurrent jobs are already in flight. Callers may retry after backoff.
	ErrCapacityExceeded = errors.New("capacity exceeded")

	// ErrNotFound is returned for unknown or evicted request ids.
	ErrNotFound = errors.New("not found")

	// ErrInvalidTransition is returned when a stage move is not in the transition table.
	ErrInvalidTransition = errors.New("invalid stage transition")

	// ErrVisionExtractionFailed wraps any vision provider failure.
	ErrVisionExtractionFailed = errors.New("vision extraction failed")

	// ErrDraftGenerationFailed wraps any draft provider failure.
	ErrDraftGenerationFailed = errors.New("draft generation failed")

	// ErrProviderTimeout is returned when an external provider exceeds its deadline.
	ErrProviderTimeout = errors.New("provider timeout")

	// ErrAttributeNormalization is returned when normalization hits a defect.
	ErrAttributeNormalization = errors.New("attribute normalization failed")

	// ErrShuttingDown is returned when a submission arrives during shutdown.
	ErrShuttingDown = errors.New("service shutting down")
)
