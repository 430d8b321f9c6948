package testutil

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/scanium/enricher/internal/domain"
)

// SampleVisionResult is a small but complete vision result used across tests.
func SampleVisionResult() *domain.VisionResult {
	return &domain.VisionResult{
		Labels: []domain.Label{
			{Name: "sneaker", Score: 0.93},
			{Name: "leather", Score: 0.71},
		},
		OCRText: "NIKE\nSIZE 42",
		Colors:  []domain.Color{{Name: "red", Hex: "#cc2222", Score: 0.8}},
		Logos:   []domain.Logo{{Name: "Nike", Score: 0.97}},
	}
}

// FakeVisionProvider is a scriptable vision provider.
// When Block is set, Extract waits until its context is done or Release is called.
type FakeVisionProvider struct {
	Result *domain.VisionResult
	Err    error
	Block  bool

	calls   atomic.Int64
	once    sync.Once
	release chan struct{}
}

// NewFakeVisionProvider returns a provider that answers with SampleVisionResult.
func NewFakeVisionProvider() *FakeVisionProvider {
	return &FakeVisionProvider{Result: SampleVisionResult(), release: make(chan struct{})}
}

// Extract implements the vision provider contract.
func (p *FakeVisionProvider) Extract(ctx context.Context, _ []byte, _ string) (*domain.VisionResult, error) {
	p.calls.Add(1)
	if p.Block {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-p.release:
		}
	}
	if p.Err != nil {
		return nil, p.Err
	}
	return p.Result.Clone(), nil
}

// Release unblocks every pending and future Extract call.
func (p *FakeVisionProvider) Release() {
	p.once.Do(func() { close(p.release) })
}

// Calls returns how many times Extract was invoked.
func (p *FakeVisionProvider) Calls() int {
	return int(p.calls.Load())
}

// FakeDraftProvider is a scriptable draft provider.
type FakeDraftProvider struct {
	Title       string
	Description string
	Err         error
	Block       bool

	calls atomic.Int64
}

// NewFakeDraftProvider returns a provider that answers with fixed text.
func NewFakeDraftProvider() *FakeDraftProvider {
	return &FakeDraftProvider{
		Title:       "Red Nike leather sneakers, size 42",
		Description: "Well kept red Nike sneakers in leather.",
	}
}

// GenerateDraft implements the draft provider contract.
func (p *FakeDraftProvider) GenerateDraft(ctx context.Context, _ map[string]domain.Attribute, _ string) (string, string, error) {
	p.calls.Add(1)
	if p.Block {
		<-ctx.Done()
		return "", "", ctx.Err()
	}
	if p.Err != nil {
		return "", "", p.Err
	}
	return p.Title, p.Description, nil
}

// Calls returns how many times GenerateDraft was invoked.
func (p *FakeDraftProvider) Calls() int {
	return int(p.calls.Load())
}
