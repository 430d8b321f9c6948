package service

import (
	"context"
	"crypto/sha256"
	"fmt"
	"strings"

	"github.com/scanium/enricher/internal/config"
	"github.com/scanium/enricher/internal/domain"
)

// NewVisionProvider builds the vision provider named by cfg.Provider.
func NewVisionProvider(cfg config.ProviderConfig) (VisionProvider, error) {
	switch cfg.Provider {
	case "openai":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("vision provider openai requires an API key")
		}
		return NewOpenAIVisionProvider(cfg), nil
	case "mock":
		return MockVisionProvider{}, nil
	default:
		return nil, fmt.Errorf("unknown vision provider %q", cfg.Provider)
	}
}

// NewDraftProvider builds the draft provider named by cfg.Provider.
// An openai provider without an API key yields nil, so every draft uses the template.
func NewDraftProvider(cfg config.ProviderConfig) (DraftProvider, error) {
	switch cfg.Provider {
	case "openai":
		if cfg.APIKey == "" {
			return nil, nil
		}
		return NewOpenAIDraftProvider(cfg), nil
	case "mock":
		return MockDraftProvider{}, nil
	default:
		return nil, fmt.Errorf("unknown draft provider %q", cfg.Provider)
	}
}

type mockItem struct {
	label    string
	material string
	color    domain.Color
	logo     string
	ocr      string
}

var mockCatalog = []mockItem{
	{label: "sneaker", material: "leather", color: domain.Color{Name: "white", Hex: "#f4f4f4"}, logo: "Adidas", ocr: "ADIDAS\nSIZE 43"},
	{label: "handbag", material: "suede", color: domain.Color{Name: "brown", Hex: "#7b4a2a"}, ocr: "MADE IN ITALY"},
	{label: "jacket", material: "denim", color: domain.Color{Name: "blue", Hex: "#3a5a8c"}, logo: "Levi's", ocr: "SIZE M"},
	{label: "lamp", material: "ceramic", color: domain.Color{Name: "green", Hex: "#4f7f52"}},
}

// MockVisionProvider returns a canned result chosen by the image content.
// The same bytes always produce the same result.
type MockVisionProvider struct{}

// Extract implements VisionProvider.
func (MockVisionProvider) Extract(ctx context.Context, image []byte, _ string) (*domain.VisionResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(image) == 0 {
		return nil, fmt.Errorf("empty image")
	}
	sum := sha256.Sum256(image)
	item := mockCatalog[int(sum[0])%len(mockCatalog)]

	result := &domain.VisionResult{
		Labels: []domain.Label{
			{Name: item.label, Score: 0.9},
			{Name: item.material, Score: 0.65},
		},
		OCRText: item.ocr,
		Colors:  []domain.Color{{Name: item.color.Name, Hex: item.color.Hex, Score: 0.75}},
	}
	if item.logo != "" {
		result.Logos = []domain.Logo{{Name: item.logo, Score: 0.88}}
	}
	return result, nil
}

// MockDraftProvider writes a short fixed-shape draft without a network call.
type MockDraftProvider struct{}

// GenerateDraft implements DraftProvider.
func (MockDraftProvider) GenerateDraft(ctx context.Context, attrs map[string]domain.Attribute, _ string) (string, string, error) {
	if err := ctx.Err(); err != nil {
		return "", "", err
	}
	draft := TemplateDraft(attrs)
	return draft.Title, strings.TrimSuffix(draft.Description, " See photos for condition.") + " Ships quickly.", nil
}
