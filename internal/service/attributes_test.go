package service

import (
	"errors"
	"math"
	"testing"

	"github.com/scanium/enricher/internal/domain"
	"github.com/scanium/enricher/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeSampleResult(t *testing.T) {
	n := NewNormalizer(0.2)

	attrs, err := n.Normalize(testutil.SampleVisionResult(), "fashion", nil)
	require.NoError(t, err)

	assert.Equal(t, domain.Attribute{Value: "sneaker", Confidence: 0.93, Source: domain.SourceLabel}, attrs[AttrCategory])
	assert.Equal(t, domain.Attribute{Value: "leather", Confidence: 0.71, Source: domain.SourceLabel}, attrs[AttrMaterial])
	assert.Equal(t, domain.Attribute{Value: "red", Confidence: 0.8, Source: domain.SourceColor}, attrs[AttrColor])
	assert.Equal(t, domain.Attribute{Value: "42", Confidence: 0.7, Source: domain.SourceOCR}, attrs[AttrSize])

	// Logo (0.97) beats the OCR brand line (0.6); the loser is discarded.
	assert.Equal(t, domain.Attribute{Value: "Nike", Confidence: 0.97, Source: domain.SourceLogo}, attrs[AttrBrand])
}

func TestNormalizeHighestConfidenceWins(t *testing.T) {
	n := NewNormalizer(0)
	vision := &domain.VisionResult{
		Labels: []domain.Label{{Name: "Blue", Score: 0.9}, {Name: "jacket", Score: 0.8}},
		Colors: []domain.Color{{Name: "navy", Score: 0.5}},
	}

	attrs, err := n.Normalize(vision, "", nil)
	require.NoError(t, err)

	assert.Equal(t, "blue", attrs[AttrColor].Value)
	assert.Equal(t, domain.SourceLabel, attrs[AttrColor].Source)
	assert.InDelta(t, 0.72, attrs[AttrColor].Confidence, 1e-9)
	assert.Equal(t, "jacket", attrs[AttrCategory].Value)
}

func TestNormalizeOCRBrandWithoutLogo(t *testing.T) {
	n := NewNormalizer(0.2)
	vision := &domain.VisionResult{
		Labels:  []domain.Label{{Name: "handbag", Score: 0.9}},
		OCRText: "made in italy\nLOUIS VUITTON\nSize: M",
	}

	attrs, err := n.Normalize(vision, "", nil)
	require.NoError(t, err)
	assert.Equal(t, domain.Attribute{Value: "Louis Vuitton", Confidence: 0.6, Source: domain.SourceOCR}, attrs[AttrBrand])
	assert.Equal(t, "M", attrs[AttrSize].Value)
}

func TestNormalizeDropsLowConfidenceAndClamps(t *testing.T) {
	n := NewNormalizer(0.5)
	vision := &domain.VisionResult{
		Labels: []domain.Label{{Name: "chair", Score: 1.7}},
		Logos:  []domain.Logo{{Name: "Ikea", Score: 0.3}},
	}

	attrs, err := n.Normalize(vision, "", nil)
	require.NoError(t, err)
	assert.Equal(t, 1.0, attrs[AttrCategory].Confidence)
	assert.NotContains(t, attrs, AttrBrand)

	for name, a := range attrs {
		assert.GreaterOrEqual(t, a.Confidence, 0.0, name)
		assert.LessOrEqual(t, a.Confidence, 1.0, name)
	}
}

func TestNormalizeHintsWin(t *testing.T) {
	n := NewNormalizer(0.2)

	attrs, err := n.Normalize(testutil.SampleVisionResult(), "", map[string]string{
		AttrBrand:   "Nike Air",
		"condition": "used",
		"":          "ignored",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.Attribute{Value: "Nike Air", Confidence: 1, Source: domain.SourceUser}, attrs[AttrBrand])
	assert.Equal(t, "used", attrs["condition"].Value)
	assert.NotContains(t, attrs, "")
}

func TestNormalizeDefects(t *testing.T) {
	n := NewNormalizer(0.2)

	_, err := n.Normalize(nil, "fashion", nil)
	assert.True(t, errors.Is(err, domain.ErrAttributeNormalization))

	_, err = n.Normalize(&domain.VisionResult{Labels: []domain.Label{{Name: "lamp", Score: math.NaN()}}}, "", nil)
	assert.ErrorIs(t, err, domain.ErrAttributeNormalization)
}
