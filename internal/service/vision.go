package service

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/scanium/enricher/internal/cache"
	"github.com/scanium/enricher/internal/config"
	"github.com/scanium/enricher/internal/domain"
	"github.com/scanium/enricher/internal/logger"
	"github.com/scanium/enricher/internal/prompts"
)

// VisionProvider extracts structured signals from an item photo.
type VisionProvider interface {
	Extract(ctx context.Context, image []byte, format string) (*domain.VisionResult, error)
}

// OpenAIVisionProvider asks an OpenAI-compatible multimodal model for a
// JSON vision report.
type OpenAIVisionProvider struct {
	chat *chatClient
}

// NewOpenAIVisionProvider creates a vision provider for cfg.
func NewOpenAIVisionProvider(cfg config.ProviderConfig) *OpenAIVisionProvider {
	return &OpenAIVisionProvider{chat: newChatClient(cfg)}
}

// Extract implements VisionProvider.
func (p *OpenAIVisionProvider) Extract(ctx context.Context, image []byte, format string) (*domain.VisionResult, error) {
	dataURL := fmt.Sprintf("data:%s;base64,%s", getMIMEType(format), base64.StdEncoding.EncodeToString(image))

	content, err := p.chat.complete(ctx, chatRequest{
		Messages: []chatMessage{
			{Role: "system", Content: prompts.VisionSystemPrompt},
			{
				Role: "user",
				Content: []interface{}{
					chatTextContent{Type: "text", Text: prompts.VisionUserPrompt},
					chatImageContent{
						Type:     "image_url",
						ImageURL: chatImageURL{URL: dataURL, Detail: "auto"},
					},
				},
			},
		},
		MaxTokens:   500,
		Temperature: 0,
	})
	if err != nil {
		return nil, err
	}
	return parseVisionReport(content)
}

type visionReport struct {
	Labels []struct {
		Name  string  `json:"name"`
		Score float64 `json:"score"`
	} `json:"labels"`
	OCRText string `json:"ocrText"`
	Colors  []struct {
		Name  string  `json:"name"`
		Hex   string  `json:"hex"`
		Score float64 `json:"score"`
	} `json:"colors"`
	Logos []struct {
		Name  string  `json:"name"`
		Score float64 `json:"score"`
	} `json:"logos"`
}

// parseVisionReport converts model output into a VisionResult, dropping
// unnamed entries and clamping scores.
func parseVisionReport(content string) (*domain.VisionResult, error) {
	var report visionReport
	if err := decodeJSONObject(content, &report); err != nil {
		return nil, err
	}

	result := &domain.VisionResult{OCRText: strings.TrimSpace(report.OCRText)}
	for _, l := range report.Labels {
		if name := strings.ToLower(strings.TrimSpace(l.Name)); name != "" {
			result.Labels = append(result.Labels, domain.Label{Name: name, Score: clamp01(l.Score)})
		}
	}
	for _, c := range report.Colors {
		if name := strings.ToLower(strings.TrimSpace(c.Name)); name != "" {
			result.Colors = append(result.Colors, domain.Color{Name: name, Hex: c.Hex, Score: clamp01(c.Score)})
		}
	}
	for _, l := range report.Logos {
		if name := strings.TrimSpace(l.Name); name != "" {
			result.Logos = append(result.Logos, domain.Logo{Name: name, Score: clamp01(l.Score)})
		}
	}
	if result.IsEmpty() {
		return nil, fmt.Errorf("vision report contained no signals")
	}
	return result, nil
}

// VisionOutcome is the result of a vision stage run.
type VisionOutcome struct {
	Result   *domain.VisionResult
	CacheHit bool
}

// VisionStage consults the vision cache and calls the provider on a miss,
// bounded by a hard timeout.
type VisionStage struct {
	provider      VisionProvider
	cache         *cache.VisionCache
	timeout       time.Duration
	packSensitive bool
}

// NewVisionStage creates a vision stage.
func NewVisionStage(provider VisionProvider, c *cache.VisionCache, timeout time.Duration, packSensitive bool) *VisionStage {
	return &VisionStage{provider: provider, cache: c, timeout: timeout, packSensitive: packSensitive}
}

// Run extracts vision signals for image. Errors wrap
// domain.ErrProviderTimeout when the deadline passed and
// domain.ErrVisionExtractionFailed otherwise.
func (s *VisionStage) Run(ctx context.Context, imageHash, domainPackID string, image []byte, format string) (*VisionOutcome, error) {
	key := cache.Key(imageHash, domainPackID, s.packSensitive)

	outcome, err := callWithTimeout(ctx, s.timeout, func(ctx context.Context) (*VisionOutcome, error) {
		res, hit, err := s.cache.GetOrLoad(ctx, key, func(ctx context.Context) (*domain.VisionResult, error) {
			return s.provider.Extract(ctx, image, format)
		})
		if err != nil {
			return nil, err
		}
		if res == nil || res.IsEmpty() {
			return nil, fmt.Errorf("provider returned an empty result")
		}
		return &VisionOutcome{Result: res, CacheHit: hit}, nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrProviderTimeout) {
			return nil, fmt.Errorf("%w: vision after %s", domain.ErrProviderTimeout, s.timeout)
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrVisionExtractionFailed, err)
	}

	if outcome.CacheHit {
		logger.CtxInfo(ctx, "Vision cache hit: key=%s", key)
	}
	return outcome, nil
}

// callWithTimeout runs fn with a deadline. If the deadline passes first the
// call is abandoned: its result, if it ever arrives, is discarded.
func callWithTimeout[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		val T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn(ctx)
		done <- result{val: v, err: err}
	}()

	var zero T
	select {
	case r := <-done:
		if r.err != nil && errors.Is(r.err, context.DeadlineExceeded) {
			return zero, domain.ErrProviderTimeout
		}
		return r.val, r.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return zero, domain.ErrProviderTimeout
		}
		return zero, ctx.Err()
	}
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
