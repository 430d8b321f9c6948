package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/scanium/enricher/internal/config"
	"github.com/scanium/enricher/internal/domain"
	"github.com/scanium/enricher/internal/logger"
	"github.com/scanium/enricher/internal/prompts"
)

const maxTitleRunes = 80

// DraftProvider writes listing text from normalized attributes.
type DraftProvider interface {
	GenerateDraft(ctx context.Context, attrs map[string]domain.Attribute, domainPackID string) (title, description string, err error)
}

// OpenAIDraftProvider writes drafts with an OpenAI-compatible chat model.
type OpenAIDraftProvider struct {
	chat *chatClient
}

// NewOpenAIDraftProvider creates a draft provider for cfg.
func NewOpenAIDraftProvider(cfg config.ProviderConfig) *OpenAIDraftProvider {
	return &OpenAIDraftProvider{chat: newChatClient(cfg)}
}

type draftReply struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// GenerateDraft implements DraftProvider.
func (p *OpenAIDraftProvider) GenerateDraft(ctx context.Context, attrs map[string]domain.Attribute, domainPackID string) (string, string, error) {
	content, err := p.chat.complete(ctx, chatRequest{
		Messages: []chatMessage{
			{Role: "system", Content: prompts.DraftSystemPrompt},
			{Role: "user", Content: fmt.Sprintf(prompts.DraftUserPromptTemplate, domainPackID, attributeLines(attrs))},
		},
		MaxTokens:   300,
		Temperature: 0.4,
	})
	if err != nil {
		return "", "", err
	}

	var reply draftReply
	if err := decodeJSONObject(content, &reply); err != nil {
		return "", "", err
	}
	title := strings.TrimSpace(reply.Title)
	if title == "" {
		return "", "", fmt.Errorf("draft reply has an empty title")
	}
	return truncateRunes(title, maxTitleRunes), strings.TrimSpace(reply.Description), nil
}

// attributeLines renders attributes one per line in name order.
func attributeLines(attrs map[string]domain.Attribute) string {
	names := make([]string, 0, len(attrs))
	for name := range attrs {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		a := attrs[name]
		fmt.Fprintf(&b, "- %s: %s (confidence %.2f)\n", name, a.Value, a.Confidence)
	}
	return b.String()
}

// TemplateDraft composes a draft from attributes without any external call.
// The same attributes always yield the same draft.
func TemplateDraft(attrs map[string]domain.Attribute) *domain.Draft {
	value := func(name string) string { return attrs[name].Value }

	var parts []string
	if brand := value(AttrBrand); brand != "" {
		parts = append(parts, brand)
	}
	if color := value(AttrColor); color != "" {
		parts = append(parts, capitalize(color))
	}
	if material := value(AttrMaterial); material != "" {
		parts = append(parts, material)
	}
	category := value(AttrCategory)
	if category == "" {
		category = "item"
	}
	parts = append(parts, category)
	if size := value(AttrSize); size != "" {
		parts = append(parts, "size "+size)
	}
	title := truncateRunes(capitalize(strings.Join(parts, " ")), maxTitleRunes)

	var sentences []string
	if category != "item" {
		sentences = append(sentences, fmt.Sprintf("%s for sale.", capitalize(withArticle(category))))
	} else {
		sentences = append(sentences, "Item for sale.")
	}
	for _, name := range []string{AttrBrand, AttrColor, AttrMaterial, AttrSize} {
		if v := value(name); v != "" {
			sentences = append(sentences, fmt.Sprintf("%s: %s.", capitalize(name), v))
		}
	}
	var extra []string
	for name, a := range attrs {
		switch name {
		case AttrCategory, AttrBrand, AttrColor, AttrMaterial, AttrSize:
			continue
		}
		extra = append(extra, fmt.Sprintf("%s: %s.", capitalize(name), a.Value))
	}
	sort.Strings(extra)
	sentences = append(sentences, extra...)
	sentences = append(sentences, "See photos for condition.")

	return &domain.Draft{
		Title:       title,
		Description: strings.Join(sentences, " "),
		GeneratedBy: domain.DraftModeTemplate,
	}
}

// DraftOutcome is the result of a draft stage run.
type DraftOutcome struct {
	Draft *domain.Draft
	// ProviderErr is set when the provider failed and the template was used.
	ProviderErr error
}

// DraftStage calls the draft provider with a hard timeout and falls back to
// TemplateDraft on any provider failure. It never fails.
type DraftStage struct {
	provider DraftProvider
	timeout  time.Duration
}

// NewDraftStage creates a draft stage. A nil provider always uses the template.
func NewDraftStage(provider DraftProvider, timeout time.Duration) *DraftStage {
	return &DraftStage{provider: provider, timeout: timeout}
}

// Run produces a draft for attrs.
func (s *DraftStage) Run(ctx context.Context, attrs map[string]domain.Attribute, domainPackID string) *DraftOutcome {
	if s.provider == nil {
		return &DraftOutcome{Draft: TemplateDraft(attrs)}
	}

	draft, err := callWithTimeout(ctx, s.timeout, func(ctx context.Context) (*domain.Draft, error) {
		title, description, err := s.provider.GenerateDraft(ctx, attrs, domainPackID)
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(title) == "" {
			return nil, fmt.Errorf("provider returned an empty title")
		}
		return &domain.Draft{Title: title, Description: description, GeneratedBy: domain.DraftModeLLM}, nil
	})
	if err == nil {
		return &DraftOutcome{Draft: draft}
	}

	if errors.Is(err, domain.ErrProviderTimeout) {
		err = fmt.Errorf("%w: %w after %s", domain.ErrDraftGenerationFailed, domain.ErrProviderTimeout, s.timeout)
	} else {
		err = fmt.Errorf("%w: %v", domain.ErrDraftGenerationFailed, err)
	}
	logger.With(logger.Fields{logger.FieldStatus: "fallback"}).Warn(ctx, "Draft provider failed, using template: %v", err)
	return &DraftOutcome{Draft: TemplateDraft(attrs), ProviderErr: err}
}

func withArticle(noun string) string {
	if noun == "" {
		return noun
	}
	if strings.ContainsRune("aeiou", rune(strings.ToLower(noun)[0])) {
		return "an " + noun
	}
	return "a " + noun
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return strings.TrimSpace(string(r[:n]))
}
