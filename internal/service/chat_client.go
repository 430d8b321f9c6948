package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/scanium/enricher/internal/config"
)

// chatClient calls an OpenAI-compatible chat completions endpoint.
type chatClient struct {
	client   *resty.Client
	model    string
	endpoint string
}

// newChatClient builds a client for cfg. The per-request deadline comes from
// the caller's context; the client timeout is only an upper bound.
func newChatClient(cfg config.ProviderConfig) *chatClient {
	client := resty.New()
	client.SetHeader("Authorization", "Bearer "+cfg.APIKey)
	client.SetHeader("Content-Type", "application/json")
	client.SetTimeout(60 * time.Second)

	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}

	return &chatClient{
		client:   client,
		model:    cfg.Model,
		endpoint: baseURL + "/chat/completions",
	}
}

// OpenAI-compatible Chat Completion API request/response structures
type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float32       `json:"temperature"`
}

type chatMessage struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"` // string, or []interface{} for user turns with images
}

type chatTextContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type chatImageContent struct {
	Type     string       `json:"type"`
	ImageURL chatImageURL `json:"image_url"`
}

type chatImageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// complete sends req and returns the first choice's content.
func (c *chatClient) complete(ctx context.Context, req chatRequest) (string, error) {
	req.Model = c.model

	var resp chatResponse
	httpResp, err := c.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&resp).
		SetError(&resp).
		Post(c.endpoint)
	if err != nil {
		return "", fmt.Errorf("chat completion request failed: %w", err)
	}

	if httpResp.IsError() {
		if resp.Error != nil {
			return "", fmt.Errorf("chat completion returned HTTP %d: %s", httpResp.StatusCode(), resp.Error.Message)
		}
		return "", fmt.Errorf("chat completion returned HTTP %d: %s", httpResp.StatusCode(), truncateRunes(string(httpResp.Body()), 200))
	}
	if resp.Error != nil {
		return "", fmt.Errorf("chat completion error: %s", resp.Error.Message)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices (status: %d)", httpResp.StatusCode())
	}
	return resp.Choices[0].Message.Content, nil
}

// decodeJSONObject finds the first balanced JSON object in content and decodes
// it into v. Models often wrap JSON in prose, code fences or <think> blocks.
func decodeJSONObject(content string, v interface{}) error {
	if start := strings.Index(content, "<think>"); start != -1 {
		if end := strings.Index(content, "</think>"); end != -1 && end > start {
			content = content[end+len("</think>"):]
		}
	}

	jsonStart := strings.Index(content, "{")
	if jsonStart == -1 {
		return fmt.Errorf("no JSON found in response")
	}

	depth := 0
	inString := false
	escaped := false
	jsonEnd := -1
scan:
	for i := jsonStart; i < len(content); i++ {
		ch := content[i]
		switch {
		case escaped:
			escaped = false
		case ch == '\\' && inString:
			escaped = true
		case ch == '"':
			inString = !inString
		case inString:
		case ch == '{':
			depth++
		case ch == '}':
			depth--
			if depth == 0 {
				jsonEnd = i + 1
				break scan
			}
		}
	}
	if jsonEnd == -1 {
		return fmt.Errorf("incomplete JSON in response")
	}

	if err := json.Unmarshal([]byte(content[jsonStart:jsonEnd]), v); err != nil {
		return fmt.Errorf("failed to parse JSON: %w", err)
	}
	return nil
}

func getMIMEType(format string) string {
	switch format {
	case "png":
		return "image/png"
	case "webp":
		return "image/webp"
	default:
		return "image/jpeg"
	}
}
