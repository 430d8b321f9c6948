package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/scanium/enricher/internal/cache"
	"github.com/scanium/enricher/internal/config"
	"github.com/scanium/enricher/internal/domain"
	"github.com/scanium/enricher/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeJSONObjectToleratesWrapping(t *testing.T) {
	tests := map[string]string{
		"bare":       `{"title":"A","description":"B"}`,
		"fenced":     "```json\n{\"title\":\"A\",\"description\":\"B\"}\n```",
		"think":      "<think>{not json}</think>\nHere you go: {\"title\":\"A\",\"description\":\"B\"} hope it helps",
		"prose":      `Sure! {"title":"A","description":"B"}`,
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			var reply draftReply
			require.NoError(t, decodeJSONObject(content, &reply))
			assert.Equal(t, "A", reply.Title)
			assert.Equal(t, "B", reply.Description)
		})
	}

	var reply draftReply
	assert.NoError(t, decodeJSONObject(`{"title":"{curly}","description":"x"}`, &reply))
	assert.Equal(t, "{curly}", reply.Title)
	assert.Error(t, decodeJSONObject("no json here", &reply))
	assert.Error(t, decodeJSONObject(`{"title":"A"`, &reply))
}

func TestParseVisionReport(t *testing.T) {
	res, err := parseVisionReport(`{"labels":[{"name":" Sneaker ","score":1.2},{"name":"","score":0.5}],
		"ocrText":" NIKE ","colors":[{"name":"Red","hex":"#cc2222","score":0.8}],"logos":[{"name":"Nike","score":0.97}]}`)
	require.NoError(t, err)

	assert.Equal(t, []domain.Label{{Name: "sneaker", Score: 1}}, res.Labels)
	assert.Equal(t, "NIKE", res.OCRText)
	assert.Equal(t, "red", res.Colors[0].Name)
	assert.Equal(t, "Nike", res.Logos[0].Name)

	_, err = parseVisionReport(`{"labels":[],"ocrText":"","colors":[],"logos":[]}`)
	assert.Error(t, err)
}

func newChatServer(t *testing.T, status int, content string) (*httptest.Server, *chatRequest) {
	t.Helper()
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status >= 300 {
			_, _ = w.Write([]byte(`{"error":{"message":"quota exceeded","type":"insufficient_quota"}}`))
			return
		}
		body, _ := json.Marshal(map[string]interface{}{
			"choices": []map[string]interface{}{{"message": map[string]string{"content": content}}},
		})
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv, &got
}

func TestOpenAIVisionProviderExtract(t *testing.T) {
	srv, got := newChatServer(t, http.StatusOK,
		"```json\n{\"labels\":[{\"name\":\"lamp\",\"score\":0.9}],\"ocrText\":\"\",\"colors\":[],\"logos\":[]}\n```")

	p := NewOpenAIVisionProvider(config.ProviderConfig{Model: "vision-model", APIKey: "test-key", BaseURL: srv.URL + "/v1/"})
	res, err := p.Extract(context.Background(), []byte{0xff, 0xd8, 0xff}, "jpeg")
	require.NoError(t, err)
	assert.Equal(t, "lamp", res.Labels[0].Name)

	assert.Equal(t, "vision-model", got.Model)
	require.Len(t, got.Messages, 2)
	parts, ok := got.Messages[1].Content.([]interface{})
	require.True(t, ok)
	image := parts[1].(map[string]interface{})["image_url"].(map[string]interface{})
	assert.True(t, strings.HasPrefix(image["url"].(string), "data:image/jpeg;base64,"))
}

func TestOpenAIVisionProviderHTTPError(t *testing.T) {
	srv, _ := newChatServer(t, http.StatusTooManyRequests, "")

	p := NewOpenAIVisionProvider(config.ProviderConfig{APIKey: "test-key", BaseURL: srv.URL + "/v1"})
	_, err := p.Extract(context.Background(), []byte("img"), "png")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 429")
	assert.Contains(t, err.Error(), "quota exceeded")
}

func TestChatErrorBodyIsCutOnRuneBoundary(t *testing.T) {
	body := strings.Repeat("é", 300)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)

	p := NewOpenAIVisionProvider(config.ProviderConfig{APIKey: "test-key", BaseURL: srv.URL + "/v1"})
	_, err := p.Extract(context.Background(), []byte("img"), "png")
	require.Error(t, err)

	msg := err.Error()
	assert.True(t, utf8.ValidString(msg))
	assert.Contains(t, msg, "HTTP 502")
	assert.Contains(t, msg, strings.Repeat("é", 200))
	assert.NotContains(t, msg, strings.Repeat("é", 201))
}

func TestOpenAIDraftProvider(t *testing.T) {
	srv, got := newChatServer(t, http.StatusOK, `{"title":"Nike sneakers","description":"Red leather."}`)

	p := NewOpenAIDraftProvider(config.ProviderConfig{Model: "draft-model", APIKey: "test-key", BaseURL: srv.URL + "/v1"})
	title, desc, err := p.GenerateDraft(context.Background(), map[string]domain.Attribute{
		AttrBrand: {Value: "Nike", Confidence: 0.97, Source: domain.SourceLogo},
	}, "fashion")
	require.NoError(t, err)
	assert.Equal(t, "Nike sneakers", title)
	assert.Equal(t, "Red leather.", desc)
	assert.Contains(t, got.Messages[1].Content, "- brand: Nike (confidence 0.97)")
	assert.Contains(t, got.Messages[1].Content, "Domain pack: fashion")
}

func TestVisionStageCachesByContent(t *testing.T) {
	provider := testutil.NewFakeVisionProvider()
	stage := NewVisionStage(provider, cache.NewVisionCache(cache.Options{}), time.Second, false)

	first, err := stage.Run(context.Background(), "h1", "fashion", []byte("img"), "jpeg")
	require.NoError(t, err)
	assert.False(t, first.CacheHit)

	second, err := stage.Run(context.Background(), "h1", "home", []byte("img"), "jpeg")
	require.NoError(t, err)
	assert.True(t, second.CacheHit)
	assert.Equal(t, first.Result, second.Result)
	assert.Equal(t, 1, provider.Calls())
}

func TestVisionStagePackSensitiveKeys(t *testing.T) {
	provider := testutil.NewFakeVisionProvider()
	stage := NewVisionStage(provider, cache.NewVisionCache(cache.Options{}), time.Second, true)

	_, err := stage.Run(context.Background(), "h1", "fashion", []byte("img"), "jpeg")
	require.NoError(t, err)
	out, err := stage.Run(context.Background(), "h1", "home", []byte("img"), "jpeg")
	require.NoError(t, err)
	assert.False(t, out.CacheHit)
	assert.Equal(t, 2, provider.Calls())
}

func TestVisionStageTimeout(t *testing.T) {
	provider := testutil.NewFakeVisionProvider()
	provider.Block = true
	c := cache.NewVisionCache(cache.Options{})
	stage := NewVisionStage(provider, c, 20*time.Millisecond, false)

	_, err := stage.Run(context.Background(), "h1", "", []byte("img"), "jpeg")
	assert.ErrorIs(t, err, domain.ErrProviderTimeout)

	_, cached := c.Get("h1")
	assert.False(t, cached, "a timed out call must not populate the cache")
}

func TestVisionStageProviderError(t *testing.T) {
	provider := testutil.NewFakeVisionProvider()
	provider.Err = errors.New("bad gateway")
	stage := NewVisionStage(provider, cache.NewVisionCache(cache.Options{}), time.Second, false)

	_, err := stage.Run(context.Background(), "h1", "", []byte("img"), "jpeg")
	assert.ErrorIs(t, err, domain.ErrVisionExtractionFailed)
	assert.NotErrorIs(t, err, domain.ErrProviderTimeout)
}

func TestVisionStageAbandonsProviderIgnoringContext(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	stubborn := visionFunc(func(context.Context, []byte, string) (*domain.VisionResult, error) {
		<-release
		return testutil.SampleVisionResult(), nil
	})
	stage := NewVisionStage(stubborn, cache.NewVisionCache(cache.Options{}), 20*time.Millisecond, false)

	start := time.Now()
	_, err := stage.Run(context.Background(), "h1", "", []byte("img"), "jpeg")
	assert.ErrorIs(t, err, domain.ErrProviderTimeout)
	assert.Less(t, time.Since(start), time.Second)
}

type visionFunc func(ctx context.Context, image []byte, format string) (*domain.VisionResult, error)

func (f visionFunc) Extract(ctx context.Context, image []byte, format string) (*domain.VisionResult, error) {
	return f(ctx, image, format)
}

func TestMockVisionProviderIsDeterministic(t *testing.T) {
	a, err := MockVisionProvider{}.Extract(context.Background(), []byte("same bytes"), "jpeg")
	require.NoError(t, err)
	b, err := MockVisionProvider{}.Extract(context.Background(), []byte("same bytes"), "jpeg")
	require.NoError(t, err)
	assert.Equal(t, a, b)

	_, err = MockVisionProvider{}.Extract(context.Background(), nil, "jpeg")
	assert.Error(t, err)
}

func TestNewProviders(t *testing.T) {
	_, err := NewVisionProvider(config.ProviderConfig{Provider: "openai"})
	assert.Error(t, err, "openai vision needs a key")

	v, err := NewVisionProvider(config.ProviderConfig{Provider: "mock"})
	require.NoError(t, err)
	assert.IsType(t, MockVisionProvider{}, v)

	d, err := NewDraftProvider(config.ProviderConfig{Provider: "openai"})
	require.NoError(t, err)
	assert.Nil(t, d)

	_, err = NewDraftProvider(config.ProviderConfig{Provider: "acme"})
	assert.Error(t, err)
}
