package api

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/scanium/enricher/internal/api/handler"
	"github.com/scanium/enricher/internal/api/middleware"
	"github.com/scanium/enricher/internal/cache"
	"github.com/scanium/enricher/internal/domain"
	"github.com/scanium/enricher/internal/repository"
	"github.com/scanium/enricher/internal/service"
	"github.com/scanium/enricher/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "test-key"

type fixture struct {
	router   http.Handler
	pipeline *service.Pipeline
	vision   *testutil.FakeVisionProvider
}

func newFixture(t *testing.T, maxConcurrent int) *fixture {
	t.Helper()
	vision := testutil.NewFakeVisionProvider()
	clock := testutil.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	visionCache := cache.NewVisionCache(cache.Options{Clock: clock})

	p := service.NewPipeline(service.PipelineDeps{
		Store:      repository.NewMemoryResultStore(30*time.Minute, clock),
		Vision:     service.NewVisionStage(vision, visionCache, time.Second, false),
		Normalizer: service.NewNormalizer(0.2),
		Draft:      service.NewDraftStage(testutil.NewFakeDraftProvider(), time.Second),
		Cache:      visionCache,
		Clock:      clock,
	}, service.PipelineConfig{MaxConcurrent: maxConcurrent, EnableDraftGeneration: true, DefaultDomainPackID: "home_resale"})

	t.Cleanup(func() {
		vision.Release()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = p.Shutdown(ctx)
	})

	router := SetupRouter(p, RouterConfig{
		Mode:          "test",
		CORS:          middleware.CORSConfig{AllowAllOrigins: true},
		APIKeys:       []string{testKey},
		MaxImageBytes: 1 << 20,
	})
	return &fixture{router: router, pipeline: p, vision: vision}
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(1, 1, color.RGBA{R: 200, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func multipartBody(t *testing.T, fields map[string]string, img []byte) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	if img != nil {
		part, err := w.CreateFormFile("image", "item.png")
		require.NoError(t, err)
		_, err = part.Write(img)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return &body, w.FormDataContentType()
}

func (f *fixture) submit(t *testing.T, fields map[string]string, img []byte, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	body, contentType := multipartBody(t, fields, img)
	req := httptest.NewRequest(http.MethodPost, "/v1/items/enrich", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set(middleware.HeaderAPIKey, testKey)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) get(path, key string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if key != "" {
		req.Header.Set(middleware.HeaderAPIKey, key)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func TestHealthzNeedsNoKey(t *testing.T) {
	f := newFixture(t, 1)
	rec := f.get("/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestSubmitAndPoll(t *testing.T) {
	f := newFixture(t, 2)

	rec := f.submit(t, map[string]string{
		"itemId": "item-1",
		"data":   `{"domainPackId":"fashion","hints":{"condition":"used"}}`,
	}, pngBytes(t), map[string]string{
		handler.HeaderCorrelationID: "corr-42",
		handler.HeaderDeviceID:      "device-7",
	})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.Equal(t, "corr-42", rec.Header().Get(handler.HeaderCorrelationID))

	var accepted handler.SubmitResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &accepted))
	assert.True(t, accepted.Success)
	assert.Equal(t, "corr-42", accepted.CorrelationID)
	require.NotEmpty(t, accepted.RequestID)

	var status struct {
		Success    bool                        `json:"success"`
		Stage      domain.Stage                `json:"stage"`
		ItemID     string                      `json:"itemId"`
		Pack       string                      `json:"domainPackId"`
		Attributes map[string]domain.Attribute `json:"attributes"`
		Draft      *domain.Draft               `json:"draft"`
	}
	require.Eventually(t, func() bool {
		rec := f.get("/v1/items/enrich/status/"+accepted.RequestID, testKey)
		if rec.Code != http.StatusOK {
			return false
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
		return status.Stage == domain.StageDraftDone
	}, 2*time.Second, 5*time.Millisecond)

	assert.True(t, status.Success)
	assert.Equal(t, "item-1", status.ItemID)
	assert.Equal(t, "fashion", status.Pack)
	assert.Equal(t, domain.SourceUser, status.Attributes["condition"].Source)
	require.NotNil(t, status.Draft)
}

func TestSubmitRequiresAPIKey(t *testing.T) {
	f := newFixture(t, 1)
	body, contentType := multipartBody(t, map[string]string{"itemId": "item-1"}, pngBytes(t))

	for _, key := range []string{"", "wrong"} {
		req := httptest.NewRequest(http.MethodPost, "/v1/items/enrich", bytes.NewReader(body.Bytes()))
		req.Header.Set("Content-Type", contentType)
		if key != "" {
			req.Header.Set(middleware.HeaderAPIKey, key)
		}
		rec := httptest.NewRecorder()
		f.router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		var resp handler.ErrorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, handler.CodeUnauthorized, resp.Error.Code)
	}
	assert.Zero(t, f.pipeline.GetMetrics().Totals.Submitted)
}

func TestSubmitValidation(t *testing.T) {
	f := newFixture(t, 1)

	tests := []struct {
		name   string
		fields map[string]string
		img    []byte
		code   string
	}{
		{"missing item id", map[string]string{}, pngBytes(t), handler.CodeValidation},
		{"missing image", map[string]string{"itemId": "item-1"}, nil, handler.CodeValidation},
		{"not an image", map[string]string{"itemId": "item-1"}, []byte("plain text"), handler.CodeValidation},
		{"bad data json", map[string]string{"itemId": "item-1", "data": "{"}, pngBytes(t), handler.CodeValidation},
		{"too large", map[string]string{"itemId": "item-1"}, make([]byte, 2<<20), handler.CodePayloadTooLarge},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := f.submit(t, tc.fields, tc.img, nil)
			assert.Equal(t, http.StatusBadRequest, rec.Code)

			var resp handler.ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.False(t, resp.Success)
			assert.Equal(t, tc.code, resp.Error.Code)
		})
	}
}

func TestSubmitCapacityExceeded(t *testing.T) {
	f := newFixture(t, 1)
	f.vision.Block = true

	first := f.submit(t, map[string]string{"itemId": "a"}, pngBytes(t), nil)
	require.Equal(t, http.StatusAccepted, first.Code)

	second := f.submit(t, map[string]string{"itemId": "b"}, pngBytes(t), nil)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Equal(t, "1", second.Header().Get("Retry-After"))

	var resp handler.ErrorResponse
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &resp))
	assert.Equal(t, handler.CodeCapacity, resp.Error.Code)
	assert.True(t, resp.Error.Retryable)

	metrics := f.get("/v1/items/enrich/metrics", testKey)
	require.Equal(t, http.StatusOK, metrics.Code)
	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(metrics.Body.Bytes(), &m))
	assert.EqualValues(t, 1, m["activeJobs"])
	assert.EqualValues(t, 1, m["maxConcurrent"])
}

func TestStatusNotFound(t *testing.T) {
	f := newFixture(t, 1)
	rec := f.get("/v1/items/enrich/status/does-not-exist", testKey)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	var resp handler.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, handler.CodeNotFound, resp.Error.Code)
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t, 1)
	req := httptest.NewRequest(http.MethodOptions, "/v1/items/enrich", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "X-API-Key")
}

func TestIsOriginAllowed(t *testing.T) {
	cfg := middleware.CORSConfig{AllowedOrigins: []string{"https://app.example.com"}}
	assert.True(t, middleware.IsOriginAllowed("https://APP.example.com", cfg))
	assert.False(t, middleware.IsOriginAllowed("https://evil.example.com", cfg))
}
