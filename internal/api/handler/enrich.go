package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/scanium/enricher/internal/logger"
	"github.com/scanium/enricher/internal/service"
	_ "golang.org/x/image/webp"
)

// Request headers understood by the enrichment endpoints.
const (
	HeaderDeviceID      = "X-Scanium-Device-Id"
	HeaderCorrelationID = "X-Scanium-Correlation-Id"
)

// EnrichService is the pipeline surface the handler needs.
type EnrichService interface {
	Submit(ctx context.Context, req service.SubmitRequest) (*service.SubmitResult, error)
	GetStatus(ctx context.Context, requestID string) (*service.JobStatus, error)
	GetMetrics() *service.Metrics
}

// EnrichHandler serves the enrichment submit, status and metrics endpoints.
type EnrichHandler struct {
	svc           EnrichService
	validator     *validator.Validate
	maxImageBytes int64
}

// NewEnrichHandler creates a new enrichment handler.
// Parameters:
//   - svc: pipeline that accepts and tracks jobs.
//   - maxImageBytes: largest accepted image upload.
// Returns:
//   - *EnrichHandler: initialized handler.
func NewEnrichHandler(svc EnrichService, maxImageBytes int64) *EnrichHandler {
	return &EnrichHandler{
		svc:           svc,
		validator:     validator.New(),
		maxImageBytes: maxImageBytes,
	}
}

// enrichForm holds the plain multipart fields.
type enrichForm struct {
	ItemID string `form:"itemId" binding:"required,max=128"`
	Data   string `form:"data"`
}

// enrichData is the optional structured data field.
type enrichData struct {
	DomainPackID string            `json:"domainPackId" validate:"omitempty,max=64"`
	Hints        map[string]string `json:"hints" validate:"omitempty,max=32,dive,keys,min=1,max=64,endkeys,max=256"`
}

// SubmitResponse is the body of an accepted submission.
type SubmitResponse struct {
	Success       bool   `json:"success"`
	RequestID     string `json:"requestId"`
	CorrelationID string `json:"correlationId"`
}

// StatusResponse wraps a job projection.
type StatusResponse struct {
	Success bool `json:"success"`
	*service.JobStatus
}

// Submit handles POST /v1/items/enrich.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *EnrichHandler) Submit(c *gin.Context) {
	ctx := c.Request.Context()

	var form enrichForm
	if err := c.ShouldBind(&form); err != nil {
		RespondError(c, http.StatusBadRequest, ErrorBody{
			Code:    CodeValidation,
			Message: "invalid submission",
			Details: validationDetails(err),
		})
		return
	}

	var data enrichData
	if strings.TrimSpace(form.Data) != "" {
		if err := json.Unmarshal([]byte(form.Data), &data); err != nil {
			RespondError(c, http.StatusBadRequest, ErrorBody{Code: CodeValidation, Message: "data must be a JSON object: " + err.Error()})
			return
		}
		if err := h.validator.Struct(&data); err != nil {
			RespondError(c, http.StatusBadRequest, ErrorBody{
				Code:    CodeValidation,
				Message: "invalid data field",
				Details: validationDetails(err),
			})
			return
		}
	}

	img, format, status, body := h.readImage(c)
	if body != nil {
		RespondError(c, status, *body)
		return
	}

	correlationID := logger.GetCorrelationID(ctx)
	if correlationID == "" {
		correlationID = c.GetHeader(HeaderCorrelationID)
	}

	result, err := h.svc.Submit(ctx, service.SubmitRequest{
		Image:         img,
		Format:        format,
		ItemID:        form.ItemID,
		DomainPackID:  data.DomainPackID,
		DeviceID:      c.GetHeader(HeaderDeviceID),
		CorrelationID: correlationID,
		Hints:         data.Hints,
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.Header(HeaderCorrelationID, result.CorrelationID)
	c.JSON(http.StatusAccepted, SubmitResponse{
		Success:       true,
		RequestID:     result.RequestID,
		CorrelationID: result.CorrelationID,
	})
}

// readImage loads and sniffs the image part. On failure it returns the
// status and error body to send.
func (h *EnrichHandler) readImage(c *gin.Context) ([]byte, string, int, *ErrorBody) {
	fh, err := c.FormFile("image")
	if err != nil {
		return nil, "", http.StatusBadRequest, &ErrorBody{Code: CodeValidation, Message: "image file is required"}
	}
	if fh.Size > h.maxImageBytes {
		return nil, "", http.StatusBadRequest, &ErrorBody{
			Code:    CodePayloadTooLarge,
			Message: fmt.Sprintf("image is %d bytes, limit is %d", fh.Size, h.maxImageBytes),
		}
	}

	f, err := fh.Open()
	if err != nil {
		return nil, "", http.StatusBadRequest, &ErrorBody{Code: CodeValidation, Message: "image could not be read"}
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, h.maxImageBytes+1))
	if err != nil {
		return nil, "", http.StatusBadRequest, &ErrorBody{Code: CodeValidation, Message: "image could not be read"}
	}
	if int64(len(data)) > h.maxImageBytes {
		return nil, "", http.StatusBadRequest, &ErrorBody{Code: CodePayloadTooLarge, Message: "image exceeds size limit"}
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil || cfg.Width == 0 || cfg.Height == 0 {
		return nil, "", http.StatusBadRequest, &ErrorBody{Code: CodeValidation, Message: "image must be a JPEG, PNG or WebP file"}
	}
	return data, format, 0, nil
}

// Status handles GET /v1/items/enrich/status/:requestId.
func (h *EnrichHandler) Status(c *gin.Context) {
	status, err := h.svc.GetStatus(c.Request.Context(), c.Param("requestId"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, StatusResponse{Success: true, JobStatus: status})
}

// Metrics handles GET /v1/items/enrich/metrics.
func (h *EnrichHandler) Metrics(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.GetMetrics())
}

// validationDetails flattens validator errors into "field: rule" strings.
func validationDetails(err error) []string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []string{err.Error()}
	}
	details := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			details = append(details, fmt.Sprintf("%s: %s=%s", fe.Field(), fe.Tag(), fe.Param()))
		} else {
			details = append(details, fmt.Sprintf("%s: %s", fe.Field(), fe.Tag()))
		}
	}
	return details
}
