package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/scanium/enricher/internal/api/handler"
	"github.com/scanium/enricher/internal/logger"
)

// HeaderAPIKey carries the client API key.
const HeaderAPIKey = "X-API-Key"

// APIKeyAuth rejects requests whose X-API-Key is not one of keys. An empty
// key list rejects everything.
func APIKeyAuth(keys []string) gin.HandlerFunc {
	accepted := make([][]byte, 0, len(keys))
	for _, k := range keys {
		if k != "" {
			accepted = append(accepted, []byte(k))
		}
	}

	return func(c *gin.Context) {
		presented := []byte(c.GetHeader(HeaderAPIKey))
		if len(presented) > 0 {
			for _, k := range accepted {
				if subtle.ConstantTimeCompare(presented, k) == 1 {
					c.Next()
					return
				}
			}
		}

		logger.CtxWarn(c.Request.Context(), "Rejected request with missing or invalid API key: path=%s", c.Request.URL.Path)
		handler.RespondError(c, http.StatusUnauthorized, handler.ErrorBody{
			Code:    handler.CodeUnauthorized,
			Message: "missing or invalid API key",
		})
	}
}
