package api

import (
	"github.com/gin-gonic/gin"
	"github.com/scanium/enricher/internal/api/handler"
	"github.com/scanium/enricher/internal/api/middleware"
	"github.com/scanium/enricher/internal/logger"
)

// RouterConfig carries the HTTP-facing settings.
type RouterConfig struct {
	Mode          string
	CORS          middleware.CORSConfig
	APIKeys       []string
	MaxImageBytes int64
	Logger        *logger.Logger
}

// SetupRouter configures the Gin router with all routes
func SetupRouter(enrichService handler.EnrichService, cfg RouterConfig) *gin.Engine {
	switch cfg.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	r := gin.New()
	// Multipart parts beyond this are spooled to disk by net/http.
	r.MaxMultipartMemory = cfg.MaxImageBytes + 1<<20

	r.Use(gin.Recovery())
	r.Use(middleware.LoggerMiddleware(cfg.Logger))
	r.Use(middleware.CORS(cfg.CORS))

	healthHandler := handler.NewHealthHandler()
	enrichHandler := handler.NewEnrichHandler(enrichService, cfg.MaxImageBytes)

	r.GET("/healthz", healthHandler.Health)

	v1 := r.Group("/v1/items/enrich")
	v1.Use(middleware.APIKeyAuth(cfg.APIKeys))
	{
		v1.POST("", enrichHandler.Submit)
		v1.GET("/status/:requestId", enrichHandler.Status)
		v1.GET("/metrics", enrichHandler.Metrics)
	}

	return r
}
