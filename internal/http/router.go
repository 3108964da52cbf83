package http

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/yungbote/neurobridge-transcribe/internal/http/handlers"
	httpMW "github.com/yungbote/neurobridge-transcribe/internal/http/middleware"
	"github.com/yungbote/neurobridge-transcribe/internal/observability"
	"github.com/yungbote/neurobridge-transcribe/internal/platform/logger"
)

type RouterConfig struct {
	Log         *logger.Logger
	ServiceName string
	CORSOrigins []string
	Metrics     *observability.Metrics

	// Optional. Without it the API is open and owner scoping is off.
	AuthMiddleware *httpMW.AuthMiddleware

	TranscriptionHandler *httpH.TranscriptionHandler
	HealthHandler        *httpH.HealthHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if cfg.ServiceName != "" {
		r.Use(otelgin.Middleware(cfg.ServiceName))
	}
	r.Use(httpMW.AttachTraceContext())
	r.Use(httpMW.Metrics(cfg.Metrics))
	r.Use(httpMW.CORS(cfg.CORSOrigins))

	// Health
	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
	}
	if reg := cfg.Metrics.Registry(); reg != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	}

	api := r.Group("/api")
	if cfg.AuthMiddleware != nil {
		api.Use(cfg.AuthMiddleware.RequireAuth())
	}
	// Logged after auth so the owner is known.
	api.Use(httpMW.RequestLogger(cfg.Log))

	if h := cfg.TranscriptionHandler; h != nil {
		api.POST("/transcriptions", h.Submit)
		api.GET("/transcriptions", h.List)
		api.GET("/transcriptions/:id", h.GetStatus)
		api.POST("/transcriptions/:id/cancel", h.Cancel)
		api.GET("/transcriptions/:id/artifact-url", h.ArtifactURL)
		api.GET("/external-jobs/*external_id", h.GetStatusByExternalID)
	}

	return r
}
