package app

import (
	"gorm.io/gorm"

	"github.com/yungbote/neurobridge-transcribe/internal/config"
	httpserver "github.com/yungbote/neurobridge-transcribe/internal/http"
	httpH "github.com/yungbote/neurobridge-transcribe/internal/http/handlers"
	httpMW "github.com/yungbote/neurobridge-transcribe/internal/http/middleware"
	"github.com/yungbote/neurobridge-transcribe/internal/modules/transcription"
	"github.com/yungbote/neurobridge-transcribe/internal/observability"
	"github.com/yungbote/neurobridge-transcribe/internal/platform/logger"
)

func wireHTTP(log *logger.Logger, cfg config.AppConfig, db *gorm.DB, svc *transcription.Service, metrics *observability.Metrics) *httpserver.Server {
	log.Info("Wiring HTTP...")

	var auth *httpMW.AuthMiddleware
	if cfg.Auth.JWTSecretKey != "" {
		auth = httpMW.NewAuthMiddleware(log, cfg.Auth.JWTSecretKey)
	} else {
		log.Warn("JWT_SECRET_KEY not set; API is unauthenticated and owner scoping is off")
	}

	serviceName := ""
	if cfg.Observability.Enabled {
		serviceName = cfg.Observability.ServiceName
	}

	return httpserver.NewServer(cfg.HTTP.Port, httpserver.RouterConfig{
		Log:                  log,
		ServiceName:          serviceName,
		CORSOrigins:          cfg.HTTP.CORSAllowedOrigins,
		Metrics:              metrics,
		AuthMiddleware:       auth,
		TranscriptionHandler: httpH.NewTranscriptionHandler(log, svc),
		HealthHandler:        httpH.NewHealthHandler(db),
	})
}
