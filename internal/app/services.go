package app

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/yungbote/neurobridge-transcribe/internal/config"
	jobrepo "github.com/yungbote/neurobridge-transcribe/internal/data/repos/transcription"
	"github.com/yungbote/neurobridge-transcribe/internal/modules/transcription"
	"github.com/yungbote/neurobridge-transcribe/internal/observability"
	"github.com/yungbote/neurobridge-transcribe/internal/platform/logger"
)

func wireServices(db *gorm.DB, log *logger.Logger, cfg config.AppConfig, clients Clients, metrics *observability.Metrics) (*transcription.Service, error) {
	log.Info("Wiring services...")

	deps := transcription.ServiceDeps{
		Log:      log,
		Jobs:     jobrepo.NewJobRepo(db, log),
		Provider: clients.Provider,
		Cache:    clients.Cache,
		Metrics:  metrics,
		Config:   cfg.Transcription,
	}
	// Assigned only when set so the optional interfaces stay nil.
	if clients.Store != nil {
		deps.Store = clients.Store
	}
	if clients.OpenAI != nil {
		deps.Deriver = transcription.NewSummarizer(clients.OpenAI)
	}
	if clients.EventBus != nil {
		deps.Events = clients.EventBus
	}

	svc, err := transcription.NewService(deps)
	if err != nil {
		return nil, fmt.Errorf("init transcription service: %w", err)
	}
	return svc, nil
}
