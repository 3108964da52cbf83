package app

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/yungbote/neurobridge-transcribe/internal/config"
	"github.com/yungbote/neurobridge-transcribe/internal/data/db"
	httpserver "github.com/yungbote/neurobridge-transcribe/internal/http"
	"github.com/yungbote/neurobridge-transcribe/internal/modules/transcription"
	"github.com/yungbote/neurobridge-transcribe/internal/observability"
	"github.com/yungbote/neurobridge-transcribe/internal/platform/logger"
)

type App struct {
	Log     *logger.Logger
	Cfg     config.AppConfig
	DB      *gorm.DB
	Server  *httpserver.Server
	Clients Clients
	Service *transcription.Service
	// Nil when METRICS_ENABLED is off.
	Metrics *observability.Metrics

	dbService    *db.Service
	otelShutdown func(context.Context) error
	cancel       context.CancelFunc
}

func New(log *logger.Logger, cfg config.AppConfig) (*App, error) {
	if log == nil {
		return nil, errors.New("logger required")
	}
	otelShutdown := observability.InitOTel(context.Background(), log, cfg.Observability)

	var metrics *observability.Metrics
	if cfg.Metrics.Enabled {
		metrics = observability.NewMetrics()
	}

	dbService, err := db.NewService(cfg.Database, log)
	if err != nil {
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("init database: %w", err)
	}
	if err := dbService.AutoMigrate(); err != nil {
		_ = dbService.Close()
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("database automigrate: %w", err)
	}
	theDB := dbService.DB()

	clients, err := wireClients(log, cfg, metrics)
	if err != nil {
		_ = dbService.Close()
		_ = otelShutdown(context.Background())
		return nil, err
	}

	svc, err := wireServices(theDB, log, cfg, clients, metrics)
	if err != nil {
		clients.Close()
		_ = dbService.Close()
		_ = otelShutdown(context.Background())
		return nil, err
	}

	return &App{
		Log:          log,
		Cfg:          cfg,
		DB:           theDB,
		Server:       wireHTTP(log, cfg, theDB, svc, metrics),
		Clients:      clients,
		Service:      svc,
		Metrics:      metrics,
		dbService:    dbService,
		otelShutdown: otelShutdown,
	}, nil
}

// Start launches background collectors. Jobs advance only when read, so
// there is no poller to start.
func (a *App) Start() {
	if a == nil || a.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	if a.Metrics != nil {
		a.Metrics.StartJobStatusCollector(ctx, a.Log, a.DB, a.Cfg.Metrics.CollectInterval)
	}
}

func (a *App) Run() error {
	if a == nil || a.Server == nil {
		return fmt.Errorf("app not initialized")
	}
	a.Log.Info("Server listening", "port", a.Cfg.HTTP.Port)
	return a.Server.Run()
}

// Close stops the server and releases clients. ctx bounds the graceful
// shutdown.
func (a *App) Close(ctx context.Context) {
	if a == nil {
		return
	}
	if a.Server != nil {
		if err := a.Server.Shutdown(ctx); err != nil {
			a.Log.Warn("HTTP shutdown failed", "error", err)
		}
	}
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	a.Clients.Close()
	if a.dbService != nil {
		if err := a.dbService.Close(); err != nil {
			a.Log.Warn("Database close failed", "error", err)
		}
	}
	if a.otelShutdown != nil {
		if err := a.otelShutdown(ctx); err != nil {
			a.Log.Warn("OTel shutdown failed", "error", err)
		}
	}
	a.Log.Sync()
}
