package app

import (
	"fmt"
	"io"

	"github.com/yungbote/neurobridge-transcribe/internal/config"
	domain "github.com/yungbote/neurobridge-transcribe/internal/domain/transcription"
	"github.com/yungbote/neurobridge-transcribe/internal/observability"
	"github.com/yungbote/neurobridge-transcribe/internal/platform/asynctask"
	"github.com/yungbote/neurobridge-transcribe/internal/platform/gcp"
	"github.com/yungbote/neurobridge-transcribe/internal/platform/localstore"
	"github.com/yungbote/neurobridge-transcribe/internal/platform/logger"
	"github.com/yungbote/neurobridge-transcribe/internal/platform/openai"
	"github.com/yungbote/neurobridge-transcribe/internal/platform/redis"
)

var (
	newSpeechProvider = gcp.NewSpeechProvider
	newAsyncTask      = asynctask.New
)

type Clients struct {
	Provider domain.Provider
	Cache    *localstore.Store
	// Optional; nil when the matching setting is empty.
	Store    gcp.ArtifactStore
	OpenAI   openai.Client
	EventBus redis.EventBus
}

func wireClients(log *logger.Logger, cfg config.AppConfig, metrics *observability.Metrics) (Clients, error) {
	log.Info("Wiring clients...")

	provider, err := wireProvider(log, cfg)
	if err != nil {
		return Clients{}, err
	}
	out := Clients{Provider: provider}

	cache, err := localstore.New(cfg.Transcription.CacheDir)
	if err != nil {
		out.Close()
		return Clients{}, fmt.Errorf("init local cache: %w", err)
	}
	out.Cache = cache

	store, err := resolveArtifactStore(log, metrics, cfg.Transcription.Bucket, cfg.ObjectStorage)
	if err != nil {
		out.Close()
		return Clients{}, err
	}
	out.Store = store

	// Openai
	if cfg.OpenAI.APIKey != "" && cfg.Transcription.PostProcessEnabled {
		ai, err := openai.NewClient(log, openai.Config{
			APIKey:     cfg.OpenAI.APIKey,
			BaseURL:    cfg.OpenAI.BaseURL,
			Model:      cfg.OpenAI.Model,
			Timeout:    cfg.OpenAI.Timeout,
			MaxRetries: cfg.OpenAI.MaxRetries,
		})
		if err != nil {
			out.Close()
			return Clients{}, fmt.Errorf("init openai client: %w", err)
		}
		out.OpenAI = ai
	} else {
		log.Info("Summary post-processing disabled")
	}

	// Redis
	if cfg.Redis.Addr != "" {
		bus, err := redis.NewEventBus(log, cfg.Redis.Addr, cfg.Redis.Channel)
		if err != nil {
			out.Close()
			return Clients{}, fmt.Errorf("init redis event bus: %w", err)
		}
		out.EventBus = bus
	}

	return out, nil
}

func wireProvider(log *logger.Logger, cfg config.AppConfig) (domain.Provider, error) {
	log.Info("Selecting transcription provider", "provider", cfg.Transcription.Provider)
	switch cfg.Transcription.Provider {
	case asynctask.ProviderName:
		p, err := newAsyncTask(log, asynctask.Config{
			BaseURL:        cfg.AsyncTask.BaseURL,
			APIKey:         cfg.AsyncTask.APIKey,
			Model:          cfg.AsyncTask.Model,
			HTTPTimeout:    cfg.Transcription.ProviderCallTimeout,
			MaxResultBytes: cfg.AsyncTask.MaxResultBytes,
		})
		if err != nil {
			return nil, fmt.Errorf("init asynctask provider: %w", err)
		}
		return p, nil
	case gcp.SpeechProviderName:
		p, err := newSpeechProvider(log, cfg.Speech.Endpoint)
		if err != nil {
			return nil, fmt.Errorf("init speech provider: %w", err)
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown transcription provider %q", cfg.Transcription.Provider)
	}
}

func (c Clients) Close() {
	if closer, ok := c.Provider.(io.Closer); ok {
		_ = closer.Close()
	}
	if closer, ok := c.Store.(io.Closer); ok {
		_ = closer.Close()
	}
	if c.EventBus != nil {
		_ = c.EventBus.Close()
	}
}
