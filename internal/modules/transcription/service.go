package transcription

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/neurobridge-transcribe/internal/config"
	jobrepo "github.com/yungbote/neurobridge-transcribe/internal/data/repos/transcription"
	domain "github.com/yungbote/neurobridge-transcribe/internal/domain/transcription"
	"github.com/yungbote/neurobridge-transcribe/internal/observability"
	"github.com/yungbote/neurobridge-transcribe/internal/platform/ctxutil"
	"github.com/yungbote/neurobridge-transcribe/internal/platform/dbctx"
	"github.com/yungbote/neurobridge-transcribe/internal/platform/logger"
)

// ObjectStore is the durable home of finalized transcripts.
type ObjectStore interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) error
	Exists(ctx context.Context, key string) (bool, error)
	SignedURL(ctx context.Context, key string, ttl time.Duration) (string, time.Time, error)
}

// LocalCache holds provider results and derived transcripts on local disk.
type LocalCache interface {
	WriteRaw(jobID string, n int, data []byte) (string, error)
	WriteTranscript(jobID string, data []byte) (string, error)
	Read(path string) ([]byte, error)
}

type EventPublisher interface {
	Publish(ctx context.Context, ev domain.Event) error
}

type ServiceDeps struct {
	Log      *logger.Logger
	Jobs     jobrepo.JobRepo
	Provider domain.Provider
	Cache    LocalCache
	// Optional. Without a store transcripts stay local-only.
	Store ObjectStore
	// Optional. Without a deriver no summary is produced and no error recorded.
	Deriver Deriver
	// Optional.
	Events  EventPublisher
	Metrics *observability.Metrics
	Config  config.TranscriptionConfig
	Now     func() time.Time
}

type Service struct {
	log      *logger.Logger
	jobs     jobrepo.JobRepo
	provider domain.Provider
	cache    LocalCache
	store    ObjectStore
	deriver  Deriver
	events   EventPublisher
	metrics  *observability.Metrics
	cfg      config.TranscriptionConfig
	now      func() time.Time
}

func NewService(deps ServiceDeps) (*Service, error) {
	if deps.Log == nil {
		return nil, errors.New("logger required")
	}
	if deps.Jobs == nil {
		return nil, errors.New("job repo required")
	}
	if deps.Provider == nil {
		return nil, errors.New("provider required")
	}
	if deps.Cache == nil {
		return nil, errors.New("local cache required")
	}
	cfg := deps.Config
	cfg.Sanitize()
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		log:  deps.Log.With("service", "TranscriptionService", "provider", deps.Provider.Name()),
		jobs: deps.Jobs,
		provider: newGuardedProvider(deps.Provider, guardConfig{
			MaxConcurrency: cfg.ProviderMaxConcurrency,
			QPS:            cfg.ProviderQPS,
			CallTimeout:    cfg.ProviderCallTimeout,
			Metrics:        deps.Metrics,
		}),
		cache:   deps.Cache,
		store:   deps.Store,
		deriver: deps.Deriver,
		events:  deps.Events,
		metrics: deps.Metrics,
		cfg:     cfg,
		now:     func() time.Time { return now().UTC() },
	}, nil
}

func (s *Service) PollInterval() time.Duration { return s.cfg.PollInterval }

type SubmitResult struct {
	JobID         uuid.UUID     `json:"job_id" yaml:"job_id"`
	ExternalJobID string        `json:"external_job_id" yaml:"external_job_id"`
	Status        domain.Status `json:"status" yaml:"status"`
}

func NewSubmitResult(job *domain.Job) SubmitResult {
	return SubmitResult{JobID: job.ID, ExternalJobID: job.ExternalJobID, Status: job.Status}
}

// StatusView is the caller-facing snapshot of a job.
type StatusView struct {
	JobID                    uuid.UUID          `json:"job_id" yaml:"job_id"`
	Provider                 string             `json:"provider" yaml:"provider"`
	ExternalJobID            string             `json:"external_job_id" yaml:"external_job_id"`
	Status                   domain.Status      `json:"status" yaml:"status"`
	Inputs                   []string           `json:"inputs" yaml:"inputs"`
	SubmittedAt              time.Time          `json:"submitted_at" yaml:"submitted_at"`
	LastPolledAt             *time.Time         `json:"last_polled_at,omitempty" yaml:"last_polled_at,omitempty"`
	CompletedAt              *time.Time         `json:"completed_at,omitempty" yaml:"completed_at,omitempty"`
	ResultArtifacts          []domain.ResultRef `json:"result_artifacts" yaml:"result_artifacts"`
	LocalCachePaths          []string           `json:"local_cache_paths" yaml:"local_cache_paths"`
	RemoteResultTTLSeconds   int64              `json:"remote_result_ttl_seconds" yaml:"remote_result_ttl_seconds"`
	RemoteResultExpiresAt    *time.Time         `json:"remote_result_expires_at,omitempty" yaml:"remote_result_expires_at,omitempty"`
	RemoteResultExpired      bool               `json:"remote_result_expired" yaml:"remote_result_expired"`
	PostProcessResult        *domain.Summary    `json:"post_process_result,omitempty" yaml:"post_process_result,omitempty"`
	PostProcessError         string             `json:"post_process_error,omitempty" yaml:"post_process_error,omitempty"`
	PollIntervalSeconds      int64              `json:"poll_interval_seconds" yaml:"poll_interval_seconds"`
	Refreshed                bool               `json:"refreshed" yaml:"refreshed"`
	PollError                string             `json:"poll_error,omitempty" yaml:"poll_error,omitempty"`
	ArtifactPersistenceError string             `json:"artifact_persistence_error,omitempty" yaml:"artifact_persistence_error,omitempty"`
	DurableArtifactAvailable bool               `json:"durable_artifact_available" yaml:"durable_artifact_available"`
	FailureReason            string             `json:"failure_reason,omitempty" yaml:"failure_reason,omitempty"`
}

func (s *Service) view(job *domain.Job, refreshed bool, pollErr error) StatusView {
	v := StatusView{
		JobID:                    job.ID,
		Provider:                 job.Provider,
		ExternalJobID:            job.ExternalJobID,
		Status:                   job.Status,
		Inputs:                   append([]string{}, job.Inputs...),
		SubmittedAt:              job.SubmittedAt,
		LastPolledAt:             job.LastPolledAt,
		CompletedAt:              job.CompletedAt,
		ResultArtifacts:          append([]domain.ResultRef{}, job.ResultArtifacts...),
		LocalCachePaths:          append([]string{}, job.LocalCachePaths...),
		RemoteResultTTLSeconds:   job.RemoteResultTTLSeconds,
		RemoteResultExpiresAt:    job.RemoteResultExpiresAt,
		RemoteResultExpired:      job.RemoteResultExpired(s.now()),
		PostProcessError:         job.PostProcessError,
		PollIntervalSeconds:      int64(s.cfg.PollInterval / time.Second),
		Refreshed:                refreshed,
		ArtifactPersistenceError: job.ArtifactPersistenceError,
		DurableArtifactAvailable: job.DurablePromoted(),
		FailureReason:            job.FailureReason,
	}
	if pollErr != nil {
		v.PollError = pollErr.Error()
	}
	if job.PostProcessed() {
		var sum domain.Summary
		if err := json.Unmarshal(job.PostProcessResult, &sum); err == nil {
			v.PostProcessResult = &sum
		}
	}
	return v
}

// GetStatus refreshes the job if its poll interval has elapsed, completes
// any outstanding artifact or summary work, and returns the result.
func (s *Service) GetStatus(ctx context.Context, jobID uuid.UUID) (StatusView, error) {
	if _, err := s.loadOwned(ctx, jobID); err != nil {
		return StatusView{}, err
	}
	out, err := s.RefreshIfDue(ctx, jobID)
	if err != nil {
		return StatusView{}, err
	}
	return s.view(out.Job, out.Refreshed, out.PollError), nil
}

// GetStatusByExternalID resolves the provider's own job id to a stored
// job and returns its status as GetStatus does. It is the reconciliation
// path for callers that only hold the provider id.
func (s *Service) GetStatusByExternalID(ctx context.Context, externalJobID string) (StatusView, error) {
	job, err := s.jobs.GetByExternalID(dbctx.Context{Ctx: ctx}, s.provider.Name(), strings.TrimSpace(externalJobID))
	if err != nil {
		return StatusView{}, err
	}
	return s.GetStatus(ctx, job.ID)
}

type ArtifactURL struct {
	URL       string    `json:"url" yaml:"url"`
	ExpiresAt time.Time `json:"expires_at" yaml:"expires_at"`
}

// ArtifactURL signs a fresh, time-limited URL for the durable transcript.
func (s *Service) ArtifactURL(ctx context.Context, jobID uuid.UUID) (ArtifactURL, error) {
	job, err := s.loadOwned(ctx, jobID)
	if err != nil {
		return ArtifactURL{}, err
	}
	if s.store == nil || !job.DurablePromoted() {
		return ArtifactURL{}, ErrArtifactNotReady
	}
	u, exp, err := s.store.SignedURL(ctx, job.DurableArtifactKey, s.cfg.SignedURLTTL)
	if err != nil {
		return ArtifactURL{}, fmt.Errorf("sign artifact url: %w", err)
	}
	return ArtifactURL{URL: u, ExpiresAt: exp}, nil
}

// ListByOwner returns stored snapshots without contacting the provider.
func (s *Service) ListByOwner(ctx context.Context, owner string, limit int) ([]StatusView, error) {
	jobs, err := s.jobs.ListByOwner(dbctx.Context{Ctx: ctx}, owner, limit)
	if err != nil {
		return nil, err
	}
	out := make([]StatusView, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, s.view(j, false, nil))
	}
	return out, nil
}

// loadOwned hides jobs belonging to another owner behind ErrJobNotFound.
func (s *Service) loadOwned(ctx context.Context, jobID uuid.UUID) (*domain.Job, error) {
	job, err := s.jobs.GetByID(dbctx.Context{Ctx: ctx}, jobID)
	if err != nil {
		return nil, err
	}
	if owner := ctxutil.GetOwner(ctx); owner != "" && job.OwnerContext != owner {
		return nil, ErrJobNotFound
	}
	return job, nil
}

func (s *Service) publish(ctx context.Context, evs []domain.Event) {
	if s.events == nil {
		return
	}
	for _, ev := range evs {
		if err := s.events.Publish(ctx, ev); err != nil {
			s.log.Warn("job event publish failed", "job_id", ev.JobID, "type", ev.Type, "error", err)
		}
	}
}

func (s *Service) event(job *domain.Job, typ domain.EventType, detail string) domain.Event {
	return domain.Event{Type: typ, JobID: job.ID.String(), Status: job.Status, Detail: detail, At: s.now()}
}
