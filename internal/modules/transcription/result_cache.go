package transcription

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"time"

	domain "github.com/yungbote/neurobridge-transcribe/internal/domain/transcription"
	"github.com/yungbote/neurobridge-transcribe/internal/pkg/httpx"
	"github.com/yungbote/neurobridge-transcribe/internal/platform/dbctx"
)

var (
	errNoResultArtifacts = errors.New("provider reported success without result artifacts")
	errRemoteExpired     = errors.New("remote results expired before they were cached")
)

// finalize completes the post-success work that is still missing: local
// raw copies, the derived transcript, durable promotion and the summary.
// Every step is idempotent; progress is saved after each attempt.
func (s *Service) finalize(dbc dbctx.Context, job *domain.Job, now time.Time, firstObservation bool) ([]domain.Event, error) {
	var events []domain.Event

	if s.artifactsDue(job, now, firstObservation) {
		promotedBefore := job.DurablePromoted()
		cachedBefore := job.RawCached()
		s.persistArtifacts(dbc.Ctx, job, now)
		if err := s.jobs.Save(dbc, job); err != nil {
			return nil, err
		}
		if (!cachedBefore && job.RawCached()) || (!promotedBefore && job.DurablePromoted()) {
			events = append(events, s.event(job, domain.EventArtifactsPersisted, job.DurableArtifactKey))
		}
	}

	if s.postProcessDue(job, now) {
		s.postProcess(dbc.Ctx, job, now)
		if err := s.jobs.Save(dbc, job); err != nil {
			return nil, err
		}
		if job.PostProcessed() {
			events = append(events, s.event(job, domain.EventPostProcessed, ""))
		}
	}
	return events, nil
}

func (s *Service) artifactWorkMissing(job *domain.Job) bool {
	if !job.RawCached() || job.TranscriptPath() == "" {
		return true
	}
	return s.store != nil && !job.DurablePromoted()
}

// artifactsDue runs the cache immediately on the first SUCCEEDED
// observation and afterwards on the retry backoff until the work is done
// or the raw results are gone for good.
func (s *Service) artifactsDue(job *domain.Job, now time.Time, firstObservation bool) bool {
	if job.ArtifactsAbandoned || !s.artifactWorkMissing(job) {
		return false
	}
	if firstObservation {
		return true
	}
	return s.retryDue(job.LastArtifactAttemptAt, job.ArtifactAttempts, now)
}

// retryDue spaces failed attempts one poll interval apart at first,
// doubling per failure up to RetryMaxBackoff. There is no attempt limit.
func (s *Service) retryDue(last *time.Time, attempts int, now time.Time) bool {
	if last == nil || attempts <= 0 {
		return true
	}
	return now.Sub(*last) >= s.retryBackoff(attempts)
}

func (s *Service) retryBackoff(attempts int) time.Duration {
	return httpx.Backoff(s.cfg.PollInterval, s.cfg.RetryMaxBackoff, attempts)
}

func (s *Service) persistArtifacts(ctx context.Context, job *domain.Job, now time.Time) {
	job.ArtifactAttempts++
	job.LastArtifactAttemptAt = &now

	err := s.cacheRaw(ctx, job, now)
	if err == nil {
		err = s.deriveTranscript(job, now)
	}
	if err == nil {
		err = s.promote(ctx, job)
	}
	s.metrics.IncArtifactAttempt(err == nil)
	if err != nil {
		job.ArtifactPersistenceError = err.Error()
		s.log.Warn("artifact persistence incomplete",
			"job_id", job.ID,
			"attempt", job.ArtifactAttempts,
			"abandoned", job.ArtifactsAbandoned,
			"error", err,
		)
		return
	}
	job.ArtifactPersistenceError = ""
}

// cacheRaw downloads each result reference not yet on disk. Raw copies
// occupy the first len(ResultArtifacts) slots of LocalCachePaths in order.
func (s *Service) cacheRaw(ctx context.Context, job *domain.Job, now time.Time) error {
	if job.RawCached() {
		return nil
	}
	if len(job.ResultArtifacts) == 0 {
		job.ArtifactsAbandoned = true
		return &ArtifactPersistenceError{Err: errNoResultArtifacts}
	}
	if job.RemoteResultExpired(now) {
		job.ArtifactsAbandoned = true
		return &ArtifactPersistenceError{Err: errRemoteExpired}
	}
	for i := len(job.LocalCachePaths); i < len(job.ResultArtifacts); i++ {
		ref := job.ResultArtifacts[i]
		raw, err := s.provider.DownloadResult(ctx, ref)
		if err != nil {
			return &ArtifactPersistenceError{Key: ref.URL, Err: err}
		}
		p, err := s.cache.WriteRaw(job.ID.String(), i, raw)
		if err != nil {
			return &ArtifactPersistenceError{Key: ref.URL, Err: err}
		}
		job.LocalCachePaths = append(job.LocalCachePaths, p)
	}
	return nil
}

func (s *Service) deriveTranscript(job *domain.Job, now time.Time) error {
	if job.TranscriptPath() != "" {
		return nil
	}
	t := domain.Transcript{
		JobID:       job.ID.String(),
		Provider:    job.Provider,
		FinalizedAt: now,
	}
	for i, ref := range job.ResultArtifacts {
		raw, err := s.cache.Read(job.LocalCachePaths[i])
		if err != nil {
			return &ArtifactPersistenceError{Key: job.LocalCachePaths[i], Err: err}
		}
		item, err := s.provider.ParseTranscript(raw, ref)
		if err != nil {
			return &ArtifactPersistenceError{Key: job.LocalCachePaths[i], Err: err}
		}
		if item.InputRef == "" && len(job.ResultArtifacts) == len(job.Inputs) {
			item.InputRef = job.Inputs[i]
		}
		t.Items = append(t.Items, *item)
	}
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return &ArtifactPersistenceError{Err: fmt.Errorf("encode transcript: %w", err)}
	}
	p, err := s.cache.WriteTranscript(job.ID.String(), data)
	if err != nil {
		return &ArtifactPersistenceError{Err: err}
	}
	job.LocalCachePaths = append(job.LocalCachePaths[:len(job.ResultArtifacts)], p)
	return nil
}

func (s *Service) objectKey(job *domain.Job) string {
	return path.Join(s.cfg.ObjectPrefix, job.ID.String(), "transcript.json")
}

// promote uploads the local transcript unless the object is already there.
// Once durable_artifact_key is set the upload is never repeated.
func (s *Service) promote(ctx context.Context, job *domain.Job) error {
	if s.store == nil || job.DurablePromoted() {
		return nil
	}
	key := s.objectKey(job)
	exists, err := s.store.Exists(ctx, key)
	if err != nil {
		return &ArtifactPersistenceError{Key: key, Err: err}
	}
	if !exists {
		data, err := s.cache.Read(job.TranscriptPath())
		if err != nil {
			return &ArtifactPersistenceError{Key: key, Err: err}
		}
		if err := s.store.Upload(ctx, key, data, "application/json"); err != nil {
			return &ArtifactPersistenceError{Key: key, Err: err}
		}
	}
	job.DurableArtifactKey = key
	s.log.Info("transcript promoted", "job_id", job.ID, "key", key, "already_present", exists)
	return nil
}

// readTranscript loads the derived transcript from the local cache.
func (s *Service) readTranscript(job *domain.Job) (*domain.Transcript, error) {
	raw, err := s.cache.Read(job.TranscriptPath())
	if err != nil {
		return nil, err
	}
	var t domain.Transcript
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("decode cached transcript: %w", err)
	}
	return &t, nil
}
