package transcription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	domain "github.com/yungbote/neurobridge-transcribe/internal/domain/transcription"
	"github.com/yungbote/neurobridge-transcribe/internal/platform/dbctx"
)

const reasonCanceledWhileRunning = "canceled by provider while running"

// RefreshOutcome is the result of one RefreshIfDue call. Refreshed is false
// when the job was terminal or its poll interval had not elapsed; no
// provider call was made in that case.
type RefreshOutcome struct {
	Job       *domain.Job
	Refreshed bool
	PollError error
}

// RefreshIfDue polls the provider at most once per poll interval per job.
// The throttle check, the fetch and the write happen under the job lock, so
// concurrent callers cannot both pass the check. Outstanding result caching
// and post-processing for SUCCEEDED jobs run under the same lock.
func (s *Service) RefreshIfDue(ctx context.Context, jobID uuid.UUID) (RefreshOutcome, error) {
	var out RefreshOutcome
	var events []domain.Event

	err := s.jobs.WithJobLock(ctx, jobID, func(dbc dbctx.Context, job *domain.Job) error {
		out = RefreshOutcome{Job: job}
		now := s.now()
		before := job.Status

		if !job.Status.IsTerminal() && s.pollDue(job, now) {
			out.Refreshed = true
			out.PollError = s.fetchAndApply(dbc.Ctx, job, now)
			if job.Status != before {
				s.log.Info("job status changed", "job_id", job.ID, "from", before, "to", job.Status)
				s.metrics.IncTransition(before, job.Status)
				events = append(events, s.event(job, domain.EventStatusChanged, string(before)))
			}
			if err := s.jobs.Save(dbc, job); err != nil {
				return err
			}
		}

		if job.Status == domain.StatusSucceeded {
			firstObservation := out.Refreshed && before != domain.StatusSucceeded
			evs, err := s.finalize(dbc, job, now, firstObservation)
			if err != nil {
				return err
			}
			events = append(events, evs...)
		}
		return nil
	})
	if err != nil {
		return RefreshOutcome{}, err
	}
	s.publish(ctx, events)
	return out, nil
}

// pollDue measures the interval from the last fetch, or from submission
// when the job has never been fetched; the submit response already
// reported its initial state.
func (s *Service) pollDue(job *domain.Job, now time.Time) bool {
	last := job.SubmittedAt
	if job.LastPolledAt != nil {
		last = *job.LastPolledAt
	}
	return now.Sub(last) >= s.cfg.PollInterval
}

// fetchAndApply makes one provider fetch and folds the answer into job.
// last_polled_at advances whatever the outcome. A transport or provider
// error leaves status alone and is returned as the poll error.
func (s *Service) fetchAndApply(ctx context.Context, job *domain.Job, now time.Time) error {
	job.LastPolledAt = &now
	pj, err := s.provider.Fetch(ctx, job.ExternalJobID)
	switch {
	case errors.Is(err, domain.ErrProviderJobNotFound):
		job.LastPollError = err.Error()
		transitionTo(job, domain.StatusUnknown, now)
		return nil
	case err != nil:
		job.LastPollError = err.Error()
		s.log.Warn("provider fetch failed", "job_id", job.ID, "error", err)
		return err
	case pj == nil:
		err = &domain.ProviderError{Provider: s.provider.Name(), Op: "fetch", Code: "InvalidResponse", Message: "empty fetch response"}
		job.LastPollError = err.Error()
		return err
	}
	job.LastPollError = ""
	applyObservation(job, pj, now, s.cfg.ResultTTL)
	return nil
}

// applyObservation moves job along the lifecycle graph toward the state the
// provider reported. A PENDING job seen as finished passes through RUNNING
// in the same write; a RUNNING job seen as CANCELED is recorded as FAILED;
// backwards observations are ignored.
func applyObservation(job *domain.Job, pj *domain.ProviderJob, now time.Time, defaultTTL time.Duration) {
	observed := domain.MapProviderState(pj.State)
	from := job.Status

	switch {
	case observed == from:
		return
	case from == domain.StatusPending && (observed == domain.StatusSucceeded || observed == domain.StatusFailed):
		transitionTo(job, domain.StatusRunning, now)
	case from == domain.StatusRunning && observed == domain.StatusCanceled:
		observed = domain.StatusFailed
		pj = &domain.ProviderJob{ErrorMessage: reasonCanceledWhileRunning}
	}
	if !domain.CanTransition(job.Status, observed) {
		return
	}

	switch observed {
	case domain.StatusSucceeded:
		job.ResultArtifacts = append(job.ResultArtifacts[:0], pj.Results...)
		if job.RemoteResultExpiresAt == nil {
			ttl := pj.ResultTTL
			if ttl <= 0 {
				ttl = defaultTTL
			}
			exp := now.Add(ttl)
			job.RemoteResultTTLSeconds = int64(ttl / time.Second)
			job.RemoteResultExpiresAt = &exp
		}
	case domain.StatusFailed:
		job.FailureReason = failureReason(pj)
	}
	transitionTo(job, observed, now)
}

func transitionTo(job *domain.Job, to domain.Status, now time.Time) {
	if !domain.CanTransition(job.Status, to) {
		return
	}
	job.Status = to
	if to.IsTerminal() {
		job.CompletedAt = &now
	}
}

func failureReason(pj *domain.ProviderJob) string {
	switch {
	case pj.ErrorCode != "" && pj.ErrorMessage != "":
		return fmt.Sprintf("%s: %s", pj.ErrorCode, pj.ErrorMessage)
	case pj.ErrorMessage != "":
		return pj.ErrorMessage
	case pj.ErrorCode != "":
		return pj.ErrorCode
	default:
		return "provider reported failure"
	}
}
