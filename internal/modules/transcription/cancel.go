package transcription

import (
	"context"
	"errors"

	"github.com/google/uuid"

	domain "github.com/yungbote/neurobridge-transcribe/internal/domain/transcription"
	"github.com/yungbote/neurobridge-transcribe/internal/platform/dbctx"
)

// Cancel asks the provider to cancel a job that is still PENDING in the
// store. Any other status is refused with *TerminalStateConflict before the
// provider is contacted. A provider rejection, such as the job having just
// started, is returned as *domain.ProviderError without retry.
func (s *Service) Cancel(ctx context.Context, jobID uuid.UUID) (*domain.Job, error) {
	if _, err := s.loadOwned(ctx, jobID); err != nil {
		return nil, err
	}

	var out *domain.Job
	err := s.jobs.WithJobLock(ctx, jobID, func(dbc dbctx.Context, job *domain.Job) error {
		if job.Status != domain.StatusPending {
			return &TerminalStateConflict{JobID: job.ID, Current: job.Status}
		}
		if err := s.provider.Cancel(dbc.Ctx, job.ExternalJobID); err != nil {
			if errors.Is(err, domain.ErrProviderJobNotFound) {
				err = &domain.ProviderError{Provider: s.provider.Name(), Op: "cancel", Code: "NotFound", Message: err.Error(), Err: err}
			}
			s.log.Warn("provider cancel rejected", "job_id", job.ID, "error", err)
			return err
		}
		transitionTo(job, domain.StatusCanceled, s.now())
		s.metrics.IncTransition(domain.StatusPending, job.Status)
		if err := s.jobs.Save(dbc, job); err != nil {
			return err
		}
		out = job
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("transcription job canceled", "job_id", out.ID)
	s.publish(ctx, []domain.Event{s.event(out, domain.EventCanceled, "")})
	return out, nil
}
