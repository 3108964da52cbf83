package transcription

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	domain "github.com/yungbote/neurobridge-transcribe/internal/domain/transcription"
	"github.com/yungbote/neurobridge-transcribe/internal/platform/ctxutil"
	"github.com/yungbote/neurobridge-transcribe/internal/platform/dbctx"
)

type SubmitRequest struct {
	Inputs []string     `json:"inputs"`
	Hints  domain.Hints `json:"hints"`
	// OwnerContext is used only when the request carries no authenticated
	// owner; an authenticated owner always wins.
	OwnerContext string `json:"owner_context,omitempty"`
}

// Validation constraint names.
const (
	ConstraintInputsMin      = "inputs_min"
	ConstraintInputsMax      = "inputs_max"
	ConstraintInputEmpty     = "input_empty"
	ConstraintInputMalformed = "input_malformed"
	ConstraintInputScheme    = "input_scheme"
	ConstraintSpeakerBounds  = "speaker_bounds"
	ConstraintLanguageCode   = "language_code"
)

var languageCodeRE = regexp.MustCompile(`^[A-Za-z]{2,3}(-[A-Za-z0-9]{2,8})*$`)

// Submit validates req, makes exactly one provider submit call and records
// the job. Provider failures are returned as *domain.ProviderError and are
// never retried here.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*domain.Job, error) {
	inputs, err := s.validate(req)
	if err != nil {
		return nil, err
	}
	if owner := ctxutil.GetOwner(ctx); owner != "" {
		req.OwnerContext = owner
	}
	req.OwnerContext = strings.TrimSpace(req.OwnerContext)

	pj, err := s.provider.Submit(ctx, inputs, req.Hints)
	if err != nil {
		s.log.Warn("provider submit failed", "inputs", len(inputs), "error", err)
		return nil, err
	}
	if pj == nil || strings.TrimSpace(pj.ExternalID) == "" {
		return nil, &domain.ProviderError{Provider: s.provider.Name(), Op: "submit", Code: "InvalidResponse", Message: "provider returned no job id"}
	}

	now := s.now()
	job := &domain.Job{
		ID:            uuid.New(),
		Provider:      s.provider.Name(),
		ExternalJobID: pj.ExternalID,
		Status:        domain.StatusPending,
		Inputs:        datatypes.JSONSlice[string](inputs),
		Hints:         datatypes.NewJSONType(req.Hints),
		OwnerContext:  req.OwnerContext,
		SubmittedAt:   now,
	}
	// The submit response is the provider's first word on state; anything
	// but PENDING is applied through the lifecycle graph.
	applyObservation(job, pj, now, s.cfg.ResultTTL)

	if err := s.jobs.Create(dbctx.Context{Ctx: ctx}, job); err != nil {
		// The provider job exists but we failed to record it; log the id so
		// it can be reconciled.
		s.log.Error("failed to record submitted job", "external_job_id", pj.ExternalID, "error", err)
		return nil, fmt.Errorf("record job: %w", err)
	}

	s.log.Info("transcription job submitted", "job_id", job.ID, "external_job_id", job.ExternalJobID, "status", job.Status)
	s.publish(ctx, []domain.Event{s.event(job, domain.EventSubmitted, "")})
	return job, nil
}

func (s *Service) validate(req SubmitRequest) ([]string, error) {
	limits := s.provider.Limits()
	maxInputs := s.cfg.MaxInputs
	if limits.MaxInputs > 0 && limits.MaxInputs < maxInputs {
		maxInputs = limits.MaxInputs
	}
	if len(req.Inputs) == 0 {
		return nil, &ValidationError{Constraint: ConstraintInputsMin, Detail: "at least one input reference is required"}
	}
	if len(req.Inputs) > maxInputs {
		return nil, &ValidationError{Constraint: ConstraintInputsMax, Detail: fmt.Sprintf("at most %d inputs per job, got %d", maxInputs, len(req.Inputs))}
	}

	allowed := s.allowedSchemes(limits)
	inputs := make([]string, 0, len(req.Inputs))
	for i, raw := range req.Inputs {
		ref := strings.TrimSpace(raw)
		if ref == "" {
			return nil, &ValidationError{Constraint: ConstraintInputEmpty, Detail: fmt.Sprintf("inputs[%d] is empty", i)}
		}
		u, err := url.Parse(ref)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return nil, &ValidationError{Constraint: ConstraintInputMalformed, Detail: fmt.Sprintf("inputs[%d] is not an absolute URI", i)}
		}
		if !allowed[strings.ToLower(u.Scheme)] {
			return nil, &ValidationError{Constraint: ConstraintInputScheme, Detail: fmt.Sprintf("inputs[%d] uses unsupported scheme %q", i, u.Scheme)}
		}
		inputs = append(inputs, ref)
	}

	h := req.Hints
	if h.MinSpeakerCount < 0 || h.MaxSpeakerCount < 0 {
		return nil, &ValidationError{Constraint: ConstraintSpeakerBounds, Detail: "speaker counts must not be negative"}
	}
	if h.MaxSpeakerCount > 0 && h.MinSpeakerCount > h.MaxSpeakerCount {
		return nil, &ValidationError{Constraint: ConstraintSpeakerBounds, Detail: "min_speaker_count exceeds max_speaker_count"}
	}
	if (h.MinSpeakerCount > 0 || h.MaxSpeakerCount > 0) && !h.EnableSpeakerDiarization {
		return nil, &ValidationError{Constraint: ConstraintSpeakerBounds, Detail: "speaker counts require enable_speaker_diarization"}
	}
	if h.LanguageCode != "" && !languageCodeRE.MatchString(h.LanguageCode) {
		return nil, &ValidationError{Constraint: ConstraintLanguageCode, Detail: fmt.Sprintf("%q is not a BCP-47 language tag", h.LanguageCode)}
	}
	return inputs, nil
}

// allowedSchemes is the configured scheme list narrowed to what the
// provider can read.
func (s *Service) allowedSchemes(limits domain.ProviderLimits) map[string]bool {
	out := map[string]bool{}
	for _, sc := range s.cfg.AllowedSchemes {
		out[strings.ToLower(sc)] = true
	}
	if len(limits.Schemes) == 0 {
		return out
	}
	provider := map[string]bool{}
	for _, sc := range limits.Schemes {
		provider[strings.ToLower(sc)] = true
	}
	for sc := range out {
		if !provider[sc] {
			delete(out, sc)
		}
	}
	return out
}
