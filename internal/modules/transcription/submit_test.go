package transcription

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	domain "github.com/yungbote/neurobridge-transcribe/internal/domain/transcription"
	"github.com/yungbote/neurobridge-transcribe/internal/platform/ctxutil"
	"github.com/yungbote/neurobridge-transcribe/internal/platform/dbctx"
)

func TestSubmitValidationMakesNoProviderCall(t *testing.T) {
	h := newHarness(t, newFakeProvider())

	cases := []struct {
		name       string
		req        SubmitRequest
		constraint string
	}{
		{name: "no inputs", req: SubmitRequest{}, constraint: ConstraintInputsMin},
		{
			name:       "too many inputs",
			req:        SubmitRequest{Inputs: []string{"gs://a/1", "gs://a/2", "gs://a/3", "gs://a/4", "gs://a/5", "gs://a/6"}},
			constraint: ConstraintInputsMax,
		},
		{name: "blank input", req: SubmitRequest{Inputs: []string{"gs://a/1", "  "}}, constraint: ConstraintInputEmpty},
		{name: "relative path", req: SubmitRequest{Inputs: []string{"audio/a.flac"}}, constraint: ConstraintInputMalformed},
		{name: "scheme not allowed", req: SubmitRequest{Inputs: []string{"ftp://host/a.flac"}}, constraint: ConstraintInputScheme},
		// http is configured but the provider cannot read it.
		{name: "scheme not supported by provider", req: SubmitRequest{Inputs: []string{"http://host/a.flac"}}, constraint: ConstraintInputScheme},
		{
			name: "speaker bounds inverted",
			req: SubmitRequest{Inputs: []string{"gs://a/1"}, Hints: domain.Hints{
				EnableSpeakerDiarization: true, MinSpeakerCount: 4, MaxSpeakerCount: 2,
			}},
			constraint: ConstraintSpeakerBounds,
		},
		{
			name:       "speaker counts without diarization",
			req:        SubmitRequest{Inputs: []string{"gs://a/1"}, Hints: domain.Hints{MaxSpeakerCount: 2}},
			constraint: ConstraintSpeakerBounds,
		},
		{
			name:       "bad language code",
			req:        SubmitRequest{Inputs: []string{"gs://a/1"}, Hints: domain.Hints{LanguageCode: "english please"}},
			constraint: ConstraintLanguageCode,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.svc.Submit(context.Background(), tc.req)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("Submit: want ValidationError got=%v", err)
			}
			if verr.Constraint != tc.constraint {
				t.Fatalf("constraint: want=%s got=%s", tc.constraint, verr.Constraint)
			}
		})
	}
	if n := atomic.LoadInt32(&h.provider.submits); n != 0 {
		t.Fatalf("provider submits: want=0 got=%d", n)
	}
}

func TestSubmitRecordsOnePendingJob(t *testing.T) {
	h := newHarness(t, newFakeProvider())

	job, err := h.svc.Submit(context.Background(), SubmitRequest{
		Inputs:       []string{" gs://audio/a.flac ", "https://cdn.example.com/b.wav"},
		Hints:        domain.Hints{LanguageCode: "pt-BR", EnableSpeakerDiarization: true, MinSpeakerCount: 1, MaxSpeakerCount: 3},
		OwnerContext: "owner-1",
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if n := atomic.LoadInt32(&h.provider.submits); n != 1 {
		t.Fatalf("provider submits: want=1 got=%d", n)
	}
	if job.Status != domain.StatusPending || job.RetryCount != 0 || job.LastPolledAt != nil {
		t.Fatalf("new job: status=%s retry=%d last_polled=%v", job.Status, job.RetryCount, job.LastPolledAt)
	}

	stored, err := h.repo.GetByID(dbctx.Context{Ctx: context.Background()}, job.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if stored.ExternalJobID != "ext-1" || stored.Provider != "fake" {
		t.Fatalf("stored ids: external=%s provider=%s", stored.ExternalJobID, stored.Provider)
	}
	if len(stored.Inputs) != 2 || stored.Inputs[0] != "gs://audio/a.flac" {
		t.Fatalf("inputs not normalized: %v", stored.Inputs)
	}
	if stored.Hints.Data().LanguageCode != "pt-BR" || stored.Hints.Data().MaxSpeakerCount != 3 {
		t.Fatalf("hints not recorded: %+v", stored.Hints.Data())
	}
	if got := h.events.types(); len(got) != 1 || got[0] != domain.EventSubmitted {
		t.Fatalf("events: want=[job.submitted] got=%v", got)
	}
}

func TestSubmitProviderErrorRecordsNothing(t *testing.T) {
	p := newFakeProvider()
	p.submitErr = &domain.ProviderError{Provider: "fake", Op: "submit", Code: "QuotaExceeded", Message: "slow down"}
	h := newHarness(t, p)

	_, err := h.svc.Submit(context.Background(), SubmitRequest{Inputs: []string{"gs://a/1"}, OwnerContext: "owner-1"})
	var pe *domain.ProviderError
	if !errors.As(err, &pe) || pe.Code != "QuotaExceeded" {
		t.Fatalf("Submit: want ProviderError QuotaExceeded got=%v", err)
	}
	if n := atomic.LoadInt32(&p.submits); n != 1 {
		t.Fatalf("provider submits: want=1 got=%d", n)
	}
	jobs, err := h.svc.ListByOwner(context.Background(), "owner-1", 10)
	if err != nil {
		t.Fatalf("ListByOwner: %v", err)
	}
	if len(jobs) != 0 {
		t.Fatalf("jobs recorded: want=0 got=%d", len(jobs))
	}
}

func TestSubmitTakesOwnerFromContext(t *testing.T) {
	h := newHarness(t, newFakeProvider())
	ctx := ctxutil.WithOwner(context.Background(), "tenant-7")

	job, err := h.svc.Submit(ctx, SubmitRequest{Inputs: []string{"gs://a/1"}})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if job.OwnerContext != "tenant-7" {
		t.Fatalf("owner: want=tenant-7 got=%s", job.OwnerContext)
	}
}

func TestSubmitAuthenticatedOwnerOverridesRequest(t *testing.T) {
	h := newHarness(t, newFakeProvider())
	ctx := ctxutil.WithOwner(context.Background(), "tenant-7")

	job, err := h.svc.Submit(ctx, SubmitRequest{Inputs: []string{"gs://a/1"}, OwnerContext: "tenant-9"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if job.OwnerContext != "tenant-7" {
		t.Fatalf("owner: want=tenant-7 got=%s", job.OwnerContext)
	}

	job, err = h.svc.Submit(context.Background(), SubmitRequest{Inputs: []string{"gs://a/2"}, OwnerContext: " tenant-9 "})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if job.OwnerContext != "tenant-9" {
		t.Fatalf("owner without auth: want=tenant-9 got=%s", job.OwnerContext)
	}
}
