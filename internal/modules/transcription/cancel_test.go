package transcription

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	domain "github.com/yungbote/neurobridge-transcribe/internal/domain/transcription"
	"github.com/yungbote/neurobridge-transcribe/internal/platform/dbctx"
)

func TestCancelPendingJob(t *testing.T) {
	h := newHarness(t, newFakeProvider())
	job := h.submit(t)

	out, err := h.svc.Cancel(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if out.Status != domain.StatusCanceled || out.CompletedAt == nil {
		t.Fatalf("canceled job: status=%s completed=%v", out.Status, out.CompletedAt)
	}
	if n := atomic.LoadInt32(&h.provider.cancels); n != 1 {
		t.Fatalf("provider cancels: want=1 got=%d", n)
	}

	v := h.status(t, job)
	if v.Status != domain.StatusCanceled || v.Refreshed {
		t.Fatalf("after cancel: status=%s refreshed=%v", v.Status, v.Refreshed)
	}
	if n := atomic.LoadInt32(&h.provider.fetches); n != 0 {
		t.Fatalf("canceled job polled: fetches=%d", n)
	}
	types := h.events.types()
	if types[len(types)-1] != domain.EventCanceled {
		t.Fatalf("last event: want=job.canceled got=%v", types)
	}
}

func TestCancelRefusedPastPending(t *testing.T) {
	for _, state := range []string{"RUNNING", "SUCCEEDED", "FAILED"} {
		t.Run(state, func(t *testing.T) {
			h := newHarness(t, newFakeProvider(state), withoutDeriver())
			job := h.submit(t)
			v := h.status(t, job)

			_, err := h.svc.Cancel(context.Background(), job.ID)
			var conflict *TerminalStateConflict
			if !errors.As(err, &conflict) {
				t.Fatalf("Cancel: want TerminalStateConflict got=%v", err)
			}
			if conflict.Current != v.Status {
				t.Fatalf("conflict status: want=%s got=%s", v.Status, conflict.Current)
			}
			if n := atomic.LoadInt32(&h.provider.cancels); n != 0 {
				t.Fatalf("provider cancels: want=0 got=%d", n)
			}
		})
	}
}

func TestCancelProviderRejectionSurfaces(t *testing.T) {
	p := newFakeProvider()
	p.cancelErr = &domain.ProviderError{Provider: "fake", Op: "cancel", Code: "FailedPrecondition", Message: "job already started"}
	h := newHarness(t, p)
	job := h.submit(t)

	_, err := h.svc.Cancel(context.Background(), job.ID)
	var pe *domain.ProviderError
	if !errors.As(err, &pe) || pe.Code != "FailedPrecondition" {
		t.Fatalf("Cancel: want ProviderError FailedPrecondition got=%v", err)
	}
	if n := atomic.LoadInt32(&p.cancels); n != 1 {
		t.Fatalf("provider cancels: want=1 got=%d", n)
	}
	stored, err := h.repo.GetByID(dbctx.Context{Ctx: context.Background()}, job.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if stored.Status != domain.StatusPending {
		t.Fatalf("status after rejected cancel: want=PENDING got=%s", stored.Status)
	}
}

func TestCancelProviderNotFound(t *testing.T) {
	p := newFakeProvider()
	p.cancelErr = domain.ErrProviderJobNotFound
	h := newHarness(t, p)
	job := h.submit(t)

	_, err := h.svc.Cancel(context.Background(), job.ID)
	var pe *domain.ProviderError
	if !errors.As(err, &pe) || pe.Code != "NotFound" {
		t.Fatalf("Cancel: want ProviderError NotFound got=%v", err)
	}
	if !errors.Is(err, domain.ErrProviderJobNotFound) {
		t.Fatalf("Cancel: error should unwrap to ErrProviderJobNotFound")
	}
}
