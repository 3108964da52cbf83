package transcription

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"

	domain "github.com/yungbote/neurobridge-transcribe/internal/domain/transcription"
)

func TestPostProcessFailureKeepsStatus(t *testing.T) {
	h := newHarness(t, newFakeProvider("SUCCEEDED"))
	h.deriver.setErr(errBoom)
	job := h.submit(t)

	v := h.status(t, job)
	if v.Status != domain.StatusSucceeded {
		t.Fatalf("status: want=SUCCEEDED got=%s", v.Status)
	}
	if v.PostProcessResult != nil || !strings.Contains(v.PostProcessError, "boom") {
		t.Fatalf("post-process: result=%v err=%q", v.PostProcessResult, v.PostProcessError)
	}

	// Reads inside the backoff window do not call the deriver again.
	for i := 0; i < 3; i++ {
		h.status(t, job)
	}
	if n := atomic.LoadInt32(&h.deriver.calls); n != 1 {
		t.Fatalf("derive calls inside backoff: want=1 got=%d", n)
	}
}

func TestPostProcessRecoversAndRunsOnce(t *testing.T) {
	h := newHarness(t, newFakeProvider("SUCCEEDED"))
	h.deriver.setErr(errBoom)
	job := h.submit(t)
	h.status(t, job)

	h.deriver.setErr(nil)
	h.clock.Advance(testPollInterval)
	v := h.status(t, job)
	if v.PostProcessResult == nil || v.PostProcessError != "" {
		t.Fatalf("post-process: result=%v err=%q", v.PostProcessResult, v.PostProcessError)
	}
	if v.PostProcessResult.Summary != "summary of "+job.ID.String() {
		t.Fatalf("summary: got=%q", v.PostProcessResult.Summary)
	}

	h.clock.Advance(h.cfg.RetryMaxBackoff)
	h.status(t, job)
	if n := atomic.LoadInt32(&h.deriver.calls); n != 2 {
		t.Fatalf("derive calls: want=2 got=%d", n)
	}
}

func TestPostProcessKeepsRetryingUntilDeriverRecovers(t *testing.T) {
	h := newHarness(t, newFakeProvider("SUCCEEDED"))
	h.deriver.setErr(errBoom)
	job := h.submit(t)
	h.status(t, job)

	for i := 0; i < 6; i++ {
		h.clock.Advance(h.cfg.RetryMaxBackoff)
		v := h.status(t, job)
		if v.Status != domain.StatusSucceeded || v.PostProcessResult != nil {
			t.Fatalf("read %d: status=%s result=%v", i, v.Status, v.PostProcessResult)
		}
	}
	if n := atomic.LoadInt32(&h.deriver.calls); n != 7 {
		t.Fatalf("derive calls while failing: want=7 got=%d", n)
	}

	h.deriver.setErr(nil)
	h.clock.Advance(h.cfg.RetryMaxBackoff)
	v := h.status(t, job)
	if v.PostProcessResult == nil || v.PostProcessError != "" {
		t.Fatalf("after recovery: result=%v err=%q", v.PostProcessResult, v.PostProcessError)
	}
}

func TestPostProcessDisabledRecordsNothing(t *testing.T) {
	h := newHarness(t, newFakeProvider("SUCCEEDED"), withoutDeriver())
	job := h.submit(t)

	v := h.status(t, job)
	if v.PostProcessResult != nil || v.PostProcessError != "" {
		t.Fatalf("post-process without deriver: result=%v err=%q", v.PostProcessResult, v.PostProcessError)
	}
}

type fakeAI struct {
	gotSchema string
	gotUser   string
	out       map[string]any
	err       error
}

func (f *fakeAI) GenerateJSON(ctx context.Context, system, user, schemaName string, schema map[string]any) (map[string]any, error) {
	f.gotSchema = schemaName
	f.gotUser = user
	return f.out, f.err
}

func (f *fakeAI) Model() string { return "test-model" }

func TestSummarizerDerive(t *testing.T) {
	ai := &fakeAI{out: map[string]any{
		"summary":    "A short call.",
		"key_points": []any{" budget approved ", "", "launch in May"},
	}}
	s := NewSummarizer(ai)
	tr := &domain.Transcript{Items: []domain.TranscriptItem{{PrimaryText: "hello"}, {PrimaryText: "world"}}}

	sum, err := s.Derive(context.Background(), tr)
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	if ai.gotSchema != summarySchemaName || !strings.Contains(ai.gotUser, "hello\n\nworld") {
		t.Fatalf("request: schema=%s user=%q", ai.gotSchema, ai.gotUser)
	}
	if sum.Model != "test-model" || len(sum.KeyPoints) != 2 || sum.KeyPoints[0] != "budget approved" {
		t.Fatalf("summary: %+v", sum)
	}
}

func TestSummarizerRejectsEmptyInputAndOutput(t *testing.T) {
	s := NewSummarizer(&fakeAI{out: map[string]any{"summary": "x", "key_points": []any{}}})
	if _, err := s.Derive(context.Background(), &domain.Transcript{}); err == nil {
		t.Fatalf("empty transcript: want error")
	}

	s = NewSummarizer(&fakeAI{out: map[string]any{"summary": "  ", "key_points": []any{}}})
	tr := &domain.Transcript{Items: []domain.TranscriptItem{{PrimaryText: "hello"}}}
	if _, err := s.Derive(context.Background(), tr); err == nil {
		t.Fatalf("empty summary: want error")
	}
}
