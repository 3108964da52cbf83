package transcription

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/yungbote/neurobridge-transcribe/internal/domain/transcription"
	"github.com/yungbote/neurobridge-transcribe/internal/platform/openai"
)

// Deriver produces the secondary summary of a finished transcript.
type Deriver interface {
	Derive(ctx context.Context, t *domain.Transcript) (*domain.Summary, error)
}

// postProcessDue is true while the summary is missing and the retry
// backoff since the last failure has elapsed.
func (s *Service) postProcessDue(job *domain.Job, now time.Time) bool {
	if s.deriver == nil || job.PostProcessed() {
		return false
	}
	if job.TranscriptPath() == "" {
		return false
	}
	return s.retryDue(job.LastPostProcessAt, job.PostProcessAttempts, now)
}

// postProcess makes one derivation attempt. Its outcome lands in
// post_process_result or post_process_error and never touches status.
func (s *Service) postProcess(ctx context.Context, job *domain.Job, now time.Time) {
	job.PostProcessAttempts++
	job.LastPostProcessAt = &now
	sum, err := s.derive(ctx, job)
	s.metrics.IncPostProcessAttempt(err == nil)
	if err != nil {
		perr := &PostProcessError{Err: err}
		job.PostProcessError = perr.Error()
		s.log.Warn("post-process failed",
			"job_id", job.ID,
			"attempt", job.PostProcessAttempts,
			"next_retry_in", s.retryBackoff(job.PostProcessAttempts),
			"error", err,
		)
		return
	}
	raw, err := json.Marshal(sum)
	if err != nil {
		job.PostProcessError = (&PostProcessError{Err: err}).Error()
		return
	}
	job.PostProcessResult = raw
	job.PostProcessError = ""
}

func (s *Service) derive(ctx context.Context, job *domain.Job) (*domain.Summary, error) {
	t, err := s.readTranscript(job)
	if err != nil {
		return nil, err
	}
	sum, err := s.deriver.Derive(ctx, t)
	if err != nil {
		return nil, err
	}
	if sum == nil {
		return nil, errors.New("deriver returned no summary")
	}
	if sum.CreatedAt.IsZero() {
		sum.CreatedAt = s.now()
	}
	return sum, nil
}

const (
	summarySchemaName   = "transcript_summary"
	maxSummaryInputRune = 60000
	summarySystemPrompt = "You summarize speech transcripts. Write a short neutral summary and the key points, " +
		"using only what the transcript says. Answer in the transcript's language."
)

// Summarizer derives summaries with the OpenAI Responses API.
type Summarizer struct {
	ai openai.Client
}

func NewSummarizer(ai openai.Client) *Summarizer {
	return &Summarizer{ai: ai}
}

func summarySchema() map[string]any {
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"required":             []string{"summary", "key_points"},
		"properties": map[string]any{
			"summary": map[string]any{"type": "string"},
			"key_points": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "string"},
			},
		},
	}
}

func (s *Summarizer) Derive(ctx context.Context, t *domain.Transcript) (*domain.Summary, error) {
	if s == nil || s.ai == nil {
		return nil, errors.New("summarizer not configured")
	}
	text := strings.TrimSpace(t.FullText())
	if text == "" {
		return nil, errors.New("transcript is empty")
	}
	if r := []rune(text); len(r) > maxSummaryInputRune {
		text = string(r[:maxSummaryInputRune])
	}

	obj, err := s.ai.GenerateJSON(ctx, summarySystemPrompt, "Transcript:\n"+text, summarySchemaName, summarySchema())
	if err != nil {
		return nil, fmt.Errorf("generate summary: %w", err)
	}
	sum := &domain.Summary{Model: s.ai.Model(), CreatedAt: time.Now().UTC()}
	sum.Summary, _ = obj["summary"].(string)
	if pts, ok := obj["key_points"].([]any); ok {
		for _, p := range pts {
			if str, ok := p.(string); ok && strings.TrimSpace(str) != "" {
				sum.KeyPoints = append(sum.KeyPoints, strings.TrimSpace(str))
			}
		}
	}
	if strings.TrimSpace(sum.Summary) == "" {
		return nil, errors.New("model returned an empty summary")
	}
	return sum, nil
}
