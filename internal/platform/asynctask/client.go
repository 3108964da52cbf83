// Package asynctask adapts a generic REST "async task" transcription API:
// tasks are created, polled and canceled over plain JSON endpoints and their
// results are fetched from the URLs the task reports.
package asynctask

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	domain "github.com/yungbote/neurobridge-transcribe/internal/domain/transcription"
	"github.com/yungbote/neurobridge-transcribe/internal/platform/ctxutil"
	"github.com/yungbote/neurobridge-transcribe/internal/platform/logger"
)

const ProviderName = "asynctask"

type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	// HTTPTimeout bounds a single request; the caller's context still wins.
	HTTPTimeout time.Duration
	// MaxResultBytes caps one downloaded result payload.
	MaxResultBytes int64
}

const defaultMaxResultBytes = 64 << 20

type client struct {
	log       *logger.Logger
	baseURL   string
	apiKey    string
	model     string
	maxResult int64
	http      *http.Client
}

func New(log *logger.Logger, cfg Config) (domain.Provider, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("missing env var ASYNCTASK_BASE_URL")
	}
	if _, err := url.ParseRequestURI(base); err != nil {
		return nil, fmt.Errorf("invalid ASYNCTASK_BASE_URL=%q: %w", base, err)
	}
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	maxResult := cfg.MaxResultBytes
	if maxResult <= 0 {
		maxResult = defaultMaxResultBytes
	}
	return &client{
		log:       log.With("service", "asynctask.Client"),
		baseURL:   base,
		apiKey:    strings.TrimSpace(cfg.APIKey),
		model:     strings.TrimSpace(cfg.Model),
		maxResult: maxResult,
		http:      &http.Client{Timeout: timeout},
	}, nil
}

func (c *client) Name() string { return ProviderName }

func (c *client) Limits() domain.ProviderLimits {
	return domain.ProviderLimits{MaxInputs: 100, Schemes: []string{"https", "http", "gs"}}
}

type taskOptions struct {
	Language       string `json:"language,omitempty"`
	Model          string `json:"model,omitempty"`
	Punctuate      bool   `json:"punctuate,omitempty"`
	WordTimestamps bool   `json:"word_timestamps,omitempty"`
	Diarize        bool   `json:"diarize,omitempty"`
	MinSpeakers    int    `json:"min_speakers,omitempty"`
	MaxSpeakers    int    `json:"max_speakers,omitempty"`
}

type createTaskRequest struct {
	Inputs  []string    `json:"inputs"`
	Options taskOptions `json:"options"`
}

type taskResult struct {
	Input  string `json:"input"`
	URL    string `json:"url"`
	Format string `json:"format"`
}

type taskError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type taskResponse struct {
	TaskID           string       `json:"task_id"`
	Status           string       `json:"status"`
	Results          []taskResult `json:"results"`
	ResultTTLSeconds int64        `json:"result_ttl_seconds"`
	Error            *taskError   `json:"error"`
}

func (t *taskResponse) toProviderJob() *domain.ProviderJob {
	out := &domain.ProviderJob{
		ExternalID: t.TaskID,
		State:      t.Status,
		ResultTTL:  time.Duration(t.ResultTTLSeconds) * time.Second,
	}
	for _, r := range t.Results {
		out.Results = append(out.Results, domain.ResultRef{InputRef: r.Input, URL: r.URL, Format: r.Format})
	}
	if t.Error != nil {
		out.ErrorCode = t.Error.Code
		out.ErrorMessage = t.Error.Message
	}
	return out
}

func (c *client) Submit(ctx context.Context, inputs []string, hints domain.Hints) (*domain.ProviderJob, error) {
	model := hints.Model
	if model == "" {
		model = c.model
	}
	body := createTaskRequest{
		Inputs: inputs,
		Options: taskOptions{
			Language:       hints.LanguageCode,
			Model:          model,
			Punctuate:      hints.EnableAutomaticPunctuation,
			WordTimestamps: hints.EnableWordTimeOffsets,
			Diarize:        hints.EnableSpeakerDiarization,
			MinSpeakers:    hints.MinSpeakerCount,
			MaxSpeakers:    hints.MaxSpeakerCount,
		},
	}
	var out taskResponse
	if err := c.do(ctx, "submit", http.MethodPost, c.baseURL+"/tasks", body, &out); err != nil {
		return nil, err
	}
	if strings.TrimSpace(out.TaskID) == "" {
		return nil, &domain.ProviderError{Provider: ProviderName, Op: "submit", Code: "InvalidResponse", Message: "response carried no task_id"}
	}
	return out.toProviderJob(), nil
}

func (c *client) Fetch(ctx context.Context, externalID string) (*domain.ProviderJob, error) {
	var out taskResponse
	if err := c.do(ctx, "fetch", http.MethodGet, c.taskURL(externalID), nil, &out); err != nil {
		return nil, err
	}
	if out.TaskID == "" {
		out.TaskID = externalID
	}
	return out.toProviderJob(), nil
}

func (c *client) Cancel(ctx context.Context, externalID string) error {
	err := c.do(ctx, "cancel", http.MethodPost, c.taskURL(externalID)+"/cancel", nil, nil)
	if errors.Is(err, domain.ErrProviderJobNotFound) {
		return &domain.ProviderError{Provider: ProviderName, Op: "cancel", Code: "NotFound", Message: "task not found", Err: err}
	}
	return err
}

func (c *client) DownloadResult(ctx context.Context, ref domain.ResultRef) ([]byte, error) {
	ctx = ctxutil.Default(ctx)
	u, err := url.Parse(ref.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, &domain.ProviderError{Provider: ProviderName, Op: "download", Code: "InvalidResultURL", Message: fmt.Sprintf("unsupported result url %q", ref.URL)}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	// Only send credentials back to the API host itself.
	if base, _ := url.Parse(c.baseURL); base != nil && base.Host == u.Host {
		c.authorize(req)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &domain.ProviderError{Provider: ProviderName, Op: "download", Code: "Unavailable", Message: err.Error(), Err: err}
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, c.maxResult+1))
	if err != nil {
		return nil, &domain.ProviderError{Provider: ProviderName, Op: "download", Code: "Unavailable", Message: err.Error(), Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, decodeError("download", resp.StatusCode, raw)
	}
	if int64(len(raw)) > c.maxResult {
		return nil, &domain.ProviderError{Provider: ProviderName, Op: "download", Code: "ResultTooLarge", Message: fmt.Sprintf("result exceeds %d bytes", c.maxResult)}
	}
	return raw, nil
}

type resultSegment struct {
	Text       string   `json:"text"`
	Start      *float64 `json:"start"`
	End        *float64 `json:"end"`
	Speaker    *int     `json:"speaker"`
	Confidence *float64 `json:"confidence"`
}

type resultPayload struct {
	Text     string          `json:"text"`
	Language string          `json:"language"`
	Segments []resultSegment `json:"segments"`
	Warnings []string        `json:"warnings"`
}

func (c *client) ParseTranscript(raw []byte, ref domain.ResultRef) (*domain.TranscriptItem, error) {
	var p resultPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode asynctask result: %w", err)
	}
	item := &domain.TranscriptItem{
		InputRef:    ref.InputRef,
		PrimaryText: strings.TrimSpace(p.Text),
		Warnings:    p.Warnings,
	}
	var full strings.Builder
	for _, s := range p.Segments {
		txt := strings.TrimSpace(s.Text)
		if txt == "" {
			continue
		}
		item.Segments = append(item.Segments, domain.Segment{
			Text:       txt,
			StartSec:   s.Start,
			EndSec:     s.End,
			SpeakerTag: s.Speaker,
			Confidence: s.Confidence,
		})
		if full.Len() > 0 {
			full.WriteString(" ")
		}
		full.WriteString(txt)
	}
	if item.PrimaryText == "" {
		item.PrimaryText = full.String()
	}
	return item, nil
}

func (c *client) taskURL(id string) string {
	return c.baseURL + "/tasks/" + url.PathEscape(id)
}

func (c *client) authorize(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

// do performs exactly one request. Retrying is the caller's decision: the
// poll throttle and the no-retry submit rule both depend on it.
func (c *client) do(ctx context.Context, op, method, u string, body any, out any) error {
	ctx = ctxutil.Default(ctx)
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", op, err)
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rdr)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return &domain.ProviderError{Provider: ProviderName, Op: op, Code: "Unavailable", Message: err.Error(), Err: err}
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return &domain.ProviderError{Provider: ProviderName, Op: op, Code: "Unavailable", Message: err.Error(), Err: err}
	}

	if resp.StatusCode == http.StatusNotFound && op != "submit" {
		return fmt.Errorf("%w: %s", domain.ErrProviderJobNotFound, strings.TrimSpace(string(raw)))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.log.Warn("asynctask request failed", "op", op, "status", resp.StatusCode)
		return decodeError(op, resp.StatusCode, raw)
	}
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &domain.ProviderError{Provider: ProviderName, Op: op, Code: "InvalidResponse", Message: err.Error(), Err: err}
	}
	return nil
}

// decodeError keeps the provider's own code and message when the body has
// them, else falls back to the HTTP status.
func decodeError(op string, statusCode int, raw []byte) error {
	var env struct {
		Code    string     `json:"code"`
		Message string     `json:"message"`
		Error   *taskError `json:"error"`
	}
	_ = json.Unmarshal(raw, &env)
	code, msg := env.Code, env.Message
	if env.Error != nil {
		if code == "" {
			code = env.Error.Code
		}
		if msg == "" {
			msg = env.Error.Message
		}
	}
	if code == "" {
		code = fmt.Sprintf("HTTP%d", statusCode)
	}
	if msg == "" {
		msg = strings.TrimSpace(string(raw))
		if len(msg) > 512 {
			msg = msg[:512]
		}
	}
	if msg == "" {
		msg = http.StatusText(statusCode)
	}
	return &domain.ProviderError{Provider: ProviderName, Op: op, Code: code, Message: msg}
}
