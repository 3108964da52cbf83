// Package client is the Go client for the transcription job API.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	fiber "github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/yungbote/neurobridge-transcribe/internal/http/handlers"
	"github.com/yungbote/neurobridge-transcribe/internal/modules/transcription"
)

const (
	DefaultBaseURL = "http://localhost:8080"
	DefaultTimeout = 30 * time.Second
)

type Client interface {
	HealthCheck(ctx context.Context) error

	Submit(ctx context.Context, req transcription.SubmitRequest) (transcription.SubmitResult, error)
	GetStatus(ctx context.Context, jobID uuid.UUID) (transcription.StatusView, error)
	GetStatusByExternalID(ctx context.Context, externalJobID string) (transcription.StatusView, error)
	Cancel(ctx context.Context, jobID uuid.UUID) (handlers.CancelResult, error)
	ArtifactURL(ctx context.Context, jobID uuid.UUID) (transcription.ArtifactURL, error)
	List(ctx context.Context, opts ListOptions) ([]transcription.StatusView, error)
}

var _ Client = &APIClient{}

type Options struct {
	BaseURL string
	Timeout time.Duration
	// Token is sent as a bearer token when set.
	Token string
}

func DefaultOptions() *Options {
	return &Options{BaseURL: DefaultBaseURL, Timeout: DefaultTimeout}
}

type ListOptions struct {
	// Owner is only honored by servers running without auth.
	Owner string
	Limit int
}

// APIError is a non-2xx answer from the API.
type APIError struct {
	StatusCode    int
	Code          string
	Message       string
	Constraint    string
	CurrentStatus string
}

func (e *APIError) Error() string {
	if e == nil {
		return "api error"
	}
	msg := fmt.Sprintf("api %d", e.StatusCode)
	if e.Code != "" {
		msg += " " + e.Code
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

type APIClient struct {
	baseURL string
	timeout time.Duration
	token   string
}

func NewClient(opts *Options) (*APIClient, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid base URL %q: scheme and host required", opts.BaseURL)
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &APIClient{baseURL: base, timeout: timeout, token: strings.TrimSpace(opts.Token)}, nil
}

func (c *APIClient) createAgent(ctx context.Context, method, endpoint string, body any) (*fiber.Agent, error) {
	fullURL := c.baseURL + endpoint

	var agent *fiber.Agent
	switch method {
	case http.MethodGet:
		agent = fiber.Get(fullURL)
	case http.MethodPost:
		agent = fiber.Post(fullURL)
	default:
		return nil, fmt.Errorf("unsupported HTTP method: %s", method)
	}

	if deadline, ok := ctx.Deadline(); ok {
		agent.Timeout(time.Until(deadline))
	} else {
		agent.Timeout(c.timeout)
	}
	agent.Set("Accept", "application/json")
	if c.token != "" {
		agent.Set("Authorization", "Bearer "+c.token)
	}
	if body != nil {
		agent.JSON(body)
	}
	return agent, nil
}

func (c *APIClient) executeRequest(ctx context.Context, method, endpoint string, body, out any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	agent, err := c.createAgent(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	statusCode, raw, errs := agent.Bytes()
	if len(errs) > 0 {
		return fmt.Errorf("error sending request: %w", errs[0])
	}
	if statusCode < 200 || statusCode >= 300 {
		return decodeAPIError(statusCode, raw)
	}
	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("error decoding response: %w", err)
		}
	}
	return nil
}

// decodeAPIError reads both the {"error":{...}} envelope and the flat
// {"error":"TerminalStateConflict","current_status":...} cancel body.
func decodeAPIError(statusCode int, raw []byte) *APIError {
	out := &APIError{StatusCode: statusCode}
	var body struct {
		Error         json.RawMessage `json:"error"`
		CurrentStatus string          `json:"current_status"`
		Message       string          `json:"message"`
	}
	if err := json.Unmarshal(raw, &body); err != nil || len(body.Error) == 0 {
		out.Message = strings.TrimSpace(string(raw))
		return out
	}
	var code string
	if json.Unmarshal(body.Error, &code) == nil {
		out.Code = code
		out.Message = body.Message
		out.CurrentStatus = body.CurrentStatus
		return out
	}
	var env struct {
		Message       string `json:"message"`
		Code          string `json:"code"`
		Constraint    string `json:"constraint"`
		CurrentStatus string `json:"current_status"`
	}
	if json.Unmarshal(body.Error, &env) == nil {
		out.Code = env.Code
		out.Message = env.Message
		out.Constraint = env.Constraint
		out.CurrentStatus = env.CurrentStatus
		return out
	}
	out.Message = strings.TrimSpace(string(raw))
	return out
}

func jobPath(jobID uuid.UUID, suffix string) string {
	return "/api/transcriptions/" + jobID.String() + suffix
}

func (c *APIClient) HealthCheck(ctx context.Context) error {
	return c.executeRequest(ctx, http.MethodGet, "/healthcheck", nil, nil)
}

func (c *APIClient) Submit(ctx context.Context, req transcription.SubmitRequest) (transcription.SubmitResult, error) {
	var out transcription.SubmitResult
	err := c.executeRequest(ctx, http.MethodPost, "/api/transcriptions", req, &out)
	return out, err
}

func (c *APIClient) GetStatus(ctx context.Context, jobID uuid.UUID) (transcription.StatusView, error) {
	var out transcription.StatusView
	err := c.executeRequest(ctx, http.MethodGet, jobPath(jobID, ""), nil, &out)
	return out, err
}

// GetStatusByExternalID looks a job up by the provider's id. Ids that
// contain slashes, such as operation names, are sent segment by segment.
func (c *APIClient) GetStatusByExternalID(ctx context.Context, externalJobID string) (transcription.StatusView, error) {
	var out transcription.StatusView
	segs := strings.Split(strings.Trim(strings.TrimSpace(externalJobID), "/"), "/")
	for i, seg := range segs {
		segs[i] = url.PathEscape(seg)
	}
	err := c.executeRequest(ctx, http.MethodGet, "/api/external-jobs/"+strings.Join(segs, "/"), nil, &out)
	return out, err
}

func (c *APIClient) Cancel(ctx context.Context, jobID uuid.UUID) (handlers.CancelResult, error) {
	var out handlers.CancelResult
	err := c.executeRequest(ctx, http.MethodPost, jobPath(jobID, "/cancel"), nil, &out)
	return out, err
}

func (c *APIClient) ArtifactURL(ctx context.Context, jobID uuid.UUID) (transcription.ArtifactURL, error) {
	var out transcription.ArtifactURL
	err := c.executeRequest(ctx, http.MethodGet, jobPath(jobID, "/artifact-url"), nil, &out)
	return out, err
}

func (c *APIClient) List(ctx context.Context, opts ListOptions) ([]transcription.StatusView, error) {
	q := url.Values{}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Owner != "" {
		q.Set("owner", opts.Owner)
	}
	endpoint := "/api/transcriptions"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var out struct {
		Jobs []transcription.StatusView `json:"jobs"`
	}
	if err := c.executeRequest(ctx, http.MethodGet, endpoint, nil, &out); err != nil {
		return nil, err
	}
	return out.Jobs, nil
}
