package transcription

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrProviderJobNotFound is returned by Provider.Fetch when the provider no
// longer recognizes the external job id.
var ErrProviderJobNotFound = errors.New("provider job not found")

type ProviderLimits struct {
	MaxInputs int
	Schemes   []string
}

// ProviderJob is the provider's view of a job. State is the provider's own
// string; callers must go through MapProviderState before storing it.
type ProviderJob struct {
	ExternalID   string
	State        string
	Results      []ResultRef
	ResultTTL    time.Duration
	ErrorCode    string
	ErrorMessage string
}

type Provider interface {
	Name() string
	Limits() ProviderLimits
	Submit(ctx context.Context, inputs []string, hints Hints) (*ProviderJob, error)
	Fetch(ctx context.Context, externalID string) (*ProviderJob, error)
	Cancel(ctx context.Context, externalID string) error
	DownloadResult(ctx context.Context, ref ResultRef) ([]byte, error)
	ParseTranscript(raw []byte, ref ResultRef) (*TranscriptItem, error)
}

// ProviderError carries the provider's code and message through unmodified.
type ProviderError struct {
	Provider string
	Op       string
	Code     string
	Message  string
	Err      error
}

func (e *ProviderError) Error() string {
	if e == nil {
		return "provider error"
	}
	var b strings.Builder
	b.WriteString(e.Provider)
	if e.Op != "" {
		b.WriteString(" ")
		b.WriteString(e.Op)
	}
	b.WriteString(": ")
	switch {
	case e.Code != "" && e.Message != "":
		fmt.Fprintf(&b, "%s: %s", e.Code, e.Message)
	case e.Message != "":
		b.WriteString(e.Message)
	case e.Code != "":
		b.WriteString(e.Code)
	case e.Err != nil:
		b.WriteString(e.Err.Error())
	default:
		b.WriteString("unknown error")
	}
	return b.String()
}

func (e *ProviderError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// AsProviderError wraps err as a *ProviderError unless it already is one.
func AsProviderError(provider, op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrProviderJobNotFound) {
		return err
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return err
	}
	return &ProviderError{Provider: provider, Op: op, Message: err.Error(), Err: err}
}
