package httpx

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"
)

type statusErr int

func (e statusErr) Error() string       { return fmt.Sprintf("status %d", int(e)) }
func (e statusErr) HTTPStatusCode() int { return int(e) }

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{statusErr(429), true},
		{statusErr(503), true},
		{statusErr(400), false},
		{fmt.Errorf("wrapped: %w", statusErr(502)), true},
		{context.DeadlineExceeded, true},
		{fmt.Errorf("plain"), false},
	}
	for _, tt := range tests {
		if got := IsRetryableError(tt.err); got != tt.want {
			t.Fatalf("IsRetryableError(%v): want=%v got=%v", tt.err, tt.want, got)
		}
	}
}

func TestRetryAfterDuration(t *testing.T) {
	resp := &http.Response{Header: http.Header{"Retry-After": []string{"30"}}}
	if got := RetryAfterDuration(resp, time.Second, 10*time.Second); got != 10*time.Second {
		t.Fatalf("capped: want=10s got=%v", got)
	}
	if got := RetryAfterDuration(nil, 2*time.Second, 0); got != 2*time.Second {
		t.Fatalf("fallback: want=2s got=%v", got)
	}
}

func TestSleepContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := SleepContext(ctx, time.Hour); err == nil {
		t.Fatalf("SleepContext: want context error")
	}
}

func TestRetryAfterHTTPDate(t *testing.T) {
	at := time.Now().Add(5 * time.Second).UTC().Format(http.TimeFormat)
	resp := &http.Response{Header: http.Header{"Retry-After": []string{at}}}
	got := RetryAfterDuration(resp, time.Second, time.Minute)
	if got <= time.Second || got > 5*time.Second {
		t.Fatalf("http-date retry-after: got=%v", got)
	}
}

func TestBackoff(t *testing.T) {
	tests := []struct {
		failures int
		want     time.Duration
	}{
		{0, time.Second},
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 5 * time.Second},
		{1000, 5 * time.Second},
	}
	for _, tt := range tests {
		if got := Backoff(time.Second, 5*time.Second, tt.failures); got != tt.want {
			t.Fatalf("Backoff(%d): want=%v got=%v", tt.failures, tt.want, got)
		}
	}
	if got := Backoff(10*time.Second, time.Second, 3); got != 10*time.Second {
		t.Fatalf("limit below base: want=10s got=%v", got)
	}
}
