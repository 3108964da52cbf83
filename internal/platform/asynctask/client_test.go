package asynctask

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	domain "github.com/yungbote/neurobridge-transcribe/internal/domain/transcription"
	"github.com/yungbote/neurobridge-transcribe/internal/platform/logger"
)

func newTestClient(t *testing.T, h http.Handler) (*client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	p, err := New(logger.Nop(), Config{BaseURL: srv.URL + "/", APIKey: "k-123", Model: "base"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p.(*client), srv
}

func TestSubmitSendsOneRequest(t *testing.T) {
	var calls int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		if r.Method != http.MethodPost || r.URL.Path != "/tasks" {
			t.Errorf("route: got %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer k-123" {
			t.Errorf("auth header: got=%q", got)
		}
		var body createTaskRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode: %v", err)
		}
		if len(body.Inputs) != 2 || body.Options.Model != "base" || body.Options.Language != "de-DE" {
			t.Errorf("body: got=%+v", body)
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"task_id":"t-1","status":"queued"}`))
	}))

	pj, err := c.Submit(context.Background(), []string{"https://a/1.mp3", "https://a/2.mp3"}, domain.Hints{LanguageCode: "de-DE"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if pj.ExternalID != "t-1" || domain.MapProviderState(pj.State) != domain.StatusPending {
		t.Fatalf("Submit: got=%+v", pj)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("calls: want=1 got=%d", calls)
	}
}

func TestSubmitErrorIsNotRetried(t *testing.T) {
	var calls int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"code":"Overloaded","message":"try later"}`))
	}))

	_, err := c.Submit(context.Background(), []string{"https://a/1.mp3"}, domain.Hints{})
	var pe *domain.ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("Submit: want *ProviderError got=%v", err)
	}
	if pe.Code != "Overloaded" || pe.Message != "try later" {
		t.Fatalf("provider error: got code=%q message=%q", pe.Code, pe.Message)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("calls: want=1 got=%d", calls)
	}
}

func TestFetchSucceededWithResults(t *testing.T) {
	var srvURL string
	c, srv := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/tasks/t-9" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"task_id":"t-9","status":"completed","result_ttl_seconds":3600,
			"results":[{"input":"https://a/1.mp3","url":"` + srvURL + `/results/t-9/0.json","format":"json"}]}`))
	}))
	srvURL = srv.URL

	pj, err := c.Fetch(context.Background(), "t-9")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if domain.MapProviderState(pj.State) != domain.StatusSucceeded {
		t.Fatalf("state: got=%q", pj.State)
	}
	if pj.ResultTTL != time.Hour || len(pj.Results) != 1 || pj.Results[0].InputRef != "https://a/1.mp3" {
		t.Fatalf("results: got=%+v", pj)
	}
}

func TestFetchNotFound(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	_, err := c.Fetch(context.Background(), "gone")
	if !errors.Is(err, domain.ErrProviderJobNotFound) {
		t.Fatalf("Fetch: want ErrProviderJobNotFound got=%v", err)
	}
}

func TestFetchFailedCarriesProviderError(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"task_id":"t-2","status":"failed","error":{"code":"BadAudio","message":"unsupported codec"}}`))
	}))
	pj, err := c.Fetch(context.Background(), "t-2")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if pj.ErrorCode != "BadAudio" || pj.ErrorMessage != "unsupported codec" {
		t.Fatalf("error fields: got=%+v", pj)
	}
}

func TestCancelRejectedPassesThroughProviderMessage(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/cancel") {
			t.Errorf("path: got=%s", r.URL.Path)
		}
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":{"code":"InvalidStatus","message":"task is already running"}}`))
	}))
	err := c.Cancel(context.Background(), "t-3")
	var pe *domain.ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("Cancel: want *ProviderError got=%v", err)
	}
	if pe.Code != "InvalidStatus" || pe.Message != "task is already running" {
		t.Fatalf("provider error: got code=%q message=%q", pe.Code, pe.Message)
	}
}

func TestDownloadAndParse(t *testing.T) {
	c, srv := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "" {
			t.Errorf("same-host download should be authorized")
		}
		_, _ = w.Write([]byte(`{"segments":[{"text":" hi ","start":0,"end":1.5,"speaker":1},{"text":"there"}]}`))
	}))

	ref := domain.ResultRef{InputRef: "https://a/1.mp3", URL: srv.URL + "/results/0.json"}
	raw, err := c.DownloadResult(context.Background(), ref)
	if err != nil {
		t.Fatalf("DownloadResult: %v", err)
	}
	item, err := c.ParseTranscript(raw, ref)
	if err != nil {
		t.Fatalf("ParseTranscript: %v", err)
	}
	if item.PrimaryText != "hi there" || len(item.Segments) != 2 {
		t.Fatalf("item: got=%+v", item)
	}
	if item.Segments[0].EndSec == nil || *item.Segments[0].EndSec != 1.5 {
		t.Fatalf("segment end: got=%v", item.Segments[0].EndSec)
	}

	if _, err := c.DownloadResult(context.Background(), domain.ResultRef{URL: "ftp://x/y"}); err == nil {
		t.Fatalf("ftp url: want error")
	}
}

func TestDownloadRejectsOversizedResult(t *testing.T) {
	c, srv := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("x", 64)))
	}))
	c.maxResult = 32

	_, err := c.DownloadResult(context.Background(), domain.ResultRef{URL: srv.URL + "/results/0.json"})
	var pe *domain.ProviderError
	if !errors.As(err, &pe) || pe.Code != "ResultTooLarge" {
		t.Fatalf("want ResultTooLarge provider error, got=%v", err)
	}

	c.maxResult = 64
	raw, err := c.DownloadResult(context.Background(), domain.ResultRef{URL: srv.URL + "/results/0.json"})
	if err != nil || len(raw) != 64 {
		t.Fatalf("result at the limit: len=%d err=%v", len(raw), err)
	}
}
