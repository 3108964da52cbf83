package transcription

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/yungbote/neurobridge-transcribe/internal/config"
	"github.com/yungbote/neurobridge-transcribe/internal/data/repos/testutil"
	jobrepo "github.com/yungbote/neurobridge-transcribe/internal/data/repos/transcription"
	domain "github.com/yungbote/neurobridge-transcribe/internal/domain/transcription"
	"github.com/yungbote/neurobridge-transcribe/internal/platform/localstore"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// fakeProvider answers fetches from a scripted list of states; the last
// entry repeats once the script runs out.
type fakeProvider struct {
	mu        sync.Mutex
	states    []string
	results   []domain.ResultRef
	resultTTL time.Duration
	limits    domain.ProviderLimits

	submitErr   error
	fetchErr    error
	cancelErr   error
	downloadErr error
	fetchDelay  time.Duration

	submits   int32
	fetches   int32
	cancels   int32
	downloads int32
}

func newFakeProvider(states ...string) *fakeProvider {
	if len(states) == 0 {
		states = []string{"PENDING"}
	}
	return &fakeProvider{
		states:    states,
		results:   []domain.ResultRef{{InputRef: "gs://audio/a.flac", URL: "mem://result/0", Format: "json"}},
		resultTTL: time.Hour,
		limits:    domain.ProviderLimits{MaxInputs: 10, Schemes: []string{"gs", "https"}},
	}
}

func (p *fakeProvider) Name() string                  { return "fake" }
func (p *fakeProvider) Limits() domain.ProviderLimits { return p.limits }

func (p *fakeProvider) Submit(ctx context.Context, inputs []string, hints domain.Hints) (*domain.ProviderJob, error) {
	n := atomic.AddInt32(&p.submits, 1)
	if p.submitErr != nil {
		return nil, p.submitErr
	}
	return &domain.ProviderJob{ExternalID: fmt.Sprintf("ext-%d", n), State: "QUEUED"}, nil
}

func (p *fakeProvider) Fetch(ctx context.Context, externalID string) (*domain.ProviderJob, error) {
	atomic.AddInt32(&p.fetches, 1)
	if p.fetchDelay > 0 {
		time.Sleep(p.fetchDelay)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fetchErr != nil {
		return nil, p.fetchErr
	}
	state := p.states[0]
	if len(p.states) > 1 {
		p.states = p.states[1:]
	}
	pj := &domain.ProviderJob{ExternalID: externalID, State: state}
	if domain.MapProviderState(state) == domain.StatusSucceeded {
		pj.Results = p.results
		pj.ResultTTL = p.resultTTL
	}
	if domain.MapProviderState(state) == domain.StatusFailed {
		pj.ErrorCode = "BadAudio"
		pj.ErrorMessage = "unsupported codec"
	}
	return pj, nil
}

func (p *fakeProvider) Cancel(ctx context.Context, externalID string) error {
	atomic.AddInt32(&p.cancels, 1)
	return p.cancelErr
}

func (p *fakeProvider) DownloadResult(ctx context.Context, ref domain.ResultRef) ([]byte, error) {
	atomic.AddInt32(&p.downloads, 1)
	if p.downloadErr != nil {
		return nil, p.downloadErr
	}
	return json.Marshal(map[string]string{"text": "hello from " + ref.URL})
}

func (p *fakeProvider) ParseTranscript(raw []byte, ref domain.ResultRef) (*domain.TranscriptItem, error) {
	var body struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, err
	}
	return &domain.TranscriptItem{InputRef: ref.InputRef, PrimaryText: body.Text}, nil
}

func (p *fakeProvider) setStates(states ...string) {
	p.mu.Lock()
	p.states = states
	p.mu.Unlock()
}

func (p *fakeProvider) setFetchErr(err error) {
	p.mu.Lock()
	p.fetchErr = err
	p.mu.Unlock()
}

type fakeStore struct {
	mu        sync.Mutex
	objects   map[string][]byte
	uploadErr error
	uploads   int32
	signs     int32
	clock     *fakeClock
}

func newFakeStore(clock *fakeClock) *fakeStore {
	return &fakeStore{objects: map[string][]byte{}, clock: clock}
}

func (s *fakeStore) Upload(ctx context.Context, key string, data []byte, contentType string) error {
	atomic.AddInt32(&s.uploads, 1)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.uploadErr != nil {
		return s.uploadErr
	}
	s.objects[key] = append([]byte{}, data...)
	return nil
}

func (s *fakeStore) Exists(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[key]
	return ok, nil
}

func (s *fakeStore) SignedURL(ctx context.Context, key string, ttl time.Duration) (string, time.Time, error) {
	n := atomic.AddInt32(&s.signs, 1)
	exp := s.clock.Now().Add(ttl)
	return fmt.Sprintf("https://signed.example/%s?sig=%d", key, n), exp, nil
}

func (s *fakeStore) setUploadErr(err error) {
	s.mu.Lock()
	s.uploadErr = err
	s.mu.Unlock()
}

type fakeDeriver struct {
	mu    sync.Mutex
	err   error
	calls int32
}

func (d *fakeDeriver) Derive(ctx context.Context, t *domain.Transcript) (*domain.Summary, error) {
	atomic.AddInt32(&d.calls, 1)
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	return &domain.Summary{Summary: "summary of " + t.JobID, KeyPoints: []string{t.FullText()}}, nil
}

func (d *fakeDeriver) setErr(err error) {
	d.mu.Lock()
	d.err = err
	d.mu.Unlock()
}

type fakeEvents struct {
	mu     sync.Mutex
	events []domain.Event
}

func (e *fakeEvents) Publish(ctx context.Context, ev domain.Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, ev)
	return nil
}

func (e *fakeEvents) types() []domain.EventType {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]domain.EventType, 0, len(e.events))
	for _, ev := range e.events {
		out = append(out, ev.Type)
	}
	return out
}

type harness struct {
	svc      *Service
	repo     jobrepo.JobRepo
	provider *fakeProvider
	store    *fakeStore
	deriver  *fakeDeriver
	events   *fakeEvents
	clock    *fakeClock
	cfg      config.TranscriptionConfig
}

const testPollInterval = 10 * time.Second

func testConfig() config.TranscriptionConfig {
	return config.TranscriptionConfig{
		Provider:               "fake",
		PollInterval:           testPollInterval,
		ResultTTL:              24 * time.Hour,
		MaxInputs:              5,
		AllowedSchemes:         []string{"gs", "https", "http"},
		ObjectPrefix:           "transcripts",
		SignedURLTTL:           15 * time.Minute,
		RetryMaxBackoff:        4 * testPollInterval,
		PostProcessEnabled:     true,
		ProviderMaxConcurrency: 4,
		ProviderCallTimeout:    5 * time.Second,
	}
}

type harnessOption func(*ServiceDeps, *harness)

func withoutDeriver() harnessOption {
	return func(d *ServiceDeps, _ *harness) { d.Deriver = nil }
}

func withoutStore() harnessOption {
	return func(d *ServiceDeps, _ *harness) { d.Store = nil }
}

func newHarness(t *testing.T, provider *fakeProvider, opts ...harnessOption) *harness {
	t.Helper()
	db := testutil.DB(t)
	log := testutil.Logger(t)
	cache, err := localstore.New(t.TempDir())
	if err != nil {
		t.Fatalf("localstore.New: %v", err)
	}
	clock := newFakeClock()
	h := &harness{
		repo:     jobrepo.NewJobRepo(db, log),
		provider: provider,
		store:    newFakeStore(clock),
		deriver:  &fakeDeriver{},
		events:   &fakeEvents{},
		clock:    clock,
		cfg:      testConfig(),
	}
	deps := ServiceDeps{
		Log:      log,
		Jobs:     h.repo,
		Provider: provider,
		Cache:    cache,
		Store:    h.store,
		Deriver:  h.deriver,
		Events:   h.events,
		Config:   h.cfg,
		Now:      clock.Now,
	}
	for _, o := range opts {
		o(&deps, h)
	}
	svc, err := NewService(deps)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	h.svc = svc
	return h
}

// submit records a job and moves the clock past its first poll window so
// the next status read reaches the provider.
func (h *harness) submit(t *testing.T) *domain.Job {
	t.Helper()
	job := h.submitFresh(t)
	h.clock.Advance(testPollInterval)
	return job
}

func (h *harness) submitFresh(t *testing.T) *domain.Job {
	t.Helper()
	job, err := h.svc.Submit(context.Background(), SubmitRequest{
		Inputs:       []string{"gs://audio/a.flac"},
		Hints:        domain.Hints{LanguageCode: "en-US"},
		OwnerContext: "owner-1",
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	return job
}

func (h *harness) status(t *testing.T, job *domain.Job) StatusView {
	t.Helper()
	v, err := h.svc.GetStatus(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	return v
}

var errBoom = errors.New("boom")
