package transcription

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	domain "github.com/yungbote/neurobridge-transcribe/internal/domain/transcription"
	"github.com/yungbote/neurobridge-transcribe/internal/observability"
)

// guardedProvider puts every network call to the provider behind one
// process-wide concurrency cap, a QPS ceiling and a per-call timeout.
type guardedProvider struct {
	inner   domain.Provider
	sem     *semaphore.Weighted
	limiter *rate.Limiter
	timeout time.Duration
	tracer  trace.Tracer
	metrics *observability.Metrics
}

type guardConfig struct {
	MaxConcurrency int
	QPS            float64
	CallTimeout    time.Duration
	Metrics        *observability.Metrics
}

func newGuardedProvider(p domain.Provider, cfg guardConfig) *guardedProvider {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 1
	}
	limit := rate.Inf
	burst := 1
	if cfg.QPS > 0 {
		limit = rate.Limit(cfg.QPS)
		if int(cfg.QPS) > burst {
			burst = int(cfg.QPS)
		}
	}
	return &guardedProvider{
		inner:   p,
		sem:     semaphore.NewWeighted(int64(cfg.MaxConcurrency)),
		limiter: rate.NewLimiter(limit, burst),
		timeout: cfg.CallTimeout,
		tracer:  otel.Tracer("neurobridge-transcribe/provider"),
		metrics: cfg.Metrics,
	}
}

func (g *guardedProvider) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	ctx, span := g.tracer.Start(ctx, "provider."+op, trace.WithAttributes(
		attribute.String("provider.name", g.inner.Name()),
	))
	defer span.End()

	start := time.Now()
	err := g.run(ctx, op, fn)
	g.metrics.ObserveProviderCall(g.inner.Name(), op, err, time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (g *guardedProvider) run(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return domain.AsProviderError(g.inner.Name(), op, err)
	}
	defer g.sem.Release(1)
	if err := g.limiter.Wait(ctx); err != nil {
		return domain.AsProviderError(g.inner.Name(), op, err)
	}
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}
	return domain.AsProviderError(g.inner.Name(), op, fn(ctx))
}

func (g *guardedProvider) Name() string { return g.inner.Name() }

func (g *guardedProvider) Limits() domain.ProviderLimits { return g.inner.Limits() }

func (g *guardedProvider) Submit(ctx context.Context, inputs []string, hints domain.Hints) (*domain.ProviderJob, error) {
	var out *domain.ProviderJob
	err := g.call(ctx, "submit", func(ctx context.Context) error {
		var err error
		out, err = g.inner.Submit(ctx, inputs, hints)
		return err
	})
	return out, err
}

func (g *guardedProvider) Fetch(ctx context.Context, externalID string) (*domain.ProviderJob, error) {
	var out *domain.ProviderJob
	err := g.call(ctx, "fetch", func(ctx context.Context) error {
		var err error
		out, err = g.inner.Fetch(ctx, externalID)
		return err
	})
	return out, err
}

func (g *guardedProvider) Cancel(ctx context.Context, externalID string) error {
	return g.call(ctx, "cancel", func(ctx context.Context) error {
		return g.inner.Cancel(ctx, externalID)
	})
}

func (g *guardedProvider) DownloadResult(ctx context.Context, ref domain.ResultRef) ([]byte, error) {
	var out []byte
	err := g.call(ctx, "download", func(ctx context.Context) error {
		var err error
		out, err = g.inner.DownloadResult(ctx, ref)
		return err
	})
	return out, err
}

// ParseTranscript is local work and bypasses the guard.
func (g *guardedProvider) ParseTranscript(raw []byte, ref domain.ResultRef) (*domain.TranscriptItem, error) {
	return g.inner.ParseTranscript(raw, ref)
}
