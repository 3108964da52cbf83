package observability

import (
	"context"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"gorm.io/gorm"

	domain "github.com/yungbote/neurobridge-transcribe/internal/domain/transcription"
	"github.com/yungbote/neurobridge-transcribe/internal/platform/logger"
)

// Metrics holds the service's Prometheus collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	apiRequests *prometheus.CounterVec
	apiLatency  *prometheus.HistogramVec
	apiInflight prometheus.Gauge

	providerCalls   *prometheus.CounterVec
	providerLatency *prometheus.HistogramVec
	transitions     *prometheus.CounterVec
	artifactRuns    *prometheus.CounterVec
	postProcessRuns *prometheus.CounterVec
	jobsByStatus    *prometheus.GaugeVec
	storageBoot     *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		apiRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "transcribe_api_requests_total",
			Help: "API requests by method/route/status.",
		}, []string{"method", "route", "status"}),
		apiLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "transcribe_api_request_duration_seconds",
			Help:    "API request latency in seconds.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"method", "route"}),
		apiInflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "transcribe_api_inflight_requests",
			Help: "In-flight API requests.",
		}),
		providerCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "transcribe_provider_calls_total",
			Help: "Provider calls by provider/op/outcome.",
		}, []string{"provider", "op", "outcome"}),
		providerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "transcribe_provider_call_duration_seconds",
			Help:    "Provider call latency in seconds.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"provider", "op"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "transcribe_job_transitions_total",
			Help: "Job status transitions.",
		}, []string{"from", "to"}),
		artifactRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "transcribe_artifact_attempts_total",
			Help: "Result caching and promotion attempts by outcome.",
		}, []string{"outcome"}),
		postProcessRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "transcribe_post_process_attempts_total",
			Help: "Summary derivation attempts by outcome.",
		}, []string{"outcome"}),
		jobsByStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "transcribe_jobs",
			Help: "Stored jobs by status.",
		}, []string{"status"}),
		storageBoot: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "transcribe_object_storage_bootstrap_total",
			Help: "Object storage bootstrap attempts by mode/outcome/error code.",
		}, []string{"mode", "outcome", "code"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.apiRequests, m.apiLatency, m.apiInflight,
		m.providerCalls, m.providerLatency,
		m.transitions, m.artifactRuns, m.postProcessRuns,
		m.jobsByStatus, m.storageBoot,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserveAPI(method, route, status string, dur time.Duration) {
	if m == nil {
		return
	}
	if method == "" {
		method = "UNKNOWN"
	}
	if route == "" {
		route = "unknown"
	}
	m.apiRequests.WithLabelValues(method, route, status).Inc()
	m.apiLatency.WithLabelValues(method, route).Observe(dur.Seconds())
}

func (m *Metrics) APIInflightInc() {
	if m != nil {
		m.apiInflight.Inc()
	}
}

func (m *Metrics) APIInflightDec() {
	if m != nil {
		m.apiInflight.Dec()
	}
}

func (m *Metrics) ObserveProviderCall(provider, op string, err error, dur time.Duration) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.providerCalls.WithLabelValues(provider, op, outcome).Inc()
	m.providerLatency.WithLabelValues(provider, op).Observe(dur.Seconds())
}

func (m *Metrics) IncTransition(from, to domain.Status) {
	if m != nil {
		m.transitions.WithLabelValues(string(from), string(to)).Inc()
	}
}

func (m *Metrics) IncArtifactAttempt(ok bool) {
	if m != nil {
		m.artifactRuns.WithLabelValues(outcomeLabel(ok)).Inc()
	}
}

func (m *Metrics) IncPostProcessAttempt(ok bool) {
	if m != nil {
		m.postProcessRuns.WithLabelValues(outcomeLabel(ok)).Inc()
	}
}

func (m *Metrics) ObserveStorageBootstrap(mode, outcome, code string) {
	if m != nil {
		m.storageBoot.WithLabelValues(mode, outcome, code).Inc()
	}
}

func outcomeLabel(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}

// StartJobStatusCollector refreshes the per-status job gauge from the store
// every interval until ctx is done.
func (m *Metrics) StartJobStatusCollector(ctx context.Context, log *logger.Logger, db *gorm.DB, interval time.Duration) {
	if m == nil || db == nil {
		return
	}
	if interval <= 0 {
		interval = 15 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.collectJobStatus(ctx, log, db)
			}
		}
	}()
}

func (m *Metrics) collectJobStatus(ctx context.Context, log *logger.Logger, db *gorm.DB) {
	var rows []struct {
		Status string
		Count  int64
	}
	if err := db.WithContext(ctx).
		Model(&domain.Job{}).
		Select("status, count(*) as count").
		Group("status").
		Scan(&rows).Error; err != nil {
		if log != nil {
			log.Warn("metrics: job status query failed", "error", err)
		}
		return
	}
	for _, s := range []domain.Status{
		domain.StatusPending, domain.StatusRunning, domain.StatusSucceeded,
		domain.StatusFailed, domain.StatusCanceled, domain.StatusUnknown,
	} {
		m.jobsByStatus.WithLabelValues(string(s)).Set(0)
	}
	for _, row := range rows {
		status := strings.TrimSpace(row.Status)
		if status == "" {
			status = "unknown"
		}
		m.jobsByStatus.WithLabelValues(status).Set(float64(row.Count))
	}
}
