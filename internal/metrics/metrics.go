package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "altgen_requests_total",
			Help: "Completion requests by final outcome",
		},
		[]string{"model", "status"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "altgen_request_duration_seconds",
			Help:    "End-to-end completion request duration, retries included",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"model"},
	)

	RetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "altgen_retries_total",
			Help: "Re-attempts after a transient failure",
		},
		[]string{"model"},
	)

	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "altgen_rate_limit_hits_total",
			Help: "Requests rejected for rate limiting, by source (limiter or provider)",
		},
		[]string{"source"},
	)

	ProviderErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "altgen_provider_errors_total",
			Help: "Failed attempts by error kind",
		},
		[]string{"error_kind"},
	)

	TokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "altgen_tokens_total",
			Help: "Tokens consumed, split by direction",
		},
		[]string{"model", "type"},
	)

	JobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "altgen_jobs_total",
			Help: "Suggestion jobs by terminal status",
		},
		[]string{"status"},
	)
)

func RecordRequest(model, status string, durationSec float64) {
	RequestsTotal.WithLabelValues(model, status).Inc()
	RequestDuration.WithLabelValues(model).Observe(durationSec)
}

func RecordRetry(model string) {
	RetriesTotal.WithLabelValues(model).Inc()
}

func RecordRateLimitHit(source string) {
	RateLimitHits.WithLabelValues(source).Inc()
}

func RecordProviderError(errorKind string) {
	ProviderErrors.WithLabelValues(errorKind).Inc()
}

func RecordTokens(model string, promptTokens, completionTokens int) {
	TokensTotal.WithLabelValues(model, "prompt").Add(float64(promptTokens))
	TokensTotal.WithLabelValues(model, "completion").Add(float64(completionTokens))
}

func RecordJob(status string) {
	JobsTotal.WithLabelValues(status).Inc()
}
