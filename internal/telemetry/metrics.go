package telemetry

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	instrumentationName = "github.com/wolfeidau/remotesign"
)

// Metrics holds all the OpenTelemetry metric instruments
type Metrics struct {
	// Login metrics
	LoginsTotal       metric.Int64Counter
	LoginErrorsTotal  metric.Int64Counter
	LoginDuration     metric.Float64Histogram
	CachedTokenLoaded metric.Int64Counter

	// Signing metrics
	SubmissionsTotal   metric.Int64Counter
	ResubmissionsTotal metric.Int64Counter
	PollAttemptsTotal  metric.Int64Counter
	SignaturesTotal    metric.Int64Counter
	SigningErrorsTotal metric.Int64Counter
	SignDigestDuration metric.Float64Histogram
}

var (
	once    sync.Once
	metrics *Metrics
)

// GetMetrics returns the singleton Metrics instance, initializing it if necessary
func GetMetrics() *Metrics {
	once.Do(func() {
		metrics = initMetrics()
	})
	return metrics
}

// Tracer returns the tracer used for signing spans.
func Tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

// initMetrics creates and registers all metric instruments
func initMetrics() *Metrics {
	meter := otel.GetMeterProvider().Meter(instrumentationName)

	m := &Metrics{}

	// Login metrics
	m.LoginsTotal, _ = meter.Int64Counter(
		"remotesign.logins.total",
		metric.WithDescription("Total number of client-credentials logins"),
		metric.WithUnit("{login}"),
	)

	m.LoginErrorsTotal, _ = meter.Int64Counter(
		"remotesign.logins.errors.total",
		metric.WithDescription("Total number of failed logins"),
		metric.WithUnit("{error}"),
	)

	m.LoginDuration, _ = meter.Float64Histogram(
		"remotesign.logins.duration",
		metric.WithDescription("Duration of login operations"),
		metric.WithUnit("ms"),
	)

	m.CachedTokenLoaded, _ = meter.Int64Counter(
		"remotesign.token_cache.hits.total",
		metric.WithDescription("Total number of sessions started with a cached token"),
		metric.WithUnit("{token}"),
	)

	// Signing metrics
	m.SubmissionsTotal, _ = meter.Int64Counter(
		"remotesign.sign.submissions.total",
		metric.WithDescription("Total number of signing job submissions"),
		metric.WithUnit("{request}"),
	)

	m.ResubmissionsTotal, _ = meter.Int64Counter(
		"remotesign.sign.resubmissions.total",
		metric.WithDescription("Total number of submissions repeated after a re-login"),
		metric.WithUnit("{request}"),
	)

	m.PollAttemptsTotal, _ = meter.Int64Counter(
		"remotesign.sign.poll_attempts.total",
		metric.WithDescription("Total number of job status polls"),
		metric.WithUnit("{request}"),
	)

	m.SignaturesTotal, _ = meter.Int64Counter(
		"remotesign.sign.signatures.total",
		metric.WithDescription("Total number of signatures returned"),
		metric.WithUnit("{signature}"),
	)

	m.SigningErrorsTotal, _ = meter.Int64Counter(
		"remotesign.sign.errors.total",
		metric.WithDescription("Total number of failed signing operations"),
		metric.WithUnit("{error}"),
	)

	m.SignDigestDuration, _ = meter.Float64Histogram(
		"remotesign.sign.duration",
		metric.WithDescription("Duration of signing operations from submission to result"),
		metric.WithUnit("ms"),
	)

	return m
}
