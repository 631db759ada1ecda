package telemetry

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/inkseal/inkseal"

// Metrics holds the OpenTelemetry instruments for the signing pipeline.
type Metrics struct {
	// Certificate ingestion
	CertificatesParsedTotal       metric.Int64Counter
	CertificateParseFailuresTotal metric.Int64Counter
	ValidationFailuresTotal       metric.Int64Counter

	// Key import
	KeysImportedTotal      metric.Int64Counter
	KeyImportFailuresTotal metric.Int64Counter

	// Signing
	SignAttemptsTotal metric.Int64Counter
	SignFailuresTotal metric.Int64Counter
	SignDuration      metric.Float64Histogram

	// Submission and verification
	SubmissionsTotal         metric.Int64Counter
	VerificationsTotal       metric.Int64Counter
	WorkflowTransitionsTotal metric.Int64Counter
}

var (
	once    sync.Once
	metrics *Metrics
)

// GetMetrics returns the singleton Metrics instance, initializing it if
// necessary. Until InitTelemetry runs the instruments record into the
// default no-op meter provider, so callers never need to guard.
func GetMetrics() *Metrics {
	once.Do(func() {
		metrics = initMetrics()
	})
	return metrics
}

func initMetrics() *Metrics {
	meter := otel.GetMeterProvider().Meter(meterName)

	m := &Metrics{}

	m.CertificatesParsedTotal, _ = meter.Int64Counter(
		"inkseal.certificates.parsed.total",
		metric.WithDescription("Total number of certificates parsed successfully"),
		metric.WithUnit("{certificate}"),
	)

	m.CertificateParseFailuresTotal, _ = meter.Int64Counter(
		"inkseal.certificates.parse_failures.total",
		metric.WithDescription("Total number of certificate inputs rejected as malformed"),
		metric.WithUnit("{error}"),
	)

	m.ValidationFailuresTotal, _ = meter.Int64Counter(
		"inkseal.certificates.validation_failures.total",
		metric.WithDescription("Total number of certificates rejected by validation"),
		metric.WithUnit("{certificate}"),
	)

	m.KeysImportedTotal, _ = meter.Int64Counter(
		"inkseal.keys.imported.total",
		metric.WithDescription("Total number of private keys imported"),
		metric.WithUnit("{key}"),
	)

	m.KeyImportFailuresTotal, _ = meter.Int64Counter(
		"inkseal.keys.import_failures.total",
		metric.WithDescription("Total number of private key inputs that failed to import"),
		metric.WithUnit("{error}"),
	)

	m.SignAttemptsTotal, _ = meter.Int64Counter(
		"inkseal.sign.attempts.total",
		metric.WithDescription("Total number of signature computations attempted"),
		metric.WithUnit("{signature}"),
	)

	m.SignFailuresTotal, _ = meter.Int64Counter(
		"inkseal.sign.failures.total",
		metric.WithDescription("Total number of signature computations that failed"),
		metric.WithUnit("{error}"),
	)

	m.SignDuration, _ = meter.Float64Histogram(
		"inkseal.sign.duration",
		metric.WithDescription("Duration of canonicalize-and-sign operations"),
		metric.WithUnit("ms"),
	)

	m.SubmissionsTotal, _ = meter.Int64Counter(
		"inkseal.submissions.total",
		metric.WithDescription("Total number of signature submissions by outcome"),
		metric.WithUnit("{submission}"),
	)

	m.VerificationsTotal, _ = meter.Int64Counter(
		"inkseal.verifications.total",
		metric.WithDescription("Total number of submitted signatures verified by the stub service"),
		metric.WithUnit("{verification}"),
	)

	m.WorkflowTransitionsTotal, _ = meter.Int64Counter(
		"inkseal.workflow.transitions.total",
		metric.WithDescription("Total number of signing workflow state transitions"),
		metric.WithUnit("{transition}"),
	)

	return m
}
