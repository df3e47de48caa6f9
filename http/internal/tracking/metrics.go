// Package tracking records OpenTelemetry metrics for the executor. The meter
// is resolved lazily from the global provider, so nothing is exported until
// the host application installs one.
package tracking

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterName = "resilient-http/http"

	metricAttempts        = "http.client.attempts"         // Counter
	metricRetries         = "http.client.retries"          // Counter
	metricRequestDuration = "http.client.request.duration" // Histogram in seconds

	attrMethod  = "http.request.method"
	attrOutcome = "outcome"
	attrReason  = "retry.reason"
	attrSuccess = "success"
)

// Attempt outcome labels
const (
	OutcomeSuccess   = "success"
	OutcomeHTTPError = "http_error"
	OutcomeTransport = "transport_error"
)

var (
	meter       metric.Meter
	meterOnce   sync.Once
	meterInitMu sync.Mutex

	attemptCounter    metric.Int64Counter
	retryCounter      metric.Int64Counter
	durationHistogram metric.Float64Histogram
)

// logMetricError logs a metric initialization error to stderr.
func logMetricError(metricName string, err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "WARNING: Failed to initialize http client metric %s: %v\n", metricName, err)
	}
}

func initMeter() {
	meterInitMu.Lock()
	defer meterInitMu.Unlock()

	if meter != nil {
		return
	}

	meter = otel.Meter(meterName)

	var err error
	attemptCounter, err = meter.Int64Counter(
		metricAttempts,
		metric.WithDescription("Number of HTTP attempts issued, including retries"),
		metric.WithUnit("{attempt}"),
	)
	logMetricError(metricAttempts, err)

	retryCounter, err = meter.Int64Counter(
		metricRetries,
		metric.WithDescription("Number of retry decisions taken"),
		metric.WithUnit("{retry}"),
	)
	logMetricError(metricRetries, err)

	durationHistogram, err = meter.Float64Histogram(
		metricRequestDuration,
		metric.WithDescription("Duration of a logical request across all attempts and backoff sleeps"),
		metric.WithUnit("s"),
	)
	logMetricError(metricRequestDuration, err)
}

func ensureMeterInitialized() {
	meterOnce.Do(initMeter)
}

// RecordAttempt counts one attempt and how it ended.
func RecordAttempt(ctx context.Context, method, outcome string) {
	ensureMeterInitialized()
	if attemptCounter == nil {
		return
	}
	attemptCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String(attrMethod, method),
		attribute.String(attrOutcome, outcome),
	))
}

// RecordRetry counts one retry decision. reason is a transport code or "http_status".
func RecordRetry(ctx context.Context, method, reason string) {
	ensureMeterInitialized()
	if retryCounter == nil {
		return
	}
	retryCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String(attrMethod, method),
		attribute.String(attrReason, reason),
	))
}

// RecordRequest records the total duration of one Execute call.
func RecordRequest(ctx context.Context, method string, duration time.Duration, success bool) {
	ensureMeterInitialized()
	if durationHistogram == nil {
		return
	}
	durationHistogram.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String(attrMethod, method),
		attribute.Bool(attrSuccess, success),
	))
}

// ResetForTesting drops the cached meter so a test provider is picked up.
func ResetForTesting() {
	meterInitMu.Lock()
	defer meterInitMu.Unlock()

	meter = nil
	attemptCounter = nil
	retryCounter = nil
	durationHistogram = nil
	meterOnce = sync.Once{}
}
