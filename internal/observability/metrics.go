// Package observability exposes relay metrics through OpenTelemetry with a
// Prometheus exporter.
package observability

import (
	"context"
	"net/http"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics holds the relay instruments.
type Metrics struct {
	meter metric.Meter

	HTTPRequestDuration metric.Float64Histogram
	HTTPRequestsTotal   metric.Int64Counter
	HTTPErrorsTotal     metric.Int64Counter

	SubmissionsTotal metric.Int64Counter
	TransitionsTotal metric.Int64Counter

	UpstreamDuration    metric.Float64Histogram
	UpstreamErrorsTotal metric.Int64Counter
}

// NewMetrics creates the instruments on a dedicated registry and returns the
// handler that serves it.
func NewMetrics(ctx context.Context, service string) (*Metrics, http.Handler, error) {
	registry := promclient.NewRegistry()
	exporter, err := prometheus.New(prometheus.WithRegisterer(registry))
	if err != nil {
		return nil, nil, err
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	meter := provider.Meter(service)
	m := &Metrics{meter: meter}

	m.HTTPRequestDuration, err = meter.Float64Histogram(
		"http_request_duration_seconds",
		metric.WithDescription("HTTP request latency in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30),
	)
	if err != nil {
		return nil, nil, err
	}

	m.HTTPRequestsTotal, err = meter.Int64Counter(
		"http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.HTTPErrorsTotal, err = meter.Int64Counter(
		"http_errors_total",
		metric.WithDescription("Total number of HTTP errors (4xx and 5xx)"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.SubmissionsTotal, err = meter.Int64Counter(
		"relay_submissions_total",
		metric.WithDescription("Skin refiner submissions by outcome"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.TransitionsTotal, err = meter.Int64Counter(
		"relay_transitions_total",
		metric.WithDescription("Project transitions by channel and resulting status"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.UpstreamDuration, err = meter.Float64Histogram(
		"relay_upstream_duration_seconds",
		metric.WithDescription("Latency of storage and RunPod calls in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60),
	)
	if err != nil {
		return nil, nil, err
	}

	m.UpstreamErrorsTotal, err = meter.Int64Counter(
		"relay_upstream_errors_total",
		metric.WithDescription("Failed storage and RunPod calls"),
	)
	if err != nil {
		return nil, nil, err
	}

	return m, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}), nil
}

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, route string, statusCode int, durationSeconds float64) {
	attrs := metric.WithAttributes(
		methodAttr(method),
		routeAttr(route),
		statusAttr(statusCode),
	)

	m.HTTPRequestDuration.Record(ctx, durationSeconds, attrs)
	m.HTTPRequestsTotal.Add(ctx, 1, attrs)

	if statusCode >= 400 {
		m.HTTPErrorsTotal.Add(ctx, 1, attrs)
	}
}

// SubmissionFinished counts a submission by outcome ("ok", "input_error", ...).
func (m *Metrics) SubmissionFinished(ctx context.Context, outcome string) {
	m.SubmissionsTotal.Add(ctx, 1, metric.WithAttributes(outcomeAttr(outcome)))
}

// Transitioned counts a project leaving processing.
func (m *Metrics) Transitioned(ctx context.Context, channel, status string) {
	m.TransitionsTotal.Add(ctx, 1, metric.WithAttributes(channelAttr(channel), jobStatusAttr(status)))
}

// UpstreamCall records the latency of one storage or RunPod call.
func (m *Metrics) UpstreamCall(ctx context.Context, op string, elapsed time.Duration, err error) {
	attrs := metric.WithAttributes(opAttr(op), successAttr(err == nil))
	m.UpstreamDuration.Record(ctx, elapsed.Seconds(), attrs)
	if err != nil {
		m.UpstreamErrorsTotal.Add(ctx, 1, metric.WithAttributes(opAttr(op)))
	}
}
