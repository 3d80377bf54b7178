// Package middleware provides the HTTP middleware stack for the admin API.
package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/keysync/backend/internal/infrastructure/telemetry"
)

// HTTPMetricsConfig configures the HTTP metrics middleware.
type HTTPMetricsConfig struct {
	MeterProvider *telemetry.MeterProvider
	ServiceName   string
	Enabled       bool
}

// serverInstruments bundles the per-request instruments so the
// middleware closure captures a single pointer.
type serverInstruments struct {
	requests       *telemetry.Counter
	duration       *telemetry.Histogram
	requestBytes   *telemetry.Histogram
	responseBytes  *telemetry.Histogram
	activeRequests metric.Int64UpDownCounter
}

var sizeBuckets = []float64{100, 500, 1000, 5000, 10000, 50000, 100000, 500000, 1000000}

func newServerInstruments(meter metric.Meter) (*serverInstruments, error) {
	var (
		ins serverInstruments
		err error
	)

	if ins.requests, err = telemetry.NewCounter(meter,
		"http_server_request_total", "Total number of HTTP requests", "{request}"); err != nil {
		return nil, err
	}
	if ins.duration, err = telemetry.NewHistogram(meter, telemetry.HistogramOpts{
		Name:        "http_server_request_duration_seconds",
		Description: "HTTP request latency distribution in seconds",
		Unit:        "s",
		Boundaries:  telemetry.HTTPDurationBuckets,
	}); err != nil {
		return nil, err
	}
	if ins.requestBytes, err = telemetry.NewHistogram(meter, telemetry.HistogramOpts{
		Name:        "http_server_request_size_bytes",
		Description: "HTTP request body size distribution in bytes",
		Unit:        "By",
		Boundaries:  sizeBuckets,
	}); err != nil {
		return nil, err
	}
	if ins.responseBytes, err = telemetry.NewHistogram(meter, telemetry.HistogramOpts{
		Name:        "http_server_response_size_bytes",
		Description: "HTTP response body size distribution in bytes",
		Unit:        "By",
		Boundaries:  sizeBuckets,
	}); err != nil {
		return nil, err
	}
	if ins.activeRequests, err = meter.Int64UpDownCounter(
		"http_server_active_requests",
		metric.WithDescription("Number of in-flight HTTP requests"),
		metric.WithUnit("{request}"),
	); err != nil {
		return nil, err
	}

	return &ins, nil
}

func passthrough(c *gin.Context) {
	c.Next()
}

// HTTPMetrics returns middleware recording request count, latency,
// request/response sizes, and in-flight requests. With metrics
// disabled (or a nil provider) it degrades to a passthrough.
func HTTPMetrics(cfg HTTPMetricsConfig) gin.HandlerFunc {
	if !cfg.Enabled || cfg.MeterProvider == nil || !cfg.MeterProvider.IsEnabled() {
		return passthrough
	}
	return HTTPMetricsWithMeter(cfg.MeterProvider.Meter("http.server"), true)
}

// HTTPMetricsWithMeter builds the middleware on a caller-supplied
// meter. Instrument creation failures disable collection rather than
// blocking traffic.
func HTTPMetricsWithMeter(meter metric.Meter, enabled bool) gin.HandlerFunc {
	if !enabled {
		return passthrough
	}
	ins, err := newServerInstruments(meter)
	if err != nil {
		return passthrough
	}

	return func(c *gin.Context) {
		ctx := c.Request.Context()
		start := time.Now()
		requestSize := c.Request.ContentLength

		ins.activeRequests.Add(ctx, 1)
		c.Next()
		ins.activeRequests.Add(ctx, -1)

		// Label with the matched route pattern, not the raw path, to
		// keep cardinality bounded.
		route := c.FullPath()
		if route == "" {
			route = "unknown"
		}

		byRoute := []attribute.KeyValue{
			telemetry.AttrHTTPMethod.String(c.Request.Method),
			telemetry.AttrHTTPRoute.String(route),
		}
		ins.requests.Inc(ctx, append(byRoute,
			telemetry.AttrHTTPStatusCode.Int(c.Writer.Status()))...)
		ins.duration.RecordDuration(ctx, time.Since(start), byRoute...)
		if requestSize > 0 {
			ins.requestBytes.Record(ctx, float64(requestSize), byRoute...)
		}
		if size := c.Writer.Size(); size > 0 {
			ins.responseBytes.Record(ctx, float64(size), byRoute...)
		}
	}
}
