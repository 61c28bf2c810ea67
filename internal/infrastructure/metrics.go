package infrastructure

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// DiveMetrics holds the instruments of the dive service. A nil *DiveMetrics
// records nothing.
type DiveMetrics struct {
	cacheLookups     metric.Int64Counter
	remoteCalls      metric.Int64Counter
	remoteDuration   metric.Float64Histogram
	pollTicks        metric.Int64Counter
	jobsFinished     metric.Int64Counter
	jobDuration      metric.Float64Histogram
	requestsCanceled metric.Int64Counter
	staleResults     metric.Int64Counter

	httpRequests metric.Int64Counter
	httpDuration metric.Float64Histogram
	wsClients    metric.Int64UpDownCounter
	wsMessages   metric.Int64Counter
}

// NewDiveMetrics creates every instrument on meter
func NewDiveMetrics(meter metric.Meter) (*DiveMetrics, error) {
	m := &DiveMetrics{}
	var err error

	if m.cacheLookups, err = meter.Int64Counter("dive_cache_lookups_total",
		metric.WithDescription("Cache lookups by cache and outcome")); err != nil {
		return nil, fmt.Errorf("cache lookups counter: %w", err)
	}
	if m.remoteCalls, err = meter.Int64Counter("dive_remote_calls_total",
		metric.WithDescription("Calls to the query server by endpoint and outcome")); err != nil {
		return nil, fmt.Errorf("remote calls counter: %w", err)
	}
	if m.remoteDuration, err = meter.Float64Histogram("dive_remote_call_duration_seconds",
		metric.WithDescription("Query server call latency"),
		metric.WithUnit("s")); err != nil {
		return nil, fmt.Errorf("remote duration histogram: %w", err)
	}
	if m.pollTicks, err = meter.Int64Counter("dive_poll_ticks_total",
		metric.WithDescription("Status polls by job kind")); err != nil {
		return nil, fmt.Errorf("poll ticks counter: %w", err)
	}
	if m.jobsFinished, err = meter.Int64Counter("dive_jobs_finished_total",
		metric.WithDescription("Finished jobs by kind and outcome")); err != nil {
		return nil, fmt.Errorf("jobs finished counter: %w", err)
	}
	if m.jobDuration, err = meter.Float64Histogram("dive_job_duration_seconds",
		metric.WithDescription("Time from first poll to job completion"),
		metric.WithUnit("s")); err != nil {
		return nil, fmt.Errorf("job duration histogram: %w", err)
	}
	if m.requestsCanceled, err = meter.Int64Counter("dive_requests_cancelled_total",
		metric.WithDescription("Outstanding requests cancelled on navigation")); err != nil {
		return nil, fmt.Errorf("cancelled counter: %w", err)
	}
	if m.staleResults, err = meter.Int64Counter("dive_stale_results_total",
		metric.WithDescription("Results discarded because a newer batch started")); err != nil {
		return nil, fmt.Errorf("stale results counter: %w", err)
	}
	if m.httpRequests, err = meter.Int64Counter("dive_http_requests_total",
		metric.WithDescription("HTTP requests by route and status")); err != nil {
		return nil, fmt.Errorf("http requests counter: %w", err)
	}
	if m.httpDuration, err = meter.Float64Histogram("dive_http_request_duration_seconds",
		metric.WithDescription("HTTP request latency"),
		metric.WithUnit("s")); err != nil {
		return nil, fmt.Errorf("http duration histogram: %w", err)
	}
	if m.wsClients, err = meter.Int64UpDownCounter("dive_websocket_clients",
		metric.WithDescription("Connected websocket clients")); err != nil {
		return nil, fmt.Errorf("websocket clients gauge: %w", err)
	}
	if m.wsMessages, err = meter.Int64Counter("dive_websocket_messages_total",
		metric.WithDescription("Websocket messages broadcast by type")); err != nil {
		return nil, fmt.Errorf("websocket messages counter: %w", err)
	}
	return m, nil
}

func outcomeOf(hit bool) string {
	if hit {
		return "hit"
	}
	return "miss"
}

// RecordCacheLookup counts a cache hit or miss
func (m *DiveMetrics) RecordCacheLookup(cache string, hit bool) {
	if m == nil {
		return
	}
	m.cacheLookups.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("cache", cache),
		attribute.String("outcome", outcomeOf(hit)),
	))
}

// RecordRemoteCall records one query server round trip
func (m *DiveMetrics) RecordRemoteCall(ctx context.Context, endpoint, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("endpoint", endpoint),
		attribute.String("outcome", outcome),
	)
	m.remoteCalls.Add(ctx, 1, attrs)
	m.remoteDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordPollTick counts a status poll
func (m *DiveMetrics) RecordPollTick(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.pollTicks.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordJobFinished records a job reaching a terminal state
func (m *DiveMetrics) RecordJobFinished(ctx context.Context, kind, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("outcome", outcome),
	)
	m.jobsFinished.Add(ctx, 1, attrs)
	m.jobDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordCancelled counts requests cancelled together
func (m *DiveMetrics) RecordCancelled(ctx context.Context, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.requestsCanceled.Add(ctx, int64(count))
}

// RecordStaleResult counts a discarded batch result
func (m *DiveMetrics) RecordStaleResult(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.staleResults.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordHTTPRequest records a served HTTP request
func (m *DiveMetrics) RecordHTTPRequest(ctx context.Context, method, route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("route", route),
		attribute.Int("status", status),
	)
	m.httpRequests.Add(ctx, 1, attrs)
	m.httpDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordWebSocketClient tracks websocket connects (+1) and disconnects (-1)
func (m *DiveMetrics) RecordWebSocketClient(ctx context.Context, delta int) {
	if m == nil {
		return
	}
	m.wsClients.Add(ctx, int64(delta))
}

// RecordWebSocketMessage counts a broadcast message
func (m *DiveMetrics) RecordWebSocketMessage(ctx context.Context, msgType string) {
	if m == nil {
		return
	}
	m.wsMessages.Add(ctx, 1, metric.WithAttributes(attribute.String("type", msgType)))
}
