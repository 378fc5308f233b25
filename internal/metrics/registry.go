package metrics

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Registry holds the application's OpenTelemetry instruments
type Registry struct {
	meter metric.Meter

	// Query metrics
	QueryDuration       metric.Float64Histogram
	QueryCounter        metric.Int64Counter
	QueryFailureCounter metric.Int64Counter
	EventsVisited       metric.Int64Counter
	EntriesProduced     metric.Int64Counter
	BucketsProduced     metric.Int64Histogram

	// Ingest metrics
	EventsAppended   metric.Int64Counter
	AppendFailures   metric.Int64Counter
	AppendsPerSecond metric.Float64ObservableGauge
	PublishFailures  metric.Int64Counter

	// Cache metrics
	CacheHitCounter  metric.Int64Counter
	CacheMissCounter metric.Int64Counter
	CacheHitRate     metric.Float64ObservableGauge

	// System metrics
	StreamClients metric.Int64ObservableGauge

	mu             sync.RWMutex
	streamClients  int64
	appended       int64
	lastAppended   int64
	lastAppendTime time.Time
	cacheHits      int64
	cacheLookups   int64
}

// NewRegistry creates every instrument on the named meter
func NewRegistry(meterName string) (*Registry, error) {
	r := &Registry{
		meter:          otel.Meter(meterName),
		lastAppendTime: time.Now(),
	}

	if err := r.initQueryMetrics(); err != nil {
		return nil, err
	}
	if err := r.initIngestMetrics(); err != nil {
		return nil, err
	}
	if err := r.initCacheMetrics(); err != nil {
		return nil, err
	}
	if err := r.initSystemMetrics(); err != nil {
		return nil, err
	}

	return r, nil
}

func (r *Registry) initQueryMetrics() error {
	var err error

	r.QueryDuration, err = r.meter.Float64Histogram(
		"ia.query.duration",
		metric.WithDescription("Duration of engine queries in milliseconds"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(0.5, 1, 5, 10, 50, 100, 500, 1000, 5000),
	)
	if err != nil {
		return err
	}

	r.QueryCounter, err = r.meter.Int64Counter(
		"ia.query.total",
		metric.WithDescription("Total number of engine queries by result kind"),
	)
	if err != nil {
		return err
	}

	r.QueryFailureCounter, err = r.meter.Int64Counter(
		"ia.query.failure_total",
		metric.WithDescription("Total number of failed engine queries by error type"),
	)
	if err != nil {
		return err
	}

	r.EventsVisited, err = r.meter.Int64Counter(
		"ia.query.events_visited_total",
		metric.WithDescription("Events read from the store by queries"),
	)
	if err != nil {
		return err
	}

	r.EntriesProduced, err = r.meter.Int64Counter(
		"ia.query.entries_total",
		metric.WithDescription("Entries that passed filtering and correlation"),
	)
	if err != nil {
		return err
	}

	r.BucketsProduced, err = r.meter.Int64Histogram(
		"ia.query.buckets",
		metric.WithDescription("Number of buckets per aggregated series"),
		metric.WithExplicitBucketBoundaries(1, 10, 100, 1000, 10000, 100000),
	)
	return err
}

func (r *Registry) initIngestMetrics() error {
	var err error

	r.EventsAppended, err = r.meter.Int64Counter(
		"ia.ingest.appended_total",
		metric.WithDescription("Total number of appended events"),
	)
	if err != nil {
		return err
	}

	r.AppendFailures, err = r.meter.Int64Counter(
		"ia.ingest.failure_total",
		metric.WithDescription("Total number of rejected or failed appends"),
	)
	if err != nil {
		return err
	}

	r.PublishFailures, err = r.meter.Int64Counter(
		"ia.ingest.publish_failure_total",
		metric.WithDescription("Appended events a publisher failed to deliver"),
	)
	if err != nil {
		return err
	}

	r.AppendsPerSecond, err = r.meter.Float64ObservableGauge(
		"ia.ingest.throughput_per_second",
		metric.WithDescription("Current append throughput per second"),
		metric.WithFloat64Callback(func(ctx context.Context, o metric.Float64Observer) error {
			r.mu.Lock()
			defer r.mu.Unlock()

			now := time.Now()
			elapsed := now.Sub(r.lastAppendTime).Seconds()
			if elapsed > 0 {
				o.Observe(float64(r.appended-r.lastAppended) / elapsed)
				r.lastAppended = r.appended
				r.lastAppendTime = now
			}
			return nil
		}),
	)
	return err
}

func (r *Registry) initCacheMetrics() error {
	var err error

	r.CacheHitCounter, err = r.meter.Int64Counter(
		"ia.cache.hit_total",
		metric.WithDescription("Query results served from the cache"),
	)
	if err != nil {
		return err
	}

	r.CacheMissCounter, err = r.meter.Int64Counter(
		"ia.cache.miss_total",
		metric.WithDescription("Queries that had to run against the store"),
	)
	if err != nil {
		return err
	}

	r.CacheHitRate, err = r.meter.Float64ObservableGauge(
		"ia.cache.hit_rate",
		metric.WithDescription("Share of cache lookups that hit"),
		metric.WithFloat64Callback(func(ctx context.Context, o metric.Float64Observer) error {
			r.mu.RLock()
			defer r.mu.RUnlock()

			if r.cacheLookups > 0 {
				o.Observe(float64(r.cacheHits) / float64(r.cacheLookups))
			}
			return nil
		}),
	)
	return err
}

func (r *Registry) initSystemMetrics() error {
	var err error

	r.StreamClients, err = r.meter.Int64ObservableGauge(
		"ia.stream.clients",
		metric.WithDescription("Connected live event stream clients"),
		metric.WithInt64Callback(func(ctx context.Context, o metric.Int64Observer) error {
			r.mu.RLock()
			defer r.mu.RUnlock()
			o.Observe(r.streamClients)
			return nil
		}),
	)
	return err
}

// UpdateStreamClients adjusts the connected stream client count
func (r *Registry) UpdateStreamClients(delta int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.streamClients += delta
}

// RecordQuery records one finished query. kind is the result kind, or the
// error type when the query failed.
func (r *Registry) RecordQuery(ctx context.Context, durationMS float64, kind string, success bool) {
	attrs := []attribute.KeyValue{
		attribute.String("kind", kind),
		attribute.Bool("success", success),
	}

	r.QueryDuration.Record(ctx, durationMS, metric.WithAttributes(attrs...))
	if success {
		r.QueryCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	} else {
		r.QueryFailureCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

// RecordPass records the volume handled by one filter and correlate pass
func (r *Registry) RecordPass(ctx context.Context, visited, entries int64) {
	r.EventsVisited.Add(ctx, visited)
	r.EntriesProduced.Add(ctx, entries)
}

// RecordSeries records the length of an aggregated series
func (r *Registry) RecordSeries(ctx context.Context, buckets int) {
	r.BucketsProduced.Record(ctx, int64(buckets))
}

// RecordCacheLookup records a cache hit or miss
func (r *Registry) RecordCacheLookup(ctx context.Context, hit bool) {
	r.mu.Lock()
	r.cacheLookups++
	if hit {
		r.cacheHits++
	}
	r.mu.Unlock()

	if hit {
		r.CacheHitCounter.Add(ctx, 1)
	} else {
		r.CacheMissCounter.Add(ctx, 1)
	}
}

// RecordAppend records an append attempt
func (r *Registry) RecordAppend(ctx context.Context, action string, success bool) {
	attrs := metric.WithAttributes(attribute.String("action", action))
	if !success {
		r.AppendFailures.Add(ctx, 1, attrs)
		return
	}

	r.EventsAppended.Add(ctx, 1, attrs)
	r.mu.Lock()
	r.appended++
	r.mu.Unlock()
}

// RecordPublishFailure records a publisher that could not deliver an event
func (r *Registry) RecordPublishFailure(ctx context.Context, publisher string) {
	r.PublishFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("publisher", publisher)))
}
