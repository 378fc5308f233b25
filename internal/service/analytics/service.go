package analytics

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"sort"
	"time"

	"github.com/davidleathers/interaction-analytics/internal/domain/errors"
	"github.com/davidleathers/interaction-analytics/internal/domain/interaction"
	"github.com/davidleathers/interaction-analytics/internal/metrics"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Ensure service implements the interface
var _ Service = (*service)(nil)

const (
	defaultMaxBuckets        = 100_000
	defaultIntervalCacheSize = 128
	eventStoreName           = "event_store"
)

// Config tunes the engine
type Config struct {
	// Location is where aggregation layouts are formatted and parsed
	Location *time.Location
	// MaxBuckets caps a single series; zero selects the default
	MaxBuckets int64
	// PatternCacheSize is the number of compiled expressions kept
	PatternCacheSize int
}

type service struct {
	logger   *zap.Logger
	config   Config
	reader   EventReader
	cache    ResultCache
	metrics  *metrics.Registry
	compiler *PatternCompiler
	tracer   trace.Tracer

	// intervals memoises probing per layout; probing a coarse layout walks
	// up to a year of minutes.
	intervals *lru.Cache[string, int64]
}

// NewService creates the query engine. cache and registry are optional.
func NewService(
	logger *zap.Logger,
	config Config,
	reader EventReader,
	cache ResultCache,
	registry *metrics.Registry,
) (Service, error) {
	if logger == nil {
		return nil, errors.NewValidationError("INVALID_LOGGER", "logger cannot be nil")
	}
	if reader == nil {
		return nil, errors.NewValidationError("INVALID_EVENT_READER", "event reader cannot be nil")
	}

	if config.Location == nil {
		config.Location = time.UTC
	}
	if config.MaxBuckets <= 0 {
		config.MaxBuckets = defaultMaxBuckets
	}

	compiler, err := NewPatternCompiler(config.PatternCacheSize)
	if err != nil {
		return nil, errors.NewInternalError("failed to create pattern compiler").WithCause(err)
	}

	intervals, err := lru.New[string, int64](defaultIntervalCacheSize)
	if err != nil {
		return nil, errors.NewInternalError("failed to create interval cache").WithCause(err)
	}

	return &service{
		logger:    logger,
		config:    config,
		reader:    reader,
		cache:     cache,
		metrics:   registry,
		compiler:  compiler,
		tracer:    otel.Tracer("analytics.service"),
		intervals: intervals,
	}, nil
}

// RunQuery parses the parameters, consults the cache and runs the engine
func (s *service) RunQuery(ctx context.Context, params url.Values) (*interaction.Result, error) {
	ctx, span := s.tracer.Start(ctx, "Service.RunQuery")
	defer span.End()

	start := time.Now()

	result, err := s.runQuery(ctx, params)
	elapsed := float64(time.Since(start).Microseconds()) / 1000

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.recordQuery(ctx, elapsed, errorKind(err), false)
		return nil, err
	}

	span.SetAttributes(attribute.String("query.kind", string(result.Kind)))
	s.recordQuery(ctx, elapsed, string(result.Kind), true)
	return result, nil
}

func (s *service) runQuery(ctx context.Context, params url.Values) (*interaction.Result, error) {
	spec, err := ParseQuerySpec(params, s.compiler)
	if err != nil {
		return nil, err
	}

	key := s.cacheKey(ctx, params)
	if key != "" {
		if cached := s.cachedResult(ctx, key); cached != nil {
			return cached, nil
		}
	}

	result, err := s.execute(ctx, spec)
	if err != nil {
		return nil, err
	}

	if key != "" {
		if err := s.cache.Set(ctx, key, result); err != nil {
			s.logger.Warn("Failed to cache query result", zap.Error(err))
		}
	}

	return result, nil
}

func (s *service) execute(ctx context.Context, spec *QuerySpec) (*interaction.Result, error) {
	var index CorrelationIndex
	if spec.Correlation != nil {
		var err error
		if index, err = s.buildCorrelationIndex(ctx, spec); err != nil {
			return nil, err
		}
	}

	events, err := s.loadEvents(ctx, spec)
	if err != nil {
		return nil, err
	}

	pass := FilterAndCorrelate(spec, index, events)
	if s.metrics != nil {
		s.metrics.RecordPass(ctx, pass.Visited, int64(len(pass.Entries)))
	}

	if spec.IsOverview() {
		return &interaction.Result{
			Kind:     interaction.ResultOverview,
			Overview: BuildOverview(pass),
		}, nil
	}

	entries := pass.Entries
	if entries == nil {
		entries = []interaction.EntryRecord{}
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Timestamp < entries[j].Timestamp })

	if !spec.IsBucketed() {
		return &interaction.Result{Kind: interaction.ResultEntries, Entries: entries}, nil
	}

	series, err := s.aggregate(ctx, spec, pass, entries)
	if err != nil {
		return nil, err
	}
	return &interaction.Result{Kind: interaction.ResultBuckets, Series: series}, nil
}

func (s *service) buildCorrelationIndex(ctx context.Context, spec *QuerySpec) (CorrelationIndex, error) {
	ctx, span := s.tracer.Start(ctx, "Service.buildCorrelationIndex",
		trace.WithAttributes(attribute.String("correlation.action", spec.Correlation.Action)),
	)
	defer span.End()

	events, err := s.reader.QueryByActionAndRange(ctx, spec.Correlation.Action, nil)
	if err != nil {
		span.RecordError(err)
		return nil, storeError("failed to load correlation events", err)
	}

	index := BuildCorrelationIndex(events, spec.Correlation.Pattern, spec.Inverse)
	span.SetAttributes(attribute.Int("correlation.keys", len(index)))
	return index, nil
}

// loadEvents picks the narrowest store query the request allows
func (s *service) loadEvents(ctx context.Context, spec *QuerySpec) ([]*interaction.Event, error) {
	ctx, span := s.tracer.Start(ctx, "Service.loadEvents")
	defer span.End()

	var (
		events []*interaction.Event
		err    error
	)

	switch {
	case spec.SubjectID != "" && spec.ObjectID != "":
		events, err = s.reader.QueryBySubjectAndObject(ctx, spec.SubjectID, spec.ObjectID, spec.Action, spec.TimeRange)
	case spec.SubjectID != "":
		events, err = s.reader.QueryBySubject(ctx, spec.SubjectID, spec.Action, spec.TimeRange)
	case spec.ObjectID != "":
		events, err = s.reader.QueryByObject(ctx, spec.ObjectID, spec.Action, spec.TimeRange)
	case spec.Action == "" && spec.TimeRange == nil:
		events, err = s.reader.QueryAll(ctx)
	default:
		events, err = s.reader.QueryByActionAndRange(ctx, spec.Action, spec.TimeRange)
	}

	if err != nil {
		span.RecordError(err)
		return nil, storeError("failed to load events", err)
	}

	span.SetAttributes(attribute.Int("events.loaded", len(events)))
	return events, nil
}

// aggregate buckets the sorted entries. The series spans the explicit range
// when one was given and the observed span otherwise.
func (s *service) aggregate(ctx context.Context, spec *QuerySpec, pass *PassResult, entries []interaction.EntryRecord) (*interaction.BucketSeries, error) {
	_, span := s.tracer.Start(ctx, "Service.aggregate",
		trace.WithAttributes(attribute.String("aggregate.layout", spec.AggregateFormat)),
	)
	defer span.End()

	format := NewDateFormat(spec.AggregateFormat, s.config.Location)
	interval := s.interval(format)

	start, end := pass.ObservedStart, pass.ObservedEnd
	if spec.TimeRange != nil {
		start, end = spec.TimeRange.Start, spec.TimeRange.End
	}

	var aligned int64
	if start <= end {
		aligned = format.Align(start)
	} else {
		aligned = start
	}

	series, err := NewAggregator(spec, s.config.MaxBuckets).Aggregate(entries, interval, aligned, end)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	span.SetAttributes(
		attribute.Int64("aggregate.interval_ms", interval),
		attribute.Int("aggregate.buckets", len(series.Buckets)),
	)
	if s.metrics != nil {
		s.metrics.RecordSeries(ctx, len(series.Buckets))
	}
	return series, nil
}

func (s *service) interval(format DateFormat) int64 {
	key := format.Layout + "\x00" + format.location().String()
	if interval, ok := s.intervals.Get(key); ok {
		return interval
	}

	interval := format.Interval()
	s.intervals.Add(key, interval)
	return interval
}

// cacheKey returns "" when there is no cache or it cannot be reached; the
// query then runs uncached.
func (s *service) cacheKey(ctx context.Context, params url.Values) string {
	if s.cache == nil {
		return ""
	}

	key, err := s.cache.Key(ctx, Fingerprint(params))
	if err != nil {
		s.logger.Warn("Result cache unavailable, running uncached", zap.Error(err))
		return ""
	}
	return key
}

func (s *service) cachedResult(ctx context.Context, key string) *interaction.Result {
	result, err := s.cache.Get(ctx, key)
	if err != nil {
		s.logger.Warn("Failed to read cached query result", zap.String("key", key), zap.Error(err))
	}

	if s.metrics != nil {
		s.metrics.RecordCacheLookup(ctx, result != nil)
	}
	return result
}

func (s *service) recordQuery(ctx context.Context, elapsedMS float64, kind string, success bool) {
	if s.metrics != nil {
		s.metrics.RecordQuery(ctx, elapsedMS, kind, success)
	}

	if !success {
		s.logger.Debug("Query failed", zap.String("error_kind", kind), zap.Float64("duration_ms", elapsedMS))
	}
}

// Fingerprint is a stable digest of the request parameters, independent of
// their order.
func Fingerprint(params url.Values) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	for _, k := range keys {
		fmt.Fprintf(h, "%d:%s=", len(k), k)
		for _, v := range params[k] {
			fmt.Fprintf(h, "%d:%s;", len(v), v)
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

func storeError(message string, err error) error {
	return errors.NewExternalError(eventStoreName, message).WithCause(err)
}

func errorKind(err error) string {
	for _, t := range []errors.ErrorType{errors.ErrorTypeValidation, errors.ErrorTypeExternal} {
		if errors.IsType(err, t) {
			return string(t)
		}
	}
	return string(errors.ErrorTypeInternal)
}
