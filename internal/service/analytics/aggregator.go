package analytics

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/davidleathers/interaction-analytics/internal/domain/errors"
	"github.com/davidleathers/interaction-analytics/internal/domain/interaction"
)

// Aggregator folds timestamp-sorted entries into a dense bucket series. It
// counts named patterns when any are configured with no histogram, and
// histogram groups otherwise.
type Aggregator struct {
	NamedPatterns []NamedPattern
	Histogram     *Pattern
	Multiplier    *Pattern

	// MaxBuckets bounds the series length; zero means unbounded
	MaxBuckets int64
}

// NewAggregator takes its counters from a parsed query
func NewAggregator(spec *QuerySpec, maxBuckets int64) *Aggregator {
	return &Aggregator{
		NamedPatterns: spec.NamedPatterns,
		Histogram:     spec.Histogram,
		Multiplier:    spec.Multiplier,
		MaxBuckets:    maxBuckets,
	}
}

type countMap struct {
	timestamps []int64
	counters   map[int64]map[string]int64
	names      map[string]struct{}
}

func (m *countMap) add(ts int64, name string, n int64) {
	c, ok := m.counters[ts]
	if !ok {
		c = make(map[string]int64)
		m.counters[ts] = c
		m.timestamps = append(m.timestamps, ts)
	}
	c[name] += n
	m.names[name] = struct{}{}
}

// countEntries is the first pass: counters per exact timestamp. Entries must be
// sorted by timestamp.
func (a *Aggregator) countEntries(entries []interaction.EntryRecord) (*countMap, error) {
	m := &countMap{
		counters: make(map[int64]map[string]int64),
		names:    make(map[string]struct{}),
	}

	for _, entry := range entries {
		m.add(entry.Timestamp, interaction.TotalCounter, 1)

		weight, err := a.weight(entry.Message)
		if err != nil {
			return nil, err
		}

		if a.Histogram != nil {
			if name, ok := a.Histogram.Group(entry.Message); ok {
				m.add(entry.Timestamp, name, weight)
			}
			continue
		}

		for _, np := range a.NamedPatterns {
			if np.Pattern.Matches(entry.Message) {
				m.add(entry.Timestamp, np.Name, weight)
			}
		}
	}

	sort.Slice(m.timestamps, func(i, j int) bool { return m.timestamps[i] < m.timestamps[j] })
	return m, nil
}

// fold is the second pass. Buckets run from alignedStart to end inclusive;
// each covers [start, start+interval) and reports every counter name seen in
// the first pass.
func (a *Aggregator) fold(m *countMap, interval, alignedStart, end int64) (*interaction.BucketSeries, error) {
	series := &interaction.BucketSeries{IntervalMillis: interval, Buckets: []interaction.Bucket{}}
	if interval <= 0 || alignedStart > end {
		return series, nil
	}

	span := end - alignedStart
	if span < 0 {
		return nil, tooManyBuckets(a.MaxBuckets)
	}
	count := span/interval + 1
	if a.MaxBuckets > 0 && count > a.MaxBuckets {
		return nil, tooManyBuckets(a.MaxBuckets)
	}

	names := make([]string, 0, len(m.names))
	for name := range m.names {
		names = append(names, name)
	}
	sort.Strings(names)

	series.Buckets = make([]interaction.Bucket, 0, count)
	next := sort.Search(len(m.timestamps), func(i int) bool { return m.timestamps[i] >= alignedStart })

	for i := int64(0); i < count; i++ {
		start := alignedStart + i*interval
		counters := make(map[string]int64, len(names))
		for _, name := range names {
			counters[name] = 0
		}

		for next < len(m.timestamps) && m.timestamps[next]-start < interval {
			for name, n := range m.counters[m.timestamps[next]] {
				counters[name] += n
			}
			next++
		}

		series.Buckets = append(series.Buckets, interaction.Bucket{Start: start, Counters: counters})
	}

	return series, nil
}

// Aggregate runs both passes
func (a *Aggregator) Aggregate(entries []interaction.EntryRecord, interval, alignedStart, end int64) (*interaction.BucketSeries, error) {
	m, err := a.countEntries(entries)
	if err != nil {
		return nil, err
	}
	return a.fold(m, interval, alignedStart, end)
}

// weight is the multiplier group of a matching message, 1 otherwise. A
// matching group that is not an integer fails the whole query.
func (a *Aggregator) weight(message string) (int64, error) {
	if a.Multiplier == nil {
		return 1, nil
	}

	group, ok := a.Multiplier.Group(message)
	if !ok {
		return 1, nil
	}

	n, err := strconv.ParseInt(group, 10, 64)
	if err != nil {
		return 0, errors.NewValidationError("INVALID_MULTIPLIER",
			fmt.Sprintf("multiplier captured %q, which is not an integer", group)).
			WithCause(err).
			WithDetails(map[string]interface{}{"pattern": a.Multiplier.String()})
	}
	return n, nil
}

func tooManyBuckets(limit int64) error {
	return errors.NewValidationError("TOO_MANY_BUCKETS",
		fmt.Sprintf("aggregation would produce more than %d buckets", limit)).
		WithDetails(map[string]interface{}{"limit": limit})
}
