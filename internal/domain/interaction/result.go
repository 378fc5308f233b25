package interaction

// ResultKind identifies which shape an engine result carries
type ResultKind string

const (
	ResultOverview ResultKind = "overview"
	ResultEntries  ResultKind = "entries"
	ResultBuckets  ResultKind = "buckets"
)

// TotalCounter is the reserved counter incremented once per entry in every
// bucketed result.
const TotalCounter = "total"

// EntryRecord is one event that passed filtering and correlation, with subject
// and object already oriented for the query (swapped in inverse mode).
type EntryRecord struct {
	SubjectID string `json:"subjectId"`
	ObjectID  string `json:"objectId"`
	Action    string `json:"action"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

// Overview summarises action frequencies over the visited events.
// FirstEntry and LastEntry are zero when no event was visited.
type Overview struct {
	Actions    map[string]int64 `json:"actions"`
	EntryCount int64            `json:"entryCount"`
	FirstEntry int64            `json:"firstEntry"`
	LastEntry  int64            `json:"lastEntry"`
}

// Bucket is one fixed-width window of a dense series
type Bucket struct {
	Start    int64            `json:"start"`
	Counters map[string]int64 `json:"counters"`
}

// BucketSeries is ordered by Start. Every bucket carries the same counter names.
type BucketSeries struct {
	IntervalMillis int64    `json:"intervalMillis"`
	Buckets        []Bucket `json:"buckets"`
}

// Result is what a query produces: exactly one of Overview, Entries or Series
// is populated, as indicated by Kind.
type Result struct {
	Kind     ResultKind    `json:"kind"`
	Overview *Overview     `json:"overview,omitempty"`
	Entries  []EntryRecord `json:"entries"`
	Series   *BucketSeries `json:"series,omitempty"`
}
