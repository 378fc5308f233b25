package interaction

import "context"

// Reader is the read side of the append-only event store. An empty action
// matches every action; a nil range is unbounded. Implementations return a
// finite, already materialised slice and must never hand out events that a
// concurrent Append is still writing.
type Reader interface {
	QueryByActionAndRange(ctx context.Context, action string, rng *TimeRange) ([]*Event, error)
	QueryBySubject(ctx context.Context, subjectID, action string, rng *TimeRange) ([]*Event, error)
	QueryByObject(ctx context.Context, objectID, action string, rng *TimeRange) ([]*Event, error)
	QueryBySubjectAndObject(ctx context.Context, subjectID, objectID, action string, rng *TimeRange) ([]*Event, error)
	QueryAll(ctx context.Context) ([]*Event, error)
}

// Writer is the append path. It shares the Event shape with the read side.
type Writer interface {
	Append(ctx context.Context, subjectID, objectID, action, message string, timestamp int64) (*Event, error)
}

// Repository is the full event store contract
type Repository interface {
	Reader
	Writer

	// Ping reports whether the backing store is reachable
	Ping(ctx context.Context) error
	Close()
}
