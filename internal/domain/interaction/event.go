package interaction

import (
	"time"

	"github.com/davidleathers/interaction-analytics/internal/domain/errors"
	"github.com/google/uuid"
)

// Event is an immutable subject -> object interaction record.
// Events are appended by the write path and never modified or deleted by the
// analytics engine; ordering for output is by Timestamp only.
type Event struct {
	ID        uuid.UUID `json:"id"`
	SubjectID string    `json:"subjectId"`
	ObjectID  string    `json:"objectId"`
	Action    string    `json:"action"`
	Message   string    `json:"message"`
	// Timestamp is milliseconds since the Unix epoch.
	Timestamp int64 `json:"timestamp"`
}

// NewEvent creates a new interaction event with validation.
// Subject and object ids are optional; correlation treats a missing id with a
// sentinel key.
func NewEvent(subjectID, objectID, action, message string, timestamp int64) (*Event, error) {
	if action == "" {
		return nil, errors.NewValidationError("MISSING_ACTION",
			"action is required")
	}

	if timestamp < 0 {
		return nil, errors.NewValidationError("INVALID_TIMESTAMP",
			"timestamp must not be before the epoch")
	}

	return &Event{
		ID:        uuid.New(),
		SubjectID: subjectID,
		ObjectID:  objectID,
		Action:    action,
		Message:   message,
		Timestamp: timestamp,
	}, nil
}

// Time returns the event timestamp as a UTC time.Time
func (e *Event) Time() time.Time {
	return time.UnixMilli(e.Timestamp).UTC()
}

// TimeRange is an inclusive [Start, End] window in epoch milliseconds.
// A nil *TimeRange means unbounded.
type TimeRange struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

// Contains reports whether ts falls within the range. A nil range contains
// every timestamp.
func (r *TimeRange) Contains(ts int64) bool {
	if r == nil {
		return true
	}
	return ts >= r.Start && ts <= r.End
}
