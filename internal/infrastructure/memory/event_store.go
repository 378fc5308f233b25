package memory

import (
	"context"
	"sync"

	"github.com/davidleathers/interaction-analytics/internal/domain/interaction"
)

// Ensure EventStore implements the interface
var _ interaction.Repository = (*EventStore)(nil)

// EventStore keeps events in process memory. Reads return copies taken under
// the read lock, so a query sees a consistent snapshot and never a half
// written event.
type EventStore struct {
	mu     sync.RWMutex
	events []*interaction.Event
}

// NewEventStore creates an empty store
func NewEventStore() *EventStore {
	return &EventStore{}
}

// Append validates and stores a new event
func (s *EventStore) Append(ctx context.Context, subjectID, objectID, action, message string, timestamp int64) (*interaction.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	event, err := interaction.NewEvent(subjectID, objectID, action, message, timestamp)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.events = append(s.events, event)
	s.mu.Unlock()

	stored := *event
	return &stored, nil
}

func (s *EventStore) QueryByActionAndRange(ctx context.Context, action string, rng *interaction.TimeRange) ([]*interaction.Event, error) {
	return s.query(ctx, func(e *interaction.Event) bool {
		return matchesAction(e, action) && rng.Contains(e.Timestamp)
	})
}

func (s *EventStore) QueryBySubject(ctx context.Context, subjectID, action string, rng *interaction.TimeRange) ([]*interaction.Event, error) {
	return s.query(ctx, func(e *interaction.Event) bool {
		return e.SubjectID == subjectID && matchesAction(e, action) && rng.Contains(e.Timestamp)
	})
}

func (s *EventStore) QueryByObject(ctx context.Context, objectID, action string, rng *interaction.TimeRange) ([]*interaction.Event, error) {
	return s.query(ctx, func(e *interaction.Event) bool {
		return e.ObjectID == objectID && matchesAction(e, action) && rng.Contains(e.Timestamp)
	})
}

func (s *EventStore) QueryBySubjectAndObject(ctx context.Context, subjectID, objectID, action string, rng *interaction.TimeRange) ([]*interaction.Event, error) {
	return s.query(ctx, func(e *interaction.Event) bool {
		return e.SubjectID == subjectID && e.ObjectID == objectID &&
			matchesAction(e, action) && rng.Contains(e.Timestamp)
	})
}

func (s *EventStore) QueryAll(ctx context.Context) ([]*interaction.Event, error) {
	return s.query(ctx, func(*interaction.Event) bool { return true })
}

// Len is the number of stored events
func (s *EventStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

// Ping always succeeds
func (s *EventStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Close is a no-op
func (s *EventStore) Close() {}

func (s *EventStore) query(ctx context.Context, keep func(*interaction.Event) bool) ([]*interaction.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*interaction.Event, 0)
	for _, e := range s.events {
		if keep(e) {
			c := *e
			out = append(out, &c)
		}
	}
	return out, nil
}

func matchesAction(e *interaction.Event, action string) bool {
	return action == "" || e.Action == action
}
