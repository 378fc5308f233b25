package database

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/davidleathers/interaction-analytics/internal/domain/interaction"
)

// Ensure EventRepository implements the interface
var _ interaction.Repository = (*EventRepository)(nil)

const eventColumns = `id, subject_id, object_id, action, message, ts`

// EventRepository is the PostgreSQL event store. Rows come back in append
// order; the engine never relies on any other ordering.
type EventRepository struct {
	pool *pgxpool.Pool
}

// NewEventRepository wraps an open pool
func NewEventRepository(pool *pgxpool.Pool) *EventRepository {
	return &EventRepository{pool: pool}
}

// eventFilter describes one store read. Empty strings are unconstrained.
type eventFilter struct {
	subjectID string
	objectID  string
	action    string
	rng       *interaction.TimeRange
}

func (f eventFilter) build() (string, []interface{}) {
	var conditions []string
	var args []interface{}
	argCount := 0

	add := func(clause string, value interface{}) {
		argCount++
		conditions = append(conditions, fmt.Sprintf(clause, argCount))
		args = append(args, value)
	}

	if f.subjectID != "" {
		add("subject_id = $%d", f.subjectID)
	}
	if f.objectID != "" {
		add("object_id = $%d", f.objectID)
	}
	if f.action != "" {
		add("action = $%d", f.action)
	}
	if f.rng != nil {
		add("ts >= $%d", f.rng.Start)
		add("ts <= $%d", f.rng.End)
	}

	query := `SELECT ` + eventColumns + ` FROM interaction_events`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY seq"

	return query, args
}

// Append inserts a validated event
func (r *EventRepository) Append(ctx context.Context, subjectID, objectID, action, message string, timestamp int64) (*interaction.Event, error) {
	event, err := interaction.NewEvent(subjectID, objectID, action, message, timestamp)
	if err != nil {
		return nil, err
	}

	query := `
		INSERT INTO interaction_events (` + eventColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err = r.pool.Exec(ctx, query,
		event.ID, event.SubjectID, event.ObjectID, event.Action, event.Message, event.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("failed to insert event: %w", err)
	}

	return event, nil
}

func (r *EventRepository) QueryByActionAndRange(ctx context.Context, action string, rng *interaction.TimeRange) ([]*interaction.Event, error) {
	return r.list(ctx, eventFilter{action: action, rng: rng})
}

func (r *EventRepository) QueryBySubject(ctx context.Context, subjectID, action string, rng *interaction.TimeRange) ([]*interaction.Event, error) {
	return r.list(ctx, eventFilter{subjectID: subjectID, action: action, rng: rng})
}

func (r *EventRepository) QueryByObject(ctx context.Context, objectID, action string, rng *interaction.TimeRange) ([]*interaction.Event, error) {
	return r.list(ctx, eventFilter{objectID: objectID, action: action, rng: rng})
}

func (r *EventRepository) QueryBySubjectAndObject(ctx context.Context, subjectID, objectID, action string, rng *interaction.TimeRange) ([]*interaction.Event, error) {
	return r.list(ctx, eventFilter{subjectID: subjectID, objectID: objectID, action: action, rng: rng})
}

func (r *EventRepository) QueryAll(ctx context.Context) ([]*interaction.Event, error) {
	return r.list(ctx, eventFilter{})
}

// Ping checks the pool can reach the database
func (r *EventRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// Close releases the pool
func (r *EventRepository) Close() {
	r.pool.Close()
}

func (r *EventRepository) list(ctx context.Context, filter eventFilter) ([]*interaction.Event, error) {
	query, args := filter.build()

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}

	events, err := pgx.CollectRows(rows, scanEvent)
	if err != nil {
		return nil, fmt.Errorf("failed to scan events: %w", err)
	}
	return events, nil
}

func scanEvent(row pgx.CollectableRow) (*interaction.Event, error) {
	var e interaction.Event
	if err := row.Scan(&e.ID, &e.SubjectID, &e.ObjectID, &e.Action, &e.Message, &e.Timestamp); err != nil {
		return nil, err
	}
	return &e, nil
}
