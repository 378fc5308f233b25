package ingest

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/davidleathers/interaction-analytics/internal/domain/errors"
	"github.com/davidleathers/interaction-analytics/internal/domain/interaction"
	"github.com/davidleathers/interaction-analytics/internal/metrics"
)

// Ensure service implements the interface
var _ Service = (*service)(nil)

// Service is the append path
type Service interface {
	Append(ctx context.Context, req *AppendRequest) (*interaction.Event, error)
}

// Publisher receives every event after it is stored
type Publisher interface {
	Name() string
	Publish(ctx context.Context, event *interaction.Event) error
}

// CacheInvalidator drops cached query results that an append may have changed
type CacheInvalidator interface {
	Invalidate(ctx context.Context) error
}

// AppendRequest is the body of an append. Timestamp defaults to now.
type AppendRequest struct {
	SubjectID string `json:"subjectId" validate:"max=256"`
	ObjectID  string `json:"objectId" validate:"max=256"`
	Action    string `json:"action" validate:"required,max=128"`
	Message   string `json:"message" validate:"max=65536"`
	Timestamp *int64 `json:"timestamp,omitempty" validate:"omitempty,min=0"`
}

type service struct {
	logger      *zap.Logger
	writer      interaction.Writer
	invalidator CacheInvalidator
	publishers  []Publisher
	metrics     *metrics.Registry
	validate    *validator.Validate
	tracer      trace.Tracer
	now         func() time.Time
}

// NewService creates the append service. invalidator, publishers and registry
// are optional.
func NewService(
	logger *zap.Logger,
	writer interaction.Writer,
	invalidator CacheInvalidator,
	publishers []Publisher,
	registry *metrics.Registry,
) (Service, error) {
	if logger == nil {
		return nil, errors.NewValidationError("INVALID_LOGGER", "logger cannot be nil")
	}
	if writer == nil {
		return nil, errors.NewValidationError("INVALID_EVENT_WRITER", "event writer cannot be nil")
	}

	return &service{
		logger:      logger,
		writer:      writer,
		invalidator: invalidator,
		publishers:  publishers,
		metrics:     registry,
		validate:    validator.New(),
		tracer:      otel.Tracer("ingest.service"),
		now:         time.Now,
	}, nil
}

// Append stores the event, then invalidates cached results and notifies the
// publishers. Only the store write can fail the call; downstream failures are
// logged and counted.
func (s *service) Append(ctx context.Context, req *AppendRequest) (*interaction.Event, error) {
	if req == nil {
		return nil, errors.NewValidationError("INVALID_REQUEST", "request cannot be nil")
	}

	ctx, span := s.tracer.Start(ctx, "Service.Append",
		trace.WithAttributes(attribute.String("event.action", req.Action)),
	)
	defer span.End()

	if err := s.validate.Struct(req); err != nil {
		s.recordAppend(ctx, req.Action, false)
		return nil, errors.NewValidationError("INVALID_REQUEST", "invalid append request").
			WithCause(err).
			WithDetails(fieldErrors(err))
	}

	timestamp := s.now().UnixMilli()
	if req.Timestamp != nil {
		timestamp = *req.Timestamp
	}

	event, err := s.writer.Append(ctx, req.SubjectID, req.ObjectID, req.Action, req.Message, timestamp)
	if err != nil {
		span.RecordError(err)
		s.recordAppend(ctx, req.Action, false)
		if errors.IsType(err, errors.ErrorTypeValidation) {
			return nil, err
		}
		return nil, errors.NewExternalError("event_store", "failed to append event").WithCause(err)
	}
	s.recordAppend(ctx, req.Action, true)
	span.SetAttributes(attribute.String("event.id", event.ID.String()))

	if s.invalidator != nil {
		if err := s.invalidator.Invalidate(ctx); err != nil {
			s.logger.Warn("Failed to invalidate result cache", zap.Error(err))
		}
	}

	for _, p := range s.publishers {
		if err := p.Publish(ctx, event); err != nil {
			s.logger.Warn("Failed to publish event",
				zap.String("publisher", p.Name()),
				zap.String("event_id", event.ID.String()),
				zap.Error(err))
			if s.metrics != nil {
				s.metrics.RecordPublishFailure(ctx, p.Name())
			}
		}
	}

	return event, nil
}

func (s *service) recordAppend(ctx context.Context, action string, success bool) {
	if s.metrics != nil {
		s.metrics.RecordAppend(ctx, action, success)
	}
}

func fieldErrors(err error) map[string]interface{} {
	details := map[string]interface{}{}
	if verrs, ok := err.(validator.ValidationErrors); ok {
		for _, fe := range verrs {
			details[fe.Field()] = fe.Tag()
		}
	}
	return details
}
