package rest

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/davidleathers/interaction-analytics/internal/domain/errors"
	"github.com/davidleathers/interaction-analytics/internal/service/analytics"
	"github.com/davidleathers/interaction-analytics/internal/service/ingest"
)

const maxBodyBytes = 1 << 20

// HealthChecker reports whether the event store is reachable
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// Services holds everything the handlers call into
type Services struct {
	Analytics analytics.Service
	Ingest    ingest.Service
	Health    HealthChecker
}

// Handler serves the query, append and health endpoints
type Handler struct {
	Services *Services
}

func NewHandler(services *Services) *Handler {
	return &Handler{Services: services}
}

// ErrorResponse is the body of every non-2xx response
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

type ErrorBody struct {
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
	TraceID   string                 `json:"trace_id,omitempty"`
	Retryable bool                   `json:"retryable,omitempty"`
}

// HealthResponse is the body of GET /health
type HealthResponse struct {
	Status    string    `json:"status"`
	Store     string    `json:"store"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// handleQuery runs the analytics engine over the query string
func (h *Handler) handleQuery(w http.ResponseWriter, r *http.Request) {
	result, err := h.Services.Analytics.RunQuery(r.Context(), r.URL.Query())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleAppend stores one event
func (h *Handler) handleAppend(w http.ResponseWriter, r *http.Request) {
	var req ingest.AppendRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, r, errors.NewValidationError("INVALID_JSON", "request body is not a valid event").WithCause(err))
		return
	}

	event, err := h.Services.Ingest.Append(r.Context(), &req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, event)
}

// handleHealth pings the store
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "healthy", Store: "up", Timestamp: time.Now().UTC()}
	status := http.StatusOK

	if h.Services.Health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.Services.Health.Ping(ctx); err != nil {
			resp.Status = "unhealthy"
			resp.Store = "down"
			resp.Error = err.Error()
			status = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, status, resp)
}

// writeError maps err to its status code and the error envelope
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	body := ErrorBody{
		Code:      "INTERNAL_ERROR",
		Message:   "an internal error occurred",
		RequestID: requestIDFromContext(r.Context()),
		Retryable: errors.IsRetryable(err),
	}

	var appErr *errors.AppError
	if stderrors.As(err, &appErr) {
		body.Code = appErr.Code
		body.Message = appErr.Message
		body.Details = appErr.Details
	}
	if sc := trace.SpanFromContext(r.Context()).SpanContext(); sc.IsValid() {
		body.TraceID = sc.TraceID().String()
	}

	writeJSON(w, errors.GetStatusCode(err), ErrorResponse{Error: body})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
