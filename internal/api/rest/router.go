package rest

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
)

// RouterConfig selects the optional parts of the router. Nil fields are
// disabled.
type RouterConfig struct {
	Logger      *slog.Logger
	RateLimiter *RateLimiter
	Contract    *ContractValidator
	Stream      *StreamHub
}

// NewRouter registers every route with its middleware chain
func NewRouter(handler *Handler, config RouterConfig) http.Handler {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tracer := otel.Tracer("api.rest")

	chain := func(route string, extra ...Middleware) *MiddlewareChain {
		middlewares := []Middleware{
			requestIDMiddleware,
			LoggingMiddleware(logger),
			MetricsMiddleware(route),
			TracingMiddleware(tracer),
			recoveryMiddleware(logger),
		}
		return NewMiddlewareChain(append(middlewares, extra...)...)
	}
	api := []Middleware{config.RateLimiter.Middleware, config.Contract.Middleware}

	mux := http.NewServeMux()

	mux.Handle("GET /api/v1/query", chain("/api/v1/query", api...).Then(http.HandlerFunc(handler.handleQuery)))
	mux.Handle("POST /api/v1/events", chain("/api/v1/events", api...).Then(http.HandlerFunc(handler.handleAppend)))
	mux.Handle("GET /health", chain("/health").Then(http.HandlerFunc(handler.handleHealth)))
	mux.Handle("GET /metrics", promhttp.Handler())

	// The upgrade needs the raw ResponseWriter, so the stream skips the
	// wrapping middlewares.
	if config.Stream != nil {
		stream := NewMiddlewareChain(requestIDMiddleware, recoveryMiddleware(logger), config.RateLimiter.Middleware)
		mux.Handle("GET /api/v1/events/stream", stream.Then(config.Stream))
	}

	return mux
}
