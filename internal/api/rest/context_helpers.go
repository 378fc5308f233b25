package rest

import (
	"context"
)

type contextKey string

const contextKeyRequestID contextKey = "request_id"

// withRequestID stores the request id for handlers and the access log
func withRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, contextKeyRequestID, id)
}

// requestIDFromContext returns the id set by requestIDMiddleware, or ""
func requestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(contextKeyRequestID).(string)
	return id
}
