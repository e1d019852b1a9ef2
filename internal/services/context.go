package services

import "context"

type contextKey string

const (
	runIDKey     contextKey = "run_id"
	workerKey    contextKey = "worker"
	requestIDKey contextKey = "request_id"
)

// WithRunID annotates context with the evaluation run identifier.
func WithRunID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, runIDKey, id)
}

// RunIDFromContext extracts the run identifier if present.
func RunIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(runIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithWorker annotates context with the 1-based queue worker number.
func WithWorker(ctx context.Context, worker int) context.Context {
	if worker <= 0 {
		return ctx
	}
	return context.WithValue(ctx, workerKey, worker)
}

// WorkerFromContext returns the worker number if present.
func WorkerFromContext(ctx context.Context) (int, bool) {
	v, ok := ctx.Value(workerKey).(int)
	if !ok || v <= 0 {
		return 0, false
	}
	return v, true
}

// WithRequestID annotates context with a correlation identifier.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext extracts the correlation identifier if present.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(requestIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}
