package apperrors

import (
	"context"
	"log/slog"
)

// Handler processes errors and panics surfaced while applying an update,
// for telemetry/alerting integration. Mirrors the River-inspired pattern
// of separating normal-error handling from panic handling.
type Handler interface {
	// HandleError is called when applying an update returns an error.
	// Return nil to follow normal retry policy.
	HandleError(ctx context.Context, jobID, itemID string, err error) *HandlerResult

	// HandlePanic is called when applying an update panics. Panics always
	// count as a permanent failure of the current attempt regardless of
	// the returned result; this is a hook for logging/telemetry only.
	HandlePanic(ctx context.Context, jobID, itemID string, panicVal any, stackTrace string) *HandlerResult
}

// HandlerResult controls behavior after an error or panic.
type HandlerResult struct {
	// ForceTerminal fails the item permanently, skipping further retries.
	ForceTerminal bool
}

// DefaultHandler logs errors and panics with structured logging.
type DefaultHandler struct{}

func (DefaultHandler) HandleError(ctx context.Context, jobID, itemID string, err error) *HandlerResult {
	slog.ErrorContext(ctx, "update processing failed",
		slog.String("job_id", jobID),
		slog.String("item_id", itemID),
		slog.String("error", err.Error()),
		slog.Bool("retryable", IsRetryable(err)),
	)
	return nil
}

func (DefaultHandler) HandlePanic(ctx context.Context, jobID, itemID string, panicVal any, stackTrace string) *HandlerResult {
	slog.ErrorContext(ctx, "update processing panicked",
		slog.String("job_id", jobID),
		slog.String("item_id", itemID),
		slog.Any("panic_value", panicVal),
		slog.String("stack_trace", stackTrace),
	)
	return nil
}
