package actor

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/zjrosen/deepfocus/internal/log"
)

// Middleware wraps a Handler to add additional behavior.
type Middleware func(Handler) Handler

// ChainMiddleware applies middlewares to a handler in reverse order.
// The first middleware in the list will be the outermost wrapper.
// For example: ChainMiddleware(handler, logging, recover, timeout)
// Results in: logging(recover(timeout(handler)))
func ChainMiddleware(handler Handler, middlewares ...Middleware) Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		handler = middlewares[i](handler)
	}
	return handler
}

func sourceOf(cmd Command) string {
	if hasSource, ok := cmd.(interface{ Source() Source }); ok {
		return string(hasSource.Source())
	}
	return ""
}

func traceIDOf(cmd Command) string {
	if hasTraceID, ok := cmd.(interface{ TraceID() string }); ok {
		return hasTraceID.TraceID()
	}
	return ""
}

// NewLoggingMiddleware creates a middleware that logs command execution.
func NewLoggingMiddleware() Middleware {
	return func(next Handler) Handler {
		return HandlerFunc(func(ctx context.Context, cmd Command) (*Result, error) {
			start := time.Now()
			result, err := next.Handle(ctx, cmd)
			duration := time.Since(start)

			switch {
			case err != nil:
				log.Error(log.CatActor, "command failed",
					"command_id", cmd.ID(),
					"command_type", cmd.Type().String(),
					"trace_id", traceIDOf(cmd),
					"duration", duration,
					"source", sourceOf(cmd),
					"error", err.Error(),
				)
			case result != nil && !result.Success:
				errMsg := ""
				if result.Error != nil {
					errMsg = result.Error.Error()
				}
				log.Info(log.CatActor, "command rejected",
					"command_id", cmd.ID(),
					"command_type", cmd.Type().String(),
					"duration", duration,
					"source", sourceOf(cmd),
					"error", errMsg,
				)
			default:
				log.Debug(log.CatActor, "command completed",
					"command_id", cmd.ID(),
					"command_type", cmd.Type().String(),
					"duration", duration,
					"source", sourceOf(cmd),
				)
			}

			return result, err
		})
	}
}

// NewRecoverMiddleware converts a handler panic into a failed Result so a
// bug in one transition never takes the processing loop down.
func NewRecoverMiddleware() Middleware {
	return func(next Handler) Handler {
		return HandlerFunc(func(ctx context.Context, cmd Command) (result *Result, err error) {
			defer func() {
				if r := recover(); r != nil {
					log.Error(log.CatActor, "handler panicked",
						"command_id", cmd.ID(),
						"command_type", cmd.Type().String(),
						"panic", r,
						"stack", string(debug.Stack()),
					)
					result, err = nil, fmt.Errorf("handler panic in %s: %v", cmd.Type(), r)
				}
			}()
			return next.Handle(ctx, cmd)
		})
	}
}

// DefaultTimeoutWarningThreshold is the default threshold for logging slow handler warnings.
const DefaultTimeoutWarningThreshold = 250 * time.Millisecond

// NewTimeoutMiddleware creates a middleware that logs warnings when handlers
// exceed threshold. It never aborts a handler; a half-applied transition is
// worse than a slow one.
func NewTimeoutMiddleware(threshold time.Duration) Middleware {
	if threshold == 0 {
		threshold = DefaultTimeoutWarningThreshold
	}

	return func(next Handler) Handler {
		return HandlerFunc(func(ctx context.Context, cmd Command) (*Result, error) {
			start := time.Now()
			result, err := next.Handle(ctx, cmd)

			if duration := time.Since(start); duration > threshold {
				log.Warn(log.CatActor, "handler exceeded time threshold",
					"command_id", cmd.ID(),
					"command_type", cmd.Type().String(),
					"trace_id", traceIDOf(cmd),
					"duration", duration,
					"threshold", threshold,
				)
			}

			return result, err
		})
	}
}
