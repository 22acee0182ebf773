package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/zjrosen/deepfocus/internal/actor"
)

// NewMiddleware creates actor middleware that wraps each command in a span
// named command.process.<type>. A nil tracer yields a pass-through.
func NewMiddleware(tracer trace.Tracer) actor.Middleware {
	if tracer == nil {
		return func(next actor.Handler) actor.Handler {
			return next
		}
	}

	return func(next actor.Handler) actor.Handler {
		return actor.HandlerFunc(func(ctx context.Context, cmd actor.Command) (*actor.Result, error) {
			ctx = restoreSpanContext(ctx, cmd)

			ctx, span := tracer.Start(ctx, SpanPrefixCommand+cmd.Type().String(),
				trace.WithSpanKind(trace.SpanKindInternal),
			)
			defer span.End()

			span.SetAttributes(
				attribute.String(AttrCommandID, cmd.ID()),
				attribute.String(AttrCommandType, cmd.Type().String()),
			)
			if hasSource, ok := cmd.(interface{ Source() actor.Source }); ok {
				span.SetAttributes(attribute.String(AttrCommandSource, string(hasSource.Source())))
			}

			result, err := next.Handle(ctx, cmd)

			switch {
			case err != nil:
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			case result != nil && !result.Success:
				if result.Error != nil {
					span.RecordError(result.Error)
					span.SetStatus(codes.Error, result.Error.Error())
				} else {
					span.SetStatus(codes.Error, "command failed without error details")
				}
			default:
				span.SetStatus(codes.Ok, "")
			}

			return result, err
		})
	}
}

// restoreSpanContext makes spans for a command children of the span that
// submitted it.
func restoreSpanContext(ctx context.Context, cmd actor.Command) context.Context {
	if hasSpanContext, ok := cmd.(interface{ SpanContext() trace.SpanContext }); ok {
		if sc := hasSpanContext.SpanContext(); sc.IsValid() {
			return trace.ContextWithRemoteSpanContext(ctx, sc)
		}
	}
	return ctx
}

// StartEnforcementSpan starts a span around an adapter call. The returned
// end function records err (if any) and closes the span.
func StartEnforcementSpan(ctx context.Context, tracer trace.Tracer, op string, sessionID string) (context.Context, func(err error)) {
	if tracer == nil {
		return ctx, func(error) {}
	}
	ctx, span := tracer.Start(ctx, SpanPrefixEnforcement+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String(AttrEnforcementOp, op),
			attribute.String(AttrSessionID, sessionID),
		),
	)
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}
}
