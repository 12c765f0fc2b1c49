package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "harnessforge"

// StartSessionSpan starts a span covering one session.
func StartSessionSpan(ctx context.Context, sessionID, project, function string, iteration int) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "session",
		trace.WithAttributes(
			attribute.String("session.id", sessionID),
			attribute.String("project.name", project),
			attribute.String("target.function", function),
			attribute.Int("session.iteration", iteration),
		),
	)
}

// StartStageSpan starts a span for one state machine stage.
func StartStageSpan(ctx context.Context, stage string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "stage."+stage,
		trace.WithAttributes(attribute.String("session.stage", stage)),
	)
}

// StartToolCallSpan starts a span for a retrieval tool call within a session.
func StartToolCallSpan(ctx context.Context, callID, tool string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "toolcall",
		trace.WithAttributes(
			attribute.String("toolcall.id", callID),
			attribute.String("toolcall.tool", tool),
		),
	)
}
