package engine

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/gleitzeit/gleitzeit/pkg/task"
)

// instrumentationName identifies this package's spans to a configured
// OTel SDK/exporter.
const instrumentationName = "github.com/gleitzeit/gleitzeit/pkg/engine"

// taskSpan wraps an OTel span with the attribute/status helpers dispatch
// needs, nil-receiver-safe so callers never have to branch on whether
// tracing is configured.
type taskSpan struct {
	span trace.Span
}

// startWorkflowRun opens a root span for a workflow's execution.
func (e *Engine) startWorkflowRun(ctx context.Context, workflowID, name string) (context.Context, *taskSpan) {
	ctx, span := e.tracer.Start(ctx, fmt.Sprintf("workflow.run: %s", name),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("workflow.id", workflowID),
			attribute.String("workflow.name", name),
		),
	)
	return ctx, &taskSpan{span: span}
}

// startTaskDispatch opens a span for one task's dispatch-through-completion.
func (e *Engine) startTaskDispatch(ctx context.Context, t *task.Task) (context.Context, *taskSpan) {
	ctx, span := e.tracer.Start(ctx, fmt.Sprintf("task.dispatch: %s", t.Name),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("task.id", t.ID),
			attribute.String("task.name", t.Name),
			attribute.String("workflow.id", t.WorkflowID),
			attribute.String("protocol.id", t.Protocol),
			attribute.String("protocol.method", t.Method),
		),
	)
	return ctx, &taskSpan{span: span}
}

// setAttempt records the provider instance and attempt count chosen for
// this dispatch, once known (selection happens after the span opens).
func (s *taskSpan) setAttempt(providerID string, attempt int) {
	if s == nil || s.span == nil {
		return
	}
	s.span.SetAttributes(
		attribute.String("provider.id", providerID),
		attribute.Int("attempt", attempt),
	)
}

// end records the dispatch outcome and closes the span.
func (s *taskSpan) end(err error) {
	if s == nil || s.span == nil {
		return
	}
	if err != nil {
		s.span.RecordError(err)
		s.span.SetStatus(codes.Error, err.Error())
	} else {
		s.span.SetStatus(codes.Ok, "")
	}
	s.span.End()
}

// defaultTracer returns the tracer backing cfg.Tracer, falling back to the
// global OTel tracer provider (a safe no-op unless the host process has
// configured a real SDK/exporter via go.opentelemetry.io/otel/sdk).
func defaultTracer(cfg Config) trace.Tracer {
	if cfg.Tracer != nil {
		return cfg.Tracer
	}
	return otel.Tracer(instrumentationName)
}
