// Package telemetry wires distributed tracing across the webhook ->
// enqueue -> runner-spawn path.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "pushbot"

// Span attribute keys.
const (
	AttrService      = "service.name"
	AttrDeploymentID = "deployment.id"
	AttrTriggeredBy  = "deployment.triggered_by"
	AttrStatus       = "deployment.status"
)

// Span names.
const (
	SpanWebhookReceive  = "pushbot.webhook.receive"
	SpanEnqueue         = "pushbot.scheduler.enqueue"
	SpanRunnerSpawn     = "pushbot.runner.spawn"
)

// Setup installs a TracerProvider on the global otel registry. With no
// exporter configured, spans are created and propagated but dropped at
// export time (sdktrace.NewTracerProvider defaults to a no-op
// SpanProcessor set). Call Shutdown on process exit.
func Setup() *sdktrace.TracerProvider {
	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)
	return tp
}

func Shutdown(ctx context.Context, tp *sdktrace.TracerProvider) error {
	return tp.Shutdown(ctx)
}

func tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartWebhookSpan opens the root span for an inbound webhook request.
func StartWebhookSpan(ctx context.Context) (context.Context, trace.Span) {
	return tracer().Start(ctx, SpanWebhookReceive)
}

// StartEnqueueSpan opens a child span covering the enqueue decision.
func StartEnqueueSpan(ctx context.Context, service string) (context.Context, trace.Span) {
	return tracer().Start(ctx, SpanEnqueue, trace.WithAttributes(
		attribute.String(AttrService, service),
	))
}

// StartRunnerSpan opens a span covering one Runner's lifetime, as a child
// of whatever span ctx carries (the scheduler passes a fresh context, so
// there it is a root span).
func StartRunnerSpan(ctx context.Context, service string, deploymentID int64, triggeredBy string) (context.Context, trace.Span) {
	return tracer().Start(ctx, SpanRunnerSpawn, trace.WithAttributes(
		attribute.String(AttrService, service),
		attribute.Int64(AttrDeploymentID, deploymentID),
		attribute.String(AttrTriggeredBy, triggeredBy),
	))
}

// EndWithStatus closes a span, marking it ok or error depending on err.
func EndWithStatus(span trace.Span, err error) {
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
