package tracer

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/go-logr/stdr"
	"go.opentelemetry.io/contrib/propagators/aws/xray"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"
)

const tracerName = "genai"

type TracerArgs struct {
	OtlpEndpoint string `arg:"--otlp-endpoint,env:OTLP_ENDPOINT" default:"" help:"otlp grpc endpoint, tracing is disabled when empty"`
}

type Span struct {
	c    context.Context
	span oteltrace.Span
}

func (s Span) Context() context.Context {
	return s.c
}

func (s Span) TraceID() string {
	return s.span.SpanContext().TraceID().String()
}

func (s Span) End() {
	s.span.End()
}

func (s Span) SetStringAttribute(attrName string, val string) {
	s.span.SetAttributes(attribute.String(attrName, val))
}

// RecordError marks the span as failed.
func (s Span) RecordError(err error) {
	s.span.RecordError(err)
	s.span.SetStatus(codes.Error, err.Error())
}

func StartSpan(ctx context.Context, name string) Span {
	tracer := otel.Tracer(tracerName)
	cCtx, span := tracer.Start(ctx, name)
	return Span{
		c:    cCtx,
		span: span,
	}
}

// InitProvider installs a global tracer provider exporting to the otlp collector at endpoint. The
// returned function flushes pending spans and must be called before the process exits.
func InitProvider(ctx context.Context, endpoint string) (func(context.Context) error, error) {
	traceExporter, err := otlptracegrpc.New(
		ctx, otlptracegrpc.WithInsecure(), otlptracegrpc.WithEndpoint(endpoint))
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter, err: %v", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.AlwaysSample())),
		// A provisioning run produces a handful of spans, export them as they end.
		sdktrace.WithSyncer(traceExporter),
		sdktrace.WithIDGenerator(xray.NewIDGenerator()))

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(xray.Propagator{})

	// surfaces exporter failures, which are otherwise swallowed by the sdk
	otel.SetLogger(stdr.New(log.New(os.Stderr, "", log.LstdFlags|log.Lshortfile)))

	return tp.Shutdown, nil
}
