// Package traces provides OpenTelemetry tracing for the settlement engine.
package traces

import (
	"context"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "settlement-engine"

// Init installs the global tracer provider.
// If endpoint is empty, tracing stays a no-op.
// Returns a shutdown function that should be called on server stop.
func Init(ctx context.Context, endpoint, version string, log zerolog.Logger) (func(context.Context) error, error) {
	if endpoint == "" {
		log.Info().Msg("tracing disabled (no tracing.endpoint set)")
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName("settlement-engine"),
			semconv.ServiceVersion(version),
		),
	)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	log.Info().Str("endpoint", endpoint).Msg("tracing enabled")
	return tp.Shutdown, nil
}

// StartSpan starts a span with the given name and attributes.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, name)
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	return ctx, span
}

// End records err on the span, if any, and ends it.
func End(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func EscrowID(id string) attribute.KeyValue {
	return attribute.String("escrow.id", id)
}

func TransactionID(id string) attribute.KeyValue {
	return attribute.String("escrow.transaction_id", id)
}

func ItemID(id string) attribute.KeyValue {
	return attribute.String("queue.item_id", id)
}

func Priority(p string) attribute.KeyValue {
	return attribute.String("queue.priority", p)
}

func Attempt(n int) attribute.KeyValue {
	return attribute.Int("queue.attempt", n)
}

func ProviderRef(ref string) attribute.KeyValue {
	return attribute.String("fiat.provider_ref", ref)
}

func Asset(chain, token string) attribute.KeyValue {
	return attribute.String("asset", chain+":"+token)
}
