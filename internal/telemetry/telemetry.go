package telemetry

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/mohammad-safakhou/askdoc/config"
)

// Collectors register against the default registry, which the server
// exposes on /metrics via promhttp.
var (
	RunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "askdoc_runs_total",
		Help: "QA runs processed, by outcome.",
	}, []string{"outcome"})

	QuestionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "askdoc_questions_total",
		Help: "Questions processed, by outcome.",
	}, []string{"outcome"})

	ToolInvocations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "askdoc_tool_invocations_total",
		Help: "Agent tool invocations, by tool name.",
	}, []string{"tool"})

	ToolFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "askdoc_tool_failures_total",
		Help: "Agent tool invocations that degraded to an error observation.",
	}, []string{"tool"})

	IngestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "askdoc_ingest_duration_seconds",
		Help:    "Time spent downloading, chunking and indexing a document.",
		Buckets: prometheus.DefBuckets,
	})

	AnswerDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "askdoc_answer_duration_seconds",
		Help:    "Time spent answering a single question.",
		Buckets: prometheus.DefBuckets,
	})

	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "askdoc_cache_hits_total",
		Help: "Answers served from the Redis cache.",
	})
)

// Setup installs a tracer provider exporting spans to the configured
// OTLP endpoint. When tracing is disabled the global no-op provider
// stays in place and the returned shutdown does nothing.
func Setup(ctx context.Context, cfg config.TelemetryConfig) (func(context.Context) error, error) {
	if !cfg.Enabled {
		return func(context.Context) error { return nil }, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName("askdoc"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("resource init: %w", err)
	}

	endpoint := cfg.OTLPEndpoint
	if endpoint == "" {
		endpoint = "localhost:4317"
	}
	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("otlp init: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

// Tracer returns the process tracer. Spans record only after Setup has
// installed a provider; until then they are no-ops.
func Tracer() trace.Tracer {
	return otel.Tracer("askdoc")
}
