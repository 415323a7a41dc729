// Package tracing wires process-wide OpenTelemetry tracing, adapted from
// the reference stack's observability.InitOTel. The OTLP/HTTP exporter
// and gin instrumentation drop out here: this module has no HTTP surface
// to correlate spans with, so only the stdout exporter ships, toggled by
// OTEL_ENABLED the same way the teacher toggles its own.
package tracing

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.27.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/yungbote/taskforge/internal/platform/envutil"
	"github.com/yungbote/taskforge/internal/platform/logger"
)

// Config names the service emitting spans.
type Config struct {
	ServiceName string
	Environment string
}

var (
	initOnce sync.Once
	shutdown func(context.Context) error
)

// Init installs the global TracerProvider. Calling Init more than once is
// a no-op; the first call wins, matching the teacher's sync.Once guard.
func Init(ctx context.Context, log *logger.Logger, cfg Config) func(context.Context) error {
	initOnce.Do(func() {
		if !enabled(log) {
			shutdown = func(context.Context) error { return nil }
			return
		}
		name := strings.TrimSpace(cfg.ServiceName)
		if name == "" {
			name = "jobqueue"
		}
		res, err := resource.New(ctx,
			resource.WithAttributes(
				semconv.ServiceNameKey.String(name),
				attribute.String("deployment.environment", strings.TrimSpace(cfg.Environment)),
			),
		)
		if err != nil {
			log.Warn("otel resource init failed (continuing)", "error", err)
		}

		exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			log.Warn("otel exporter init failed (continuing)", "error", err)
			shutdown = func(context.Context) error { return nil }
			return
		}

		ratio := sampleRatio(log)
		tp := sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exp, sdktrace.WithBatchTimeout(5*time.Second)),
			sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))),
			sdktrace.WithResource(res),
		)
		otel.SetTracerProvider(tp)
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{}, propagation.Baggage{},
		))
		shutdown = tp.Shutdown
		log.Info("otel tracing initialized", "service", name, "sample_ratio", ratio)
	})
	return shutdown
}

func enabled(log *logger.Logger) bool {
	v := strings.ToLower(envutil.GetEnv("OTEL_ENABLED", "", log))
	return v == "1" || v == "true" || v == "yes" || v == "on"
}

func sampleRatio(log *logger.Logger) float64 {
	v := envutil.GetEnv("OTEL_SAMPLER_RATIO", "1", log)
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 1
	}
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

// Tracer returns the job-queue tracer; safe to call before/without Init
// (returns a no-op tracer from the global no-op provider in that case).
func Tracer() trace.Tracer {
	return otel.Tracer("github.com/yungbote/taskforge/internal/jobqueue/queue")
}
