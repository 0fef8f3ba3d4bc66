package observability

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/signalsfoundry/rumor-routing-sim/core"
	"github.com/signalsfoundry/rumor-routing-sim/internal/logging"
)

// Span exporters understood by InitTracing.
const (
	ExporterNone   = "none"
	ExporterStdout = "stdout"
	ExporterOTLP   = "otlp"
)

const (
	tracingServiceName = "rumorsim"
	defaultOTLPAddr    = "localhost:4317"
	tracingFlushBudget = 5 * time.Second
)

// TracingConfig selects where field.tick and pacer.run spans go.
type TracingConfig struct {
	// Exporter is none, stdout or otlp. Empty means none.
	Exporter string `yaml:"exporter"`
	// Endpoint is the OTLP collector address.
	Endpoint string `yaml:"endpoint"`
	// SampleRatio is the share of ticks traced, in [0, 1].
	SampleRatio float64 `yaml:"sample_ratio"`
	// Output receives stdout spans; defaults to os.Stderr so that stdout
	// keeps only the run summary.
	Output io.Writer `yaml:"-"`
}

func (c TracingConfig) exporter() string {
	if c.Exporter == "" {
		return ExporterNone
	}
	return strings.ToLower(c.Exporter)
}

// Validate rejects unknown exporters and out-of-range ratios.
func (c TracingConfig) Validate() error {
	switch c.exporter() {
	case ExporterNone, ExporterStdout, ExporterOTLP:
	default:
		return fmt.Errorf("%w: unknown tracing exporter %q", core.ErrInvalidConfig, c.Exporter)
	}
	if c.SampleRatio < 0 || c.SampleRatio > 1 {
		return fmt.Errorf("%w: tracing sample ratio %v outside [0, 1]", core.ErrInvalidConfig, c.SampleRatio)
	}
	return nil
}

// InitTracing installs the global tracer provider for one run. Spans carry
// the run id as a resource attribute. The returned stop function flushes
// pending spans within a bounded time and never fails the caller.
func InitTracing(ctx context.Context, cfg TracingConfig, runID string, log logging.Logger) (stop func(), err error) {
	log = logging.OrNoop(log)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.exporter() == ExporterNone {
		otel.SetTracerProvider(noop.NewTracerProvider())
		return func() {}, nil
	}

	exp, err := newSpanExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create %s exporter: %w", cfg.exporter(), err)
	}
	res := resource.NewSchemaless(
		attribute.String("service.name", tracingServiceName),
		attribute.String("sim.run_id", runID),
	)

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
	}
	if cfg.exporter() == ExporterStdout {
		opts = append(opts, sdktrace.WithSyncer(exp))
	} else {
		opts = append(opts, sdktrace.WithBatcher(exp))
	}
	tp := sdktrace.NewTracerProvider(opts...)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	log.Info(ctx, "tracing enabled",
		logging.String("exporter", cfg.exporter()),
		logging.Any("sample_ratio", cfg.SampleRatio),
	)

	return func() {
		flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), tracingFlushBudget)
		defer cancel()
		if err := tp.Shutdown(flushCtx); err != nil {
			log.Warn(flushCtx, "tracing shutdown failed", logging.Err(err))
		}
	}, nil
}

func newSpanExporter(ctx context.Context, cfg TracingConfig) (sdktrace.SpanExporter, error) {
	if cfg.exporter() == ExporterStdout {
		out := cfg.Output
		if out == nil {
			out = os.Stderr
		}
		return stdouttrace.New(stdouttrace.WithWriter(out), stdouttrace.WithoutTimestamps())
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = defaultOTLPAddr
	}
	return otlptrace.New(ctx, otlptracegrpc.NewClient(
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	))
}
