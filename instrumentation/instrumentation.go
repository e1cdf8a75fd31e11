package instrumentation

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// DefaultServiceVersion is used when no service version is provided.
const DefaultServiceVersion = "unknown"

// scopePrefix namespaces meter and tracer scopes.
const scopePrefix = "github.com/rivermead/fedauth/"

// Config holds instrumentation configuration.
type Config struct {
	// ServiceName identifies the embedding service (e.g. "fedauth").
	ServiceName string

	// ServiceVersion is the version of the embedding service.
	ServiceVersion string

	// Enabled controls whether instrumentation is active. When false the
	// no-op providers are used.
	Enabled bool

	// Resource allows custom resource attributes. If nil, a default
	// resource is built from the service name and version.
	Resource *resource.Resource
}

// Instrumentation owns the OpenTelemetry providers and the pre-built
// metric instruments for the library.
type Instrumentation struct {
	config   Config
	resource *resource.Resource

	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider

	metrics *Metrics

	shutdownFuncs []func(context.Context) error
	shutdownOnce  sync.Once
}

// New creates an instrumentation instance. With Enabled false the no-op
// providers are installed, so recording calls cost nothing.
func New(config Config) (*Instrumentation, error) {
	if config.ServiceName == "" {
		config.ServiceName = "fedauth"
	}
	if config.ServiceVersion == "" {
		config.ServiceVersion = DefaultServiceVersion
	}

	res := config.Resource
	if res == nil {
		var err error
		res, err = resource.New(
			context.Background(),
			resource.WithAttributes(
				semconv.ServiceName(config.ServiceName),
				semconv.ServiceVersion(config.ServiceVersion),
			),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create resource: %w", err)
		}
	}

	inst := &Instrumentation{
		config:         config,
		resource:       res,
		meterProvider:  noop.NewMeterProvider(),
		tracerProvider: tracenoop.NewTracerProvider(),
	}

	var err error
	inst.metrics, err = newMetrics(inst)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}

	return inst, nil
}

// SetMeterProvider installs a caller-supplied meter provider (e.g. the SDK
// provider wired to a Prometheus or OTLP exporter) and rebuilds the metric
// instruments on it. Call before handing the instance to components.
func (i *Instrumentation) SetMeterProvider(mp metric.MeterProvider, shutdown func(context.Context) error) error {
	if !i.config.Enabled {
		return nil
	}
	i.meterProvider = mp
	if shutdown != nil {
		i.shutdownFuncs = append(i.shutdownFuncs, shutdown)
	}
	m, err := newMetrics(i)
	if err != nil {
		return fmt.Errorf("failed to rebuild metrics: %w", err)
	}
	i.metrics = m
	return nil
}

// SetTracerProvider installs a caller-supplied tracer provider.
func (i *Instrumentation) SetTracerProvider(tp trace.TracerProvider, shutdown func(context.Context) error) {
	if !i.config.Enabled {
		return
	}
	i.tracerProvider = tp
	if shutdown != nil {
		i.shutdownFuncs = append(i.shutdownFuncs, shutdown)
	}
}

// Shutdown flushes and stops the registered providers. Safe to call more
// than once.
func (i *Instrumentation) Shutdown(ctx context.Context) error {
	var shutdownErr error
	i.shutdownOnce.Do(func() {
		for _, fn := range i.shutdownFuncs {
			if err := fn(ctx); err != nil && shutdownErr == nil {
				shutdownErr = err
			}
		}
	})
	return shutdownErr
}

// Meter returns a named meter for the given scope. Scopes are layer names
// like "endpoints", "flow", "security", "cache".
func (i *Instrumentation) Meter(scope string) metric.Meter {
	return i.meterProvider.Meter(scopePrefix + scope)
}

// Tracer returns a named tracer for the given scope.
func (i *Instrumentation) Tracer(scope string) trace.Tracer {
	return i.tracerProvider.Tracer(scopePrefix + scope)
}

// Metrics returns the instrument holder for recording metric values.
func (i *Instrumentation) Metrics() *Metrics {
	return i.metrics
}

// TracerProvider returns the underlying tracer provider.
func (i *Instrumentation) TracerProvider() trace.TracerProvider {
	return i.tracerProvider
}

// MeterProvider returns the underlying meter provider.
func (i *Instrumentation) MeterProvider() metric.MeterProvider {
	return i.meterProvider
}
