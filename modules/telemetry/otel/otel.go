// Package otel implements the telemetry.otel module. It installs an
// OTLP/HTTP trace exporter as the global tracer provider, so the provider
// adapter spans leave the process, and publishes the Prometheus metrics
// shared by the other modules.
package otel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/flemzord/rolegate/internal/core"
	"github.com/flemzord/rolegate/internal/telemetry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"gopkg.in/yaml.v3"
)

func init() {
	core.RegisterModule(&Module{})
}

var (
	_ core.Configurable = (*Module)(nil)
	_ core.Provisioner  = (*Module)(nil)
	_ core.Validator    = (*Module)(nil)
	_ core.Stopper      = (*Module)(nil)
)

// Config configures trace export.
type Config struct {
	// Endpoint is the collector host:port. Empty uses the exporter's
	// environment defaults (OTEL_EXPORTER_OTLP_ENDPOINT).
	Endpoint    string            `yaml:"endpoint"`
	URLPath     string            `yaml:"url_path"`
	Insecure    bool              `yaml:"insecure"`
	Headers     map[string]string `yaml:"headers"`
	ServiceName string            `yaml:"service_name"`
	// SampleRatio is the fraction of root traces kept. Defaults to 1.
	SampleRatio *float64 `yaml:"sample_ratio"`
}

func (c *Config) ratio() float64 {
	if c.SampleRatio == nil {
		return 1
	}
	return *c.SampleRatio
}

// Module owns the tracer provider.
type Module struct {
	config   Config
	logger   *slog.Logger
	provider *sdktrace.TracerProvider
}

// ModuleInfo implements core.Module.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "telemetry.otel",
		New: func() core.Module { return &Module{} },
	}
}

// Configure implements core.Configurable.
func (m *Module) Configure(node *yaml.Node) error {
	return node.Decode(&m.config)
}

// Provision implements core.Provisioner.
func (m *Module) Provision(ctx *core.AppContext) error {
	m.logger = ctx.Logger
	if m.config.ServiceName == "" {
		m.config.ServiceName = "rolegate"
	}

	var opts []otlptracehttp.Option
	if m.config.Endpoint != "" {
		opts = append(opts, otlptracehttp.WithEndpoint(m.config.Endpoint))
	}
	if m.config.URLPath != "" {
		opts = append(opts, otlptracehttp.WithURLPath(m.config.URLPath))
	}
	if m.config.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	if len(m.config.Headers) > 0 {
		opts = append(opts, otlptracehttp.WithHeaders(m.config.Headers))
	}
	exporter, err := otlptracehttp.New(context.Background(), opts...)
	if err != nil {
		return fmt.Errorf("telemetry.otel: create exporter: %w", err)
	}

	m.provider = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewSchemaless(attribute.String("service.name", m.config.ServiceName))),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(m.config.ratio()))),
	)
	otel.SetTracerProvider(m.provider)

	if _, err := core.Service[*telemetry.Metrics](ctx, "telemetry.metrics"); err != nil {
		ctx.RegisterService("telemetry.metrics", telemetry.NewMetrics())
	}
	m.logger.Info("trace export enabled", "endpoint", m.config.Endpoint, "sample_ratio", m.config.ratio())
	return nil
}

// Validate implements core.Validator.
func (m *Module) Validate() error {
	if r := m.config.ratio(); r < 0 || r > 1 {
		return errors.New("telemetry.otel: sample_ratio must be within [0, 1]")
	}
	return nil
}

// Stop implements core.Stopper. Buffered spans are flushed until ctx ends.
func (m *Module) Stop(ctx context.Context) error {
	if m.provider == nil {
		return nil
	}
	return m.provider.Shutdown(ctx)
}

// TracerProvider returns the provider installed during Provision.
func (m *Module) TracerProvider() *sdktrace.TracerProvider { return m.provider }
