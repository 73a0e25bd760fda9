package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/tenantauth/internal/observability/logger"
	"github.com/smallbiznis/tenantauth/internal/observability/metrics"
	"github.com/smallbiznis/tenantauth/internal/observability/tracing"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
)

// Module provides the request logger, the login tracer and the auth
// counters. The tracer is forced so the global provider is set before the
// first request.
var Module = fx.Module("observability",
	fx.Provide(
		LoadConfig,
		func(cfg Config) logger.Config { return cfg.logger() },
		logger.New,
		func(cfg Config) tracing.Config { return cfg.tracing() },
		tracing.NewProvider,
		func() prometheus.Registerer { return prometheus.DefaultRegisterer },
		metrics.NewAuthMetrics,
		metrics.NewHTTPMetrics,
	),
	fx.Invoke(func(trace.TracerProvider) {}),
)

func (c Config) logger() logger.Config {
	return logger.Config{
		ServiceName:         c.ServiceName,
		Environment:         c.Environment,
		Version:             c.Version,
		Level:               c.Telemetry.LogLevel,
		Format:              c.Telemetry.LogFormat,
		IncludeCaller:       true,
		IncludeStackOnError: c.Debug(),
	}
}

func (c Config) tracing() tracing.Config {
	return tracing.Config{
		Enabled:          c.Telemetry.TracingEnabled,
		ServiceName:      c.ServiceName,
		ServiceVersion:   c.Version,
		Environment:      c.Environment,
		ExporterEndpoint: c.Telemetry.TraceEndpoint,
		ExporterProtocol: c.Telemetry.TraceProtocol,
		SamplingRatio:    c.Telemetry.TraceSampleRatio,
	}
}
