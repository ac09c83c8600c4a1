package observability

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// TracerName 本项目使用的 tracer 名称
const TracerName = "github.com/KodaTao/CallForge"

// TracingConfig 链路追踪配置
type TracingConfig struct {
	Enabled     bool
	Endpoint    string // OTLP HTTP 上报地址，如 localhost:4318
	ServiceName string
}

// InitTracing 初始化链路追踪
// 未启用时保持 otel 默认的 noop provider，返回的 shutdown 为空操作
func InitTracing(ctx context.Context, cfg TracingConfig) (func(context.Context) error, error) {
	if !cfg.Enabled {
		return func(context.Context) error { return nil }, nil
	}

	var opts []otlptracehttp.Option
	if cfg.Endpoint != "" {
		endpoint := cfg.Endpoint
		if strings.HasPrefix(endpoint, "http://") {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		endpoint = strings.TrimPrefix(strings.TrimPrefix(endpoint, "http://"), "https://")
		opts = append(opts, otlptracehttp.WithEndpoint(endpoint))
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, err
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "callforge"
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewSchemaless(semconv.ServiceName(serviceName))),
	)
	otel.SetTracerProvider(tp)

	Info("Tracing initialized", "endpoint", cfg.Endpoint, "service", serviceName)
	return tp.Shutdown, nil
}

// Tracer 返回项目 tracer
func Tracer() trace.Tracer {
	return otel.Tracer(TracerName)
}
