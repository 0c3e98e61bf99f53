package telemetry

import (
	"context"
	"io"
	"os"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/YuminosukeSato/regselect/pkg/errors"
)

// パイプラインのスパン名
const (
	SpanPipelineRun       = "pipeline.run"
	SpanFitTransform      = "feature_transformer.fit_transform"
	SpanSelectBest        = "model_selector.select_best"
	SpanCandidateEvaluate = "candidate.evaluate"
)

// トレースのエクスポーター
const (
	ExporterNone   = "none"
	ExporterStdout = "stdout"
)

// Tracer は OpenTelemetry のトレーサーを包む
type Tracer struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// NewTracer はエクスポーターを指定してトレーサーを作成する。
// "none" ではスパンを生成するが書き出さない。"stdout" では w（nil なら標準出力）に JSON で書き出す。
func NewTracer(exporter string, w io.Writer, serviceName, serviceVersion string) (*Tracer, error) {
	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String(serviceVersion),
		),
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create trace resource")
	}

	opts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	switch exporter {
	case "", ExporterNone:
	case ExporterStdout:
		if w == nil {
			w = os.Stdout
		}
		exp, err := stdouttrace.New(stdouttrace.WithWriter(w))
		if err != nil {
			return nil, errors.Wrap(err, "failed to create stdout trace exporter")
		}
		opts = append(opts, sdktrace.WithBatcher(exp))
	default:
		return nil, errors.NewValidationError("trace_exporter", "unsupported trace exporter", exporter)
	}

	provider := sdktrace.NewTracerProvider(opts...)
	return &Tracer{provider: provider, tracer: provider.Tracer(serviceName)}, nil
}

// NewTracerFromProvider は既存の TracerProvider からトレーサーを作る。テストでの記録用。
func NewTracerFromProvider(provider *sdktrace.TracerProvider, name string) *Tracer {
	return &Tracer{provider: provider, tracer: provider.Tracer(name)}
}

// Start はスパンを開始する。nil の Tracer では何も記録しないスパンを返す。
func (t *Tracer) Start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if t == nil {
		return noop.NewTracerProvider().Tracer("").Start(ctx, name)
	}
	return t.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// Shutdown はバッファされたスパンを書き出して終了する
func (t *Tracer) Shutdown(ctx context.Context) error {
	if t == nil || t.provider == nil {
		return nil
	}
	return t.provider.Shutdown(ctx)
}

// End は err をスパンに記録してから終了する
func End(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
