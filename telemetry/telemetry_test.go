package telemetry

import (
	"bytes"
	"context"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/YuminosukeSato/regselect/pkg/errors"
)

func TestMetricsRecording(t *testing.T) {
	m := NewMetrics("")

	m.RecordRun(nil, time.Second)
	m.RecordRun(errors.New("boom"), time.Second)
	m.RecordRun(nil, time.Second)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.runsTotal.WithLabelValues(StatusSucceeded)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runsTotal.WithLabelValues(StatusFailed)))

	m.ObserveCandidate("Linear Regression", 10*time.Millisecond, 0.87)
	m.ObserveCandidate("Linear Regression", 10*time.Millisecond, math.NaN())
	assert.Equal(t, 0.87, testutil.ToFloat64(m.candidateR2.WithLabelValues("Linear Regression")))

	m.RecordArtifactWrite("model", nil)
	m.RecordArtifactWrite("model", errors.New("disk full"))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.artifactWrites.WithLabelValues("model", StatusFailed)))

	m.AddRowsTransformed("train", 800)
	m.AddRowsTransformed("test", 200)
	assert.Equal(t, 800.0, testutil.ToFloat64(m.rowsTransformed.WithLabelValues("train")))

	expected := `
# HELP regselect_rows_transformed_total Total number of records passed through the feature transformer
# TYPE regselect_rows_transformed_total counter
regselect_rows_transformed_total{split="test"} 200
regselect_rows_transformed_total{split="train"} 800
`
	require.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected), "regselect_rows_transformed_total"))
}

func TestMetricsWriteTextfile(t *testing.T) {
	m := NewMetrics("custom")
	m.RecordRun(nil, 2*time.Second)

	path := filepath.Join(t.TempDir(), "regselect.prom")
	require.NoError(t, m.WriteTextfile(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `custom_runs_total{status="succeeded"} 1`)
}

func TestNilMetricsAndTracerAreNoops(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordRun(nil, time.Second)
		m.ObserveCandidate("x", time.Second, 1)
		m.RecordArtifactWrite("model", nil)
		m.AddRowsTransformed("train", 1)
	})
	assert.Nil(t, m.Registry())
	assert.NoError(t, m.WriteTextfile(filepath.Join(t.TempDir(), "unused.prom")))

	var tr *Tracer
	_, span := tr.Start(context.Background(), SpanPipelineRun)
	assert.False(t, span.IsRecording())
	End(span, nil)
	assert.NoError(t, tr.Shutdown(context.Background()))
}

func TestTracerRecordsSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	tr := NewTracerFromProvider(provider, "regselect-test")

	ctx, parent := tr.Start(context.Background(), SpanPipelineRun, attribute.String("run.id", "abc"))
	_, child := tr.Start(ctx, SpanCandidateEvaluate)
	End(child, errors.New("fit failed"))
	End(parent, nil)

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, SpanCandidateEvaluate, spans[0].Name())
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Equal(t, parent.SpanContext().SpanID(), spans[0].Parent().SpanID())
	assert.Equal(t, SpanPipelineRun, spans[1].Name())
	assert.Equal(t, codes.Ok, spans[1].Status().Code)
}

func TestNewTracerExporters(t *testing.T) {
	var buf bytes.Buffer
	tr, err := NewTracer(ExporterStdout, &buf, "regselect", "test")
	require.NoError(t, err)
	_, span := tr.Start(context.Background(), SpanSelectBest)
	End(span, nil)
	require.NoError(t, tr.Shutdown(context.Background()))
	assert.Contains(t, buf.String(), SpanSelectBest)

	none, err := NewTracer(ExporterNone, nil, "regselect", "test")
	require.NoError(t, err)
	require.NoError(t, none.Shutdown(context.Background()))

	_, err = NewTracer("jaeger", nil, "regselect", "test")
	var ve *errors.ValidationError
	assert.True(t, errors.As(err, &ve))
}
