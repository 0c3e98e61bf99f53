// Package telemetry はパイプラインの Prometheus メトリクスと OpenTelemetry トレースを提供します。
//
// どちらも nil のまま渡してよく、その場合は何も記録しません。
package telemetry

import (
	"math"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// 実行結果のラベル値
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Metrics はパイプラインのメトリクスを独自の Registry に登録して保持する
type Metrics struct {
	registry *prometheus.Registry

	runsTotal       *prometheus.CounterVec
	runDuration     prometheus.Histogram
	candidateFit    *prometheus.HistogramVec
	candidateR2     *prometheus.GaugeVec
	artifactWrites  *prometheus.CounterVec
	rowsTransformed *prometheus.CounterVec
}

// NewMetrics は namespace 付きのメトリクスを作成する。namespace が空なら "regselect"。
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "regselect"
	}
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		runsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Total number of pipeline runs by outcome",
			},
			[]string{"status"},
		),
		runDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of a full pipeline run in seconds",
				Buckets:   prometheus.DefBuckets,
			},
		),
		candidateFit: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "candidate_fit_seconds",
				Help:      "Time spent fitting and scoring one candidate algorithm",
				Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
			},
			[]string{"algorithm"},
		),
		candidateR2: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "candidate_r2",
				Help:      "Held-out R2 score of the latest evaluation of each candidate",
			},
			[]string{"algorithm"},
		),
		artifactWrites: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "artifact_writes_total",
				Help:      "Total number of artifact writes by kind and outcome",
			},
			[]string{"kind", "status"},
		),
		rowsTransformed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rows_transformed_total",
				Help:      "Total number of records passed through the feature transformer",
			},
			[]string{"split"},
		),
	}

	registry.MustRegister(
		m.runsTotal,
		m.runDuration,
		m.candidateFit,
		m.candidateR2,
		m.artifactWrites,
		m.rowsTransformed,
	)
	return m
}

// Registry はメトリクスを登録した Registry を返す
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RecordRun は1回の実行結果を記録する
func (m *Metrics) RecordRun(err error, duration time.Duration) {
	if m == nil {
		return
	}
	m.runsTotal.WithLabelValues(status(err)).Inc()
	m.runDuration.Observe(duration.Seconds())
}

// ObserveCandidate は候補アルゴリズムの評価時間とスコアを記録する。
// NaN のスコアはゲージを更新しない。
func (m *Metrics) ObserveCandidate(algorithm string, duration time.Duration, r2 float64) {
	if m == nil {
		return
	}
	m.candidateFit.WithLabelValues(algorithm).Observe(duration.Seconds())
	if !math.IsNaN(r2) {
		m.candidateR2.WithLabelValues(algorithm).Set(r2)
	}
}

// RecordArtifactWrite はアーティファクト書き込みの成否を記録する
func (m *Metrics) RecordArtifactWrite(kind string, err error) {
	if m == nil {
		return
	}
	m.artifactWrites.WithLabelValues(kind, status(err)).Inc()
}

// AddRowsTransformed は変換したレコード数を加算する
func (m *Metrics) AddRowsTransformed(split string, rows int) {
	if m == nil {
		return
	}
	m.rowsTransformed.WithLabelValues(split).Add(float64(rows))
}

// WriteTextfile は node_exporter の textfile collector 形式で書き出す
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.registry)
}

func status(err error) string {
	if err != nil {
		return StatusFailed
	}
	return StatusSucceeded
}
