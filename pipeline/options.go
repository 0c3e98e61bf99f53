// Package pipeline は特徴量変換とモデル選択の2段階の回帰パイプラインを提供します。
//
// FeatureTransformer は訓練レコードでのみ学習した変換で訓練・テストの両方を
// 数値行列にし、学習済み変換をアーティファクトとして保存します。
// ModelSelector は候補パネルの回帰モデルをそれぞれ学習・評価し、
// テスト分割の R² が最大のモデルを品質閾値で検査してから保存します。
package pipeline

import (
	"github.com/YuminosukeSato/regselect/core/model"
	"github.com/YuminosukeSato/regselect/pkg/log"
	"github.com/YuminosukeSato/regselect/telemetry"
)

// runtime はコンポーネント間で共有する協調オブジェクト
type runtime struct {
	store  model.ArtifactStore
	logger log.Logger
	meter  *telemetry.Metrics
	tracer *telemetry.Tracer
}

func newRuntime(component string, options []Option) runtime {
	rt := runtime{store: model.NewFileStore(), logger: log.Nop()}
	for _, opt := range options {
		opt(&rt)
	}
	rt.logger = log.OrNop(rt.logger).With(log.ComponentKey, component)
	return rt
}

// Option はコンポーネントの協調オブジェクトを設定する
type Option func(*runtime)

// WithStore はアーティファクトの保存先を設定する。nil は無視される。
func WithStore(store model.ArtifactStore) Option {
	return func(rt *runtime) {
		if store != nil {
			rt.store = store
		}
	}
}

// WithLogger はロガーを設定する。nil の場合はログを出力しない。
func WithLogger(logger log.Logger) Option {
	return func(rt *runtime) { rt.logger = logger }
}

// WithMetrics は Prometheus メトリクスを設定する
func WithMetrics(m *telemetry.Metrics) Option {
	return func(rt *runtime) { rt.meter = m }
}

// WithTracer はトレーサーを設定する
func WithTracer(t *telemetry.Tracer) Option {
	return func(rt *runtime) { rt.tracer = t }
}
