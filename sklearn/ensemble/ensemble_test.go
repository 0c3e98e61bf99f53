package ensemble

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/regselect/core/model"
	"github.com/YuminosukeSato/regselect/metrics"
	"github.com/YuminosukeSato/regselect/pkg/errors"
)

// quadratic は y = x0² + x1 の2特徴量データ
func quadratic(n int) (*mat.Dense, *mat.Dense) {
	X := mat.NewDense(n, 2, nil)
	y := mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		x0 := 4 * float64(i) / float64(n)
		x1 := float64(i % 3)
		X.Set(i, 0, x0)
		X.Set(i, 1, x1)
		y.Set(i, 0, x0*x0+x1)
	}
	return X, y
}

func TestEnsemblesFitKnownRelationship(t *testing.T) {
	X, y := quadratic(60)

	tests := []struct {
		name    string
		build   func() model.PersistableRegressor
		kind    string
		minR2   float64
		restore func() model.PersistableRegressor
	}{
		{
			name:    "random forest",
			build:   func() model.PersistableRegressor { return NewRandomForestRegressor(WithForestEstimators(30)) },
			restore: func() model.PersistableRegressor { return NewRandomForestRegressor() },
			kind:    RandomForestKind,
			minR2:   0.95,
		},
		{
			name:    "gradient boosting",
			build:   func() model.PersistableRegressor { return NewGradientBoostingRegressor() },
			restore: func() model.PersistableRegressor { return NewGradientBoostingRegressor() },
			kind:    GradientBoostingKind,
			minR2:   0.99,
		},
		{
			name:    "xgb",
			build:   func() model.PersistableRegressor { return NewXGBRegressor() },
			restore: func() model.PersistableRegressor { return NewXGBRegressor() },
			kind:    XGBKind,
			minR2:   0.99,
		},
		{
			name:    "adaboost",
			build:   func() model.PersistableRegressor { return NewAdaBoostRegressor() },
			restore: func() model.PersistableRegressor { return NewAdaBoostRegressor() },
			kind:    AdaBoostKind,
			minR2:   0.9,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := tt.build()
			require.NoError(t, m.Fit(X, y))
			pred, err := m.Predict(X)
			require.NoError(t, err)

			r2, err := metrics.R2ScoreMatrix(y, pred)
			require.NoError(t, err)
			assert.GreaterOrEqual(t, r2, tt.minR2)
			assert.Equal(t, tt.kind, m.Kind())

			data, err := m.MarshalParams()
			require.NoError(t, err)
			restored := tt.restore()
			require.NoError(t, restored.UnmarshalParams(data))
			got, err := restored.Predict(X)
			require.NoError(t, err)
			assert.True(t, mat.Equal(pred, got), "restored model must reproduce predictions")

			// 学習を繰り返しても同じ結果
			again := tt.build()
			require.NoError(t, again.Fit(X, y))
			second, err := again.Predict(X)
			require.NoError(t, err)
			assert.True(t, mat.Equal(pred, second))
		})
	}
}

func TestEnsemblesRejectBadInput(t *testing.T) {
	models := map[string]model.PersistableRegressor{
		"forest":   NewRandomForestRegressor(WithForestEstimators(2)),
		"boosting": NewGradientBoostingRegressor(WithBoostingEstimators(2)),
		"xgb":      NewXGBRegressor(WithXGBEstimators(2)),
		"adaboost": NewAdaBoostRegressor(WithAdaBoostEstimators(2)),
	}
	for name, m := range models {
		t.Run(name, func(t *testing.T) {
			var nf *errors.NotFittedError
			_, err := m.Predict(mat.NewDense(1, 1, nil))
			assert.True(t, errors.As(err, &nf))
			_, err = m.MarshalParams()
			assert.True(t, errors.As(err, &nf))

			var de *errors.DimensionError
			assert.True(t, errors.As(m.Fit(mat.NewDense(3, 1, nil), mat.NewDense(2, 1, nil)), &de))

			require.NoError(t, m.Fit(mat.NewDense(4, 1, []float64{1, 2, 3, 4}), mat.NewDense(4, 1, []float64{1, 2, 3, 4})))
			_, err = m.Predict(mat.NewDense(1, 2, nil))
			assert.True(t, errors.As(err, &de))

			assert.Error(t, m.UnmarshalParams([]byte(`{"n_features":1,"trees":[]}`)))
			assert.Error(t, m.UnmarshalParams([]byte(`not json`)))
		})
	}
}

func TestRandomForestWorkersDoNotChangeResult(t *testing.T) {
	X, y := quadratic(40)
	serial := NewRandomForestRegressor(WithForestEstimators(12), WithForestWorkers(1))
	concurrent := NewRandomForestRegressor(WithForestEstimators(12), WithForestWorkers(6))
	require.NoError(t, serial.Fit(X, y))
	require.NoError(t, concurrent.Fit(X, y))

	a, err := serial.Predict(X)
	require.NoError(t, err)
	b, err := concurrent.Predict(X)
	require.NoError(t, err)
	assert.True(t, mat.Equal(a, b))

	other := NewRandomForestRegressor(WithForestEstimators(12), WithForestRandomState(7))
	require.NoError(t, other.Fit(X, y))
	c, err := other.Predict(X)
	require.NoError(t, err)
	assert.False(t, mat.Equal(a, c), "a different seed draws different bootstrap samples")
}

func TestRandomForestWithoutBootstrapMatchesSingleTree(t *testing.T) {
	X, y := quadratic(20)
	rf := NewRandomForestRegressor(WithForestEstimators(3), WithBootstrap(false))
	require.NoError(t, rf.Fit(X, y))
	pred, err := rf.Predict(X)
	require.NoError(t, err)
	// 深さ無制限の木は訓練データを完全に再現する
	assert.InDeltaSlice(t, mat.Col(nil, 0, y), mat.Col(nil, 0, pred), 1e-12)
}

func TestGradientBoostingInitScore(t *testing.T) {
	X := mat.NewDense(4, 1, []float64{1, 2, 3, 4})
	y := mat.NewDense(4, 1, []float64{2, 4, 6, 8})
	gb := NewGradientBoostingRegressor(WithBoostingEstimators(1), WithBoostingLearningRate(0.5), WithBoostingMaxDepth(1))
	require.NoError(t, gb.Fit(X, y))
	assert.InDelta(t, 5, gb.InitScore, 1e-12)

	// 1段目の木は残差 [-3 -1 1 3] を x<=2.5 で分け、葉の値は ±2
	pred, err := gb.Predict(X)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{4, 4, 6, 6}, mat.Col(nil, 0, pred), 1e-12)

	var ve *errors.ValidationError
	assert.True(t, errors.As(NewGradientBoostingRegressor(WithBoostingLearningRate(0)).Fit(X, y), &ve))
}

func TestXGBRegressorLeafWeights(t *testing.T) {
	X := mat.NewDense(8, 1, []float64{1, 2, 3, 4, 5, 6, 7, 8})
	y := mat.NewDense(8, 1, []float64{10, 10, 10, 20, 20, 20, 20, 20})

	tests := []struct {
		name      string
		options   []XGBOption
		wantLeft  float64
		wantRight float64
	}{
		// lambda=0, eta=1 ではニュートン法の1ステップで完全に当てはまる
		{name: "unregularised", options: []XGBOption{WithLambda(0), WithEta(1)}, wantLeft: 10, wantRight: 20},
		// G_L = 18.75, H_L = 3 → -18.75/(3+1)*0.3
		{name: "defaults", options: nil, wantLeft: 16.25 - 1.40625, wantRight: 16.25 + 18.75/6*0.3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := append([]XGBOption{WithXGBEstimators(1), WithXGBMaxDepth(1)}, tt.options...)
			xr := NewXGBRegressor(opts...)
			require.NoError(t, xr.Fit(X, y))
			assert.InDelta(t, 16.25, xr.BaseScore, 1e-12)

			pred, err := xr.Predict(mat.NewDense(2, 1, []float64{2, 7}))
			require.NoError(t, err)
			assert.InDelta(t, tt.wantLeft, pred.At(0, 0), 1e-9)
			assert.InDelta(t, tt.wantRight, pred.At(1, 0), 1e-9)
		})
	}
}

func TestXGBRegressorGammaPreventsSplit(t *testing.T) {
	X := mat.NewDense(4, 1, []float64{1, 2, 3, 4})
	y := mat.NewDense(4, 1, []float64{1, 1, 2, 2})
	xr := NewXGBRegressor(WithXGBEstimators(1), WithGamma(100))
	require.NoError(t, xr.Fit(X, y))
	require.Len(t, xr.Trees, 1)
	assert.Equal(t, 1, xr.Trees[0].NLeaves())
}

func TestWeightedMedian(t *testing.T) {
	tests := []struct {
		name    string
		preds   []float64
		weights []float64
		want    float64
	}{
		{name: "uniform", preds: []float64{3, 1, 2}, weights: []float64{1, 1, 1}, want: 2},
		{name: "heavy estimator dominates", preds: []float64{3, 1, 2}, weights: []float64{5, 0.1, 0.1}, want: 3},
		{name: "exact half picks lower", preds: []float64{1, 2}, weights: []float64{1, 1}, want: 1},
		{name: "zero weights", preds: []float64{7}, weights: []float64{0}, want: 7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			order := make([]int, len(tt.preds))
			for i := range order {
				order[i] = i
			}
			assert.Equal(t, tt.want, weightedMedian(tt.preds, tt.weights, order))
		})
	}
}

func TestAdaBoostPerfectFitStopsEarly(t *testing.T) {
	// 定数の目的変数はどの標本でも完全に当てはまる
	X := mat.NewDense(5, 1, []float64{1, 2, 3, 4, 5})
	y := mat.NewDense(5, 1, []float64{3, 3, 3, 3, 3})
	ab := NewAdaBoostRegressor()
	require.NoError(t, ab.Fit(X, y))
	assert.Len(t, ab.Trees, 1)
	assert.Equal(t, []float64{1}, ab.Weights)
}

func TestBoostingStopsOnNonFinitePredictions(t *testing.T) {
	X := mat.NewDense(4, 1, []float64{0, 0, 1, 1})
	y := mat.NewDense(4, 1, []float64{0, 0, 100, 100})

	tests := []struct {
		name      string
		algorithm string
		model     model.Regressor
	}{
		{"gradient boosting", "GradientBoostingRegressor", NewGradientBoostingRegressor(WithBoostingLearningRate(1e308))},
		{"xgb", "XGBRegressor", NewXGBRegressor(WithEta(1e308))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var warnings []error
			errors.SetWarningHandler(func(w error) { warnings = append(warnings, w) })
			defer errors.SetWarningHandler(func(error) {})

			err := tt.model.Fit(X, y)
			var ne *errors.NumericalInstabilityError
			assert.True(t, errors.As(err, &ne), "got %v", err)

			require.Len(t, warnings, 1)
			var cw *errors.ConvergenceWarning
			require.True(t, errors.As(warnings[0], &cw))
			assert.Equal(t, tt.algorithm, cw.Algorithm)
			assert.Equal(t, 0, cw.Iterations)
		})
	}
}

func TestAddStage(t *testing.T) {
	pred := []float64{1, 2}
	assert.True(t, addStage(pred, []float64{1, -1}, 0.5))
	assert.Equal(t, []float64{1.5, 1.5}, pred)

	// 1つでも有限でなければ何も足さない
	assert.False(t, addStage(pred, []float64{1, math.MaxFloat64}, 10))
	assert.Equal(t, []float64{1.5, 1.5}, pred)
}
