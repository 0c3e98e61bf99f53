package tree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/regselect/pkg/errors"
)

func stepData() (*mat.Dense, *mat.Dense) {
	// x <= 3 なら 10、そうでなければ 20
	X := mat.NewDense(8, 1, []float64{1, 2, 3, 4, 5, 6, 7, 8})
	y := mat.NewDense(8, 1, []float64{10, 10, 10, 20, 20, 20, 20, 20})
	return X, y
}

func TestDecisionTreeRegressorStep(t *testing.T) {
	X, y := stepData()
	dt := NewDecisionTreeRegressor()
	require.NoError(t, dt.Fit(X, y))

	assert.Equal(t, 1, dt.GetDepth())
	assert.Equal(t, 2, dt.GetNLeaves())

	root := dt.Tree.Nodes[0]
	assert.Equal(t, 0, root.Feature)
	assert.InDelta(t, 3.5, root.Threshold, 1e-12)
	assert.Equal(t, 8, root.NSamples)

	pred, err := dt.Predict(mat.NewDense(3, 1, []float64{0, 3.4, 100}))
	require.NoError(t, err)
	assert.Equal(t, []float64{10, 10, 20}, mat.Col(nil, 0, pred))
}

func TestDecisionTreeRegressorOptions(t *testing.T) {
	X := mat.NewDense(8, 1, []float64{1, 2, 3, 4, 5, 6, 7, 8})
	y := mat.NewDense(8, 1, []float64{1, 2, 3, 4, 5, 6, 7, 8})

	tests := []struct {
		name       string
		options    []Option
		wantDepth  int
		wantLeaves int
	}{
		{name: "unlimited", options: nil, wantDepth: 3, wantLeaves: 8},
		{name: "max depth 1", options: []Option{WithMaxDepth(1)}, wantDepth: 1, wantLeaves: 2},
		{name: "min samples leaf 4", options: []Option{WithMinSamplesLeaf(4)}, wantDepth: 1, wantLeaves: 2},
		{name: "min samples split 9", options: []Option{WithMinSamplesSplit(9)}, wantDepth: 0, wantLeaves: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dt := NewDecisionTreeRegressor(tt.options...)
			require.NoError(t, dt.Fit(X, y))
			assert.Equal(t, tt.wantDepth, dt.GetDepth())
			assert.Equal(t, tt.wantLeaves, dt.GetNLeaves())
		})
	}
}

func TestDecisionTreeRegressorPicksInformativeFeature(t *testing.T) {
	// 列0はノイズ、列1が目的変数を決める
	X := mat.NewDense(6, 2, []float64{
		5, 0,
		1, 0,
		3, 0,
		2, 1,
		6, 1,
		4, 1,
	})
	y := mat.NewDense(6, 1, []float64{0, 0, 0, 1, 1, 1})
	dt := NewDecisionTreeRegressor()
	require.NoError(t, dt.Fit(X, y))
	assert.Equal(t, 1, dt.Tree.Nodes[0].Feature)
	assert.Equal(t, 2, dt.GetNLeaves())
}

func TestDecisionTreeRegressorConstantInputs(t *testing.T) {
	dt := NewDecisionTreeRegressor()

	// 目的変数が一定なら葉1つ
	require.NoError(t, dt.Fit(mat.NewDense(3, 1, []float64{1, 2, 3}), mat.NewDense(3, 1, []float64{4, 4, 4})))
	assert.Equal(t, 1, dt.GetNLeaves())

	// 特徴量が一定でも分割できないので平均値の葉1つ
	require.NoError(t, dt.Fit(mat.NewDense(3, 1, []float64{1, 1, 1}), mat.NewDense(3, 1, []float64{1, 2, 6})))
	assert.Equal(t, 1, dt.GetNLeaves())
	assert.InDelta(t, 3, dt.Tree.Nodes[0].Value, 1e-12)
}

func TestDecisionTreeRegressorFitSubset(t *testing.T) {
	X, y := stepData()
	d := NewData(X)
	target := mat.Col(nil, 0, y)

	dt := NewDecisionTreeRegressor()
	// 重複を含む標本はその回数だけ重みを持つ
	require.NoError(t, dt.FitSubset(d, target, []int{0, 0, 0, 7}))
	assert.Equal(t, 4, dt.Tree.Nodes[0].NSamples)
	assert.InDelta(t, 12.5, dt.Tree.Nodes[0].Value, 1e-12)
	assert.Equal(t, []float64{10, 20}, dt.PredictData(&Data{X: []float64{1, 8}, NRows: 2, NCols: 1}))

	assert.Error(t, dt.FitSubset(d, target, nil))
}

func TestDecisionTreeRegressorErrors(t *testing.T) {
	dt := NewDecisionTreeRegressor()

	_, err := dt.Predict(mat.NewDense(1, 1, nil))
	var nf *errors.NotFittedError
	assert.True(t, errors.As(err, &nf))

	_, err = dt.MarshalParams()
	assert.True(t, errors.As(err, &nf))

	var de *errors.DimensionError
	err = dt.Fit(mat.NewDense(3, 1, nil), mat.NewDense(2, 1, nil))
	assert.True(t, errors.As(err, &de))

	X, y := stepData()
	require.NoError(t, dt.Fit(X, y))
	_, err = dt.Predict(mat.NewDense(1, 2, nil))
	assert.True(t, errors.As(err, &de))
}

func TestDecisionTreeRegressorParamsRoundTrip(t *testing.T) {
	X := mat.NewDense(6, 2, []float64{1, 5, 2, 3, 3, 8, 4, 1, 5, 2, 6, 7})
	y := mat.NewDense(6, 1, []float64{1.5, 2, 7, 3, 4.5, 9})
	dt := NewDecisionTreeRegressor(WithMaxDepth(2))
	require.NoError(t, dt.Fit(X, y))

	data, err := dt.MarshalParams()
	require.NoError(t, err)

	restored := NewDecisionTreeRegressor()
	require.NoError(t, restored.UnmarshalParams(data))
	assert.Equal(t, Kind, restored.Kind())
	assert.Equal(t, 2, restored.GetParams()["max_depth"])

	want, err := dt.Predict(X)
	require.NoError(t, err)
	got, err := restored.Predict(X)
	require.NoError(t, err)
	assert.True(t, mat.Equal(want, got))

	bad := []byte(`{"tree":{"n_features":1,"nodes":[{"feature":0,"left":0,"right":0}]}}`)
	assert.Error(t, restored.UnmarshalParams(bad))
	assert.Error(t, restored.UnmarshalParams([]byte(`{}`)))
}
