package neighbors

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/regselect/pkg/errors"
)

func TestKNeighborsRegressorPredict(t *testing.T) {
	X := mat.NewDense(6, 1, []float64{0, 1, 2, 10, 11, 12})
	y := mat.NewDense(6, 1, []float64{1, 2, 3, 10, 20, 30})

	tests := []struct {
		name  string
		k     int
		query float64
		want  float64
	}{
		{name: "k=1 exact", k: 1, query: 11, want: 20},
		{name: "k=3 left cluster", k: 3, query: 0.5, want: 2},
		{name: "k=3 right cluster", k: 3, query: 11.2, want: 20},
		// x=1 と x=2 から等距離なので訓練データで先に現れる x=1 が選ばれる
		{name: "tie keeps training order", k: 1, query: 1.5, want: 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kn := NewKNeighborsRegressor(WithNeighbors(tt.k))
			require.NoError(t, kn.Fit(X, y))
			pred, err := kn.Predict(mat.NewDense(1, 1, []float64{tt.query}))
			require.NoError(t, err)
			assert.InDelta(t, tt.want, pred.At(0, 0), 1e-12)
		})
	}
}

func TestKNeighborsRegressorDefaultK(t *testing.T) {
	X := mat.NewDense(5, 2, []float64{0, 0, 1, 0, 0, 1, 1, 1, 5, 5})
	y := mat.NewDense(5, 1, []float64{1, 2, 3, 4, 5})
	kn := NewKNeighborsRegressor()
	require.NoError(t, kn.Fit(X, y))

	// k=5 で全サンプルを使うので常に平均
	pred, err := kn.Predict(mat.NewDense(2, 2, []float64{100, 100, -3, 2}))
	require.NoError(t, err)
	assert.Equal(t, []float64{3, 3}, mat.Col(nil, 0, pred))

	var ve *errors.ValueError
	err = kn.Fit(mat.NewDense(4, 2, nil), mat.NewDense(4, 1, nil))
	assert.True(t, errors.As(err, &ve), "fewer samples than neighbours")
}

func TestKNeighborsRegressorParallelPredict(t *testing.T) {
	n := 200
	X := mat.NewDense(n, 1, nil)
	y := mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		X.Set(i, 0, float64(i))
		y.Set(i, 0, float64(2*i))
	}
	kn := NewKNeighborsRegressor(WithNeighbors(1))
	require.NoError(t, kn.Fit(X, y))

	pred, err := kn.Predict(X)
	require.NoError(t, err)
	assert.True(t, mat.Equal(y, pred))
}

func TestKNeighborsRegressorErrorsAndParams(t *testing.T) {
	kn := NewKNeighborsRegressor(WithNeighbors(2))
	_, err := kn.Predict(mat.NewDense(1, 1, nil))
	var nf *errors.NotFittedError
	assert.True(t, errors.As(err, &nf))

	X := mat.NewDense(3, 2, []float64{0, 0, 1, 1, 4, 4})
	y := mat.NewDense(3, 1, []float64{1, 3, 9})
	require.NoError(t, kn.Fit(X, y))

	var de *errors.DimensionError
	_, err = kn.Predict(mat.NewDense(1, 3, nil))
	assert.True(t, errors.As(err, &de))

	data, err := kn.MarshalParams()
	require.NoError(t, err)
	restored := NewKNeighborsRegressor()
	require.NoError(t, restored.UnmarshalParams(data))
	assert.Equal(t, Kind, restored.Kind())

	query := mat.NewDense(2, 2, []float64{0.2, 0.1, 3, 3})
	want, err := kn.Predict(query)
	require.NoError(t, err)
	got, err := restored.Predict(query)
	require.NoError(t, err)
	assert.True(t, mat.Equal(want, got))

	assert.Error(t, restored.UnmarshalParams([]byte(`{"n_features":2,"n_samples":2,"n_neighbors":1,"fit_x":[1,2],"fit_y":[1,2]}`)))
}
