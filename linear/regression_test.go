package linear

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/regselect/pkg/errors"
)

func TestLinearRegressionExactFit(t *testing.T) {
	// y = 2*x1 - 3*x2 + 5
	X := mat.NewDense(6, 2, []float64{
		1, 0,
		2, 1,
		3, 5,
		4, 2,
		0, 3,
		5, 5,
	})
	y := mat.NewDense(6, 1, nil)
	for i := 0; i < 6; i++ {
		y.Set(i, 0, 2*X.At(i, 0)-3*X.At(i, 1)+5)
	}

	lr := NewLinearRegression()
	require.NoError(t, lr.Fit(X, y))
	assert.InDeltaSlice(t, []float64{2, -3}, lr.GetWeights(), 1e-9)
	assert.InDelta(t, 5, lr.GetIntercept(), 1e-9)
	assert.Equal(t, 2, lr.Rank)

	pred, err := lr.Predict(mat.NewDense(1, 2, []float64{10, 10}))
	require.NoError(t, err)
	assert.InDelta(t, -5, pred.At(0, 0), 1e-9)
}

func TestLinearRegressionCollinearOneHot(t *testing.T) {
	// 2つの one-hot 列は常に和が 1 なので切片と共線になる
	rng := rand.New(rand.NewSource(7))
	n := 40
	X := mat.NewDense(n, 3, nil)
	y := mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		x := rng.Float64() * 10
		group := float64(i % 2)
		X.Set(i, 0, x)
		X.Set(i, 1, group)
		X.Set(i, 2, 1-group)
		y.Set(i, 0, 3*x+4*group+1)
	}

	lr := NewLinearRegression()
	require.NoError(t, lr.Fit(X, y))
	assert.Equal(t, 2, lr.Rank)

	pred, err := lr.Predict(X)
	require.NoError(t, err)
	for i := 0; i < n; i++ {
		assert.InDelta(t, y.At(i, 0), pred.At(i, 0), 1e-8)
	}
	// 最小ノルム解では共線な2列の係数は差だけが決まり、和は 0
	w := lr.GetWeights()
	assert.InDelta(t, 4, w[1]-w[2], 1e-8)
	assert.InDelta(t, 0, w[1]+w[2], 1e-8)
}

func TestLinearRegressionErrors(t *testing.T) {
	lr := NewLinearRegression()

	_, err := lr.Predict(mat.NewDense(1, 1, []float64{1}))
	var nf *errors.NotFittedError
	assert.True(t, errors.As(err, &nf))

	err = lr.Fit(mat.NewDense(3, 1, []float64{1, 2, 3}), mat.NewDense(2, 1, []float64{1, 2}))
	var de *errors.DimensionError
	assert.True(t, errors.As(err, &de))

	require.NoError(t, lr.Fit(mat.NewDense(3, 1, []float64{1, 2, 3}), mat.NewDense(3, 1, []float64{2, 4, 6})))
	_, err = lr.Predict(mat.NewDense(1, 2, nil))
	assert.True(t, errors.As(err, &de))
}

func TestLinearRegressionConstantFeature(t *testing.T) {
	lr := NewLinearRegression()
	X := mat.NewDense(3, 1, []float64{1, 1, 1})
	y := mat.NewDense(3, 1, []float64{1, 2, 3})
	require.NoError(t, lr.Fit(X, y))
	assert.Equal(t, 0, lr.Rank)
	assert.InDelta(t, 2, lr.GetIntercept(), 1e-12)
}

func TestLinearRegressionParamsRoundTrip(t *testing.T) {
	lr := NewLinearRegression()
	X := mat.NewDense(4, 2, []float64{1, 2, 2, 1, 3, 4, 5, 0})
	y := mat.NewDense(4, 1, []float64{3, 4, 8, 9})
	require.NoError(t, lr.Fit(X, y))

	data, err := lr.MarshalParams()
	require.NoError(t, err)

	restored := NewLinearRegression()
	require.NoError(t, restored.UnmarshalParams(data))

	want, err := lr.Predict(X)
	require.NoError(t, err)
	got, err := restored.Predict(X)
	require.NoError(t, err)
	assert.True(t, mat.Equal(want, got))

	assert.Error(t, restored.UnmarshalParams([]byte(`{"n_features":3,"coefficients":[1]}`)))
}
