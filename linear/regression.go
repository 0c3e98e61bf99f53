// Package linear は最小二乗法による線形回帰を提供します。
package linear

import (
	"encoding/json"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/regselect/core/model"
	"github.com/YuminosukeSato/regselect/core/parallel"
	"github.com/YuminosukeSato/regselect/pkg/errors"
)

// Kind はアーティファクト上の識別子
const Kind = "LinearRegression"

// 並列処理の閾値（この値以下の行数では逐次処理を使用）
const parallelThreshold = 1000

// minRcond は相対特異値の切り捨て閾値の下限
const minRcond = 1e-12

// LinearRegression は切片付きの線形回帰モデル
//
// X と y を中心化した上で特異値分解による最小ノルム最小二乗解を求めるため、
// one-hot 列のように切片と共線な列を含んでいても学習できる。
type LinearRegression struct {
	state *model.StateManager

	Weights   *mat.VecDense // 重み（係数）
	Intercept float64       // 切片
	Rank      int           // 中心化した計画行列の数値ランク
}

type linearParams struct {
	model.ModelState
	Coefficients []float64 `json:"coefficients"`
	Intercept    float64   `json:"intercept"`
	Rank         int       `json:"rank"`
}

// NewLinearRegression は新しい線形回帰モデルを作成する
func NewLinearRegression() *LinearRegression {
	return &LinearRegression{state: model.NewStateManager()}
}

// Fit はモデルを訓練データで学習させる
func (lr *LinearRegression) Fit(X, y mat.Matrix) error {
	r, c := X.Dims()
	ry, cy := y.Dims()

	if r == 0 || c == 0 {
		return errors.NewModelError("LinearRegression.Fit", "empty data", errors.ErrEmptyData)
	}
	if ry != r {
		return errors.NewDimensionError("LinearRegression.Fit", r, ry, 0)
	}
	if cy != 1 {
		return errors.NewValueError("LinearRegression.Fit", "y must be a column vector")
	}

	target := model.TargetColumn(y)
	xMean := make([]float64, c)
	for j := 0; j < c; j++ {
		for i := 0; i < r; i++ {
			xMean[j] += X.At(i, j)
		}
		xMean[j] /= float64(r)
	}
	yMean := 0.0
	for _, v := range target {
		yMean += v
	}
	yMean /= float64(r)

	// 中心化した計画行列
	Xc := mat.NewDense(r, c, nil)
	yc := mat.NewDense(r, 1, nil)
	parallel.ParallelizeWithThreshold(r, parallelThreshold, func(start, end int) {
		for i := start; i < end; i++ {
			for j := 0; j < c; j++ {
				Xc.Set(i, j, X.At(i, j)-xMean[j])
			}
			yc.Set(i, 0, target[i]-yMean)
		}
	})

	var svd mat.SVD
	if ok := svd.Factorize(Xc, mat.SVDThin); !ok {
		return errors.NewModelError("LinearRegression.Fit", "SVD did not converge", errors.ErrSingularMatrix)
	}
	values := svd.Values(nil)
	rank := 0
	if len(values) > 0 && values[0] > 0 {
		// LAPACK gelsd と同じく eps * max(n, p) * σ_max 未満の特異値は 0 とみなす
		rcond := math.Max((math.Nextafter(1, 2)-1)*float64(max(r, c)), minRcond)
		rank = svd.Rank(rcond)
	}

	weights := mat.NewVecDense(c, nil)
	if rank > 0 {
		var sol mat.Dense
		svd.SolveTo(&sol, yc, rank)
		for j := 0; j < c; j++ {
			weights.SetVec(j, sol.At(j, 0))
		}
	}
	if err := errors.CheckMatrix("LinearRegression.Fit", weights); err != nil {
		return err
	}

	lr.Weights = weights
	lr.Intercept = yMean - mat.Dot(weights, mat.NewVecDense(c, xMean))
	lr.Rank = rank
	lr.state.SetFitted(c, r)
	return nil
}

// Predict は入力データに対する予測を行う
func (lr *LinearRegression) Predict(X mat.Matrix) (mat.Matrix, error) {
	if err := lr.state.RequireFitted("LinearRegression", "Predict"); err != nil {
		return nil, err
	}
	r, c := X.Dims()
	if err := lr.state.RequireFeatures("LinearRegression.Predict", c); err != nil {
		return nil, err
	}

	// 予測: y = X * weights + intercept
	predictions := mat.NewVecDense(r, nil)
	predictions.MulVec(X, lr.Weights)
	for i := 0; i < r; i++ {
		predictions.SetVec(i, predictions.AtVec(i)+lr.Intercept)
	}
	return predictions, nil
}

// GetWeights は学習された重み（係数）を返す
func (lr *LinearRegression) GetWeights() []float64 {
	if lr.Weights == nil {
		return nil
	}
	return mat.Col(nil, 0, lr.Weights)
}

// GetIntercept は学習された切片を返す
func (lr *LinearRegression) GetIntercept() float64 {
	if !lr.state.IsFitted() {
		return 0
	}
	return lr.Intercept
}

// Kind implements model.ParamCodec.
func (lr *LinearRegression) Kind() string { return Kind }

// MarshalParams implements model.ParamCodec.
func (lr *LinearRegression) MarshalParams() ([]byte, error) {
	if err := lr.state.RequireFitted("LinearRegression", "MarshalParams"); err != nil {
		return nil, err
	}
	return json.Marshal(linearParams{
		ModelState:   lr.state.State(),
		Coefficients: lr.GetWeights(),
		Intercept:    lr.Intercept,
		Rank:         lr.Rank,
	})
}

// UnmarshalParams implements model.ParamCodec.
func (lr *LinearRegression) UnmarshalParams(data []byte) error {
	var p linearParams
	if err := json.Unmarshal(data, &p); err != nil {
		return errors.Wrap(err, "decode LinearRegression params")
	}
	if p.NFeatures <= 0 || len(p.Coefficients) != p.NFeatures {
		return errors.NewDimensionError("LinearRegression.UnmarshalParams", p.NFeatures, len(p.Coefficients), 1)
	}
	lr.Weights = mat.NewVecDense(len(p.Coefficients), append([]float64(nil), p.Coefficients...))
	lr.Intercept = p.Intercept
	lr.Rank = p.Rank
	lr.state.Restore(p.ModelState)
	return nil
}
