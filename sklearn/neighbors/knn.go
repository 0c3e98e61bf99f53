// Package neighbors は k 近傍法による回帰を提供します。
package neighbors

import (
	"encoding/json"
	"fmt"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/regselect/core/model"
	"github.com/YuminosukeSato/regselect/core/parallel"
	"github.com/YuminosukeSato/regselect/pkg/errors"
	"github.com/YuminosukeSato/regselect/sklearn/tree"
)

// Kind はアーティファクト上の識別子
const Kind = "KNeighborsRegressor"

// 予測を並列化する行数の閾値
const parallelThreshold = 64

// KNeighborsRegressor はユークリッド距離で最も近い k 個の訓練サンプルの
// 目的変数の平均を予測値とする
type KNeighborsRegressor struct {
	state *model.StateManager

	k int

	// 学習データ（遅延学習なので Fit は保持するだけ）
	data   *tree.Data
	target []float64
}

// Option はKNeighborsRegressorの設定オプション
type Option func(*KNeighborsRegressor)

// WithNeighbors は近傍数 k を設定する
func WithNeighbors(k int) Option {
	return func(kn *KNeighborsRegressor) {
		kn.k = k
	}
}

// NewKNeighborsRegressor は新しい k 近傍回帰を作成する。デフォルトは k=5。
func NewKNeighborsRegressor(options ...Option) *KNeighborsRegressor {
	kn := &KNeighborsRegressor{
		state: model.NewStateManager(),
		k:     5,
	}
	for _, opt := range options {
		opt(kn)
	}
	return kn
}

// Fit は訓練データを保持する。サンプル数が k 未満の場合はエラー。
func (kn *KNeighborsRegressor) Fit(X, y mat.Matrix) error {
	if kn.k < 1 {
		return errors.NewValidationError("n_neighbors", "must be positive", kn.k)
	}
	target, err := tree.CheckTarget("KNeighborsRegressor.Fit", X, y)
	if err != nil {
		return err
	}
	if len(target) < kn.k {
		return errors.NewValueError("KNeighborsRegressor.Fit",
			fmt.Sprintf("n_neighbors=%d exceeds n_samples=%d", kn.k, len(target)))
	}

	kn.data = tree.NewData(X)
	kn.target = target
	kn.state.SetFitted(kn.data.NCols, kn.data.NRows)
	return nil
}

// Predict は入力データに対する予測を行う
func (kn *KNeighborsRegressor) Predict(X mat.Matrix) (mat.Matrix, error) {
	if err := kn.state.RequireFitted("KNeighborsRegressor", "Predict"); err != nil {
		return nil, err
	}
	_, c := X.Dims()
	if err := kn.state.RequireFeatures("KNeighborsRegressor.Predict", c); err != nil {
		return nil, err
	}

	query := tree.NewData(X)
	out := make([]float64, query.NRows)
	parallel.ParallelizeWithThreshold(query.NRows, parallelThreshold, func(start, end int) {
		nbrs := make([]neighbor, 0, kn.k+1)
		for i := start; i < end; i++ {
			out[i] = kn.predictRow(query.Row(i), nbrs[:0])
		}
	})
	return mat.NewVecDense(query.NRows, out), nil
}

type neighbor struct {
	dist  float64
	index int
}

func (a neighbor) closer(b neighbor) bool {
	if a.dist != b.dist {
		return a.dist < b.dist
	}
	return a.index < b.index
}

// predictRow は k 個の近傍を距離順（同距離なら訓練データの順）の
// ソート済みスライスで保持しながら走査する
func (kn *KNeighborsRegressor) predictRow(row []float64, nbrs []neighbor) float64 {
	for j := 0; j < kn.data.NRows; j++ {
		cand := neighbor{dist: euclidSquared(row, kn.data.Row(j)), index: j}
		if len(nbrs) == kn.k {
			if !cand.closer(nbrs[len(nbrs)-1]) {
				continue
			}
			nbrs = nbrs[:len(nbrs)-1]
		}
		pos := sort.Search(len(nbrs), func(p int) bool { return cand.closer(nbrs[p]) })
		nbrs = append(nbrs, neighbor{})
		copy(nbrs[pos+1:], nbrs[pos:])
		nbrs[pos] = cand
	}

	sum := 0.0
	for _, nb := range nbrs {
		sum += kn.target[nb.index]
	}
	return sum / float64(len(nbrs))
}

// euclidSquared は二乗ユークリッド距離。順位付けには平方根は不要。
func euclidSquared(a, b []float64) float64 {
	sum := 0.0
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

type knnParams struct {
	model.ModelState
	NNeighbors int       `json:"n_neighbors"`
	X          []float64 `json:"fit_x"`
	Y          []float64 `json:"fit_y"`
}

// Kind implements model.ParamCodec.
func (kn *KNeighborsRegressor) Kind() string { return Kind }

// MarshalParams implements model.ParamCodec. 訓練データそのものが学習パラメータになる。
func (kn *KNeighborsRegressor) MarshalParams() ([]byte, error) {
	if err := kn.state.RequireFitted("KNeighborsRegressor", "MarshalParams"); err != nil {
		return nil, err
	}
	return json.Marshal(knnParams{
		ModelState: kn.state.State(),
		NNeighbors: kn.k,
		X:          kn.data.X,
		Y:          kn.target,
	})
}

// UnmarshalParams implements model.ParamCodec.
func (kn *KNeighborsRegressor) UnmarshalParams(data []byte) error {
	var p knnParams
	if err := json.Unmarshal(data, &p); err != nil {
		return errors.Wrap(err, "decode KNeighborsRegressor params")
	}
	if p.NFeatures <= 0 || p.NSamples <= 0 || len(p.Y) != p.NSamples {
		return errors.NewDimensionError("KNeighborsRegressor.UnmarshalParams", p.NSamples, len(p.Y), 0)
	}
	if len(p.X) != p.NSamples*p.NFeatures {
		return errors.NewDimensionError("KNeighborsRegressor.UnmarshalParams", p.NSamples*p.NFeatures, len(p.X), 1)
	}
	if p.NNeighbors < 1 || p.NNeighbors > p.NSamples {
		return errors.NewValidationError("n_neighbors", "out of range", p.NNeighbors)
	}
	kn.k = p.NNeighbors
	kn.data = &tree.Data{X: p.X, NRows: p.NSamples, NCols: p.NFeatures}
	kn.target = p.Y
	kn.state.Restore(p.ModelState)
	return nil
}
