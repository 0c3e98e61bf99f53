package ensemble

import (
	"encoding/json"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/regselect/core/model"
	"github.com/YuminosukeSato/regselect/core/parallel"
	"github.com/YuminosukeSato/regselect/pkg/errors"
	"github.com/YuminosukeSato/regselect/sklearn/tree"
)

// RandomForestKind はアーティファクト上の識別子
const RandomForestKind = "RandomForestRegressor"

// RandomForestRegressor はブートストラップ標本で学習した回帰木の平均を予測値とする
type RandomForestRegressor struct {
	state *model.StateManager

	// ハイパーパラメータ
	nEstimators     int
	maxDepth        int
	minSamplesSplit int
	minSamplesLeaf  int
	bootstrap       bool
	randomState     int64
	workers         int

	// 学習パラメータ
	Trees []*tree.Tree
}

// ForestOption はRandomForestRegressorの設定オプション
type ForestOption func(*RandomForestRegressor)

// WithForestEstimators は木の本数を設定
func WithForestEstimators(n int) ForestOption {
	return func(rf *RandomForestRegressor) { rf.nEstimators = n }
}

// WithForestMaxDepth は各木の最大深さを設定。0 は無制限
func WithForestMaxDepth(depth int) ForestOption {
	return func(rf *RandomForestRegressor) { rf.maxDepth = depth }
}

// WithBootstrap はブートストラップ標本を使うかを設定
func WithBootstrap(b bool) ForestOption {
	return func(rf *RandomForestRegressor) { rf.bootstrap = b }
}

// WithForestRandomState は乱数シードを設定。i 本目の木は seed+i で標本を作る
func WithForestRandomState(seed int64) ForestOption {
	return func(rf *RandomForestRegressor) { rf.randomState = seed }
}

// WithForestWorkers は木を並列に学習するゴルーチン数を設定。0 はCPUコア数
func WithForestWorkers(n int) ForestOption {
	return func(rf *RandomForestRegressor) { rf.workers = n }
}

// NewRandomForestRegressor は新しいランダムフォレストを作成する。
// デフォルトは 100 本、ブートストラップあり、全特徴量、深さ無制限、seed 42。
func NewRandomForestRegressor(options ...ForestOption) *RandomForestRegressor {
	rf := &RandomForestRegressor{
		state:           model.NewStateManager(),
		nEstimators:     100,
		minSamplesSplit: 2,
		minSamplesLeaf:  1,
		bootstrap:       true,
		randomState:     42,
	}
	for _, opt := range options {
		opt(rf)
	}
	return rf
}

// Fit はモデルを訓練データで学習させる
func (rf *RandomForestRegressor) Fit(X, y mat.Matrix) error {
	if rf.nEstimators < 1 {
		return errors.NewValidationError("n_estimators", "must be positive", rf.nEstimators)
	}
	target, err := tree.CheckTarget("RandomForestRegressor.Fit", X, y)
	if err != nil {
		return err
	}
	d := tree.NewData(X)
	n := d.NRows

	trees := make([]*tree.Tree, rf.nEstimators)
	err = parallel.ForEach(rf.nEstimators, rf.workers, func(i int) error {
		indices := make([]int, n)
		if rf.bootstrap {
			// 木ごとに独立した乱数源を使うので結果はスケジューリングに依存しない
			rng := rand.New(rand.NewSource(rf.randomState + int64(i)))
			for j := range indices {
				indices[j] = rng.Intn(n)
			}
		} else {
			for j := range indices {
				indices[j] = j
			}
		}

		dt := tree.NewDecisionTreeRegressor(
			tree.WithMaxDepth(rf.maxDepth),
			tree.WithMinSamplesSplit(rf.minSamplesSplit),
			tree.WithMinSamplesLeaf(rf.minSamplesLeaf),
		)
		if err := dt.FitSubset(d, target, indices); err != nil {
			return err
		}
		trees[i] = dt.Tree
		return nil
	})
	if err != nil {
		return err
	}

	rf.Trees = trees
	rf.state.SetFitted(d.NCols, n)
	return nil
}

// Predict は全ての木の予測の平均を返す
func (rf *RandomForestRegressor) Predict(X mat.Matrix) (mat.Matrix, error) {
	d, err := prepare(rf.state, "RandomForestRegressor", X)
	if err != nil {
		return nil, err
	}
	out := make([]float64, d.NRows)
	parallel.ParallelizeWithThreshold(d.NRows, 256, func(start, end int) {
		for i := start; i < end; i++ {
			row := d.Row(i)
			sum := 0.0
			for _, t := range rf.Trees {
				sum += t.PredictRow(row)
			}
			out[i] = sum / float64(len(rf.Trees))
		}
	})
	return mat.NewVecDense(d.NRows, out), nil
}

type forestParams struct {
	model.ModelState
	NEstimators     int          `json:"n_estimators"`
	MaxDepth        int          `json:"max_depth"`
	MinSamplesSplit int          `json:"min_samples_split"`
	MinSamplesLeaf  int          `json:"min_samples_leaf"`
	Bootstrap       bool         `json:"bootstrap"`
	RandomState     int64        `json:"random_state"`
	Trees           []*tree.Tree `json:"trees"`
}

// Kind implements model.ParamCodec.
func (rf *RandomForestRegressor) Kind() string { return RandomForestKind }

// MarshalParams implements model.ParamCodec.
func (rf *RandomForestRegressor) MarshalParams() ([]byte, error) {
	if err := rf.state.RequireFitted("RandomForestRegressor", "MarshalParams"); err != nil {
		return nil, err
	}
	return json.Marshal(forestParams{
		ModelState:      rf.state.State(),
		NEstimators:     rf.nEstimators,
		MaxDepth:        rf.maxDepth,
		MinSamplesSplit: rf.minSamplesSplit,
		MinSamplesLeaf:  rf.minSamplesLeaf,
		Bootstrap:       rf.bootstrap,
		RandomState:     rf.randomState,
		Trees:           rf.Trees,
	})
}

// UnmarshalParams implements model.ParamCodec.
func (rf *RandomForestRegressor) UnmarshalParams(data []byte) error {
	var p forestParams
	if err := json.Unmarshal(data, &p); err != nil {
		return errors.Wrap(err, "decode RandomForestRegressor params")
	}
	if err := validateTrees("RandomForestRegressor.UnmarshalParams", p.Trees, p.NFeatures); err != nil {
		return err
	}
	rf.nEstimators = len(p.Trees)
	rf.maxDepth = p.MaxDepth
	rf.minSamplesSplit = p.MinSamplesSplit
	rf.minSamplesLeaf = p.MinSamplesLeaf
	rf.bootstrap = p.Bootstrap
	rf.randomState = p.RandomState
	rf.Trees = p.Trees
	rf.state.Restore(p.ModelState)
	return nil
}
