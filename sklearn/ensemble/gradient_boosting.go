package ensemble

import (
	"encoding/json"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/regselect/core/model"
	"github.com/YuminosukeSato/regselect/pkg/errors"
	"github.com/YuminosukeSato/regselect/sklearn/tree"
)

// GradientBoostingKind はアーティファクト上の識別子
const GradientBoostingKind = "GradientBoostingRegressor"

// GradientBoostingRegressor は二乗誤差の負の勾配（残差）に回帰木を逐次当てはめる
//
// 初期値は目的変数の平均。各段の木の予測に学習率を掛けて加算する。
type GradientBoostingRegressor struct {
	state *model.StateManager

	nEstimators     int
	learningRate    float64
	maxDepth        int
	minSamplesSplit int
	minSamplesLeaf  int

	InitScore float64
	Trees     []*tree.Tree
}

// BoostingOption はGradientBoostingRegressorの設定オプション
type BoostingOption func(*GradientBoostingRegressor)

// WithBoostingEstimators はブースティングの段数を設定
func WithBoostingEstimators(n int) BoostingOption {
	return func(gb *GradientBoostingRegressor) { gb.nEstimators = n }
}

// WithBoostingLearningRate は学習率を設定
func WithBoostingLearningRate(lr float64) BoostingOption {
	return func(gb *GradientBoostingRegressor) { gb.learningRate = lr }
}

// WithBoostingMaxDepth は各段の木の最大深さを設定
func WithBoostingMaxDepth(depth int) BoostingOption {
	return func(gb *GradientBoostingRegressor) { gb.maxDepth = depth }
}

// NewGradientBoostingRegressor は新しい勾配ブースティングを作成する。
// デフォルトは 100 段、学習率 0.1、深さ 3。
func NewGradientBoostingRegressor(options ...BoostingOption) *GradientBoostingRegressor {
	gb := &GradientBoostingRegressor{
		state:           model.NewStateManager(),
		nEstimators:     100,
		learningRate:    0.1,
		maxDepth:        3,
		minSamplesSplit: 2,
		minSamplesLeaf:  1,
	}
	for _, opt := range options {
		opt(gb)
	}
	return gb
}

// Fit はモデルを訓練データで学習させる
func (gb *GradientBoostingRegressor) Fit(X, y mat.Matrix) error {
	if gb.nEstimators < 1 {
		return errors.NewValidationError("n_estimators", "must be positive", gb.nEstimators)
	}
	if gb.learningRate <= 0 {
		return errors.NewValidationError("learning_rate", "must be positive", gb.learningRate)
	}
	target, err := tree.CheckTarget("GradientBoostingRegressor.Fit", X, y)
	if err != nil {
		return err
	}
	d := tree.NewData(X)
	n := d.NRows
	indices := identity(n)

	init := mean(target)
	pred := make([]float64, n)
	for i := range pred {
		pred[i] = init
	}
	residual := make([]float64, n)
	step := make([]float64, n)

	trees := make([]*tree.Tree, 0, gb.nEstimators)
	for stage := 0; stage < gb.nEstimators; stage++ {
		for i := range residual {
			residual[i] = target[i] - pred[i]
		}
		dt := tree.NewDecisionTreeRegressor(
			tree.WithMaxDepth(gb.maxDepth),
			tree.WithMinSamplesSplit(gb.minSamplesSplit),
			tree.WithMinSamplesLeaf(gb.minSamplesLeaf),
		)
		if err := dt.FitSubset(d, residual, indices); err != nil {
			return errors.Wrapf(err, "stage %d", stage)
		}
		for i := range step {
			step[i] = dt.Tree.PredictRow(d.Row(i))
		}
		if !addStage(pred, step, gb.learningRate) {
			if err := stopBoosting("GradientBoostingRegressor", stage); err != nil {
				return err
			}
			break
		}
		trees = append(trees, dt.Tree)
	}

	gb.InitScore = init
	gb.Trees = trees
	gb.state.SetFitted(d.NCols, n)
	return nil
}

// Predict は入力データに対する予測を行う
func (gb *GradientBoostingRegressor) Predict(X mat.Matrix) (mat.Matrix, error) {
	d, err := prepare(gb.state, "GradientBoostingRegressor", X)
	if err != nil {
		return nil, err
	}
	out := make([]float64, d.NRows)
	for i := range out {
		row := d.Row(i)
		v := gb.InitScore
		for _, t := range gb.Trees {
			v += gb.learningRate * t.PredictRow(row)
		}
		out[i] = v
	}
	return mat.NewVecDense(d.NRows, out), nil
}

type boostingParams struct {
	model.ModelState
	LearningRate    float64      `json:"learning_rate"`
	MaxDepth        int          `json:"max_depth"`
	MinSamplesSplit int          `json:"min_samples_split"`
	MinSamplesLeaf  int          `json:"min_samples_leaf"`
	InitScore       float64      `json:"init_score"`
	Trees           []*tree.Tree `json:"trees"`
}

// Kind implements model.ParamCodec.
func (gb *GradientBoostingRegressor) Kind() string { return GradientBoostingKind }

// MarshalParams implements model.ParamCodec.
func (gb *GradientBoostingRegressor) MarshalParams() ([]byte, error) {
	if err := gb.state.RequireFitted("GradientBoostingRegressor", "MarshalParams"); err != nil {
		return nil, err
	}
	return json.Marshal(boostingParams{
		ModelState:      gb.state.State(),
		LearningRate:    gb.learningRate,
		MaxDepth:        gb.maxDepth,
		MinSamplesSplit: gb.minSamplesSplit,
		MinSamplesLeaf:  gb.minSamplesLeaf,
		InitScore:       gb.InitScore,
		Trees:           gb.Trees,
	})
}

// UnmarshalParams implements model.ParamCodec.
func (gb *GradientBoostingRegressor) UnmarshalParams(data []byte) error {
	var p boostingParams
	if err := json.Unmarshal(data, &p); err != nil {
		return errors.Wrap(err, "decode GradientBoostingRegressor params")
	}
	if err := validateTrees("GradientBoostingRegressor.UnmarshalParams", p.Trees, p.NFeatures); err != nil {
		return err
	}
	gb.nEstimators = len(p.Trees)
	gb.learningRate = p.LearningRate
	gb.maxDepth = p.MaxDepth
	gb.minSamplesSplit = p.MinSamplesSplit
	gb.minSamplesLeaf = p.MinSamplesLeaf
	gb.InitScore = p.InitScore
	gb.Trees = p.Trees
	gb.state.Restore(p.ModelState)
	return nil
}
