package ensemble

import (
	"encoding/json"
	"math"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/regselect/core/model"
	"github.com/YuminosukeSato/regselect/pkg/errors"
	"github.com/YuminosukeSato/regselect/sklearn/tree"
)

// AdaBoostKind はアーティファクト上の識別子
const AdaBoostKind = "AdaBoostRegressor"

// AdaBoostRegressor は AdaBoost.R2（線形損失）による回帰
//
// 各段でサンプル重みに従って復元抽出した標本に浅い回帰木を学習し、
// 予測は推定器の重み付き中央値とする。
type AdaBoostRegressor struct {
	state *model.StateManager

	nEstimators  int
	learningRate float64
	maxDepth     int
	randomState  int64

	Trees   []*tree.Tree
	Weights []float64
}

// AdaBoostOption はAdaBoostRegressorの設定オプション
type AdaBoostOption func(*AdaBoostRegressor)

// WithAdaBoostEstimators は推定器の最大数を設定
func WithAdaBoostEstimators(n int) AdaBoostOption {
	return func(ab *AdaBoostRegressor) { ab.nEstimators = n }
}

// WithAdaBoostLearningRate は学習率を設定
func WithAdaBoostLearningRate(lr float64) AdaBoostOption {
	return func(ab *AdaBoostRegressor) { ab.learningRate = lr }
}

// WithAdaBoostRandomState は復元抽出の乱数シードを設定
func WithAdaBoostRandomState(seed int64) AdaBoostOption {
	return func(ab *AdaBoostRegressor) { ab.randomState = seed }
}

// NewAdaBoostRegressor は新しい AdaBoost 回帰を作成する。
// デフォルト: 50 推定器, 学習率 1.0, 深さ 3 の回帰木, seed 42。
func NewAdaBoostRegressor(options ...AdaBoostOption) *AdaBoostRegressor {
	ab := &AdaBoostRegressor{
		state:        model.NewStateManager(),
		nEstimators:  50,
		learningRate: 1.0,
		maxDepth:     3,
		randomState:  42,
	}
	for _, opt := range options {
		opt(ab)
	}
	return ab
}

// Fit はモデルを訓練データで学習させる
func (ab *AdaBoostRegressor) Fit(X, y mat.Matrix) error {
	if ab.nEstimators < 1 {
		return errors.NewValidationError("n_estimators", "must be positive", ab.nEstimators)
	}
	if ab.learningRate <= 0 {
		return errors.NewValidationError("learning_rate", "must be positive", ab.learningRate)
	}
	target, err := tree.CheckTarget("AdaBoostRegressor.Fit", X, y)
	if err != nil {
		return err
	}
	d := tree.NewData(X)
	n := d.NRows

	rng := rand.New(rand.NewSource(ab.randomState))
	sampleWeight := make([]float64, n)
	for i := range sampleWeight {
		sampleWeight[i] = 1 / float64(n)
	}
	errorVect := make([]float64, n)
	cdf := make([]float64, n)

	var trees []*tree.Tree
	var weights []float64
	for iboost := 0; iboost < ab.nEstimators; iboost++ {
		indices := weightedBootstrap(rng, sampleWeight, cdf)
		dt := tree.NewDecisionTreeRegressor(tree.WithMaxDepth(ab.maxDepth))
		if err := dt.FitSubset(d, target, indices); err != nil {
			return errors.Wrapf(err, "boost %d", iboost)
		}
		pred := dt.PredictData(d)

		errorMax := 0.0
		for i := range errorVect {
			errorVect[i] = math.Abs(pred[i] - target[i])
			if sampleWeight[i] > 0 && errorVect[i] > errorMax {
				errorMax = errorVect[i]
			}
		}
		if errorMax != 0 {
			for i := range errorVect {
				errorVect[i] /= errorMax
			}
		}
		estimatorError := 0.0
		for i, w := range sampleWeight {
			if w > 0 {
				estimatorError += w * errorVect[i]
			}
		}

		if estimatorError <= 0 {
			// 完全に当てはまったのでここで打ち切る
			trees = append(trees, dt.Tree)
			weights = append(weights, 1)
			break
		}
		if estimatorError >= 0.5 {
			// 弱学習器より悪い推定器は、最初の1本でない限り捨てる
			if len(trees) == 0 {
				trees = append(trees, dt.Tree)
				weights = append(weights, 0)
			}
			break
		}

		beta := estimatorError / (1 - estimatorError)
		trees = append(trees, dt.Tree)
		weights = append(weights, ab.learningRate*math.Log(1/beta))

		if iboost == ab.nEstimators-1 {
			break
		}
		total := 0.0
		for i, w := range sampleWeight {
			if w > 0 {
				sampleWeight[i] = w * math.Pow(beta, (1-errorVect[i])*ab.learningRate)
			}
			total += sampleWeight[i]
		}
		if total <= 0 {
			break
		}
		for i := range sampleWeight {
			sampleWeight[i] /= total
		}
	}

	ab.Trees = trees
	ab.Weights = weights
	ab.state.SetFitted(d.NCols, n)
	return nil
}

// weightedBootstrap は重みに比例した確率で n 個の行番号を復元抽出する
func weightedBootstrap(rng *rand.Rand, weights, cdf []float64) []int {
	acc := 0.0
	for i, w := range weights {
		acc += w
		cdf[i] = acc
	}
	indices := make([]int, len(weights))
	for i := range indices {
		u := rng.Float64() * acc
		j := sort.Search(len(cdf), func(k int) bool { return cdf[k] > u })
		if j == len(cdf) {
			j = len(cdf) - 1
		}
		indices[i] = j
	}
	return indices
}

// Predict は推定器の予測の重み付き中央値を返す
func (ab *AdaBoostRegressor) Predict(X mat.Matrix) (mat.Matrix, error) {
	d, err := prepare(ab.state, "AdaBoostRegressor", X)
	if err != nil {
		return nil, err
	}
	out := make([]float64, d.NRows)
	preds := make([]float64, len(ab.Trees))
	order := make([]int, len(ab.Trees))
	for i := range out {
		row := d.Row(i)
		for k, t := range ab.Trees {
			preds[k] = t.PredictRow(row)
			order[k] = k
		}
		out[i] = weightedMedian(preds, ab.Weights, order)
	}
	return mat.NewVecDense(d.NRows, out), nil
}

// weightedMedian は累積重みが総重みの半分以上になる最初の予測値を返す
func weightedMedian(preds, weights []float64, order []int) float64 {
	sort.SliceStable(order, func(a, b int) bool { return preds[order[a]] < preds[order[b]] })
	total := 0.0
	for _, w := range weights {
		total += w
	}
	acc := 0.0
	for _, k := range order {
		acc += weights[k]
		if acc >= 0.5*total {
			return preds[k]
		}
	}
	return preds[order[len(order)-1]]
}

type adaBoostParams struct {
	model.ModelState
	LearningRate float64      `json:"learning_rate"`
	MaxDepth     int          `json:"max_depth"`
	RandomState  int64        `json:"random_state"`
	Weights      []float64    `json:"estimator_weights"`
	Trees        []*tree.Tree `json:"trees"`
}

// Kind implements model.ParamCodec.
func (ab *AdaBoostRegressor) Kind() string { return AdaBoostKind }

// MarshalParams implements model.ParamCodec.
func (ab *AdaBoostRegressor) MarshalParams() ([]byte, error) {
	if err := ab.state.RequireFitted("AdaBoostRegressor", "MarshalParams"); err != nil {
		return nil, err
	}
	return json.Marshal(adaBoostParams{
		ModelState:   ab.state.State(),
		LearningRate: ab.learningRate,
		MaxDepth:     ab.maxDepth,
		RandomState:  ab.randomState,
		Weights:      ab.Weights,
		Trees:        ab.Trees,
	})
}

// UnmarshalParams implements model.ParamCodec.
func (ab *AdaBoostRegressor) UnmarshalParams(data []byte) error {
	var p adaBoostParams
	if err := json.Unmarshal(data, &p); err != nil {
		return errors.Wrap(err, "decode AdaBoostRegressor params")
	}
	if err := validateTrees("AdaBoostRegressor.UnmarshalParams", p.Trees, p.NFeatures); err != nil {
		return err
	}
	if len(p.Weights) != len(p.Trees) {
		return errors.NewDimensionError("AdaBoostRegressor.UnmarshalParams", len(p.Trees), len(p.Weights), 0)
	}
	ab.nEstimators = len(p.Trees)
	ab.learningRate = p.LearningRate
	ab.maxDepth = p.MaxDepth
	ab.randomState = p.RandomState
	ab.Weights = p.Weights
	ab.Trees = p.Trees
	ab.state.Restore(p.ModelState)
	return nil
}
