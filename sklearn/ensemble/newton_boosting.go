package ensemble

import (
	"encoding/json"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/regselect/core/model"
	"github.com/YuminosukeSato/regselect/pkg/errors"
	"github.com/YuminosukeSato/regselect/sklearn/tree"
)

// XGBKind はアーティファクト上の識別子
const XGBKind = "XGBRegressor"

// XGBRegressor は勾配とヘシアンの二次近似で木を成長させるブースティング回帰
//
// 目的関数は reg:squarederror（g = pred - y, h = 1）。分割利得は
// 0.5 * (GL²/(HL+λ) + GR²/(HR+λ) - G²/(H+λ)) - γ、葉の重みは -G/(H+λ) に eta を掛けたもの。
type XGBRegressor struct {
	state *model.StateManager

	nEstimators    int
	eta            float64
	maxDepth       int
	lambda         float64
	gamma          float64
	minChildWeight float64

	BaseScore float64
	Trees     []*tree.Tree
}

// XGBOption はXGBRegressorの設定オプション
type XGBOption func(*XGBRegressor)

// WithXGBEstimators はブースティングのラウンド数を設定
func WithXGBEstimators(n int) XGBOption {
	return func(xr *XGBRegressor) { xr.nEstimators = n }
}

// WithEta は学習率（shrinkage）を設定
func WithEta(eta float64) XGBOption {
	return func(xr *XGBRegressor) { xr.eta = eta }
}

// WithXGBMaxDepth は木の最大深さを設定
func WithXGBMaxDepth(depth int) XGBOption {
	return func(xr *XGBRegressor) { xr.maxDepth = depth }
}

// WithLambda はL2正則化係数を設定
func WithLambda(lambda float64) XGBOption {
	return func(xr *XGBRegressor) { xr.lambda = lambda }
}

// WithGamma は分割に必要な最小の損失減少量を設定
func WithGamma(gamma float64) XGBOption {
	return func(xr *XGBRegressor) { xr.gamma = gamma }
}

// WithMinChildWeight は子ノードのヘシアン和の下限を設定
func WithMinChildWeight(w float64) XGBOption {
	return func(xr *XGBRegressor) { xr.minChildWeight = w }
}

// NewXGBRegressor は新しい二次ブースティング回帰を作成する。
// デフォルト: 100 ラウンド, eta=0.3, max_depth=6, lambda=1, gamma=0, min_child_weight=1。
func NewXGBRegressor(options ...XGBOption) *XGBRegressor {
	xr := &XGBRegressor{
		state:          model.NewStateManager(),
		nEstimators:    100,
		eta:            0.3,
		maxDepth:       6,
		lambda:         1,
		minChildWeight: 1,
	}
	for _, opt := range options {
		opt(xr)
	}
	return xr
}

// Fit はモデルを訓練データで学習させる
func (xr *XGBRegressor) Fit(X, y mat.Matrix) error {
	if xr.nEstimators < 1 {
		return errors.NewValidationError("n_estimators", "must be positive", xr.nEstimators)
	}
	if xr.eta <= 0 {
		return errors.NewValidationError("eta", "must be positive", xr.eta)
	}
	if xr.lambda < 0 {
		return errors.NewValidationError("lambda", "must be non-negative", xr.lambda)
	}
	target, err := tree.CheckTarget("XGBRegressor.Fit", X, y)
	if err != nil {
		return err
	}
	d := tree.NewData(X)
	n := d.NRows

	base := mean(target)
	pred := make([]float64, n)
	for i := range pred {
		pred[i] = base
	}

	b := &newtonBuilder{
		data:           d,
		grad:           make([]float64, n),
		hess:           make([]float64, n),
		eta:            xr.eta,
		maxDepth:       xr.maxDepth,
		lambda:         xr.lambda,
		gamma:          xr.gamma,
		minChildWeight: xr.minChildWeight,
		scratch:        make([]int, n),
	}

	step := make([]float64, n)
	trees := make([]*tree.Tree, 0, xr.nEstimators)
	for round := 0; round < xr.nEstimators; round++ {
		for i := 0; i < n; i++ {
			b.grad[i] = pred[i] - target[i]
			b.hess[i] = 1
		}
		t := b.grow(identity(n))
		for i := range step {
			step[i] = t.PredictRow(d.Row(i))
		}
		if !addStage(pred, step, 1) {
			if err := stopBoosting("XGBRegressor", round); err != nil {
				return err
			}
			break
		}
		trees = append(trees, t)
	}

	xr.BaseScore = base
	xr.Trees = trees
	xr.state.SetFitted(d.NCols, n)
	return nil
}

// Predict は入力データに対する予測を行う
func (xr *XGBRegressor) Predict(X mat.Matrix) (mat.Matrix, error) {
	d, err := prepare(xr.state, "XGBRegressor", X)
	if err != nil {
		return nil, err
	}
	out := make([]float64, d.NRows)
	for i := range out {
		row := d.Row(i)
		v := xr.BaseScore
		for _, t := range xr.Trees {
			v += t.PredictRow(row)
		}
		out[i] = v
	}
	return mat.NewVecDense(d.NRows, out), nil
}

// newtonBuilder は勾配・ヘシアン統計量で1本の木を作る。葉の値は eta 適用済み。
type newtonBuilder struct {
	data           *tree.Data
	grad, hess     []float64
	eta            float64
	maxDepth       int
	lambda         float64
	gamma          float64
	minChildWeight float64

	nodes   []tree.Node
	scratch []int
}

type newtonSplit struct {
	feature   int
	threshold float64
	pos       int
	gain      float64
}

func (b *newtonBuilder) grow(indices []int) *tree.Tree {
	b.nodes = nil
	b.buildNode(indices, 0)
	return &tree.Tree{Nodes: b.nodes, NFeatures: b.data.NCols}
}

func (b *newtonBuilder) buildNode(indices []int, depth int) int {
	sumGrad, sumHess := 0.0, 0.0
	for _, idx := range indices {
		sumGrad += b.grad[idx]
		sumHess += b.hess[idx]
	}

	nodeIdx := len(b.nodes)
	b.nodes = append(b.nodes, tree.Node{
		Feature:  tree.LeafFeature,
		Left:     -1,
		Right:    -1,
		Value:    -sumGrad / (sumHess + b.lambda) * b.eta,
		NSamples: len(indices),
		Impurity: sumHess, // ヘシアン和 (cover)
	})

	if (b.maxDepth > 0 && depth >= b.maxDepth) || len(indices) < 2 {
		return nodeIdx
	}
	best, ok := b.findBestSplit(indices, sumGrad, sumHess)
	if !ok {
		return nodeIdx
	}

	b.sortByFeature(indices, best.feature)
	left := b.buildNode(indices[:best.pos], depth+1)
	right := b.buildNode(indices[best.pos:], depth+1)

	node := &b.nodes[nodeIdx]
	node.Feature = best.feature
	node.Threshold = best.threshold
	node.Left = left
	node.Right = right
	return nodeIdx
}

func (b *newtonBuilder) findBestSplit(indices []int, totalGrad, totalHess float64) (newtonSplit, bool) {
	n := len(indices)
	sorted := b.scratch[:n]
	parentScore := totalGrad * totalGrad / (totalHess + b.lambda)
	best := newtonSplit{feature: -1}
	found := false

	for f := 0; f < b.data.NCols; f++ {
		copy(sorted, indices)
		b.sortByFeature(sorted, f)

		leftGrad, leftHess := 0.0, 0.0
		for i := 1; i < n; i++ {
			leftGrad += b.grad[sorted[i-1]]
			leftHess += b.hess[sorted[i-1]]
			prev := b.data.At(sorted[i-1], f)
			cur := b.data.At(sorted[i], f)
			if cur == prev {
				continue
			}
			rightGrad := totalGrad - leftGrad
			rightHess := totalHess - leftHess
			if leftHess < b.minChildWeight || rightHess < b.minChildWeight {
				continue
			}
			gain := 0.5*(leftGrad*leftGrad/(leftHess+b.lambda)+
				rightGrad*rightGrad/(rightHess+b.lambda)-parentScore) - b.gamma
			if gain > best.gain {
				best = newtonSplit{feature: f, threshold: prev/2 + cur/2, pos: i, gain: gain}
				if best.threshold >= cur {
					best.threshold = prev
				}
				found = true
			}
		}
	}
	// 利得が正の分割だけを採用する
	return best, found && best.gain > 0
}

func (b *newtonBuilder) sortByFeature(indices []int, f int) {
	sort.SliceStable(indices, func(i, j int) bool {
		return b.data.At(indices[i], f) < b.data.At(indices[j], f)
	})
}

type xgbParams struct {
	model.ModelState
	Eta            float64      `json:"eta"`
	MaxDepth       int          `json:"max_depth"`
	Lambda         float64      `json:"lambda"`
	Gamma          float64      `json:"gamma"`
	MinChildWeight float64      `json:"min_child_weight"`
	BaseScore      float64      `json:"base_score"`
	Trees          []*tree.Tree `json:"trees"`
}

// Kind implements model.ParamCodec.
func (xr *XGBRegressor) Kind() string { return XGBKind }

// MarshalParams implements model.ParamCodec.
func (xr *XGBRegressor) MarshalParams() ([]byte, error) {
	if err := xr.state.RequireFitted("XGBRegressor", "MarshalParams"); err != nil {
		return nil, err
	}
	return json.Marshal(xgbParams{
		ModelState:     xr.state.State(),
		Eta:            xr.eta,
		MaxDepth:       xr.maxDepth,
		Lambda:         xr.lambda,
		Gamma:          xr.gamma,
		MinChildWeight: xr.minChildWeight,
		BaseScore:      xr.BaseScore,
		Trees:          xr.Trees,
	})
}

// UnmarshalParams implements model.ParamCodec.
func (xr *XGBRegressor) UnmarshalParams(data []byte) error {
	var p xgbParams
	if err := json.Unmarshal(data, &p); err != nil {
		return errors.Wrap(err, "decode XGBRegressor params")
	}
	if err := validateTrees("XGBRegressor.UnmarshalParams", p.Trees, p.NFeatures); err != nil {
		return err
	}
	xr.nEstimators = len(p.Trees)
	xr.eta = p.Eta
	xr.maxDepth = p.MaxDepth
	xr.lambda = p.Lambda
	xr.gamma = p.Gamma
	xr.minChildWeight = p.MinChildWeight
	xr.BaseScore = p.BaseScore
	xr.Trees = p.Trees
	xr.state.Restore(p.ModelState)
	return nil
}
