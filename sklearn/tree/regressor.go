package tree

import (
	"encoding/json"
	"fmt"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/regselect/core/model"
	"github.com/YuminosukeSato/regselect/pkg/errors"
)

// Kind はアーティファクト上の識別子
const Kind = "DecisionTreeRegressor"

// LeafFeature は葉ノードの Feature 値
const LeafFeature = -1

const (
	// impurityEpsilon 以下の不純度のノードは分割しない
	impurityEpsilon = 1e-12
	// featureEpsilon 以下しか違わない特徴量値は同じ値とみなす
	featureEpsilon = 1e-7
)

// Node は平坦化された木のノード。葉では Feature == LeafFeature。
type Node struct {
	Feature   int     `json:"feature"`
	Threshold float64 `json:"threshold"`
	Left      int     `json:"left"`
	Right     int     `json:"right"`
	Value     float64 `json:"value"`
	NSamples  int     `json:"n_samples"`
	Impurity  float64 `json:"impurity"`
}

// IsLeaf は葉ノードかを返す
func (n Node) IsLeaf() bool { return n.Feature == LeafFeature }

// Tree はルートを 0 番目に持つノード配列
type Tree struct {
	Nodes     []Node `json:"nodes"`
	NFeatures int    `json:"n_features"`
}

// PredictRow は1行分の予測値を返す。row の長さは NFeatures であること。
func (t *Tree) PredictRow(row []float64) float64 {
	idx := 0
	for {
		n := &t.Nodes[idx]
		if n.IsLeaf() {
			return n.Value
		}
		if row[n.Feature] <= n.Threshold {
			idx = n.Left
		} else {
			idx = n.Right
		}
	}
}

// Depth は木の深さを返す。葉のみの木は 0。
func (t *Tree) Depth() int {
	if len(t.Nodes) == 0 {
		return 0
	}
	var walk func(idx int) int
	walk = func(idx int) int {
		n := t.Nodes[idx]
		if n.IsLeaf() {
			return 0
		}
		return 1 + max(walk(n.Left), walk(n.Right))
	}
	return walk(0)
}

// NLeaves は葉の数を返す
func (t *Tree) NLeaves() int {
	count := 0
	for _, n := range t.Nodes {
		if n.IsLeaf() {
			count++
		}
	}
	return count
}

// Validate はノードの参照が正しいかを検査する
func (t *Tree) Validate() error {
	if len(t.Nodes) == 0 {
		return errors.NewValueError("Tree.Validate", "tree has no nodes")
	}
	for i, n := range t.Nodes {
		if n.IsLeaf() {
			continue
		}
		if n.Feature < 0 || n.Feature >= t.NFeatures {
			return errors.NewValueError("Tree.Validate", fmt.Sprintf("node %d: feature %d out of range", i, n.Feature))
		}
		// 子は常に親より後ろに格納される
		if n.Left <= i || n.Right <= i || n.Left >= len(t.Nodes) || n.Right >= len(t.Nodes) {
			return errors.NewValueError("Tree.Validate", fmt.Sprintf("node %d: invalid children %d, %d", i, n.Left, n.Right))
		}
	}
	return nil
}

// DecisionTreeRegressor は二乗誤差を最小化するCART回帰木
type DecisionTreeRegressor struct {
	state *model.StateManager

	// ハイパーパラメータ
	maxDepth        int // 0 は無制限
	minSamplesSplit int
	minSamplesLeaf  int

	// 学習パラメータ
	Tree *Tree
}

// Option はDecisionTreeRegressorの設定オプション
type Option func(*DecisionTreeRegressor)

// WithMaxDepth は木の最大深さを設定する。0 は無制限
func WithMaxDepth(depth int) Option {
	return func(dt *DecisionTreeRegressor) {
		dt.maxDepth = depth
	}
}

// WithMinSamplesSplit は分割に必要な最小サンプル数を設定
func WithMinSamplesSplit(n int) Option {
	return func(dt *DecisionTreeRegressor) {
		dt.minSamplesSplit = n
	}
}

// WithMinSamplesLeaf は葉の最小サンプル数を設定
func WithMinSamplesLeaf(n int) Option {
	return func(dt *DecisionTreeRegressor) {
		dt.minSamplesLeaf = n
	}
}

// NewDecisionTreeRegressor は新しい回帰木を作成する。
// デフォルトは max_depth=None, min_samples_split=2, min_samples_leaf=1。
func NewDecisionTreeRegressor(options ...Option) *DecisionTreeRegressor {
	dt := &DecisionTreeRegressor{
		state:           model.NewStateManager(),
		minSamplesSplit: 2,
		minSamplesLeaf:  1,
	}
	for _, opt := range options {
		opt(dt)
	}
	if dt.minSamplesSplit < 2 {
		dt.minSamplesSplit = 2
	}
	if dt.minSamplesLeaf < 1 {
		dt.minSamplesLeaf = 1
	}
	return dt
}

// Fit はモデルを訓練データで学習させる
func (dt *DecisionTreeRegressor) Fit(X, y mat.Matrix) error {
	target, err := CheckTarget("DecisionTreeRegressor.Fit", X, y)
	if err != nil {
		return err
	}
	indices := make([]int, len(target))
	for i := range indices {
		indices[i] = i
	}
	return dt.FitSubset(NewData(X), target, indices)
}

// FitSubset は indices で指定した行だけで学習する。indices は重複してよく
// （ブートストラップ標本）、重複した行はその回数だけ数えられる。
func (dt *DecisionTreeRegressor) FitSubset(d *Data, y []float64, indices []int) error {
	if len(indices) == 0 {
		return errors.NewModelError("DecisionTreeRegressor.Fit", "empty data", errors.ErrEmptyData)
	}
	b := &builder{
		data:            d,
		y:               y,
		maxDepth:        dt.maxDepth,
		minSamplesSplit: dt.minSamplesSplit,
		minSamplesLeaf:  dt.minSamplesLeaf,
		scratch:         make([]int, len(indices)),
	}
	work := append([]int(nil), indices...)
	b.build(work, 0)

	dt.Tree = &Tree{Nodes: b.nodes, NFeatures: d.NCols}
	dt.state.SetFitted(d.NCols, len(indices))
	return nil
}

// Predict は入力データに対する予測を行う
func (dt *DecisionTreeRegressor) Predict(X mat.Matrix) (mat.Matrix, error) {
	if err := dt.state.RequireFitted("DecisionTreeRegressor", "Predict"); err != nil {
		return nil, err
	}
	_, c := X.Dims()
	if err := dt.state.RequireFeatures("DecisionTreeRegressor.Predict", c); err != nil {
		return nil, err
	}
	return mat.NewVecDense(rowsOf(X), dt.PredictData(NewData(X))), nil
}

// PredictData は検査済みの Data に対する予測値を返す
func (dt *DecisionTreeRegressor) PredictData(d *Data) []float64 {
	out := make([]float64, d.NRows)
	for i := range out {
		out[i] = dt.Tree.PredictRow(d.Row(i))
	}
	return out
}

// GetDepth は学習済みの木の深さを返す
func (dt *DecisionTreeRegressor) GetDepth() int {
	if dt.Tree == nil {
		return 0
	}
	return dt.Tree.Depth()
}

// GetNLeaves は学習済みの木の葉の数を返す
func (dt *DecisionTreeRegressor) GetNLeaves() int {
	if dt.Tree == nil {
		return 0
	}
	return dt.Tree.NLeaves()
}

// GetParams はハイパーパラメータを返す
func (dt *DecisionTreeRegressor) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"criterion":         "squared_error",
		"max_depth":         dt.maxDepth,
		"min_samples_split": dt.minSamplesSplit,
		"min_samples_leaf":  dt.minSamplesLeaf,
	}
}

type treeParams struct {
	MaxDepth        int   `json:"max_depth"`
	MinSamplesSplit int   `json:"min_samples_split"`
	MinSamplesLeaf  int   `json:"min_samples_leaf"`
	Tree            *Tree `json:"tree"`
}

// Kind implements model.ParamCodec.
func (dt *DecisionTreeRegressor) Kind() string { return Kind }

// MarshalParams implements model.ParamCodec.
func (dt *DecisionTreeRegressor) MarshalParams() ([]byte, error) {
	if err := dt.state.RequireFitted("DecisionTreeRegressor", "MarshalParams"); err != nil {
		return nil, err
	}
	return json.Marshal(treeParams{
		MaxDepth:        dt.maxDepth,
		MinSamplesSplit: dt.minSamplesSplit,
		MinSamplesLeaf:  dt.minSamplesLeaf,
		Tree:            dt.Tree,
	})
}

// UnmarshalParams implements model.ParamCodec.
func (dt *DecisionTreeRegressor) UnmarshalParams(data []byte) error {
	var p treeParams
	if err := json.Unmarshal(data, &p); err != nil {
		return errors.Wrap(err, "decode DecisionTreeRegressor params")
	}
	if p.Tree == nil {
		return errors.NewValueError("DecisionTreeRegressor.UnmarshalParams", "missing tree")
	}
	if err := p.Tree.Validate(); err != nil {
		return err
	}
	dt.maxDepth = p.MaxDepth
	dt.minSamplesSplit = p.MinSamplesSplit
	dt.minSamplesLeaf = p.MinSamplesLeaf
	dt.Tree = p.Tree
	dt.state.SetFitted(p.Tree.NFeatures, p.Tree.Nodes[0].NSamples)
	return nil
}

func rowsOf(X mat.Matrix) int {
	r, _ := X.Dims()
	return r
}

// builder は深さ優先で木を構築する
type builder struct {
	data            *Data
	y               []float64
	maxDepth        int
	minSamplesSplit int
	minSamplesLeaf  int

	nodes   []Node
	scratch []int
}

type split struct {
	feature   int
	threshold float64
	pos       int // 並べ替えた indices の左側の個数
	proxy     float64
}

func (b *builder) build(indices []int, depth int) int {
	n := len(indices)
	sum, sumSq := 0.0, 0.0
	for _, idx := range indices {
		v := b.y[idx]
		sum += v
		sumSq += v * v
	}
	mean := sum / float64(n)
	impurity := max(sumSq/float64(n)-mean*mean, 0)

	nodeIdx := len(b.nodes)
	b.nodes = append(b.nodes, Node{
		Feature:  LeafFeature,
		Left:     -1,
		Right:    -1,
		Value:    mean,
		NSamples: n,
		Impurity: impurity,
	})

	if n < b.minSamplesSplit || n < 2*b.minSamplesLeaf ||
		(b.maxDepth > 0 && depth >= b.maxDepth) || impurity <= impurityEpsilon {
		return nodeIdx
	}

	best, ok := b.findSplit(indices, sum)
	if !ok {
		return nodeIdx
	}

	// indices を best.feature で並べ替えて左右に分ける
	b.sortByFeature(indices, best.feature)
	left := indices[:best.pos]
	right := indices[best.pos:]

	leftIdx := b.build(left, depth+1)
	rightIdx := b.build(right, depth+1)

	node := &b.nodes[nodeIdx]
	node.Feature = best.feature
	node.Threshold = best.threshold
	node.Left = leftIdx
	node.Right = rightIdx
	return nodeIdx
}

// findSplit は sumL²/nL + sumR²/nR を最大化する分割を探す。
// 同点の場合は特徴量番号の小さい方、閾値の小さい方を選ぶ。
func (b *builder) findSplit(indices []int, total float64) (split, bool) {
	n := len(indices)
	sorted := b.scratch[:n]
	best := split{feature: -1}
	found := false

	for f := 0; f < b.data.NCols; f++ {
		copy(sorted, indices)
		b.sortByFeature(sorted, f)

		lo := b.data.At(sorted[0], f)
		hi := b.data.At(sorted[n-1], f)
		if hi <= lo+featureEpsilon {
			continue
		}

		sumLeft := 0.0
		for i := 1; i < n; i++ {
			sumLeft += b.y[sorted[i-1]]
			prev := b.data.At(sorted[i-1], f)
			cur := b.data.At(sorted[i], f)
			if cur <= prev+featureEpsilon {
				continue
			}
			if i < b.minSamplesLeaf || n-i < b.minSamplesLeaf {
				continue
			}
			sumRight := total - sumLeft
			proxy := sumLeft*sumLeft/float64(i) + sumRight*sumRight/float64(n-i)
			if !found || proxy > best.proxy {
				threshold := prev/2 + cur/2
				if threshold >= cur {
					threshold = prev
				}
				best = split{feature: f, threshold: threshold, pos: i, proxy: proxy}
				found = true
			}
		}
	}
	return best, found
}

func (b *builder) sortByFeature(indices []int, f int) {
	sort.SliceStable(indices, func(a, c int) bool {
		return b.data.At(indices[a], f) < b.data.At(indices[c], f)
	})
}
