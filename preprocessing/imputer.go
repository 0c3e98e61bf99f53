package preprocessing

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/regselect/core/model"
	"github.com/YuminosukeSato/regselect/pkg/errors"
)

// SimpleImputer は数値列の欠損値（NaN）を列の中央値で埋める
type SimpleImputer struct {
	state *model.StateManager

	// Columns はエラーメッセージに使う列名。空でもよい
	Columns []string

	// Statistics は各列の中央値
	Statistics []float64
}

// ImputerParams は数値インピュータの学習済みパラメータ
type ImputerParams struct {
	Strategy   string    `json:"strategy"`
	Statistics []float64 `json:"statistics"`
}

// NewSimpleImputer は中央値戦略のSimpleImputerを作成する
func NewSimpleImputer(columns []string) *SimpleImputer {
	return &SimpleImputer{state: model.NewStateManager(), Columns: columns}
}

// Fit は NaN を除いた各列の中央値を計算する。観測値が1つもない列はデータエラー。
func (imp *SimpleImputer) Fit(X mat.Matrix) error {
	r, c := X.Dims()
	if r == 0 || c == 0 {
		return errors.NewModelError("SimpleImputer.Fit", "empty data", errors.ErrEmptyData)
	}

	imp.Statistics = make([]float64, c)
	observed := make([]float64, 0, r)
	for j := 0; j < c; j++ {
		observed = observed[:0]
		for i := 0; i < r; i++ {
			if v := X.At(i, j); !math.IsNaN(v) {
				observed = append(observed, v)
			}
		}
		if len(observed) == 0 {
			return errors.NewColumnDataError("SimpleImputer.Fit", imp.columnName(j),
				"numeric training column has no observed values", nil)
		}
		imp.Statistics[j] = median(observed)
	}

	imp.state.SetFitted(c, r)
	return nil
}

// Transform は NaN を学習済みの中央値で置き換える
func (imp *SimpleImputer) Transform(X mat.Matrix) (mat.Matrix, error) {
	if err := imp.state.RequireFitted("SimpleImputer", "Transform"); err != nil {
		return nil, err
	}
	r, c := X.Dims()
	if err := imp.state.RequireFeatures("SimpleImputer.Transform", c); err != nil {
		return nil, err
	}

	result := mat.NewDense(r, c, nil)
	result.Apply(func(_, j int, v float64) float64 {
		if math.IsNaN(v) {
			return imp.Statistics[j]
		}
		return v
	}, X)
	return result, nil
}

// Params は学習済みパラメータを返す
func (imp *SimpleImputer) Params() ImputerParams {
	return ImputerParams{Strategy: "median", Statistics: append([]float64(nil), imp.Statistics...)}
}

// RestoreSimpleImputer は保存済みパラメータから学習済みインピュータを復元する
func RestoreSimpleImputer(columns []string, p ImputerParams) (*SimpleImputer, error) {
	if p.Strategy != "median" {
		return nil, errors.NewValidationError("strategy", "unsupported imputation strategy", p.Strategy)
	}
	if len(p.Statistics) != len(columns) {
		return nil, errors.NewDimensionError("RestoreSimpleImputer", len(columns), len(p.Statistics), 1)
	}
	imp := NewSimpleImputer(columns)
	imp.Statistics = append([]float64(nil), p.Statistics...)
	imp.state.SetFitted(len(columns), 0)
	return imp, nil
}

func (imp *SimpleImputer) columnName(j int) string {
	if j < len(imp.Columns) {
		return imp.Columns[j]
	}
	return ""
}

// median は x を並べ替えて中央値を返す。偶数個の場合は中央2値の平均。
func median(x []float64) float64 {
	sorted := append([]float64(nil), x...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// CategoricalImputer はカテゴリ列の欠損値を最頻値で埋める。
// 最頻値が複数ある場合は辞書順で最小の値を選ぶ。
type CategoricalImputer struct {
	state *model.StateManager

	Columns []string

	// Statistics は各列の最頻値
	Statistics []string
}

// CategoricalImputerParams はカテゴリインピュータの学習済みパラメータ
type CategoricalImputerParams struct {
	Strategy   string   `json:"strategy"`
	Statistics []string `json:"statistics"`
}

// NewCategoricalImputer は最頻値戦略のCategoricalImputerを作成する
func NewCategoricalImputer(columns []string) *CategoricalImputer {
	return &CategoricalImputer{state: model.NewStateManager(), Columns: columns}
}

// Fit は各列の最頻値を求める。columns[j][i] は列 j の i 行目、missing[j][i] はその欠損フラグ。
func (imp *CategoricalImputer) Fit(columns [][]string, missing [][]bool) error {
	if len(columns) == 0 || len(columns[0]) == 0 {
		return errors.NewModelError("CategoricalImputer.Fit", "empty data", errors.ErrEmptyData)
	}

	imp.Statistics = make([]string, len(columns))
	for j, values := range columns {
		counts := make(map[string]int)
		for i, v := range values {
			if !missing[j][i] {
				counts[v]++
			}
		}
		if len(counts) == 0 {
			return errors.NewColumnDataError("CategoricalImputer.Fit", imp.columnName(j),
				"categorical training column has no observed values", nil)
		}
		imp.Statistics[j] = mostFrequent(counts)
	}

	imp.state.SetFitted(len(columns), len(columns[0]))
	return nil
}

// Transform は欠損セルを最頻値で置き換えた新しい列を返す
func (imp *CategoricalImputer) Transform(columns [][]string, missing [][]bool) ([][]string, error) {
	if err := imp.state.RequireFitted("CategoricalImputer", "Transform"); err != nil {
		return nil, err
	}
	if err := imp.state.RequireFeatures("CategoricalImputer.Transform", len(columns)); err != nil {
		return nil, err
	}

	out := make([][]string, len(columns))
	for j, values := range columns {
		out[j] = make([]string, len(values))
		for i, v := range values {
			if missing[j][i] {
				out[j][i] = imp.Statistics[j]
			} else {
				out[j][i] = v
			}
		}
	}
	return out, nil
}

// Params は学習済みパラメータを返す
func (imp *CategoricalImputer) Params() CategoricalImputerParams {
	return CategoricalImputerParams{Strategy: "most_frequent", Statistics: append([]string(nil), imp.Statistics...)}
}

// RestoreCategoricalImputer は保存済みパラメータから学習済みインピュータを復元する
func RestoreCategoricalImputer(columns []string, p CategoricalImputerParams) (*CategoricalImputer, error) {
	if p.Strategy != "most_frequent" {
		return nil, errors.NewValidationError("strategy", "unsupported imputation strategy", p.Strategy)
	}
	if len(p.Statistics) != len(columns) {
		return nil, errors.NewDimensionError("RestoreCategoricalImputer", len(columns), len(p.Statistics), 1)
	}
	imp := NewCategoricalImputer(columns)
	imp.Statistics = append([]string(nil), p.Statistics...)
	imp.state.SetFitted(len(columns), 0)
	return imp, nil
}

func (imp *CategoricalImputer) columnName(j int) string {
	if j < len(imp.Columns) {
		return imp.Columns[j]
	}
	return ""
}

func mostFrequent(counts map[string]int) string {
	best, bestCount := "", -1
	for v, n := range counts {
		if n > bestCount || (n == bestCount && v < best) {
			best, bestCount = v, n
		}
	}
	return best
}
