package preprocessing

import (
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/regselect/core/model"
	"github.com/YuminosukeSato/regselect/pkg/errors"
)

// OneHotEncoder はカテゴリ列を 0/1 の列に展開する。
// 学習時に見ていないカテゴリは全て 0 のブロックになり、UnknownCategoryWarning を出す。
type OneHotEncoder struct {
	state *model.StateManager

	Columns []string

	// Categories は列ごとの辞書順に並んだカテゴリ
	Categories [][]string

	index []map[string]int
}

// OneHotParams はOneHotEncoderの学習済みパラメータ
type OneHotParams struct {
	HandleUnknown string     `json:"handle_unknown"`
	Categories    [][]string `json:"categories"`
}

// NewOneHotEncoder は handle_unknown=ignore のOneHotEncoderを作成する
func NewOneHotEncoder(columns []string) *OneHotEncoder {
	return &OneHotEncoder{state: model.NewStateManager(), Columns: columns}
}

// Fit は列ごとのカテゴリ集合を学習する
func (e *OneHotEncoder) Fit(columns [][]string) error {
	if len(columns) == 0 || len(columns[0]) == 0 {
		return errors.NewModelError("OneHotEncoder.Fit", "empty data", errors.ErrEmptyData)
	}

	categories := make([][]string, len(columns))
	for j, values := range columns {
		seen := make(map[string]struct{})
		for _, v := range values {
			seen[v] = struct{}{}
		}
		cats := make([]string, 0, len(seen))
		for v := range seen {
			cats = append(cats, v)
		}
		sort.Strings(cats)
		categories[j] = cats
	}
	e.setCategories(categories)
	e.state.SetFitted(len(columns), len(columns[0]))
	return nil
}

func (e *OneHotEncoder) setCategories(categories [][]string) {
	e.Categories = categories
	e.index = make([]map[string]int, len(categories))
	for j, cats := range categories {
		e.index[j] = make(map[string]int, len(cats))
		for k, v := range cats {
			e.index[j][v] = k
		}
	}
}

// OutputWidth は展開後の列数を返す
func (e *OneHotEncoder) OutputWidth() int {
	width := 0
	for _, cats := range e.Categories {
		width += len(cats)
	}
	return width
}

// FeatureNames は展開後の列名 "<列名>_<カテゴリ>" を返す
func (e *OneHotEncoder) FeatureNames() []string {
	names := make([]string, 0, e.OutputWidth())
	for j, cats := range e.Categories {
		prefix := e.columnName(j)
		for _, c := range cats {
			names = append(names, prefix+"_"+c)
		}
	}
	return names
}

// Transform はカテゴリ列を one-hot 行列に変換する
func (e *OneHotEncoder) Transform(columns [][]string) (*mat.Dense, error) {
	if err := e.state.RequireFitted("OneHotEncoder", "Transform"); err != nil {
		return nil, err
	}
	if err := e.state.RequireFeatures("OneHotEncoder.Transform", len(columns)); err != nil {
		return nil, err
	}
	rows := len(columns[0])
	if rows == 0 {
		return nil, errors.NewModelError("OneHotEncoder.Transform", "empty data", errors.ErrEmptyData)
	}

	result := mat.NewDense(rows, e.OutputWidth(), nil)
	offset := 0
	for j, values := range columns {
		var unknown []string
		unknownRows := 0
		for i, v := range values {
			k, ok := e.index[j][v]
			if !ok {
				unknownRows++
				unknown = appendUnique(unknown, v)
				continue
			}
			result.Set(i, offset+k, 1)
		}
		if unknownRows > 0 {
			errors.Warn(errors.NewUnknownCategoryWarning(e.columnName(j), unknown, unknownRows))
		}
		offset += len(e.Categories[j])
	}
	return result, nil
}

// Params は学習済みパラメータを返す
func (e *OneHotEncoder) Params() OneHotParams {
	cats := make([][]string, len(e.Categories))
	for j, c := range e.Categories {
		cats[j] = append([]string(nil), c...)
	}
	return OneHotParams{HandleUnknown: "ignore", Categories: cats}
}

// RestoreOneHotEncoder は保存済みパラメータから学習済みエンコーダを復元する
func RestoreOneHotEncoder(columns []string, p OneHotParams) (*OneHotEncoder, error) {
	if p.HandleUnknown != "ignore" {
		return nil, errors.NewValidationError("handle_unknown", "only 'ignore' is supported", p.HandleUnknown)
	}
	if len(p.Categories) != len(columns) {
		return nil, errors.NewDimensionError("RestoreOneHotEncoder", len(columns), len(p.Categories), 1)
	}
	for j, cats := range p.Categories {
		if len(cats) == 0 {
			return nil, errors.NewColumnDataError("RestoreOneHotEncoder", columns[j], "no categories", nil)
		}
		if !sort.StringsAreSorted(cats) {
			return nil, errors.NewColumnDataError("RestoreOneHotEncoder", columns[j], "categories are not sorted", nil)
		}
	}
	cats := make([][]string, len(p.Categories))
	for j, c := range p.Categories {
		cats[j] = append([]string(nil), c...)
	}
	e := NewOneHotEncoder(columns)
	e.setCategories(cats)
	e.state.SetFitted(len(columns), 0)
	return e, nil
}

func appendUnique(list []string, v string) []string {
	for _, x := range list {
		if x == v {
			return list
		}
	}
	return append(list, v)
}

func (e *OneHotEncoder) columnName(j int) string {
	if j < len(e.Columns) {
		return e.Columns[j]
	}
	return ""
}
