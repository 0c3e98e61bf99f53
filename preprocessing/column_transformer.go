package preprocessing

import (
	"gonum.org/v1/gonum/mat"
	"golang.org/x/sync/errgroup"

	"github.com/YuminosukeSato/regselect/core/model"
	"github.com/YuminosukeSato/regselect/dataset"
	"github.com/YuminosukeSato/regselect/pkg/errors"
)

// 変換器アーティファクトのブロックタグ
const (
	TagSchema            = "schema"
	TagMedianImputer     = "imputer/median"
	TagNumericScaler     = "scaler/numeric"
	TagMostFrequent      = "imputer/most_frequent"
	TagOneHotEncoder     = "encoder/onehot"
	TagCategoricalScaler = "scaler/categorical"
)

var transformerTags = map[string]bool{
	TagSchema:            true,
	TagMedianImputer:     true,
	TagNumericScaler:     true,
	TagMostFrequent:      true,
	TagOneHotEncoder:     true,
	TagCategoricalScaler: true,
}

// ColumnTransformer は数値列とカテゴリ列に別々の前処理を適用し、
// 数値列、カテゴリ列の順に結合した行列を返す。
//
//	数値:     中央値補完 -> StandardScaler(with_mean=true, with_std=true)
//	カテゴリ: 最頻値補完 -> OneHot(handle_unknown=ignore) -> StandardScaler(with_mean=false, with_std=true)
//
// 学習後の状態は変更されないため、複数のゴルーチンから Transform を呼んでよい。
type ColumnTransformer struct {
	Schema dataset.Schema

	state *model.StateManager

	numImputer *SimpleImputer
	numScaler  *StandardScaler

	catImputer *CategoricalImputer
	encoder    *OneHotEncoder
	catScaler  *StandardScaler
}

// NewColumnTransformer は未学習のColumnTransformerを作成する。スキーマが不正ならデータエラー。
func NewColumnTransformer(schema dataset.Schema) (*ColumnTransformer, error) {
	if err := schema.Validate(); err != nil {
		return nil, err
	}
	return &ColumnTransformer{
		Schema:     schema,
		state:      model.NewStateManager(),
		numImputer: NewSimpleImputer(schema.NumericColumns),
		numScaler:  NewStandardScaler(true, true),
		catImputer: NewCategoricalImputer(schema.CategoricalColumns),
		encoder:    NewOneHotEncoder(schema.CategoricalColumns),
		catScaler:  NewStandardScaler(false, true),
	}, nil
}

func (ct *ColumnTransformer) hasNumeric() bool     { return len(ct.Schema.NumericColumns) > 0 }
func (ct *ColumnTransformer) hasCategorical() bool { return len(ct.Schema.CategoricalColumns) > 0 }

// IsFitted は学習済みかを返す
func (ct *ColumnTransformer) IsFitted() bool { return ct.state.IsFitted() }

// Fit は訓練レコードのみから統計量を学習する
func (ct *ColumnTransformer) Fit(rs dataset.RecordSet) error {
	const op = "ColumnTransformer.Fit"
	if err := ct.checkRecords(op, rs); err != nil {
		return err
	}

	var numErr, catErr error
	var g errgroup.Group
	if ct.hasNumeric() {
		g.Go(func() error {
			numErr = ct.fitNumeric(op, rs)
			return numErr
		})
	}
	if ct.hasCategorical() {
		g.Go(func() error {
			catErr = ct.fitCategorical(rs)
			return catErr
		})
	}
	if g.Wait() != nil {
		// 数値側のエラーを優先して結果を決定的にする
		if numErr != nil {
			return numErr
		}
		return catErr
	}

	ct.state.SetFitted(ct.OutputWidth(), rs.Len())
	return nil
}

func (ct *ColumnTransformer) fitNumeric(op string, rs dataset.RecordSet) error {
	X, err := ct.numericMatrix(op, rs)
	if err != nil {
		return err
	}
	if err := ct.numImputer.Fit(X); err != nil {
		return err
	}
	imputed, err := ct.numImputer.Transform(X)
	if err != nil {
		return err
	}
	return ct.numScaler.Fit(imputed)
}

func (ct *ColumnTransformer) fitCategorical(rs dataset.RecordSet) error {
	cols, missing := ct.categoricalColumns(rs)
	if err := ct.catImputer.Fit(cols, missing); err != nil {
		return err
	}
	imputed, err := ct.catImputer.Transform(cols, missing)
	if err != nil {
		return err
	}
	if err := ct.encoder.Fit(imputed); err != nil {
		return err
	}
	encoded, err := ct.encoder.Transform(imputed)
	if err != nil {
		return err
	}
	return ct.catScaler.Fit(encoded)
}

// Transform は学習済みの統計量でレコードを行列に変換する。目的変数列は不要。
func (ct *ColumnTransformer) Transform(rs dataset.RecordSet) (*mat.Dense, error) {
	const op = "ColumnTransformer.Transform"
	if err := ct.state.RequireFitted("ColumnTransformer", "Transform"); err != nil {
		return nil, err
	}
	if err := ct.checkRecords(op, rs); err != nil {
		return nil, err
	}

	var num, cat mat.Matrix
	var numErr, catErr error
	var g errgroup.Group
	if ct.hasNumeric() {
		g.Go(func() error {
			num, numErr = ct.transformNumeric(op, rs)
			return numErr
		})
	}
	if ct.hasCategorical() {
		g.Go(func() error {
			cat, catErr = ct.transformCategorical(rs)
			return catErr
		})
	}
	if g.Wait() != nil {
		if numErr != nil {
			return nil, numErr
		}
		return nil, catErr
	}

	rows := rs.Len()
	wNum := len(ct.Schema.NumericColumns)
	out := mat.NewDense(rows, ct.OutputWidth(), nil)
	if num != nil {
		out.Slice(0, rows, 0, wNum).(*mat.Dense).Copy(num)
	}
	if cat != nil {
		out.Slice(0, rows, wNum, ct.OutputWidth()).(*mat.Dense).Copy(cat)
	}
	return out, nil
}

func (ct *ColumnTransformer) transformNumeric(op string, rs dataset.RecordSet) (mat.Matrix, error) {
	X, err := ct.numericMatrix(op, rs)
	if err != nil {
		return nil, err
	}
	imputed, err := ct.numImputer.Transform(X)
	if err != nil {
		return nil, err
	}
	return ct.numScaler.Transform(imputed)
}

func (ct *ColumnTransformer) transformCategorical(rs dataset.RecordSet) (mat.Matrix, error) {
	cols, missing := ct.categoricalColumns(rs)
	imputed, err := ct.catImputer.Transform(cols, missing)
	if err != nil {
		return nil, err
	}
	encoded, err := ct.encoder.Transform(imputed)
	if err != nil {
		return nil, err
	}
	return ct.catScaler.Transform(encoded)
}

// FitTransform は Fit の後に同じレコードを Transform する
func (ct *ColumnTransformer) FitTransform(rs dataset.RecordSet) (*mat.Dense, error) {
	if err := ct.Fit(rs); err != nil {
		return nil, err
	}
	return ct.Transform(rs)
}

// OutputWidth は変換後の列数を返す
func (ct *ColumnTransformer) OutputWidth() int {
	return len(ct.Schema.NumericColumns) + ct.encoder.OutputWidth()
}

// FeatureNames は変換後の列名を返す
func (ct *ColumnTransformer) FeatureNames() []string {
	names := append([]string(nil), ct.Schema.NumericColumns...)
	return append(names, ct.encoder.FeatureNames()...)
}

// Categories はカテゴリ列ごとの学習済みカテゴリを返す
func (ct *ColumnTransformer) Categories() map[string][]string {
	out := make(map[string][]string, len(ct.encoder.Categories))
	for j, c := range ct.encoder.Categories {
		out[ct.Schema.CategoricalColumns[j]] = append([]string(nil), c...)
	}
	return out
}

// Medians は数値列ごとの補完値を返す
func (ct *ColumnTransformer) Medians() map[string]float64 {
	out := make(map[string]float64, len(ct.numImputer.Statistics))
	for j, v := range ct.numImputer.Statistics {
		out[ct.Schema.NumericColumns[j]] = v
	}
	return out
}

// Modes はカテゴリ列ごとの補完値を返す
func (ct *ColumnTransformer) Modes() map[string]string {
	out := make(map[string]string, len(ct.catImputer.Statistics))
	for j, v := range ct.catImputer.Statistics {
		out[ct.Schema.CategoricalColumns[j]] = v
	}
	return out
}

// NumericScaler は数値列のスケーラーのパラメータを返す
func (ct *ColumnTransformer) NumericScaler() ScalerParams { return ct.numScaler.Params() }

// CategoricalScaler は one-hot 列のスケーラーのパラメータを返す
func (ct *ColumnTransformer) CategoricalScaler() ScalerParams { return ct.catScaler.Params() }

func (ct *ColumnTransformer) checkRecords(op string, rs dataset.RecordSet) error {
	if rs.Len() == 0 {
		return errors.NewDataError(op, "record set is empty")
	}
	return ct.Schema.RequireColumns(op, rs, false)
}

func (ct *ColumnTransformer) numericMatrix(op string, rs dataset.RecordSet) (*mat.Dense, error) {
	cols := ct.Schema.NumericColumns
	X := mat.NewDense(rs.Len(), len(cols), nil)
	for j, name := range cols {
		values, err := rs.NumericColumn(op, name)
		if err != nil {
			return nil, err
		}
		X.SetCol(j, values)
	}
	return X, nil
}

func (ct *ColumnTransformer) categoricalColumns(rs dataset.RecordSet) ([][]string, [][]bool) {
	cols := make([][]string, len(ct.Schema.CategoricalColumns))
	missing := make([][]bool, len(cols))
	for j, name := range ct.Schema.CategoricalColumns {
		cols[j] = rs.Column(name)
		missing[j] = make([]bool, len(cols[j]))
		for i, v := range cols[j] {
			missing[j][i] = dataset.IsMissing(v)
		}
	}
	return cols, missing
}

// MarshalArtifact は学習済みの状態をタグ付きブロックのアーティファクトにする
func (ct *ColumnTransformer) MarshalArtifact() (*model.Artifact, error) {
	if err := ct.state.RequireFitted("ColumnTransformer", "MarshalArtifact"); err != nil {
		return nil, err
	}
	a := model.NewArtifact(model.KindTransformer)
	blocks := []struct {
		tag  string
		data interface{}
		keep bool
	}{
		{TagSchema, ct.Schema, true},
		{TagMedianImputer, ct.numImputer.Params(), ct.hasNumeric()},
		{TagNumericScaler, ct.numScaler.Params(), ct.hasNumeric()},
		{TagMostFrequent, ct.catImputer.Params(), ct.hasCategorical()},
		{TagOneHotEncoder, ct.encoder.Params(), ct.hasCategorical()},
		{TagCategoricalScaler, ct.catScaler.Params(), ct.hasCategorical()},
	}
	for _, b := range blocks {
		if !b.keep {
			continue
		}
		if err := a.AddBlock(b.tag, b.data); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// UnmarshalArtifact は MarshalArtifact の出力から学習済みColumnTransformerを復元する
func UnmarshalArtifact(a *model.Artifact) (*ColumnTransformer, error) {
	if err := a.Validate(model.KindTransformer, func(tag string) bool { return transformerTags[tag] }); err != nil {
		return nil, err
	}

	var schema dataset.Schema
	if err := a.DecodeBlock(TagSchema, &schema); err != nil {
		return nil, err
	}
	ct, err := NewColumnTransformer(schema)
	if err != nil {
		return nil, err
	}

	if ct.hasNumeric() {
		var ip ImputerParams
		var sp ScalerParams
		if err := a.DecodeBlock(TagMedianImputer, &ip); err != nil {
			return nil, err
		}
		if err := a.DecodeBlock(TagNumericScaler, &sp); err != nil {
			return nil, err
		}
		if ct.numImputer, err = RestoreSimpleImputer(schema.NumericColumns, ip); err != nil {
			return nil, err
		}
		if ct.numScaler, err = RestoreStandardScaler(sp); err != nil {
			return nil, err
		}
		if len(sp.Mean) != len(schema.NumericColumns) {
			return nil, errors.NewDimensionError("UnmarshalArtifact", len(schema.NumericColumns), len(sp.Mean), 1)
		}
	}

	if ct.hasCategorical() {
		var ip CategoricalImputerParams
		var ohp OneHotParams
		var sp ScalerParams
		if err := a.DecodeBlock(TagMostFrequent, &ip); err != nil {
			return nil, err
		}
		if err := a.DecodeBlock(TagOneHotEncoder, &ohp); err != nil {
			return nil, err
		}
		if err := a.DecodeBlock(TagCategoricalScaler, &sp); err != nil {
			return nil, err
		}
		if ct.catImputer, err = RestoreCategoricalImputer(schema.CategoricalColumns, ip); err != nil {
			return nil, err
		}
		if ct.encoder, err = RestoreOneHotEncoder(schema.CategoricalColumns, ohp); err != nil {
			return nil, err
		}
		if ct.catScaler, err = RestoreStandardScaler(sp); err != nil {
			return nil, err
		}
		if len(sp.Mean) != ct.encoder.OutputWidth() {
			return nil, errors.NewDimensionError("UnmarshalArtifact", ct.encoder.OutputWidth(), len(sp.Mean), 1)
		}
	}

	ct.state.SetFitted(ct.OutputWidth(), 0)
	return ct, nil
}
