package preprocessing

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/YuminosukeSato/regselect/core/model"
	"github.com/YuminosukeSato/regselect/pkg/errors"
)

// scaleEpsilon 未満の標準偏差は 1 とみなす
const scaleEpsilon = 1e-8

// StandardScaler はscikit-learn互換の標準化スケーラー
// データを平均0、標準偏差1に変換する
type StandardScaler struct {
	state *model.StateManager

	// Mean は各特徴量の平均値。WithMean が false の場合は 0
	Mean []float64

	// Scale は各特徴量の標準偏差（母分散ベース）
	Scale []float64

	// WithMean は平均を引くかどうか
	WithMean bool

	// WithStd は標準偏差で割るかどうか
	WithStd bool
}

var _ model.Transformer = (*StandardScaler)(nil)

// ScalerParams はStandardScalerの学習済みパラメータ
type ScalerParams struct {
	WithMean bool      `json:"with_mean"`
	WithStd  bool      `json:"with_std"`
	Mean     []float64 `json:"mean"`
	Scale    []float64 `json:"scale"`
}

// NewStandardScaler は新しいStandardScalerを作成する
//
// 使用例:
//
//	scaler := preprocessing.NewStandardScaler(true, true)
//	err := scaler.Fit(X)
//	XScaled, err := scaler.Transform(X)
func NewStandardScaler(withMean, withStd bool) *StandardScaler {
	return &StandardScaler{
		state:    model.NewStateManager(),
		WithMean: withMean,
		WithStd:  withStd,
	}
}

// NewStandardScalerDefault はデフォルト設定でStandardScalerを作成する
func NewStandardScalerDefault() *StandardScaler {
	return NewStandardScaler(true, true)
}

// Fit は訓練データから統計情報（平均、標準偏差）を計算する。
// 分散は WithMean に関わらず実際の列平均の周りで計算する。
func (s *StandardScaler) Fit(X mat.Matrix) error {
	r, c := X.Dims()
	if r == 0 || c == 0 {
		return errors.NewModelError("StandardScaler.Fit", "empty data", errors.ErrEmptyData)
	}

	s.Mean = make([]float64, c)
	s.Scale = make([]float64, c)

	col := make([]float64, r)
	for j := 0; j < c; j++ {
		mat.Col(col, j, X)
		mean, variance := stat.PopMeanVariance(col, nil)
		if s.WithMean {
			s.Mean[j] = mean
		}
		s.Scale[j] = 1.0
		if s.WithStd {
			std := math.Sqrt(variance)
			// 標準偏差が0に近い場合は1に設定（ゼロ除算を避ける）
			if std >= scaleEpsilon {
				s.Scale[j] = std
			}
		}
	}
	if err := errors.CheckScalar("StandardScaler.Fit", floats.Sum(s.Mean)+floats.Sum(s.Scale)); err != nil {
		return err
	}

	s.state.SetFitted(c, r)
	return nil
}

// Transform は学習済みの統計情報を使ってデータを標準化する
func (s *StandardScaler) Transform(X mat.Matrix) (mat.Matrix, error) {
	if err := s.state.RequireFitted("StandardScaler", "Transform"); err != nil {
		return nil, err
	}
	r, c := X.Dims()
	if err := s.state.RequireFeatures("StandardScaler.Transform", c); err != nil {
		return nil, err
	}

	result := mat.NewDense(r, c, nil)
	result.Apply(func(_, j int, v float64) float64 {
		return (v - s.Mean[j]) / s.Scale[j]
	}, X)
	return result, nil
}

// FitTransform は訓練データで学習し、同じデータを変換する
func (s *StandardScaler) FitTransform(X mat.Matrix) (mat.Matrix, error) {
	if err := s.Fit(X); err != nil {
		return nil, err
	}
	return s.Transform(X)
}

// IsFitted は学習済みかを返す
func (s *StandardScaler) IsFitted() bool { return s.state.IsFitted() }

// Params は学習済みパラメータを返す
func (s *StandardScaler) Params() ScalerParams {
	return ScalerParams{
		WithMean: s.WithMean,
		WithStd:  s.WithStd,
		Mean:     append([]float64(nil), s.Mean...),
		Scale:    append([]float64(nil), s.Scale...),
	}
}

// RestoreStandardScaler は保存済みパラメータから学習済みスケーラーを復元する
func RestoreStandardScaler(p ScalerParams) (*StandardScaler, error) {
	if len(p.Mean) != len(p.Scale) {
		return nil, errors.NewDimensionError("RestoreStandardScaler", len(p.Mean), len(p.Scale), 1)
	}
	for j, v := range p.Scale {
		if v == 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, errors.NewValidationError(fmt.Sprintf("scale[%d]", j), "must be finite and non-zero", v)
		}
	}
	s := NewStandardScaler(p.WithMean, p.WithStd)
	s.Mean = append([]float64(nil), p.Mean...)
	s.Scale = append([]float64(nil), p.Scale...)
	s.state.SetFitted(len(p.Mean), 0)
	return s, nil
}

// String はスケーラーの文字列表現を返す
func (s *StandardScaler) String() string {
	if !s.IsFitted() {
		return fmt.Sprintf("StandardScaler(with_mean=%t, with_std=%t)", s.WithMean, s.WithStd)
	}
	nFeatures, _ := s.state.Dimensions()
	return fmt.Sprintf("StandardScaler(with_mean=%t, with_std=%t, n_features=%d)",
		s.WithMean, s.WithStd, nFeatures)
}
