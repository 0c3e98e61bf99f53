// Package tree は二乗誤差基準のCART回帰木を提供します。
//
// 木はノードを配列に平坦化して保持し、アンサンブル（ランダムフォレスト、
// 勾配ブースティング、AdaBoost）から部分標本で学習できます。
package tree

import (
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/regselect/core/model"
	"github.com/YuminosukeSato/regselect/pkg/errors"
)

// Data は行優先に展開した特徴量行列。アンサンブルでは一度だけ作成して共有する。
type Data struct {
	X     []float64
	NRows int
	NCols int
}

// NewData は mat.Matrix を行優先の Data に変換する
func NewData(X mat.Matrix) *Data {
	r, c := X.Dims()
	d := &Data{X: make([]float64, r*c), NRows: r, NCols: c}
	if dense, ok := X.(*mat.Dense); ok {
		raw := dense.RawMatrix()
		for i := 0; i < r; i++ {
			copy(d.X[i*c:(i+1)*c], raw.Data[i*raw.Stride:i*raw.Stride+c])
		}
		return d
	}
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			d.X[i*c+j] = X.At(i, j)
		}
	}
	return d
}

// Row は i 行目をコピーせずに返す
func (d *Data) Row(i int) []float64 {
	return d.X[i*d.NCols : (i+1)*d.NCols]
}

// At は (i, j) の値を返す
func (d *Data) At(i, j int) float64 {
	return d.X[i*d.NCols+j]
}

// CheckTarget は X と y の形を検査し、y を長さ n のスライスにして返す
func CheckTarget(op string, X, y mat.Matrix) ([]float64, error) {
	r, c := X.Dims()
	ry, cy := y.Dims()
	if r == 0 || c == 0 {
		return nil, errors.NewModelError(op, "empty data", errors.ErrEmptyData)
	}
	if ry != r {
		return nil, errors.NewDimensionError(op, r, ry, 0)
	}
	if cy != 1 {
		return nil, errors.NewValueError(op, "y must be a column vector")
	}
	out := model.TargetColumn(y)
	if err := errors.CheckMatrix(op, mat.NewVecDense(r, out)); err != nil {
		return nil, err
	}
	return out, nil
}
