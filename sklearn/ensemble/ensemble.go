// Package ensemble は回帰木のアンサンブルを提供します。
//
// RandomForestRegressor（バギング）、GradientBoostingRegressor（一次の勾配ブースティング）、
// XGBRegressor（二次近似のブースティング）、AdaBoostRegressor（AdaBoost.R2）の4種類。
// 学習済みの木はすべて tree.Tree のノード配列として保持・永続化されます。
package ensemble

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/regselect/core/model"
	"github.com/YuminosukeSato/regselect/pkg/errors"
	"github.com/YuminosukeSato/regselect/sklearn/tree"
)

// prepare は Predict 共通の検査を行い、入力を行優先の Data にする
func prepare(state *model.StateManager, name string, X mat.Matrix) (*tree.Data, error) {
	if err := state.RequireFitted(name, "Predict"); err != nil {
		return nil, err
	}
	_, c := X.Dims()
	if err := state.RequireFeatures(name+".Predict", c); err != nil {
		return nil, err
	}
	return tree.NewData(X), nil
}

// validateTrees は復元した木がすべて nFeatures 列の入力を受け付けるかを検査する
func validateTrees(op string, trees []*tree.Tree, nFeatures int) error {
	if len(trees) == 0 {
		return errors.NewValueError(op, "no trees")
	}
	for i, t := range trees {
		if t == nil {
			return errors.NewValueError(op, fmt.Sprintf("tree %d is missing", i))
		}
		if t.NFeatures != nFeatures {
			return errors.NewDimensionError(op, nFeatures, t.NFeatures, 1)
		}
		if err := t.Validate(); err != nil {
			return errors.Wrapf(err, "tree %d", i)
		}
	}
	return nil
}

func mean(values []float64) float64 {
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func identity(n int) []int {
	indices := make([]int, n)
	for i := range indices {
		indices[i] = i
	}
	return indices
}

// addStage は pred に scale*step を足す。有限でない値が出る場合は pred を変えずに false を返す。
func addStage(pred, step []float64, scale float64) bool {
	for i, v := range step {
		if p := pred[i] + scale*v; math.IsNaN(p) || math.IsInf(p, 0) {
			return false
		}
	}
	for i, v := range step {
		pred[i] += scale * v
	}
	return true
}

// stopBoosting は stage 段目で打ち切ったことを警告する。1段も残らない場合はエラー。
func stopBoosting(name string, stage int) error {
	errors.Warn(errors.NewConvergenceWarning(name, stage, "training predictions became non-finite"))
	if stage == 0 {
		return errors.NewNumericalInstabilityError(name+".Fit", nil, -1, -1)
	}
	return nil
}
