package pipeline

import (
	"github.com/YuminosukeSato/regselect/core/model"
	"github.com/YuminosukeSato/regselect/dataset"
	"github.com/YuminosukeSato/regselect/preprocessing"
)

// Predictor は保存済みの変換とモデルで新しいレコードの目的変数を予測する
type Predictor struct {
	Transformer *preprocessing.ColumnTransformer
	Model       model.PersistableRegressor
}

// LoadPredictor は2つのアーティファクトを読み込んで Predictor を作る
func LoadPredictor(store model.ArtifactStore, transformerPath, modelPath string) (*Predictor, error) {
	ct, err := LoadTransformer(store, transformerPath)
	if err != nil {
		return nil, err
	}
	m, err := LoadModel(store, modelPath)
	if err != nil {
		return nil, err
	}
	return &Predictor{Transformer: ct, Model: m}, nil
}

// PredictRecords はレコードごとに1つの予測値を返す。目的変数列は不要で、あっても無視する。
func (p *Predictor) PredictRecords(rs dataset.RecordSet) ([]float64, error) {
	X, err := p.Transformer.Transform(rs)
	if err != nil {
		return nil, err
	}
	pred, err := p.Model.Predict(X)
	if err != nil {
		return nil, err
	}
	return model.TargetColumn(pred), nil
}
