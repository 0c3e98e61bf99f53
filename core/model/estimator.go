// Package model は回帰モデルと変換器の共通インターフェースおよび
// 学習済み状態を永続化するアーティファクト形式を定義します。
package model

import "gonum.org/v1/gonum/mat"

// Fitter は学習可能なモデルのインターフェース
type Fitter interface {
	// Fit はモデルを訓練データで学習させる
	Fit(X, y mat.Matrix) error
}

// Predictor は予測可能なモデルのインターフェース
type Predictor interface {
	// Predict は入力データに対する予測を行う。戻り値は n×1 の列ベクトル
	Predict(X mat.Matrix) (mat.Matrix, error)
}

// Regressor は候補パネルに登録される回帰モデル
type Regressor interface {
	Fitter
	Predictor
}

// ParamCodec は学習済みパラメータをアーティファクトのブロックとして
// 書き出し・復元できるモデルのインターフェース
type ParamCodec interface {
	// Kind はアーティファクトのタグ model/<Kind> に使われる識別子
	Kind() string
	// MarshalParams は学習済みパラメータをJSONにする
	MarshalParams() ([]byte, error)
	// UnmarshalParams はMarshalParamsの出力から学習済み状態を復元する
	UnmarshalParams(data []byte) error
}

// PersistableRegressor は学習と永続化の両方を備えた回帰モデル
type PersistableRegressor interface {
	Regressor
	ParamCodec
}

// Transformer は学習済み統計量で行列を変換するインターフェース
type Transformer interface {
	Transform(X mat.Matrix) (mat.Matrix, error)
}

// TargetColumn は X と整合する n×1 行列から目的変数を取り出す。
// mat.Vector を実装していればそのまま読む。
func TargetColumn(y mat.Matrix) []float64 {
	r, c := y.Dims()
	out := make([]float64, r)
	if v, ok := y.(mat.Vector); ok {
		for i := range out {
			out[i] = v.AtVec(i)
		}
		return out
	}
	if c == 0 {
		return out
	}
	for i := range out {
		out[i] = y.At(i, 0)
	}
	return out
}
