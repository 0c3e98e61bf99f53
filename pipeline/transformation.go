package pipeline

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/regselect/core/model"
	"github.com/YuminosukeSato/regselect/dataset"
	"github.com/YuminosukeSato/regselect/pkg/errors"
	"github.com/YuminosukeSato/regselect/pkg/log"
	"github.com/YuminosukeSato/regselect/preprocessing"
	"github.com/YuminosukeSato/regselect/telemetry"
)

// 分割のラベル。メトリクスとログで使う。
const (
	SplitTrain = "train"
	SplitTest  = "test"
)

// TransformResult は FitTransformAndPersist の結果。
// Train と Test の最終列は目的変数。
type TransformResult struct {
	Train        *mat.Dense
	Test         *mat.Dense
	ArtifactPath string
	Transformer  *preprocessing.ColumnTransformer
}

// FeatureTransformer は生レコードを回帰用の数値行列に変換する
type FeatureTransformer struct {
	Schema       dataset.Schema
	ArtifactPath string

	runtime
}

// NewFeatureTransformer は schema の列構成で変換を行い、学習済み変換を artifactPath に保存する
// FeatureTransformer を作成する
func NewFeatureTransformer(schema dataset.Schema, artifactPath string, options ...Option) *FeatureTransformer {
	return &FeatureTransformer{
		Schema:       schema,
		ArtifactPath: artifactPath,
		runtime:      newRuntime("feature_transformer", options),
	}
}

// BuildTransform は未学習の変換を作る。副作用はなく、スキーマが不正な場合のみ失敗する。
func (ft *FeatureTransformer) BuildTransform() (*preprocessing.ColumnTransformer, error) {
	return preprocessing.NewColumnTransformer(ft.Schema)
}

// FitTransformAndPersist は訓練レコードで変換を学習し、訓練・テストの両方を同じ状態で変換して
// 目的変数を最終列に付加する。学習済み変換は ArtifactPath に保存する。
// テストレコードは学習済み統計量に影響しない。
func (ft *FeatureTransformer) FitTransformAndPersist(ctx context.Context, train, test dataset.RecordSet) (result *TransformResult, err error) {
	const op = "FeatureTransformer.FitTransformAndPersist"
	ctx, span := ft.tracer.Start(ctx, telemetry.SpanFitTransform,
		attribute.Int("data.train_rows", train.Len()),
		attribute.Int("data.test_rows", test.Len()),
	)
	defer func() { telemetry.End(span, err) }()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	logger := ft.logger.With(log.PhaseKey, log.PhasePreprocessing)
	logger.Info("Obtained schema columns",
		log.NumericColumnsKey, strings.Join(ft.Schema.NumericColumns, ","),
		log.CategoricalColumnsKey, strings.Join(ft.Schema.CategoricalColumns, ","),
		log.TargetColumnKey, ft.Schema.TargetColumn,
	)
	if strings.TrimSpace(ft.Schema.TargetColumn) == "" {
		return nil, errors.NewDataError(op, "schema has no target column")
	}

	splits := []struct {
		name string
		rs   dataset.RecordSet
	}{
		{SplitTrain, train},
		{SplitTest, test},
	}
	targets := make([][]float64, len(splits))
	for i, s := range splits {
		if s.rs.Len() == 0 {
			return nil, errors.NewDataError(op, s.name+" record set is empty")
		}
		if err := ft.Schema.RequireColumns(op, s.rs, true); err != nil {
			return nil, err
		}
		if targets[i], err = s.rs.Targets(op, ft.Schema.TargetColumn); err != nil {
			return nil, err
		}
	}

	ct, err := ft.BuildTransform()
	if err != nil {
		return nil, err
	}

	start := time.Now()
	logger.Info("Applying preprocessing object on training and testing data",
		log.OperationKey, log.OperationFitTransform,
	)
	Xtrain, err := ct.FitTransform(train)
	if err != nil {
		return nil, err
	}
	Xtest, err := ct.Transform(test)
	if err != nil {
		return nil, err
	}
	ft.meter.AddRowsTransformed(SplitTrain, train.Len())
	ft.meter.AddRowsTransformed(SplitTest, test.Len())
	logger.Info("Transformed records",
		log.OperationKey, log.OperationFitTransform,
		log.SamplesKey, train.Len()+test.Len(),
		log.FeaturesKey, ct.OutputWidth(),
		log.DurationMsKey, time.Since(start).Milliseconds(),
	)

	if err := ft.persist(ct); err != nil {
		logger.Error("Failed to save preprocessing object", err,
			log.ErrorCodeKey, log.ErrorPersistence,
			log.ArtifactPathKey, ft.ArtifactPath,
		)
		return nil, err
	}
	logger.Info("Saved preprocessing object",
		log.OperationKey, log.OperationPersist,
		log.ArtifactKindKey, string(model.KindTransformer),
		log.ArtifactPathKey, ft.ArtifactPath,
	)

	return &TransformResult{
		Train:        appendTarget(Xtrain, targets[0]),
		Test:         appendTarget(Xtest, targets[1]),
		ArtifactPath: ft.ArtifactPath,
		Transformer:  ct,
	}, nil
}

func (ft *FeatureTransformer) persist(ct *preprocessing.ColumnTransformer) (err error) {
	defer func() { ft.meter.RecordArtifactWrite(string(model.KindTransformer), err) }()
	a, err := ct.MarshalArtifact()
	if err != nil {
		return errors.NewPersistenceError("FeatureTransformer.persist", ft.ArtifactPath, err)
	}
	if err := ft.store.Save(ft.ArtifactPath, a); err != nil {
		var pe *errors.PersistenceError
		if errors.As(err, &pe) {
			return err
		}
		return errors.NewPersistenceError("FeatureTransformer.persist", ft.ArtifactPath, err)
	}
	return nil
}

// LoadTransformer は保存された学習済み変換を復元する
func LoadTransformer(store model.ArtifactStore, path string) (*preprocessing.ColumnTransformer, error) {
	a, err := store.Load(path)
	if err != nil {
		return nil, err
	}
	ct, err := preprocessing.UnmarshalArtifact(a)
	if err != nil {
		return nil, errors.NewPersistenceError("LoadTransformer", path, err)
	}
	return ct, nil
}

// appendTarget は X の右に目的変数の列を付加した新しい行列を返す
func appendTarget(X *mat.Dense, y []float64) *mat.Dense {
	r, c := X.Dims()
	out := mat.NewDense(r, c+1, nil)
	out.Slice(0, r, 0, c).(*mat.Dense).Copy(X)
	out.SetCol(c, y)
	return out
}
