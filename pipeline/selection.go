package pipeline

import (
	"context"
	"math"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/regselect/core/model"
	"github.com/YuminosukeSato/regselect/metrics"
	"github.com/YuminosukeSato/regselect/pkg/errors"
	"github.com/YuminosukeSato/regselect/pkg/log"
	"github.com/YuminosukeSato/regselect/telemetry"
)

// DefaultThreshold は最良モデルに要求する R² の下限
const DefaultThreshold = 0.6

// ScoreEntry は候補1つのテスト分割での評価結果。評価されなかった候補の Score は NaN。
type ScoreEntry struct {
	Name     string        `json:"name"`
	Score    float64       `json:"score"`
	Duration time.Duration `json:"duration"`
}

// ScoreReport はパネル順の評価結果
type ScoreReport []ScoreEntry

// Best は最大スコアのエントリとその位置を返す。同点は先のエントリ、NaN は選ばれない。
func (r ScoreReport) Best() (ScoreEntry, int, bool) {
	best := -1
	for i, e := range r {
		if math.IsNaN(e.Score) {
			continue
		}
		if best < 0 || e.Score > r[best].Score {
			best = i
		}
	}
	if best < 0 {
		return ScoreEntry{}, -1, false
	}
	return r[best], best, true
}

// Score は name のスコアを返す
func (r ScoreReport) Score(name string) (float64, bool) {
	for _, e := range r {
		if e.Name == name {
			return e.Score, true
		}
	}
	return math.NaN(), false
}

// Selection は SelectBest の結果
type Selection struct {
	BestName     string
	Score        float64
	Report       ScoreReport
	ArtifactPath string
	Model        model.PersistableRegressor
}

// ModelSelector は候補パネルを学習・評価して最良のモデルを保存する
type ModelSelector struct {
	Panel        Panel
	Threshold    float64
	ArtifactPath string

	// Parallel が true の場合は候補を並列に評価する。Workers が 0 以下なら全候補を同時に評価する。
	Parallel bool
	Workers  int

	runtime
}

// NewModelSelector は既定パネルと既定閾値の ModelSelector を作成する
func NewModelSelector(artifactPath string, options ...Option) *ModelSelector {
	return &ModelSelector{
		Panel:        DefaultPanel(),
		Threshold:    DefaultThreshold,
		ArtifactPath: artifactPath,
		runtime:      newRuntime("model_selector", options),
	}
}

// split は最終列を目的変数として特徴量と分ける
type split struct {
	X *mat.Dense
	y *mat.VecDense
}

func splitTarget(m *mat.Dense) split {
	r, c := m.Dims()
	return split{
		X: m.Slice(0, r, 0, c-1).(*mat.Dense),
		y: mat.NewVecDense(r, mat.Col(nil, c-1, m)),
	}
}

func checkSplits(op string, train, test *mat.Dense) error {
	if train == nil || test == nil {
		return errors.NewDataError(op, "train and test matrices are required")
	}
	rTrain, cTrain := train.Dims()
	rTest, cTest := test.Dims()
	if cTrain < 2 || cTest < 2 {
		return errors.NewDataError(op, "matrices need at least one feature column and the target column")
	}
	if cTrain != cTest {
		return errors.NewDimensionError(op, cTrain, cTest, 1)
	}
	if rTrain == 0 || rTest == 0 {
		return errors.NewDataError(op, "train and test matrices need at least one row")
	}
	return nil
}

// SelectBest は各候補を train で学習し test で R² を計算して最良のモデルを選ぶ。
// 最良スコアが Threshold 未満ならモデル品質エラーを返し、アーティファクトは書き込まない。
//
// 評価が始まった後のエラーでも返される Selection は Report を持つ。
// 失敗した候補や評価されなかった候補のスコアは NaN。
func (ms *ModelSelector) SelectBest(ctx context.Context, train, test *mat.Dense) (sel *Selection, err error) {
	const op = "ModelSelector.SelectBest"
	ctx, span := ms.tracer.Start(ctx, telemetry.SpanSelectBest,
		attribute.Int("panel.size", len(ms.Panel)),
		attribute.Float64(log.ThresholdKey, ms.Threshold),
	)
	defer func() { telemetry.End(span, err) }()

	if err := ms.Panel.Validate(); err != nil {
		return nil, err
	}
	if err := checkSplits(op, train, test); err != nil {
		return nil, err
	}

	logger := ms.logger.With(log.PhaseKey, log.PhaseSelection)
	trainSplit, testSplit := splitTarget(train), splitTarget(test)
	_, nFeatures := trainSplit.X.Dims()
	logger.Info("Split training and test input data",
		log.SamplesKey, trainSplit.y.Len()+testSplit.y.Len(),
		log.FeaturesKey, nFeatures,
	)

	report := make(ScoreReport, len(ms.Panel))
	for i, c := range ms.Panel {
		report[i] = ScoreEntry{Name: c.Name, Score: math.NaN()}
	}
	sel = &Selection{Score: math.NaN(), Report: report}

	fitted, err := ms.evaluateAll(ctx, logger, trainSplit, testSplit, report)
	if err != nil {
		return sel, err
	}

	best, idx, ok := report.Best()
	if !ok {
		best.Score = math.NaN()
	}
	if !ok || best.Score < ms.Threshold {
		err := errors.NewModelQualityError(best.Name, best.Score, ms.Threshold)
		logger.Warn("No best model found",
			log.ModelNameKey, best.Name,
			log.R2ScoreKey, best.Score,
			log.ThresholdKey, ms.Threshold,
			log.ErrorCodeKey, log.ErrorQualityGate,
		)
		return sel, err
	}
	sel.BestName, sel.Score = best.Name, best.Score
	sel.Model = fitted[idx]
	logger.Info("Best found model on both training and testing dataset",
		log.ModelNameKey, best.Name,
		log.R2ScoreKey, best.Score,
	)

	if err := ms.persist(sel.Model); err != nil {
		logger.Error("Failed to save best model", err,
			log.ModelNameKey, best.Name,
			log.ErrorCodeKey, log.ErrorPersistence,
			log.ArtifactPathKey, ms.ArtifactPath,
		)
		return sel, err
	}
	sel.ArtifactPath = ms.ArtifactPath
	logger.Info("Saved best model",
		log.OperationKey, log.OperationPersist,
		log.ModelNameKey, best.Name,
		log.ArtifactKindKey, string(model.KindModel),
		log.ArtifactPathKey, ms.ArtifactPath,
	)
	return sel, nil
}

// evaluateAll は全ての候補を評価して report を埋める。
// 失敗した候補が複数ある場合はパネル順で最初のエラーを返す。
func (ms *ModelSelector) evaluateAll(ctx context.Context, logger log.Logger, train, test split, report ScoreReport) ([]model.PersistableRegressor, error) {
	fitted := make([]model.PersistableRegressor, len(ms.Panel))
	errs := make([]error, len(ms.Panel))
	eval := func(i int) {
		if err := ctx.Err(); err != nil {
			errs[i] = err
			return
		}
		fitted[i], report[i], errs[i] = ms.evaluate(ctx, logger, ms.Panel[i], train, test)
	}

	if ms.Parallel {
		// 1つの候補の失敗で他をキャンセルしないため WithContext は使わない
		var g errgroup.Group
		if ms.Workers > 0 {
			g.SetLimit(ms.Workers)
		}
		for i := range ms.Panel {
			g.Go(func() error {
				eval(i)
				return nil
			})
		}
		_ = g.Wait()
	} else {
		for i := range ms.Panel {
			eval(i)
			if errs[i] != nil {
				break
			}
		}
	}

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return fitted, nil
}

// evaluate は候補1つを新しいインスタンスで学習し、テスト分割の R² を計算する
func (ms *ModelSelector) evaluate(ctx context.Context, logger log.Logger, c Candidate, train, test split) (m model.PersistableRegressor, entry ScoreEntry, err error) {
	_, span := ms.tracer.Start(ctx, telemetry.SpanCandidateEvaluate, attribute.String(log.ModelNameKey, c.Name))
	defer func() { telemetry.End(span, err) }()

	entry = ScoreEntry{Name: c.Name, Score: math.NaN()}
	start := time.Now()
	err = errors.SafeTrain(c.Name, log.OperationFit, func() error {
		m = c.New()
		if m == nil {
			return errors.NewValueError(c.Name, "factory returned nil")
		}
		return m.Fit(train.X, train.y)
	})
	var pred mat.Matrix
	if err == nil {
		err = errors.SafeTrain(c.Name, log.OperationPredict, func() error {
			var perr error
			pred, perr = m.Predict(test.X)
			return perr
		})
	}
	if err == nil {
		entry.Score, err = metrics.R2ScoreMatrix(test.y, pred)
		if err != nil {
			err = errors.NewTrainingError(c.Name, log.OperationScore, err)
		}
	}
	entry.Duration = time.Since(start)

	if err != nil {
		entry.Score = math.NaN()
		logger.Error("Candidate failed", err,
			log.ModelNameKey, c.Name,
			log.ErrorCodeKey, log.ErrorTraining,
		)
		return nil, entry, err
	}
	ms.meter.ObserveCandidate(c.Name, entry.Duration, entry.Score)
	logger.Info("Evaluated candidate",
		log.ModelNameKey, c.Name,
		log.R2ScoreKey, entry.Score,
		log.DurationMsKey, entry.Duration.Milliseconds(),
	)
	return m, entry, nil
}

func (ms *ModelSelector) persist(m model.PersistableRegressor) (err error) {
	defer func() { ms.meter.RecordArtifactWrite(string(model.KindModel), err) }()
	if err := model.SaveRegressor(ms.store, ms.ArtifactPath, m); err != nil {
		var pe *errors.PersistenceError
		if errors.As(err, &pe) {
			return err
		}
		return errors.NewPersistenceError("ModelSelector.persist", ms.ArtifactPath, err)
	}
	return nil
}
