package pipeline

import (
	"context"
	"math"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/YuminosukeSato/regselect/dataset"
	"github.com/YuminosukeSato/regselect/history"
	"github.com/YuminosukeSato/regselect/pkg/errors"
	"github.com/YuminosukeSato/regselect/pkg/log"
	"github.com/YuminosukeSato/regselect/report"
	"github.com/YuminosukeSato/regselect/telemetry"
)

// レポート出力のファイル名
const (
	ScoreChartFile    = "scores.png"
	ResidualChartFile = "residuals.png"
)

// RunRecorder は実行履歴の保存先。*history.Store が実装する。
type RunRecorder interface {
	RecordRun(ctx context.Context, run history.Run) error
}

// RunResult は1回の実行結果
type RunResult struct {
	RunID     string
	StartedAt time.Time
	Transform *TransformResult
	Selection *Selection
	Charts    []string
}

// Score は保存されたモデルのテスト分割での R² を返す
func (r *RunResult) Score() float64 {
	if r == nil || r.Selection == nil {
		return math.NaN()
	}
	return r.Selection.Score
}

// Pipeline は CSV の読み込みから変換、モデル選択、履歴の記録までを行う
type Pipeline struct {
	Transformer *FeatureTransformer
	Selector    *ModelSelector

	// History が nil の場合は履歴を記録しない
	History RunRecorder
	// ReportDir が空でない場合はスコアと残差のグラフを書き出す
	ReportDir string

	runtime
}

// New は2つのコンポーネントから Pipeline を作成する
func New(ft *FeatureTransformer, ms *ModelSelector, options ...Option) *Pipeline {
	return &Pipeline{
		Transformer: ft,
		Selector:    ms,
		runtime:     newRuntime("pipeline", options),
	}
}

// Run は trainPath と testPath の CSV を読み込んで RunRecords を実行する
func (p *Pipeline) Run(ctx context.Context, trainPath, testPath string) (*RunResult, error) {
	train, err := dataset.ReadCSV(trainPath)
	if err != nil {
		return nil, err
	}
	test, err := dataset.ReadCSV(testPath)
	if err != nil {
		return nil, err
	}
	p.logger.Info("Read train and test data completed",
		log.SplitKey+"."+SplitTrain, train.Len(),
		log.SplitKey+"."+SplitTest, test.Len(),
	)
	return p.RunRecords(ctx, train, test)
}

// RunRecords は変換とモデル選択を順に実行し、成否にかかわらず実行を記録する
func (p *Pipeline) RunRecords(ctx context.Context, train, test dataset.RecordSet) (result *RunResult, err error) {
	result = &RunResult{RunID: uuid.NewString(), StartedAt: time.Now().UTC()}
	logger := p.logger.With(log.RunIDKey, result.RunID)

	ctx, span := p.tracer.Start(ctx, telemetry.SpanPipelineRun, attribute.String(log.RunIDKey, result.RunID))
	defer func() {
		telemetry.End(span, err)
		p.meter.RecordRun(err, time.Since(result.StartedAt))
		p.record(ctx, logger, result, train, test, err)
	}()

	// 実行 ID をコンポーネントのログに付けるため、呼び出しごとに浅いコピーを使う
	ft := *p.Transformer
	ft.logger = ft.logger.With(log.RunIDKey, result.RunID)
	ms := *p.Selector
	ms.logger = ms.logger.With(log.RunIDKey, result.RunID)

	result.Transform, err = ft.FitTransformAndPersist(ctx, train, test)
	if err != nil {
		logger.Error("Feature transformation failed", err)
		return result, err
	}

	result.Selection, err = ms.SelectBest(ctx, result.Transform.Train, result.Transform.Test)
	if p.ReportDir != "" && result.Selection != nil {
		charts, cerr := p.writeCharts(result)
		result.Charts = charts
		if cerr != nil {
			logger.Warn("Failed to write report charts", log.ErrAttrKey, cerr.Error())
		}
	}
	if err != nil {
		logger.Error("Model selection failed", err, log.ThresholdKey, ms.Threshold)
		return result, err
	}

	logger.Info("Pipeline run completed",
		log.ModelNameKey, result.Selection.BestName,
		log.R2ScoreKey, result.Selection.Score,
		log.DurationMsKey, time.Since(result.StartedAt).Milliseconds(),
	)
	return result, nil
}

// writeCharts はスコアのグラフと、モデルが選ばれた場合は残差のグラフを書き出す
func (p *Pipeline) writeCharts(result *RunResult) ([]string, error) {
	sel := result.Selection
	entries := make([]report.Entry, len(sel.Report))
	for i, e := range sel.Report {
		entries[i] = report.Entry{Name: e.Name, Score: e.Score}
	}
	scorePath := filepath.Join(p.ReportDir, ScoreChartFile)
	if err := report.ScoreChart(entries, p.Selector.Threshold, scorePath); err != nil {
		return nil, err
	}
	charts := []string{scorePath}
	if sel.Model == nil {
		return charts, nil
	}

	test := splitTarget(result.Transform.Test)
	pred, err := sel.Model.Predict(test.X)
	if err != nil {
		return charts, errors.Wrap(err, "predict for residual chart")
	}
	r, _ := pred.Dims()
	predicted := make([]float64, r)
	for i := range predicted {
		predicted[i] = pred.At(i, 0)
	}
	residualPath := filepath.Join(p.ReportDir, ResidualChartFile)
	if err := report.ResidualChart(test.y.RawVector().Data, predicted, residualPath); err != nil {
		return charts, err
	}
	return append(charts, residualPath), nil
}

// record は実行履歴を保存する。保存の失敗は実行結果を変えない。
func (p *Pipeline) record(ctx context.Context, logger log.Logger, result *RunResult, train, test dataset.RecordSet, runErr error) {
	if p.History == nil {
		return
	}
	run := history.Run{
		ID:         result.RunID,
		StartedAt:  result.StartedAt,
		FinishedAt: time.Now().UTC(),
		Status:     history.StatusSucceeded,
		Score:      math.NaN(),
		Threshold:  p.Selector.Threshold,
		TrainRows:  train.Len(),
		TestRows:   test.Len(),
	}
	if runErr != nil {
		run.Status = history.StatusFailed
		run.Error = runErr.Error()
	}
	if t := result.Transform; t != nil {
		run.TransformerPath = t.ArtifactPath
		run.Features = t.Transformer.OutputWidth()
	}
	if sel := result.Selection; sel != nil {
		run.BestModel = sel.BestName
		run.Score = sel.Score
		run.ModelPath = sel.ArtifactPath
		run.Candidates = make([]history.CandidateScore, len(sel.Report))
		for i, e := range sel.Report {
			run.Candidates[i] = history.CandidateScore{Algorithm: e.Name, Score: e.Score, Duration: e.Duration}
		}
	}

	// 呼び出し元のキャンセルで履歴が欠けないようにする
	if err := p.History.RecordRun(context.WithoutCancel(ctx), run); err != nil {
		logger.Error("Failed to record run history", err)
		return
	}
	logger.Debug("Recorded run history", log.ArtifactPathKey, run.ModelPath)
}
