package commands

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/YuminosukeSato/regselect/core/model"
	"github.com/YuminosukeSato/regselect/history"
	"github.com/YuminosukeSato/regselect/pipeline"
	"github.com/YuminosukeSato/regselect/telemetry"
)

func newTrainCommand(a *app) *cobra.Command {
	var (
		trainPath string
		testPath  string
		models    []string
		parallel  bool
		reportDir string
	)

	cmd := &cobra.Command{
		Use:   "train",
		Short: "Fit the transformer, select the best regressor and persist both artifacts",
		Example: `  # Train with the default configuration
  regselect train --train data/train.csv --test data/test.csv

  # Restrict the panel and evaluate candidates in parallel
  regselect train --train train.csv --test test.csv \
    --models "Linear Regression,Random Forest" --parallel`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := a.cfg
			if cmd.Flags().Changed("models") {
				cfg.Selection.Models = models
			}
			if cmd.Flags().Changed("parallel") {
				cfg.Selection.Parallel = parallel
			}
			if cmd.Flags().Changed("report-dir") {
				cfg.Report.Dir = reportDir
			}
			return a.train(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), trainPath, testPath)
		},
	}

	cmd.Flags().StringVar(&trainPath, "train", "", "training CSV file")
	cmd.Flags().StringVar(&testPath, "test", "", "test CSV file")
	cmd.Flags().StringSliceVar(&models, "models", nil, "candidate names to evaluate (default: all)")
	cmd.Flags().BoolVar(&parallel, "parallel", false, "evaluate candidates concurrently")
	cmd.Flags().StringVar(&reportDir, "report-dir", "", "directory for score and residual charts")
	_ = cmd.MarkFlagRequired("train")
	_ = cmd.MarkFlagRequired("test")

	return cmd
}

// train は設定どおりにパイプラインを組み立てて1回実行する。スパンは errOut に書き出す。
func (a *app) train(ctx context.Context, out, errOut io.Writer, trainPath, testPath string) (err error) {
	cfg := a.cfg

	metrics := telemetry.NewMetrics("regselect")
	tracer, err := telemetry.NewTracer(cfg.Telemetry.TraceExporter, errOut, "regselect", a.build.Version)
	if err != nil {
		return err
	}
	defer func() {
		if serr := tracer.Shutdown(context.WithoutCancel(ctx)); serr != nil {
			a.logger.Warn("Failed to flush trace spans", "error", serr.Error())
		}
	}()

	options := []pipeline.Option{
		pipeline.WithStore(model.NewFileStore()),
		pipeline.WithLogger(a.logger),
		pipeline.WithMetrics(metrics),
		pipeline.WithTracer(tracer),
	}
	ft := pipeline.NewFeatureTransformer(cfg.Schema(), cfg.Artifacts.TransformerPath, options...)
	ms := pipeline.NewModelSelector(cfg.Artifacts.ModelPath, options...)
	if ms.Panel, err = pipeline.DefaultPanel().Subset(cfg.Selection.Models); err != nil {
		return err
	}
	ms.Threshold = cfg.Selection.Threshold
	ms.Parallel = cfg.Selection.Parallel
	ms.Workers = cfg.Selection.Workers

	p := pipeline.New(ft, ms, options...)
	p.ReportDir = cfg.Report.Dir
	if cfg.History.Path != "" {
		store, err := history.Open(ctx, cfg.History.Path)
		if err != nil {
			return err
		}
		defer store.Close()
		p.History = store
	}

	res, runErr := p.Run(ctx, trainPath, testPath)
	if cfg.Telemetry.MetricsTextfile != "" {
		if err := metrics.WriteTextfile(cfg.Telemetry.MetricsTextfile); err != nil {
			a.logger.Warn("Failed to write metrics textfile", "error", err.Error())
		}
	}
	if res != nil && res.Selection != nil {
		printReport(out, res)
	}
	if runErr != nil {
		return runErr
	}

	fmt.Fprintf(out, "\nbest model: %s (R² %.4f)\n", res.Selection.BestName, res.Score())
	fmt.Fprintf(out, "transformer: %s\nmodel: %s\nrun: %s\n", res.Transform.ArtifactPath, res.Selection.ArtifactPath, res.RunID)
	for _, chart := range res.Charts {
		fmt.Fprintf(out, "chart: %s\n", chart)
	}
	return nil
}

func printReport(out io.Writer, res *pipeline.RunResult) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "MODEL\tR2\tDURATION")
	for _, e := range res.Selection.Report {
		fmt.Fprintf(w, "%s\t%.4f\t%s\n", e.Name, e.Score, e.Duration.Round(time.Millisecond))
	}
	_ = w.Flush()
}
