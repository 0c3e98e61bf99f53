package commands

import (
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/YuminosukeSato/regselect/core/model"
	"github.com/YuminosukeSato/regselect/dataset"
	"github.com/YuminosukeSato/regselect/pipeline"
	"github.com/YuminosukeSato/regselect/pkg/errors"
	"github.com/YuminosukeSato/regselect/pkg/log"
)

// PredictionColumn は predict の出力に追加する列名
const PredictionColumn = "prediction"

func newPredictCommand(a *app) *cobra.Command {
	var (
		inputPath  string
		outputPath string
	)

	cmd := &cobra.Command{
		Use:   "predict",
		Short: "Predict targets for new records with the persisted transformer and model",
		Example: `  # Write the input columns plus a prediction column to preds.csv
  regselect predict --input new.csv --output preds.csv`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if outputPath != "" && outputPath != "-" {
				f, err := os.Create(outputPath)
				if err != nil {
					return errors.NewPersistenceError("predict", outputPath, err)
				}
				defer f.Close()
				out = f
			}
			return a.predict(out, inputPath)
		},
	}

	cmd.Flags().StringVar(&inputPath, "input", "", "CSV file with the records to predict")
	cmd.Flags().StringVarP(&outputPath, "output", "o", "-", "output CSV file (- for stdout)")
	_ = cmd.MarkFlagRequired("input")

	return cmd
}

func (a *app) predict(out io.Writer, inputPath string) error {
	cfg := a.cfg
	predictor, err := pipeline.LoadPredictor(model.NewFileStore(), cfg.Artifacts.TransformerPath, cfg.Artifacts.ModelPath)
	if err != nil {
		return err
	}
	rs, err := dataset.ReadCSV(inputPath)
	if err != nil {
		return err
	}
	preds, err := predictor.PredictRecords(rs)
	if err != nil {
		return err
	}

	header := append(append([]string(nil), rs.Header...), PredictionColumn)
	rows := make([][]string, rs.Len())
	for i, r := range rs.Records {
		row := make([]string, 0, len(header))
		for _, h := range rs.Header {
			row = append(row, r[h])
		}
		rows[i] = append(row, strconv.FormatFloat(preds[i], 'f', -1, 64))
	}
	if err := dataset.WriteCSV(out, header, rows); err != nil {
		return err
	}
	a.logger.Info("Predicted records",
		log.OperationKey, log.OperationPredict,
		log.PhaseKey, log.PhaseInference,
		log.SamplesKey, rs.Len(),
	)
	return nil
}
