// Package regselect trains a panel of regressors on tabular CSV data and keeps
// the best one, designed for batch training jobs and for services that reload
// the persisted artifacts for inference.
//
// A run has two stages. The feature transformer fits median/mode imputation,
// standard scaling and one-hot encoding on the training records and persists
// the fitted transformer. The model selector trains every candidate regressor
// on the transformed training matrix, scores each by R² on the test matrix and
// persists the winner when its score clears the quality threshold (0.6 by
// default).
//
// # Installation
//
//	go install github.com/YuminosukeSato/regselect/cmd/regselect@latest
//
// # Quick Start
//
// Train with a YAML configuration and two CSV files:
//
//	regselect train -c regselect.yaml --train data/train.csv --test data/test.csv
//
// Or drive the pipeline from Go:
//
//	package main
//
//	import (
//	    "context"
//	    "fmt"
//	    "log"
//
//	    "github.com/YuminosukeSato/regselect/dataset"
//	    "github.com/YuminosukeSato/regselect/pipeline"
//	)
//
//	func main() {
//	    schema := dataset.Schema{
//	        NumericColumns:     []string{"writing_score", "reading_score"},
//	        CategoricalColumns: []string{"gender", "lunch"},
//	        TargetColumn:       "math_score",
//	    }
//	    ft := pipeline.NewFeatureTransformer(schema, "artifacts/preprocessor.json")
//	    ms := pipeline.NewModelSelector("artifacts/model.json")
//
//	    res, err := pipeline.New(ft, ms).Run(context.Background(), "train.csv", "test.csv")
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    fmt.Printf("best: %s (R² %.4f)\n", res.Selection.BestName, res.Score())
//	}
//
// # Packages
//
//   - pipeline: Feature transformation, model selection, prediction and run orchestration
//   - dataset: CSV records and column schemas
//   - preprocessing: Imputers, StandardScaler, OneHotEncoder and the column transformer
//   - linear, sklearn/tree, sklearn/ensemble, sklearn/neighbors: Candidate regressors
//   - metrics: Regression metrics (R², MSE, MAE)
//   - core/model: Estimator interfaces and the persisted artifact format
//   - config: YAML and environment configuration
//   - history: SQLite run history
//   - telemetry: Prometheus metrics and OpenTelemetry tracing
//   - report: Score and residual charts
//   - pkg/errors, pkg/log: Structured errors and logging
//
// # Candidate Panel
//
// The default panel is evaluated in this order, and ties go to the earlier
// candidate:
//
//   - Random Forest
//   - Decision Tree
//   - Gradient Boosting
//   - Linear Regression
//   - K-Neighbors Regressor
//   - XGBRegressor
//   - AdaBoost Regressor
//
// # License
//
// regselect is released under the MIT License.
package regselect
