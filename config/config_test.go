package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/regselect/pkg/errors"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "regselect.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefault(t *testing.T) {
	cfg, err := LoadWithEnv("", nil)
	require.NoError(t, err)

	schema := cfg.Schema()
	assert.Equal(t, []string{"writing_score", "reading_score"}, schema.NumericColumns)
	assert.Equal(t, []string{
		"gender", "race_ethnicity", "parental_level_of_education", "lunch", "test_preparation_course",
	}, schema.CategoricalColumns)
	assert.Equal(t, "math_score", schema.TargetColumn)
	assert.Equal(t, "artifacts/preprocessor.json", cfg.Artifacts.TransformerPath)
	assert.Equal(t, "artifacts/model.json", cfg.Artifacts.ModelPath)
	assert.Equal(t, 0.6, cfg.Selection.Threshold)
	assert.Empty(t, cfg.Selection.Models)
	assert.Equal(t, "none", cfg.Telemetry.TraceExporter)
}

func TestLoadYAMLAndEnv(t *testing.T) {
	path := writeConfig(t, `
data:
  numeric_columns: [age, income]
  categorical_columns: [city]
  target_column: spend
artifacts:
  model_path: out/model.json
selection:
  threshold: 0.75
  models: ["Linear Regression", "Decision Tree"]
logging:
  level: debug
`)

	cfg, err := LoadWithEnv(path, map[string]string{
		"REGSELECT_THRESHOLD":     "0.8",
		"REGSELECT_PARALLEL":      "true",
		"REGSELECT_WORKERS":       "3",
		"REGSELECT_MODELS":        "Linear Regression, ,K-Neighbors Regressor",
		"REGSELECT_REPORT_DIR":    "out/report",
		"REGSELECT_TARGET_COLUMN": "",
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"age", "income"}, cfg.Data.NumericColumns)
	assert.Equal(t, []string{"city"}, cfg.Data.CategoricalColumns)
	// 空の変数は上書きしない
	assert.Equal(t, "spend", cfg.Data.TargetColumn)
	// YAML にないキーは既定値のまま
	assert.Equal(t, "artifacts/preprocessor.json", cfg.Artifacts.TransformerPath)
	assert.Equal(t, "out/model.json", cfg.Artifacts.ModelPath)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "console", cfg.Logging.Format)

	// 環境変数が YAML より優先される
	assert.Equal(t, 0.8, cfg.Selection.Threshold)
	assert.True(t, cfg.Selection.Parallel)
	assert.Equal(t, 3, cfg.Selection.Workers)
	assert.Equal(t, []string{"Linear Regression", "K-Neighbors Regressor"}, cfg.Selection.Models)
	assert.Equal(t, "out/report", cfg.Report.Dir)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name      string
		yaml      string
		env       map[string]string
		wantParam string
	}{
		{
			name:      "unknown log level",
			env:       map[string]string{"REGSELECT_LOG_LEVEL": "loud"},
			wantParam: "Config.Logging.Level",
		},
		{
			name:      "unknown trace exporter",
			yaml:      "telemetry:\n  trace_exporter: jaeger\n",
			wantParam: "Config.Telemetry.TraceExporter",
		},
		{
			name:      "threshold above one",
			env:       map[string]string{"REGSELECT_THRESHOLD": "1.5"},
			wantParam: "Config.Selection.Threshold",
		},
		{
			name:      "negative workers",
			env:       map[string]string{"REGSELECT_WORKERS": "-1"},
			wantParam: "Config.Selection.Workers",
		},
		{
			name:      "unparsable threshold",
			env:       map[string]string{"REGSELECT_THRESHOLD": "high"},
			wantParam: "REGSELECT_THRESHOLD",
		},
		{
			name:      "same artifact path",
			env:       map[string]string{"REGSELECT_MODEL_PATH": "artifacts/preprocessor.json"},
			wantParam: "Config.Artifacts.ModelPath",
		},
		{
			name:      "unparsable parallel flag",
			env:       map[string]string{"REGSELECT_PARALLEL": "sometimes"},
			wantParam: "REGSELECT_PARALLEL",
		},
		{
			name:      "missing target",
			yaml:      "data:\n  target_column: \"\"\n",
			wantParam: "Config.Data.TargetColumn",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := ""
			if tt.yaml != "" {
				path = writeConfig(t, tt.yaml)
			}
			_, err := LoadWithEnv(path, tt.env)
			require.Error(t, err)
			var ve *errors.ValidationError
			require.True(t, errors.As(err, &ve), "got %v", err)
			assert.Equal(t, tt.wantParam, ve.ParamName)
		})
	}
}

func TestLoadRejectsBadFiles(t *testing.T) {
	_, err := LoadWithEnv(writeConfig(t, "selection:\n  treshold: 0.7\n"), nil)
	assert.Error(t, err, "unknown keys are rejected")

	_, err = LoadWithEnv(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	assert.Error(t, err)

	cfg, err := LoadWithEnv(writeConfig(t, ""), nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestSchemaValidation(t *testing.T) {
	_, err := LoadWithEnv("", map[string]string{
		"REGSELECT_CATEGORICAL_COLUMNS": "gender,math_score",
	})
	var de *errors.DataError
	assert.True(t, errors.As(err, &de))
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	assert.NoError(t, LoadDotEnv(filepath.Join(dir, "absent.env")))

	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("REGSELECT_REPORT_DIR=from-dotenv\n"), 0o600))
	t.Setenv("REGSELECT_REPORT_DIR", "")
	require.NoError(t, os.Unsetenv("REGSELECT_REPORT_DIR"))
	require.NoError(t, LoadDotEnv(path))

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv", cfg.Report.Dir)
}
