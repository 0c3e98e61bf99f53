// Package config は regselect の設定を YAML ファイルと環境変数から読み込みます。
//
// 読み込み順は既定値、YAML ファイル、REGSELECT_* 環境変数の順で、後のものが優先されます。
package config

import (
	"bytes"
	"io"
	"os"
	"strings"
	"unicode"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/YuminosukeSato/regselect/dataset"
	"github.com/YuminosukeSato/regselect/pkg/errors"
)

// EnvPrefix は設定を上書きする環境変数の接頭辞
const EnvPrefix = "REGSELECT_"

// Config はパイプライン実行の設定
type Config struct {
	Data      DataConfig      `yaml:"data"`
	Artifacts ArtifactsConfig `yaml:"artifacts"`
	Selection SelectionConfig `yaml:"selection"`
	Logging   LoggingConfig   `yaml:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	History   HistoryConfig   `yaml:"history"`
	Report    ReportConfig    `yaml:"report"`
}

// DataConfig は列の構成
type DataConfig struct {
	NumericColumns     []string `yaml:"numeric_columns" env:"NUMERIC_COLUMNS" envSeparator:"," validate:"dive,required"`
	CategoricalColumns []string `yaml:"categorical_columns" env:"CATEGORICAL_COLUMNS" envSeparator:"," validate:"dive,required"`
	TargetColumn       string   `yaml:"target_column" env:"TARGET_COLUMN" validate:"required"`
}

// ArtifactsConfig はアーティファクトの保存先
type ArtifactsConfig struct {
	TransformerPath string `yaml:"transformer_path" env:"TRANSFORMER_PATH" validate:"required"`
	ModelPath       string `yaml:"model_path" env:"MODEL_PATH" validate:"required,nefield=TransformerPath"`
}

// SelectionConfig はモデル選択の設定
type SelectionConfig struct {
	Threshold float64 `yaml:"threshold" env:"THRESHOLD" validate:"lte=1"`
	// Models が空なら全ての候補を評価する
	Models   []string `yaml:"models" env:"MODELS" envSeparator:"," validate:"dive,required"`
	Parallel bool     `yaml:"parallel" env:"PARALLEL"`
	Workers  int      `yaml:"workers" env:"WORKERS" validate:"gte=0"`
}

// LoggingConfig はログ出力の設定
type LoggingConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" env:"LOG_FORMAT" validate:"oneof=console json slog"`
}

// TelemetryConfig はトレースとメトリクスの出力設定
type TelemetryConfig struct {
	TraceExporter   string `yaml:"trace_exporter" env:"TRACE_EXPORTER" validate:"oneof=none stdout"`
	MetricsTextfile string `yaml:"metrics_textfile" env:"METRICS_TEXTFILE"`
}

// HistoryConfig は実行履歴の保存先。Path が空なら履歴を記録しない。
type HistoryConfig struct {
	Path string `yaml:"path" env:"HISTORY_PATH"`
}

// ReportConfig はグラフの出力先。Dir が空なら出力しない。
type ReportConfig struct {
	Dir string `yaml:"dir" env:"REPORT_DIR"`
}

// Default は既定の設定を返す
func Default() *Config {
	return &Config{
		Data: DataConfig{
			NumericColumns: []string{"writing_score", "reading_score"},
			CategoricalColumns: []string{
				"gender",
				"race_ethnicity",
				"parental_level_of_education",
				"lunch",
				"test_preparation_course",
			},
			TargetColumn: "math_score",
		},
		Artifacts: ArtifactsConfig{
			TransformerPath: "artifacts/preprocessor.json",
			ModelPath:       "artifacts/model.json",
		},
		Selection: SelectionConfig{Threshold: 0.6},
		Logging:   LoggingConfig{Level: "info", Format: "console"},
		Telemetry: TelemetryConfig{TraceExporter: "none"},
		History:   HistoryConfig{Path: "artifacts/history.db"},
	}
}

// Schema はデータ設定を dataset.Schema にする
func (c *Config) Schema() dataset.Schema {
	return dataset.Schema{
		NumericColumns:     append([]string(nil), c.Data.NumericColumns...),
		CategoricalColumns: append([]string(nil), c.Data.CategoricalColumns...),
		TargetColumn:       c.Data.TargetColumn,
	}
}

// Load は path の YAML と環境変数から設定を読み込む。path が空なら既定値から始める。
func Load(path string) (*Config, error) {
	return LoadWithEnv(path, env.ToMap(os.Environ()))
}

// LoadWithEnv はプロセスの環境変数の代わりに environ を使って設定を読み込む
func LoadWithEnv(path string, environ map[string]string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read config %s", path)
		}
		if err := cfg.decode(bytes.NewReader(data)); err != nil {
			return nil, errors.Wrapf(err, "failed to parse config %s", path)
		}
	}
	if err := cfg.applyEnv(environ); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// decode は未知のキーをエラーにして YAML を読む
func (c *Config) decode(r io.Reader) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && err != io.EOF {
		return err
	}
	return nil
}

// LoadDotEnv は .env ファイルを環境変数に読み込む。既に設定されている変数は上書きしない。
// ファイルが存在しない場合は何もしない。
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return errors.Wrapf(err, "failed to load %s", path)
	}
	return nil
}

// applyEnv は設定されている REGSELECT_* 変数で上書きする。空の変数は無視される。
func (c *Config) applyEnv(environ map[string]string) error {
	if environ == nil {
		environ = map[string]string{}
	}
	err := env.ParseWithOptions(c, env.Options{Prefix: EnvPrefix, Environment: environ})
	if err != nil {
		var agg env.AggregateError
		if errors.As(err, &agg) && len(agg.Errors) > 0 {
			err = agg.Errors[0]
		}
		var pe env.ParseError
		if errors.As(err, &pe) {
			name := EnvPrefix + envName(pe.Name)
			return errors.NewValidationError(name, "invalid value: "+pe.Err.Error(), environ[name])
		}
		return errors.Wrap(err, "failed to read environment")
	}
	c.Data.NumericColumns = trimList(c.Data.NumericColumns)
	c.Data.CategoricalColumns = trimList(c.Data.CategoricalColumns)
	c.Selection.Models = trimList(c.Selection.Models)
	return nil
}

// envName は Go のフィールド名を環境変数の名前 (WorkerCount -> WORKER_COUNT) にする。
// 型変換に失敗しうるフィールドは env タグをこの規則で付けている。
func envName(field string) string {
	var b strings.Builder
	for i, r := range field {
		if i > 0 && unicode.IsUpper(r) {
			b.WriteByte('_')
		}
		b.WriteRune(unicode.ToUpper(r))
	}
	return b.String()
}

// trimList は要素の前後の空白を落とし、空の要素を捨てる
func trimList(values []string) []string {
	if values == nil {
		return nil
	}
	out := values[:0:0]
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

var validate = validator.New()

// Validate は設定値と列構成を検査する
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return errors.NewValidationError(fe.Namespace(), "failed on the '"+fe.Tag()+"' rule", fe.Value())
		}
		return errors.Wrap(err, "invalid config")
	}
	return c.Schema().Validate()
}
