// Package commands は regselect CLI のサブコマンドを実装します。
package commands

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/YuminosukeSato/regselect/config"
	"github.com/YuminosukeSato/regselect/pkg/errors"
	"github.com/YuminosukeSato/regselect/pkg/log"
)

// BuildInfo はビルド時に埋め込まれるバージョン情報
type BuildInfo struct {
	Version   string
	Commit    string
	BuildDate string
}

// 終了コード
const (
	ExitFailure      = 1
	ExitDataError    = 2
	ExitQualityError = 3
)

// ExitCode はエラーの種類に対応する終了コードを返す
func ExitCode(err error) int {
	var de *errors.DataError
	var qe *errors.ModelQualityError
	switch {
	case err == nil:
		return 0
	case errors.As(err, &de):
		return ExitDataError
	case errors.As(err, &qe):
		return ExitQualityError
	default:
		return ExitFailure
	}
}

// app はサブコマンド間で共有する状態
type app struct {
	build BuildInfo

	configPath string
	envFile    string
	logLevel   string

	cfg    *config.Config
	logger log.Logger
}

// Execute はルートコマンドを実行する
func Execute(ctx context.Context, build BuildInfo) error {
	return NewRootCommand(build, os.Stdout, os.Stderr).ExecuteContext(ctx)
}

// NewRootCommand は全てのサブコマンドを登録したルートコマンドを作る
func NewRootCommand(build BuildInfo, out, errOut io.Writer) *cobra.Command {
	a := &app{build: build}

	rootCmd := &cobra.Command{
		Use:   "regselect",
		Short: "Train a panel of regressors on tabular data and keep the best one",
		Long: `regselect transforms CSV records into a numeric matrix (median/mode imputation,
standard scaling, one-hot encoding), trains every candidate regressor on the
training split, scores each by R² on the test split and persists the winner
when it clears the quality threshold.

Configuration is read from a YAML file and REGSELECT_* environment variables,
optionally loaded from a .env file.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", build.Version, build.Commit, build.BuildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd.ErrOrStderr())
		},
	}
	rootCmd.SetOut(out)
	rootCmd.SetErr(errOut)

	rootCmd.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "config file path (YAML)")
	rootCmd.PersistentFlags().StringVar(&a.envFile, "env-file", ".env", "dotenv file with REGSELECT_* variables")
	rootCmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "override the configured log level")

	rootCmd.AddCommand(newTrainCommand(a))
	rootCmd.AddCommand(newPredictCommand(a))
	rootCmd.AddCommand(newInspectCommand(a))
	rootCmd.AddCommand(newHistoryCommand(a))

	return rootCmd
}

// setup は設定を読み込んでロガーを作る
func (a *app) setup(errOut io.Writer) error {
	if err := config.LoadDotEnv(a.envFile); err != nil {
		return err
	}
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}
	level, err := log.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return errors.NewValidationError("log-level", err.Error(), cfg.Logging.Level)
	}
	logger, err := log.New(cfg.Logging.Format, level, errOut)
	if err != nil {
		return errors.NewValidationError("logging.format", err.Error(), cfg.Logging.Format)
	}
	a.cfg = cfg
	a.logger = logger
	return nil
}
