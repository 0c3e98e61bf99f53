package commands

import (
	"encoding/json"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/YuminosukeSato/regselect/core/model"
	"github.com/YuminosukeSato/regselect/pipeline"
	"github.com/YuminosukeSato/regselect/preprocessing"
)

// artifactSummary は inspect の出力
type artifactSummary struct {
	Path      string             `json:"path"`
	Kind      model.ArtifactKind `json:"kind"`
	Version   int                `json:"version"`
	CreatedAt time.Time          `json:"created_at"`
	Blocks    []string           `json:"blocks"`

	Features   []string            `json:"features,omitempty"`
	Medians    map[string]float64  `json:"medians,omitempty"`
	Modes      map[string]string   `json:"modes,omitempty"`
	Categories map[string][]string `json:"categories,omitempty"`

	ModelKind string `json:"model_kind,omitempty"`
}

func newInspectCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <artifact>",
		Short: "Describe a persisted transformer or model artifact",
		Example: `  regselect inspect artifacts/preprocessor.json
  regselect inspect artifacts/model.json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return inspect(cmd.OutOrStdout(), args[0])
		},
	}
}

func inspect(out io.Writer, path string) error {
	a, err := model.NewFileStore().Load(path)
	if err != nil {
		return err
	}
	summary := artifactSummary{
		Path:      path,
		Kind:      a.Kind,
		Version:   a.Version,
		CreatedAt: a.CreatedAt,
		Blocks:    a.Tags(),
	}

	switch a.Kind {
	case model.KindTransformer:
		ct, err := preprocessing.UnmarshalArtifact(a)
		if err != nil {
			return err
		}
		summary.Features = ct.FeatureNames()
		summary.Medians = ct.Medians()
		summary.Modes = ct.Modes()
		summary.Categories = ct.Categories()
	case model.KindModel:
		m, err := pipeline.DecodeModel(a, path)
		if err != nil {
			return err
		}
		summary.ModelKind = m.Kind()
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(summary)
}
