package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/YuminosukeSato/regselect/history"
	"github.com/YuminosukeSato/regselect/pkg/errors"
)

func newHistoryCommand(a *app) *cobra.Command {
	var (
		limit int
		runID string
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded training runs",
		Example: `  # Show the ten most recent runs
  regselect history

  # Show one run with its candidate scores as JSON
  regselect history --id 6f1c...`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.cfg.History.Path == "" {
				return errors.NewValidationError("history.path", "run history is disabled", "")
			}
			store, err := history.Open(cmd.Context(), a.cfg.History.Path)
			if err != nil {
				return err
			}
			defer store.Close()

			if runID != "" {
				return showRun(cmd.Context(), cmd.OutOrStdout(), store, runID)
			}
			return listRuns(cmd.Context(), cmd.OutOrStdout(), store, limit)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "maximum number of runs to list (0 for all)")
	cmd.Flags().StringVar(&runID, "id", "", "show a single run")

	return cmd
}

func listRuns(ctx context.Context, out io.Writer, store *history.Store, limit int) error {
	runs, err := store.ListRuns(ctx, limit)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tSTARTED\tSTATUS\tBEST MODEL\tR2")
	for _, r := range runs {
		score := "-"
		if !math.IsNaN(r.Score) {
			score = fmt.Sprintf("%.4f", r.Score)
		}
		best := r.BestModel
		if best == "" {
			best = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", r.ID, r.StartedAt.Local().Format(time.DateTime), r.Status, best, score)
	}
	return w.Flush()
}

// runView は JSON で表現できない NaN を null にする
type runView struct {
	history.Run
	Score      *float64        `json:"score"`
	Candidates []candidateView `json:"candidates"`
}

type candidateView struct {
	Algorithm  string   `json:"algorithm"`
	Score      *float64 `json:"score"`
	DurationMs int64    `json:"duration_ms"`
}

func finite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func showRun(ctx context.Context, out io.Writer, store *history.Store, id string) error {
	run, err := store.GetRun(ctx, id)
	if err != nil {
		return err
	}
	view := runView{Run: *run, Score: finite(run.Score), Candidates: make([]candidateView, len(run.Candidates))}
	for i, c := range run.Candidates {
		view.Candidates[i] = candidateView{Algorithm: c.Algorithm, Score: finite(c.Score), DurationMs: c.Duration.Milliseconds()}
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(view)
}
