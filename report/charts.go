// Package report は候補スコアと残差のグラフを gonum/plot で描画します。
//
// 出力形式はファイルの拡張子（.png, .svg, .pdf など）で決まります。
package report

import (
	"math"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"github.com/YuminosukeSato/regselect/pkg/errors"
)

// Entry は候補1つのスコア
type Entry struct {
	Name  string
	Score float64
}

// 画像サイズ
var (
	chartWidth  = 8 * vg.Inch
	chartHeight = 5 * vg.Inch
)

// ScoreChart は候補ごとの R² を棒グラフにし、閾値を水平線で重ねて path に保存する。
// 有限でないスコアは 0 の棒として描く。
func ScoreChart(entries []Entry, threshold float64, path string) error {
	if len(entries) == 0 {
		return errors.NewValueError("report.ScoreChart", "no candidate scores")
	}

	p := plot.New()
	p.Title.Text = "Held-out R² by candidate"
	p.Y.Label.Text = "R²"

	values := make(plotter.Values, len(entries))
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name
		if !math.IsNaN(e.Score) && !math.IsInf(e.Score, 0) {
			values[i] = e.Score
		}
	}

	bars, err := plotter.NewBarChart(values, vg.Points(24))
	if err != nil {
		return errors.Wrap(err, "failed to build bar chart")
	}
	bars.Color = plotutil.Color(0)
	p.Add(bars)
	p.NominalX(names...)

	gate := plotter.NewFunction(func(float64) float64 { return threshold })
	gate.Color = plotutil.Color(1)
	gate.Dashes = plotutil.Dashes(1)
	p.Add(gate)
	p.Legend.Add("threshold", gate)
	p.Legend.Top = true

	return save(p, path, "score chart")
}

// ResidualChart は実測値と予測値の散布図に y = x の参照線を重ねて path に保存する
func ResidualChart(actual, predicted []float64, path string) error {
	if len(actual) == 0 {
		return errors.NewValueError("report.ResidualChart", "no predictions")
	}
	if len(actual) != len(predicted) {
		return errors.NewDimensionError("report.ResidualChart", len(actual), len(predicted), 0)
	}

	p := plot.New()
	p.Title.Text = "Predicted vs actual (test split)"
	p.X.Label.Text = "actual"
	p.Y.Label.Text = "predicted"

	pts := make(plotter.XYs, len(actual))
	lo, hi := math.Inf(1), math.Inf(-1)
	for i := range actual {
		pts[i].X = actual[i]
		pts[i].Y = predicted[i]
		lo = math.Min(lo, math.Min(actual[i], predicted[i]))
		hi = math.Max(hi, math.Max(actual[i], predicted[i]))
	}
	s, err := plotter.NewScatter(pts)
	if err != nil {
		return errors.Wrap(err, "failed to build scatter plot")
	}
	s.GlyphStyle.Color = plotutil.Color(0)
	p.Add(s)

	ref, err := plotter.NewLine(plotter.XYs{{X: lo, Y: lo}, {X: hi, Y: hi}})
	if err != nil {
		return errors.Wrap(err, "failed to build reference line")
	}
	ref.Color = plotutil.Color(1)
	p.Add(ref)

	return save(p, path, "residual chart")
}

// save は親ディレクトリを作ってから p を書き出す
func save(p *plot.Plot, path, what string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, "failed to create directory for %s", what)
	}
	if err := p.Save(chartWidth, chartHeight, path); err != nil {
		return errors.Wrapf(err, "failed to save %s to %s", what, path)
	}
	return nil
}
