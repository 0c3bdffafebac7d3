// Package diagnostics renders gonum/plot charts over a bart.Results chain
// for convergence and variable-importance inspection.
package diagnostics

import (
	"fmt"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"github.com/ezoic/bart/bart"
	scigoErrors "github.com/ezoic/bart/pkg/errors"
)

// SigmaTracePlot renders the residual-standard-deviation chain, sample index
// on the x axis, sigma's de-scaled value on the y axis. A flat, well-mixed
// band indicates convergence; a trending or sawtoothed chain does not.
func SigmaTracePlot(r *bart.Results) (*plot.Plot, error) {
	if r == nil || r.NumSamples == 0 {
		return nil, scigoErrors.NewValueError("SigmaTracePlot", "results have no samples")
	}

	p := plot.New()
	p.Title.Text = "BART sigma trace"
	p.X.Label.Text = "sample"
	p.Y.Label.Text = "sigma"

	pts := make(plotter.XYs, r.NumSamples)
	for s := 0; s < r.NumSamples; s++ {
		pts[s].X = float64(s)
		pts[s].Y = r.SigmaSamples[s]
	}

	line, err := plotter.NewLine(pts)
	if err != nil {
		return nil, err
	}
	p.Add(line)
	p.Legend.Add("sigma", line)

	return p, nil
}

// SaveSigmaTracePlot renders SigmaTracePlot and writes it to path as a PNG.
func SaveSigmaTracePlot(r *bart.Results, path string) error {
	p, err := SigmaTracePlot(r)
	if err != nil {
		return err
	}
	if err := p.Save(8*vg.Inch, 4*vg.Inch, path); err != nil {
		return scigoErrors.NewIOError("failed to save sigma trace plot", path, err)
	}
	return nil
}

// VariableInclusionProportions returns, for each of the P predictors, the
// fraction of posterior samples' total split-use count it accounts for
// (spec.md's variable-importance diagnostic from the split-count samples
// RunSampler already collects).
func VariableInclusionProportions(r *bart.Results) ([]float64, error) {
	if r == nil || r.P == 0 {
		return nil, scigoErrors.NewValueError("VariableInclusionProportions", "results have no predictors")
	}

	props := make([]float64, r.P)
	for s := 0; s < r.NumSamples; s++ {
		var total float64
		for j := 0; j < r.P; j++ {
			total += r.VariableCountAt(j, s)
		}
		if total == 0 {
			continue
		}
		for j := 0; j < r.P; j++ {
			props[j] += r.VariableCountAt(j, s) / total
		}
	}
	for j := range props {
		props[j] /= float64(r.NumSamples)
	}
	return props, nil
}

// VariableInclusionBarChart renders VariableInclusionProportions as a bar
// chart, one bar per predictor index.
func VariableInclusionBarChart(r *bart.Results) (*plot.Plot, error) {
	props, err := VariableInclusionProportions(r)
	if err != nil {
		return nil, err
	}

	p := plot.New()
	p.Title.Text = "Variable inclusion proportions"
	p.Y.Label.Text = "proportion of splits"

	values := make(plotter.Values, len(props))
	copy(values, props)

	bars, err := plotter.NewBarChart(values, vg.Points(20))
	if err != nil {
		return nil, err
	}
	bars.Color = plotutil.Color(0)
	p.Add(bars)

	labels := make([]string, len(props))
	for j := range labels {
		labels[j] = fmt.Sprintf("x%d", j)
	}
	p.NominalX(labels...)

	return p, nil
}

// SaveVariableInclusionBarChart renders VariableInclusionBarChart and writes
// it to path as a PNG.
func SaveVariableInclusionBarChart(r *bart.Results, path string) error {
	p, err := VariableInclusionBarChart(r)
	if err != nil {
		return err
	}
	if err := p.Save(8*vg.Inch, 4*vg.Inch, path); err != nil {
		return scigoErrors.NewIOError("failed to save variable inclusion chart", path, err)
	}
	return nil
}
