// Package bart wraps the bart package's MCMC sampler behind a
// scikit-learn-compatible Fit/Predict/Score surface.
package bart

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	corebart "github.com/ezoic/bart/bart"
	"github.com/ezoic/bart/bart/rng"
	"github.com/ezoic/bart/core/model"
	"github.com/ezoic/bart/metrics"
	scigoErrors "github.com/ezoic/bart/pkg/errors"
	"github.com/ezoic/bart/pkg/log"
)

// Regressor is a BART regressor with a scikit-learn compatible API.
type Regressor struct {
	state  *model.StateManager
	logger log.Logger

	// Hyperparameters (matching corebart.ControlOptions/ModelOptions).
	NumTrees             int
	NumBurnIn            int
	NumSamples           int
	PredictNumSamples    int // posterior draws consumed per Predict call
	TreeThinningRate     int
	NumThreads           int
	UseQuantiles         bool
	KeepTrainingFits     bool
	RandomState          int64
	EndNodeFamily        corebart.EndNodeFamily
	K                    float64 // EndNodePrior.K, spec.md §4.3
	TreePriorBase        float64
	TreePriorPower       float64
	BirthOrDeathProb     float64
	SwapProb             float64
	ChangeProb           float64
	BirthProb            float64
	ResidualDF           float64
	ResidualQuantile     float64
	MaxNumCuts           int

	// Precisions parameterizes the LinReg-Normal end-node prior (length
	// p+1: intercept first, then one per predictor). Fit fills in a
	// uniform default of 1 per entry if this is left empty and
	// EndNodeFamily is LinRegNormal.
	Precisions []float64

	fit       *corebart.Fit
	results   *corebart.Results
	nFeatures int
}

// NewRegressor creates a Regressor with spec.md §7's documented defaults.
func NewRegressor() *Regressor {
	r := &Regressor{
		NumTrees:          200,
		NumBurnIn:         250,
		NumSamples:        1000,
		PredictNumSamples: 200,
		TreeThinningRate:  1,
		NumThreads:        1,
		UseQuantiles:      true,
		KeepTrainingFits:  true,
		RandomState:       42,
		EndNodeFamily:     corebart.MeanNormal,
		K:                 2,
		TreePriorBase:     corebart.DefaultTreePriorConfig().Base,
		TreePriorPower:    corebart.DefaultTreePriorConfig().Power,
		MaxNumCuts:        100,
		// Chipman-George-McCulloch's stated residual-variance calibration
		// defaults: df=3, and a sigma-estimate at the 90th percentile of
		// the prior.
		ResidualDF:       3,
		ResidualQuantile: 0.90,
	}
	mo := corebart.DefaultModelOptions()
	r.BirthOrDeathProb = mo.BirthOrDeathProbability
	r.SwapProb = mo.SwapProbability
	r.ChangeProb = mo.ChangeProbability
	r.BirthProb = mo.BirthProbability

	r.state = model.NewStateManager()
	r.logger = log.GetLoggerWithName("bart.Regressor")
	return r
}

// WithNumTrees sets the ensemble size.
func (r *Regressor) WithNumTrees(n int) *Regressor { r.NumTrees = n; return r }

// WithNumSamples sets the number of retained posterior samples.
func (r *Regressor) WithNumSamples(n int) *Regressor { r.NumSamples = n; return r }

// WithNumBurnIn sets the burn-in iteration count.
func (r *Regressor) WithNumBurnIn(n int) *Regressor { r.NumBurnIn = n; return r }

// WithRandomState sets the RNG seed.
func (r *Regressor) WithRandomState(seed int64) *Regressor { r.RandomState = seed; return r }

// WithLinRegEndNodes switches the end-node family to LinReg-Normal
// (spec.md §4.3). The precisions come from the Precisions field (length
// p+1); Fit fills it with ones when it is empty.
func (r *Regressor) WithLinRegEndNodes() *Regressor {
	r.EndNodeFamily = corebart.LinRegNormal
	return r
}

func (r *Regressor) options() (corebart.ControlOptions, corebart.ModelOptions) {
	control := corebart.ControlOptions{
		KeepTrainingFits: r.KeepTrainingFits,
		UseQuantiles:     r.UseQuantiles,
		NumSamples:       r.NumSamples,
		NumBurnIn:        r.NumBurnIn,
		NumTrees:         r.NumTrees,
		NumThreads:       r.NumThreads,
		TreeThinningRate: r.TreeThinningRate,
		PrintEvery:       100,
		Rng:              rng.New(rand.New(rand.NewSource(r.RandomState))),
	}
	modelOpts := corebart.ModelOptions{
		BirthOrDeathProbability: r.BirthOrDeathProb,
		SwapProbability:         r.SwapProb,
		ChangeProbability:       r.ChangeProb,
		BirthProbability:        r.BirthProb,
		TreePrior: corebart.TreePriorConfig{
			Base:  r.TreePriorBase,
			Power: r.TreePriorPower,
		},
		EndNodePrior: corebart.EndNodePriorConfig{
			Family:     r.EndNodeFamily,
			K:          r.K,
			Precisions: r.Precisions,
		},
		ResidualVariancePrior: corebart.ResidualVariancePriorConfig{
			DF:       r.ResidualDF,
			Quantile: r.ResidualQuantile,
		},
	}
	return control, modelOpts
}

func matrixToRows(X mat.Matrix) [][]float64 {
	rows, cols := X.Dims()
	out := make([][]float64, rows)
	for i := 0; i < rows; i++ {
		row := make([]float64, cols)
		for j := 0; j < cols; j++ {
			row[j] = X.At(i, j)
		}
		out[i] = row
	}
	return out
}

func vectorOf(y mat.Matrix) []float64 {
	rows, _ := y.Dims()
	out := make([]float64, rows)
	for i := 0; i < rows; i++ {
		out[i] = y.At(i, 0)
	}
	return out
}

func sampleStdDev(y []float64) float64 {
	n := float64(len(y))
	var mean float64
	for _, v := range y {
		mean += v
	}
	mean /= n
	var ss float64
	for _, v := range y {
		ss += (v - mean) * (v - mean)
	}
	if n < 2 {
		return 1
	}
	variance := ss / (n - 1)
	if variance <= 0 {
		return 1
	}
	return math.Sqrt(variance)
}

// Fit trains the BART regressor on X, y.
func (r *Regressor) Fit(X, y mat.Matrix) error {
	rows, cols := X.Dims()
	yRows, yCols := y.Dims()
	if rows != yRows {
		return scigoErrors.NewDimensionError("Fit", rows, yRows, 0)
	}
	if yCols != 1 {
		return scigoErrors.NewDimensionError("Fit", 1, yCols, 1)
	}

	r.nFeatures = cols
	if r.EndNodeFamily == corebart.LinRegNormal && len(r.Precisions) == 0 {
		r.Precisions = make([]float64, cols+1)
		for i := range r.Precisions {
			r.Precisions[i] = 1
		}
	}
	types := make([]corebart.VariableType, cols)
	for j := range types {
		types[j] = corebart.Ordinal
	}
	maxCuts := make([]int, cols)
	for j := range maxCuts {
		maxCuts[j] = r.MaxNumCuts
	}

	yVals := vectorOf(y)
	data := corebart.DataOptions{
		Y:             yVals,
		X:             matrixToRows(X),
		VariableTypes: types,
		SigmaEstimate: sampleStdDev(yVals),
		MaxNumCuts:    maxCuts,
	}

	control, modelOpts := r.options()
	fit, err := corebart.NewFit(control, modelOpts, data)
	if err != nil {
		return err
	}
	results, err := fit.RunSampler(r.NumBurnIn, r.NumSamples)
	if err != nil {
		return err
	}

	r.fit = fit
	r.results = results
	r.state.SetFitted()
	return nil
}

// Predict returns the posterior-mean prediction for each row of X,
// continuing the already-fitted chain for PredictNumSamples iterations
// against X plugged in as the test matrix (see bart.Fit.PredictTestFits).
func (r *Regressor) Predict(X mat.Matrix) (mat.Matrix, error) {
	if !r.state.IsFitted() {
		return nil, scigoErrors.NewNotFittedError("Regressor", "Predict")
	}
	rows, cols := X.Dims()
	if cols != r.nFeatures {
		return nil, scigoErrors.NewDimensionError("Predict", r.nFeatures, cols, 1)
	}

	flat := make([]float64, 0, rows*cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			flat = append(flat, X.At(i, j))
		}
	}

	preds, err := r.fit.PredictTestFits(flat, rows, r.PredictNumSamples)
	if err != nil {
		return nil, err
	}
	return mat.NewDense(rows, 1, preds), nil
}

// Score returns the coefficient of determination R^2 of the prediction.
func (r *Regressor) Score(X, y mat.Matrix) (float64, error) {
	if !r.state.IsFitted() {
		return 0, scigoErrors.NewNotFittedError("Regressor", "Score")
	}
	predictions, err := r.Predict(X)
	if err != nil {
		return 0, err
	}
	rows, _ := y.Dims()
	yVec := mat.NewVecDense(rows, nil)
	predVec := mat.NewVecDense(rows, nil)
	for i := 0; i < rows; i++ {
		yVec.SetVec(i, y.At(i, 0))
		predVec.SetVec(i, predictions.At(i, 0))
	}
	return metrics.R2Score(yVec, predVec)
}

// Results returns the posterior samples collected by the most recent Fit.
func (r *Regressor) Results() *corebart.Results { return r.results }

// IsFitted reports whether Fit has completed successfully.
func (r *Regressor) IsFitted() bool { return r.state.IsFitted() }

// SaveModel persists the regressor's fitted state to path.
func (r *Regressor) SaveModel(path string) error {
	if !r.state.IsFitted() {
		return scigoErrors.NewNotFittedError("Regressor", "SaveModel")
	}
	return r.fit.SaveToFile(path)
}

// LoadModel loads a regressor previously persisted with SaveModel. The
// placeholder RNG that bart.LoadFromFile installs is replaced with one
// seeded from RandomState, which Predict's MCMC continuation draws from.
func (r *Regressor) LoadModel(path string) error {
	fit, err := corebart.LoadFromFile(path)
	if err != nil {
		return err
	}
	fit.SetRng(rng.New(rand.New(rand.NewSource(r.RandomState))))
	r.fit = fit
	r.nFeatures = fit.NumPredictors()
	r.state.SetFitted()
	return nil
}
