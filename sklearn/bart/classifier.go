package bart

import (
	"math/rand"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	corebart "github.com/ezoic/bart/bart"
	"github.com/ezoic/bart/bart/rng"
	"github.com/ezoic/bart/core/model"
	"github.com/ezoic/bart/metrics"
	scigoErrors "github.com/ezoic/bart/pkg/errors"
	"github.com/ezoic/bart/pkg/log"
)

// Classifier is a binary BART classifier, using the probit latent-variable
// augmentation of spec.md §4.6 rather than a logit link (see DESIGN.md's
// discussion of sklearn/linear_model/logistic.go as the closest teacher
// analogue).
type Classifier struct {
	state  *model.StateManager
	logger log.Logger

	NumTrees          int
	NumBurnIn         int
	NumSamples        int
	PredictNumSamples int
	TreeThinningRate  int
	NumThreads        int
	UseQuantiles      bool
	RandomState       int64
	K                 float64
	TreePriorBase     float64
	TreePriorPower    float64
	MatchBayesTree    bool
	MaxNumCuts        int

	fit       *corebart.Fit
	results   *corebart.Results
	nFeatures int

	classes [2]float64 // classes[0] maps to y<=0, classes[1] to y>0
}

// NewClassifier creates a Classifier with spec.md §7's documented defaults.
func NewClassifier() *Classifier {
	c := &Classifier{
		NumTrees:          200,
		NumBurnIn:         250,
		NumSamples:        1000,
		PredictNumSamples: 200,
		TreeThinningRate:  1,
		NumThreads:        1,
		UseQuantiles:      true,
		RandomState:       42,
		K:                 2,
		TreePriorBase:     corebart.DefaultTreePriorConfig().Base,
		TreePriorPower:    corebart.DefaultTreePriorConfig().Power,
		MaxNumCuts:        100,
		classes:           [2]float64{0, 1},
	}
	c.state = model.NewStateManager()
	c.logger = log.GetLoggerWithName("bart.Classifier")
	return c
}

// WithMatchBayesTreeProbit selects the MatchBayesTreeProbit latent
// resampling mode (spec.md §9's open question).
func (c *Classifier) WithMatchBayesTreeProbit(v bool) *Classifier {
	c.MatchBayesTree = v
	return c
}

// Fit trains the BART classifier on X, y. y must take exactly two distinct
// values; the larger is treated as the positive class.
func (c *Classifier) Fit(X, y mat.Matrix) error {
	rows, cols := X.Dims()
	yRows, yCols := y.Dims()
	if rows != yRows {
		return scigoErrors.NewDimensionError("Fit", rows, yRows, 0)
	}
	if yCols != 1 {
		return scigoErrors.NewDimensionError("Fit", 1, yCols, 1)
	}

	c.nFeatures = cols
	types := make([]corebart.VariableType, cols)
	for j := range types {
		types[j] = corebart.Ordinal
	}
	maxCuts := make([]int, cols)
	for j := range maxCuts {
		maxCuts[j] = c.MaxNumCuts
	}

	yVals := vectorOf(y)
	negClass, posClass, signed, err := signedLabels(yVals)
	if err != nil {
		return err
	}
	c.classes = [2]float64{negClass, posClass}

	data := corebart.DataOptions{
		Y:             signed,
		X:             matrixToRows(X),
		VariableTypes: types,
		SigmaEstimate: 1,
		MaxNumCuts:    maxCuts,
	}

	control := corebart.ControlOptions{
		ResponseIsBinary: true,
		NumSamples:       c.NumSamples,
		NumBurnIn:        c.NumBurnIn,
		NumTrees:         c.NumTrees,
		NumThreads:       c.NumThreads,
		TreeThinningRate: c.TreeThinningRate,
		UseQuantiles:     c.UseQuantiles,
		PrintEvery:       100,
		Rng:              rng.New(rand.New(rand.NewSource(c.RandomState))),
	}
	mo := corebart.DefaultModelOptions()
	modelOpts := corebart.ModelOptions{
		BirthOrDeathProbability: mo.BirthOrDeathProbability,
		SwapProbability:         mo.SwapProbability,
		ChangeProbability:       mo.ChangeProbability,
		BirthProbability:        mo.BirthProbability,
		TreePrior: corebart.TreePriorConfig{
			Base:  c.TreePriorBase,
			Power: c.TreePriorPower,
		},
		EndNodePrior: corebart.EndNodePriorConfig{
			Family: corebart.MeanNormal,
			K:      c.K,
		},
		ResidualVariancePrior: corebart.ResidualVariancePriorConfig{DF: 3, Quantile: 0.90},
		MatchBayesTreeProbit:  c.MatchBayesTree,
	}

	fit, err := corebart.NewFit(control, modelOpts, data)
	if err != nil {
		return err
	}
	results, err := fit.RunSampler(c.NumBurnIn, c.NumSamples)
	if err != nil {
		return err
	}

	c.fit = fit
	c.results = results
	c.state.SetFitted()
	return nil
}

// signedLabels maps y's two distinct values to {-1, +1}, returning the
// original (negative, positive) class labels alongside the signed vector
// bart.DataOptions.Y expects for a binary response.
func signedLabels(y []float64) (neg, pos float64, signed []float64, err error) {
	seen := map[float64]bool{}
	for _, v := range y {
		seen[v] = true
	}
	if len(seen) != 2 {
		return 0, 0, nil, scigoErrors.NewValueError("Fit", "binary classifier requires exactly two distinct class labels")
	}
	var values []float64
	for v := range seen {
		values = append(values, v)
	}
	if values[0] > values[1] {
		values[0], values[1] = values[1], values[0]
	}
	neg, pos = values[0], values[1]

	signed = make([]float64, len(y))
	for i, v := range y {
		if v == pos {
			signed[i] = 1
		} else {
			signed[i] = -1
		}
	}
	return neg, pos, signed, nil
}

// PredictProba returns, for each row of X, the posterior-mean probability
// of the positive class: Phi(2 * meanLatentFit), per bart.descaleFit's
// binary-mode convention of mapping the scaled total fit back to the
// latent Normal(0,1) index.
func (c *Classifier) PredictProba(X mat.Matrix) (mat.Matrix, error) {
	if !c.state.IsFitted() {
		return nil, scigoErrors.NewNotFittedError("Classifier", "PredictProba")
	}
	rows, cols := X.Dims()
	if cols != c.nFeatures {
		return nil, scigoErrors.NewDimensionError("PredictProba", c.nFeatures, cols, 1)
	}

	flat := make([]float64, 0, rows*cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			flat = append(flat, X.At(i, j))
		}
	}

	latents, err := c.fit.PredictTestFits(flat, rows, c.PredictNumSamples)
	if err != nil {
		return nil, err
	}

	probs := make([]float64, rows)
	for i, z := range latents {
		probs[i] = distuv.UnitNormal.CDF(z)
	}
	return mat.NewDense(rows, 1, probs), nil
}

// Predict returns the class label (the larger of the two training labels
// for probability >= 0.5, the smaller otherwise) for each row of X.
func (c *Classifier) Predict(X mat.Matrix) (mat.Matrix, error) {
	probs, err := c.PredictProba(X)
	if err != nil {
		return nil, err
	}
	rows, _ := probs.Dims()
	out := mat.NewDense(rows, 1, nil)
	for i := 0; i < rows; i++ {
		if probs.At(i, 0) >= 0.5 {
			out.Set(i, 0, c.classes[1])
		} else {
			out.Set(i, 0, c.classes[0])
		}
	}
	return out, nil
}

// Score returns classification accuracy on X, y.
func (c *Classifier) Score(X, y mat.Matrix) (float64, error) {
	if !c.state.IsFitted() {
		return 0, scigoErrors.NewNotFittedError("Classifier", "Score")
	}
	predictions, err := c.Predict(X)
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
	return metrics.Accuracy(yVec, predVec)
}

// Results returns the posterior samples collected by the most recent Fit.
func (c *Classifier) Results() *corebart.Results { return c.results }

// IsFitted reports whether Fit has completed successfully.
func (c *Classifier) IsFitted() bool { return c.state.IsFitted() }

// SaveModel persists the classifier's fitted state to path.
func (c *Classifier) SaveModel(path string) error {
	if !c.state.IsFitted() {
		return scigoErrors.NewNotFittedError("Classifier", "SaveModel")
	}
	return c.fit.SaveToFile(path)
}

// LoadModel loads a classifier previously persisted with SaveModel.
func (c *Classifier) LoadModel(path string) error {
	fit, err := corebart.LoadFromFile(path)
	if err != nil {
		return err
	}
	fit.SetRng(rng.New(rand.New(rand.NewSource(c.RandomState))))
	c.fit = fit
	c.nFeatures = fit.NumPredictors()
	c.state.SetFitted()
	return nil
}
