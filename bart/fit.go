package bart

import (
	"errors"
	"math"
	"time"

	"github.com/ezoic/bart/bart/reduce"
	"github.com/ezoic/bart/bart/rng"
	scigoErrors "github.com/ezoic/bart/pkg/errors"
	"github.com/ezoic/bart/pkg/log"
	"gonum.org/v1/gonum/stat/distuv"
)

// Fit is the MCMC sampler orchestrator (spec.md §2's "BARTFit"). It holds
// the ensemble, the running per-observation total fit, per-tree fit
// vectors, sigma, and executes the outer MCMC loop.
type Fit struct {
	control ControlOptions
	model   ModelOptions
	sd      *scaledData

	trees    []*Tree
	treeFits [][]float64 // treeFits[t] has length n
	totalFits     []float64 // length n
	totalTestFits []float64 // length m

	sigma       float64
	runningTime time.Duration

	endNodePrior  endNodePrior
	treePrior     *treePrior
	residualPrior *residualVariancePrior
	pool          *reduce.Pool

	logger log.Logger
}

// NewFit validates control/model/data per spec.md §7's Configuration
// error checks and constructs the ensemble. Construction never returns a
// partial Fit on error.
func NewFit(control ControlOptions, model ModelOptions, data DataOptions) (*Fit, error) {
	if err := control.Validate(); err != nil {
		return nil, err
	}
	if err := model.Validate(); err != nil {
		return nil, err
	}
	if err := data.Validate(); err != nil {
		return nil, err
	}

	sd, err := newScaledData(data, control.UseQuantiles, control.ResponseIsBinary)
	if err != nil {
		return nil, err
	}

	var enp endNodePrior
	switch model.EndNodePrior.Family {
	case MeanNormal:
		enp = newMeanNormalPrior(model.EndNodePrior.K, control.NumTrees, control.ResponseIsBinary)
	case LinRegNormal:
		enp = newLinRegNormalPrior(model.EndNodePrior.Precisions)
	default:
		return nil, scigoErrors.NewConfigError("EndNodePrior.Family", "unrecognized end-node family")
	}

	residualPrior := newResidualVariancePrior(model.ResidualVariancePrior, data.SigmaEstimate, chiSquaredQuantile)

	f := &Fit{
		control:       control,
		model:         model,
		sd:            sd,
		endNodePrior:  enp,
		treePrior:     newTreePrior(model.TreePrior),
		residualPrior: residualPrior,
		pool:          reduce.New(control.NumThreads),
		logger:        log.GetLoggerWithName("BARTFit"),
	}

	f.trees = make([]*Tree, control.NumTrees)
	f.treeFits = make([][]float64, control.NumTrees)
	for t := 0; t < control.NumTrees; t++ {
		f.trees[t] = newTree(sd, f.treePrior, f.endNodePrior, f.pool)
		f.treeFits[t] = make([]float64, sd.n)
	}
	f.totalFits = make([]float64, sd.n)
	if sd.m > 0 {
		f.totalTestFits = make([]float64, sd.m)
	}
	f.sigma = 1

	return f, nil
}

// chiSquaredQuantile inverts the chi-squared(df) CDF at p, used only at
// construction time to calibrate the residual-variance prior's scale
// against the user's sigma estimate; this is a pure function of (p, df)
// with no dependence on an RNG source, unlike the draws in bart/rng.
func chiSquaredQuantile(p, df float64) float64 {
	return distuv.ChiSquared{K: df}.Quantile(p)
}

// RunSampler executes (numBurnIn+numSamples)*TreeThinningRate iterations
// and returns the samples collected after burn-in, per spec.md §4.6.
func (f *Fit) RunSampler(numBurnIn, numSamples int) (*Results, error) {
	if numSamples < 1 {
		return nil, scigoErrors.NewConfigError("numSamples", "must be >= 1")
	}
	if numBurnIn < 0 {
		return nil, scigoErrors.NewConfigError("numBurnIn", "must be >= 0")
	}

	start := time.Now()
	defer func() { f.runningTime += time.Since(start) }()

	results := newResults(f.sd.n, f.sd.m, f.sd.p, numSamples, f.control.KeepTrainingFits)

	totalIterations := (numBurnIn + numSamples) * f.control.TreeThinningRate
	sampleIdx := 0
	for iter := 0; iter < totalIterations; iter++ {
		f.sweepTrees()

		if f.control.ResponseIsBinary {
			f.resampleLatents(f.control.Rng)
		} else {
			ssr := f.weightedSSR()
			sigma2 := f.residualPrior.drawFromPosterior(f.sd.totalWeight(), ssr, f.control.Rng)
			f.sigma = math.Sqrt(sigma2)
		}

		if f.control.Verbose && (iter+1)%f.control.PrintEvery == 0 {
			f.logger.Info("sampling progress", "iteration", iter+1, "of", totalIterations)
		}

		if (iter+1)%f.control.TreeThinningRate != 0 {
			continue
		}
		inBurnIn := iter < numBurnIn*f.control.TreeThinningRate
		if inBurnIn {
			continue
		}

		f.writeSample(results, sampleIdx)
		if f.control.Callback != nil {
			f.invokeCallback(results, sampleIdx)
		}
		sampleIdx++
	}

	return results, nil
}

// sweepTrees performs one MCMC iteration's per-tree sub-iterations, in
// order, per spec.md §4.6: subtract each tree's previous contribution,
// propose+accept, redraw leaf parameters, write fits, add them back.
func (f *Fit) sweepTrees() {
	for t, tree := range f.trees {
		fits := f.treeFits[t]
		for i := range fits {
			f.totalFits[i] -= fits[i]
		}

		residual := func(i int) float64 { return f.sd.yScaled[i] - f.totalFits[i] }
		sigma2 := f.sigma * f.sigma
		tree.proposeAndAccept(t, f.model, sigma2, residual, f.control.Rng, f.logger)

		tree.writeTrainingFits(fits)
		for i := range fits {
			f.totalFits[i] += fits[i]
		}
	}

	if f.sd.m > 0 {
		for i := range f.totalTestFits {
			f.totalTestFits[i] = 0
		}
		testBuf := make([]float64, f.sd.m)
		for _, tree := range f.trees {
			tree.writeTestFits(testBuf)
			for i, v := range testBuf {
				f.totalTestFits[i] += v
			}
		}
	}
}

func (f *Fit) weightedSSR() float64 {
	var ssr float64
	for i := 0; i < f.sd.n; i++ {
		r := f.sd.yScaled[i] - f.totalFits[i]
		ssr += f.sd.weightAt(i) * r * r
	}
	return ssr
}

func (f *Fit) writeSample(results *Results, sampleIdx int) {
	results.SigmaSamples[sampleIdx] = f.sd.descaleSigma(f.sigma)

	if f.control.KeepTrainingFits {
		for i := 0; i < f.sd.n; i++ {
			results.setTrainingAt(i, sampleIdx, f.sd.descaleFit(f.totalFits[i]))
		}
	}
	if f.sd.m > 0 {
		for i := 0; i < f.sd.m; i++ {
			results.setTestAt(i, sampleIdx, f.sd.descaleFit(f.totalTestFits[i]))
		}
	}

	counts := make([]float64, f.sd.p)
	for _, tree := range f.trees {
		tree.variableUseCounts(counts)
	}
	for j, c := range counts {
		results.setVariableCountAt(j, sampleIdx, c)
	}
}

func (f *Fit) invokeCallback(results *Results, sampleIdx int) {
	sample := &Sample{Sigma: results.SigmaSamples[sampleIdx]}
	if f.control.KeepTrainingFits {
		sample.TrainingFits = make([]float64, f.sd.n)
		for i := range sample.TrainingFits {
			sample.TrainingFits[i] = results.TrainingAt(i, sampleIdx)
		}
	}
	if f.sd.m > 0 {
		sample.TestFits = make([]float64, f.sd.m)
		for i := range sample.TestFits {
			sample.TestFits[i] = results.TestAt(i, sampleIdx)
		}
	}
	f.control.Callback(sample)
}

// SetResponse replaces y, recomputing the response scaling. Per spec.md
// §4.4, the residual-variance prior's scale is rescaled to preserve its
// unscaled quantile under the new range.
func (f *Fit) SetResponse(y []float64) error {
	if len(y) != f.sd.n {
		return scigoErrors.NewDimensionError("SetResponse", f.sd.n, len(y), 0)
	}
	oldRange := f.sd.yRange
	f.sd.yRaw = append([]float64(nil), y...)
	if f.control.ResponseIsBinary {
		f.sd.yScaled = initialLatents(f.sd.yRaw)
		return nil
	}
	if err := f.sd.rescaleResponse(); err != nil {
		return err
	}
	f.residualPrior.rescale(oldRange, f.sd.yRange)
	return nil
}

// SetOffset replaces the training offset, rescaling the response and the
// residual-variance prior the same way SetResponse does.
func (f *Fit) SetOffset(offset []float64) error {
	if offset != nil && len(offset) != f.sd.n {
		return scigoErrors.NewDimensionError("SetOffset", f.sd.n, len(offset), 0)
	}
	f.sd.offset = offset
	if f.control.ResponseIsBinary {
		return nil
	}
	oldRange := f.sd.yRange
	if err := f.sd.rescaleResponse(); err != nil {
		return err
	}
	f.residualPrior.rescale(oldRange, f.sd.yRange)
	return nil
}

// SetTestOffset replaces the test offset.
func (f *Fit) SetTestOffset(testOffset []float64) error {
	if testOffset != nil && len(testOffset) != f.sd.m {
		return scigoErrors.NewDimensionError("SetTestOffset", f.sd.m, len(testOffset), 0)
	}
	f.sd.testOffset = testOffset
	return nil
}

// SetPredictor replaces predictor column j. It returns false, leaving the
// fit in its pre-call state, iff the new column would make an existing
// split infeasible (spec.md §6/§7's Compatibility error).
func (f *Fit) SetPredictor(j int, values []float64) (bool, error) {
	return f.SetPredictors(map[int][]float64{j: values})
}

// SetPredictors replaces multiple predictor columns atomically: if any
// column's replacement is incompatible, none are applied.
func (f *Fit) SetPredictors(columns map[int][]float64) (bool, error) {
	oldColumns := make(map[int][]float64, len(columns))
	oldCuts := make(map[int][]float64, len(columns))
	newCuts := make(map[int][]float64, len(columns))

	for j, values := range columns {
		if len(values) != f.sd.n {
			return false, scigoErrors.NewDimensionError("SetPredictors", f.sd.n, len(values), j)
		}
		cp, err := f.sd.replacePredictorColumn(j, values, f.control.UseQuantiles)
		if err != nil {
			var compatErr *scigoErrors.CompatibilityError
			if errors.As(err, &compatErr) {
				return false, nil
			}
			return false, err
		}
		oldColumns[j] = f.sd.columns[j]
		oldCuts[j] = f.sd.cutPoints[j]
		newCuts[j] = cp
	}

	for j, values := range columns {
		f.sd.columns[j] = append([]float64(nil), values...)
		if f.sd.variableTypes[j] != Categorical {
			f.sd.cutPoints[j] = newCuts[j]
		} else {
			f.sd.categoryCodes[j] = distinctCodes(f.sd.columns[j])
		}
	}

	if !f.treesStillFeasible() {
		for j := range columns {
			f.sd.columns[j] = oldColumns[j]
			f.sd.cutPoints[j] = oldCuts[j]
		}
		return false, nil
	}

	return true, nil
}

// treesStillFeasible reports whether every existing ordinal split's
// CutIndex still indexes one of its column's cut points. Categorical
// splits are not checked.
func (f *Fit) treesStillFeasible() bool {
	for _, tree := range f.trees {
		for _, id := range tree.internalNodes() {
			n := &tree.nodes[id]
			j := n.Rule.VariableIndex
			if f.sd.variableTypes[j] == Categorical {
				continue
			}
			if n.Rule.CutIndex >= len(f.sd.cutPoints[j]) {
				return false
			}
		}
	}
	return true
}

// SetTestPredictor replaces the test predictor matrix (row-major, m*p).
func (f *Fit) SetTestPredictor(xTest []float64, m int) error {
	if m > 0 && len(xTest) != m*f.sd.p {
		return scigoErrors.NewDimensionError("SetTestPredictor", m*f.sd.p, len(xTest), 0)
	}
	f.sd.m = m
	f.sd.testColumns = append([]float64(nil), xTest...)
	if m == 0 {
		f.totalTestFits = nil
	} else {
		f.totalTestFits = make([]float64, m)
	}
	return nil
}

// PredictTestFits plugs xTest in as the test matrix and continues the
// chain for numSamples more iterations, averaging the de-scaled test fit
// at each one. It is the mechanism behind sklearn/bart's Predict on data
// the original Fit call never saw: rather than snapshotting every
// retained sample's tree state during RunSampler (which spec.md's
// StateBlob deliberately doesn't do, see DESIGN.md), prediction on new
// data continues sampling from the already-converged ensemble and
// evaluates it against xTest along the way, exactly as RunSampler's own
// test-fit bookkeeping already does for a fixed XTest.
func (f *Fit) PredictTestFits(xTest []float64, m, numSamples int) ([]float64, error) {
	if numSamples < 1 {
		return nil, scigoErrors.NewConfigError("numSamples", "must be >= 1")
	}
	if err := f.SetTestPredictor(xTest, m); err != nil {
		return nil, err
	}
	if m == 0 {
		return nil, nil
	}

	start := time.Now()
	defer func() { f.runningTime += time.Since(start) }()

	sums := make([]float64, m)
	for s := 0; s < numSamples; s++ {
		f.sweepTrees()
		if f.control.ResponseIsBinary {
			f.resampleLatents(f.control.Rng)
		} else {
			ssr := f.weightedSSR()
			sigma2 := f.residualPrior.drawFromPosterior(f.sd.totalWeight(), ssr, f.control.Rng)
			f.sigma = math.Sqrt(sigma2)
		}
		for i, v := range f.totalTestFits {
			sums[i] += f.sd.descaleFit(v)
		}
	}
	for i := range sums {
		sums[i] /= float64(numSamples)
	}
	return sums, nil
}

// NumPredictors returns p, the predictor column count the fit was built with.
func (f *Fit) NumPredictors() int { return f.sd.p }

// RunningTime reports the cumulative wall-clock time spent across every
// RunSampler and PredictTestFits call on this fit.
func (f *Fit) RunningTime() time.Duration { return f.runningTime }

// Rng exposes the fit's owned random-number source, for callers that want
// to thread the same sequence elsewhere (e.g. cross-validation folds).
func (f *Fit) Rng() rng.Source { return f.control.Rng }
