package bart

import (
	"math"

	"github.com/ezoic/bart/bart/reduce"
	"github.com/ezoic/bart/bart/rng"
	"gonum.org/v1/gonum/mat"
)

// treePrior implements the Chipman-George-McCulloch depth-decay prior
// (spec.md §4.2). The spec's Non-goals rule out any alternative, so this
// is the only implementation rather than an interface with one
// implementor.
type treePrior struct {
	cfg TreePriorConfig
}

func newTreePrior(cfg TreePriorConfig) *treePrior {
	return &treePrior{cfg: cfg}
}

func (p *treePrior) growLogProb(depth int) float64 {
	return math.Log(p.cfg.GrowProbability(depth))
}

func (p *treePrior) noGrowLogProb(depth int) float64 {
	return math.Log(1 - p.cfg.GrowProbability(depth))
}

// feasibleSet is one variable's remaining feasible choices at a node:
// ordinal columns carry remaining cut indices, categorical columns carry
// remaining category bit positions. Exactly one of the two is populated,
// chosen by the variable's VariableType.
type feasibleSet struct {
	variableIndex int
	cutIndices    []int
	categoryBits  []int
}

func (f feasibleSet) size() int {
	return len(f.cutIndices) + len(f.categoryBits)
}

// sampleRule picks a variable uniformly among the sets with a non-empty
// feasible range, then a cut or category bit uniformly within that
// variable's range, per spec.md §4.2's "Rule drawing". It returns the
// drawn rule and the log probability of that draw under this scheme.
func sampleRule(sets []feasibleSet, sd *scaledData, src rng.Source) (Rule, float64) {
	nonEmpty := nonEmptySets(sets)
	fs := nonEmpty[uniformIndex(src, len(nonEmpty))]
	logProb := ruleLogProb(sets, fs.variableIndex, -1)

	var choice int
	if sd.variableTypes[fs.variableIndex] == Categorical {
		choice = fs.categoryBits[uniformIndex(src, len(fs.categoryBits))]
	} else {
		choice = fs.cutIndices[uniformIndex(src, len(fs.cutIndices))]
	}
	return buildRuleFromBoundary(sd, fs.variableIndex, choice), logProb
}

// ruleLogProb returns the log probability sampleRule would assign to
// variable `variableIndex`'s feasible set overall (used both after a draw,
// passing cutOrBit = -1 to mean "whichever was chosen", and to score a
// rule chosen by some other path, e.g. CHANGE's reverse-move term).
func ruleLogProb(sets []feasibleSet, variableIndex int, _ int) float64 {
	nonEmpty := nonEmptySets(sets)
	for _, s := range nonEmpty {
		if s.variableIndex == variableIndex {
			return -math.Log(float64(len(nonEmpty))) - math.Log(float64(s.size()))
		}
	}
	return math.Inf(-1)
}

func nonEmptySets(sets []feasibleSet) []feasibleSet {
	out := make([]feasibleSet, 0, len(sets))
	for _, s := range sets {
		if s.size() > 0 {
			out = append(out, s)
		}
	}
	return out
}

func uniformIndex(src rng.Source, n int) int {
	i := int(src.Uniform() * float64(n))
	if i >= n {
		i = n - 1
	}
	if i < 0 {
		i = 0
	}
	return i
}

// endNodePrior computes integrated likelihoods and posterior draws for one
// leaf-parameter family. Looked up once per fit (stored on BARTFit), never
// per-leaf, so a vtable-style interface is appropriate here even though
// Node/Rule use tagged variants (spec.md §9).
type endNodePrior interface {
	family() EndNodeFamily

	// prepare recomputes scratch from the leaf's current observation
	// indices and residual function (treeY minus every other tree's
	// contribution), via the reduction pool.
	prepare(scratch *endNodeScratch, sd *scaledData, obsIndex []int, residual func(i int) float64, pool *reduce.Pool)

	// integratedLogLikelihood returns L for scratch's current sufficient
	// statistics under residual variance sigma2.
	integratedLogLikelihood(scratch *endNodeScratch, sigma2 float64) float64

	// drawPosterior draws the leaf parameter into scratch.
	drawPosterior(scratch *endNodeScratch, sigma2 float64, src rng.Source)

	// fitTraining/fitTest evaluate the drawn leaf parameter for one
	// training/test row.
	fitTraining(scratch *endNodeScratch, sd *scaledData, obsIndex int) float64
	fitTest(scratch *endNodeScratch, sd *scaledData, testRow int) float64
}

// meanNormalPrior implements the constant-leaf-mean family (spec.md
// §4.3's "Mean-Normal prior on leaf means").
type meanNormalPrior struct {
	tau float64
}

func newMeanNormalPrior(k float64, numTrees int, isBinary bool) *meanNormalPrior {
	spread := 0.5
	if isBinary {
		spread = 3.0
	}
	sigmaMu := spread / (k * math.Sqrt(float64(numTrees)))
	return &meanNormalPrior{tau: 1 / (sigmaMu * sigmaMu)}
}

func (p *meanNormalPrior) family() EndNodeFamily { return MeanNormal }

func (p *meanNormalPrior) prepare(scratch *endNodeScratch, sd *scaledData, obsIndex []int, residual func(i int) float64, pool *reduce.Pool) {
	stats := pool.Reduce(obsIndex, residual, sd.weightAt)
	scratch.meanNormal.mu = stats.Mean
	scratch.meanNormal.numEffectiveObs = stats.EffectiveN
	scratch.meanNormal.sumSqDev = stats.SumSqDev
}

func (p *meanNormalPrior) integratedLogLikelihood(scratch *endNodeScratch, sigma2 float64) float64 {
	s := scratch.meanNormal
	precisionPost := p.tau + s.numEffectiveObs/sigma2
	return 0.5*math.Log(p.tau/precisionPost) -
		0.5*s.sumSqDev/sigma2 -
		0.5*(p.tau*s.numEffectiveObs*s.mu*s.mu)/(sigma2*precisionPost)
}

func (p *meanNormalPrior) drawPosterior(scratch *endNodeScratch, sigma2 float64, src rng.Source) {
	s := &scratch.meanNormal
	precisionPost := p.tau + s.numEffectiveObs/sigma2
	m := (s.numEffectiveObs / sigma2) * s.mu / precisionPost
	sd := 1 / math.Sqrt(precisionPost)
	s.mu = src.Normal(m, sd)
}

func (p *meanNormalPrior) fitTraining(scratch *endNodeScratch, sd *scaledData, obsIndex int) float64 {
	return scratch.meanNormal.mu
}

func (p *meanNormalPrior) fitTest(scratch *endNodeScratch, sd *scaledData, testRow int) float64 {
	return scratch.meanNormal.mu
}

// linRegNormalPrior implements the per-leaf linear-regression family
// (spec.md §4.3's "LinReg-Normal prior"), optional and used only when
// ModelOptions.EndNodePrior.Family == LinRegNormal.
type linRegNormalPrior struct {
	precisions []float64 // lambda_i, length p+1: intercept then predictors
}

func newLinRegNormalPrior(precisions []float64) *linRegNormalPrior {
	return &linRegNormalPrior{precisions: append([]float64(nil), precisions...)}
}

func (p *linRegNormalPrior) family() EndNodeFamily { return LinRegNormal }

// prepare builds the leaf's augmented design transpose (intercept row
// then one row per predictor) and response vector, both weighted by
// sqrt(weight) so that downstream X^T X / X^T y already reflect per-
// observation weights. R and Coefficients are left for
// integratedLogLikelihood/drawPosterior, since both need sigma2, which
// prepare does not receive.
func (p *linRegNormalPrior) prepare(scratch *endNodeScratch, sd *scaledData, obsIndex []int, residual func(i int) float64, pool *reduce.Pool) {
	nEff := len(obsIndex)
	pCols := sd.p + 1

	xt := mat.NewDense(pCols, nEff, nil)
	y := make([]float64, nEff)
	for k, i := range obsIndex {
		w := math.Sqrt(sd.weightAt(i))
		xt.Set(0, k, w)
		for j := 0; j < sd.p; j++ {
			xt.Set(j+1, k, w*sd.columns[j][i])
		}
		y[k] = w * residual(i)
	}

	scratch.linReg.XtLeaf = xt
	scratch.linReg.YLeaf = y
	scratch.linReg.R = nil
	scratch.linReg.Coefficients = nil
}

// choleskyAndXty computes R (the upper Cholesky factor of X^T X +
// diag(lambda) sigma2) and X^T y, and stores R on the scratch. Every call
// factorizes afresh; drawPosterior calls it again rather than reusing R.
func (p *linRegNormalPrior) choleskyAndXty(scratch *endNodeScratch, sigma2 float64) (*mat.Dense, []float64) {
	s := &scratch.linReg
	pCols := s.XtLeaf.RawMatrix().Rows

	var xtx mat.Dense
	xtx.Mul(s.XtLeaf, s.XtLeaf.T())
	for i := 0; i < pCols; i++ {
		xtx.Set(i, i, xtx.At(i, i)+p.precisions[i]*sigma2)
	}

	var chol mat.Cholesky
	if ok := chol.Factorize(mat.NewSymDense(pCols, symmetrize(&xtx, pCols))); !ok {
		// A non-positive-definite posterior precision means the leaf's
		// design is rank-deficient (e.g. a near-duplicated column);
		// fall back to a ridge bump on the diagonal rather than
		// propagating a panic into the MCMC loop.
		for i := 0; i < pCols; i++ {
			xtx.Set(i, i, xtx.At(i, i)+1e-8)
		}
		chol.Factorize(mat.NewSymDense(pCols, symmetrize(&xtx, pCols)))
	}
	var tri mat.TriDense
	chol.UTo(&tri)
	var r mat.Dense
	r.CloneFrom(&tri)

	yVec := mat.NewVecDense(len(s.YLeaf), s.YLeaf)
	var xty mat.VecDense
	xty.MulVec(s.XtLeaf, yVec)

	s.R = &r
	return &r, xty.RawVector().Data
}

func symmetrize(m *mat.Dense, n int) []float64 {
	out := make([]float64, n*n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			out[i*n+j] = m.At(i, j)
		}
	}
	return out
}

func (p *linRegNormalPrior) integratedLogLikelihood(scratch *endNodeScratch, sigma2 float64) float64 {
	r, xty := p.choleskyAndXty(scratch, sigma2)
	pCols, _ := r.Dims()

	var logDetSum float64
	for i := 0; i < pCols; i++ {
		logDetSum += math.Log(r.At(i, i))
	}

	beta := solveForMean(r, xty)
	var yty float64
	for _, yv := range scratch.linReg.YLeaf {
		yty += yv * yv
	}
	var xtyBeta float64
	for i, b := range beta {
		xtyBeta += xty[i] * b
	}

	return -logDetSum - 0.5*(yty-xtyBeta)/sigma2
}

// solveForMean solves R^T R beta = Xty for beta via forward/back
// substitution against the upper-triangular R.
func solveForMean(r *mat.Dense, xty []float64) []float64 {
	v := forwardSolveTranspose(r, xty)
	return backSolve(r, v)
}

func forwardSolveTranspose(r *mat.Dense, b []float64) []float64 {
	n := len(b)
	v := make([]float64, n)
	for i := 0; i < n; i++ {
		sum := b[i]
		for k := 0; k < i; k++ {
			sum -= r.At(k, i) * v[k]
		}
		v[i] = sum / r.At(i, i)
	}
	return v
}

func backSolve(r *mat.Dense, v []float64) []float64 {
	n := len(v)
	x := make([]float64, n)
	for i := n - 1; i >= 0; i-- {
		sum := v[i]
		for k := i + 1; k < n; k++ {
			sum -= r.At(i, k) * x[k]
		}
		x[i] = sum / r.At(i, i)
	}
	return x
}

// drawPosterior samples beta ~ Normal(P^-1 Xty, sigma2 * P^-1) where P =
// R^T R, per spec.md §4.3: "sample standard normals, add R⁻ᵀXᵀy
// (post-transform), solve Rβ = ·". The standard-normal draw is scaled by
// sqrt(sigma2) before the solve; without that scaling the draw would be
// sigma2 times too concentrated, since R already has sigma2 folded into
// its diagonal (see choleskyAndXty) to keep the posterior-mean solve
// sigma-free. This resolves an ambiguity the distilled formula leaves
// implicit.
func (p *linRegNormalPrior) drawPosterior(scratch *endNodeScratch, sigma2 float64, src rng.Source) {
	r, xty := p.choleskyAndXty(scratch, sigma2)
	n := len(xty)

	mean := forwardSolveTranspose(r, xty)
	z := make([]float64, n)
	sqrtSigma2 := math.Sqrt(sigma2)
	for i := range z {
		z[i] = mean[i] + sqrtSigma2*src.Normal(0, 1)
	}
	scratch.linReg.Coefficients = backSolve(r, z)
}

func (p *linRegNormalPrior) fitTraining(scratch *endNodeScratch, sd *scaledData, obsIndex int) float64 {
	beta := scratch.linReg.Coefficients
	fit := beta[0]
	for j := 0; j < sd.p; j++ {
		fit += beta[j+1] * sd.columns[j][obsIndex]
	}
	return fit
}

func (p *linRegNormalPrior) fitTest(scratch *endNodeScratch, sd *scaledData, testRow int) float64 {
	beta := scratch.linReg.Coefficients
	fit := beta[0]
	for j := 0; j < sd.p; j++ {
		fit += beta[j+1] * sd.testColumnAt(testRow, j)
	}
	return fit
}

// residualVariancePrior implements the scaled-inverse-chi-squared prior
// on sigma^2 (spec.md §4.4).
type residualVariancePrior struct {
	df    float64
	scale float64
}

// newResidualVariancePrior calibrates scale so that the prior's quantile q
// coincides with sigmaEstimate^2, by inverting the scaled-inverse-chi-
// squared CDF at q for a chi-squared(df) variate: if X ~ ChiSquared(df),
// then df*scale/X ~ ScaledInvChiSq(df, scale); solving P(df*scale/X <=
// sigmaEstimate^2) = q for scale gives scale = sigmaEstimate^2 *
// chiSquaredQuantile(1-q, df) / df.
func newResidualVariancePrior(cfg ResidualVariancePriorConfig, sigmaEstimate float64, quantileFn func(p, df float64) float64) *residualVariancePrior {
	chi := quantileFn(1-cfg.Quantile, cfg.DF)
	scale := sigmaEstimate * sigmaEstimate * chi / cfg.DF
	return &residualVariancePrior{df: cfg.DF, scale: scale}
}

// drawFromPosterior draws sigma^2 ~ ScaledInvChiSq(df+n, (df*scale+SSR)/(df+n)).
func (p *residualVariancePrior) drawFromPosterior(nEff, ssr float64, src rng.Source) float64 {
	postDF := p.df + nEff
	postScale := (p.df*p.scale + ssr) / postDF
	chi := src.ChiSquared(postDF)
	return postDF * postScale / chi
}

// rescale implements spec.md §4.4's invariant when y or offset is
// replaced: the *unscaled* prior quantile is preserved, so scale_new =
// scale_old * (oldRange/newRange)^2.
func (p *residualVariancePrior) rescale(oldRange, newRange float64) {
	ratio := oldRange / newRange
	p.scale *= ratio * ratio
}
