package bart

import (
	"math"
	"testing"

	"github.com/ezoic/bart/bart/reduce"
)

func TestGrowProbabilityDecaysWithDepth(t *testing.T) {
	cfg := DefaultTreePriorConfig()
	p0 := cfg.GrowProbability(0)
	p1 := cfg.GrowProbability(1)
	p2 := cfg.GrowProbability(2)
	if !(p0 > p1 && p1 > p2) {
		t.Fatalf("GrowProbability should strictly decrease with depth: got %v, %v, %v", p0, p1, p2)
	}
	if p0 != cfg.Base {
		t.Fatalf("GrowProbability(0) = %v, want Base = %v", p0, cfg.Base)
	}
}

func TestMeanNormalPriorSpreadSixfoldForBinary(t *testing.T) {
	continuous := newMeanNormalPrior(2, 100, false)
	binary := newMeanNormalPrior(2, 100, true)
	// spread(binary)/spread(continuous) = 3.0/0.5 = 6, and tau = 1/sigmaMu^2,
	// so tau(continuous)/tau(binary) = 36.
	ratio := continuous.tau / binary.tau
	if math.Abs(ratio-36) > 1e-9 {
		t.Fatalf("tau ratio = %v, want 36", ratio)
	}
}

// TestMeanNormalMuEqualsWeightedMeanAtVanishingPriorPrecision checks that as
// tau -> 0 (an uninformative prior), the closed-form Bayes update's
// posterior mean collapses to the leaf's weighted residual mean.
func TestMeanNormalMuEqualsWeightedMeanAtVanishingPriorPrecision(t *testing.T) {
	prior := &meanNormalPrior{tau: 1e-12}
	scratch := &endNodeScratch{meanNormal: meanNormalScratch{mu: 3.5, numEffectiveObs: 10, sumSqDev: 4}}

	sigma2 := 1.0
	precisionPost := prior.tau + scratch.meanNormal.numEffectiveObs/sigma2
	wantMean := (scratch.meanNormal.numEffectiveObs / sigma2) * scratch.meanNormal.mu / precisionPost

	if math.Abs(wantMean-3.5) > 1e-6 {
		t.Fatalf("posterior mean = %v, want approximately the leaf's weighted mean 3.5", wantMean)
	}
}

func TestPrepareComputesWeightedStats(t *testing.T) {
	sd := &scaledData{n: 4, weights: nil}
	prior := &meanNormalPrior{tau: 1}
	pool := reduce.New(1)
	values := []float64{1, 2, 3, 4}
	residual := func(i int) float64 { return values[i] }

	scratch := &endNodeScratch{}
	prior.prepare(scratch, sd, []int{0, 1, 2, 3}, residual, pool)

	if math.Abs(scratch.meanNormal.mu-2.5) > 1e-9 {
		t.Fatalf("mu = %v, want 2.5", scratch.meanNormal.mu)
	}
	if scratch.meanNormal.numEffectiveObs != 4 {
		t.Fatalf("numEffectiveObs = %v, want 4", scratch.meanNormal.numEffectiveObs)
	}
}

func TestResidualVariancePriorCalibration(t *testing.T) {
	cfg := ResidualVariancePriorConfig{DF: 3, Quantile: 0.9}
	quantileFn := func(p, df float64) float64 { return df } // stub: identity-like
	prior := newResidualVariancePrior(cfg, 2, quantileFn)
	if prior.df != 3 {
		t.Fatalf("df = %v, want 3", prior.df)
	}
	if prior.scale <= 0 {
		t.Fatalf("scale = %v, want > 0", prior.scale)
	}
}

func TestResidualVariancePriorRescalePreservesQuantileRatio(t *testing.T) {
	prior := &residualVariancePrior{df: 3, scale: 4}
	prior.rescale(2, 4) // new range is double the old: ratio 0.5, scale x0.25
	want := 4.0 * 0.25
	if math.Abs(prior.scale-want) > 1e-9 {
		t.Fatalf("scale after rescale = %v, want %v", prior.scale, want)
	}
}

func TestSampleRuleUniformOverFeasibleSets(t *testing.T) {
	sd := &scaledData{
		p:             1,
		variableTypes: []VariableType{Ordinal},
		cutPoints:     [][]float64{{0.5, 1.5, 2.5}},
	}
	sets := []feasibleSet{{variableIndex: 0, cutIndices: []int{0, 1, 2}}}
	src := newTestRng(1)

	rule, logProb := sampleRule(sets, sd, src)
	if !rule.IsSet {
		t.Fatal("sampleRule should return a set rule")
	}
	want := -math.Log(1) - math.Log(3)
	if math.Abs(logProb-want) > 1e-9 {
		t.Fatalf("logProb = %v, want %v", logProb, want)
	}
}

func TestRuleLogProbUnavailableVariableIsNegInf(t *testing.T) {
	sets := []feasibleSet{{variableIndex: 0, cutIndices: nil}}
	logProb := ruleLogProb(sets, 0, -1)
	if !math.IsInf(logProb, -1) {
		t.Fatalf("logProb = %v, want -Inf for an empty feasible set", logProb)
	}
}
