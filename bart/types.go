package bart

import (
	"math"

	"github.com/ezoic/bart/bart/rng"
	scigoErrors "github.com/ezoic/bart/pkg/errors"
)

// VariableType distinguishes ordinal predictors, whose cut points are real
// thresholds, from categorical predictors, whose cut points are bitmasks
// over category codes.
type VariableType uint8

const (
	Ordinal VariableType = iota
	Categorical
)

// EndNodeFamily selects which leaf-parameter model the ensemble uses.
// spec.md's Non-goals rule out any family beyond these two.
type EndNodeFamily uint8

const (
	MeanNormal EndNodeFamily = iota
	LinRegNormal
)

// Callback is invoked synchronously on the sampler goroutine after a
// sample is stored. It receives read-only views and must return before
// the next iteration begins; RunSampler does not resume until it does.
type Callback func(sample *Sample)

// Sample is the read-only view a Callback receives for one emitted sample.
type Sample struct {
	TrainingFits []float64 // de-scaled, length n (nil unless KeepTrainingFits)
	TestFits     []float64 // de-scaled, length m (nil if m == 0)
	Sigma        float64   // original units
}

// TreePriorConfig holds the Chipman-George-McCulloch depth-decay prior's
// hyperparameters.
type TreePriorConfig struct {
	Base  float64 // P_grow(0) numerator, default 0.95
	Power float64 // depth-decay exponent, default 2.0
}

// DefaultTreePriorConfig returns the spec's stated defaults.
func DefaultTreePriorConfig() TreePriorConfig {
	return TreePriorConfig{Base: 0.95, Power: 2.0}
}

// GrowProbability returns P_grow(d) = base / (1+d)^power.
func (c TreePriorConfig) GrowProbability(depth int) float64 {
	return c.Base / math.Pow(1+float64(depth), c.Power)
}

// EndNodePriorConfig selects and parameterizes one end-node family. Exactly
// one of the two parameter fields is meaningful, chosen by Family.
type EndNodePriorConfig struct {
	Family EndNodeFamily

	// K parameterizes the Mean-Normal prior's leaf-mean spread:
	// sigma_mu = (isBinary ? 3.0 : 0.5) / (K * sqrt(numTrees)).
	K float64

	// Precisions parameterizes the LinReg-Normal prior: beta ~
	// Normal(0, diag(1/Precisions)), one entry per augmented column
	// (intercept first, then one per predictor), length p+1.
	Precisions []float64
}

// ResidualVariancePriorConfig holds the scaled-inverse-chi-squared prior's
// hyperparameters, calibrated against a user-supplied sigma estimate at
// construction time (see newResidualVariancePrior).
type ResidualVariancePriorConfig struct {
	DF       float64 // degrees of freedom, > 0
	Quantile float64 // calibration quantile in (0, 1)
}

// ControlOptions governs sampler mechanics independent of the statistical
// model: iteration counts, parallelism, logging cadence.
type ControlOptions struct {
	ResponseIsBinary  bool
	Verbose           bool
	KeepTrainingFits  bool
	UseQuantiles      bool // quantile cut points if true, uniform if false
	NumSamples        int
	NumBurnIn         int
	NumTrees          int
	NumThreads        int
	TreeThinningRate  int
	PrintEvery        int
	PrintCutoffs      int
	Callback          Callback
	Rng               rng.Source
}

// Validate applies spec.md §7's Configuration error checks.
func (c ControlOptions) Validate() error {
	if c.NumSamples < 1 {
		return scigoErrors.NewConfigError("NumSamples", "must be >= 1")
	}
	if c.NumBurnIn < 0 {
		return scigoErrors.NewConfigError("NumBurnIn", "must be >= 0")
	}
	if c.NumTrees < 1 {
		return scigoErrors.NewConfigError("NumTrees", "must be >= 1")
	}
	if c.NumThreads < 1 {
		return scigoErrors.NewConfigError("NumThreads", "must be >= 1")
	}
	if c.TreeThinningRate < 1 {
		return scigoErrors.NewConfigError("TreeThinningRate", "must be >= 1")
	}
	if c.PrintEvery <= 0 {
		return scigoErrors.NewConfigError("PrintEvery", "must be > 0")
	}
	if c.PrintCutoffs < 0 {
		return scigoErrors.NewConfigError("PrintCutoffs", "must be >= 0")
	}
	if c.Rng == nil {
		return scigoErrors.NewConfigError("Rng", "must not be nil")
	}
	return nil
}

// ModelOptions governs the statistical model: move probabilities and the
// three priors.
type ModelOptions struct {
	BirthOrDeathProbability float64
	SwapProbability         float64
	ChangeProbability       float64
	BirthProbability        float64 // P(BIRTH | BIRTH_OR_DEATH), default 0.5

	TreePrior              TreePriorConfig
	EndNodePrior           EndNodePriorConfig
	ResidualVariancePrior  ResidualVariancePriorConfig

	// MatchBayesTreeProbit selects between the two probit latent-variable
	// resampling modes described in spec.md §9's open question. Default
	// false selects the non-match path.
	MatchBayesTreeProbit bool
}

// DefaultModelOptions returns the spec's stated move-probability defaults;
// callers must still set EndNodePrior and ResidualVariancePrior.
func DefaultModelOptions() ModelOptions {
	return ModelOptions{
		BirthOrDeathProbability: 0.5,
		SwapProbability:         0.1,
		ChangeProbability:       0.4,
		BirthProbability:        0.5,
		TreePrior:               DefaultTreePriorConfig(),
	}
}

// Validate applies spec.md §7's Configuration error checks, including the
// hard 1e-10 tolerance on the three step probabilities summing to one.
func (m ModelOptions) Validate() error {
	sum := m.BirthOrDeathProbability + m.SwapProbability + m.ChangeProbability
	if math.Abs(sum-1) >= 1e-10 {
		return scigoErrors.NewConfigError("step probabilities", "birthOrDeath + swap + change must sum to 1 within 1e-10")
	}
	if m.BirthOrDeathProbability < 0 || m.SwapProbability < 0 || m.ChangeProbability < 0 {
		return scigoErrors.NewConfigError("step probabilities", "must be non-negative")
	}
	if m.BirthProbability < 0 || m.BirthProbability > 1 {
		return scigoErrors.NewConfigError("BirthProbability", "must be in [0, 1]")
	}
	if m.TreePrior.Base <= 0 || m.TreePrior.Base >= 1 {
		return scigoErrors.NewConfigError("TreePrior.Base", "must be in (0, 1)")
	}
	if m.TreePrior.Power <= 0 {
		return scigoErrors.NewConfigError("TreePrior.Power", "must be > 0")
	}
	switch m.EndNodePrior.Family {
	case MeanNormal:
		if m.EndNodePrior.K <= 0 {
			return scigoErrors.NewConfigError("EndNodePrior.K", "must be > 0")
		}
	case LinRegNormal:
		if len(m.EndNodePrior.Precisions) == 0 {
			return scigoErrors.NewConfigError("EndNodePrior.Precisions", "must be non-empty")
		}
		for _, lambda := range m.EndNodePrior.Precisions {
			if lambda <= 0 {
				return scigoErrors.NewConfigError("EndNodePrior.Precisions", "entries must be > 0")
			}
		}
	default:
		return scigoErrors.NewConfigError("EndNodePrior.Family", "unrecognized end-node family")
	}
	if m.ResidualVariancePrior.DF <= 0 {
		return scigoErrors.NewConfigError("ResidualVariancePrior.DF", "must be > 0")
	}
	if m.ResidualVariancePrior.Quantile <= 0 || m.ResidualVariancePrior.Quantile >= 1 {
		return scigoErrors.NewConfigError("ResidualVariancePrior.Quantile", "must be in (0, 1)")
	}
	return nil
}

// DataOptions holds the training/test inputs and per-column metadata.
type DataOptions struct {
	Y            []float64
	X            [][]float64 // n rows of p columns, row-major as supplied
	VariableTypes []VariableType

	XTest []float64 // row-major, m*p: row r, column j is XTest[r*p+j]

	Weights    []float64 // length n, strictly positive, optional
	Offset     []float64 // length n, optional
	TestOffset []float64 // length m, optional

	SigmaEstimate float64
	MaxNumCuts    []int // length p
}

// NumObservations returns n, the training row count.
func (d DataOptions) NumObservations() int { return len(d.Y) }

// NumPredictors returns p, the predictor column count.
func (d DataOptions) NumPredictors() int { return len(d.VariableTypes) }

// Validate applies spec.md §7's Configuration error checks for the data
// block: mismatched array lengths and a non-positive sigma estimate.
func (d DataOptions) Validate() error {
	n := len(d.Y)
	p := len(d.VariableTypes)
	if n == 0 {
		return scigoErrors.NewConfigError("Y", "must not be empty")
	}
	if len(d.X) != n {
		return scigoErrors.NewDimensionError("DataOptions", n, len(d.X), 0)
	}
	for i, row := range d.X {
		if len(row) != p {
			return scigoErrors.NewDimensionError("DataOptions.X row", p, len(row), i)
		}
	}
	if len(d.MaxNumCuts) != p {
		return scigoErrors.NewDimensionError("DataOptions.MaxNumCuts", p, len(d.MaxNumCuts), 0)
	}
	if d.Weights != nil && len(d.Weights) != n {
		return scigoErrors.NewDimensionError("DataOptions.Weights", n, len(d.Weights), 0)
	}
	if d.Weights != nil {
		for i, w := range d.Weights {
			if w <= 0 {
				return scigoErrors.NewConfigError("DataOptions.Weights", "must be strictly positive")
			}
			_ = i
		}
	}
	if d.Offset != nil && len(d.Offset) != n {
		return scigoErrors.NewDimensionError("DataOptions.Offset", n, len(d.Offset), 0)
	}
	if d.SigmaEstimate <= 0 {
		return scigoErrors.NewConfigError("DataOptions.SigmaEstimate", "must be > 0")
	}
	m := len(d.XTest) / maxInt(p, 1)
	if len(d.XTest) != 0 {
		if len(d.XTest)%maxInt(p, 1) != 0 {
			return scigoErrors.NewConfigError("DataOptions.XTest", "length must be a multiple of p")
		}
		if d.TestOffset != nil && len(d.TestOffset) != m {
			return scigoErrors.NewDimensionError("DataOptions.TestOffset", m, len(d.TestOffset), 0)
		}
	} else if d.TestOffset != nil {
		return scigoErrors.NewConfigError("DataOptions.TestOffset", "must not be set without XTest")
	}
	return nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
