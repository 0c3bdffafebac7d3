package bart

import (
	"time"

	"github.com/ezoic/bart/bart/reduce"
	"github.com/ezoic/bart/bart/rng"
	"github.com/ezoic/bart/core/model"
)

// StateBlob is a snapshot of everything RunSampler needs to resume: tree
// topology and drawn leaf parameters, per-tree and total fits, sigma, and
// the residual-variance prior's calibrated scale (so a rescale triggered
// by an earlier SetResponse/SetOffset survives the round trip). It does
// not capture the RNG's internal state — spec.md §8's round-trip law is
// stated in terms of "the same RNG seed", i.e. the caller re-seeds on
// resume (see SetRng) rather than this package serializing RNG state.
type StateBlob struct {
	Trees         []treeState
	TreeFits      [][]float64
	TotalFits     []float64
	Sigma         float64
	RunningTime   time.Duration
	ResidualScale float64
}

// treeState is a gob-friendly flattening of Tree's arena. LinReg-Normal
// leaves persist only their drawn Coefficients: XtLeaf/YLeaf/R are
// recomputed from ObsIndex before they're next needed, so carrying them
// across a save/load round-trip would be both wasted space and stale the
// moment a predictor changes.
type treeState struct {
	Nodes    []nodeState
	Root     NodeID
	ObsIndex []int
}

type nodeState struct {
	IsLeaf bool
	Parent NodeID

	RuleIsSet     bool
	VariableIndex int
	CutIndex      int
	Bitmask       uint64
	Left, Right   NodeID

	ObsStart, ObsCount int
	EnumerationIndex   int

	Mu              float64
	NumEffectiveObs float64
	SumSqDev        float64
	Coefficients    []float64
}

// CreateState captures the fit's current ensemble and sampler state.
func (f *Fit) CreateState() StateBlob {
	blob := StateBlob{
		TreeFits:      make([][]float64, len(f.treeFits)),
		TotalFits:     append([]float64(nil), f.totalFits...),
		Sigma:         f.sigma,
		RunningTime:   f.runningTime,
		ResidualScale: f.residualPrior.scale,
	}
	for t, fits := range f.treeFits {
		blob.TreeFits[t] = append([]float64(nil), fits...)
	}

	blob.Trees = make([]treeState, len(f.trees))
	for t, tree := range f.trees {
		blob.Trees[t] = captureTreeState(tree)
	}
	return blob
}

func captureTreeState(t *Tree) treeState {
	nodes := make([]nodeState, len(t.nodes))
	for i, n := range t.nodes {
		ns := nodeState{
			IsLeaf:           n.IsLeaf,
			Parent:           n.Parent,
			RuleIsSet:        n.Rule.IsSet,
			VariableIndex:    n.Rule.VariableIndex,
			CutIndex:         n.Rule.CutIndex,
			Bitmask:          n.Rule.Bitmask,
			Left:             n.Left,
			Right:            n.Right,
			ObsStart:         n.obsStart,
			ObsCount:         n.obsCount,
			EnumerationIndex: n.EnumerationIndex,
			Mu:               n.Scratch.meanNormal.mu,
			NumEffectiveObs:  n.Scratch.meanNormal.numEffectiveObs,
			SumSqDev:         n.Scratch.meanNormal.sumSqDev,
		}
		if n.IsLeaf && n.Scratch.linReg.Coefficients != nil {
			ns.Coefficients = append([]float64(nil), n.Scratch.linReg.Coefficients...)
		}
		nodes[i] = ns
	}
	return treeState{
		Nodes:    nodes,
		Root:     t.root,
		ObsIndex: append([]int(nil), t.obsIndex...),
	}
}

// RestoreState replaces the fit's ensemble and sampler state with blob's
// contents. The fit's DataOptions-derived configuration (n, p, priors)
// must already match what produced blob; RestoreState does not
// revalidate that, mirroring spec.md §6's restoreState contract.
func (f *Fit) RestoreState(blob StateBlob) {
	f.totalFits = append([]float64(nil), blob.TotalFits...)
	f.sigma = blob.Sigma
	f.runningTime = blob.RunningTime
	f.residualPrior.scale = blob.ResidualScale

	f.treeFits = make([][]float64, len(blob.TreeFits))
	for t, fits := range blob.TreeFits {
		f.treeFits[t] = append([]float64(nil), fits...)
	}

	f.trees = make([]*Tree, len(blob.Trees))
	for t, ts := range blob.Trees {
		f.trees[t] = restoreTreeState(ts, f.sd, f.treePrior, f.endNodePrior, f.pool)
	}
}

func restoreTreeState(ts treeState, sd *scaledData, prior *treePrior, enp endNodePrior, pool *reduce.Pool) *Tree {
	nodes := make([]Node, len(ts.Nodes))
	for i, ns := range ts.Nodes {
		n := Node{
			IsLeaf: ns.IsLeaf,
			Parent: ns.Parent,
			Rule: Rule{
				IsSet:         ns.RuleIsSet,
				VariableIndex: ns.VariableIndex,
				CutIndex:      ns.CutIndex,
				Bitmask:       ns.Bitmask,
			},
			Left:             ns.Left,
			Right:            ns.Right,
			obsStart:         ns.ObsStart,
			obsCount:         ns.ObsCount,
			EnumerationIndex: ns.EnumerationIndex,
		}
		n.Scratch.meanNormal = meanNormalScratch{
			mu:              ns.Mu,
			numEffectiveObs: ns.NumEffectiveObs,
			sumSqDev:        ns.SumSqDev,
		}
		if ns.Coefficients != nil {
			n.Scratch.linReg.Coefficients = append([]float64(nil), ns.Coefficients...)
		}
		nodes[i] = n
	}
	return &Tree{
		sd:           sd,
		prior:        prior,
		endNodePrior: enp,
		pool:         pool,
		nodes:        nodes,
		root:         ts.Root,
		obsIndex:     append([]int(nil), ts.ObsIndex...),
	}
}

// StoreState is an alias for RestoreState kept for parity with spec.md
// §6's storeState(fit, StateBlob) entry point, which writes a blob back
// into a live fit (as opposed to createFit constructing a fresh one).
func (f *Fit) StoreState(blob StateBlob) {
	f.RestoreState(blob)
}

// SetRng replaces the fit's random-number source. LoadFromFile cannot
// resurrect the RNG state a saved fit was using — spec.md §8's round-trip
// law instead asks the caller to supply "the same RNG seed" explicitly, so
// callers reproducing a chain call SetRng with a freshly seeded source
// right after LoadFromFile.
func (f *Fit) SetRng(src rng.Source) {
	f.control.Rng = src
}

// serializableControl is ControlOptions minus its two non-serializable
// collaborators (Rng, Callback), which the caller re-supplies via SetRng /
// a direct field assignment after LoadFromFile.
type serializableControl struct {
	ResponseIsBinary bool
	Verbose          bool
	KeepTrainingFits bool
	UseQuantiles     bool
	NumSamples       int
	NumBurnIn        int
	NumTrees         int
	NumThreads       int
	TreeThinningRate int
	PrintEvery       int
	PrintCutoffs     int
}

func toSerializableControl(c ControlOptions) serializableControl {
	return serializableControl{
		ResponseIsBinary: c.ResponseIsBinary,
		Verbose:          c.Verbose,
		KeepTrainingFits: c.KeepTrainingFits,
		UseQuantiles:     c.UseQuantiles,
		NumSamples:       c.NumSamples,
		NumBurnIn:        c.NumBurnIn,
		NumTrees:         c.NumTrees,
		NumThreads:       c.NumThreads,
		TreeThinningRate: c.TreeThinningRate,
		PrintEvery:       c.PrintEvery,
		PrintCutoffs:     c.PrintCutoffs,
	}
}

// placeholderRng lets a loaded fit pass ControlOptions.Validate (which
// requires a non-nil Rng) before the caller installs a real one via
// SetRng.
type placeholderRng struct{}

func (placeholderRng) Uniform() float64                                       { return 0.5 }
func (placeholderRng) Normal(mean, sd float64) float64                        { return mean }
func (placeholderRng) TruncatedNormal(mean, sd, lower, upper float64) float64 { return mean }
func (placeholderRng) ChiSquared(df float64) float64                         { return df }

func (c serializableControl) toControlOptions() ControlOptions {
	return ControlOptions{
		ResponseIsBinary: c.ResponseIsBinary,
		Verbose:          c.Verbose,
		KeepTrainingFits: c.KeepTrainingFits,
		UseQuantiles:     c.UseQuantiles,
		NumSamples:       c.NumSamples,
		NumBurnIn:        c.NumBurnIn,
		NumTrees:         c.NumTrees,
		NumThreads:       c.NumThreads,
		TreeThinningRate: c.TreeThinningRate,
		PrintEvery:       c.PrintEvery,
		PrintCutoffs:     c.PrintCutoffs,
		Rng:              placeholderRng{},
	}
}

// persistedFit is the gob-encoded body SaveToFile/LoadFromFile round-trip,
// laid out behind core/model.Persistable.
type persistedFit struct {
	Control serializableControl
	Model   ModelOptions
	Data    DataOptions
	State   StateBlob
}

func (p *persistedFit) GobEncode() ([]byte, error) {
	type plain persistedFit
	return model.EncodeGob((*plain)(p))
}

func (p *persistedFit) GobDecode(data []byte) error {
	type plain persistedFit
	return model.DecodeGob(data, (*plain)(p))
}

// SaveToFile persists the fit's configuration and current state to path,
// per spec.md §6's saveToFile, using the shared "00.08.00" version prefix
// and gob encoding core/model.SaveModel already implements.
func (f *Fit) SaveToFile(path string) error {
	snapshot := &persistedFit{
		Control: toSerializableControl(f.control),
		Model:   f.model,
		Data:    f.dataOptionsSnapshot(),
		State:   f.CreateState(),
	}
	return model.SaveModel(snapshot, path)
}

// LoadFromFile reconstructs a Fit from a file written by SaveToFile. The
// returned fit carries a placeholder Rng; call SetRng before RunSampler
// for a reproducible continuation of the chain.
func LoadFromFile(path string) (*Fit, error) {
	snapshot := &persistedFit{}
	if err := model.LoadModel(snapshot, path); err != nil {
		return nil, err
	}
	fit, err := NewFit(snapshot.Control.toControlOptions(), snapshot.Model, snapshot.Data)
	if err != nil {
		return nil, err
	}
	fit.RestoreState(snapshot.State)
	return fit, nil
}

func (f *Fit) dataOptionsSnapshot() DataOptions {
	x := make([][]float64, f.sd.n)
	for i := range x {
		row := make([]float64, f.sd.p)
		for j := 0; j < f.sd.p; j++ {
			row[j] = f.sd.columns[j][i]
		}
		x[i] = row
	}
	return DataOptions{
		Y:             append([]float64(nil), f.sd.yRaw...),
		X:             x,
		VariableTypes: append([]VariableType(nil), f.sd.variableTypes...),
		XTest:         append([]float64(nil), f.sd.testColumns...),
		Weights:       f.sd.weights,
		Offset:        f.sd.offset,
		TestOffset:    f.sd.testOffset,
		SigmaEstimate: 1, // recalibration is skipped on load: ResidualScale in StateBlob already carries the calibrated value
		MaxNumCuts:    append([]int(nil), f.sd.maxNumCuts...),
	}
}
