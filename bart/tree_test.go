package bart

import (
	"testing"

	"github.com/ezoic/bart/bart/reduce"
)

// queuedUniformSource returns each of draws in order from Uniform, then
// repeats the last value. Normal/TruncatedNormal/ChiSquared panic: the
// double-swap branch under test never calls them.
type queuedUniformSource struct {
	draws []float64
	i     int
}

func (q *queuedUniformSource) Uniform() float64 {
	if q.i >= len(q.draws) {
		return q.draws[len(q.draws)-1]
	}
	v := q.draws[q.i]
	q.i++
	return v
}

func (q *queuedUniformSource) Normal(mean, sd float64) float64 { panic("unexpected Normal draw") }
func (q *queuedUniformSource) TruncatedNormal(mean, sd, lower, upper float64) float64 {
	panic("unexpected TruncatedNormal draw")
}
func (q *queuedUniformSource) ChiSquared(df float64) float64 { panic("unexpected ChiSquared draw") }

func newTestScaledData(t *testing.T, x []float64) *scaledData {
	t.Helper()
	n := len(x)
	data := DataOptions{
		Y:             make([]float64, n),
		X:             make([][]float64, n),
		VariableTypes: []VariableType{Ordinal},
		SigmaEstimate: 1,
		MaxNumCuts:    []int{10},
	}
	for i := range data.Y {
		data.Y[i] = float64(i)
		data.X[i] = []float64{x[i]}
	}
	sd, err := newScaledData(data, false, false)
	if err != nil {
		t.Fatalf("newScaledData: %v", err)
	}
	return sd
}

func newTestTree(t *testing.T, x []float64) *Tree {
	t.Helper()
	sd := newTestScaledData(t, x)
	prior := newTreePrior(DefaultTreePriorConfig())
	enp := newMeanNormalPrior(2, 1, false)
	pool := reduce.New(1)
	return newTree(sd, prior, enp, pool)
}

func TestNewTreeStartsAsSingleLeaf(t *testing.T) {
	tr := newTestTree(t, []float64{1, 2, 3, 4, 5})
	leaves := tr.leaves()
	if len(leaves) != 1 {
		t.Fatalf("new tree has %d leaves, want 1", len(leaves))
	}
	if tr.nodes[leaves[0]].obsCount != 5 {
		t.Fatalf("root leaf obsCount = %d, want 5", tr.nodes[leaves[0]].obsCount)
	}
}

func TestStablePartitionPreservesOrderWithinGroups(t *testing.T) {
	span := []int{0, 1, 2, 3, 4, 5}
	keep := func(i int) bool { return i%2 == 0 }
	n := stablePartition(span, keep)
	if n != 3 {
		t.Fatalf("stablePartition kept %d elements, want 3", n)
	}
	wantKept := []int{0, 2, 4}
	for i, v := range wantKept {
		if span[i] != v {
			t.Fatalf("span[%d] = %d, want %d", i, span[i], v)
		}
	}
	wantRest := []int{1, 3, 5}
	for i, v := range wantRest {
		if span[3+i] != v {
			t.Fatalf("span[%d] = %d, want %d", 3+i, span[3+i], v)
		}
	}
}

func TestApplySplitPartitionsObservations(t *testing.T) {
	tr := newTestTree(t, []float64{1, 2, 3, 4, 5, 6})
	rule := Rule{IsSet: true, VariableIndex: 0, CutIndex: 0}
	// cutPoints for uniform x in [1,6] default to computeCutPoints; use the
	// tree's own feasible cut at index 0 to stay deterministic regardless
	// of exact cut placement.
	cuts := tr.sd.cutPoints[0]
	if len(cuts) == 0 {
		t.Skip("no cut points available for this column")
	}
	rule.CutIndex = 0
	left, right := tr.applySplit(tr.root, rule)

	leftNode := tr.nodes[left]
	rightNode := tr.nodes[right]
	if leftNode.obsCount+rightNode.obsCount != 6 {
		t.Fatalf("left+right obsCount = %d, want 6", leftNode.obsCount+rightNode.obsCount)
	}
	if !leftNode.IsLeaf || !rightNode.IsLeaf {
		t.Fatal("applySplit's children should both be leaves")
	}
	if tr.nodes[tr.root].IsLeaf {
		t.Fatal("root should no longer be a leaf after applySplit")
	}

	// Every observation claimed by left must satisfy the rule; every
	// observation claimed by right must not.
	cut := cuts[rule.CutIndex]
	for k := leftNode.obsStart; k < leftNode.obsStart+leftNode.obsCount; k++ {
		obs := tr.obsIndex[k]
		if tr.sd.columns[0][obs] > cut {
			t.Fatalf("observation %d routed left but x=%v > cut=%v", obs, tr.sd.columns[0][obs], cut)
		}
	}
	for k := rightNode.obsStart; k < rightNode.obsStart+rightNode.obsCount; k++ {
		obs := tr.obsIndex[k]
		if tr.sd.columns[0][obs] <= cut {
			t.Fatalf("observation %d routed right but x=%v <= cut=%v", obs, tr.sd.columns[0][obs], cut)
		}
	}
}

func TestLeavesAndInternalNodesPartitionTheArena(t *testing.T) {
	tr := newTestTree(t, []float64{1, 2, 3, 4, 5, 6})
	cuts := tr.sd.cutPoints[0]
	if len(cuts) == 0 {
		t.Skip("no cut points available for this column")
	}
	tr.applySplit(tr.root, Rule{IsSet: true, VariableIndex: 0, CutIndex: 0})

	leaves := tr.leaves()
	internal := tr.internalNodes()
	if len(leaves) != 2 {
		t.Fatalf("leaves = %d, want 2", len(leaves))
	}
	if len(internal) != 1 {
		t.Fatalf("internalNodes = %d, want 1", len(internal))
	}
	if internal[0] != tr.root {
		t.Fatalf("internalNodes = %v, want [%v]", internal, tr.root)
	}
}

func TestParentsOfTwoLeavesAfterOneSplit(t *testing.T) {
	tr := newTestTree(t, []float64{1, 2, 3, 4, 5, 6})
	cuts := tr.sd.cutPoints[0]
	if len(cuts) == 0 {
		t.Skip("no cut points available for this column")
	}
	tr.applySplit(tr.root, Rule{IsSet: true, VariableIndex: 0, CutIndex: 0})
	parents := tr.parentsOfTwoLeaves()
	if len(parents) != 1 || parents[0] != tr.root {
		t.Fatalf("parentsOfTwoLeaves = %v, want [%v]", parents, tr.root)
	}
}

func TestContiguousMask(t *testing.T) {
	if contiguousMask(0) != 1 {
		t.Fatalf("contiguousMask(0) = %b, want 1", contiguousMask(0))
	}
	if contiguousMask(2) != 0b111 {
		t.Fatalf("contiguousMask(2) = %b, want 111", contiguousMask(2))
	}
}

func TestCategoryBitLookup(t *testing.T) {
	codes := []int{3, 7, 9}
	if categoryBit(codes, 7) != 1 {
		t.Fatalf("categoryBit(7) = %d, want 1", categoryBit(codes, 7))
	}
	if categoryBit(codes, 42) != -1 {
		t.Fatalf("categoryBit(42) = %d, want -1 for an unknown code", categoryBit(codes, 42))
	}
}

func TestWriteTrainingFitsMatchesLeafMu(t *testing.T) {
	tr := newTestTree(t, []float64{1, 2, 3})
	tr.nodes[tr.root].Scratch.meanNormal.mu = 4.5
	dst := make([]float64, 3)
	tr.writeTrainingFits(dst)
	for i, v := range dst {
		if v != 4.5 {
			t.Fatalf("writeTrainingFits[%d] = %v, want 4.5", i, v)
		}
	}
}

func TestVariableUseCountsCountsSplitsNotLeaves(t *testing.T) {
	tr := newTestTree(t, []float64{1, 2, 3, 4, 5, 6})
	cuts := tr.sd.cutPoints[0]
	if len(cuts) == 0 {
		t.Skip("no cut points available for this column")
	}
	tr.applySplit(tr.root, Rule{IsSet: true, VariableIndex: 0, CutIndex: 0})

	counts := make([]float64, 1)
	tr.variableUseCounts(counts)
	if counts[0] != 1 {
		t.Fatalf("variableUseCounts[0] = %v, want 1 after a single split on variable 0", counts[0])
	}
}

// TestSwapDoubleSwapBranch exercises proposeSwap's double-swap case: a
// node whose left and right children are both internal and carry an
// identical rule. The shared rule moves up to the node and the node's old
// rule moves down to both children.
func TestSwapDoubleSwapBranch(t *testing.T) {
	data := DataOptions{
		Y: []float64{0, 1, 2, 3, 4, 5, 6, 7},
		X: [][]float64{
			{1, 1}, {1, 2}, {1, 3}, {1, 4},
			{8, 1}, {8, 2}, {8, 3}, {8, 4},
		},
		VariableTypes: []VariableType{Ordinal, Ordinal},
		SigmaEstimate: 1,
		MaxNumCuts:    []int{10, 10},
	}
	sd, err := newScaledData(data, false, false)
	if err != nil {
		t.Fatalf("newScaledData: %v", err)
	}
	prior := newTreePrior(DefaultTreePriorConfig())
	enp := newMeanNormalPrior(2, 1, false)
	pool := reduce.New(1)
	tr := newTree(sd, prior, enp, pool)

	ruleA := Rule{IsSet: true, VariableIndex: 0, CutIndex: 0}
	left, right := tr.applySplit(tr.root, ruleA)

	ruleB := Rule{IsSet: true, VariableIndex: 1, CutIndex: 5}
	tr.applySplit(left, ruleB)
	tr.applySplit(right, ruleB)

	if len(tr.swapCandidates()) != 1 || tr.swapCandidates()[0] != tr.root {
		t.Fatalf("swapCandidates = %v, want only the root", tr.swapCandidates())
	}

	src := &queuedUniformSource{draws: []float64{0, 1e-300}}
	tr.proposeSwap(1, func(i int) float64 { return 0 }, src)

	root := tr.nodes[tr.root]
	if root.Rule != ruleB {
		t.Fatalf("root.Rule = %+v after double swap, want the shared rule %+v", root.Rule, ruleB)
	}
	if tr.nodes[root.Left].Rule != ruleA || tr.nodes[root.Right].Rule != ruleA {
		t.Fatalf("children's rules after double swap = %+v, %+v, want both %+v",
			tr.nodes[root.Left].Rule, tr.nodes[root.Right].Rule, ruleA)
	}

	for _, id := range tr.leaves() {
		if tr.nodes[id].obsCount == 0 {
			t.Fatalf("leaf %v has zero observations after the double swap's repartition", id)
		}
	}
}

func TestRejectionRestoresPartition(t *testing.T) {
	tr := newTestTree(t, []float64{1, 2, 3, 4, 5, 6})
	cuts := tr.sd.cutPoints[0]
	if len(cuts) == 0 {
		t.Skip("no cut points available for this column")
	}
	tr.applySplit(tr.root, Rule{IsSet: true, VariableIndex: 0, CutIndex: 0})

	before := append([]int(nil), tr.obsIndex...)
	snap := tr.snapshotSubtree(tr.root)
	obsSnap := tr.snapshotObsRange(0, tr.sd.n)

	// Simulate a rejected proposal mutating the tree, then restoring.
	tr.applySplit(tr.nodes[tr.root].Left, Rule{IsSet: true, VariableIndex: 0, CutIndex: 0})
	tr.restoreSnapshot(snap)
	tr.restoreObsRange(0, obsSnap)

	for i, v := range before {
		if tr.obsIndex[i] != v {
			t.Fatalf("obsIndex[%d] = %d after restore, want %d", i, tr.obsIndex[i], v)
		}
	}
	if len(tr.leaves()) != 2 {
		t.Fatalf("leaves after restore = %d, want 2", len(tr.leaves()))
	}
}
