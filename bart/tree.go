package bart

import (
	"math"
	"math/bits"

	"github.com/ezoic/bart/bart/reduce"
	"github.com/ezoic/bart/bart/rng"
	"github.com/ezoic/bart/pkg/log"
)

// Tree owns a root Node plus the shared observation-index buffer its
// leaves partition (spec.md §9's "arena of nodes addressed by index" and
// "observation index ranges"). New nodes are appended to the arena and
// never reclaimed; a rejected proposal leaves orphaned, unreferenced slots
// behind rather than paying for a free-list, trading a small amount of
// memory for a much simpler undo path.
type Tree struct {
	sd           *scaledData
	prior        *treePrior
	endNodePrior endNodePrior
	pool         *reduce.Pool

	nodes    []Node
	root     NodeID
	obsIndex []int // length n
}

func newTree(sd *scaledData, prior *treePrior, endNodePrior endNodePrior, pool *reduce.Pool) *Tree {
	obsIndex := make([]int, sd.n)
	for i := range obsIndex {
		obsIndex[i] = i
	}
	t := &Tree{
		sd:           sd,
		prior:        prior,
		endNodePrior: endNodePrior,
		pool:         pool,
		nodes:        []Node{{IsLeaf: true, Parent: nilNode, obsStart: 0, obsCount: sd.n}},
		root:         0,
		obsIndex:     obsIndex,
	}
	return t
}

func (t *Tree) alloc(n Node) NodeID {
	t.nodes = append(t.nodes, n)
	return NodeID(len(t.nodes) - 1)
}

// leaves returns every current leaf's NodeID, in left-to-right traversal
// order.
func (t *Tree) leaves() []NodeID {
	var out []NodeID
	var walk func(NodeID)
	walk = func(id NodeID) {
		n := &t.nodes[id]
		if n.IsLeaf {
			out = append(out, id)
			return
		}
		walk(n.Left)
		walk(n.Right)
	}
	walk(t.root)
	return out
}

// internalNodes returns every current internal node's NodeID, in pre-order
// traversal order (a node before its subtrees, left subtree first).
func (t *Tree) internalNodes() []NodeID {
	var out []NodeID
	var walk func(NodeID)
	walk = func(id NodeID) {
		n := &t.nodes[id]
		if n.IsLeaf {
			return
		}
		out = append(out, id)
		walk(n.Left)
		walk(n.Right)
	}
	walk(t.root)
	return out
}

// parentsOfTwoLeaves returns every internal node whose both children are
// leaves: the DEATH-eligible set.
func (t *Tree) parentsOfTwoLeaves() []NodeID {
	var out []NodeID
	for _, id := range t.internalNodes() {
		n := &t.nodes[id]
		if t.nodes[n.Left].IsLeaf && t.nodes[n.Right].IsLeaf {
			out = append(out, id)
		}
	}
	return out
}

// birthEligibleLeaves returns every leaf with a non-empty feasible split
// set.
func (t *Tree) birthEligibleLeaves() []NodeID {
	var out []NodeID
	for _, id := range t.leaves() {
		if len(nonEmptySets(t.computeFeasibleSets(id))) > 0 {
			out = append(out, id)
		}
	}
	return out
}

// computeFeasibleSets returns, for every predictor, the feasible-split
// choices remaining at node id: cut indices (Ordinal) or rank-threshold
// boundaries (Categorical, see contiguousMask) not yet excluded by an
// ancestor's rule, further narrowed to those that would actually send at
// least one of id's own observations to each side (spec.md §4.2's glossary
// definition of "feasible split").
func (t *Tree) computeFeasibleSets(id NodeID) []feasibleSet {
	sd := t.sd
	lo := make([]int, sd.p)
	hi := make([]int, sd.p)
	for j := 0; j < sd.p; j++ {
		if sd.variableTypes[j] == Categorical {
			hi[j] = len(sd.categoryCodes[j]) - 2
		} else {
			hi[j] = len(sd.cutPoints[j]) - 1
		}
	}

	for cur := id; t.nodes[cur].Parent != nilNode; {
		parent := t.nodes[cur].Parent
		p := &t.nodes[parent]
		j := p.Rule.VariableIndex
		cut := p.Rule.CutIndex
		if sd.variableTypes[j] == Categorical {
			// A categorical rule carries its rank boundary as a contiguous mask.
			cut = bits.Len64(p.Rule.Bitmask) - 1
		}
		wentLeft := p.Left == cur
		if wentLeft {
			if cut-1 < hi[j] {
				hi[j] = cut - 1
			}
		} else {
			if cut+1 > lo[j] {
				lo[j] = cut + 1
			}
		}
		cur = parent
	}

	n := &t.nodes[id]
	span := t.obsIndex[n.obsStart : n.obsStart+n.obsCount]

	sets := make([]feasibleSet, sd.p)
	for j := 0; j < sd.p; j++ {
		sets[j] = feasibleSet{variableIndex: j}
		if lo[j] > hi[j] {
			continue
		}
		if sd.variableTypes[j] == Categorical {
			sets[j].categoryBits = feasibleCategoricalBoundaries(sd, j, span, lo[j], hi[j])
		} else {
			sets[j].cutIndices = feasibleOrdinalCuts(sd, j, span, lo[j], hi[j])
		}
	}
	return sets
}

func feasibleOrdinalCuts(sd *scaledData, j int, span []int, lo, hi int) []int {
	col := sd.columns[j]
	var out []int
	for c := lo; c <= hi; c++ {
		cut := sd.cutPoints[j][c]
		leftCount := 0
		for _, i := range span {
			if col[i] <= cut {
				leftCount++
			}
		}
		if leftCount > 0 && leftCount < len(span) {
			out = append(out, c)
		}
	}
	return out
}

func feasibleCategoricalBoundaries(sd *scaledData, j int, span []int, lo, hi int) []int {
	col := sd.columns[j]
	codes := sd.categoryCodes[j]
	var out []int
	for b := lo; b <= hi; b++ {
		leftCount := 0
		for _, i := range span {
			rank := categoryBit(codes, int(col[i]))
			if rank <= b {
				leftCount++
			}
		}
		if leftCount > 0 && leftCount < len(span) {
			out = append(out, b)
		}
	}
	return out
}

func buildRuleFromBoundary(sd *scaledData, variableIndex, cutIndexOrBoundary int) Rule {
	r := Rule{IsSet: true, VariableIndex: variableIndex}
	if sd.variableTypes[variableIndex] == Categorical {
		r.Bitmask = contiguousMask(cutIndexOrBoundary)
	} else {
		r.CutIndex = cutIndexOrBoundary
	}
	return r
}

func contiguousMask(boundary int) uint64 {
	return (uint64(1) << uint(boundary+1)) - 1
}

// stablePartition moves every element e in span for which keep(e) is true
// to the front, preserving relative order within each group, and returns
// the count moved to the front.
func stablePartition(span []int, keep func(i int) bool) int {
	out := make([]int, 0, len(span))
	var rest []int
	for _, v := range span {
		if keep(v) {
			out = append(out, v)
		} else {
			rest = append(rest, v)
		}
	}
	out = append(out, rest...)
	copy(span, out)
	return len(out) - len(rest)
}

// applySplit partitions leaf's span by rule and replaces it with two new
// leaf children, returning their ids.
func (t *Tree) applySplit(leaf NodeID, rule Rule) (NodeID, NodeID) {
	n := &t.nodes[leaf]
	span := t.obsIndex[n.obsStart : n.obsStart+n.obsCount]
	leftCount := stablePartition(span, func(i int) bool { return rule.goesLeft(t.sd, i) })

	left := t.alloc(Node{IsLeaf: true, Parent: leaf, obsStart: n.obsStart, obsCount: leftCount})
	right := t.alloc(Node{IsLeaf: true, Parent: leaf, obsStart: n.obsStart + leftCount, obsCount: n.obsCount - leftCount})

	n = &t.nodes[leaf] // alloc may have moved the arena
	n.IsLeaf = false
	n.Rule = rule
	n.Left = left
	n.Right = right
	return left, right
}

// repartitionSubtree recomputes the observation partition under id from
// id's own rule (if internal) down through its descendants, after that
// rule (or an ancestor's) has changed. It returns false if any leaf in the
// subtree ends up empty, per spec.md §4.5's SWAP/CHANGE "rejected by
// construction" rule.
func (t *Tree) repartitionSubtree(id NodeID) bool {
	n := &t.nodes[id]
	if n.IsLeaf {
		return n.obsCount > 0
	}

	span := t.obsIndex[n.obsStart : n.obsStart+n.obsCount]
	leftCount := stablePartition(span, func(i int) bool { return n.Rule.goesLeft(t.sd, i) })
	rightCount := n.obsCount - leftCount

	left := &t.nodes[n.Left]
	right := &t.nodes[n.Right]
	left.obsStart = n.obsStart
	left.obsCount = leftCount
	right.obsStart = n.obsStart + leftCount
	right.obsCount = rightCount

	okLeft := t.repartitionSubtree(n.Left)
	okRight := t.repartitionSubtree(n.Right)
	return okLeft && okRight && leftCount > 0 && rightCount > 0
}

// prepareLeaf recomputes leaf's scratch from its current observation
// indices under residual, via the tree's reduction pool.
func (t *Tree) prepareLeaf(leaf NodeID, residual func(i int) float64) {
	n := &t.nodes[leaf]
	span := t.obsIndex[n.obsStart : n.obsStart+n.obsCount]
	t.endNodePrior.prepare(&n.Scratch, t.sd, span, residual, t.pool)
}

func (t *Tree) prepareSubtreeLeaves(id NodeID, residual func(i int) float64) {
	n := &t.nodes[id]
	if n.IsLeaf {
		t.prepareLeaf(id, residual)
		return
	}
	t.prepareSubtreeLeaves(n.Left, residual)
	t.prepareSubtreeLeaves(n.Right, residual)
}

func (t *Tree) subtreeLogLikelihood(id NodeID, sigma2 float64) float64 {
	n := &t.nodes[id]
	if n.IsLeaf {
		return t.endNodePrior.integratedLogLikelihood(&n.Scratch, sigma2)
	}
	return t.subtreeLogLikelihood(n.Left, sigma2) + t.subtreeLogLikelihood(n.Right, sigma2)
}

// subtreeRuleLogPrior sums the rule-draw log-probability for every
// internal node under id, using each node's own current feasible set. Used
// for SWAP/CHANGE's tree-prior log-ratio term, since depth terms (grow/
// no-grow) are unaffected by a pure rule exchange.
func (t *Tree) subtreeRuleLogPrior(id NodeID) float64 {
	n := &t.nodes[id]
	if n.IsLeaf {
		return 0
	}
	sets := t.computeFeasibleSets(id)
	lp := ruleLogProb(sets, n.Rule.VariableIndex, -1)
	return lp + t.subtreeRuleLogPrior(n.Left) + t.subtreeRuleLogPrior(n.Right)
}

type nodeSnapshot struct {
	id   NodeID
	node Node
}

func (t *Tree) snapshotSubtree(id NodeID) []nodeSnapshot {
	var out []nodeSnapshot
	var walk func(NodeID)
	walk = func(id NodeID) {
		if id == nilNode {
			return
		}
		n := t.nodes[id]
		out = append(out, nodeSnapshot{id: id, node: n})
		if !n.IsLeaf {
			walk(n.Left)
			walk(n.Right)
		}
	}
	walk(id)
	return out
}

func (t *Tree) restoreSnapshot(snap []nodeSnapshot) {
	for _, s := range snap {
		t.nodes[s.id] = s.node
	}
}

func (t *Tree) snapshotObsRange(start, count int) []int {
	return append([]int(nil), t.obsIndex[start:start+count]...)
}

func (t *Tree) restoreObsRange(start int, data []int) {
	copy(t.obsIndex[start:start+len(data)], data)
}

// proposeAndAccept draws one structural move per spec.md §4.5 and either
// commits it or restores the prior state, then redraws every affected
// leaf's parameter and rewrites the tree's per-observation fits.
// residual(i) must return tree t's target for observation i (the total
// residual after removing every other tree's contribution).
func (t *Tree) proposeAndAccept(treeIndex int, opts ModelOptions, sigma2 float64, residual func(i int) float64, src rng.Source, logger log.Logger) {
	u := src.Uniform()
	var move string
	var accepted bool
	var alpha float64
	switch {
	case u < opts.BirthOrDeathProbability:
		if src.Uniform() < opts.BirthProbability && len(t.birthEligibleLeaves()) > 0 {
			move = "BIRTH"
			accepted, alpha = t.proposeBirth(sigma2, residual, src)
		} else if len(t.parentsOfTwoLeaves()) > 0 {
			move = "DEATH"
			accepted, alpha = t.proposeDeath(sigma2, residual, src)
		}
	case u < opts.BirthOrDeathProbability+opts.SwapProbability:
		move = "SWAP"
		accepted, alpha = t.proposeSwap(sigma2, residual, src)
	default:
		move = "CHANGE"
		accepted, alpha = t.proposeChange(sigma2, residual, src)
	}

	if accepted && logger != nil {
		logger.Debug("accepted proposal", "tree", treeIndex, "move", move, "logMHRatio", alpha)
	}

	for _, leaf := range t.leaves() {
		t.prepareLeaf(leaf, residual)
		t.endNodePrior.drawPosterior(&t.nodes[leaf].Scratch, sigma2, src)
	}
}

func (t *Tree) proposeBirth(sigma2 float64, residual func(i int) float64, src rng.Source) (bool, float64) {
	eligible := t.birthEligibleLeaves()
	if len(eligible) == 0 {
		return false, 0
	}
	leaf := eligible[uniformIndex(src, len(eligible))]
	n := &t.nodes[leaf]
	depth := t.depth(leaf)

	sets := t.computeFeasibleSets(leaf)
	rule, ruleLogP := sampleRule(sets, t.sd, src)

	snap := t.snapshotSubtree(leaf)
	obsSnap := t.snapshotObsRange(n.obsStart, n.obsCount)

	t.prepareLeaf(leaf, residual)
	lOld := t.endNodePrior.integratedLogLikelihood(&n.Scratch, sigma2)

	left, right := t.applySplit(leaf, rule)
	t.prepareLeaf(left, residual)
	t.prepareLeaf(right, residual)

	if !t.leafHasPositiveWeight(left) || !t.leafHasPositiveWeight(right) {
		t.rejectBirth(snap, obsSnap, n.obsStart, n.obsCount)
		return false, 0
	}

	lNew := t.subtreeLogLikelihood(leaf, sigma2) // now internal: sums left+right

	depthTerm := t.prior.growLogProb(depth) +
		t.prior.noGrowLogProb(depth+1) + t.prior.noGrowLogProb(depth+1) -
		t.prior.noGrowLogProb(depth)

	numBirthBefore := len(eligible)
	numDeathAfter := len(t.parentsOfTwoLeaves())
	transitionTerm := -math.Log(float64(numDeathAfter)) + math.Log(float64(numBirthBefore))

	alpha := depthTerm + ruleLogP + transitionTerm + (lNew - lOld)

	if math.Log(src.Uniform()) < alpha {
		return true, alpha // accept
	}
	t.rejectBirth(snap, obsSnap, n.obsStart, n.obsCount)
	return false, alpha
}

func (t *Tree) rejectBirth(snap []nodeSnapshot, obsSnap []int, start, count int) {
	t.restoreSnapshot(snap)
	t.restoreObsRange(start, obsSnap)
}

func (t *Tree) leafHasPositiveWeight(id NodeID) bool {
	s := t.nodes[id].Scratch
	if t.endNodePrior.family() == MeanNormal {
		return s.meanNormal.numEffectiveObs > 0
	}
	return len(s.linReg.YLeaf) > 0
}

func (t *Tree) proposeDeath(sigma2 float64, residual func(i int) float64, src rng.Source) (bool, float64) {
	eligible := t.parentsOfTwoLeaves()
	if len(eligible) == 0 {
		return false, 0
	}
	parent := eligible[uniformIndex(src, len(eligible))]
	n := &t.nodes[parent]
	depth := t.depth(parent)
	left, right := n.Left, n.Right

	snap := t.snapshotSubtree(parent)
	obsSnap := t.snapshotObsRange(n.obsStart, n.obsCount)

	t.prepareLeaf(left, residual)
	t.prepareLeaf(right, residual)
	lOld := t.endNodePrior.integratedLogLikelihood(&t.nodes[left].Scratch, sigma2) +
		t.endNodePrior.integratedLogLikelihood(&t.nodes[right].Scratch, sigma2)

	sets := t.computeFeasibleSets(parent)
	ruleLogP := ruleLogProb(sets, n.Rule.VariableIndex, -1)

	n.IsLeaf = true
	n.Rule = Rule{}
	n.Left, n.Right = nilNode, nilNode

	t.prepareLeaf(parent, residual)
	lNew := t.endNodePrior.integratedLogLikelihood(&n.Scratch, sigma2)

	depthTerm := t.prior.noGrowLogProb(depth) - t.prior.growLogProb(depth) -
		t.prior.noGrowLogProb(depth+1) - t.prior.noGrowLogProb(depth+1)

	numDeathBefore := len(eligible)
	numBirthAfter := len(t.birthEligibleLeaves())
	transitionTerm := -math.Log(float64(maxInt(numBirthAfter, 1))) + math.Log(float64(numDeathBefore))

	alpha := depthTerm - ruleLogP + transitionTerm + (lNew - lOld)

	if math.Log(src.Uniform()) < alpha {
		return true, alpha // accept
	}
	t.restoreSnapshot(snap)
	t.restoreObsRange(n.obsStart, obsSnap)
	return false, alpha
}

func (t *Tree) proposeSwap(sigma2 float64, residual func(i int) float64, src rng.Source) (bool, float64) {
	candidates := t.swapCandidates()
	if len(candidates) == 0 {
		return false, 0
	}
	x := candidates[uniformIndex(src, len(candidates))]
	n := &t.nodes[x]

	snap := t.snapshotSubtree(x)
	obsSnap := t.snapshotObsRange(n.obsStart, n.obsCount)

	t.prepareSubtreeLeaves(x, residual)
	lOld := t.subtreeLogLikelihood(x, sigma2)
	priorOld := t.subtreeRuleLogPrior(x)

	leftInternal := !t.nodes[n.Left].IsLeaf
	rightInternal := !t.nodes[n.Right].IsLeaf

	switch {
	case leftInternal && rightInternal && t.nodes[n.Left].Rule == t.nodes[n.Right].Rule:
		// Double swap: the node's rule moves to both (identical)
		// children, and their shared rule moves up to the node.
		shared := t.nodes[n.Left].Rule
		old := n.Rule
		t.nodes[n.Left].Rule = old
		t.nodes[n.Right].Rule = old
		n.Rule = shared
	case leftInternal && rightInternal:
		if src.Uniform() < 0.5 {
			n.Rule, t.nodes[n.Left].Rule = t.nodes[n.Left].Rule, n.Rule
		} else {
			n.Rule, t.nodes[n.Right].Rule = t.nodes[n.Right].Rule, n.Rule
		}
	case leftInternal:
		n.Rule, t.nodes[n.Left].Rule = t.nodes[n.Left].Rule, n.Rule
	default:
		n.Rule, t.nodes[n.Right].Rule = t.nodes[n.Right].Rule, n.Rule
	}

	ok := t.repartitionSubtree(x)
	if !ok {
		t.restoreSnapshot(snap)
		t.restoreObsRange(n.obsStart, obsSnap)
		return false, 0
	}

	t.prepareSubtreeLeaves(x, residual)
	lNew := t.subtreeLogLikelihood(x, sigma2)
	priorNew := t.subtreeRuleLogPrior(x)

	alpha := (priorNew - priorOld) + (lNew - lOld)
	if math.Log(src.Uniform()) < alpha {
		return true, alpha // accept
	}
	t.restoreSnapshot(snap)
	t.restoreObsRange(n.obsStart, obsSnap)
	return false, alpha
}

// swapCandidates returns internal nodes with at least one internal child,
// per spec.md §4.5's "internal node with an internal child".
func (t *Tree) swapCandidates() []NodeID {
	var out []NodeID
	for _, id := range t.internalNodes() {
		n := &t.nodes[id]
		if !t.nodes[n.Left].IsLeaf || !t.nodes[n.Right].IsLeaf {
			out = append(out, id)
		}
	}
	return out
}

func (t *Tree) proposeChange(sigma2 float64, residual func(i int) float64, src rng.Source) (bool, float64) {
	candidates := t.changeCandidates()
	if len(candidates) == 0 {
		return false, 0
	}
	x := candidates[uniformIndex(src, len(candidates))]
	n := &t.nodes[x]

	snap := t.snapshotSubtree(x)
	obsSnap := t.snapshotObsRange(n.obsStart, n.obsCount)

	t.prepareSubtreeLeaves(x, residual)
	lOld := t.subtreeLogLikelihood(x, sigma2)

	sets := t.computeFeasibleSets(x)
	oldRuleLogP := ruleLogProb(sets, n.Rule.VariableIndex, -1)
	newRule, newRuleLogP := sampleRule(sets, t.sd, src)
	n.Rule = newRule

	ok := t.repartitionSubtree(x)
	if !ok {
		t.restoreSnapshot(snap)
		t.restoreObsRange(n.obsStart, obsSnap)
		return false, 0
	}

	t.prepareSubtreeLeaves(x, residual)
	lNew := t.subtreeLogLikelihood(x, sigma2)

	alpha := (oldRuleLogP - newRuleLogP) + (lNew - lOld)
	if math.Log(src.Uniform()) < alpha {
		return true, alpha // accept
	}
	t.restoreSnapshot(snap)
	t.restoreObsRange(n.obsStart, obsSnap)
	return false, alpha
}

func (t *Tree) changeCandidates() []NodeID {
	var out []NodeID
	for _, id := range t.internalNodes() {
		if nonEmptySets(t.computeFeasibleSets(id)) != nil {
			out = append(out, id)
		}
	}
	return out
}

// writeTrainingFits broadcasts every leaf's drawn parameter across its
// training observations into dst (length n), per spec.md §4.7.
func (t *Tree) writeTrainingFits(dst []float64) {
	for _, leaf := range t.leaves() {
		n := &t.nodes[leaf]
		span := t.obsIndex[n.obsStart : n.obsStart+n.obsCount]
		for _, i := range span {
			dst[i] = t.endNodePrior.fitTraining(&n.Scratch, t.sd, i)
		}
	}
}

// writeTestFits maps every test row through the tree's rules to a leaf,
// then evaluates that leaf's parameter against the row, per spec.md §4.7.
func (t *Tree) writeTestFits(dst []float64) {
	if t.sd.m == 0 {
		return
	}
	for row := 0; row < t.sd.m; row++ {
		leaf := t.testLeaf(row)
		dst[row] = t.endNodePrior.fitTest(&t.nodes[leaf].Scratch, t.sd, row)
	}
}

func (t *Tree) testLeaf(row int) NodeID {
	id := t.root
	for !t.nodes[id].IsLeaf {
		n := &t.nodes[id]
		if testRowGoesLeft(t.sd, n.Rule, row) {
			id = n.Left
		} else {
			id = n.Right
		}
	}
	return id
}

func testRowGoesLeft(sd *scaledData, r Rule, row int) bool {
	if sd.variableTypes[r.VariableIndex] == Categorical {
		code := int(sd.testColumnAt(row, r.VariableIndex))
		bit := categoryBit(sd.categoryCodes[r.VariableIndex], code)
		if bit < 0 {
			return true // unseen category code: route left by convention
		}
		return r.Bitmask&(1<<uint(bit)) != 0
	}
	cut := sd.cutPoints[r.VariableIndex][r.CutIndex]
	return sd.testColumnAt(row, r.VariableIndex) <= cut
}

// variableUseCounts increments counts[j] once per internal node in this
// tree that splits on variable j, for Results' variableCountSamples.
func (t *Tree) variableUseCounts(counts []float64) {
	for _, id := range t.internalNodes() {
		counts[t.nodes[id].Rule.VariableIndex]++
	}
}

// enumerateLeaves assigns each leaf a 0..numLeaves-1 EnumerationIndex in
// left-to-right traversal order, per spec.md §3's Node invariant.
func (t *Tree) enumerateLeaves() {
	for i, leaf := range t.leaves() {
		t.nodes[leaf].EnumerationIndex = i
	}
}
