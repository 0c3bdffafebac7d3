package bart

import "gonum.org/v1/gonum/mat"

// NodeID addresses a Node within a Tree's arena. The sentinel nilNode (-1)
// means "no node" (an internal node missing a child, or a leaf's parent at
// the root).
type NodeID int32

const nilNode NodeID = -1

// Rule is either an ordinal split or a categorical split. IsSet
// distinguishes a real rule from the no-rule placeholder spec.md §3 calls
// for during node construction; the zero Rule is not-set.
type Rule struct {
	IsSet        bool
	VariableIndex int

	// Ordinal: CutIndex indexes into the tree's cutPoints[VariableIndex];
	// "left iff X[.,VariableIndex] <= cutPoints[VariableIndex][CutIndex]".
	CutIndex int

	// Categorical: Bitmask selects which category codes route left (bit
	// position = index into the column's sorted distinct category codes,
	// not the raw code value).
	Bitmask uint64
}

func (r Rule) goesLeft(sd *scaledData, obsIndex int) bool {
	if sd.variableTypes[r.VariableIndex] == Categorical {
		code := int(sd.columns[r.VariableIndex][obsIndex])
		bit := categoryBit(sd.categoryCodes[r.VariableIndex], code)
		return r.Bitmask&(1<<uint(bit)) != 0
	}
	cut := sd.cutPoints[r.VariableIndex][r.CutIndex]
	return sd.columns[r.VariableIndex][obsIndex] <= cut
}

func categoryBit(codes []int, code int) int {
	for i, c := range codes {
		if c == code {
			return i
		}
	}
	return -1
}

// meanNormalScratch is the Mean-Normal end-node's inline payload (spec.md
// §3): mu holds the leaf's residual mean before the posterior draw and the
// drawn leaf mean after it.
type meanNormalScratch struct {
	mu              float64
	numEffectiveObs float64

	// sumSqDev is (n_eff-1)*var_y, the weighted sum of squared deviations
	// from mu, carried directly rather than reconstructed from a
	// variance so a single-observation leaf doesn't require dividing by
	// zero.
	sumSqDev float64
}

// linRegNormalScratch is the LinReg-Normal end-node's inline payload.
// XtLeaf/YLeaf are the leaf's augmented-design scratch (intercept column
// then predictors), rebuilt from the leaf's observation range on every
// structural change; R is the upper Cholesky factor of X^T X + diag(lambda)
// sigma^2; Coefficients is nil until drawPosterior stores the drawn beta.
type linRegNormalScratch struct {
	XtLeaf       *mat.Dense // (p+1) x numEffectiveObs, augmented design transposed
	YLeaf        []float64  // numEffectiveObs
	R            *mat.Dense // (p+1) x (p+1) upper triangular
	Coefficients []float64  // p+1
}

// endNodeScratch is the tagged payload a leaf carries; exactly one of the
// two fields is meaningful, chosen by the tree's EndNodeFamily.
type endNodeScratch struct {
	meanNormal meanNormalScratch
	linReg     linRegNormalScratch
}

// Node is either a leaf or an internal node, tagged by IsLeaf. Children
// and parent are NodeIDs into the owning Tree's arena (spec.md §9's
// "arena of nodes addressed by index").
type Node struct {
	IsLeaf bool
	Parent NodeID

	// Internal.
	Rule  Rule
	Left  NodeID
	Right NodeID

	// Leaf. The leaf's observations are a contiguous slice of the tree's shared
	// index buffer (spec.md §9's "observation index ranges"): [obsStart,
	// obsStart+obsCount) within that buffer.
	obsStart int
	obsCount int

	// EnumerationIndex is this leaf's 0..numLeaves-1 position in a fixed
	// traversal order, assigned by Tree.enumerateLeaves on demand.
	EnumerationIndex int

	Scratch endNodeScratch
}

// Depth walks Parent links to compute this node's depth (root is 0). Used
// by the tree prior's P_grow(depth); O(depth) per call, acceptable since
// it is only evaluated at proposal time, not in the reduction inner loop.
func (t *Tree) depth(id NodeID) int {
	d := 0
	for n := t.nodes[id]; n.Parent != nilNode; n = t.nodes[n.Parent] {
		d++
	}
	return d
}
