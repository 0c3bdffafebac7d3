package bart

import "testing"

func TestRuleGoesLeftOrdinal(t *testing.T) {
	sd := &scaledData{
		variableTypes: []VariableType{Ordinal},
		cutPoints:     [][]float64{{5}},
		columns:       [][]float64{{1, 10}},
	}
	r := Rule{IsSet: true, VariableIndex: 0, CutIndex: 0}
	if !r.goesLeft(sd, 0) {
		t.Fatal("x=1 <= cut=5 should go left")
	}
	if r.goesLeft(sd, 1) {
		t.Fatal("x=10 > cut=5 should go right")
	}
}

func TestRuleGoesLeftCategorical(t *testing.T) {
	sd := &scaledData{
		variableTypes: []VariableType{Categorical},
		categoryCodes: [][]int{{3, 7, 9}},
		columns:       [][]float64{{3, 7, 9}},
	}
	// Bitmask selects bit 0 (code 3) to go left; codes 7, 9 go right.
	r := Rule{IsSet: true, VariableIndex: 0, Bitmask: 1}
	if !r.goesLeft(sd, 0) {
		t.Fatal("code 3 (bit 0) should go left")
	}
	if r.goesLeft(sd, 1) {
		t.Fatal("code 7 (bit 1) should go right")
	}
	if r.goesLeft(sd, 2) {
		t.Fatal("code 9 (bit 2) should go right")
	}
}

func TestDepthWalksParentChain(t *testing.T) {
	tr := &Tree{
		nodes: []Node{
			{IsLeaf: false, Parent: nilNode, Left: 1, Right: 2},
			{IsLeaf: false, Parent: 0, Left: 3, Right: 4},
			{IsLeaf: true, Parent: 0},
			{IsLeaf: true, Parent: 1},
			{IsLeaf: true, Parent: 1},
		},
		root: 0,
	}
	if tr.depth(0) != 0 {
		t.Fatalf("depth(root) = %d, want 0", tr.depth(0))
	}
	if tr.depth(1) != 1 {
		t.Fatalf("depth(1) = %d, want 1", tr.depth(1))
	}
	if tr.depth(3) != 2 {
		t.Fatalf("depth(3) = %d, want 2", tr.depth(3))
	}
}
