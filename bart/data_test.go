package bart

import (
	"math"
	"testing"
)

func TestComputeCutPointsUniform(t *testing.T) {
	cuts, err := computeCutPoints([]float64{0, 10}, 4, false)
	if err != nil {
		t.Fatalf("computeCutPoints: %v", err)
	}
	if len(cuts) != 4 {
		t.Fatalf("len(cuts) = %d, want 4", len(cuts))
	}
	for i := 1; i < len(cuts); i++ {
		if cuts[i] <= cuts[i-1] {
			t.Fatalf("cuts not strictly increasing: %v", cuts)
		}
	}
}

func TestComputeCutPointsAllConstantColumn(t *testing.T) {
	cuts, err := computeCutPoints([]float64{3, 3, 3}, 10, false)
	if err != nil {
		t.Fatalf("computeCutPoints: %v", err)
	}
	if cuts != nil {
		t.Fatalf("cuts = %v, want nil for an all-constant column", cuts)
	}
}

func TestComputeCutPointsZeroMaxCuts(t *testing.T) {
	cuts, err := computeCutPoints([]float64{1, 2, 3}, 0, false)
	if err != nil {
		t.Fatalf("computeCutPoints: %v", err)
	}
	if cuts != nil {
		t.Fatalf("cuts = %v, want nil for maxNumCuts=0", cuts)
	}
}

func TestComputeCutPointsNegativeMaxCutsErrors(t *testing.T) {
	_, err := computeCutPoints([]float64{1, 2, 3}, -1, false)
	if err == nil {
		t.Fatal("expected error for negative maxNumCuts")
	}
}

func TestComputeCutPointsQuantileUsesGapMidpoints(t *testing.T) {
	cuts, err := computeCutPoints([]float64{1, 2, 3}, 10, true)
	if err != nil {
		t.Fatalf("computeCutPoints: %v", err)
	}
	want := []float64{1.5, 2.5}
	if len(cuts) != len(want) {
		t.Fatalf("cuts = %v, want %v", cuts, want)
	}
	for i := range want {
		if math.Abs(cuts[i]-want[i]) > 1e-9 {
			t.Fatalf("cuts[%d] = %v, want %v", i, cuts[i], want[i])
		}
	}
}

func TestDistinctSorted(t *testing.T) {
	got := distinctSorted([]float64{3, 1, 2, 1, 3})
	want := []float64{1, 2, 3}
	if len(got) != len(want) {
		t.Fatalf("distinctSorted = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("distinctSorted[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestRescaleResponseMapsToHalfRange(t *testing.T) {
	sd := &scaledData{n: 3, yRaw: []float64{0, 5, 10}}
	if err := sd.rescaleResponse(); err != nil {
		t.Fatalf("rescaleResponse: %v", err)
	}
	want := []float64{-0.5, 0, 0.5}
	for i := range want {
		if math.Abs(sd.yScaled[i]-want[i]) > 1e-9 {
			t.Fatalf("yScaled[%d] = %v, want %v", i, sd.yScaled[i], want[i])
		}
	}
}

func TestRescaleResponseZeroRangeErrors(t *testing.T) {
	sd := &scaledData{n: 3, yRaw: []float64{5, 5, 5}}
	if err := sd.rescaleResponse(); err == nil {
		t.Fatal("expected error for zero-range response")
	}
}

func TestDescaleFitRoundTrip(t *testing.T) {
	sd := &scaledData{yMin: 10, yMax: 20, yRange: 10}
	scaled := 0.25 // midway between 0 and 0.5
	original := sd.descaleFit(scaled)
	want := 17.5
	if math.Abs(original-want) > 1e-9 {
		t.Fatalf("descaleFit(%v) = %v, want %v", scaled, original, want)
	}
}

func TestDescaleFitBinaryConvention(t *testing.T) {
	sd := &scaledData{yMin: -1, yMax: 1, yRange: 2, isBinary: true}
	if math.Abs(sd.descaleFit(0.3)-0.6) > 1e-9 {
		t.Fatalf("descaleFit(0.3) = %v, want 0.6 (binary convention 2*fit)", sd.descaleFit(0.3))
	}
}

func TestTotalWeightDefaultsToObservationCount(t *testing.T) {
	sd := &scaledData{n: 7}
	if sd.totalWeight() != 7 {
		t.Fatalf("totalWeight() = %v, want 7", sd.totalWeight())
	}
}

func TestTotalWeightSumsExplicitWeights(t *testing.T) {
	sd := &scaledData{n: 3, weights: []float64{1, 2, 3}}
	if sd.totalWeight() != 6 {
		t.Fatalf("totalWeight() = %v, want 6", sd.totalWeight())
	}
}

func TestReplacePredictorColumnRejectsFewerCuts(t *testing.T) {
	sd := &scaledData{
		p:             1,
		variableTypes: []VariableType{Ordinal},
		maxNumCuts:    []int{10},
		cutPoints:     [][]float64{{1, 2, 3, 4, 5}},
	}
	_, err := sd.replacePredictorColumn(0, []float64{1, 1, 1}, false)
	if err == nil {
		t.Fatal("expected compatibility error when the new column yields fewer cut points")
	}
}

func TestNewScaledDataBinaryResponse(t *testing.T) {
	data := DataOptions{
		Y:             []float64{1, -1, 1},
		X:             [][]float64{{1}, {2}, {3}},
		VariableTypes: []VariableType{Ordinal},
		SigmaEstimate: 1,
		MaxNumCuts:    []int{10},
	}
	sd, err := newScaledData(data, false, true)
	if err != nil {
		t.Fatalf("newScaledData: %v", err)
	}
	if sd.yMin != -1 || sd.yMax != 1 || sd.yRange != 2 {
		t.Fatalf("binary scaling = (%v, %v, %v), want (-1, 1, 2)", sd.yMin, sd.yMax, sd.yRange)
	}
	want := []float64{1, -1, 1}
	for i := range want {
		if sd.yScaled[i] != want[i] {
			t.Fatalf("yScaled[%d] = %v, want %v", i, sd.yScaled[i], want[i])
		}
	}
}
