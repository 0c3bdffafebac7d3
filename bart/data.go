package bart

import (
	"sort"

	scigoErrors "github.com/ezoic/bart/pkg/errors"
)

// scaledData holds the mutable, rescaled copies derived from DataOptions:
// transposed predictor columns for row-major-by-feature access, per-column
// cut points, and the response's scaling triple. It is rebuilt whenever a
// predictor or the response is replaced.
type scaledData struct {
	n, p int

	// columns[j] is predictor j's n values, contiguous (the "transpose"
	// of the row-major X spec.md §2 calls for: row-major feature access
	// means iterating one column at a time without a stride of p).
	columns [][]float64

	variableTypes []VariableType
	maxNumCuts    []int

	// cutPoints[j] is predictor j's sorted cut values (Ordinal) or, for
	// Categorical columns, unused: categorical splits work directly off
	// the observed integer codes via categoryCodes[j].
	cutPoints     [][]float64
	categoryCodes [][]int // distinct category codes observed in column j, sorted

	weights []float64 // length n, nil means all 1
	offset  []float64 // length n, nil means all 0

	yRaw    []float64 // the y passed in, length n
	yMin    float64
	yMax    float64
	yRange  float64
	yScaled []float64 // length n, in [-0.5, 0.5] for continuous; latent z for binary

	testColumns []float64 // row-major m*p, nil if m == 0
	m           int
	testOffset  []float64

	isBinary bool
}

func newScaledData(opts DataOptions, useQuantiles bool, isBinary bool) (*scaledData, error) {
	n, p := opts.NumObservations(), opts.NumPredictors()

	sd := &scaledData{
		n:             n,
		p:             p,
		variableTypes: append([]VariableType(nil), opts.VariableTypes...),
		maxNumCuts:    append([]int(nil), opts.MaxNumCuts...),
		weights:       opts.Weights,
		offset:        opts.Offset,
		yRaw:          append([]float64(nil), opts.Y...),
		isBinary:      isBinary,
	}

	sd.columns = make([][]float64, p)
	for j := 0; j < p; j++ {
		col := make([]float64, n)
		for i := 0; i < n; i++ {
			col[i] = opts.X[i][j]
		}
		sd.columns[j] = col
	}

	sd.cutPoints = make([][]float64, p)
	sd.categoryCodes = make([][]int, p)
	for j := 0; j < p; j++ {
		if sd.variableTypes[j] == Categorical {
			sd.categoryCodes[j] = distinctCodes(sd.columns[j])
			continue
		}
		cp, err := computeCutPoints(sd.columns[j], sd.maxNumCuts[j], useQuantiles)
		if err != nil {
			return nil, err
		}
		sd.cutPoints[j] = cp
	}

	if isBinary {
		sd.yMin, sd.yMax, sd.yRange = -1, 1, 2
		sd.yScaled = initialLatents(sd.yRaw)
	} else {
		if err := sd.rescaleResponse(); err != nil {
			return nil, err
		}
	}

	if len(opts.XTest) > 0 {
		sd.m = len(opts.XTest) / p
		sd.testColumns = append([]float64(nil), opts.XTest...)
		sd.testOffset = opts.TestOffset
	}

	return sd, nil
}

// computeCutPoints implements spec.md §4.1's quantile and uniform modes.
func computeCutPoints(values []float64, maxNumCuts int, useQuantiles bool) ([]float64, error) {
	if maxNumCuts < 0 {
		return nil, scigoErrors.NewConfigError("maxNumCuts", "must be >= 0")
	}
	if maxNumCuts == 0 {
		return nil, nil
	}

	if !useQuantiles {
		xMin, xMax := minMax(values)
		if xMax == xMin {
			return nil, nil // all-constant column: no feasible splits, spec.md §8
		}
		numCuts := maxNumCuts
		out := make([]float64, numCuts)
		for i := 0; i < numCuts; i++ {
			out[i] = xMin + float64(i+1)*(xMax-xMin)/float64(numCuts+1)
		}
		return out, nil
	}

	distinct := distinctSorted(values)
	if len(distinct) <= 1 {
		return nil, nil
	}
	if len(distinct)-1 <= maxNumCuts {
		// Use every gap midpoint.
		out := make([]float64, len(distinct)-1)
		for i := 0; i < len(distinct)-1; i++ {
			out[i] = (distinct[i] + distinct[i+1]) / 2
		}
		return out, nil
	}

	numCuts := maxNumCuts
	numUnique := len(distinct)
	step := float64(numUnique) / float64(numCuts)
	out := make([]float64, numCuts)
	for i := 0; i < numCuts; i++ {
		idx := int(float64(i)*step + step/2)
		if idx > numUnique-2 {
			idx = numUnique - 2
		}
		out[i] = (distinct[idx] + distinct[idx+1]) / 2
	}
	return out, nil
}

func distinctSorted(values []float64) []float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	out := sorted[:0:0]
	for i, v := range sorted {
		if i == 0 || v != sorted[i-1] {
			out = append(out, v)
		}
	}
	return out
}

func distinctCodes(values []float64) []int {
	seen := make(map[int]bool)
	for _, v := range values {
		seen[int(v)] = true
	}
	out := make([]int, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	sort.Ints(out)
	return out
}

func minMax(values []float64) (min, max float64) {
	min, max = values[0], values[0]
	for _, v := range values[1:] {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	return min, max
}

// rescaleResponse recomputes yMin/yMax/yRange from y-offset and rescales to
// [-0.5, 0.5], per spec.md §3/§4.1.
func (sd *scaledData) rescaleResponse() error {
	adjusted := make([]float64, sd.n)
	for i := range adjusted {
		adjusted[i] = sd.yRaw[i] - sd.offsetAt(i)
	}
	yMin, yMax := minMax(adjusted)
	yRange := yMax - yMin
	if yRange == 0 {
		if sd.n > 1 {
			return scigoErrors.NewConfigError("Y", "response has zero range after removing offset")
		}
		// A single observation is centred on a unit range: it scales to 0
		// and descaleFit(0) returns it unchanged.
		yMin, yMax, yRange = yMin-0.5, yMax+0.5, 1
	}

	sd.yMin, sd.yMax, sd.yRange = yMin, yMax, yRange
	sd.yScaled = make([]float64, sd.n)
	for i, v := range adjusted {
		sd.yScaled[i] = (v-yMin)/yRange - 0.5
	}
	return nil
}

func (sd *scaledData) offsetAt(i int) float64 {
	if sd.offset == nil {
		return 0
	}
	return sd.offset[i]
}

func (sd *scaledData) weightAt(i int) float64 {
	if sd.weights == nil {
		return 1
	}
	return sd.weights[i]
}

func (sd *scaledData) testOffsetAt(i int) float64 {
	if sd.testOffset == nil {
		return 0
	}
	return sd.testOffset[i]
}

// totalWeight is n_eff over the whole training set: the weight sum when
// weights are set, otherwise the observation count (spec.md §4.1).
func (sd *scaledData) totalWeight() float64 {
	if sd.weights == nil {
		return float64(sd.n)
	}
	var sum float64
	for _, w := range sd.weights {
		sum += w
	}
	return sum
}

// descaleFit maps a scaled-space fit value back to the original units.
func (sd *scaledData) descaleFit(fit float64) float64 {
	return (fit + 0.5) * sd.yRange + sd.yMin
}

// descaleSigma maps a scaled-space residual standard deviation back to the
// original units.
func (sd *scaledData) descaleSigma(sigma float64) float64 {
	return sigma * sd.yRange
}

// testColumnAt returns X_test[row][col] from the row-major buffer.
func (sd *scaledData) testColumnAt(row, col int) float64 {
	return sd.testColumns[row*sd.p+col]
}

// replacePredictorColumn implements the predictor-replacement compatibility
// check from spec.md §4.1/§6/§7: the new column's cut points must cover at
// least as many cuts as before, and (checked by the caller against live
// tree rules) every existing ordinal split's CutIndex must still index one
// of the new column's cut points.
func (sd *scaledData) replacePredictorColumn(j int, values []float64, useQuantiles bool) ([]float64, error) {
	var newCuts []float64
	if sd.variableTypes[j] != Categorical {
		cp, err := computeCutPoints(values, sd.maxNumCuts[j], useQuantiles)
		if err != nil {
			return nil, err
		}
		if len(cp) < len(sd.cutPoints[j]) {
			return nil, scigoErrors.NewCompatibilityError("setPredictor", "new column yields fewer cut points than existing splits require")
		}
		// More cuts than before is permitted but ignored: adopt only
		// the first numCuts[j] new cut points (spec.md §4.1).
		if len(cp) > len(sd.cutPoints[j]) && len(sd.cutPoints[j]) > 0 {
			cp = cp[:len(sd.cutPoints[j])]
		}
		newCuts = cp
	}
	return newCuts, nil
}

// initialLatents sets the binary response's initial latent z per spec.md
// §8's boundary behavior: yScaled in {-1, +1} before any resampling.
func initialLatents(y []float64) []float64 {
	z := make([]float64, len(y))
	for i, v := range y {
		if v > 0 {
			z[i] = 1
		} else {
			z[i] = -1
		}
	}
	return z
}
