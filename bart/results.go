package bart

// Results holds the sample buffers returned by RunSampler, laid out per
// spec.md §6: row-major, column index is sample index.
type Results struct {
	N, M, P, NumSamples int

	SigmaSamples []float64 // length NumSamples, original units

	// TrainingSamples is N x NumSamples, filled iff ControlOptions.KeepTrainingFits.
	TrainingSamples []float64

	// TestSamples is M x NumSamples; length 0 when M == 0.
	TestSamples []float64

	// VariableCountSamples is P x NumSamples: per-sample, per-variable
	// split-use counts summed over all trees.
	VariableCountSamples []float64
}

func newResults(n, m, p, numSamples int, keepTrainingFits bool) *Results {
	r := &Results{N: n, M: m, P: p, NumSamples: numSamples}
	r.SigmaSamples = make([]float64, numSamples)
	if keepTrainingFits {
		r.TrainingSamples = make([]float64, n*numSamples)
	}
	if m > 0 {
		r.TestSamples = make([]float64, m*numSamples)
	}
	r.VariableCountSamples = make([]float64, p*numSamples)
	return r
}

// TrainingAt returns the de-scaled training fit for observation i, sample s.
func (r *Results) TrainingAt(i, s int) float64 { return r.TrainingSamples[i*r.NumSamples+s] }

func (r *Results) setTrainingAt(i, s int, v float64) { r.TrainingSamples[i*r.NumSamples+s] = v }

// TestAt returns the de-scaled test fit for row i, sample s.
func (r *Results) TestAt(i, s int) float64 { return r.TestSamples[i*r.NumSamples+s] }

func (r *Results) setTestAt(i, s int, v float64) { r.TestSamples[i*r.NumSamples+s] = v }

// VariableCountAt returns variable j's split-use count in sample s.
func (r *Results) VariableCountAt(j, s int) float64 { return r.VariableCountSamples[j*r.NumSamples+s] }

func (r *Results) setVariableCountAt(j, s int, v float64) {
	r.VariableCountSamples[j*r.NumSamples+s] = v
}
