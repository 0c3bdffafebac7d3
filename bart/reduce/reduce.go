// Package reduce specifies the thread-pool collaborator the sampler core
// uses for the one operation it farms out to multiple goroutines: reducing
// a leaf's observations into the weighted mean and sum of squared
// deviations its end-node posterior needs. Everything else in the sampler
// runs on a single goroutine, since tree proposals are inherently
// sequential (each move's acceptance depends on the previous move's
// outcome).
package reduce

import (
	"sync"

	"github.com/ezoic/bart/pkg/log"
)

// Stats is a leaf's sufficient statistics: the weighted mean of the values
// at obsIndex, the weighted sum of squared deviations from that mean, and
// the count (possibly fractional, under per-observation weights) of
// observations the leaf actually holds. SumSqDev is carried directly,
// rather than a variance, so a leaf holding a single observation reduces
// to SumSqDev == 0 without a division by (n-1).
type Stats struct {
	Mean      float64
	SumSqDev  float64
	EffectiveN float64
}

// Pool runs leaf reductions across a fixed number of worker goroutines.
// A Pool with NumThreads <= 1 runs every reduction on the caller's
// goroutine; callers construct one Pool per BARTFit and reuse it across
// the whole chain.
type Pool struct {
	numThreads int
	logger     log.Logger
}

// New returns a Pool that dispatches across numThreads goroutines.
// numThreads <= 1 means "run serially, no goroutines spawned".
func New(numThreads int) *Pool {
	if numThreads < 1 {
		numThreads = 1
	}
	return &Pool{numThreads: numThreads, logger: log.GetLoggerWithName("BARTFit")}
}

// NumThreads reports the configured degree of parallelism.
func (p *Pool) NumThreads() int {
	return p.numThreads
}

// Reduce computes Stats over the observations named by obsIndex, where
// value(i) and weight(i) look up the i'th observation's response value and
// weight by row index. When the pool has more than one thread and there
// are enough observations to make splitting worthwhile, the index set is
// partitioned into contiguous chunks, each chunk reduced on its own
// goroutine, and the partial results combined with a numerically stable
// parallel variance merge (Chan et al. 1979). A single-goroutine reduction
// is used whenever splitting wouldn't pay for itself, since goroutine
// dispatch overhead dominates for small leaves.
func (p *Pool) Reduce(obsIndex []int, value func(i int) float64, weight func(i int) float64) Stats {
	const minPerChunk = 256
	if p.numThreads <= 1 {
		return reduceSerial(obsIndex, value, weight)
	}
	if len(obsIndex) < minPerChunk*2 {
		if p.logger != nil {
			p.logger.Warn("thread pool degraded to single-threaded reduce", "numThreads", p.numThreads, "numObs", len(obsIndex))
		}
		return reduceSerial(obsIndex, value, weight)
	}

	chunks := partition(obsIndex, p.numThreads, minPerChunk)
	if len(chunks) <= 1 {
		if p.logger != nil {
			p.logger.Warn("thread pool degraded to single-threaded reduce", "numThreads", p.numThreads, "numObs", len(obsIndex))
		}
		return reduceSerial(obsIndex, value, weight)
	}

	partials := make([]Stats, len(chunks))
	var wg sync.WaitGroup
	wg.Add(len(chunks))
	for c := range chunks {
		c := c
		go func() {
			defer wg.Done()
			partials[c] = reduceSerial(chunks[c], value, weight)
		}()
	}
	wg.Wait()

	out := partials[0]
	for _, s := range partials[1:] {
		out = merge(out, s)
	}
	return out
}

// partition splits idx into up to n contiguous chunks of at least
// minPerChunk elements each.
func partition(idx []int, n, minPerChunk int) [][]int {
	if len(idx) < minPerChunk {
		return [][]int{idx}
	}
	maxChunks := len(idx) / minPerChunk
	if maxChunks < n {
		n = maxChunks
	}
	if n < 1 {
		n = 1
	}

	chunks := make([][]int, 0, n)
	base := len(idx) / n
	rem := len(idx) % n
	start := 0
	for c := 0; c < n; c++ {
		size := base
		if c < rem {
			size++
		}
		if size == 0 {
			continue
		}
		chunks = append(chunks, idx[start:start+size])
		start += size
	}
	return chunks
}

func reduceSerial(obsIndex []int, value func(i int) float64, weight func(i int) float64) Stats {
	if len(obsIndex) == 0 {
		return Stats{}
	}

	var sumW, sumWV float64
	for _, i := range obsIndex {
		w := weight(i)
		sumW += w
		sumWV += w * value(i)
	}
	if sumW == 0 {
		return Stats{}
	}
	mean := sumWV / sumW

	var sumSqDev float64
	for _, i := range obsIndex {
		d := value(i) - mean
		sumSqDev += weight(i) * d * d
	}

	return Stats{Mean: mean, SumSqDev: sumSqDev, EffectiveN: sumW}
}

// merge combines two partial reductions computed over disjoint index sets
// into the Stats for their union, using the parallel variance-combination
// identity so the merged SumSqDev matches what a single serial pass over
// the combined set would have produced.
func merge(a, b Stats) Stats {
	if a.EffectiveN == 0 {
		return b
	}
	if b.EffectiveN == 0 {
		return a
	}

	n := a.EffectiveN + b.EffectiveN
	delta := b.Mean - a.Mean
	mean := a.Mean + delta*b.EffectiveN/n
	sumSqDev := a.SumSqDev + b.SumSqDev + delta*delta*a.EffectiveN*b.EffectiveN/n

	return Stats{Mean: mean, SumSqDev: sumSqDev, EffectiveN: n}
}
