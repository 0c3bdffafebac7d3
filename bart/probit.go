package bart

import (
	"math"

	"github.com/ezoic/bart/bart/rng"
)

var negInf, posInf = math.Inf(-1), math.Inf(1)

// resampleLatents implements spec.md §4.6's binary-response step: redraw
// each observation's latent z from a truncated standard Normal of mean
// totalFits[i], truncated below 0 when y[i] > 0, else above 0.
//
// Two modes exist (spec.md §9's open question): the default, non-match
// path truncates the shifted variable totalFits[i]+offset[i] and stores
// back z[i] = draw - offset[i], so the trees keep fitting an
// offset-removed target; the MatchBayesTreeProbit path truncates
// totalFits[i]+offset[i] directly and stores the draw verbatim, per
// dbarts's bartFit.cpp match-mode branch.
func (f *Fit) resampleLatents(src rng.Source) {
	sd := f.sd
	for i := 0; i < sd.n; i++ {
		lower, upper := negInf, posInf
		if sd.yRaw[i] > 0 {
			lower = 0
		} else {
			upper = 0
		}

		if f.model.MatchBayesTreeProbit {
			sd.yScaled[i] = src.TruncatedNormal(f.totalFits[i]+sd.offsetAt(i), 1, lower, upper)
			continue
		}

		shiftedMean := f.totalFits[i] + sd.offsetAt(i)
		draw := src.TruncatedNormal(shiftedMean, 1, lower, upper)
		sd.yScaled[i] = draw - sd.offsetAt(i)
	}
}
