package meta

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

// minStudiesForFunnel is the study count at which the funnel-asymmetry
// test becomes meaningful enough to run.
const minStudiesForFunnel = 10

// eggerTest runs the precision-vs-effect weighted-regression asymmetry
// test: the standardized effect y/se is regressed on precision 1/se and
// the intercept is tested against zero with k-2 degrees of freedom.
// Returns ok=false when the regression is singular; the caller treats
// that as "no asymmetry detected".
func eggerTest(obs []observation) (pValue float64, ok bool) {
	k := len(obs)
	if k < 3 {
		return 1, false
	}

	xs := make([]float64, k)
	zs := make([]float64, k)
	for i, o := range obs {
		se := math.Sqrt(o.v)
		if se <= 0 {
			return 1, false
		}
		xs[i] = 1 / se
		zs[i] = o.y / se
	}

	var sumX, sumZ, sumXX, sumXZ float64
	for i := range xs {
		sumX += xs[i]
		sumZ += zs[i]
		sumXX += xs[i] * xs[i]
		sumXZ += xs[i] * zs[i]
	}
	n := float64(k)

	det := n*sumXX - sumX*sumX
	if math.Abs(det) < 1e-12 {
		return 1, false
	}

	slope := (n*sumXZ - sumX*sumZ) / det
	intercept := (sumZ - slope*sumX) / n

	// Residual variance and the intercept's standard error.
	var rss float64
	for i := range xs {
		r := zs[i] - intercept - slope*xs[i]
		rss += r * r
	}
	df := n - 2
	if df <= 0 || rss < 0 {
		return 1, false
	}
	sigma2 := rss / df
	seIntercept := math.Sqrt(sigma2 * sumXX / det)
	if seIntercept <= 0 || math.IsNaN(seIntercept) {
		return 1, false
	}

	t := math.Abs(intercept / seIntercept)
	tDist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}
	p := 2 * (1 - tDist.CDF(t))
	if math.IsNaN(p) {
		return 1, false
	}
	if p < 0 {
		p = 0
	}
	return p, true
}

// trimFillProxy estimates how many studies the funnel plot is missing on
// its lighter side. This is a simplified count-imbalance proxy for the
// full trim-and-fill procedure: studies are centered at the pooled
// effect and the imbalance between sides is reported. Advisory metadata
// only, never a correction to the pooled estimate.
func trimFillProxy(obs []observation, pooled float64) int {
	var above, below int
	for _, o := range obs {
		switch {
		case o.y > pooled:
			above++
		case o.y < pooled:
			below++
		}
	}
	imbalance := above - below
	if imbalance < 0 {
		imbalance = -imbalance
	}
	return imbalance
}
