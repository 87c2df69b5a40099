package meta

import (
	"math"

	"github.com/dgkenn/MeridianV2-sub001/internal/domain"
)

// tauResult carries the between-study variance estimate together with
// the estimator that produced it, so callers can always tell whether the
// likelihood search converged or the moment-based fallback was used.
type tauResult struct {
	value     float64
	estimator domain.TauEstimator
}

// estimateTau estimates tau-squared by minimising a restricted-likelihood
// profile objective over [0, maxTau]. Any numerical failure falls back
// deterministically to the DerSimonian-Laird moment estimator; the
// failure never reaches the caller.
func (e *Engine) estimateTau(y, v []float64) tauResult {
	k := len(y)
	if k < 2 {
		return tauResult{value: 0, estimator: domain.TAU_DERSIMONIAN_LAIRD}
	}

	best, ok := minimizeProfile(y, v, e.cfg.TauSquaredMax)
	if !ok {
		e.logger.WithField("studies", k).Warn("tau-squared likelihood search failed, using DerSimonian-Laird moment estimator")
		return tauResult{value: dersimonianLaird(y, v), estimator: domain.TAU_DERSIMONIAN_LAIRD}
	}
	return tauResult{value: best, estimator: domain.TAU_PROFILE_LIKELIHOOD}
}

// profileObjective is the negative restricted profile log-likelihood of
// tau-squared, up to an additive constant.
func profileObjective(tau float64, y, v []float64) float64 {
	var sumLog, sumW, sumSq, mu float64

	for _, vi := range v {
		w := 1 / (vi + tau)
		sumLog += math.Log(vi + tau)
		sumW += w
	}
	if sumW <= 0 || math.IsInf(sumW, 0) || math.IsNaN(sumW) {
		return math.NaN()
	}

	for i, yi := range y {
		mu += yi / (v[i] + tau)
	}
	mu /= sumW

	for i, yi := range y {
		d := yi - mu
		sumSq += d * d / (v[i] + tau)
	}

	return sumLog + math.Log(sumW) + sumSq
}

// minimizeProfile runs a coarse grid over [0, maxTau] followed by a
// golden-section refinement around the best cell.
func minimizeProfile(y, v []float64, maxTau float64) (float64, bool) {
	const gridCells = 64

	step := maxTau / gridCells
	bestTau := 0.0
	bestObj := math.Inf(1)

	for i := 0; i <= gridCells; i++ {
		tau := float64(i) * step
		obj := profileObjective(tau, y, v)
		if math.IsNaN(obj) || math.IsInf(obj, 0) {
			return 0, false
		}
		if obj < bestObj {
			bestObj = obj
			bestTau = tau
		}
	}

	lo := math.Max(0, bestTau-step)
	hi := math.Min(maxTau, bestTau+step)
	refined, ok := goldenSection(lo, hi, y, v)
	if !ok {
		return 0, false
	}
	return refined, true
}

// goldenSection refines the minimum of the profile objective on [lo, hi].
func goldenSection(lo, hi float64, y, v []float64) (float64, bool) {
	const (
		phi       = 0.6180339887498949
		tolerance = 1e-8
		maxIters  = 200
	)

	a, b := lo, hi
	c := b - phi*(b-a)
	d := a + phi*(b-a)
	fc := profileObjective(c, y, v)
	fd := profileObjective(d, y, v)

	for i := 0; i < maxIters && b-a > tolerance; i++ {
		if math.IsNaN(fc) || math.IsNaN(fd) {
			return 0, false
		}
		if fc < fd {
			b, d, fd = d, c, fc
			c = b - phi*(b-a)
			fc = profileObjective(c, y, v)
		} else {
			a, c, fc = c, d, fd
			d = a + phi*(b-a)
			fd = profileObjective(d, y, v)
		}
	}

	tau := (a + b) / 2
	if tau < 0 {
		tau = 0
	}
	return tau, true
}

// dersimonianLaird is the classical moment-based estimator, used as the
// deterministic fallback when the likelihood search fails.
func dersimonianLaird(y, v []float64) float64 {
	k := float64(len(y))
	if k < 2 {
		return 0
	}

	var s1, s2, mu float64
	for _, vi := range v {
		if vi <= 0 {
			return 0
		}
		w := 1 / vi
		s1 += w
		s2 += w * w
	}
	for i, yi := range y {
		mu += yi / v[i]
	}
	mu /= s1

	var q float64
	for i, yi := range y {
		d := yi - mu
		q += d * d / v[i]
	}

	denom := s1 - s2/s1
	if denom <= 0 {
		return 0
	}
	tau := (q - (k - 1)) / denom
	if tau < 0 {
		return 0
	}
	return tau
}
