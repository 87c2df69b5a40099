// Package convert composes pooled effects onto a baseline risk: odds-scale
// point adjustment, a simulated confidence interval via Monte Carlo draws
// and the derived absolute risk-difference metrics.
package convert

import (
	"math"
	"math/rand"

	"github.com/montanaflynn/stats"
	"github.com/sirupsen/logrus"

	"github.com/dgkenn/MeridianV2-sub001/internal/domain"
	"github.com/dgkenn/MeridianV2-sub001/pkg/riskmath"
)

// Draw clipping bounds: sampled risks outside this range are clipped so
// every retained draw stays strictly inside (0,1).
const (
	drawClipLower = 0.0001
	drawClipUpper = 0.9999
)

// Converter turns pooled effects plus a baseline into an absolute
// adjusted risk with a simulated interval. The Monte Carlo source is
// seeded per call from configuration, so identical inputs always produce
// identical intervals.
type Converter struct {
	logger *logrus.Logger
	cfg    domain.ConvertConfig
}

// NewConverter creates a new risk converter.
func NewConverter(logger *logrus.Logger, cfg domain.ConvertConfig) *Converter {
	return &Converter{logger: logger, cfg: cfg}
}

// AbsoluteRiskCI composes the pooled effects whose factor appears in
// factorCodes onto the baseline and returns the adjusted point risk with
// its 95% simulated interval. With no matching effects the baseline is
// returned unadjusted as point and both bounds.
//
// Multiple matched effects are combined by summing log-effects and
// variances. This assumes the factors act independently; inter-factor
// correlation and interaction are deliberately ignored (the
// interaction_extension config flag reserves the alternative).
func (c *Converter) AbsoluteRiskCI(effects []*domain.PooledEffect, baseline *domain.BaselineRisk, factorCodes []string) (point, lower, upper float64, err error) {
	if err := domain.ValidateProbability("baseline.risk", baseline.Risk); err != nil {
		return 0, 0, 0, err
	}

	matched := filterEffects(effects, factorCodes)
	if len(matched) == 0 {
		return baseline.Risk, baseline.Risk, baseline.Risk, nil
	}

	var sumLog, sumVar float64
	for _, pe := range matched {
		logEff, se := pe.EffectiveLogEffect()
		sumLog += logEff
		sumVar += se * se
	}

	point, err = riskmath.LogORToProb(sumLog, baseline.Risk)
	if err != nil {
		return 0, 0, 0, err
	}

	lower, upper = c.simulateInterval(sumLog, sumVar, baseline, point)
	return point, lower, upper, nil
}

// simulateInterval runs the configured number of Monte Carlo draws and
// returns the 2.5th and 97.5th percentiles of the valid draws. Draws
// that fail numerically are excluded, not replaced; if every draw is
// excluded the point estimate degenerates to both bounds.
func (c *Converter) simulateInterval(sumLog, sumVar float64, baseline *domain.BaselineRisk, point float64) (float64, float64) {
	rng := rand.New(rand.NewSource(c.cfg.Seed))

	effectSD := math.Sqrt(sumVar)

	baseLogit, err := riskmath.Logit(baseline.Risk)
	if err != nil {
		c.logger.WithError(err).Warn("Baseline not representable on logit scale, returning degenerate interval")
		return point, point
	}

	// The baseline sampling spread matches the published interval on
	// the logit scale; a missing interval degenerates to a point mass.
	baseLogitSD := 0.0
	if baseline.HasInterval && baseline.Lower > 0 && baseline.Upper < 1 && baseline.Upper > baseline.Lower {
		lo, errLo := riskmath.Logit(baseline.Lower)
		hi, errHi := riskmath.Logit(baseline.Upper)
		if errLo == nil && errHi == nil {
			baseLogitSD = (hi - lo) / 3.92
		}
	}

	draws := make([]float64, 0, c.cfg.Draws)
	for i := 0; i < c.cfg.Draws; i++ {
		effect := sumLog + effectSD*rng.NormFloat64()
		lp := baseLogit + baseLogitSD*rng.NormFloat64()
		base := riskmath.InvLogit(lp)
		if base <= 0 || base >= 1 {
			continue
		}

		risk, err := riskmath.LogORToProb(effect, base)
		if err != nil || math.IsNaN(risk) || math.IsInf(risk, 0) {
			continue
		}

		if risk < drawClipLower {
			risk = drawClipLower
		} else if risk > drawClipUpper {
			risk = drawClipUpper
		}
		draws = append(draws, risk)
	}

	if len(draws) == 0 {
		c.logger.WithFields(logrus.Fields{
			"requested_draws": c.cfg.Draws,
		}).Warn("No valid Monte Carlo draws, returning degenerate interval")
		return point, point
	}

	lower, errLo := stats.Percentile(stats.Float64Data(draws), 2.5)
	upper, errHi := stats.Percentile(stats.Float64Data(draws), 97.5)
	if errLo != nil || errHi != nil {
		c.logger.Warn("Percentile computation failed, returning degenerate interval")
		return point, point
	}
	return lower, upper
}

// RiskDifference derives the absolute increase in percentage points, the
// relative-risk ratio and the number needed to harm. NNH is +Inf when
// the adjusted risk does not exceed the baseline.
func (c *Converter) RiskDifference(adjusted, baseline float64) (domain.RiskDifference, error) {
	if err := domain.ValidateProbability("adjusted", adjusted); err != nil {
		return domain.RiskDifference{}, err
	}
	if err := domain.ValidateProbability("baseline", baseline); err != nil {
		return domain.RiskDifference{}, err
	}

	diff := domain.RiskDifference{
		AbsoluteIncreasePP: (adjusted - baseline) * 100,
		RelativeRisk:       adjusted / baseline,
		NumberNeededToHarm: math.Inf(1),
	}
	if adjusted > baseline {
		diff.NumberNeededToHarm = 1 / (adjusted - baseline)
	}
	return diff, nil
}

func filterEffects(effects []*domain.PooledEffect, factorCodes []string) []*domain.PooledEffect {
	wanted := make(map[string]bool, len(factorCodes))
	for _, f := range factorCodes {
		wanted[f] = true
	}

	matched := make([]*domain.PooledEffect, 0, len(effects))
	for _, pe := range effects {
		if pe != nil && wanted[pe.Factor] {
			matched = append(matched, pe)
		}
	}
	return matched
}
