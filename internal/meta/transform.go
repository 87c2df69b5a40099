package meta

import (
	"fmt"
	"math"

	"github.com/dgkenn/MeridianV2-sub001/internal/domain"
)

// ciWidthDivisor converts a 95% interval width on the log scale to a
// standard error (2 x 1.96).
const ciWidthDivisor = 3.92

// continuityCorrection is added to every cell of a 2x2 table before
// computing the odds-ratio variance. It is applied unconditionally so
// derived variances are comparable across studies whether or not any
// cell is actually zero.
const continuityCorrection = 0.5

// observation is one study transformed onto the log scale with its
// within-study variance and composite quality weight.
type observation struct {
	y       float64 // log effect
	v       float64 // within-study variance on the log scale
	quality float64 // recency x design x bias x small-sample penalty
	study   domain.Study
}

// observe validates a study and derives its log-scale effect, variance
// and quality weight. Standard error preference order: explicit SE, then
// reported interval via the width-over-3.92 rule, then 2x2 counts.
func (e *Engine) observe(s domain.Study) (observation, error) {
	if err := s.Validate(); err != nil {
		return observation{}, err
	}

	y := math.Log(s.Effect)

	se, err := e.standardError(s)
	if err != nil {
		return observation{}, err
	}

	return observation{
		y:       y,
		v:       se * se,
		quality: e.qualityWeight(s),
		study:   s,
	}, nil
}

func (e *Engine) standardError(s domain.Study) (float64, error) {
	if s.StdErr > 0 {
		return s.StdErr, nil
	}

	if s.CILower > 0 && s.CIUpper > s.CILower {
		return (math.Log(s.CIUpper) - math.Log(s.CILower)) / ciWidthDivisor, nil
	}

	if s.TotalExposed > 0 && s.TotalControl > 0 {
		a := float64(s.EventsExposed) + continuityCorrection
		b := float64(s.TotalExposed-s.EventsExposed) + continuityCorrection
		c := float64(s.EventsControl) + continuityCorrection
		d := float64(s.TotalControl-s.EventsControl) + continuityCorrection
		if b <= 0 || d <= 0 {
			return 0, fmt.Errorf("study %s: event counts exceed arm totals", s.ID)
		}
		return math.Sqrt(1/a + 1/b + 1/c + 1/d), nil
	}

	return 0, fmt.Errorf("study %s: %w", s.ID, domain.ErrMissingVariance)
}

// qualityWeight is the non-variance part of the composite study weight.
func (e *Engine) qualityWeight(s domain.Study) float64 {
	age := float64(e.cfg.ReferenceYear - s.Year)
	if age < 0 {
		age = 0
	}
	recency := math.Exp(-math.Ln2 * age / e.cfg.HalfLifeYears)

	design, ok := e.cfg.DesignWeights[string(s.Design)]
	if !ok {
		design = e.cfg.DesignWeights[string(domain.RETROSPECTIVE)]
	}
	bias, ok := e.cfg.BiasWeights[string(s.Bias)]
	if !ok {
		bias = e.cfg.BiasWeights[string(domain.HIGH_BIAS)]
	}

	w := recency * design * bias
	if s.SampleSize() > 0 && s.SampleSize() < e.cfg.SmallSampleThreshold {
		w *= e.cfg.SmallSamplePenalty
	}
	return w
}
