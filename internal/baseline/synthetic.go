package baseline

import (
	"math"

	"github.com/dgkenn/MeridianV2-sub001/internal/domain"
)

// Fixed multiplicative factor tables for the synthetic baseline model.
// Infants and the very elderly push risk up; low-stimulus specialties
// push it down; cardiac and transplant surgery push it up.
var (
	ageFactors = map[domain.AgeBand]float64{
		domain.NEONATE:    3.0,
		domain.INFANT:     2.2,
		domain.TODDLER:    1.5,
		domain.CHILD:      1.0,
		domain.ADOLESCENT: 0.9,
		domain.ADULT:      1.0,
		domain.ELDERLY:    1.8,
	}

	surgeryFactors = map[domain.SurgeryType]float64{
		domain.DENTAL:     0.5,
		domain.OPHTHALMIC: 0.6,
		domain.ENT:        1.2,
		domain.GENERAL:    1.0,
		domain.ORTHOPEDIC: 1.1,
		domain.NEURO:      1.8,
		domain.CARDIAC:    3.0,
		domain.TRANSPLANT: 3.5,
	}
)

// syntheticIntervalCap bounds the synthetic interval inside (0, 0.9).
const syntheticIntervalCap = 0.9

// synthetic derives a baseline estimate from fixed lookup tables when no
// curated tier matched: reference risk x age factor x surgery factor x
// urgency factor, capped, with a deliberately wide symmetric interval of
// 0.5x to 2.0x the point estimate.
func (e *Engine) synthetic(outcome, window string, age domain.AgeBand, surgery domain.SurgeryType, urgency domain.Urgency, ref float64) *domain.BaselineRisk {
	ageFactor, ok := ageFactors[age]
	if !ok {
		ageFactor = 1.0
	}
	surgeryFactor, ok := surgeryFactors[surgery]
	if !ok {
		surgeryFactor = 1.0
	}

	risk := ref * ageFactor * surgeryFactor * e.urgencyMultiplier(urgency)
	risk = math.Min(risk, e.cfg.SyntheticRiskCap)

	br := &domain.BaselineRisk{
		Outcome:     outcome,
		Window:      window,
		AgeBand:     age,
		Surgery:     surgery,
		Urgency:     urgency,
		Risk:        risk,
		HasInterval: true,
		Lower:       0.5 * risk,
		Upper:       math.Min(2.0*risk, syntheticIntervalCap),
		Era:         domain.EraSynthetic,
		Source:      domain.SOURCE_SYNTHETIC,
	}
	e.finalize(br, ref)
	return br
}
