// Package baseline resolves the unconditional risk of an outcome for a
// patient stratum, walking a deterministic fallback hierarchy from
// curated registry data down to a fully synthetic multiplicative model.
package baseline

import (
	"context"
	"math"

	"github.com/sirupsen/logrus"

	"github.com/dgkenn/MeridianV2-sub001/internal/domain"
)

// Store supplies curated baseline strata and population reference risks.
// Implementations return (nil, nil) / (0, false, nil) when no row exists;
// errors are reserved for store failures.
type Store interface {
	Stratum(ctx context.Context, outcome, window string, age domain.AgeBand, surgery domain.SurgeryType, urgency domain.Urgency) (*domain.BaselineStratum, error)
	ReferenceRisk(ctx context.Context, outcome, window string) (float64, bool, error)
}

// Engine resolves baseline risks. Stateless across calls apart from the
// injected store; safe for concurrent use.
type Engine struct {
	logger *logrus.Logger
	cfg    domain.BaselineConfig
	store  Store
}

// NewEngine creates a new baseline-risk engine.
func NewEngine(logger *logrus.Logger, cfg domain.BaselineConfig, store Store) *Engine {
	return &Engine{logger: logger, cfg: cfg, store: store}
}

// similarSurgery is the fixed fallback mapping between surgical
// specialties, tried in order.
var similarSurgery = map[domain.SurgeryType][]domain.SurgeryType{
	domain.DENTAL:     {domain.ENT, domain.GENERAL},
	domain.OPHTHALMIC: {domain.ENT, domain.GENERAL},
	domain.ENT:        {domain.GENERAL},
	domain.ORTHOPEDIC: {domain.GENERAL},
	domain.NEURO:      {domain.GENERAL},
	domain.CARDIAC:    {domain.TRANSPLANT, domain.GENERAL},
	domain.TRANSPLANT: {domain.CARDIAC, domain.GENERAL},
	domain.GENERAL:    {domain.ENT},
}

// Lookup resolves the baseline risk for a stratum. It never returns a
// nil result without an error: the synthetic model guarantees a final
// answer when every curated tier misses.
//
// Fallback order, first match wins:
//  1. exact stratum
//  2. same stratum at elective urgency, scaled by the urgency multiplier
//  3. nearest neighbouring age band, original urgency
//  4. similar surgery mapping, original age band and urgency
//  5. fully synthetic multiplicative estimate
func (e *Engine) Lookup(ctx context.Context, outcome, window string, age domain.AgeBand, surgery domain.SurgeryType, urgency domain.Urgency) (*domain.BaselineRisk, error) {
	ref, err := e.referenceRisk(ctx, outcome, window)
	if err != nil {
		return nil, err
	}

	// Tier 1: exact match.
	if s, err := e.store.Stratum(ctx, outcome, window, age, surgery, urgency); err != nil {
		return nil, err
	} else if s != nil {
		return e.fromStratum(s, ref, domain.SOURCE_EXACT), nil
	}

	// Tier 2: elective data scaled up for the requested urgency.
	if urgency != domain.ELECTIVE {
		if s, err := e.store.Stratum(ctx, outcome, window, age, surgery, domain.ELECTIVE); err != nil {
			return nil, err
		} else if s != nil {
			return e.scaleForUrgency(s, ref, urgency), nil
		}
	}

	// Tier 3: nearest neighbouring age band, searching outward in both
	// directions along the cyclic chain.
	if s, err := e.nearestAgeBand(ctx, outcome, window, age, surgery, urgency); err != nil {
		return nil, err
	} else if s != nil {
		return e.fromStratum(s, ref, domain.SOURCE_AGE_ADJACENT), nil
	}

	// Tier 4: similar surgery.
	for _, alt := range similarSurgery[surgery] {
		if s, err := e.store.Stratum(ctx, outcome, window, age, alt, urgency); err != nil {
			return nil, err
		} else if s != nil {
			return e.fromStratum(s, ref, domain.SOURCE_SIMILAR_SURGERY), nil
		}
	}

	// Tier 5: synthetic.
	e.logger.WithFields(logrus.Fields{
		"outcome": outcome,
		"window":  window,
		"age":     age,
		"surgery": surgery,
		"urgency": urgency,
	}).Info("No curated baseline data, deriving synthetic estimate")
	return e.synthetic(outcome, window, age, surgery, urgency, ref), nil
}

// nearestAgeBand walks the adjacency chain outward from the requested
// band, younger neighbour first at each distance. The chain is cyclic at
// its boundaries.
func (e *Engine) nearestAgeBand(ctx context.Context, outcome, window string, age domain.AgeBand, surgery domain.SurgeryType, urgency domain.Urgency) (*domain.BaselineStratum, error) {
	chain := domain.AgeBandChain
	idx := -1
	for i, b := range chain {
		if b == age {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, nil
	}

	n := len(chain)
	for dist := 1; dist < n; dist++ {
		for _, j := range []int{(idx - dist + n) % n, (idx + dist) % n} {
			s, err := e.store.Stratum(ctx, outcome, window, chain[j], surgery, urgency)
			if err != nil {
				return nil, err
			}
			if s != nil {
				return s, nil
			}
		}
	}
	return nil, nil
}

// scaleForUrgency multiplies an elective stratum by the urgency factor,
// capping the point risk at the configured absolute cap and the interval
// upper bound at its own cap.
func (e *Engine) scaleForUrgency(s *domain.BaselineStratum, ref float64, urgency domain.Urgency) *domain.BaselineRisk {
	factor := e.urgencyMultiplier(urgency)

	risk := math.Min(s.Risk*factor, e.cfg.FallbackRiskCap)
	br := &domain.BaselineRisk{
		Outcome:      s.Outcome,
		Window:       s.Window,
		AgeBand:      s.AgeBand,
		Surgery:      s.Surgery,
		Urgency:      urgency,
		Risk:         risk,
		PatientCount: s.PatientCount,
		EventCount:   s.EventCount,
		Era:          s.Era,
		Source:       domain.SOURCE_URGENCY,
	}
	if s.HasInterval {
		br.HasInterval = true
		br.Lower = math.Min(s.Lower*factor, e.cfg.FallbackRiskCap)
		br.Upper = math.Min(s.Upper*factor, e.cfg.FallbackUpperCap)
	}
	e.finalize(br, ref)
	return br
}

// fromStratum converts a curated row into a BaselineRisk.
func (e *Engine) fromStratum(s *domain.BaselineStratum, ref float64, source string) *domain.BaselineRisk {
	br := &domain.BaselineRisk{
		Outcome:      s.Outcome,
		Window:       s.Window,
		AgeBand:      s.AgeBand,
		Surgery:      s.Surgery,
		Urgency:      s.Urgency,
		Risk:         s.Risk,
		HasInterval:  s.HasInterval,
		Lower:        s.Lower,
		Upper:        s.Upper,
		PatientCount: s.PatientCount,
		EventCount:   s.EventCount,
		Era:          s.Era,
		Source:       source,
	}
	e.finalize(br, ref)
	return br
}

func (e *Engine) urgencyMultiplier(u domain.Urgency) float64 {
	switch u {
	case domain.URGENT:
		return e.cfg.UrgentMultiplier
	case domain.EMERGENCY:
		return e.cfg.EmergencyMultiplier
	default:
		return 1.0
	}
}

func (e *Engine) referenceRisk(ctx context.Context, outcome, window string) (float64, error) {
	ref, found, err := e.store.ReferenceRisk(ctx, outcome, window)
	if err != nil {
		return 0, err
	}
	if !found || ref <= 0 || ref >= 1 {
		return e.cfg.DefaultReferenceRisk, nil
	}
	return ref, nil
}

// finalize fills the reference comparison and the high-risk flag. Any
// one trigger is sufficient: absolute threshold, delta versus reference
// or fold ratio versus reference.
func (e *Engine) finalize(br *domain.BaselineRisk, ref float64) {
	br.ReferenceRisk = ref
	br.AbsoluteDiff = br.Risk - ref
	if ref > 0 {
		br.FoldDiff = br.Risk / ref
	}

	br.IsHighRisk = br.Risk >= e.cfg.HighRiskAbsolute ||
		br.AbsoluteDiff >= e.cfg.HighRiskDelta ||
		br.FoldDiff >= e.cfg.HighRiskFold
}
