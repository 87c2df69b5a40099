// Package confidence grades the evidence behind a pooled effect. Eight
// deterministic component scorers each examine one diagnostic of the
// PooledEffect, and a configured weight vector combines them into a
// 0-100 total with a letter grade.
package confidence

import (
	"fmt"
	"math"

	"github.com/sirupsen/logrus"

	"github.com/dgkenn/MeridianV2-sub001/internal/domain"
)

// Design and bias mix credit per study class.
const (
	designCreditRCT           = 1.0
	designCreditProspective   = 0.6
	designCreditRetrospective = 0.3

	biasCreditLow  = 1.0
	biasCreditSome = 0.6
	biasCreditHigh = 0.2
)

// neutralFunnelScore is the publication-bias component when the funnel
// test was not run (fewer than ten studies). Small pools carry an
// unquantified asymmetry risk, so they score below a clean test result.
const neutralFunnelScore = 0.85

// Scorer computes ConfidenceBreakdown values. It is a pure function of
// the pooled effect once constructed; construction fails if the weight
// vector is invalid.
type Scorer struct {
	logger *logrus.Logger
	cfg    domain.ConfidenceConfig
	meta   domain.MetaConfig
}

// NewScorer validates the configured weight vector and returns a scorer.
func NewScorer(logger *logrus.Logger, cfg domain.ConfidenceConfig, meta domain.MetaConfig) (*Scorer, error) {
	if err := ValidateWeights(cfg.Weights); err != nil {
		return nil, err
	}
	return &Scorer{logger: logger, cfg: cfg, meta: meta}, nil
}

// ValidateWeights rejects component weight vectors that are negative in
// any component or whose mass deviates from 1.0 by more than the
// tolerance.
func ValidateWeights(w domain.ConfidenceWeights) error {
	for i, c := range w.Components() {
		if c < 0 {
			return fmt.Errorf("confidence weights: component %d is negative (%v)", i, c)
		}
	}
	if sum := w.Sum(); math.Abs(sum-1.0) > domain.WeightSumTolerance {
		return fmt.Errorf("confidence weights: components sum to %v, expected 1.0 within %v", sum, domain.WeightSumTolerance)
	}
	return nil
}

// Score grades a pooled effect. No I/O and no randomness; identical
// inputs always produce an identical breakdown.
func (s *Scorer) Score(pe *domain.PooledEffect) domain.ConfidenceBreakdown {
	b := domain.ConfidenceBreakdown{
		StudyCount:      studyCountScore(pe.StudyCount),
		DesignMix:       designMixScore(pe.Studies),
		BiasQuality:     biasQualityScore(pe.Studies),
		Freshness:       s.freshnessScore(pe.Studies),
		WindowMatch:     windowMatchScore(pe),
		Heterogeneity:   heterogeneityScore(pe.ISquared),
		PublicationBias: publicationBiasScore(pe),
		Stability:       stabilityScore(pe.StabilityDeltaPP),
	}

	w := s.cfg.Weights
	b.Total = 100 * (w.StudyCount*b.StudyCount +
		w.DesignMix*b.DesignMix +
		w.BiasQuality*b.BiasQuality +
		w.Freshness*b.Freshness +
		w.WindowMatch*b.WindowMatch +
		w.Heterogeneity*b.Heterogeneity +
		w.PublicationBias*b.PublicationBias +
		w.Stability*b.Stability)
	b.Grade = s.grade(b.Total)

	s.logger.WithFields(logrus.Fields{
		"factor":  pe.Factor,
		"outcome": pe.Outcome,
		"total":   b.Total,
		"grade":   b.Grade,
	}).Debug("Confidence scored")

	return b
}

func (s *Scorer) grade(total float64) domain.Grade {
	switch {
	case total >= s.cfg.GradeA:
		return domain.GRADE_A
	case total >= s.cfg.GradeB:
		return domain.GRADE_B
	case total >= s.cfg.GradeC:
		return domain.GRADE_C
	default:
		return domain.GRADE_D
	}
}

func studyCountScore(count int) float64 {
	switch {
	case count >= 20:
		return 1.0
	case count >= 10:
		return 0.85
	case count >= 5:
		return 0.65
	case count >= 3:
		return 0.45
	case count >= 2:
		return 0.30
	default:
		return 0.10
	}
}

func designMixScore(studies []domain.Study) float64 {
	if len(studies) == 0 {
		return 0
	}
	var credit float64
	for _, st := range studies {
		switch st.Design {
		case domain.RANDOMIZED_TRIAL:
			credit += designCreditRCT
		case domain.PROSPECTIVE:
			credit += designCreditProspective
		case domain.RETROSPECTIVE:
			credit += designCreditRetrospective
		}
	}
	return credit / float64(len(studies))
}

func biasQualityScore(studies []domain.Study) float64 {
	if len(studies) == 0 {
		return 0
	}
	var credit float64
	for _, st := range studies {
		switch st.Bias {
		case domain.LOW_BIAS:
			credit += biasCreditLow
		case domain.SOME_BIAS:
			credit += biasCreditSome
		case domain.HIGH_BIAS:
			credit += biasCreditHigh
		}
	}
	return credit / float64(len(studies))
}

// freshnessScore maps a decay-weighted mean evidence age to a band.
// Recent studies dominate the mean through the same half-life decay the
// pooling path applies, so one old study among fresh ones barely moves
// the band.
func (s *Scorer) freshnessScore(studies []domain.Study) float64 {
	if len(studies) == 0 {
		return 0
	}

	var weightSum, ageSum float64
	for _, st := range studies {
		age := float64(s.meta.ReferenceYear - st.Year)
		if age < 0 {
			age = 0
		}
		w := math.Exp(-math.Ln2 * age / s.meta.HalfLifeYears)
		weightSum += w
		ageSum += w * age
	}
	if weightSum == 0 {
		return 0
	}
	meanAge := ageSum / weightSum

	switch {
	case meanAge <= 3:
		return 1.0
	case meanAge <= 7:
		return 0.85
	case meanAge <= 12:
		return 0.65
	case meanAge <= 20:
		return 0.45
	default:
		return 0.25
	}
}

func windowMatchScore(pe *domain.PooledEffect) float64 {
	if len(pe.Studies) == 0 {
		return 0
	}
	matched := 0
	for _, st := range pe.Studies {
		if st.Window == pe.Window {
			matched++
		}
	}
	return float64(matched) / float64(len(pe.Studies))
}

func heterogeneityScore(iSquared float64) float64 {
	switch {
	case iSquared < 25:
		return 1.0
	case iSquared < 40:
		return 0.80
	case iSquared < 60:
		return 0.55
	case iSquared < 75:
		return 0.35
	default:
		return 0.15
	}
}

// publicationBiasScore combines the funnel-test p-value and the
// trim-and-fill imputed count multiplicatively. A missing test scores
// the fixed neutral value.
func publicationBiasScore(pe *domain.PooledEffect) float64 {
	if pe.EggerPValue == nil {
		return neutralFunnelScore
	}

	var pScore float64
	switch p := *pe.EggerPValue; {
	case p >= 0.10:
		pScore = 1.0
	case p >= 0.05:
		pScore = 0.80
	default:
		pScore = 0.50
	}

	var imputedScore float64
	switch {
	case pe.ImputedStudies == 0:
		imputedScore = 1.0
	case pe.ImputedStudies == 1:
		imputedScore = 0.85
	case pe.ImputedStudies == 2:
		imputedScore = 0.70
	default:
		imputedScore = 0.50
	}

	return pScore * imputedScore
}

func stabilityScore(deltaPP float64) float64 {
	switch {
	case deltaPP <= 0.1:
		return 1.0
	case deltaPP <= 0.5:
		return 0.80
	case deltaPP <= 1.0:
		return 0.60
	case deltaPP <= 2.0:
		return 0.40
	default:
		return 0.20
	}
}
