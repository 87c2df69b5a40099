package confidence

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgkenn/MeridianV2-sub001/internal/config"
	"github.com/dgkenn/MeridianV2-sub001/internal/domain"
)

func testScorer(t *testing.T) *Scorer {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	cfg := config.Default().Engine
	cfg.Meta.ReferenceYear = 2024

	s, err := NewScorer(logger, cfg.Confidence, cfg.Meta)
	require.NoError(t, err)
	return s
}

func strongEffect() *domain.PooledEffect {
	studies := make([]domain.Study, 0, 12)
	for i := 0; i < 12; i++ {
		studies = append(studies, domain.Study{
			ID:     "s",
			Design: domain.RANDOMIZED_TRIAL,
			Bias:   domain.LOW_BIAS,
			Year:   2023,
			Window: "INTRAOP",
		})
	}
	egger := 0.6
	return &domain.PooledEffect{
		Factor:           "OSA",
		Outcome:          "LARYNGOSPASM",
		Window:           "INTRAOP",
		StudyCount:       len(studies),
		ISquared:         10,
		EggerPValue:      &egger,
		ImputedStudies:   0,
		StabilityDeltaPP: 0.05,
		Studies:          studies,
	}
}

func weakEffect() *domain.PooledEffect {
	studies := []domain.Study{
		{ID: "a", Design: domain.RETROSPECTIVE, Bias: domain.HIGH_BIAS, Year: 1998, Window: "PACU"},
		{ID: "b", Design: domain.RETROSPECTIVE, Bias: domain.HIGH_BIAS, Year: 2001, Window: "PACU"},
	}
	return &domain.PooledEffect{
		Factor:           "OSA",
		Outcome:          "LARYNGOSPASM",
		Window:           "INTRAOP",
		StudyCount:       len(studies),
		ISquared:         82,
		StabilityDeltaPP: 3.5,
		Studies:          studies,
	}
}

func TestValidateWeights(t *testing.T) {
	valid := config.Default().Engine.Confidence.Weights
	assert.NoError(t, ValidateWeights(valid))

	// Deviations inside the tolerance are accepted.
	nudged := valid
	nudged.Stability += 5e-7
	assert.NoError(t, ValidateWeights(nudged))

	broken := valid
	broken.Stability += 0.01
	assert.Error(t, ValidateWeights(broken))

	negative := valid
	negative.StudyCount = -0.1
	negative.Stability += valid.StudyCount + 0.1
	assert.Error(t, ValidateWeights(negative))
}

func TestNewScorerRejectsBadWeights(t *testing.T) {
	logger := logrus.New()
	cfg := config.Default().Engine

	cfg.Confidence.Weights.Freshness += 0.1
	_, err := NewScorer(logger, cfg.Confidence, cfg.Meta)
	assert.Error(t, err)
}

func TestStrongEvidenceOutscoresWeakEvidence(t *testing.T) {
	s := testScorer(t)

	strong := s.Score(strongEffect())
	weak := s.Score(weakEffect())

	assert.Greater(t, strong.Total, weak.Total)
	assert.Equal(t, domain.GRADE_A, strong.Grade)
	assert.Equal(t, domain.GRADE_D, weak.Grade)
}

func TestComponentScoresStayInUnitInterval(t *testing.T) {
	s := testScorer(t)

	for _, pe := range []*domain.PooledEffect{strongEffect(), weakEffect()} {
		b := s.Score(pe)
		for name, score := range map[string]float64{
			"study_count":      b.StudyCount,
			"design_mix":       b.DesignMix,
			"bias_quality":     b.BiasQuality,
			"freshness":        b.Freshness,
			"window_match":     b.WindowMatch,
			"heterogeneity":    b.Heterogeneity,
			"publication_bias": b.PublicationBias,
			"stability":        b.Stability,
		} {
			assert.GreaterOrEqual(t, score, 0.0, name)
			assert.LessOrEqual(t, score, 1.0, name)
		}
		assert.GreaterOrEqual(t, b.Total, 0.0)
		assert.LessOrEqual(t, b.Total, 100.0)
	}
}

func TestHigherISquaredNeverRaisesTotal(t *testing.T) {
	s := testScorer(t)

	prev := 101.0
	for _, i2 := range []float64{0, 10, 24.9, 25, 39.9, 40, 59.9, 60, 74.9, 75, 90, 100} {
		pe := strongEffect()
		pe.ISquared = i2
		total := s.Score(pe).Total
		assert.LessOrEqual(t, total, prev, "i_squared %v", i2)
		prev = total
	}
}

func TestMissingFunnelTestScoresNeutral(t *testing.T) {
	s := testScorer(t)

	pe := strongEffect()
	pe.EggerPValue = nil
	b := s.Score(pe)
	assert.InDelta(t, neutralFunnelScore, b.PublicationBias, 1e-9)
}

func TestAsymmetryAndImputationCompound(t *testing.T) {
	s := testScorer(t)

	pe := strongEffect()
	low := 0.01
	pe.EggerPValue = &low
	pe.ImputedStudies = 3
	b := s.Score(pe)
	assert.InDelta(t, 0.50*0.50, b.PublicationBias, 1e-9)
}

func TestWindowMismatchLowersScore(t *testing.T) {
	s := testScorer(t)

	matched := s.Score(strongEffect())

	pe := strongEffect()
	for i := range pe.Studies {
		pe.Studies[i].Window = "PACU"
	}
	mismatched := s.Score(pe)

	assert.Zero(t, mismatched.WindowMatch)
	assert.Less(t, mismatched.Total, matched.Total)
}

func TestScoringIsDeterministic(t *testing.T) {
	s := testScorer(t)

	a := s.Score(strongEffect())
	b := s.Score(strongEffect())
	assert.Equal(t, a, b)
}

func TestDesignMixOrdering(t *testing.T) {
	rct := []domain.Study{{Design: domain.RANDOMIZED_TRIAL}}
	pro := []domain.Study{{Design: domain.PROSPECTIVE}}
	ret := []domain.Study{{Design: domain.RETROSPECTIVE}}

	assert.Greater(t, designMixScore(rct), designMixScore(pro))
	assert.Greater(t, designMixScore(pro), designMixScore(ret))
}

func TestFreshnessDiscountsOldEvidence(t *testing.T) {
	s := testScorer(t)

	fresh := []domain.Study{{Year: 2023}, {Year: 2022}}
	stale := []domain.Study{{Year: 1995}, {Year: 1998}}

	assert.Greater(t, s.freshnessScore(fresh), s.freshnessScore(stale))
}
