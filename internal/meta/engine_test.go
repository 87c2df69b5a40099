package meta

import (
	"context"
	"math"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgkenn/MeridianV2-sub001/internal/config"
	"github.com/dgkenn/MeridianV2-sub001/internal/domain"
)

func testEngine(t *testing.T) *Engine {
	t.Helper()
	cfg := config.Default().Engine.Meta
	cfg.ReferenceYear = 2024
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return NewEngine(logger, cfg)
}

func study(id string, year int, effect, se float64) domain.Study {
	return domain.Study{
		ID:      id,
		Design:  domain.PROSPECTIVE,
		Bias:    domain.LOW_BIAS,
		Year:    year,
		Outcome: "LARYNGOSPASM",
		Window:  "INTRAOP",
		Factor:  "RECENT_URI",
		Measure: domain.ODDS_RATIO,
		Effect:  effect,
		StdErr:  se,
	}
}

func TestPoolInsufficientEvidence(t *testing.T) {
	e := testEngine(t)

	pe, err := e.Pool(context.Background(), []domain.Study{study("only", 2020, 2.0, 0.3)},
		"RECENT_URI", "LARYNGOSPASM", "INTRAOP")
	require.NoError(t, err)
	assert.Nil(t, pe, "a single study with min_studies=2 must report insufficient evidence")
}

func TestPoolBasicInvariants(t *testing.T) {
	e := testEngine(t)
	studies := []domain.Study{
		study("a", 2018, 2.0, 0.30),
		study("b", 2020, 2.4, 0.25),
		study("c", 2022, 1.7, 0.35),
	}

	pe, err := e.Pool(context.Background(), studies, "RECENT_URI", "LARYNGOSPASM", "INTRAOP")
	require.NoError(t, err)
	require.NotNil(t, pe)

	assert.Equal(t, len(studies), pe.StudyCount)
	assert.Len(t, pe.Studies, pe.StudyCount)
	assert.GreaterOrEqual(t, pe.TauSquared, 0.0)
	assert.GreaterOrEqual(t, pe.ISquared, 0.0)
	assert.LessOrEqual(t, pe.ISquared, 100.0)
	assert.Greater(t, pe.StdErr, 0.0)
	assert.Greater(t, pe.TotalWeight, 0.0)
	assert.Nil(t, pe.EggerPValue, "funnel test requires at least 10 studies")

	// All three ORs are near 2, so the pooled log-effect should be too.
	assert.InDelta(t, math.Log(2.0), pe.LogEffect, 0.25)
}

func TestPoolIdempotence(t *testing.T) {
	e := testEngine(t)
	studies := []domain.Study{
		study("a", 2015, 1.8, 0.20),
		study("b", 2019, 2.6, 0.28),
		study("c", 2021, 2.1, 0.22),
		study("d", 2023, 1.5, 0.31),
	}

	first, err := e.Pool(context.Background(), studies, "RECENT_URI", "LARYNGOSPASM", "INTRAOP")
	require.NoError(t, err)
	second, err := e.Pool(context.Background(), studies, "RECENT_URI", "LARYNGOSPASM", "INTRAOP")
	require.NoError(t, err)

	assert.Equal(t, first, second, "pooling must be bit-identical for identical input")
}

func TestPoolRejectsMalformedStudies(t *testing.T) {
	e := testEngine(t)

	bad := study("bad", 2020, 2.0, 0.3)
	bad.Measure = "SMD"
	_, err := e.Pool(context.Background(), []domain.Study{bad, study("ok", 2021, 1.5, 0.2)},
		"RECENT_URI", "LARYNGOSPASM", "INTRAOP")
	require.Error(t, err)

	nonPositive := study("neg", 2020, -1.0, 0.3)
	_, err = e.Pool(context.Background(), []domain.Study{nonPositive, study("ok", 2021, 1.5, 0.2)},
		"RECENT_URI", "LARYNGOSPASM", "INTRAOP")
	require.Error(t, err)
}

func TestStandardErrorDerivation(t *testing.T) {
	e := testEngine(t)

	t.Run("explicit SE wins", func(t *testing.T) {
		s := study("se", 2020, 2.0, 0.4)
		s.CILower, s.CIUpper = 1.0, 4.0
		se, err := e.standardError(s)
		require.NoError(t, err)
		assert.Equal(t, 0.4, se)
	})

	t.Run("interval width over 3.92", func(t *testing.T) {
		s := study("ci", 2020, 2.0, 0)
		s.CILower, s.CIUpper = 1.0, 4.0
		se, err := e.standardError(s)
		require.NoError(t, err)
		assert.InDelta(t, (math.Log(4.0)-math.Log(1.0))/3.92, se, 1e-12)
	})

	t.Run("2x2 with continuity correction", func(t *testing.T) {
		s := study("counts", 2020, 2.0, 0)
		s.EventsExposed, s.TotalExposed = 10, 100
		s.EventsControl, s.TotalControl = 5, 100
		se, err := e.standardError(s)
		require.NoError(t, err)

		want := math.Sqrt(1/10.5 + 1/90.5 + 1/5.5 + 1/95.5)
		assert.InDelta(t, want, se, 1e-12)
	})

	t.Run("zero cells survive via correction", func(t *testing.T) {
		s := study("zero", 2020, 2.0, 0)
		s.EventsExposed, s.TotalExposed = 0, 50
		s.EventsControl, s.TotalControl = 3, 50
		se, err := e.standardError(s)
		require.NoError(t, err)
		assert.False(t, math.IsInf(se, 0))
		assert.False(t, math.IsNaN(se))
	})

	t.Run("no uncertainty source", func(t *testing.T) {
		s := study("none", 2020, 2.0, 0)
		_, err := e.standardError(s)
		require.ErrorIs(t, err, domain.ErrMissingVariance)
	})
}

func TestQualityWeightOrdering(t *testing.T) {
	e := testEngine(t)

	recent := study("recent", 2024, 2.0, 0.3)
	old := study("old", 2004, 2.0, 0.3)
	assert.Greater(t, e.qualityWeight(recent), e.qualityWeight(old),
		"recency decay must downweight older studies")

	rct := study("rct", 2020, 2.0, 0.3)
	rct.Design = domain.RANDOMIZED_TRIAL
	retro := study("retro", 2020, 2.0, 0.3)
	retro.Design = domain.RETROSPECTIVE
	assert.Greater(t, e.qualityWeight(rct), e.qualityWeight(retro))

	biased := study("biased", 2020, 2.0, 0.3)
	biased.Bias = domain.HIGH_BIAS
	assert.Greater(t, e.qualityWeight(rct), e.qualityWeight(biased))

	small := study("small", 2020, 2.0, 0.3)
	small.TotalExposed, small.TotalControl = 20, 20
	large := study("large", 2020, 2.0, 0.3)
	large.TotalExposed, large.TotalControl = 500, 500
	assert.Greater(t, e.qualityWeight(large), e.qualityWeight(small))
}

func TestVarianceInflationOnHeterogeneity(t *testing.T) {
	e := testEngine(t)

	// Disagreement extreme enough to saturate the tau-squared search at
	// its upper bound leaves a residual mean square above one, so the
	// Q/df scaling is actually applied.
	extreme := []domain.Study{
		study("a", 2020, 0.05, 0.1),
		study("b", 2020, 20.0, 0.1),
		study("c", 2020, 0.04, 0.1),
		study("d", 2020, 25.0, 0.1),
	}

	pe, err := e.Pool(context.Background(), extreme, "RECENT_URI", "LARYNGOSPASM", "INTRAOP")
	require.NoError(t, err)
	require.NotNil(t, pe)

	assert.True(t, pe.VarianceInflated,
		"residual heterogeneity beyond the tau-squared bound must inflate the variance")
	assert.Greater(t, pe.TauSquared, 0.0,
		"disagreeing studies must produce positive between-study variance")

	// Moderate disagreement is absorbed entirely by tau-squared: the
	// residual mean square stays at or below one, no scaling happens and
	// the flag stays false even though the small-count trigger fired.
	moderate := []domain.Study{
		study("e", 2020, 0.5, 0.08),
		study("f", 2020, 4.0, 0.08),
		study("g", 2020, 0.4, 0.08),
		study("h", 2020, 5.0, 0.08),
	}
	peModerate, err := e.Pool(context.Background(), moderate, "RECENT_URI", "LARYNGOSPASM", "INTRAOP")
	require.NoError(t, err)

	assert.False(t, peModerate.VarianceInflated,
		"flag must record an applied correction, not a fired trigger")
	assert.Greater(t, peModerate.TauSquared, 0.0)

	// The same effects reported consistently pool much tighter.
	tight := []domain.Study{
		study("i", 2020, 2.0, 0.08),
		study("j", 2020, 2.05, 0.08),
		study("k", 2020, 1.95, 0.08),
		study("l", 2020, 2.0, 0.08),
	}
	peTight, err := e.Pool(context.Background(), tight, "RECENT_URI", "LARYNGOSPASM", "INTRAOP")
	require.NoError(t, err)
	assert.Greater(t, peModerate.StdErr, peTight.StdErr)
}

func TestFunnelTestRunsAtTenStudies(t *testing.T) {
	e := testEngine(t)

	studies := make([]domain.Study, 0, 10)
	effects := []float64{1.4, 1.6, 1.8, 2.0, 2.2, 2.4, 2.1, 1.9, 1.7, 2.3}
	for i, eff := range effects {
		studies = append(studies, study(string(rune('a'+i)), 2014+i, eff, 0.15+0.02*float64(i)))
	}

	pe, err := e.Pool(context.Background(), studies, "RECENT_URI", "LARYNGOSPASM", "INTRAOP")
	require.NoError(t, err)
	require.NotNil(t, pe)

	require.NotNil(t, pe.EggerPValue)
	assert.GreaterOrEqual(t, *pe.EggerPValue, 0.0)
	assert.LessOrEqual(t, *pe.EggerPValue, 1.0)
}

func TestLeaveOneOutStabilityDetectsOutlier(t *testing.T) {
	e := testEngine(t)

	consistent := []domain.Study{
		study("a", 2020, 2.0, 0.2),
		study("b", 2021, 2.1, 0.2),
		study("c", 2022, 1.9, 0.2),
		study("d", 2023, 2.0, 0.2),
	}
	withOutlier := append(append([]domain.Study(nil), consistent...),
		study("outlier", 2023, 9.0, 0.2))

	peConsistent, err := e.Pool(context.Background(), consistent, "RECENT_URI", "LARYNGOSPASM", "INTRAOP")
	require.NoError(t, err)
	peOutlier, err := e.Pool(context.Background(), withOutlier, "RECENT_URI", "LARYNGOSPASM", "INTRAOP")
	require.NoError(t, err)

	assert.Greater(t, peOutlier.StabilityDeltaPP, peConsistent.StabilityDeltaPP,
		"an outlier study must worsen leave-one-out stability")
}

func TestLeaveOneOutStabilityRunsAtTwoStudies(t *testing.T) {
	e := testEngine(t)

	// Removing either of two discordant studies leaves a single-study
	// pool at that study's own effect, so the derived risk against the
	// reference baseline swings by many percentage points.
	discordant := []domain.Study{
		study("a", 2020, 0.5, 0.1),
		study("b", 2020, 8.0, 0.1),
	}

	pe, err := e.Pool(context.Background(), discordant, "RECENT_URI", "LARYNGOSPASM", "INTRAOP")
	require.NoError(t, err)
	require.NotNil(t, pe)

	assert.Greater(t, pe.StabilityDeltaPP, 5.0,
		"a two-study pool of discordant effects must not report perfect stability")
}

func TestShrinkagePullsTowardZero(t *testing.T) {
	e := testEngine(t)

	shrunk, shrunkSE := e.shrink(0.7, 0.3)
	assert.Greater(t, shrunk, 0.0)
	assert.Less(t, shrunk, 0.7, "shrinkage must pull the effect toward zero")
	assert.Less(t, shrunkSE, 0.3, "posterior SE must tighten")

	// A noisier estimate shrinks harder.
	noisier, _ := e.shrink(0.7, 0.6)
	assert.Less(t, noisier, shrunk)
}

func TestDersimonianLairdFallbackProperties(t *testing.T) {
	y := []float64{0.1, 0.9, 0.2, 1.1}
	v := []float64{0.04, 0.04, 0.04, 0.04}
	assert.Greater(t, dersimonianLaird(y, v), 0.0)

	// Homogeneous effects truncate at zero.
	yFlat := []float64{0.5, 0.5, 0.5}
	vFlat := []float64{0.04, 0.05, 0.06}
	assert.Equal(t, 0.0, dersimonianLaird(yFlat, vFlat))
}

func TestProfileAndMomentEstimatorsAgreeRoughly(t *testing.T) {
	e := testEngine(t)

	y := []float64{0.2, 0.8, 0.5, 1.0, 0.3}
	v := []float64{0.05, 0.06, 0.04, 0.07, 0.05}

	res := e.estimateTau(y, v)
	assert.Equal(t, domain.TAU_PROFILE_LIKELIHOOD, res.estimator)

	dl := dersimonianLaird(y, v)
	assert.InDelta(t, dl, res.value, 0.25,
		"profile and moment estimates should land in the same neighbourhood")
}
