package baseline

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgkenn/MeridianV2-sub001/internal/config"
	"github.com/dgkenn/MeridianV2-sub001/internal/domain"
)

// memStore is an in-memory Store for tests.
type memStore struct {
	strata []domain.BaselineStratum
	refs   map[string]float64
}

type stratumKey struct {
	outcome, window string
	age             domain.AgeBand
	surgery         domain.SurgeryType
	urgency         domain.Urgency
}

func (m *memStore) Stratum(_ context.Context, outcome, window string, age domain.AgeBand, surgery domain.SurgeryType, urgency domain.Urgency) (*domain.BaselineStratum, error) {
	for i := range m.strata {
		s := &m.strata[i]
		if s.Outcome == outcome && s.Window == window && s.AgeBand == age && s.Surgery == surgery && s.Urgency == urgency {
			return s, nil
		}
	}
	return nil, nil
}

func (m *memStore) ReferenceRisk(_ context.Context, outcome, window string) (float64, bool, error) {
	r, ok := m.refs[outcome+"|"+window]
	return r, ok, nil
}

func testBaselineEngine(t *testing.T, store Store) *Engine {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return NewEngine(logger, config.Default().Engine.Baseline, store)
}

func curated(age domain.AgeBand, surgery domain.SurgeryType, urgency domain.Urgency, risk float64) domain.BaselineStratum {
	return domain.BaselineStratum{
		Outcome:      "LARYNGOSPASM",
		Window:       "INTRAOP",
		AgeBand:      age,
		Surgery:      surgery,
		Urgency:      urgency,
		Risk:         risk,
		HasInterval:  true,
		Lower:        risk * 0.8,
		Upper:        risk * 1.25,
		PatientCount: 12000,
		EventCount:   int(risk * 12000),
		Era:          "2015-2023",
	}
}

func TestExactMatch(t *testing.T) {
	store := &memStore{
		strata: []domain.BaselineStratum{curated(domain.CHILD, domain.ENT, domain.ELECTIVE, 0.017)},
		refs:   map[string]float64{"LARYNGOSPASM|INTRAOP": 0.009},
	}
	e := testBaselineEngine(t, store)

	br, err := e.Lookup(context.Background(), "LARYNGOSPASM", "INTRAOP", domain.CHILD, domain.ENT, domain.ELECTIVE)
	require.NoError(t, err)
	require.NotNil(t, br)

	assert.Equal(t, domain.SOURCE_EXACT, br.Source)
	assert.Equal(t, 0.017, br.Risk)
	assert.Equal(t, "2015-2023", br.Era)
	assert.Equal(t, 0.009, br.ReferenceRisk)
	assert.InDelta(t, 0.008, br.AbsoluteDiff, 1e-9)
}

func TestUrgencyFallbackMultipliesByExactly1p5(t *testing.T) {
	store := &memStore{
		strata: []domain.BaselineStratum{curated(domain.CHILD, domain.ENT, domain.ELECTIVE, 0.02)},
		refs:   map[string]float64{},
	}
	e := testBaselineEngine(t, store)

	br, err := e.Lookup(context.Background(), "LARYNGOSPASM", "INTRAOP", domain.CHILD, domain.ENT, domain.URGENT)
	require.NoError(t, err)

	assert.Equal(t, domain.SOURCE_URGENCY, br.Source)
	assert.InDelta(t, 0.03, br.Risk, 1e-12, "urgent fallback multiplies elective risk by exactly 1.5")
	assert.InDelta(t, 0.02*0.8*1.5, br.Lower, 1e-12)
	assert.InDelta(t, 0.02*1.25*1.5, br.Upper, 1e-12)
	assert.Equal(t, domain.URGENT, br.Urgency)
}

func TestUrgencyFallbackCaps(t *testing.T) {
	store := &memStore{
		strata: []domain.BaselineStratum{curated(domain.ELDERLY, domain.CARDIAC, domain.ELECTIVE, 0.40)},
		refs:   map[string]float64{},
	}
	e := testBaselineEngine(t, store)

	br, err := e.Lookup(context.Background(), "LARYNGOSPASM", "INTRAOP", domain.ELDERLY, domain.CARDIAC, domain.EMERGENCY)
	require.NoError(t, err)

	assert.Equal(t, 0.50, br.Risk, "point risk capped at 50%% absolute")
	assert.Equal(t, 0.80, br.Upper, "interval upper bound capped at 80%%")
}

func TestAgeAdjacencyFallback(t *testing.T) {
	store := &memStore{
		strata: []domain.BaselineStratum{curated(domain.TODDLER, domain.ENT, domain.ELECTIVE, 0.025)},
		refs:   map[string]float64{},
	}
	e := testBaselineEngine(t, store)

	br, err := e.Lookup(context.Background(), "LARYNGOSPASM", "INTRAOP", domain.CHILD, domain.ENT, domain.ELECTIVE)
	require.NoError(t, err)

	assert.Equal(t, domain.SOURCE_AGE_ADJACENT, br.Source)
	assert.Equal(t, 0.025, br.Risk)
	assert.Equal(t, domain.TODDLER, br.AgeBand)
}

func TestAgeAdjacencyIsCyclic(t *testing.T) {
	// Only ELDERLY data exists; a NEONATE query must still find it by
	// wrapping around the chain boundary.
	store := &memStore{
		strata: []domain.BaselineStratum{curated(domain.ELDERLY, domain.GENERAL, domain.ELECTIVE, 0.03)},
		refs:   map[string]float64{},
	}
	e := testBaselineEngine(t, store)

	br, err := e.Lookup(context.Background(), "LARYNGOSPASM", "INTRAOP", domain.NEONATE, domain.GENERAL, domain.ELECTIVE)
	require.NoError(t, err)

	assert.Equal(t, domain.SOURCE_AGE_ADJACENT, br.Source)
	assert.Equal(t, domain.ELDERLY, br.AgeBand)
}

func TestSimilarSurgeryFallback(t *testing.T) {
	store := &memStore{
		strata: []domain.BaselineStratum{curated(domain.CHILD, domain.ENT, domain.ELECTIVE, 0.018)},
		refs:   map[string]float64{},
	}
	e := testBaselineEngine(t, store)

	// No dental data anywhere, and no age neighbour has dental either;
	// dental maps to ENT first.
	br, err := e.Lookup(context.Background(), "LARYNGOSPASM", "INTRAOP", domain.CHILD, domain.DENTAL, domain.ELECTIVE)
	require.NoError(t, err)

	assert.Equal(t, domain.SOURCE_SIMILAR_SURGERY, br.Source)
	assert.Equal(t, 0.018, br.Risk)
}

func TestSyntheticFallbackAlwaysAnswers(t *testing.T) {
	e := testBaselineEngine(t, &memStore{refs: map[string]float64{}})

	br, err := e.Lookup(context.Background(), "BRONCHOSPASM", "PACU", domain.INFANT, domain.CARDIAC, domain.EMERGENCY)
	require.NoError(t, err)
	require.NotNil(t, br, "synthetic tier must always produce a baseline")

	assert.Equal(t, domain.EraSynthetic, br.Era)
	assert.Equal(t, domain.SOURCE_SYNTHETIC, br.Source)

	// 0.01 x 2.2 (infant) x 3.0 (cardiac) x 2.5 (emergency) = 0.165
	assert.InDelta(t, 0.165, br.Risk, 1e-9)
	assert.True(t, br.HasInterval)
	assert.InDelta(t, br.Risk*0.5, br.Lower, 1e-9)
	assert.InDelta(t, br.Risk*2.0, br.Upper, 1e-9)
	assert.Greater(t, br.Risk, 0.0)
	assert.Less(t, br.Upper, 0.9+1e-9)
}

func TestSyntheticCaps(t *testing.T) {
	e := testBaselineEngine(t, &memStore{refs: map[string]float64{"X|Y": 0.2}})

	br, err := e.Lookup(context.Background(), "X", "Y", domain.NEONATE, domain.TRANSPLANT, domain.EMERGENCY)
	require.NoError(t, err)

	// 0.2 x 3.0 x 3.5 x 2.5 would exceed 1; capped at 0.8.
	assert.Equal(t, 0.80, br.Risk)
	assert.Equal(t, 0.9, br.Upper, "interval upper bound clamps below 0.9")
}

func TestHighRiskFlagORSemantics(t *testing.T) {
	tests := []struct {
		name string
		risk float64
		ref  float64
		want bool
	}{
		{"absolute trigger", 0.06, 0.05, true},
		{"delta trigger", 0.04, 0.01, true},
		{"fold trigger", 0.011, 0.005, true},
		{"no trigger", 0.010, 0.009, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &memStore{
				strata: []domain.BaselineStratum{curated(domain.ADULT, domain.GENERAL, domain.ELECTIVE, tt.risk)},
				refs:   map[string]float64{"LARYNGOSPASM|INTRAOP": tt.ref},
			}
			e := testBaselineEngine(t, store)

			br, err := e.Lookup(context.Background(), "LARYNGOSPASM", "INTRAOP", domain.ADULT, domain.GENERAL, domain.ELECTIVE)
			require.NoError(t, err)
			assert.Equal(t, tt.want, br.IsHighRisk)
		})
	}
}
