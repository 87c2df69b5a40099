package repository

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgkenn/MeridianV2-sub001/internal/domain"
)

func TestBundleRoundTrip(t *testing.T) {
	src := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, src.SaveStudy(ctx, sampleStudy("a", 2015)))
	require.NoError(t, src.SaveStudy(ctx, sampleStudy("b", 2022)))
	require.NoError(t, src.SaveStratum(ctx, &domain.BaselineStratum{
		Outcome: "LARYNGOSPASM", Window: "INTRAOP",
		AgeBand: domain.CHILD, Surgery: domain.ENT, Urgency: domain.ELECTIVE,
		Risk: 0.017, Era: "2015-2020",
	}))
	require.NoError(t, src.SaveReferenceRisk(ctx, "LARYNGOSPASM", "INTRAOP", 0.0087))

	var buf bytes.Buffer
	require.NoError(t, src.ExportJSON(ctx, "2026-08", &buf))
	assert.Contains(t, buf.String(), `"version": "2026-08"`)

	dst := createTestStore(t)
	imported, err := dst.ImportJSON(ctx, &buf)
	require.NoError(t, err)
	assert.Equal(t, 4, imported)

	studies, err := dst.Studies(ctx, "OSA", "LARYNGOSPASM", "INTRAOP")
	require.NoError(t, err)
	assert.Len(t, studies, 2)

	stratum, err := dst.Stratum(ctx, "LARYNGOSPASM", "INTRAOP", domain.CHILD, domain.ENT, domain.ELECTIVE)
	require.NoError(t, err)
	require.NotNil(t, stratum)
	assert.Equal(t, 0.017, stratum.Risk)

	risk, found, err := dst.ReferenceRisk(ctx, "LARYNGOSPASM", "INTRAOP")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 0.0087, risk)
}

func TestImportRejectsMalformedStudy(t *testing.T) {
	store := createTestStore(t)

	bundle := `{
		"version": "bad",
		"studies": [
			{"id": "x", "design": "PROSPECTIVE", "bias": "LOW_BIAS", "year": 2020,
			 "outcome": "LARYNGOSPASM", "window": "INTRAOP", "factor": "OSA",
			 "measure": "VIBES", "effect": 2.0}
		]
	}`

	_, err := store.ImportJSON(context.Background(), strings.NewReader(bundle))
	assert.Error(t, err)
}

func TestImportRejectsInvalidJSON(t *testing.T) {
	store := createTestStore(t)

	_, err := store.ImportJSON(context.Background(), strings.NewReader("{not json"))
	assert.Error(t, err)
}
