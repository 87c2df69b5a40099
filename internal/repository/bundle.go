package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/dgkenn/MeridianV2-sub001/internal/domain"
)

// EvidenceBundle is the interchange format for a curated evidence
// release: the study corpus, baseline strata and reference risks,
// stamped with the release version.
type EvidenceBundle struct {
	Version    string    `json:"version"`
	ExportedAt time.Time `json:"exported_at"`

	Studies        []domain.Study           `json:"studies"`
	Strata         []domain.BaselineStratum `json:"strata"`
	ReferenceRisks []ReferenceRiskRecord    `json:"reference_risks"`
}

// ReferenceRiskRecord is one population reference row in a bundle.
type ReferenceRiskRecord struct {
	Outcome string  `json:"outcome"`
	Window  string  `json:"window"`
	Risk    float64 `json:"risk"`
}

// maxExportRows bounds a single export query.
const maxExportRows = 1000000

// ExportJSON writes the full store contents as a bundle.
func (s *EvidenceStore) ExportJSON(ctx context.Context, version string, writer io.Writer) error {
	bundle := &EvidenceBundle{
		Version:    version,
		ExportedAt: time.Now(),
	}

	rows, err := s.db.QueryContext(ctx, `SELECT `+studyColumns+` FROM studies ORDER BY id LIMIT ?`, maxExportRows)
	if err != nil {
		return fmt.Errorf("failed to query studies: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		st, err := scanStudy(rows)
		if err != nil {
			return fmt.Errorf("failed to scan study: %w", err)
		}
		bundle.Studies = append(bundle.Studies, st)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	strata, err := s.allStrata(ctx)
	if err != nil {
		return err
	}
	bundle.Strata = strata

	refs, err := s.allReferenceRisks(ctx)
	if err != nil {
		return err
	}
	bundle.ReferenceRisks = refs

	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(bundle)
}

// ImportJSON loads a bundle into the store. Existing rows with matching
// keys are replaced; malformed records abort the import.
func (s *EvidenceStore) ImportJSON(ctx context.Context, reader io.Reader) (imported int, err error) {
	var bundle EvidenceBundle
	if err := json.NewDecoder(reader).Decode(&bundle); err != nil {
		return 0, fmt.Errorf("failed to decode bundle: %w", err)
	}

	for i := range bundle.Studies {
		if err := s.SaveStudy(ctx, &bundle.Studies[i]); err != nil {
			return imported, fmt.Errorf("study %q: %w", bundle.Studies[i].ID, err)
		}
		imported++
	}

	for i := range bundle.Strata {
		if err := s.SaveStratum(ctx, &bundle.Strata[i]); err != nil {
			return imported, fmt.Errorf("stratum %d: %w", i, err)
		}
		imported++
	}

	for _, ref := range bundle.ReferenceRisks {
		if err := s.SaveReferenceRisk(ctx, ref.Outcome, ref.Window, ref.Risk); err != nil {
			return imported, fmt.Errorf("reference risk %s/%s: %w", ref.Outcome, ref.Window, err)
		}
		imported++
	}

	return imported, nil
}

func (s *EvidenceStore) allStrata(ctx context.Context) ([]domain.BaselineStratum, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT outcome, window, age_band, surgery, urgency,
			risk, has_interval, lower, upper,
			patient_count, event_count, era
		FROM baseline_strata
		ORDER BY outcome, window, age_band, surgery, urgency
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query strata: %w", err)
	}
	defer rows.Close()

	var result []domain.BaselineStratum
	for rows.Next() {
		var st domain.BaselineStratum
		var ageBand, surgery, urgency string
		err := rows.Scan(
			&st.Outcome, &st.Window, &ageBand, &surgery, &urgency,
			&st.Risk, &st.HasInterval, &st.Lower, &st.Upper,
			&st.PatientCount, &st.EventCount, &st.Era,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan stratum: %w", err)
		}
		st.AgeBand = domain.AgeBand(ageBand)
		st.Surgery = domain.SurgeryType(surgery)
		st.Urgency = domain.Urgency(urgency)
		result = append(result, st)
	}
	return result, rows.Err()
}

func (s *EvidenceStore) allReferenceRisks(ctx context.Context) ([]ReferenceRiskRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT outcome, window, risk FROM reference_risks ORDER BY outcome, window`)
	if err != nil {
		return nil, fmt.Errorf("failed to query reference risks: %w", err)
	}
	defer rows.Close()

	var result []ReferenceRiskRecord
	for rows.Next() {
		var r ReferenceRiskRecord
		if err := rows.Scan(&r.Outcome, &r.Window, &r.Risk); err != nil {
			return nil, fmt.Errorf("failed to scan reference risk: %w", err)
		}
		result = append(result, r)
	}
	return result, rows.Err()
}
