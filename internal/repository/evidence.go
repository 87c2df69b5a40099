// Package repository implements the SQLite-backed evidence store: the
// curated study corpus, baseline registry strata and population
// reference risks the engines read from.
package repository

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/dgkenn/MeridianV2-sub001/internal/domain"
)

// EvidenceStore provides read/write access to the evidence database.
// It satisfies the study source consumed by the pooling engine and the
// baseline.Store interface consumed by the baseline engine.
type EvidenceStore struct {
	db     *sql.DB
	dbPath string
}

// NewEvidenceStore opens (creating if necessary) the evidence database
// at dbPath and ensures the schema exists.
func NewEvidenceStore(dbPath string) (*EvidenceStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &EvidenceStore{db: db, dbPath: dbPath}, nil
}

// scanner is an interface for sql.Row and sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

func createSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS studies (
		id TEXT PRIMARY KEY,
		design TEXT NOT NULL,
		bias TEXT NOT NULL,
		year INTEGER NOT NULL,
		population TEXT DEFAULT '',
		outcome TEXT NOT NULL,
		window TEXT NOT NULL,
		factor TEXT NOT NULL,
		measure TEXT NOT NULL,
		effect REAL NOT NULL,
		std_err REAL DEFAULT 0,
		ci_lower REAL DEFAULT 0,
		ci_upper REAL DEFAULT 0,
		events_exposed INTEGER DEFAULT 0,
		total_exposed INTEGER DEFAULT 0,
		events_control INTEGER DEFAULT 0,
		total_control INTEGER DEFAULT 0,
		adjusted INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_studies_triple ON studies(factor, outcome, window);

	CREATE TABLE IF NOT EXISTS baseline_strata (
		outcome TEXT NOT NULL,
		window TEXT NOT NULL,
		age_band TEXT NOT NULL,
		surgery TEXT NOT NULL,
		urgency TEXT NOT NULL,
		risk REAL NOT NULL,
		has_interval INTEGER NOT NULL DEFAULT 0,
		lower REAL DEFAULT 0,
		upper REAL DEFAULT 0,
		patient_count INTEGER DEFAULT 0,
		event_count INTEGER DEFAULT 0,
		era TEXT DEFAULT '',
		PRIMARY KEY (outcome, window, age_band, surgery, urgency)
	);

	CREATE TABLE IF NOT EXISTS reference_risks (
		outcome TEXT NOT NULL,
		window TEXT NOT NULL,
		risk REAL NOT NULL,
		PRIMARY KEY (outcome, window)
	);
	`

	_, err := db.Exec(schema)
	return err
}

func scanStudy(s scanner) (domain.Study, error) {
	var st domain.Study
	var design, bias, measure string

	err := s.Scan(
		&st.ID, &design, &bias, &st.Year, &st.Population,
		&st.Outcome, &st.Window, &st.Factor,
		&measure, &st.Effect, &st.StdErr, &st.CILower, &st.CIUpper,
		&st.EventsExposed, &st.TotalExposed, &st.EventsControl, &st.TotalControl,
		&st.Adjusted,
	)
	if err != nil {
		return domain.Study{}, err
	}

	st.Design = domain.StudyDesign(design)
	st.Bias = domain.BiasRisk(bias)
	st.Measure = domain.EffectMeasure(measure)
	return st, nil
}

const studyColumns = `id, design, bias, year, population,
		outcome, window, factor,
		measure, effect, std_err, ci_lower, ci_upper,
		events_exposed, total_exposed, events_control, total_control,
		adjusted`

// Studies returns every study for one (factor, outcome, window) triple,
// ordered by year descending so the freshest evidence leads.
func (s *EvidenceStore) Studies(ctx context.Context, factor, outcome, window string) ([]domain.Study, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+studyColumns+`
		FROM studies
		WHERE factor = ? AND outcome = ? AND window = ?
		ORDER BY year DESC, id
	`, factor, outcome, window)
	if err != nil {
		return nil, fmt.Errorf("failed to query studies: %w", err)
	}
	defer rows.Close()

	var result []domain.Study
	for rows.Next() {
		st, err := scanStudy(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan study: %w", err)
		}
		result = append(result, st)
	}
	return result, rows.Err()
}

// SaveStudy inserts or replaces a study record after validating it.
func (s *EvidenceStore) SaveStudy(ctx context.Context, st *domain.Study) error {
	if err := st.Validate(); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO studies (`+studyColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		st.ID, string(st.Design), string(st.Bias), st.Year, st.Population,
		st.Outcome, st.Window, st.Factor,
		string(st.Measure), st.Effect, st.StdErr, st.CILower, st.CIUpper,
		st.EventsExposed, st.TotalExposed, st.EventsControl, st.TotalControl,
		st.Adjusted,
	)
	if err != nil {
		return fmt.Errorf("failed to save study: %w", err)
	}
	return nil
}

// Stratum returns the curated baseline row for an exact stratum key, or
// nil when the stratum is absent.
func (s *EvidenceStore) Stratum(ctx context.Context, outcome, window string, age domain.AgeBand, surgery domain.SurgeryType, urgency domain.Urgency) (*domain.BaselineStratum, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT outcome, window, age_band, surgery, urgency,
			risk, has_interval, lower, upper,
			patient_count, event_count, era
		FROM baseline_strata
		WHERE outcome = ? AND window = ? AND age_band = ? AND surgery = ? AND urgency = ?
	`, outcome, window, string(age), string(surgery), string(urgency))

	var st domain.BaselineStratum
	var ageBand, surgeryType, urg string
	err := row.Scan(
		&st.Outcome, &st.Window, &ageBand, &surgeryType, &urg,
		&st.Risk, &st.HasInterval, &st.Lower, &st.Upper,
		&st.PatientCount, &st.EventCount, &st.Era,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan stratum: %w", err)
	}

	st.AgeBand = domain.AgeBand(ageBand)
	st.Surgery = domain.SurgeryType(surgeryType)
	st.Urgency = domain.Urgency(urg)
	return &st, nil
}

// SaveStratum inserts or replaces a curated baseline row.
func (s *EvidenceStore) SaveStratum(ctx context.Context, st *domain.BaselineStratum) error {
	if err := domain.ValidateProbability("stratum.risk", st.Risk); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO baseline_strata (
			outcome, window, age_band, surgery, urgency,
			risk, has_interval, lower, upper,
			patient_count, event_count, era
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		st.Outcome, st.Window, string(st.AgeBand), string(st.Surgery), string(st.Urgency),
		st.Risk, st.HasInterval, st.Lower, st.Upper,
		st.PatientCount, st.EventCount, st.Era,
	)
	if err != nil {
		return fmt.Errorf("failed to save stratum: %w", err)
	}
	return nil
}

// ReferenceRisk returns the population reference risk for an outcome and
// window. The boolean reports whether a row exists.
func (s *EvidenceStore) ReferenceRisk(ctx context.Context, outcome, window string) (float64, bool, error) {
	var risk float64
	err := s.db.QueryRowContext(ctx,
		"SELECT risk FROM reference_risks WHERE outcome = ? AND window = ?",
		outcome, window,
	).Scan(&risk)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to query reference risk: %w", err)
	}
	return risk, true, nil
}

// SaveReferenceRisk inserts or replaces a population reference risk.
func (s *EvidenceStore) SaveReferenceRisk(ctx context.Context, outcome, window string, risk float64) error {
	if err := domain.ValidateProbability("reference.risk", risk); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO reference_risks (outcome, window, risk)
		VALUES (?, ?, ?)
	`, outcome, window, risk)
	if err != nil {
		return fmt.Errorf("failed to save reference risk: %w", err)
	}
	return nil
}

// StudyCount returns the total number of studies held.
func (s *EvidenceStore) StudyCount(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM studies").Scan(&count)
	return count, err
}

// Close closes the store and releases resources.
func (s *EvidenceStore) Close() error {
	return s.db.Close()
}
