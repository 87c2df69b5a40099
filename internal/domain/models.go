package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// Study is one literature-derived effect observation for a single
// (outcome, time-window, risk-factor) combination. Studies are immutable
// once ingested; the evidence store owns the records and the engines only
// read them.
type Study struct {
	ID         string      `json:"id"`
	Design     StudyDesign `json:"design"`
	Bias       BiasRisk    `json:"bias"`
	Year       int         `json:"year"`
	Population string      `json:"population"`

	Outcome string `json:"outcome"`
	Window  string `json:"window"`
	Factor  string `json:"factor"`

	Measure EffectMeasure `json:"measure"`
	Effect  float64       `json:"effect"`

	// Uncertainty, in order of preference: explicit log-scale standard
	// error, a reported confidence interval on the ratio scale, or 2x2
	// event counts from which a variance can be derived.
	StdErr  float64 `json:"std_err,omitempty"`
	CILower float64 `json:"ci_lower,omitempty"`
	CIUpper float64 `json:"ci_upper,omitempty"`

	EventsExposed  int `json:"events_exposed,omitempty"`
	TotalExposed   int `json:"total_exposed,omitempty"`
	EventsControl  int `json:"events_control,omitempty"`
	TotalControl   int `json:"total_control,omitempty"`

	Adjusted bool `json:"adjusted"`
}

// SampleSize returns the total number of subjects across both arms.
func (s *Study) SampleSize() int {
	return s.TotalExposed + s.TotalControl
}

// Validate ensures a study carries everything the pooling engine needs.
// Malformed measures and non-positive effects are hard input failures.
func (s *Study) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("study validation: %w", errors.New("ID is required"))
	}
	if !s.Measure.IsValid() {
		return fmt.Errorf("study %s validation: %w: %q", s.ID, ErrUnsupportedMeasure, s.Measure)
	}
	if s.Effect <= 0 {
		return fmt.Errorf("study %s validation: %w: %v", s.ID, ErrNonPositiveEffect, s.Effect)
	}
	if !s.Design.IsValid() {
		return fmt.Errorf("study %s validation: invalid design %q", s.ID, s.Design)
	}
	if !s.Bias.IsValid() {
		return fmt.Errorf("study %s validation: invalid bias class %q", s.ID, s.Bias)
	}
	if s.CILower != 0 && s.CIUpper != 0 && s.CIUpper <= s.CILower {
		return fmt.Errorf("study %s validation: interval upper bound must exceed lower bound", s.ID)
	}
	return nil
}

// TauEstimator names the estimator that produced a pooled effect's
// between-study variance. Carried on the PooledEffect so every consumer
// can tell whether the likelihood search converged or the moment-based
// fallback was used.
type TauEstimator string

const (
	TAU_PROFILE_LIKELIHOOD TauEstimator = "PROFILE_LIKELIHOOD"
	TAU_DERSIMONIAN_LAIRD  TauEstimator = "DERSIMONIAN_LAIRD"
)

// PooledEffect is the synthesis of one-or-more studies for a fixed
// (risk-factor, outcome, time-window) triple. Immutable after creation;
// long-lived and cached across requests for the same triple.
type PooledEffect struct {
	Factor  string `json:"factor"`
	Outcome string `json:"outcome"`
	Window  string `json:"window"`

	LogEffect float64 `json:"log_effect"`
	StdErr    float64 `json:"std_err"`

	// Bayesian-shrunk variant against a zero-mean skeptical prior.
	// Populated only when shrinkage is enabled in configuration.
	HasShrunk       bool    `json:"has_shrunk"`
	ShrunkLogEffect float64 `json:"shrunk_log_effect,omitempty"`
	ShrunkStdErr    float64 `json:"shrunk_std_err,omitempty"`

	StudyCount int `json:"study_count"`

	TauSquared   float64      `json:"tau_squared"`
	ISquared     float64      `json:"i_squared"`
	Q            float64      `json:"q"`
	HetPValue    float64      `json:"het_p_value"`
	TauEstimator TauEstimator `json:"tau_estimator"`

	// VarianceInflated records whether the small-study variance
	// correction was applied to StdErr.
	VarianceInflated bool `json:"variance_inflated"`

	// Funnel-asymmetry diagnostics. EggerPValue is nil when fewer than
	// ten studies were available and the test was not run. The imputed
	// count is advisory metadata, never a correction to the estimate.
	EggerPValue    *float64 `json:"egger_p_value,omitempty"`
	ImputedStudies int      `json:"imputed_studies"`

	// StabilityDeltaPP is the maximum absolute percentage-point swing in
	// derived risk (against a fixed 5% reference baseline) when any one
	// study is removed.
	StabilityDeltaPP float64 `json:"stability_delta_pp"`

	TotalWeight float64 `json:"total_weight"`

	// Constituent studies, kept for provenance. Invariant: StudyCount
	// always equals len(Studies).
	Studies []Study `json:"studies"`
}

// EffectiveLogEffect returns the shrunk estimate when present, otherwise
// the raw pooled estimate.
func (p *PooledEffect) EffectiveLogEffect() (logEffect, stdErr float64) {
	if p.HasShrunk {
		return p.ShrunkLogEffect, p.ShrunkStdErr
	}
	return p.LogEffect, p.StdErr
}

// BaselineRisk is the unconditional risk of an outcome for one
// (outcome, window, age-band, surgery-type, urgency) stratum, before any
// risk-factor adjustment.
type BaselineRisk struct {
	Outcome string      `json:"outcome"`
	Window  string      `json:"window"`
	AgeBand AgeBand     `json:"age_band"`
	Surgery SurgeryType `json:"surgery"`
	Urgency Urgency     `json:"urgency"`

	Risk        float64 `json:"risk"`
	HasInterval bool    `json:"has_interval"`
	Lower       float64 `json:"lower,omitempty"`
	Upper       float64 `json:"upper,omitempty"`

	// Comparison against the population reference for the outcome.
	ReferenceRisk float64 `json:"reference_risk"`
	AbsoluteDiff  float64 `json:"absolute_diff"`
	FoldDiff      float64 `json:"fold_diff"`

	// Sample provenance. Era is "synthetic" for model-derived baselines.
	PatientCount int    `json:"patient_count"`
	EventCount   int    `json:"event_count"`
	Era          string `json:"era"`

	// Source names the fallback tier that produced the estimate.
	Source string `json:"source"`

	IsHighRisk bool `json:"is_high_risk"`
}

// Baseline resolution tiers, first match wins.
const (
	SOURCE_EXACT           = "exact"
	SOURCE_URGENCY         = "urgency-fallback"
	SOURCE_AGE_ADJACENT    = "age-adjacent"
	SOURCE_SIMILAR_SURGERY = "similar-surgery"
	SOURCE_SYNTHETIC       = "synthetic"
)

// EraSynthetic marks baselines derived from the multiplicative model
// rather than curated registry data.
const EraSynthetic = "synthetic"

// BaselineStratum is one curated registry row as held by the evidence
// store; the baseline engine turns strata into BaselineRisk values.
type BaselineStratum struct {
	Outcome string      `json:"outcome"`
	Window  string      `json:"window"`
	AgeBand AgeBand     `json:"age_band"`
	Surgery SurgeryType `json:"surgery"`
	Urgency Urgency     `json:"urgency"`

	Risk        float64 `json:"risk"`
	HasInterval bool    `json:"has_interval"`
	Lower       float64 `json:"lower,omitempty"`
	Upper       float64 `json:"upper,omitempty"`

	PatientCount int    `json:"patient_count"`
	EventCount   int    `json:"event_count"`
	Era          string `json:"era"`
}

// ConfidenceBreakdown holds the eight component scores in [0,1], the
// weighted 0-100 total and the derived letter grade. Purely derived from
// a PooledEffect, never persisted on its own.
type ConfidenceBreakdown struct {
	StudyCount      float64 `json:"study_count"`
	DesignMix       float64 `json:"design_mix"`
	BiasQuality     float64 `json:"bias_quality"`
	Freshness       float64 `json:"freshness"`
	WindowMatch     float64 `json:"window_match"`
	Heterogeneity   float64 `json:"heterogeneity"`
	PublicationBias float64 `json:"publication_bias"`
	Stability       float64 `json:"stability"`

	Total float64 `json:"total"`
	Grade Grade   `json:"grade"`
}

// RiskDifference carries the derived absolute-risk metrics for an
// adjusted estimate versus its baseline. NNH is +Inf when the adjusted
// risk does not exceed the baseline.
type RiskDifference struct {
	AbsoluteIncreasePP float64 `json:"absolute_increase_pp"`
	RelativeRisk       float64 `json:"relative_risk"`
	NumberNeededToHarm float64 `json:"number_needed_to_harm"`
}

type riskDifferenceJSON struct {
	AbsoluteIncreasePP float64  `json:"absolute_increase_pp"`
	RelativeRisk       float64  `json:"relative_risk"`
	NumberNeededToHarm *float64 `json:"number_needed_to_harm"`
}

// MarshalJSON renders an infinite NNH as null, since IEEE infinities
// have no JSON representation.
func (d RiskDifference) MarshalJSON() ([]byte, error) {
	out := riskDifferenceJSON{
		AbsoluteIncreasePP: d.AbsoluteIncreasePP,
		RelativeRisk:       d.RelativeRisk,
	}
	if !math.IsInf(d.NumberNeededToHarm, 0) {
		nnh := d.NumberNeededToHarm
		out.NumberNeededToHarm = &nnh
	}
	return json.Marshal(out)
}

// UnmarshalJSON restores a null NNH to +Inf.
func (d *RiskDifference) UnmarshalJSON(data []byte) error {
	var in riskDifferenceJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	d.AbsoluteIncreasePP = in.AbsoluteIncreasePP
	d.RelativeRisk = in.RelativeRisk
	if in.NumberNeededToHarm != nil {
		d.NumberNeededToHarm = *in.NumberNeededToHarm
	} else {
		d.NumberNeededToHarm = math.Inf(1)
	}
	return nil
}

// RiskQuery is one caller request for an adjusted risk estimate.
type RiskQuery struct {
	Outcome string      `json:"outcome"`
	Window  string      `json:"window"`
	AgeBand AgeBand     `json:"age_band"`
	Surgery SurgeryType `json:"surgery"`
	Urgency Urgency     `json:"urgency"`
	Factors []string    `json:"factors"`
}

// Validate rejects queries with unknown strata tokens.
func (q *RiskQuery) Validate() error {
	if q.Outcome == "" {
		return NewValidationError("outcome", "outcome is required", q.Outcome)
	}
	if q.Window == "" {
		return NewValidationError("window", "time window is required", q.Window)
	}
	if !q.AgeBand.IsValid() {
		return NewValidationError("age_band", "unknown age band", q.AgeBand)
	}
	if !q.Surgery.IsValid() {
		return NewValidationError("surgery", "unknown surgery type", q.Surgery)
	}
	if !q.Urgency.IsValid() {
		return NewValidationError("urgency", "unknown urgency", q.Urgency)
	}
	return nil
}

// RiskAssessment is the assembled answer to a RiskQuery: the resolved
// baseline, the adjusted risk with its simulated interval, the derived
// difference metrics and the confidence grading of the dominant effect.
type RiskAssessment struct {
	RequestID       string `json:"request_id"`
	EvidenceVersion string `json:"evidence_version"`

	Query    RiskQuery     `json:"query"`
	Baseline *BaselineRisk `json:"baseline"`

	AdjustedRisk float64 `json:"adjusted_risk"`
	CILower      float64 `json:"ci_lower"`
	CIUpper      float64 `json:"ci_upper"`

	Difference RiskDifference `json:"difference"`

	Effects []*PooledEffect `json:"effects"`

	// Factors for which pooling returned insufficient evidence.
	MissingEvidence []string `json:"missing_evidence,omitempty"`

	Confidence *ConfidenceBreakdown `json:"confidence,omitempty"`
}
