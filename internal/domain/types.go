// Package domain contains the core business entities for perioperative
// evidence synthesis: study records, pooled effect sizes, stratified
// baseline risks and evidence-confidence breakdowns.
//
// All probability-valued fields in this package are expected to lie
// strictly inside (0,1); validation helpers enforce this at the edges of
// the pipeline so the numeric engines can assume well-formed input.
package domain

import (
	"errors"
	"fmt"
)

// EffectMeasure identifies the scale a study reported its effect on.
// Only ratio measures are supported; the pooling engine works on the log
// scale and treats the three measures identically once transformed.
type EffectMeasure string

const (
	ODDS_RATIO    EffectMeasure = "OR"
	RELATIVE_RISK EffectMeasure = "RR"
	HAZARD_RATIO  EffectMeasure = "HR"
)

// StudyDesign classifies the design of a contributing study.
// Designs are weighted RCT > prospective > retrospective during pooling
// and confidence scoring.
type StudyDesign string

const (
	RANDOMIZED_TRIAL StudyDesign = "RCT"
	PROSPECTIVE      StudyDesign = "PROSPECTIVE"
	RETROSPECTIVE    StudyDesign = "RETROSPECTIVE"
)

// BiasRisk classifies the risk-of-bias assessment of a study.
type BiasRisk string

const (
	LOW_BIAS  BiasRisk = "LOW"
	SOME_BIAS BiasRisk = "SOME"
	HIGH_BIAS BiasRisk = "HIGH"
)

// Urgency classifies the scheduling urgency of a surgical case.
type Urgency string

const (
	ELECTIVE  Urgency = "ELECTIVE"
	URGENT    Urgency = "URGENT"
	EMERGENCY Urgency = "EMERGENCY"
)

// AgeBand identifies a patient age stratum. AgeBandChain defines the
// ordered adjacency used by the baseline fallback when an exact stratum
// is missing; the chain is cyclic at its boundaries.
type AgeBand string

const (
	NEONATE    AgeBand = "NEONATE"
	INFANT     AgeBand = "INFANT"
	TODDLER    AgeBand = "TODDLER"
	CHILD      AgeBand = "CHILD"
	ADOLESCENT AgeBand = "ADOLESCENT"
	ADULT      AgeBand = "ADULT"
	ELDERLY    AgeBand = "ELDERLY"
)

// AgeBandChain is the fixed youngest-to-oldest ordering used for
// nearest-neighbour fallback.
var AgeBandChain = []AgeBand{NEONATE, INFANT, TODDLER, CHILD, ADOLESCENT, ADULT, ELDERLY}

// SurgeryType identifies a surgical specialty stratum.
type SurgeryType string

const (
	DENTAL     SurgeryType = "DENTAL"
	OPHTHALMIC SurgeryType = "OPHTHALMIC"
	ENT        SurgeryType = "ENT"
	GENERAL    SurgeryType = "GENERAL"
	ORTHOPEDIC SurgeryType = "ORTHOPEDIC"
	NEURO      SurgeryType = "NEURO"
	CARDIAC    SurgeryType = "CARDIAC"
	TRANSPLANT SurgeryType = "TRANSPLANT"
)

// Grade is the letter summary of evidence confidence behind a pooled effect.
type Grade string

const (
	GRADE_A Grade = "A"
	GRADE_B Grade = "B"
	GRADE_C Grade = "C"
	GRADE_D Grade = "D"
)

// Validation errors shared across the engines.
var (
	ErrUnsupportedMeasure = errors.New("unsupported effect measure")
	ErrNonPositiveEffect  = errors.New("effect value must be positive")
	ErrProbabilityRange   = errors.New("probability must be strictly within (0,1)")
	ErrMissingVariance    = errors.New("study carries no standard error, interval or 2x2 counts")
)

// IsValid reports whether the measure is one of the supported ratio scales.
func (m EffectMeasure) IsValid() bool {
	switch m {
	case ODDS_RATIO, RELATIVE_RISK, HAZARD_RATIO:
		return true
	default:
		return false
	}
}

// String returns the wire representation of the measure.
func (m EffectMeasure) String() string { return string(m) }

// IsValid reports whether the design is a recognised class.
func (d StudyDesign) IsValid() bool {
	switch d {
	case RANDOMIZED_TRIAL, PROSPECTIVE, RETROSPECTIVE:
		return true
	default:
		return false
	}
}

// IsValid reports whether the bias class is recognised.
func (b BiasRisk) IsValid() bool {
	switch b {
	case LOW_BIAS, SOME_BIAS, HIGH_BIAS:
		return true
	default:
		return false
	}
}

// IsValid reports whether the urgency is recognised.
func (u Urgency) IsValid() bool {
	switch u {
	case ELECTIVE, URGENT, EMERGENCY:
		return true
	default:
		return false
	}
}

// IsValid reports whether the age band belongs to the adjacency chain.
func (a AgeBand) IsValid() bool {
	for _, b := range AgeBandChain {
		if a == b {
			return true
		}
	}
	return false
}

// IsValid reports whether the surgery type is recognised.
func (s SurgeryType) IsValid() bool {
	switch s {
	case DENTAL, OPHTHALMIC, ENT, GENERAL, ORTHOPEDIC, NEURO, CARDIAC, TRANSPLANT:
		return true
	default:
		return false
	}
}

// String returns the letter grade.
func (g Grade) String() string { return string(g) }

// ValidateProbability rejects values outside the open unit interval.
// Used by every component that accepts a probability from a caller.
func ValidateProbability(field string, p float64) error {
	if p <= 0 || p >= 1 {
		return &ValidationError{Field: field, Message: ErrProbabilityRange.Error(), Value: p}
	}
	return nil
}

// ValidationError represents a rejected input field. Input validation
// failures are raised synchronously to callers and never coerced.
type ValidationError struct {
	Field   string      `json:"field"`
	Message string      `json:"message"`
	Value   interface{} `json:"value"`
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field, message string, value interface{}) *ValidationError {
	return &ValidationError{Field: field, Message: message, Value: value}
}
