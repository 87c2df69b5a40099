// Package riskmath provides pure, validated conversions between effect
// measures and probability scales. Every function is deterministic, free
// of I/O and safe for concurrent use; out-of-domain inputs are rejected
// with an explicit error rather than coerced.
package riskmath

import (
	"errors"
	"fmt"
	"math"
)

// Domain errors for conversion inputs.
var (
	ErrProbabilityRange = errors.New("probability must be strictly within (0,1)")
	ErrNonPositiveRatio = errors.New("ratio must be positive")
	ErrNonPositiveOdds  = errors.New("odds must be positive")
)

// ProbToOdds converts a probability to odds. p must lie strictly in (0,1).
func ProbToOdds(p float64) (float64, error) {
	if !validProb(p) {
		return 0, fmt.Errorf("prob_to_odds: %w: %v", ErrProbabilityRange, p)
	}
	return p / (1 - p), nil
}

// OddsToProb converts odds back to a probability. odds must be positive.
func OddsToProb(odds float64) (float64, error) {
	if odds <= 0 || math.IsInf(odds, 0) || math.IsNaN(odds) {
		return 0, fmt.Errorf("odds_to_prob: %w: %v", ErrNonPositiveOdds, odds)
	}
	return odds / (1 + odds), nil
}

// ORToRR converts an odds ratio to a relative risk given the baseline
// (unexposed) risk p0.
//
//	RR = OR / (1 - p0 + p0*OR)
func ORToRR(or, p0 float64) (float64, error) {
	if or <= 0 || math.IsNaN(or) {
		return 0, fmt.Errorf("or_to_rr: %w: %v", ErrNonPositiveRatio, or)
	}
	if !validProb(p0) {
		return 0, fmt.Errorf("or_to_rr: baseline %w: %v", ErrProbabilityRange, p0)
	}
	return or / (1 - p0 + p0*or), nil
}

// RRToOR converts a relative risk to an odds ratio given the baseline
// (unexposed) risk p0. The exposed risk rr*p0 must remain below 1.
func RRToOR(rr, p0 float64) (float64, error) {
	if rr <= 0 || math.IsNaN(rr) {
		return 0, fmt.Errorf("rr_to_or: %w: %v", ErrNonPositiveRatio, rr)
	}
	if !validProb(p0) {
		return 0, fmt.Errorf("rr_to_or: baseline %w: %v", ErrProbabilityRange, p0)
	}
	p1 := rr * p0
	if p1 >= 1 {
		return 0, fmt.Errorf("rr_to_or: exposed risk %w: %v", ErrProbabilityRange, p1)
	}
	return (p1 / (1 - p1)) / (p0 / (1 - p0)), nil
}

// LogORToProb applies a log odds-ratio to a baseline probability and
// returns the adjusted probability.
func LogORToProb(logOR, baseline float64) (float64, error) {
	if !validProb(baseline) {
		return 0, fmt.Errorf("log_or_to_prob: baseline %w: %v", ErrProbabilityRange, baseline)
	}
	if math.IsNaN(logOR) || math.IsInf(logOR, 0) {
		return 0, fmt.Errorf("log_or_to_prob: log effect is not finite: %v", logOR)
	}
	odds := baseline / (1 - baseline) * math.Exp(logOR)
	if math.IsInf(odds, 0) {
		return 0, fmt.Errorf("log_or_to_prob: adjusted odds overflow for log effect %v", logOR)
	}
	return odds / (1 + odds), nil
}

// Logit maps a probability to the log-odds scale.
func Logit(p float64) (float64, error) {
	if !validProb(p) {
		return 0, fmt.Errorf("logit: %w: %v", ErrProbabilityRange, p)
	}
	return math.Log(p / (1 - p)), nil
}

// InvLogit maps a log-odds value back to a probability. Defined for all
// finite inputs.
func InvLogit(x float64) float64 {
	if x >= 0 {
		return 1 / (1 + math.Exp(-x))
	}
	e := math.Exp(x)
	return e / (1 + e)
}

func validProb(p float64) bool {
	return p > 0 && p < 1 && !math.IsNaN(p)
}
