package domain

import (
	"fmt"
	"math"
	"time"
)

// Config represents the main application configuration. Loaded once per
// process lifetime and treated as read-only afterwards; every engine
// receives the section it needs at construction time.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Store   StoreConfig   `mapstructure:"store"`
	Logging LoggingConfig `mapstructure:"logging"`
	Engine  EngineConfig  `mapstructure:"engine"`

	// EvidenceVersion is an opaque provenance tag stamped onto every
	// assessment.
	EvidenceVersion string `mapstructure:"evidence_version"`
}

// ServerConfig represents HTTP server configuration.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// StoreConfig represents the embedded evidence store configuration.
type StoreConfig struct {
	Path string `mapstructure:"path"`

	// CacheSize bounds the in-process LRU of pooled effects.
	CacheSize int `mapstructure:"cache_size"`
}

// LoggingConfig represents logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// EngineConfig groups the numeric parameters of the four engines.
type EngineConfig struct {
	Meta       MetaConfig       `mapstructure:"meta"`
	Baseline   BaselineConfig   `mapstructure:"baseline"`
	Convert    ConvertConfig    `mapstructure:"convert"`
	Confidence ConfidenceConfig `mapstructure:"confidence"`
}

// MetaConfig parameterises the meta-analysis engine.
type MetaConfig struct {
	// MinStudies is the minimum study count below which pooling reports
	// insufficient evidence.
	MinStudies int `mapstructure:"min_studies"`

	// HalfLifeYears controls the exponential temporal-recency decay.
	HalfLifeYears float64 `mapstructure:"half_life_years"`

	// ReferenceYear anchors recency; zero means the current year,
	// resolved once at configuration load so pooling stays deterministic
	// within a process lifetime.
	ReferenceYear int `mapstructure:"reference_year"`

	DesignWeights map[string]float64 `mapstructure:"design_weights"`
	BiasWeights   map[string]float64 `mapstructure:"bias_weights"`

	// Studies below SmallSampleThreshold subjects receive the fixed
	// SmallSamplePenalty discount on their composite weight.
	SmallSampleThreshold int     `mapstructure:"small_sample_threshold"`
	SmallSamplePenalty   float64 `mapstructure:"small_sample_penalty"`

	// Variance inflation triggers: study count below SmallStudyCount or
	// I-squared above ISquaredThreshold.
	SmallStudyCount   int     `mapstructure:"small_study_count"`
	ISquaredThreshold float64 `mapstructure:"i_squared_threshold"`

	// TauSquaredMax bounds the between-study variance search.
	TauSquaredMax float64 `mapstructure:"tau_squared_max"`

	// Shrinkage against a zero-mean skeptical prior.
	ShrinkageEnabled bool    `mapstructure:"shrinkage_enabled"`
	SkepticalPriorSD float64 `mapstructure:"skeptical_prior_sd"`

	// StabilityBaseline is the fixed reference risk used when converting
	// leave-one-out estimates to absolute percentage points.
	StabilityBaseline float64 `mapstructure:"stability_baseline"`
}

// BaselineConfig parameterises the baseline-risk engine.
type BaselineConfig struct {
	UrgentMultiplier    float64 `mapstructure:"urgent_multiplier"`
	EmergencyMultiplier float64 `mapstructure:"emergency_multiplier"`

	// Absolute caps applied during urgency fallback.
	FallbackRiskCap  float64 `mapstructure:"fallback_risk_cap"`
	FallbackUpperCap float64 `mapstructure:"fallback_upper_cap"`

	// SyntheticRiskCap bounds the fully synthetic estimate.
	SyntheticRiskCap float64 `mapstructure:"synthetic_risk_cap"`

	// DefaultReferenceRisk is used when the store has no population
	// reference for an outcome.
	DefaultReferenceRisk float64 `mapstructure:"default_reference_risk"`

	// High-risk flag thresholds, evaluated with OR semantics.
	HighRiskAbsolute float64 `mapstructure:"high_risk_absolute"`
	HighRiskDelta    float64 `mapstructure:"high_risk_delta"`
	HighRiskFold     float64 `mapstructure:"high_risk_fold"`
}

// ConvertConfig parameterises the risk converter.
type ConvertConfig struct {
	Draws int   `mapstructure:"draws"`
	Seed  int64 `mapstructure:"seed"`

	// InteractionExtension is an acknowledged extension point: when set,
	// a future build may consult explicit interaction-pair effects
	// instead of summing per-factor log-effects independently. It is a
	// no-op today and the independence assumption stands.
	InteractionExtension bool `mapstructure:"interaction_extension"`
}

// ConfidenceConfig parameterises the confidence scorer.
type ConfidenceConfig struct {
	Weights ConfidenceWeights `mapstructure:"weights"`

	// Letter-grade thresholds on the 0-100 total; D is the residual.
	GradeA float64 `mapstructure:"grade_a"`
	GradeB float64 `mapstructure:"grade_b"`
	GradeC float64 `mapstructure:"grade_c"`
}

// ConfidenceWeights is the component weight vector. Weights must be
// non-negative and sum to 1.0 within 1e-6, validated at load.
type ConfidenceWeights struct {
	StudyCount      float64 `mapstructure:"study_count"`
	DesignMix       float64 `mapstructure:"design_mix"`
	BiasQuality     float64 `mapstructure:"bias_quality"`
	Freshness       float64 `mapstructure:"freshness"`
	WindowMatch     float64 `mapstructure:"window_match"`
	Heterogeneity   float64 `mapstructure:"heterogeneity"`
	PublicationBias float64 `mapstructure:"publication_bias"`
	Stability       float64 `mapstructure:"stability"`
}

// Sum returns the total mass of the weight vector.
func (w ConfidenceWeights) Sum() float64 {
	return w.StudyCount + w.DesignMix + w.BiasQuality + w.Freshness +
		w.WindowMatch + w.Heterogeneity + w.PublicationBias + w.Stability
}

// Components returns the weights in their canonical scoring order.
func (w ConfidenceWeights) Components() []float64 {
	return []float64{
		w.StudyCount, w.DesignMix, w.BiasQuality, w.Freshness,
		w.WindowMatch, w.Heterogeneity, w.PublicationBias, w.Stability,
	}
}

// WeightSumTolerance is the accepted deviation of the confidence weight
// vector from unit mass.
const WeightSumTolerance = 1e-6

// Validate enforces the numeric invariants of the engine configuration.
func (c *EngineConfig) Validate() error {
	m := c.Meta
	if m.MinStudies < 1 {
		return fmt.Errorf("engine config: meta.min_studies must be at least 1, got %d", m.MinStudies)
	}
	if m.HalfLifeYears <= 0 {
		return fmt.Errorf("engine config: meta.half_life_years must be positive, got %v", m.HalfLifeYears)
	}
	if m.SmallSamplePenalty <= 0 || m.SmallSamplePenalty > 1 {
		return fmt.Errorf("engine config: meta.small_sample_penalty must be in (0,1], got %v", m.SmallSamplePenalty)
	}
	if m.ISquaredThreshold < 0 || m.ISquaredThreshold > 100 {
		return fmt.Errorf("engine config: meta.i_squared_threshold must be in [0,100], got %v", m.ISquaredThreshold)
	}
	if m.TauSquaredMax <= 0 {
		return fmt.Errorf("engine config: meta.tau_squared_max must be positive, got %v", m.TauSquaredMax)
	}
	if m.ShrinkageEnabled && m.SkepticalPriorSD <= 0 {
		return fmt.Errorf("engine config: meta.skeptical_prior_sd must be positive when shrinkage is enabled")
	}
	if err := ValidateProbability("meta.stability_baseline", m.StabilityBaseline); err != nil {
		return err
	}
	for class, weight := range m.DesignWeights {
		if weight <= 0 {
			return fmt.Errorf("engine config: design weight for %q must be positive, got %v", class, weight)
		}
	}
	for class, weight := range m.BiasWeights {
		if weight <= 0 {
			return fmt.Errorf("engine config: bias weight for %q must be positive, got %v", class, weight)
		}
	}

	b := c.Baseline
	if b.UrgentMultiplier < 1 || b.EmergencyMultiplier < b.UrgentMultiplier {
		return fmt.Errorf("engine config: urgency multipliers must satisfy 1 <= urgent <= emergency")
	}
	for field, p := range map[string]float64{
		"baseline.fallback_risk_cap":      b.FallbackRiskCap,
		"baseline.fallback_upper_cap":     b.FallbackUpperCap,
		"baseline.synthetic_risk_cap":     b.SyntheticRiskCap,
		"baseline.default_reference_risk": b.DefaultReferenceRisk,
		"baseline.high_risk_absolute":     b.HighRiskAbsolute,
		"baseline.high_risk_delta":        b.HighRiskDelta,
	} {
		if err := ValidateProbability(field, p); err != nil {
			return err
		}
	}
	if b.HighRiskFold <= 1 {
		return fmt.Errorf("engine config: baseline.high_risk_fold must exceed 1, got %v", b.HighRiskFold)
	}

	if c.Convert.Draws <= 0 {
		return fmt.Errorf("engine config: convert.draws must be positive, got %d", c.Convert.Draws)
	}

	cf := c.Confidence
	for _, w := range cf.Weights.Components() {
		if w < 0 {
			return fmt.Errorf("engine config: confidence weights must be non-negative")
		}
	}
	if math.Abs(cf.Weights.Sum()-1.0) > WeightSumTolerance {
		return fmt.Errorf("engine config: confidence weights must sum to 1.0 within %v, got %v",
			WeightSumTolerance, cf.Weights.Sum())
	}
	if !(cf.GradeA > cf.GradeB && cf.GradeB > cf.GradeC) {
		return fmt.Errorf("engine config: grade thresholds must be strictly decreasing A > B > C")
	}
	if cf.GradeA > 100 || cf.GradeC < 0 {
		return fmt.Errorf("engine config: grade thresholds must lie within [0,100]")
	}

	return nil
}
