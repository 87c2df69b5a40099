package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/dgkenn/MeridianV2-sub001/internal/domain"
)

// Manager loads and holds the process configuration using Viper. The
// configuration is read once and treated as read-only afterwards; the
// engines receive their sections by value at construction time.
type Manager struct {
	config *domain.Config
}

// NewManager creates a new configuration manager.
func NewManager() (*Manager, error) {
	m := &Manager{}
	if err := m.loadConfig(); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return m, nil
}

// loadConfig loads configuration from file, environment and defaults.
func (m *Manager) loadConfig() error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/meridian/")

	viper.SetEnvPrefix("MERIDIAN")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	m.setDefaults()

	// Config file is optional; defaults and env vars back every key.
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	config := &domain.Config{}
	if err := viper.Unmarshal(config); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}

	if config.Engine.Meta.ReferenceYear == 0 {
		// Resolved once so recency weighting stays deterministic for the
		// lifetime of the process.
		config.Engine.Meta.ReferenceYear = time.Now().Year()
	}

	m.config = config
	return nil
}

// setDefaults sets default configuration values.
func (m *Manager) setDefaults() {
	// Server defaults
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "30s")
	viper.SetDefault("server.idle_timeout", "120s")

	// Evidence store defaults
	viper.SetDefault("store.path", "data/evidence.db")
	viper.SetDefault("store.cache_size", 512)

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")

	viper.SetDefault("evidence_version", "dev")

	// Meta-analysis defaults
	viper.SetDefault("engine.meta.min_studies", 2)
	viper.SetDefault("engine.meta.half_life_years", 10.0)
	viper.SetDefault("engine.meta.reference_year", 0)
	viper.SetDefault("engine.meta.design_weights", map[string]float64{
		string(domain.RANDOMIZED_TRIAL): 1.0,
		string(domain.PROSPECTIVE):      0.85,
		string(domain.RETROSPECTIVE):    0.70,
	})
	viper.SetDefault("engine.meta.bias_weights", map[string]float64{
		string(domain.LOW_BIAS):  1.0,
		string(domain.SOME_BIAS): 0.80,
		string(domain.HIGH_BIAS): 0.55,
	})
	viper.SetDefault("engine.meta.small_sample_threshold", 200)
	viper.SetDefault("engine.meta.small_sample_penalty", 0.80)
	viper.SetDefault("engine.meta.small_study_count", 10)
	viper.SetDefault("engine.meta.i_squared_threshold", 40.0)
	viper.SetDefault("engine.meta.tau_squared_max", 5.0)
	viper.SetDefault("engine.meta.shrinkage_enabled", true)
	viper.SetDefault("engine.meta.skeptical_prior_sd", 0.50)
	viper.SetDefault("engine.meta.stability_baseline", 0.05)

	// Baseline defaults
	viper.SetDefault("engine.baseline.urgent_multiplier", 1.5)
	viper.SetDefault("engine.baseline.emergency_multiplier", 2.5)
	viper.SetDefault("engine.baseline.fallback_risk_cap", 0.50)
	viper.SetDefault("engine.baseline.fallback_upper_cap", 0.80)
	viper.SetDefault("engine.baseline.synthetic_risk_cap", 0.80)
	viper.SetDefault("engine.baseline.default_reference_risk", 0.01)
	viper.SetDefault("engine.baseline.high_risk_absolute", 0.05)
	viper.SetDefault("engine.baseline.high_risk_delta", 0.02)
	viper.SetDefault("engine.baseline.high_risk_fold", 2.0)

	// Converter defaults
	viper.SetDefault("engine.convert.draws", 5000)
	viper.SetDefault("engine.convert.seed", 42)
	viper.SetDefault("engine.convert.interaction_extension", false)

	// Confidence defaults
	viper.SetDefault("engine.confidence.weights.study_count", 0.20)
	viper.SetDefault("engine.confidence.weights.design_mix", 0.15)
	viper.SetDefault("engine.confidence.weights.bias_quality", 0.15)
	viper.SetDefault("engine.confidence.weights.freshness", 0.10)
	viper.SetDefault("engine.confidence.weights.window_match", 0.10)
	viper.SetDefault("engine.confidence.weights.heterogeneity", 0.15)
	viper.SetDefault("engine.confidence.weights.publication_bias", 0.05)
	viper.SetDefault("engine.confidence.weights.stability", 0.10)
	viper.SetDefault("engine.confidence.grade_a", 80.0)
	viper.SetDefault("engine.confidence.grade_b", 65.0)
	viper.SetDefault("engine.confidence.grade_c", 50.0)
}

// GetConfig returns the complete configuration.
func (m *Manager) GetConfig() *domain.Config {
	return m.config
}

// GetEngineConfig returns the numeric engine configuration.
func (m *Manager) GetEngineConfig() *domain.EngineConfig {
	return &m.config.Engine
}

// GetServerConfig returns server configuration.
func (m *Manager) GetServerConfig() *domain.ServerConfig {
	return &m.config.Server
}

// Validate validates the configuration.
func (m *Manager) Validate() error {
	config := m.config

	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	if config.Store.Path == "" {
		return fmt.Errorf("evidence store path is required")
	}
	if config.Store.CacheSize <= 0 {
		return fmt.Errorf("store cache size must be positive: %d", config.Store.CacheSize)
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(config.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", config.Logging.Level)
	}

	return config.Engine.Validate()
}

// Default returns the built-in configuration without touching the
// filesystem or environment. Used by tests and by callers that embed the
// engine as a library.
func Default() *domain.Config {
	return &domain.Config{
		Server: domain.ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		Store: domain.StoreConfig{
			Path:      "data/evidence.db",
			CacheSize: 512,
		},
		Logging: domain.LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		EvidenceVersion: "dev",
		Engine: domain.EngineConfig{
			Meta: domain.MetaConfig{
				MinStudies:    2,
				HalfLifeYears: 10.0,
				ReferenceYear: time.Now().Year(),
				DesignWeights: map[string]float64{
					string(domain.RANDOMIZED_TRIAL): 1.0,
					string(domain.PROSPECTIVE):      0.85,
					string(domain.RETROSPECTIVE):    0.70,
				},
				BiasWeights: map[string]float64{
					string(domain.LOW_BIAS):  1.0,
					string(domain.SOME_BIAS): 0.80,
					string(domain.HIGH_BIAS): 0.55,
				},
				SmallSampleThreshold: 200,
				SmallSamplePenalty:   0.80,
				SmallStudyCount:      10,
				ISquaredThreshold:    40.0,
				TauSquaredMax:        5.0,
				ShrinkageEnabled:     true,
				SkepticalPriorSD:     0.50,
				StabilityBaseline:    0.05,
			},
			Baseline: domain.BaselineConfig{
				UrgentMultiplier:     1.5,
				EmergencyMultiplier:  2.5,
				FallbackRiskCap:      0.50,
				FallbackUpperCap:     0.80,
				SyntheticRiskCap:     0.80,
				DefaultReferenceRisk: 0.01,
				HighRiskAbsolute:     0.05,
				HighRiskDelta:        0.02,
				HighRiskFold:         2.0,
			},
			Convert: domain.ConvertConfig{
				Draws: 5000,
				Seed:  42,
			},
			Confidence: domain.ConfidenceConfig{
				Weights: domain.ConfidenceWeights{
					StudyCount:      0.20,
					DesignMix:       0.15,
					BiasQuality:     0.15,
					Freshness:       0.10,
					WindowMatch:     0.10,
					Heterogeneity:   0.15,
					PublicationBias: 0.05,
					Stability:       0.10,
				},
				GradeA: 80.0,
				GradeB: 65.0,
				GradeC: 50.0,
			},
		},
	}
}
