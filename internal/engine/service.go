// Package engine composes the four computation stages into the
// request-facing risk assessment service. The service owns the pooled
// effect cache; everything downstream of it is stateless.
package engine

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"

	"github.com/dgkenn/MeridianV2-sub001/internal/baseline"
	"github.com/dgkenn/MeridianV2-sub001/internal/confidence"
	"github.com/dgkenn/MeridianV2-sub001/internal/convert"
	"github.com/dgkenn/MeridianV2-sub001/internal/domain"
	"github.com/dgkenn/MeridianV2-sub001/internal/meta"
)

// defaultCacheSize bounds the pooled effect cache when the configured
// size is absent. One entry per (factor, outcome, window) triple;
// entries are immutable.
const defaultCacheSize = 4096

// StudySource supplies the raw study records for one triple.
type StudySource interface {
	Studies(ctx context.Context, factor, outcome, window string) ([]domain.Study, error)
}

// RiskService answers RiskQuery requests end to end: baseline
// resolution, per-factor pooling, risk composition and confidence
// grading.
type RiskService struct {
	logger    *logrus.Logger
	pooler    *meta.Engine
	baselines *baseline.Engine
	converter *convert.Converter
	scorer    *confidence.Scorer
	studies   StudySource

	cache *lru.Cache[string, *domain.PooledEffect]

	evidenceVersion string
}

// NewRiskService wires the service from its four engines and the study
// source. All dependencies are injected; the service holds no lazily
// built global state.
func NewRiskService(
	logger *logrus.Logger,
	pooler *meta.Engine,
	baselines *baseline.Engine,
	converter *convert.Converter,
	scorer *confidence.Scorer,
	studies StudySource,
	cacheSize int,
	evidenceVersion string,
) (*RiskService, error) {
	if cacheSize <= 0 {
		cacheSize = defaultCacheSize
	}
	cache, err := lru.New[string, *domain.PooledEffect](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create pooled effect cache: %w", err)
	}

	return &RiskService{
		logger:          logger,
		pooler:          pooler,
		baselines:       baselines,
		converter:       converter,
		scorer:          scorer,
		studies:         studies,
		cache:           cache,
		evidenceVersion: evidenceVersion,
	}, nil
}

// Assess resolves one risk query. Factors with insufficient evidence
// are reported in MissingEvidence rather than failing the request; the
// baseline always resolves thanks to the synthetic fallback.
func (s *RiskService) Assess(ctx context.Context, query *domain.RiskQuery) (*domain.RiskAssessment, error) {
	startTime := time.Now()

	if err := query.Validate(); err != nil {
		return nil, fmt.Errorf("invalid risk query: %w", err)
	}

	requestID := uuid.New().String()
	s.logger.WithFields(logrus.Fields{
		"request_id": requestID,
		"outcome":    query.Outcome,
		"window":     query.Window,
		"factors":    len(query.Factors),
	}).Info("Starting risk assessment")

	base, err := s.baselines.Lookup(ctx, query.Outcome, query.Window, query.AgeBand, query.Surgery, query.Urgency)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve baseline: %w", err)
	}

	effects, missing, err := s.pooledEffects(ctx, query)
	if err != nil {
		return nil, err
	}

	point, lower, upper, err := s.converter.AbsoluteRiskCI(effects, base, query.Factors)
	if err != nil {
		return nil, fmt.Errorf("failed to compose adjusted risk: %w", err)
	}

	diff, err := s.converter.RiskDifference(point, base.Risk)
	if err != nil {
		return nil, fmt.Errorf("failed to derive risk difference: %w", err)
	}

	assessment := &domain.RiskAssessment{
		RequestID:       requestID,
		EvidenceVersion: s.evidenceVersion,
		Query:           *query,
		Baseline:        base,
		AdjustedRisk:    point,
		CILower:         lower,
		CIUpper:         upper,
		Difference:      diff,
		Effects:         effects,
		MissingEvidence: missing,
	}

	// Confidence grades the evidence behind the dominant effect, the
	// one moving the estimate furthest from the baseline.
	if dominant := dominantEffect(effects); dominant != nil {
		breakdown := s.scorer.Score(dominant)
		assessment.Confidence = &breakdown
	}

	s.logger.WithFields(logrus.Fields{
		"request_id":      requestID,
		"baseline_source": base.Source,
		"adjusted_risk":   point,
		"effects":         len(effects),
		"missing":         len(missing),
		"processing_time": time.Since(startTime),
	}).Info("Risk assessment completed")

	return assessment, nil
}

// Baseline resolves a baseline risk without any factor adjustment.
func (s *RiskService) Baseline(ctx context.Context, outcome, window string, age domain.AgeBand, surgery domain.SurgeryType, urgency domain.Urgency) (*domain.BaselineRisk, error) {
	return s.baselines.Lookup(ctx, outcome, window, age, surgery, urgency)
}

// PooledEffect returns the cached synthesis for one triple, pooling on
// a cache miss. A nil effect with nil error means insufficient
// evidence.
func (s *RiskService) PooledEffect(ctx context.Context, factor, outcome, window string) (*domain.PooledEffect, error) {
	key := cacheKey(factor, outcome, window)
	if pe, ok := s.cache.Get(key); ok {
		return pe, nil
	}

	studies, err := s.studies.Studies(ctx, factor, outcome, window)
	if err != nil {
		return nil, fmt.Errorf("failed to load studies for %s: %w", key, err)
	}

	pe, err := s.pooler.Pool(ctx, studies, factor, outcome, window)
	if err != nil {
		return nil, err
	}
	if pe == nil {
		return nil, nil
	}

	s.cache.Add(key, pe)
	return pe, nil
}

// InvalidateCache drops all cached pooled effects. Called after an
// evidence reload.
func (s *RiskService) InvalidateCache() {
	s.cache.Purge()
}

func (s *RiskService) pooledEffects(ctx context.Context, query *domain.RiskQuery) ([]*domain.PooledEffect, []string, error) {
	effects := make([]*domain.PooledEffect, 0, len(query.Factors))
	var missing []string

	for _, factor := range query.Factors {
		pe, err := s.PooledEffect(ctx, factor, query.Outcome, query.Window)
		if err != nil {
			return nil, nil, err
		}
		if pe == nil {
			missing = append(missing, factor)
			continue
		}
		effects = append(effects, pe)
	}
	return effects, missing, nil
}

func dominantEffect(effects []*domain.PooledEffect) *domain.PooledEffect {
	var dominant *domain.PooledEffect
	var maxAbs float64
	for _, pe := range effects {
		logEff, _ := pe.EffectiveLogEffect()
		if abs := math.Abs(logEff); dominant == nil || abs > maxAbs {
			dominant = pe
			maxAbs = abs
		}
	}
	return dominant
}

func cacheKey(factor, outcome, window string) string {
	return strings.Join([]string{factor, outcome, window}, "|")
}
