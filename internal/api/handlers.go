package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/dgkenn/MeridianV2-sub001/internal/domain"
)

// handleHealth handles health check requests
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now(),
	})
}

// handleRiskAssessment resolves a full risk query: baseline, pooled
// effect composition, interval and confidence grade.
func (s *Server) handleRiskAssessment(c *gin.Context) {
	var query domain.RiskQuery
	if err := c.ShouldBindJSON(&query); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	assessment, err := s.service.Assess(c.Request.Context(), &query)
	if err != nil {
		var vErr *domain.ValidationError
		if errors.As(err, &vErr) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		s.logger.WithError(err).Error("Risk assessment failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "risk assessment failed"})
		return
	}

	c.JSON(http.StatusOK, assessment)
}

// handleBaseline resolves just the baseline risk for a stratum.
func (s *Server) handleBaseline(c *gin.Context) {
	query := domain.RiskQuery{
		Outcome: c.Query("outcome"),
		Window:  c.Query("window"),
		AgeBand: domain.AgeBand(c.Query("age_band")),
		Surgery: domain.SurgeryType(c.Query("surgery")),
		Urgency: domain.Urgency(c.Query("urgency")),
	}
	if err := query.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	base, err := s.service.Baseline(c.Request.Context(), query.Outcome, query.Window, query.AgeBand, query.Surgery, query.Urgency)
	if err != nil {
		s.logger.WithError(err).Error("Baseline lookup failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "baseline lookup failed"})
		return
	}

	c.JSON(http.StatusOK, base)
}

// handlePooledEffect returns the pooled synthesis for one
// (factor, outcome, window) triple.
func (s *Server) handlePooledEffect(c *gin.Context) {
	factor := c.Query("factor")
	outcome := c.Query("outcome")
	window := c.Query("window")
	if factor == "" || outcome == "" || window == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "factor, outcome and window are required"})
		return
	}

	pe, err := s.service.PooledEffect(c.Request.Context(), factor, outcome, window)
	if err != nil {
		s.logger.WithError(err).Error("Pooling failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "pooling failed"})
		return
	}
	if pe == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "insufficient evidence for requested triple"})
		return
	}

	c.JSON(http.StatusOK, pe)
}
