package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/planfold/planfold/internal/analytics"
	entdomain "github.com/planfold/planfold/internal/entitlement/domain"
	"github.com/planfold/planfold/internal/projectcontext"
	"go.uber.org/zap"
)

func (s *Server) VerifyFeature(c *gin.Context) {
	var req entdomain.VerifyFeatureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.entitlementSvc.VerifyFeature(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ReportUsage(c *gin.Context) {
	var req entdomain.ReportUsageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	if s.usageLimiter.Enabled() {
		allowed, err := s.usageLimiter.AllowCustomer(c.Request.Context(), req.CustomerID)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		if !allowed {
			AbortWithError(c, ErrTooManyRequests)
			return
		}

		// Serialize reports per customer and feature so concurrent
		// increments against the same counter queue up at the edge.
		token, locked, err := s.usageLimiter.TryLockCustomerFeature(c.Request.Context(), req.CustomerID, req.FeatureSlug)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		if !locked {
			AbortWithError(c, ErrTooManyRequests)
			return
		}
		defer func() {
			if err := s.usageLimiter.ReleaseCustomerFeature(c.Request.Context(), req.CustomerID, req.FeatureSlug, token); err != nil {
				s.log.Warn("usage report lock release failed", zap.Error(err))
			}
		}()
	}

	resp, err := s.entitlementSvc.ReportUsage(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

// GetFeatureUsage proxies aggregated per-period usage from the analytics
// backend.
func (s *Server) GetFeatureUsage(c *gin.Context) {
	projectID, _ := projectcontext.ProjectIDFromContext(c.Request.Context())

	customerID := strings.TrimSpace(c.Query("customer_id"))
	featureSlug := strings.TrimSpace(c.Query("feature_slug"))
	if customerID == "" || featureSlug == "" {
		AbortWithError(c, invalidRequestError())
		return
	}

	month, _ := strconv.Atoi(c.Query("month"))
	year, _ := strconv.Atoi(c.Query("year"))

	usages, err := s.sink.GetUsageFeature(c.Request.Context(), analytics.FeatureUsageQuery{
		ProjectID:   projectID.String(),
		CustomerID:  customerID,
		FeatureSlug: featureSlug,
		Month:       month,
		Year:        year,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": usages})
}
