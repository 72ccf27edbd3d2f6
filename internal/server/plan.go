package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	plandomain "github.com/planfold/planfold/internal/plan/domain"
)

type createPlanRequest struct {
	Slug        string  `json:"slug"`
	Title       string  `json:"title"`
	Description *string `json:"description,omitempty"`
}

func (s *Server) CreatePlan(c *gin.Context) {
	var req createPlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.planSvc.CreatePlan(c.Request.Context(), plandomain.CreatePlanRequest{
		Slug:        strings.TrimSpace(req.Slug),
		Title:       strings.TrimSpace(req.Title),
		Description: req.Description,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

type createPlanVersionRequest struct {
	PlanID        string `json:"plan_id"`
	Currency      string `json:"currency"`
	BillingPeriod string `json:"billing_period"`
	TrialDays     int    `json:"trial_days,omitempty"`
}

func (s *Server) CreatePlanVersion(c *gin.Context) {
	var req createPlanVersionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.planSvc.CreateVersion(c.Request.Context(), plandomain.CreateVersionRequest{
		PlanID:        strings.TrimSpace(req.PlanID),
		Currency:      strings.TrimSpace(req.Currency),
		BillingPeriod: strings.TrimSpace(req.BillingPeriod),
		TrialDays:     req.TrialDays,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

type addPlanVersionFeatureRequest struct {
	FeatureSlug     string         `json:"feature_slug"`
	FeatureType     string         `json:"feature_type"`
	Limit           *int64         `json:"limit,omitempty"`
	DefaultQuantity int64          `json:"default_quantity,omitempty"`
	Config          map[string]any `json:"config,omitempty"`
}

func (s *Server) AddPlanVersionFeature(c *gin.Context) {
	var req addPlanVersionFeatureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.planSvc.AddVersionFeature(c.Request.Context(), plandomain.AddVersionFeatureRequest{
		PlanVersionID:   c.Param("id"),
		FeatureSlug:     strings.TrimSpace(req.FeatureSlug),
		FeatureType:     plandomain.FeatureType(strings.TrimSpace(req.FeatureType)),
		Limit:           req.Limit,
		DefaultQuantity: req.DefaultQuantity,
		Config:          req.Config,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) PublishPlanVersion(c *gin.Context) {
	resp, err := s.planSvc.Publish(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetPlanVersion(c *gin.Context) {
	resp, err := s.planSvc.GetVersion(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
