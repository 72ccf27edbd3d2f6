package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	subdomain "github.com/planfold/planfold/internal/subscription/domain"
)

type createSubscriptionRequest struct {
	CustomerID           string                      `json:"customer_id"`
	PlanVersionID        string                      `json:"plan_version_id"`
	CollectionMethod     string                      `json:"collection_method,omitempty"`
	DefaultPaymentMethod *string                     `json:"default_payment_method,omitempty"`
	Items                []createSubscriptionItemReq `json:"items,omitempty"`
}

type createSubscriptionItemReq struct {
	FeatureSlug string `json:"feature_slug"`
	Quantity    int64  `json:"quantity"`
}

func (s *Server) CreateSubscription(c *gin.Context) {
	var req createSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	items := make([]subdomain.CreateSubscriptionItemReq, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, subdomain.CreateSubscriptionItemReq{
			FeatureSlug: strings.TrimSpace(item.FeatureSlug),
			Quantity:    item.Quantity,
		})
	}

	resp, err := s.subscriptionSvc.Create(c.Request.Context(), subdomain.CreateSubscriptionRequest{
		CustomerID:           strings.TrimSpace(req.CustomerID),
		PlanVersionID:        strings.TrimSpace(req.PlanVersionID),
		CollectionMethod:     strings.TrimSpace(req.CollectionMethod),
		DefaultPaymentMethod: req.DefaultPaymentMethod,
		Items:                items,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) EndSubscription(c *gin.Context) {
	resp, err := s.subscriptionSvc.End(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func parseSnowflakeParam(raw string) (snowflake.ID, error) {
	return snowflake.ParseString(strings.TrimSpace(raw))
}
