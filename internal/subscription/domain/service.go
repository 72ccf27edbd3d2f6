package domain

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
)

type CreateSubscriptionRequest struct {
	CustomerID           string                      `json:"customer_id"`
	PlanVersionID        string                      `json:"plan_version_id"`
	CollectionMethod     string                      `json:"collection_method,omitempty"`
	DefaultPaymentMethod *string                     `json:"default_payment_method,omitempty"`
	Items                []CreateSubscriptionItemReq `json:"items,omitempty"`
}

// CreateSubscriptionItemReq overrides the quantity for one feature of the
// plan version. Features not listed keep their default quantity.
type CreateSubscriptionItemReq struct {
	FeatureSlug string `json:"feature_slug"`
	Quantity    int64  `json:"quantity"`
}

type Service interface {
	Create(context.Context, CreateSubscriptionRequest) (Subscription, error)
	GetActiveByCustomerID(ctx context.Context, customerID snowflake.ID) ([]Subscription, error)
	ResolveFeature(ctx context.Context, customerID snowflake.ID, featureSlug string) (*FeatureEntitlement, error)
	End(ctx context.Context, subscriptionID string) (Subscription, error)
}

var (
	ErrInvalidProject          = errors.New("invalid_project")
	ErrInvalidCustomer         = errors.New("invalid_customer")
	ErrInvalidPlanVersion      = errors.New("invalid_plan_version")
	ErrInvalidQuantity         = errors.New("invalid_quantity")
	ErrCustomerNotFound        = errors.New("customer_not_found")
	ErrPlanVersionNotFound     = errors.New("plan_version_not_found")
	ErrPlanVersionNotPublished = errors.New("plan_version_not_published")
	ErrSubscriptionNotFound    = errors.New("subscription_not_found")
	ErrSubscriptionEnded       = errors.New("subscription_ended")
	ErrFeatureOverlap          = errors.New("feature_overlap")
)

// FeatureOverlapError rejects a create whose plan version grants features the
// customer already holds through another active subscription. It matches
// ErrFeatureOverlap with errors.Is and names the conflicting slugs.
type FeatureOverlapError struct {
	Slugs []string
}

func (e *FeatureOverlapError) Error() string {
	return "feature_overlap: " + strings.Join(e.Slugs, ", ")
}

func (e *FeatureOverlapError) Is(target error) bool {
	return target == ErrFeatureOverlap
}
