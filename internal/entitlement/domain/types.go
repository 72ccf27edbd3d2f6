// Package domain defines the entitlement engine contract: feature access
// decisions and usage reporting against active subscriptions.
package domain

import (
	"context"
	"errors"

	plandomain "github.com/planfold/planfold/internal/plan/domain"
)

// Denial reasons carried in decision payloads. A denial is a normal outcome,
// not an error: callers always get an http 200 with Access false.
const (
	DeniedReasonFeatureNotFound = "FEATURE_NOT_FOUND_IN_SUBSCRIPTION"
	DeniedReasonUsageExceeded   = "USAGE_EXCEEDED"
)

type VerifyFeatureRequest struct {
	CustomerID  string `json:"customer_id"`
	FeatureSlug string `json:"feature_slug"`
}

type VerifyFeatureResult struct {
	Access       bool                   `json:"access"`
	DeniedReason string                 `json:"denied_reason,omitempty"`
	FeatureSlug  string                 `json:"feature_slug"`
	FeatureType  plandomain.FeatureType `json:"feature_type,omitempty"`
	CurrentUsage int64                  `json:"current_usage"`
	Limit        *int64                 `json:"limit,omitempty"`
}

type ReportUsageRequest struct {
	CustomerID  string `json:"customer_id"`
	FeatureSlug string `json:"feature_slug"`
	Delta       int64  `json:"delta,omitempty"`
}

type ReportUsageResult struct {
	Accepted     bool   `json:"accepted"`
	DeniedReason string `json:"denied_reason,omitempty"`
	FeatureSlug  string `json:"feature_slug"`
	CurrentUsage int64  `json:"current_usage"`
	Limit        *int64 `json:"limit,omitempty"`
}

type Engine interface {
	VerifyFeature(context.Context, VerifyFeatureRequest) (VerifyFeatureResult, error)
	ReportUsage(context.Context, ReportUsageRequest) (ReportUsageResult, error)
}

var (
	ErrInvalidProject     = errors.New("invalid_project")
	ErrInvalidCustomer    = errors.New("invalid_customer")
	ErrInvalidFeature     = errors.New("invalid_feature")
	ErrInvalidDelta       = errors.New("invalid_delta")
	ErrFeatureNotMetered  = errors.New("feature_not_metered")
	ErrUnknownFeatureType = errors.New("unknown_feature_type")
)
