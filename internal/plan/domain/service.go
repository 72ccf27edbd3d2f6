package domain

import (
	"context"
	"errors"
)

type CreatePlanRequest struct {
	Slug        string  `json:"slug"`
	Title       string  `json:"title"`
	Description *string `json:"description,omitempty"`
}

type CreateVersionRequest struct {
	PlanID        string `json:"plan_id"`
	Currency      string `json:"currency"`
	BillingPeriod string `json:"billing_period"`
	TrialDays     int    `json:"trial_days,omitempty"`
}

type AddVersionFeatureRequest struct {
	PlanVersionID   string         `json:"plan_version_id"`
	FeatureSlug     string         `json:"feature_slug"`
	FeatureType     FeatureType    `json:"feature_type"`
	Limit           *int64         `json:"limit,omitempty"`
	DefaultQuantity int64          `json:"default_quantity,omitempty"`
	Config          map[string]any `json:"config,omitempty"`
}

type Service interface {
	CreatePlan(context.Context, CreatePlanRequest) (Plan, error)
	CreateVersion(context.Context, CreateVersionRequest) (PlanVersion, error)
	AddVersionFeature(context.Context, AddVersionFeatureRequest) (PlanVersionFeature, error)
	Publish(ctx context.Context, planVersionID string) (PlanVersion, error)
	GetVersion(ctx context.Context, planVersionID string) (PlanVersion, error)
}

var (
	ErrInvalidProject          = errors.New("invalid_project")
	ErrInvalidPlan             = errors.New("invalid_plan")
	ErrInvalidPlanVersion      = errors.New("invalid_plan_version")
	ErrInvalidSlug             = errors.New("invalid_slug")
	ErrInvalidTitle            = errors.New("invalid_title")
	ErrInvalidCurrency         = errors.New("invalid_currency")
	ErrInvalidBillingPeriod    = errors.New("invalid_billing_period")
	ErrInvalidFeatureType      = errors.New("invalid_feature_type")
	ErrPlanNotFound            = errors.New("plan_not_found")
	ErrPlanVersionNotFound     = errors.New("plan_version_not_found")
	ErrPlanVersionPublished    = errors.New("plan_version_published")
	ErrPlanVersionNotPublished = errors.New("plan_version_not_published")
	ErrPlanVersionNoFeatures   = errors.New("plan_version_has_no_features")
	ErrFeatureNotFound         = errors.New("feature_not_found")
)
