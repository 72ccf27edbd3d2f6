// Package analytics ships entitlement activity to the analytics backend.
// Ingestion is fire-and-forget: callers run it on the worker pool and a
// failed delivery never affects the decision that produced the event.
package analytics

import (
	"context"
	"errors"
	"time"
)

// VerificationEvent records one access decision.
type VerificationEvent struct {
	EventID      string    `json:"event_id"`
	ProjectID    string    `json:"project_id"`
	CustomerID   string    `json:"customer_id"`
	FeatureSlug  string    `json:"feature_slug"`
	Access       bool      `json:"access"`
	DeniedReason string    `json:"denied_reason,omitempty"`
	CurrentUsage int64     `json:"current_usage"`
	Limit        *int64    `json:"limit,omitempty"`
	LatencyMS    int64     `json:"latency_ms"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// UsageEvent records one accepted usage report.
type UsageEvent struct {
	EventID     string    `json:"event_id"`
	ProjectID   string    `json:"project_id"`
	CustomerID  string    `json:"customer_id"`
	FeatureSlug string    `json:"feature_slug"`
	Delta       int64     `json:"delta"`
	Usage       int64     `json:"usage"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// FeatureUsageQuery selects aggregated usage for one customer feature.
type FeatureUsageQuery struct {
	ProjectID   string
	CustomerID  string
	FeatureSlug string
	Month       int
	Year        int
}

// FeatureUsage is one aggregated period row from the analytics backend.
type FeatureUsage struct {
	FeatureSlug string `json:"feature_slug"`
	Month       int    `json:"month"`
	Year        int    `json:"year"`
	Usage       int64  `json:"usage"`
}

type Sink interface {
	IngestFeaturesVerification(ctx context.Context, event VerificationEvent) error
	IngestFeaturesUsage(ctx context.Context, event UsageEvent) error
	GetUsageFeature(ctx context.Context, query FeatureUsageQuery) ([]FeatureUsage, error)
}

var ErrSinkUnavailable = errors.New("analytics_sink_unavailable")
