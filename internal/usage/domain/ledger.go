package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

// IncrementRequest adds Delta to the period counter, creating the row with
// Delta as its initial value when absent. Month/Year of zero default to the
// current period; explicit values are accepted for backfills and tests.
type IncrementRequest struct {
	ProjectID          snowflake.ID
	SubscriptionItemID snowflake.ID
	Month              int
	Year               int
	Delta              int64
	Limit              *int64
}

// EnsureRequest creates the period row with usage 0 when absent.
type EnsureRequest struct {
	ProjectID          snowflake.ID
	SubscriptionItemID snowflake.ID
	Month              int
	Year               int
	Limit              *int64
}

// Ledger is the single source of truth for usage accounting. The cache only
// ever holds a possibly-stale projection of these counters; billing-grade
// reads go through Current.
type Ledger interface {
	Increment(context.Context, IncrementRequest) (UsageRecord, error)
	Ensure(context.Context, EnsureRequest) (UsageRecord, error)
	Current(ctx context.Context, subscriptionItemID snowflake.ID, month, year int) (*UsageRecord, error)
}

var (
	ErrInvalidSubscriptionItem = errors.New("invalid_subscription_item")
	ErrInvalidDelta            = errors.New("invalid_delta")
	ErrInvalidPeriod           = errors.New("invalid_period")
)
