// Package domain contains the subscription aggregate: the subscription row
// and its feature items, snapshotted from the plan version at creation time.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	plandomain "github.com/planfold/planfold/internal/plan/domain"
	"gorm.io/datatypes"
)

type SubscriptionStatus string

const (
	SubscriptionStatusActive SubscriptionStatus = "active"
	SubscriptionStatusEnded  SubscriptionStatus = "ended"
)

type Subscription struct {
	ID                   snowflake.ID       `gorm:"primaryKey" json:"id"`
	ProjectID            snowflake.ID       `gorm:"column:project_id;not null;index" json:"project_id"`
	CustomerID           snowflake.ID       `gorm:"not null;index" json:"customer_id"`
	PlanVersionID        snowflake.ID       `gorm:"not null;index" json:"plan_version_id"`
	Status               SubscriptionStatus `gorm:"type:text;not null" json:"status"`
	CollectionMethod     string             `gorm:"type:text;not null;default:'charge_automatically'" json:"collection_method"`
	TrialDays            int                `gorm:"not null;default:0" json:"trial_days"`
	DefaultPaymentMethod *string            `gorm:"type:text" json:"default_payment_method,omitempty"`
	StartAt              time.Time          `gorm:"not null" json:"start_at"`
	EndAt                *time.Time         `gorm:"" json:"end_at,omitempty"`
	CreatedAt            time.Time          `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt            time.Time          `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`

	Items []SubscriptionItem `gorm:"foreignKey:SubscriptionID" json:"items,omitempty"`
}

// TableName sets the database table name.
func (Subscription) TableName() string { return "subscriptions" }

// SubscriptionItem copies feature slug, type, limit and quantity out of the
// plan version feature. Later edits to the plan never alter existing items.
type SubscriptionItem struct {
	ID                   snowflake.ID           `gorm:"primaryKey" json:"id"`
	ProjectID            snowflake.ID           `gorm:"column:project_id;not null;index" json:"project_id"`
	SubscriptionID       snowflake.ID           `gorm:"not null;index" json:"subscription_id"`
	PlanVersionFeatureID snowflake.ID           `gorm:"not null" json:"plan_version_feature_id"`
	FeatureSlug          string                 `gorm:"type:text;not null;index" json:"feature_slug"`
	FeatureType          plandomain.FeatureType `gorm:"type:text;not null" json:"feature_type"`
	Limit                *int64                 `gorm:"column:usage_limit" json:"limit,omitempty"`
	Quantity             int64                  `gorm:"not null;default:1" json:"quantity"`
	Config               datatypes.JSONMap      `gorm:"type:jsonb" json:"config,omitempty"`
	CreatedAt            time.Time              `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt            time.Time              `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (SubscriptionItem) TableName() string { return "subscription_items" }

// FeatureEntitlement is the customer-facing projection of one active
// subscription item. It is what the cache stores under featureByCustomerId
// and what the entitlement engine evaluates. For metered features it carries
// the current period's usage counter so verification never has to read the
// ledger; the counter is rewritten after every accepted report.
type FeatureEntitlement struct {
	SubscriptionID     snowflake.ID           `json:"subscription_id"`
	SubscriptionItemID snowflake.ID           `json:"subscription_item_id"`
	CustomerID         snowflake.ID           `json:"customer_id"`
	FeatureSlug        string                 `json:"feature_slug"`
	FeatureType        plandomain.FeatureType `json:"feature_type"`
	Limit              *int64                 `json:"limit,omitempty"`
	CurrentUsage       int64                  `json:"current_usage"`
	Quantity           int64                  `json:"quantity"`
}
