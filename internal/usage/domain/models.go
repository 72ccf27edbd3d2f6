// Package domain contains the period-bucketed usage ledger model.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// UsageRecord is the authoritative usage counter for one subscription item
// and one calendar period. Exactly one row exists per
// (subscription_item_id, month, year); it is created lazily on first report,
// incremented atomically afterward, and never decremented. Limit is fixed on
// first insert and not updated when plan configuration changes later.
type UsageRecord struct {
	ID                 snowflake.ID `gorm:"primaryKey" json:"id"`
	ProjectID          snowflake.ID `gorm:"column:project_id;not null;index" json:"project_id"`
	SubscriptionItemID snowflake.ID `gorm:"not null;uniqueIndex:ux_usage_records_item_period,priority:1" json:"subscription_item_id"`
	Month              int          `gorm:"not null;uniqueIndex:ux_usage_records_item_period,priority:2" json:"month"`
	Year               int          `gorm:"not null;uniqueIndex:ux_usage_records_item_period,priority:3" json:"year"`
	Usage              int64        `gorm:"column:usage;not null;default:0" json:"usage"`
	Limit              *int64       `gorm:"column:usage_limit" json:"limit,omitempty"`
	CreatedAt          time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt          time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (UsageRecord) TableName() string { return "usage_records" }
