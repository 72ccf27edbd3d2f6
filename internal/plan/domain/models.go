// Package domain contains persistence models for plans and their published
// versions.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// PlanVersionStatus is the lifecycle state of a plan version. A published
// version is immutable: feature and config changes are rejected at the
// service boundary.
type PlanVersionStatus string

const (
	PlanVersionStatusDraft     PlanVersionStatus = "draft"
	PlanVersionStatusPublished PlanVersionStatus = "published"
)

// FeatureType is the closed set of pricing behaviors a plan version feature
// can carry. Flat features are capability flags; the rest are metered and
// evaluated against a numeric limit.
type FeatureType string

const (
	FeatureTypeFlat    FeatureType = "flat"
	FeatureTypeUsage   FeatureType = "usage"
	FeatureTypeTier    FeatureType = "tier"
	FeatureTypePackage FeatureType = "package"
)

// Valid reports whether t is a known feature type.
func (t FeatureType) Valid() bool {
	switch t {
	case FeatureTypeFlat, FeatureTypeUsage, FeatureTypeTier, FeatureTypePackage:
		return true
	default:
		return false
	}
}

// Metered reports whether usage for t is evaluated against a limit.
func (t FeatureType) Metered() bool {
	switch t {
	case FeatureTypeUsage, FeatureTypeTier, FeatureTypePackage:
		return true
	default:
		return false
	}
}

type Plan struct {
	ID          snowflake.ID `gorm:"primaryKey"`
	ProjectID   snowflake.ID `gorm:"column:project_id;not null;index"`
	Slug        string       `gorm:"type:text;not null"`
	Title       string       `gorm:"type:text;not null"`
	Description *string      `gorm:"type:text"`
	CreatedAt   time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt   time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Plan) TableName() string { return "plans" }

// PlanVersion pins currency and billing period; immutable once published.
type PlanVersion struct {
	ID            snowflake.ID      `gorm:"primaryKey"`
	ProjectID     snowflake.ID      `gorm:"column:project_id;not null;index"`
	PlanID        snowflake.ID      `gorm:"not null;index"`
	Version       int               `gorm:"not null"`
	Status        PlanVersionStatus `gorm:"type:text;not null"`
	Currency      string            `gorm:"type:text;not null"`
	BillingPeriod string            `gorm:"type:text;not null"`
	TrialDays     int               `gorm:"not null;default:0"`
	PublishedAt   *time.Time        `gorm:""`
	CreatedAt     time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt     time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`

	Features []PlanVersionFeature `gorm:"foreignKey:PlanVersionID"`
}

// TableName sets the database table name.
func (PlanVersion) TableName() string { return "plan_versions" }

// PlanVersionFeature grants one feature with its pricing config. Limit and
// DefaultQuantity are snapshots copied into subscription items at creation
// time, never live references.
type PlanVersionFeature struct {
	ID              snowflake.ID      `gorm:"primaryKey"`
	ProjectID       snowflake.ID      `gorm:"column:project_id;not null;index"`
	PlanVersionID   snowflake.ID      `gorm:"not null;index"`
	FeatureID       snowflake.ID      `gorm:"not null;index"`
	FeatureSlug     string            `gorm:"type:text;not null"`
	FeatureType     FeatureType       `gorm:"type:text;not null"`
	Limit           *int64            `gorm:"column:usage_limit"`
	DefaultQuantity int64             `gorm:"not null;default:1"`
	Order           int               `gorm:"column:sort_order;not null;default:0"`
	Config          datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt       time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt       time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (PlanVersionFeature) TableName() string { return "plan_version_features" }
