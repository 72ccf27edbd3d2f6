// Package domain contains persistence models for the feature registry.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Feature is a named capability referenced by plan version features.
type Feature struct {
	ID          snowflake.ID `gorm:"primaryKey"`
	ProjectID   snowflake.ID `gorm:"column:project_id;not null;index:ux_features_project_slug,priority:1"`
	Slug        string       `gorm:"type:text;not null;index:ux_features_project_slug,priority:2"`
	Title       string       `gorm:"type:text;not null"`
	Description *string      `gorm:"type:text"`
	CreatedAt   time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt   time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Feature) TableName() string { return "features" }
