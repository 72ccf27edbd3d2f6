// Package domain contains the project model. Projects are the tenancy root:
// every other row is scoped by project_id.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type Project struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	Slug      string       `gorm:"type:text;not null;uniqueIndex:ux_projects_slug" json:"slug"`
	Title     string       `gorm:"type:text;not null" json:"title"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Project) TableName() string { return "projects" }
