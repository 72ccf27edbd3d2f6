package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, feature *Feature) error
	FindBySlug(ctx context.Context, db *gorm.DB, projectID snowflake.ID, slug string) (*Feature, error)
}
