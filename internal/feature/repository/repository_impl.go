package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	featuredomain "github.com/planfold/planfold/internal/feature/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() featuredomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, feature *featuredomain.Feature) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO features (id, project_id, slug, title, description, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		feature.ID,
		feature.ProjectID,
		feature.Slug,
		feature.Title,
		feature.Description,
		feature.CreatedAt,
		feature.UpdatedAt,
	).Error
}

func (r *repo) FindBySlug(ctx context.Context, db *gorm.DB, projectID snowflake.ID, slug string) (*featuredomain.Feature, error) {
	var feature featuredomain.Feature
	err := db.WithContext(ctx).
		Where("project_id = ? AND slug = ?", projectID, slug).
		First(&feature).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &feature, nil
}
