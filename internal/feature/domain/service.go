package domain

import (
	"context"
	"errors"
)

type CreateFeatureRequest struct {
	Slug        string  `json:"slug"`
	Title       string  `json:"title"`
	Description *string `json:"description,omitempty"`
}

type ListFeatureRequest struct {
	PageToken string
	PageSize  int32
}

type Service interface {
	Create(context.Context, CreateFeatureRequest) (Feature, error)
	List(context.Context, ListFeatureRequest) ([]Feature, error)
	GetBySlug(context.Context, string) (Feature, error)
}

var (
	ErrInvalidProject  = errors.New("invalid_project")
	ErrInvalidSlug     = errors.New("invalid_slug")
	ErrInvalidTitle    = errors.New("invalid_title")
	ErrFeatureExists   = errors.New("feature_exists")
	ErrFeatureNotFound = errors.New("feature_not_found")
)
