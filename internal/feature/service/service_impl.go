package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	featuredomain "github.com/planfold/planfold/internal/feature/domain"
	"github.com/planfold/planfold/internal/projectcontext"
	"github.com/planfold/planfold/pkg/db"
	"github.com/planfold/planfold/pkg/db/option"
	"github.com/planfold/planfold/pkg/db/pagination"
	"github.com/planfold/planfold/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Repo  featuredomain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	repo  featuredomain.Repository

	featureRepo repository.Repository[featuredomain.Feature]
}

func New(p Params) featuredomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("feature.service"),
		genID: p.GenID,
		repo:  p.Repo,

		featureRepo: repository.ProvideStore[featuredomain.Feature](p.DB),
	}
}

func (s *Service) Create(ctx context.Context, req featuredomain.CreateFeatureRequest) (featuredomain.Feature, error) {
	projectID, ok := projectcontext.ProjectIDFromContext(ctx)
	if !ok || projectID == 0 {
		return featuredomain.Feature{}, featuredomain.ErrInvalidProject
	}

	normalized := slug.Make(strings.TrimSpace(req.Slug))
	if normalized == "" {
		return featuredomain.Feature{}, featuredomain.ErrInvalidSlug
	}

	title := strings.TrimSpace(req.Title)
	if title == "" {
		return featuredomain.Feature{}, featuredomain.ErrInvalidTitle
	}

	now := time.Now().UTC()
	feature := featuredomain.Feature{
		ID:          s.genID.Generate(),
		ProjectID:   projectID,
		Slug:        normalized,
		Title:       title,
		Description: req.Description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.repo.Insert(ctx, s.db, &feature); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return featuredomain.Feature{}, featuredomain.ErrFeatureExists
		}
		return featuredomain.Feature{}, err
	}

	return feature, nil
}

func (s *Service) List(ctx context.Context, req featuredomain.ListFeatureRequest) ([]featuredomain.Feature, error) {
	projectID, ok := projectcontext.ProjectIDFromContext(ctx)
	if !ok || projectID == 0 {
		return nil, featuredomain.ErrInvalidProject
	}

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}

	items, err := s.featureRepo.Find(ctx, &featuredomain.Feature{ProjectID: projectID},
		option.ApplyPagination(pagination.Pagination{
			PageToken: req.PageToken,
			PageSize:  int(pageSize),
		}),
		option.WithSortBy(option.WithQuerySortBy("created_at", "desc", map[string]bool{"created_at": true})),
	)
	if err != nil {
		return nil, err
	}

	features := make([]featuredomain.Feature, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		features = append(features, *item)
	}
	return features, nil
}

func (s *Service) GetBySlug(ctx context.Context, rawSlug string) (featuredomain.Feature, error) {
	projectID, ok := projectcontext.ProjectIDFromContext(ctx)
	if !ok || projectID == 0 {
		return featuredomain.Feature{}, featuredomain.ErrInvalidProject
	}

	normalized := slug.Make(strings.TrimSpace(rawSlug))
	if normalized == "" {
		return featuredomain.Feature{}, featuredomain.ErrInvalidSlug
	}

	feature, err := s.repo.FindBySlug(ctx, s.db, projectID, normalized)
	if err != nil {
		return featuredomain.Feature{}, err
	}
	if feature == nil {
		return featuredomain.Feature{}, featuredomain.ErrFeatureNotFound
	}

	return *feature, nil
}
