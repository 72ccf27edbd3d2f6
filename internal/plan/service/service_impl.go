package service

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	featuredomain "github.com/planfold/planfold/internal/feature/domain"
	paymentdomain "github.com/planfold/planfold/internal/payment/domain"
	plandomain "github.com/planfold/planfold/internal/plan/domain"
	"github.com/planfold/planfold/internal/projectcontext"
	"github.com/planfold/planfold/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	FeatureSvc featuredomain.Service
	Provider   paymentdomain.Provider
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	featuresvc featuredomain.Service
	provider   paymentdomain.Provider

	planRepo    repository.Repository[plandomain.Plan]
	versionRepo repository.Repository[plandomain.PlanVersion]
	featureRepo repository.Repository[plandomain.PlanVersionFeature]
}

func New(p Params) plandomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("plan.service"),
		genID:      p.GenID,
		featuresvc: p.FeatureSvc,
		provider:   p.Provider,

		planRepo:    repository.ProvideStore[plandomain.Plan](p.DB),
		versionRepo: repository.ProvideStore[plandomain.PlanVersion](p.DB),
		featureRepo: repository.ProvideStore[plandomain.PlanVersionFeature](p.DB),
	}
}

func (s *Service) CreatePlan(ctx context.Context, req plandomain.CreatePlanRequest) (plandomain.Plan, error) {
	projectID, ok := projectcontext.ProjectIDFromContext(ctx)
	if !ok || projectID == 0 {
		return plandomain.Plan{}, plandomain.ErrInvalidProject
	}

	normalized := slug.Make(strings.TrimSpace(req.Slug))
	if normalized == "" {
		return plandomain.Plan{}, plandomain.ErrInvalidSlug
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return plandomain.Plan{}, plandomain.ErrInvalidTitle
	}

	now := time.Now().UTC()
	plan := plandomain.Plan{
		ID:          s.genID.Generate(),
		ProjectID:   projectID,
		Slug:        normalized,
		Title:       title,
		Description: req.Description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.planRepo.Create(ctx, &plan); err != nil {
		return plandomain.Plan{}, err
	}
	return plan, nil
}

func (s *Service) CreateVersion(ctx context.Context, req plandomain.CreateVersionRequest) (plandomain.PlanVersion, error) {
	projectID, ok := projectcontext.ProjectIDFromContext(ctx)
	if !ok || projectID == 0 {
		return plandomain.PlanVersion{}, plandomain.ErrInvalidProject
	}

	planID, err := s.parseID(req.PlanID, plandomain.ErrInvalidPlan)
	if err != nil {
		return plandomain.PlanVersion{}, err
	}

	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if len(currency) != 3 {
		return plandomain.PlanVersion{}, plandomain.ErrInvalidCurrency
	}

	period := strings.ToLower(strings.TrimSpace(req.BillingPeriod))
	if period != "month" && period != "year" {
		return plandomain.PlanVersion{}, plandomain.ErrInvalidBillingPeriod
	}

	plan, err := s.planRepo.FindOne(ctx, &plandomain.Plan{ID: planID, ProjectID: projectID})
	if err != nil {
		return plandomain.PlanVersion{}, err
	}
	if plan == nil {
		return plandomain.PlanVersion{}, plandomain.ErrPlanNotFound
	}

	count, err := s.versionRepo.Count(ctx, &plandomain.PlanVersion{PlanID: planID, ProjectID: projectID})
	if err != nil {
		return plandomain.PlanVersion{}, err
	}

	now := time.Now().UTC()
	version := plandomain.PlanVersion{
		ID:            s.genID.Generate(),
		ProjectID:     projectID,
		PlanID:        planID,
		Version:       int(count) + 1,
		Status:        plandomain.PlanVersionStatusDraft,
		Currency:      currency,
		BillingPeriod: period,
		TrialDays:     req.TrialDays,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.versionRepo.Create(ctx, &version); err != nil {
		return plandomain.PlanVersion{}, err
	}
	return version, nil
}

func (s *Service) AddVersionFeature(ctx context.Context, req plandomain.AddVersionFeatureRequest) (plandomain.PlanVersionFeature, error) {
	projectID, ok := projectcontext.ProjectIDFromContext(ctx)
	if !ok || projectID == 0 {
		return plandomain.PlanVersionFeature{}, plandomain.ErrInvalidProject
	}

	versionID, err := s.parseID(req.PlanVersionID, plandomain.ErrInvalidPlanVersion)
	if err != nil {
		return plandomain.PlanVersionFeature{}, err
	}

	if !req.FeatureType.Valid() {
		return plandomain.PlanVersionFeature{}, plandomain.ErrInvalidFeatureType
	}

	version, err := s.versionRepo.FindOne(ctx, &plandomain.PlanVersion{ID: versionID, ProjectID: projectID})
	if err != nil {
		return plandomain.PlanVersionFeature{}, err
	}
	if version == nil {
		return plandomain.PlanVersionFeature{}, plandomain.ErrPlanVersionNotFound
	}
	if version.Status == plandomain.PlanVersionStatusPublished {
		return plandomain.PlanVersionFeature{}, plandomain.ErrPlanVersionPublished
	}

	feature, err := s.featuresvc.GetBySlug(ctx, req.FeatureSlug)
	if err != nil {
		return plandomain.PlanVersionFeature{}, plandomain.ErrFeatureNotFound
	}

	existing, err := s.featureRepo.Count(ctx, &plandomain.PlanVersionFeature{PlanVersionID: versionID, ProjectID: projectID})
	if err != nil {
		return plandomain.PlanVersionFeature{}, err
	}

	quantity := req.DefaultQuantity
	if quantity <= 0 {
		quantity = 1
	}

	now := time.Now().UTC()
	versionFeature := plandomain.PlanVersionFeature{
		ID:              s.genID.Generate(),
		ProjectID:       projectID,
		PlanVersionID:   versionID,
		FeatureID:       feature.ID,
		FeatureSlug:     feature.Slug,
		FeatureType:     req.FeatureType,
		Limit:           req.Limit,
		DefaultQuantity: quantity,
		Order:           int(existing),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if req.Config != nil {
		versionFeature.Config = datatypes.JSONMap(req.Config)
	}

	if err := s.featureRepo.Create(ctx, &versionFeature); err != nil {
		return plandomain.PlanVersionFeature{}, err
	}
	return versionFeature, nil
}

// Publish freezes the version: from here feature and config mutations are
// rejected. Provider products and prices are created before the status flips
// so a half-published version stays a draft.
func (s *Service) Publish(ctx context.Context, planVersionID string) (plandomain.PlanVersion, error) {
	projectID, ok := projectcontext.ProjectIDFromContext(ctx)
	if !ok || projectID == 0 {
		return plandomain.PlanVersion{}, plandomain.ErrInvalidProject
	}

	versionID, err := s.parseID(planVersionID, plandomain.ErrInvalidPlanVersion)
	if err != nil {
		return plandomain.PlanVersion{}, err
	}

	version, err := s.loadVersionWithFeatures(ctx, projectID, versionID)
	if err != nil {
		return plandomain.PlanVersion{}, err
	}
	if version == nil {
		return plandomain.PlanVersion{}, plandomain.ErrPlanVersionNotFound
	}
	if version.Status == plandomain.PlanVersionStatusPublished {
		return plandomain.PlanVersion{}, plandomain.ErrPlanVersionPublished
	}
	if len(version.Features) == 0 {
		return plandomain.PlanVersion{}, plandomain.ErrPlanVersionNoFeatures
	}

	product, err := s.provider.CreateProduct(ctx, paymentdomain.CreateProductRequest{
		Name: version.PlanID.String() + "-v" + strconv.Itoa(version.Version),
		Metadata: map[string]string{
			"plan_version_id": version.ID.String(),
		},
	})
	if err != nil {
		return plandomain.PlanVersion{}, err
	}

	for _, f := range version.Features {
		if _, err := s.provider.CreatePrice(ctx, paymentdomain.CreatePriceRequest{
			ProductID:     product.ProductID,
			Currency:      version.Currency,
			BillingPeriod: version.BillingPeriod,
			Metadata: map[string]string{
				"feature_slug": f.FeatureSlug,
				"feature_type": string(f.FeatureType),
			},
		}); err != nil {
			return plandomain.PlanVersion{}, err
		}
	}

	now := time.Now().UTC()
	if err := s.db.WithContext(ctx).Exec(
		`UPDATE plan_versions SET status = ?, published_at = ?, updated_at = ? WHERE project_id = ? AND id = ?`,
		plandomain.PlanVersionStatusPublished,
		now,
		now,
		projectID,
		versionID,
	).Error; err != nil {
		return plandomain.PlanVersion{}, err
	}

	version.Status = plandomain.PlanVersionStatusPublished
	version.PublishedAt = &now
	version.UpdatedAt = now
	return *version, nil
}

func (s *Service) GetVersion(ctx context.Context, planVersionID string) (plandomain.PlanVersion, error) {
	projectID, ok := projectcontext.ProjectIDFromContext(ctx)
	if !ok || projectID == 0 {
		return plandomain.PlanVersion{}, plandomain.ErrInvalidProject
	}

	versionID, err := s.parseID(planVersionID, plandomain.ErrInvalidPlanVersion)
	if err != nil {
		return plandomain.PlanVersion{}, err
	}

	version, err := s.loadVersionWithFeatures(ctx, projectID, versionID)
	if err != nil {
		return plandomain.PlanVersion{}, err
	}
	if version == nil {
		return plandomain.PlanVersion{}, plandomain.ErrPlanVersionNotFound
	}
	return *version, nil
}

func (s *Service) loadVersionWithFeatures(ctx context.Context, projectID, versionID snowflake.ID) (*plandomain.PlanVersion, error) {
	version, err := s.versionRepo.FindOne(ctx, &plandomain.PlanVersion{ID: versionID, ProjectID: projectID})
	if err != nil {
		return nil, err
	}
	if version == nil {
		return nil, nil
	}

	features, err := s.featureRepo.Find(ctx, &plandomain.PlanVersionFeature{PlanVersionID: versionID, ProjectID: projectID})
	if err != nil {
		return nil, err
	}

	version.Features = make([]plandomain.PlanVersionFeature, 0, len(features))
	for _, f := range features {
		if f == nil {
			continue
		}
		version.Features = append(version.Features, *f)
	}
	return version, nil
}

func (s *Service) parseID(value string, invalidErr error) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id == 0 {
		return 0, invalidErr
	}
	return id, nil
}
