package service

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/planfold/planfold/internal/cache"
	customerdomain "github.com/planfold/planfold/internal/customer/domain"
	"github.com/planfold/planfold/internal/observability/metrics"
	plandomain "github.com/planfold/planfold/internal/plan/domain"
	"github.com/planfold/planfold/internal/projectcontext"
	subdomain "github.com/planfold/planfold/internal/subscription/domain"
	"github.com/planfold/planfold/internal/worker"
	"github.com/planfold/planfold/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Repo    subdomain.Repository
	Cache   *cache.Cache
	Pool    *worker.Pool
	Metrics *metrics.Metrics `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	repo    subdomain.Repository
	cache   *cache.Cache
	pool    *worker.Pool
	metrics *metrics.Metrics

	customerRepo repository.Repository[customerdomain.Customer]
}

func New(p Params) subdomain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("subscription.service"),
		genID:   p.GenID,
		repo:    p.Repo,
		cache:   p.Cache,
		pool:    p.Pool,
		metrics: p.Metrics,

		customerRepo: repository.ProvideStore[customerdomain.Customer](p.DB),
	}
}

// Create provisions a subscription from a published plan version. The
// subscription row and all items commit in one transaction; either all rows
// land or none do. Cache warm-up runs after commit on the worker pool so the
// caller never waits on it.
func (s *Service) Create(ctx context.Context, req subdomain.CreateSubscriptionRequest) (subdomain.Subscription, error) {
	projectID, ok := projectcontext.ProjectIDFromContext(ctx)
	if !ok || projectID == 0 {
		return subdomain.Subscription{}, subdomain.ErrInvalidProject
	}

	customerID, err := snowflake.ParseString(req.CustomerID)
	if err != nil || customerID == 0 {
		return subdomain.Subscription{}, subdomain.ErrInvalidCustomer
	}
	planVersionID, err := snowflake.ParseString(req.PlanVersionID)
	if err != nil || planVersionID == 0 {
		return subdomain.Subscription{}, subdomain.ErrInvalidPlanVersion
	}
	for _, item := range req.Items {
		if item.Quantity <= 0 {
			return subdomain.Subscription{}, subdomain.ErrInvalidQuantity
		}
	}

	customer, err := s.customerRepo.FindOne(ctx, &customerdomain.Customer{ID: customerID, ProjectID: projectID})
	if err != nil {
		return subdomain.Subscription{}, err
	}
	if customer == nil {
		return subdomain.Subscription{}, subdomain.ErrCustomerNotFound
	}

	version, err := s.loadVersionWithFeatures(ctx, projectID, planVersionID)
	if err != nil {
		return subdomain.Subscription{}, err
	}
	if version.Status != plandomain.PlanVersionStatusPublished {
		return subdomain.Subscription{}, subdomain.ErrPlanVersionNotPublished
	}

	// The overlap check reads committed rows only; two concurrent creates
	// for the same customer can both pass it and double-grant a feature.
	active, err := s.repo.FindActiveByCustomer(ctx, s.db, projectID, customerID)
	if err != nil {
		return subdomain.Subscription{}, err
	}
	if overlap := overlappingSlugs(active, version.Features); len(overlap) > 0 {
		return subdomain.Subscription{}, &subdomain.FeatureOverlapError{Slugs: overlap}
	}

	now := time.Now().UTC()
	collection := req.CollectionMethod
	if collection == "" {
		collection = "charge_automatically"
	}

	sub := subdomain.Subscription{
		ID:                   s.genID.Generate(),
		ProjectID:            projectID,
		CustomerID:           customerID,
		PlanVersionID:        version.ID,
		Status:               subdomain.SubscriptionStatusActive,
		CollectionMethod:     collection,
		TrialDays:            version.TrialDays,
		DefaultPaymentMethod: req.DefaultPaymentMethod,
		StartAt:              now,
		CreatedAt:            now,
		UpdatedAt:            now,
	}

	quantities := make(map[string]int64, len(req.Items))
	for _, item := range req.Items {
		quantities[item.FeatureSlug] = item.Quantity
	}

	items := make([]subdomain.SubscriptionItem, 0, len(version.Features))
	for _, pvf := range version.Features {
		quantity := pvf.DefaultQuantity
		if q, ok := quantities[pvf.FeatureSlug]; ok {
			quantity = q
		}
		items = append(items, subdomain.SubscriptionItem{
			ID:                   s.genID.Generate(),
			ProjectID:            projectID,
			SubscriptionID:       sub.ID,
			PlanVersionFeatureID: pvf.ID,
			FeatureSlug:          pvf.FeatureSlug,
			FeatureType:          pvf.FeatureType,
			Limit:                pvf.Limit,
			Quantity:             quantity,
			Config:               pvf.Config,
			CreatedAt:            now,
			UpdatedAt:            now,
		})
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.InsertSubscription(ctx, tx, &sub); err != nil {
			return err
		}
		for i := range items {
			if err := s.repo.InsertItem(ctx, tx, &items[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		s.metrics.RecordSubscriptionCreate(ctx, "error")
		return subdomain.Subscription{}, err
	}

	sub.Items = items
	s.metrics.RecordSubscriptionCreate(ctx, "ok")
	s.warmCaches(projectID, sub)

	return sub, nil
}

func (s *Service) GetActiveByCustomerID(ctx context.Context, customerID snowflake.ID) ([]subdomain.Subscription, error) {
	projectID, ok := projectcontext.ProjectIDFromContext(ctx)
	if !ok || projectID == 0 {
		return nil, subdomain.ErrInvalidProject
	}
	if customerID == 0 {
		return nil, subdomain.ErrInvalidCustomer
	}
	return s.repo.FindActiveByCustomer(ctx, s.db, projectID, customerID)
}

func (s *Service) ResolveFeature(ctx context.Context, customerID snowflake.ID, featureSlug string) (*subdomain.FeatureEntitlement, error) {
	projectID, ok := projectcontext.ProjectIDFromContext(ctx)
	if !ok || projectID == 0 {
		return nil, subdomain.ErrInvalidProject
	}
	if customerID == 0 {
		return nil, subdomain.ErrInvalidCustomer
	}
	return s.repo.FindActiveItemByFeature(ctx, s.db, projectID, customerID, featureSlug)
}

// End marks the subscription ended and drops its cache entries so the next
// verification re-resolves against the database.
func (s *Service) End(ctx context.Context, subscriptionID string) (subdomain.Subscription, error) {
	projectID, ok := projectcontext.ProjectIDFromContext(ctx)
	if !ok || projectID == 0 {
		return subdomain.Subscription{}, subdomain.ErrInvalidProject
	}

	subID, err := snowflake.ParseString(subscriptionID)
	if err != nil || subID == 0 {
		return subdomain.Subscription{}, subdomain.ErrSubscriptionNotFound
	}

	var sub subdomain.Subscription
	err = s.db.WithContext(ctx).
		Preload("Items").
		Where("id = ? AND project_id = ?", subID, projectID).
		First(&sub).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return subdomain.Subscription{}, subdomain.ErrSubscriptionNotFound
		}
		return subdomain.Subscription{}, err
	}
	if sub.Status == subdomain.SubscriptionStatusEnded {
		return subdomain.Subscription{}, subdomain.ErrSubscriptionEnded
	}

	now := time.Now().UTC()
	err = s.db.WithContext(ctx).Exec(
		`UPDATE subscriptions SET status = ?, end_at = ?, updated_at = ? WHERE id = ?`,
		subdomain.SubscriptionStatusEnded,
		now,
		now,
		sub.ID,
	).Error
	if err != nil {
		return subdomain.Subscription{}, err
	}

	sub.Status = subdomain.SubscriptionStatusEnded
	sub.EndAt = &now
	sub.UpdatedAt = now

	customerKey := sub.CustomerID.String()
	s.cache.Delete(ctx, cache.NamespaceEntitlementsByCustomerID, customerKey)
	s.cache.Delete(ctx, cache.NamespaceSubscriptionsByCustomerID, customerKey)
	// Drops feature snapshots from other active subscriptions too; they are
	// reloaded on the next verification.
	s.cache.DeletePrefix(ctx, cache.NamespaceFeatureByCustomerID, customerKey+":")

	return sub, nil
}

func (s *Service) loadVersionWithFeatures(ctx context.Context, projectID, planVersionID snowflake.ID) (plandomain.PlanVersion, error) {
	var version plandomain.PlanVersion
	err := s.db.WithContext(ctx).
		Preload("Features").
		Where("id = ? AND project_id = ?", planVersionID, projectID).
		First(&version).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return plandomain.PlanVersion{}, subdomain.ErrPlanVersionNotFound
		}
		return plandomain.PlanVersion{}, err
	}
	return version, nil
}

// warmCaches re-reads the customer's active subscriptions after commit and
// writes them into every cache namespace on the worker pool. Warming from a
// post-commit read means a subscription ended while the task sat in the
// queue is never written back. Failures only cost the first reader a
// database round trip, so a dropped task is logged and forgotten.
func (s *Service) warmCaches(projectID snowflake.ID, sub subdomain.Subscription) {
	submitted := s.pool.Submit(func(ctx context.Context) {
		customerKey := sub.CustomerID.String()

		active, err := s.repo.FindActiveByCustomer(ctx, s.db, projectID, sub.CustomerID)
		if err != nil {
			s.log.Warn("cache warm-up read failed",
				zap.String("subscription_id", sub.ID.String()),
				zap.Error(err),
			)
			return
		}

		var created *subdomain.Subscription
		for i := range active {
			if active[i].ID == sub.ID {
				created = &active[i]
				break
			}
		}
		if created == nil {
			// Ended between commit and the task running.
			return
		}

		// Per-feature snapshots only for the new items. Older items may
		// already carry usage counters in their cached snapshots.
		for _, item := range created.Items {
			payload, err := json.Marshal(subdomain.FeatureEntitlement{
				SubscriptionID:     created.ID,
				SubscriptionItemID: item.ID,
				CustomerID:         created.CustomerID,
				FeatureSlug:        item.FeatureSlug,
				FeatureType:        item.FeatureType,
				Limit:              item.Limit,
				Quantity:           item.Quantity,
			})
			if err != nil {
				s.log.Warn("cache warm-up encode failed", zap.Error(err))
				continue
			}
			s.cache.Set(ctx, cache.NamespaceFeatureByCustomerID, cache.FeatureKey(customerKey, item.FeatureSlug), payload)
		}

		entitlements := make([]subdomain.FeatureEntitlement, 0, len(created.Items))
		for _, activeSub := range active {
			for _, item := range activeSub.Items {
				entitlements = append(entitlements, subdomain.FeatureEntitlement{
					SubscriptionID:     activeSub.ID,
					SubscriptionItemID: item.ID,
					CustomerID:         activeSub.CustomerID,
					FeatureSlug:        item.FeatureSlug,
					FeatureType:        item.FeatureType,
					Limit:              item.Limit,
					Quantity:           item.Quantity,
				})
			}
		}
		if payload, err := json.Marshal(entitlements); err == nil {
			s.cache.Set(ctx, cache.NamespaceEntitlementsByCustomerID, customerKey, payload)
		}

		if payload, err := json.Marshal(active); err == nil {
			s.cache.Set(ctx, cache.NamespaceSubscriptionsByCustomerID, customerKey, payload)
		}
	})
	if !submitted {
		s.log.Warn("cache warm-up dropped, worker queue full",
			zap.String("subscription_id", sub.ID.String()),
		)
	}
}

func overlappingSlugs(active []subdomain.Subscription, features []plandomain.PlanVersionFeature) []string {
	held := make(map[string]struct{})
	for _, sub := range active {
		for _, item := range sub.Items {
			held[item.FeatureSlug] = struct{}{}
		}
	}

	var overlap []string
	seen := make(map[string]struct{})
	for _, pvf := range features {
		if _, ok := held[pvf.FeatureSlug]; !ok {
			continue
		}
		if _, dup := seen[pvf.FeatureSlug]; dup {
			continue
		}
		seen[pvf.FeatureSlug] = struct{}{}
		overlap = append(overlap, pvf.FeatureSlug)
	}
	sort.Strings(overlap)
	return overlap
}
