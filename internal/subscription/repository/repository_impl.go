package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	plandomain "github.com/planfold/planfold/internal/plan/domain"
	subdomain "github.com/planfold/planfold/internal/subscription/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() subdomain.Repository {
	return &repo{}
}

func (r *repo) InsertSubscription(ctx context.Context, db *gorm.DB, sub *subdomain.Subscription) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO subscriptions (id, project_id, customer_id, plan_version_id, status, collection_method, trial_days, default_payment_method, start_at, end_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sub.ID,
		sub.ProjectID,
		sub.CustomerID,
		sub.PlanVersionID,
		sub.Status,
		sub.CollectionMethod,
		sub.TrialDays,
		sub.DefaultPaymentMethod,
		sub.StartAt,
		sub.EndAt,
		sub.CreatedAt,
		sub.UpdatedAt,
	).Error
}

func (r *repo) InsertItem(ctx context.Context, db *gorm.DB, item *subdomain.SubscriptionItem) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO subscription_items (id, project_id, subscription_id, plan_version_feature_id, feature_slug, feature_type, usage_limit, quantity, config, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID,
		item.ProjectID,
		item.SubscriptionID,
		item.PlanVersionFeatureID,
		item.FeatureSlug,
		item.FeatureType,
		item.Limit,
		item.Quantity,
		item.Config,
		item.CreatedAt,
		item.UpdatedAt,
	).Error
}

func (r *repo) FindActiveByCustomer(ctx context.Context, db *gorm.DB, projectID, customerID snowflake.ID) ([]subdomain.Subscription, error) {
	var subs []subdomain.Subscription
	err := db.WithContext(ctx).
		Preload("Items").
		Where("project_id = ? AND customer_id = ? AND status = ?", projectID, customerID, subdomain.SubscriptionStatusActive).
		Order("created_at DESC").
		Find(&subs).Error
	if err != nil {
		return nil, err
	}
	return subs, nil
}

type featureEntitlementRow struct {
	SubscriptionID     snowflake.ID
	SubscriptionItemID snowflake.ID
	CustomerID         snowflake.ID
	FeatureSlug        string
	FeatureType        string
	UsageLimit         *int64
	Quantity           int64
}

func (r *repo) FindActiveItemByFeature(ctx context.Context, db *gorm.DB, projectID, customerID snowflake.ID, featureSlug string) (*subdomain.FeatureEntitlement, error) {
	var rows []featureEntitlementRow
	err := db.WithContext(ctx).Raw(
		`SELECT s.id AS subscription_id,
		        si.id AS subscription_item_id,
		        s.customer_id AS customer_id,
		        si.feature_slug AS feature_slug,
		        si.feature_type AS feature_type,
		        si.usage_limit AS usage_limit,
		        si.quantity AS quantity
		 FROM subscriptions s
		 JOIN subscription_items si ON si.subscription_id = s.id
		 WHERE s.project_id = ? AND s.customer_id = ? AND s.status = ? AND si.feature_slug = ?
		 ORDER BY s.created_at DESC
		 LIMIT 1`,
		projectID,
		customerID,
		subdomain.SubscriptionStatusActive,
		featureSlug,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	row := rows[0]
	return &subdomain.FeatureEntitlement{
		SubscriptionID:     row.SubscriptionID,
		SubscriptionItemID: row.SubscriptionItemID,
		CustomerID:         row.CustomerID,
		FeatureSlug:        row.FeatureSlug,
		FeatureType:        plandomain.FeatureType(row.FeatureType),
		Limit:              row.UsageLimit,
		Quantity:           row.Quantity,
	}, nil
}
