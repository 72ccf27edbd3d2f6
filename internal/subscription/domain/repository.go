package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	InsertSubscription(ctx context.Context, db *gorm.DB, sub *Subscription) error
	InsertItem(ctx context.Context, db *gorm.DB, item *SubscriptionItem) error
	FindActiveByCustomer(ctx context.Context, db *gorm.DB, projectID, customerID snowflake.ID) ([]Subscription, error)
	FindActiveItemByFeature(ctx context.Context, db *gorm.DB, projectID, customerID snowflake.ID, featureSlug string) (*FeatureEntitlement, error)
}
