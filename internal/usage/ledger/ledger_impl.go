// Package ledger persists period-bucketed usage counters with atomic
// increment-on-conflict semantics.
package ledger

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/planfold/planfold/internal/clock"
	usagedomain "github.com/planfold/planfold/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
}

type Ledger struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clk   clock.Clock
}

func New(p Params) usagedomain.Ledger {
	return &Ledger{
		db:    p.DB,
		log:   p.Log.Named("usage.ledger"),
		genID: p.GenID,
		clk:   p.Clock,
	}
}

// Increment upserts the period row in a single statement. On conflict the
// stored usage is advanced server-side, so concurrent reporters for the same
// item never lose updates. The limit only takes effect on first insert.
func (l *Ledger) Increment(ctx context.Context, req usagedomain.IncrementRequest) (usagedomain.UsageRecord, error) {
	if req.SubscriptionItemID == 0 {
		return usagedomain.UsageRecord{}, usagedomain.ErrInvalidSubscriptionItem
	}
	if req.Delta <= 0 {
		return usagedomain.UsageRecord{}, usagedomain.ErrInvalidDelta
	}

	month, year, err := l.resolvePeriod(req.Month, req.Year)
	if err != nil {
		return usagedomain.UsageRecord{}, err
	}

	now := l.clk.Now()
	record := usagedomain.UsageRecord{
		ID:                 l.genID.Generate(),
		ProjectID:          req.ProjectID,
		SubscriptionItemID: req.SubscriptionItemID,
		Month:              month,
		Year:               year,
		Usage:              req.Delta,
		Limit:              req.Limit,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	err = l.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "subscription_item_id"},
			{Name: "month"},
			{Name: "year"},
		},
		DoUpdates: clause.Assignments(map[string]any{
			"usage":      gorm.Expr("usage_records.usage + ?", req.Delta),
			"updated_at": now,
		}),
	}).Create(&record).Error
	if err != nil {
		return usagedomain.UsageRecord{}, err
	}

	stored, err := l.Current(ctx, req.SubscriptionItemID, month, year)
	if err != nil {
		return usagedomain.UsageRecord{}, err
	}
	if stored == nil {
		return usagedomain.UsageRecord{}, gorm.ErrRecordNotFound
	}
	return *stored, nil
}

// Ensure creates the period row with usage 0 when it does not exist yet.
func (l *Ledger) Ensure(ctx context.Context, req usagedomain.EnsureRequest) (usagedomain.UsageRecord, error) {
	if req.SubscriptionItemID == 0 {
		return usagedomain.UsageRecord{}, usagedomain.ErrInvalidSubscriptionItem
	}

	month, year, err := l.resolvePeriod(req.Month, req.Year)
	if err != nil {
		return usagedomain.UsageRecord{}, err
	}

	now := l.clk.Now()
	record := usagedomain.UsageRecord{
		ID:                 l.genID.Generate(),
		ProjectID:          req.ProjectID,
		SubscriptionItemID: req.SubscriptionItemID,
		Month:              month,
		Year:               year,
		Usage:              0,
		Limit:              req.Limit,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	err = l.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "subscription_item_id"},
			{Name: "month"},
			{Name: "year"},
		},
		DoNothing: true,
	}).Create(&record).Error
	if err != nil {
		return usagedomain.UsageRecord{}, err
	}

	stored, err := l.Current(ctx, req.SubscriptionItemID, month, year)
	if err != nil {
		return usagedomain.UsageRecord{}, err
	}
	if stored == nil {
		return usagedomain.UsageRecord{}, gorm.ErrRecordNotFound
	}
	return *stored, nil
}

func (l *Ledger) Current(ctx context.Context, subscriptionItemID snowflake.ID, month, year int) (*usagedomain.UsageRecord, error) {
	if subscriptionItemID == 0 {
		return nil, usagedomain.ErrInvalidSubscriptionItem
	}

	month, year, err := l.resolvePeriod(month, year)
	if err != nil {
		return nil, err
	}

	var record usagedomain.UsageRecord
	err = l.db.WithContext(ctx).
		Where("subscription_item_id = ? AND month = ? AND year = ?", subscriptionItemID, month, year).
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

func (l *Ledger) resolvePeriod(month, year int) (int, int, error) {
	if month == 0 && year == 0 {
		now := l.clk.Now()
		return int(now.Month()), now.Year(), nil
	}
	if month < 1 || month > 12 || year < 2000 {
		return 0, 0, usagedomain.ErrInvalidPeriod
	}
	return month, year, nil
}
