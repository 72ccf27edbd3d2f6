package ledger

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/planfold/planfold/internal/clock"
	usagedomain "github.com/planfold/planfold/internal/usage/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func setupLedger(t *testing.T) (usagedomain.Ledger, *clock.FakeClock, *gorm.DB) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_loc=auto", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	_ = db.Exec("PRAGMA busy_timeout = 5000").Error

	if err := db.AutoMigrate(&usagedomain.UsageRecord{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake: %v", err)
	}

	clk := clock.NewFakeClock(time.Date(2026, 4, 15, 12, 0, 0, 0, time.UTC))
	ledger := New(Params{DB: db, Log: zap.NewNop(), GenID: node, Clock: clk})
	return ledger, clk, db
}

func TestIncrementCreatesThenAdds(t *testing.T) {
	ledger, _, _ := setupLedger(t)
	ctx := context.Background()
	itemID := snowflake.ID(1001)
	limit := int64(100)

	rec, err := ledger.Increment(ctx, usagedomain.IncrementRequest{
		ProjectID:          1,
		SubscriptionItemID: itemID,
		Delta:              3,
		Limit:              &limit,
	})
	if err != nil {
		t.Fatalf("first increment: %v", err)
	}
	if rec.Usage != 3 {
		t.Fatalf("expected usage 3, got %d", rec.Usage)
	}
	if rec.Month != 4 || rec.Year != 2026 {
		t.Fatalf("period defaulted wrong: %d/%d", rec.Month, rec.Year)
	}
	if rec.Limit == nil || *rec.Limit != 100 {
		t.Fatalf("limit not stored on first insert")
	}

	rec, err = ledger.Increment(ctx, usagedomain.IncrementRequest{
		ProjectID:          1,
		SubscriptionItemID: itemID,
		Delta:              4,
	})
	if err != nil {
		t.Fatalf("second increment: %v", err)
	}
	if rec.Usage != 7 {
		t.Fatalf("expected usage 7, got %d", rec.Usage)
	}
}

func TestIncrementLimitFixedOnFirstInsert(t *testing.T) {
	ledger, _, _ := setupLedger(t)
	ctx := context.Background()
	itemID := snowflake.ID(1002)
	first, second := int64(10), int64(999)

	if _, err := ledger.Increment(ctx, usagedomain.IncrementRequest{
		ProjectID: 1, SubscriptionItemID: itemID, Delta: 1, Limit: &first,
	}); err != nil {
		t.Fatalf("increment: %v", err)
	}

	rec, err := ledger.Increment(ctx, usagedomain.IncrementRequest{
		ProjectID: 1, SubscriptionItemID: itemID, Delta: 1, Limit: &second,
	})
	if err != nil {
		t.Fatalf("increment: %v", err)
	}
	if rec.Limit == nil || *rec.Limit != 10 {
		t.Fatalf("limit must stay at its first-insert value, got %v", rec.Limit)
	}
}

func TestIncrementConcurrentNoLostUpdates(t *testing.T) {
	ledger, _, _ := setupLedger(t)
	ctx := context.Background()
	itemID := snowflake.ID(1003)

	const workers = 8
	const perWorker = 5

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				if _, err := ledger.Increment(ctx, usagedomain.IncrementRequest{
					ProjectID: 1, SubscriptionItemID: itemID, Delta: 1,
				}); err != nil {
					t.Errorf("increment: %v", err)
				}
			}
		}()
	}
	wg.Wait()

	rec, err := ledger.Current(ctx, itemID, 0, 0)
	if err != nil {
		t.Fatalf("current: %v", err)
	}
	if rec == nil || rec.Usage != workers*perWorker {
		t.Fatalf("expected usage %d, got %+v", workers*perWorker, rec)
	}
}

func TestIncrementRejectsBadInput(t *testing.T) {
	ledger, _, _ := setupLedger(t)
	ctx := context.Background()

	if _, err := ledger.Increment(ctx, usagedomain.IncrementRequest{SubscriptionItemID: 0, Delta: 1}); err != usagedomain.ErrInvalidSubscriptionItem {
		t.Fatalf("expected ErrInvalidSubscriptionItem, got %v", err)
	}
	if _, err := ledger.Increment(ctx, usagedomain.IncrementRequest{SubscriptionItemID: 1, Delta: 0}); err != usagedomain.ErrInvalidDelta {
		t.Fatalf("expected ErrInvalidDelta, got %v", err)
	}
	if _, err := ledger.Increment(ctx, usagedomain.IncrementRequest{SubscriptionItemID: 1, Delta: 1, Month: 13, Year: 2026}); err != usagedomain.ErrInvalidPeriod {
		t.Fatalf("expected ErrInvalidPeriod, got %v", err)
	}
}

func TestEnsureIsIdempotent(t *testing.T) {
	ledger, _, db := setupLedger(t)
	ctx := context.Background()
	itemID := snowflake.ID(1004)
	limit := int64(5)

	for i := 0; i < 3; i++ {
		rec, err := ledger.Ensure(ctx, usagedomain.EnsureRequest{
			ProjectID: 1, SubscriptionItemID: itemID, Limit: &limit,
		})
		if err != nil {
			t.Fatalf("ensure: %v", err)
		}
		if rec.Usage != 0 {
			t.Fatalf("ensure must not touch the counter, got %d", rec.Usage)
		}
	}

	var count int64
	if err := db.Model(&usagedomain.UsageRecord{}).Where("subscription_item_id = ?", itemID).Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected one period row, got %d", count)
	}
}

func TestPeriodsAreIndependent(t *testing.T) {
	ledger, clk, _ := setupLedger(t)
	ctx := context.Background()
	itemID := snowflake.ID(1005)

	if _, err := ledger.Increment(ctx, usagedomain.IncrementRequest{
		ProjectID: 1, SubscriptionItemID: itemID, Delta: 9,
	}); err != nil {
		t.Fatalf("increment: %v", err)
	}

	// Cross the month boundary.
	clk.Advance(20 * 24 * time.Hour)

	rec, err := ledger.Increment(ctx, usagedomain.IncrementRequest{
		ProjectID: 1, SubscriptionItemID: itemID, Delta: 1,
	})
	if err != nil {
		t.Fatalf("increment: %v", err)
	}
	if rec.Month != 5 || rec.Usage != 1 {
		t.Fatalf("new period must start at its own counter, got month %d usage %d", rec.Month, rec.Usage)
	}

	prev, err := ledger.Current(ctx, itemID, 4, 2026)
	if err != nil {
		t.Fatalf("current: %v", err)
	}
	if prev == nil || prev.Usage != 9 {
		t.Fatalf("previous period corrupted: %+v", prev)
	}
}
