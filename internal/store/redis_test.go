package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/atmx/bet-ledger/internal/model"
	"github.com/atmx/bet-ledger/internal/store"
)

// countingStore counts primary reads of ledger entries.
type countingStore struct {
	*store.MemoryStore
	reads int
}

func (c *countingStore) GetBalanceChange(ctx context.Context, id int64) (*model.BalanceChange, error) {
	c.reads++
	return c.MemoryStore.GetBalanceChange(ctx, id)
}

func TestCachedStore_ServesLedgerEntriesFromRedis(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	primary := &countingStore{MemoryStore: store.NewMemoryStore()}
	var changeID int64
	err := primary.WithTx(ctx, func(tx store.Tx) error {
		c := newCustomer("frank")
		if err := tx.InsertCustomer(ctx, c); err != nil {
			return err
		}
		ref := "order-1"
		bc := &model.BalanceChange{
			CustomerID:  c.ID,
			ChangeType:  model.ChangeTopUp,
			Delta:       model.MustMoney("12.50", model.GBP),
			ReferenceID: &ref,
			CreatedAt:   time.Now().UTC(),
		}
		err := tx.InsertBalanceChange(ctx, bc)
		changeID = bc.ID
		return err
	})
	if err != nil {
		t.Fatal(err)
	}

	cs := store.NewCachedStore(primary, rdb, time.Minute)

	first, err := cs.GetBalanceChange(ctx, changeID)
	if err != nil {
		t.Fatal(err)
	}
	second, err := cs.GetBalanceChange(ctx, changeID)
	if err != nil {
		t.Fatal(err)
	}

	if primary.reads != 1 {
		t.Errorf("primary reads = %d, want 1", primary.reads)
	}
	if !second.Delta.Equal(first.Delta) || *second.ReferenceID != "order-1" {
		t.Errorf("cached entry differs: %+v vs %+v", second, first)
	}
}

func TestCachedStore_MissingRowNotCached(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	cs := store.NewCachedStore(store.NewMemoryStore(), rdb, time.Minute)
	if _, err := cs.GetAuditLog(ctx, 99); !model.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if len(mr.Keys()) != 0 {
		t.Errorf("expected no cached keys, got %v", mr.Keys())
	}
}
