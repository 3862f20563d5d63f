package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/atmx/bet-ledger/internal/model"
	"github.com/atmx/bet-ledger/internal/store"
)

func newCustomer(username string) *model.Customer {
	now := time.Now().UTC()
	return &model.Customer{
		Username:       username,
		Password:       "hash",
		RealName:       "Test User",
		Currency:       model.USD,
		Status:         model.CustomerActive,
		Balance:        model.Zero(model.USD),
		OpeningBalance: model.Zero(model.USD),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func TestMemoryStore_RollbackDiscardsWrites(t *testing.T) {
	ctx := context.Background()
	ms := store.NewMemoryStore()

	boom := errors.New("boom")
	err := ms.WithTx(ctx, func(tx store.Tx) error {
		c := newCustomer("alice")
		if err := tx.InsertCustomer(ctx, c); err != nil {
			return err
		}
		if err := tx.InsertAuditLog(ctx, &model.AuditLogEntry{
			TableName: model.TableCustomers, Operation: model.OpInsert, Actor: "system",
			ChangedAt: time.Now(), NewData: c.Snapshot(),
		}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	customers, _ := ms.ListCustomers(ctx, store.CustomerFilter{})
	if len(customers) != 0 {
		t.Errorf("expected no customers after rollback, got %d", len(customers))
	}
	logs, _ := ms.ListAuditLogs(ctx, store.AuditFilter{})
	if len(logs) != 0 {
		t.Errorf("expected no audit rows after rollback, got %d", len(logs))
	}
}

func TestMemoryStore_RollbackRestoresUpdatedRow(t *testing.T) {
	ctx := context.Background()
	ms := store.NewMemoryStore()

	var id int64
	if err := ms.WithTx(ctx, func(tx store.Tx) error {
		c := newCustomer("bob")
		err := tx.InsertCustomer(ctx, c)
		id = c.ID
		return err
	}); err != nil {
		t.Fatal(err)
	}

	_ = ms.WithTx(ctx, func(tx store.Tx) error {
		c, err := tx.GetCustomerForUpdate(ctx, id)
		if err != nil {
			return err
		}
		c.Balance = model.MustMoney("50.00", model.USD)
		if err := tx.UpdateCustomer(ctx, c); err != nil {
			return err
		}
		return errors.New("abort")
	})

	c, err := ms.GetCustomer(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if !c.Balance.IsZero() {
		t.Errorf("balance = %s, want 0 after rollback", c.Balance)
	}
}

func TestMemoryStore_UniqueUsername(t *testing.T) {
	ctx := context.Background()
	ms := store.NewMemoryStore()

	insert := func() error {
		return ms.WithTx(ctx, func(tx store.Tx) error {
			return tx.InsertCustomer(ctx, newCustomer("carol"))
		})
	}
	if err := insert(); err != nil {
		t.Fatal(err)
	}
	if err := insert(); !errors.Is(err, model.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestMemoryStore_ListBalanceChangesNewestFirst(t *testing.T) {
	ctx := context.Background()
	ms := store.NewMemoryStore()
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	var customerID int64
	err := ms.WithTx(ctx, func(tx store.Tx) error {
		c := newCustomer("dave")
		if err := tx.InsertCustomer(ctx, c); err != nil {
			return err
		}
		customerID = c.ID
		for i, amt := range []string{"10.00", "20.00", "-5.00"} {
			bc := &model.BalanceChange{
				CustomerID: c.ID,
				ChangeType: model.ChangeAdjustment,
				Delta:      model.MustMoney(amt, model.USD),
				CreatedAt:  base.Add(time.Duration(i) * time.Minute),
			}
			if err := tx.InsertBalanceChange(ctx, bc); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	list, err := ms.ListBalanceChanges(ctx, store.BalanceChangeFilter{CustomerID: &customerID, Page: store.Page{Limit: 2}})
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(list))
	}
	if list[0].Delta.StringFixed() != "-5.00" || list[1].Delta.StringFixed() != "20.00" {
		t.Errorf("unexpected order: %s, %s", list[0].Delta, list[1].Delta)
	}

	sum, _ := ms.SumBalanceChanges(ctx, customerID)
	if sum.StringFixed(2) != "25.00" {
		t.Errorf("sum = %s, want 25.00", sum)
	}
}

func TestMemoryStore_BetKeyConflict(t *testing.T) {
	ctx := context.Background()
	ms := store.NewMemoryStore()

	bet := func() *model.Bet {
		return &model.Bet{Bookie: "acme", BookieBetID: "B-1", PlacementStatus: model.PlacementPending,
			Stake: model.MustMoney("10.00", model.USD)}
	}
	if err := ms.WithTx(ctx, func(tx store.Tx) error { return tx.InsertBet(ctx, bet()) }); err != nil {
		t.Fatal(err)
	}
	err := ms.WithTx(ctx, func(tx store.Tx) error { return tx.InsertBet(ctx, bet()) })
	if !errors.Is(err, model.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	ms := store.NewMemoryStore()

	var id int64
	_ = ms.WithTx(ctx, func(tx store.Tx) error {
		c := newCustomer("erin")
		c.Preferences = map[string]any{"theme": "dark"}
		err := tx.InsertCustomer(ctx, c)
		id = c.ID
		return err
	})

	c, _ := ms.GetCustomer(ctx, id)
	c.Preferences["theme"] = "light"

	again, _ := ms.GetCustomer(ctx, id)
	if again.Preferences["theme"] != "dark" {
		t.Errorf("stored preferences mutated through returned copy")
	}
}

func TestMemoryStore_ReportDataOmitsCredentials(t *testing.T) {
	ctx := context.Background()
	ms := store.NewMemoryStore()
	if err := ms.WithTx(ctx, func(tx store.Tx) error {
		return tx.InsertCustomer(ctx, newCustomer("alice"))
	}); err != nil {
		t.Fatal(err)
	}

	data, err := ms.LoadReportData(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(data.Customers) != 1 {
		t.Fatalf("expected one customer, got %d", len(data.Customers))
	}
	c := data.Customers[0]
	if c.Password != "" {
		t.Error("report data carried a password hash")
	}
	if c.Username != "alice" || c.RealName != "Test User" || c.ID == 0 {
		t.Errorf("projection lost identity columns: %+v", c)
	}
}
