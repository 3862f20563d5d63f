package ledger_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/atmx/bet-ledger/internal/audit"
	"github.com/atmx/bet-ledger/internal/ledger"
	"github.com/atmx/bet-ledger/internal/model"
	"github.com/atmx/bet-ledger/internal/notify"
	"github.com/atmx/bet-ledger/internal/store"
	"github.com/atmx/bet-ledger/pkg/contracts/events"
)

var fixedNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newService(t *testing.T, st store.Store, opts ...ledger.Option) *ledger.Service {
	t.Helper()
	opts = append([]ledger.Option{ledger.WithClock(func() time.Time { return fixedNow })}, opts...)
	return ledger.NewService(st, zap.NewNop(), opts...)
}

func createCustomer(t *testing.T, svc *ledger.Service, username string) *model.Customer {
	t.Helper()
	c, err := svc.CreateCustomer(context.Background(), ledger.CreateCustomerInput{
		Username: username,
		Password: "hash",
		RealName: "Test User",
		Currency: "usd",
	})
	if err != nil {
		t.Fatalf("create customer: %v", err)
	}
	return c
}

func apply(ctx context.Context, svc *ledger.Service, customerID int64, ct model.ChangeType, amount string, cur model.Currency) (*model.BalanceChange, error) {
	return svc.ApplyBalanceChange(ctx, ledger.ApplyInput{
		CustomerID: customerID,
		ChangeType: ct,
		Delta:      model.MustMoney(amount, cur),
	})
}

func balanceOf(t *testing.T, svc *ledger.Service, id int64) model.Money {
	t.Helper()
	c, err := svc.GetCustomer(context.Background(), id)
	if err != nil {
		t.Fatalf("get customer: %v", err)
	}
	return c.Balance
}

func TestApplyBalanceChange_MovesBalanceAndAppendsLedger(t *testing.T) {
	ctx := context.Background()
	ms := store.NewMemoryStore()
	svc := newService(t, ms)
	c := createCustomer(t, svc, "alice")

	if c.Currency != model.USD {
		t.Fatalf("currency = %s, want USD", c.Currency)
	}
	if _, err := apply(ctx, svc, c.ID, model.ChangeTopUp, "100.00", model.USD); err != nil {
		t.Fatalf("top up: %v", err)
	}
	bc, err := apply(ctx, svc, c.ID, model.ChangeWithdrawal, "-30.25", model.USD)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if bc.ID == 0 || !bc.CreatedAt.Equal(fixedNow) {
		t.Errorf("unexpected entry %+v", bc)
	}

	if got := balanceOf(t, svc, c.ID); !got.Equal(model.MustMoney("69.75", model.USD)) {
		t.Errorf("balance = %s, want 69.75 USD", got)
	}

	changes, err := svc.ListBalanceChanges(ctx, ledger.ListParams{CustomerID: &c.ID})
	if err != nil {
		t.Fatal(err)
	}
	if len(changes) != 2 {
		t.Fatalf("expected 2 ledger entries, got %d", len(changes))
	}
	if changes[0].ChangeType != model.ChangeWithdrawal {
		t.Errorf("expected newest first, got %s", changes[0].ChangeType)
	}

	rec, err := svc.ReconcileBalance(ctx, c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !rec.Consistent {
		t.Errorf("ledger does not reconcile: %+v", rec)
	}
}

func TestApplyBalanceChange_AuditsBothRows(t *testing.T) {
	ctx := audit.WithActor(context.Background(), "ops")
	ms := store.NewMemoryStore()
	svc := newService(t, ms)
	c := createCustomer(t, svc, "alice")

	bc, err := apply(ctx, svc, c.ID, model.ChangeTopUp, "10.00", model.USD)
	if err != nil {
		t.Fatal(err)
	}

	custLogs, _ := ms.ListAuditLogs(ctx, store.AuditFilter{TableName: model.TableCustomers, Operation: model.OpUpdate})
	if len(custLogs) != 1 {
		t.Fatalf("expected 1 customer UPDATE, got %d", len(custLogs))
	}
	entry := custLogs[0]
	if entry.Actor != "ops" {
		t.Errorf("actor = %q, want ops", entry.Actor)
	}
	if entry.RowID == nil || *entry.RowID != c.ID {
		t.Errorf("row id = %v, want %d", entry.RowID, c.ID)
	}
	oldBal, _ := entry.OldData.Get("balance")
	newBal, _ := entry.NewData.Get("balance")
	if oldBal.(map[string]any)["amount"] != "0.00" || newBal.(map[string]any)["amount"] != "10.00" {
		t.Errorf("balance images = %v -> %v", oldBal, newBal)
	}

	bcLogs, _ := ms.ListAuditLogs(ctx, store.AuditFilter{TableName: model.TableBalanceChanges})
	if len(bcLogs) != 1 || bcLogs[0].Operation != model.OpInsert || *bcLogs[0].RowID != bc.ID {
		t.Fatalf("expected one balance_changes INSERT for %d, got %+v", bc.ID, bcLogs)
	}
	if bcLogs[0].OldData != nil {
		t.Error("INSERT entry must not carry old data")
	}
}

func TestApplyBalanceChange_InsufficientBalanceWritesNothing(t *testing.T) {
	ctx := context.Background()
	ms := store.NewMemoryStore()
	svc := newService(t, ms)
	c := createCustomer(t, svc, "alice")
	if _, err := apply(ctx, svc, c.ID, model.ChangeTopUp, "20.00", model.USD); err != nil {
		t.Fatal(err)
	}
	before, _ := ms.ListAuditLogs(ctx, store.AuditFilter{})

	_, err := apply(ctx, svc, c.ID, model.ChangeWithdrawal, "-20.01", model.USD)
	if !errors.Is(err, model.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}

	if got := balanceOf(t, svc, c.ID); !got.Equal(model.MustMoney("20.00", model.USD)) {
		t.Errorf("balance changed to %s", got)
	}
	changes, _ := svc.ListBalanceChanges(ctx, ledger.ListParams{CustomerID: &c.ID})
	if len(changes) != 1 {
		t.Errorf("expected 1 ledger entry, got %d", len(changes))
	}
	after, _ := ms.ListAuditLogs(ctx, store.AuditFilter{})
	if len(after) != len(before) {
		t.Errorf("rejected change wrote %d audit rows", len(after)-len(before))
	}

	// Exactly to zero is allowed.
	if _, err := apply(ctx, svc, c.ID, model.ChangeWithdrawal, "-20.00", model.USD); err != nil {
		t.Fatalf("withdraw to zero: %v", err)
	}
	if got := balanceOf(t, svc, c.ID); !got.IsZero() {
		t.Errorf("balance = %s, want 0", got)
	}
}

func TestApplyBalanceChange_Rejections(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, store.NewMemoryStore())
	c := createCustomer(t, svc, "alice")

	tests := []struct {
		name string
		in   ledger.ApplyInput
		want error
	}{
		{"currency mismatch", ledger.ApplyInput{CustomerID: c.ID, ChangeType: model.ChangeTopUp, Delta: model.MustMoney("5.00", model.GBP)}, model.ErrCurrencyMismatch},
		{"negative in wrong currency", ledger.ApplyInput{CustomerID: c.ID, ChangeType: model.ChangeWithdrawal, Delta: model.MustMoney("-500.00", model.EUR)}, model.ErrCurrencyMismatch},
		{"unknown customer", ledger.ApplyInput{CustomerID: 9999, ChangeType: model.ChangeTopUp, Delta: model.MustMoney("5.00", model.USD)}, model.ErrInvalidReference},
		{"zero delta", ledger.ApplyInput{CustomerID: c.ID, ChangeType: model.ChangeTopUp, Delta: model.Zero(model.USD)}, model.ErrValidation},
		{"missing delta", ledger.ApplyInput{CustomerID: c.ID, ChangeType: model.ChangeTopUp}, model.ErrValidation},
		{"unknown change type", ledger.ApplyInput{CustomerID: c.ID, ChangeType: "gift", Delta: model.MustMoney("5.00", model.USD)}, model.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.ApplyBalanceChange(ctx, tt.in)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
	if got := balanceOf(t, svc, c.ID); !got.IsZero() {
		t.Errorf("balance = %s after rejected changes", got)
	}
}

func TestApplyBalanceChange_ConcurrentChangesSerialize(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, store.NewMemoryStore())
	c := createCustomer(t, svc, "alice")
	if _, err := apply(ctx, svc, c.ID, model.ChangeTopUp, "10.00", model.USD); err != nil {
		t.Fatal(err)
	}

	// 20 withdrawals of 1.00 against 10.00: exactly 10 may succeed.
	var wg sync.WaitGroup
	var ok, rejected atomic.Int32
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := apply(ctx, svc, c.ID, model.ChangeWithdrawal, "-1.00", model.USD)
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, model.ErrInsufficientBalance):
				rejected.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if ok.Load() != 10 || rejected.Load() != 10 {
		t.Errorf("ok=%d rejected=%d, want 10/10", ok.Load(), rejected.Load())
	}
	if got := balanceOf(t, svc, c.ID); !got.IsZero() {
		t.Errorf("balance = %s, want 0", got)
	}
	rec, err := svc.ReconcileBalance(ctx, c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !rec.Consistent {
		t.Errorf("ledger does not reconcile: %+v", rec)
	}
}

// flakyStore fails the first n transactions with a retryable error.
type flakyStore struct {
	store.Store
	failures atomic.Int32
	calls    atomic.Int32
}

func (f *flakyStore) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	f.calls.Add(1)
	if f.failures.Add(-1) >= 0 {
		return model.Retryable(errors.New("could not obtain lock"))
	}
	return f.Store.WithTx(ctx, fn)
}

func TestApplyBalanceChange_RetriesTransientFailures(t *testing.T) {
	ctx := context.Background()
	ms := store.NewMemoryStore()
	seed := newService(t, ms)
	c := createCustomer(t, seed, "alice")

	fs := &flakyStore{Store: ms}
	fs.failures.Store(2)
	svc := newService(t, fs, ledger.WithRetry(ledger.RetryConfig{MaxRetries: 3}))

	if _, err := apply(ctx, svc, c.ID, model.ChangeTopUp, "5.00", model.USD); err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if fs.calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", fs.calls.Load())
	}
	if got := balanceOf(t, svc, c.ID); !got.Equal(model.MustMoney("5.00", model.USD)) {
		t.Errorf("balance = %s, want 5.00", got)
	}
}

func TestApplyBalanceChange_GivesUpAfterMaxRetries(t *testing.T) {
	ctx := context.Background()
	ms := store.NewMemoryStore()
	c := createCustomer(t, newService(t, ms), "alice")

	fs := &flakyStore{Store: ms}
	fs.failures.Store(100)
	svc := newService(t, fs, ledger.WithRetry(ledger.RetryConfig{MaxRetries: 2}))

	_, err := apply(ctx, svc, c.ID, model.ChangeTopUp, "5.00", model.USD)
	if !errors.Is(err, model.ErrRetryable) {
		t.Fatalf("expected ErrRetryable, got %v", err)
	}
	if fs.calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", fs.calls.Load())
	}
}

func TestApplyBalanceChange_DoesNotRetryBusinessErrors(t *testing.T) {
	ctx := context.Background()
	ms := store.NewMemoryStore()
	c := createCustomer(t, newService(t, ms), "alice")

	fs := &flakyStore{Store: ms}
	svc := newService(t, fs, ledger.WithRetry(ledger.RetryConfig{MaxRetries: 3}))

	if _, err := apply(ctx, svc, c.ID, model.ChangeWithdrawal, "-1.00", model.USD); !errors.Is(err, model.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if fs.calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", fs.calls.Load())
	}
}

func TestApplyBalanceChange_PublishesAfterCommit(t *testing.T) {
	ctx := context.Background()
	pub := &notify.Memory{}
	svc := newService(t, store.NewMemoryStore(), ledger.WithPublisher(pub))
	c := createCustomer(t, svc, "alice")

	bc, err := apply(ctx, svc, c.ID, model.ChangeTopUp, "1.00", model.USD)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := apply(ctx, svc, c.ID, model.ChangeWithdrawal, "-9.00", model.USD); err == nil {
		t.Fatal("expected rejection")
	}

	var applied []events.LedgerEvent
	for _, e := range pub.Events() {
		if e.Type == events.BalanceChangeApplied {
			applied = append(applied, e)
		}
	}
	if len(applied) != 1 {
		t.Fatalf("expected 1 applied event, got %d", len(applied))
	}
	if applied[0].EntityID != bc.ID || applied[0].CustomerID != c.ID {
		t.Errorf("unexpected event %+v", applied[0])
	}
}

func TestCreateCustomer_OpeningBalanceReconciles(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, store.NewMemoryStore())
	opening := model.MustMoney("50.00", model.EUR)

	c, err := svc.CreateCustomer(ctx, ledger.CreateCustomerInput{
		Username: "bob_2", Password: "x", RealName: "Bob", Currency: "EUR", OpeningBalance: &opening,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !c.Balance.Equal(opening) {
		t.Errorf("balance = %s, want 50.00 EUR", c.Balance)
	}
	if _, err := apply(ctx, svc, c.ID, model.ChangeTopUp, "12.50", model.EUR); err != nil {
		t.Fatal(err)
	}

	rec, err := svc.ReconcileBalance(ctx, c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !rec.Consistent || !rec.Expected.Equal(model.MustMoney("62.50", model.EUR)) {
		t.Errorf("unexpected reconciliation %+v", rec)
	}
}

func TestCreateCustomer_Validation(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, store.NewMemoryStore())
	gbp := model.MustMoney("1.00", model.GBP)
	neg := model.MustMoney("-1.00", model.USD)

	tests := []struct {
		name  string
		in    ledger.CreateCustomerInput
		want  error
		field string
	}{
		{"short username", ledger.CreateCustomerInput{Username: "ab", Password: "x", RealName: "A", Currency: "USD"}, model.ErrValidation, "username"},
		{"bad username", ledger.CreateCustomerInput{Username: "a b c", Password: "x", RealName: "A", Currency: "USD"}, model.ErrValidation, "username"},
		{"missing password", ledger.CreateCustomerInput{Username: "abc", RealName: "A", Currency: "USD"}, model.ErrValidation, "password"},
		{"bad currency", ledger.CreateCustomerInput{Username: "abc", Password: "x", RealName: "A", Currency: "JPY"}, model.ErrValidation, "currency"},
		{"bad status", ledger.CreateCustomerInput{Username: "abc", Password: "x", RealName: "A", Currency: "USD", Status: "banned"}, model.ErrValidation, "status"},
		{"opening currency", ledger.CreateCustomerInput{Username: "abc", Password: "x", RealName: "A", Currency: "USD", OpeningBalance: &gbp}, model.ErrCurrencyMismatch, ""},
		{"negative opening", ledger.CreateCustomerInput{Username: "abc", Password: "x", RealName: "A", Currency: "USD", OpeningBalance: &neg}, model.ErrValidation, "opening_balance"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.CreateCustomer(ctx, tt.in)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if tt.field != "" && model.FieldOf(err) != tt.field {
				t.Errorf("field = %q, want %q", model.FieldOf(err), tt.field)
			}
		})
	}
}

func TestCreateCustomer_DuplicateUsername(t *testing.T) {
	svc := newService(t, store.NewMemoryStore())
	createCustomer(t, svc, "alice")

	_, err := svc.CreateCustomer(context.Background(), ledger.CreateCustomerInput{
		Username: "alice", Password: "x", RealName: "Other", Currency: "USD",
	})
	if !errors.Is(err, model.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestUpdateCustomer(t *testing.T) {
	ctx := context.Background()
	ms := store.NewMemoryStore()
	svc := newService(t, ms)
	c := createCustomer(t, svc, "alice")

	name := "Alice Smith"
	status := "disabled"
	got, err := svc.UpdateCustomer(ctx, c.ID, ledger.UpdateCustomerInput{RealName: &name, Status: &status})
	if err != nil {
		t.Fatal(err)
	}
	if got.RealName != name || got.Status != model.CustomerDisabled {
		t.Errorf("unexpected customer %+v", got)
	}

	bal := model.MustMoney("1000.00", model.USD)
	if _, err := svc.UpdateCustomer(ctx, c.ID, ledger.UpdateCustomerInput{Balance: &bal}); !errors.Is(err, model.ErrValidation) {
		t.Errorf("expected balance update to fail validation, got %v", err)
	}
	cur := "GBP"
	if _, err := svc.UpdateCustomer(ctx, c.ID, ledger.UpdateCustomerInput{Currency: &cur}); !errors.Is(err, model.ErrValidation) {
		t.Errorf("expected currency update to fail validation, got %v", err)
	}
	if _, err := svc.UpdateCustomer(ctx, 404, ledger.UpdateCustomerInput{RealName: &name}); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	logs, _ := ms.ListAuditLogs(ctx, store.AuditFilter{TableName: model.TableCustomers, Operation: model.OpUpdate})
	if len(logs) != 1 {
		t.Fatalf("expected 1 UPDATE entry, got %d", len(logs))
	}
	if v, _ := logs[0].OldData.Get("real_name"); v != "Test User" {
		t.Errorf("old real_name = %v", v)
	}
}

func TestDeleteCustomer(t *testing.T) {
	ctx := context.Background()
	ms := store.NewMemoryStore()
	svc := newService(t, ms)
	funded := createCustomer(t, svc, "alice")
	empty := createCustomer(t, svc, "bob")
	if _, err := apply(ctx, svc, funded.ID, model.ChangeTopUp, "1.00", model.USD); err != nil {
		t.Fatal(err)
	}

	if err := svc.DeleteCustomer(ctx, funded.ID); !errors.Is(err, model.ErrDependencyConflict) {
		t.Fatalf("expected ErrDependencyConflict, got %v", err)
	}
	if err := svc.DeleteCustomer(ctx, empty.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.GetCustomer(ctx, empty.ID); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("expected deleted customer to be gone, got %v", err)
	}

	logs, _ := ms.ListAuditLogs(ctx, store.AuditFilter{TableName: model.TableCustomers, Operation: model.OpDelete})
	if len(logs) != 1 || logs[0].NewData != nil || *logs[0].RowID != empty.ID {
		t.Fatalf("unexpected DELETE entries %+v", logs)
	}
}

func TestListBalanceChanges_Validation(t *testing.T) {
	svc := newService(t, store.NewMemoryStore())
	ctx := context.Background()

	if _, err := svc.ListBalanceChanges(ctx, ledger.ListParams{Limit: 5000}); !errors.Is(err, model.ErrValidation) {
		t.Errorf("expected limit validation, got %v", err)
	}
	if _, err := svc.ListBalanceChanges(ctx, ledger.ListParams{Offset: -1}); !errors.Is(err, model.ErrValidation) {
		t.Errorf("expected offset validation, got %v", err)
	}
	if _, err := svc.ListBalanceChanges(ctx, ledger.ListParams{ChangeType: "gift"}); !errors.Is(err, model.ErrValidation) {
		t.Errorf("expected change_type validation, got %v", err)
	}
}

func TestListCustomers_Filters(t *testing.T) {
	svc := newService(t, store.NewMemoryStore())
	ctx := context.Background()

	createCustomer(t, svc, "alice")
	for _, in := range []ledger.CreateCustomerInput{
		{Username: "bob", Password: "hash", RealName: "Bob", Currency: "EUR"},
		{Username: "carol", Password: "hash", RealName: "Carol", Currency: "USD", Status: "disabled"},
	} {
		if _, err := svc.CreateCustomer(ctx, in); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		name   string
		params ledger.CustomerListParams
		want   []string
	}{
		{"all", ledger.CustomerListParams{}, []string{"alice", "bob", "carol"}},
		{"active", ledger.CustomerListParams{Status: "active"}, []string{"alice", "bob"}},
		{"usd", ledger.CustomerListParams{Currency: "usd"}, []string{"alice", "carol"}},
		{"active usd", ledger.CustomerListParams{Status: "active", Currency: "USD"}, []string{"alice"}},
		{"disabled eur", ledger.CustomerListParams{Status: "disabled", Currency: "EUR"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := svc.ListCustomers(ctx, tt.params)
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %d customers, want %v", len(got), tt.want)
			}
			for i, c := range got {
				if c.Username != tt.want[i] {
					t.Errorf("[%d] = %s, want %s", i, c.Username, tt.want[i])
				}
			}
		})
	}

	if _, err := svc.ListCustomers(ctx, ledger.CustomerListParams{Status: "frozen"}); model.FieldOf(err) != "status" {
		t.Errorf("expected status validation, got %v", err)
	}
	if _, err := svc.ListCustomers(ctx, ledger.CustomerListParams{Currency: "JPY"}); model.FieldOf(err) != "currency" {
		t.Errorf("expected currency validation, got %v", err)
	}
}
