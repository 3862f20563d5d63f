package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atmx/bet-ledger/internal/audit"
	"github.com/atmx/bet-ledger/internal/metrics"
	"github.com/atmx/bet-ledger/internal/model"
	"github.com/atmx/bet-ledger/internal/notify"
	"github.com/atmx/bet-ledger/internal/store"
	"github.com/atmx/bet-ledger/internal/validate"
	"github.com/atmx/bet-ledger/pkg/contracts/events"
)

// ApplyInput is a signed balance change request.
type ApplyInput struct {
	CustomerID  int64            `json:"customer_id" validate:"required,gt=0"`
	ChangeType  model.ChangeType `json:"change_type" validate:"required,oneof=top_up bet_placed bet_settled withdrawal adjustment"`
	Delta       model.Money      `json:"delta"`
	ReferenceID *string          `json:"reference_id" validate:"omitnil,max=100"`
	Description *string          `json:"description" validate:"omitnil,max=500"`
}

// ApplyBalanceChange moves a customer's balance by in.Delta and appends
// the ledger entry, atomically. The customer row stays locked from read
// to write, so concurrent changes to one customer serialize while changes
// to different customers proceed in parallel.
//
// Nothing is written when the change would make the balance negative
// (ErrInsufficientBalance) or its currency differs from the customer's
// (ErrCurrencyMismatch).
func (s *Service) ApplyBalanceChange(ctx context.Context, in ApplyInput) (*model.BalanceChange, error) {
	if err := validate.Struct(in); err != nil {
		return nil, err
	}
	if in.Delta.Currency() == "" {
		return nil, model.Validation("delta", "is required")
	}
	if in.Delta.IsZero() {
		return nil, model.Validation("delta", "must be non-zero")
	}

	start := time.Now()
	bc, err := failsafe.With(s.retry).WithContext(ctx).Get(func() (*model.BalanceChange, error) {
		return s.applyOnce(ctx, in)
	})
	if err != nil {
		s.observeRejection(err)
		return nil, err
	}
	metrics.BalanceChangesTotal.WithLabelValues(string(bc.ChangeType)).Inc()
	metrics.BalanceChangeLatency.WithLabelValues(string(bc.ChangeType)).Observe(time.Since(start).Seconds())

	s.log.Info("balance change applied",
		zap.Int64("id", bc.ID),
		zap.Int64("customer_id", bc.CustomerID),
		zap.String("change_type", string(bc.ChangeType)),
		zap.String("delta", bc.Delta.String()),
	)
	notify.Emit(ctx, s.pub, s.log, events.BalanceChangeApplied, string(model.TableBalanceChanges),
		bc.ID, bc.CustomerID, audit.ActorFrom(ctx), bc)
	return bc, nil
}

func (s *Service) applyOnce(ctx context.Context, in ApplyInput) (*model.BalanceChange, error) {
	var out *model.BalanceChange
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		c, err := tx.GetCustomerForUpdate(ctx, in.CustomerID)
		if err != nil {
			if model.IsNotFound(err) {
				return model.InvalidReference("customer_id", in.CustomerID)
			}
			return err
		}

		// Currency first so the outcome never depends on the sign.
		if in.Delta.Currency() != c.Currency {
			return model.CurrencyMismatch(c.Currency, in.Delta.Currency())
		}
		balance, err := c.Balance.Add(in.Delta)
		if err != nil {
			return err
		}
		if balance.IsNegative() {
			return model.InsufficientBalance(c.ID, c.Balance, in.Delta)
		}

		now := s.now()
		before := c.Snapshot()
		c.Balance = balance
		c.UpdatedAt = now
		if err := tx.UpdateCustomer(ctx, c); err != nil {
			return err
		}

		bc := &model.BalanceChange{
			CustomerID:  c.ID,
			ChangeType:  in.ChangeType,
			Delta:       in.Delta,
			ReferenceID: in.ReferenceID,
			Description: in.Description,
			CreatedAt:   now,
		}
		if err := tx.InsertBalanceChange(ctx, bc); err != nil {
			return err
		}

		if err := s.recorder.Update(ctx, tx, model.TableCustomers, audit.RowID(c.ID), before, c.Snapshot()); err != nil {
			return err
		}
		if err := s.recorder.Insert(ctx, tx, model.TableBalanceChanges, audit.RowID(bc.ID), bc.Snapshot()); err != nil {
			return err
		}
		out = bc
		return nil
	})
	return out, err
}

func (s *Service) observeRejection(err error) {
	reason := "error"
	switch {
	case errors.Is(err, model.ErrInsufficientBalance):
		reason = "insufficient_balance"
	case errors.Is(err, model.ErrCurrencyMismatch):
		reason = "currency_mismatch"
	case errors.Is(err, model.ErrInvalidReference):
		reason = "invalid_reference"
	case errors.Is(err, model.ErrRetryable):
		reason = "retries_exhausted"
	}
	metrics.BalanceChangeRejections.WithLabelValues(reason).Inc()
}

// GetBalanceChange returns one ledger entry.
func (s *Service) GetBalanceChange(ctx context.Context, id int64) (*model.BalanceChange, error) {
	return s.store.GetBalanceChange(ctx, id)
}

// ListParams are the raw filters of ListBalanceChanges.
type ListParams struct {
	CustomerID *int64
	ChangeType string
	Limit      int
	Offset     int
}

// ListBalanceChanges returns ledger entries newest first.
func (s *Service) ListBalanceChanges(ctx context.Context, p ListParams) ([]model.BalanceChange, error) {
	page, err := store.NewPage(p.Limit, p.Offset)
	if err != nil {
		return nil, err
	}
	f := store.BalanceChangeFilter{CustomerID: p.CustomerID, Page: page}
	if p.ChangeType != "" {
		ct := model.ChangeType(p.ChangeType)
		if !ct.Valid() {
			return nil, model.Validation("change_type", "unknown change type "+p.ChangeType)
		}
		f.ChangeType = ct
	}
	return s.store.ListBalanceChanges(ctx, f)
}

// Reconciliation compares a stored balance with its ledger.
type Reconciliation struct {
	CustomerID     int64           `json:"customer_id"`
	Balance        model.Money     `json:"balance"`
	OpeningBalance model.Money     `json:"opening_balance"`
	LedgerSum      decimal.Decimal `json:"ledger_sum"`
	Expected       model.Money     `json:"expected"`
	Consistent     bool            `json:"consistent"`
}

// ReconcileBalance checks balance == opening_balance + Σ delta while
// holding the customer lock, so no change can land between the reads.
func (s *Service) ReconcileBalance(ctx context.Context, customerID int64) (*Reconciliation, error) {
	var rec *Reconciliation
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		c, err := tx.GetCustomerForUpdate(ctx, customerID)
		if err != nil {
			return err
		}
		sum, err := tx.SumBalanceChanges(ctx, customerID)
		if err != nil {
			return err
		}
		expected, err := model.NewMoney(c.OpeningBalance.Amount().Add(sum), string(c.Currency))
		if err != nil {
			return err
		}
		rec = &Reconciliation{
			CustomerID:     c.ID,
			Balance:        c.Balance,
			OpeningBalance: c.OpeningBalance,
			LedgerSum:      sum,
			Expected:       expected,
			Consistent:     expected.Equal(c.Balance),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !rec.Consistent {
		s.log.Error("balance does not match ledger",
			zap.Int64("customer_id", customerID),
			zap.String("balance", rec.Balance.String()),
			zap.String("expected", rec.Expected.String()),
		)
	}
	return rec, nil
}
