package ledger

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/atmx/bet-ledger/internal/audit"
	"github.com/atmx/bet-ledger/internal/model"
	"github.com/atmx/bet-ledger/internal/notify"
	"github.com/atmx/bet-ledger/internal/store"
	"github.com/atmx/bet-ledger/internal/validate"
	"github.com/atmx/bet-ledger/pkg/contracts/events"
)

// CreateCustomerInput opens a customer account. OpeningBalance, when set,
// must be non-negative and in the account currency.
type CreateCustomerInput struct {
	Username       string         `json:"username" validate:"required,min=3,max=50,username"`
	Password       string         `json:"password" validate:"required"`
	RealName       string         `json:"real_name" validate:"required,max=200"`
	Currency       string         `json:"currency" validate:"required"`
	Status         string         `json:"status" validate:"omitempty,oneof=active disabled"`
	OpeningBalance *model.Money   `json:"opening_balance"`
	Preferences    map[string]any `json:"preferences"`
}

// UpdateCustomerInput changes profile fields. Balance and currency are not
// updatable; Balance and Currency are accepted only to be rejected.
type UpdateCustomerInput struct {
	Username    *string        `json:"username" validate:"omitnil,min=3,max=50,username"`
	Password    *string        `json:"password" validate:"omitnil,min=1"`
	RealName    *string        `json:"real_name" validate:"omitnil,min=1,max=200"`
	Status      *string        `json:"status" validate:"omitnil,oneof=active disabled"`
	Preferences map[string]any `json:"preferences"`
	Balance     *model.Money   `json:"balance"`
	Currency    *string        `json:"currency"`
}

func (s *Service) CreateCustomer(ctx context.Context, in CreateCustomerInput) (*model.Customer, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.RealName = strings.TrimSpace(in.RealName)
	if err := validate.Struct(in); err != nil {
		return nil, err
	}
	cur, err := model.ParseCurrency(in.Currency)
	if err != nil {
		return nil, err
	}
	status := model.CustomerActive
	if in.Status != "" {
		status = model.CustomerStatus(in.Status)
	}
	opening := model.Zero(cur)
	if in.OpeningBalance != nil {
		if in.OpeningBalance.Currency() != cur {
			return nil, model.CurrencyMismatch(cur, in.OpeningBalance.Currency())
		}
		if in.OpeningBalance.IsNegative() {
			return nil, model.Validation("opening_balance", "must be >= 0")
		}
		opening = *in.OpeningBalance
	}
	prefs := in.Preferences
	if prefs == nil {
		prefs = map[string]any{}
	}

	now := s.now()
	c := &model.Customer{
		Username:       in.Username,
		Password:       in.Password,
		RealName:       in.RealName,
		Currency:       cur,
		Status:         status,
		Balance:        opening,
		OpeningBalance: opening,
		Preferences:    prefs,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	err = s.store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.InsertCustomer(ctx, c); err != nil {
			return err
		}
		return s.recorder.Insert(ctx, tx, model.TableCustomers, audit.RowID(c.ID), c.Snapshot())
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("customer created", zap.Int64("id", c.ID), zap.String("username", c.Username), zap.String("currency", string(cur)))
	notify.Emit(ctx, s.pub, s.log, events.CustomerCreated, string(model.TableCustomers), c.ID, c.ID, audit.ActorFrom(ctx), c)
	return c, nil
}

func (s *Service) GetCustomer(ctx context.Context, id int64) (*model.Customer, error) {
	return s.store.GetCustomer(ctx, id)
}

// CustomerListParams are the raw filters of ListCustomers.
type CustomerListParams struct {
	Status   string
	Currency string
	Limit    int
	Offset   int
}

func (s *Service) ListCustomers(ctx context.Context, p CustomerListParams) ([]model.Customer, error) {
	page, err := store.NewPage(p.Limit, p.Offset)
	if err != nil {
		return nil, err
	}
	f := store.CustomerFilter{Page: page}
	if p.Status != "" {
		st := model.CustomerStatus(p.Status)
		if st != model.CustomerActive && st != model.CustomerDisabled {
			return nil, model.Validation("status", "unknown customer status "+p.Status)
		}
		f.Status = st
	}
	if p.Currency != "" {
		if f.Currency, err = model.ParseCurrency(p.Currency); err != nil {
			return nil, err
		}
	}
	return s.store.ListCustomers(ctx, f)
}

// UpdateCustomer applies profile changes under the row lock. Balance moves
// only through ApplyBalanceChange.
func (s *Service) UpdateCustomer(ctx context.Context, id int64, in UpdateCustomerInput) (*model.Customer, error) {
	if in.Balance != nil {
		return nil, model.Validation("balance", "is changed only through balance changes")
	}
	if in.Currency != nil {
		return nil, model.Validation("currency", "cannot be changed")
	}
	if in.Username != nil {
		u := strings.TrimSpace(*in.Username)
		in.Username = &u
	}
	if err := validate.Struct(in); err != nil {
		return nil, err
	}

	var out *model.Customer
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		c, err := tx.GetCustomerForUpdate(ctx, id)
		if err != nil {
			return err
		}
		before := c.Snapshot()
		if in.Username != nil {
			c.Username = *in.Username
		}
		if in.Password != nil {
			c.Password = *in.Password
		}
		if in.RealName != nil {
			c.RealName = strings.TrimSpace(*in.RealName)
		}
		if in.Status != nil {
			c.Status = model.CustomerStatus(*in.Status)
		}
		if in.Preferences != nil {
			c.Preferences = in.Preferences
		}
		c.UpdatedAt = s.now()
		if err := tx.UpdateCustomer(ctx, c); err != nil {
			return err
		}
		out = c
		return s.recorder.Update(ctx, tx, model.TableCustomers, audit.RowID(c.ID), before, c.Snapshot())
	})
	if err != nil {
		return nil, err
	}
	notify.Emit(ctx, s.pub, s.log, events.CustomerUpdated, string(model.TableCustomers), out.ID, out.ID, audit.ActorFrom(ctx), out)
	return out, nil
}

// DeleteCustomer removes a customer with no bets and no ledger entries.
// Deleting ledger history would break the balance invariant, so a customer
// with dependents fails with ErrDependencyConflict.
func (s *Service) DeleteCustomer(ctx context.Context, id int64) error {
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		c, err := tx.GetCustomerForUpdate(ctx, id)
		if err != nil {
			return err
		}
		bets, changes, err := tx.CountCustomerDependents(ctx, id)
		if err != nil {
			return err
		}
		if bets > 0 || changes > 0 {
			return model.DependencyConflict("customer", id,
				fmt.Sprintf("referenced by %d bets and %d balance changes", bets, changes))
		}
		if err := tx.DeleteCustomer(ctx, id); err != nil {
			return err
		}
		return s.recorder.Delete(ctx, tx, model.TableCustomers, audit.RowID(id), c.Snapshot())
	})
	if err != nil {
		return err
	}
	s.log.Info("customer deleted", zap.Int64("id", id))
	notify.Emit(ctx, s.pub, s.log, events.CustomerDeleted, string(model.TableCustomers), id, id, audit.ActorFrom(ctx), map[string]int64{"id": id})
	return nil
}
