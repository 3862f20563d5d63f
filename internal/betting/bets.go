package betting

import (
	"context"
	"strings"

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

type CreateBetInput struct {
	Bookie          string          `json:"bookie" validate:"required,max=50"`
	CustomerID      int64           `json:"customer_id" validate:"required,gt=0"`
	BookieBetID     string          `json:"bookie_bet_id" validate:"required,max=100"`
	BetType         string          `json:"bet_type" validate:"required,max=50"`
	EventID         int64           `json:"event_id" validate:"required,gt=0"`
	Sport           string          `json:"sport" validate:"required,max=50"`
	PlacementStatus string          `json:"placement_status"`
	Outcome         string          `json:"outcome"`
	Stake           model.Money     `json:"stake"`
	Odds            decimal.Decimal `json:"odds"`
	PlacementData   map[string]any  `json:"placement_data"`
}

// UpdateBetInput is a partial update. Nil fields are left alone.
type UpdateBetInput struct {
	Bookie          *string          `json:"bookie" validate:"omitnil,min=1,max=50"`
	CustomerID      *int64           `json:"customer_id" validate:"omitnil,gt=0"`
	BookieBetID     *string          `json:"bookie_bet_id" validate:"omitnil,min=1,max=100"`
	BetType         *string          `json:"bet_type" validate:"omitnil,min=1,max=50"`
	EventID         *int64           `json:"event_id" validate:"omitnil,gt=0"`
	Sport           *string          `json:"sport" validate:"omitnil,min=1,max=50"`
	PlacementStatus *string          `json:"placement_status"`
	Outcome         *string          `json:"outcome"`
	Stake           *model.Money     `json:"stake"`
	Odds            *decimal.Decimal `json:"odds"`
	PlacementData   map[string]any   `json:"placement_data"`
}

// CreateBet records a new bet. Bets are not retried on transient failure:
// the (bookie, bookie_bet_id) key turns a duplicate submission into
// ErrConflict instead of a second bet.
func (s *Service) CreateBet(ctx context.Context, in CreateBetInput) (*model.Bet, error) {
	in.Bookie = strings.TrimSpace(in.Bookie)
	in.BookieBetID = strings.TrimSpace(in.BookieBetID)
	in.Sport = strings.TrimSpace(in.Sport)
	if err := validate.Struct(in); err != nil {
		return nil, err
	}
	if err := checkStake(in.Stake); err != nil {
		return nil, err
	}
	if err := checkOdds(in.Odds); err != nil {
		return nil, err
	}
	status := model.PlacementPending
	if in.PlacementStatus != "" {
		ps, err := parseStatus(in.PlacementStatus)
		if err != nil {
			return nil, err
		}
		status = ps
	}
	outcome, err := parseOutcome(in.Outcome)
	if err != nil {
		return nil, err
	}
	if outcome != nil && status != model.PlacementPlaced {
		return nil, model.Validation("outcome", "can only be set on a placed bet")
	}
	data := in.PlacementData
	if data == nil {
		data = map[string]any{}
	}

	now := s.now()
	b := &model.Bet{
		Bookie:          in.Bookie,
		CustomerID:      in.CustomerID,
		BookieBetID:     in.BookieBetID,
		BetType:         in.BetType,
		EventID:         in.EventID,
		Sport:           in.Sport,
		PlacementStatus: status,
		Outcome:         outcome,
		Stake:           in.Stake,
		Odds:            in.Odds,
		PlacementData:   data,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	err = s.store.WithTx(ctx, func(tx store.Tx) error {
		if err := checkReferences(ctx, tx, b, true); err != nil {
			return err
		}
		if err := tx.InsertBet(ctx, b); err != nil {
			return err
		}
		return s.recorder.Insert(ctx, tx, model.TableBets, audit.RowID(b.ID), b.Snapshot())
	})
	if err != nil {
		return nil, err
	}

	metrics.BetsCreatedTotal.WithLabelValues(b.Sport).Inc()
	s.log.Info("bet created",
		zap.Int64("id", b.ID),
		zap.String("bookie", b.Bookie),
		zap.String("bookie_bet_id", b.BookieBetID),
		zap.Int64("customer_id", b.CustomerID),
		zap.String("stake", b.Stake.String()),
	)
	notify.Emit(ctx, s.pub, s.log, events.BetCreated, string(model.TableBets), b.ID, b.CustomerID, audit.ActorFrom(ctx), b)
	return b, nil
}

// checkReferences verifies everything b points at exists and the stake is
// in the customer's currency. With openEvent the event must not be finished.
func checkReferences(ctx context.Context, tx store.Tx, b *model.Bet, openEvent bool) error {
	ok, err := tx.BookieExists(ctx, b.Bookie)
	if err != nil {
		return err
	}
	if !ok {
		return model.InvalidReference("bookie", b.Bookie)
	}
	ok, err = tx.SportExists(ctx, b.Sport)
	if err != nil {
		return err
	}
	if !ok {
		return model.InvalidReference("sport", b.Sport)
	}
	c, err := tx.GetCustomer(ctx, b.CustomerID)
	if err != nil {
		if model.IsNotFound(err) {
			return model.InvalidReference("customer_id", b.CustomerID)
		}
		return err
	}
	if b.Stake.Currency() != c.Currency {
		return model.CurrencyMismatch(c.Currency, b.Stake.Currency())
	}
	ev, err := tx.GetEvent(ctx, b.EventID)
	if err != nil {
		if model.IsNotFound(err) {
			return model.InvalidReference("event_id", b.EventID)
		}
		return err
	}
	if openEvent && ev.Status == model.EventFinished {
		return model.Validation("event_id", "event is finished")
	}
	return nil
}

// UpdateBet applies a partial update. Placement status moves only along
// pending→placed, pending→failed and placed→failed (unsettled). An outcome
// is recorded at most once and only on a placed bet; after that stake,
// odds and customer are frozen.
func (s *Service) UpdateBet(ctx context.Context, id int64, in UpdateBetInput) (*model.Bet, error) {
	if err := validate.Struct(in); err != nil {
		return nil, err
	}
	var status *model.PlacementStatus
	if in.PlacementStatus != nil {
		ps, err := parseStatus(*in.PlacementStatus)
		if err != nil {
			return nil, err
		}
		status = &ps
	}
	var outcome *model.Outcome
	if in.Outcome != nil {
		o, err := parseOutcome(*in.Outcome)
		if err != nil {
			return nil, err
		}
		outcome = o
	}
	if in.Stake != nil {
		if err := checkStake(*in.Stake); err != nil {
			return nil, err
		}
	}
	if in.Odds != nil {
		if err := checkOdds(*in.Odds); err != nil {
			return nil, err
		}
	}

	var (
		out     *model.Bet
		settled bool
	)
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		b, err := tx.GetBetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		before := b.Snapshot()
		wasSettled := b.Settled()

		if wasSettled && (in.Stake != nil || in.Odds != nil || in.CustomerID != nil) {
			return model.Conflict("bet", "stake, odds and customer are frozen once the bet is settled")
		}
		if status != nil {
			if err := checkTransition(b, *status); err != nil {
				return err
			}
			b.PlacementStatus = *status
		}
		if outcome != nil {
			if wasSettled {
				return model.Conflict("bet", "bet is already settled")
			}
			if b.PlacementStatus != model.PlacementPlaced {
				return model.Validation("outcome", "can only be set on a placed bet")
			}
			b.Outcome = outcome
		}

		refsChanged, eventChanged := false, false
		if in.Bookie != nil {
			b.Bookie = strings.TrimSpace(*in.Bookie)
			refsChanged = true
		}
		if in.CustomerID != nil {
			b.CustomerID = *in.CustomerID
			refsChanged = true
		}
		if in.BookieBetID != nil {
			b.BookieBetID = strings.TrimSpace(*in.BookieBetID)
		}
		if in.BetType != nil {
			b.BetType = *in.BetType
		}
		if in.EventID != nil {
			b.EventID = *in.EventID
			refsChanged, eventChanged = true, true
		}
		if in.Sport != nil {
			b.Sport = strings.TrimSpace(*in.Sport)
			refsChanged = true
		}
		if in.Stake != nil {
			b.Stake = *in.Stake
			refsChanged = true
		}
		if in.Odds != nil {
			b.Odds = *in.Odds
		}
		if in.PlacementData != nil {
			b.PlacementData = in.PlacementData
		}
		if refsChanged {
			if err := checkReferences(ctx, tx, b, eventChanged); err != nil {
				return err
			}
		}

		b.UpdatedAt = s.now()
		if err := tx.UpdateBet(ctx, b); err != nil {
			return err
		}
		out = b
		settled = !wasSettled && b.Settled()
		return s.recorder.Update(ctx, tx, model.TableBets, audit.RowID(b.ID), before, b.Snapshot())
	})
	if err != nil {
		return nil, err
	}

	actor := audit.ActorFrom(ctx)
	if settled {
		metrics.BetsSettledTotal.WithLabelValues(string(*out.Outcome)).Inc()
		s.log.Info("bet settled", zap.Int64("id", out.ID), zap.String("outcome", string(*out.Outcome)))
		notify.Emit(ctx, s.pub, s.log, events.BetSettled, string(model.TableBets), out.ID, out.CustomerID, actor, out)
	} else {
		notify.Emit(ctx, s.pub, s.log, events.BetUpdated, string(model.TableBets), out.ID, out.CustomerID, actor, out)
	}
	return out, nil
}

// DeleteBet hard-deletes a bet and audits the removed row.
func (s *Service) DeleteBet(ctx context.Context, id int64) error {
	var customerID int64
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		b, err := tx.GetBetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		customerID = b.CustomerID
		if err := tx.DeleteBet(ctx, id); err != nil {
			return err
		}
		return s.recorder.Delete(ctx, tx, model.TableBets, audit.RowID(id), b.Snapshot())
	})
	if err != nil {
		return err
	}
	s.log.Info("bet deleted", zap.Int64("id", id))
	notify.Emit(ctx, s.pub, s.log, events.BetDeleted, string(model.TableBets), id, customerID, audit.ActorFrom(ctx), map[string]int64{"id": id})
	return nil
}

func (s *Service) GetBet(ctx context.Context, id int64) (*model.Bet, error) {
	return s.store.GetBet(ctx, id)
}

// ListParams are the raw filters of ListBets.
type ListParams struct {
	CustomerID      *int64
	EventID         *int64
	Bookie          string
	PlacementStatus string
	Outcome         string
	Limit           int
	Offset          int
}

func (s *Service) ListBets(ctx context.Context, p ListParams) ([]model.Bet, error) {
	page, err := store.NewPage(p.Limit, p.Offset)
	if err != nil {
		return nil, err
	}
	f := store.BetFilter{CustomerID: p.CustomerID, EventID: p.EventID, Bookie: p.Bookie, Page: page}
	if p.PlacementStatus != "" {
		ps, err := parseStatus(p.PlacementStatus)
		if err != nil {
			return nil, err
		}
		f.PlacementStatus = ps
	}
	if p.Outcome != "" {
		o, err := parseOutcome(p.Outcome)
		if err != nil {
			return nil, err
		}
		f.Outcome = *o
	}
	return s.store.ListBets(ctx, f)
}

// Settlement previews the ledger entry that would credit a settled bet.
type Settlement struct {
	BetID      int64            `json:"bet_id"`
	CustomerID int64            `json:"customer_id"`
	Outcome    model.Outcome    `json:"outcome"`
	Amount     model.Money      `json:"amount"`
	ChangeType model.ChangeType `json:"change_type"`
	Delta      model.Money      `json:"delta"`
}

// PreviewSettlement computes the payout of bet id without moving money.
func (s *Service) PreviewSettlement(ctx context.Context, id int64) (*Settlement, error) {
	b, err := s.store.GetBet(ctx, id)
	if err != nil {
		return nil, err
	}
	amount, err := SettlementAmount(b)
	if err != nil {
		return nil, err
	}
	return &Settlement{
		BetID:      b.ID,
		CustomerID: b.CustomerID,
		Outcome:    *b.Outcome,
		Amount:     amount,
		ChangeType: model.ChangeBetSettled,
		Delta:      amount,
	}, nil
}
