package betting

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/atmx/bet-ledger/internal/model"
)

var (
	MinOdds = decimal.RequireFromString("1.01")
	MaxOdds = decimal.RequireFromString("999")
)

// oddsScale matches the NUMERIC(10,4) odds column.
const oddsScale = 4

func checkOdds(odds decimal.Decimal) error {
	if odds.LessThan(MinOdds) || odds.GreaterThan(MaxOdds) {
		return model.Validation("odds", fmt.Sprintf("must be between %s and %s", MinOdds, MaxOdds))
	}
	if !odds.Truncate(oddsScale).Equal(odds) {
		return model.Validation("odds", fmt.Sprintf("must have at most %d decimal places", oddsScale))
	}
	return nil
}

func checkStake(stake model.Money) error {
	if stake.Currency() == "" {
		return model.Validation("stake", "is required")
	}
	if !stake.IsPositive() {
		return model.Validation("stake", "amount must be greater than 0")
	}
	return nil
}

func parseStatus(s string) (model.PlacementStatus, error) {
	ps := model.PlacementStatus(strings.ToLower(strings.TrimSpace(s)))
	if !ps.Valid() {
		return "", model.Validation("placement_status", fmt.Sprintf("unknown placement status %q", s))
	}
	return ps, nil
}

// parseOutcome treats the empty string as "no outcome".
func parseOutcome(s string) (*model.Outcome, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return nil, nil
	}
	o := model.Outcome(s)
	if !o.Valid() {
		return nil, model.Validation("outcome", fmt.Sprintf("unknown outcome %q", s))
	}
	return &o, nil
}

// checkTransition enforces pending→placed, pending→failed and placed→failed
// while unsettled. Restating the current status is allowed.
func checkTransition(b *model.Bet, to model.PlacementStatus) error {
	from := b.PlacementStatus
	if from == to {
		return nil
	}
	switch {
	case from == model.PlacementPending && (to == model.PlacementPlaced || to == model.PlacementFailed):
		return nil
	case from == model.PlacementPlaced && to == model.PlacementFailed && !b.Settled():
		return nil
	}
	return model.Conflict("bet", fmt.Sprintf("cannot move bet %d from %s to %s", b.ID, from, to))
}

// SettlementAmount is what a settled bet pays back: stake × odds rounded
// half-up to cents on a win, the stake on a void, nothing on a loss.
func SettlementAmount(b *model.Bet) (model.Money, error) {
	if b.PlacementStatus != model.PlacementPlaced {
		return model.Money{}, model.Validation("placement_status", "bet is not placed")
	}
	if b.Outcome == nil {
		return model.Money{}, model.Validation("outcome", "bet is not settled")
	}
	switch *b.Outcome {
	case model.OutcomeWin:
		return b.Stake.MulRound(b.Odds), nil
	case model.OutcomeVoid:
		return b.Stake, nil
	default:
		return model.Zero(b.Stake.Currency()), nil
	}
}
