package betting_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atmx/bet-ledger/internal/betting"
	"github.com/atmx/bet-ledger/internal/model"
	"github.com/atmx/bet-ledger/internal/notify"
	"github.com/atmx/bet-ledger/internal/store"
	"github.com/atmx/bet-ledger/pkg/contracts/events"
)

var fixedNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	store      *store.MemoryStore
	svc        *betting.Service
	pub        *notify.Memory
	customerID int64
	eventID    int64
	finishedID int64
}

func setup(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	ms := store.NewMemoryStore()
	f := &fixture{store: ms, pub: &notify.Memory{}}

	err := ms.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.InsertSport(ctx, &model.Sport{Name: "football"}); err != nil {
			return err
		}
		if err := tx.InsertBookie(ctx, &model.Bookie{Name: "bet365"}); err != nil {
			return err
		}
		c := &model.Customer{
			Username: "alice", Password: "x", RealName: "Alice", Currency: model.USD,
			Status: model.CustomerActive, Balance: model.Zero(model.USD), OpeningBalance: model.Zero(model.USD),
			CreatedAt: fixedNow, UpdatedAt: fixedNow,
		}
		if err := tx.InsertCustomer(ctx, c); err != nil {
			return err
		}
		f.customerID = c.ID
		open := &model.Event{Date: fixedNow.Add(24 * time.Hour), CompetitionID: 1, TeamAID: 1, TeamBID: 2, Status: model.EventPrematch}
		if err := tx.InsertEvent(ctx, open); err != nil {
			return err
		}
		f.eventID = open.ID
		done := &model.Event{Date: fixedNow.Add(-24 * time.Hour), CompetitionID: 1, TeamAID: 1, TeamBID: 2, Status: model.EventFinished}
		if err := tx.InsertEvent(ctx, done); err != nil {
			return err
		}
		f.finishedID = done.ID
		return nil
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	f.svc = betting.NewService(ms, zap.NewNop(),
		betting.WithClock(func() time.Time { return fixedNow }),
		betting.WithPublisher(f.pub))
	return f
}

func (f *fixture) input(bookieBetID string) betting.CreateBetInput {
	return betting.CreateBetInput{
		Bookie:      "bet365",
		CustomerID:  f.customerID,
		BookieBetID: bookieBetID,
		BetType:     "single",
		EventID:     f.eventID,
		Sport:       "football",
		Stake:       model.MustMoney("100.00", model.USD),
		Odds:        decimal.RequireFromString("2.50"),
	}
}

func ptr[T any](v T) *T { return &v }

func TestCreateBet_DefaultsAndAudit(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	b, err := f.svc.CreateBet(ctx, f.input("B-1"))
	if err != nil {
		t.Fatalf("create bet: %v", err)
	}
	if b.PlacementStatus != model.PlacementPending || b.Outcome != nil {
		t.Errorf("unexpected state %s/%v", b.PlacementStatus, b.Outcome)
	}

	logs, _ := f.store.ListAuditLogs(ctx, store.AuditFilter{TableName: model.TableBets})
	if len(logs) != 1 || logs[0].Operation != model.OpInsert || *logs[0].RowID != b.ID {
		t.Fatalf("unexpected audit %+v", logs)
	}
	if v, _ := logs[0].NewData.Get("bookie_bet_id"); v != "B-1" {
		t.Errorf("snapshot bookie_bet_id = %v", v)
	}
	if evs := f.pub.Events(); len(evs) != 1 || evs[0].Type != events.BetCreated {
		t.Errorf("unexpected events %+v", evs)
	}
}

func TestCreateBet_DuplicateBookieBetID(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	if _, err := f.svc.CreateBet(ctx, f.input("B-1")); err != nil {
		t.Fatal(err)
	}
	_, err := f.svc.CreateBet(ctx, f.input("B-1"))
	if !errors.Is(err, model.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	bets, _ := f.svc.ListBets(ctx, betting.ListParams{})
	if len(bets) != 1 {
		t.Errorf("expected 1 bet, got %d", len(bets))
	}
}

func TestCreateBet_Rejections(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(*betting.CreateBetInput)
		want   error
		field  string
	}{
		{"odds too low", func(in *betting.CreateBetInput) { in.Odds = decimal.RequireFromString("1.00") }, model.ErrValidation, "odds"},
		{"odds too high", func(in *betting.CreateBetInput) { in.Odds = decimal.RequireFromString("999.01") }, model.ErrValidation, "odds"},
		{"odds past four places", func(in *betting.CreateBetInput) { in.Odds = decimal.RequireFromString("1.50001") }, model.ErrValidation, "odds"},
		{"bookie_bet_id too long", func(in *betting.CreateBetInput) { in.BookieBetID = strings.Repeat("x", 101) }, model.ErrValidation, "bookie_bet_id"},
		{"bet_type too long", func(in *betting.CreateBetInput) { in.BetType = strings.Repeat("x", 51) }, model.ErrValidation, "bet_type"},
		{"bookie too long", func(in *betting.CreateBetInput) { in.Bookie = strings.Repeat("x", 51) }, model.ErrValidation, "bookie"},
		{"zero stake", func(in *betting.CreateBetInput) { in.Stake = model.Zero(model.USD) }, model.ErrValidation, "stake"},
		{"negative stake", func(in *betting.CreateBetInput) { in.Stake = model.MustMoney("-5.00", model.USD) }, model.ErrValidation, "stake"},
		{"stake currency", func(in *betting.CreateBetInput) { in.Stake = model.MustMoney("5.00", model.GBP) }, model.ErrCurrencyMismatch, ""},
		{"unknown bookie", func(in *betting.CreateBetInput) { in.Bookie = "nobody" }, model.ErrInvalidReference, "bookie"},
		{"unknown sport", func(in *betting.CreateBetInput) { in.Sport = "curling" }, model.ErrInvalidReference, "sport"},
		{"unknown customer", func(in *betting.CreateBetInput) { in.CustomerID = 999 }, model.ErrInvalidReference, "customer_id"},
		{"unknown event", func(in *betting.CreateBetInput) { in.EventID = 999 }, model.ErrInvalidReference, "event_id"},
		{"finished event", func(in *betting.CreateBetInput) { in.EventID = f.finishedID }, model.ErrValidation, "event_id"},
		{"bad status", func(in *betting.CreateBetInput) { in.PlacementStatus = "lost" }, model.ErrValidation, "placement_status"},
		{"outcome while pending", func(in *betting.CreateBetInput) { in.Outcome = "win" }, model.ErrValidation, "outcome"},
		{"missing bookie_bet_id", func(in *betting.CreateBetInput) { in.BookieBetID = " " }, model.ErrValidation, "bookie_bet_id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := f.input("B-" + tt.name)
			tt.mutate(&in)
			_, err := f.svc.CreateBet(ctx, in)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if tt.field != "" && model.FieldOf(err) != tt.field {
				t.Errorf("field = %q, want %q", model.FieldOf(err), tt.field)
			}
		})
	}

	logs, _ := f.store.ListAuditLogs(ctx, store.AuditFilter{TableName: model.TableBets})
	if len(logs) != 0 {
		t.Errorf("rejected bets wrote %d audit rows", len(logs))
	}
}

func TestCreateBet_OddsBoundsInclusive(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	for i, odds := range []string{"1.01", "999", "2.3456", "1.50000"} {
		in := f.input("edge-" + odds)
		in.Odds = decimal.RequireFromString(odds)
		if _, err := f.svc.CreateBet(ctx, in); err != nil {
			t.Errorf("case %d: odds %s rejected: %v", i, odds, err)
		}
	}
}

func TestUpdateBet_Lifecycle(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	b, err := f.svc.CreateBet(ctx, f.input("B-1"))
	if err != nil {
		t.Fatal(err)
	}

	// Placing and settling in one update is allowed.
	b, err = f.svc.UpdateBet(ctx, b.ID, betting.UpdateBetInput{PlacementStatus: ptr("placed"), Outcome: ptr("WIN")})
	if err != nil {
		t.Fatalf("place+settle: %v", err)
	}
	if b.PlacementStatus != model.PlacementPlaced || b.Outcome == nil || *b.Outcome != model.OutcomeWin {
		t.Fatalf("unexpected bet %+v", b)
	}

	if _, err := f.svc.UpdateBet(ctx, b.ID, betting.UpdateBetInput{Outcome: ptr("lose")}); !errors.Is(err, model.ErrConflict) {
		t.Errorf("re-settlement: expected ErrConflict, got %v", err)
	}
	if _, err := f.svc.UpdateBet(ctx, b.ID, betting.UpdateBetInput{Stake: ptr(model.MustMoney("1.00", model.USD))}); !errors.Is(err, model.ErrConflict) {
		t.Errorf("stake after settlement: expected ErrConflict, got %v", err)
	}
	if _, err := f.svc.UpdateBet(ctx, b.ID, betting.UpdateBetInput{Odds: ptr(decimal.RequireFromString("3"))}); !errors.Is(err, model.ErrConflict) {
		t.Errorf("odds after settlement: expected ErrConflict, got %v", err)
	}
	if _, err := f.svc.UpdateBet(ctx, b.ID, betting.UpdateBetInput{PlacementStatus: ptr("failed")}); !errors.Is(err, model.ErrConflict) {
		t.Errorf("fail after settlement: expected ErrConflict, got %v", err)
	}

	// Non-financial fields stay editable.
	b, err = f.svc.UpdateBet(ctx, b.ID, betting.UpdateBetInput{BetType: ptr("accumulator")})
	if err != nil {
		t.Fatalf("bet_type update: %v", err)
	}
	if b.BetType != "accumulator" {
		t.Errorf("bet_type = %s", b.BetType)
	}

	logs, _ := f.store.ListAuditLogs(ctx, store.AuditFilter{TableName: model.TableBets, Operation: model.OpUpdate})
	if len(logs) != 2 {
		t.Fatalf("expected 2 UPDATE entries, got %d", len(logs))
	}
	settle := logs[1]
	if v, _ := settle.OldData.Get("outcome"); v != nil {
		t.Errorf("old outcome = %v, want nil", v)
	}
	if v, _ := settle.NewData.Get("outcome"); v != "win" {
		t.Errorf("new outcome = %v, want win", v)
	}

	var settledEvents int
	for _, e := range f.pub.Events() {
		if e.Type == events.BetSettled {
			settledEvents++
		}
	}
	if settledEvents != 1 {
		t.Errorf("expected 1 settled event, got %d", settledEvents)
	}
}

func TestUpdateBet_Transitions(t *testing.T) {
	tests := []struct {
		name  string
		steps []string
		want  error
	}{
		{"pending to placed", []string{"placed"}, nil},
		{"pending to failed", []string{"failed"}, nil},
		{"placed to failed", []string{"placed", "failed"}, nil},
		{"restate pending", []string{"pending"}, nil},
		{"failed is terminal", []string{"failed", "placed"}, model.ErrConflict},
		{"placed back to pending", []string{"placed", "pending"}, model.ErrConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setup(t)
			ctx := context.Background()
			b, err := f.svc.CreateBet(ctx, f.input("B-1"))
			if err != nil {
				t.Fatal(err)
			}
			for i, step := range tt.steps {
				_, err = f.svc.UpdateBet(ctx, b.ID, betting.UpdateBetInput{PlacementStatus: ptr(step)})
				if i < len(tt.steps)-1 && err != nil {
					t.Fatalf("step %s: %v", step, err)
				}
			}
			if tt.want == nil && err != nil {
				t.Fatalf("unexpected error %v", err)
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestUpdateBet_OutcomeRequiresPlaced(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	b, err := f.svc.CreateBet(ctx, f.input("B-1"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.UpdateBet(ctx, b.ID, betting.UpdateBetInput{Outcome: ptr("win")}); !errors.Is(err, model.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if _, err := f.svc.UpdateBet(ctx, 999, betting.UpdateBetInput{BetType: ptr("x")}); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteBet(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	b, err := f.svc.CreateBet(ctx, f.input("B-1"))
	if err != nil {
		t.Fatal(err)
	}
	if err := f.svc.DeleteBet(ctx, b.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.GetBet(ctx, b.ID); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := f.svc.DeleteBet(ctx, b.ID); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("second delete: expected ErrNotFound, got %v", err)
	}
	logs, _ := f.store.ListAuditLogs(ctx, store.AuditFilter{TableName: model.TableBets, Operation: model.OpDelete})
	if len(logs) != 1 || logs[0].NewData != nil || logs[0].OldData == nil {
		t.Fatalf("unexpected DELETE entries %+v", logs)
	}
}

func TestListBets_Filters(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	for _, id := range []string{"B-1", "B-2", "B-3"} {
		if _, err := f.svc.CreateBet(ctx, f.input(id)); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := f.svc.UpdateBet(ctx, 2, betting.UpdateBetInput{PlacementStatus: ptr("placed"), Outcome: ptr("void")}); err != nil {
		t.Fatal(err)
	}

	all, err := f.svc.ListBets(ctx, betting.ListParams{CustomerID: &f.customerID})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 || all[0].ID != 3 {
		t.Fatalf("expected 3 bets newest first, got %+v", all)
	}
	voids, _ := f.svc.ListBets(ctx, betting.ListParams{Outcome: "void"})
	if len(voids) != 1 || voids[0].ID != 2 {
		t.Errorf("outcome filter returned %+v", voids)
	}
	pending, _ := f.svc.ListBets(ctx, betting.ListParams{PlacementStatus: "pending", Limit: 1, Offset: 1})
	if len(pending) != 1 || pending[0].ID != 1 {
		t.Errorf("paged pending filter returned %+v", pending)
	}
	if _, err := f.svc.ListBets(ctx, betting.ListParams{Outcome: "draw"}); !errors.Is(err, model.ErrValidation) {
		t.Errorf("expected ErrValidation for unknown outcome, got %v", err)
	}
	if _, err := f.svc.ListBets(ctx, betting.ListParams{Limit: 1001}); !errors.Is(err, model.ErrValidation) {
		t.Errorf("expected ErrValidation for limit, got %v", err)
	}
}

func TestSettlementAmount(t *testing.T) {
	placed := func(outcome model.Outcome, stake, odds string) *model.Bet {
		return &model.Bet{
			PlacementStatus: model.PlacementPlaced,
			Outcome:         &outcome,
			Stake:           model.MustMoney(stake, model.USD),
			Odds:            decimal.RequireFromString(odds),
		}
	}
	tests := []struct {
		name string
		bet  *model.Bet
		want string
	}{
		{"win exact", placed(model.OutcomeWin, "100.00", "2.50"), "250.00"},
		{"win rounds half up", placed(model.OutcomeWin, "10.01", "1.05"), "10.51"},
		{"void refunds stake", placed(model.OutcomeVoid, "42.10", "3.00"), "42.10"},
		{"lose pays nothing", placed(model.OutcomeLose, "42.10", "3.00"), "0.00"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := betting.SettlementAmount(tt.bet)
			if err != nil {
				t.Fatal(err)
			}
			if got.StringFixed() != tt.want || got.Currency() != model.USD {
				t.Errorf("got %s, want %s USD", got, tt.want)
			}
		})
	}

	pending := &model.Bet{PlacementStatus: model.PlacementPending, Stake: model.MustMoney("1.00", model.USD), Odds: decimal.NewFromInt(2)}
	if _, err := betting.SettlementAmount(pending); !errors.Is(err, model.ErrValidation) {
		t.Errorf("expected ErrValidation for pending bet, got %v", err)
	}
	unsettled := &model.Bet{PlacementStatus: model.PlacementPlaced, Stake: model.MustMoney("1.00", model.USD), Odds: decimal.NewFromInt(2)}
	if _, err := betting.SettlementAmount(unsettled); !errors.Is(err, model.ErrValidation) {
		t.Errorf("expected ErrValidation for unsettled bet, got %v", err)
	}
}

func TestPreviewSettlement(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	b, err := f.svc.CreateBet(ctx, f.input("B-1"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.PreviewSettlement(ctx, b.ID); !errors.Is(err, model.ErrValidation) {
		t.Fatalf("expected ErrValidation before settlement, got %v", err)
	}
	if _, err := f.svc.UpdateBet(ctx, b.ID, betting.UpdateBetInput{PlacementStatus: ptr("placed"), Outcome: ptr("win")}); err != nil {
		t.Fatal(err)
	}
	p, err := f.svc.PreviewSettlement(ctx, b.ID)
	if err != nil {
		t.Fatal(err)
	}
	if p.ChangeType != model.ChangeBetSettled || !p.Delta.Equal(model.MustMoney("250.00", model.USD)) {
		t.Errorf("unexpected preview %+v", p)
	}
}
