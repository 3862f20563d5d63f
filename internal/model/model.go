// Package model defines the ledger's domain types: customers, balance
// changes, bets, audit entries and the reference entities bets point at.
// All monetary values are Money backed by shopspring/decimal.
package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type CustomerStatus string

const (
	CustomerActive   CustomerStatus = "active"
	CustomerDisabled CustomerStatus = "disabled"
)

// ChangeType classifies a ledger entry.
type ChangeType string

const (
	ChangeTopUp      ChangeType = "top_up"
	ChangeBetPlaced  ChangeType = "bet_placed"
	ChangeBetSettled ChangeType = "bet_settled"
	ChangeWithdrawal ChangeType = "withdrawal"
	ChangeAdjustment ChangeType = "adjustment"
)

func (c ChangeType) Valid() bool {
	switch c {
	case ChangeTopUp, ChangeBetPlaced, ChangeBetSettled, ChangeWithdrawal, ChangeAdjustment:
		return true
	}
	return false
}

// PlacementStatus tracks whether the bookie accepted a bet.
type PlacementStatus string

const (
	PlacementPending PlacementStatus = "pending"
	PlacementPlaced  PlacementStatus = "placed"
	PlacementFailed  PlacementStatus = "failed"
)

func (p PlacementStatus) Valid() bool {
	switch p {
	case PlacementPending, PlacementPlaced, PlacementFailed:
		return true
	}
	return false
}

// Outcome is the settled result of a bet. Unsettled bets carry a nil *Outcome.
type Outcome string

const (
	OutcomeWin  Outcome = "win"
	OutcomeLose Outcome = "lose"
	OutcomeVoid Outcome = "void"
)

func (o Outcome) Valid() bool {
	switch o {
	case OutcomeWin, OutcomeLose, OutcomeVoid:
		return true
	}
	return false
}

type EventStatus string

const (
	EventPrematch EventStatus = "prematch"
	EventLive     EventStatus = "live"
	EventFinished EventStatus = "finished"
)

func (s EventStatus) Valid() bool {
	switch s {
	case EventPrematch, EventLive, EventFinished:
		return true
	}
	return false
}

// Table names an audited entity.
type Table string

const (
	TableCustomers      Table = "customers"
	TableBets           Table = "bets"
	TableBalanceChanges Table = "balance_changes"
	TableEvents         Table = "events"
	TableResults        Table = "results"
	TableTeams          Table = "teams"
	TableCompetitions   Table = "competitions"
	TableBookies        Table = "bookies"
	TableSports         Table = "sports"
)

// TrackedTables lists every table whose mutations are audited.
var TrackedTables = []Table{
	TableCustomers, TableBets, TableBalanceChanges, TableEvents, TableResults,
	TableTeams, TableCompetitions, TableBookies, TableSports,
}

func ParseTable(s string) (Table, error) {
	for _, t := range TrackedTables {
		if string(t) == s {
			return t, nil
		}
	}
	return "", Validation("table_name", fmt.Sprintf("unknown table %q", s))
}

type Operation string

const (
	OpInsert Operation = "INSERT"
	OpUpdate Operation = "UPDATE"
	OpDelete Operation = "DELETE"
)

func ParseOperation(s string) (Operation, error) {
	switch op := Operation(s); op {
	case OpInsert, OpUpdate, OpDelete:
		return op, nil
	}
	return "", Validation("operation", fmt.Sprintf("unknown operation %q", s))
}

// Customer owns a balance. Balance only moves through ledger entries.
type Customer struct {
	ID             int64          `json:"id"`
	Username       string         `json:"username"`
	Password       string         `json:"-"`
	RealName       string         `json:"real_name"`
	Currency       Currency       `json:"currency"`
	Status         CustomerStatus `json:"status"`
	Balance        Money          `json:"balance"`
	OpeningBalance Money          `json:"opening_balance"`
	Preferences    map[string]any `json:"preferences"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

func (c *Customer) Snapshot() Snapshot {
	return Snapshot{
		{"id", c.ID},
		{"username", c.Username},
		{"password", c.Password},
		{"real_name", c.RealName},
		{"currency", string(c.Currency)},
		{"status", string(c.Status)},
		{"balance", c.Balance.snapshotValue()},
		{"opening_balance", c.OpeningBalance.snapshotValue()},
		{"preferences", mapValue(c.Preferences)},
		{"created_at", snapshotTime(c.CreatedAt)},
		{"updated_at", snapshotTime(c.UpdatedAt)},
	}
}

// BalanceChange is an immutable ledger entry.
type BalanceChange struct {
	ID          int64      `json:"id"`
	CustomerID  int64      `json:"customer_id"`
	ChangeType  ChangeType `json:"change_type"`
	Delta       Money      `json:"delta"`
	ReferenceID *string    `json:"reference_id"`
	Description *string    `json:"description"`
	CreatedAt   time.Time  `json:"created_at"`
}

func (b *BalanceChange) Snapshot() Snapshot {
	return Snapshot{
		{"id", b.ID},
		{"customer_id", b.CustomerID},
		{"change_type", string(b.ChangeType)},
		{"delta", b.Delta.snapshotValue()},
		{"reference_id", optString(b.ReferenceID)},
		{"description", optString(b.Description)},
		{"created_at", snapshotTime(b.CreatedAt)},
	}
}

// Bet is a wager placed with a bookie on behalf of a customer.
type Bet struct {
	ID              int64           `json:"id"`
	Bookie          string          `json:"bookie"`
	CustomerID      int64           `json:"customer_id"`
	BookieBetID     string          `json:"bookie_bet_id"`
	BetType         string          `json:"bet_type"`
	EventID         int64           `json:"event_id"`
	Sport           string          `json:"sport"`
	PlacementStatus PlacementStatus `json:"placement_status"`
	Outcome         *Outcome        `json:"outcome"`
	Stake           Money           `json:"stake"`
	Odds            decimal.Decimal `json:"odds"`
	PlacementData   map[string]any  `json:"placement_data"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Settled reports whether an outcome has been recorded.
func (b *Bet) Settled() bool { return b.Outcome != nil }

func (b *Bet) Snapshot() Snapshot {
	var outcome any
	if b.Outcome != nil {
		outcome = string(*b.Outcome)
	}
	return Snapshot{
		{"id", b.ID},
		{"bookie", b.Bookie},
		{"customer_id", b.CustomerID},
		{"bookie_bet_id", b.BookieBetID},
		{"bet_type", b.BetType},
		{"event_id", b.EventID},
		{"sport", b.Sport},
		{"placement_status", string(b.PlacementStatus)},
		{"outcome", outcome},
		{"stake", b.Stake.snapshotValue()},
		{"odds", b.Odds.String()},
		{"placement_data", mapValue(b.PlacementData)},
		{"created_at", snapshotTime(b.CreatedAt)},
		{"updated_at", snapshotTime(b.UpdatedAt)},
	}
}

// AuditLogEntry records one mutation of a tracked row.
// OldData is nil on INSERT, NewData is nil on DELETE.
type AuditLogEntry struct {
	ID        int64     `json:"id"`
	TableName Table     `json:"table_name"`
	Operation Operation `json:"operation"`
	Actor     string    `json:"actor"`
	ChangedAt time.Time `json:"changed_at"`
	RowID     *int64    `json:"row_id"`
	OldData   Snapshot  `json:"old_data"`
	NewData   Snapshot  `json:"new_data"`
}

// --- Reference entities ---

type Sport struct {
	Name string `json:"name"`
}

func (s *Sport) Snapshot() Snapshot {
	return Snapshot{{"name", s.Name}}
}

type Bookie struct {
	Name        string         `json:"name"`
	Description *string        `json:"description"`
	Preferences map[string]any `json:"preferences"`
}

func (b *Bookie) Snapshot() Snapshot {
	return Snapshot{
		{"name", b.Name},
		{"description", optString(b.Description)},
		{"preferences", mapValue(b.Preferences)},
	}
}

type Competition struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Country   string    `json:"country"`
	Sport     string    `json:"sport"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (c *Competition) Snapshot() Snapshot {
	return Snapshot{
		{"id", c.ID},
		{"name", c.Name},
		{"country", c.Country},
		{"sport", c.Sport},
		{"active", c.Active},
		{"created_at", snapshotTime(c.CreatedAt)},
		{"updated_at", snapshotTime(c.UpdatedAt)},
	}
}

type Team struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Country   string    `json:"country"`
	Sport     string    `json:"sport"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (t *Team) Snapshot() Snapshot {
	return Snapshot{
		{"id", t.ID},
		{"name", t.Name},
		{"country", t.Country},
		{"sport", t.Sport},
		{"created_at", snapshotTime(t.CreatedAt)},
		{"updated_at", snapshotTime(t.UpdatedAt)},
	}
}

type Event struct {
	ID            int64       `json:"id"`
	Date          time.Time   `json:"date"`
	CompetitionID int64       `json:"competition_id"`
	TeamAID       int64       `json:"team_a_id"`
	TeamBID       int64       `json:"team_b_id"`
	Status        EventStatus `json:"status"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

func (e *Event) Snapshot() Snapshot {
	return Snapshot{
		{"id", e.ID},
		{"date", snapshotTime(e.Date)},
		{"competition_id", e.CompetitionID},
		{"team_a_id", e.TeamAID},
		{"team_b_id", e.TeamBID},
		{"status", string(e.Status)},
		{"created_at", snapshotTime(e.CreatedAt)},
		{"updated_at", snapshotTime(e.UpdatedAt)},
	}
}

// Result holds the final score of an event. Either side may be unknown.
type Result struct {
	EventID   int64     `json:"event_id"`
	ScoreA    *int      `json:"score_a"`
	ScoreB    *int      `json:"score_b"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (r *Result) Snapshot() Snapshot {
	return Snapshot{
		{"event_id", r.EventID},
		{"score_a", optInt(r.ScoreA)},
		{"score_b", optInt(r.ScoreB)},
		{"created_at", snapshotTime(r.CreatedAt)},
		{"updated_at", snapshotTime(r.UpdatedAt)},
	}
}
