// Package store defines the persistence interface for the ledger.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache for immutable rows), and in-memory (for testing).
package store

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/atmx/bet-ledger/internal/model"
)

// Store is the persistence interface. Every business write goes through
// WithTx so that the row change and its audit entry commit together.
type Store interface {
	Reader

	// WithTx runs fn inside one write transaction. A non-nil error from fn
	// rolls back every write fn made, audit rows included.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	Ping(ctx context.Context) error
	Close()
}

// Reader holds the read-only queries. They see committed data only and
// take no row locks.
type Reader interface {
	// --- Customers and ledger ---

	GetCustomer(ctx context.Context, id int64) (*model.Customer, error)
	ListCustomers(ctx context.Context, f CustomerFilter) ([]model.Customer, error)

	// GetBalanceChange retrieves an immutable ledger entry.
	GetBalanceChange(ctx context.Context, id int64) (*model.BalanceChange, error)

	// ListBalanceChanges returns ledger entries newest first.
	ListBalanceChanges(ctx context.Context, f BalanceChangeFilter) ([]model.BalanceChange, error)

	// SumBalanceChanges returns Σ delta over a customer's ledger.
	SumBalanceChanges(ctx context.Context, customerID int64) (decimal.Decimal, error)

	// --- Bets ---

	GetBet(ctx context.Context, id int64) (*model.Bet, error)

	// ListBets returns bets newest first.
	ListBets(ctx context.Context, f BetFilter) ([]model.Bet, error)

	// --- Reference data ---

	GetEvent(ctx context.Context, id int64) (*model.Event, error)
	GetResult(ctx context.Context, eventID int64) (*model.Result, error)

	// --- Audit ---

	GetAuditLog(ctx context.Context, id int64) (*model.AuditLogEntry, error)

	// ListAuditLogs returns entries ordered by changed_at desc, id desc.
	ListAuditLogs(ctx context.Context, f AuditFilter) ([]model.AuditLogEntry, error)

	// --- Reporting ---

	// LoadReportData reads a consistent view of everything the analytics
	// engine aggregates over.
	LoadReportData(ctx context.Context) (*ReportData, error)
}

// Tx is a write transaction. Get*ForUpdate methods lock the row until the
// transaction ends; concurrent writers on the same row wait.
type Tx interface {
	// --- Customers ---

	InsertCustomer(ctx context.Context, c *model.Customer) error
	GetCustomer(ctx context.Context, id int64) (*model.Customer, error)
	GetCustomerForUpdate(ctx context.Context, id int64) (*model.Customer, error)
	UpdateCustomer(ctx context.Context, c *model.Customer) error
	DeleteCustomer(ctx context.Context, id int64) error

	// CountCustomerDependents counts bets and ledger entries referencing a customer.
	CountCustomerDependents(ctx context.Context, id int64) (bets, changes int64, err error)

	// --- Ledger ---

	// InsertBalanceChange appends a ledger entry. Entries are never updated.
	InsertBalanceChange(ctx context.Context, bc *model.BalanceChange) error
	SumBalanceChanges(ctx context.Context, customerID int64) (decimal.Decimal, error)

	// --- Bets ---

	// InsertBet fails with model.ErrConflict when (bookie, bookie_bet_id)
	// is already taken.
	InsertBet(ctx context.Context, b *model.Bet) error
	GetBetForUpdate(ctx context.Context, id int64) (*model.Bet, error)
	UpdateBet(ctx context.Context, b *model.Bet) error
	DeleteBet(ctx context.Context, id int64) error

	// --- Reference data ---

	InsertSport(ctx context.Context, s *model.Sport) error
	SportExists(ctx context.Context, name string) (bool, error)
	InsertBookie(ctx context.Context, b *model.Bookie) error
	BookieExists(ctx context.Context, name string) (bool, error)
	InsertCompetition(ctx context.Context, c *model.Competition) error
	CompetitionExists(ctx context.Context, id int64) (bool, error)
	InsertTeam(ctx context.Context, t *model.Team) error
	TeamExists(ctx context.Context, id int64) (bool, error)
	InsertEvent(ctx context.Context, e *model.Event) error
	GetEvent(ctx context.Context, id int64) (*model.Event, error)
	GetEventForUpdate(ctx context.Context, id int64) (*model.Event, error)
	UpdateEvent(ctx context.Context, e *model.Event) error
	DeleteEvent(ctx context.Context, id int64) error

	// CountEventDependents counts bets and results referencing an event.
	CountEventDependents(ctx context.Context, id int64) (bets, results int64, err error)

	InsertResult(ctx context.Context, r *model.Result) error
	GetResultForUpdate(ctx context.Context, eventID int64) (*model.Result, error)
	UpdateResult(ctx context.Context, r *model.Result) error

	// --- Audit ---

	InsertAuditLog(ctx context.Context, e *model.AuditLogEntry) error
}

// Page bounds a list query. Limit <= 0 means no limit.
type Page struct {
	Limit  int
	Offset int
}

const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

// NewPage validates list paging. A zero limit selects DefaultLimit.
func NewPage(limit, offset int) (Page, error) {
	if limit == 0 {
		limit = DefaultLimit
	}
	if limit < 1 || limit > MaxLimit {
		return Page{}, model.Validation("limit", fmt.Sprintf("must be between 1 and %d", MaxLimit))
	}
	if offset < 0 {
		return Page{}, model.Validation("offset", "must be >= 0")
	}
	return Page{Limit: limit, Offset: offset}, nil
}

// BetFilter narrows ListBets. Zero-valued fields do not filter.
type BetFilter struct {
	CustomerID      *int64
	EventID         *int64
	Bookie          string
	PlacementStatus model.PlacementStatus
	Outcome         model.Outcome
	Page
}

// CustomerFilter narrows ListCustomers.
type CustomerFilter struct {
	Status   model.CustomerStatus
	Currency model.Currency
	Page
}

// BalanceChangeFilter narrows ListBalanceChanges.
type BalanceChangeFilter struct {
	CustomerID *int64
	ChangeType model.ChangeType
	Page
}

// AuditFilter narrows ListAuditLogs.
type AuditFilter struct {
	TableName model.Table
	Operation model.Operation
	RowID     *int64
	Page
}

// ReportData is the read-side input of the analytics engine. Rows are
// projections: customers carry only id, username and real name, and
// credentials are never loaded.
type ReportData struct {
	Customers    []model.Customer
	Bets         []model.Bet
	Events       []model.Event
	Results      []model.Result
	Competitions []model.Competition
}
