package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/atmx/bet-ledger/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision
// and travel to and from the driver as text.
type PostgresStore struct {
	pool             *pgxpool.Pool
	lockTimeout      time.Duration
	statementTimeout time.Duration
}

// NewPostgresStore creates a new PostgreSQL-backed store. Write
// transactions give up waiting for a row lock after lockTimeout.
func NewPostgresStore(pool *pgxpool.Pool, lockTimeout, statementTimeout time.Duration) *PostgresStore {
	return &PostgresStore{pool: pool, lockTimeout: lockTimeout, statementTimeout: statementTimeout}
}

func (s *PostgresStore) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }
func (s *PostgresStore) Close()                         { s.pool.Close() }

func (s *PostgresStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return classify(fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	if s.lockTimeout > 0 {
		if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeout.Milliseconds())); err != nil {
			return classify(err)
		}
	}
	if s.statementTimeout > 0 {
		if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL statement_timeout = '%dms'", s.statementTimeout.Milliseconds())); err != nil {
			return classify(err)
		}
	}

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return classify(fmt.Errorf("commit: %w", err))
	}
	return nil
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type scanner interface {
	Scan(dest ...any) error
}

// constraintFields names the request field behind each schema constraint.
var constraintFields = map[string]string{
	"customers_username_key":           "username",
	"bets_bookie_bookie_bet_id_key":    "bookie_bet_id",
	"bets_bookie_fkey":                 "bookie",
	"bets_customer_id_fkey":            "customer_id",
	"bets_event_id_fkey":               "event_id",
	"bets_sport_fkey":                  "sport",
	"balance_changes_customer_id_fkey": "customer_id",
	"competitions_sport_fkey":          "sport",
	"teams_sport_fkey":                 "sport",
	"events_competition_id_fkey":       "competition_id",
	"events_team_a_id_fkey":            "team_a_id",
	"events_team_b_id_fkey":            "team_b_id",
	"results_event_id_fkey":            "event_id",
	"bets_odds_check":                  "odds",
	"bets_stake_amount_check":          "stake",
	"customers_balance_amount_check":   "balance",
}

// classify maps driver errors onto the ledger error taxonomy. Messages stay
// generic; the driver error is kept as the cause for logs.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		field := constraintFields[pgErr.ConstraintName]
		switch pgErr.Code {
		case "23505": // unique_violation
			return &model.Error{Kind: model.ErrConflict, Field: field, Msg: describe(field, "duplicate value"), Err: err}
		case "23503": // foreign_key_violation
			return &model.Error{Kind: model.ErrInvalidReference, Field: field, Msg: describe(field, "referenced row does not exist"), Err: err}
		case "23514": // check_violation
			return &model.Error{Kind: model.ErrValidation, Field: field, Msg: describe(field, "value out of range"), Err: err}
		case "22001": // string_data_right_truncation
			return &model.Error{Kind: model.ErrValidation, Msg: "value too long", Err: err}
		case "22003": // numeric_value_out_of_range
			return &model.Error{Kind: model.ErrValidation, Msg: "numeric value out of range", Err: err}
		case "40001", "40P01", "55P03", "57014":
			// serialization_failure, deadlock_detected, lock_not_available, query_canceled
			return model.Retryable(err)
		}
	}
	return err
}

func describe(field, msg string) string {
	if field == "" {
		return msg
	}
	return field + ": " + msg
}

func notFoundOr(err error, entity string, id any) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return model.NotFound(entity, id)
	}
	return classify(err)
}

func jsonArg(v any) ([]byte, error) {
	switch x := v.(type) {
	case model.Snapshot:
		if x == nil {
			return nil, nil
		}
	case map[string]any:
		if x == nil {
			return []byte("{}"), nil
		}
	}
	return json.Marshal(v)
}

func decodeMap(raw []byte) (map[string]any, error) {
	if len(raw) == 0 {
		return map[string]any{}, nil
	}
	m := map[string]any{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// where accumulates positional filter clauses.
type where struct {
	conds []string
	args  []any
}

func (w *where) add(cond string, arg any) {
	w.args = append(w.args, arg)
	w.conds = append(w.conds, fmt.Sprintf(cond, len(w.args)))
}

func (w *where) String() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

func (w *where) page(p Page) string {
	var b strings.Builder
	if p.Limit > 0 {
		w.args = append(w.args, p.Limit)
		fmt.Fprintf(&b, " LIMIT $%d", len(w.args))
	}
	if p.Offset > 0 {
		w.args = append(w.args, p.Offset)
		fmt.Fprintf(&b, " OFFSET $%d", len(w.args))
	}
	return b.String()
}

// --- Customers ---

const customerColumns = `id, username, password, real_name, currency, status,
	balance_amount::TEXT, balance_currency, opening_balance_amount::TEXT,
	preferences, created_at, updated_at`

func scanCustomer(row scanner) (*model.Customer, error) {
	var c model.Customer
	var currency, status, balance, balanceCur, opening string
	var prefs []byte
	if err := row.Scan(&c.ID, &c.Username, &c.Password, &c.RealName, &currency, &status,
		&balance, &balanceCur, &opening, &prefs, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	var err error
	c.Currency = model.Currency(strings.TrimSpace(currency))
	c.Status = model.CustomerStatus(status)
	if c.Balance, err = model.ParseMoney(balance, balanceCur); err != nil {
		return nil, fmt.Errorf("customer %d balance: %w", c.ID, err)
	}
	if c.OpeningBalance, err = model.ParseMoney(opening, currency); err != nil {
		return nil, fmt.Errorf("customer %d opening balance: %w", c.ID, err)
	}
	if c.Preferences, err = decodeMap(prefs); err != nil {
		return nil, err
	}
	return &c, nil
}

func getCustomer(ctx context.Context, q querier, id int64, lock bool) (*model.Customer, error) {
	sql := `SELECT ` + customerColumns + ` FROM customers WHERE id = $1`
	if lock {
		sql += ` FOR UPDATE`
	}
	c, err := scanCustomer(q.QueryRow(ctx, sql, id))
	if err != nil {
		return nil, notFoundOr(err, "customer", id)
	}
	return c, nil
}

func (s *PostgresStore) GetCustomer(ctx context.Context, id int64) (*model.Customer, error) {
	return getCustomer(ctx, s.pool, id, false)
}

func (s *PostgresStore) ListCustomers(ctx context.Context, f CustomerFilter) ([]model.Customer, error) {
	w := &where{}
	if f.Status != "" {
		w.add("status = $%d", string(f.Status))
	}
	if f.Currency != "" {
		w.add("currency = $%d", string(f.Currency))
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+customerColumns+` FROM customers`+w.String()+` ORDER BY id`+w.page(f.Page), w.args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	out := []model.Customer{}
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// --- Ledger ---

const balanceChangeColumns = `id, customer_id, change_type, delta_amount::TEXT, delta_currency,
	reference_id, description, created_at`

func scanBalanceChange(row scanner) (*model.BalanceChange, error) {
	var bc model.BalanceChange
	var changeType, amount, currency string
	if err := row.Scan(&bc.ID, &bc.CustomerID, &changeType, &amount, &currency,
		&bc.ReferenceID, &bc.Description, &bc.CreatedAt); err != nil {
		return nil, err
	}
	bc.ChangeType = model.ChangeType(changeType)
	delta, err := model.ParseMoney(amount, currency)
	if err != nil {
		return nil, fmt.Errorf("balance change %d delta: %w", bc.ID, err)
	}
	bc.Delta = delta
	return &bc, nil
}

func (s *PostgresStore) GetBalanceChange(ctx context.Context, id int64) (*model.BalanceChange, error) {
	bc, err := scanBalanceChange(s.pool.QueryRow(ctx,
		`SELECT `+balanceChangeColumns+` FROM balance_changes WHERE id = $1`, id))
	if err != nil {
		return nil, notFoundOr(err, "balance change", id)
	}
	return bc, nil
}

func (s *PostgresStore) ListBalanceChanges(ctx context.Context, f BalanceChangeFilter) ([]model.BalanceChange, error) {
	w := &where{}
	if f.CustomerID != nil {
		w.add("customer_id = $%d", *f.CustomerID)
	}
	if f.ChangeType != "" {
		w.add("change_type = $%d", string(f.ChangeType))
	}
	sql := `SELECT ` + balanceChangeColumns + ` FROM balance_changes` + w.String() +
		` ORDER BY created_at DESC, id DESC` + w.page(f.Page)

	rows, err := s.pool.Query(ctx, sql, w.args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	out := []model.BalanceChange{}
	for rows.Next() {
		bc, err := scanBalanceChange(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *bc)
	}
	return out, rows.Err()
}

func (s *PostgresStore) SumBalanceChanges(ctx context.Context, customerID int64) (decimal.Decimal, error) {
	return sumBalanceChanges(ctx, s.pool, customerID)
}

func sumBalanceChanges(ctx context.Context, q querier, customerID int64) (decimal.Decimal, error) {
	var sum string
	err := q.QueryRow(ctx,
		`SELECT COALESCE(SUM(delta_amount), 0)::TEXT FROM balance_changes WHERE customer_id = $1`,
		customerID).Scan(&sum)
	if err != nil {
		return decimal.Zero, classify(err)
	}
	return decimal.NewFromString(sum)
}

// --- Bets ---

const betColumns = `id, bookie, customer_id, bookie_bet_id, bet_type, event_id, sport,
	placement_status, outcome, stake_amount::TEXT, stake_currency, odds::TEXT,
	placement_data, created_at, updated_at`

func scanBet(row scanner) (*model.Bet, error) {
	var b model.Bet
	var status, stake, currency, odds string
	var outcome *string
	var data []byte
	if err := row.Scan(&b.ID, &b.Bookie, &b.CustomerID, &b.BookieBetID, &b.BetType, &b.EventID, &b.Sport,
		&status, &outcome, &stake, &currency, &odds, &data, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return nil, err
	}
	var err error
	b.PlacementStatus = model.PlacementStatus(status)
	if outcome != nil {
		o := model.Outcome(*outcome)
		b.Outcome = &o
	}
	if b.Stake, err = model.ParseMoney(stake, currency); err != nil {
		return nil, fmt.Errorf("bet %d stake: %w", b.ID, err)
	}
	if b.Odds, err = decimal.NewFromString(odds); err != nil {
		return nil, fmt.Errorf("bet %d odds: %w", b.ID, err)
	}
	if b.PlacementData, err = decodeMap(data); err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *PostgresStore) GetBet(ctx context.Context, id int64) (*model.Bet, error) {
	b, err := scanBet(s.pool.QueryRow(ctx, `SELECT `+betColumns+` FROM bets WHERE id = $1`, id))
	if err != nil {
		return nil, notFoundOr(err, "bet", id)
	}
	return b, nil
}

func (s *PostgresStore) ListBets(ctx context.Context, f BetFilter) ([]model.Bet, error) {
	w := &where{}
	if f.CustomerID != nil {
		w.add("customer_id = $%d", *f.CustomerID)
	}
	if f.EventID != nil {
		w.add("event_id = $%d", *f.EventID)
	}
	if f.Bookie != "" {
		w.add("bookie = $%d", f.Bookie)
	}
	if f.PlacementStatus != "" {
		w.add("placement_status = $%d", string(f.PlacementStatus))
	}
	if f.Outcome != "" {
		w.add("outcome = $%d", string(f.Outcome))
	}
	sql := `SELECT ` + betColumns + ` FROM bets` + w.String() +
		` ORDER BY created_at DESC, id DESC` + w.page(f.Page)

	rows, err := s.pool.Query(ctx, sql, w.args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()
	return collectBets(rows)
}

func collectBets(rows pgx.Rows) ([]model.Bet, error) {
	out := []model.Bet{}
	for rows.Next() {
		b, err := scanBet(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

// --- Reference data ---

const eventColumns = `id, date, competition_id, team_a_id, team_b_id, status, created_at, updated_at`

func scanEvent(row scanner) (*model.Event, error) {
	var e model.Event
	var status string
	if err := row.Scan(&e.ID, &e.Date, &e.CompetitionID, &e.TeamAID, &e.TeamBID,
		&status, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return nil, err
	}
	e.Status = model.EventStatus(status)
	return &e, nil
}

func getEvent(ctx context.Context, q querier, id int64, lock bool) (*model.Event, error) {
	sql := `SELECT ` + eventColumns + ` FROM events WHERE id = $1`
	if lock {
		sql += ` FOR UPDATE`
	}
	e, err := scanEvent(q.QueryRow(ctx, sql, id))
	if err != nil {
		return nil, notFoundOr(err, "event", id)
	}
	return e, nil
}

func (s *PostgresStore) GetEvent(ctx context.Context, id int64) (*model.Event, error) {
	return getEvent(ctx, s.pool, id, false)
}

const resultColumns = `event_id, score_a, score_b, created_at, updated_at`

func scanResult(row scanner) (*model.Result, error) {
	var r model.Result
	if err := row.Scan(&r.EventID, &r.ScoreA, &r.ScoreB, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	return &r, nil
}

func getResult(ctx context.Context, q querier, eventID int64, lock bool) (*model.Result, error) {
	sql := `SELECT ` + resultColumns + ` FROM results WHERE event_id = $1`
	if lock {
		sql += ` FOR UPDATE`
	}
	r, err := scanResult(q.QueryRow(ctx, sql, eventID))
	if err != nil {
		return nil, notFoundOr(err, "result", eventID)
	}
	return r, nil
}

func (s *PostgresStore) GetResult(ctx context.Context, eventID int64) (*model.Result, error) {
	return getResult(ctx, s.pool, eventID, false)
}

// --- Audit ---

const auditColumns = `id, table_name, operation, actor, changed_at, row_id, old_data, new_data`

func scanAudit(row scanner) (*model.AuditLogEntry, error) {
	var e model.AuditLogEntry
	var table, op string
	var oldData, newData []byte
	if err := row.Scan(&e.ID, &table, &op, &e.Actor, &e.ChangedAt, &e.RowID, &oldData, &newData); err != nil {
		return nil, err
	}
	e.TableName = model.Table(table)
	e.Operation = model.Operation(op)
	if len(oldData) > 0 {
		if err := json.Unmarshal(oldData, &e.OldData); err != nil {
			return nil, fmt.Errorf("audit %d old_data: %w", e.ID, err)
		}
	}
	if len(newData) > 0 {
		if err := json.Unmarshal(newData, &e.NewData); err != nil {
			return nil, fmt.Errorf("audit %d new_data: %w", e.ID, err)
		}
	}
	return &e, nil
}

func (s *PostgresStore) GetAuditLog(ctx context.Context, id int64) (*model.AuditLogEntry, error) {
	e, err := scanAudit(s.pool.QueryRow(ctx, `SELECT `+auditColumns+` FROM audit_log WHERE id = $1`, id))
	if err != nil {
		return nil, notFoundOr(err, "audit log", id)
	}
	return e, nil
}

func (s *PostgresStore) ListAuditLogs(ctx context.Context, f AuditFilter) ([]model.AuditLogEntry, error) {
	w := &where{}
	if f.TableName != "" {
		w.add("table_name = $%d", string(f.TableName))
	}
	if f.Operation != "" {
		w.add("operation = $%d", string(f.Operation))
	}
	if f.RowID != nil {
		w.add("row_id = $%d", *f.RowID)
	}
	sql := `SELECT ` + auditColumns + ` FROM audit_log` + w.String() +
		` ORDER BY changed_at DESC, id DESC` + w.page(f.Page)

	rows, err := s.pool.Query(ctx, sql, w.args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	out := []model.AuditLogEntry{}
	for rows.Next() {
		e, err := scanAudit(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// --- Reporting ---

// LoadReportData reads inside one repeatable-read, read-only transaction
// so every aggregate sees the same committed state. Each query selects only
// the columns the report folds use; credentials and JSON payloads stay in
// the database.
func (s *PostgresStore) LoadReportData(ctx context.Context) (*ReportData, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, classify(err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // read-only

	data := &ReportData{}
	var bet model.Bet
	var status, stake, currency, odds string
	var outcome *string
	err = collectRows(ctx, tx, `SELECT id, customer_id, bookie, sport, placement_status, outcome,
		stake_amount::TEXT, stake_currency, odds::TEXT, created_at FROM bets ORDER BY id`,
		[]any{&bet.ID, &bet.CustomerID, &bet.Bookie, &bet.Sport, &status, &outcome, &stake, &currency, &odds, &bet.CreatedAt},
		func() error {
			var err error
			b := bet
			b.PlacementStatus = model.PlacementStatus(status)
			if outcome != nil {
				o := model.Outcome(*outcome)
				b.Outcome = &o
			}
			if b.Stake, err = model.ParseMoney(stake, currency); err != nil {
				return fmt.Errorf("bet %d stake: %w", b.ID, err)
			}
			if b.Odds, err = decimal.NewFromString(odds); err != nil {
				return fmt.Errorf("bet %d odds: %w", b.ID, err)
			}
			data.Bets = append(data.Bets, b)
			return nil
		})
	if err != nil {
		return nil, err
	}

	var cust model.Customer
	err = collectRows(ctx, tx, `SELECT id, username, real_name FROM customers
		WHERE id IN (SELECT DISTINCT customer_id FROM bets) ORDER BY id`,
		[]any{&cust.ID, &cust.Username, &cust.RealName},
		func() error { data.Customers = append(data.Customers, cust); return nil })
	if err != nil {
		return nil, err
	}

	var ev model.Event
	var evStatus string
	err = collectRows(ctx, tx, `SELECT id, competition_id, status FROM events ORDER BY id`,
		[]any{&ev.ID, &ev.CompetitionID, &evStatus},
		func() error {
			e := ev
			e.Status = model.EventStatus(evStatus)
			data.Events = append(data.Events, e)
			return nil
		})
	if err != nil {
		return nil, err
	}

	var res model.Result
	err = collectRows(ctx, tx, `SELECT event_id, score_a, score_b FROM results ORDER BY event_id`,
		[]any{&res.EventID, &res.ScoreA, &res.ScoreB},
		func() error {
			r := res
			if r.ScoreA != nil {
				a := *r.ScoreA
				r.ScoreA = &a
			}
			if r.ScoreB != nil {
				b := *r.ScoreB
				r.ScoreB = &b
			}
			data.Results = append(data.Results, r)
			return nil
		})
	if err != nil {
		return nil, err
	}

	var comp model.Competition
	err = collectRows(ctx, tx, `SELECT id, name, sport FROM competitions
		WHERE id IN (SELECT DISTINCT competition_id FROM events) ORDER BY id`,
		[]any{&comp.ID, &comp.Name, &comp.Sport},
		func() error { data.Competitions = append(data.Competitions, comp); return nil })
	if err != nil {
		return nil, err
	}

	return data, nil
}

// collectRows scans each row into dest and then calls emit.
func collectRows(ctx context.Context, q querier, sql string, dest []any, emit func() error) error {
	rows, err := q.Query(ctx, sql)
	if err != nil {
		return classify(err)
	}
	defer rows.Close()
	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return err
		}
		if err := emit(); err != nil {
			return err
		}
	}
	return rows.Err()
}
