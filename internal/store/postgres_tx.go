package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/atmx/bet-ledger/internal/model"
)

// pgTx implements Tx on a pgx transaction opened by PostgresStore.WithTx.
type pgTx struct {
	tx pgx.Tx
}

// deleteClassify reports an FK violation on delete as a dependency conflict.
func deleteClassify(err error, entity string, id any) error {
	err = classify(err)
	if errors.Is(err, model.ErrInvalidReference) {
		return model.DependencyConflict(entity, id, "referenced by other records")
	}
	return err
}

// --- Customers ---

func (t *pgTx) InsertCustomer(ctx context.Context, c *model.Customer) error {
	prefs, err := jsonArg(c.Preferences)
	if err != nil {
		return err
	}
	err = t.tx.QueryRow(ctx,
		`INSERT INTO customers (username, password, real_name, currency, status,
		                        balance_amount, balance_currency, opening_balance_amount,
		                        preferences, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7, $8::NUMERIC, $9, $10, $11)
		 RETURNING id`,
		c.Username, c.Password, c.RealName, string(c.Currency), string(c.Status),
		c.Balance.Amount().String(), string(c.Balance.Currency()), c.OpeningBalance.Amount().String(),
		prefs, c.CreatedAt, c.UpdatedAt,
	).Scan(&c.ID)
	return classify(err)
}

func (t *pgTx) GetCustomer(ctx context.Context, id int64) (*model.Customer, error) {
	return getCustomer(ctx, t.tx, id, false)
}

func (t *pgTx) GetCustomerForUpdate(ctx context.Context, id int64) (*model.Customer, error) {
	return getCustomer(ctx, t.tx, id, true)
}

func (t *pgTx) UpdateCustomer(ctx context.Context, c *model.Customer) error {
	prefs, err := jsonArg(c.Preferences)
	if err != nil {
		return err
	}
	tag, err := t.tx.Exec(ctx,
		`UPDATE customers
		 SET username = $2, password = $3, real_name = $4, status = $5,
		     balance_amount = $6::NUMERIC, balance_currency = $7,
		     preferences = $8, updated_at = $9
		 WHERE id = $1`,
		c.ID, c.Username, c.Password, c.RealName, string(c.Status),
		c.Balance.Amount().String(), string(c.Balance.Currency()),
		prefs, c.UpdatedAt,
	)
	if err != nil {
		return classify(err)
	}
	if tag.RowsAffected() == 0 {
		return model.NotFound("customer", c.ID)
	}
	return nil
}

func (t *pgTx) DeleteCustomer(ctx context.Context, id int64) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM customers WHERE id = $1`, id)
	if err != nil {
		return deleteClassify(err, "customer", id)
	}
	if tag.RowsAffected() == 0 {
		return model.NotFound("customer", id)
	}
	return nil
}

func (t *pgTx) CountCustomerDependents(ctx context.Context, id int64) (int64, int64, error) {
	var bets, changes int64
	err := t.tx.QueryRow(ctx,
		`SELECT (SELECT COUNT(*) FROM bets WHERE customer_id = $1),
		        (SELECT COUNT(*) FROM balance_changes WHERE customer_id = $1)`, id).
		Scan(&bets, &changes)
	return bets, changes, classify(err)
}

// --- Ledger ---

func (t *pgTx) InsertBalanceChange(ctx context.Context, bc *model.BalanceChange) error {
	err := t.tx.QueryRow(ctx,
		`INSERT INTO balance_changes (customer_id, change_type, delta_amount, delta_currency,
		                              reference_id, description, created_at)
		 VALUES ($1, $2, $3::NUMERIC, $4, $5, $6, $7)
		 RETURNING id`,
		bc.CustomerID, string(bc.ChangeType), bc.Delta.Amount().String(), string(bc.Delta.Currency()),
		bc.ReferenceID, bc.Description, bc.CreatedAt,
	).Scan(&bc.ID)
	return classify(err)
}

func (t *pgTx) SumBalanceChanges(ctx context.Context, customerID int64) (decimal.Decimal, error) {
	return sumBalanceChanges(ctx, t.tx, customerID)
}

// --- Bets ---

func (t *pgTx) InsertBet(ctx context.Context, b *model.Bet) error {
	data, err := jsonArg(b.PlacementData)
	if err != nil {
		return err
	}
	err = t.tx.QueryRow(ctx,
		`INSERT INTO bets (bookie, customer_id, bookie_bet_id, bet_type, event_id, sport,
		                   placement_status, outcome, stake_amount, stake_currency, odds,
		                   placement_data, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::NUMERIC, $10, $11::NUMERIC, $12, $13, $14)
		 RETURNING id`,
		b.Bookie, b.CustomerID, b.BookieBetID, b.BetType, b.EventID, b.Sport,
		string(b.PlacementStatus), outcomeArg(b.Outcome),
		b.Stake.Amount().String(), string(b.Stake.Currency()), b.Odds.String(),
		data, b.CreatedAt, b.UpdatedAt,
	).Scan(&b.ID)
	return classify(err)
}

func outcomeArg(o *model.Outcome) *string {
	if o == nil {
		return nil
	}
	s := string(*o)
	return &s
}

func (t *pgTx) GetBetForUpdate(ctx context.Context, id int64) (*model.Bet, error) {
	b, err := scanBet(t.tx.QueryRow(ctx, `SELECT `+betColumns+` FROM bets WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, notFoundOr(err, "bet", id)
	}
	return b, nil
}

func (t *pgTx) UpdateBet(ctx context.Context, b *model.Bet) error {
	data, err := jsonArg(b.PlacementData)
	if err != nil {
		return err
	}
	tag, err := t.tx.Exec(ctx,
		`UPDATE bets
		 SET bookie = $2, customer_id = $3, bookie_bet_id = $4, bet_type = $5, event_id = $6,
		     sport = $7, placement_status = $8, outcome = $9,
		     stake_amount = $10::NUMERIC, stake_currency = $11, odds = $12::NUMERIC,
		     placement_data = $13, updated_at = $14
		 WHERE id = $1`,
		b.ID, b.Bookie, b.CustomerID, b.BookieBetID, b.BetType, b.EventID,
		b.Sport, string(b.PlacementStatus), outcomeArg(b.Outcome),
		b.Stake.Amount().String(), string(b.Stake.Currency()), b.Odds.String(),
		data, b.UpdatedAt,
	)
	if err != nil {
		return classify(err)
	}
	if tag.RowsAffected() == 0 {
		return model.NotFound("bet", b.ID)
	}
	return nil
}

func (t *pgTx) DeleteBet(ctx context.Context, id int64) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM bets WHERE id = $1`, id)
	if err != nil {
		return classify(err)
	}
	if tag.RowsAffected() == 0 {
		return model.NotFound("bet", id)
	}
	return nil
}

// --- Reference data ---

func (t *pgTx) exists(ctx context.Context, sql string, arg any) (bool, error) {
	var ok bool
	err := t.tx.QueryRow(ctx, `SELECT EXISTS (`+sql+`)`, arg).Scan(&ok)
	return ok, classify(err)
}

func (t *pgTx) InsertSport(ctx context.Context, s *model.Sport) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO sports (name) VALUES ($1)`, s.Name)
	return classify(err)
}

func (t *pgTx) SportExists(ctx context.Context, name string) (bool, error) {
	return t.exists(ctx, `SELECT 1 FROM sports WHERE name = $1`, name)
}

func (t *pgTx) InsertBookie(ctx context.Context, b *model.Bookie) error {
	prefs, err := jsonArg(b.Preferences)
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(ctx,
		`INSERT INTO bookies (name, description, preferences) VALUES ($1, $2, $3)`,
		b.Name, b.Description, prefs)
	return classify(err)
}

func (t *pgTx) BookieExists(ctx context.Context, name string) (bool, error) {
	return t.exists(ctx, `SELECT 1 FROM bookies WHERE name = $1`, name)
}

func (t *pgTx) InsertCompetition(ctx context.Context, c *model.Competition) error {
	err := t.tx.QueryRow(ctx,
		`INSERT INTO competitions (name, country, sport, active, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		c.Name, c.Country, c.Sport, c.Active, c.CreatedAt, c.UpdatedAt).Scan(&c.ID)
	return classify(err)
}

func (t *pgTx) CompetitionExists(ctx context.Context, id int64) (bool, error) {
	return t.exists(ctx, `SELECT 1 FROM competitions WHERE id = $1`, id)
}

func (t *pgTx) InsertTeam(ctx context.Context, tm *model.Team) error {
	err := t.tx.QueryRow(ctx,
		`INSERT INTO teams (name, country, sport, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		tm.Name, tm.Country, tm.Sport, tm.CreatedAt, tm.UpdatedAt).Scan(&tm.ID)
	return classify(err)
}

func (t *pgTx) TeamExists(ctx context.Context, id int64) (bool, error) {
	return t.exists(ctx, `SELECT 1 FROM teams WHERE id = $1`, id)
}

func (t *pgTx) InsertEvent(ctx context.Context, e *model.Event) error {
	err := t.tx.QueryRow(ctx,
		`INSERT INTO events (date, competition_id, team_a_id, team_b_id, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		e.Date, e.CompetitionID, e.TeamAID, e.TeamBID, string(e.Status), e.CreatedAt, e.UpdatedAt).
		Scan(&e.ID)
	return classify(err)
}

func (t *pgTx) GetEvent(ctx context.Context, id int64) (*model.Event, error) {
	return getEvent(ctx, t.tx, id, false)
}

func (t *pgTx) GetEventForUpdate(ctx context.Context, id int64) (*model.Event, error) {
	return getEvent(ctx, t.tx, id, true)
}

func (t *pgTx) UpdateEvent(ctx context.Context, e *model.Event) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE events SET date = $2, competition_id = $3, team_a_id = $4, team_b_id = $5,
		                   status = $6, updated_at = $7
		 WHERE id = $1`,
		e.ID, e.Date, e.CompetitionID, e.TeamAID, e.TeamBID, string(e.Status), e.UpdatedAt)
	if err != nil {
		return classify(err)
	}
	if tag.RowsAffected() == 0 {
		return model.NotFound("event", e.ID)
	}
	return nil
}

func (t *pgTx) DeleteEvent(ctx context.Context, id int64) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM events WHERE id = $1`, id)
	if err != nil {
		return deleteClassify(err, "event", id)
	}
	if tag.RowsAffected() == 0 {
		return model.NotFound("event", id)
	}
	return nil
}

func (t *pgTx) CountEventDependents(ctx context.Context, id int64) (int64, int64, error) {
	var bets, results int64
	err := t.tx.QueryRow(ctx,
		`SELECT (SELECT COUNT(*) FROM bets WHERE event_id = $1),
		        (SELECT COUNT(*) FROM results WHERE event_id = $1)`, id).
		Scan(&bets, &results)
	return bets, results, classify(err)
}

func (t *pgTx) InsertResult(ctx context.Context, r *model.Result) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO results (event_id, score_a, score_b, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		r.EventID, r.ScoreA, r.ScoreB, r.CreatedAt, r.UpdatedAt)
	return classify(err)
}

func (t *pgTx) GetResultForUpdate(ctx context.Context, eventID int64) (*model.Result, error) {
	return getResult(ctx, t.tx, eventID, true)
}

func (t *pgTx) UpdateResult(ctx context.Context, r *model.Result) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE results SET score_a = $2, score_b = $3, updated_at = $4 WHERE event_id = $1`,
		r.EventID, r.ScoreA, r.ScoreB, r.UpdatedAt)
	if err != nil {
		return classify(err)
	}
	if tag.RowsAffected() == 0 {
		return model.NotFound("result", r.EventID)
	}
	return nil
}

// --- Audit ---

func (t *pgTx) InsertAuditLog(ctx context.Context, e *model.AuditLogEntry) error {
	oldData, err := jsonArg(e.OldData)
	if err != nil {
		return err
	}
	newData, err := jsonArg(e.NewData)
	if err != nil {
		return err
	}
	err = t.tx.QueryRow(ctx,
		`INSERT INTO audit_log (table_name, operation, actor, changed_at, row_id, old_data, new_data)
		 VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		string(e.TableName), string(e.Operation), e.Actor, e.ChangedAt, e.RowID, oldData, newData,
	).Scan(&e.ID)
	return classify(err)
}
