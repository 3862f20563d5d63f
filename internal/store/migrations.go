package store

import (
	"context"
	"fmt"
)

// Migration is one forward-only schema step.
type Migration struct {
	Version int
	Name    string
	SQL     string
}

// Migrations are applied in order by PostgresStore.Migrate.
var Migrations = []Migration{
	{
		Version: 1,
		Name:    "reference_entities",
		SQL: `
CREATE TABLE IF NOT EXISTS sports (
	name VARCHAR(50) PRIMARY KEY
);

CREATE TABLE IF NOT EXISTS bookies (
	name        VARCHAR(50) PRIMARY KEY,
	description TEXT,
	preferences JSONB NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS competitions (
	id         BIGSERIAL PRIMARY KEY,
	name       VARCHAR(200) NOT NULL,
	country    VARCHAR(100) NOT NULL,
	sport      VARCHAR(50) NOT NULL REFERENCES sports(name),
	active     BOOLEAN NOT NULL DEFAULT TRUE,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS teams (
	id         BIGSERIAL PRIMARY KEY,
	name       VARCHAR(200) NOT NULL,
	country    VARCHAR(100) NOT NULL,
	sport      VARCHAR(50) NOT NULL REFERENCES sports(name),
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS events (
	id             BIGSERIAL PRIMARY KEY,
	date           TIMESTAMPTZ NOT NULL,
	competition_id BIGINT NOT NULL REFERENCES competitions(id),
	team_a_id      BIGINT NOT NULL REFERENCES teams(id),
	team_b_id      BIGINT NOT NULL REFERENCES teams(id),
	status         VARCHAR(20) NOT NULL CHECK (status IN ('prematch', 'live', 'finished')),
	created_at     TIMESTAMPTZ NOT NULL,
	updated_at     TIMESTAMPTZ NOT NULL,
	CHECK (team_a_id <> team_b_id)
);

CREATE TABLE IF NOT EXISTS results (
	event_id   BIGINT PRIMARY KEY REFERENCES events(id),
	score_a    INTEGER CHECK (score_a >= 0),
	score_b    INTEGER CHECK (score_b >= 0),
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);`,
	},
	{
		Version: 2,
		Name:    "ledger",
		SQL: `
CREATE TABLE IF NOT EXISTS customers (
	id                      BIGSERIAL PRIMARY KEY,
	username                VARCHAR(50) NOT NULL UNIQUE,
	password                TEXT NOT NULL,
	real_name               VARCHAR(200) NOT NULL,
	currency                CHAR(3) NOT NULL CHECK (currency IN ('USD', 'GBP', 'EUR')),
	status                  VARCHAR(20) NOT NULL CHECK (status IN ('active', 'disabled')),
	balance_amount          NUMERIC(15,2) NOT NULL CHECK (balance_amount >= 0),
	balance_currency        CHAR(3) NOT NULL,
	opening_balance_amount  NUMERIC(15,2) NOT NULL,
	preferences             JSONB NOT NULL DEFAULT '{}',
	created_at              TIMESTAMPTZ NOT NULL,
	updated_at              TIMESTAMPTZ NOT NULL,
	CHECK (balance_currency = currency)
);

CREATE TABLE IF NOT EXISTS balance_changes (
	id             BIGSERIAL PRIMARY KEY,
	customer_id    BIGINT NOT NULL REFERENCES customers(id),
	change_type    VARCHAR(20) NOT NULL
		CHECK (change_type IN ('top_up', 'bet_placed', 'bet_settled', 'withdrawal', 'adjustment')),
	delta_amount   NUMERIC(15,2) NOT NULL,
	delta_currency CHAR(3) NOT NULL,
	reference_id   VARCHAR(100),
	description    VARCHAR(500),
	created_at     TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS balance_changes_customer_idx ON balance_changes (customer_id, created_at DESC);

CREATE TABLE IF NOT EXISTS bets (
	id               BIGSERIAL PRIMARY KEY,
	bookie           VARCHAR(50) NOT NULL REFERENCES bookies(name),
	customer_id      BIGINT NOT NULL REFERENCES customers(id),
	bookie_bet_id    VARCHAR(100) NOT NULL,
	bet_type         VARCHAR(50) NOT NULL,
	event_id         BIGINT NOT NULL REFERENCES events(id),
	sport            VARCHAR(50) NOT NULL REFERENCES sports(name),
	placement_status VARCHAR(20) NOT NULL CHECK (placement_status IN ('pending', 'placed', 'failed')),
	outcome          VARCHAR(10) CHECK (outcome IN ('win', 'lose', 'void')),
	stake_amount     NUMERIC(15,2) NOT NULL CHECK (stake_amount > 0),
	stake_currency   CHAR(3) NOT NULL,
	odds             NUMERIC(10,4) NOT NULL CHECK (odds >= 1.01 AND odds <= 999.0),
	placement_data   JSONB NOT NULL DEFAULT '{}',
	created_at       TIMESTAMPTZ NOT NULL,
	updated_at       TIMESTAMPTZ NOT NULL,
	UNIQUE (bookie, bookie_bet_id)
);
CREATE INDEX IF NOT EXISTS bets_customer_idx ON bets (customer_id);
CREATE INDEX IF NOT EXISTS bets_event_idx ON bets (event_id);
CREATE INDEX IF NOT EXISTS bets_created_at_idx ON bets (created_at DESC);`,
	},
	{
		Version: 3,
		Name:    "audit_log",
		SQL: `
CREATE TABLE IF NOT EXISTS audit_log (
	id         BIGSERIAL PRIMARY KEY,
	table_name VARCHAR(50) NOT NULL,
	operation  VARCHAR(10) NOT NULL CHECK (operation IN ('INSERT', 'UPDATE', 'DELETE')),
	actor      VARCHAR(100) NOT NULL DEFAULT 'system',
	changed_at TIMESTAMPTZ NOT NULL,
	row_id     BIGINT,
	old_data   JSONB,
	new_data   JSONB
);
CREATE INDEX IF NOT EXISTS audit_log_record_idx ON audit_log (table_name, row_id, changed_at DESC);
CREATE INDEX IF NOT EXISTS audit_log_changed_at_idx ON audit_log (changed_at DESC, id DESC);`,
	},
}

// Migrate applies pending migrations, each in its own transaction.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER PRIMARY KEY,
			name       TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	for _, m := range Migrations {
		var applied bool
		if err := s.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE version = $1)`, m.Version).
			Scan(&applied); err != nil {
			return fmt.Errorf("check migration %d: %w", m.Version, err)
		}
		if applied {
			continue
		}

		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, m.SQL); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("apply migration %d (%s): %w", m.Version, m.Name, err)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`, m.Version, m.Name); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}
	return nil
}
