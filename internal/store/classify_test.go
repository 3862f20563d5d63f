package store

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/atmx/bet-ledger/internal/model"
)

func TestClassify_KeepsDriverTextOutOfMessage(t *testing.T) {
	tests := []struct {
		name  string
		pg    *pgconn.PgError
		kind  error
		field string
	}{
		{"unique", &pgconn.PgError{Code: "23505", ConstraintName: "customers_username_key",
			Message: `duplicate key value violates unique constraint "customers_username_key"`,
			Detail:  "Key (username)=(bob) already exists."}, model.ErrConflict, "username"},
		{"foreign key", &pgconn.PgError{Code: "23503", ConstraintName: "bets_event_id_fkey",
			Message: `insert or update on table "bets" violates foreign key constraint "bets_event_id_fkey"`,
			Detail:  `Key (event_id)=(42) is not present in table "events".`}, model.ErrInvalidReference, "event_id"},
		{"check", &pgconn.PgError{Code: "23514", ConstraintName: "bets_odds_check",
			Message: `new row for relation "bets" violates check constraint "bets_odds_check"`}, model.ErrValidation, "odds"},
		{"unknown constraint", &pgconn.PgError{Code: "23505", ConstraintName: "some_new_idx",
			Message: "duplicate key"}, model.ErrConflict, ""},
		{"too long", &pgconn.PgError{Code: "22001",
			Message: "value too long for type character varying(50)"}, model.ErrValidation, ""},
		{"numeric overflow", &pgconn.PgError{Code: "22003",
			Message: "numeric field overflow"}, model.ErrValidation, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classify(fmt.Errorf("insert: %w", tt.pg))
			if !errors.Is(err, tt.kind) {
				t.Fatalf("kind: got %v, want %v", err, tt.kind)
			}
			var pgErr *pgconn.PgError
			if !errors.As(err, &pgErr) {
				t.Error("driver error should stay reachable for logging")
			}
			if got := model.FieldOf(err); got != tt.field {
				t.Errorf("field = %q, want %q", got, tt.field)
			}
			msg := model.PublicMessage(err)
			for _, leak := range []string{tt.pg.Message, tt.pg.Code, "SQLSTATE"} {
				if strings.Contains(msg, leak) {
					t.Errorf("public message %q leaks %q", msg, leak)
				}
			}
			if tt.pg.ConstraintName != "" && strings.Contains(msg, tt.pg.ConstraintName) {
				t.Errorf("public message %q names constraint", msg)
			}
			if tt.pg.Detail != "" && strings.Contains(msg, tt.pg.Detail) {
				t.Errorf("public message %q carries detail", msg)
			}
		})
	}
}

func TestClassify_TransientCodesAreRetryable(t *testing.T) {
	for _, code := range []string{"40001", "40P01", "55P03", "57014"} {
		if err := classify(&pgconn.PgError{Code: code}); !model.IsRetryable(err) {
			t.Errorf("%s: expected retryable, got %v", code, err)
		}
	}
}
