// Package audit records a before/after image of every mutation to a
// tracked table and serves queries over the resulting log.
//
// Entries are written through the caller's store.Tx, so an audit row
// exists exactly when the business write it describes committed.
package audit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/atmx/bet-ledger/internal/metrics"
	"github.com/atmx/bet-ledger/internal/model"
	"github.com/atmx/bet-ledger/internal/store"
)

// SystemActor is recorded when the request carries no actor.
const SystemActor = "system"

type actorKey struct{}

// WithActor attaches the acting identity to ctx.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFrom returns the actor stored in ctx, or SystemActor.
func ActorFrom(ctx context.Context) string {
	if a, ok := ctx.Value(actorKey{}).(string); ok && strings.TrimSpace(a) != "" {
		return a
	}
	return SystemActor
}

// Recorder appends audit entries inside a write transaction.
type Recorder struct {
	now func() time.Time
}

// NewRecorder creates a recorder stamping entries with the wall clock (UTC).
func NewRecorder() *Recorder {
	return &Recorder{now: func() time.Time { return time.Now().UTC() }}
}

// WithClock overrides the timestamp source. Used by tests.
func (r *Recorder) WithClock(now func() time.Time) *Recorder {
	return &Recorder{now: now}
}

// Insert records a new row.
func (r *Recorder) Insert(ctx context.Context, tx store.Tx, table model.Table, rowID *int64, row model.Snapshot) error {
	return r.Record(ctx, tx, table, model.OpInsert, rowID, nil, row)
}

// Update records a changed row with both images.
func (r *Recorder) Update(ctx context.Context, tx store.Tx, table model.Table, rowID *int64, before, after model.Snapshot) error {
	return r.Record(ctx, tx, table, model.OpUpdate, rowID, before, after)
}

// Delete records a removed row.
func (r *Recorder) Delete(ctx context.Context, tx store.Tx, table model.Table, rowID *int64, before model.Snapshot) error {
	return r.Record(ctx, tx, table, model.OpDelete, rowID, before, nil)
}

// Record writes one entry. INSERT carries only new data, DELETE only old
// data, UPDATE both.
func (r *Recorder) Record(ctx context.Context, tx store.Tx, table model.Table, op model.Operation,
	rowID *int64, before, after model.Snapshot) error {
	switch op {
	case model.OpInsert:
		if before != nil || after == nil {
			return fmt.Errorf("audit %s %s: insert takes new data only", table, op)
		}
	case model.OpUpdate:
		if before == nil || after == nil {
			return fmt.Errorf("audit %s %s: update takes old and new data", table, op)
		}
	case model.OpDelete:
		if before == nil || after != nil {
			return fmt.Errorf("audit %s %s: delete takes old data only", table, op)
		}
	default:
		return fmt.Errorf("audit %s: unknown operation %q", table, op)
	}

	entry := &model.AuditLogEntry{
		TableName: table,
		Operation: op,
		Actor:     ActorFrom(ctx),
		ChangedAt: r.now(),
		RowID:     rowID,
		OldData:   before,
		NewData:   after,
	}
	if err := tx.InsertAuditLog(ctx, entry); err != nil {
		return fmt.Errorf("audit %s %s: %w", table, op, err)
	}
	metrics.AuditEntriesTotal.WithLabelValues(string(table), string(op)).Inc()
	return nil
}

// RowID is a convenience for id-keyed tables.
func RowID(id int64) *int64 { return &id }
