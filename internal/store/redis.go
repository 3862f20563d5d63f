package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/atmx/bet-ledger/internal/model"
)

// CachedStore wraps a primary Store with a Redis read-through cache for
// rows that never change once committed: ledger entries and audit
// entries. Everything else, transactions included, goes straight to the
// primary, so there is nothing to invalidate.
type CachedStore struct {
	Store
	rdb *redis.Client
	ttl time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{Store: primary, rdb: rdb, ttl: ttl}
}

func (s *CachedStore) GetBalanceChange(ctx context.Context, id int64) (*model.BalanceChange, error) {
	var bc model.BalanceChange
	if s.get(ctx, balanceChangeKey(id), &bc) {
		return &bc, nil
	}

	got, err := s.Store.GetBalanceChange(ctx, id)
	if err != nil {
		return nil, err
	}
	s.set(ctx, balanceChangeKey(id), got)
	return got, nil
}

func (s *CachedStore) GetAuditLog(ctx context.Context, id int64) (*model.AuditLogEntry, error) {
	var e model.AuditLogEntry
	if s.get(ctx, auditKey(id), &e) {
		return &e, nil
	}

	got, err := s.Store.GetAuditLog(ctx, id)
	if err != nil {
		return nil, err
	}
	s.set(ctx, auditKey(id), got)
	return got, nil
}

// get reports a cache hit. Redis errors count as misses.
func (s *CachedStore) get(ctx context.Context, key string, dst any) bool {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(data, dst) == nil
}

func (s *CachedStore) set(ctx context.Context, key string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	s.rdb.Set(ctx, key, data, s.ttl)
}

// --- Key helpers ---

func balanceChangeKey(id int64) string {
	return fmt.Sprintf("ledger:balance_change:%d", id)
}

func auditKey(id int64) string {
	return fmt.Sprintf("ledger:audit:%d", id)
}
