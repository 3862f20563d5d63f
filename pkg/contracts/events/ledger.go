package events

import (
	"encoding/json"
	"time"
)

// Event types published on topics.LedgerEvents.
const (
	CustomerCreated      = "customer.created"
	CustomerUpdated      = "customer.updated"
	CustomerDeleted      = "customer.deleted"
	BalanceChangeApplied = "balance_change.applied"
	BetCreated           = "bet.created"
	BetUpdated           = "bet.updated"
	BetSettled           = "bet.settled"
	BetDeleted           = "bet.deleted"
	EventStatusChanged   = "event.status_changed"
	ResultRecorded       = "result.recorded"
)

// LedgerEvent is the envelope emitted after a write commits.
type LedgerEvent struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Entity     string          `json:"entity"`
	EntityID   int64           `json:"entity_id"`
	CustomerID int64           `json:"customer_id,omitempty"`
	Actor      string          `json:"actor"`
	Payload    json.RawMessage `json:"payload"`
	Ts         time.Time       `json:"ts"`
}
