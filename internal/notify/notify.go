// Package notify fans committed ledger writes out to downstream consumers.
// Publication happens after commit and never affects the write itself.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/atmx/bet-ledger/internal/metrics"
	"github.com/atmx/bet-ledger/pkg/contracts/events"
)

// Publisher delivers ledger events.
type Publisher interface {
	Publish(ctx context.Context, evt events.LedgerEvent) error
}

// NewEvent builds an envelope with a fresh id.
func NewEvent(eventType, entity string, entityID, customerID int64, actor string, payload any) (events.LedgerEvent, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return events.LedgerEvent{}, fmt.Errorf("encode %s payload: %w", eventType, err)
	}
	return events.LedgerEvent{
		ID:         uuid.New().String(),
		Type:       eventType,
		Entity:     entity,
		EntityID:   entityID,
		CustomerID: customerID,
		Actor:      actor,
		Payload:    raw,
		Ts:         time.Now().UTC(),
	}, nil
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, events.LedgerEvent) error { return nil }

// Multi publishes to every sink and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, evt events.LedgerEvent) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, evt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Memory keeps published events in order. Used by tests.
type Memory struct {
	mu     sync.Mutex
	events []events.LedgerEvent
}

func (m *Memory) Publish(_ context.Context, evt events.LedgerEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, evt)
	return nil
}

// Events returns a copy of everything published so far.
func (m *Memory) Events() []events.LedgerEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]events.LedgerEvent(nil), m.events...)
}

// KafkaPublisher writes events to a Kafka topic, keyed by customer so a
// customer's events stay ordered within one partition.
type KafkaPublisher struct {
	w *kafka.Writer
}

// NewKafkaPublisher creates an async writer for a comma-separated broker
// list. Delivery failures are logged and counted; they never reach the caller.
func NewKafkaPublisher(brokers, topic string, log *zap.Logger) *KafkaPublisher {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(splitBrokers(brokers)...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		Async:                  true,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				metrics.PublishFailures.WithLabelValues("kafka").Add(float64(len(messages)))
				log.Error("kafka delivery failed", zap.String("topic", topic), zap.Int("messages", len(messages)), zap.Error(err))
			}
		},
	}
	return &KafkaPublisher{w: w}
}

func splitBrokers(brokers string) []string {
	var out []string
	for _, b := range strings.Split(brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

func (p *KafkaPublisher) Publish(ctx context.Context, evt events.LedgerEvent) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	key := evt.CustomerID
	if key == 0 {
		key = evt.EntityID
	}
	return p.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(strconv.FormatInt(key, 10)),
		Value: payload,
		Time:  evt.Ts,
	})
}

func (p *KafkaPublisher) Close() error {
	return p.w.Close()
}

// Emit builds and publishes an event, logging instead of failing. The
// write it describes has already committed.
func Emit(ctx context.Context, p Publisher, log *zap.Logger, eventType, entity string, entityID, customerID int64, actor string, payload any) {
	if p == nil {
		return
	}
	evt, err := NewEvent(eventType, entity, entityID, customerID, actor, payload)
	if err == nil {
		err = p.Publish(ctx, evt)
	}
	if err != nil {
		metrics.PublishFailures.WithLabelValues("dispatch").Inc()
		log.Warn("ledger event not published",
			zap.String("type", eventType),
			zap.Int64("entity_id", entityID),
			zap.Error(err),
		)
	}
}
