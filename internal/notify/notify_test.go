package notify

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/atmx/bet-ledger/pkg/contracts/events"
)

func TestNewKafkaPublisher_SplitsBrokerList(t *testing.T) {
	p := NewKafkaPublisher("k1:9092, k2:9092", "ledger_events", zap.NewNop())
	defer p.Close()

	if got := p.w.Addr.String(); got != "k1:9092,k2:9092" {
		t.Errorf("addr = %q, want two brokers k1:9092,k2:9092", got)
	}
}

func TestNewKafkaPublisher_SingleBroker(t *testing.T) {
	p := NewKafkaPublisher("localhost:9092", "ledger_events", zap.NewNop())
	defer p.Close()

	if got := p.w.Addr.String(); got != "localhost:9092" {
		t.Errorf("addr = %q", got)
	}
}

type failing struct{ err error }

func (f failing) Publish(context.Context, events.LedgerEvent) error { return f.err }

func TestMulti_DeliversToEverySink(t *testing.T) {
	mem := &Memory{}
	boom := errors.New("broker down")
	m := Multi{failing{boom}, mem}

	evt, err := NewEvent(events.BetCreated, "bets", 7, 3, "ops", map[string]int{"id": 7})
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Publish(context.Background(), evt); !errors.Is(err, boom) {
		t.Fatalf("expected joined sink error, got %v", err)
	}
	if got := mem.Events(); len(got) != 1 || got[0].ID != evt.ID {
		t.Errorf("memory sink missed the event: %+v", got)
	}
}
