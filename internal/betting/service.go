// Package betting owns the bet lifecycle: creation, placement status
// transitions, one-time settlement and settlement amounts. It never moves
// money; crediting a settled bet is a separate ledger call.
package betting

import (
	"time"

	"go.uber.org/zap"

	"github.com/atmx/bet-ledger/internal/audit"
	"github.com/atmx/bet-ledger/internal/notify"
	"github.com/atmx/bet-ledger/internal/store"
)

type Service struct {
	store    store.Store
	recorder *audit.Recorder
	pub      notify.Publisher
	log      *zap.Logger
	now      func() time.Time
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
		s.recorder = s.recorder.WithClock(now)
	}
}

func WithPublisher(p notify.Publisher) Option {
	return func(s *Service) { s.pub = p }
}

func NewService(st store.Store, log *zap.Logger, opts ...Option) *Service {
	s := &Service{
		store:    st,
		recorder: audit.NewRecorder(),
		pub:      notify.Nop{},
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}
