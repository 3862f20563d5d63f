// Package ledger owns customers and their balances. A balance only moves
// through ApplyBalanceChange, which appends an immutable ledger entry in
// the same transaction as the balance update.
package ledger

import (
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"go.uber.org/zap"

	"github.com/atmx/bet-ledger/internal/audit"
	"github.com/atmx/bet-ledger/internal/metrics"
	"github.com/atmx/bet-ledger/internal/model"
	"github.com/atmx/bet-ledger/internal/notify"
	"github.com/atmx/bet-ledger/internal/store"
)

// RetryConfig bounds retries of transient storage failures.
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// DefaultRetry is used when no RetryConfig option is given.
var DefaultRetry = RetryConfig{MaxRetries: 3, BaseDelay: 25 * time.Millisecond, MaxDelay: 500 * time.Millisecond}

type Service struct {
	store    store.Store
	recorder *audit.Recorder
	pub      notify.Publisher
	log      *zap.Logger
	retry    retrypolicy.RetryPolicy[*model.BalanceChange]
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

func WithRetry(cfg RetryConfig) Option {
	return func(s *Service) { s.retry = newRetryPolicy(cfg, s.log) }
}

// NewService creates the ledger service.
func NewService(st store.Store, log *zap.Logger, opts ...Option) *Service {
	s := &Service{
		store:    st,
		recorder: audit.NewRecorder(),
		pub:      notify.Nop{},
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
	s.retry = newRetryPolicy(DefaultRetry, log)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// newRetryPolicy retries only model.ErrRetryable failures: lock timeouts,
// deadlocks and serialization failures. Each retry reruns the whole
// transaction from the row lock on.
func newRetryPolicy(cfg RetryConfig, log *zap.Logger) retrypolicy.RetryPolicy[*model.BalanceChange] {
	builder := retrypolicy.NewBuilder[*model.BalanceChange]().
		HandleIf(func(_ *model.BalanceChange, err error) bool {
			return model.IsRetryable(err)
		}).
		WithMaxRetries(cfg.MaxRetries).
		ReturnLastFailure().
		OnRetry(func(e failsafe.ExecutionEvent[*model.BalanceChange]) {
			metrics.TxRetriesTotal.WithLabelValues("balance_change").Inc()
			log.Warn("retrying balance change", zap.Int("attempt", e.Attempts()), zap.Error(e.LastError()))
		})
	if cfg.BaseDelay > 0 && cfg.MaxDelay >= cfg.BaseDelay {
		builder = builder.WithBackoff(cfg.BaseDelay, cfg.MaxDelay).WithJitterFactor(0.1)
	}
	return builder.Build()
}
