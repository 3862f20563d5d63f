// Package analytics computes read-only reports over bets, events and
// results. Every report is a pure function of one consistent snapshot of
// committed data; the service takes no locks and writes nothing.
package analytics

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/atmx/bet-ledger/internal/metrics"
	"github.com/atmx/bet-ledger/internal/model"
	"github.com/atmx/bet-ledger/internal/store"
)

const (
	DefaultTrendDays = 30
	MaxTrendDays     = 365

	DefaultTopCustomers = 10
	MaxTopCustomers     = 100

	dashboardTop = 5
)

// Cache stores finished reports. A nil Cache disables caching.
type Cache interface {
	Get(ctx context.Context, key string, dst any) (bool, error)
	Set(ctx context.Context, key string, v any) error
}

type Service struct {
	reader store.Reader
	cache  Cache
	log    *zap.Logger
	now    func() time.Time
}

type Option func(*Service)

func WithCache(c Cache) Option {
	return func(s *Service) { s.cache = c }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(r store.Reader, log *zap.Logger, opts ...Option) *Service {
	s := &Service{reader: r, log: log, now: func() time.Time { return time.Now().UTC() }}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// cached returns the report under key, computing it from a fresh snapshot
// on a miss. Cache failures are logged and fall through to the store.
func cached[T any](ctx context.Context, s *Service, key string, compute func(*store.ReportData) T) (T, error) {
	var out T
	if s.cache != nil {
		hit, err := s.cache.Get(ctx, key, &out)
		switch {
		case err != nil:
			metrics.AnalyticsCacheTotal.WithLabelValues("error").Inc()
			s.log.Warn("analytics cache read failed", zap.String("key", key), zap.Error(err))
		case hit:
			metrics.AnalyticsCacheTotal.WithLabelValues("hit").Inc()
			return out, nil
		default:
			metrics.AnalyticsCacheTotal.WithLabelValues("miss").Inc()
		}
	}

	data, err := s.reader.LoadReportData(ctx)
	if err != nil {
		return out, fmt.Errorf("load report data: %w", err)
	}
	out = compute(data)

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, out); err != nil {
			s.log.Warn("analytics cache write failed", zap.String("key", key), zap.Error(err))
		}
	}
	return out, nil
}

func (s *Service) BetsSummary(ctx context.Context) (BetsSummary, error) {
	return cached(ctx, s, "bets:summary", func(d *store.ReportData) BetsSummary {
		return SummarizeBets(d.Bets)
	})
}

func (s *Service) BetsBySport(ctx context.Context) ([]SportStats, error) {
	return cached(ctx, s, "bets:by_sport", func(d *store.ReportData) []SportStats {
		return BetsBySport(d.Bets)
	})
}

func (s *Service) BetsByBookie(ctx context.Context) ([]BookieStats, error) {
	return cached(ctx, s, "bets:by_bookie", func(d *store.ReportData) []BookieStats {
		return BetsByBookie(d.Bets)
	})
}

func (s *Service) BetsByStatus(ctx context.Context) ([]StatusStats, error) {
	return cached(ctx, s, "bets:by_status", func(d *store.ReportData) []StatusStats {
		return BetsByStatus(d.Bets)
	})
}

func (s *Service) BetsByOutcome(ctx context.Context) ([]OutcomeStats, error) {
	return cached(ctx, s, "bets:by_outcome", func(d *store.ReportData) []OutcomeStats {
		return BetsByOutcome(d.Bets)
	})
}

// BetsTrends reports daily totals over the last days days (1–365).
func (s *Service) BetsTrends(ctx context.Context, days int) ([]TrendPoint, error) {
	if days < 1 || days > MaxTrendDays {
		return nil, model.Validation("days", fmt.Sprintf("must be between 1 and %d", MaxTrendDays))
	}
	now := s.now()
	key := fmt.Sprintf("bets:trends:%d:%s", days, now.UTC().Format(time.DateOnly))
	return cached(ctx, s, key, func(d *store.ReportData) []TrendPoint {
		return BetsTrends(d.Bets, days, now)
	})
}

func (s *Service) ResultsSummary(ctx context.Context) (ResultsSummary, error) {
	return cached(ctx, s, "results:summary", func(d *store.ReportData) ResultsSummary {
		return SummarizeResults(d.Events, d.Results)
	})
}

func (s *Service) ResultsByCompetition(ctx context.Context) ([]CompetitionResults, error) {
	return cached(ctx, s, "results:by_competition", func(d *store.ReportData) []CompetitionResults {
		return ResultsByCompetition(d.Competitions, d.Events, d.Results)
	})
}

func (s *Service) ScoreDistribution(ctx context.Context) ([]ScoreCount, error) {
	return cached(ctx, s, "results:score_distribution", func(d *store.ReportData) []ScoreCount {
		return ScoreDistribution(d.Results)
	})
}

// TopCustomers ranks bettors (limit 1–100).
func (s *Service) TopCustomers(ctx context.Context, limit int) ([]CustomerStats, error) {
	if limit < 1 || limit > MaxTopCustomers {
		return nil, model.Validation("limit", fmt.Sprintf("must be between 1 and %d", MaxTopCustomers))
	}
	return cached(ctx, s, fmt.Sprintf("customers:top:%d", limit), func(d *store.ReportData) []CustomerStats {
		return TopCustomers(d.Customers, d.Bets, limit)
	})
}

type Dashboard struct {
	Bets         BetsSummary     `json:"bets"`
	Results      ResultsSummary  `json:"results"`
	BetsBySport  []SportStats    `json:"bets_by_sport"`
	BetsByStatus []StatusStats   `json:"bets_by_status"`
	TopCustomers []CustomerStats `json:"top_customers"`
	GeneratedAt  time.Time       `json:"generated_at"`
}

// Dashboard builds every panel from the same snapshot.
func (s *Service) Dashboard(ctx context.Context) (Dashboard, error) {
	return cached(ctx, s, "dashboard", func(d *store.ReportData) Dashboard {
		bySport := BetsBySport(d.Bets)
		if len(bySport) > dashboardTop {
			bySport = bySport[:dashboardTop]
		}
		return Dashboard{
			Bets:         SummarizeBets(d.Bets),
			Results:      SummarizeResults(d.Events, d.Results),
			BetsBySport:  bySport,
			BetsByStatus: BetsByStatus(d.Bets),
			TopCustomers: TopCustomers(d.Customers, d.Bets, dashboardTop),
			GeneratedAt:  s.now(),
		}
	})
}
