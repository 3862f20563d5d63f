package analytics

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/bet-ledger/internal/model"
)

// Sums are kept exact while folding and converted to float64 only when a
// report row is built.

type BetsSummary struct {
	TotalBets   int     `json:"total_bets"`
	PlacedBets  int     `json:"placed_bets"`
	PendingBets int     `json:"pending_bets"`
	FailedBets  int     `json:"failed_bets"`
	WinningBets int     `json:"winning_bets"`
	LosingBets  int     `json:"losing_bets"`
	VoidBets    int     `json:"void_bets"`
	TotalStaked float64 `json:"total_staked"`
	TotalWon    float64 `json:"total_won"`
	TotalLost   float64 `json:"total_lost"`
	NetRevenue  float64 `json:"net_revenue"`
	AvgStake    float64 `json:"avg_stake"`
	AvgOdds     float64 `json:"avg_odds"`
	WinRate     float64 `json:"win_rate"`
}

type SportStats struct {
	Sport       string  `json:"sport"`
	TotalBets   int     `json:"total_bets"`
	PlacedBets  int     `json:"placed_bets"`
	WinningBets int     `json:"winning_bets"`
	LosingBets  int     `json:"losing_bets"`
	TotalStaked float64 `json:"total_staked"`
	TotalWon    float64 `json:"total_won"`
	TotalLost   float64 `json:"total_lost"`
	AvgStake    float64 `json:"avg_stake"`
	AvgOdds     float64 `json:"avg_odds"`
	WinRate     float64 `json:"win_rate"`
}

type BookieStats struct {
	Bookie      string  `json:"bookie"`
	TotalBets   int     `json:"total_bets"`
	PlacedBets  int     `json:"placed_bets"`
	WinningBets int     `json:"winning_bets"`
	TotalStaked float64 `json:"total_staked"`
	AvgStake    float64 `json:"avg_stake"`
	AvgOdds     float64 `json:"avg_odds"`
	WinRate     float64 `json:"win_rate"`
}

type StatusStats struct {
	Status      string  `json:"status"`
	Count       int     `json:"count"`
	TotalStaked float64 `json:"total_staked"`
	AvgStake    float64 `json:"avg_stake"`
}

type OutcomeStats struct {
	Outcome     string  `json:"outcome"`
	Count       int     `json:"count"`
	TotalStaked float64 `json:"total_staked"`
	TotalWon    float64 `json:"total_won"`
	TotalLost   float64 `json:"total_lost"`
	AvgStake    float64 `json:"avg_stake"`
	AvgOdds     float64 `json:"avg_odds"`
}

type TrendPoint struct {
	Date        string  `json:"date"`
	TotalBets   int     `json:"total_bets"`
	PlacedBets  int     `json:"placed_bets"`
	TotalStaked float64 `json:"total_staked"`
	WinningBets int     `json:"winning_bets"`
}

type ResultsSummary struct {
	TotalEvents       int     `json:"total_events"`
	FinishedEvents    int     `json:"finished_events"`
	LiveEvents        int     `json:"live_events"`
	PrematchEvents    int     `json:"prematch_events"`
	EventsWithResults int     `json:"events_with_results"`
	AvgTotalScore     float64 `json:"avg_total_score"`
	MaxTotalScore     int     `json:"max_total_score"`
	MinTotalScore     int     `json:"min_total_score"`
	AvgScoreA         float64 `json:"avg_score_a"`
	AvgScoreB         float64 `json:"avg_score_b"`
}

type CompetitionResults struct {
	CompetitionName   string  `json:"competition_name"`
	Sport             string  `json:"sport"`
	TotalEvents       int     `json:"total_events"`
	EventsWithResults int     `json:"events_with_results"`
	AvgTotalScore     float64 `json:"avg_total_score"`
	AvgScoreA         float64 `json:"avg_score_a"`
	AvgScoreB         float64 `json:"avg_score_b"`
}

type ScoreCount struct {
	ScoreA     *int `json:"score_a"`
	ScoreB     *int `json:"score_b"`
	TotalScore *int `json:"total_score"`
	Count      int  `json:"count"`
}

type CustomerStats struct {
	CustomerID  int64   `json:"customer_id"`
	Username    string  `json:"username"`
	RealName    string  `json:"real_name"`
	TotalBets   int     `json:"total_bets"`
	PlacedBets  int     `json:"placed_bets"`
	WinningBets int     `json:"winning_bets"`
	TotalStaked float64 `json:"total_staked"`
	TotalWon    float64 `json:"total_won"`
	TotalLost   float64 `json:"total_lost"`
	NetProfit   float64 `json:"net_profit"`
	WinRate     float64 `json:"win_rate"`
}

// betTotals folds the metric set shared by every bet grouping.
type betTotals struct {
	total, placed, pending, failed int
	wins, losses, voids            int
	staked, won, lost              decimal.Decimal
	oddsSum                        decimal.Decimal
}

func (t *betTotals) add(b *model.Bet) {
	t.total++
	t.oddsSum = t.oddsSum.Add(b.Odds)
	switch b.PlacementStatus {
	case model.PlacementPlaced:
		t.placed++
		t.staked = t.staked.Add(b.Stake.Amount())
	case model.PlacementPending:
		t.pending++
	case model.PlacementFailed:
		t.failed++
	}
	if b.Outcome == nil {
		return
	}
	switch *b.Outcome {
	case model.OutcomeWin:
		t.wins++
		if b.PlacementStatus == model.PlacementPlaced {
			t.won = t.won.Add(b.Stake.MulRound(b.Odds).Amount())
		}
	case model.OutcomeLose:
		t.losses++
		if b.PlacementStatus == model.PlacementPlaced {
			t.lost = t.lost.Add(b.Stake.Amount())
		}
	case model.OutcomeVoid:
		t.voids++
	}
}

func (t *betTotals) avgStake() float64 { return avg(t.staked, t.placed) }
func (t *betTotals) avgOdds() float64  { return avg(t.oddsSum, t.total) }

// winRate is wins over placed bets, with the denominator floored at 1.
func (t *betTotals) winRate() float64 {
	return winRate(t.wins, t.placed)
}

func winRate(wins, placed int) float64 {
	return float64(wins) / float64(max(placed, 1)) * 100
}

func avg(sum decimal.Decimal, n int) float64 {
	if n == 0 {
		return 0
	}
	return sum.Div(decimal.NewFromInt(int64(n))).InexactFloat64()
}

func newTotals() *betTotals {
	return &betTotals{staked: decimal.Zero, won: decimal.Zero, lost: decimal.Zero, oddsSum: decimal.Zero}
}

// SummarizeBets computes the all-bets summary.
func SummarizeBets(bets []model.Bet) BetsSummary {
	t := newTotals()
	for i := range bets {
		t.add(&bets[i])
	}
	staked, won, lost := t.staked.InexactFloat64(), t.won.InexactFloat64(), t.lost.InexactFloat64()
	return BetsSummary{
		TotalBets:   t.total,
		PlacedBets:  t.placed,
		PendingBets: t.pending,
		FailedBets:  t.failed,
		WinningBets: t.wins,
		LosingBets:  t.losses,
		VoidBets:    t.voids,
		TotalStaked: staked,
		TotalWon:    won,
		TotalLost:   lost,
		NetRevenue:  t.lost.Sub(t.won.Sub(t.staked)).InexactFloat64(),
		AvgStake:    t.avgStake(),
		AvgOdds:     t.avgOdds(),
		WinRate:     t.winRate(),
	}
}

// groupBets folds bets by key and returns the keys ordered by bet count
// desc, then key asc.
func groupBets(bets []model.Bet, key func(*model.Bet) string) ([]string, map[string]*betTotals) {
	groups := map[string]*betTotals{}
	for i := range bets {
		k := key(&bets[i])
		t, ok := groups[k]
		if !ok {
			t = newTotals()
			groups[k] = t
		}
		t.add(&bets[i])
	}
	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := groups[keys[i]], groups[keys[j]]
		if a.total != b.total {
			return a.total > b.total
		}
		return keys[i] < keys[j]
	})
	return keys, groups
}

func BetsBySport(bets []model.Bet) []SportStats {
	keys, groups := groupBets(bets, func(b *model.Bet) string { return b.Sport })
	out := make([]SportStats, 0, len(keys))
	for _, k := range keys {
		t := groups[k]
		out = append(out, SportStats{
			Sport:       k,
			TotalBets:   t.total,
			PlacedBets:  t.placed,
			WinningBets: t.wins,
			LosingBets:  t.losses,
			TotalStaked: t.staked.InexactFloat64(),
			TotalWon:    t.won.InexactFloat64(),
			TotalLost:   t.lost.InexactFloat64(),
			AvgStake:    t.avgStake(),
			AvgOdds:     t.avgOdds(),
			WinRate:     t.winRate(),
		})
	}
	return out
}

func BetsByBookie(bets []model.Bet) []BookieStats {
	keys, groups := groupBets(bets, func(b *model.Bet) string { return b.Bookie })
	out := make([]BookieStats, 0, len(keys))
	for _, k := range keys {
		t := groups[k]
		out = append(out, BookieStats{
			Bookie:      k,
			TotalBets:   t.total,
			PlacedBets:  t.placed,
			WinningBets: t.wins,
			TotalStaked: t.staked.InexactFloat64(),
			AvgStake:    t.avgStake(),
			AvgOdds:     t.avgOdds(),
			WinRate:     t.winRate(),
		})
	}
	return out
}

// BetsByStatus sums every stake in a status group, not only placed ones.
func BetsByStatus(bets []model.Bet) []StatusStats {
	type acc struct {
		n   int
		sum decimal.Decimal
	}
	groups := map[string]*acc{}
	var keys []string
	for i := range bets {
		k := string(bets[i].PlacementStatus)
		a, ok := groups[k]
		if !ok {
			a = &acc{sum: decimal.Zero}
			groups[k] = a
			keys = append(keys, k)
		}
		a.n++
		a.sum = a.sum.Add(bets[i].Stake.Amount())
	}
	sort.Slice(keys, func(i, j int) bool {
		if groups[keys[i]].n != groups[keys[j]].n {
			return groups[keys[i]].n > groups[keys[j]].n
		}
		return keys[i] < keys[j]
	})
	out := make([]StatusStats, 0, len(keys))
	for _, k := range keys {
		a := groups[k]
		out = append(out, StatusStats{Status: k, Count: a.n, TotalStaked: a.sum.InexactFloat64(), AvgStake: avg(a.sum, a.n)})
	}
	return out
}

// PendingOutcome labels placed bets that have no outcome yet.
const PendingOutcome = "pending"

// BetsByOutcome groups placed bets by outcome.
func BetsByOutcome(bets []model.Bet) []OutcomeStats {
	type acc struct {
		n                    int
		staked, won, lost, o decimal.Decimal
	}
	groups := map[string]*acc{}
	var keys []string
	for i := range bets {
		b := &bets[i]
		if b.PlacementStatus != model.PlacementPlaced {
			continue
		}
		k := PendingOutcome
		if b.Outcome != nil {
			k = string(*b.Outcome)
		}
		a, ok := groups[k]
		if !ok {
			a = &acc{staked: decimal.Zero, won: decimal.Zero, lost: decimal.Zero, o: decimal.Zero}
			groups[k] = a
			keys = append(keys, k)
		}
		a.n++
		a.staked = a.staked.Add(b.Stake.Amount())
		a.o = a.o.Add(b.Odds)
		switch k {
		case string(model.OutcomeWin):
			a.won = a.won.Add(b.Stake.MulRound(b.Odds).Amount())
		case string(model.OutcomeLose):
			a.lost = a.lost.Add(b.Stake.Amount())
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if groups[keys[i]].n != groups[keys[j]].n {
			return groups[keys[i]].n > groups[keys[j]].n
		}
		return keys[i] < keys[j]
	})
	out := make([]OutcomeStats, 0, len(keys))
	for _, k := range keys {
		a := groups[k]
		out = append(out, OutcomeStats{
			Outcome:     k,
			Count:       a.n,
			TotalStaked: a.staked.InexactFloat64(),
			TotalWon:    a.won.InexactFloat64(),
			TotalLost:   a.lost.InexactFloat64(),
			AvgStake:    avg(a.staked, a.n),
			AvgOdds:     avg(a.o, a.n),
		})
	}
	return out
}

// BetsTrends buckets bets created since midnight UTC `days` days before now
// by calendar day, oldest first. Days without bets are omitted.
func BetsTrends(bets []model.Bet, days int, now time.Time) []TrendPoint {
	now = now.UTC()
	since := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, -days)

	type acc struct {
		total, placed, wins int
		staked              decimal.Decimal
	}
	buckets := map[string]*acc{}
	var keys []string
	for i := range bets {
		b := &bets[i]
		created := b.CreatedAt.UTC()
		if created.Before(since) {
			continue
		}
		k := created.Format(time.DateOnly)
		a, ok := buckets[k]
		if !ok {
			a = &acc{staked: decimal.Zero}
			buckets[k] = a
			keys = append(keys, k)
		}
		a.total++
		if b.PlacementStatus == model.PlacementPlaced {
			a.placed++
			a.staked = a.staked.Add(b.Stake.Amount())
		}
		if b.Outcome != nil && *b.Outcome == model.OutcomeWin {
			a.wins++
		}
	}
	sort.Strings(keys)
	out := make([]TrendPoint, 0, len(keys))
	for _, k := range keys {
		a := buckets[k]
		out = append(out, TrendPoint{Date: k, TotalBets: a.total, PlacedBets: a.placed, TotalStaked: a.staked.InexactFloat64(), WinningBets: a.wins})
	}
	return out
}

// scoreStats follows SQL aggregate semantics: a side's average skips
// unknown scores, and a combined score exists only when both sides do.
type scoreStats struct {
	results          int
	sumA, nA         int
	sumB, nB         int
	sumTotal, nTotal int
	minTotal         int
	maxTotal         int
}

func (s *scoreStats) add(r *model.Result) {
	s.results++
	if r.ScoreA != nil {
		s.sumA += *r.ScoreA
		s.nA++
	}
	if r.ScoreB != nil {
		s.sumB += *r.ScoreB
		s.nB++
	}
	if r.ScoreA != nil && r.ScoreB != nil {
		total := *r.ScoreA + *r.ScoreB
		if s.nTotal == 0 || total < s.minTotal {
			s.minTotal = total
		}
		if s.nTotal == 0 || total > s.maxTotal {
			s.maxTotal = total
		}
		s.sumTotal += total
		s.nTotal++
	}
}

func ratio(sum, n int) float64 {
	if n == 0 {
		return 0
	}
	return float64(sum) / float64(n)
}

// SummarizeResults counts events by status and reports score statistics
// over the events that have a result.
func SummarizeResults(events []model.Event, results []model.Result) ResultsSummary {
	byEvent := resultsByEvent(results)
	var out ResultsSummary
	var stats scoreStats
	for i := range events {
		e := &events[i]
		out.TotalEvents++
		switch e.Status {
		case model.EventFinished:
			out.FinishedEvents++
		case model.EventLive:
			out.LiveEvents++
		case model.EventPrematch:
			out.PrematchEvents++
		}
		if r, ok := byEvent[e.ID]; ok {
			stats.add(r)
		}
	}
	out.EventsWithResults = stats.results
	out.AvgTotalScore = ratio(stats.sumTotal, stats.nTotal)
	out.MaxTotalScore = stats.maxTotal
	out.MinTotalScore = stats.minTotal
	out.AvgScoreA = ratio(stats.sumA, stats.nA)
	out.AvgScoreB = ratio(stats.sumB, stats.nB)
	return out
}

func resultsByEvent(results []model.Result) map[int64]*model.Result {
	m := make(map[int64]*model.Result, len(results))
	for i := range results {
		m[results[i].EventID] = &results[i]
	}
	return m
}

// ResultsByCompetition reports score statistics per competition with at
// least one event, ordered by event count desc.
func ResultsByCompetition(comps []model.Competition, events []model.Event, results []model.Result) []CompetitionResults {
	byEvent := resultsByEvent(results)
	type acc struct {
		events int
		stats  scoreStats
	}
	groups := map[int64]*acc{}
	for i := range events {
		e := &events[i]
		a, ok := groups[e.CompetitionID]
		if !ok {
			a = &acc{}
			groups[e.CompetitionID] = a
		}
		a.events++
		if r, ok := byEvent[e.ID]; ok {
			a.stats.add(r)
		}
	}

	sorted := make([]model.Competition, 0, len(comps))
	for _, c := range comps {
		if groups[c.ID] != nil {
			sorted = append(sorted, c)
		}
	}
	sort.Slice(sorted, func(i, j int) bool {
		ai, aj := groups[sorted[i].ID], groups[sorted[j].ID]
		if ai.events != aj.events {
			return ai.events > aj.events
		}
		return sorted[i].ID < sorted[j].ID
	})

	out := make([]CompetitionResults, 0, len(sorted))
	for _, c := range sorted {
		a := groups[c.ID]
		out = append(out, CompetitionResults{
			CompetitionName:   c.Name,
			Sport:             c.Sport,
			TotalEvents:       a.events,
			EventsWithResults: a.stats.results,
			AvgTotalScore:     ratio(a.stats.sumTotal, a.stats.nTotal),
			AvgScoreA:         ratio(a.stats.sumA, a.stats.nA),
			AvgScoreB:         ratio(a.stats.sumB, a.stats.nB),
		})
	}
	return out
}

// ScoreDistributionLimit caps the number of distinct scorelines reported.
const ScoreDistributionLimit = 20

// ScoreDistribution counts results per scoreline, most frequent first.
func ScoreDistribution(results []model.Result) []ScoreCount {
	type key struct {
		a, b       int
		hasA, hasB bool
	}
	counts := map[key]*ScoreCount{}
	var keys []key
	for i := range results {
		r := &results[i]
		var k key
		if r.ScoreA != nil {
			k.a, k.hasA = *r.ScoreA, true
		}
		if r.ScoreB != nil {
			k.b, k.hasB = *r.ScoreB, true
		}
		sc, ok := counts[k]
		if !ok {
			sc = &ScoreCount{}
			if k.hasA {
				sc.ScoreA = &k.a
			}
			if k.hasB {
				sc.ScoreB = &k.b
			}
			if k.hasA && k.hasB {
				total := k.a + k.b
				sc.TotalScore = &total
			}
			counts[k] = sc
			keys = append(keys, k)
		}
		sc.Count++
	}
	sort.SliceStable(keys, func(i, j int) bool {
		ci, cj := counts[keys[i]].Count, counts[keys[j]].Count
		if ci != cj {
			return ci > cj
		}
		if keys[i].a != keys[j].a {
			return keys[i].a < keys[j].a
		}
		return keys[i].b < keys[j].b
	})
	if len(keys) > ScoreDistributionLimit {
		keys = keys[:ScoreDistributionLimit]
	}
	out := make([]ScoreCount, 0, len(keys))
	for _, k := range keys {
		out = append(out, *counts[k])
	}
	return out
}

// TopCustomers ranks customers with at least one bet by bet count, then
// placed stake.
func TopCustomers(customers []model.Customer, bets []model.Bet, limit int) []CustomerStats {
	totals := map[int64]*betTotals{}
	for i := range bets {
		b := &bets[i]
		t, ok := totals[b.CustomerID]
		if !ok {
			t = newTotals()
			totals[b.CustomerID] = t
		}
		t.add(b)
	}

	ranked := make([]model.Customer, 0, len(totals))
	for _, c := range customers {
		if totals[c.ID] != nil {
			ranked = append(ranked, c)
		}
	}
	sort.Slice(ranked, func(i, j int) bool {
		ti, tj := totals[ranked[i].ID], totals[ranked[j].ID]
		if ti.total != tj.total {
			return ti.total > tj.total
		}
		if c := ti.staked.Cmp(tj.staked); c != 0 {
			return c > 0
		}
		return ranked[i].ID < ranked[j].ID
	})
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}

	out := make([]CustomerStats, 0, len(ranked))
	for _, c := range ranked {
		t := totals[c.ID]
		out = append(out, CustomerStats{
			CustomerID:  c.ID,
			Username:    c.Username,
			RealName:    c.RealName,
			TotalBets:   t.total,
			PlacedBets:  t.placed,
			WinningBets: t.wins,
			TotalStaked: t.staked.InexactFloat64(),
			TotalWon:    t.won.InexactFloat64(),
			TotalLost:   t.lost.InexactFloat64(),
			NetProfit:   t.won.Sub(t.staked).InexactFloat64(),
			WinRate:     t.winRate(),
		})
	}
	return out
}
