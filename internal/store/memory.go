package store

import (
	"context"
	"maps"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/atmx/bet-ledger/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
//
// Write transactions hold the store-wide lock for their whole duration,
// so they are fully serialized. Each mutation pushes an undo step; a
// failed transaction replays them in reverse.
type MemoryStore struct {
	mu  sync.RWMutex
	seq map[model.Table]int64

	customers    map[int64]*model.Customer
	changes      map[int64]*model.BalanceChange
	bets         map[int64]*model.Bet
	sports       map[string]*model.Sport
	bookies      map[string]*model.Bookie
	competitions map[int64]*model.Competition
	teams        map[int64]*model.Team
	events       map[int64]*model.Event
	results      map[int64]*model.Result
	audit        []model.AuditLogEntry
	auditSeq     int64
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		seq:          make(map[model.Table]int64),
		customers:    make(map[int64]*model.Customer),
		changes:      make(map[int64]*model.BalanceChange),
		bets:         make(map[int64]*model.Bet),
		sports:       make(map[string]*model.Sport),
		bookies:      make(map[string]*model.Bookie),
		competitions: make(map[int64]*model.Competition),
		teams:        make(map[int64]*model.Team),
		events:       make(map[int64]*model.Event),
		results:      make(map[int64]*model.Result),
	}
}

func (s *MemoryStore) Ping(context.Context) error { return nil }
func (s *MemoryStore) Close()                     {}

func (s *MemoryStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{s: s}
	committed := false
	defer func() {
		if !committed {
			tx.rollback()
		}
	}()
	if err := fn(tx); err != nil {
		return err
	}
	committed = true
	return nil
}

func (s *MemoryStore) nextID(t model.Table) int64 {
	s.seq[t]++
	return s.seq[t]
}

// --- copies ---

func cloneCustomer(c *model.Customer) *model.Customer {
	cp := *c
	cp.Preferences = maps.Clone(c.Preferences)
	return &cp
}

func cloneBet(b *model.Bet) *model.Bet {
	cp := *b
	if b.Outcome != nil {
		o := *b.Outcome
		cp.Outcome = &o
	}
	cp.PlacementData = maps.Clone(b.PlacementData)
	return &cp
}

func cloneResult(r *model.Result) *model.Result {
	cp := *r
	if r.ScoreA != nil {
		a := *r.ScoreA
		cp.ScoreA = &a
	}
	if r.ScoreB != nil {
		b := *r.ScoreB
		cp.ScoreB = &b
	}
	return &cp
}

func paginate[T any](items []T, p Page) []T {
	if p.Offset > 0 {
		if p.Offset >= len(items) {
			return []T{}
		}
		items = items[p.Offset:]
	}
	if p.Limit > 0 && len(items) > p.Limit {
		items = items[:p.Limit]
	}
	return items
}

// --- Reader ---

func (s *MemoryStore) GetCustomer(_ context.Context, id int64) (*model.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.customers[id]
	if !ok {
		return nil, model.NotFound("customer", id)
	}
	return cloneCustomer(c), nil
}

func (s *MemoryStore) ListCustomers(_ context.Context, f CustomerFilter) ([]model.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Customer, 0, len(s.customers))
	for _, c := range s.customers {
		if f.Status != "" && c.Status != f.Status {
			continue
		}
		if f.Currency != "" && c.Currency != f.Currency {
			continue
		}
		out = append(out, *cloneCustomer(c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return paginate(out, f.Page), nil
}

func (s *MemoryStore) GetBalanceChange(_ context.Context, id int64) (*model.BalanceChange, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bc, ok := s.changes[id]
	if !ok {
		return nil, model.NotFound("balance change", id)
	}
	cp := *bc
	return &cp, nil
}

func (s *MemoryStore) ListBalanceChanges(_ context.Context, f BalanceChangeFilter) ([]model.BalanceChange, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []model.BalanceChange{}
	for _, bc := range s.changes {
		if f.CustomerID != nil && bc.CustomerID != *f.CustomerID {
			continue
		}
		if f.ChangeType != "" && bc.ChangeType != f.ChangeType {
			continue
		}
		out = append(out, *bc)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return paginate(out, f.Page), nil
}

func (s *MemoryStore) SumBalanceChanges(ctx context.Context, customerID int64) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return (&memTx{s: s}).SumBalanceChanges(ctx, customerID)
}

func (s *MemoryStore) GetBet(_ context.Context, id int64) (*model.Bet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.bets[id]
	if !ok {
		return nil, model.NotFound("bet", id)
	}
	return cloneBet(b), nil
}

func (s *MemoryStore) ListBets(_ context.Context, f BetFilter) ([]model.Bet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []model.Bet{}
	for _, b := range s.bets {
		if f.CustomerID != nil && b.CustomerID != *f.CustomerID {
			continue
		}
		if f.EventID != nil && b.EventID != *f.EventID {
			continue
		}
		if f.Bookie != "" && b.Bookie != f.Bookie {
			continue
		}
		if f.PlacementStatus != "" && b.PlacementStatus != f.PlacementStatus {
			continue
		}
		if f.Outcome != "" && (b.Outcome == nil || *b.Outcome != f.Outcome) {
			continue
		}
		out = append(out, *cloneBet(b))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return paginate(out, f.Page), nil
}

func (s *MemoryStore) GetEvent(_ context.Context, id int64) (*model.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.events[id]
	if !ok {
		return nil, model.NotFound("event", id)
	}
	cp := *e
	return &cp, nil
}

func (s *MemoryStore) GetResult(_ context.Context, eventID int64) (*model.Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.results[eventID]
	if !ok {
		return nil, model.NotFound("result", eventID)
	}
	return cloneResult(r), nil
}

func (s *MemoryStore) GetAuditLog(_ context.Context, id int64) (*model.AuditLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, e := range s.audit {
		if e.ID == id {
			return &e, nil
		}
	}
	return nil, model.NotFound("audit log", id)
}

func (s *MemoryStore) ListAuditLogs(_ context.Context, f AuditFilter) ([]model.AuditLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []model.AuditLogEntry{}
	for _, e := range s.audit {
		if f.TableName != "" && e.TableName != f.TableName {
			continue
		}
		if f.Operation != "" && e.Operation != f.Operation {
			continue
		}
		if f.RowID != nil && (e.RowID == nil || *e.RowID != *f.RowID) {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ChangedAt.Equal(out[j].ChangedAt) {
			return out[i].ChangedAt.After(out[j].ChangedAt)
		}
		return out[i].ID > out[j].ID
	})
	return paginate(out, f.Page), nil
}

func (s *MemoryStore) LoadReportData(_ context.Context) (*ReportData, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data := &ReportData{}
	for _, c := range s.customers {
		data.Customers = append(data.Customers, model.Customer{ID: c.ID, Username: c.Username, RealName: c.RealName})
	}
	for _, b := range s.bets {
		data.Bets = append(data.Bets, *cloneBet(b))
	}
	for _, e := range s.events {
		data.Events = append(data.Events, *e)
	}
	for _, r := range s.results {
		data.Results = append(data.Results, *cloneResult(r))
	}
	for _, c := range s.competitions {
		data.Competitions = append(data.Competitions, *c)
	}
	sort.Slice(data.Customers, func(i, j int) bool { return data.Customers[i].ID < data.Customers[j].ID })
	sort.Slice(data.Bets, func(i, j int) bool { return data.Bets[i].ID < data.Bets[j].ID })
	sort.Slice(data.Events, func(i, j int) bool { return data.Events[i].ID < data.Events[j].ID })
	sort.Slice(data.Results, func(i, j int) bool { return data.Results[i].EventID < data.Results[j].EventID })
	sort.Slice(data.Competitions, func(i, j int) bool { return data.Competitions[i].ID < data.Competitions[j].ID })
	return data, nil
}

// --- Tx ---

// memTx runs with MemoryStore.mu already held for writing.
type memTx struct {
	s    *MemoryStore
	undo []func()
}

func (tx *memTx) rollback() {
	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i]()
	}
	tx.undo = nil
}

func (tx *memTx) InsertCustomer(_ context.Context, c *model.Customer) error {
	for _, existing := range tx.s.customers {
		if existing.Username == c.Username {
			return model.Conflict("customer", "username "+c.Username+" already exists")
		}
	}
	c.ID = tx.s.nextID(model.TableCustomers)
	tx.s.customers[c.ID] = cloneCustomer(c)
	id := c.ID
	tx.undo = append(tx.undo, func() { delete(tx.s.customers, id) })
	return nil
}

func (tx *memTx) GetCustomer(_ context.Context, id int64) (*model.Customer, error) {
	c, ok := tx.s.customers[id]
	if !ok {
		return nil, model.NotFound("customer", id)
	}
	return cloneCustomer(c), nil
}

func (tx *memTx) GetCustomerForUpdate(ctx context.Context, id int64) (*model.Customer, error) {
	return tx.GetCustomer(ctx, id)
}

func (tx *memTx) UpdateCustomer(_ context.Context, c *model.Customer) error {
	prev, ok := tx.s.customers[c.ID]
	if !ok {
		return model.NotFound("customer", c.ID)
	}
	for _, existing := range tx.s.customers {
		if existing.ID != c.ID && existing.Username == c.Username {
			return model.Conflict("customer", "username "+c.Username+" already exists")
		}
	}
	tx.s.customers[c.ID] = cloneCustomer(c)
	tx.undo = append(tx.undo, func() { tx.s.customers[prev.ID] = prev })
	return nil
}

func (tx *memTx) DeleteCustomer(_ context.Context, id int64) error {
	prev, ok := tx.s.customers[id]
	if !ok {
		return model.NotFound("customer", id)
	}
	delete(tx.s.customers, id)
	tx.undo = append(tx.undo, func() { tx.s.customers[id] = prev })
	return nil
}

func (tx *memTx) CountCustomerDependents(_ context.Context, id int64) (int64, int64, error) {
	var bets, changes int64
	for _, b := range tx.s.bets {
		if b.CustomerID == id {
			bets++
		}
	}
	for _, bc := range tx.s.changes {
		if bc.CustomerID == id {
			changes++
		}
	}
	return bets, changes, nil
}

func (tx *memTx) InsertBalanceChange(_ context.Context, bc *model.BalanceChange) error {
	if _, ok := tx.s.customers[bc.CustomerID]; !ok {
		return model.InvalidReference("customer_id", bc.CustomerID)
	}
	bc.ID = tx.s.nextID(model.TableBalanceChanges)
	cp := *bc
	tx.s.changes[bc.ID] = &cp
	id := bc.ID
	tx.undo = append(tx.undo, func() { delete(tx.s.changes, id) })
	return nil
}

func (tx *memTx) SumBalanceChanges(_ context.Context, customerID int64) (decimal.Decimal, error) {
	sum := decimal.Zero
	for _, bc := range tx.s.changes {
		if bc.CustomerID == customerID {
			sum = sum.Add(bc.Delta.Amount())
		}
	}
	return sum, nil
}

func (tx *memTx) betKeyTaken(bookie, bookieBetID string, exceptID int64) bool {
	for _, b := range tx.s.bets {
		if b.ID != exceptID && b.Bookie == bookie && b.BookieBetID == bookieBetID {
			return true
		}
	}
	return false
}

func (tx *memTx) InsertBet(_ context.Context, b *model.Bet) error {
	if tx.betKeyTaken(b.Bookie, b.BookieBetID, 0) {
		return model.Conflict("bet", "bookie_bet_id "+b.BookieBetID+" already exists for bookie "+b.Bookie)
	}
	b.ID = tx.s.nextID(model.TableBets)
	tx.s.bets[b.ID] = cloneBet(b)
	id := b.ID
	tx.undo = append(tx.undo, func() { delete(tx.s.bets, id) })
	return nil
}

func (tx *memTx) GetBetForUpdate(_ context.Context, id int64) (*model.Bet, error) {
	b, ok := tx.s.bets[id]
	if !ok {
		return nil, model.NotFound("bet", id)
	}
	return cloneBet(b), nil
}

func (tx *memTx) UpdateBet(_ context.Context, b *model.Bet) error {
	prev, ok := tx.s.bets[b.ID]
	if !ok {
		return model.NotFound("bet", b.ID)
	}
	if tx.betKeyTaken(b.Bookie, b.BookieBetID, b.ID) {
		return model.Conflict("bet", "bookie_bet_id "+b.BookieBetID+" already exists for bookie "+b.Bookie)
	}
	tx.s.bets[b.ID] = cloneBet(b)
	tx.undo = append(tx.undo, func() { tx.s.bets[prev.ID] = prev })
	return nil
}

func (tx *memTx) DeleteBet(_ context.Context, id int64) error {
	prev, ok := tx.s.bets[id]
	if !ok {
		return model.NotFound("bet", id)
	}
	delete(tx.s.bets, id)
	tx.undo = append(tx.undo, func() { tx.s.bets[id] = prev })
	return nil
}

func (tx *memTx) InsertSport(_ context.Context, sp *model.Sport) error {
	if _, ok := tx.s.sports[sp.Name]; ok {
		return model.Conflict("sport", "sport "+sp.Name+" already exists")
	}
	cp := *sp
	tx.s.sports[sp.Name] = &cp
	tx.undo = append(tx.undo, func() { delete(tx.s.sports, cp.Name) })
	return nil
}

func (tx *memTx) SportExists(_ context.Context, name string) (bool, error) {
	_, ok := tx.s.sports[name]
	return ok, nil
}

func (tx *memTx) InsertBookie(_ context.Context, b *model.Bookie) error {
	if _, ok := tx.s.bookies[b.Name]; ok {
		return model.Conflict("bookie", "bookie "+b.Name+" already exists")
	}
	cp := *b
	cp.Preferences = maps.Clone(b.Preferences)
	tx.s.bookies[b.Name] = &cp
	tx.undo = append(tx.undo, func() { delete(tx.s.bookies, cp.Name) })
	return nil
}

func (tx *memTx) BookieExists(_ context.Context, name string) (bool, error) {
	_, ok := tx.s.bookies[name]
	return ok, nil
}

func (tx *memTx) InsertCompetition(_ context.Context, c *model.Competition) error {
	if _, ok := tx.s.sports[c.Sport]; !ok {
		return model.InvalidReference("sport", c.Sport)
	}
	c.ID = tx.s.nextID(model.TableCompetitions)
	cp := *c
	tx.s.competitions[c.ID] = &cp
	tx.undo = append(tx.undo, func() { delete(tx.s.competitions, cp.ID) })
	return nil
}

func (tx *memTx) CompetitionExists(_ context.Context, id int64) (bool, error) {
	_, ok := tx.s.competitions[id]
	return ok, nil
}

func (tx *memTx) InsertTeam(_ context.Context, t *model.Team) error {
	if _, ok := tx.s.sports[t.Sport]; !ok {
		return model.InvalidReference("sport", t.Sport)
	}
	t.ID = tx.s.nextID(model.TableTeams)
	cp := *t
	tx.s.teams[t.ID] = &cp
	tx.undo = append(tx.undo, func() { delete(tx.s.teams, cp.ID) })
	return nil
}

func (tx *memTx) TeamExists(_ context.Context, id int64) (bool, error) {
	_, ok := tx.s.teams[id]
	return ok, nil
}

func (tx *memTx) InsertEvent(_ context.Context, e *model.Event) error {
	e.ID = tx.s.nextID(model.TableEvents)
	cp := *e
	tx.s.events[e.ID] = &cp
	tx.undo = append(tx.undo, func() { delete(tx.s.events, cp.ID) })
	return nil
}

func (tx *memTx) GetEvent(_ context.Context, id int64) (*model.Event, error) {
	e, ok := tx.s.events[id]
	if !ok {
		return nil, model.NotFound("event", id)
	}
	cp := *e
	return &cp, nil
}

func (tx *memTx) GetEventForUpdate(ctx context.Context, id int64) (*model.Event, error) {
	return tx.GetEvent(ctx, id)
}

func (tx *memTx) UpdateEvent(_ context.Context, e *model.Event) error {
	prev, ok := tx.s.events[e.ID]
	if !ok {
		return model.NotFound("event", e.ID)
	}
	cp := *e
	tx.s.events[e.ID] = &cp
	tx.undo = append(tx.undo, func() { tx.s.events[prev.ID] = prev })
	return nil
}

func (tx *memTx) DeleteEvent(_ context.Context, id int64) error {
	prev, ok := tx.s.events[id]
	if !ok {
		return model.NotFound("event", id)
	}
	delete(tx.s.events, id)
	tx.undo = append(tx.undo, func() { tx.s.events[id] = prev })
	return nil
}

func (tx *memTx) CountEventDependents(_ context.Context, id int64) (int64, int64, error) {
	var bets, results int64
	for _, b := range tx.s.bets {
		if b.EventID == id {
			bets++
		}
	}
	if _, ok := tx.s.results[id]; ok {
		results = 1
	}
	return bets, results, nil
}

func (tx *memTx) InsertResult(_ context.Context, r *model.Result) error {
	if _, ok := tx.s.results[r.EventID]; ok {
		return model.Conflict("result", "result for event already exists")
	}
	tx.s.results[r.EventID] = cloneResult(r)
	id := r.EventID
	tx.undo = append(tx.undo, func() { delete(tx.s.results, id) })
	return nil
}

func (tx *memTx) GetResultForUpdate(_ context.Context, eventID int64) (*model.Result, error) {
	r, ok := tx.s.results[eventID]
	if !ok {
		return nil, model.NotFound("result", eventID)
	}
	return cloneResult(r), nil
}

func (tx *memTx) UpdateResult(_ context.Context, r *model.Result) error {
	prev, ok := tx.s.results[r.EventID]
	if !ok {
		return model.NotFound("result", r.EventID)
	}
	tx.s.results[r.EventID] = cloneResult(r)
	tx.undo = append(tx.undo, func() { tx.s.results[prev.EventID] = prev })
	return nil
}

func (tx *memTx) InsertAuditLog(_ context.Context, e *model.AuditLogEntry) error {
	tx.s.auditSeq++
	e.ID = tx.s.auditSeq
	tx.s.audit = append(tx.s.audit, *e)
	n := len(tx.s.audit) - 1
	tx.undo = append(tx.undo, func() { tx.s.audit = tx.s.audit[:n] })
	return nil
}
