// Package catalog manages the reference data bets point at: sports,
// bookies, competitions, teams, events and their results.
package catalog

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/atmx/bet-ledger/internal/audit"
	"github.com/atmx/bet-ledger/internal/model"
	"github.com/atmx/bet-ledger/internal/notify"
	"github.com/atmx/bet-ledger/internal/store"
	"github.com/atmx/bet-ledger/internal/validate"
	"github.com/atmx/bet-ledger/pkg/contracts/events"
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

type SportInput struct {
	Name string `json:"name" validate:"required,max=50"`
}

// CreateSport adds a sport. Sports are keyed by name, so the audit entry
// carries no row id.
func (s *Service) CreateSport(ctx context.Context, in SportInput) (*model.Sport, error) {
	in.Name = strings.TrimSpace(in.Name)
	if err := validate.Struct(in); err != nil {
		return nil, err
	}
	sp := &model.Sport{Name: in.Name}
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.InsertSport(ctx, sp); err != nil {
			return err
		}
		return s.recorder.Insert(ctx, tx, model.TableSports, nil, sp.Snapshot())
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("sport created", zap.String("name", sp.Name))
	return sp, nil
}

type BookieInput struct {
	Name        string         `json:"name" validate:"required,max=50"`
	Description *string        `json:"description" validate:"omitnil,max=500"`
	Preferences map[string]any `json:"preferences"`
}

func (s *Service) CreateBookie(ctx context.Context, in BookieInput) (*model.Bookie, error) {
	in.Name = strings.TrimSpace(in.Name)
	if err := validate.Struct(in); err != nil {
		return nil, err
	}
	prefs := in.Preferences
	if prefs == nil {
		prefs = map[string]any{}
	}
	b := &model.Bookie{Name: in.Name, Description: in.Description, Preferences: prefs}
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.InsertBookie(ctx, b); err != nil {
			return err
		}
		return s.recorder.Insert(ctx, tx, model.TableBookies, nil, b.Snapshot())
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("bookie created", zap.String("name", b.Name))
	return b, nil
}

type CompetitionInput struct {
	Name    string `json:"name" validate:"required,max=200"`
	Country string `json:"country" validate:"required,max=100"`
	Sport   string `json:"sport" validate:"required,max=50"`
	Active  *bool  `json:"active"`
}

func (s *Service) CreateCompetition(ctx context.Context, in CompetitionInput) (*model.Competition, error) {
	in.Name, in.Country, in.Sport = strings.TrimSpace(in.Name), strings.TrimSpace(in.Country), strings.TrimSpace(in.Sport)
	if err := validate.Struct(in); err != nil {
		return nil, err
	}
	active := true
	if in.Active != nil {
		active = *in.Active
	}
	now := s.now()
	c := &model.Competition{Name: in.Name, Country: in.Country, Sport: in.Sport, Active: active, CreatedAt: now, UpdatedAt: now}
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		if err := requireSport(ctx, tx, c.Sport); err != nil {
			return err
		}
		if err := tx.InsertCompetition(ctx, c); err != nil {
			return err
		}
		return s.recorder.Insert(ctx, tx, model.TableCompetitions, audit.RowID(c.ID), c.Snapshot())
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("competition created", zap.Int64("id", c.ID), zap.String("name", c.Name))
	return c, nil
}

type TeamInput struct {
	Name    string `json:"name" validate:"required,max=200"`
	Country string `json:"country" validate:"required,max=100"`
	Sport   string `json:"sport" validate:"required,max=50"`
}

func (s *Service) CreateTeam(ctx context.Context, in TeamInput) (*model.Team, error) {
	in.Name, in.Country, in.Sport = strings.TrimSpace(in.Name), strings.TrimSpace(in.Country), strings.TrimSpace(in.Sport)
	if err := validate.Struct(in); err != nil {
		return nil, err
	}
	now := s.now()
	t := &model.Team{Name: in.Name, Country: in.Country, Sport: in.Sport, CreatedAt: now, UpdatedAt: now}
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		if err := requireSport(ctx, tx, t.Sport); err != nil {
			return err
		}
		if err := tx.InsertTeam(ctx, t); err != nil {
			return err
		}
		return s.recorder.Insert(ctx, tx, model.TableTeams, audit.RowID(t.ID), t.Snapshot())
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("team created", zap.Int64("id", t.ID), zap.String("name", t.Name))
	return t, nil
}

func requireSport(ctx context.Context, tx store.Tx, name string) error {
	ok, err := tx.SportExists(ctx, name)
	if err != nil {
		return err
	}
	if !ok {
		return model.InvalidReference("sport", name)
	}
	return nil
}

type EventInput struct {
	Date          time.Time `json:"date" validate:"required"`
	CompetitionID int64     `json:"competition_id" validate:"required,gt=0"`
	TeamAID       int64     `json:"team_a_id" validate:"required,gt=0"`
	TeamBID       int64     `json:"team_b_id" validate:"required,gt=0,nefield=TeamAID"`
	Status        string    `json:"status"`
}

func (s *Service) CreateEvent(ctx context.Context, in EventInput) (*model.Event, error) {
	if err := validate.Struct(in); err != nil {
		return nil, err
	}
	status := model.EventPrematch
	if in.Status != "" {
		st, err := parseEventStatus(in.Status)
		if err != nil {
			return nil, err
		}
		status = st
	}
	now := s.now()
	e := &model.Event{
		Date:          in.Date.UTC(),
		CompetitionID: in.CompetitionID,
		TeamAID:       in.TeamAID,
		TeamBID:       in.TeamBID,
		Status:        status,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		ok, err := tx.CompetitionExists(ctx, e.CompetitionID)
		if err != nil {
			return err
		}
		if !ok {
			return model.InvalidReference("competition_id", e.CompetitionID)
		}
		teams := []struct {
			field string
			id    int64
		}{{"team_a_id", e.TeamAID}, {"team_b_id", e.TeamBID}}
		for _, t := range teams {
			ok, err := tx.TeamExists(ctx, t.id)
			if err != nil {
				return err
			}
			if !ok {
				return model.InvalidReference(t.field, t.id)
			}
		}
		if err := tx.InsertEvent(ctx, e); err != nil {
			return err
		}
		return s.recorder.Insert(ctx, tx, model.TableEvents, audit.RowID(e.ID), e.Snapshot())
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("event created", zap.Int64("id", e.ID), zap.Int64("competition_id", e.CompetitionID))
	return e, nil
}

func parseEventStatus(s string) (model.EventStatus, error) {
	st := model.EventStatus(strings.ToLower(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", model.Validation("status", fmt.Sprintf("unknown event status %q", s))
	}
	return st, nil
}

var statusRank = map[model.EventStatus]int{
	model.EventPrematch: 0,
	model.EventLive:     1,
	model.EventFinished: 2,
}

// UpdateEventStatus moves an event forward: prematch → live → finished.
// Finished events no longer accept bets.
func (s *Service) UpdateEventStatus(ctx context.Context, id int64, status string) (*model.Event, error) {
	to, err := parseEventStatus(status)
	if err != nil {
		return nil, err
	}
	var out *model.Event
	err = s.store.WithTx(ctx, func(tx store.Tx) error {
		e, err := tx.GetEventForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if statusRank[to] < statusRank[e.Status] {
			return model.Conflict("event", fmt.Sprintf("cannot move event %d from %s back to %s", id, e.Status, to))
		}
		before := e.Snapshot()
		e.Status = to
		e.UpdatedAt = s.now()
		if err := tx.UpdateEvent(ctx, e); err != nil {
			return err
		}
		out = e
		return s.recorder.Update(ctx, tx, model.TableEvents, audit.RowID(e.ID), before, e.Snapshot())
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("event status changed", zap.Int64("id", id), zap.String("status", string(to)))
	notify.Emit(ctx, s.pub, s.log, events.EventStatusChanged, string(model.TableEvents), id, 0, audit.ActorFrom(ctx), out)
	return out, nil
}

// DeleteEvent removes an event nothing references.
func (s *Service) DeleteEvent(ctx context.Context, id int64) error {
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		e, err := tx.GetEventForUpdate(ctx, id)
		if err != nil {
			return err
		}
		bets, results, err := tx.CountEventDependents(ctx, id)
		if err != nil {
			return err
		}
		if bets > 0 || results > 0 {
			return model.DependencyConflict("event", id,
				fmt.Sprintf("referenced by %d bets and %d results", bets, results))
		}
		if err := tx.DeleteEvent(ctx, id); err != nil {
			return err
		}
		return s.recorder.Delete(ctx, tx, model.TableEvents, audit.RowID(id), e.Snapshot())
	})
	if err != nil {
		return err
	}
	s.log.Info("event deleted", zap.Int64("id", id))
	return nil
}

func (s *Service) GetEvent(ctx context.Context, id int64) (*model.Event, error) {
	return s.store.GetEvent(ctx, id)
}
