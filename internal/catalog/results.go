package catalog

import (
	"context"

	"go.uber.org/zap"

	"github.com/atmx/bet-ledger/internal/audit"
	"github.com/atmx/bet-ledger/internal/model"
	"github.com/atmx/bet-ledger/internal/notify"
	"github.com/atmx/bet-ledger/internal/store"
	"github.com/atmx/bet-ledger/internal/validate"
	"github.com/atmx/bet-ledger/pkg/contracts/events"
)

type ResultInput struct {
	EventID int64 `json:"event_id" validate:"required,gt=0"`
	ScoreA  *int  `json:"score_a" validate:"omitnil,gte=0"`
	ScoreB  *int  `json:"score_b" validate:"omitnil,gte=0"`
}

type ResultUpdate struct {
	ScoreA *int `json:"score_a" validate:"omitnil,gte=0"`
	ScoreB *int `json:"score_b" validate:"omitnil,gte=0"`
}

// RecordResult stores the score of an event. An event has at most one
// result; the audit row id is the event id.
func (s *Service) RecordResult(ctx context.Context, in ResultInput) (*model.Result, error) {
	if err := validate.Struct(in); err != nil {
		return nil, err
	}
	now := s.now()
	r := &model.Result{EventID: in.EventID, ScoreA: in.ScoreA, ScoreB: in.ScoreB, CreatedAt: now, UpdatedAt: now}
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		if _, err := tx.GetEvent(ctx, r.EventID); err != nil {
			if model.IsNotFound(err) {
				return model.InvalidReference("event_id", r.EventID)
			}
			return err
		}
		if err := tx.InsertResult(ctx, r); err != nil {
			return err
		}
		return s.recorder.Insert(ctx, tx, model.TableResults, audit.RowID(r.EventID), r.Snapshot())
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("result recorded", zap.Int64("event_id", r.EventID))
	notify.Emit(ctx, s.pub, s.log, events.ResultRecorded, string(model.TableResults), r.EventID, 0, audit.ActorFrom(ctx), r)
	return r, nil
}

// UpdateResult corrects a recorded score. Nil scores are left alone.
func (s *Service) UpdateResult(ctx context.Context, eventID int64, in ResultUpdate) (*model.Result, error) {
	if err := validate.Struct(in); err != nil {
		return nil, err
	}
	var out *model.Result
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		r, err := tx.GetResultForUpdate(ctx, eventID)
		if err != nil {
			return err
		}
		before := r.Snapshot()
		if in.ScoreA != nil {
			r.ScoreA = in.ScoreA
		}
		if in.ScoreB != nil {
			r.ScoreB = in.ScoreB
		}
		r.UpdatedAt = s.now()
		if err := tx.UpdateResult(ctx, r); err != nil {
			return err
		}
		out = r
		return s.recorder.Update(ctx, tx, model.TableResults, audit.RowID(eventID), before, r.Snapshot())
	})
	if err != nil {
		return nil, err
	}
	notify.Emit(ctx, s.pub, s.log, events.ResultRecorded, string(model.TableResults), eventID, 0, audit.ActorFrom(ctx), out)
	return out, nil
}

func (s *Service) GetResult(ctx context.Context, eventID int64) (*model.Result, error) {
	return s.store.GetResult(ctx, eventID)
}
