package audit

import (
	"context"

	"github.com/atmx/bet-ledger/internal/model"
	"github.com/atmx/bet-ledger/internal/store"
)

// Service answers audit log queries.
type Service struct {
	store store.Reader
}

func NewService(r store.Reader) *Service {
	return &Service{store: r}
}

// ListParams are the raw, unvalidated filters of ListAuditLogs.
type ListParams struct {
	TableName string
	Operation string
	RowID     *int64
	Limit     int
	Offset    int
}

// List returns entries matching p, newest first.
func (s *Service) List(ctx context.Context, p ListParams) ([]model.AuditLogEntry, error) {
	page, err := store.NewPage(p.Limit, p.Offset)
	if err != nil {
		return nil, err
	}
	f := store.AuditFilter{RowID: p.RowID, Page: page}
	if p.TableName != "" {
		if f.TableName, err = model.ParseTable(p.TableName); err != nil {
			return nil, err
		}
	}
	if p.Operation != "" {
		if f.Operation, err = model.ParseOperation(p.Operation); err != nil {
			return nil, err
		}
	}
	return s.store.ListAuditLogs(ctx, f)
}

func (s *Service) Get(ctx context.Context, id int64) (*model.AuditLogEntry, error) {
	return s.store.GetAuditLog(ctx, id)
}

// History returns every entry for one record, newest first.
func (s *Service) History(ctx context.Context, tableName string, rowID int64) ([]model.AuditLogEntry, error) {
	table, err := model.ParseTable(tableName)
	if err != nil {
		return nil, err
	}
	return s.store.ListAuditLogs(ctx, store.AuditFilter{TableName: table, RowID: &rowID})
}
