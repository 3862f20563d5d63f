package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/atmx/bet-ledger/internal/analytics"
	"github.com/atmx/bet-ledger/internal/audit"
)

// ListAuditLogs handles GET /api/audit-logs?table_name=&operation=&row_id=
func (s *Server) ListAuditLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	rowID, err := queryID(r, "row_id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	limit, offset, err := paging(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	logs, err := s.svc.Audit.List(r.Context(), audit.ListParams{
		TableName: q.Get("table_name"),
		Operation: q.Get("operation"),
		RowID:     rowID,
		Limit:     limit,
		Offset:    offset,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(logs))
}

// GetAuditLog handles GET /api/audit-logs/{id}
func (s *Server) GetAuditLog(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	entry, err := s.svc.Audit.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// AuditHistory handles GET /api/audit-logs/{table}/{rowID}
// Returns every entry for one record, newest first.
func (s *Server) AuditHistory(w http.ResponseWriter, r *http.Request) {
	rowID, err := pathID(r, "rowID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	logs, err := s.svc.Audit.History(r.Context(), chi.URLParam(r, "table"), rowID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(logs))
}

// report adapts a parameterless analytics read to a handler.
func report[T any](s *Server, fn func(context.Context) (T, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		out, err := fn(r.Context())
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// BetsTrends handles GET /api/analytics/bets/trends?days=
func (s *Server) BetsTrends(w http.ResponseWriter, r *http.Request) {
	days, err := queryInt(r, "days", analytics.DefaultTrendDays)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out, err := s.svc.Analytics.BetsTrends(r.Context(), days)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(out))
}

// TopCustomers handles GET /api/analytics/top-customers?limit=
func (s *Server) TopCustomers(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", analytics.DefaultTopCustomers)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out, err := s.svc.Analytics.TopCustomers(r.Context(), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(out))
}
