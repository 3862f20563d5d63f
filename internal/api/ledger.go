package api

import (
	"net/http"

	"github.com/atmx/bet-ledger/internal/ledger"
)

// CreateCustomer handles POST /api/customers
func (s *Server) CreateCustomer(w http.ResponseWriter, r *http.Request) {
	var in ledger.CreateCustomerInput
	if err := decode(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	c, err := s.svc.Ledger.CreateCustomer(r.Context(), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

// ListCustomers handles GET /api/customers?status=&currency=&limit=&offset=
func (s *Server) ListCustomers(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := paging(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	q := r.URL.Query()
	cs, err := s.svc.Ledger.ListCustomers(r.Context(), ledger.CustomerListParams{
		Status:   q.Get("status"),
		Currency: q.Get("currency"),
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(cs))
}

// GetCustomer handles GET /api/customers/{id}
func (s *Server) GetCustomer(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	c, err := s.svc.Ledger.GetCustomer(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// UpdateCustomer handles PATCH /api/customers/{id}
func (s *Server) UpdateCustomer(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var in ledger.UpdateCustomerInput
	if err := decode(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	c, err := s.svc.Ledger.UpdateCustomer(r.Context(), id, in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// DeleteCustomer handles DELETE /api/customers/{id}
func (s *Server) DeleteCustomer(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.svc.Ledger.DeleteCustomer(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ReconcileBalance handles GET /api/customers/{id}/reconciliation
func (s *Server) ReconcileBalance(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	rec, err := s.svc.Ledger.ReconcileBalance(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// ApplyBalanceChange handles POST /api/balance-changes
func (s *Server) ApplyBalanceChange(w http.ResponseWriter, r *http.Request) {
	var in ledger.ApplyInput
	if err := decode(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	bc, err := s.svc.Ledger.ApplyBalanceChange(r.Context(), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, bc)
}

// GetBalanceChange handles GET /api/balance-changes/{id}
func (s *Server) GetBalanceChange(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	bc, err := s.svc.Ledger.GetBalanceChange(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bc)
}

// ListBalanceChanges handles GET /api/balance-changes?customer_id=&change_type=
func (s *Server) ListBalanceChanges(w http.ResponseWriter, r *http.Request) {
	customerID, err := queryID(r, "customer_id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	limit, offset, err := paging(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out, err := s.svc.Ledger.ListBalanceChanges(r.Context(), ledger.ListParams{
		CustomerID: customerID,
		ChangeType: r.URL.Query().Get("change_type"),
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(out))
}
