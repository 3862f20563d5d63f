package api

import (
	"net/http"

	"github.com/atmx/bet-ledger/internal/betting"
)

// CreateBet handles POST /api/bets
func (s *Server) CreateBet(w http.ResponseWriter, r *http.Request) {
	var in betting.CreateBetInput
	if err := decode(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	b, err := s.svc.Bets.CreateBet(r.Context(), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

// GetBet handles GET /api/bets/{id}
func (s *Server) GetBet(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	b, err := s.svc.Bets.GetBet(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// UpdateBet handles PATCH /api/bets/{id}. Setting an outcome settles the bet.
func (s *Server) UpdateBet(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var in betting.UpdateBetInput
	if err := decode(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	b, err := s.svc.Bets.UpdateBet(r.Context(), id, in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// DeleteBet handles DELETE /api/bets/{id}
func (s *Server) DeleteBet(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.svc.Bets.DeleteBet(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListBets handles GET /api/bets
// Filters: customer_id, event_id, bookie, placement_status, outcome.
func (s *Server) ListBets(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	customerID, err := queryID(r, "customer_id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	eventID, err := queryID(r, "event_id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	limit, offset, err := paging(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	bets, err := s.svc.Bets.ListBets(r.Context(), betting.ListParams{
		CustomerID:      customerID,
		EventID:         eventID,
		Bookie:          q.Get("bookie"),
		PlacementStatus: q.Get("placement_status"),
		Outcome:         q.Get("outcome"),
		Limit:           limit,
		Offset:          offset,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(bets))
}

// PreviewSettlement handles GET /api/bets/{id}/settlement
// Returns the payout and the balance change that would book it.
func (s *Server) PreviewSettlement(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	st, err := s.svc.Bets.PreviewSettlement(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}
