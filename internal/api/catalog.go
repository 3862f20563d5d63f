package api

import (
	"net/http"

	"github.com/atmx/bet-ledger/internal/catalog"
)

// CreateSport handles POST /api/sports
func (s *Server) CreateSport(w http.ResponseWriter, r *http.Request) {
	var in catalog.SportInput
	if err := decode(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	sp, err := s.svc.Catalog.CreateSport(r.Context(), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sp)
}

// CreateBookie handles POST /api/bookies
func (s *Server) CreateBookie(w http.ResponseWriter, r *http.Request) {
	var in catalog.BookieInput
	if err := decode(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	b, err := s.svc.Catalog.CreateBookie(r.Context(), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

// CreateCompetition handles POST /api/competitions
func (s *Server) CreateCompetition(w http.ResponseWriter, r *http.Request) {
	var in catalog.CompetitionInput
	if err := decode(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	c, err := s.svc.Catalog.CreateCompetition(r.Context(), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

// CreateTeam handles POST /api/teams
func (s *Server) CreateTeam(w http.ResponseWriter, r *http.Request) {
	var in catalog.TeamInput
	if err := decode(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	t, err := s.svc.Catalog.CreateTeam(r.Context(), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

// CreateEvent handles POST /api/events
func (s *Server) CreateEvent(w http.ResponseWriter, r *http.Request) {
	var in catalog.EventInput
	if err := decode(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	e, err := s.svc.Catalog.CreateEvent(r.Context(), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

// GetEvent handles GET /api/events/{id}
func (s *Server) GetEvent(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	e, err := s.svc.Catalog.GetEvent(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

type eventStatusRequest struct {
	Status string `json:"status"`
}

// UpdateEventStatus handles PUT /api/events/{id}/status
func (s *Server) UpdateEventStatus(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req eventStatusRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	e, err := s.svc.Catalog.UpdateEventStatus(r.Context(), id, req.Status)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

// DeleteEvent handles DELETE /api/events/{id}
func (s *Server) DeleteEvent(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.svc.Catalog.DeleteEvent(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RecordResult handles POST /api/results
func (s *Server) RecordResult(w http.ResponseWriter, r *http.Request) {
	var in catalog.ResultInput
	if err := decode(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.svc.Catalog.RecordResult(r.Context(), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// GetResult handles GET /api/results/{eventID}
func (s *Server) GetResult(w http.ResponseWriter, r *http.Request) {
	eventID, err := pathID(r, "eventID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.svc.Catalog.GetResult(r.Context(), eventID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// UpdateResult handles PATCH /api/results/{eventID}
func (s *Server) UpdateResult(w http.ResponseWriter, r *http.Request) {
	eventID, err := pathID(r, "eventID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var in catalog.ResultUpdate
	if err := decode(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.svc.Catalog.UpdateResult(r.Context(), eventID, in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
