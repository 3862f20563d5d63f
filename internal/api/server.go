// Package api is the HTTP shell over the ledger services. Handlers decode
// requests, call one service operation and map its error kind to a status.
//
// All monetary values use shopspring/decimal, never float64 for money.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/atmx/bet-ledger/internal/analytics"
	"github.com/atmx/bet-ledger/internal/audit"
	"github.com/atmx/bet-ledger/internal/betting"
	"github.com/atmx/bet-ledger/internal/catalog"
	"github.com/atmx/bet-ledger/internal/ledger"
	"github.com/atmx/bet-ledger/internal/metrics"
	"github.com/atmx/bet-ledger/internal/model"
)

// ActorHeader names the caller recorded in audit entries.
const ActorHeader = "X-Actor"

// Services are the operations the shell exposes.
type Services struct {
	Ledger    *ledger.Service
	Bets      *betting.Service
	Catalog   *catalog.Service
	Audit     *audit.Service
	Analytics *analytics.Service
}

type Server struct {
	svc Services
	hub *WSHub
	log *zap.Logger
}

// NewServer builds the shell. Pass a nil hub to disable /api/ws.
func NewServer(svc Services, hub *WSHub, log *zap.Logger) *Server {
	return &Server{svc: svc, hub: hub, log: log}
}

// Handler returns the full router: health, metrics and the /api tree.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(cors)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "bet-ledger"})
	})
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		if s.hub != nil {
			r.Get("/ws", s.hub.HandleWS)
		}

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))
			r.Use(withActor)

			r.Route("/customers", func(r chi.Router) {
				r.Get("/", s.ListCustomers)
				r.Post("/", s.CreateCustomer)
				r.Get("/{id}", s.GetCustomer)
				r.Patch("/{id}", s.UpdateCustomer)
				r.Delete("/{id}", s.DeleteCustomer)
				r.Get("/{id}/reconciliation", s.ReconcileBalance)
			})

			r.Route("/balance-changes", func(r chi.Router) {
				r.Get("/", s.ListBalanceChanges)
				r.Post("/", s.ApplyBalanceChange)
				r.Get("/{id}", s.GetBalanceChange)
			})

			r.Route("/bets", func(r chi.Router) {
				r.Get("/", s.ListBets)
				r.Post("/", s.CreateBet)
				r.Get("/{id}", s.GetBet)
				r.Patch("/{id}", s.UpdateBet)
				r.Delete("/{id}", s.DeleteBet)
				r.Get("/{id}/settlement", s.PreviewSettlement)
			})

			r.Route("/audit-logs", func(r chi.Router) {
				r.Get("/", s.ListAuditLogs)
				r.Get("/{id}", s.GetAuditLog)
				r.Get("/{table}/{rowID}", s.AuditHistory)
			})

			r.Route("/analytics", func(r chi.Router) {
				r.Get("/dashboard", report(s, s.svc.Analytics.Dashboard))
				r.Get("/bets/summary", report(s, s.svc.Analytics.BetsSummary))
				r.Get("/bets/by-sport", report(s, s.svc.Analytics.BetsBySport))
				r.Get("/bets/by-bookie", report(s, s.svc.Analytics.BetsByBookie))
				r.Get("/bets/by-status", report(s, s.svc.Analytics.BetsByStatus))
				r.Get("/bets/by-outcome", report(s, s.svc.Analytics.BetsByOutcome))
				r.Get("/bets/trends", s.BetsTrends)
				r.Get("/results/summary", report(s, s.svc.Analytics.ResultsSummary))
				r.Get("/results/by-competition", report(s, s.svc.Analytics.ResultsByCompetition))
				r.Get("/results/score-distribution", report(s, s.svc.Analytics.ScoreDistribution))
				r.Get("/top-customers", s.TopCustomers)
			})

			r.Post("/sports", s.CreateSport)
			r.Post("/bookies", s.CreateBookie)
			r.Post("/competitions", s.CreateCompetition)
			r.Post("/teams", s.CreateTeam)

			r.Route("/events", func(r chi.Router) {
				r.Post("/", s.CreateEvent)
				r.Get("/{id}", s.GetEvent)
				r.Put("/{id}/status", s.UpdateEventStatus)
				r.Delete("/{id}", s.DeleteEvent)
			})

			r.Route("/results", func(r chi.Router) {
				r.Post("/", s.RecordResult)
				r.Get("/{eventID}", s.GetResult)
				r.Patch("/{eventID}", s.UpdateResult)
			})
		})
	})
	return r
}

// withActor moves the X-Actor header into the request context.
func withActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if actor := strings.TrimSpace(r.Header.Get(ActorHeader)); actor != "" {
			r = r.WithContext(audit.WithActor(r.Context(), actor))
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

// cors allows browser dashboards on other origins.
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+ActorHeader)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// --- Responses ---

type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

// nonNil renders an empty list as [] rather than null.
func nonNil[T any](v []T) []T {
	if v == nil {
		return []T{}
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// statusFor maps an error kind to its HTTP status. Unclassified errors
// are 500.
func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrConflict), errors.Is(err, model.ErrDependencyConflict):
		return http.StatusConflict
	case errors.Is(err, model.ErrValidation),
		errors.Is(err, model.ErrInvalidReference),
		errors.Is(err, model.ErrInsufficientBalance),
		errors.Is(err, model.ErrCurrencyMismatch):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrRetryable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err. Internal errors are logged in full and reach the
// caller only as a generic message.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	switch status {
	case http.StatusInternalServerError:
		s.log.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err),
		)
		writeJSON(w, status, errorResponse{Error: "internal error"})
	case http.StatusServiceUnavailable:
		s.log.Warn("request gave up on a busy store", zap.String("path", r.URL.Path), zap.Error(err))
		writeJSON(w, status, errorResponse{Error: "storage busy, retry later"})
	default:
		writeJSON(w, status, errorResponse{Error: model.PublicMessage(err), Field: model.FieldOf(err)})
	}
}

// --- Requests ---

// decode reads a JSON body into dst. Money decoding errors keep their
// field; anything else is a malformed body.
func decode(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var me *model.Error
		if errors.As(err, &me) {
			return me
		}
		return model.Validation("body", "invalid request body")
	}
	return nil
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id < 1 {
		return 0, model.Validation(name, "must be a positive integer")
	}
	return id, nil
}

// queryInt returns def when the parameter is absent or empty. An explicit
// value, zero included, is passed through for the caller to range-check.
func queryInt(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, model.Validation(name, "must be an integer")
	}
	return n, nil
}

// queryID returns nil when the parameter is absent.
func queryID(r *http.Request, name string) (*int64, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return nil, nil
	}
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil || id < 1 {
		return nil, model.Validation(name, "must be a positive integer")
	}
	return &id, nil
}

func paging(r *http.Request) (limit, offset int, err error) {
	if limit, err = queryInt(r, "limit", 0); err != nil {
		return 0, 0, err
	}
	if offset, err = queryInt(r, "offset", 0); err != nil {
		return 0, 0, err
	}
	return limit, offset, nil
}
