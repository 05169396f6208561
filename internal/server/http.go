package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"LendLedger/internal/engine"
	"LendLedger/internal/ledger"
	"LendLedger/internal/observability"
	"LendLedger/internal/oracle"
	"LendLedger/internal/query"
	"LendLedger/internal/transfer"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
)

// HTTPServer serves the operation and query API.
type HTTPServer struct {
	engine  *engine.LendingEngine
	queries *query.Service
	health  *observability.HealthChecker
	metrics *observability.Metrics
	log     zerolog.Logger

	srv *http.Server
}

func NewHTTPServer(
	addr string,
	eng *engine.LendingEngine,
	queries *query.Service,
	health *observability.HealthChecker,
	metrics *observability.Metrics,
	log zerolog.Logger,
) *HTTPServer {
	s := &HTTPServer{
		engine:  eng,
		queries: queries,
		health:  health,
		metrics: metrics,
		log:     log,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.health.LivenessHandler)
	r.Get("/readyz", s.health.ReadinessHandler)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/deposit", s.instrument("deposit", s.handleDeposit))
		r.Post("/borrow", s.instrument("borrow", s.handleBorrow))
		r.Post("/repay", s.instrument("repay", s.handleRepay))
		r.Post("/liquidate", s.instrument("liquidate", s.handleLiquidate))
		r.Get("/accounts/{userID}", s.instrument("account", s.handleGetAccount))
		r.Get("/accounts/{userID}/history", s.instrument("history", s.handleGetHistory))
	})

	s.srv = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler exposes the route tree for in-process serving and tests.
func (s *HTTPServer) Handler() http.Handler {
	return s.srv.Handler
}

// Run serves until ctx is cancelled, then drains with a 5s grace period.
func (s *HTTPServer) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.srv.Shutdown(shutdownCtx)
	}()

	s.log.Info().Str("addr", s.srv.Addr).Msg("http server listening")
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type amountRequest struct {
	UserID string `json:"user_id"`
	Amount string `json:"amount"` // decimal string, base units
}

type liquidateRequest struct {
	LiquidatorID string `json:"liquidator_id"`
	BorrowerID   string `json:"borrower_id"`
}

type operationResponse struct {
	OpID     string  `json:"op_id"`
	Sequence int64   `json:"sequence"`
	OpType   string  `json:"op_type"`
	UserID   string  `json:"user_id"`
	Amount   string  `json:"amount"`
	Released *string `json:"released,omitempty"`
	Price    *string `json:"price,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *HTTPServer) handleDeposit(w http.ResponseWriter, r *http.Request) {
	user, amount, err := decodeAmountRequest(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	op, err := s.engine.Deposit(r.Context(), user, amount)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeOperation(w, op)
}

func (s *HTTPServer) handleBorrow(w http.ResponseWriter, r *http.Request) {
	user, amount, err := decodeAmountRequest(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	op, err := s.engine.Borrow(r.Context(), user, amount)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeOperation(w, op)
}

func (s *HTTPServer) handleRepay(w http.ResponseWriter, r *http.Request) {
	user, amount, err := decodeAmountRequest(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	op, err := s.engine.Repay(r.Context(), user, amount)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeOperation(w, op)
}

func (s *HTTPServer) handleLiquidate(w http.ResponseWriter, r *http.Request) {
	var req liquidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, fmt.Errorf("decode body: %v: %w", err, engine.ErrInvalidInput))
		return
	}
	liquidator, err := uuid.Parse(req.LiquidatorID)
	if err != nil {
		s.writeError(w, fmt.Errorf("liquidator_id: %v: %w", err, engine.ErrInvalidInput))
		return
	}
	borrower, err := uuid.Parse(req.BorrowerID)
	if err != nil {
		s.writeError(w, fmt.Errorf("borrower_id: %v: %w", err, engine.ErrInvalidInput))
		return
	}

	op, err := s.engine.Liquidate(r.Context(), liquidator, borrower)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeOperation(w, op)
}

func (s *HTTPServer) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	user, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		s.writeError(w, fmt.Errorf("user id: %v: %w", err, engine.ErrInvalidInput))
		return
	}
	resp, err := s.queries.GetAccount(r.Context(), user)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user_id":          resp.UserID.String(),
		"collateral":       resp.Collateral,
		"loan":             resp.Loan,
		"collateral_value": resp.CollateralValue,
		"max_borrow":       resp.MaxBorrow,
		"liquidatable":     resp.Liquidatable,
		"as_of_sequence":   resp.AsOfSequence,
	})
}

func (s *HTTPServer) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	user, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		s.writeError(w, fmt.Errorf("user id: %v: %w", err, engine.ErrInvalidInput))
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err = strconv.Atoi(v)
		if err != nil {
			s.writeError(w, fmt.Errorf("limit: %v: %w", err, engine.ErrInvalidInput))
			return
		}
	}

	ops, asOf, err := s.queries.GetHistory(r.Context(), user, limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"operations":     ops,
		"as_of_sequence": asOf,
	})
}

// instrument wraps a handler with request counting and latency observation.
func (s *HTTPServer) instrument(endpoint string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		h(ww, r)
		if s.metrics != nil {
			s.metrics.HTTPRequests.WithLabelValues(endpoint, strconv.Itoa(ww.Status())).Inc()
			s.metrics.HTTPDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
		}
	}
}

func decodeAmountRequest(r *http.Request) (uuid.UUID, *uint256.Int, error) {
	var req amountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return uuid.Nil, nil, fmt.Errorf("decode body: %v: %w", err, engine.ErrInvalidInput)
	}
	user, err := uuid.Parse(req.UserID)
	if err != nil {
		return uuid.Nil, nil, fmt.Errorf("user_id: %v: %w", err, engine.ErrInvalidInput)
	}
	amount, err := uint256.FromDecimal(req.Amount)
	if err != nil {
		return uuid.Nil, nil, fmt.Errorf("amount %q: %v: %w", req.Amount, err, engine.ErrInvalidInput)
	}
	return user, amount, nil
}

func (s *HTTPServer) writeOperation(w http.ResponseWriter, op ledger.Operation) {
	resp := operationResponse{
		OpID:     op.OpID.String(),
		Sequence: op.Sequence,
		OpType:   op.Type.String(),
		UserID:   op.User.String(),
		Amount:   op.Amount.Dec(),
	}
	if op.Released != nil {
		v := op.Released.Dec()
		resp.Released = &v
	}
	if op.Price != nil {
		v := op.Price.Dec()
		resp.Price = &v
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusForError(err), errorResponse{Error: err.Error()})
}

// statusForError maps the engine's error taxonomy onto HTTP statuses.
func statusForError(err error) int {
	switch {
	case errors.Is(err, engine.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrExceedsBorrowLimit),
		errors.Is(err, engine.ErrRepaymentExceedsLoan):
		return http.StatusUnprocessableEntity
	case errors.Is(err, engine.ErrNoOutstandingLoan):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrCollateralSufficient),
		errors.Is(err, ledger.ErrInsufficientBalance):
		return http.StatusConflict
	case errors.Is(err, oracle.ErrPriceUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, transfer.ErrTransferFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
