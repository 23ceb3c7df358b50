package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"tradedesk/internal/domain"
	"tradedesk/internal/ledger"
)

const (
	defaultTradesLimit = 50
	maxTradesLimit     = 500
	maxBodyBytes       = 1 << 16
	valuationTimeout   = 10 * time.Second
)

// IdempotencyHeader carries a client request ID. Requests repeating the
// same ID and intent settle at most once.
const IdempotencyHeader = "Idempotency-Key"

// Executor runs trade attempts. *engine.Orchestrator satisfies it.
type Executor interface {
	Execute(ctx context.Context, intent domain.TradeIntent) domain.Outcome
	ExecuteWithEpoch(ctx context.Context, intent domain.TradeIntent, epoch string) domain.Outcome
}

// Accounts reads ledger state. *ledger.Service and *api.LedgerClient
// satisfy it.
type Accounts interface {
	Account(ctx context.Context, accountID string) (domain.Account, error)
	Records(ctx context.Context, accountID string, limit int) ([]domain.TradeRecord, error)
}

// Valuer marks an account to market. *portfolio.Valuer satisfies it.
type Valuer interface {
	Value(ctx context.Context, acct domain.Account) domain.Valuation
}

// TradeServer serves the trade API.
type TradeServer struct {
	exec     Executor
	accounts Accounts
	valuer   Valuer
	log      *slog.Logger
}

// NewTradeServer creates a TradeServer. valuer may be nil, in which case
// account snapshots carry no valuation.
func NewTradeServer(exec Executor, accounts Accounts, valuer Valuer, log *slog.Logger) *TradeServer {
	if log == nil {
		log = slog.Default()
	}
	return &TradeServer{exec: exec, accounts: accounts, valuer: valuer, log: log.With("component", "httpapi")}
}

// RegisterRoutes registers all API routes on the given mux.
func (s *TradeServer) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/trades", s.handleTrade)
	mux.HandleFunc("GET /api/accounts/{id}", s.handleAccount)
	mux.HandleFunc("GET /api/accounts/{id}/trades", s.handleTrades)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
}

// Handler returns an http.Handler with CORS and request logging.
func (s *TradeServer) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return s.logRequests(corsMiddleware(mux))
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+IdempotencyHeader)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *TradeServer) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.Debug("http request", "method", r.Method, "path", r.URL.Path, "status", rec.status, "elapsed", time.Since(start))
	})
}

func (s *TradeServer) handleTrade(w http.ResponseWriter, r *http.Request) {
	var req TradeRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	side, err := domain.ParseSide(req.Side)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	intent, err := domain.NewTradeIntent(req.Symbol, side, req.Quantity)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var out domain.Outcome
	if key := r.Header.Get(IdempotencyHeader); key != "" {
		out = s.exec.ExecuteWithEpoch(r.Context(), intent, key)
	} else {
		out = s.exec.Execute(r.Context(), intent)
	}

	status := http.StatusOK
	if out.Kind == domain.OutcomeSystemUnavailable {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, TradeResponse{Outcome: out, Message: out.Message()})
}

func (s *TradeServer) handleAccount(w http.ResponseWriter, r *http.Request) {
	acct, err := s.accounts.Account(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	resp := AccountResponse{Account: acct}
	if s.valuer != nil {
		ctx, cancel := context.WithTimeout(r.Context(), valuationTimeout)
		val := s.valuer.Value(ctx, acct)
		cancel()
		resp.Valuation = &val
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *TradeServer) handleTrades(w http.ResponseWriter, r *http.Request) {
	limit := defaultTradesLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxTradesLimit)
	}

	id := r.PathValue("id")
	// Records of an unknown account are empty, so check it exists first.
	if _, err := s.accounts.Account(r.Context(), id); err != nil {
		s.writeLedgerError(w, err)
		return
	}
	recs, err := s.accounts.Records(r.Context(), id, limit)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	if recs == nil {
		recs = []domain.TradeRecord{}
	}
	writeJSON(w, http.StatusOK, TradesResponse{AccountID: id, Trades: recs})
}

func (s *TradeServer) writeLedgerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ledger.ErrAccountNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ledger.ErrUnavailable):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.log.Error("ledger read failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}
