// Package rpc exposes the escrow core over JSON-RPC 2.0. Read methods
// are public; methods that move funds or mutate registries require the
// configured bearer token.
package rpc

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"bookadot/crypto/eip712"
	"bookadot/native/bank"
	"bookadot/native/factory"
	"bookadot/native/platform"
	"bookadot/native/property"
)

const maxRequestBytes = 1 << 20 // 1 MiB

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeServerError    = -32000
	codeUnauthorized   = -32001
	codeRateLimited    = -32020

	codeNotFound          = -32022
	codeForbidden         = -32023
	codeConflict          = -32024
	codePolicyViolation   = -32025
	codeInsufficientFunds = -32026
)

type Server struct {
	factory   *factory.Factory
	platform  *platform.Config
	ledger    *bank.Ledger
	authToken string
	logger    *slog.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewServer wires the RPC surface. An empty authToken disables write
// methods entirely.
func NewServer(f *factory.Factory, cfg *platform.Config, ledger *bank.Ledger, authToken string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		factory:   f,
		platform:  cfg,
		ledger:    ledger,
		authToken: strings.TrimSpace(authToken),
		logger:    logger,
		limiters:  make(map[string]*rate.Limiter),
	}
}

// Router mounts the RPC endpoint plus health and metrics handlers.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Post("/rpc", s.handleRPC)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	return r
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	if !s.allow(r) {
		writeError(w, http.StatusTooManyRequests, nil, codeRateLimited, "rate limit exceeded", nil)
		return
	}
	body := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	var req RPCRequest
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", nil)
		return
	}
	if req.JSONRPC != jsonRPCVersion || strings.TrimSpace(req.Method) == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "invalid request envelope", nil)
		return
	}

	handler, ok := s.methods()[req.Method]
	if !ok {
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, "method not found", req.Method)
		return
	}
	if handler.requiresAuth {
		if err := s.requireAuth(r); err != nil {
			writeError(w, http.StatusUnauthorized, req.ID, codeUnauthorized, err.Error(), nil)
			return
		}
	}
	handler.fn(w, r, &req)
}

type methodHandler struct {
	requiresAuth bool
	fn           func(http.ResponseWriter, *http.Request, *RPCRequest)
}

func (s *Server) methods() map[string]methodHandler {
	return map[string]methodHandler{
		"factory_deployProperty": {true, s.handleDeployProperty},
		"property_book":          {true, s.handleBook},
		"property_cancel":        {true, s.handleCancel},
		"property_cancelByHost":  {true, s.handleCancelByHost},
		"property_approve":       {true, s.handleApprove},
		"property_revoke":        {true, s.handleRevoke},
		"bank_mint":              {true, s.handleMint},
		"bank_approve":           {true, s.handleBankApprove},
		// Payout is deliberately callable by anyone: it only releases
		// tranches the schedule already owes.
		"property_payout":          {false, s.handlePayout},
		"property_getBooking":      {false, s.handleGetBooking},
		"property_getBookingIndex": {false, s.handleGetBookingIndex},
		"property_totalBooking":    {false, s.handleTotalBooking},
		"property_bookingHistory":  {false, s.handleBookingHistory},
		"factory_getProperty":      {false, s.handleGetProperty},
		"bank_balanceOf":           {false, s.handleBalanceOf},
		"bank_allowance":           {false, s.handleAllowance},
	}
}

func (s *Server) requireAuth(r *http.Request) error {
	if s.authToken == "" {
		return errors.New("write methods are disabled: no auth token configured")
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return errors.New("missing bearer token")
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) != 1 {
		return errors.New("invalid bearer token")
	}
	return nil
}

func (s *Server) allow(r *http.Request) bool {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	s.mu.Lock()
	limiter, ok := s.limiters[host]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(20), 40)
		s.limiters[host] = limiter
	}
	s.mu.Unlock()
	return limiter.Allow()
}

// errorCode maps domain failures onto the RPC error taxonomy.
func errorCode(err error) int {
	switch {
	case errors.Is(err, eip712.ErrUnauthorizedSigner),
		errors.Is(err, property.ErrNotGuest),
		errors.Is(err, property.ErrNotHostOrDelegate),
		errors.Is(err, factory.ErrNotOwnerOrBackend),
		errors.Is(err, platform.ErrNotOwner):
		return codeForbidden
	case errors.Is(err, property.ErrBookingNotFound),
		errors.Is(err, factory.ErrPropertyNotFound):
		return codeNotFound
	case errors.Is(err, property.ErrDuplicateBooking),
		errors.Is(err, factory.ErrDuplicateProperty):
		return codeConflict
	case errors.Is(err, property.ErrTokenNotWhitelisted),
		errors.Is(err, property.ErrBookingExpired),
		errors.Is(err, property.ErrAlreadyFinalized),
		errors.Is(err, property.ErrInvalidPayout),
		errors.Is(err, property.ErrInvalidValue):
		return codePolicyViolation
	case errors.Is(err, bank.ErrInsufficientBalance),
		errors.Is(err, bank.ErrInsufficientAllowance):
		return codeInsufficientFunds
	default:
		return codeServerError
	}
}

func httpStatus(code int) int {
	switch code {
	case codeForbidden, codeUnauthorized:
		return http.StatusForbidden
	case codeNotFound:
		return http.StatusNotFound
	case codeConflict:
		return http.StatusConflict
	case codePolicyViolation, codeInsufficientFunds, codeInvalidParams:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeDomainError(w http.ResponseWriter, id json.RawMessage, err error) {
	code := errorCode(err)
	writeError(w, httpStatus(code), id, code, err.Error(), nil)
}

func writeResult(w http.ResponseWriter, id json.RawMessage, result interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result})
}

func writeError(w http.ResponseWriter, status int, id json.RawMessage, code int, message string, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(RPCResponse{
		JSONRPC: jsonRPCVersion,
		ID:      id,
		Error:   &RPCError{Code: code, Message: message, Data: data},
	})
}
