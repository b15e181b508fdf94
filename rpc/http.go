package rpc

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"disputepay/core/events"
	"disputepay/native/escrow"
	"disputepay/observability/metrics"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
	authTokenEnv    = "DISPUTEPAY_RPC_TOKEN"
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeServerError    = -32000

	codeEscrowInvalidParams = -32021
	codeEscrowNotFound      = -32022
	codeEscrowForbidden     = -32023
	codeEscrowConflict      = -32024
	codeEscrowInternal      = -32025
	codeEscrowDeadline      = -32026
)

// Server exposes the escrow engine over JSON-RPC, with /healthz and /metrics
// endpoints alongside. Mutating methods require the bearer token when one is
// configured through the environment.
type Server struct {
	engine    *escrow.Engine
	rail      *escrow.AccountRail
	log       *events.Log
	authToken string
	metrics   *metrics.EscrowMetrics
}

func NewServer(engine *escrow.Engine, rail *escrow.AccountRail, log *events.Log) *Server {
	token := strings.TrimSpace(os.Getenv(authTokenEnv))
	return &Server{
		engine:    engine,
		rail:      rail,
		log:       log,
		authToken: token,
		metrics:   metrics.Escrow(),
	}
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      int               `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/healthz":
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
		return
	case "/metrics":
		promhttp.Handler().ServeHTTP(w, r)
		return
	}
	s.handle(w, r)
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, nil, codeInvalidRequest, "POST required", nil)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBytes)
	var req RPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "parse error", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", nil)
		return
	}

	switch req.Method {
	case "escrow_createPayment":
		s.handleCreatePayment(w, r, &req)
	case "escrow_completePayment":
		s.handleCompletePayment(w, r, &req)
	case "escrow_claimPayment":
		s.handleClaimPayment(w, r, &req)
	case "escrow_autoCompletePayment":
		s.handleAutoCompletePayment(w, r, &req)
	case "escrow_requestRefund":
		s.handleRequestRefund(w, r, &req)
	case "escrow_resolveDispute":
		s.handleResolveDispute(w, r, &req)
	case "escrow_batchResolve":
		s.handleBatchResolve(w, r, &req)
	case "escrow_updateResolver":
		s.handleUpdateResolver(w, r, &req)
	case "escrow_addAdmin":
		s.handleAddAdmin(w, r, &req)
	case "escrow_removeAdmin":
		s.handleRemoveAdmin(w, r, &req)
	case "escrow_deposit":
		s.handleDeposit(w, r, &req)
	case "escrow_getPayment":
		s.handleGetPayment(w, &req)
	case "escrow_listPayments":
		s.handleListPayments(w, &req)
	case "escrow_listPaymentsByStatus":
		s.handleListPaymentsByStatus(w, &req)
	case "escrow_listSenderPayments":
		s.handleListSenderPayments(w, &req)
	case "escrow_listReceiverPayments":
		s.handleListReceiverPayments(w, &req)
	case "escrow_isAdmin":
		s.handleIsAdmin(w, &req)
	case "escrow_owner":
		s.handleOwner(w, &req)
	case "escrow_resolver":
		s.handleResolver(w, &req)
	case "escrow_paymentCounter":
		s.handlePaymentCounter(w, &req)
	case "escrow_events":
		s.handleEvents(w, &req)
	case "escrow_balance":
		s.handleBalance(w, &req)
	default:
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, "method not found", req.Method)
	}
}

func (s *Server) requireAuth(r *http.Request) *RPCError {
	if s.authToken == "" {
		return nil
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return &RPCError{Code: codeUnauthorized, Message: "unauthorized", Data: "missing bearer token"}
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) != 1 {
		return &RPCError{Code: codeUnauthorized, Message: "unauthorized", Data: "invalid token"}
	}
	return nil
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	w.Header().Set("Content-Type", "application/json")
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	w.Header().Set("Content-Type", "application/json")
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}

// writeEngineError maps the engine's error taxonomy onto JSON-RPC codes and
// HTTP statuses.
func (s *Server) writeEngineError(w http.ResponseWriter, id interface{}, err error) {
	kind := escrow.Kind(err)
	s.metrics.ObserveFailure(kind.String())
	status := http.StatusBadRequest
	code := codeServerError
	switch kind {
	case escrow.KindInvalidArgument:
		code = codeEscrowInvalidParams
	case escrow.KindNotFound:
		status = http.StatusNotFound
		code = codeEscrowNotFound
	case escrow.KindUnauthorized, escrow.KindForbidden:
		status = http.StatusForbidden
		code = codeEscrowForbidden
	case escrow.KindInvalidState, escrow.KindAlreadyExists:
		status = http.StatusConflict
		code = codeEscrowConflict
	case escrow.KindDeadlineViolation:
		status = http.StatusConflict
		code = codeEscrowDeadline
	case escrow.KindRailFailure, escrow.KindStorageFailure:
		status = http.StatusInternalServerError
		code = codeEscrowInternal
	default:
		status = http.StatusInternalServerError
	}
	writeError(w, status, id, code, kind.String(), err.Error())
}
