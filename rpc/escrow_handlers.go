package rpc

import (
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"disputepay/crypto"
	"disputepay/native/escrow"
)

type createPaymentParams struct {
	Sender   string `json:"sender"`
	Receiver string `json:"receiver"`
	Amount   string `json:"amount"`
}

type callerIDParams struct {
	Caller string `json:"caller"`
	ID     uint64 `json:"id"`
}

type requestRefundParams struct {
	Caller   string `json:"caller"`
	ID       uint64 `json:"id"`
	Reason   string `json:"reason"`
	Evidence string `json:"evidence,omitempty"`
}

type resolveDisputeParams struct {
	Caller  string `json:"caller"`
	ID      uint64 `json:"id"`
	Approve bool   `json:"approve"`
}

type batchResolveParams struct {
	Caller    string   `json:"caller"`
	IDs       []uint64 `json:"ids"`
	Approvals []bool   `json:"approvals"`
}

type updateResolverParams struct {
	Caller   string `json:"caller"`
	Resolver string `json:"resolver"`
}

type adminParams struct {
	Caller    string `json:"caller"`
	Principal string `json:"principal"`
}

type depositParams struct {
	Principal string `json:"principal"`
	Amount    string `json:"amount"`
}

type idParams struct {
	ID uint64 `json:"id"`
}

type statusParams struct {
	Status string `json:"status"`
}

type principalParams struct {
	Principal string `json:"principal"`
}

type eventsParams struct {
	From  uint64 `json:"from,omitempty"`
	Limit int    `json:"limit,omitempty"`
}

type paymentJSON struct {
	ID              uint64 `json:"id"`
	Sender          string `json:"sender"`
	Receiver        string `json:"receiver"`
	Amount          string `json:"amount"`
	Status          string `json:"status"`
	CreatedAt       int64  `json:"createdAt"`
	DisputeDeadline int64  `json:"disputeDeadline"`
	DisputeReason   string `json:"disputeReason,omitempty"`
	Evidence        string `json:"evidence,omitempty"`
}

func paymentToJSON(p *escrow.Payment) paymentJSON {
	return paymentJSON{
		ID:              p.ID,
		Sender:          crypto.EncodeBytes(p.Sender),
		Receiver:        crypto.EncodeBytes(p.Receiver),
		Amount:          p.Amount.String(),
		Status:          p.Status.String(),
		CreatedAt:       p.CreatedAt,
		DisputeDeadline: p.DisputeDeadline,
		DisputeReason:   p.DisputeReason,
		Evidence:        p.Evidence,
	}
}

func paymentsToJSON(payments []*escrow.Payment) []paymentJSON {
	out := make([]paymentJSON, 0, len(payments))
	for _, p := range payments {
		out = append(out, paymentToJSON(p))
	}
	return out
}

func parseAddress(raw string) (escrow.Address, error) {
	addr, err := crypto.DecodeAddress(strings.TrimSpace(raw))
	if err != nil {
		return escrow.Address{}, err
	}
	return addr.Bytes(), nil
}

func parsePositiveBigInt(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("amount required")
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	if amount.Sign() <= 0 {
		return nil, fmt.Errorf("amount must be positive")
	}
	return amount, nil
}

func decodeSingleParam(req *RPCRequest, target interface{}) error {
	if len(req.Params) != 1 {
		return fmt.Errorf("exactly one parameter object expected")
	}
	return json.Unmarshal(req.Params[0], target)
}

// afterMutation records transition metrics and keeps the open-dispute gauge
// in step with the ledger.
func (s *Server) afterMutation(op string) {
	s.metrics.ObserveTransition(op)
	s.metrics.SetOpenDisputes(len(s.engine.PaymentsByStatus(escrow.StatusDisputed)))
}

func (s *Server) handleCreatePayment(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	var params createPaymentParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	sender, err := parseAddress(params.Sender)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	receiver, err := parseAddress(params.Receiver)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	amount, err := parsePositiveBigInt(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	payment, err := s.engine.CreatePayment(sender, receiver, amount)
	if err != nil {
		s.writeEngineError(w, req.ID, err)
		return
	}
	s.afterMutation("createPayment")
	writeResult(w, req.ID, paymentToJSON(payment))
}

// callerTransition runs the shared decode-auth-dispatch sequence for the
// single-payment transitions that only need a caller and an id.
func (s *Server) callerTransition(w http.ResponseWriter, r *http.Request, req *RPCRequest, op string, apply func(escrow.Address, uint64) error) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	var params callerIDParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := apply(caller, params.ID); err != nil {
		s.writeEngineError(w, req.ID, err)
		return
	}
	s.afterMutation(op)
	payment, err := s.engine.GetPayment(params.ID)
	if err != nil {
		s.writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, paymentToJSON(payment))
}

func (s *Server) handleCompletePayment(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.callerTransition(w, r, req, "completePayment", s.engine.CompletePayment)
}

func (s *Server) handleClaimPayment(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.callerTransition(w, r, req, "claimPayment", s.engine.ClaimPayment)
}

func (s *Server) handleAutoCompletePayment(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.callerTransition(w, r, req, "autoCompletePayment", s.engine.AutoCompletePayment)
}

func (s *Server) handleRequestRefund(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	var params requestRefundParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.engine.RequestRefund(caller, params.ID, params.Reason, params.Evidence); err != nil {
		s.writeEngineError(w, req.ID, err)
		return
	}
	s.afterMutation("requestRefund")
	payment, err := s.engine.GetPayment(params.ID)
	if err != nil {
		s.writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, paymentToJSON(payment))
}

func (s *Server) handleResolveDispute(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	var params resolveDisputeParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.engine.ResolveDispute(caller, params.ID, params.Approve); err != nil {
		s.writeEngineError(w, req.ID, err)
		return
	}
	s.afterMutation("resolveDispute")
	payment, err := s.engine.GetPayment(params.ID)
	if err != nil {
		s.writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, paymentToJSON(payment))
}

func (s *Server) handleBatchResolve(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	var params batchResolveParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.engine.BatchResolve(caller, params.IDs, params.Approvals); err != nil {
		s.writeEngineError(w, req.ID, err)
		return
	}
	s.afterMutation("batchResolve")
	resolved := make([]paymentJSON, 0, len(params.IDs))
	for _, id := range params.IDs {
		payment, err := s.engine.GetPayment(id)
		if err != nil {
			s.writeEngineError(w, req.ID, err)
			return
		}
		resolved = append(resolved, paymentToJSON(payment))
	}
	writeResult(w, req.ID, resolved)
}

func (s *Server) handleUpdateResolver(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	var params updateResolverParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	resolver, err := parseAddress(params.Resolver)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.engine.Registry().UpdateResolver(caller, resolver); err != nil {
		s.writeEngineError(w, req.ID, err)
		return
	}
	s.afterMutation("updateResolver")
	writeResult(w, req.ID, map[string]string{"resolver": crypto.EncodeBytes(resolver)})
}

func (s *Server) handleAdminChange(w http.ResponseWriter, r *http.Request, req *RPCRequest, op string, apply func(escrow.Address, escrow.Address) error) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	var params adminParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	principal, err := parseAddress(params.Principal)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := apply(caller, principal); err != nil {
		s.writeEngineError(w, req.ID, err)
		return
	}
	s.afterMutation(op)
	writeResult(w, req.ID, map[string]bool{"isAdmin": s.engine.Registry().IsAdmin(principal)})
}

func (s *Server) handleAddAdmin(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.handleAdminChange(w, r, req, "addAdmin", s.engine.Registry().AddAdmin)
}

func (s *Server) handleRemoveAdmin(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.handleAdminChange(w, r, req, "removeAdmin", s.engine.Registry().RemoveAdmin)
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	var params depositParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	principal, err := parseAddress(params.Principal)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	amount, err := parsePositiveBigInt(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.rail.Deposit(principal, amount); err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeEscrowInternal, "rail_failure", err.Error())
		return
	}
	balance, err := s.rail.Balance(principal)
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeEscrowInternal, "rail_failure", err.Error())
		return
	}
	writeResult(w, req.ID, map[string]string{"balance": balance.String()})
}

func (s *Server) handleGetPayment(w http.ResponseWriter, req *RPCRequest) {
	var params idParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	payment, err := s.engine.GetPayment(params.ID)
	if err != nil {
		s.writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, paymentToJSON(payment))
}

func (s *Server) handleListPayments(w http.ResponseWriter, req *RPCRequest) {
	writeResult(w, req.ID, paymentsToJSON(s.engine.AllPayments()))
}

func (s *Server) handleListPaymentsByStatus(w http.ResponseWriter, req *RPCRequest) {
	var params statusParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	status, err := escrow.ParseStatus(strings.ToLower(strings.TrimSpace(params.Status)))
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	writeResult(w, req.ID, paymentsToJSON(s.engine.PaymentsByStatus(status)))
}

func (s *Server) handleListSenderPayments(w http.ResponseWriter, req *RPCRequest) {
	var params principalParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	principal, err := parseAddress(params.Principal)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	writeResult(w, req.ID, s.engine.SenderPayments(principal))
}

func (s *Server) handleListReceiverPayments(w http.ResponseWriter, req *RPCRequest) {
	var params principalParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	principal, err := parseAddress(params.Principal)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	writeResult(w, req.ID, s.engine.ReceiverPayments(principal))
}

func (s *Server) handleIsAdmin(w http.ResponseWriter, req *RPCRequest) {
	var params principalParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	principal, err := parseAddress(params.Principal)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	writeResult(w, req.ID, map[string]bool{"isAdmin": s.engine.Registry().IsAdmin(principal)})
}

func (s *Server) handleOwner(w http.ResponseWriter, req *RPCRequest) {
	writeResult(w, req.ID, map[string]string{"owner": crypto.EncodeBytes(s.engine.Registry().Owner())})
}

func (s *Server) handleResolver(w http.ResponseWriter, req *RPCRequest) {
	writeResult(w, req.ID, map[string]string{"resolver": crypto.EncodeBytes(s.engine.Registry().Resolver())})
}

func (s *Server) handlePaymentCounter(w http.ResponseWriter, req *RPCRequest) {
	writeResult(w, req.ID, map[string]uint64{"counter": s.engine.PaymentCounter()})
}

func (s *Server) handleEvents(w http.ResponseWriter, req *RPCRequest) {
	params := eventsParams{}
	if len(req.Params) == 1 {
		if err := json.Unmarshal(req.Params[0], &params); err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
			return
		}
	}
	writeResult(w, req.ID, s.log.Records(params.From, params.Limit))
}

func (s *Server) handleBalance(w http.ResponseWriter, req *RPCRequest) {
	var params principalParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	principal, err := parseAddress(params.Principal)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	balance, err := s.rail.Balance(principal)
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeEscrowInternal, "rail_failure", err.Error())
		return
	}
	writeResult(w, req.ID, map[string]string{"balance": balance.String()})
}
