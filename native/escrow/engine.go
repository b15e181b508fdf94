package escrow

import (
	"math/big"
	"sync"
	"time"

	"disputepay/core/events"
)

// Engine wires the escrow transition logic with the payment ledger, the
// authorization registry, the funds rail and the event log. Every
// state-changing call is processed as one indivisible unit: the engine is a
// strict single writer, serialized by its own mutex, so a payment is never
// observed in a partially updated form. Read-only queries go straight to the
// ledger and do not block on in-flight writes.
type Engine struct {
	mu       sync.Mutex
	ledger   *Ledger
	registry *Registry
	rail     FundsRail
	emitter  events.Emitter
	nowFn    func() int64
}

// NewEngine creates an escrow engine with a no-op emitter. Callers can
// override the emitter via SetEmitter.
func NewEngine(ledger *Ledger, registry *Registry, rail FundsRail) *Engine {
	return &Engine{
		ledger:   ledger,
		registry: registry,
		rail:     rail,
		emitter:  events.NoopEmitter{},
		nowFn:    func() int64 { return time.Now().Unix() },
	}
}

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) emit(evt events.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(evt)
}

// Registry returns the authorization registry the engine consults.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// CreatePayment captures the amount from the sender into escrow custody and
// persists a new pending payment. The dispute deadline is computed once here
// and never recomputed.
func (e *Engine) CreatePayment(sender, receiver Address, amount *big.Int) (*Payment, error) {
	const op = "createPayment"
	e.mu.Lock()
	defer e.mu.Unlock()
	if amount == nil || amount.Sign() <= 0 {
		return nil, failf(KindInvalidArgument, op, "amount must be greater than 0")
	}
	if receiver == (Address{}) {
		return nil, failf(KindInvalidArgument, op, "receiver must not be empty")
	}
	if receiver == sender {
		return nil, failf(KindInvalidArgument, op, "cannot send payment to yourself")
	}
	now := e.now()
	amt := new(big.Int).Set(amount)
	if err := e.rail.Capture(sender, amt); err != nil {
		return nil, wrap(KindRailFailure, op, err)
	}
	payment := &Payment{
		Sender:          sender,
		Receiver:        receiver,
		Amount:          amt,
		Status:          StatusPending,
		CreatedAt:       now,
		DisputeDeadline: now + DisputeWindow,
	}
	id, err := e.ledger.Create(payment)
	if err != nil {
		// Return the captured funds; custody must not outlive the record.
		_ = e.rail.Release(sender, amt)
		return nil, wrap(KindStorageFailure, op, err)
	}
	payment.ID = id
	e.emit(NewCreatedEvent(payment))
	return payment.Clone(), nil
}

// CompletePayment releases the full amount to the receiver on the sender's
// instruction. Only the sender may complete, and only while the dispute
// window is open; past the deadline the receiver claims instead.
func (e *Engine) CompletePayment(caller Address, id uint64) error {
	const op = "completePayment"
	e.mu.Lock()
	defer e.mu.Unlock()
	payment, ok := e.ledger.Get(id)
	if !ok {
		return failID(KindNotFound, op, id, "unknown payment")
	}
	if payment.Status != StatusPending {
		return failID(KindInvalidState, op, id, "payment is not pending")
	}
	if caller != payment.Sender {
		return failCaller(KindUnauthorized, op, id, caller, "only sender can complete payment")
	}
	now := e.now()
	if now >= payment.DisputeDeadline {
		return failID(KindDeadlineViolation, op, id, "dispute window elapsed; receiver must claim")
	}
	return e.settle(op, payment, payment.Receiver, StatusCompleted, NewCompletedEvent(payment, now))
}

// ClaimPayment releases the full amount to the receiver once the dispute
// window has elapsed without a dispute.
func (e *Engine) ClaimPayment(caller Address, id uint64) error {
	const op = "claimPayment"
	e.mu.Lock()
	defer e.mu.Unlock()
	payment, ok := e.ledger.Get(id)
	if !ok {
		return failID(KindNotFound, op, id, "unknown payment")
	}
	if payment.Status != StatusPending {
		return failID(KindInvalidState, op, id, "payment is not pending")
	}
	if caller != payment.Receiver {
		return failCaller(KindUnauthorized, op, id, caller, "only receiver can claim payment")
	}
	now := e.now()
	if now < payment.DisputeDeadline {
		return failID(KindDeadlineViolation, op, id, "dispute window has not elapsed")
	}
	return e.settle(op, payment, payment.Receiver, StatusCompleted, NewClaimedEvent(payment, now))
}

// AutoCompletePayment is the permissionless finalizer: anyone may release an
// undisputed payment to the receiver once the deadline has passed. Only the
// first call succeeds; later calls fail with an invalid-state error, so the
// operation is safe to invoke any number of times.
func (e *Engine) AutoCompletePayment(caller Address, id uint64) error {
	const op = "autoCompletePayment"
	_ = caller // recorded by callers for audit, never checked
	e.mu.Lock()
	defer e.mu.Unlock()
	payment, ok := e.ledger.Get(id)
	if !ok {
		return failID(KindNotFound, op, id, "unknown payment")
	}
	if payment.Status != StatusPending {
		return failID(KindInvalidState, op, id, "payment is not pending")
	}
	now := e.now()
	if now < payment.DisputeDeadline {
		return failID(KindDeadlineViolation, op, id, "dispute window has not elapsed")
	}
	return e.settle(op, payment, payment.Receiver, StatusCompleted, NewCompletedEvent(payment, now))
}

// RequestRefund moves a pending payment into dispute. Only the sender may
// dispute, a reason is required, and the dispute window must still be open.
// Reason and evidence are recorded verbatim, exactly once.
func (e *Engine) RequestRefund(caller Address, id uint64, reason, evidence string) error {
	const op = "requestRefund"
	e.mu.Lock()
	defer e.mu.Unlock()
	payment, ok := e.ledger.Get(id)
	if !ok {
		return failID(KindNotFound, op, id, "unknown payment")
	}
	if payment.Status != StatusPending {
		return failID(KindInvalidState, op, id, "payment is not pending")
	}
	if caller != payment.Sender {
		return failCaller(KindUnauthorized, op, id, caller, "only sender can request refund")
	}
	if reason == "" {
		return failID(KindInvalidArgument, op, id, "reason is required")
	}
	now := e.now()
	if now >= payment.DisputeDeadline {
		return failID(KindDeadlineViolation, op, id, "dispute window has expired")
	}
	payment.Status = StatusDisputed
	payment.DisputeReason = reason
	payment.Evidence = evidence
	if err := e.ledger.Put(payment); err != nil {
		return wrapID(KindStorageFailure, op, id, err)
	}
	e.emit(NewRefundRequestedEvent(payment, now))
	return nil
}

// ResolveDispute adjudicates a disputed payment. Approval refunds the sender,
// rejection releases to the receiver. Only the resolver or an admin may call.
func (e *Engine) ResolveDispute(caller Address, id uint64, approve bool) error {
	const op = "resolveDispute"
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.registry.CanResolve(caller) {
		return failCaller(KindUnauthorized, op, id, caller, "caller is not resolver or admin")
	}
	payment, ok := e.ledger.Get(id)
	if !ok {
		return failID(KindNotFound, op, id, "unknown payment")
	}
	if payment.Status != StatusDisputed {
		return failID(KindInvalidState, op, id, "payment is not disputed")
	}
	now := e.now()
	recipient := payment.Receiver
	status := StatusRejected
	if approve {
		recipient = payment.Sender
		status = StatusRefunded
	}
	if err := e.settle(op, payment, recipient, status, nil); err != nil {
		return err
	}
	e.emit(NewDisputeResolvedEvent(payment, approve, now))
	return nil
}

// BatchResolve applies the single-resolve transition to each id/approval
// pair atomically: a staged validation pass rejects the whole batch before
// any pair is applied, and a rail failure during commit triggers
// compensating captures so no partial settlement survives.
func (e *Engine) BatchResolve(caller Address, ids []uint64, approvals []bool) error {
	const op = "batchResolve"
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.registry.CanResolve(caller) {
		return failf(KindUnauthorized, op, "caller %x is not resolver or admin", caller)
	}
	if len(ids) == 0 || len(approvals) == 0 {
		return failf(KindInvalidArgument, op, "empty batch")
	}
	if len(ids) != len(approvals) {
		return failf(KindInvalidArgument, op, "ids and approvals length mismatch")
	}
	staged := make([]*Payment, len(ids))
	seen := make(map[uint64]struct{}, len(ids))
	for i, id := range ids {
		if _, dup := seen[id]; dup {
			return failID(KindInvalidArgument, op, id, "duplicate payment in batch")
		}
		seen[id] = struct{}{}
		payment, ok := e.ledger.Get(id)
		if !ok {
			return failID(KindNotFound, op, id, "unknown payment")
		}
		if payment.Status != StatusDisputed {
			return failID(KindInvalidState, op, id, "payment is not disputed")
		}
		staged[i] = payment
	}
	now := e.now()
	for i, payment := range staged {
		if err := e.rail.Release(e.batchRecipient(payment, approvals[i]), payment.Amount); err != nil {
			e.compensateReleases(staged, approvals, i)
			return wrapID(KindRailFailure, op, payment.ID, err)
		}
	}
	committed := 0
	for i, payment := range staged {
		if approvals[i] {
			payment.Status = StatusRefunded
		} else {
			payment.Status = StatusRejected
		}
		if err := e.ledger.Put(payment); err != nil {
			// Best-effort rollback: restore disputed statuses and capture
			// the released value back into the vault.
			for j := 0; j < committed; j++ {
				restore := staged[j].Clone()
				restore.Status = StatusDisputed
				_ = e.ledger.Put(restore)
			}
			e.compensateReleases(staged, approvals, len(staged))
			return wrapID(KindStorageFailure, op, payment.ID, err)
		}
		committed++
	}
	for i, payment := range staged {
		e.emit(NewDisputeResolvedEvent(payment, approvals[i], now))
	}
	return nil
}

func (e *Engine) batchRecipient(p *Payment, approve bool) Address {
	if approve {
		return p.Sender
	}
	return p.Receiver
}

func (e *Engine) compensateReleases(staged []*Payment, approvals []bool, n int) {
	for i := 0; i < n; i++ {
		_ = e.rail.Capture(e.batchRecipient(staged[i], approvals[i]), staged[i].Amount)
	}
}

// settle releases the payment amount to the recipient and commits the new
// terminal status. Callers hold the engine mutex.
func (e *Engine) settle(op string, payment *Payment, recipient Address, status PaymentStatus, evt events.Event) error {
	if err := e.rail.Release(recipient, payment.Amount); err != nil {
		return wrapID(KindRailFailure, op, payment.ID, err)
	}
	payment.Status = status
	if err := e.ledger.Put(payment); err != nil {
		// Pull the released value back so custody and record agree.
		_ = e.rail.Capture(recipient, payment.Amount)
		return wrapID(KindStorageFailure, op, payment.ID, err)
	}
	if evt != nil {
		e.emit(evt)
	}
	return nil
}

// --- read surface ---

// GetPayment returns a clone of the payment with the given id.
func (e *Engine) GetPayment(id uint64) (*Payment, error) {
	payment, ok := e.ledger.Get(id)
	if !ok {
		return nil, failID(KindNotFound, "getPayment", id, "unknown payment")
	}
	return payment, nil
}

// AllPayments returns every payment ordered by id.
func (e *Engine) AllPayments() []*Payment {
	return e.ledger.All()
}

// PaymentsByStatus returns the payments currently in the given status.
func (e *Engine) PaymentsByStatus(status PaymentStatus) []*Payment {
	return e.ledger.ByStatus(status)
}

// SenderPayments returns the ids of payments created by the principal.
func (e *Engine) SenderPayments(p Address) []uint64 {
	return e.ledger.SenderPayments(p)
}

// ReceiverPayments returns the ids of payments addressed to the principal.
func (e *Engine) ReceiverPayments(p Address) []uint64 {
	return e.ledger.ReceiverPayments(p)
}

// PaymentCounter returns the next id to be assigned.
func (e *Engine) PaymentCounter() uint64 {
	return e.ledger.Counter()
}
