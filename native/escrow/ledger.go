package escrow

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"sync"

	"disputepay/storage"
)

var (
	ledgerCounterKey = []byte("escrow/payment_counter")
	ledgerRecPrefix  = "escrow/payment/"
)

// Ledger is the authoritative store of payment records, keyed by a
// monotonically increasing identifier. Secondary indexes by status, sender
// and receiver are maintained incrementally on every create and mutation;
// they are derived, rebuildable caches, not sources of truth. Records are
// written through to the backing database and replayed on open.
type Ledger struct {
	mu         sync.RWMutex
	db         storage.Database
	payments   map[uint64]*Payment
	byStatus   map[PaymentStatus][]uint64
	bySender   map[Address][]uint64
	byReceiver map[Address][]uint64
	counter    uint64
}

// NewLedger opens a ledger on top of the given database and replays any
// persisted payments, rebuilding the secondary indexes.
func NewLedger(db storage.Database) (*Ledger, error) {
	l := &Ledger{
		db:         db,
		payments:   make(map[uint64]*Payment),
		byStatus:   make(map[PaymentStatus][]uint64),
		bySender:   make(map[Address][]uint64),
		byReceiver: make(map[Address][]uint64),
	}
	if db == nil {
		return l, nil
	}
	raw, err := db.Get(ledgerCounterKey)
	if err != nil {
		if err == storage.ErrKeyNotFound {
			return l, nil
		}
		return nil, fmt.Errorf("payment ledger: read counter: %w", err)
	}
	if len(raw) != 8 {
		return nil, fmt.Errorf("payment ledger: corrupt counter")
	}
	counter := binary.BigEndian.Uint64(raw)
	for id := uint64(0); id < counter; id++ {
		data, err := db.Get(paymentKey(id))
		if err != nil {
			return nil, fmt.Errorf("payment ledger: read payment %d: %w", id, err)
		}
		payment, err := decodePayment(data)
		if err != nil {
			return nil, fmt.Errorf("payment ledger: decode payment %d: %w", id, err)
		}
		if payment.ID != id {
			return nil, fmt.Errorf("payment ledger: record %d carries id %d", id, payment.ID)
		}
		l.payments[id] = payment
		l.index(payment)
	}
	l.counter = counter
	return l, nil
}

func paymentKey(id uint64) []byte {
	key := make([]byte, len(ledgerRecPrefix)+8)
	copy(key, ledgerRecPrefix)
	binary.BigEndian.PutUint64(key[len(ledgerRecPrefix):], id)
	return key
}

// paymentRecord is the persisted wire form of a Payment.
type paymentRecord struct {
	ID              uint64 `json:"id"`
	Sender          string `json:"sender"`
	Receiver        string `json:"receiver"`
	Amount          string `json:"amount"`
	Status          uint8  `json:"status"`
	CreatedAt       int64  `json:"createdAt"`
	DisputeDeadline int64  `json:"disputeDeadline"`
	DisputeReason   string `json:"disputeReason,omitempty"`
	Evidence        string `json:"evidence,omitempty"`
}

func encodePayment(p *Payment) ([]byte, error) {
	rec := paymentRecord{
		ID:              p.ID,
		Sender:          hex.EncodeToString(p.Sender[:]),
		Receiver:        hex.EncodeToString(p.Receiver[:]),
		Amount:          p.Amount.String(),
		Status:          uint8(p.Status),
		CreatedAt:       p.CreatedAt,
		DisputeDeadline: p.DisputeDeadline,
		DisputeReason:   p.DisputeReason,
		Evidence:        p.Evidence,
	}
	return json.Marshal(rec)
}

func decodePayment(data []byte) (*Payment, error) {
	rec := paymentRecord{}
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	sender, err := decodeAddressHex(rec.Sender)
	if err != nil {
		return nil, fmt.Errorf("sender: %w", err)
	}
	receiver, err := decodeAddressHex(rec.Receiver)
	if err != nil {
		return nil, fmt.Errorf("receiver: %w", err)
	}
	amount, ok := new(big.Int).SetString(rec.Amount, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", rec.Amount)
	}
	status := PaymentStatus(rec.Status)
	if !status.Valid() {
		return nil, fmt.Errorf("invalid status %d", rec.Status)
	}
	return &Payment{
		ID:              rec.ID,
		Sender:          sender,
		Receiver:        receiver,
		Amount:          amount,
		Status:          status,
		CreatedAt:       rec.CreatedAt,
		DisputeDeadline: rec.DisputeDeadline,
		DisputeReason:   rec.DisputeReason,
		Evidence:        rec.Evidence,
	}, nil
}

func decodeAddressHex(s string) (Address, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return Address{}, err
	}
	if len(raw) != len(Address{}) {
		return Address{}, fmt.Errorf("address must be %d bytes, got %d", len(Address{}), len(raw))
	}
	var addr Address
	copy(addr[:], raw)
	return addr, nil
}

func (l *Ledger) index(p *Payment) {
	l.byStatus[p.Status] = append(l.byStatus[p.Status], p.ID)
	l.bySender[p.Sender] = append(l.bySender[p.Sender], p.ID)
	l.byReceiver[p.Receiver] = append(l.byReceiver[p.Receiver], p.ID)
}

// Counter returns the next id to be assigned, equal to the number of
// payments ever created.
func (l *Ledger) Counter() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.counter
}

// Create sanitizes and persists a new payment, assigning the next sequential
// id. The counter is left unchanged when persistence fails.
func (l *Ledger) Create(p *Payment) (uint64, error) {
	sanitized, err := SanitizePayment(p)
	if err != nil {
		return 0, fmt.Errorf("payment ledger: %w", err)
	}
	if sanitized.Status != StatusPending {
		return 0, fmt.Errorf("payment ledger: new payments must be pending")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	sanitized.ID = l.counter
	if l.db != nil {
		data, err := encodePayment(sanitized)
		if err != nil {
			return 0, fmt.Errorf("payment ledger: encode payment: %w", err)
		}
		if err := l.db.Put(paymentKey(sanitized.ID), data); err != nil {
			return 0, fmt.Errorf("payment ledger: write payment: %w", err)
		}
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], sanitized.ID+1)
		if err := l.db.Put(ledgerCounterKey, buf[:]); err != nil {
			_ = l.db.Delete(paymentKey(sanitized.ID))
			return 0, fmt.Errorf("payment ledger: write counter: %w", err)
		}
	}
	l.payments[sanitized.ID] = sanitized
	l.index(sanitized)
	l.counter = sanitized.ID + 1
	return sanitized.ID, nil
}

// Get returns a clone of the payment with the given id.
func (l *Ledger) Get(id uint64) (*Payment, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.payments[id]
	if !ok {
		return nil, false
	}
	return p.Clone(), true
}

// Put replaces an existing payment record, keeping the status index in step.
// Identity fields must not change.
func (l *Ledger) Put(p *Payment) error {
	if p == nil {
		return fmt.Errorf("payment ledger: nil payment")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	current, ok := l.payments[p.ID]
	if !ok {
		return fmt.Errorf("payment ledger: payment %d not found", p.ID)
	}
	if current.Sender != p.Sender || current.Receiver != p.Receiver ||
		current.CreatedAt != p.CreatedAt || current.DisputeDeadline != p.DisputeDeadline ||
		current.Amount.Cmp(p.Amount) != 0 {
		return fmt.Errorf("payment ledger: immutable fields of payment %d changed", p.ID)
	}
	clone := p.Clone()
	if l.db != nil {
		data, err := encodePayment(clone)
		if err != nil {
			return fmt.Errorf("payment ledger: encode payment: %w", err)
		}
		if err := l.db.Put(paymentKey(clone.ID), data); err != nil {
			return fmt.Errorf("payment ledger: write payment: %w", err)
		}
	}
	if current.Status != clone.Status {
		l.byStatus[current.Status] = removeID(l.byStatus[current.Status], clone.ID)
		l.byStatus[clone.Status] = append(l.byStatus[clone.Status], clone.ID)
	}
	l.payments[clone.ID] = clone
	return nil
}

func removeID(ids []uint64, id uint64) []uint64 {
	for i, candidate := range ids {
		if candidate == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}

// All returns every payment ordered by id.
func (l *Ledger) All() []*Payment {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*Payment, 0, l.counter)
	for id := uint64(0); id < l.counter; id++ {
		if p, ok := l.payments[id]; ok {
			out = append(out, p.Clone())
		}
	}
	return out
}

// ByStatus returns the payments currently in the given status, ordered by
// the time they entered it.
func (l *Ledger) ByStatus(status PaymentStatus) []*Payment {
	l.mu.RLock()
	defer l.mu.RUnlock()
	ids := l.byStatus[status]
	out := make([]*Payment, 0, len(ids))
	for _, id := range ids {
		if p, ok := l.payments[id]; ok {
			out = append(out, p.Clone())
		}
	}
	return out
}

// SenderPayments returns the ids of every payment created by the principal,
// in creation order.
func (l *Ledger) SenderPayments(p Address) []uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]uint64(nil), l.bySender[p]...)
}

// ReceiverPayments returns the ids of every payment addressed to the
// principal, in creation order.
func (l *Ledger) ReceiverPayments(p Address) []uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]uint64(nil), l.byReceiver[p]...)
}
