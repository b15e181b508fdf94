package escrow

import (
	"fmt"
	"math/big"
)

// PaymentStatus represents the lifecycle states supported by the escrow
// engine. Completed, Refunded and Rejected are terminal.
type PaymentStatus uint8

const (
	StatusPending PaymentStatus = iota
	StatusCompleted
	StatusDisputed
	StatusRefunded
	StatusRejected
)

// DisputeWindow is the interval, in seconds, after creation during which the
// sender may contest a payment. Fixed engine-wide, not per payment.
const DisputeWindow int64 = 14 * 24 * 60 * 60

// Address is a 20-byte principal identifier. The zero value is the empty
// principal.
type Address = [20]byte

// Payment captures the immutable metadata and runtime status of a single
// custodied payment. The identifier is assigned sequentially by the ledger,
// starting at 0.
type Payment struct {
	ID              uint64
	Sender          Address
	Receiver        Address
	Amount          *big.Int
	Status          PaymentStatus
	CreatedAt       int64
	DisputeDeadline int64
	DisputeReason   string
	Evidence        string
}

// Clone returns a deep copy of the payment so callers can safely mutate the
// copy without affecting the stored instance.
func (p *Payment) Clone() *Payment {
	if p == nil {
		return nil
	}
	clone := *p
	if p.Amount != nil {
		clone.Amount = new(big.Int).Set(p.Amount)
	} else {
		clone.Amount = big.NewInt(0)
	}
	return &clone
}

// Valid reports whether the status value is within the supported range.
func (s PaymentStatus) Valid() bool {
	switch s {
	case StatusPending, StatusCompleted, StatusDisputed, StatusRefunded, StatusRejected:
		return true
	default:
		return false
	}
}

// Terminal reports whether the status admits no further transitions.
func (s PaymentStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusRefunded, StatusRejected:
		return true
	default:
		return false
	}
}

// String renders the canonical lowercase status name.
func (s PaymentStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusCompleted:
		return "completed"
	case StatusDisputed:
		return "disputed"
	case StatusRefunded:
		return "refunded"
	case StatusRejected:
		return "rejected"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// ParseStatus maps a canonical status name back to its value.
func ParseStatus(name string) (PaymentStatus, error) {
	switch name {
	case "pending":
		return StatusPending, nil
	case "completed":
		return StatusCompleted, nil
	case "disputed":
		return StatusDisputed, nil
	case "refunded":
		return StatusRefunded, nil
	case "rejected":
		return StatusRejected, nil
	default:
		return 0, fmt.Errorf("unknown payment status: %s", name)
	}
}

// SanitizePayment validates the supplied payment record and returns a cloned
// instance with a non-nil amount. The function does not mutate the original
// value.
func SanitizePayment(p *Payment) (*Payment, error) {
	if p == nil {
		return nil, fmt.Errorf("nil payment")
	}
	clone := p.Clone()
	if clone.Amount.Sign() <= 0 {
		return nil, fmt.Errorf("payment amount must be positive")
	}
	if clone.Receiver == (Address{}) {
		return nil, fmt.Errorf("payment receiver must not be empty")
	}
	if clone.Receiver == clone.Sender {
		return nil, fmt.Errorf("payment receiver must differ from sender")
	}
	if !clone.Status.Valid() {
		return nil, fmt.Errorf("invalid payment status: %d", clone.Status)
	}
	if clone.DisputeDeadline != clone.CreatedAt+DisputeWindow {
		return nil, fmt.Errorf("payment dispute deadline does not match creation time")
	}
	return clone, nil
}
