package escrow

import (
	"encoding/hex"
	"strconv"

	"disputepay/core/events"
)

const (
	EventTypePaymentCreated   = "escrow.payment.created"
	EventTypePaymentCompleted = "escrow.payment.completed"
	EventTypePaymentClaimed   = "escrow.payment.claimed"
	EventTypeRefundRequested  = "escrow.refund.requested"
	EventTypeDisputeResolved  = "escrow.dispute.resolved"
	EventTypeResolverUpdated  = "escrow.resolver.updated"
	EventTypeAdminAdded       = "escrow.admin.added"
	EventTypeAdminRemoved     = "escrow.admin.removed"
)

// NewCreatedEvent returns the canonical event payload for a newly created
// payment.
func NewCreatedEvent(p *Payment) *events.Record {
	rec := newPaymentEvent(EventTypePaymentCreated, p)
	if p == nil {
		return rec
	}
	rec.Attributes["sender"] = hex.EncodeToString(p.Sender[:])
	rec.Attributes["receiver"] = hex.EncodeToString(p.Receiver[:])
	rec.Attributes["amount"] = p.Amount.String()
	return rec
}

// NewCompletedEvent returns the canonical event payload emitted when the full
// amount is released to the receiver, whether by the sender, by a claim after
// the dispute window or by the permissionless finalizer.
func NewCompletedEvent(p *Payment, ts int64) *events.Record {
	rec := newPaymentEvent(EventTypePaymentCompleted, p)
	rec.Timestamp = ts
	return rec
}

// NewClaimedEvent returns the canonical event payload for a post-window claim
// by the receiver.
func NewClaimedEvent(p *Payment, ts int64) *events.Record {
	rec := newPaymentEvent(EventTypePaymentClaimed, p)
	rec.Timestamp = ts
	if p != nil {
		rec.Attributes["receiver"] = hex.EncodeToString(p.Receiver[:])
	}
	return rec
}

// NewRefundRequestedEvent returns the canonical event payload emitted when
// the sender disputes a payment.
func NewRefundRequestedEvent(p *Payment, ts int64) *events.Record {
	rec := newPaymentEvent(EventTypeRefundRequested, p)
	rec.Timestamp = ts
	if p != nil {
		rec.Attributes["sender"] = hex.EncodeToString(p.Sender[:])
		rec.Attributes["reason"] = p.DisputeReason
	}
	return rec
}

// NewDisputeResolvedEvent returns the canonical event payload for an
// adjudicated dispute.
func NewDisputeResolvedEvent(p *Payment, approved bool, ts int64) *events.Record {
	rec := newPaymentEvent(EventTypeDisputeResolved, p)
	rec.Timestamp = ts
	rec.Attributes["approved"] = strconv.FormatBool(approved)
	if p != nil {
		rec.Attributes["newStatus"] = p.Status.String()
	}
	return rec
}

// NewResolverUpdatedEvent returns the event payload for a resolver
// reassignment.
func NewResolverUpdatedEvent(old, updated Address) *events.Record {
	return &events.Record{
		Type: EventTypeResolverUpdated,
		Attributes: map[string]string{
			"old": hex.EncodeToString(old[:]),
			"new": hex.EncodeToString(updated[:]),
		},
	}
}

// NewAdminAddedEvent returns the event payload for an admin-set addition.
func NewAdminAddedEvent(p Address) *events.Record {
	return &events.Record{
		Type:       EventTypeAdminAdded,
		Attributes: map[string]string{"principal": hex.EncodeToString(p[:])},
	}
}

// NewAdminRemovedEvent returns the event payload for an admin-set removal.
func NewAdminRemovedEvent(p Address) *events.Record {
	return &events.Record{
		Type:       EventTypeAdminRemoved,
		Attributes: map[string]string{"principal": hex.EncodeToString(p[:])},
	}
}

func newPaymentEvent(eventType string, p *Payment) *events.Record {
	attrs := make(map[string]string)
	rec := &events.Record{Type: eventType, Attributes: attrs}
	if p == nil {
		return rec
	}
	attrs["id"] = strconv.FormatUint(p.ID, 10)
	rec.Timestamp = p.CreatedAt
	return rec
}
