package escrow

import (
	"encoding/hex"
	"strconv"

	"bountyvault/core/events"
)

const (
	EventTypeEscrowLocked   = "escrow.locked"
	EventTypeEscrowReleased = "escrow.released"
	EventTypeEscrowRefunded = "escrow.refunded"
)

// NewLockedEvent returns the canonical event payload for a newly locked
// bounty escrow.
func NewLockedEvent(e *Escrow) *events.Event {
	return newEscrowEvent(EventTypeEscrowLocked, e, nil)
}

// NewReleasedEvent returns the canonical event payload for a release of
// escrowed funds to a recipient.
func NewReleasedEvent(e *Escrow, recipient [20]byte) *events.Event {
	evt := newEscrowEvent(EventTypeEscrowReleased, e, nil)
	evt.Attributes["recipient"] = hex.EncodeToString(recipient[:])
	return evt
}

// NewRefundedEvent returns the canonical event payload for a deadline-driven
// refund back to the depositor.
func NewRefundedEvent(e *Escrow, refundedAt int64) *events.Event {
	return newEscrowEvent(EventTypeEscrowRefunded, e, map[string]string{
		"refundedAt": strconv.FormatInt(refundedAt, 10),
	})
}

func newEscrowEvent(eventType string, e *Escrow, extra map[string]string) *events.Event {
	attrs := make(map[string]string)
	if e != nil {
		attrs["bountyId"] = strconv.FormatUint(e.BountyID, 10)
		attrs["depositor"] = hex.EncodeToString(e.Depositor[:])
		if e.Amount != nil {
			attrs["amount"] = e.Amount.String()
		}
		attrs["deadline"] = strconv.FormatInt(e.Deadline, 10)
		attrs["createdAt"] = strconv.FormatInt(e.CreatedAt, 10)
		attrs["status"] = e.Status.String()
	}
	for k, v := range extra {
		attrs[k] = v
	}
	return &events.Event{Type: eventType, Attributes: attrs}
}
