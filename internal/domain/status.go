package domain

import (
	"errors"
	"fmt"
	"strings"
)

// OrderStatus enumerates the closed set of order lifecycle states.
type OrderStatus string

const (
	// OrderStatusPending awaits payment or operator confirmation.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusProcessing indicates the order is paid/confirmed and being prepared.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusShipped indicates the parcel has been handed to the carrier.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusDelivered indicates the buyer confirmed receipt.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancellationRequested overlays pending/processing while an
	// operator decides on a buyer cancellation request.
	OrderStatusCancellationRequested OrderStatus = "cancellation_requested"
	// OrderStatusRefundRequested overlays delivered while an operator
	// decides on a buyer refund request.
	OrderStatusRefundRequested OrderStatus = "refund_requested"
	// OrderStatusCancelled is terminal short of a restock.
	OrderStatusCancelled OrderStatus = "cancelled"
	// OrderStatusRefunded is terminal short of a restock.
	OrderStatusRefunded OrderStatus = "refunded"
)

// Actor distinguishes who is driving a status transition. The transition
// table is actor-scoped: buyers and operators have disjoint privileges.
type Actor string

const (
	ActorBuyer    Actor = "buyer"
	ActorOperator Actor = "operator"
)

// ErrInvalidTransition rejects any transition not present in the table.
var ErrInvalidTransition = errors.New("order: invalid status transition")

// TransitionError carries the offending pair for error payloads.
type TransitionError struct {
	From OrderStatus
	To   OrderStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("transition %s -> %s not allowed", e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// ParseOrderStatus validates a raw status string against the closed set.
func ParseOrderStatus(raw string) (OrderStatus, bool) {
	status := OrderStatus(strings.ToLower(strings.TrimSpace(raw)))
	switch status {
	case OrderStatusPending, OrderStatusProcessing, OrderStatusShipped,
		OrderStatusDelivered, OrderStatusCancellationRequested,
		OrderStatusRefundRequested, OrderStatusCancelled, OrderStatusRefunded:
		return status, true
	}
	return "", false
}

// IsOverlay reports whether the status interrupts normal progression and
// remembers the state it replaced.
func (s OrderStatus) IsOverlay() bool {
	return s == OrderStatusCancellationRequested || s == OrderStatusRefundRequested
}

var buyerTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:    {OrderStatusCancellationRequested},
	OrderStatusProcessing: {OrderStatusCancellationRequested},
	OrderStatusShipped:    {OrderStatusDelivered},
	OrderStatusDelivered:  {OrderStatusRefundRequested},
}

var operatorTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:               {OrderStatusProcessing, OrderStatusCancelled},
	OrderStatusProcessing:            {OrderStatusShipped, OrderStatusCancelled},
	OrderStatusDelivered:             {OrderStatusRefunded},
	OrderStatusCancellationRequested: {OrderStatusCancelled},
	OrderStatusRefundRequested:       {OrderStatusRefunded},
	OrderStatusCancelled:             {OrderStatusRefunded},
}

// CanTransition reports whether actor may move an order from one status to
// another. Overlay rejections are handled by Transition directly because the
// target is the remembered previous status, not a fixed table entry.
func CanTransition(actor Actor, from, to OrderStatus) bool {
	var table map[OrderStatus][]OrderStatus
	switch actor {
	case ActorBuyer:
		table = buyerTransitions
	case ActorOperator:
		table = operatorTransitions
	default:
		return false
	}
	for _, allowed := range table[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Transition is the single mutation path for Order.Status. It applies the
// actor-scoped table, maintains the overlay PreviousStatus bookkeeping, and
// leaves the order untouched on rejection.
func Transition(order *Order, actor Actor, to OrderStatus) error {
	if order == nil {
		return ErrInvalidTransition
	}
	from := order.Status

	if !CanTransition(actor, from, to) {
		return &TransitionError{From: from, To: to}
	}

	if to.IsOverlay() {
		prev := from
		order.PreviousStatus = &prev
	} else if from.IsOverlay() {
		order.PreviousStatus = nil
	}

	order.Status = to
	return nil
}

// Restore reverts an overlay status to the remembered previous status. It is
// used by operator rejections of cancellation/refund requests and fails when
// the order is not in an overlay state.
func Restore(order *Order) error {
	if order == nil || !order.Status.IsOverlay() || order.PreviousStatus == nil {
		from := OrderStatusPending
		if order != nil {
			from = order.Status
		}
		return &TransitionError{From: from, To: from}
	}
	order.Status = *order.PreviousStatus
	order.PreviousStatus = nil
	return nil
}

// Restockable reports whether the restock counter-flow may run for the
// order's current status.
func (s OrderStatus) Restockable() bool {
	return s == OrderStatusCancelled || s == OrderStatusRefunded
}
