package domain

import (
	"errors"
	"testing"
)

func allStatuses() []OrderStatus {
	return []OrderStatus{
		OrderStatusPending,
		OrderStatusProcessing,
		OrderStatusShipped,
		OrderStatusDelivered,
		OrderStatusCancellationRequested,
		OrderStatusRefundRequested,
		OrderStatusCancelled,
		OrderStatusRefunded,
	}
}

func TestTransitionTable(t *testing.T) {
	allowed := map[Actor]map[OrderStatus][]OrderStatus{
		ActorBuyer: {
			OrderStatusPending:    {OrderStatusCancellationRequested},
			OrderStatusProcessing: {OrderStatusCancellationRequested},
			OrderStatusShipped:    {OrderStatusDelivered},
			OrderStatusDelivered:  {OrderStatusRefundRequested},
		},
		ActorOperator: {
			OrderStatusPending:               {OrderStatusProcessing, OrderStatusCancelled},
			OrderStatusProcessing:            {OrderStatusShipped, OrderStatusCancelled},
			OrderStatusDelivered:             {OrderStatusRefunded},
			OrderStatusCancellationRequested: {OrderStatusCancelled},
			OrderStatusRefundRequested:       {OrderStatusRefunded},
			OrderStatusCancelled:             {OrderStatusRefunded},
		},
	}

	for _, actor := range []Actor{ActorBuyer, ActorOperator} {
		for _, from := range allStatuses() {
			for _, to := range allStatuses() {
				want := false
				for _, target := range allowed[actor][from] {
					if target == to {
						want = true
					}
				}
				if got := CanTransition(actor, from, to); got != want {
					t.Errorf("CanTransition(%s, %s, %s) = %v, want %v", actor, from, to, got, want)
				}
			}
		}
	}
}

func TestTransitionRejectsAndMutatesNothing(t *testing.T) {
	order := &Order{Status: OrderStatusShipped}

	err := Transition(order, ActorOperator, OrderStatusProcessing)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}

	var transitionErr *TransitionError
	if !errors.As(err, &transitionErr) {
		t.Fatalf("expected TransitionError, got %T", err)
	}
	if transitionErr.From != OrderStatusShipped || transitionErr.To != OrderStatusProcessing {
		t.Fatalf("unexpected pair: %+v", transitionErr)
	}

	if order.Status != OrderStatusShipped || order.PreviousStatus != nil {
		t.Fatalf("order mutated on rejected transition: %+v", order)
	}
}

func TestOverlayRemembersPreviousStatus(t *testing.T) {
	order := &Order{Status: OrderStatusProcessing}

	if err := Transition(order, ActorBuyer, OrderStatusCancellationRequested); err != nil {
		t.Fatalf("request cancellation: %v", err)
	}
	if order.Status != OrderStatusCancellationRequested {
		t.Fatalf("status = %s", order.Status)
	}
	if order.PreviousStatus == nil || *order.PreviousStatus != OrderStatusProcessing {
		t.Fatalf("previous status not captured: %+v", order.PreviousStatus)
	}

	if err := Restore(order); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if order.Status != OrderStatusProcessing || order.PreviousStatus != nil {
		t.Fatalf("restore did not revert cleanly: %+v", order)
	}
}

func TestOverlayApprovalClearsPreviousStatus(t *testing.T) {
	order := &Order{Status: OrderStatusPending}
	if err := Transition(order, ActorBuyer, OrderStatusCancellationRequested); err != nil {
		t.Fatalf("request cancellation: %v", err)
	}
	if err := Transition(order, ActorOperator, OrderStatusCancelled); err != nil {
		t.Fatalf("approve cancellation: %v", err)
	}
	if order.Status != OrderStatusCancelled {
		t.Fatalf("status = %s", order.Status)
	}
	if order.PreviousStatus != nil {
		t.Fatalf("previous status should be cleared after leaving overlay")
	}
}

func TestRestoreRequiresOverlay(t *testing.T) {
	order := &Order{Status: OrderStatusShipped}
	if err := Restore(order); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if order.Status != OrderStatusShipped {
		t.Fatalf("restore mutated a non-overlay order")
	}
}

func TestParseOrderStatus(t *testing.T) {
	if status, ok := ParseOrderStatus(" Processing "); !ok || status != OrderStatusProcessing {
		t.Fatalf("ParseOrderStatus = %q, %v", status, ok)
	}
	if _, ok := ParseOrderStatus("in_production"); ok {
		t.Fatalf("unknown status accepted")
	}
}

func TestRestockable(t *testing.T) {
	for _, status := range allStatuses() {
		want := status == OrderStatusCancelled || status == OrderStatusRefunded
		if got := status.Restockable(); got != want {
			t.Errorf("%s.Restockable() = %v, want %v", status, got, want)
		}
	}
}
