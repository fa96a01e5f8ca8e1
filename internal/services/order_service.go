package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/clovermart/api/internal/domain"
	"github.com/clovermart/api/internal/repositories"
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located or is not
	// visible to the caller.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderConflict indicates a concurrent lifecycle write won the race.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrGuestTokenInvalid indicates a guest tracking token mismatch or expiry.
	ErrGuestTokenInvalid = errors.New("order: guest token invalid")
	// ErrAlreadyRestored indicates the order's stock was already returned.
	ErrAlreadyRestored = errors.New("order: stock already restored")
	// ErrOrderNotRestockable indicates the order status forbids restocking.
	ErrOrderNotRestockable = errors.New("order: not restockable")
)

// OrderEventPublisher publishes order domain events for downstream consumers.
// Publishing is best effort: failures are logged, never surfaced.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// OrderEvent captures metadata for emitted order domain events.
type OrderEvent struct {
	Type           string
	OrderID        string
	OrderNumber    string
	PreviousStatus string
	CurrentStatus  string
	ActorID        string
	OccurredAt     time.Time
}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders    repositories.OrderRepository
	Inventory repositories.InventoryRepository
	Events    OrderEventPublisher
	Clock     func() time.Time
	Logger    func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders    repositories.OrderRepository
	inventory repositories.InventoryRepository
	events    OrderEventPublisher
	clock     func() time.Time
	logger    func(context.Context, string, map[string]any)
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Inventory == nil {
		return nil, errors.New("order service: inventory repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &orderService{
		orders:    deps.Orders,
		inventory: deps.Inventory,
		events:    deps.Events,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// Get loads an order, scoped to the owning buyer when a buyer key is given.
func (s *orderService) Get(ctx context.Context, query GetOrderQuery) (Order, error) {
	order, err := s.loadOrder(ctx, query.OrderID)
	if err != nil {
		return Order{}, err
	}
	if key := strings.TrimSpace(query.BuyerKey); key != "" && order.Buyer.Key() != key {
		// Hide other buyers' orders entirely.
		return Order{}, fmt.Errorf("%w: order %s", ErrOrderNotFound, query.OrderID)
	}
	return order, nil
}

// List returns orders matching the query, newest first.
func (s *orderService) List(ctx context.Context, query ListOrdersQuery) (domain.CursorPage[Order], error) {
	filter := repositories.OrderListFilter{
		BuyerKey:   strings.TrimSpace(query.BuyerKey),
		Status:     query.Status,
		Pagination: query.Pagination,
	}
	filter.DateRange.From = query.From
	filter.DateRange.To = query.To

	page, err := s.orders.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[Order]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

// TrackGuestOrder loads a guest order when the tracking token matches and has
// not expired. Expired or wrong tokens read the same as a missing order.
func (s *orderService) TrackGuestOrder(ctx context.Context, query TrackGuestOrderQuery) (Order, error) {
	token := strings.TrimSpace(query.Token)
	if token == "" {
		return Order{}, fmt.Errorf("%w: token is required", ErrOrderInvalidInput)
	}
	order, err := s.loadOrder(ctx, query.OrderID)
	if err != nil {
		return Order{}, err
	}
	if order.GuestToken == nil || !order.GuestToken.Valid(token, s.clock()) {
		return Order{}, fmt.Errorf("%w: order %s", ErrGuestTokenInvalid, order.ID)
	}
	return order, nil
}

// ConfirmDelivery lets the buyer confirm receipt of a shipped order.
// Cash-on-delivery orders settle their payment at this moment.
func (s *orderService) ConfirmDelivery(ctx context.Context, cmd BuyerOrderCommand) (Order, error) {
	return s.transition(ctx, transitionRequest{
		orderID:   cmd.OrderID,
		buyerKey:  cmd.BuyerKey,
		actor:     domain.ActorBuyer,
		target:    domain.OrderStatusDelivered,
		eventType: "order.delivered",
		mutate: func(order *Order, now time.Time) error {
			order.IsDelivered = true
			deliveredAt := now
			order.DeliveredAt = &deliveredAt
			if !order.IsPaid && order.PaymentMethod == domain.PaymentMethodCashOnDelivery {
				order.IsPaid = true
				paidAt := now
				order.PaidAt = &paidAt
			}
			return nil
		},
	})
}

// RequestCancellation records a buyer cancellation request, overlaying the
// current status until an operator decides.
func (s *orderService) RequestCancellation(ctx context.Context, cmd StatusRequestCommand) (Order, error) {
	reason := strings.TrimSpace(cmd.Reason)
	if reason == "" {
		return Order{}, fmt.Errorf("%w: cancellation reason is required", ErrOrderInvalidInput)
	}
	return s.transition(ctx, transitionRequest{
		orderID:   cmd.OrderID,
		buyerKey:  cmd.BuyerKey,
		actor:     domain.ActorBuyer,
		target:    domain.OrderStatusCancellationRequested,
		eventType: "order.cancellation.requested",
		mutate: func(order *Order, now time.Time) error {
			order.CancellationRequest = &domain.StatusRequest{
				Reason:         reason,
				AttachmentURLs: cmd.AttachmentURLs,
				RequestedAt:    now,
			}
			return nil
		},
	})
}

// RequestRefund records a buyer refund request for a delivered order.
func (s *orderService) RequestRefund(ctx context.Context, cmd StatusRequestCommand) (Order, error) {
	reason := strings.TrimSpace(cmd.Reason)
	if reason == "" {
		return Order{}, fmt.Errorf("%w: refund reason is required", ErrOrderInvalidInput)
	}
	return s.transition(ctx, transitionRequest{
		orderID:   cmd.OrderID,
		buyerKey:  cmd.BuyerKey,
		actor:     domain.ActorBuyer,
		target:    domain.OrderStatusRefundRequested,
		eventType: "order.refund.requested",
		mutate: func(order *Order, now time.Time) error {
			order.RefundRequest = &domain.StatusRequest{
				Reason:         reason,
				AttachmentURLs: cmd.AttachmentURLs,
				RequestedAt:    now,
			}
			return nil
		},
	})
}

// AdvanceStatus moves an order along the operator transition table. Moving a
// pending bank-transfer order to processing marks the transfer as received;
// cash-on-delivery settles only when the buyer confirms delivery.
func (s *orderService) AdvanceStatus(ctx context.Context, cmd AdvanceStatusCommand) (Order, error) {
	if cmd.Target == "" {
		return Order{}, fmt.Errorf("%w: target status is required", ErrOrderInvalidInput)
	}
	return s.transition(ctx, transitionRequest{
		orderID:   cmd.OrderID,
		actor:     domain.ActorOperator,
		actorID:   cmd.ActorID,
		target:    cmd.Target,
		eventType: "order.status.changed",
		mutate: func(order *Order, now time.Time) error {
			switch cmd.Target {
			case domain.OrderStatusProcessing:
				if !order.IsPaid && order.PaymentMethod == domain.PaymentMethodBankTransfer {
					order.IsPaid = true
					paidAt := now
					order.PaidAt = &paidAt
				}
			case domain.OrderStatusRefunded:
				order.IsPaid = false
				order.PaidAt = nil
			}
			return nil
		},
	})
}

// ApproveCancellation grants a pending cancellation request.
func (s *orderService) ApproveCancellation(ctx context.Context, cmd OperatorOrderCommand) (Order, error) {
	return s.transition(ctx, transitionRequest{
		orderID:   cmd.OrderID,
		actor:     domain.ActorOperator,
		actorID:   cmd.ActorID,
		target:    domain.OrderStatusCancelled,
		require:   domain.OrderStatusCancellationRequested,
		eventType: "order.cancelled",
	})
}

// RejectCancellation denies a pending cancellation request, restoring the
// status the request interrupted. Nothing else on the order changes.
func (s *orderService) RejectCancellation(ctx context.Context, cmd OperatorOrderCommand) (Order, error) {
	return s.restore(ctx, cmd, domain.OrderStatusCancellationRequested, "order.cancellation.rejected")
}

// ApproveRefund grants a pending refund request and reverses the payment
// bookkeeping.
func (s *orderService) ApproveRefund(ctx context.Context, cmd OperatorOrderCommand) (Order, error) {
	return s.transition(ctx, transitionRequest{
		orderID:   cmd.OrderID,
		actor:     domain.ActorOperator,
		actorID:   cmd.ActorID,
		target:    domain.OrderStatusRefunded,
		require:   domain.OrderStatusRefundRequested,
		eventType: "order.refunded",
		mutate: func(order *Order, now time.Time) error {
			order.IsPaid = false
			order.PaidAt = nil
			return nil
		},
	})
}

// RejectRefund denies a pending refund request, restoring the previous status.
func (s *orderService) RejectRefund(ctx context.Context, cmd OperatorOrderCommand) (Order, error) {
	return s.restore(ctx, cmd, domain.OrderStatusRefundRequested, "order.refund.rejected")
}

// Restock returns a cancelled or refunded order's units to inventory. The
// repository flips the restored flag in the same transaction as the counter
// increments, so restocking is a one-shot operation.
func (s *orderService) Restock(ctx context.Context, cmd OperatorOrderCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	result, err := s.inventory.RestockOrder(ctx, repositories.RestockOrderRequest{
		OrderID: orderID,
		Now:     s.clock(),
	})
	if err != nil {
		var stockErr *repositories.StockError
		if errors.As(err, &stockErr) {
			switch stockErr.Code {
			case repositories.StockErrorAlreadyRestored:
				return Order{}, fmt.Errorf("%w: order %s", ErrAlreadyRestored, orderID)
			case repositories.StockErrorNotRestockable:
				return Order{}, fmt.Errorf("%w: order %s", ErrOrderNotRestockable, orderID)
			}
		}
		return Order{}, s.mapRepositoryError(err)
	}

	s.publishEvent(ctx, OrderEvent{
		Type:          "order.restocked",
		OrderID:       result.Order.ID,
		OrderNumber:   result.Order.OrderNumber,
		CurrentStatus: string(result.Order.Status),
		ActorID:       strings.TrimSpace(cmd.ActorID),
		OccurredAt:    s.clock(),
	})
	return result.Order, nil
}

// Internals -------------------------------------------------------------------

type transitionRequest struct {
	orderID   string
	buyerKey  string
	actor     Actor
	actorID   string
	target    OrderStatus
	require   OrderStatus
	eventType string
	mutate    func(order *Order, now time.Time) error
}

func (s *orderService) transition(ctx context.Context, req transitionRequest) (Order, error) {
	order, err := s.loadOrder(ctx, req.orderID)
	if err != nil {
		return Order{}, err
	}
	if key := strings.TrimSpace(req.buyerKey); key != "" && order.Buyer.Key() != key {
		return Order{}, fmt.Errorf("%w: order %s", ErrOrderNotFound, req.orderID)
	}
	if req.require != "" && order.Status != req.require {
		return Order{}, &domain.TransitionError{From: order.Status, To: req.target}
	}

	from := order.Status
	now := s.clock()

	if err := domain.Transition(&order, req.actor, req.target); err != nil {
		return Order{}, err
	}
	if req.mutate != nil {
		if err := req.mutate(&order, now); err != nil {
			return Order{}, err
		}
	}
	order.UpdatedAt = now

	if err := s.orders.Update(ctx, order, from); err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	s.publishEvent(ctx, OrderEvent{
		Type:           req.eventType,
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		PreviousStatus: string(from),
		CurrentStatus:  string(order.Status),
		ActorID:        strings.TrimSpace(req.actorID),
		OccurredAt:     now,
	})
	return order, nil
}

func (s *orderService) restore(ctx context.Context, cmd OperatorOrderCommand, require OrderStatus, eventType string) (Order, error) {
	order, err := s.loadOrder(ctx, cmd.OrderID)
	if err != nil {
		return Order{}, err
	}
	if order.Status != require {
		return Order{}, &domain.TransitionError{From: order.Status, To: require}
	}

	from := order.Status
	now := s.clock()

	if err := domain.Restore(&order); err != nil {
		return Order{}, err
	}
	order.UpdatedAt = now

	if err := s.orders.Update(ctx, order, from); err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	s.publishEvent(ctx, OrderEvent{
		Type:           eventType,
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		PreviousStatus: string(from),
		CurrentStatus:  string(order.Status),
		ActorID:        strings.TrimSpace(cmd.ActorID),
		OccurredAt:     now,
	})
	return order, nil
}

func (s *orderService) loadOrder(ctx context.Context, orderID string) (Order, error) {
	id := strings.TrimSpace(orderID)
	if id == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, id)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	return order, nil
}

func (s *orderService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("order: repository unavailable: %w", err)
		}
	}
	return err
}

func (s *orderService) publishEvent(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish.failed", map[string]any{
			"type":   event.Type,
			"order":  event.OrderID,
			"error":  err.Error(),
			"status": event.CurrentStatus,
		})
	}
}
