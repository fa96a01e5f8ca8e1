package services

import (
	"context"
	"time"

	domain "github.com/clovermart/api/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination     = domain.Pagination
	BuyerRef       = domain.BuyerRef
	Cart           = domain.Cart
	CartLine       = domain.CartLine
	ResolvedLine   = domain.ResolvedLine
	Coupon         = domain.Coupon
	Order          = domain.Order
	OrderLine      = domain.OrderLine
	OrderStatus    = domain.OrderStatus
	Actor          = domain.Actor
	StatusRequest  = domain.StatusRequest
	Address        = domain.Address
	PaymentMethod  = domain.PaymentMethod
	InventoryStock = domain.InventoryStock
	StockKey       = domain.StockKey
	GuestToken     = domain.GuestToken
)

// CheckoutService turns a selected subset of cart lines into a committed
// order. Resolution, validation, and pricing run outside the commit
// transaction; the transaction itself revalidates stock before selling.
type CheckoutService interface {
	PlaceOrder(ctx context.Context, cmd PlaceOrderCommand) (PlaceOrderResult, error)
}

// OrderService drives the order lifecycle: buyer reads, the status state
// machine, and the restock counter-flow for cancelled or refunded orders.
type OrderService interface {
	Get(ctx context.Context, query GetOrderQuery) (Order, error)
	List(ctx context.Context, query ListOrdersQuery) (domain.CursorPage[Order], error)
	TrackGuestOrder(ctx context.Context, query TrackGuestOrderQuery) (Order, error)

	ConfirmDelivery(ctx context.Context, cmd BuyerOrderCommand) (Order, error)
	RequestCancellation(ctx context.Context, cmd StatusRequestCommand) (Order, error)
	RequestRefund(ctx context.Context, cmd StatusRequestCommand) (Order, error)

	AdvanceStatus(ctx context.Context, cmd AdvanceStatusCommand) (Order, error)
	ApproveCancellation(ctx context.Context, cmd OperatorOrderCommand) (Order, error)
	RejectCancellation(ctx context.Context, cmd OperatorOrderCommand) (Order, error)
	ApproveRefund(ctx context.Context, cmd OperatorOrderCommand) (Order, error)
	RejectRefund(ctx context.Context, cmd OperatorOrderCommand) (Order, error)

	Restock(ctx context.Context, cmd OperatorOrderCommand) (Order, error)
}

// InventoryService exposes operator stock management on top of the
// inventory repository.
type InventoryService interface {
	GetStock(ctx context.Context, query StockQuery) (InventoryStock, error)
	AdjustStock(ctx context.Context, cmd AdjustStockCommand) (InventoryStock, error)
	SetStock(ctx context.Context, cmd SetStockCommand) (InventoryStock, error)
}

// Command and DTO definitions ------------------------------------------------

type PlaceOrderCommand struct {
	Buyer           BuyerRef
	LineIDs         []string
	PaymentMethod   string
	ShippingAddress Address
}

type PlaceOrderResult struct {
	Order Order
	// GuestTrackingToken is only set for guest checkouts; it is the single
	// handout of the tracking secret.
	GuestTrackingToken string
}

type GetOrderQuery struct {
	OrderID string
	// BuyerKey scopes the read to the owning buyer; empty means an
	// operator read without ownership checks.
	BuyerKey string
}

type ListOrdersQuery struct {
	BuyerKey   string
	Status     []OrderStatus
	From       *time.Time
	To         *time.Time
	Pagination Pagination
}

type TrackGuestOrderQuery struct {
	OrderID string
	Token   string
}

type BuyerOrderCommand struct {
	OrderID  string
	BuyerKey string
}

type StatusRequestCommand struct {
	OrderID        string
	BuyerKey       string
	Reason         string
	AttachmentURLs []string
}

type AdvanceStatusCommand struct {
	OrderID string
	Target  OrderStatus
	ActorID string
}

type OperatorOrderCommand struct {
	OrderID string
	ActorID string
}

type StockQuery struct {
	ProductID string
	VariantID string
}

type AdjustStockCommand struct {
	ProductID string
	VariantID string
	Delta     int
	ActorID   string
}

type SetStockCommand struct {
	ProductID string
	VariantID string
	Value     int
	ActorID   string
}
