package repositories

import (
	"context"
	"time"

	domain "github.com/clovermart/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Carts() CartRepository
	Inventory() InventoryRepository
	Orders() OrderRepository
	Coupons() CouponRepository
	Counters() CounterRepository
	Checkout() CheckoutRepository
}

// CartRepository reads buyer baskets. Mutation of lines belongs to the cart
// endpoints; checkout only consumes lines via the commit transaction.
type CartRepository interface {
	GetCart(ctx context.Context, buyerKey string) (domain.Cart, error)
}

// InventoryRepository owns authoritative stock counters keyed by
// (productID, variantID) and the restock counter-flow. Stock mutation comes
// in exactly two typed shapes so the non-negativity invariant lives in one
// place: a relative AdjustBy and an absolute SetTo.
type InventoryRepository interface {
	GetStock(ctx context.Context, key domain.StockKey) (domain.InventoryStock, error)
	GetStocks(ctx context.Context, keys []domain.StockKey) (map[domain.StockKey]domain.InventoryStock, error)
	AdjustBy(ctx context.Context, key domain.StockKey, delta int, now time.Time) (domain.InventoryStock, error)
	SetTo(ctx context.Context, key domain.StockKey, value int, now time.Time) (domain.InventoryStock, error)
	RestockOrder(ctx context.Context, req RestockOrderRequest) (RestockOrderResult, error)
}

// RestockOrderRequest identifies the cancelled/refunded order to restock.
type RestockOrderRequest struct {
	OrderID string
	Now     time.Time
}

// RestockOrderResult reports the flagged order and the refreshed counters.
type RestockOrderResult struct {
	Order  domain.Order
	Stocks map[domain.StockKey]domain.InventoryStock
}

// OrderRepository persists order documents. Insert fails on duplicate ids;
// Update verifies the stored status still matches expectedStatus inside a
// transaction so racing lifecycle writes surface as conflicts instead of
// silently double-applying.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	Update(ctx context.Context, order domain.Order, expectedStatus domain.OrderStatus) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
}

// OrderListFilter narrows order listings for buyer- and operator-facing reads.
type OrderListFilter struct {
	BuyerKey   string
	Status     []domain.OrderStatus
	DateRange  domain.RangeQuery[time.Time]
	Pagination domain.Pagination
}

// CouponRepository reads coupon terms and per-user redemption counts. The
// global usage counter is incremented only inside the checkout transaction.
type CouponRepository interface {
	FindByCode(ctx context.Context, code string) (domain.Coupon, error)
	CountUsageByUser(ctx context.Context, code string, buyerKey string) (int, error)
}

// CounterRepository provides transaction-safe sequence numbers.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
}

// CheckoutRepository executes the atomic checkout commit: persist the order,
// decrement every touched stock counter (and bump units-sold), increment the
// coupon ledger, and prune the consumed cart lines. All steps share one
// transaction; any failure rolls back all of them.
type CheckoutRepository interface {
	Commit(ctx context.Context, req CheckoutCommitRequest) (CheckoutCommitResult, error)
}

// CheckoutCommitRequest carries the assembled order and the cart bookkeeping
// for the commit transaction.
type CheckoutCommitRequest struct {
	Order      domain.Order
	BuyerKey   string
	LineIDs    []string
	CouponCode string
	Now        time.Time
}

// CheckoutCommitResult reports the persisted order and the stock counters
// as observed after the decrement.
type CheckoutCommitResult struct {
	Order  domain.Order
	Stocks map[domain.StockKey]domain.InventoryStock
}
