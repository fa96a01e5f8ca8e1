package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	domain "github.com/clovermart/api/internal/domain"
	"github.com/clovermart/api/internal/repositories"
)

// Registry is an in-memory repositories.Registry used by tests and local
// development. A single mutex stands in for Firestore transactions: every
// multi-document operation validates all of its reads before applying any
// write, so failures leave no partial state behind.
type Registry struct {
	mu       sync.Mutex
	carts    map[string]domain.Cart
	stocks   map[string]domain.InventoryStock
	orders   map[string]domain.Order
	coupons  map[string]domain.Coupon
	usage    map[string]int
	counters map[string]int64
}

// NewRegistry constructs an empty in-memory registry.
func NewRegistry() *Registry {
	return &Registry{
		carts:    make(map[string]domain.Cart),
		stocks:   make(map[string]domain.InventoryStock),
		orders:   make(map[string]domain.Order),
		coupons:  make(map[string]domain.Coupon),
		usage:    make(map[string]int),
		counters: make(map[string]int64),
	}
}

// Close is a no-op for the in-memory registry.
func (r *Registry) Close(ctx context.Context) error { return nil }

func (r *Registry) Carts() repositories.CartRepository { return r }

func (r *Registry) Inventory() repositories.InventoryRepository { return r }

func (r *Registry) Orders() repositories.OrderRepository { return r }

func (r *Registry) Coupons() repositories.CouponRepository { return r }

func (r *Registry) Counters() repositories.CounterRepository { return r }

func (r *Registry) Checkout() repositories.CheckoutRepository { return r }

var _ repositories.Registry = (*Registry)(nil)

// Seed helpers ---------------------------------------------------------------

// SeedCart stores a cart keyed by its buyer.
func (r *Registry) SeedCart(cart domain.Cart) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.carts[cart.Buyer.Key()] = cloneCart(cart)
}

// SeedStock stores a stock counter keyed by its StockKey.
func (r *Registry) SeedStock(stock domain.InventoryStock) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stocks[stock.Key().String()] = stock
}

// SeedCoupon stores a coupon keyed by its normalised code.
func (r *Registry) SeedCoupon(coupon domain.Coupon) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.coupons[normaliseCode(coupon.Code)] = coupon
}

// SeedOrder stores an order keyed by its id.
func (r *Registry) SeedOrder(order domain.Order) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orders[order.ID] = cloneOrder(order)
}

// CouponUsage reports the redemption count recorded for a buyer.
func (r *Registry) CouponUsage(code, buyerKey string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.usage[usageKey(code, buyerKey)]
}

// CartRepository --------------------------------------------------------------

// GetCart loads the cart for the given buyer key.
func (r *Registry) GetCart(ctx context.Context, buyerKey string) (domain.Cart, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cart, ok := r.carts[strings.TrimSpace(buyerKey)]
	if !ok {
		return domain.Cart{}, &notFoundError{resource: "cart", id: buyerKey}
	}
	return cloneCart(cart), nil
}

// InventoryRepository ---------------------------------------------------------

// GetStock loads the counter for one stock key.
func (r *Registry) GetStock(ctx context.Context, key domain.StockKey) (domain.InventoryStock, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.getStockLocked(key)
}

func (r *Registry) getStockLocked(key domain.StockKey) (domain.InventoryStock, error) {
	stock, ok := r.stocks[key.String()]
	if !ok {
		return domain.InventoryStock{}, repositories.NewStockError(repositories.StockErrorNotFound,
			fmt.Sprintf("stock %s not found", key.String()), nil)
	}
	return stock, nil
}

// GetStocks loads the counters for a batch of keys, skipping missing ones.
func (r *Registry) GetStocks(ctx context.Context, keys []domain.StockKey) (map[domain.StockKey]domain.InventoryStock, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stocks := make(map[domain.StockKey]domain.InventoryStock, len(keys))
	for _, key := range keys {
		if stock, ok := r.stocks[key.String()]; ok {
			stocks[key] = stock
		}
	}
	return stocks, nil
}

// AdjustBy applies a relative delta to the on-hand counter.
func (r *Registry) AdjustBy(ctx context.Context, key domain.StockKey, delta int, now time.Time) (domain.InventoryStock, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stock, err := r.getStockLocked(key)
	if err != nil {
		return domain.InventoryStock{}, err
	}
	next := stock.OnHand + delta
	if next < 0 {
		return domain.InventoryStock{}, repositories.NewStockError(repositories.StockErrorNegative,
			fmt.Sprintf("stock %s: adjusting %d by %d would go negative", key.String(), stock.OnHand, delta), nil)
	}
	stock.OnHand = next
	stock.UpdatedAt = now.UTC()
	r.stocks[key.String()] = stock
	return stock, nil
}

// SetTo replaces the on-hand counter with an absolute value.
func (r *Registry) SetTo(ctx context.Context, key domain.StockKey, value int, now time.Time) (domain.InventoryStock, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stock, err := r.getStockLocked(key)
	if err != nil {
		return domain.InventoryStock{}, err
	}
	if value < 0 {
		return domain.InventoryStock{}, repositories.NewStockError(repositories.StockErrorNegative,
			fmt.Sprintf("stock %s: on-hand value must be >= 0, got %d", key.String(), value), nil)
	}
	stock.OnHand = value
	stock.UpdatedAt = now.UTC()
	r.stocks[key.String()] = stock
	return stock, nil
}

// RestockOrder returns a cancelled or refunded order's units to stock,
// flipping the restored flag in the same critical section.
func (r *Registry) RestockOrder(ctx context.Context, req repositories.RestockOrderRequest) (repositories.RestockOrderResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	order, ok := r.orders[strings.TrimSpace(req.OrderID)]
	if !ok {
		return repositories.RestockOrderResult{}, repositories.NewOrderError(repositories.OrderErrorNotFound,
			fmt.Sprintf("order %s not found", req.OrderID), nil)
	}
	if order.StockRestored {
		return repositories.RestockOrderResult{}, repositories.NewStockError(repositories.StockErrorAlreadyRestored,
			fmt.Sprintf("order %s stock already restored", order.ID), nil)
	}
	if !order.Status.Restockable() {
		return repositories.RestockOrderResult{}, repositories.NewStockError(repositories.StockErrorNotRestockable,
			fmt.Sprintf("order %s status %s cannot be restocked", order.ID, order.Status), nil)
	}

	now := req.Now.UTC()

	// Validate every counter before touching any of them.
	staged := make(map[string]domain.InventoryStock, len(order.Lines))
	for _, line := range order.Lines {
		key := line.StockKey()
		stock, ok := staged[key.String()]
		if !ok {
			stock, ok = r.stocks[key.String()]
			if !ok {
				return repositories.RestockOrderResult{}, repositories.NewStockError(repositories.StockErrorNotFound,
					fmt.Sprintf("stock %s not found", key.String()), nil)
			}
		}
		stock.OnHand += line.Quantity
		stock.UnitsSold -= line.Quantity
		if stock.UnitsSold < 0 {
			stock.UnitsSold = 0
		}
		stock.UpdatedAt = now
		staged[key.String()] = stock
	}

	stocks := make(map[domain.StockKey]domain.InventoryStock, len(staged))
	for id, stock := range staged {
		r.stocks[id] = stock
		stocks[stock.Key()] = stock
	}

	order.StockRestored = true
	order.UpdatedAt = now
	r.orders[order.ID] = cloneOrder(order)

	return repositories.RestockOrderResult{Order: cloneOrder(order), Stocks: stocks}, nil
}

// OrderRepository -------------------------------------------------------------

// Insert creates the order, failing on duplicate ids.
func (r *Registry) Insert(ctx context.Context, order domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.orders[order.ID]; exists {
		return repositories.NewOrderError(repositories.OrderErrorDuplicate,
			fmt.Sprintf("order %s already exists", order.ID), nil)
	}
	r.orders[order.ID] = cloneOrder(order)
	return nil
}

// Update rewrites the order, verifying the stored status still matches.
func (r *Registry) Update(ctx context.Context, order domain.Order, expectedStatus domain.OrderStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.orders[order.ID]
	if !ok {
		return repositories.NewOrderError(repositories.OrderErrorNotFound,
			fmt.Sprintf("order %s not found", order.ID), nil)
	}
	if stored.Status != expectedStatus {
		return repositories.NewOrderError(repositories.OrderErrorStatusConflict,
			fmt.Sprintf("order %s status is %s, expected %s", order.ID, stored.Status, expectedStatus), nil)
	}
	r.orders[order.ID] = cloneOrder(order)
	return nil
}

// FindByID loads a single order.
func (r *Registry) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	order, ok := r.orders[strings.TrimSpace(orderID)]
	if !ok {
		return domain.Order{}, repositories.NewOrderError(repositories.OrderErrorNotFound,
			fmt.Sprintf("order %s not found", orderID), nil)
	}
	return cloneOrder(order), nil
}

// List returns matching orders, newest first.
func (r *Registry) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var orders []domain.Order
	for _, order := range r.orders {
		if key := strings.TrimSpace(filter.BuyerKey); key != "" && order.Buyer.Key() != key {
			continue
		}
		if len(filter.Status) > 0 && !containsStatus(filter.Status, order.Status) {
			continue
		}
		if filter.DateRange.From != nil && order.CreatedAt.Before(*filter.DateRange.From) {
			continue
		}
		if filter.DateRange.To != nil && order.CreatedAt.After(*filter.DateRange.To) {
			continue
		}
		orders = append(orders, cloneOrder(order))
	}

	sort.Slice(orders, func(i, j int) bool {
		if orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].ID > orders[j].ID
		}
		return orders[i].CreatedAt.After(orders[j].CreatedAt)
	})

	pageSize := filter.Pagination.PageSize
	if pageSize > 0 && len(orders) > pageSize {
		orders = orders[:pageSize]
	}
	return domain.CursorPage[domain.Order]{Items: orders}, nil
}

// CouponRepository ------------------------------------------------------------

// FindByCode loads a coupon by its normalised code.
func (r *Registry) FindByCode(ctx context.Context, code string) (domain.Coupon, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	coupon, ok := r.coupons[normaliseCode(code)]
	if !ok {
		return domain.Coupon{}, &notFoundError{resource: "coupon", id: code}
	}
	return coupon, nil
}

// CountUsageByUser returns the buyer's redemption count for the coupon.
func (r *Registry) CountUsageByUser(ctx context.Context, code string, buyerKey string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.usage[usageKey(code, buyerKey)], nil
}

// CounterRepository -----------------------------------------------------------

// Next increments the named counter and returns the new value.
func (r *Registry) Next(ctx context.Context, counterID string, step int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if step <= 0 {
		step = 1
	}
	r.counters[counterID] += step
	return r.counters[counterID], nil
}

// CheckoutRepository ----------------------------------------------------------

// Commit executes the checkout commit atomically under the registry mutex:
// all validations run before the first write, so a failed commit leaves the
// cart, stocks, coupon, and order maps untouched.
func (r *Registry) Commit(ctx context.Context, req repositories.CheckoutCommitRequest) (repositories.CheckoutCommitResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.orders[req.Order.ID]; exists {
		return repositories.CheckoutCommitResult{}, repositories.NewCheckoutError(repositories.CheckoutErrorDuplicateOrder,
			fmt.Sprintf("order %s already exists", req.Order.ID), nil)
	}

	buyerKey := strings.TrimSpace(req.BuyerKey)
	cart, ok := r.carts[buyerKey]
	if !ok {
		return repositories.CheckoutCommitResult{}, repositories.NewCheckoutError(repositories.CheckoutErrorCartChanged,
			fmt.Sprintf("cart for %s no longer exists", buyerKey), nil)
	}

	now := req.Now.UTC()

	// Stage stock decrements without writing.
	staged := make(map[string]domain.InventoryStock, len(req.Order.Lines))
	for _, line := range req.Order.Lines {
		key := line.StockKey()
		stock, ok := staged[key.String()]
		if !ok {
			stock, ok = r.stocks[key.String()]
			if !ok {
				return repositories.CheckoutCommitResult{}, repositories.NewStockError(repositories.StockErrorNotFound,
					fmt.Sprintf("stock %s not found", key.String()), nil)
			}
		}
		if stock.OnHand < line.Quantity {
			return repositories.CheckoutCommitResult{}, &repositories.StockError{
				Code:      repositories.StockErrorInsufficient,
				Message:   fmt.Sprintf("insufficient stock for %s", key.String()),
				SKU:       stock.SKU,
				Available: stock.OnHand,
				Requested: line.Quantity,
			}
		}
		stock.OnHand -= line.Quantity
		stock.UnitsSold += line.Quantity
		stock.UpdatedAt = now
		staged[key.String()] = stock
	}

	// Validate the coupon ledger.
	var coupon domain.Coupon
	code := normaliseCode(req.CouponCode)
	if code != "" {
		coupon, ok = r.coupons[code]
		if !ok {
			return repositories.CheckoutCommitResult{}, repositories.NewCheckoutError(repositories.CheckoutErrorCouponExhausted,
				fmt.Sprintf("coupon %s no longer exists", code), nil)
		}
		if coupon.UsageLimit > 0 && coupon.UsageCount >= coupon.UsageLimit {
			return repositories.CheckoutCommitResult{}, repositories.NewCheckoutError(repositories.CheckoutErrorCouponExhausted,
				fmt.Sprintf("coupon %s usage limit reached", code), nil)
		}
		if coupon.PerUserLimit > 0 && r.usage[usageKey(code, buyerKey)] >= coupon.PerUserLimit {
			return repositories.CheckoutCommitResult{}, repositories.NewCheckoutError(repositories.CheckoutErrorCouponExhausted,
				fmt.Sprintf("coupon %s per-user limit reached", code), nil)
		}
	}

	// All checks passed; apply every write.
	order := cloneOrder(req.Order)
	order.CreatedAt = now
	order.UpdatedAt = now
	r.orders[order.ID] = cloneOrder(order)

	stocks := make(map[domain.StockKey]domain.InventoryStock, len(staged))
	for id, stock := range staged {
		r.stocks[id] = stock
		stocks[stock.Key()] = stock
	}

	if code != "" {
		coupon.UsageCount++
		r.coupons[code] = coupon
		r.usage[usageKey(code, buyerKey)]++
	}

	consumed := make(map[string]struct{}, len(req.LineIDs))
	for _, id := range req.LineIDs {
		consumed[id] = struct{}{}
	}
	remaining := cart.Lines[:0:0]
	for _, line := range cart.Lines {
		if _, ok := consumed[line.ID]; !ok {
			remaining = append(remaining, line)
		}
	}
	cart.Lines = remaining
	if len(remaining) == 0 {
		cart.CouponCode = ""
	}
	cart.UpdatedAt = now
	r.carts[buyerKey] = cart

	return repositories.CheckoutCommitResult{Order: order, Stocks: stocks}, nil
}

// Helpers ---------------------------------------------------------------------

type notFoundError struct {
	resource string
	id       string
}

func (e *notFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.resource, e.id)
}

func (e *notFoundError) IsNotFound() bool { return true }

func (e *notFoundError) IsConflict() bool { return false }

func (e *notFoundError) IsUnavailable() bool { return false }

func normaliseCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func usageKey(code, buyerKey string) string {
	return normaliseCode(code) + "__" + strings.TrimSpace(buyerKey)
}

func containsStatus(statuses []domain.OrderStatus, status domain.OrderStatus) bool {
	for _, s := range statuses {
		if s == status {
			return true
		}
	}
	return false
}

func cloneCart(cart domain.Cart) domain.Cart {
	cloned := cart
	cloned.Lines = append([]domain.CartLine(nil), cart.Lines...)
	return cloned
}

func cloneOrder(order domain.Order) domain.Order {
	cloned := order
	cloned.Lines = make([]domain.OrderLine, len(order.Lines))
	for i, line := range order.Lines {
		cloned.Lines[i] = line
		if line.Variant != nil {
			variant := *line.Variant
			variant.Options = append([]domain.VariantOption(nil), line.Variant.Options...)
			cloned.Lines[i].Variant = &variant
		}
	}
	if order.PreviousStatus != nil {
		prev := *order.PreviousStatus
		cloned.PreviousStatus = &prev
	}
	if order.CancellationRequest != nil {
		req := *order.CancellationRequest
		req.AttachmentURLs = append([]string(nil), order.CancellationRequest.AttachmentURLs...)
		cloned.CancellationRequest = &req
	}
	if order.RefundRequest != nil {
		req := *order.RefundRequest
		req.AttachmentURLs = append([]string(nil), order.RefundRequest.AttachmentURLs...)
		cloned.RefundRequest = &req
	}
	if order.PaidAt != nil {
		paidAt := *order.PaidAt
		cloned.PaidAt = &paidAt
	}
	if order.DeliveredAt != nil {
		deliveredAt := *order.DeliveredAt
		cloned.DeliveredAt = &deliveredAt
	}
	if order.GuestToken != nil {
		token := *order.GuestToken
		cloned.GuestToken = &token
	}
	return cloned
}
