package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/clovermart/api/internal/domain"
	"github.com/clovermart/api/internal/repositories"
	"github.com/clovermart/api/internal/repositories/memory"
)

type capturedEvents struct {
	mu     sync.Mutex
	events []OrderEvent
	fail   error
}

func (c *capturedEvents) PublishOrderEvent(ctx context.Context, event OrderEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail != nil {
		return c.fail
	}
	c.events = append(c.events, event)
	return nil
}

func (c *capturedEvents) list() []OrderEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]OrderEvent(nil), c.events...)
}

func checkoutFixture(t *testing.T) (*memory.Registry, *capturedEvents, CheckoutService) {
	t.Helper()
	reg := memory.NewRegistry()
	events := &capturedEvents{}
	svc, err := NewCheckoutService(CheckoutServiceDeps{
		Carts:     reg.Carts(),
		Inventory: reg.Inventory(),
		Coupons:   reg.Coupons(),
		Counters:  reg.Counters(),
		Checkout:  reg.Checkout(),
		Events:    events,
		Clock: func() time.Time {
			return time.Date(2026, time.April, 2, 9, 30, 0, 0, time.UTC)
		},
		IDGenerator: func() string { return "01TESTULID" },
		TokenSource: func() (string, error) { return "guest-token-1234", nil },
	})
	if err != nil {
		t.Fatalf("new checkout service: %v", err)
	}
	return reg, events, svc
}

func seedCheckoutCatalog(reg *memory.Registry, buyer BuyerRef) {
	reg.SeedCart(domain.Cart{
		Buyer: buyer,
		Lines: []domain.CartLine{
			{ID: "line-1", ProductID: "prod-1", Quantity: 2},
			{ID: "line-2", ProductID: "prod-2", VariantID: "var-a", Quantity: 1},
			{ID: "line-3", ProductID: "prod-3", Quantity: 1},
		},
		CouponCode: "SPRING10",
	})
	reg.SeedStock(domain.InventoryStock{ProductID: "prod-1", Name: "Widget", SKU: "SKU-1", UnitPrice: 1000, OnHand: 5})
	reg.SeedStock(domain.InventoryStock{
		ProductID: "prod-2", VariantID: "var-a", Name: "Gadget", SKU: "SKU-2A", UnitPrice: 2500, OnHand: 3,
		VariantOptions: []domain.VariantOption{{Name: "Color", Value: "Green"}},
	})
	reg.SeedStock(domain.InventoryStock{ProductID: "prod-3", Name: "Doodad", SKU: "SKU-3", UnitPrice: 700, OnHand: 9})
	reg.SeedCoupon(domain.Coupon{Code: "SPRING10", Percent: 10, UsageLimit: 10})
}

func shippingAddress() Address {
	return Address{
		FullName:   "Nora Berg",
		Line1:      "12 Clover Way",
		City:       "Oslo",
		PostalCode: "0150",
		Country:    "NO",
	}
}

func TestPlaceOrderInstantPayment(t *testing.T) {
	buyer := BuyerRef{UserID: "user-1"}
	reg, events, svc := checkoutFixture(t)
	seedCheckoutCatalog(reg, buyer)

	result, err := svc.PlaceOrder(context.Background(), PlaceOrderCommand{
		Buyer:           buyer,
		LineIDs:         []string{"line-1", "line-2"},
		PaymentMethod:   "card",
		ShippingAddress: shippingAddress(),
	})
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}

	order := result.Order
	if order.Status != domain.OrderStatusProcessing {
		t.Fatalf("expected processing for instant payment, got %s", order.Status)
	}
	if !order.IsPaid || order.PaidAt == nil {
		t.Fatal("instant payment must mark the order paid")
	}
	// 2x1000 + 1x2500 = 4500, minus the 10% coupon.
	if order.ItemsPrice != 4500 {
		t.Fatalf("expected items price 4500, got %d", order.ItemsPrice)
	}
	if order.DiscountAmount != 450 {
		t.Fatalf("expected discount 450, got %d", order.DiscountAmount)
	}
	if order.TotalPrice != 4050 {
		t.Fatalf("expected total 4050, got %d", order.TotalPrice)
	}
	if order.OrderNumber != "CM-2026-000001" {
		t.Fatalf("unexpected order number %s", order.OrderNumber)
	}
	if !strings.HasPrefix(order.ID, "ord_") {
		t.Fatalf("unexpected order id %s", order.ID)
	}
	if result.GuestTrackingToken != "" {
		t.Fatal("authenticated checkout must not mint a guest token")
	}

	variantLine := order.Lines[1]
	if variantLine.Variant == nil || variantLine.Variant.VariantID != "var-a" {
		t.Fatalf("expected variant snapshot on second line, got %+v", variantLine.Variant)
	}
	if len(variantLine.Variant.Options) != 1 || variantLine.Variant.Options[0].Value != "Green" {
		t.Fatalf("variant options not snapshotted: %+v", variantLine.Variant.Options)
	}

	stock, err := reg.GetStock(context.Background(), domain.StockKey{ProductID: "prod-1"})
	if err != nil {
		t.Fatalf("GetStock: %v", err)
	}
	if stock.OnHand != 3 || stock.UnitsSold != 2 {
		t.Fatalf("expected onHand=3 unitsSold=2, got onHand=%d unitsSold=%d", stock.OnHand, stock.UnitsSold)
	}

	cart, err := reg.GetCart(context.Background(), buyer.Key())
	if err != nil {
		t.Fatalf("GetCart: %v", err)
	}
	if len(cart.Lines) != 1 || cart.Lines[0].ID != "line-3" {
		t.Fatalf("expected line-3 to survive checkout, got %+v", cart.Lines)
	}

	published := events.list()
	if len(published) != 1 || published[0].Type != "order.placed" {
		t.Fatalf("expected one order.placed event, got %+v", published)
	}
}

func TestPlaceOrderDeferredPaymentStartsPending(t *testing.T) {
	buyer := BuyerRef{UserID: "user-1"}
	reg, _, svc := checkoutFixture(t)
	seedCheckoutCatalog(reg, buyer)

	result, err := svc.PlaceOrder(context.Background(), PlaceOrderCommand{
		Buyer:           buyer,
		LineIDs:         []string{"line-1"},
		PaymentMethod:   "bank_transfer",
		ShippingAddress: shippingAddress(),
	})
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if result.Order.Status != domain.OrderStatusPending {
		t.Fatalf("expected pending for bank transfer, got %s", result.Order.Status)
	}
	if result.Order.IsPaid || result.Order.PaidAt != nil {
		t.Fatal("deferred payment must not mark the order paid")
	}
}

func TestPlaceOrderGuestMintsTrackingToken(t *testing.T) {
	buyer := BuyerRef{GuestEmail: "guest@example.com", GuestSessionID: "sess-1"}
	reg, _, svc := checkoutFixture(t)
	seedCheckoutCatalog(reg, buyer)

	result, err := svc.PlaceOrder(context.Background(), PlaceOrderCommand{
		Buyer:           buyer,
		LineIDs:         []string{"line-1"},
		PaymentMethod:   "paypal",
		ShippingAddress: shippingAddress(),
	})
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if result.GuestTrackingToken != "guest-token-1234" {
		t.Fatalf("expected token handout, got %q", result.GuestTrackingToken)
	}
	token := result.Order.GuestToken
	if token == nil {
		t.Fatal("guest order must carry a tracking token")
	}
	wantExpiry := time.Date(2026, time.April, 9, 9, 30, 0, 0, time.UTC)
	if !token.ExpiresAt.Equal(wantExpiry) {
		t.Fatalf("expected expiry %s, got %s", wantExpiry, token.ExpiresAt)
	}
}

func TestPlaceOrderStaleSelection(t *testing.T) {
	buyer := BuyerRef{UserID: "user-1"}
	reg, _, svc := checkoutFixture(t)
	seedCheckoutCatalog(reg, buyer)

	_, err := svc.PlaceOrder(context.Background(), PlaceOrderCommand{
		Buyer:           buyer,
		LineIDs:         []string{"line-1", "line-gone"},
		PaymentMethod:   "card",
		ShippingAddress: shippingAddress(),
	})
	if !errors.Is(err, ErrSelectionStale) {
		t.Fatalf("expected stale selection, got %v", err)
	}
	var stale *StaleSelectionError
	if !errors.As(err, &stale) || len(stale.LineIDs) != 1 || stale.LineIDs[0] != "line-gone" {
		t.Fatalf("expected stale line-gone, got %v", err)
	}

	stock, err := reg.GetStock(context.Background(), domain.StockKey{ProductID: "prod-1"})
	if err != nil {
		t.Fatalf("GetStock: %v", err)
	}
	if stock.OnHand != 5 {
		t.Fatalf("stale selection mutated stock: %d", stock.OnHand)
	}
}

func TestPlaceOrderInsufficientStock(t *testing.T) {
	buyer := BuyerRef{UserID: "user-1"}
	reg, _, svc := checkoutFixture(t)
	reg.SeedCart(domain.Cart{
		Buyer: buyer,
		Lines: []domain.CartLine{{ID: "line-1", ProductID: "prod-1", Quantity: 4}},
	})
	reg.SeedStock(domain.InventoryStock{ProductID: "prod-1", Name: "Widget", SKU: "SKU-1", UnitPrice: 1000, OnHand: 2})

	_, err := svc.PlaceOrder(context.Background(), PlaceOrderCommand{
		Buyer:           buyer,
		LineIDs:         []string{"line-1"},
		PaymentMethod:   "card",
		ShippingAddress: shippingAddress(),
	})
	if !errors.Is(err, ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
	var insufficient *InsufficientStockError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected typed insufficiency, got %v", err)
	}
	if insufficient.Available != 2 || insufficient.Requested != 4 || insufficient.SKU != "SKU-1" {
		t.Fatalf("unexpected insufficiency details: %+v", insufficient)
	}
}

func TestPlaceOrderCouponRecomputedAgainstSubset(t *testing.T) {
	buyer := BuyerRef{UserID: "user-1"}
	reg, _, svc := checkoutFixture(t)
	reg.SeedCart(domain.Cart{
		Buyer: buyer,
		Lines: []domain.CartLine{
			{ID: "line-1", ProductID: "prod-1", Quantity: 1},
			{ID: "line-2", ProductID: "prod-2", Quantity: 5},
		},
		CouponCode: "BIG20",
	})
	reg.SeedStock(domain.InventoryStock{ProductID: "prod-1", Name: "Widget", SKU: "SKU-1", UnitPrice: 1000, OnHand: 5})
	reg.SeedStock(domain.InventoryStock{ProductID: "prod-2", Name: "Gadget", SKU: "SKU-2", UnitPrice: 2000, OnHand: 9})
	// Valid for the whole cart (11000) but not for line-1 alone (1000).
	reg.SeedCoupon(domain.Coupon{Code: "BIG20", Percent: 20, MinOrderValue: 5000})

	_, err := svc.PlaceOrder(context.Background(), PlaceOrderCommand{
		Buyer:           buyer,
		LineIDs:         []string{"line-1"},
		PaymentMethod:   "card",
		ShippingAddress: shippingAddress(),
	})
	if !errors.Is(err, ErrCouponRejected) {
		t.Fatalf("expected coupon rejection for subset below minimum, got %v", err)
	}

	result, err := svc.PlaceOrder(context.Background(), PlaceOrderCommand{
		Buyer:           buyer,
		LineIDs:         []string{"line-1", "line-2"},
		PaymentMethod:   "card",
		ShippingAddress: shippingAddress(),
	})
	if err != nil {
		t.Fatalf("PlaceOrder with full selection: %v", err)
	}
	if result.Order.DiscountAmount != 2200 {
		t.Fatalf("expected discount 2200, got %d", result.Order.DiscountAmount)
	}
}

func TestPlaceOrderValidation(t *testing.T) {
	buyer := BuyerRef{UserID: "user-1"}
	reg, _, svc := checkoutFixture(t)
	seedCheckoutCatalog(reg, buyer)

	cases := []struct {
		name string
		cmd  PlaceOrderCommand
	}{
		{
			name: "missing buyer",
			cmd:  PlaceOrderCommand{LineIDs: []string{"line-1"}, PaymentMethod: "card", ShippingAddress: shippingAddress()},
		},
		{
			name: "no lines selected",
			cmd:  PlaceOrderCommand{Buyer: buyer, PaymentMethod: "card", ShippingAddress: shippingAddress()},
		},
		{
			name: "unknown payment method",
			cmd:  PlaceOrderCommand{Buyer: buyer, LineIDs: []string{"line-1"}, PaymentMethod: "bitcoin", ShippingAddress: shippingAddress()},
		},
		{
			name: "missing address country",
			cmd: PlaceOrderCommand{Buyer: buyer, LineIDs: []string{"line-1"}, PaymentMethod: "card", ShippingAddress: Address{
				FullName: "Nora Berg", Line1: "12 Clover Way", City: "Oslo", PostalCode: "0150",
			}},
		},
		{
			name: "guest without email",
			cmd: PlaceOrderCommand{
				Buyer:           BuyerRef{GuestSessionID: "sess-9"},
				LineIDs:         []string{"line-1"},
				PaymentMethod:   "card",
				ShippingAddress: shippingAddress(),
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.PlaceOrder(context.Background(), tc.cmd); !errors.Is(err, ErrCheckoutInvalidInput) {
				t.Fatalf("expected invalid input, got %v", err)
			}
		})
	}
}

type timeoutCheckoutRepo struct{}

func (timeoutCheckoutRepo) Commit(ctx context.Context, req repositories.CheckoutCommitRequest) (repositories.CheckoutCommitResult, error) {
	return repositories.CheckoutCommitResult{}, context.DeadlineExceeded
}

func TestPlaceOrderMapsCommitTimeout(t *testing.T) {
	buyer := BuyerRef{UserID: "user-1"}
	reg := memory.NewRegistry()
	seedCheckoutCatalog(reg, buyer)

	svc, err := NewCheckoutService(CheckoutServiceDeps{
		Carts:     reg.Carts(),
		Inventory: reg.Inventory(),
		Coupons:   reg.Coupons(),
		Counters:  reg.Counters(),
		Checkout:  timeoutCheckoutRepo{},
	})
	if err != nil {
		t.Fatalf("new checkout service: %v", err)
	}

	_, err = svc.PlaceOrder(context.Background(), PlaceOrderCommand{
		Buyer:           buyer,
		LineIDs:         []string{"line-1"},
		PaymentMethod:   "card",
		ShippingAddress: shippingAddress(),
	})
	if !errors.Is(err, ErrCheckoutTimeout) {
		t.Fatalf("expected checkout timeout, got %v", err)
	}
}

func TestPlaceOrderPublishFailureIsBestEffort(t *testing.T) {
	buyer := BuyerRef{UserID: "user-1"}
	reg, events, svc := checkoutFixture(t)
	seedCheckoutCatalog(reg, buyer)
	events.fail = errors.New("broker down")

	if _, err := svc.PlaceOrder(context.Background(), PlaceOrderCommand{
		Buyer:           buyer,
		LineIDs:         []string{"line-1"},
		PaymentMethod:   "card",
		ShippingAddress: shippingAddress(),
	}); err != nil {
		t.Fatalf("publish failure must not fail the checkout: %v", err)
	}
}
