package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	domain "github.com/clovermart/api/internal/domain"
	"github.com/clovermart/api/internal/repositories"
)

func testOrder(id string, buyer domain.BuyerRef, lines []domain.OrderLine) domain.Order {
	return domain.Order{
		ID:            id,
		OrderNumber:   "CM-" + id,
		Buyer:         buyer,
		Lines:         lines,
		Status:        domain.OrderStatusPending,
		PaymentMethod: domain.PaymentMethodBankTransfer,
	}
}

func TestCommitAppliesAllWrites(t *testing.T) {
	reg := NewRegistry()
	buyer := domain.BuyerRef{UserID: "user-1"}
	now := time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)

	reg.SeedCart(domain.Cart{
		ID:    buyer.Key(),
		Buyer: buyer,
		Lines: []domain.CartLine{
			{ID: "line-1", ProductID: "prod-1", Quantity: 2},
			{ID: "line-2", ProductID: "prod-2", VariantID: "var-a", Quantity: 1},
			{ID: "line-3", ProductID: "prod-3", Quantity: 4},
		},
		CouponCode: "SPRING10",
	})
	reg.SeedStock(domain.InventoryStock{ProductID: "prod-1", SKU: "SKU-1", OnHand: 5, UnitsSold: 1})
	reg.SeedStock(domain.InventoryStock{ProductID: "prod-2", VariantID: "var-a", SKU: "SKU-2A", OnHand: 3})
	reg.SeedCoupon(domain.Coupon{Code: "SPRING10", Percent: 10, UsageLimit: 5, UsageCount: 2})

	order := testOrder("order-1", buyer, []domain.OrderLine{
		{Name: "Widget", SKU: "SKU-1", UnitPrice: 1000, Quantity: 2, ProductID: "prod-1"},
		{Name: "Gadget", SKU: "SKU-2A", UnitPrice: 2500, Quantity: 1, ProductID: "prod-2", Variant: &domain.VariantSnapshot{VariantID: "var-a", SKU: "SKU-2A"}},
	})

	result, err := reg.Commit(context.Background(), repositories.CheckoutCommitRequest{
		Order:      order,
		BuyerKey:   buyer.Key(),
		LineIDs:    []string{"line-1", "line-2"},
		CouponCode: "SPRING10",
		Now:        now,
	})
	if err != nil {
		t.Fatalf("Commit returned error: %v", err)
	}
	if result.Order.ID != "order-1" {
		t.Fatalf("expected committed order id order-1, got %s", result.Order.ID)
	}

	stock1, err := reg.GetStock(context.Background(), domain.StockKey{ProductID: "prod-1"})
	if err != nil {
		t.Fatalf("GetStock prod-1: %v", err)
	}
	if stock1.OnHand != 3 || stock1.UnitsSold != 3 {
		t.Fatalf("expected prod-1 onHand=3 unitsSold=3, got onHand=%d unitsSold=%d", stock1.OnHand, stock1.UnitsSold)
	}
	stock2, err := reg.GetStock(context.Background(), domain.StockKey{ProductID: "prod-2", VariantID: "var-a"})
	if err != nil {
		t.Fatalf("GetStock prod-2__var-a: %v", err)
	}
	if stock2.OnHand != 2 || stock2.UnitsSold != 1 {
		t.Fatalf("expected prod-2 onHand=2 unitsSold=1, got onHand=%d unitsSold=%d", stock2.OnHand, stock2.UnitsSold)
	}

	coupon, err := reg.FindByCode(context.Background(), "SPRING10")
	if err != nil {
		t.Fatalf("FindByCode: %v", err)
	}
	if coupon.UsageCount != 3 {
		t.Fatalf("expected coupon usage 3, got %d", coupon.UsageCount)
	}
	if got := reg.CouponUsage("SPRING10", buyer.Key()); got != 1 {
		t.Fatalf("expected per-user usage 1, got %d", got)
	}

	cart, err := reg.GetCart(context.Background(), buyer.Key())
	if err != nil {
		t.Fatalf("GetCart: %v", err)
	}
	if len(cart.Lines) != 1 || cart.Lines[0].ID != "line-3" {
		t.Fatalf("expected only line-3 to remain, got %+v", cart.Lines)
	}
	if cart.CouponCode != "SPRING10" {
		t.Fatalf("coupon code should survive while lines remain, got %q", cart.CouponCode)
	}

	if _, err := reg.FindByID(context.Background(), "order-1"); err != nil {
		t.Fatalf("committed order not found: %v", err)
	}
}

func TestCommitClearsCouponWhenCartEmpties(t *testing.T) {
	reg := NewRegistry()
	buyer := domain.BuyerRef{GuestEmail: "guest@example.com", GuestSessionID: "sess-1"}

	reg.SeedCart(domain.Cart{
		Buyer:      buyer,
		Lines:      []domain.CartLine{{ID: "line-1", ProductID: "prod-1", Quantity: 1}},
		CouponCode: "SPRING10",
	})
	reg.SeedStock(domain.InventoryStock{ProductID: "prod-1", SKU: "SKU-1", OnHand: 1})

	order := testOrder("order-1", buyer, []domain.OrderLine{
		{Name: "Widget", SKU: "SKU-1", UnitPrice: 1000, Quantity: 1, ProductID: "prod-1"},
	})

	if _, err := reg.Commit(context.Background(), repositories.CheckoutCommitRequest{
		Order:    order,
		BuyerKey: buyer.Key(),
		LineIDs:  []string{"line-1"},
		Now:      time.Now(),
	}); err != nil {
		t.Fatalf("Commit returned error: %v", err)
	}

	cart, err := reg.GetCart(context.Background(), buyer.Key())
	if err != nil {
		t.Fatalf("GetCart: %v", err)
	}
	if len(cart.Lines) != 0 {
		t.Fatalf("expected empty cart, got %d lines", len(cart.Lines))
	}
	if cart.CouponCode != "" {
		t.Fatalf("expected coupon cleared on empty cart, got %q", cart.CouponCode)
	}
}

func TestCommitFailureLeavesNoResidue(t *testing.T) {
	reg := NewRegistry()
	buyer := domain.BuyerRef{UserID: "user-1"}

	reg.SeedCart(domain.Cart{
		Buyer: buyer,
		Lines: []domain.CartLine{
			{ID: "line-1", ProductID: "prod-1", Quantity: 1},
			{ID: "line-2", ProductID: "prod-2", Quantity: 5},
		},
	})
	reg.SeedStock(domain.InventoryStock{ProductID: "prod-1", SKU: "SKU-1", OnHand: 10})
	reg.SeedStock(domain.InventoryStock{ProductID: "prod-2", SKU: "SKU-2", OnHand: 2})

	order := testOrder("order-1", buyer, []domain.OrderLine{
		{Name: "Widget", SKU: "SKU-1", UnitPrice: 1000, Quantity: 1, ProductID: "prod-1"},
		{Name: "Gadget", SKU: "SKU-2", UnitPrice: 500, Quantity: 5, ProductID: "prod-2"},
	})

	_, err := reg.Commit(context.Background(), repositories.CheckoutCommitRequest{
		Order:    order,
		BuyerKey: buyer.Key(),
		LineIDs:  []string{"line-1", "line-2"},
		Now:      time.Now(),
	})
	var stockErr *repositories.StockError
	if !errors.As(err, &stockErr) || stockErr.Code != repositories.StockErrorInsufficient {
		t.Fatalf("expected insufficient stock error, got %v", err)
	}
	if stockErr.Available != 2 || stockErr.Requested != 5 {
		t.Fatalf("expected available=2 requested=5, got available=%d requested=%d", stockErr.Available, stockErr.Requested)
	}

	stock1, _ := reg.GetStock(context.Background(), domain.StockKey{ProductID: "prod-1"})
	if stock1.OnHand != 10 || stock1.UnitsSold != 0 {
		t.Fatalf("prod-1 mutated by failed commit: %+v", stock1)
	}
	cart, _ := reg.GetCart(context.Background(), buyer.Key())
	if len(cart.Lines) != 2 {
		t.Fatalf("cart mutated by failed commit: %+v", cart.Lines)
	}
	if _, err := reg.FindByID(context.Background(), "order-1"); err == nil {
		t.Fatal("order persisted despite failed commit")
	}
}

func TestCommitConcurrentLastUnit(t *testing.T) {
	reg := NewRegistry()
	reg.SeedStock(domain.InventoryStock{ProductID: "prod-1", SKU: "SKU-1", OnHand: 1})

	const attempts = 16
	buyers := make([]domain.BuyerRef, attempts)
	for i := range buyers {
		buyers[i] = domain.BuyerRef{UserID: fmt.Sprintf("user-%d", i)}
		reg.SeedCart(domain.Cart{
			Buyer: buyers[i],
			Lines: []domain.CartLine{{ID: "line-1", ProductID: "prod-1", Quantity: 1}},
		})
	}

	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			order := testOrder(fmt.Sprintf("order-%d", i), buyers[i], []domain.OrderLine{
				{Name: "Widget", SKU: "SKU-1", UnitPrice: 1000, Quantity: 1, ProductID: "prod-1"},
			})
			_, errs[i] = reg.Commit(context.Background(), repositories.CheckoutCommitRequest{
				Order:    order,
				BuyerKey: buyers[i].Key(),
				LineIDs:  []string{"line-1"},
				Now:      time.Now(),
			})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		var stockErr *repositories.StockError
		if !errors.As(err, &stockErr) || stockErr.Code != repositories.StockErrorInsufficient {
			t.Fatalf("unexpected commit error: %v", err)
		}
	}
	if succeeded != 1 {
		t.Fatalf("expected exactly one commit to win the last unit, got %d", succeeded)
	}

	stock, _ := reg.GetStock(context.Background(), domain.StockKey{ProductID: "prod-1"})
	if stock.OnHand != 0 || stock.UnitsSold != 1 {
		t.Fatalf("expected onHand=0 unitsSold=1, got onHand=%d unitsSold=%d", stock.OnHand, stock.UnitsSold)
	}
}

func TestCommitRejectsDuplicateOrder(t *testing.T) {
	reg := NewRegistry()
	buyer := domain.BuyerRef{UserID: "user-1"}
	reg.SeedCart(domain.Cart{
		Buyer: buyer,
		Lines: []domain.CartLine{{ID: "line-1", ProductID: "prod-1", Quantity: 1}},
	})
	reg.SeedStock(domain.InventoryStock{ProductID: "prod-1", SKU: "SKU-1", OnHand: 5})
	reg.SeedOrder(testOrder("order-1", buyer, nil))

	order := testOrder("order-1", buyer, []domain.OrderLine{
		{Name: "Widget", SKU: "SKU-1", UnitPrice: 1000, Quantity: 1, ProductID: "prod-1"},
	})
	_, err := reg.Commit(context.Background(), repositories.CheckoutCommitRequest{
		Order:    order,
		BuyerKey: buyer.Key(),
		LineIDs:  []string{"line-1"},
		Now:      time.Now(),
	})
	var checkoutErr *repositories.CheckoutError
	if !errors.As(err, &checkoutErr) || checkoutErr.Code != repositories.CheckoutErrorDuplicateOrder {
		t.Fatalf("expected duplicate order error, got %v", err)
	}
}

func TestRestockOrderOnce(t *testing.T) {
	reg := NewRegistry()
	buyer := domain.BuyerRef{UserID: "user-1"}
	reg.SeedStock(domain.InventoryStock{ProductID: "prod-1", SKU: "SKU-1", OnHand: 2, UnitsSold: 3})

	order := testOrder("order-1", buyer, []domain.OrderLine{
		{Name: "Widget", SKU: "SKU-1", UnitPrice: 1000, Quantity: 3, ProductID: "prod-1"},
	})
	order.Status = domain.OrderStatusCancelled
	reg.SeedOrder(order)

	result, err := reg.RestockOrder(context.Background(), repositories.RestockOrderRequest{OrderID: "order-1", Now: time.Now()})
	if err != nil {
		t.Fatalf("RestockOrder returned error: %v", err)
	}
	if !result.Order.StockRestored {
		t.Fatal("expected restored flag set on returned order")
	}
	stock := result.Stocks[domain.StockKey{ProductID: "prod-1"}]
	if stock.OnHand != 5 || stock.UnitsSold != 0 {
		t.Fatalf("expected onHand=5 unitsSold=0, got onHand=%d unitsSold=%d", stock.OnHand, stock.UnitsSold)
	}

	_, err = reg.RestockOrder(context.Background(), repositories.RestockOrderRequest{OrderID: "order-1", Now: time.Now()})
	var stockErr *repositories.StockError
	if !errors.As(err, &stockErr) || stockErr.Code != repositories.StockErrorAlreadyRestored {
		t.Fatalf("expected already restored error, got %v", err)
	}

	stored, err := reg.GetStock(context.Background(), domain.StockKey{ProductID: "prod-1"})
	if err != nil {
		t.Fatalf("GetStock: %v", err)
	}
	if stored.OnHand != 5 {
		t.Fatalf("second restock mutated the counter: onHand=%d", stored.OnHand)
	}
}

func TestCommitAndRestockMergeDuplicateStockKeys(t *testing.T) {
	reg := NewRegistry()
	buyer := domain.BuyerRef{UserID: "user-1"}
	now := time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)

	reg.SeedCart(domain.Cart{
		ID:    buyer.Key(),
		Buyer: buyer,
		Lines: []domain.CartLine{
			{ID: "line-1", ProductID: "prod-1", Quantity: 2},
			{ID: "line-2", ProductID: "prod-1", Quantity: 3},
		},
	})
	reg.SeedStock(domain.InventoryStock{ProductID: "prod-1", SKU: "SKU-1", OnHand: 10})

	order := testOrder("order-1", buyer, []domain.OrderLine{
		{Name: "Widget", SKU: "SKU-1", UnitPrice: 1000, Quantity: 2, ProductID: "prod-1"},
		{Name: "Widget", SKU: "SKU-1", UnitPrice: 1000, Quantity: 3, ProductID: "prod-1"},
	})

	result, err := reg.Commit(context.Background(), repositories.CheckoutCommitRequest{
		Order:    order,
		BuyerKey: buyer.Key(),
		LineIDs:  []string{"line-1", "line-2"},
		Now:      now,
	})
	if err != nil {
		t.Fatalf("Commit returned error: %v", err)
	}
	stock := result.Stocks[domain.StockKey{ProductID: "prod-1"}]
	if stock.OnHand != 5 || stock.UnitsSold != 5 {
		t.Fatalf("expected onHand=5 unitsSold=5 after combined decrement, got onHand=%d unitsSold=%d", stock.OnHand, stock.UnitsSold)
	}

	cancelled := result.Order
	cancelled.Status = domain.OrderStatusCancelled
	reg.SeedOrder(cancelled)

	restocked, err := reg.RestockOrder(context.Background(), repositories.RestockOrderRequest{OrderID: "order-1", Now: now.Add(time.Hour)})
	if err != nil {
		t.Fatalf("RestockOrder returned error: %v", err)
	}
	stock = restocked.Stocks[domain.StockKey{ProductID: "prod-1"}]
	if stock.OnHand != 10 || stock.UnitsSold != 0 {
		t.Fatalf("expected onHand=10 unitsSold=0 after combined restore, got onHand=%d unitsSold=%d", stock.OnHand, stock.UnitsSold)
	}
}

func TestRestockOrderRequiresTerminalStatus(t *testing.T) {
	reg := NewRegistry()
	order := testOrder("order-1", domain.BuyerRef{UserID: "user-1"}, []domain.OrderLine{
		{Name: "Widget", SKU: "SKU-1", UnitPrice: 1000, Quantity: 1, ProductID: "prod-1"},
	})
	order.Status = domain.OrderStatusProcessing
	reg.SeedOrder(order)
	reg.SeedStock(domain.InventoryStock{ProductID: "prod-1", SKU: "SKU-1", OnHand: 1})

	_, err := reg.RestockOrder(context.Background(), repositories.RestockOrderRequest{OrderID: "order-1", Now: time.Now()})
	var stockErr *repositories.StockError
	if !errors.As(err, &stockErr) || stockErr.Code != repositories.StockErrorNotRestockable {
		t.Fatalf("expected not restockable error, got %v", err)
	}
}

func TestUpdateGuardsExpectedStatus(t *testing.T) {
	reg := NewRegistry()
	order := testOrder("order-1", domain.BuyerRef{UserID: "user-1"}, nil)
	order.Status = domain.OrderStatusProcessing
	reg.SeedOrder(order)

	stale := order
	stale.Status = domain.OrderStatusShipped
	err := reg.Update(context.Background(), stale, domain.OrderStatusPending)
	var orderErr *repositories.OrderError
	if !errors.As(err, &orderErr) || orderErr.Code != repositories.OrderErrorStatusConflict {
		t.Fatalf("expected status conflict, got %v", err)
	}

	updated := order
	updated.Status = domain.OrderStatusShipped
	if err := reg.Update(context.Background(), updated, domain.OrderStatusProcessing); err != nil {
		t.Fatalf("guarded update failed: %v", err)
	}
	stored, err := reg.FindByID(context.Background(), "order-1")
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if stored.Status != domain.OrderStatusShipped {
		t.Fatalf("expected shipped, got %s", stored.Status)
	}
}

func TestAdjustByRefusesNegative(t *testing.T) {
	reg := NewRegistry()
	reg.SeedStock(domain.InventoryStock{ProductID: "prod-1", SKU: "SKU-1", OnHand: 2})

	if _, err := reg.AdjustBy(context.Background(), domain.StockKey{ProductID: "prod-1"}, -2, time.Now()); err != nil {
		t.Fatalf("AdjustBy to zero should succeed: %v", err)
	}
	_, err := reg.AdjustBy(context.Background(), domain.StockKey{ProductID: "prod-1"}, -1, time.Now())
	var stockErr *repositories.StockError
	if !errors.As(err, &stockErr) || stockErr.Code != repositories.StockErrorNegative {
		t.Fatalf("expected negative stock error, got %v", err)
	}
	stock, _ := reg.GetStock(context.Background(), domain.StockKey{ProductID: "prod-1"})
	if stock.OnHand != 0 {
		t.Fatalf("failed adjust mutated the counter: %d", stock.OnHand)
	}
}
