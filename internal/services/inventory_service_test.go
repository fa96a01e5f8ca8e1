package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/clovermart/api/internal/domain"
	"github.com/clovermart/api/internal/repositories/memory"
)

func inventoryFixture(t *testing.T) (*memory.Registry, InventoryService) {
	t.Helper()
	reg := memory.NewRegistry()
	svc, err := NewInventoryService(InventoryServiceDeps{
		Inventory: reg.Inventory(),
		Clock: func() time.Time {
			return time.Date(2026, time.April, 2, 15, 0, 0, 0, time.UTC)
		},
	})
	if err != nil {
		t.Fatalf("new inventory service: %v", err)
	}
	return reg, svc
}

func TestAdjustStock(t *testing.T) {
	reg, svc := inventoryFixture(t)
	reg.SeedStock(domain.InventoryStock{ProductID: "prod-1", VariantID: "var-a", SKU: "SKU-1A", OnHand: 10})

	stock, err := svc.AdjustStock(context.Background(), AdjustStockCommand{
		ProductID: "prod-1",
		VariantID: "var-a",
		Delta:     -3,
		ActorID:   "op-1",
	})
	if err != nil {
		t.Fatalf("AdjustStock: %v", err)
	}
	if stock.OnHand != 7 {
		t.Fatalf("expected onHand 7, got %d", stock.OnHand)
	}

	if _, err := svc.AdjustStock(context.Background(), AdjustStockCommand{
		ProductID: "prod-1",
		VariantID: "var-a",
		Delta:     -8,
	}); !errors.Is(err, ErrInventoryNegative) {
		t.Fatalf("expected negative rejection, got %v", err)
	}
	if _, err := svc.AdjustStock(context.Background(), AdjustStockCommand{
		ProductID: "prod-1",
		VariantID: "var-a",
	}); !errors.Is(err, ErrInventoryInvalidInput) {
		t.Fatalf("expected zero delta rejection, got %v", err)
	}
}

func TestSetStock(t *testing.T) {
	reg, svc := inventoryFixture(t)
	reg.SeedStock(domain.InventoryStock{ProductID: "prod-1", SKU: "SKU-1", OnHand: 4})

	stock, err := svc.SetStock(context.Background(), SetStockCommand{
		ProductID: "prod-1",
		Value:     12,
		ActorID:   "op-1",
	})
	if err != nil {
		t.Fatalf("SetStock: %v", err)
	}
	if stock.OnHand != 12 {
		t.Fatalf("expected onHand 12, got %d", stock.OnHand)
	}

	if _, err := svc.SetStock(context.Background(), SetStockCommand{ProductID: "prod-1", Value: -1}); !errors.Is(err, ErrInventoryNegative) {
		t.Fatalf("expected negative rejection, got %v", err)
	}
}

func TestGetStockMissing(t *testing.T) {
	_, svc := inventoryFixture(t)

	if _, err := svc.GetStock(context.Background(), StockQuery{ProductID: "prod-x"}); !errors.Is(err, ErrInventoryNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := svc.GetStock(context.Background(), StockQuery{}); !errors.Is(err, ErrInventoryInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}
