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
	// ErrInventoryInvalidInput indicates invalid stock management parameters.
	ErrInventoryInvalidInput = errors.New("inventory: invalid input")
	// ErrInventoryNotFound indicates the stock record is missing.
	ErrInventoryNotFound = errors.New("inventory: stock not found")
	// ErrInventoryNegative indicates the mutation would drive a counter below zero.
	ErrInventoryNegative = errors.New("inventory: stock cannot go negative")
)

// InventoryServiceDeps wires the dependencies required by the inventory service.
type InventoryServiceDeps struct {
	Inventory repositories.InventoryRepository
	Clock     func() time.Time
	Logger    func(ctx context.Context, event string, fields map[string]any)
}

type inventoryService struct {
	inventory repositories.InventoryRepository
	clock     func() time.Time
	logger    func(context.Context, string, map[string]any)
}

// NewInventoryService constructs an InventoryService validating required dependencies.
func NewInventoryService(deps InventoryServiceDeps) (InventoryService, error) {
	if deps.Inventory == nil {
		return nil, errors.New("inventory service: inventory repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &inventoryService{
		inventory: deps.Inventory,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// GetStock loads one stock counter.
func (s *inventoryService) GetStock(ctx context.Context, query StockQuery) (InventoryStock, error) {
	key, err := stockKeyFrom(query.ProductID, query.VariantID)
	if err != nil {
		return InventoryStock{}, err
	}
	stock, err := s.inventory.GetStock(ctx, key)
	if err != nil {
		return InventoryStock{}, mapStockError(err)
	}
	return stock, nil
}

// AdjustStock applies a relative correction to the on-hand counter, e.g. +20
// after receiving a delivery or -3 after finding damaged units.
func (s *inventoryService) AdjustStock(ctx context.Context, cmd AdjustStockCommand) (InventoryStock, error) {
	key, err := stockKeyFrom(cmd.ProductID, cmd.VariantID)
	if err != nil {
		return InventoryStock{}, err
	}
	if cmd.Delta == 0 {
		return InventoryStock{}, fmt.Errorf("%w: delta must be non-zero", ErrInventoryInvalidInput)
	}

	stock, err := s.inventory.AdjustBy(ctx, key, cmd.Delta, s.clock())
	if err != nil {
		return InventoryStock{}, mapStockError(err)
	}

	s.logger(ctx, "inventory.adjusted", map[string]any{
		"stock":  key.String(),
		"delta":  cmd.Delta,
		"onHand": stock.OnHand,
		"actor":  strings.TrimSpace(cmd.ActorID),
	})
	return stock, nil
}

// SetStock replaces the on-hand counter after a physical recount.
func (s *inventoryService) SetStock(ctx context.Context, cmd SetStockCommand) (InventoryStock, error) {
	key, err := stockKeyFrom(cmd.ProductID, cmd.VariantID)
	if err != nil {
		return InventoryStock{}, err
	}
	if cmd.Value < 0 {
		return InventoryStock{}, fmt.Errorf("%w: value must be >= 0", ErrInventoryNegative)
	}

	stock, err := s.inventory.SetTo(ctx, key, cmd.Value, s.clock())
	if err != nil {
		return InventoryStock{}, mapStockError(err)
	}

	s.logger(ctx, "inventory.recounted", map[string]any{
		"stock":  key.String(),
		"onHand": stock.OnHand,
		"actor":  strings.TrimSpace(cmd.ActorID),
	})
	return stock, nil
}

func stockKeyFrom(productID, variantID string) (StockKey, error) {
	pid := strings.TrimSpace(productID)
	if pid == "" {
		return StockKey{}, fmt.Errorf("%w: product id is required", ErrInventoryInvalidInput)
	}
	return domain.StockKey{ProductID: pid, VariantID: strings.TrimSpace(variantID)}, nil
}

func mapStockError(err error) error {
	if err == nil {
		return nil
	}
	var stockErr *repositories.StockError
	if errors.As(err, &stockErr) {
		switch stockErr.Code {
		case repositories.StockErrorNotFound:
			return fmt.Errorf("%w: %v", ErrInventoryNotFound, err)
		case repositories.StockErrorNegative:
			return fmt.Errorf("%w: %v", ErrInventoryNegative, err)
		}
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsNotFound() {
		return fmt.Errorf("%w: %v", ErrInventoryNotFound, err)
	}
	return err
}
