package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/clovermart/api/internal/domain"
	pfirestore "github.com/clovermart/api/internal/platform/firestore"
	"github.com/clovermart/api/internal/repositories"
)

const inventoryCollection = "inventory"

// InventoryRepository owns the authoritative stock counters, keyed by the
// StockKey document id, and the restock counter-flow for cancelled or
// refunded orders.
type InventoryRepository struct {
	provider *pfirestore.Provider
	stocks   *pfirestore.BaseRepository[stockDocument]
	orders   *pfirestore.BaseRepository[orderDocument]
}

// NewInventoryRepository constructs a Firestore-backed inventory repository.
func NewInventoryRepository(provider *pfirestore.Provider) (*InventoryRepository, error) {
	if provider == nil {
		return nil, errors.New("inventory repository requires firestore provider")
	}
	stocks := pfirestore.NewBaseRepository[stockDocument](provider, inventoryCollection, nil, nil)
	orders := pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection, nil, nil)
	return &InventoryRepository{provider: provider, stocks: stocks, orders: orders}, nil
}

// GetStock loads the counter for one stock key.
func (r *InventoryRepository) GetStock(ctx context.Context, key domain.StockKey) (domain.InventoryStock, error) {
	if r == nil || r.stocks == nil {
		return domain.InventoryStock{}, errors.New("inventory repository not initialised")
	}
	id := key.String()
	if strings.TrimSpace(key.ProductID) == "" {
		return domain.InventoryStock{}, repositories.NewStockError(repositories.StockErrorUnknown, "inventory get: product id is required", nil)
	}

	doc, err := r.stocks.Get(ctx, id)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return domain.InventoryStock{}, repositories.NewStockError(repositories.StockErrorNotFound, fmt.Sprintf("stock %s not found", id), err)
		}
		return domain.InventoryStock{}, wrapStockError("inventory.get", err)
	}
	return doc.Data.toDomain(), nil
}

// GetStocks loads the counters for a batch of keys. Missing keys are simply
// absent from the result map; callers decide whether that is an error.
func (r *InventoryRepository) GetStocks(ctx context.Context, keys []domain.StockKey) (map[domain.StockKey]domain.InventoryStock, error) {
	if r == nil || r.stocks == nil {
		return nil, errors.New("inventory repository not initialised")
	}

	stocks := make(map[domain.StockKey]domain.InventoryStock, len(keys))
	for _, key := range keys {
		stock, err := r.GetStock(ctx, key)
		if err != nil {
			var stockErr *repositories.StockError
			if errors.As(err, &stockErr) && stockErr.Code == repositories.StockErrorNotFound {
				continue
			}
			return nil, err
		}
		stocks[key] = stock
	}
	return stocks, nil
}

// AdjustBy applies a relative delta to the on-hand counter inside a
// transaction. The counter may never go negative.
func (r *InventoryRepository) AdjustBy(ctx context.Context, key domain.StockKey, delta int, now time.Time) (domain.InventoryStock, error) {
	return r.mutateStock(ctx, "inventory.adjust", key, now, func(doc *stockDocument) error {
		next := doc.OnHand + delta
		if next < 0 {
			return repositories.NewStockError(repositories.StockErrorNegative,
				fmt.Sprintf("stock %s: adjusting %d by %d would go negative", key.String(), doc.OnHand, delta), nil)
		}
		doc.OnHand = next
		return nil
	})
}

// SetTo replaces the on-hand counter with an absolute value inside a
// transaction.
func (r *InventoryRepository) SetTo(ctx context.Context, key domain.StockKey, value int, now time.Time) (domain.InventoryStock, error) {
	return r.mutateStock(ctx, "inventory.set", key, now, func(doc *stockDocument) error {
		if value < 0 {
			return repositories.NewStockError(repositories.StockErrorNegative,
				fmt.Sprintf("stock %s: on-hand value must be >= 0, got %d", key.String(), value), nil)
		}
		doc.OnHand = value
		return nil
	})
}

func (r *InventoryRepository) mutateStock(ctx context.Context, op string, key domain.StockKey, now time.Time, mutate func(*stockDocument) error) (domain.InventoryStock, error) {
	if r == nil || r.provider == nil {
		return domain.InventoryStock{}, errors.New("inventory repository not initialised")
	}
	if strings.TrimSpace(key.ProductID) == "" {
		return domain.InventoryStock{}, repositories.NewStockError(repositories.StockErrorUnknown, "inventory mutate: product id is required", nil)
	}

	id := key.String()
	var updated domain.InventoryStock
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.stocks.DocumentRef(ctx, id)
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return repositories.NewStockError(repositories.StockErrorNotFound, fmt.Sprintf("stock %s not found", id), err)
			}
			return err
		}
		var doc stockDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode inventory stock %s: %w", id, err)
		}
		if err := mutate(&doc); err != nil {
			return err
		}
		doc.UpdatedAt = now.UTC()
		if err := tx.Set(ref, doc); err != nil {
			return err
		}
		updated = doc.toDomain()
		return nil
	})
	if err != nil {
		return domain.InventoryStock{}, wrapStockError(op, err)
	}
	return updated, nil
}

// RestockOrder returns the units of a cancelled or refunded order to stock.
// The order's isStockRestored flag is flipped in the same transaction as the
// counter increments, so a second call observes the flag and fails instead of
// double-crediting.
func (r *InventoryRepository) RestockOrder(ctx context.Context, req repositories.RestockOrderRequest) (repositories.RestockOrderResult, error) {
	if r == nil || r.provider == nil {
		return repositories.RestockOrderResult{}, errors.New("inventory repository not initialised")
	}
	orderID := strings.TrimSpace(req.OrderID)
	if orderID == "" {
		return repositories.RestockOrderResult{}, repositories.NewStockError(repositories.StockErrorUnknown, "inventory restock: order id is required", nil)
	}
	now := req.Now.UTC()

	var result repositories.RestockOrderResult
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		orderRef, err := r.orders.DocumentRef(ctx, orderID)
		if err != nil {
			return err
		}
		orderSnap, err := tx.Get(orderRef)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return repositories.NewOrderError(repositories.OrderErrorNotFound, fmt.Sprintf("order %s not found", orderID), err)
			}
			return err
		}
		var orderDoc orderDocument
		if err := orderSnap.DataTo(&orderDoc); err != nil {
			return fmt.Errorf("decode order %s: %w", orderID, err)
		}

		if orderDoc.StockRestored {
			return repositories.NewStockError(repositories.StockErrorAlreadyRestored,
				fmt.Sprintf("order %s stock already restored", orderID), nil)
		}
		if !domain.OrderStatus(orderDoc.Status).Restockable() {
			return repositories.NewStockError(repositories.StockErrorNotRestockable,
				fmt.Sprintf("order %s status %s cannot be restocked", orderID, orderDoc.Status), nil)
		}

		// All reads precede writes inside a Firestore transaction. Lines
		// sharing a stock key merge into one staged document so their
		// increments accumulate.
		type stagedStock struct {
			ref *firestore.DocumentRef
			doc stockDocument
			key domain.StockKey
		}
		staged := make([]stagedStock, 0, len(orderDoc.Lines))
		index := make(map[string]int, len(orderDoc.Lines))
		for _, line := range orderDoc.Lines {
			key := domain.StockKey{ProductID: line.ProductID}
			if line.Variant != nil {
				key.VariantID = line.Variant.VariantID
			}
			id := key.String()
			pos, seen := index[id]
			if !seen {
				stockRef, err := r.stocks.DocumentRef(ctx, id)
				if err != nil {
					return err
				}
				snap, err := tx.Get(stockRef)
				if err != nil {
					if status.Code(err) == codes.NotFound {
						return repositories.NewStockError(repositories.StockErrorNotFound, fmt.Sprintf("stock %s not found", id), err)
					}
					return err
				}
				var stockDoc stockDocument
				if err := snap.DataTo(&stockDoc); err != nil {
					return fmt.Errorf("decode inventory stock %s: %w", id, err)
				}
				staged = append(staged, stagedStock{ref: stockRef, doc: stockDoc, key: key})
				pos = len(staged) - 1
				index[id] = pos
			}
			doc := &staged[pos].doc
			doc.OnHand += line.Quantity
			doc.UnitsSold -= line.Quantity
			if doc.UnitsSold < 0 {
				doc.UnitsSold = 0
			}
			doc.UpdatedAt = now
		}

		stocks := make(map[domain.StockKey]domain.InventoryStock, len(staged))
		for _, entry := range staged {
			if err := tx.Set(entry.ref, entry.doc); err != nil {
				return err
			}
			stocks[entry.key] = entry.doc.toDomain()
		}

		orderDoc.StockRestored = true
		orderDoc.UpdatedAt = now
		if err := tx.Set(orderRef, orderDoc); err != nil {
			return err
		}

		result = repositories.RestockOrderResult{
			Order:  orderDoc.toDomain(orderID),
			Stocks: stocks,
		}
		return nil
	})
	if err != nil {
		return repositories.RestockOrderResult{}, wrapStockError("inventory.restock", err)
	}
	return result, nil
}

// Helper structures ----------------------------------------------------------

type stockDocument struct {
	ProductID string                  `firestore:"productId"`
	VariantID string                  `firestore:"variantId,omitempty"`
	Name      string                  `firestore:"name"`
	SKU       string                  `firestore:"sku"`
	UnitPrice int64                   `firestore:"unitPrice"`
	OnHand    int                     `firestore:"onHand"`
	UnitsSold int                     `firestore:"unitsSold"`
	Options   []variantOptionDocument `firestore:"options,omitempty"`
	UpdatedAt time.Time               `firestore:"updatedAt"`
}

func (s stockDocument) toDomain() domain.InventoryStock {
	return domain.InventoryStock{
		ProductID:      strings.TrimSpace(s.ProductID),
		VariantID:      strings.TrimSpace(s.VariantID),
		Name:           s.Name,
		SKU:            s.SKU,
		UnitPrice:      s.UnitPrice,
		OnHand:         s.OnHand,
		UnitsSold:      s.UnitsSold,
		VariantOptions: variantOptionsToDomain(s.Options),
		UpdatedAt:      s.UpdatedAt,
	}
}

func wrapStockError(op string, err error) error {
	if err == nil {
		return nil
	}
	var stockErr *repositories.StockError
	if errors.As(err, &stockErr) {
		if stockErr.Op == "" {
			stockErr.Op = op
		}
		return stockErr
	}
	var orderErr *repositories.OrderError
	if errors.As(err, &orderErr) {
		if orderErr.Op == "" {
			orderErr.Op = op
		}
		return orderErr
	}
	return pfirestore.WrapError(op, err)
}
