package firestore

import (
	"context"
	"errors"

	pfirestore "github.com/clovermart/api/internal/platform/firestore"
	"github.com/clovermart/api/internal/repositories"
)

// Registry bundles the Firestore-backed repositories behind the
// repositories.Registry interface.
type Registry struct {
	provider *pfirestore.Provider

	carts     *CartRepository
	inventory *InventoryRepository
	orders    *OrderRepository
	coupons   *CouponRepository
	counters  *CounterRepository
	checkout  *CheckoutRepository
}

// NewRegistry constructs every Firestore repository against the shared provider.
func NewRegistry(provider *pfirestore.Provider) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("registry requires firestore provider")
	}

	carts, err := NewCartRepository(provider)
	if err != nil {
		return nil, err
	}
	inventory, err := NewInventoryRepository(provider)
	if err != nil {
		return nil, err
	}
	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, err
	}
	coupons, err := NewCouponRepository(provider)
	if err != nil {
		return nil, err
	}
	counters, err := NewCounterRepository(provider)
	if err != nil {
		return nil, err
	}
	checkout, err := NewCheckoutRepository(provider)
	if err != nil {
		return nil, err
	}

	return &Registry{
		provider:  provider,
		carts:     carts,
		inventory: inventory,
		orders:    orders,
		coupons:   coupons,
		counters:  counters,
		checkout:  checkout,
	}, nil
}

// Close releases the underlying Firestore client.
func (r *Registry) Close(ctx context.Context) error {
	if r == nil || r.provider == nil {
		return nil
	}
	return r.provider.Close(ctx)
}

func (r *Registry) Carts() repositories.CartRepository { return r.carts }

func (r *Registry) Inventory() repositories.InventoryRepository { return r.inventory }

func (r *Registry) Orders() repositories.OrderRepository { return r.orders }

func (r *Registry) Coupons() repositories.CouponRepository { return r.coupons }

func (r *Registry) Counters() repositories.CounterRepository { return r.counters }

func (r *Registry) Checkout() repositories.CheckoutRepository { return r.checkout }

var _ repositories.Registry = (*Registry)(nil)
