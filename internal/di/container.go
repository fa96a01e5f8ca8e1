package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/clovermart/api/internal/platform/config"
	"github.com/clovermart/api/internal/repositories"
	"github.com/clovermart/api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon.
// Concrete implementations are assembled via dependency injection in
// NewContainer.
type Services struct {
	Checkout  services.CheckoutService
	Orders    services.OrderService
	Inventory services.InventoryService
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// Options carries optional collaborators injected from main.
type Options struct {
	Events services.OrderEventPublisher
	Logger *zap.Logger
}

// NewContainer constructs the runtime dependencies. Production wiring provides
// real implementations, while tests can supply in-memory registries.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, opts Options) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}

	svc, err := buildServices(reg, cfg, opts)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
	}, nil
}

// Close releases resources such as repository clients, background workers, or caches.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(reg repositories.Registry, cfg config.Config, opts Options) (Services, error) {
	var svc Services

	serviceLogger := func(ctx context.Context, event string, fields map[string]any) {
		if opts.Logger == nil {
			return
		}
		zapFields := make([]zap.Field, 0, len(fields))
		for key, value := range fields {
			zapFields = append(zapFields, zap.Any(key, value))
		}
		opts.Logger.Info(event, zapFields...)
	}

	quoter, err := services.NewFlatRateQuoter(services.FlatRateQuoterDeps{
		ShippingFee:       cfg.Checkout.ShippingFee,
		FreeShippingAbove: cfg.Checkout.FreeShippingAbove,
		TaxRateBps:        int64(cfg.Checkout.TaxRateBps),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build pricing quoter: %w", err)
	}

	checkoutSvc, err := services.NewCheckoutService(services.CheckoutServiceDeps{
		Carts:         reg.Carts(),
		Inventory:     reg.Inventory(),
		Coupons:       reg.Coupons(),
		Counters:      reg.Counters(),
		Checkout:      reg.Checkout(),
		Quoter:        quoter,
		Events:        opts.Events,
		Clock:         time.Now,
		Logger:        serviceLogger,
		CommitTimeout: cfg.Checkout.CommitTimeout,
		GuestTokenTTL: cfg.Checkout.GuestTokenTTL,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build checkout service: %w", err)
	}
	svc.Checkout = checkoutSvc

	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:    reg.Orders(),
		Inventory: reg.Inventory(),
		Events:    opts.Events,
		Clock:     time.Now,
		Logger:    serviceLogger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orderSvc

	inventorySvc, err := services.NewInventoryService(services.InventoryServiceDeps{
		Inventory: reg.Inventory(),
		Clock:     time.Now,
		Logger:    serviceLogger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build inventory service: %w", err)
	}
	svc.Inventory = inventorySvc

	return svc, nil
}
