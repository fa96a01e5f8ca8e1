package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/clovermart/api/internal/domain"
	"github.com/clovermart/api/internal/repositories"
)

const (
	orderIDPrefix           = "ord_"
	defaultCommitTimeout    = 10 * time.Second
	defaultGuestTokenTTL    = 7 * 24 * time.Hour
	guestTokenBytes         = 32
	orderNumberCounterName  = "orders"
	eventTypeOrderPlaced    = "order.placed"
	eventTypeCheckoutFailed = "checkout.commit.failed"
)

var (
	// ErrCheckoutInvalidInput indicates the caller supplied invalid input parameters.
	ErrCheckoutInvalidInput = errors.New("checkout: invalid input")
	// ErrCheckoutUnavailable indicates checkout dependencies are currently unavailable.
	ErrCheckoutUnavailable = errors.New("checkout: unavailable")
	// ErrSelectionStale indicates selected cart lines no longer match the live
	// cart or catalog; the buyer must review the cart and retry.
	ErrSelectionStale = errors.New("checkout: selection stale")
	// ErrInsufficientStock indicates a selected line requests more units than
	// are on hand.
	ErrInsufficientStock = errors.New("checkout: insufficient stock")
	// ErrCouponRejected indicates the cart's coupon cannot be applied to the
	// selected subset.
	ErrCouponRejected = errors.New("checkout: coupon rejected")
	// ErrCheckoutTimeout indicates the commit transaction exceeded its deadline;
	// nothing was persisted.
	ErrCheckoutTimeout = errors.New("checkout: commit timed out")
	// ErrCheckoutConflict indicates a concurrent modification prevented the commit.
	ErrCheckoutConflict = errors.New("checkout: conflict")
)

// InsufficientStockError reports the first line that failed stock validation.
type InsufficientStockError struct {
	ProductID string
	VariantID string
	SKU       string
	Available int
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: available %d, requested %d", e.SKU, e.Available, e.Requested)
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

// StaleSelectionError lists the cart line ids that vanished between page load
// and checkout.
type StaleSelectionError struct {
	LineIDs []string
}

func (e *StaleSelectionError) Error() string {
	return fmt.Sprintf("cart lines no longer available: %s", strings.Join(e.LineIDs, ", "))
}

func (e *StaleSelectionError) Unwrap() error { return ErrSelectionStale }

// PricingQuoter supplies shipping and tax for an order about to be committed.
// The default quoter prices both at zero.
type PricingQuoter interface {
	Quote(ctx context.Context, itemsPrice, discount int64) (shipping, tax int64, err error)
}

type zeroQuoter struct{}

func (zeroQuoter) Quote(context.Context, int64, int64) (int64, int64, error) { return 0, 0, nil }

// CheckoutServiceDeps wires the dependencies required by the checkout service.
type CheckoutServiceDeps struct {
	Carts         repositories.CartRepository
	Inventory     repositories.InventoryRepository
	Coupons       repositories.CouponRepository
	Counters      repositories.CounterRepository
	Checkout      repositories.CheckoutRepository
	Quoter        PricingQuoter
	Events        OrderEventPublisher
	Clock         func() time.Time
	IDGenerator   func() string
	TokenSource   func() (string, error)
	Logger        func(ctx context.Context, event string, fields map[string]any)
	CommitTimeout time.Duration
	GuestTokenTTL time.Duration
}

type checkoutService struct {
	carts         repositories.CartRepository
	inventory     repositories.InventoryRepository
	coupons       repositories.CouponRepository
	counters      repositories.CounterRepository
	checkout      repositories.CheckoutRepository
	quoter        PricingQuoter
	events        OrderEventPublisher
	clock         func() time.Time
	newID         func() string
	newToken      func() (string, error)
	logger        func(context.Context, string, map[string]any)
	commitTimeout time.Duration
	guestTokenTTL time.Duration
}

// NewCheckoutService constructs a CheckoutService validating required dependencies.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	if deps.Carts == nil {
		return nil, errors.New("checkout service: cart repository is required")
	}
	if deps.Inventory == nil {
		return nil, errors.New("checkout service: inventory repository is required")
	}
	if deps.Coupons == nil {
		return nil, errors.New("checkout service: coupon repository is required")
	}
	if deps.Counters == nil {
		return nil, errors.New("checkout service: counter repository is required")
	}
	if deps.Checkout == nil {
		return nil, errors.New("checkout service: checkout repository is required")
	}

	quoter := deps.Quoter
	if quoter == nil {
		quoter = zeroQuoter{}
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	tokenSource := deps.TokenSource
	if tokenSource == nil {
		tokenSource = randomToken
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	commitTimeout := deps.CommitTimeout
	if commitTimeout <= 0 {
		commitTimeout = defaultCommitTimeout
	}
	tokenTTL := deps.GuestTokenTTL
	if tokenTTL <= 0 {
		tokenTTL = defaultGuestTokenTTL
	}

	return &checkoutService{
		carts:     deps.Carts,
		inventory: deps.Inventory,
		coupons:   deps.Coupons,
		counters:  deps.Counters,
		checkout:  deps.Checkout,
		quoter:    quoter,
		events:    deps.Events,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:         idGen,
		newToken:      tokenSource,
		logger:        logger,
		commitTimeout: commitTimeout,
		guestTokenTTL: tokenTTL,
	}, nil
}

// PlaceOrder resolves the selected cart lines against the live cart and
// catalog, assembles the order, and commits it atomically. The cart itself is
// never mutated outside the commit transaction.
func (s *checkoutService) PlaceOrder(ctx context.Context, cmd PlaceOrderCommand) (PlaceOrderResult, error) {
	if s == nil || s.checkout == nil {
		return PlaceOrderResult{}, ErrCheckoutUnavailable
	}

	buyerKey := cmd.Buyer.Key()
	if buyerKey == "" {
		return PlaceOrderResult{}, fmt.Errorf("%w: buyer is required", ErrCheckoutInvalidInput)
	}
	if cmd.Buyer.IsGuest() && strings.TrimSpace(cmd.Buyer.GuestEmail) == "" {
		return PlaceOrderResult{}, fmt.Errorf("%w: guest email is required", ErrCheckoutInvalidInput)
	}
	lineIDs := dedupeLineIDs(cmd.LineIDs)
	if len(lineIDs) == 0 {
		return PlaceOrderResult{}, fmt.Errorf("%w: at least one cart line must be selected", ErrCheckoutInvalidInput)
	}
	method, ok := domain.ParsePaymentMethod(cmd.PaymentMethod)
	if !ok {
		return PlaceOrderResult{}, fmt.Errorf("%w: unsupported payment method %q", ErrCheckoutInvalidInput, cmd.PaymentMethod)
	}
	if err := validateShippingAddress(cmd.ShippingAddress); err != nil {
		return PlaceOrderResult{}, err
	}

	now := s.clock()

	cart, err := s.carts.GetCart(ctx, buyerKey)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return PlaceOrderResult{}, &StaleSelectionError{LineIDs: lineIDs}
		}
		return PlaceOrderResult{}, fmt.Errorf("%w: %v", ErrCheckoutUnavailable, err)
	}

	resolved, err := s.resolveSelection(ctx, cart, lineIDs)
	if err != nil {
		return PlaceOrderResult{}, err
	}

	itemsPrice := int64(0)
	for _, line := range resolved {
		itemsPrice += line.LineTotal
	}

	discount, err := s.applyCoupon(ctx, cart, buyerKey, itemsPrice, now)
	if err != nil {
		return PlaceOrderResult{}, err
	}

	shipping, tax, err := s.quoter.Quote(ctx, itemsPrice, discount)
	if err != nil {
		return PlaceOrderResult{}, fmt.Errorf("%w: %v", ErrCheckoutUnavailable, err)
	}

	order, token, err := s.assembleOrder(ctx, cmd, cart, resolved, method, orderTotals{
		items:    itemsPrice,
		discount: discount,
		shipping: shipping,
		tax:      tax,
	}, now)
	if err != nil {
		return PlaceOrderResult{}, err
	}

	commitCtx, cancel := context.WithTimeout(ctx, s.commitTimeout)
	defer cancel()

	result, err := s.checkout.Commit(commitCtx, repositories.CheckoutCommitRequest{
		Order:      order,
		BuyerKey:   buyerKey,
		LineIDs:    lineIDs,
		CouponCode: cart.CouponCode,
		Now:        now,
	})
	if err != nil {
		mapped := s.mapCommitError(err)
		s.logger(ctx, eventTypeCheckoutFailed, map[string]any{
			"order": order.ID,
			"buyer": buyerKey,
			"error": err.Error(),
		})
		return PlaceOrderResult{}, mapped
	}

	s.publishEvent(ctx, OrderEvent{
		Type:          eventTypeOrderPlaced,
		OrderID:       result.Order.ID,
		OrderNumber:   result.Order.OrderNumber,
		CurrentStatus: string(result.Order.Status),
		OccurredAt:    now,
	})

	return PlaceOrderResult{Order: result.Order, GuestTrackingToken: token}, nil
}

// resolveSelection matches the requested line ids against the live cart and
// re-reads price and availability from inventory. Anything missing makes the
// whole selection stale.
func (s *checkoutService) resolveSelection(ctx context.Context, cart Cart, lineIDs []string) ([]ResolvedLine, error) {
	selected := make([]CartLine, 0, len(lineIDs))
	var stale []string
	for _, id := range lineIDs {
		line, ok := cart.LineByID(id)
		if !ok {
			stale = append(stale, id)
			continue
		}
		selected = append(selected, line)
	}
	if len(stale) > 0 {
		return nil, &StaleSelectionError{LineIDs: stale}
	}

	keys := make([]StockKey, len(selected))
	for i, line := range selected {
		keys[i] = StockKey{ProductID: line.ProductID, VariantID: line.VariantID}
	}
	stocks, err := s.inventory.GetStocks(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCheckoutUnavailable, err)
	}

	resolved := make([]ResolvedLine, 0, len(selected))
	for i, line := range selected {
		stock, ok := stocks[keys[i]]
		if !ok {
			stale = append(stale, line.ID)
			continue
		}
		if line.Quantity <= 0 {
			return nil, fmt.Errorf("%w: line %s has invalid quantity", ErrCheckoutInvalidInput, line.ID)
		}
		if stock.OnHand < line.Quantity {
			return nil, &InsufficientStockError{
				ProductID: stock.ProductID,
				VariantID: stock.VariantID,
				SKU:       stock.SKU,
				Available: stock.OnHand,
				Requested: line.Quantity,
			}
		}
		resolved = append(resolved, ResolvedLine{
			CartLineID:     line.ID,
			ProductID:      stock.ProductID,
			VariantID:      stock.VariantID,
			Name:           stock.Name,
			SKU:            stock.SKU,
			UnitPrice:      stock.UnitPrice,
			Quantity:       line.Quantity,
			LineTotal:      stock.UnitPrice * int64(line.Quantity),
			AvailableStock: stock.OnHand,
			VariantOptions: stock.VariantOptions,
		})
	}
	if len(stale) > 0 {
		return nil, &StaleSelectionError{LineIDs: stale}
	}
	return resolved, nil
}

// applyCoupon recomputes the cart's coupon against the selected subset only.
// A coupon that was valid for the full cart may be rejected here.
func (s *checkoutService) applyCoupon(ctx context.Context, cart Cart, buyerKey string, itemsPrice int64, now time.Time) (int64, error) {
	code := strings.TrimSpace(cart.CouponCode)
	if code == "" {
		return 0, nil
	}

	coupon, err := s.coupons.FindByCode(ctx, code)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return 0, fmt.Errorf("%w: coupon %s does not exist", ErrCouponRejected, code)
		}
		return 0, fmt.Errorf("%w: %v", ErrCheckoutUnavailable, err)
	}

	if !coupon.ExpiresAt.IsZero() && now.After(coupon.ExpiresAt) {
		return 0, fmt.Errorf("%w: coupon %s has expired", ErrCouponRejected, code)
	}
	if coupon.MinOrderValue > 0 && itemsPrice < coupon.MinOrderValue {
		return 0, fmt.Errorf("%w: selection total %d below coupon minimum %d", ErrCouponRejected, itemsPrice, coupon.MinOrderValue)
	}
	if coupon.UsageLimit > 0 && coupon.UsageCount >= coupon.UsageLimit {
		return 0, fmt.Errorf("%w: coupon %s usage limit reached", ErrCouponRejected, code)
	}
	if coupon.PerUserLimit > 0 {
		used, err := s.coupons.CountUsageByUser(ctx, code, buyerKey)
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrCheckoutUnavailable, err)
		}
		if used >= coupon.PerUserLimit {
			return 0, fmt.Errorf("%w: coupon %s already redeemed", ErrCouponRejected, code)
		}
	}
	if coupon.Percent <= 0 || coupon.Percent > 100 {
		return 0, fmt.Errorf("%w: coupon %s has invalid percentage", ErrCouponRejected, code)
	}

	return itemsPrice * int64(coupon.Percent) / 100, nil
}

type orderTotals struct {
	items    int64
	discount int64
	shipping int64
	tax      int64
}

func (s *checkoutService) assembleOrder(ctx context.Context, cmd PlaceOrderCommand, cart Cart, resolved []ResolvedLine, method PaymentMethod, totals orderTotals, now time.Time) (Order, string, error) {
	lines := make([]OrderLine, len(resolved))
	for i, line := range resolved {
		lines[i] = OrderLine{
			Name:      line.Name,
			SKU:       line.SKU,
			UnitPrice: line.UnitPrice,
			Quantity:  line.Quantity,
			ProductID: line.ProductID,
		}
		if line.VariantID != "" {
			lines[i].Variant = &domain.VariantSnapshot{
				VariantID: line.VariantID,
				SKU:       line.SKU,
				Options:   line.VariantOptions,
			}
		}
	}

	number, err := s.generateOrderNumber(ctx, now)
	if err != nil {
		return Order{}, "", fmt.Errorf("%w: %v", ErrCheckoutUnavailable, err)
	}

	order := Order{
		ID:              orderIDPrefix + s.newID(),
		OrderNumber:     number,
		Buyer:           cmd.Buyer,
		Lines:           lines,
		ItemsPrice:      totals.items,
		DiscountAmount:  totals.discount,
		ShippingPrice:   totals.shipping,
		TaxPrice:        totals.tax,
		TotalPrice:      totals.items - totals.discount + totals.shipping + totals.tax,
		CouponCode:      strings.TrimSpace(cart.CouponCode),
		PaymentMethod:   method,
		ShippingAddress: cmd.ShippingAddress,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	// Instant methods are captured before the order exists; everything else
	// starts pending until an operator confirms settlement.
	if method.IsInstant() {
		order.Status = domain.OrderStatusProcessing
		order.IsPaid = true
		paidAt := now
		order.PaidAt = &paidAt
	} else {
		order.Status = domain.OrderStatusPending
	}

	var handout string
	if cmd.Buyer.IsGuest() {
		token, err := s.newToken()
		if err != nil {
			return Order{}, "", fmt.Errorf("%w: %v", ErrCheckoutUnavailable, err)
		}
		order.GuestToken = &domain.GuestToken{Token: token, ExpiresAt: now.Add(s.guestTokenTTL)}
		handout = token
	}

	return order, handout, nil
}

func (s *checkoutService) generateOrderNumber(ctx context.Context, now time.Time) (string, error) {
	seq, err := s.counters.Next(ctx, orderNumberCounterName, 1)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("CM-%04d-%06d", now.Year(), seq), nil
}

func (s *checkoutService) mapCommitError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrCheckoutTimeout
	}

	var stockErr *repositories.StockError
	if errors.As(err, &stockErr) {
		switch stockErr.Code {
		case repositories.StockErrorInsufficient:
			return &InsufficientStockError{
				SKU:       stockErr.SKU,
				Available: stockErr.Available,
				Requested: stockErr.Requested,
			}
		case repositories.StockErrorNotFound:
			return fmt.Errorf("%w: %v", ErrSelectionStale, err)
		}
	}

	var checkoutErr *repositories.CheckoutError
	if errors.As(err, &checkoutErr) {
		switch checkoutErr.Code {
		case repositories.CheckoutErrorCartChanged:
			return fmt.Errorf("%w: %v", ErrSelectionStale, err)
		case repositories.CheckoutErrorCouponExhausted:
			return fmt.Errorf("%w: %v", ErrCouponRejected, err)
		case repositories.CheckoutErrorDuplicateOrder:
			return fmt.Errorf("%w: %v", ErrCheckoutConflict, err)
		}
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsConflict() {
		return fmt.Errorf("%w: %v", ErrCheckoutConflict, err)
	}

	return fmt.Errorf("%w: %v", ErrCheckoutUnavailable, err)
}

func (s *checkoutService) publishEvent(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish.failed", map[string]any{
			"type":  event.Type,
			"order": event.OrderID,
			"error": err.Error(),
		})
	}
}

func validateShippingAddress(addr Address) error {
	switch {
	case strings.TrimSpace(addr.FullName) == "":
		return fmt.Errorf("%w: shipping address full name is required", ErrCheckoutInvalidInput)
	case strings.TrimSpace(addr.Line1) == "":
		return fmt.Errorf("%w: shipping address line 1 is required", ErrCheckoutInvalidInput)
	case strings.TrimSpace(addr.City) == "":
		return fmt.Errorf("%w: shipping address city is required", ErrCheckoutInvalidInput)
	case strings.TrimSpace(addr.PostalCode) == "":
		return fmt.Errorf("%w: shipping address postal code is required", ErrCheckoutInvalidInput)
	case strings.TrimSpace(addr.Country) == "":
		return fmt.Errorf("%w: shipping address country is required", ErrCheckoutInvalidInput)
	}
	return nil
}

func dedupeLineIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		trimmed := strings.TrimSpace(id)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	return out
}

func randomToken() (string, error) {
	buf := make([]byte, guestTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate guest token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
