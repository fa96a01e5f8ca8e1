package domain

import (
	"crypto/subtle"
	"strings"
	"time"
)

// BuyerRef identifies the owner of a cart or an order. Exactly one of
// UserID or the guest pair (GuestEmail, GuestSessionID) is populated.
type BuyerRef struct {
	UserID         string
	GuestEmail     string
	GuestSessionID string
}

// IsGuest reports whether the reference belongs to an anonymous buyer.
func (b BuyerRef) IsGuest() bool {
	return strings.TrimSpace(b.UserID) == ""
}

// Key returns the storage key used for cart ownership lookups.
func (b BuyerRef) Key() string {
	if uid := strings.TrimSpace(b.UserID); uid != "" {
		return uid
	}
	return strings.TrimSpace(b.GuestSessionID)
}

// CartLine is a single mutable basket entry. Quantity is always >= 1;
// VariantID is empty for variant-less products.
type CartLine struct {
	ID        string
	ProductID string
	VariantID string
	Quantity  int
}

// Cart captures the pre-purchase basket for a buyer. Checkout reads lines
// and prunes the consumed ones; it never mutates quantities.
type Cart struct {
	ID         string
	Buyer      BuyerRef
	Lines      []CartLine
	CouponCode string
	UpdatedAt  time.Time
}

// LineByID returns the cart line with the given id, if present.
func (c Cart) LineByID(lineID string) (CartLine, bool) {
	for _, line := range c.Lines {
		if line.ID == lineID {
			return line, true
		}
	}
	return CartLine{}, false
}

// VariantOption is a single display attribute of a product variant,
// e.g. {Name: "Color", Value: "Forest Green"}.
type VariantOption struct {
	Name  string
	Value string
}

// StockKey addresses one inventory counter. A product either has a single
// product-level counter (empty VariantID) or one counter per variant,
// never both.
type StockKey struct {
	ProductID string
	VariantID string
}

// String renders the key as the stock document id.
func (k StockKey) String() string {
	if k.VariantID == "" {
		return k.ProductID
	}
	return k.ProductID + "__" + k.VariantID
}

// InventoryStock is the authoritative stock record for one StockKey.
// OnHand may never go negative; UnitsSold accumulates committed sales.
type InventoryStock struct {
	ProductID      string
	VariantID      string
	Name           string
	SKU            string
	UnitPrice      int64
	OnHand         int
	UnitsSold      int
	VariantOptions []VariantOption
	UpdatedAt      time.Time
}

// Key returns the StockKey addressing this record.
func (s InventoryStock) Key() StockKey {
	return StockKey{ProductID: s.ProductID, VariantID: s.VariantID}
}

// ResolvedLine is the ephemeral checkout projection of a cart line with
// authoritative price and stock re-read at resolution time. It is computed
// fresh on every attempt and never persisted.
type ResolvedLine struct {
	CartLineID     string
	ProductID      string
	VariantID      string
	Name           string
	SKU            string
	UnitPrice      int64
	Quantity       int
	LineTotal      int64
	AvailableStock int
	VariantOptions []VariantOption
}

// Coupon is a redemption-side view of a discount code. UsageCount is the
// global redemption counter incremented inside the checkout transaction.
type Coupon struct {
	Code          string
	Percent       int
	MinOrderValue int64
	UsageLimit    int
	UsageCount    int
	PerUserLimit  int
	ExpiresAt     time.Time
}

// PaymentMethod enumerates the accepted payment instruments.
type PaymentMethod string

const (
	// PaymentMethodCard settles instantly through a pre-authorised charge.
	PaymentMethodCard PaymentMethod = "card"
	// PaymentMethodPayPal settles instantly through a pre-authorised charge.
	PaymentMethodPayPal PaymentMethod = "paypal"
	// PaymentMethodBankTransfer is settled out of band after order creation.
	PaymentMethodBankTransfer PaymentMethod = "bank_transfer"
	// PaymentMethodCashOnDelivery is collected when the parcel is handed over.
	PaymentMethodCashOnDelivery PaymentMethod = "cash_on_delivery"
)

// IsInstant reports whether the method is captured before order creation,
// which makes the order start paid and in processing.
func (m PaymentMethod) IsInstant() bool {
	return m == PaymentMethodCard || m == PaymentMethodPayPal
}

// ParsePaymentMethod validates a raw payment method string.
func ParsePaymentMethod(raw string) (PaymentMethod, bool) {
	m := PaymentMethod(strings.ToLower(strings.TrimSpace(raw)))
	switch m {
	case PaymentMethodCard, PaymentMethodPayPal, PaymentMethodBankTransfer, PaymentMethodCashOnDelivery:
		return m, true
	}
	return "", false
}

// Address is the shipping destination snapshot stored on the order.
type Address struct {
	FullName   string
	Line1      string
	Line2      string
	City       string
	PostalCode string
	Country    string
	Phone      string
}

// VariantSnapshot preserves the variant identity of an order line at
// creation time so later catalog edits cannot alter it.
type VariantSnapshot struct {
	VariantID string
	SKU       string
	Options   []VariantOption
}

// OrderLine is an immutable snapshot of one purchased line.
type OrderLine struct {
	Name      string
	SKU       string
	UnitPrice int64
	Quantity  int
	ProductID string
	Variant   *VariantSnapshot
}

// Total returns the line total at the snapshotted unit price.
func (l OrderLine) Total() int64 {
	return l.UnitPrice * int64(l.Quantity)
}

// StockKey returns the inventory counter this line was decremented from.
func (l OrderLine) StockKey() StockKey {
	key := StockKey{ProductID: l.ProductID}
	if l.Variant != nil {
		key.VariantID = l.Variant.VariantID
	}
	return key
}

// StatusRequest records a buyer-initiated cancellation or refund request.
type StatusRequest struct {
	Reason         string
	AttachmentURLs []string
	RequestedAt    time.Time
}

// GuestToken allows unauthenticated order tracking for guest buyers.
type GuestToken struct {
	Token     string
	ExpiresAt time.Time
}

// Valid reports whether the token matches and is unexpired at now.
func (t GuestToken) Valid(token string, now time.Time) bool {
	if t.Token == "" || token == "" {
		return false
	}
	if subtle.ConstantTimeCompare([]byte(t.Token), []byte(token)) != 1 {
		return false
	}
	return now.Before(t.ExpiresAt)
}

// Order is created exactly once by the checkout commit and is immutable
// afterwards except for the lifecycle fields mutated by the status state
// machine and the restock flag.
type Order struct {
	ID          string
	OrderNumber string
	Buyer       BuyerRef
	Lines       []OrderLine

	ItemsPrice     int64
	DiscountAmount int64
	ShippingPrice  int64
	TaxPrice       int64
	TotalPrice     int64
	CouponCode     string

	Status         OrderStatus
	PreviousStatus *OrderStatus

	CancellationRequest *StatusRequest
	RefundRequest       *StatusRequest

	PaymentMethod   PaymentMethod
	ShippingAddress Address

	IsPaid      bool
	PaidAt      *time.Time
	IsDelivered bool
	DeliveredAt *time.Time

	StockRestored bool
	GuestToken    *GuestToken

	CreatedAt time.Time
	UpdatedAt time.Time
}

// CursorPage is a generic page of results with an opaque continuation token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// Pagination captures cursor-based pagination inputs.
type Pagination struct {
	PageSize  int
	PageToken string
}

// RangeQuery expresses an inclusive range filter over an ordered type.
type RangeQuery[T any] struct {
	From *T
	To   *T
}
