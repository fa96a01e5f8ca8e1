package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/clovermart/api/internal/domain"
	pfirestore "github.com/clovermart/api/internal/platform/firestore"
)

const cartsCollection = "carts"

// CartRepository reads buyer baskets from Firestore. Cart documents are keyed
// by the buyer key, so each buyer owns at most one cart. Checkout prunes
// consumed lines inside the commit transaction; this repository only reads.
type CartRepository struct {
	base *pfirestore.BaseRepository[cartDocument]
}

// NewCartRepository constructs a Firestore-backed cart repository.
func NewCartRepository(provider *pfirestore.Provider) (*CartRepository, error) {
	if provider == nil {
		return nil, errors.New("cart repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[cartDocument](provider, cartsCollection, nil, nil)
	return &CartRepository{base: base}, nil
}

// GetCart loads the cart for the given buyer key.
func (r *CartRepository) GetCart(ctx context.Context, buyerKey string) (domain.Cart, error) {
	if r == nil || r.base == nil {
		return domain.Cart{}, errors.New("cart repository not initialised")
	}
	key := strings.TrimSpace(buyerKey)
	if key == "" {
		return domain.Cart{}, errors.New("cart repository: buyer key is required")
	}

	doc, err := r.base.Get(ctx, key)
	if err != nil {
		return domain.Cart{}, err
	}
	return doc.Data.toDomain(doc.ID, doc.UpdateTime), nil
}

type cartDocument struct {
	UserID         string             `firestore:"userId,omitempty"`
	GuestEmail     string             `firestore:"guestEmail,omitempty"`
	GuestSessionID string             `firestore:"guestSessionId,omitempty"`
	Lines          []cartLineDocument `firestore:"lines"`
	CouponCode     string             `firestore:"couponCode,omitempty"`
	UpdatedAt      time.Time          `firestore:"updatedAt"`
}

type cartLineDocument struct {
	ID        string `firestore:"id"`
	ProductID string `firestore:"productId"`
	VariantID string `firestore:"variantId,omitempty"`
	Quantity  int    `firestore:"qty"`
}

func (d cartDocument) toDomain(id string, updateTime time.Time) domain.Cart {
	lines := make([]domain.CartLine, len(d.Lines))
	for i, line := range d.Lines {
		lines[i] = domain.CartLine{
			ID:        line.ID,
			ProductID: line.ProductID,
			VariantID: line.VariantID,
			Quantity:  line.Quantity,
		}
	}
	updatedAt := d.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = updateTime
	}
	return domain.Cart{
		ID: id,
		Buyer: domain.BuyerRef{
			UserID:         d.UserID,
			GuestEmail:     d.GuestEmail,
			GuestSessionID: d.GuestSessionID,
		},
		Lines:      lines,
		CouponCode: strings.TrimSpace(d.CouponCode),
		UpdatedAt:  updatedAt,
	}
}
