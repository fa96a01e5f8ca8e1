package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/clovermart/api/internal/domain"
	pfirestore "github.com/clovermart/api/internal/platform/firestore"
	"github.com/clovermart/api/internal/repositories"
)

const (
	couponsCollection     = "coupons"
	couponUsageCollection = "couponUsage"
)

// CouponRepository reads coupon terms and per-buyer redemption counts.
// The global usage counter lives on the coupon document and is only
// incremented inside the checkout commit transaction.
type CouponRepository struct {
	provider *pfirestore.Provider
	coupons  *pfirestore.BaseRepository[couponDocument]
	usage    *pfirestore.BaseRepository[couponUsageDocument]
}

// NewCouponRepository constructs a Firestore-backed coupon repository.
func NewCouponRepository(provider *pfirestore.Provider) (*CouponRepository, error) {
	if provider == nil {
		return nil, errors.New("coupon repository requires firestore provider")
	}
	coupons := pfirestore.NewBaseRepository[couponDocument](provider, couponsCollection, nil, nil)
	usage := pfirestore.NewBaseRepository[couponUsageDocument](provider, couponUsageCollection, nil, nil)
	return &CouponRepository{provider: provider, coupons: coupons, usage: usage}, nil
}

// FindByCode loads the coupon document keyed by its normalised code.
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (domain.Coupon, error) {
	if r == nil || r.coupons == nil {
		return domain.Coupon{}, errors.New("coupon repository not initialised")
	}
	normalised := normaliseCouponCode(code)
	if normalised == "" {
		return domain.Coupon{}, errors.New("coupon repository: code is required")
	}

	doc, err := r.coupons.Get(ctx, normalised)
	if err != nil {
		return domain.Coupon{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// CountUsageByUser returns how many times the buyer redeemed the coupon.
// A missing usage document means zero redemptions.
func (r *CouponRepository) CountUsageByUser(ctx context.Context, code string, buyerKey string) (int, error) {
	if r == nil || r.usage == nil {
		return 0, errors.New("coupon repository not initialised")
	}
	id := couponUsageDocID(code, buyerKey)
	if id == "" {
		return 0, errors.New("coupon repository: code and buyer key are required")
	}

	doc, err := r.usage.Get(ctx, id)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return 0, nil
		}
		return 0, err
	}
	return doc.Data.Count, nil
}

func normaliseCouponCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func couponUsageDocID(code, buyerKey string) string {
	normalised := normaliseCouponCode(code)
	key := strings.TrimSpace(buyerKey)
	if normalised == "" || key == "" {
		return ""
	}
	return normalised + "__" + key
}

type couponDocument struct {
	Percent       int       `firestore:"percent"`
	MinOrderValue int64     `firestore:"minOrderValue"`
	UsageLimit    int       `firestore:"usageLimit"`
	UsageCount    int       `firestore:"usageCount"`
	PerUserLimit  int       `firestore:"perUserLimit"`
	ExpiresAt     time.Time `firestore:"expiresAt"`
}

func (d couponDocument) toDomain(code string) domain.Coupon {
	return domain.Coupon{
		Code:          code,
		Percent:       d.Percent,
		MinOrderValue: d.MinOrderValue,
		UsageLimit:    d.UsageLimit,
		UsageCount:    d.UsageCount,
		PerUserLimit:  d.PerUserLimit,
		ExpiresAt:     d.ExpiresAt,
	}
}

type couponUsageDocument struct {
	Code      string    `firestore:"code"`
	BuyerKey  string    `firestore:"buyerKey"`
	Count     int       `firestore:"count"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}
