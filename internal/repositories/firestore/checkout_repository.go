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

// CheckoutRepository executes the atomic checkout commit in a single
// Firestore transaction: create the order, decrement every touched stock
// counter while crediting units-sold, increment the coupon ledger, and prune
// the consumed cart lines. Any failure rolls the whole commit back.
type CheckoutRepository struct {
	provider *pfirestore.Provider
	orders   *pfirestore.BaseRepository[orderDocument]
	stocks   *pfirestore.BaseRepository[stockDocument]
	carts    *pfirestore.BaseRepository[cartDocument]
	coupons  *pfirestore.BaseRepository[couponDocument]
	usage    *pfirestore.BaseRepository[couponUsageDocument]
}

// NewCheckoutRepository constructs a Firestore-backed checkout repository.
func NewCheckoutRepository(provider *pfirestore.Provider) (*CheckoutRepository, error) {
	if provider == nil {
		return nil, errors.New("checkout repository requires firestore provider")
	}
	return &CheckoutRepository{
		provider: provider,
		orders:   pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection, nil, nil),
		stocks:   pfirestore.NewBaseRepository[stockDocument](provider, inventoryCollection, nil, nil),
		carts:    pfirestore.NewBaseRepository[cartDocument](provider, cartsCollection, nil, nil),
		coupons:  pfirestore.NewBaseRepository[couponDocument](provider, couponsCollection, nil, nil),
		usage:    pfirestore.NewBaseRepository[couponUsageDocument](provider, couponUsageCollection, nil, nil),
	}, nil
}

// Commit runs the commit transaction. Stock availability is revalidated
// against the transactional reads, so the decision to sell is made on the
// same snapshot the decrement is written against.
func (r *CheckoutRepository) Commit(ctx context.Context, req repositories.CheckoutCommitRequest) (repositories.CheckoutCommitResult, error) {
	if r == nil || r.provider == nil {
		return repositories.CheckoutCommitResult{}, errors.New("checkout repository not initialised")
	}
	orderID := strings.TrimSpace(req.Order.ID)
	if orderID == "" {
		return repositories.CheckoutCommitResult{}, repositories.NewCheckoutError(repositories.CheckoutErrorUnknown, "checkout commit: order id is required", nil)
	}
	if len(req.Order.Lines) == 0 {
		return repositories.CheckoutCommitResult{}, repositories.NewCheckoutError(repositories.CheckoutErrorUnknown, "checkout commit: at least one line is required", nil)
	}
	buyerKey := strings.TrimSpace(req.BuyerKey)
	if buyerKey == "" {
		return repositories.CheckoutCommitResult{}, repositories.NewCheckoutError(repositories.CheckoutErrorUnknown, "checkout commit: buyer key is required", nil)
	}
	now := req.Now.UTC()

	var result repositories.CheckoutCommitResult
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		// Reads first: Firestore transactions reject reads after writes.
		orderRef, err := r.orders.DocumentRef(ctx, orderID)
		if err != nil {
			return err
		}
		if _, err := tx.Get(orderRef); err == nil {
			return repositories.NewCheckoutError(repositories.CheckoutErrorDuplicateOrder, fmt.Sprintf("order %s already exists", orderID), nil)
		} else if status.Code(err) != codes.NotFound {
			return err
		}

		cartRef, err := r.carts.DocumentRef(ctx, buyerKey)
		if err != nil {
			return err
		}
		cartSnap, err := tx.Get(cartRef)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return repositories.NewCheckoutError(repositories.CheckoutErrorCartChanged, fmt.Sprintf("cart for %s no longer exists", buyerKey), err)
			}
			return err
		}
		var cartDoc cartDocument
		if err := cartSnap.DataTo(&cartDoc); err != nil {
			return fmt.Errorf("decode cart %s: %w", buyerKey, err)
		}

		stockWrites, stocks, err := r.stageStockDecrements(ctx, tx, req.Order.Lines, now)
		if err != nil {
			return err
		}

		couponWrite, usageWrite, err := r.stageCouponIncrement(ctx, tx, req.CouponCode, buyerKey, now)
		if err != nil {
			return err
		}

		// Writes. Create fails on id collision even after the read above.
		if err := tx.Create(orderRef, newOrderDocument(req.Order)); err != nil {
			if status.Code(err) == codes.AlreadyExists {
				return repositories.NewCheckoutError(repositories.CheckoutErrorDuplicateOrder, fmt.Sprintf("order %s already exists", orderID), err)
			}
			return err
		}
		for _, write := range stockWrites {
			if err := tx.Set(write.ref, write.doc); err != nil {
				return err
			}
		}
		if couponWrite != nil {
			if err := tx.Set(couponWrite.ref, couponWrite.doc); err != nil {
				return err
			}
			if err := tx.Set(usageWrite.ref, usageWrite.doc); err != nil {
				return err
			}
		}
		if err := r.pruneCart(tx, cartRef, cartDoc, req.LineIDs, now); err != nil {
			return err
		}

		order := req.Order
		order.CreatedAt = now
		order.UpdatedAt = now
		result = repositories.CheckoutCommitResult{Order: order, Stocks: stocks}
		return nil
	})
	if err != nil {
		return repositories.CheckoutCommitResult{}, wrapCheckoutError("checkout.commit", err)
	}
	return result, nil
}

type stockWrite struct {
	ref *firestore.DocumentRef
	doc stockDocument
}

// stageStockDecrements re-reads every touched counter inside the transaction
// and prepares the decremented documents. Lines sharing a stock key merge
// into one staged write so the decrements accumulate instead of overwriting
// each other. Insufficiency surfaces as a typed stock error carrying the
// offending line's availability.
func (r *CheckoutRepository) stageStockDecrements(ctx context.Context, tx *firestore.Transaction, lines []domain.OrderLine, now time.Time) ([]stockWrite, map[domain.StockKey]domain.InventoryStock, error) {
	writes := make([]stockWrite, 0, len(lines))
	index := make(map[string]int, len(lines))
	stocks := make(map[domain.StockKey]domain.InventoryStock, len(lines))
	for _, line := range lines {
		key := line.StockKey()
		id := key.String()
		if strings.TrimSpace(key.ProductID) == "" {
			return nil, nil, repositories.NewStockError(repositories.StockErrorUnknown, "checkout commit: line product id is required", nil)
		}
		if line.Quantity <= 0 {
			return nil, nil, repositories.NewStockError(repositories.StockErrorUnknown, fmt.Sprintf("checkout commit: quantity for %s must be > 0", id), nil)
		}

		pos, seen := index[id]
		if !seen {
			stockRef, err := r.stocks.DocumentRef(ctx, id)
			if err != nil {
				return nil, nil, err
			}
			snap, err := tx.Get(stockRef)
			if err != nil {
				if status.Code(err) == codes.NotFound {
					return nil, nil, repositories.NewStockError(repositories.StockErrorNotFound, fmt.Sprintf("stock %s not found", id), err)
				}
				return nil, nil, err
			}
			var doc stockDocument
			if err := snap.DataTo(&doc); err != nil {
				return nil, nil, fmt.Errorf("decode inventory stock %s: %w", id, err)
			}
			writes = append(writes, stockWrite{ref: stockRef, doc: doc})
			pos = len(writes) - 1
			index[id] = pos
		}

		doc := &writes[pos].doc
		if doc.OnHand < line.Quantity {
			return nil, nil, &repositories.StockError{
				Code:      repositories.StockErrorInsufficient,
				Message:   fmt.Sprintf("insufficient stock for %s", id),
				SKU:       doc.SKU,
				Available: doc.OnHand,
				Requested: line.Quantity,
			}
		}
		doc.OnHand -= line.Quantity
		doc.UnitsSold += line.Quantity
		doc.UpdatedAt = now
		stocks[key] = doc.toDomain()
	}
	return writes, stocks, nil
}

type couponWriteDoc struct {
	ref *firestore.DocumentRef
	doc couponDocument
}

type usageWriteDoc struct {
	ref *firestore.DocumentRef
	doc couponUsageDocument
}

// stageCouponIncrement re-reads the coupon ledger inside the transaction and
// prepares the bumped counters. Losing a usage-limit race here aborts the
// whole commit.
func (r *CheckoutRepository) stageCouponIncrement(ctx context.Context, tx *firestore.Transaction, code, buyerKey string, now time.Time) (*couponWriteDoc, *usageWriteDoc, error) {
	normalised := normaliseCouponCode(code)
	if normalised == "" {
		return nil, nil, nil
	}

	couponRef, err := r.coupons.DocumentRef(ctx, normalised)
	if err != nil {
		return nil, nil, err
	}
	snap, err := tx.Get(couponRef)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, nil, repositories.NewCheckoutError(repositories.CheckoutErrorCouponExhausted, fmt.Sprintf("coupon %s no longer exists", normalised), err)
		}
		return nil, nil, err
	}
	var coupon couponDocument
	if err := snap.DataTo(&coupon); err != nil {
		return nil, nil, fmt.Errorf("decode coupon %s: %w", normalised, err)
	}
	if coupon.UsageLimit > 0 && coupon.UsageCount >= coupon.UsageLimit {
		return nil, nil, repositories.NewCheckoutError(repositories.CheckoutErrorCouponExhausted, fmt.Sprintf("coupon %s usage limit reached", normalised), nil)
	}

	usageRef, err := r.usage.DocumentRef(ctx, couponUsageDocID(normalised, buyerKey))
	if err != nil {
		return nil, nil, err
	}
	usage := couponUsageDocument{Code: normalised, BuyerKey: buyerKey}
	usageSnap, err := tx.Get(usageRef)
	if err == nil {
		if err := usageSnap.DataTo(&usage); err != nil {
			return nil, nil, fmt.Errorf("decode coupon usage %s: %w", normalised, err)
		}
	} else if status.Code(err) != codes.NotFound {
		return nil, nil, err
	}
	if coupon.PerUserLimit > 0 && usage.Count >= coupon.PerUserLimit {
		return nil, nil, repositories.NewCheckoutError(repositories.CheckoutErrorCouponExhausted, fmt.Sprintf("coupon %s per-user limit reached", normalised), nil)
	}

	coupon.UsageCount++
	usage.Count++
	usage.UpdatedAt = now

	return &couponWriteDoc{ref: couponRef, doc: coupon}, &usageWriteDoc{ref: usageRef, doc: usage}, nil
}

// pruneCart rewrites the cart without the consumed lines and clears the
// coupon code when nothing remains.
func (r *CheckoutRepository) pruneCart(tx *firestore.Transaction, cartRef *firestore.DocumentRef, doc cartDocument, consumedLineIDs []string, now time.Time) error {
	consumed := make(map[string]struct{}, len(consumedLineIDs))
	for _, id := range consumedLineIDs {
		consumed[id] = struct{}{}
	}

	remaining := make([]cartLineDocument, 0, len(doc.Lines))
	for _, line := range doc.Lines {
		if _, ok := consumed[line.ID]; ok {
			continue
		}
		remaining = append(remaining, line)
	}

	doc.Lines = remaining
	if len(remaining) == 0 {
		doc.CouponCode = ""
	}
	doc.UpdatedAt = now
	return tx.Set(cartRef, doc)
}

func wrapCheckoutError(op string, err error) error {
	if err == nil {
		return nil
	}
	var checkoutErr *repositories.CheckoutError
	if errors.As(err, &checkoutErr) {
		if checkoutErr.Op == "" {
			checkoutErr.Op = op
		}
		return checkoutErr
	}
	var stockErr *repositories.StockError
	if errors.As(err, &stockErr) {
		if stockErr.Op == "" {
			stockErr.Op = op
		}
		return stockErr
	}
	return pfirestore.WrapError(op, err)
}
