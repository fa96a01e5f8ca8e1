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
	"github.com/clovermart/api/internal/platform/pagination"
	"github.com/clovermart/api/internal/repositories"
)

const ordersCollection = "orders"

// OrderRepository persists order documents within Firestore.
type OrderRepository struct {
	provider *pfirestore.Provider
	orders   *pfirestore.BaseRepository[orderDocument]
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection, nil, nil)
	return &OrderRepository{provider: provider, orders: base}, nil
}

// Insert creates the order document, failing when the id already exists.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if r == nil || r.provider == nil {
		return errors.New("order repository not initialised")
	}
	id := strings.TrimSpace(order.ID)
	if id == "" {
		return repositories.NewOrderError(repositories.OrderErrorUnknown, "order insert: id is required", nil)
	}

	ref, err := r.orders.DocumentRef(ctx, id)
	if err != nil {
		return wrapOrderError("orders.insert", err)
	}
	if _, err := ref.Create(ctx, newOrderDocument(order)); err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return repositories.NewOrderError(repositories.OrderErrorDuplicate, fmt.Sprintf("order %s already exists", id), err)
		}
		return wrapOrderError("orders.insert", err)
	}
	return nil
}

// Update rewrites the order document inside a transaction, verifying the
// stored status still matches expectedStatus. Racing lifecycle writers see
// a conflict instead of silently overwriting each other.
func (r *OrderRepository) Update(ctx context.Context, order domain.Order, expectedStatus domain.OrderStatus) error {
	if r == nil || r.provider == nil {
		return errors.New("order repository not initialised")
	}
	id := strings.TrimSpace(order.ID)
	if id == "" {
		return repositories.NewOrderError(repositories.OrderErrorUnknown, "order update: id is required", nil)
	}

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.orders.DocumentRef(ctx, id)
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return repositories.NewOrderError(repositories.OrderErrorNotFound, fmt.Sprintf("order %s not found", id), err)
			}
			return err
		}
		var stored orderDocument
		if err := snap.DataTo(&stored); err != nil {
			return fmt.Errorf("decode order %s: %w", id, err)
		}
		if stored.Status != string(expectedStatus) {
			return repositories.NewOrderError(repositories.OrderErrorStatusConflict,
				fmt.Sprintf("order %s status is %s, expected %s", id, stored.Status, expectedStatus), nil)
		}
		return tx.Set(ref, newOrderDocument(order))
	})
	if err != nil {
		return wrapOrderError("orders.update", err)
	}
	return nil
}

// FindByID loads a single order.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.orders == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	id := strings.TrimSpace(orderID)
	if id == "" {
		return domain.Order{}, repositories.NewOrderError(repositories.OrderErrorUnknown, "order id is required", nil)
	}

	doc, err := r.orders.Get(ctx, id)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return domain.Order{}, repositories.NewOrderError(repositories.OrderErrorNotFound, fmt.Sprintf("order %s not found", id), err)
		}
		return domain.Order{}, wrapOrderError("orders.get", err)
	}
	return doc.Data.toDomain(doc.ID), nil
}

// List returns orders matching the filter, newest first, as a cursor page.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if r == nil || r.orders == nil {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository not initialised")
	}

	pageSize := filter.Pagination.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}

	docs, err := r.orders.Query(ctx, func(query firestore.Query) firestore.Query {
		if buyerKey := strings.TrimSpace(filter.BuyerKey); buyerKey != "" {
			query = query.Where("buyerKey", "==", buyerKey)
		}
		if len(filter.Status) > 0 {
			statuses := make([]string, len(filter.Status))
			for i, s := range filter.Status {
				statuses[i] = string(s)
			}
			query = query.Where("status", "in", statuses)
		}
		if filter.DateRange.From != nil {
			query = query.Where("createdAt", ">=", filter.DateRange.From.UTC())
		}
		if filter.DateRange.To != nil {
			query = query.Where("createdAt", "<=", filter.DateRange.To.UTC())
		}
		query = query.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
		if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
			if cursor, err := decodeOrderPageToken(token); err == nil {
				query = query.StartAfter(cursor.CreatedAt, cursor.ID)
			}
		}
		return query.Limit(pageSize + 1)
	})
	if err != nil {
		return domain.CursorPage[domain.Order]{}, wrapOrderError("orders.list", err)
	}

	hasMore := len(docs) > pageSize
	if hasMore {
		docs = docs[:pageSize]
	}

	orders := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		orders = append(orders, doc.Data.toDomain(doc.ID))
	}

	var nextToken string
	if hasMore && len(orders) > 0 {
		last := orders[len(orders)-1]
		encoded, err := encodeOrderPageToken(orderPageToken{ID: last.ID, CreatedAt: last.CreatedAt.UTC()})
		if err != nil {
			return domain.CursorPage[domain.Order]{}, wrapOrderError("orders.list", err)
		}
		nextToken = encoded
	}

	return domain.CursorPage[domain.Order]{Items: orders, NextPageToken: nextToken}, nil
}

// Document structures --------------------------------------------------------

type orderDocument struct {
	OrderNumber string `firestore:"orderNumber"`

	BuyerKey       string `firestore:"buyerKey"`
	UserID         string `firestore:"userId,omitempty"`
	GuestEmail     string `firestore:"guestEmail,omitempty"`
	GuestSessionID string `firestore:"guestSessionId,omitempty"`

	Lines []orderLineDocument `firestore:"lines"`

	ItemsPrice     int64  `firestore:"itemsPrice"`
	DiscountAmount int64  `firestore:"discountAmount"`
	ShippingPrice  int64  `firestore:"shippingPrice"`
	TaxPrice       int64  `firestore:"taxPrice"`
	TotalPrice     int64  `firestore:"totalPrice"`
	CouponCode     string `firestore:"couponCode,omitempty"`

	Status         string `firestore:"status"`
	PreviousStatus string `firestore:"previousStatus,omitempty"`

	CancellationRequest *statusRequestDocument `firestore:"cancellationRequest,omitempty"`
	RefundRequest       *statusRequestDocument `firestore:"refundRequest,omitempty"`

	PaymentMethod   string          `firestore:"paymentMethod"`
	ShippingAddress addressDocument `firestore:"shippingAddress"`

	IsPaid      bool       `firestore:"isPaid"`
	PaidAt      *time.Time `firestore:"paidAt,omitempty"`
	IsDelivered bool       `firestore:"isDelivered"`
	DeliveredAt *time.Time `firestore:"deliveredAt,omitempty"`

	StockRestored bool `firestore:"isStockRestored"`

	GuestToken        string     `firestore:"guestToken,omitempty"`
	GuestTokenExpires *time.Time `firestore:"guestTokenExpiresAt,omitempty"`

	CreatedAt time.Time `firestore:"createdAt"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

type orderLineDocument struct {
	Name      string              `firestore:"name"`
	SKU       string              `firestore:"sku"`
	UnitPrice int64               `firestore:"unitPrice"`
	Quantity  int                 `firestore:"qty"`
	ProductID string              `firestore:"productId"`
	Variant   *variantSnapshotDoc `firestore:"variant,omitempty"`
}

type variantSnapshotDoc struct {
	VariantID string                  `firestore:"variantId"`
	SKU       string                  `firestore:"sku"`
	Options   []variantOptionDocument `firestore:"options,omitempty"`
}

type variantOptionDocument struct {
	Name  string `firestore:"name"`
	Value string `firestore:"value"`
}

type statusRequestDocument struct {
	Reason         string    `firestore:"reason"`
	AttachmentURLs []string  `firestore:"attachmentUrls,omitempty"`
	RequestedAt    time.Time `firestore:"requestedAt"`
}

type addressDocument struct {
	FullName   string `firestore:"fullName"`
	Line1      string `firestore:"line1"`
	Line2      string `firestore:"line2,omitempty"`
	City       string `firestore:"city"`
	PostalCode string `firestore:"postalCode"`
	Country    string `firestore:"country"`
	Phone      string `firestore:"phone,omitempty"`
}

func newOrderDocument(order domain.Order) orderDocument {
	lines := make([]orderLineDocument, len(order.Lines))
	for i, line := range order.Lines {
		lines[i] = orderLineDocument{
			Name:      strings.TrimSpace(line.Name),
			SKU:       strings.TrimSpace(line.SKU),
			UnitPrice: line.UnitPrice,
			Quantity:  line.Quantity,
			ProductID: strings.TrimSpace(line.ProductID),
		}
		if line.Variant != nil {
			lines[i].Variant = &variantSnapshotDoc{
				VariantID: strings.TrimSpace(line.Variant.VariantID),
				SKU:       strings.TrimSpace(line.Variant.SKU),
				Options:   newVariantOptionDocuments(line.Variant.Options),
			}
		}
	}

	doc := orderDocument{
		OrderNumber:     strings.TrimSpace(order.OrderNumber),
		BuyerKey:        order.Buyer.Key(),
		UserID:          strings.TrimSpace(order.Buyer.UserID),
		GuestEmail:      strings.TrimSpace(order.Buyer.GuestEmail),
		GuestSessionID:  strings.TrimSpace(order.Buyer.GuestSessionID),
		Lines:           lines,
		ItemsPrice:      order.ItemsPrice,
		DiscountAmount:  order.DiscountAmount,
		ShippingPrice:   order.ShippingPrice,
		TaxPrice:        order.TaxPrice,
		TotalPrice:      order.TotalPrice,
		CouponCode:      strings.TrimSpace(order.CouponCode),
		Status:          string(order.Status),
		PaymentMethod:   string(order.PaymentMethod),
		ShippingAddress: newAddressDocument(order.ShippingAddress),
		IsPaid:          order.IsPaid,
		PaidAt:          order.PaidAt,
		IsDelivered:     order.IsDelivered,
		DeliveredAt:     order.DeliveredAt,
		StockRestored:   order.StockRestored,
		CreatedAt:       order.CreatedAt.UTC(),
		UpdatedAt:       order.UpdatedAt.UTC(),
	}
	if order.PreviousStatus != nil {
		doc.PreviousStatus = string(*order.PreviousStatus)
	}
	if order.CancellationRequest != nil {
		doc.CancellationRequest = newStatusRequestDocument(*order.CancellationRequest)
	}
	if order.RefundRequest != nil {
		doc.RefundRequest = newStatusRequestDocument(*order.RefundRequest)
	}
	if order.GuestToken != nil {
		expires := order.GuestToken.ExpiresAt.UTC()
		doc.GuestToken = order.GuestToken.Token
		doc.GuestTokenExpires = &expires
	}
	return doc
}

func newStatusRequestDocument(req domain.StatusRequest) *statusRequestDocument {
	return &statusRequestDocument{
		Reason:         strings.TrimSpace(req.Reason),
		AttachmentURLs: append([]string(nil), req.AttachmentURLs...),
		RequestedAt:    req.RequestedAt.UTC(),
	}
}

func newAddressDocument(addr domain.Address) addressDocument {
	return addressDocument{
		FullName:   strings.TrimSpace(addr.FullName),
		Line1:      strings.TrimSpace(addr.Line1),
		Line2:      strings.TrimSpace(addr.Line2),
		City:       strings.TrimSpace(addr.City),
		PostalCode: strings.TrimSpace(addr.PostalCode),
		Country:    strings.ToUpper(strings.TrimSpace(addr.Country)),
		Phone:      strings.TrimSpace(addr.Phone),
	}
}

func newVariantOptionDocuments(options []domain.VariantOption) []variantOptionDocument {
	if len(options) == 0 {
		return nil
	}
	docs := make([]variantOptionDocument, len(options))
	for i, opt := range options {
		docs[i] = variantOptionDocument{Name: opt.Name, Value: opt.Value}
	}
	return docs
}

func variantOptionsToDomain(docs []variantOptionDocument) []domain.VariantOption {
	if len(docs) == 0 {
		return nil
	}
	options := make([]domain.VariantOption, len(docs))
	for i, doc := range docs {
		options[i] = domain.VariantOption{Name: doc.Name, Value: doc.Value}
	}
	return options
}

func (d orderDocument) toDomain(id string) domain.Order {
	lines := make([]domain.OrderLine, len(d.Lines))
	for i, line := range d.Lines {
		lines[i] = domain.OrderLine{
			Name:      line.Name,
			SKU:       line.SKU,
			UnitPrice: line.UnitPrice,
			Quantity:  line.Quantity,
			ProductID: line.ProductID,
		}
		if line.Variant != nil {
			lines[i].Variant = &domain.VariantSnapshot{
				VariantID: line.Variant.VariantID,
				SKU:       line.Variant.SKU,
				Options:   variantOptionsToDomain(line.Variant.Options),
			}
		}
	}

	order := domain.Order{
		ID:          id,
		OrderNumber: d.OrderNumber,
		Buyer: domain.BuyerRef{
			UserID:         d.UserID,
			GuestEmail:     d.GuestEmail,
			GuestSessionID: d.GuestSessionID,
		},
		Lines:          lines,
		ItemsPrice:     d.ItemsPrice,
		DiscountAmount: d.DiscountAmount,
		ShippingPrice:  d.ShippingPrice,
		TaxPrice:       d.TaxPrice,
		TotalPrice:     d.TotalPrice,
		CouponCode:     d.CouponCode,
		Status:         domain.OrderStatus(d.Status),
		PaymentMethod:  domain.PaymentMethod(d.PaymentMethod),
		ShippingAddress: domain.Address{
			FullName:   d.ShippingAddress.FullName,
			Line1:      d.ShippingAddress.Line1,
			Line2:      d.ShippingAddress.Line2,
			City:       d.ShippingAddress.City,
			PostalCode: d.ShippingAddress.PostalCode,
			Country:    d.ShippingAddress.Country,
			Phone:      d.ShippingAddress.Phone,
		},
		IsPaid:        d.IsPaid,
		PaidAt:        d.PaidAt,
		IsDelivered:   d.IsDelivered,
		DeliveredAt:   d.DeliveredAt,
		StockRestored: d.StockRestored,
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
	}
	if d.PreviousStatus != "" {
		prev := domain.OrderStatus(d.PreviousStatus)
		order.PreviousStatus = &prev
	}
	if d.CancellationRequest != nil {
		order.CancellationRequest = &domain.StatusRequest{
			Reason:         d.CancellationRequest.Reason,
			AttachmentURLs: append([]string(nil), d.CancellationRequest.AttachmentURLs...),
			RequestedAt:    d.CancellationRequest.RequestedAt,
		}
	}
	if d.RefundRequest != nil {
		order.RefundRequest = &domain.StatusRequest{
			Reason:         d.RefundRequest.Reason,
			AttachmentURLs: append([]string(nil), d.RefundRequest.AttachmentURLs...),
			RequestedAt:    d.RefundRequest.RequestedAt,
		}
	}
	if d.GuestToken != "" && d.GuestTokenExpires != nil {
		order.GuestToken = &domain.GuestToken{Token: d.GuestToken, ExpiresAt: *d.GuestTokenExpires}
	}
	return order
}

type orderPageToken struct {
	ID        string
	CreatedAt time.Time
}

func encodeOrderPageToken(token orderPageToken) (string, error) {
	return pagination.EncodeToken(pagination.Cursor{
		StartAfter: []any{token.CreatedAt.UTC().Format(time.RFC3339Nano), token.ID},
	})
}

func decodeOrderPageToken(encoded string) (*orderPageToken, error) {
	cursor, err := pagination.DecodeToken(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode order page token: %w", err)
	}
	if len(cursor.StartAfter) != 2 {
		return nil, fmt.Errorf("decode order page token: malformed cursor")
	}
	createdAtRaw, okCreated := cursor.StartAfter[0].(string)
	id, okID := cursor.StartAfter[1].(string)
	if !okCreated || !okID {
		return nil, fmt.Errorf("decode order page token: malformed cursor values")
	}
	createdAt, err := time.Parse(time.RFC3339Nano, createdAtRaw)
	if err != nil {
		return nil, fmt.Errorf("decode order page token: %w", err)
	}
	return &orderPageToken{ID: id, CreatedAt: createdAt}, nil
}

func wrapOrderError(op string, err error) error {
	if err == nil {
		return nil
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
