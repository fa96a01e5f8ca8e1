package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/clovermart/api/internal/domain"
	"github.com/clovermart/api/internal/platform/auth"
	"github.com/clovermart/api/internal/platform/httpx"
	"github.com/clovermart/api/internal/services"
)

const (
	defaultOrderPageSize    = 20
	maxOrderPageSize        = 100
	maxStatusRequestBody    = 8 * 1024
	maxAttachmentURLs       = 10
	maxStatusRequestReason  = 2000
	maxAttachmentURLsLength = 2048
)

type statusRequestBody struct {
	Reason         string   `json:"reason"`
	AttachmentURLs []string `json:"attachment_urls"`
}

// OrderHandlers exposes buyer-scoped order endpoints.
type OrderHandlers struct {
	authn  *auth.Authenticator
	orders services.OrderService
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService) *OrderHandlers {
	return &OrderHandlers{
		authn:  authn,
		orders: orders,
	}
}

// Routes registers the buyer /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	group := r
	if h.authn != nil {
		group = group.With(h.authn.RequireAuth())
	}
	group.Get("/", h.listOrders)
	group.Get("/{orderID}", h.getOrder)
	group.Put("/{orderID}/confirm-delivery", h.confirmDelivery)
	group.Put("/{orderID}/request-cancellation", h.requestCancellation)
	group.Put("/{orderID}/request-refund", h.requestRefund)
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireBuyer(ctx, w, h.orders)
	if !ok {
		return
	}

	query := r.URL.Query()

	statuses, ok := parseStatusFilters(ctx, w, query["status"])
	if !ok {
		return
	}

	listQuery := services.ListOrdersQuery{
		BuyerKey: strings.TrimSpace(identity.UID),
		Status:   statuses,
	}

	if raw := strings.TrimSpace(query.Get("created_after")); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "created_after must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		listQuery.From = &ts
	}
	if raw := strings.TrimSpace(query.Get("created_before")); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "created_before must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		listQuery.To = &ts
	}

	pageSize := defaultOrderPageSize
	if sizeRaw := strings.TrimSpace(query.Get("page_size")); sizeRaw != "" {
		size, err := strconv.Atoi(sizeRaw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "page_size must be an integer", http.StatusBadRequest))
			return
		}
		switch {
		case size <= 0:
			pageSize = defaultOrderPageSize
		case size > maxOrderPageSize:
			pageSize = maxOrderPageSize
		default:
			pageSize = size
		}
	}
	listQuery.Pagination = services.Pagination{
		PageSize:  pageSize,
		PageToken: strings.TrimSpace(query.Get("page_token")),
	}

	page, err := h.orders.List(ctx, listQuery)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	items := make([]orderSummaryPayload, 0, len(page.Items))
	for _, order := range page.Items {
		items = append(items, buildOrderSummary(order))
	}

	writeJSONResponse(w, http.StatusOK, orderListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireBuyer(ctx, w, h.orders)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.Get(ctx, services.GetOrderQuery{
		OrderID:  orderID,
		BuyerKey: strings.TrimSpace(identity.UID),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) confirmDelivery(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireBuyer(ctx, w, h.orders)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.ConfirmDelivery(ctx, services.BuyerOrderCommand{
		OrderID:  orderID,
		BuyerKey: strings.TrimSpace(identity.UID),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) requestCancellation(w http.ResponseWriter, r *http.Request) {
	h.statusRequest(w, r, h.orders.RequestCancellation)
}

func (h *OrderHandlers) requestRefund(w http.ResponseWriter, r *http.Request) {
	h.statusRequest(w, r, h.orders.RequestRefund)
}

func (h *OrderHandlers) statusRequest(w http.ResponseWriter, r *http.Request, apply func(context.Context, services.StatusRequestCommand) (services.Order, error)) {
	ctx := r.Context()
	identity, ok := requireBuyer(ctx, w, h.orders)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	body, err := readLimitedBody(r, maxStatusRequestBody)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), status))
		return
	}

	var req statusRequestBody
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	reason := strings.TrimSpace(req.Reason)
	if len(reason) > maxStatusRequestReason {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "reason is too long", http.StatusBadRequest))
		return
	}
	attachments, ok := sanitizeAttachmentURLs(req.AttachmentURLs)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "too many or invalid attachment urls", http.StatusBadRequest))
		return
	}

	order, err := apply(ctx, services.StatusRequestCommand{
		OrderID:        orderID,
		BuyerKey:       strings.TrimSpace(identity.UID),
		Reason:         reason,
		AttachmentURLs: attachments,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func requireBuyer(ctx context.Context, w http.ResponseWriter, orders services.OrderService) (*auth.Identity, bool) {
	if orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return nil, false
	}
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return nil, false
	}
	return identity, true
}

func parseStatusFilters(ctx context.Context, w http.ResponseWriter, raw []string) ([]services.OrderStatus, bool) {
	values := parseFilterValues(raw)
	if len(values) == 0 {
		return nil, true
	}
	statuses := make([]services.OrderStatus, 0, len(values))
	for _, value := range values {
		status, ok := domain.ParseOrderStatus(value)
		if !ok {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "status filter contains an unknown status", http.StatusBadRequest))
			return nil, false
		}
		statuses = append(statuses, status)
	}
	return statuses, true
}

func sanitizeAttachmentURLs(urls []string) ([]string, bool) {
	if len(urls) == 0 {
		return nil, true
	}
	if len(urls) > maxAttachmentURLs {
		return nil, false
	}
	out := make([]string, 0, len(urls))
	for _, raw := range urls {
		url := strings.TrimSpace(raw)
		if url == "" {
			continue
		}
		if len(url) > maxAttachmentURLsLength {
			return nil, false
		}
		if !strings.HasPrefix(url, "https://") && !strings.HasPrefix(url, "http://") {
			return nil, false
		}
		out = append(out, url)
	}
	return out, true
}

// Payloads ---------------------------------------------------------------------

type orderListResponse struct {
	Items         []orderSummaryPayload `json:"items"`
	NextPageToken string                `json:"next_page_token,omitempty"`
}

type orderSummaryPayload struct {
	ID          string `json:"id"`
	OrderNumber string `json:"order_number"`
	Status      string `json:"status"`
	Total       int64  `json:"total"`
	IsPaid      bool   `json:"is_paid"`
	CreatedAt   string `json:"created_at"`
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type orderPayload struct {
	ID              string                `json:"id"`
	OrderNumber     string                `json:"order_number"`
	Status          string                `json:"status"`
	Lines           []orderLinePayload    `json:"lines"`
	Totals          orderTotalsPayload    `json:"totals"`
	CouponCode      string                `json:"coupon_code,omitempty"`
	PaymentMethod   string                `json:"payment_method"`
	ShippingAddress addressPayload        `json:"shipping_address"`
	IsPaid          bool                  `json:"is_paid"`
	PaidAt          string                `json:"paid_at,omitempty"`
	IsDelivered     bool                  `json:"is_delivered"`
	DeliveredAt     string                `json:"delivered_at,omitempty"`
	Cancellation    *statusRequestPayload `json:"cancellation_request,omitempty"`
	Refund          *statusRequestPayload `json:"refund_request,omitempty"`
	CreatedAt       string                `json:"created_at"`
	UpdatedAt       string                `json:"updated_at,omitempty"`
}

type orderLinePayload struct {
	Name      string            `json:"name"`
	SKU       string            `json:"sku"`
	UnitPrice int64             `json:"unit_price"`
	Quantity  int               `json:"quantity"`
	Total     int64             `json:"total"`
	ProductID string            `json:"product_id"`
	VariantID string            `json:"variant_id,omitempty"`
	Options   map[string]string `json:"options,omitempty"`
}

type orderTotalsPayload struct {
	Items    int64 `json:"items"`
	Discount int64 `json:"discount"`
	Shipping int64 `json:"shipping"`
	Tax      int64 `json:"tax"`
	Total    int64 `json:"total"`
}

type statusRequestPayload struct {
	Reason         string   `json:"reason"`
	AttachmentURLs []string `json:"attachment_urls,omitempty"`
	RequestedAt    string   `json:"requested_at"`
}

type addressPayload struct {
	FullName   string `json:"full_name"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
	Phone      string `json:"phone,omitempty"`
}

func buildOrderSummary(order services.Order) orderSummaryPayload {
	return orderSummaryPayload{
		ID:          strings.TrimSpace(order.ID),
		OrderNumber: strings.TrimSpace(order.OrderNumber),
		Status:      string(order.Status),
		Total:       order.TotalPrice,
		IsPaid:      order.IsPaid,
		CreatedAt:   formatTime(order.CreatedAt),
	}
}

func buildOrderPayload(order services.Order) orderPayload {
	payload := orderPayload{
		ID:          strings.TrimSpace(order.ID),
		OrderNumber: strings.TrimSpace(order.OrderNumber),
		Status:      string(order.Status),
		Lines:       make([]orderLinePayload, 0, len(order.Lines)),
		Totals: orderTotalsPayload{
			Items:    order.ItemsPrice,
			Discount: order.DiscountAmount,
			Shipping: order.ShippingPrice,
			Tax:      order.TaxPrice,
			Total:    order.TotalPrice,
		},
		CouponCode:      strings.TrimSpace(order.CouponCode),
		PaymentMethod:   string(order.PaymentMethod),
		ShippingAddress: buildAddressPayload(order.ShippingAddress),
		IsPaid:          order.IsPaid,
		PaidAt:          formatTime(pointerTime(order.PaidAt)),
		IsDelivered:     order.IsDelivered,
		DeliveredAt:     formatTime(pointerTime(order.DeliveredAt)),
		Cancellation:    buildStatusRequestPayload(order.CancellationRequest),
		Refund:          buildStatusRequestPayload(order.RefundRequest),
		CreatedAt:       formatTime(order.CreatedAt),
		UpdatedAt:       formatTime(order.UpdatedAt),
	}

	for _, line := range order.Lines {
		entry := orderLinePayload{
			Name:      strings.TrimSpace(line.Name),
			SKU:       strings.TrimSpace(line.SKU),
			UnitPrice: line.UnitPrice,
			Quantity:  line.Quantity,
			Total:     line.Total(),
			ProductID: strings.TrimSpace(line.ProductID),
		}
		if line.Variant != nil {
			entry.VariantID = strings.TrimSpace(line.Variant.VariantID)
			if len(line.Variant.Options) > 0 {
				entry.Options = make(map[string]string, len(line.Variant.Options))
				for _, option := range line.Variant.Options {
					entry.Options[option.Name] = option.Value
				}
			}
		}
		payload.Lines = append(payload.Lines, entry)
	}

	return payload
}

func buildStatusRequestPayload(req *domain.StatusRequest) *statusRequestPayload {
	if req == nil {
		return nil
	}
	return &statusRequestPayload{
		Reason:         req.Reason,
		AttachmentURLs: append([]string(nil), req.AttachmentURLs...),
		RequestedAt:    formatTime(req.RequestedAt),
	}
}

func buildAddressPayload(addr services.Address) addressPayload {
	return addressPayload{
		FullName:   addr.FullName,
		Line1:      addr.Line1,
		Line2:      addr.Line2,
		City:       addr.City,
		PostalCode: addr.PostalCode,
		Country:    addr.Country,
		Phone:      addr.Phone,
	}
}

func decodeAddress(payload addressPayload) services.Address {
	return services.Address{
		FullName:   strings.TrimSpace(payload.FullName),
		Line1:      strings.TrimSpace(payload.Line1),
		Line2:      strings.TrimSpace(payload.Line2),
		City:       strings.TrimSpace(payload.City),
		PostalCode: strings.TrimSpace(payload.PostalCode),
		Country:    strings.TrimSpace(payload.Country),
		Phone:      strings.TrimSpace(payload.Phone),
	}
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	var transitionErr *domain.TransitionError
	switch {
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.As(err, &transitionErr):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_transition", transitionErr.Error(), http.StatusConflict).
			WithDetails(map[string]any{
				"from": string(transitionErr.From),
				"to":   string(transitionErr.To),
			}))
	case errors.Is(err, domain.ErrInvalidTransition):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_transition", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("order_conflict", "order changed concurrently; retry", http.StatusConflict))
	case errors.Is(err, services.ErrGuestTokenInvalid):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrAlreadyRestored):
		httpx.WriteError(ctx, w, httpx.NewError("already_restored", "stock was already restored for this order", http.StatusConflict))
	case errors.Is(err, services.ErrOrderNotRestockable):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_restockable", "order status does not allow restocking", http.StatusConflict))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "failed to process order request", http.StatusInternalServerError))
	}
}
