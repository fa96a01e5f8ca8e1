package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/clovermart/api/internal/domain"
	"github.com/clovermart/api/internal/platform/auth"
	"github.com/clovermart/api/internal/platform/httpx"
	"github.com/clovermart/api/internal/platform/pagination"
	"github.com/clovermart/api/internal/services"
)

const maxAdminRequestBody = 8 * 1024

// AdminOrderHandlers exposes the operator side of the order lifecycle:
// status advancement, cancellation/refund arbitration, and restocking.
type AdminOrderHandlers struct {
	authn     *auth.Authenticator
	orders    services.OrderService
	inventory services.InventoryService
}

// NewAdminOrderHandlers constructs the operator order handlers.
func NewAdminOrderHandlers(authn *auth.Authenticator, orders services.OrderService, inventory services.InventoryService) *AdminOrderHandlers {
	return &AdminOrderHandlers{
		authn:     authn,
		orders:    orders,
		inventory: inventory,
	}
}

// Routes registers the /admin endpoints. Every route requires a staff or
// admin role.
func (h *AdminOrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	group := r
	if h.authn != nil {
		group = group.With(h.authn.RequireAuth(auth.RoleAdmin, auth.RoleStaff))
	}

	group.Route("/orders", func(orders chi.Router) {
		orders.Get("/", h.listOrders)
		orders.Get("/{orderID}", h.getOrder)
		orders.Put("/{orderID}/status", h.advanceStatus)
		orders.Put("/{orderID}/approve-cancellation", h.operatorAction(func(svc services.OrderService) operatorCall { return svc.ApproveCancellation }))
		orders.Put("/{orderID}/reject-cancellation", h.operatorAction(func(svc services.OrderService) operatorCall { return svc.RejectCancellation }))
		orders.Put("/{orderID}/approve-refund", h.operatorAction(func(svc services.OrderService) operatorCall { return svc.ApproveRefund }))
		orders.Put("/{orderID}/reject-refund", h.operatorAction(func(svc services.OrderService) operatorCall { return svc.RejectRefund }))
		orders.Post("/{orderID}/restock", h.operatorAction(func(svc services.OrderService) operatorCall { return svc.Restock }))
	})

	group.Route("/inventory", func(inventory chi.Router) {
		inventory.Get("/{productID}", h.getStock)
		inventory.Put("/{productID}", h.setStock)
		inventory.Post("/{productID}/adjust", h.adjustStock)
	})
}

type operatorCall func(context.Context, services.OperatorOrderCommand) (services.Order, error)

func (h *AdminOrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := requireOperator(ctx, w, h.orders); !ok {
		return
	}

	params, err := pagination.FromRequest(r, pagination.Options{
		DefaultPageSize: defaultOrderPageSize,
		MaxPageSize:     maxOrderPageSize,
	})
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	query := r.URL.Query()
	statuses, ok := parseStatusFilters(ctx, w, query["status"])
	if !ok {
		return
	}

	listQuery := services.ListOrdersQuery{
		// Operator listing is unscoped; an explicit buyer filter narrows it.
		BuyerKey: strings.TrimSpace(query.Get("buyer")),
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
	listQuery.Pagination = services.Pagination{
		PageSize:  params.PageSize,
		PageToken: params.PageToken,
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

func (h *AdminOrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := requireOperator(ctx, w, h.orders); !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.Get(ctx, services.GetOrderQuery{OrderID: orderID})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

type advanceStatusRequest struct {
	Status string `json:"status"`
}

// parseOperatorTarget accepts only the statuses an operator may set
// directly; lifecycle states owned by buyers or arbitration endpoints are
// rejected as validation errors rather than transition failures.
func parseOperatorTarget(raw string) (domain.OrderStatus, bool) {
	target, ok := domain.ParseOrderStatus(raw)
	if !ok {
		return "", false
	}
	switch target {
	case domain.OrderStatusProcessing, domain.OrderStatusShipped, domain.OrderStatusCancelled, domain.OrderStatusRefunded:
		return target, true
	default:
		return "", false
	}
}

func (h *AdminOrderHandlers) advanceStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireOperator(ctx, w, h.orders)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	body, err := readLimitedBody(r, maxAdminRequestBody)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	var req advanceStatusRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	target, ok := parseOperatorTarget(req.Status)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "status must be one of processing, shipped, cancelled, refunded", http.StatusBadRequest))
		return
	}

	order, err := h.orders.AdvanceStatus(ctx, services.AdvanceStatusCommand{
		OrderID: orderID,
		Target:  target,
		ActorID: identity.UID,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *AdminOrderHandlers) operatorAction(pick func(services.OrderService) operatorCall) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		identity, ok := requireOperator(ctx, w, h.orders)
		if !ok {
			return
		}

		orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
		if orderID == "" {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
			return
		}

		order, err := pick(h.orders)(ctx, services.OperatorOrderCommand{
			OrderID: orderID,
			ActorID: identity.UID,
		})
		if err != nil {
			writeOrderError(ctx, w, err)
			return
		}
		writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
	}
}

// Inventory --------------------------------------------------------------------

type stockResponse struct {
	ProductID string `json:"product_id"`
	VariantID string `json:"variant_id,omitempty"`
	Name      string `json:"name,omitempty"`
	SKU       string `json:"sku,omitempty"`
	OnHand    int    `json:"on_hand"`
	UnitsSold int    `json:"units_sold"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

type setStockRequest struct {
	Value int `json:"value"`
}

type adjustStockRequest struct {
	Delta int `json:"delta"`
}

func (h *AdminOrderHandlers) getStock(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.inventory == nil {
		httpx.WriteError(ctx, w, httpx.NewError("inventory_unavailable", "inventory service unavailable", http.StatusServiceUnavailable))
		return
	}

	stock, err := h.inventory.GetStock(ctx, services.StockQuery{
		ProductID: strings.TrimSpace(chi.URLParam(r, "productID")),
		VariantID: strings.TrimSpace(r.URL.Query().Get("variant_id")),
	})
	if err != nil {
		writeInventoryError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildStockResponse(stock))
}

func (h *AdminOrderHandlers) setStock(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireInventoryOperator(ctx, w, h.inventory)
	if !ok {
		return
	}

	body, err := readLimitedBody(r, maxAdminRequestBody)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	var req setStockRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	stock, err := h.inventory.SetStock(ctx, services.SetStockCommand{
		ProductID: strings.TrimSpace(chi.URLParam(r, "productID")),
		VariantID: strings.TrimSpace(r.URL.Query().Get("variant_id")),
		Value:     req.Value,
		ActorID:   identity.UID,
	})
	if err != nil {
		writeInventoryError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildStockResponse(stock))
}

func (h *AdminOrderHandlers) adjustStock(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireInventoryOperator(ctx, w, h.inventory)
	if !ok {
		return
	}

	body, err := readLimitedBody(r, maxAdminRequestBody)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	var req adjustStockRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	stock, err := h.inventory.AdjustStock(ctx, services.AdjustStockCommand{
		ProductID: strings.TrimSpace(chi.URLParam(r, "productID")),
		VariantID: strings.TrimSpace(r.URL.Query().Get("variant_id")),
		Delta:     req.Delta,
		ActorID:   identity.UID,
	})
	if err != nil {
		writeInventoryError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildStockResponse(stock))
}

func buildStockResponse(stock services.InventoryStock) stockResponse {
	return stockResponse{
		ProductID: stock.ProductID,
		VariantID: stock.VariantID,
		Name:      stock.Name,
		SKU:       stock.SKU,
		OnHand:    stock.OnHand,
		UnitsSold: stock.UnitsSold,
		UpdatedAt: formatTime(stock.UpdatedAt),
	}
}

func requireOperator(ctx context.Context, w http.ResponseWriter, orders services.OrderService) (*auth.Identity, bool) {
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

func requireInventoryOperator(ctx context.Context, w http.ResponseWriter, inventory services.InventoryService) (*auth.Identity, bool) {
	if inventory == nil {
		httpx.WriteError(ctx, w, httpx.NewError("inventory_unavailable", "inventory service unavailable", http.StatusServiceUnavailable))
		return nil, false
	}
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return nil, false
	}
	return identity, true
}

func writeInventoryError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrInventoryInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrInventoryNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("stock_not_found", "stock record not found", http.StatusNotFound))
	case errors.Is(err, services.ErrInventoryNegative):
		httpx.WriteError(ctx, w, httpx.NewError("stock_negative", err.Error(), http.StatusUnprocessableEntity))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("inventory_error", "failed to process inventory request", http.StatusInternalServerError))
	}
}
