package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/clovermart/api/internal/domain"
	"github.com/clovermart/api/internal/platform/auth"
	"github.com/clovermart/api/internal/platform/idempotency"
	"github.com/clovermart/api/internal/repositories/memory"
	"github.com/clovermart/api/internal/services"
)

var handlerTestSecret = []byte("handler-test-secret")

var handlerTestNow = time.Date(2026, time.April, 2, 10, 0, 0, 0, time.UTC)

type apiFixture struct {
	registry *memory.Registry
	router   http.Handler
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	reg := memory.NewRegistry()
	clock := func() time.Time { return handlerTestNow }

	checkoutSvc, err := services.NewCheckoutService(services.CheckoutServiceDeps{
		Carts:       reg.Carts(),
		Inventory:   reg.Inventory(),
		Coupons:     reg.Coupons(),
		Counters:    reg.Counters(),
		Checkout:    reg.Checkout(),
		Clock:       clock,
		IDGenerator: func() string { return "01HANDLERULID" },
		TokenSource: func() (string, error) { return "guest-token-9999", nil },
	})
	if err != nil {
		t.Fatalf("new checkout service: %v", err)
	}

	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:    reg.Orders(),
		Inventory: reg.Inventory(),
		Clock:     clock,
	})
	if err != nil {
		t.Fatalf("new order service: %v", err)
	}

	inventorySvc, err := services.NewInventoryService(services.InventoryServiceDeps{
		Inventory: reg.Inventory(),
		Clock:     clock,
	})
	if err != nil {
		t.Fatalf("new inventory service: %v", err)
	}

	verifier, err := auth.NewJWTVerifier(handlerTestSecret)
	if err != nil {
		t.Fatalf("new jwt verifier: %v", err)
	}
	authn := auth.NewAuthenticator(verifier)

	checkoutHandlers := NewCheckoutHandlers(authn, checkoutSvc)
	orderHandlers := NewOrderHandlers(authn, orderSvc)
	guestHandlers := NewGuestOrderHandlers(orderSvc)
	adminHandlers := NewAdminOrderHandlers(authn, orderSvc, inventorySvc)

	router := NewRouter(
		WithCheckoutRoutes(checkoutHandlers.Routes),
		WithCheckoutMiddlewares(idempotency.Middleware(
			idempotency.NewMemoryStore(),
			idempotency.WithMethods(http.MethodPost),
		)),
		WithOrderRoutes(orderHandlers.Routes),
		WithGuestRoutes(guestHandlers.Routes),
		WithAdminRoutes(adminHandlers.Routes),
	)

	return &apiFixture{registry: reg, router: router}
}

func signHandlerToken(t *testing.T, uid, role string) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub":  uid,
		"role": role,
		"exp":  time.Now().Add(time.Hour).Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(handlerTestSecret)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func (f *apiFixture) do(t *testing.T, method, path, token string, body any, extraHeaders map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for name, value := range extraHeaders {
		req.Header.Set(name, value)
	}
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	return rr
}

func decodeJSONBody(t *testing.T, rr *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), out); err != nil {
		t.Fatalf("decode response %q: %v", rr.Body.String(), err)
	}
}

func seedHandlerCatalog(reg *memory.Registry, buyer domain.BuyerRef) {
	reg.SeedCart(domain.Cart{
		Buyer: buyer,
		Lines: []domain.CartLine{
			{ID: "line-1", ProductID: "prod-1", Quantity: 2},
		},
	})
	reg.SeedStock(domain.InventoryStock{ProductID: "prod-1", Name: "Widget", SKU: "SKU-1", UnitPrice: 1000, OnHand: 5})
}

func seedHandlerOrder(reg *memory.Registry, id, userID string, status domain.OrderStatus) domain.Order {
	created := handlerTestNow.Add(-48 * time.Hour)
	order := domain.Order{
		ID:          id,
		OrderNumber: "CM-2026-000077",
		Buyer:       domain.BuyerRef{UserID: userID},
		Lines: []domain.OrderLine{
			{Name: "Widget", SKU: "SKU-1", UnitPrice: 1000, Quantity: 2, ProductID: "prod-1"},
		},
		ItemsPrice:    2000,
		ShippingPrice: 500,
		TaxPrice:      200,
		TotalPrice:    2700,
		Status:        status,
		PaymentMethod: domain.PaymentMethodBankTransfer,
		ShippingAddress: domain.Address{
			FullName: "Nora Berg", Line1: "Storgata 1", City: "Oslo", PostalCode: "0155", Country: "NO",
		},
		CreatedAt: created,
		UpdatedAt: created,
	}
	reg.SeedOrder(order)
	return order
}

func TestHealthEndpoints(t *testing.T) {
	f := newAPIFixture(t)

	rr := f.do(t, http.MethodGet, "/healthz", "", nil, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("healthz status = %d, want 200", rr.Code)
	}

	rr = f.do(t, http.MethodGet, "/readyz", "", nil, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("readyz status = %d, want 200", rr.Code)
	}
}

func TestPlaceOrderEndpointAuthenticatedBuyer(t *testing.T) {
	f := newAPIFixture(t)
	seedHandlerCatalog(f.registry, domain.BuyerRef{UserID: "user-1"})
	token := signHandlerToken(t, "user-1", auth.RoleUser)

	rr := f.do(t, http.MethodPost, "/api/v1/orders", token, map[string]any{
		"line_ids":       []string{"line-1"},
		"payment_method": "card",
		"shipping_address": map[string]string{
			"full_name": "Nora Berg", "line1": "Storgata 1", "city": "Oslo",
			"postal_code": "0155", "country": "NO",
		},
	}, map[string]string{"Idempotency-Key": "place-1"})

	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201; body %s", rr.Code, rr.Body.String())
	}

	var resp struct {
		Order struct {
			ID     string `json:"id"`
			Status string `json:"status"`
			Totals struct {
				Total int64 `json:"total"`
			} `json:"totals"`
		} `json:"order"`
		GuestTrackingToken string `json:"guest_tracking_token"`
	}
	decodeJSONBody(t, rr, &resp)
	if resp.Order.Status != string(domain.OrderStatusProcessing) {
		t.Errorf("status = %s, want processing", resp.Order.Status)
	}
	if resp.Order.Totals.Total <= 0 {
		t.Errorf("total = %d, want > 0", resp.Order.Totals.Total)
	}
	if resp.GuestTrackingToken != "" {
		t.Errorf("authenticated checkout should not mint a guest token")
	}
}

func TestPlaceOrderEndpointGuest(t *testing.T) {
	f := newAPIFixture(t)
	buyer := domain.BuyerRef{GuestEmail: "guest@example.com", GuestSessionID: "sess-1"}
	seedHandlerCatalog(f.registry, buyer)

	rr := f.do(t, http.MethodPost, "/api/v1/orders", "", map[string]any{
		"line_ids":       []string{"line-1"},
		"payment_method": "bank_transfer",
		"guest_email":    "guest@example.com",
		"shipping_address": map[string]string{
			"full_name": "Nora Berg", "line1": "Storgata 1", "city": "Oslo",
			"postal_code": "0155", "country": "NO",
		},
	}, map[string]string{
		"Idempotency-Key":       "guest-place-1",
		auth.GuestSessionHeader: "sess-1",
	})

	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201; body %s", rr.Code, rr.Body.String())
	}
	var resp struct {
		GuestTrackingToken string `json:"guest_tracking_token"`
	}
	decodeJSONBody(t, rr, &resp)
	if resp.GuestTrackingToken != "guest-token-9999" {
		t.Errorf("guest tracking token = %q", resp.GuestTrackingToken)
	}
}

func TestPlaceOrderEndpointRequiresIdentityOrSession(t *testing.T) {
	f := newAPIFixture(t)

	rr := f.do(t, http.MethodPost, "/api/v1/orders", "", map[string]any{
		"line_ids":       []string{"line-1"},
		"payment_method": "card",
	}, map[string]string{"Idempotency-Key": "anon-1"})

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401; body %s", rr.Code, rr.Body.String())
	}
}

func TestPlaceOrderEndpointRequiresIdempotencyKey(t *testing.T) {
	f := newAPIFixture(t)
	seedHandlerCatalog(f.registry, domain.BuyerRef{UserID: "user-1"})
	token := signHandlerToken(t, "user-1", auth.RoleUser)

	rr := f.do(t, http.MethodPost, "/api/v1/orders", token, map[string]any{
		"line_ids":       []string{"line-1"},
		"payment_method": "card",
		"shipping_address": map[string]string{
			"full_name": "Nora Berg", "line1": "Storgata 1", "city": "Oslo",
			"postal_code": "0155", "country": "NO",
		},
	}, nil)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400; body %s", rr.Code, rr.Body.String())
	}
}

func TestPlaceOrderEndpointReplaysIdempotentResponse(t *testing.T) {
	f := newAPIFixture(t)
	seedHandlerCatalog(f.registry, domain.BuyerRef{UserID: "user-1"})
	token := signHandlerToken(t, "user-1", auth.RoleUser)

	body := map[string]any{
		"line_ids":       []string{"line-1"},
		"payment_method": "card",
		"shipping_address": map[string]string{
			"full_name": "Nora Berg", "line1": "Storgata 1", "city": "Oslo",
			"postal_code": "0155", "country": "NO",
		},
	}
	headers := map[string]string{"Idempotency-Key": "replay-1"}

	first := f.do(t, http.MethodPost, "/api/v1/orders", token, body, headers)
	if first.Code != http.StatusCreated {
		t.Fatalf("first status = %d, want 201; body %s", first.Code, first.Body.String())
	}

	second := f.do(t, http.MethodPost, "/api/v1/orders", token, body, headers)
	if second.Code != http.StatusCreated {
		t.Fatalf("replay status = %d, want 201; body %s", second.Code, second.Body.String())
	}
	if second.Header().Get("X-Idempotent-Replay") != "true" {
		t.Errorf("replay header missing on second response")
	}
	if first.Body.String() != second.Body.String() {
		t.Errorf("replay body differs from original")
	}
}

func TestPlaceOrderEndpointInsufficientStock(t *testing.T) {
	f := newAPIFixture(t)
	f.registry.SeedCart(domain.Cart{
		Buyer: domain.BuyerRef{UserID: "user-1"},
		Lines: []domain.CartLine{{ID: "line-1", ProductID: "prod-1", Quantity: 4}},
	})
	f.registry.SeedStock(domain.InventoryStock{ProductID: "prod-1", Name: "Widget", SKU: "SKU-1", UnitPrice: 1000, OnHand: 2})
	token := signHandlerToken(t, "user-1", auth.RoleUser)

	rr := f.do(t, http.MethodPost, "/api/v1/orders", token, map[string]any{
		"line_ids":       []string{"line-1"},
		"payment_method": "card",
		"shipping_address": map[string]string{
			"full_name": "Nora Berg", "line1": "Storgata 1", "city": "Oslo",
			"postal_code": "0155", "country": "NO",
		},
	}, map[string]string{"Idempotency-Key": "short-1"})

	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422; body %s", rr.Code, rr.Body.String())
	}
	var resp struct {
		Code      string `json:"error"`
		SKU       string `json:"sku"`
		Available int    `json:"available"`
		Requested int    `json:"requested"`
	}
	decodeJSONBody(t, rr, &resp)
	if resp.Code != "insufficient_stock" {
		t.Errorf("error code = %q", resp.Code)
	}
	if resp.SKU != "SKU-1" || resp.Available != 2 || resp.Requested != 4 {
		t.Errorf("details = %+v", resp)
	}
}

func TestListOrdersScopedToBuyer(t *testing.T) {
	f := newAPIFixture(t)
	seedHandlerOrder(f.registry, "ord_mine", "user-1", domain.OrderStatusPending)
	seedHandlerOrder(f.registry, "ord_other", "user-2", domain.OrderStatusPending)
	token := signHandlerToken(t, "user-1", auth.RoleUser)

	rr := f.do(t, http.MethodGet, "/api/v1/orders", token, nil, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body %s", rr.Code, rr.Body.String())
	}
	var resp struct {
		Items []struct {
			ID string `json:"id"`
		} `json:"items"`
	}
	decodeJSONBody(t, rr, &resp)
	if len(resp.Items) != 1 || resp.Items[0].ID != "ord_mine" {
		t.Fatalf("items = %+v, want only ord_mine", resp.Items)
	}
}

func TestListOrdersRejectsUnknownStatusFilter(t *testing.T) {
	f := newAPIFixture(t)
	token := signHandlerToken(t, "user-1", auth.RoleUser)

	rr := f.do(t, http.MethodGet, "/api/v1/orders?status=bogus", token, nil, nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
}

func TestGetOrderHidesForeignOrder(t *testing.T) {
	f := newAPIFixture(t)
	seedHandlerOrder(f.registry, "ord_other", "user-2", domain.OrderStatusPending)
	token := signHandlerToken(t, "user-1", auth.RoleUser)

	rr := f.do(t, http.MethodGet, "/api/v1/orders/ord_other", token, nil, nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404; body %s", rr.Code, rr.Body.String())
	}
}

func TestOrdersRequireAuthentication(t *testing.T) {
	f := newAPIFixture(t)

	rr := f.do(t, http.MethodGet, "/api/v1/orders", "", nil, nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rr.Code)
	}
}

func TestRequestCancellationEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	seedHandlerOrder(f.registry, "ord_1", "user-1", domain.OrderStatusPending)
	token := signHandlerToken(t, "user-1", auth.RoleUser)

	rr := f.do(t, http.MethodPut, "/api/v1/orders/ord_1/request-cancellation", token, map[string]any{
		"reason": "ordered the wrong size",
	}, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body %s", rr.Code, rr.Body.String())
	}
	var resp struct {
		Order struct {
			Status       string `json:"status"`
			Cancellation *struct {
				Reason string `json:"reason"`
			} `json:"cancellation_request"`
		} `json:"order"`
	}
	decodeJSONBody(t, rr, &resp)
	if resp.Order.Status != string(domain.OrderStatusCancellationRequested) {
		t.Errorf("status = %s", resp.Order.Status)
	}
	if resp.Order.Cancellation == nil || resp.Order.Cancellation.Reason != "ordered the wrong size" {
		t.Errorf("cancellation request = %+v", resp.Order.Cancellation)
	}
}

func TestRequestCancellationRequiresReasonBody(t *testing.T) {
	f := newAPIFixture(t)
	seedHandlerOrder(f.registry, "ord_1", "user-1", domain.OrderStatusPending)
	token := signHandlerToken(t, "user-1", auth.RoleUser)

	rr := f.do(t, http.MethodPut, "/api/v1/orders/ord_1/request-cancellation", token, map[string]any{
		"reason": "   ",
	}, nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400; body %s", rr.Code, rr.Body.String())
	}
}

func TestConfirmDeliveryEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	seedHandlerOrder(f.registry, "ord_1", "user-1", domain.OrderStatusShipped)
	token := signHandlerToken(t, "user-1", auth.RoleUser)

	rr := f.do(t, http.MethodPut, "/api/v1/orders/ord_1/confirm-delivery", token, nil, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body %s", rr.Code, rr.Body.String())
	}
	var resp struct {
		Order struct {
			Status      string `json:"status"`
			IsDelivered bool   `json:"is_delivered"`
		} `json:"order"`
	}
	decodeJSONBody(t, rr, &resp)
	if resp.Order.Status != string(domain.OrderStatusDelivered) || !resp.Order.IsDelivered {
		t.Errorf("order = %+v", resp.Order)
	}
}

func TestGuestTrackingEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	order := seedHandlerOrder(f.registry, "ord_guest", "", domain.OrderStatusPending)
	order.Buyer = domain.BuyerRef{GuestEmail: "guest@example.com", GuestSessionID: "sess-1"}
	order.GuestToken = &domain.GuestToken{Token: "trk-123", ExpiresAt: handlerTestNow.Add(24 * time.Hour)}
	f.registry.SeedOrder(order)

	rr := f.do(t, http.MethodGet, "/api/v1/orders/guest-track/ord_guest/trk-123", "", nil, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body %s", rr.Code, rr.Body.String())
	}

	rr = f.do(t, http.MethodGet, "/api/v1/orders/guest-track/ord_guest/wrong-token", "", nil, nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("wrong token status = %d, want 404", rr.Code)
	}
}

func TestGuestTrackingRateLimited(t *testing.T) {
	f := newAPIFixture(t)

	var last int
	for i := 0; i < guestTrackLimit+1; i++ {
		rr := f.do(t, http.MethodGet, fmt.Sprintf("/api/v1/orders/guest-track/ord_%d/tok", i), "", nil, nil)
		last = rr.Code
	}
	if last != http.StatusTooManyRequests {
		t.Fatalf("status after exhausting limit = %d, want 429", last)
	}
}

func TestAdminAdvanceStatusEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	seedHandlerOrder(f.registry, "ord_1", "user-1", domain.OrderStatusPending)
	token := signHandlerToken(t, "admin-1", auth.RoleAdmin)

	rr := f.do(t, http.MethodPut, "/api/v1/admin/orders/ord_1/status", token, map[string]any{
		"status": "processing",
	}, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body %s", rr.Code, rr.Body.String())
	}
	var resp struct {
		Order struct {
			Status string `json:"status"`
			IsPaid bool   `json:"is_paid"`
		} `json:"order"`
	}
	decodeJSONBody(t, rr, &resp)
	if resp.Order.Status != string(domain.OrderStatusProcessing) {
		t.Errorf("status = %s", resp.Order.Status)
	}
	if !resp.Order.IsPaid {
		t.Errorf("deferred payment order should be marked paid when processing starts")
	}
}

func TestAdminAdvanceStatusRejectsNonOperatorTarget(t *testing.T) {
	f := newAPIFixture(t)
	seedHandlerOrder(f.registry, "ord_1", "user-1", domain.OrderStatusShipped)
	token := signHandlerToken(t, "admin-1", auth.RoleAdmin)

	for _, target := range []string{"delivered", "pending", "cancellation_requested", "refund_requested", "bogus"} {
		rr := f.do(t, http.MethodPut, "/api/v1/admin/orders/ord_1/status", token, map[string]any{
			"status": target,
		}, nil)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("status %q: code = %d, want 400; body %s", target, rr.Code, rr.Body.String())
		}
	}
}

func TestAdminAdvanceStatusRejectsIllegalTransition(t *testing.T) {
	f := newAPIFixture(t)
	seedHandlerOrder(f.registry, "ord_1", "user-1", domain.OrderStatusDelivered)
	token := signHandlerToken(t, "admin-1", auth.RoleAdmin)

	rr := f.do(t, http.MethodPut, "/api/v1/admin/orders/ord_1/status", token, map[string]any{
		"status": "processing",
	}, nil)
	if rr.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409; body %s", rr.Code, rr.Body.String())
	}
	var resp struct {
		Code string `json:"error"`
		From string `json:"from"`
		To   string `json:"to"`
	}
	decodeJSONBody(t, rr, &resp)
	if resp.Code != "invalid_transition" {
		t.Errorf("error code = %q", resp.Code)
	}
	if resp.From != string(domain.OrderStatusDelivered) || resp.To != string(domain.OrderStatusProcessing) {
		t.Errorf("transition details = %+v", resp)
	}
}

func TestAdminListOrdersFiltersAndPaging(t *testing.T) {
	f := newAPIFixture(t)
	seedHandlerOrder(f.registry, "ord_a", "user-1", domain.OrderStatusPending)
	seedHandlerOrder(f.registry, "ord_b", "user-1", domain.OrderStatusProcessing)
	seedHandlerOrder(f.registry, "ord_c", "user-2", domain.OrderStatusPending)
	token := signHandlerToken(t, "staff-1", auth.RoleStaff)

	rr := f.do(t, http.MethodGet, "/api/v1/admin/orders?pageSize=50", token, nil, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body %s", rr.Code, rr.Body.String())
	}
	var resp struct {
		Items []struct {
			ID string `json:"id"`
		} `json:"items"`
	}
	decodeJSONBody(t, rr, &resp)
	if len(resp.Items) != 3 {
		t.Fatalf("unscoped list returned %d items, want 3", len(resp.Items))
	}

	rr = f.do(t, http.MethodGet, "/api/v1/admin/orders?buyer=user-2", token, nil, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body %s", rr.Code, rr.Body.String())
	}
	resp.Items = nil
	decodeJSONBody(t, rr, &resp)
	if len(resp.Items) != 1 || resp.Items[0].ID != "ord_c" {
		t.Fatalf("buyer filter returned %+v, want only ord_c", resp.Items)
	}

	rr = f.do(t, http.MethodGet, "/api/v1/admin/orders?status=pending", token, nil, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body %s", rr.Code, rr.Body.String())
	}
	resp.Items = nil
	decodeJSONBody(t, rr, &resp)
	if len(resp.Items) != 2 {
		t.Fatalf("status filter returned %d items, want 2", len(resp.Items))
	}

	rr = f.do(t, http.MethodGet, "/api/v1/admin/orders?pageSize=nope", token, nil, nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400; body %s", rr.Code, rr.Body.String())
	}
}

func TestAdminEndpointsEnforceRole(t *testing.T) {
	f := newAPIFixture(t)
	seedHandlerOrder(f.registry, "ord_1", "user-1", domain.OrderStatusPending)
	token := signHandlerToken(t, "user-1", auth.RoleUser)

	rr := f.do(t, http.MethodPut, "/api/v1/admin/orders/ord_1/status", token, map[string]any{
		"status": "processing",
	}, nil)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403; body %s", rr.Code, rr.Body.String())
	}
}

func TestAdminRefundArbitrationEndpoints(t *testing.T) {
	f := newAPIFixture(t)
	order := seedHandlerOrder(f.registry, "ord_1", "user-1", domain.OrderStatusRefundRequested)
	previous := domain.OrderStatusDelivered
	order.PreviousStatus = &previous
	order.RefundRequest = &domain.StatusRequest{Reason: "damaged", RequestedAt: handlerTestNow}
	order.IsPaid = true
	paidAt := handlerTestNow.Add(-24 * time.Hour)
	order.PaidAt = &paidAt
	f.registry.SeedOrder(order)
	token := signHandlerToken(t, "staff-1", auth.RoleStaff)

	rr := f.do(t, http.MethodPut, "/api/v1/admin/orders/ord_1/approve-refund", token, nil, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body %s", rr.Code, rr.Body.String())
	}
	var resp struct {
		Order struct {
			Status string `json:"status"`
			IsPaid bool   `json:"is_paid"`
			PaidAt string `json:"paid_at"`
		} `json:"order"`
	}
	decodeJSONBody(t, rr, &resp)
	if resp.Order.Status != string(domain.OrderStatusRefunded) {
		t.Errorf("status = %s", resp.Order.Status)
	}
	if resp.Order.IsPaid || resp.Order.PaidAt != "" {
		t.Errorf("refund should clear payment settlement: %+v", resp.Order)
	}
}

func TestAdminRestockEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	f.registry.SeedStock(domain.InventoryStock{ProductID: "prod-1", Name: "Widget", SKU: "SKU-1", UnitPrice: 1000, OnHand: 3, UnitsSold: 2})
	seedHandlerOrder(f.registry, "ord_1", "user-1", domain.OrderStatusCancelled)
	token := signHandlerToken(t, "admin-1", auth.RoleAdmin)

	rr := f.do(t, http.MethodPost, "/api/v1/admin/orders/ord_1/restock", token, nil, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body %s", rr.Code, rr.Body.String())
	}

	again := f.do(t, http.MethodPost, "/api/v1/admin/orders/ord_1/restock", token, nil, nil)
	if again.Code != http.StatusConflict {
		t.Fatalf("second restock status = %d, want 409; body %s", again.Code, again.Body.String())
	}
}

func TestAdminInventoryEndpoints(t *testing.T) {
	f := newAPIFixture(t)
	f.registry.SeedStock(domain.InventoryStock{ProductID: "prod-1", Name: "Widget", SKU: "SKU-1", UnitPrice: 1000, OnHand: 10})
	token := signHandlerToken(t, "admin-1", auth.RoleAdmin)

	rr := f.do(t, http.MethodGet, "/api/v1/admin/inventory/prod-1", token, nil, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("get stock status = %d; body %s", rr.Code, rr.Body.String())
	}

	rr = f.do(t, http.MethodPost, "/api/v1/admin/inventory/prod-1/adjust", token, map[string]any{"delta": -3}, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("adjust status = %d; body %s", rr.Code, rr.Body.String())
	}
	var stock struct {
		OnHand int `json:"on_hand"`
	}
	decodeJSONBody(t, rr, &stock)
	if stock.OnHand != 7 {
		t.Errorf("on_hand = %d, want 7", stock.OnHand)
	}

	rr = f.do(t, http.MethodPost, "/api/v1/admin/inventory/prod-1/adjust", token, map[string]any{"delta": -20}, nil)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("negative adjust status = %d, want 422; body %s", rr.Code, rr.Body.String())
	}

	rr = f.do(t, http.MethodPut, "/api/v1/admin/inventory/prod-1", token, map[string]any{"value": 25}, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("set status = %d; body %s", rr.Code, rr.Body.String())
	}
	decodeJSONBody(t, rr, &stock)
	if stock.OnHand != 25 {
		t.Errorf("on_hand after set = %d, want 25", stock.OnHand)
	}

	rr = f.do(t, http.MethodGet, "/api/v1/admin/inventory/missing", token, nil, nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("missing stock status = %d, want 404", rr.Code)
	}
}

func TestUnknownRouteReturnsEnvelope(t *testing.T) {
	f := newAPIFixture(t)

	rr := f.do(t, http.MethodGet, "/api/v1/nope", "", nil, nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rr.Code)
	}
	var resp struct {
		Code string `json:"error"`
	}
	decodeJSONBody(t, rr, &resp)
	if resp.Code != errorNotFoundCode {
		t.Errorf("error code = %q, want %q", resp.Code, errorNotFoundCode)
	}
}
