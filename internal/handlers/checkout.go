package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/clovermart/api/internal/platform/auth"
	"github.com/clovermart/api/internal/platform/httpx"
	"github.com/clovermart/api/internal/platform/observability"
	"github.com/clovermart/api/internal/services"
)

const maxCheckoutRequestBody = 16 * 1024

// CheckoutHandlers exposes the order placement endpoint for buyers and guests.
type CheckoutHandlers struct {
	authn    *auth.Authenticator
	checkout services.CheckoutService
	metrics  *observability.CheckoutMetrics
}

// CheckoutOption customises the checkout handlers.
type CheckoutOption func(*CheckoutHandlers)

// WithCheckoutMetrics attaches placement counters and commit latency
// instruments.
func WithCheckoutMetrics(m *observability.CheckoutMetrics) CheckoutOption {
	return func(h *CheckoutHandlers) {
		h.metrics = m
	}
}

// NewCheckoutHandlers constructs checkout handlers. Authentication is
// optional: unauthenticated requests check out as guests.
func NewCheckoutHandlers(authn *auth.Authenticator, checkout services.CheckoutService, opts ...CheckoutOption) *CheckoutHandlers {
	h := &CheckoutHandlers{
		authn:    authn,
		checkout: checkout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the order placement endpoint on the orders group.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	group := r
	if h.authn != nil {
		group = group.With(h.authn.AllowGuest())
	}
	group.Post("/", h.placeOrder)
}

type placeOrderRequest struct {
	LineIDs         []string       `json:"line_ids"`
	PaymentMethod   string         `json:"payment_method"`
	ShippingAddress addressPayload `json:"shipping_address"`
	GuestEmail      string         `json:"guest_email"`
}

type placeOrderResponse struct {
	Order              orderPayload `json:"order"`
	GuestTrackingToken string       `json:"guest_tracking_token,omitempty"`
}

func (h *CheckoutHandlers) placeOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, maxCheckoutRequestBody)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), status))
		return
	}

	var req placeOrderRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	buyer, ok := resolveBuyer(r, req.GuestEmail)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication or a guest session is required", http.StatusUnauthorized))
		return
	}

	started := time.Now()
	result, err := h.checkout.PlaceOrder(ctx, services.PlaceOrderCommand{
		Buyer:           buyer,
		LineIDs:         req.LineIDs,
		PaymentMethod:   req.PaymentMethod,
		ShippingAddress: decodeAddress(req.ShippingAddress),
	})
	h.metrics.ObserveCommit(ctx, time.Since(started))
	if err != nil {
		h.metrics.CheckoutFailed(ctx)
		writeCheckoutError(ctx, w, err)
		return
	}
	h.metrics.OrderPlaced(ctx, string(result.Order.PaymentMethod))

	writeJSONResponse(w, http.StatusCreated, placeOrderResponse{
		Order:              buildOrderPayload(result.Order),
		GuestTrackingToken: result.GuestTrackingToken,
	})
}

// resolveBuyer derives the buyer reference from the verified identity, or
// from the guest session header plus the supplied email.
func resolveBuyer(r *http.Request, guestEmail string) (services.BuyerRef, bool) {
	if identity, ok := auth.IdentityFromContext(r.Context()); ok && strings.TrimSpace(identity.UID) != "" {
		return services.BuyerRef{UserID: strings.TrimSpace(identity.UID)}, true
	}
	session := auth.GuestSessionFromRequest(r)
	if session == "" {
		return services.BuyerRef{}, false
	}
	return services.BuyerRef{
		GuestEmail:     strings.TrimSpace(guestEmail),
		GuestSessionID: session,
	}, true
}

func writeCheckoutError(ctx context.Context, w http.ResponseWriter, err error) {
	var insufficient *services.InsufficientStockError
	var stale *services.StaleSelectionError
	switch {
	case errors.Is(err, services.ErrCheckoutInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.As(err, &insufficient):
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_stock", insufficient.Error(), http.StatusUnprocessableEntity).
			WithDetails(map[string]any{
				"sku":       insufficient.SKU,
				"available": insufficient.Available,
				"requested": insufficient.Requested,
			}))
	case errors.Is(err, services.ErrInsufficientStock):
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_stock", "insufficient stock for selection", http.StatusUnprocessableEntity))
	case errors.As(err, &stale):
		httpx.WriteError(ctx, w, httpx.NewError("selection_stale", "cart changed since selection; refresh and retry", http.StatusConflict).
			WithDetails(map[string]any{"line_ids": stale.LineIDs}))
	case errors.Is(err, services.ErrSelectionStale):
		httpx.WriteError(ctx, w, httpx.NewError("selection_stale", "cart changed since selection; refresh and retry", http.StatusConflict))
	case errors.Is(err, services.ErrCouponRejected):
		httpx.WriteError(ctx, w, httpx.NewError("coupon_rejected", err.Error(), http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrCheckoutConflict):
		httpx.WriteError(ctx, w, httpx.NewError("checkout_conflict", "a concurrent checkout won; retry", http.StatusConflict))
	case errors.Is(err, services.ErrCheckoutTimeout):
		httpx.WriteError(ctx, w, httpx.NewError("checkout_timeout", "checkout commit timed out; retry", http.StatusGatewayTimeout))
	case errors.Is(err, services.ErrCheckoutUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("checkout_error", "failed to process checkout request", http.StatusInternalServerError))
	}
}
