package handlers

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/clovermart/api/internal/platform/httpx"
	"github.com/clovermart/api/internal/services"
)

const (
	guestTrackLimit  = 30
	guestTrackWindow = time.Minute
)

// GuestOrderHandlers serves unauthenticated guest order tracking. Lookups
// are token-gated and rate limited per client address.
type GuestOrderHandlers struct {
	orders  services.OrderService
	limiter rateLimiter
}

// GuestOption customises guest tracking handlers.
type GuestOption func(*GuestOrderHandlers)

// WithGuestRateLimit overrides the per-address tracking rate limit.
func WithGuestRateLimit(limit int, window time.Duration) GuestOption {
	return func(h *GuestOrderHandlers) {
		h.limiter = newSimpleRateLimiter(limit, window, nil)
	}
}

// NewGuestOrderHandlers constructs guest tracking handlers with the default
// per-address rate limit.
func NewGuestOrderHandlers(orders services.OrderService, opts ...GuestOption) *GuestOrderHandlers {
	h := &GuestOrderHandlers{
		orders:  orders,
		limiter: newSimpleRateLimiter(guestTrackLimit, guestTrackWindow, nil),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the guest tracking endpoint.
func (h *GuestOrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/guest-track/{orderID}/{token}", h.trackOrder)
}

func (h *GuestOrderHandlers) trackOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	if h.limiter != nil && !h.limiter.Allow(clientAddress(r)) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many tracking requests; slow down", http.StatusTooManyRequests))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	token := strings.TrimSpace(chi.URLParam(r, "token"))
	if orderID == "" || token == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id and tracking token are required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.TrackGuestOrder(ctx, services.TrackGuestOrderQuery{
		OrderID: orderID,
		Token:   token,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func clientAddress(r *http.Request) string {
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(r.RemoteAddr)
	}
	return host
}
