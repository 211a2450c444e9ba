package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/verano-shop/api/internal/payments"
	"github.com/verano-shop/api/internal/platform/httpx"
	"github.com/verano-shop/api/internal/services"
)

const maxCallbackBodySize = 32 * 1024

// PaymentHandlers receives the wallet gateway callbacks. These endpoints are
// unauthenticated; the HMAC signature on the payload is the authentication.
type PaymentHandlers struct {
	orders  services.OrderService
	limiter rateLimiter
}

// NewPaymentHandlers constructs a new PaymentHandlers instance.
func NewPaymentHandlers(orders services.OrderService, limiter rateLimiter) *PaymentHandlers {
	return &PaymentHandlers{
		orders:  orders,
		limiter: limiter,
	}
}

// Routes registers the /payments endpoints.
func (h *PaymentHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/wallet/ipn", h.walletIPN)
	r.Get("/wallet/return", h.walletReturn)
}

func (h *PaymentHandlers) walletIPN(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	if h.limiter != nil && !h.limiter.Allow(clientIP(r)) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many requests", http.StatusTooManyRequests))
		return
	}

	body, err := readLimitedBody(r, maxCallbackBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	var callback payments.WalletCallback
	if err := json.Unmarshal(body, &callback); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return
	}

	if _, err := h.orders.HandleWalletCallback(ctx, callback); err != nil {
		writeWalletCallbackError(w, r, err)
		return
	}

	// The gateway only wants a fast acknowledgement; it retries anything else.
	w.WriteHeader(http.StatusNoContent)
}

func (h *PaymentHandlers) walletReturn(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	if h.limiter != nil && !h.limiter.Allow(clientIP(r)) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many requests", http.StatusTooManyRequests))
		return
	}

	callback := walletCallbackFromQuery(r)
	order, err := h.orders.ConfirmWalletReturn(ctx, callback)
	if err != nil {
		writeWalletCallbackError(w, r, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, walletReturnResponse{
		OrderNumber:   strings.TrimSpace(order.Number),
		Status:        string(order.Status),
		PaymentStatus: string(order.PaymentStatus),
		ResultCode:    callback.ResultCode,
		Message:       strings.TrimSpace(callback.Message),
	})
}

type walletReturnResponse struct {
	OrderNumber   string `json:"order_number"`
	Status        string `json:"status"`
	PaymentStatus string `json:"payment_status"`
	ResultCode    int64  `json:"result_code"`
	Message       string `json:"message,omitempty"`
}

func walletCallbackFromQuery(r *http.Request) payments.WalletCallback {
	query := r.URL.Query()
	get := func(key string) string { return strings.TrimSpace(query.Get(key)) }
	parseInt := func(key string) int64 {
		value, _ := strconv.ParseInt(get(key), 10, 64)
		return value
	}
	return payments.WalletCallback{
		PartnerCode:  get("partnerCode"),
		OrderID:      get("orderId"),
		RequestID:    get("requestId"),
		Amount:       parseInt("amount"),
		OrderInfo:    get("orderInfo"),
		OrderType:    get("orderType"),
		TransID:      parseInt("transId"),
		ResultCode:   parseInt("resultCode"),
		Message:      get("message"),
		PayType:      get("payType"),
		ResponseTime: parseInt("responseTime"),
		ExtraData:    get("extraData"),
		Signature:    get("signature"),
	}
}

func writeWalletCallbackError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	switch {
	case errors.Is(err, services.ErrWalletCallbackInvalid):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_signature", "callback signature verification failed", http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("order_conflict", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("order_invalid_state", err.Error(), http.StatusConflict))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("callback_error", "failed to process wallet callback", http.StatusInternalServerError))
	}
}

// NewPaymentRateLimiter builds the limiter applied to the public payment
// callback endpoints.
func NewPaymentRateLimiter(limit int, window time.Duration) rateLimiter {
	return newSimpleRateLimiter(limit, window, nil)
}
