package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/verano-shop/api/internal/domain"
	"github.com/verano-shop/api/internal/payments"
	"github.com/verano-shop/api/internal/services"
)

func newPaymentRouter(service services.OrderService, limiter rateLimiter) chi.Router {
	handler := NewPaymentHandlers(service, limiter)
	router := chi.NewRouter()
	router.Route("/payments", handler.Routes)
	return router
}

func TestWalletIPNAcknowledgesCallback(t *testing.T) {
	now := time.Date(2023, time.November, 14, 22, 13, 20, 0, time.UTC)
	var captured payments.WalletCallback
	service := &stubOrderService{
		handleWalletFn: func(_ context.Context, callback payments.WalletCallback) (services.Order, error) {
			captured = callback
			order := orderHandlerFixture(now)
			order.PaymentStatus = domain.PaymentStatusPaid
			return order, nil
		},
	}

	body := `{"partnerCode":"VERANO","orderId":"DH1700000000_0042","requestId":"1700000000_0099","amount":330000,"transId":987654,"resultCode":0,"message":"Successful.","responseTime":1700000100000,"signature":"abc123"}`
	req := httptest.NewRequest(http.MethodPost, "/payments/wallet/ipn", strings.NewReader(body))
	rr := httptest.NewRecorder()
	newPaymentRouter(service, nil).ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.OrderID != "DH1700000000_0042" || captured.RequestID != "1700000000_0099" {
		t.Fatalf("callback not forwarded: %+v", captured)
	}
	if captured.Amount != 330000 || captured.ResultCode != 0 {
		t.Fatalf("callback numbers not forwarded: %+v", captured)
	}
}

func TestWalletIPNInvalidSignature(t *testing.T) {
	service := &stubOrderService{
		handleWalletFn: func(context.Context, payments.WalletCallback) (services.Order, error) {
			return services.Order{}, services.ErrWalletCallbackInvalid
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/payments/wallet/ipn", strings.NewReader(`{"orderId":"DH1700000000_0042"}`))
	rr := httptest.NewRecorder()
	newPaymentRouter(service, nil).ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload["error"] != "invalid_signature" {
		t.Fatalf("unexpected error code %v", payload["error"])
	}
}

func TestWalletIPNRateLimited(t *testing.T) {
	limiter := NewPaymentRateLimiter(1, time.Minute)
	router := newPaymentRouter(&stubOrderService{}, limiter)

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/payments/wallet/ipn", strings.NewReader(`{"orderId":"DH1700000000_0042"}`))
		req.RemoteAddr = "203.0.113.7:52100"
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		if i == 0 && rr.Code != http.StatusNoContent {
			t.Fatalf("first request should pass, got %d", rr.Code)
		}
		if i == 1 && rr.Code != http.StatusTooManyRequests {
			t.Fatalf("second request should be limited, got %d", rr.Code)
		}
	}
}

func TestWalletReturnParsesQuery(t *testing.T) {
	now := time.Date(2023, time.November, 14, 22, 13, 20, 0, time.UTC)
	var captured payments.WalletCallback
	service := &stubOrderService{
		confirmReturnFn: func(_ context.Context, callback payments.WalletCallback) (services.Order, error) {
			captured = callback
			order := orderHandlerFixture(now)
			order.Status = domain.OrderStatusConfirmed
			order.PaymentStatus = domain.PaymentStatusPaid
			return order, nil
		},
	}

	target := "/payments/wallet/return?partnerCode=VERANO&orderId=DH1700000000_0042&requestId=1700000000_0099&amount=330000&transId=987654&resultCode=0&message=Successful.&payType=qr&responseTime=1700000100000&signature=abc123"
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rr := httptest.NewRecorder()
	newPaymentRouter(service, nil).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.OrderID != "DH1700000000_0042" || captured.Amount != 330000 || captured.TransID != 987654 {
		t.Fatalf("query not parsed into callback: %+v", captured)
	}
	if captured.Signature != "abc123" || captured.PayType != "qr" {
		t.Fatalf("query not parsed into callback: %+v", captured)
	}

	var resp walletReturnResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.OrderNumber != "DH1700000000_0042" {
		t.Fatalf("unexpected order number %q", resp.OrderNumber)
	}
	if resp.PaymentStatus != string(domain.PaymentStatusPaid) {
		t.Fatalf("unexpected payment status %q", resp.PaymentStatus)
	}
}

func TestWalletReturnOrderNotFound(t *testing.T) {
	service := &stubOrderService{
		confirmReturnFn: func(context.Context, payments.WalletCallback) (services.Order, error) {
			return services.Order{}, services.ErrOrderNotFound
		},
	}

	req := httptest.NewRequest(http.MethodGet, "/payments/wallet/return?orderId=DH_missing", nil)
	rr := httptest.NewRecorder()
	newPaymentRouter(service, nil).ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}
