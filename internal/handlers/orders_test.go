package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/verano-shop/api/internal/domain"
	"github.com/verano-shop/api/internal/payments"
	"github.com/verano-shop/api/internal/platform/auth"
	"github.com/verano-shop/api/internal/services"
)

type stubOrderService struct {
	createFn        func(ctx context.Context, cmd services.CreateOrderFromCartCommand) (services.Order, error)
	listFn          func(ctx context.Context, filter services.OrderListFilter) (domain.CursorPage[services.Order], error)
	getFn           func(ctx context.Context, orderID string) (services.Order, error)
	transitionFn    func(ctx context.Context, cmd services.OrderStatusTransitionCommand) (services.Order, error)
	cancelFn        func(ctx context.Context, cmd services.CancelOrderCommand) (services.Order, error)
	startWalletFn   func(ctx context.Context, cmd services.StartWalletPaymentCommand) (services.Order, error)
	handleWalletFn  func(ctx context.Context, callback payments.WalletCallback) (services.Order, error)
	confirmReturnFn func(ctx context.Context, callback payments.WalletCallback) (services.Order, error)
}

func (s *stubOrderService) CreateFromCart(ctx context.Context, cmd services.CreateOrderFromCartCommand) (services.Order, error) {
	if s.createFn == nil {
		return services.Order{}, nil
	}
	return s.createFn(ctx, cmd)
}

func (s *stubOrderService) ListOrders(ctx context.Context, filter services.OrderListFilter) (domain.CursorPage[services.Order], error) {
	if s.listFn == nil {
		return domain.CursorPage[services.Order]{}, nil
	}
	return s.listFn(ctx, filter)
}

func (s *stubOrderService) GetOrder(ctx context.Context, orderID string) (services.Order, error) {
	if s.getFn == nil {
		return services.Order{}, nil
	}
	return s.getFn(ctx, orderID)
}

func (s *stubOrderService) TransitionStatus(ctx context.Context, cmd services.OrderStatusTransitionCommand) (services.Order, error) {
	if s.transitionFn == nil {
		return services.Order{}, nil
	}
	return s.transitionFn(ctx, cmd)
}

func (s *stubOrderService) Cancel(ctx context.Context, cmd services.CancelOrderCommand) (services.Order, error) {
	if s.cancelFn == nil {
		return services.Order{}, nil
	}
	return s.cancelFn(ctx, cmd)
}

func (s *stubOrderService) StartWalletPayment(ctx context.Context, cmd services.StartWalletPaymentCommand) (services.Order, error) {
	if s.startWalletFn == nil {
		return services.Order{}, nil
	}
	return s.startWalletFn(ctx, cmd)
}

func (s *stubOrderService) HandleWalletCallback(ctx context.Context, callback payments.WalletCallback) (services.Order, error) {
	if s.handleWalletFn == nil {
		return services.Order{}, nil
	}
	return s.handleWalletFn(ctx, callback)
}

func (s *stubOrderService) ConfirmWalletReturn(ctx context.Context, callback payments.WalletCallback) (services.Order, error) {
	if s.confirmReturnFn == nil {
		return services.Order{}, nil
	}
	return s.confirmReturnFn(ctx, callback)
}

var _ services.OrderService = (*stubOrderService)(nil)

func orderHandlerFixture(createdAt time.Time) services.Order {
	return services.Order{
		ID:     "ord_TEST",
		Number: "DH1700000000_0042",
		UserID: "user-1",
		Items: []services.OrderItem{
			{ProductID: "prod-tee", Name: "Basic Tee", Color: "black", Size: "M", Quantity: 2, UnitPrice: 150000, Subtotal: 300000},
		},
		Totals:        services.OrderTotals{Subtotal: 300000, ShippingFee: 30000, GrandTotal: 330000},
		Status:        domain.OrderStatusPendingConfirmation,
		PaymentMethod: domain.PaymentMethodCOD,
		PaymentStatus: domain.PaymentStatusUnpaid,
		ShippingAddress: domain.Address{
			FullName: "Tran Thi B", Phone: "0900000001", Street: "12 Hang Gai",
			Ward: "Hang Trong", District: "Hoan Kiem", City: "Ha Noi",
		},
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
}

func newOrderRouter(service services.OrderService) chi.Router {
	handler := NewOrderHandlers(nil, service, nil)
	router := chi.NewRouter()
	router.Route("/orders", handler.Routes)
	return router
}

func authedRequest(method, target, body string, identity *auth.Identity) *http.Request {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	if identity != nil {
		req = req.WithContext(auth.WithIdentity(req.Context(), identity))
	}
	return req
}

func TestCreateOrderSuccess(t *testing.T) {
	now := time.Date(2023, time.November, 14, 22, 13, 20, 0, time.UTC)
	service := &stubOrderService{
		createFn: func(_ context.Context, cmd services.CreateOrderFromCartCommand) (services.Order, error) {
			if cmd.UserID != "user-1" {
				t.Fatalf("unexpected user id %q", cmd.UserID)
			}
			if cmd.PaymentMethod != domain.PaymentMethodCOD {
				t.Fatalf("unexpected payment method %q", cmd.PaymentMethod)
			}
			if cmd.ShippingAddress.Ward != "Hang Trong" {
				t.Fatalf("unexpected ward %q", cmd.ShippingAddress.Ward)
			}
			return orderHandlerFixture(now), nil
		},
	}

	body := `{"payment_method":"cod","shipping_address":{"full_name":"Tran Thi B","phone":"0900000001","street":"12 Hang Gai","ward":"Hang Trong","district":"Hoan Kiem","city":"Ha Noi"}}`
	req := authedRequest(http.MethodPost, "/orders/", body, &auth.Identity{UID: "user-1"})
	rr := httptest.NewRecorder()
	newOrderRouter(service).ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp orderResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Order.Number != "DH1700000000_0042" {
		t.Fatalf("unexpected order number %q", resp.Order.Number)
	}
	if resp.Order.Totals.GrandTotal != 330000 {
		t.Fatalf("unexpected grand total %d", resp.Order.Totals.GrandTotal)
	}
}

func TestCreateOrderPaymentDeclined(t *testing.T) {
	now := time.Date(2023, time.November, 14, 22, 13, 20, 0, time.UTC)
	service := &stubOrderService{
		createFn: func(context.Context, services.CreateOrderFromCartCommand) (services.Order, error) {
			order := orderHandlerFixture(now)
			order.Status = domain.OrderStatusCancelled
			return order, fmt.Errorf("%w: provider said no", services.ErrOrderPaymentDeclined)
		},
	}

	body := `{"payment_method":"wallet","shipping_address":{"full_name":"A","phone":"1","street":"s","ward":"w","district":"d","city":"c"}}`
	req := authedRequest(http.MethodPost, "/orders/", body, &auth.Identity{UID: "user-1"})
	rr := httptest.NewRecorder()
	newOrderRouter(service).ServeHTTP(rr, req)

	if rr.Code != http.StatusPaymentRequired {
		t.Fatalf("expected 402, got %d", rr.Code)
	}
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload["error"] != "payment_declined" {
		t.Fatalf("unexpected error code %v", payload["error"])
	}
	if payload["order_number"] != "DH1700000000_0042" {
		t.Fatalf("expected order number in details, got %v", payload["order_number"])
	}
}

func TestCreateOrderRejectsInvalidBody(t *testing.T) {
	req := authedRequest(http.MethodPost, "/orders/", "{not json", &auth.Identity{UID: "user-1"})
	rr := httptest.NewRecorder()
	newOrderRouter(&stubOrderService{}).ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestCreateOrderUnauthenticated(t *testing.T) {
	req := authedRequest(http.MethodPost, "/orders/", `{}`, nil)
	rr := httptest.NewRecorder()
	newOrderRouter(&stubOrderService{}).ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestListOrdersScopedToCaller(t *testing.T) {
	now := time.Date(2023, time.November, 14, 22, 13, 20, 0, time.UTC)
	service := &stubOrderService{
		listFn: func(_ context.Context, filter services.OrderListFilter) (domain.CursorPage[services.Order], error) {
			if filter.UserID != "user-1" {
				t.Fatalf("expected list scoped to user-1, got %q", filter.UserID)
			}
			if len(filter.Status) != 2 || filter.Status[0] != "confirmed" || filter.Status[1] != "shipping" {
				t.Fatalf("unexpected status filter %v", filter.Status)
			}
			if filter.Pagination.PageSize != maxOrderPageSize {
				t.Fatalf("expected clamped page size, got %d", filter.Pagination.PageSize)
			}
			return domain.CursorPage[services.Order]{
				Items:         []services.Order{orderHandlerFixture(now)},
				NextPageToken: "next",
			}, nil
		},
	}

	req := authedRequest(http.MethodGet, "/orders/?status=confirmed,shipping&page_size=500", "", &auth.Identity{UID: "user-1"})
	rr := httptest.NewRecorder()
	newOrderRouter(service).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var resp orderListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Items) != 1 || resp.Items[0].Number != "DH1700000000_0042" {
		t.Fatalf("unexpected items %+v", resp.Items)
	}
	if resp.NextPageToken != "next" {
		t.Fatalf("expected page token passthrough")
	}
}

func TestGetOrderHidesForeignOrder(t *testing.T) {
	now := time.Date(2023, time.November, 14, 22, 13, 20, 0, time.UTC)
	service := &stubOrderService{
		getFn: func(_ context.Context, orderID string) (services.Order, error) {
			order := orderHandlerFixture(now)
			order.UserID = "someone-else"
			return order, nil
		},
	}

	req := authedRequest(http.MethodGet, "/orders/DH1700000000_0042", "", &auth.Identity{UID: "user-1"})
	rr := httptest.NewRecorder()
	newOrderRouter(service).ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for another user's order, got %d", rr.Code)
	}
}

func TestGetOrderVisibleToAdmin(t *testing.T) {
	now := time.Date(2023, time.November, 14, 22, 13, 20, 0, time.UTC)
	service := &stubOrderService{
		getFn: func(_ context.Context, orderID string) (services.Order, error) {
			order := orderHandlerFixture(now)
			order.UserID = "someone-else"
			return order, nil
		},
	}

	req := authedRequest(http.MethodGet, "/orders/DH1700000000_0042", "", &auth.Identity{UID: "admin-1", Roles: []string{auth.RoleAdmin}})
	rr := httptest.NewRecorder()
	newOrderRouter(service).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 for admin read, got %d", rr.Code)
	}
}

func TestCancelOrderPassesExpectedStatus(t *testing.T) {
	now := time.Date(2023, time.November, 14, 22, 13, 20, 0, time.UTC)
	service := &stubOrderService{
		cancelFn: func(_ context.Context, cmd services.CancelOrderCommand) (services.Order, error) {
			if cmd.OrderID != "DH1700000000_0042" {
				t.Fatalf("unexpected order id %q", cmd.OrderID)
			}
			if cmd.ActorID != "user-1" || cmd.ActorIsAdmin {
				t.Fatalf("unexpected actor %q admin=%v", cmd.ActorID, cmd.ActorIsAdmin)
			}
			if cmd.Reason != "changed my mind" {
				t.Fatalf("unexpected reason %q", cmd.Reason)
			}
			if cmd.ExpectedStatus == nil || *cmd.ExpectedStatus != domain.OrderStatusPendingConfirmation {
				t.Fatalf("unexpected expected status %v", cmd.ExpectedStatus)
			}
			order := orderHandlerFixture(now)
			order.Status = domain.OrderStatusCancelled
			return order, nil
		},
	}

	body := `{"reason":"changed my mind","expected_status":"pending_confirmation"}`
	req := authedRequest(http.MethodPost, "/orders/DH1700000000_0042:cancel", body, &auth.Identity{UID: "user-1"})
	rr := httptest.NewRecorder()
	newOrderRouter(service).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestCancelOrderNotCancellable(t *testing.T) {
	service := &stubOrderService{
		cancelFn: func(context.Context, services.CancelOrderCommand) (services.Order, error) {
			return services.Order{}, services.ErrOrderNotCancellable
		},
	}

	req := authedRequest(http.MethodPost, "/orders/DH1700000000_0042:cancel", "", &auth.Identity{UID: "user-1"})
	rr := httptest.NewRecorder()
	newOrderRouter(service).ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
}

func TestPayOrderReturnsWalletSession(t *testing.T) {
	now := time.Date(2023, time.November, 14, 22, 13, 20, 0, time.UTC)
	service := &stubOrderService{
		startWalletFn: func(_ context.Context, cmd services.StartWalletPaymentCommand) (services.Order, error) {
			if cmd.OrderID != "DH1700000000_0042" || cmd.ActorID != "user-1" {
				t.Fatalf("unexpected command %+v", cmd)
			}
			order := orderHandlerFixture(now)
			order.PaymentMethod = domain.PaymentMethodWallet
			order.PaymentStatus = domain.PaymentStatusAwaitingPayment
			order.Wallet = &domain.WalletPayment{RequestID: "1700000000_0099", PayURL: "https://wallet.example/pay"}
			return order, nil
		},
	}

	req := authedRequest(http.MethodPost, "/orders/DH1700000000_0042:pay", "", &auth.Identity{UID: "user-1"})
	rr := httptest.NewRecorder()
	newOrderRouter(service).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var resp orderResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Order.Wallet == nil || resp.Order.Wallet.PayURL != "https://wallet.example/pay" {
		t.Fatalf("expected wallet session in response, got %+v", resp.Order.Wallet)
	}
}
