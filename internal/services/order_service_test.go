package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/verano-shop/api/internal/domain"
	"github.com/verano-shop/api/internal/payments"
	"github.com/verano-shop/api/internal/repositories"
)

type repoError struct {
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e repoError) Error() string       { return "repository error" }
func (e repoError) IsNotFound() bool    { return e.notFound }
func (e repoError) IsConflict() bool    { return e.conflict }
func (e repoError) IsUnavailable() bool { return e.unavailable }

type stubOrderRepo struct {
	insertFn       func(context.Context, domain.Order) error
	updateFn       func(context.Context, domain.Order) error
	findFn         func(context.Context, string) (domain.Order, error)
	findByWalletFn func(context.Context, string) (domain.Order, error)
	listFn         func(context.Context, repositories.OrderListFilter) (domain.CursorPage[domain.Order], error)
}

func (s *stubOrderRepo) Insert(ctx context.Context, order domain.Order) error {
	if s.insertFn != nil {
		return s.insertFn(ctx, order)
	}
	return nil
}

func (s *stubOrderRepo) Update(ctx context.Context, order domain.Order) error {
	if s.updateFn != nil {
		return s.updateFn(ctx, order)
	}
	return nil
}

func (s *stubOrderRepo) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if s.findFn != nil {
		return s.findFn(ctx, orderID)
	}
	return domain.Order{}, errors.New("not implemented")
}

func (s *stubOrderRepo) FindByWalletRequestID(ctx context.Context, requestID string) (domain.Order, error) {
	if s.findByWalletFn != nil {
		return s.findByWalletFn(ctx, requestID)
	}
	return domain.Order{}, errors.New("not implemented")
}

func (s *stubOrderRepo) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return domain.CursorPage[domain.Order]{}, nil
}

type stubCartRepo struct {
	getFn     func(context.Context, string) (domain.Cart, error)
	upsertFn  func(context.Context, domain.Cart) (domain.Cart, error)
	replaceFn func(context.Context, string, []domain.CartItem) (domain.Cart, error)
	clearFn   func(context.Context, string) error
}

func (s *stubCartRepo) GetCart(ctx context.Context, userID string) (domain.Cart, error) {
	if s.getFn != nil {
		return s.getFn(ctx, userID)
	}
	return domain.Cart{}, repoError{notFound: true}
}

func (s *stubCartRepo) UpsertCart(ctx context.Context, cart domain.Cart) (domain.Cart, error) {
	if s.upsertFn != nil {
		return s.upsertFn(ctx, cart)
	}
	return cart, nil
}

func (s *stubCartRepo) ReplaceItems(ctx context.Context, userID string, items []domain.CartItem) (domain.Cart, error) {
	if s.replaceFn != nil {
		return s.replaceFn(ctx, userID, items)
	}
	return domain.Cart{UserID: userID, Items: items}, nil
}

func (s *stubCartRepo) ClearCart(ctx context.Context, userID string) error {
	if s.clearFn != nil {
		return s.clearFn(ctx, userID)
	}
	return nil
}

type stubProductRepo struct {
	findFn    func(context.Context, string) (domain.Product, error)
	findIDsFn func(context.Context, []string) (map[string]domain.Product, error)
	listFn    func(context.Context, repositories.ProductListFilter) (domain.CursorPage[domain.Product], error)
}

func (s *stubProductRepo) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	if s.findFn != nil {
		return s.findFn(ctx, productID)
	}
	return domain.Product{}, repoError{notFound: true}
}

func (s *stubProductRepo) FindByIDs(ctx context.Context, productIDs []string) (map[string]domain.Product, error) {
	if s.findIDsFn != nil {
		return s.findIDsFn(ctx, productIDs)
	}
	return map[string]domain.Product{}, nil
}

func (s *stubProductRepo) List(ctx context.Context, filter repositories.ProductListFilter) (domain.CursorPage[domain.Product], error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return domain.CursorPage[domain.Product]{}, nil
}

type stubInventoryService struct {
	commitFn  func(context.Context, InventoryAdjustCommand) error
	releaseFn func(context.Context, InventoryAdjustCommand) error
	commits   []InventoryAdjustCommand
	releases  []InventoryAdjustCommand
}

func (s *stubInventoryService) CommitOrder(ctx context.Context, cmd InventoryAdjustCommand) error {
	s.commits = append(s.commits, cmd)
	if s.commitFn != nil {
		return s.commitFn(ctx, cmd)
	}
	return nil
}

func (s *stubInventoryService) ReleaseOrder(ctx context.Context, cmd InventoryAdjustCommand) error {
	s.releases = append(s.releases, cmd)
	if s.releaseFn != nil {
		return s.releaseFn(ctx, cmd)
	}
	return nil
}

type captureOrderEvents struct {
	events []OrderEvent
}

func (c *captureOrderEvents) PublishOrderEvent(_ context.Context, event OrderEvent) error {
	c.events = append(c.events, event)
	return nil
}

func (c *captureOrderEvents) byType(eventType string) []OrderEvent {
	var matched []OrderEvent
	for _, event := range c.events {
		if event.Type == eventType {
			matched = append(matched, event)
		}
	}
	return matched
}

type stubUnitOfWork struct {
	runFn func(ctx context.Context, fn func(context.Context) error) error
}

func (s *stubUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	if s.runFn != nil {
		return s.runFn(ctx, fn)
	}
	return fn(ctx)
}

type stubWalletProvider struct {
	requestFn func(context.Context, payments.PaymentRequest) (payments.PaymentSession, error)
	verifyFn  func(context.Context, payments.WalletCallback) (payments.CallbackResult, error)
}

func (s *stubWalletProvider) Name() string { return payments.ProviderNameWallet }

func (s *stubWalletProvider) RequestPayment(ctx context.Context, req payments.PaymentRequest) (payments.PaymentSession, error) {
	if s.requestFn != nil {
		return s.requestFn(ctx, req)
	}
	return payments.PaymentSession{}, errors.New("not implemented")
}

func (s *stubWalletProvider) VerifyCallback(ctx context.Context, payload payments.WalletCallback) (payments.CallbackResult, error) {
	if s.verifyFn != nil {
		return s.verifyFn(ctx, payload)
	}
	return payments.CallbackResult{}, errors.New("not implemented")
}

func testWalletManager(t *testing.T, provider *stubWalletProvider) *payments.Manager {
	t.Helper()
	manager, err := payments.NewManager([]payments.Provider{provider})
	if err != nil {
		t.Fatalf("NewManager returned error: %v", err)
	}
	return manager
}

var orderTestClock = time.Date(2023, time.November, 14, 22, 13, 20, 0, time.UTC) // unix 1700000000

func testCartFixture(userID string) domain.Cart {
	return domain.Cart{
		ID:     "cart_01",
		UserID: userID,
		Items: []domain.CartItem{
			{ProductID: "prod-tee", Name: "Linen Tee", Color: "white", Size: "M", Quantity: 2, UnitPrice: 150000},
			{ProductID: "prod-short", Name: "Beach Short", Color: "navy", Size: "L", Quantity: 1, UnitPrice: 120000},
		},
	}
}

func testProductsFixture() map[string]domain.Product {
	return map[string]domain.Product{
		"prod-tee":   {ID: "prod-tee", Name: "Linen Tee", Price: 150000, Colors: []string{"white"}, Sizes: []string{"M"}, Stock: 10},
		"prod-short": {ID: "prod-short", Name: "Beach Short", Price: 120000, Colors: []string{"navy"}, Sizes: []string{"L"}, Stock: 5},
	}
}

func testShippingAddress() domain.Address {
	return domain.Address{
		FullName: "Tran Thi B",
		Phone:    "0900000000",
		Street:   "12 Le Loi",
		Ward:     "Ben Nghe",
		District: "1",
		City:     "HCMC",
	}
}

func newTestOrderDeps(orders *stubOrderRepo, carts *stubCartRepo, products *stubProductRepo) OrderServiceDeps {
	return OrderServiceDeps{
		Orders:   orders,
		Carts:    carts,
		Products: products,
		Checkout: OrderCheckoutPolicy{
			NumberPrefix:     "DH",
			ShippingFlatFee:  30000,
			FreeShippingOver: 500000,
		},
		Clock:       func() time.Time { return orderTestClock },
		IDGenerator: func() string { return "TESTULID" },
		Random:      func() int64 { return 87 },
	}
}

func TestCreateFromCartCOD(t *testing.T) {
	var inserted *domain.Order
	orders := &stubOrderRepo{
		insertFn: func(_ context.Context, order domain.Order) error {
			inserted = &order
			return nil
		},
	}
	cleared := false
	carts := &stubCartRepo{
		getFn: func(_ context.Context, userID string) (domain.Cart, error) {
			return testCartFixture(userID), nil
		},
		clearFn: func(context.Context, string) error {
			cleared = true
			return nil
		},
	}
	products := &stubProductRepo{
		findIDsFn: func(context.Context, []string) (map[string]domain.Product, error) {
			return testProductsFixture(), nil
		},
	}
	inventory := &stubInventoryService{}
	events := &captureOrderEvents{}

	deps := newTestOrderDeps(orders, carts, products)
	deps.Inventory = inventory
	deps.Events = events

	svc, err := NewOrderService(deps)
	if err != nil {
		t.Fatalf("NewOrderService returned error: %v", err)
	}

	order, err := svc.CreateFromCart(context.Background(), CreateOrderFromCartCommand{
		UserID:          "user-1",
		PaymentMethod:   domain.PaymentMethodCOD,
		ShippingAddress: testShippingAddress(),
		ActorID:         "user-1",
	})
	if err != nil {
		t.Fatalf("CreateFromCart returned error: %v", err)
	}

	if order.Number != "DH1700000000_0087" {
		t.Fatalf("unexpected order number %q", order.Number)
	}
	if order.CreationRetried {
		t.Fatalf("expected CreationRetried to be false")
	}
	if order.Status != domain.OrderStatusPendingConfirmation {
		t.Fatalf("unexpected status %q", order.Status)
	}
	if order.PaymentStatus != domain.PaymentStatusUnpaid {
		t.Fatalf("unexpected payment status %q", order.PaymentStatus)
	}
	if order.Totals.Subtotal != 420000 {
		t.Fatalf("unexpected subtotal %d", order.Totals.Subtotal)
	}
	if order.Totals.ShippingFee != 30000 {
		t.Fatalf("unexpected shipping fee %d", order.Totals.ShippingFee)
	}
	if order.Totals.GrandTotal != 450000 {
		t.Fatalf("unexpected grand total %d", order.Totals.GrandTotal)
	}
	if inserted == nil || inserted.Number != order.Number {
		t.Fatalf("expected order to be inserted with number %q", order.Number)
	}
	if len(inventory.commits) != 1 {
		t.Fatalf("expected one inventory commit, got %d", len(inventory.commits))
	}
	if got := inventory.commits[0].Quantities["prod-tee"]; got != 2 {
		t.Fatalf("unexpected committed quantity %d", got)
	}
	if !cleared {
		t.Fatalf("expected cart to be cleared")
	}
	if created := events.byType("order.created"); len(created) != 1 {
		t.Fatalf("expected one order.created event, got %d", len(created))
	}
}

func TestCreateFromCartFreeShippingOverThreshold(t *testing.T) {
	orders := &stubOrderRepo{}
	carts := &stubCartRepo{
		getFn: func(_ context.Context, userID string) (domain.Cart, error) {
			return domain.Cart{
				UserID: userID,
				Items: []domain.CartItem{
					{ProductID: "prod-tee", Name: "Linen Tee", Color: "white", Size: "M", Quantity: 4, UnitPrice: 150000},
				},
			}, nil
		},
	}
	products := &stubProductRepo{
		findIDsFn: func(context.Context, []string) (map[string]domain.Product, error) {
			return testProductsFixture(), nil
		},
	}

	svc, err := NewOrderService(newTestOrderDeps(orders, carts, products))
	if err != nil {
		t.Fatalf("NewOrderService returned error: %v", err)
	}

	order, err := svc.CreateFromCart(context.Background(), CreateOrderFromCartCommand{
		UserID:          "user-1",
		PaymentMethod:   domain.PaymentMethodCOD,
		ShippingAddress: testShippingAddress(),
	})
	if err != nil {
		t.Fatalf("CreateFromCart returned error: %v", err)
	}
	if order.Totals.ShippingFee != 0 {
		t.Fatalf("expected free shipping, got fee %d", order.Totals.ShippingFee)
	}
	if order.Totals.GrandTotal != 600000 {
		t.Fatalf("unexpected grand total %d", order.Totals.GrandTotal)
	}
}

func TestCreateFromCartRetriesNumberOnConflict(t *testing.T) {
	// The fixed clock and random reproduce the same-second collision: without
	// the retry marker the second attempt would regenerate the identical
	// number and collide forever.
	var attempted []string
	orders := &stubOrderRepo{
		insertFn: func(_ context.Context, order domain.Order) error {
			attempted = append(attempted, order.Number)
			if len(attempted) == 1 {
				return repoError{conflict: true}
			}
			return nil
		},
	}
	carts := &stubCartRepo{
		getFn: func(_ context.Context, userID string) (domain.Cart, error) {
			return testCartFixture(userID), nil
		},
	}
	products := &stubProductRepo{
		findIDsFn: func(context.Context, []string) (map[string]domain.Product, error) {
			return testProductsFixture(), nil
		},
	}

	svc, err := NewOrderService(newTestOrderDeps(orders, carts, products))
	if err != nil {
		t.Fatalf("NewOrderService returned error: %v", err)
	}

	order, err := svc.CreateFromCart(context.Background(), CreateOrderFromCartCommand{
		UserID:          "user-1",
		PaymentMethod:   domain.PaymentMethodCOD,
		ShippingAddress: testShippingAddress(),
	})
	if err != nil {
		t.Fatalf("CreateFromCart returned error: %v", err)
	}
	if len(attempted) != 2 {
		t.Fatalf("expected two insert attempts, got %d", len(attempted))
	}
	if attempted[0] != "DH1700000000_0087" {
		t.Fatalf("unexpected first number %q", attempted[0])
	}
	if order.Number != "DH1700000000_0087_retry" {
		t.Fatalf("expected retry marker on regenerated number, got %q", order.Number)
	}
	if attempted[1] == attempted[0] {
		t.Fatalf("retry regenerated the identical number %q", attempted[1])
	}
	if !order.CreationRetried {
		t.Fatalf("expected CreationRetried to be true")
	}
}

func TestCreateFromCartFailsWhenNumbersExhausted(t *testing.T) {
	attempts := 0
	orders := &stubOrderRepo{
		insertFn: func(context.Context, domain.Order) error {
			attempts++
			return repoError{conflict: true}
		},
	}
	carts := &stubCartRepo{
		getFn: func(_ context.Context, userID string) (domain.Cart, error) {
			return testCartFixture(userID), nil
		},
	}
	products := &stubProductRepo{
		findIDsFn: func(context.Context, []string) (map[string]domain.Product, error) {
			return testProductsFixture(), nil
		},
	}

	svc, err := NewOrderService(newTestOrderDeps(orders, carts, products))
	if err != nil {
		t.Fatalf("NewOrderService returned error: %v", err)
	}

	_, err = svc.CreateFromCart(context.Background(), CreateOrderFromCartCommand{
		UserID:          "user-1",
		PaymentMethod:   domain.PaymentMethodCOD,
		ShippingAddress: testShippingAddress(),
	})
	if !errors.Is(err, ErrOrderCreationFailed) {
		t.Fatalf("expected ErrOrderCreationFailed, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected three insert attempts, got %d", attempts)
	}
}

func TestCreateFromCartValidation(t *testing.T) {
	carts := &stubCartRepo{
		getFn: func(_ context.Context, userID string) (domain.Cart, error) {
			return domain.Cart{UserID: userID}, nil
		},
	}
	svc, err := NewOrderService(newTestOrderDeps(&stubOrderRepo{}, carts, &stubProductRepo{}))
	if err != nil {
		t.Fatalf("NewOrderService returned error: %v", err)
	}

	_, err = svc.CreateFromCart(context.Background(), CreateOrderFromCartCommand{
		UserID:          "user-1",
		PaymentMethod:   "voucher",
		ShippingAddress: testShippingAddress(),
	})
	if !errors.Is(err, ErrOrderPaymentMethodInvalid) {
		t.Fatalf("expected ErrOrderPaymentMethodInvalid, got %v", err)
	}

	address := testShippingAddress()
	address.Ward = ""
	_, err = svc.CreateFromCart(context.Background(), CreateOrderFromCartCommand{
		UserID:          "user-1",
		PaymentMethod:   domain.PaymentMethodCOD,
		ShippingAddress: address,
	})
	if !errors.Is(err, ErrOrderAddressIncomplete) {
		t.Fatalf("expected ErrOrderAddressIncomplete, got %v", err)
	}

	_, err = svc.CreateFromCart(context.Background(), CreateOrderFromCartCommand{
		UserID:          "user-1",
		PaymentMethod:   domain.PaymentMethodCOD,
		ShippingAddress: testShippingAddress(),
	})
	if !errors.Is(err, ErrOrderCartEmpty) {
		t.Fatalf("expected ErrOrderCartEmpty, got %v", err)
	}
}

func TestCreateFromCartInsufficientStock(t *testing.T) {
	carts := &stubCartRepo{
		getFn: func(_ context.Context, userID string) (domain.Cart, error) {
			return testCartFixture(userID), nil
		},
	}
	products := &stubProductRepo{
		findIDsFn: func(context.Context, []string) (map[string]domain.Product, error) {
			fixture := testProductsFixture()
			low := fixture["prod-tee"]
			low.Stock = 1
			fixture["prod-tee"] = low
			return fixture, nil
		},
	}

	svc, err := NewOrderService(newTestOrderDeps(&stubOrderRepo{}, carts, products))
	if err != nil {
		t.Fatalf("NewOrderService returned error: %v", err)
	}

	_, err = svc.CreateFromCart(context.Background(), CreateOrderFromCartCommand{
		UserID:          "user-1",
		PaymentMethod:   domain.PaymentMethodCOD,
		ShippingAddress: testShippingAddress(),
	})
	if !errors.Is(err, ErrOrderOutOfStock) {
		t.Fatalf("expected ErrOrderOutOfStock, got %v", err)
	}
}

func TestCreateFromCartWalletOpensSession(t *testing.T) {
	var updated *domain.Order
	orders := &stubOrderRepo{
		updateFn: func(_ context.Context, order domain.Order) error {
			updated = &order
			return nil
		},
	}
	carts := &stubCartRepo{
		getFn: func(_ context.Context, userID string) (domain.Cart, error) {
			return testCartFixture(userID), nil
		},
	}
	products := &stubProductRepo{
		findIDsFn: func(context.Context, []string) (map[string]domain.Product, error) {
			return testProductsFixture(), nil
		},
	}
	inventory := &stubInventoryService{}

	var gotRequest payments.PaymentRequest
	provider := &stubWalletProvider{
		requestFn: func(_ context.Context, req payments.PaymentRequest) (payments.PaymentSession, error) {
			gotRequest = req
			return payments.PaymentSession{
				Provider:        payments.ProviderNameWallet,
				RequestID:       "1700000000_0042",
				ProviderOrderID: "1700000000_0042",
				PayURL:          "https://wallet.example/pay",
				Status:          payments.StatusPending,
			}, nil
		},
	}

	deps := newTestOrderDeps(orders, carts, products)
	deps.Inventory = inventory
	deps.Payments = testWalletManager(t, provider)

	svc, err := NewOrderService(deps)
	if err != nil {
		t.Fatalf("NewOrderService returned error: %v", err)
	}

	order, err := svc.CreateFromCart(context.Background(), CreateOrderFromCartCommand{
		UserID:          "user-1",
		PaymentMethod:   domain.PaymentMethodWallet,
		ShippingAddress: testShippingAddress(),
	})
	if err != nil {
		t.Fatalf("CreateFromCart returned error: %v", err)
	}

	if order.PaymentStatus != domain.PaymentStatusAwaitingPayment {
		t.Fatalf("unexpected payment status %q", order.PaymentStatus)
	}
	if order.Wallet == nil || order.Wallet.PayURL != "https://wallet.example/pay" {
		t.Fatalf("expected wallet session to be recorded, got %+v", order.Wallet)
	}
	if gotRequest.Amount != order.Totals.GrandTotal {
		t.Fatalf("unexpected requested amount %d", gotRequest.Amount)
	}
	if gotRequest.ExtraData != order.Number {
		t.Fatalf("expected extra data to carry the order number, got %q", gotRequest.ExtraData)
	}
	if len(inventory.commits) != 0 {
		t.Fatalf("wallet orders must not commit inventory before settlement")
	}
	if updated == nil || updated.Wallet == nil {
		t.Fatalf("expected order update persisting the wallet session")
	}
}

func TestCreateFromCartWalletRejectedCancelsOrder(t *testing.T) {
	var updated *domain.Order
	orders := &stubOrderRepo{
		updateFn: func(_ context.Context, order domain.Order) error {
			updated = &order
			return nil
		},
	}
	carts := &stubCartRepo{
		getFn: func(_ context.Context, userID string) (domain.Cart, error) {
			return testCartFixture(userID), nil
		},
	}
	products := &stubProductRepo{
		findIDsFn: func(context.Context, []string) (map[string]domain.Product, error) {
			return testProductsFixture(), nil
		},
	}
	inventory := &stubInventoryService{}
	provider := &stubWalletProvider{
		requestFn: func(context.Context, payments.PaymentRequest) (payments.PaymentSession, error) {
			return payments.PaymentSession{Status: payments.StatusFailed, ResultCode: 41}, payments.ErrPaymentRejected
		},
	}

	deps := newTestOrderDeps(orders, carts, products)
	deps.Inventory = inventory
	deps.Payments = testWalletManager(t, provider)

	svc, err := NewOrderService(deps)
	if err != nil {
		t.Fatalf("NewOrderService returned error: %v", err)
	}

	order, err := svc.CreateFromCart(context.Background(), CreateOrderFromCartCommand{
		UserID:          "user-1",
		PaymentMethod:   domain.PaymentMethodWallet,
		ShippingAddress: testShippingAddress(),
	})
	if !errors.Is(err, ErrOrderPaymentDeclined) {
		t.Fatalf("expected ErrOrderPaymentDeclined, got %v", err)
	}
	if order.Status != domain.OrderStatusCancelled {
		t.Fatalf("expected order to be cancelled, got %q", order.Status)
	}
	if order.CancelledAt == nil {
		t.Fatalf("expected cancelled timestamp")
	}
	if len(inventory.commits) != 0 || len(inventory.releases) != 0 {
		t.Fatalf("no inventory adjustment expected for a declined wallet order")
	}
	if updated == nil || updated.Status != domain.OrderStatusCancelled {
		t.Fatalf("expected cancelled order to be persisted")
	}
}

func TestTransitionStatusRequiresAdmin(t *testing.T) {
	svc, err := NewOrderService(newTestOrderDeps(&stubOrderRepo{}, &stubCartRepo{}, &stubProductRepo{}))
	if err != nil {
		t.Fatalf("NewOrderService returned error: %v", err)
	}

	_, err = svc.TransitionStatus(context.Background(), OrderStatusTransitionCommand{
		OrderID:      "DH1700000000_0087",
		TargetStatus: domain.OrderStatusConfirmed,
		ActorID:      "user-1",
	})
	if !errors.Is(err, ErrOrderForbidden) {
		t.Fatalf("expected ErrOrderForbidden, got %v", err)
	}
}

func TestTransitionStatusConfirms(t *testing.T) {
	stored := domain.Order{
		ID:            "ord_1",
		Number:        "DH1700000000_0087",
		UserID:        "user-1",
		Status:        domain.OrderStatusPendingConfirmation,
		PaymentMethod: domain.PaymentMethodCOD,
		PaymentStatus: domain.PaymentStatusUnpaid,
	}
	orders := &stubOrderRepo{
		findFn: func(context.Context, string) (domain.Order, error) {
			return stored, nil
		},
	}
	events := &captureOrderEvents{}

	deps := newTestOrderDeps(orders, &stubCartRepo{}, &stubProductRepo{})
	deps.Events = events

	svc, err := NewOrderService(deps)
	if err != nil {
		t.Fatalf("NewOrderService returned error: %v", err)
	}

	order, err := svc.TransitionStatus(context.Background(), OrderStatusTransitionCommand{
		OrderID:      stored.Number,
		TargetStatus: domain.OrderStatusConfirmed,
		ActorID:      "admin-1",
		ActorIsAdmin: true,
	})
	if err != nil {
		t.Fatalf("TransitionStatus returned error: %v", err)
	}
	if order.Status != domain.OrderStatusConfirmed {
		t.Fatalf("unexpected status %q", order.Status)
	}
	changed := events.byType("order.status.changed")
	if len(changed) != 1 {
		t.Fatalf("expected one status change event, got %d", len(changed))
	}
	if changed[0].PreviousStatus != string(domain.OrderStatusPendingConfirmation) {
		t.Fatalf("unexpected previous status %q", changed[0].PreviousStatus)
	}
}

func TestTransitionStatusRejectsIllegalMove(t *testing.T) {
	orders := &stubOrderRepo{
		findFn: func(context.Context, string) (domain.Order, error) {
			return domain.Order{
				Number:        "DH1700000000_0087",
				Status:        domain.OrderStatusPendingConfirmation,
				PaymentStatus: domain.PaymentStatusUnpaid,
			}, nil
		},
	}
	svc, err := NewOrderService(newTestOrderDeps(orders, &stubCartRepo{}, &stubProductRepo{}))
	if err != nil {
		t.Fatalf("NewOrderService returned error: %v", err)
	}

	_, err = svc.TransitionStatus(context.Background(), OrderStatusTransitionCommand{
		OrderID:      "DH1700000000_0087",
		TargetStatus: domain.OrderStatusDelivered,
		ActorIsAdmin: true,
	})
	if !errors.Is(err, ErrOrderInvalidState) {
		t.Fatalf("expected ErrOrderInvalidState, got %v", err)
	}
}

func TestTransitionStatusExpectedStatusMismatch(t *testing.T) {
	orders := &stubOrderRepo{
		findFn: func(context.Context, string) (domain.Order, error) {
			return domain.Order{
				Number: "DH1700000000_0087",
				Status: domain.OrderStatusConfirmed,
			}, nil
		},
	}
	svc, err := NewOrderService(newTestOrderDeps(orders, &stubCartRepo{}, &stubProductRepo{}))
	if err != nil {
		t.Fatalf("NewOrderService returned error: %v", err)
	}

	expected := domain.OrderStatusPendingConfirmation
	_, err = svc.TransitionStatus(context.Background(), OrderStatusTransitionCommand{
		OrderID:        "DH1700000000_0087",
		TargetStatus:   domain.OrderStatusShipping,
		ActorIsAdmin:   true,
		ExpectedStatus: &expected,
	})
	if !errors.Is(err, ErrOrderConflict) {
		t.Fatalf("expected ErrOrderConflict, got %v", err)
	}
}

func TestTransitionStatusSeesConcurrentCancel(t *testing.T) {
	stored := domain.Order{
		ID:            "ord_1",
		Number:        "DH1700000000_0087",
		UserID:        "user-1",
		Status:        domain.OrderStatusPendingConfirmation,
		PaymentMethod: domain.PaymentMethodCOD,
		PaymentStatus: domain.PaymentStatusUnpaid,
	}
	updates := 0
	var readInsideTx bool
	inTx := false
	orders := &stubOrderRepo{
		findFn: func(context.Context, string) (domain.Order, error) {
			readInsideTx = inTx
			return stored, nil
		},
		updateFn: func(context.Context, domain.Order) error {
			updates++
			return nil
		},
	}
	events := &captureOrderEvents{}

	deps := newTestOrderDeps(orders, &stubCartRepo{}, &stubProductRepo{})
	deps.Events = events
	deps.UnitOfWork = &stubUnitOfWork{
		runFn: func(ctx context.Context, fn func(context.Context) error) error {
			// A cancel lands on the same order just before this
			// transaction begins.
			cancelledAt := orderTestClock.Add(-time.Second)
			stored.Status = domain.OrderStatusCancelled
			stored.CancelledAt = &cancelledAt
			inTx = true
			defer func() { inTx = false }()
			return fn(ctx)
		},
	}

	svc, err := NewOrderService(deps)
	if err != nil {
		t.Fatalf("NewOrderService returned error: %v", err)
	}

	_, err = svc.TransitionStatus(context.Background(), OrderStatusTransitionCommand{
		OrderID:      stored.Number,
		TargetStatus: domain.OrderStatusConfirmed,
		ActorID:      "admin-1",
		ActorIsAdmin: true,
	})
	if !errors.Is(err, ErrOrderInvalidState) {
		t.Fatalf("expected ErrOrderInvalidState, got %v", err)
	}
	if !readInsideTx {
		t.Fatalf("expected the order to be re-read inside the transaction")
	}
	if updates != 0 {
		t.Fatalf("expected no write over the cancelled order, got %d updates", updates)
	}
	if len(events.events) != 0 {
		t.Fatalf("expected no events, got %d", len(events.events))
	}
}

func TestTransitionStatusRejectsRepeatedMove(t *testing.T) {
	deliveredAt := orderTestClock.Add(-time.Hour)
	orders := &stubOrderRepo{
		findFn: func(context.Context, string) (domain.Order, error) {
			return domain.Order{
				Number:        "DH1700000000_0087",
				Status:        domain.OrderStatusDelivered,
				PaymentMethod: domain.PaymentMethodCOD,
				PaymentStatus: domain.PaymentStatusPaid,
				DeliveredAt:   &deliveredAt,
			}, nil
		},
		updateFn: func(context.Context, domain.Order) error {
			t.Fatalf("unexpected update for a repeated transition")
			return nil
		},
	}
	events := &captureOrderEvents{}

	deps := newTestOrderDeps(orders, &stubCartRepo{}, &stubProductRepo{})
	deps.Events = events

	svc, err := NewOrderService(deps)
	if err != nil {
		t.Fatalf("NewOrderService returned error: %v", err)
	}

	_, err = svc.TransitionStatus(context.Background(), OrderStatusTransitionCommand{
		OrderID:      "DH1700000000_0087",
		TargetStatus: domain.OrderStatusDelivered,
		ActorIsAdmin: true,
	})
	if !errors.Is(err, ErrOrderInvalidState) {
		t.Fatalf("expected ErrOrderInvalidState, got %v", err)
	}
	if len(events.events) != 0 {
		t.Fatalf("expected no events for a repeated transition, got %d", len(events.events))
	}
}

func TestDeliveredCODSettlesPayment(t *testing.T) {
	orders := &stubOrderRepo{
		findFn: func(context.Context, string) (domain.Order, error) {
			return domain.Order{
				Number:        "DH1700000000_0087",
				UserID:        "user-1",
				Status:        domain.OrderStatusShipping,
				PaymentMethod: domain.PaymentMethodCOD,
				PaymentStatus: domain.PaymentStatusUnpaid,
			}, nil
		},
	}
	events := &captureOrderEvents{}

	deps := newTestOrderDeps(orders, &stubCartRepo{}, &stubProductRepo{})
	deps.Events = events

	svc, err := NewOrderService(deps)
	if err != nil {
		t.Fatalf("NewOrderService returned error: %v", err)
	}

	order, err := svc.TransitionStatus(context.Background(), OrderStatusTransitionCommand{
		OrderID:      "DH1700000000_0087",
		TargetStatus: domain.OrderStatusDelivered,
		ActorIsAdmin: true,
	})
	if err != nil {
		t.Fatalf("TransitionStatus returned error: %v", err)
	}
	if order.PaymentStatus != domain.PaymentStatusPaid {
		t.Fatalf("expected payment to settle at delivery, got %q", order.PaymentStatus)
	}
	if order.PaidAt == nil || !order.PaidAt.Equal(orderTestClock) {
		t.Fatalf("expected paid timestamp %v, got %v", orderTestClock, order.PaidAt)
	}
	if order.DeliveredAt == nil {
		t.Fatalf("expected delivered timestamp")
	}
	if settled := events.byType("order.payment.settled"); len(settled) != 1 {
		t.Fatalf("expected one settlement event, got %d", len(settled))
	}
}

func TestCancelRefundsPaidOrder(t *testing.T) {
	orders := &stubOrderRepo{
		findFn: func(context.Context, string) (domain.Order, error) {
			paidAt := orderTestClock.Add(-time.Hour)
			return domain.Order{
				Number:        "DH1700000000_0087",
				UserID:        "user-1",
				Status:        domain.OrderStatusConfirmed,
				PaymentMethod: domain.PaymentMethodBank,
				PaymentStatus: domain.PaymentStatusPaid,
				PaidAt:        &paidAt,
				Items: []domain.OrderItem{
					{ProductID: "prod-tee", Quantity: 2},
				},
			}, nil
		},
	}
	inventory := &stubInventoryService{}

	deps := newTestOrderDeps(orders, &stubCartRepo{}, &stubProductRepo{})
	deps.Inventory = inventory

	svc, err := NewOrderService(deps)
	if err != nil {
		t.Fatalf("NewOrderService returned error: %v", err)
	}

	order, err := svc.Cancel(context.Background(), CancelOrderCommand{
		OrderID:      "DH1700000000_0087",
		ActorID:      "admin-1",
		ActorIsAdmin: true,
		Reason:       "customer request",
	})
	if err != nil {
		t.Fatalf("Cancel returned error: %v", err)
	}
	if order.Status != domain.OrderStatusCancelled {
		t.Fatalf("unexpected status %q", order.Status)
	}
	if order.PaymentStatus != domain.PaymentStatusRefunded {
		t.Fatalf("expected refunded payment status, got %q", order.PaymentStatus)
	}
	if order.CancelledAt == nil {
		t.Fatalf("expected cancelled timestamp")
	}
	if len(inventory.releases) != 1 {
		t.Fatalf("expected one inventory release, got %d", len(inventory.releases))
	}
}

func TestCancelForbiddenForOtherUser(t *testing.T) {
	orders := &stubOrderRepo{
		findFn: func(context.Context, string) (domain.Order, error) {
			return domain.Order{Number: "DH1700000000_0087", UserID: "user-1", Status: domain.OrderStatusPendingConfirmation}, nil
		},
	}
	svc, err := NewOrderService(newTestOrderDeps(orders, &stubCartRepo{}, &stubProductRepo{}))
	if err != nil {
		t.Fatalf("NewOrderService returned error: %v", err)
	}

	_, err = svc.Cancel(context.Background(), CancelOrderCommand{
		OrderID: "DH1700000000_0087",
		ActorID: "user-2",
	})
	if !errors.Is(err, ErrOrderForbidden) {
		t.Fatalf("expected ErrOrderForbidden, got %v", err)
	}
}

func TestCancelRejectedOnceShipping(t *testing.T) {
	orders := &stubOrderRepo{
		findFn: func(context.Context, string) (domain.Order, error) {
			return domain.Order{Number: "DH1700000000_0087", UserID: "user-1", Status: domain.OrderStatusShipping}, nil
		},
	}
	svc, err := NewOrderService(newTestOrderDeps(orders, &stubCartRepo{}, &stubProductRepo{}))
	if err != nil {
		t.Fatalf("NewOrderService returned error: %v", err)
	}

	_, err = svc.Cancel(context.Background(), CancelOrderCommand{
		OrderID: "DH1700000000_0087",
		ActorID: "user-1",
	})
	if !errors.Is(err, ErrOrderNotCancellable) {
		t.Fatalf("expected ErrOrderNotCancellable, got %v", err)
	}
}

func TestCancelAwaitingWalletSkipsInventoryRelease(t *testing.T) {
	orders := &stubOrderRepo{
		findFn: func(context.Context, string) (domain.Order, error) {
			return domain.Order{
				Number:        "DH1700000000_0087",
				UserID:        "user-1",
				Status:        domain.OrderStatusPendingConfirmation,
				PaymentMethod: domain.PaymentMethodWallet,
				PaymentStatus: domain.PaymentStatusAwaitingPayment,
				Items:         []domain.OrderItem{{ProductID: "prod-tee", Quantity: 1}},
			}, nil
		},
	}
	inventory := &stubInventoryService{}

	deps := newTestOrderDeps(orders, &stubCartRepo{}, &stubProductRepo{})
	deps.Inventory = inventory

	svc, err := NewOrderService(deps)
	if err != nil {
		t.Fatalf("NewOrderService returned error: %v", err)
	}

	order, err := svc.Cancel(context.Background(), CancelOrderCommand{
		OrderID: "DH1700000000_0087",
		ActorID: "user-1",
	})
	if err != nil {
		t.Fatalf("Cancel returned error: %v", err)
	}
	if order.Status != domain.OrderStatusCancelled {
		t.Fatalf("unexpected status %q", order.Status)
	}
	if len(inventory.releases) != 0 {
		t.Fatalf("stock was never committed, release not expected")
	}
}

func walletOrderFixture() domain.Order {
	return domain.Order{
		ID:            "ord_1",
		Number:        "DH1700000000_0087",
		UserID:        "user-1",
		Status:        domain.OrderStatusPendingConfirmation,
		PaymentMethod: domain.PaymentMethodWallet,
		PaymentStatus: domain.PaymentStatusAwaitingPayment,
		Totals:        domain.OrderTotals{Subtotal: 420000, ShippingFee: 30000, GrandTotal: 450000},
		Wallet: &domain.WalletPayment{
			RequestID:       "1700000000_0042",
			ProviderOrderID: "1700000000_0042",
		},
		Items: []domain.OrderItem{{ProductID: "prod-tee", Quantity: 2}},
	}
}

func TestHandleWalletCallbackMarksPaid(t *testing.T) {
	stored := walletOrderFixture()
	var updated *domain.Order
	orders := &stubOrderRepo{
		findByWalletFn: func(_ context.Context, requestID string) (domain.Order, error) {
			if requestID != stored.Wallet.RequestID {
				return domain.Order{}, repoError{notFound: true}
			}
			return stored, nil
		},
		updateFn: func(_ context.Context, order domain.Order) error {
			updated = &order
			return nil
		},
	}
	inventory := &stubInventoryService{}
	events := &captureOrderEvents{}
	provider := &stubWalletProvider{
		verifyFn: func(context.Context, payments.WalletCallback) (payments.CallbackResult, error) {
			return payments.CallbackResult{
				Valid:         true,
				Paid:          true,
				RequestID:     stored.Wallet.RequestID,
				TransactionID: "987654321",
				Amount:        450000,
			}, nil
		},
	}

	deps := newTestOrderDeps(orders, &stubCartRepo{}, &stubProductRepo{})
	deps.Inventory = inventory
	deps.Events = events
	deps.Payments = testWalletManager(t, provider)

	svc, err := NewOrderService(deps)
	if err != nil {
		t.Fatalf("NewOrderService returned error: %v", err)
	}

	order, err := svc.HandleWalletCallback(context.Background(), payments.WalletCallback{RequestID: stored.Wallet.RequestID})
	if err != nil {
		t.Fatalf("HandleWalletCallback returned error: %v", err)
	}
	if order.PaymentStatus != domain.PaymentStatusPaid {
		t.Fatalf("expected paid payment status, got %q", order.PaymentStatus)
	}
	if order.PaidAt == nil {
		t.Fatalf("expected paid timestamp")
	}
	if order.Wallet.TransactionID != "987654321" {
		t.Fatalf("unexpected transaction id %q", order.Wallet.TransactionID)
	}
	if updated == nil || updated.PaymentStatus != domain.PaymentStatusPaid {
		t.Fatalf("expected paid order to be persisted")
	}
	if len(inventory.commits) != 1 {
		t.Fatalf("expected inventory commit after settlement, got %d", len(inventory.commits))
	}
	if settled := events.byType("order.payment.settled"); len(settled) != 1 {
		t.Fatalf("expected one settlement event, got %d", len(settled))
	}
}

func TestHandleWalletCallbackIdempotent(t *testing.T) {
	stored := walletOrderFixture()
	paidAt := orderTestClock.Add(-time.Minute)
	stored.PaymentStatus = domain.PaymentStatusPaid
	stored.PaidAt = &paidAt
	stored.Wallet.TransactionID = "987654321"

	updates := 0
	orders := &stubOrderRepo{
		findByWalletFn: func(context.Context, string) (domain.Order, error) {
			return stored, nil
		},
		updateFn: func(context.Context, domain.Order) error {
			updates++
			return nil
		},
	}
	provider := &stubWalletProvider{
		verifyFn: func(context.Context, payments.WalletCallback) (payments.CallbackResult, error) {
			return payments.CallbackResult{Valid: true, Paid: true, RequestID: stored.Wallet.RequestID, Amount: 450000}, nil
		},
	}

	deps := newTestOrderDeps(orders, &stubCartRepo{}, &stubProductRepo{})
	deps.Payments = testWalletManager(t, provider)

	svc, err := NewOrderService(deps)
	if err != nil {
		t.Fatalf("NewOrderService returned error: %v", err)
	}

	order, err := svc.HandleWalletCallback(context.Background(), payments.WalletCallback{RequestID: stored.Wallet.RequestID})
	if err != nil {
		t.Fatalf("HandleWalletCallback returned error: %v", err)
	}
	if order.PaymentStatus != domain.PaymentStatusPaid {
		t.Fatalf("unexpected payment status %q", order.PaymentStatus)
	}
	if updates != 0 {
		t.Fatalf("replayed callback must not write, saw %d updates", updates)
	}
}

func TestHandleWalletCallbackPaidAfterCancelMarksRefund(t *testing.T) {
	stored := walletOrderFixture()
	cancelledAt := orderTestClock.Add(-time.Minute)
	stored.Status = domain.OrderStatusCancelled
	stored.CancelledAt = &cancelledAt

	var updated *domain.Order
	orders := &stubOrderRepo{
		findByWalletFn: func(context.Context, string) (domain.Order, error) {
			return stored, nil
		},
		updateFn: func(_ context.Context, order domain.Order) error {
			updated = &order
			return nil
		},
	}
	inventory := &stubInventoryService{}
	events := &captureOrderEvents{}
	provider := &stubWalletProvider{
		verifyFn: func(context.Context, payments.WalletCallback) (payments.CallbackResult, error) {
			return payments.CallbackResult{
				Valid:         true,
				Paid:          true,
				RequestID:     stored.Wallet.RequestID,
				TransactionID: "987654321",
				Amount:        450000,
			}, nil
		},
	}

	deps := newTestOrderDeps(orders, &stubCartRepo{}, &stubProductRepo{})
	deps.Inventory = inventory
	deps.Events = events
	deps.Payments = testWalletManager(t, provider)

	svc, err := NewOrderService(deps)
	if err != nil {
		t.Fatalf("NewOrderService returned error: %v", err)
	}

	order, err := svc.HandleWalletCallback(context.Background(), payments.WalletCallback{RequestID: stored.Wallet.RequestID})
	if err != nil {
		t.Fatalf("HandleWalletCallback returned error: %v", err)
	}
	if order.Status != domain.OrderStatusCancelled {
		t.Fatalf("expected order to stay cancelled, got %q", order.Status)
	}
	if order.PaymentStatus != domain.PaymentStatusRefunded {
		t.Fatalf("expected refunded payment status, got %q", order.PaymentStatus)
	}
	if updated == nil || updated.PaymentStatus != domain.PaymentStatusRefunded {
		t.Fatalf("expected refunded order to be persisted")
	}
	if len(inventory.commits) != 0 {
		t.Fatalf("expected no inventory commit for a cancelled order, got %d", len(inventory.commits))
	}
	if settled := events.byType("order.payment.settled"); len(settled) != 0 {
		t.Fatalf("expected no settlement event for a cancelled order, got %d", len(settled))
	}
}

func TestHandleWalletCallbackRejectsForgedSignature(t *testing.T) {
	lookups := 0
	orders := &stubOrderRepo{
		findByWalletFn: func(context.Context, string) (domain.Order, error) {
			lookups++
			return domain.Order{}, repoError{notFound: true}
		},
	}
	provider := &stubWalletProvider{
		verifyFn: func(context.Context, payments.WalletCallback) (payments.CallbackResult, error) {
			return payments.CallbackResult{Valid: false}, nil
		},
	}

	deps := newTestOrderDeps(orders, &stubCartRepo{}, &stubProductRepo{})
	deps.Payments = testWalletManager(t, provider)

	svc, err := NewOrderService(deps)
	if err != nil {
		t.Fatalf("NewOrderService returned error: %v", err)
	}

	_, err = svc.HandleWalletCallback(context.Background(), payments.WalletCallback{RequestID: "1700000000_0042"})
	if !errors.Is(err, ErrWalletCallbackInvalid) {
		t.Fatalf("expected ErrWalletCallbackInvalid, got %v", err)
	}
	if lookups != 0 {
		t.Fatalf("forged callback must not reach the repository")
	}
}

func TestHandleWalletCallbackFailureCancelsOrder(t *testing.T) {
	stored := walletOrderFixture()
	orders := &stubOrderRepo{
		findByWalletFn: func(context.Context, string) (domain.Order, error) {
			return stored, nil
		},
	}
	inventory := &stubInventoryService{}
	provider := &stubWalletProvider{
		verifyFn: func(context.Context, payments.WalletCallback) (payments.CallbackResult, error) {
			return payments.CallbackResult{
				Valid:      true,
				Paid:       false,
				RequestID:  stored.Wallet.RequestID,
				ResultCode: 1006,
				Message:    "user denied",
			}, nil
		},
	}

	deps := newTestOrderDeps(orders, &stubCartRepo{}, &stubProductRepo{})
	deps.Inventory = inventory
	deps.Payments = testWalletManager(t, provider)

	svc, err := NewOrderService(deps)
	if err != nil {
		t.Fatalf("NewOrderService returned error: %v", err)
	}

	order, err := svc.HandleWalletCallback(context.Background(), payments.WalletCallback{RequestID: stored.Wallet.RequestID})
	if err != nil {
		t.Fatalf("HandleWalletCallback returned error: %v", err)
	}
	if order.Status != domain.OrderStatusCancelled {
		t.Fatalf("expected cancelled order, got %q", order.Status)
	}
	if order.PaymentStatus != domain.PaymentStatusAwaitingPayment {
		t.Fatalf("unexpected payment status %q", order.PaymentStatus)
	}
	if len(inventory.releases) != 0 {
		t.Fatalf("stock was never committed, release not expected")
	}
}

func TestHandleWalletCallbackAmountMismatch(t *testing.T) {
	stored := walletOrderFixture()
	orders := &stubOrderRepo{
		findByWalletFn: func(context.Context, string) (domain.Order, error) {
			return stored, nil
		},
	}
	provider := &stubWalletProvider{
		verifyFn: func(context.Context, payments.WalletCallback) (payments.CallbackResult, error) {
			return payments.CallbackResult{Valid: true, Paid: true, RequestID: stored.Wallet.RequestID, Amount: 1}, nil
		},
	}

	deps := newTestOrderDeps(orders, &stubCartRepo{}, &stubProductRepo{})
	deps.Payments = testWalletManager(t, provider)

	svc, err := NewOrderService(deps)
	if err != nil {
		t.Fatalf("NewOrderService returned error: %v", err)
	}

	_, err = svc.HandleWalletCallback(context.Background(), payments.WalletCallback{RequestID: stored.Wallet.RequestID})
	if !errors.Is(err, ErrOrderConflict) {
		t.Fatalf("expected ErrOrderConflict, got %v", err)
	}
}

func TestStartWalletPaymentReopensSession(t *testing.T) {
	stored := walletOrderFixture()
	stored.Wallet = nil
	orders := &stubOrderRepo{
		findFn: func(context.Context, string) (domain.Order, error) {
			return stored, nil
		},
	}
	provider := &stubWalletProvider{
		requestFn: func(context.Context, payments.PaymentRequest) (payments.PaymentSession, error) {
			return payments.PaymentSession{
				RequestID: "1700000000_0099",
				PayURL:    "https://wallet.example/pay-again",
				Status:    payments.StatusPending,
			}, nil
		},
	}

	deps := newTestOrderDeps(orders, &stubCartRepo{}, &stubProductRepo{})
	deps.Payments = testWalletManager(t, provider)

	svc, err := NewOrderService(deps)
	if err != nil {
		t.Fatalf("NewOrderService returned error: %v", err)
	}

	order, err := svc.StartWalletPayment(context.Background(), StartWalletPaymentCommand{
		OrderID: stored.Number,
		ActorID: "user-1",
	})
	if err != nil {
		t.Fatalf("StartWalletPayment returned error: %v", err)
	}
	if order.Wallet == nil || order.Wallet.RequestID != "1700000000_0099" {
		t.Fatalf("expected refreshed wallet session, got %+v", order.Wallet)
	}

	_, err = svc.StartWalletPayment(context.Background(), StartWalletPaymentCommand{
		OrderID: stored.Number,
		ActorID: "user-2",
	})
	if !errors.Is(err, ErrOrderForbidden) {
		t.Fatalf("expected ErrOrderForbidden for foreign order, got %v", err)
	}
}

func TestGetOrderMapsNotFound(t *testing.T) {
	orders := &stubOrderRepo{
		findFn: func(context.Context, string) (domain.Order, error) {
			return domain.Order{}, repoError{notFound: true}
		},
	}
	svc, err := NewOrderService(newTestOrderDeps(orders, &stubCartRepo{}, &stubProductRepo{}))
	if err != nil {
		t.Fatalf("NewOrderService returned error: %v", err)
	}

	_, err = svc.GetOrder(context.Background(), "DH1700000000_0000")
	if !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}
