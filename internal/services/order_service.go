package services

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/verano-shop/api/internal/domain"
	"github.com/verano-shop/api/internal/payments"
	"github.com/verano-shop/api/internal/repositories"
)

const (
	orderEventCreated       = "order.created"
	orderEventStatusChanged = "order.status.changed"
	orderEventPaymentPaid   = "order.payment.settled"

	orderIDPrefix = "ord_"

	// orderNumberMaxAttempts bounds how often creation retries when the
	// generated number collides with an existing document key.
	orderNumberMaxAttempts = 3

	// orderNumberRetrySuffix marks numbers regenerated after a collision.
	orderNumberRetrySuffix = "_retry"
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderInvalidState indicates an invalid status transition was attempted.
	ErrOrderInvalidState = errors.New("order: invalid status transition")
	// ErrOrderConflict indicates optimistic concurrency conflicts or duplicates.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrOrderOutOfStock indicates a cart line exceeds the available stock.
	ErrOrderOutOfStock = errors.New("order: insufficient stock")
	// ErrOrderCreationFailed indicates every generated order number collided.
	ErrOrderCreationFailed = errors.New("order: creation failed")
	// ErrOrderPaymentDeclined indicates the wallet provider refused the payment.
	// The order is persisted in the cancelled state before this is returned.
	ErrOrderPaymentDeclined = errors.New("order: payment declined")
	// ErrWalletCallbackInvalid indicates a provider notification failed signature verification.
	ErrWalletCallbackInvalid = errors.New("order: wallet callback signature invalid")
	// ErrOrderForbidden indicates the actor may not operate on the order.
	ErrOrderForbidden = errors.New("order: forbidden")

	errOrderWalletUnavailable = errors.New("order: wallet provider not configured")
)

// Derived sentinels keep errors.Is working against the broad category while
// letting handlers distinguish the precise rejection.
var (
	ErrOrderCartEmpty            = fmt.Errorf("%w: cart is empty", ErrOrderInvalidInput)
	ErrOrderAddressIncomplete    = fmt.Errorf("%w: shipping address incomplete", ErrOrderInvalidInput)
	ErrOrderPaymentMethodInvalid = fmt.Errorf("%w: payment method invalid", ErrOrderInvalidInput)
	ErrOrderVariantInvalid       = fmt.Errorf("%w: variant no longer offered", ErrOrderInvalidInput)
	ErrOrderNotCancellable       = fmt.Errorf("%w: order cannot be cancelled", ErrOrderInvalidState)
)

var orderStateTransitions = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderStatusPendingConfirmation: {domain.OrderStatusConfirmed, domain.OrderStatusCancelled},
	domain.OrderStatusConfirmed:           {domain.OrderStatusShipping, domain.OrderStatusCancelled},
	domain.OrderStatusShipping:            {domain.OrderStatusDelivered},
}

var paymentStateTransitions = map[domain.PaymentStatus][]domain.PaymentStatus{
	domain.PaymentStatusUnpaid:          {domain.PaymentStatusPaid},
	domain.PaymentStatusAwaitingPayment: {domain.PaymentStatusPaid},
	domain.PaymentStatusPaid:            {domain.PaymentStatusRefunded},
}

var cancellableStatuses = []domain.OrderStatus{
	domain.OrderStatusPendingConfirmation,
	domain.OrderStatusConfirmed,
}

// OrderEventPublisher publishes order domain events for downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// OrderEvent captures metadata for emitted order domain events.
type OrderEvent struct {
	Type           string
	OrderID        string
	OrderNumber    string
	PreviousStatus string
	CurrentStatus  string
	PaymentStatus  string
	ActorID        string
	OccurredAt     time.Time
	Metadata       map[string]any
}

// OrderCheckoutPolicy carries the pricing and numbering rules applied at creation.
type OrderCheckoutPolicy struct {
	NumberPrefix         string
	ShippingFlatFee      int64
	FreeShippingOver     int64
	BankImmediateCapture bool
}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders      repositories.OrderRepository
	Carts       repositories.CartRepository
	Products    repositories.ProductRepository
	Inventory   InventoryService
	Payments    *payments.Manager
	UnitOfWork  repositories.UnitOfWork
	Checkout    OrderCheckoutPolicy
	Clock       func() time.Time
	IDGenerator func() string
	Random      func() int64
	Events      OrderEventPublisher
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders     repositories.OrderRepository
	carts      repositories.CartRepository
	products   repositories.ProductRepository
	inventory  InventoryService
	payments   *payments.Manager
	unitOfWork repositories.UnitOfWork
	checkout   OrderCheckoutPolicy
	clock      func() time.Time
	newID      func() string
	random     func() int64
	events     OrderEventPublisher
	logger     func(context.Context, string, map[string]any)
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Carts == nil {
		return nil, errors.New("order service: cart repository is required")
	}
	if deps.Products == nil {
		return nil, errors.New("order service: product repository is required")
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	random := deps.Random
	if random == nil {
		random = func() int64 {
			return rand.Int64N(10000)
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	checkout := deps.Checkout
	if strings.TrimSpace(checkout.NumberPrefix) == "" {
		checkout.NumberPrefix = "DH"
	}

	return &orderService{
		orders:     deps.Orders,
		carts:      deps.Carts,
		products:   deps.Products,
		inventory:  deps.Inventory,
		payments:   deps.Payments,
		unitOfWork: unit,
		checkout:   checkout,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		random: random,
		events: deps.Events,
		logger: logger,
	}, nil
}

func (s *orderService) CreateFromCart(ctx context.Context, cmd CreateOrderFromCartCommand) (Order, error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return Order{}, fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}
	switch cmd.PaymentMethod {
	case domain.PaymentMethodCOD, domain.PaymentMethodWallet, domain.PaymentMethodBank:
	default:
		return Order{}, fmt.Errorf("%w: %q", ErrOrderPaymentMethodInvalid, cmd.PaymentMethod)
	}
	if err := validateShippingAddress(cmd.ShippingAddress); err != nil {
		return Order{}, err
	}

	cart, err := s.carts.GetCart(ctx, userID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	if len(cart.Items) == 0 {
		return Order{}, ErrOrderCartEmpty
	}

	items, err := s.snapshotCartItems(ctx, cart.Items)
	if err != nil {
		return Order{}, err
	}

	now := s.now()
	order := Order{
		ID:              s.nextOrderID(),
		UserID:          userID,
		Items:           items,
		Totals:          s.buildOrderTotals(items),
		Status:          domain.OrderStatusPendingConfirmation,
		PaymentMethod:   cmd.PaymentMethod,
		PaymentStatus:   initialPaymentStatus(cmd.PaymentMethod, s.checkout.BankImmediateCapture),
		ShippingAddress: cmd.ShippingAddress,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if order.PaymentStatus == domain.PaymentStatusPaid {
		order.PaidAt = &now
	}

	if err := s.insertWithNumberRetry(ctx, &order); err != nil {
		return Order{}, err
	}

	// Wallet orders only claim stock once the provider confirms payment.
	if order.PaymentMethod == domain.PaymentMethodWallet {
		if err := s.openWalletSession(ctx, &order); err != nil {
			return s.abortUnpaidOrder(ctx, order, cmd.ActorID, err)
		}
	} else {
		s.commitInventory(ctx, order)
	}

	if err := s.carts.ClearCart(ctx, userID); err != nil {
		s.logger(ctx, "order.cart.clear.failed", map[string]any{
			"order": order.Number,
			"user":  userID,
			"error": err.Error(),
		})
	}

	s.publishEvent(ctx, OrderEvent{
		Type:          orderEventCreated,
		OrderID:       order.ID,
		OrderNumber:   order.Number,
		CurrentStatus: string(order.Status),
		PaymentStatus: string(order.PaymentStatus),
		ActorID:       cmd.ActorID,
		OccurredAt:    now,
		Metadata: map[string]any{
			"paymentMethod": string(order.PaymentMethod),
			"grandTotal":    order.Totals.GrandTotal,
			"retried":       order.CreationRetried,
		},
	})

	return order, nil
}

func (s *orderService) ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error) {
	page, err := s.orders.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[Order]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

func (s *orderService) GetOrder(ctx context.Context, orderID string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	return order, nil
}

func (s *orderService) TransitionStatus(ctx context.Context, cmd OrderStatusTransitionCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	if cmd.TargetStatus == "" {
		return Order{}, fmt.Errorf("%w: target status is required", ErrOrderInvalidInput)
	}

	if !cmd.ActorIsAdmin {
		return Order{}, fmt.Errorf("%w: status transitions require an administrator", ErrOrderForbidden)
	}

	now := s.now()
	var order Order
	var prevStatus domain.OrderStatus
	var prevPayment domain.PaymentStatus

	// Read, legality check and write share one transaction so a racing
	// mutation aborts the commit instead of being overwritten.
	err := s.runInTx(ctx, func(txCtx context.Context) error {
		var err error
		order, err = s.orders.FindByID(txCtx, orderID)
		if err != nil {
			return s.mapRepositoryError(err)
		}

		if cmd.ExpectedStatus != nil && order.Status != *cmd.ExpectedStatus {
			return fmt.Errorf("%w: expected status %q but was %q", ErrOrderConflict, *cmd.ExpectedStatus, order.Status)
		}

		prevStatus = order.Status
		prevPayment = order.PaymentStatus

		if err := s.applyStatusTransition(&order, cmd.TargetStatus, now); err != nil {
			return err
		}
		if err := s.orders.Update(txCtx, order); err != nil {
			return s.mapRepositoryError(err)
		}
		return nil
	})
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	if cmd.TargetStatus == domain.OrderStatusCancelled {
		s.releaseInventory(ctx, order)
	}

	metadata := map[string]any{}
	if reason := strings.TrimSpace(cmd.Reason); reason != "" {
		metadata["reason"] = reason
	}

	s.publishEvent(ctx, OrderEvent{
		Type:           orderEventStatusChanged,
		OrderID:        order.ID,
		OrderNumber:    order.Number,
		PreviousStatus: string(prevStatus),
		CurrentStatus:  string(order.Status),
		PaymentStatus:  string(order.PaymentStatus),
		ActorID:        cmd.ActorID,
		OccurredAt:     now,
		Metadata:       metadata,
	})

	if prevPayment != order.PaymentStatus && order.PaymentStatus == domain.PaymentStatusPaid {
		s.publishEvent(ctx, OrderEvent{
			Type:          orderEventPaymentPaid,
			OrderID:       order.ID,
			OrderNumber:   order.Number,
			CurrentStatus: string(order.Status),
			PaymentStatus: string(order.PaymentStatus),
			ActorID:       cmd.ActorID,
			OccurredAt:    now,
		})
	}

	return order, nil
}

func (s *orderService) Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	now := s.now()
	var order Order
	var prevStatus domain.OrderStatus

	err := s.runInTx(ctx, func(txCtx context.Context) error {
		var err error
		order, err = s.orders.FindByID(txCtx, orderID)
		if err != nil {
			return s.mapRepositoryError(err)
		}

		if !cmd.ActorIsAdmin && strings.TrimSpace(cmd.ActorID) != order.UserID {
			return fmt.Errorf("%w: order %s belongs to another user", ErrOrderForbidden, order.Number)
		}

		if !statusIn(order.Status, cancellableStatuses) {
			return fmt.Errorf("%w: status is %q", ErrOrderNotCancellable, order.Status)
		}

		if cmd.ExpectedStatus != nil && order.Status != *cmd.ExpectedStatus {
			return fmt.Errorf("%w: expected status %q but was %q", ErrOrderConflict, *cmd.ExpectedStatus, order.Status)
		}

		prevStatus = order.Status

		if err := s.applyStatusTransition(&order, domain.OrderStatusCancelled, now); err != nil {
			return err
		}
		if err := s.orders.Update(txCtx, order); err != nil {
			return s.mapRepositoryError(err)
		}
		return nil
	})
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	s.releaseInventory(ctx, order)

	metadata := map[string]any{}
	if reason := strings.TrimSpace(cmd.Reason); reason != "" {
		metadata["reason"] = reason
	}

	s.publishEvent(ctx, OrderEvent{
		Type:           orderEventStatusChanged,
		OrderID:        order.ID,
		OrderNumber:    order.Number,
		PreviousStatus: string(prevStatus),
		CurrentStatus:  string(order.Status),
		PaymentStatus:  string(order.PaymentStatus),
		ActorID:        cmd.ActorID,
		OccurredAt:     now,
		Metadata:       metadata,
	})

	return order, nil
}

func (s *orderService) StartWalletPayment(ctx context.Context, cmd StartWalletPaymentCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	if !cmd.ActorIsAdmin && strings.TrimSpace(cmd.ActorID) != order.UserID {
		return Order{}, fmt.Errorf("%w: order %s belongs to another user", ErrOrderForbidden, order.Number)
	}
	if order.PaymentMethod != domain.PaymentMethodWallet {
		return Order{}, fmt.Errorf("%w: order %s is not a wallet order", ErrOrderInvalidInput, order.Number)
	}
	if order.PaymentStatus != domain.PaymentStatusAwaitingPayment {
		return Order{}, fmt.Errorf("%w: order %s payment status is %q", ErrOrderInvalidState, order.Number, order.PaymentStatus)
	}
	if order.Status == domain.OrderStatusCancelled {
		return Order{}, fmt.Errorf("%w: order %s is cancelled", ErrOrderInvalidState, order.Number)
	}

	if err := s.openWalletSession(ctx, &order); err != nil {
		return Order{}, err
	}
	return order, nil
}

// Outcomes of a verified wallet notification, decided inside the transaction
// and acted on after commit.
type walletCallbackOutcome int

const (
	walletCallbackRecorded walletCallbackOutcome = iota
	walletCallbackReplayed
	walletCallbackSettled
	walletCallbackRefundDue
	walletCallbackCancelled
)

func (s *orderService) HandleWalletCallback(ctx context.Context, callback payments.WalletCallback) (Order, error) {
	result, err := s.verifyWalletSignature(ctx, callback)
	if err != nil {
		return Order{}, err
	}

	now := s.now()
	var order Order
	var prevStatus domain.OrderStatus
	outcome := walletCallbackRecorded

	err = s.runInTx(ctx, func(txCtx context.Context) error {
		var err error
		order, err = s.orders.FindByWalletRequestID(txCtx, result.RequestID)
		if err != nil {
			return s.mapRepositoryError(err)
		}

		// Replayed notification for a settled order.
		if order.PaymentStatus == domain.PaymentStatusPaid {
			outcome = walletCallbackReplayed
			return nil
		}

		prevStatus = order.Status
		if order.Wallet == nil {
			order.Wallet = &domain.WalletPayment{RequestID: result.RequestID, ProviderOrderID: result.ProviderOrderID}
		}
		order.Wallet.TransactionID = result.TransactionID
		order.Wallet.ResultCode = &result.ResultCode
		order.Wallet.Message = result.Message

		if result.Paid {
			if result.Amount != order.Totals.GrandTotal {
				return fmt.Errorf("%w: callback amount %d does not match order total %d", ErrOrderConflict, result.Amount, order.Totals.GrandTotal)
			}
			if err := s.applyPaymentTransition(&order, domain.PaymentStatusPaid, now); err != nil {
				return err
			}
			outcome = walletCallbackSettled

			// Money arrived for an order the customer already cancelled. The
			// stock stays on the shelf and the payment goes straight to the
			// refund state instead of leaving a cancelled order marked paid.
			if order.Status == domain.OrderStatusCancelled {
				if err := s.applyPaymentTransition(&order, domain.PaymentStatusRefunded, now); err != nil {
					return err
				}
				outcome = walletCallbackRefundDue
			}
		} else if statusIn(order.Status, cancellableStatuses) {
			// The wallet reported a failed or abandoned payment. Unwind the
			// order so the stock returns to the shelf.
			if err := s.applyStatusTransition(&order, domain.OrderStatusCancelled, now); err != nil {
				return err
			}
			outcome = walletCallbackCancelled
		}

		order.UpdatedAt = now
		if err := s.orders.Update(txCtx, order); err != nil {
			return s.mapRepositoryError(err)
		}
		return nil
	})
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	switch outcome {
	case walletCallbackSettled:
		s.commitInventory(ctx, order)
		s.publishEvent(ctx, OrderEvent{
			Type:          orderEventPaymentPaid,
			OrderID:       order.ID,
			OrderNumber:   order.Number,
			CurrentStatus: string(order.Status),
			PaymentStatus: string(order.PaymentStatus),
			OccurredAt:    now,
			Metadata: map[string]any{
				"transactionId": result.TransactionID,
				"resultCode":    result.ResultCode,
			},
		})
	case walletCallbackRefundDue:
		s.logger(ctx, "order.wallet.callback.cancelled_order", map[string]any{
			"order":         order.Number,
			"transactionId": result.TransactionID,
			"amount":        result.Amount,
		})
	case walletCallbackCancelled:
		s.releaseInventory(ctx, order)
		s.publishEvent(ctx, OrderEvent{
			Type:           orderEventStatusChanged,
			OrderID:        order.ID,
			OrderNumber:    order.Number,
			PreviousStatus: string(prevStatus),
			CurrentStatus:  string(order.Status),
			PaymentStatus:  string(order.PaymentStatus),
			OccurredAt:     now,
			Metadata: map[string]any{
				"reason":     "wallet payment failed",
				"resultCode": result.ResultCode,
			},
		})
	}

	return order, nil
}

func (s *orderService) ConfirmWalletReturn(ctx context.Context, callback payments.WalletCallback) (Order, error) {
	// The redirect return only surfaces current state to the customer. The
	// asynchronous notification remains the authority for settlement.
	_, order, err := s.verifyWalletCallback(ctx, callback)
	if err != nil {
		return Order{}, err
	}
	return order, nil
}

// verifyWalletSignature authenticates the notification without touching
// storage, so it can run before any transactional read.
func (s *orderService) verifyWalletSignature(ctx context.Context, callback payments.WalletCallback) (payments.CallbackResult, error) {
	if s.payments == nil {
		return payments.CallbackResult{}, errOrderWalletUnavailable
	}

	result, err := s.payments.VerifyCallback(ctx, payments.ProviderNameWallet, callback)
	if err != nil {
		return payments.CallbackResult{}, fmt.Errorf("order: wallet callback verification: %w", err)
	}
	if !result.Valid {
		s.logger(ctx, "order.wallet.callback.rejected", map[string]any{
			"requestId":       callback.RequestID,
			"providerOrderId": callback.OrderID,
		})
		return payments.CallbackResult{}, ErrWalletCallbackInvalid
	}
	return result, nil
}

func (s *orderService) verifyWalletCallback(ctx context.Context, callback payments.WalletCallback) (payments.CallbackResult, Order, error) {
	result, err := s.verifyWalletSignature(ctx, callback)
	if err != nil {
		return payments.CallbackResult{}, Order{}, err
	}

	order, err := s.orders.FindByWalletRequestID(ctx, result.RequestID)
	if err != nil {
		return payments.CallbackResult{}, Order{}, s.mapRepositoryError(err)
	}
	return result, order, nil
}

// insertWithNumberRetry assigns a fresh public number on each attempt and
// inserts the order, retrying when the number collides with an existing
// document. Collisions only happen when two orders land in the same second
// with the same random suffix, so retried numbers carry a marker that keeps
// them distinct even when clock and random repeat.
func (s *orderService) insertWithNumberRetry(ctx context.Context, order *Order) error {
	var lastErr error
	for attempt := 0; attempt < orderNumberMaxAttempts; attempt++ {
		order.Number = s.generateOrderNumber(s.now(), attempt)
		order.CreationRetried = attempt > 0

		err := s.runInTx(ctx, func(txCtx context.Context) error {
			if err := s.orders.Insert(txCtx, *order); err != nil {
				return s.mapRepositoryError(err)
			}
			return nil
		})
		if err == nil {
			return nil
		}
		// Duplicate keys can also surface at commit time, after the
		// transactional write is applied.
		err = s.mapRepositoryError(err)
		if !errors.Is(err, ErrOrderConflict) {
			return err
		}
		lastErr = err
		s.logger(ctx, "order.number.conflict", map[string]any{
			"number":  order.Number,
			"attempt": attempt + 1,
		})
	}
	return fmt.Errorf("%w: exhausted %d number attempts: %v", ErrOrderCreationFailed, orderNumberMaxAttempts, lastErr)
}

func (s *orderService) generateOrderNumber(now time.Time, attempt int) string {
	number := fmt.Sprintf("%s%d_%04d", s.checkout.NumberPrefix, now.Unix(), s.random()%10000)
	if attempt > 0 {
		number += orderNumberRetrySuffix
	}
	return number
}

// openWalletSession asks the wallet provider for a payment URL and records
// the provider handshake on the order.
func (s *orderService) openWalletSession(ctx context.Context, order *Order) error {
	if s.payments == nil {
		return errOrderWalletUnavailable
	}

	session, err := s.payments.RequestPayment(ctx, payments.ProviderNameWallet, payments.PaymentRequest{
		OrderRef:  order.Number,
		Amount:    order.Totals.GrandTotal,
		OrderInfo: fmt.Sprintf("Order %s", order.Number),
		ExtraData: order.Number,
	})
	if err != nil {
		return err
	}

	now := s.now()
	order.Wallet = &domain.WalletPayment{
		RequestID:       session.RequestID,
		ProviderOrderID: session.ProviderOrderID,
		PayURL:          session.PayURL,
		ResultCode:      &session.ResultCode,
		Message:         session.Message,
	}
	order.UpdatedAt = now

	return s.runInTx(ctx, func(txCtx context.Context) error {
		if err := s.orders.Update(txCtx, *order); err != nil {
			return s.mapRepositoryError(err)
		}
		return nil
	})
}

// abortUnpaidOrder cancels a freshly created order whose wallet handshake
// failed. The order stays visible in the customer's history.
func (s *orderService) abortUnpaidOrder(ctx context.Context, order Order, actorID string, cause error) (Order, error) {
	now := s.now()
	prevStatus := order.Status
	if err := s.applyStatusTransition(&order, domain.OrderStatusCancelled, now); err != nil {
		return Order{}, err
	}

	err := s.runInTx(ctx, func(txCtx context.Context) error {
		if err := s.orders.Update(txCtx, order); err != nil {
			return s.mapRepositoryError(err)
		}
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	s.publishEvent(ctx, OrderEvent{
		Type:           orderEventStatusChanged,
		OrderID:        order.ID,
		OrderNumber:    order.Number,
		PreviousStatus: string(prevStatus),
		CurrentStatus:  string(order.Status),
		PaymentStatus:  string(order.PaymentStatus),
		ActorID:        actorID,
		OccurredAt:     now,
		Metadata: map[string]any{
			"reason": "wallet payment declined",
		},
	})

	return order, fmt.Errorf("%w: %v", ErrOrderPaymentDeclined, cause)
}

func (s *orderService) snapshotCartItems(ctx context.Context, cartItems []domain.CartItem) ([]OrderItem, error) {
	ids := make([]string, 0, len(cartItems))
	for _, item := range cartItems {
		ids = append(ids, item.ProductID)
	}

	products, err := s.products.FindByIDs(ctx, ids)
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}

	items := make([]OrderItem, 0, len(cartItems))
	for _, item := range cartItems {
		if item.Quantity <= 0 {
			return nil, fmt.Errorf("%w: quantity for product %s must be positive", ErrOrderInvalidInput, item.ProductID)
		}
		product, ok := products[item.ProductID]
		if !ok {
			return nil, fmt.Errorf("%w: product %s is no longer available", ErrOrderInvalidInput, item.ProductID)
		}
		if product.Stock < item.Quantity {
			return nil, fmt.Errorf("%w: product %s has %d left", ErrOrderOutOfStock, item.ProductID, product.Stock)
		}
		if len(product.Colors) > 0 && !containsString(product.Colors, item.Color) {
			return nil, fmt.Errorf("%w: colour %q for product %s", ErrOrderVariantInvalid, item.Color, item.ProductID)
		}
		if len(product.Sizes) > 0 && !containsString(product.Sizes, item.Size) {
			return nil, fmt.Errorf("%w: size %q for product %s", ErrOrderVariantInvalid, item.Size, item.ProductID)
		}

		// The snapshot keeps the price the customer saw in the cart.
		items = append(items, OrderItem{
			ProductID: product.ID,
			Name:      item.Name,
			Color:     item.Color,
			Size:      item.Size,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			Subtotal:  item.UnitPrice * item.Quantity,
			ImageURL:  item.ImageURL,
		})
	}
	return items, nil
}

func (s *orderService) buildOrderTotals(items []OrderItem) OrderTotals {
	var subtotal int64
	for _, item := range items {
		subtotal += item.Subtotal
	}

	shipping := s.checkout.ShippingFlatFee
	if s.checkout.FreeShippingOver > 0 && subtotal >= s.checkout.FreeShippingOver {
		shipping = 0
	}

	return OrderTotals{
		Subtotal:    subtotal,
		ShippingFee: shipping,
		Discount:    0,
		GrandTotal:  subtotal + shipping,
	}
}

func (s *orderService) applyStatusTransition(order *Order, target domain.OrderStatus, now time.Time) error {
	current := order.Status
	if !canTransition(current, target) {
		return fmt.Errorf("%w: %s -> %s", ErrOrderInvalidState, current, target)
	}

	order.Status = target
	order.UpdatedAt = now

	switch target {
	case domain.OrderStatusDelivered:
		if order.DeliveredAt == nil {
			order.DeliveredAt = &now
		}
		// Cash orders settle at the doorstep.
		if order.PaymentMethod == domain.PaymentMethodCOD && order.PaymentStatus == domain.PaymentStatusUnpaid {
			if err := s.applyPaymentTransition(order, domain.PaymentStatusPaid, now); err != nil {
				return err
			}
		}
	case domain.OrderStatusCancelled:
		if order.CancelledAt == nil {
			order.CancelledAt = &now
		}
		if order.PaymentStatus == domain.PaymentStatusPaid {
			if err := s.applyPaymentTransition(order, domain.PaymentStatusRefunded, now); err != nil {
				return err
			}
		}
	}

	return nil
}

func (s *orderService) applyPaymentTransition(order *Order, target domain.PaymentStatus, now time.Time) error {
	current := order.PaymentStatus
	if current == target {
		return nil
	}
	if !paymentCanTransition(current, target) {
		return fmt.Errorf("%w: payment %s -> %s", ErrOrderInvalidState, current, target)
	}

	order.PaymentStatus = target
	if target == domain.PaymentStatusPaid && order.PaidAt == nil {
		order.PaidAt = &now
	}
	return nil
}

func (s *orderService) commitInventory(ctx context.Context, order Order) {
	if s.inventory == nil {
		return
	}
	if err := s.inventory.CommitOrder(ctx, InventoryAdjustCommand{
		OrderRef:   order.Number,
		Quantities: quantitiesByProduct(order.Items),
	}); err != nil {
		s.logger(ctx, "order.inventory.commit.failed", map[string]any{
			"order": order.Number,
			"error": err.Error(),
		})
	}
}

func (s *orderService) releaseInventory(ctx context.Context, order Order) {
	if s.inventory == nil || !inventoryCommitted(order) {
		return
	}
	if err := s.inventory.ReleaseOrder(ctx, InventoryAdjustCommand{
		OrderRef:   order.Number,
		Quantities: quantitiesByProduct(order.Items),
	}); err != nil {
		s.logger(ctx, "order.inventory.release.failed", map[string]any{
			"order": order.Number,
			"error": err.Error(),
		})
	}
}

func (s *orderService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("order: repository unavailable: %w", err)
		}
	}

	return err
}

func (s *orderService) runInTx(ctx context.Context, fn func(context.Context) error) error {
	if s.unitOfWork == nil {
		return fn(ctx)
	}
	return s.unitOfWork.RunInTx(ctx, fn)
}

func (s *orderService) now() time.Time {
	return s.clock()
}

func (s *orderService) nextOrderID() string {
	return orderIDPrefix + s.newID()
}

func (s *orderService) publishEvent(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	if event.Metadata != nil {
		event.Metadata = maps.Clone(event.Metadata)
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish.failed", map[string]any{
			"type":   event.Type,
			"order":  event.OrderNumber,
			"error":  err.Error(),
			"status": event.CurrentStatus,
		})
	}
}

type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

func validateShippingAddress(addr Address) error {
	required := []struct {
		field string
		value string
	}{
		{"full name", addr.FullName},
		{"phone", addr.Phone},
		{"street", addr.Street},
		{"ward", addr.Ward},
		{"district", addr.District},
		{"city", addr.City},
	}
	for _, entry := range required {
		if strings.TrimSpace(entry.value) == "" {
			return fmt.Errorf("%w: %s is required", ErrOrderAddressIncomplete, entry.field)
		}
	}
	return nil
}

func initialPaymentStatus(method domain.PaymentMethod, bankImmediateCapture bool) domain.PaymentStatus {
	switch method {
	case domain.PaymentMethodWallet:
		return domain.PaymentStatusAwaitingPayment
	case domain.PaymentMethodBank:
		if bankImmediateCapture {
			return domain.PaymentStatusPaid
		}
		return domain.PaymentStatusUnpaid
	default:
		return domain.PaymentStatusUnpaid
	}
}

// inventoryCommitted reports whether stock counters were ever adjusted for
// the order. Wallet orders claim stock only after the payment settles.
func inventoryCommitted(order Order) bool {
	if order.PaymentMethod != domain.PaymentMethodWallet {
		return true
	}
	return order.PaidAt != nil
}

func quantitiesByProduct(items []OrderItem) map[string]int64 {
	quantities := make(map[string]int64, len(items))
	for _, item := range items {
		quantities[item.ProductID] += item.Quantity
	}
	return quantities
}

func statusIn(status domain.OrderStatus, set []domain.OrderStatus) bool {
	for _, candidate := range set {
		if candidate == status {
			return true
		}
	}
	return false
}

// canTransition consults the transition table. Self-transitions are outside
// the table and rejected like any other illegal move.
func canTransition(current, target domain.OrderStatus) bool {
	next, ok := orderStateTransitions[current]
	if !ok {
		return false
	}
	return statusIn(target, next)
}

func paymentCanTransition(current, target domain.PaymentStatus) bool {
	next, ok := paymentStateTransitions[current]
	if !ok {
		return false
	}
	for _, candidate := range next {
		if candidate == target {
			return true
		}
	}
	return false
}
