package services

import (
	"context"

	domain "github.com/verano-shop/api/internal/domain"
	"github.com/verano-shop/api/internal/payments"
	"github.com/verano-shop/api/internal/repositories"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination         = domain.Pagination
	Product            = domain.Product
	Cart               = domain.Cart
	CartItem           = domain.CartItem
	Address            = domain.Address
	Order              = domain.Order
	OrderItem          = domain.OrderItem
	OrderTotals        = domain.OrderTotals
	OrderStatus        = domain.OrderStatus
	PaymentStatus      = domain.PaymentStatus
	PaymentMethod      = domain.PaymentMethod
	WalletPayment      = domain.WalletPayment
	SystemHealthReport = domain.SystemHealthReport
)

// CartService manages mutable cart state while validating against the catalog.
type CartService interface {
	GetOrCreateCart(ctx context.Context, userID string) (Cart, error)
	AddOrUpdateItem(ctx context.Context, cmd UpsertCartItemCommand) (Cart, error)
	RemoveItem(ctx context.Context, cmd RemoveCartItemCommand) (Cart, error)
	ClearCart(ctx context.Context, userID string) error
}

// CatalogService serves storefront product reads.
type CatalogService interface {
	GetProduct(ctx context.Context, productID string) (Product, error)
	ListProducts(ctx context.Context, filter ProductListFilter) (domain.CursorPage[Product], error)
}

// OrderService encapsulates order creation, lifecycle transitions, and payment
// settlement flows including wallet gateway callbacks.
type OrderService interface {
	CreateFromCart(ctx context.Context, cmd CreateOrderFromCartCommand) (Order, error)
	ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error)
	GetOrder(ctx context.Context, orderID string) (Order, error)
	TransitionStatus(ctx context.Context, cmd OrderStatusTransitionCommand) (Order, error)
	Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error)
	StartWalletPayment(ctx context.Context, cmd StartWalletPaymentCommand) (Order, error)
	HandleWalletCallback(ctx context.Context, callback payments.WalletCallback) (Order, error)
	ConfirmWalletReturn(ctx context.Context, callback payments.WalletCallback) (Order, error)
}

// InventoryService adjusts product stock counters when orders commit or unwind.
type InventoryService interface {
	CommitOrder(ctx context.Context, cmd InventoryAdjustCommand) error
	ReleaseOrder(ctx context.Context, cmd InventoryAdjustCommand) error
}

// SystemService aggregates dependency health for the readiness endpoint.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// Command and DTO definitions ------------------------------------------------

type UpsertCartItemCommand struct {
	UserID    string
	ProductID string
	Color     string
	Size      string
	Quantity  int64
}

type RemoveCartItemCommand struct {
	UserID    string
	ProductID string
	Color     string
	Size      string
}

type ProductListFilter struct {
	Category *string
	OnSale   *bool
	Pagination
}

type OrderListFilter = repositories.OrderListFilter

type CreateOrderFromCartCommand struct {
	UserID          string
	PaymentMethod   PaymentMethod
	ShippingAddress Address
	ActorID         string
}

type OrderStatusTransitionCommand struct {
	OrderID        string
	TargetStatus   OrderStatus
	ActorID        string
	ActorIsAdmin   bool
	Reason         string
	ExpectedStatus *OrderStatus
}

type CancelOrderCommand struct {
	OrderID        string
	ActorID        string
	ActorIsAdmin   bool
	Reason         string
	ExpectedStatus *OrderStatus
}

type StartWalletPaymentCommand struct {
	OrderID      string
	ActorID      string
	ActorIsAdmin bool
}

type InventoryAdjustCommand struct {
	OrderRef   string
	Quantities map[string]int64
}
