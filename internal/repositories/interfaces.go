package repositories

import (
	"context"
	"time"

	domain "github.com/verano-shop/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Carts() CartRepository
	Orders() OrderRepository
	Products() ProductRepository
	Inventory() InventoryRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// CartRepository owns cart persistence. A user has at most one cart, keyed by user ID.
type CartRepository interface {
	UpsertCart(ctx context.Context, cart domain.Cart) (domain.Cart, error)
	GetCart(ctx context.Context, userID string) (domain.Cart, error)
	ReplaceItems(ctx context.Context, userID string, items []domain.CartItem) (domain.Cart, error)
	ClearCart(ctx context.Context, userID string) error
}

// OrderRepository persists order documents and provides query helpers for users and admins.
//
// Insert must fail with a conflict error when an order with the same public
// number already exists. The order number is the document key.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	Update(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	FindByWalletRequestID(ctx context.Context, requestID string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
}

// ProductRepository serves catalog reads for the storefront and cart validation.
type ProductRepository interface {
	FindByID(ctx context.Context, productID string) (domain.Product, error)
	FindByIDs(ctx context.Context, productIDs []string) (map[string]domain.Product, error)
	List(ctx context.Context, filter ProductListFilter) (domain.CursorPage[domain.Product], error)
}

// InventoryRepository adjusts stock and sold counters on product documents.
type InventoryRepository interface {
	Commit(ctx context.Context, req InventoryAdjustRequest) (InventoryAdjustResult, error)
	Release(ctx context.Context, req InventoryAdjustRequest) (InventoryAdjustResult, error)
}

// InventoryAdjustRequest carries the per-product quantities of one order.
type InventoryAdjustRequest struct {
	OrderRef   string
	Quantities map[string]int64
	Now        time.Time
}

// InventoryAdjustResult reports which product adjustments succeeded and which failed.
type InventoryAdjustResult struct {
	Adjusted []string
	Failed   map[string]error
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}

// Filter DTOs shared across repositories ------------------------------------

type OrderListFilter struct {
	UserID     string
	Status     []string
	DateRange  domain.RangeQuery[time.Time]
	Pagination domain.Pagination
}

type ProductListFilter struct {
	Category   *string
	OnSale     *bool
	Pagination domain.Pagination
}
