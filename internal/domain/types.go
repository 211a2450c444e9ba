package domain

import (
	"time"
)

// OrderStatus captures the fulfilment lifecycle of an order.
type OrderStatus string

const (
	// OrderStatusPendingConfirmation is the state every new order starts in.
	OrderStatusPendingConfirmation OrderStatus = "pending_confirmation"
	// OrderStatusConfirmed means the shop accepted the order.
	OrderStatusConfirmed OrderStatus = "confirmed"
	// OrderStatusShipping means the order left the warehouse.
	OrderStatusShipping OrderStatus = "shipping"
	// OrderStatusDelivered is terminal.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled is terminal.
	OrderStatusCancelled OrderStatus = "cancelled"
)

// PaymentStatus captures the settlement lifecycle of an order, tracked
// independently from the fulfilment status.
type PaymentStatus string

const (
	PaymentStatusUnpaid          PaymentStatus = "unpaid"
	PaymentStatusAwaitingPayment PaymentStatus = "awaiting_payment"
	PaymentStatusPaid            PaymentStatus = "paid"
	PaymentStatusRefunded        PaymentStatus = "refunded"
)

// PaymentMethod identifies how the customer pays for an order.
type PaymentMethod string

const (
	PaymentMethodCOD    PaymentMethod = "cod"
	PaymentMethodWallet PaymentMethod = "wallet"
	PaymentMethodBank   PaymentMethod = "bank"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// RangeQuery represents inclusive range filters for numeric or timestamp fields.
type RangeQuery[T comparable] struct {
	From *T
	To   *T
}

// CursorPage is a single page of results plus the token for the next page.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// Product is a catalog entry. Monetary amounts are integer VND.
type Product struct {
	ID          string
	Name        string
	Description string
	Category    string
	Price       int64
	SalePrice   *int64
	Colors      []string
	Sizes       []string
	Images      []string
	Stock       int64
	Sold        int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// EffectivePrice returns the sale price when one is active, otherwise the
// list price.
func (p Product) EffectivePrice() int64 {
	if p.SalePrice != nil && *p.SalePrice > 0 && *p.SalePrice < p.Price {
		return *p.SalePrice
	}
	return p.Price
}

// CartItem is a product variant selection held in a cart.
type CartItem struct {
	ProductID string
	Name      string
	Color     string
	Size      string
	Quantity  int64
	UnitPrice int64
	ImageURL  string
}

// Cart is a user's current cart. Each user has at most one.
type Cart struct {
	ID        string
	UserID    string
	Items     []CartItem
	UpdatedAt time.Time
}

// Address is the shipping destination captured at order time.
type Address struct {
	FullName string
	Phone    string
	Street   string
	Ward     string
	District string
	City     string
	Note     string
}

// OrderItem is an immutable snapshot of a cart line taken at order creation.
type OrderItem struct {
	ProductID string
	Name      string
	Color     string
	Size      string
	Quantity  int64
	UnitPrice int64
	Subtotal  int64
	ImageURL  string
}

// OrderTotals breaks down the amount charged for an order.
type OrderTotals struct {
	Subtotal    int64
	ShippingFee int64
	Discount    int64
	GrandTotal  int64
}

// WalletPayment records the wallet provider handshake for an order paid via
// the external wallet. RequestID and ProviderOrderID are provider-scoped
// identifiers, never the public order number.
type WalletPayment struct {
	RequestID       string
	ProviderOrderID string
	TransactionID   string
	PayURL          string
	ResultCode      *int64
	Message         string
}

// Order is a placed order. Status and PaymentStatus only advance through the
// transitions enforced by the order service.
type Order struct {
	ID              string
	Number          string
	UserID          string
	Items           []OrderItem
	Totals          OrderTotals
	Status          OrderStatus
	PaymentMethod   PaymentMethod
	PaymentStatus   PaymentStatus
	ShippingAddress Address
	Wallet          *WalletPayment
	CreationRetried bool
	PaidAt          *time.Time
	DeliveredAt     *time.Time
	CancelledAt     *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// SystemHealthCheck is the outcome of probing a single dependency.
type SystemHealthCheck struct {
	Name    string
	Healthy bool
	Detail  string
	Took    time.Duration
}

// SystemHealthReport aggregates dependency probes for the readiness endpoint.
type SystemHealthReport struct {
	Healthy     bool
	GeneratedAt time.Time
	Checks      []SystemHealthCheck
}
