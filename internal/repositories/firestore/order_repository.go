package firestore

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/verano-shop/api/internal/domain"
	pfirestore "github.com/verano-shop/api/internal/platform/firestore"
	"github.com/verano-shop/api/internal/repositories"
)

const (
	orderCollection = "orders"

	defaultOrderPageSize = 20
	maxOrderPageSize     = 100
)

// OrderRepository persists order documents within Firestore. The public order
// number is the document key, which is what makes a duplicate number surface
// as an AlreadyExists conflict on insert.
type OrderRepository struct {
	base     *pfirestore.BaseRepository[orderDocument]
	provider *pfirestore.Provider
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[orderDocument](provider, orderCollection, nil, nil)
	return &OrderRepository{
		base:     base,
		provider: provider,
	}, nil
}

// Insert creates the order document and fails with a conflict when the number
// is already taken.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	number := strings.TrimSpace(order.Number)
	if number == "" {
		return errors.New("order repository: order number is required")
	}

	_, err := r.base.Create(ctx, number, newOrderDocument(order))
	return err
}

// Update overwrites the order document.
func (r *OrderRepository) Update(ctx context.Context, order domain.Order) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	number := strings.TrimSpace(order.Number)
	if number == "" {
		return errors.New("order repository: order number is required")
	}

	_, err := r.base.Set(ctx, number, newOrderDocument(order))
	return err
}

// FindByID loads the order by its public number.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	number := strings.TrimSpace(orderID)
	if number == "" {
		return domain.Order{}, errors.New("order repository: order number is required")
	}

	doc, err := r.base.Get(ctx, number)
	if err != nil {
		return domain.Order{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// FindByWalletRequestID resolves the order behind a wallet payment session.
func (r *OrderRepository) FindByWalletRequestID(ctx context.Context, requestID string) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	reqID := strings.TrimSpace(requestID)
	if reqID == "" {
		return domain.Order{}, errors.New("order repository: wallet request id is required")
	}

	docs, err := r.base.Query(ctx, func(query firestore.Query) firestore.Query {
		return query.Where("wallet.requestId", "==", reqID).Limit(1)
	})
	if err != nil {
		return domain.Order{}, err
	}
	if len(docs) == 0 {
		return domain.Order{}, pfirestore.WrapError("orders.findbywalletrequest",
			status.Errorf(codes.NotFound, "no order for wallet request %s", reqID))
	}
	return docs[0].Data.toDomain(docs[0].ID), nil
}

// List returns orders newest first, optionally scoped to a user, statuses and
// a creation date range.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository not initialised")
	}

	pageSize := filter.Pagination.PageSize
	if pageSize <= 0 {
		pageSize = defaultOrderPageSize
	}
	if pageSize > maxOrderPageSize {
		pageSize = maxOrderPageSize
	}

	var token *orderPageToken
	if encoded := strings.TrimSpace(filter.Pagination.PageToken); encoded != "" {
		decoded, err := decodeOrderPageToken(encoded)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.list",
				status.Errorf(codes.InvalidArgument, "invalid page token: %v", err))
		}
		token = decoded
	}

	docs, err := r.base.Query(ctx, func(query firestore.Query) firestore.Query {
		if uid := strings.TrimSpace(filter.UserID); uid != "" {
			query = query.Where("userId", "==", uid)
		}
		if statuses := trimStrings(filter.Status); len(statuses) > 0 {
			query = query.Where("status", "in", statuses)
		}
		if filter.DateRange.From != nil {
			query = query.Where("createdAt", ">=", filter.DateRange.From.UTC())
		}
		if filter.DateRange.To != nil {
			query = query.Where("createdAt", "<=", filter.DateRange.To.UTC())
		}
		query = query.
			OrderBy("createdAt", firestore.Desc).
			OrderBy(firestore.DocumentID, firestore.Desc).
			Limit(pageSize + 1)
		if token != nil {
			query = query.StartAfter(token.CreatedAt, token.Number)
		}
		return query
	})
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	orders := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		orders = append(orders, doc.Data.toDomain(doc.ID))
	}

	hasMore := len(orders) > pageSize
	if hasMore {
		orders = orders[:pageSize]
	}
	var nextToken string
	if hasMore && len(orders) > 0 {
		last := orders[len(orders)-1]
		encoded, err := encodeOrderPageToken(orderPageToken{Number: last.Number, CreatedAt: last.CreatedAt})
		if err != nil {
			return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.list", err)
		}
		nextToken = encoded
	}

	return domain.CursorPage[domain.Order]{
		Items:         orders,
		NextPageToken: nextToken,
	}, nil
}

func trimStrings(values []string) []string {
	var out []string
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// Document structures -------------------------------------------------------

type orderDocument struct {
	OrderID         string               `firestore:"orderId"`
	UserID          string               `firestore:"userId"`
	Items           []orderItemDocument  `firestore:"items"`
	Totals          orderTotalsDocument  `firestore:"totals"`
	Status          string               `firestore:"status"`
	PaymentMethod   string               `firestore:"paymentMethod"`
	PaymentStatus   string               `firestore:"paymentStatus"`
	ShippingAddress orderAddressDocument `firestore:"shippingAddress"`
	Wallet          *walletDocument      `firestore:"wallet,omitempty"`
	CreationRetried bool                 `firestore:"creationRetried"`
	PaidAt          *time.Time           `firestore:"paidAt,omitempty"`
	DeliveredAt     *time.Time           `firestore:"deliveredAt,omitempty"`
	CancelledAt     *time.Time           `firestore:"cancelledAt,omitempty"`
	CreatedAt       time.Time            `firestore:"createdAt"`
	UpdatedAt       time.Time            `firestore:"updatedAt"`
}

type orderItemDocument struct {
	ProductID string `firestore:"productId"`
	Name      string `firestore:"name"`
	Color     string `firestore:"color,omitempty"`
	Size      string `firestore:"size,omitempty"`
	Quantity  int64  `firestore:"qty"`
	UnitPrice int64  `firestore:"unitPrice"`
	Subtotal  int64  `firestore:"subtotal"`
	ImageURL  string `firestore:"imageUrl,omitempty"`
}

type orderTotalsDocument struct {
	Subtotal    int64 `firestore:"subtotal"`
	ShippingFee int64 `firestore:"shippingFee"`
	Discount    int64 `firestore:"discount"`
	GrandTotal  int64 `firestore:"grandTotal"`
}

type orderAddressDocument struct {
	FullName string `firestore:"fullName"`
	Phone    string `firestore:"phone"`
	Street   string `firestore:"street"`
	Ward     string `firestore:"ward"`
	District string `firestore:"district"`
	City     string `firestore:"city"`
	Note     string `firestore:"note,omitempty"`
}

type walletDocument struct {
	RequestID       string `firestore:"requestId"`
	ProviderOrderID string `firestore:"providerOrderId,omitempty"`
	TransactionID   string `firestore:"transactionId,omitempty"`
	PayURL          string `firestore:"payUrl,omitempty"`
	ResultCode      *int64 `firestore:"resultCode,omitempty"`
	Message         string `firestore:"message,omitempty"`
}

func newOrderDocument(order domain.Order) orderDocument {
	items := make([]orderItemDocument, len(order.Items))
	for i, item := range order.Items {
		items[i] = orderItemDocument{
			ProductID: strings.TrimSpace(item.ProductID),
			Name:      strings.TrimSpace(item.Name),
			Color:     strings.TrimSpace(item.Color),
			Size:      strings.TrimSpace(item.Size),
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			Subtotal:  item.Subtotal,
			ImageURL:  strings.TrimSpace(item.ImageURL),
		}
	}

	doc := orderDocument{
		OrderID: strings.TrimSpace(order.ID),
		UserID:  strings.TrimSpace(order.UserID),
		Items:   items,
		Totals: orderTotalsDocument{
			Subtotal:    order.Totals.Subtotal,
			ShippingFee: order.Totals.ShippingFee,
			Discount:    order.Totals.Discount,
			GrandTotal:  order.Totals.GrandTotal,
		},
		Status:        string(order.Status),
		PaymentMethod: string(order.PaymentMethod),
		PaymentStatus: string(order.PaymentStatus),
		ShippingAddress: orderAddressDocument{
			FullName: strings.TrimSpace(order.ShippingAddress.FullName),
			Phone:    strings.TrimSpace(order.ShippingAddress.Phone),
			Street:   strings.TrimSpace(order.ShippingAddress.Street),
			Ward:     strings.TrimSpace(order.ShippingAddress.Ward),
			District: strings.TrimSpace(order.ShippingAddress.District),
			City:     strings.TrimSpace(order.ShippingAddress.City),
			Note:     strings.TrimSpace(order.ShippingAddress.Note),
		},
		CreationRetried: order.CreationRetried,
		PaidAt:          utcTimePtr(order.PaidAt),
		DeliveredAt:     utcTimePtr(order.DeliveredAt),
		CancelledAt:     utcTimePtr(order.CancelledAt),
		CreatedAt:       order.CreatedAt.UTC(),
		UpdatedAt:       order.UpdatedAt.UTC(),
	}

	if order.Wallet != nil {
		doc.Wallet = &walletDocument{
			RequestID:       strings.TrimSpace(order.Wallet.RequestID),
			ProviderOrderID: strings.TrimSpace(order.Wallet.ProviderOrderID),
			TransactionID:   strings.TrimSpace(order.Wallet.TransactionID),
			PayURL:          strings.TrimSpace(order.Wallet.PayURL),
			ResultCode:      order.Wallet.ResultCode,
			Message:         strings.TrimSpace(order.Wallet.Message),
		}
	}
	return doc
}

func (d orderDocument) toDomain(number string) domain.Order {
	items := make([]domain.OrderItem, len(d.Items))
	for i, item := range d.Items {
		items[i] = domain.OrderItem{
			ProductID: item.ProductID,
			Name:      item.Name,
			Color:     item.Color,
			Size:      item.Size,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			Subtotal:  item.Subtotal,
			ImageURL:  item.ImageURL,
		}
	}

	order := domain.Order{
		ID:     d.OrderID,
		Number: number,
		UserID: d.UserID,
		Items:  items,
		Totals: domain.OrderTotals{
			Subtotal:    d.Totals.Subtotal,
			ShippingFee: d.Totals.ShippingFee,
			Discount:    d.Totals.Discount,
			GrandTotal:  d.Totals.GrandTotal,
		},
		Status:        domain.OrderStatus(d.Status),
		PaymentMethod: domain.PaymentMethod(d.PaymentMethod),
		PaymentStatus: domain.PaymentStatus(d.PaymentStatus),
		ShippingAddress: domain.Address{
			FullName: d.ShippingAddress.FullName,
			Phone:    d.ShippingAddress.Phone,
			Street:   d.ShippingAddress.Street,
			Ward:     d.ShippingAddress.Ward,
			District: d.ShippingAddress.District,
			City:     d.ShippingAddress.City,
			Note:     d.ShippingAddress.Note,
		},
		CreationRetried: d.CreationRetried,
		PaidAt:          d.PaidAt,
		DeliveredAt:     d.DeliveredAt,
		CancelledAt:     d.CancelledAt,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
	}

	if d.Wallet != nil {
		order.Wallet = &domain.WalletPayment{
			RequestID:       d.Wallet.RequestID,
			ProviderOrderID: d.Wallet.ProviderOrderID,
			TransactionID:   d.Wallet.TransactionID,
			PayURL:          d.Wallet.PayURL,
			ResultCode:      d.Wallet.ResultCode,
			Message:         d.Wallet.Message,
		}
	}
	return order
}

func utcTimePtr(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	utc := value.UTC()
	return &utc
}

// Page tokens ---------------------------------------------------------------

type orderPageToken struct {
	Number    string
	CreatedAt time.Time
}

func encodeOrderPageToken(token orderPageToken) (string, error) {
	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(token); err != nil {
		return "", fmt.Errorf("encode order page token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(bytes.TrimSpace(buf.Bytes())), nil
}

func decodeOrderPageToken(encoded string) (*orderPageToken, error) {
	data, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode order page token: %w", err)
	}
	var token orderPageToken
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, fmt.Errorf("decode order page token json: %w", err)
	}
	return &token, nil
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)
