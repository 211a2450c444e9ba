package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/verano-shop/api/internal/domain"
	"github.com/verano-shop/api/internal/repositories"
)

const (
	cartIDPrefix = "cart_"

	// maxLineQuantity caps a single cart line so a typo cannot drain the shelf.
	maxLineQuantity = 20
)

var (
	// ErrCartInvalidInput indicates the caller supplied invalid input.
	ErrCartInvalidInput = errors.New("cart: invalid input")
	// ErrCartNotFound indicates the requested cart or cart line does not exist.
	ErrCartNotFound = errors.New("cart: not found")
	// ErrCartProductUnavailable indicates the referenced product cannot be added.
	ErrCartProductUnavailable = errors.New("cart: product unavailable")
)

// CartServiceDeps wires the repositories backing cart operations.
type CartServiceDeps struct {
	Carts       repositories.CartRepository
	Products    repositories.ProductRepository
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type cartService struct {
	carts    repositories.CartRepository
	products repositories.ProductRepository
	clock    func() time.Time
	newID    func() string
	logger   func(context.Context, string, map[string]any)
}

// NewCartService constructs a CartService enforcing dependency validation.
func NewCartService(deps CartServiceDeps) (CartService, error) {
	if deps.Carts == nil {
		return nil, errors.New("cart service: cart repository is required")
	}
	if deps.Products == nil {
		return nil, errors.New("cart service: product repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &cartService{
		carts:    deps.Carts,
		products: deps.Products,
		clock:    func() time.Time { return clock().UTC() },
		newID:    idGen,
		logger:   logger,
	}, nil
}

// GetOrCreateCart loads the cart for the user, creating an empty one when absent.
func (s *cartService) GetOrCreateCart(ctx context.Context, userID string) (Cart, error) {
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return Cart{}, fmt.Errorf("%w: user id is required", ErrCartInvalidInput)
	}

	cart, err := s.carts.GetCart(ctx, uid)
	if err != nil {
		if !isRepoNotFound(err) {
			return Cart{}, s.translateRepoError(err)
		}
		created, err := s.carts.UpsertCart(ctx, domain.Cart{
			ID:        cartIDPrefix + s.newID(),
			UserID:    uid,
			Items:     []domain.CartItem{},
			UpdatedAt: s.clock(),
		})
		if err != nil {
			return Cart{}, s.translateRepoError(err)
		}
		cart = created
	}
	return cart, nil
}

// AddOrUpdateItem upserts a variant line. An existing line for the same
// product, colour and size has its quantity replaced, not accumulated.
func (s *cartService) AddOrUpdateItem(ctx context.Context, cmd UpsertCartItemCommand) (Cart, error) {
	uid := strings.TrimSpace(cmd.UserID)
	if uid == "" {
		return Cart{}, fmt.Errorf("%w: user id is required", ErrCartInvalidInput)
	}
	productID := strings.TrimSpace(cmd.ProductID)
	if productID == "" {
		return Cart{}, fmt.Errorf("%w: product id is required", ErrCartInvalidInput)
	}
	if cmd.Quantity <= 0 {
		return Cart{}, fmt.Errorf("%w: quantity must be positive", ErrCartInvalidInput)
	}
	if cmd.Quantity > maxLineQuantity {
		return Cart{}, fmt.Errorf("%w: quantity exceeds the limit of %d per line", ErrCartInvalidInput, maxLineQuantity)
	}

	product, err := s.products.FindByID(ctx, productID)
	if err != nil {
		if isRepoNotFound(err) {
			return Cart{}, fmt.Errorf("%w: product %s", ErrCartProductUnavailable, productID)
		}
		return Cart{}, s.translateRepoError(err)
	}

	color := strings.TrimSpace(cmd.Color)
	size := strings.TrimSpace(cmd.Size)
	if err := validateVariant(product, color, size); err != nil {
		return Cart{}, err
	}
	if product.Stock < cmd.Quantity {
		return Cart{}, fmt.Errorf("%w: product %s has %d left", ErrCartProductUnavailable, productID, product.Stock)
	}

	cart, err := s.GetOrCreateCart(ctx, uid)
	if err != nil {
		return Cart{}, err
	}

	line := domain.CartItem{
		ProductID: product.ID,
		Name:      product.Name,
		Color:     color,
		Size:      size,
		Quantity:  cmd.Quantity,
		UnitPrice: product.EffectivePrice(),
		ImageURL:  firstImage(product),
	}

	replaced := false
	items := make([]domain.CartItem, 0, len(cart.Items)+1)
	for _, existing := range cart.Items {
		if sameVariant(existing, line) {
			items = append(items, line)
			replaced = true
			continue
		}
		items = append(items, existing)
	}
	if !replaced {
		items = append(items, line)
	}

	updated, err := s.carts.ReplaceItems(ctx, uid, items)
	if err != nil {
		return Cart{}, s.translateRepoError(err)
	}
	return updated, nil
}

// RemoveItem drops a variant line from the cart. Removing an absent line is a no-op.
func (s *cartService) RemoveItem(ctx context.Context, cmd RemoveCartItemCommand) (Cart, error) {
	uid := strings.TrimSpace(cmd.UserID)
	if uid == "" {
		return Cart{}, fmt.Errorf("%w: user id is required", ErrCartInvalidInput)
	}
	productID := strings.TrimSpace(cmd.ProductID)
	if productID == "" {
		return Cart{}, fmt.Errorf("%w: product id is required", ErrCartInvalidInput)
	}

	cart, err := s.carts.GetCart(ctx, uid)
	if err != nil {
		return Cart{}, s.translateRepoError(err)
	}

	target := domain.CartItem{ProductID: productID, Color: strings.TrimSpace(cmd.Color), Size: strings.TrimSpace(cmd.Size)}
	items := make([]domain.CartItem, 0, len(cart.Items))
	for _, existing := range cart.Items {
		if sameVariant(existing, target) {
			continue
		}
		items = append(items, existing)
	}
	if len(items) == len(cart.Items) {
		return cart, nil
	}

	updated, err := s.carts.ReplaceItems(ctx, uid, items)
	if err != nil {
		return Cart{}, s.translateRepoError(err)
	}
	return updated, nil
}

func (s *cartService) ClearCart(ctx context.Context, userID string) error {
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return fmt.Errorf("%w: user id is required", ErrCartInvalidInput)
	}
	if err := s.carts.ClearCart(ctx, uid); err != nil {
		return s.translateRepoError(err)
	}
	return nil
}

func (s *cartService) translateRepoError(err error) error {
	if err == nil {
		return nil
	}
	if isRepoNotFound(err) {
		return fmt.Errorf("%w: %v", ErrCartNotFound, err)
	}
	return err
}

func validateVariant(product domain.Product, color, size string) error {
	if len(product.Colors) > 0 && !containsString(product.Colors, color) {
		return fmt.Errorf("%w: colour %q is not offered for product %s", ErrCartInvalidInput, color, product.ID)
	}
	if len(product.Sizes) > 0 && !containsString(product.Sizes, size) {
		return fmt.Errorf("%w: size %q is not offered for product %s", ErrCartInvalidInput, size, product.ID)
	}
	return nil
}

func sameVariant(a, b domain.CartItem) bool {
	return a.ProductID == b.ProductID && a.Color == b.Color && a.Size == b.Size
}

func firstImage(product domain.Product) string {
	if len(product.Images) == 0 {
		return ""
	}
	return product.Images[0]
}

func containsString(values []string, target string) bool {
	for _, value := range values {
		if value == target {
			return true
		}
	}
	return false
}

func isRepoNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}
