package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	domain "github.com/verano-shop/api/internal/domain"
	"github.com/verano-shop/api/internal/repositories"
)

const (
	defaultCatalogPageSize = 20
	maxCatalogPageSize     = 100
)

var (
	// ErrCatalogInvalidInput indicates the caller supplied invalid input.
	ErrCatalogInvalidInput = errors.New("catalog: invalid input")
	// ErrCatalogNotFound indicates the requested product does not exist.
	ErrCatalogNotFound = errors.New("catalog: not found")
)

// CatalogServiceDeps wires the product repository behind storefront reads.
type CatalogServiceDeps struct {
	Products repositories.ProductRepository
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

type catalogService struct {
	products repositories.ProductRepository
	logger   func(context.Context, string, map[string]any)
}

// NewCatalogService constructs a CatalogService.
func NewCatalogService(deps CatalogServiceDeps) (CatalogService, error) {
	if deps.Products == nil {
		return nil, errors.New("catalog service: product repository is required")
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &catalogService{
		products: deps.Products,
		logger:   logger,
	}, nil
}

func (s *catalogService) GetProduct(ctx context.Context, productID string) (Product, error) {
	id := strings.TrimSpace(productID)
	if id == "" {
		return Product{}, fmt.Errorf("%w: product id is required", ErrCatalogInvalidInput)
	}

	product, err := s.products.FindByID(ctx, id)
	if err != nil {
		if isRepoNotFound(err) {
			return Product{}, fmt.Errorf("%w: product %s", ErrCatalogNotFound, id)
		}
		return Product{}, err
	}
	return product, nil
}

func (s *catalogService) ListProducts(ctx context.Context, filter ProductListFilter) (domain.CursorPage[Product], error) {
	pagination := filter.Pagination
	if pagination.PageSize <= 0 {
		pagination.PageSize = defaultCatalogPageSize
	}
	if pagination.PageSize > maxCatalogPageSize {
		pagination.PageSize = maxCatalogPageSize
	}

	repoFilter := repositories.ProductListFilter{
		OnSale:     filter.OnSale,
		Pagination: pagination,
	}
	if filter.Category != nil {
		category := strings.TrimSpace(*filter.Category)
		if category != "" {
			repoFilter.Category = &category
		}
	}

	page, err := s.products.List(ctx, repoFilter)
	if err != nil {
		return domain.CursorPage[Product]{}, err
	}
	return page, nil
}
