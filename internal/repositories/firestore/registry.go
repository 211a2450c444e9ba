package firestore

import (
	"context"
	"errors"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	pfirestore "github.com/verano-shop/api/internal/platform/firestore"
	"github.com/verano-shop/api/internal/repositories"
)

// Registry wires the Firestore-backed repositories behind the typed accessor
// interface the services consume.
type Registry struct {
	provider  *pfirestore.Provider
	carts     *CartRepository
	orders    *OrderRepository
	products  *ProductRepository
	inventory *InventoryRepository
	health    repositories.HealthRepository
}

// NewRegistry constructs every repository against the shared provider. When
// no health repository is supplied a Firestore ping check is installed.
func NewRegistry(provider *pfirestore.Provider, health repositories.HealthRepository) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("registry requires firestore provider")
	}

	carts, err := NewCartRepository(provider)
	if err != nil {
		return nil, err
	}
	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, err
	}
	products, err := NewProductRepository(provider)
	if err != nil {
		return nil, err
	}
	inventory, err := NewInventoryRepository(provider)
	if err != nil {
		return nil, err
	}

	if health == nil {
		health, err = repositories.NewDependencyHealthRepository([]repositories.DependencyCheck{
			PingCheck(provider),
		})
		if err != nil {
			return nil, err
		}
	}

	return &Registry{
		provider:  provider,
		carts:     carts,
		orders:    orders,
		products:  products,
		inventory: inventory,
		health:    health,
	}, nil
}

// Close releases the underlying Firestore client.
func (r *Registry) Close(ctx context.Context) error {
	if r == nil || r.provider == nil {
		return nil
	}
	return r.provider.Close(ctx)
}

func (r *Registry) Carts() repositories.CartRepository { return r.carts }

func (r *Registry) Orders() repositories.OrderRepository { return r.orders }

func (r *Registry) Products() repositories.ProductRepository { return r.products }

func (r *Registry) Inventory() repositories.InventoryRepository { return r.inventory }

func (r *Registry) Health() repositories.HealthRepository { return r.health }

// RunInTx executes fn inside a Firestore transaction. The transaction travels
// on the context, so repository reads and writes issued by fn join it and a
// racing mutation of the same document aborts the commit instead of being
// overwritten. Reads must precede writes within fn, per Firestore semantics.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if fn == nil {
		return errors.New("registry: transaction function is required")
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return err
	}
	return pfirestore.RunTransaction(ctx, client, func(txCtx context.Context, tx *firestore.Transaction) error {
		return fn(pfirestore.WithTransaction(txCtx, tx))
	})
}

// PingCheck builds a readiness probe that runs a one-document query against
// the order collection. An empty collection still counts as healthy.
func PingCheck(provider *pfirestore.Provider) repositories.DependencyCheck {
	return repositories.DependencyCheck{
		Name: "firestore",
		Check: func(ctx context.Context) error {
			if provider == nil {
				return errors.New("firestore provider is nil")
			}
			client, err := provider.Client(ctx)
			if err != nil {
				return err
			}
			iter := client.Collection(orderCollection).Limit(1).Documents(ctx)
			defer iter.Stop()
			if _, err := iter.Next(); err != nil && !errors.Is(err, iterator.Done) {
				return pfirestore.WrapError("health.ping", err)
			}
			return nil
		},
	}
}

var _ repositories.Registry = (*Registry)(nil)
