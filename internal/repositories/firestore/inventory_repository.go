package firestore

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/verano-shop/api/internal/platform/firestore"
	"github.com/verano-shop/api/internal/repositories"
)

// InventoryRepository adjusts the stock and sold counters held on product
// documents. Each product is updated independently, so a failure on one
// counter never rolls back the others. Callers get the per-product outcome
// and decide what to do with the leftovers.
type InventoryRepository struct {
	base     *pfirestore.BaseRepository[productDocument]
	provider *pfirestore.Provider
}

// NewInventoryRepository constructs a Firestore-backed inventory repository.
func NewInventoryRepository(provider *pfirestore.Provider) (*InventoryRepository, error) {
	if provider == nil {
		return nil, errors.New("inventory repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[productDocument](provider, productCollection, nil, nil)
	return &InventoryRepository{
		base:     base,
		provider: provider,
	}, nil
}

// Commit claims stock for a placed order: stock goes down, sold goes up.
func (r *InventoryRepository) Commit(ctx context.Context, req repositories.InventoryAdjustRequest) (repositories.InventoryAdjustResult, error) {
	return r.adjust(ctx, req, -1)
}

// Release returns stock from a cancelled order: stock goes up, sold goes down.
func (r *InventoryRepository) Release(ctx context.Context, req repositories.InventoryAdjustRequest) (repositories.InventoryAdjustResult, error) {
	return r.adjust(ctx, req, 1)
}

func (r *InventoryRepository) adjust(ctx context.Context, req repositories.InventoryAdjustRequest, direction int64) (repositories.InventoryAdjustResult, error) {
	if r == nil || r.base == nil {
		return repositories.InventoryAdjustResult{}, errors.New("inventory repository not initialised")
	}
	if strings.TrimSpace(req.OrderRef) == "" {
		return repositories.InventoryAdjustResult{}, errors.New("inventory adjust: order reference is required")
	}
	if len(req.Quantities) == 0 {
		return repositories.InventoryAdjustResult{}, errors.New("inventory adjust: at least one quantity is required")
	}

	now := req.Now.UTC()
	if now.IsZero() {
		now = time.Now().UTC()
	}

	result := repositories.InventoryAdjustResult{}
	for _, productID := range sortedProductIDs(req.Quantities) {
		quantity := req.Quantities[productID]
		if quantity <= 0 {
			continue
		}

		updates := []firestore.Update{
			{Path: "stock", Value: firestore.Increment(direction * quantity)},
			{Path: "sold", Value: firestore.Increment(-direction * quantity)},
			{Path: "updatedAt", Value: now},
		}
		if _, err := r.base.Update(ctx, productID, updates); err != nil {
			if result.Failed == nil {
				result.Failed = make(map[string]error)
			}
			result.Failed[productID] = err
			continue
		}
		result.Adjusted = append(result.Adjusted, productID)
	}
	return result, nil
}

func sortedProductIDs(quantities map[string]int64) []string {
	ids := make([]string, 0, len(quantities))
	for id := range quantities {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

var _ repositories.InventoryRepository = (*InventoryRepository)(nil)
