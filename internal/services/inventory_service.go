package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/verano-shop/api/internal/repositories"
)

var (
	// ErrInventoryInvalidInput signals the caller provided invalid arguments.
	ErrInventoryInvalidInput = errors.New("inventory: invalid input")
	// ErrInventoryAdjustFailed indicates no product counter could be adjusted.
	ErrInventoryAdjustFailed = errors.New("inventory: adjustment failed")
)

// InventoryServiceDeps bundles the collaborators required to construct an inventory service.
type InventoryServiceDeps struct {
	Inventory repositories.InventoryRepository
	Clock     func() time.Time
	Logger    func(ctx context.Context, event string, fields map[string]any)
}

type inventoryService struct {
	repo   repositories.InventoryRepository
	clock  func() time.Time
	logger func(context.Context, string, map[string]any)
}

// NewInventoryService wires dependencies into a concrete InventoryService implementation.
func NewInventoryService(deps InventoryServiceDeps) (InventoryService, error) {
	if deps.Inventory == nil {
		return nil, errors.New("inventory service: inventory repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &inventoryService{
		repo:   deps.Inventory,
		clock:  func() time.Time { return clock().UTC() },
		logger: logger,
	}, nil
}

// CommitOrder decrements stock and increments sold counters for every product
// in the order. Adjustments are best effort per product; partial failures are
// logged and skipped so one broken counter never blocks an order.
func (s *inventoryService) CommitOrder(ctx context.Context, cmd InventoryAdjustCommand) error {
	req, err := s.buildRequest(cmd)
	if err != nil {
		return err
	}

	result, err := s.repo.Commit(ctx, req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInventoryAdjustFailed, err)
	}
	s.logPartialFailures(ctx, "inventory.commit.partial", cmd.OrderRef, result)
	return nil
}

// ReleaseOrder reverses a prior commit when an order is cancelled.
func (s *inventoryService) ReleaseOrder(ctx context.Context, cmd InventoryAdjustCommand) error {
	req, err := s.buildRequest(cmd)
	if err != nil {
		return err
	}

	result, err := s.repo.Release(ctx, req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInventoryAdjustFailed, err)
	}
	s.logPartialFailures(ctx, "inventory.release.partial", cmd.OrderRef, result)
	return nil
}

func (s *inventoryService) buildRequest(cmd InventoryAdjustCommand) (repositories.InventoryAdjustRequest, error) {
	orderRef := strings.TrimSpace(cmd.OrderRef)
	if orderRef == "" {
		return repositories.InventoryAdjustRequest{}, fmt.Errorf("%w: order reference is required", ErrInventoryInvalidInput)
	}
	if len(cmd.Quantities) == 0 {
		return repositories.InventoryAdjustRequest{}, fmt.Errorf("%w: at least one product quantity is required", ErrInventoryInvalidInput)
	}
	for productID, quantity := range cmd.Quantities {
		if strings.TrimSpace(productID) == "" {
			return repositories.InventoryAdjustRequest{}, fmt.Errorf("%w: product id is required", ErrInventoryInvalidInput)
		}
		if quantity <= 0 {
			return repositories.InventoryAdjustRequest{}, fmt.Errorf("%w: quantity for product %s must be positive", ErrInventoryInvalidInput, productID)
		}
	}

	return repositories.InventoryAdjustRequest{
		OrderRef:   orderRef,
		Quantities: cmd.Quantities,
		Now:        s.clock(),
	}, nil
}

func (s *inventoryService) logPartialFailures(ctx context.Context, event, orderRef string, result repositories.InventoryAdjustResult) {
	for productID, failure := range result.Failed {
		s.logger(ctx, event, map[string]any{
			"order":   orderRef,
			"product": productID,
			"error":   failure.Error(),
		})
	}
}
