//go:build integration

package firestore

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/exec"
	"strings"
	"testing"
	"time"

	domain "github.com/verano-shop/api/internal/domain"
	pconfig "github.com/verano-shop/api/internal/platform/config"
	pfirestore "github.com/verano-shop/api/internal/platform/firestore"
	"github.com/verano-shop/api/internal/repositories"
)

func TestOrderRepositoryIntegration(t *testing.T) {
	provider := newEmulatorProvider(t, "orders-test")

	repo, err := NewOrderRepository(provider)
	if err != nil {
		t.Fatalf("new order repository: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	now := time.Now().UTC().Truncate(time.Second)
	order := domain.Order{
		ID:     "ord_itest1",
		Number: "DH1700000000_0042",
		UserID: "user-1",
		Items: []domain.OrderItem{
			{ProductID: "prod-tee", Name: "Basic Tee", Color: "black", Size: "M", Quantity: 2, UnitPrice: 150000, Subtotal: 300000},
		},
		Totals:        domain.OrderTotals{Subtotal: 300000, ShippingFee: 30000, GrandTotal: 330000},
		Status:        domain.OrderStatusPendingConfirmation,
		PaymentMethod: domain.PaymentMethodWallet,
		PaymentStatus: domain.PaymentStatusAwaitingPayment,
		ShippingAddress: domain.Address{
			FullName: "Tran Thi B", Phone: "0900000001", Street: "12 Hang Gai",
			Ward: "Hang Trong", District: "Hoan Kiem", City: "Ha Noi",
		},
		Wallet:    &domain.WalletPayment{RequestID: "1700000000_0042", PayURL: "https://wallet.example/pay"},
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := repo.Insert(ctx, order); err != nil {
		t.Fatalf("insert: %v", err)
	}

	err = repo.Insert(ctx, order)
	if err == nil {
		t.Fatalf("expected conflict on duplicate number")
	}
	var repoErr repositories.RepositoryError
	if !errors.As(err, &repoErr) || !repoErr.IsConflict() {
		t.Fatalf("expected conflict error, got %v", err)
	}

	loaded, err := repo.FindByID(ctx, order.Number)
	if err != nil {
		t.Fatalf("find by id: %v", err)
	}
	if loaded.UserID != order.UserID || len(loaded.Items) != 1 || loaded.Totals.GrandTotal != 330000 {
		t.Fatalf("unexpected loaded order: %+v", loaded)
	}

	byWallet, err := repo.FindByWalletRequestID(ctx, "1700000000_0042")
	if err != nil {
		t.Fatalf("find by wallet request: %v", err)
	}
	if byWallet.Number != order.Number {
		t.Fatalf("expected %s, got %s", order.Number, byWallet.Number)
	}

	_, err = repo.FindByWalletRequestID(ctx, "missing")
	if !errors.As(err, &repoErr) || !repoErr.IsNotFound() {
		t.Fatalf("expected not found for unknown wallet request, got %v", err)
	}

	loaded.Status = domain.OrderStatusCancelled
	cancelledAt := now.Add(time.Minute)
	loaded.CancelledAt = &cancelledAt
	if err := repo.Update(ctx, loaded); err != nil {
		t.Fatalf("update: %v", err)
	}

	second := order
	second.ID = "ord_itest2"
	second.Number = "DH1700000060_0007"
	second.Wallet = nil
	second.PaymentMethod = domain.PaymentMethodCOD
	second.PaymentStatus = domain.PaymentStatusUnpaid
	second.CreatedAt = now.Add(time.Minute)
	second.UpdatedAt = second.CreatedAt
	if err := repo.Insert(ctx, second); err != nil {
		t.Fatalf("insert second: %v", err)
	}

	page, err := repo.List(ctx, repositories.OrderListFilter{
		UserID:     "user-1",
		Pagination: domain.Pagination{PageSize: 1},
	})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].Number != second.Number {
		t.Fatalf("expected newest order first, got %+v", page.Items)
	}
	if page.NextPageToken == "" {
		t.Fatalf("expected next page token")
	}

	rest, err := repo.List(ctx, repositories.OrderListFilter{
		UserID:     "user-1",
		Pagination: domain.Pagination{PageSize: 1, PageToken: page.NextPageToken},
	})
	if err != nil {
		t.Fatalf("list page 2: %v", err)
	}
	if len(rest.Items) != 1 || rest.Items[0].Number != order.Number {
		t.Fatalf("expected first order on page 2, got %+v", rest.Items)
	}
}

func TestInventoryRepositoryIntegration(t *testing.T) {
	provider := newEmulatorProvider(t, "inventory-test")

	repo, err := NewInventoryRepository(provider)
	if err != nil {
		t.Fatalf("new inventory repository: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	client, err := provider.Client(ctx)
	if err != nil {
		t.Fatalf("provider client: %v", err)
	}

	now := time.Now().UTC().Truncate(time.Second)
	seed := map[string]any{
		"name":      "Basic Tee",
		"category":  "tops",
		"price":     150000,
		"onSale":    false,
		"stock":     5,
		"sold":      0,
		"createdAt": now,
		"updatedAt": now,
	}
	if _, err := client.Collection(productCollection).Doc("prod-tee").Set(ctx, seed); err != nil {
		t.Fatalf("seed product: %v", err)
	}

	result, err := repo.Commit(ctx, repositories.InventoryAdjustRequest{
		OrderRef:   "DH1700000000_0042",
		Quantities: map[string]int64{"prod-tee": 2, "prod-missing": 1},
		Now:        now,
	})
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if len(result.Adjusted) != 1 || result.Adjusted[0] != "prod-tee" {
		t.Fatalf("expected prod-tee adjusted, got %+v", result.Adjusted)
	}
	if _, ok := result.Failed["prod-missing"]; !ok {
		t.Fatalf("expected prod-missing failure, got %+v", result.Failed)
	}

	snap, err := client.Collection(productCollection).Doc("prod-tee").Get(ctx)
	if err != nil {
		t.Fatalf("read product: %v", err)
	}
	data := snap.Data()
	if data["stock"].(int64) != 3 || data["sold"].(int64) != 2 {
		t.Fatalf("unexpected counters after commit: stock=%v sold=%v", data["stock"], data["sold"])
	}

	if _, err := repo.Release(ctx, repositories.InventoryAdjustRequest{
		OrderRef:   "DH1700000000_0042",
		Quantities: map[string]int64{"prod-tee": 2},
		Now:        now.Add(time.Minute),
	}); err != nil {
		t.Fatalf("release: %v", err)
	}

	snap, err = client.Collection(productCollection).Doc("prod-tee").Get(ctx)
	if err != nil {
		t.Fatalf("read product after release: %v", err)
	}
	data = snap.Data()
	if data["stock"].(int64) != 5 || data["sold"].(int64) != 0 {
		t.Fatalf("unexpected counters after release: stock=%v sold=%v", data["stock"], data["sold"])
	}
}

func newEmulatorProvider(t *testing.T, projectID string) *pfirestore.Provider {
	t.Helper()

	if _, err := exec.LookPath("docker"); err != nil {
		t.Skip("docker not available: " + err.Error())
	}
	ensureDockerDaemon(t)

	port := freePort(t)
	endpoint := fmt.Sprintf("127.0.0.1:%d", port)
	containerID := startFirestoreEmulator(t, port)
	t.Cleanup(func() { stopContainer(containerID) })

	waitForEndpoint(t, endpoint, 30*time.Second)

	provider := pfirestore.NewProvider(pconfig.FirestoreConfig{
		ProjectID:    projectID,
		EmulatorHost: endpoint,
	})
	t.Cleanup(func() {
		_ = provider.Close(context.Background())
	})
	return provider
}

func freePort(t *testing.T) int {
	t.Helper()
	addr, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("unable to allocate port: %v", err)
	}
	defer addr.Close()
	return addr.Addr().(*net.TCPAddr).Port
}

func startFirestoreEmulator(t *testing.T, port int) string {
	t.Helper()
	args := []string{
		"run", "-d", "--rm",
		"-p", fmt.Sprintf("%d:8080", port),
		firestoreEmulatorImage,
		"gcloud", "beta", "emulators", "firestore", "start",
		"--host-port=0.0.0.0:8080",
		"--quiet",
	}

	cmd := exec.Command("docker", args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("failed to start firestore emulator: %v - %s", err, string(out))
	}
	id := strings.TrimSpace(string(out))
	if id == "" {
		t.Fatalf("docker returned empty container id")
	}
	if len(id) > 12 {
		id = id[:12]
	}
	return id
}

func ensureDockerDaemon(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	cmd := exec.CommandContext(ctx, "docker", "info")
	if err := cmd.Run(); err != nil {
		t.Fatalf("docker daemon not available: %v", err)
	}
}

func stopContainer(id string) {
	if id == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	cmd := exec.CommandContext(ctx, "docker", "stop", id)
	_ = cmd.Run()
}

func waitForEndpoint(t *testing.T, endpoint string, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", endpoint, 500*time.Millisecond)
		if err == nil {
			conn.Close()
			return
		}
		time.Sleep(200 * time.Millisecond)
	}
	t.Fatalf("firestore emulator at %s did not become ready within %s", endpoint, timeout)
}

const firestoreEmulatorImage = "gcr.io/google.com/cloudsdktool/cloud-sdk:emulators"
