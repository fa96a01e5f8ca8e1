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

	domain "github.com/clovermart/api/internal/domain"
	pconfig "github.com/clovermart/api/internal/platform/config"
	pfirestore "github.com/clovermart/api/internal/platform/firestore"
	"github.com/clovermart/api/internal/repositories"
)

func TestInventoryRepositoryIntegration(t *testing.T) {
	if _, err := exec.LookPath("docker"); err != nil {
		t.Skip("docker not available: " + err.Error())
	}

	ensureDockerDaemon(t)

	port := freePort(t)
	endpoint := fmt.Sprintf("127.0.0.1:%d", port)
	containerID := startFirestoreEmulator(t, port)
	t.Cleanup(func() { stopContainer(containerID) })

	waitForEndpoint(t, endpoint, 30*time.Second)

	cfg := pconfig.FirestoreConfig{
		ProjectID:    "inventory-test",
		EmulatorHost: endpoint,
	}

	provider := pfirestore.NewProvider(cfg)
	t.Cleanup(func() {
		_ = provider.Close(context.Background())
	})

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
	seedStock := stockDocument{
		ProductID: "prod_001",
		Name:      "Widget",
		SKU:       "SKU-001",
		UnitPrice: 1000,
		OnHand:    10,
		UnitsSold: 6,
		UpdatedAt: now,
	}
	key := domain.StockKey{ProductID: "prod_001"}
	if _, err := client.Collection(inventoryCollection).Doc(key.String()).Set(ctx, seedStock); err != nil {
		t.Fatalf("seed stock: %v", err)
	}

	stock, err := repo.GetStock(ctx, key)
	if err != nil {
		t.Fatalf("get stock: %v", err)
	}
	if stock.OnHand != 10 || stock.SKU != "SKU-001" {
		t.Fatalf("unexpected stock: %+v", stock)
	}

	adjusted, err := repo.AdjustBy(ctx, key, -4, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("adjust by: %v", err)
	}
	if adjusted.OnHand != 6 {
		t.Fatalf("expected on hand 6 after adjust, got %d", adjusted.OnHand)
	}

	var stockErr *repositories.StockError
	if _, err := repo.AdjustBy(ctx, key, -20, now.Add(time.Minute)); err == nil {
		t.Fatalf("expected negative stock rejection")
	} else if !errors.As(err, &stockErr) || stockErr.Code != repositories.StockErrorNegative {
		t.Fatalf("expected negative stock error, got %v", err)
	}

	set, err := repo.SetTo(ctx, key, 9, now.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("set to: %v", err)
	}
	if set.OnHand != 9 {
		t.Fatalf("expected on hand 9 after set, got %d", set.OnHand)
	}

	// An order carrying two lines of the same product must restore the sum
	// of both quantities, not just the last line's.
	orderDoc := orderDocument{
		OrderNumber: "CM-2026-000900",
		BuyerKey:    "user-1",
		UserID:      "user-1",
		Lines: []orderLineDocument{
			{Name: "Widget", SKU: "SKU-001", UnitPrice: 1000, Quantity: 2, ProductID: "prod_001"},
			{Name: "Widget", SKU: "SKU-001", UnitPrice: 1000, Quantity: 4, ProductID: "prod_001"},
		},
		ItemsPrice:    6000,
		TotalPrice:    6000,
		Status:        string(domain.OrderStatusCancelled),
		PaymentMethod: string(domain.PaymentMethodBankTransfer),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if _, err := client.Collection(ordersCollection).Doc("ord_restock").Set(ctx, orderDoc); err != nil {
		t.Fatalf("seed order: %v", err)
	}

	result, err := repo.RestockOrder(ctx, repositories.RestockOrderRequest{
		OrderID: "ord_restock",
		Now:     now.Add(3 * time.Minute),
	})
	if err != nil {
		t.Fatalf("restock: %v", err)
	}
	restored, ok := result.Stocks[key]
	if !ok {
		t.Fatalf("restock result missing stock for %s", key.String())
	}
	if restored.OnHand != 15 {
		t.Fatalf("expected on hand 9+2+4=15 after restock, got %d", restored.OnHand)
	}
	if !result.Order.StockRestored {
		t.Fatalf("expected restored flag on order")
	}

	stockErr = nil
	if _, err := repo.RestockOrder(ctx, repositories.RestockOrderRequest{
		OrderID: "ord_restock",
		Now:     now.Add(4 * time.Minute),
	}); err == nil {
		t.Fatalf("expected already restored rejection")
	} else if !errors.As(err, &stockErr) || stockErr.Code != repositories.StockErrorAlreadyRestored {
		t.Fatalf("expected already restored error, got %v", err)
	}

	final, err := repo.GetStock(ctx, key)
	if err != nil {
		t.Fatalf("get stock after restock: %v", err)
	}
	if final.OnHand != 15 {
		t.Fatalf("second restock must not change inventory, got %d", final.OnHand)
	}

	missingKey := domain.StockKey{ProductID: "prod_missing"}
	stockErr = nil
	if _, err := repo.GetStock(ctx, missingKey); err == nil {
		t.Fatalf("expected not found for missing stock")
	} else if !errors.As(err, &stockErr) || stockErr.Code != repositories.StockErrorNotFound {
		t.Fatalf("expected stock not found error, got %v", err)
	}
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
