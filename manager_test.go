package kvengine

import (
	"context"
	"testing"

	"github.com/corevault/kvengine/migration"
)

func TestManagerMemoryHappyPath(t *testing.T) {
	cfg := DefaultConfig()
	mgr, err := NewManager(cfg, ManagerOptions{})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	ctx := context.Background()
	if err := mgr.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	defer mgr.Close(ctx)

	if err := mgr.Set(ctx, "greeting", "hello"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	value, found, err := mgr.Get(ctx, "greeting")
	if err != nil || !found || value != "hello" {
		t.Fatalf("Get: value=%v found=%v err=%v", value, found, err)
	}
}

func TestManagerGuardsBeforeInitialize(t *testing.T) {
	cfg := DefaultConfig()
	mgr, err := NewManager(cfg, ManagerOptions{})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if _, _, err := mgr.Get(context.Background(), "x"); err == nil {
		t.Fatal("expected initialization guard error before Initialize")
	}
}

func TestManagerVaultRequiresEncryption(t *testing.T) {
	cfg := DefaultConfig()
	mgr, err := NewManager(cfg, ManagerOptions{})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	ctx := context.Background()
	if err := mgr.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	defer mgr.Close(ctx)

	if _, err := mgr.VaultStorage(); err == nil {
		t.Fatal("expected vault_storage error when encryption is off")
	}
}

func TestManagerVaultEnabled(t *testing.T) {
	cfg := DefaultConfig()
	vcfg := DefaultVaultConfig("correct-horse-battery-staple")
	cfg.Vault = &vcfg
	cfg.Encryption = EncryptionConfig{Enabled: true, Passphrase: vcfg.Passphrase}

	mgr, err := NewManager(cfg, ManagerOptions{})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	ctx := context.Background()
	if err := mgr.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	defer mgr.Close(ctx)

	v, err := mgr.VaultStorage()
	if err != nil {
		t.Fatalf("VaultStorage: %v", err)
	}
	if err := v.Store(ctx, "secret", "value", nil); err != nil {
		t.Fatalf("Store: %v", err)
	}
	value, found, err := v.Retrieve(ctx, "secret")
	if err != nil || !found || value != "value" {
		t.Fatalf("Retrieve: value=%v found=%v err=%v", value, found, err)
	}
}

func TestManagerNamespaceIsolation(t *testing.T) {
	cfg := DefaultConfig()
	mgr, err := NewManager(cfg, ManagerOptions{})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	ctx := context.Background()
	if err := mgr.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	defer mgr.Close(ctx)

	users := mgr.Namespace("users")
	orders := mgr.Namespace("orders")

	if err := users.Set(ctx, "1", "alice"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := orders.Set(ctx, "1", "order-alpha"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	value, found, err := users.Get(ctx, "1")
	if err != nil || !found || value != "alice" {
		t.Fatalf("users.Get: value=%v found=%v err=%v", value, found, err)
	}
	value, found, err = orders.Get(ctx, "1")
	if err != nil || !found || value != "order-alpha" {
		t.Fatalf("orders.Get: value=%v found=%v err=%v", value, found, err)
	}

	keys, err := users.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(keys) != 1 || keys[0] != "1" {
		t.Fatalf("expected [1], got %v", keys)
	}
}

func TestManagerQueryBuilder(t *testing.T) {
	cfg := DefaultConfig()
	mgr, err := NewManager(cfg, ManagerOptions{})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	ctx := context.Background()
	if err := mgr.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	defer mgr.Close(ctx)

	if err := mgr.Set(ctx, "users:1", map[string]any{"name": "alice", "age": 30.0}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := mgr.Set(ctx, "users:2", map[string]any{"name": "bob", "age": 25.0}); err != nil {
		t.Fatalf("Set: %v", err)
	}

	q, err := mgr.Query("users")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	res, err := q.Where("name", "=", "alice").Execute(ctx)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Total != 1 {
		t.Fatalf("expected 1 match, got %d", res.Total)
	}
}

func TestManagerMigrationsRunOnInitialize(t *testing.T) {
	cfg := DefaultConfig()
	mgr, err := NewManager(cfg, ManagerOptions{})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	applied := false
	if err := mgr.AddMigration(migration.Migration{
		Version:     "1.0.0",
		Description: "seed",
		Up: func(ctx context.Context, adapter migration.StorageAdapter) error {
			applied = true
			return adapter.Set(ctx, "seeded", "true")
		},
	}); err != nil {
		t.Fatalf("AddMigration: %v", err)
	}

	ctx := context.Background()
	if err := mgr.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	defer mgr.Close(ctx)

	if !applied {
		t.Fatal("expected migration to run during Initialize")
	}
	value, found, err := mgr.Get(ctx, "seeded")
	if err != nil || !found || value != "true" {
		t.Fatalf("seeded key: value=%v found=%v err=%v", value, found, err)
	}
}
