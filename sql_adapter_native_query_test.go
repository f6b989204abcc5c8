package kvengine

import (
	"context"
	"database/sql"
	"testing"

	"github.com/corevault/kvengine/query"
)

// openTestSQLite mirrors teacher's setupTestStoreForIdentity: an
// in-memory SQLite database via glebarez/sqlite's pure-Go driver,
// registered as "sqlite" (same package this module's sql_adapter.go
// already imports).
func openTestSQLite(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func newSQLiteManager(t *testing.T, mutate func(*Config)) *StorageManager {
	t.Helper()
	db := openTestSQLite(t)

	cfg := DefaultConfig()
	cfg.Type = AdapterSQLite
	cfg.Name = "kv_storage"
	if mutate != nil {
		mutate(&cfg)
	}

	mgr, err := NewManager(cfg, ManagerOptions{DB: db})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if err := mgr.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	t.Cleanup(func() { mgr.Close(context.Background()) })
	return mgr
}

func TestSQLiteAdapterRoundTrip(t *testing.T) {
	mgr := newSQLiteManager(t, nil)
	ctx := context.Background()

	if err := mgr.Set(ctx, "users:1", map[string]any{"name": "Alice", "age": 30.0}); err != nil {
		t.Fatalf("Set: %v", err)
	}

	value, found, err := mgr.Get(ctx, "users:1")
	if err != nil || !found {
		t.Fatalf("Get: value=%v found=%v err=%v", value, found, err)
	}
	row, ok := value.(map[string]any)
	if !ok || row["name"] != "Alice" {
		t.Fatalf("unexpected decoded value: %#v", value)
	}

	keys, err := mgr.List(ctx, "users:")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(keys) != 1 || keys[0] != "users:1" {
		t.Fatalf("expected [users:1], got %v", keys)
	}

	count, err := mgr.Count(ctx, "users:")
	if err != nil || count != 1 {
		t.Fatalf("Count: count=%d err=%v", count, err)
	}

	if err := mgr.Delete(ctx, "users:1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if has, err := mgr.Has(ctx, "users:1"); err != nil || has {
		t.Fatalf("expected key gone: has=%v err=%v", has, err)
	}
}

func TestSQLiteAdapterSetManyTransaction(t *testing.T) {
	mgr := newSQLiteManager(t, nil)
	ctx := context.Background()

	if err := mgr.SetMany(ctx, map[string]any{
		"users:1": map[string]any{"name": "Alice"},
		"users:2": map[string]any{"name": "Bob"},
	}); err != nil {
		t.Fatalf("SetMany: %v", err)
	}

	count, err := mgr.Count(ctx, "users:")
	if err != nil || count != 2 {
		t.Fatalf("Count: count=%d err=%v", count, err)
	}
}

// TestSQLiteNativeQueryJSONPredicate is the regression test for the
// native execution path: every builder field must compile to
// json_extract(value, '$.<path>') against the sqlite adapter, since
// kv_storage carries no "role"/"salary" columns of its own.
func TestSQLiteNativeQueryJSONPredicate(t *testing.T) {
	mgr := newSQLiteManager(t, nil)
	ctx := context.Background()

	seed := map[string]any{
		"users:1": map[string]any{"name": "alice", "role": "admin", "salary": 90000.0},
		"users:2": map[string]any{"name": "bob", "role": "user", "salary": 60000.0},
		"users:3": map[string]any{"name": "carol", "role": "admin", "salary": 120000.0},
	}
	if err := mgr.SetMany(ctx, seed); err != nil {
		t.Fatalf("SetMany: %v", err)
	}

	q, err := mgr.Query("users")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	res, err := q.Where("role", query.OpEq, "admin").OrderBy("salary", true).Execute(ctx)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Metadata.Mode != "native" {
		t.Fatalf("expected native execution mode, got %q", res.Metadata.Mode)
	}
	if res.Total != 2 {
		t.Fatalf("expected 2 admins, got %d (%#v)", res.Total, res.Data)
	}
	if res.Data[0]["name"] != "carol" {
		t.Fatalf("expected carol first (salary desc), got %v", res.Data[0]["name"])
	}
	if res.Data[1]["name"] != "alice" {
		t.Fatalf("expected alice second, got %v", res.Data[1]["name"])
	}
}

// TestSQLiteNativeQueryDisabledUnderEncryption asserts the fallback:
// once encryption is on, "value" is ciphertext json_extract cannot see
// into, so Query must use the in-memory "simple" mode instead.
func TestSQLiteNativeQueryDisabledUnderEncryption(t *testing.T) {
	mgr := newSQLiteManager(t, func(c *Config) {
		c.Encryption = EncryptionConfig{
			Enabled:    true,
			Passphrase: "correct-horse-battery-staple",
			Algorithm:  AlgoAESGCM,
		}
	})
	ctx := context.Background()

	if err := mgr.Set(ctx, "users:1", map[string]any{"name": "alice", "role": "admin"}); err != nil {
		t.Fatalf("Set: %v", err)
	}

	q, err := mgr.Query("users")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	res, err := q.Where("role", query.OpEq, "admin").Execute(ctx)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Metadata.Mode != "simple" {
		t.Fatalf("expected simple execution mode under encryption, got %q", res.Metadata.Mode)
	}
	if res.Total != 1 {
		t.Fatalf("expected 1 match, got %d", res.Total)
	}
}
