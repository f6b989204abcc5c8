package vault

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"
)

type fakeAdapter struct {
	mu     sync.Mutex
	values map[string]any
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{values: make(map[string]any)}
}

func (f *fakeAdapter) Get(ctx context.Context, key string) (any, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.values[key]
	return v, ok, nil
}

func (f *fakeAdapter) Set(ctx context.Context, key string, value any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[key] = value
	return nil
}

func (f *fakeAdapter) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.values, key)
	return nil
}

func (f *fakeAdapter) List(ctx context.Context, prefix string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var keys []string
	for k := range f.values {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (f *fakeAdapter) Has(ctx context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.values[key]
	return ok, nil
}

func ticker() func() int64 {
	n := int64(1000)
	return func() int64 {
		n++
		return n
	}
}

func newTestVault(t *testing.T) (*Vault, *fakeAdapter) {
	t.Helper()
	adapter := newFakeAdapter()
	cfg := DefaultConfig("correct-horse-battery-staple")
	v := New(adapter, cfg, ticker())
	if err := v.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return v, adapter
}

func TestStoreRetrieveRoundTrip(t *testing.T) {
	v, _ := newTestVault(t)
	ctx := context.Background()

	if err := v.Store(ctx, "api-key", "sk-live-12345", nil); err != nil {
		t.Fatalf("Store: %v", err)
	}

	value, found, err := v.Retrieve(ctx, "api-key")
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if !found {
		t.Fatal("expected key to be found")
	}
	if value != "sk-live-12345" {
		t.Fatalf("got %v, want sk-live-12345", value)
	}
}

func TestRawAdapterNeverSeesPlaintext(t *testing.T) {
	v, adapter := newTestVault(t)
	ctx := context.Background()

	secret := "super-secret-token"
	if err := v.Store(ctx, "token", secret, nil); err != nil {
		t.Fatalf("Store: %v", err)
	}

	raw, found, err := adapter.Get(ctx, "vault:token")
	if err != nil || !found {
		t.Fatalf("expected raw entry present, err=%v found=%v", err, found)
	}
	entry, ok := raw.(Entry)
	if !ok {
		t.Fatalf("expected Entry, got %T", raw)
	}
	if entry.Data == nil || entry.Data.Data == "" {
		t.Fatal("expected ciphertext in entry.Data.Data")
	}
	if strings.Contains(entry.Data.Data, secret) {
		t.Fatal("raw storage must not contain plaintext secret")
	}
}

func TestDoubleWrapTamperDetection(t *testing.T) {
	v, adapter := newTestVault(t)
	ctx := context.Background()

	if err := v.Store(ctx, "token", "value", nil); err != nil {
		t.Fatalf("Store: %v", err)
	}

	raw, _, _ := adapter.Get(ctx, "vault:token")
	entry := raw.(Entry)
	entry.Data.AuthTag = entry.Data.AuthTag[:len(entry.Data.AuthTag)-2] + "AA"
	adapter.Set(ctx, "vault:token", entry)

	_, _, err := v.Retrieve(ctx, "token")
	if err == nil {
		t.Fatal("expected authentication failure on tampered ciphertext")
	}
}

func TestRotateKeysPreservesData(t *testing.T) {
	v, _ := newTestVault(t)
	ctx := context.Background()

	if err := v.Store(ctx, "a", "alpha", nil); err != nil {
		t.Fatalf("Store a: %v", err)
	}
	if err := v.Store(ctx, "b", 42, nil); err != nil {
		t.Fatalf("Store b: %v", err)
	}

	before := v.Stats()

	if err := v.RotateKeys(ctx, "new-passphrase-entirely"); err != nil {
		t.Fatalf("RotateKeys: %v", err)
	}

	after := v.Stats()
	if after.KeyVersion != before.KeyVersion+1 {
		t.Fatalf("expected key version to increment by 1, got %d -> %d", before.KeyVersion, after.KeyVersion)
	}
	if after.LastKeyRotation <= before.LastKeyRotation {
		t.Fatalf("expected last_key_rotation to strictly increase, got %d -> %d", before.LastKeyRotation, after.LastKeyRotation)
	}

	va, found, err := v.Retrieve(ctx, "a")
	if err != nil || !found || va != "alpha" {
		t.Fatalf("a after rotation: %v found=%v err=%v", va, found, err)
	}
	vb, found, err := v.Retrieve(ctx, "b")
	if err != nil || !found {
		t.Fatalf("b after rotation: found=%v err=%v", found, err)
	}
	if vb != float64(42) {
		t.Fatalf("b after rotation: got %v", vb)
	}

	if v.keyVersion != 2 {
		t.Fatalf("expected key version 2, got %d", v.keyVersion)
	}
}

func TestStatsReportsVersionAndRotationTimestamp(t *testing.T) {
	v, _ := newTestVault(t)

	stats := v.Stats()
	if stats.KeyVersion != 1 {
		t.Fatalf("expected initial key version 1, got %d", stats.KeyVersion)
	}
	if stats.LastKeyRotation != 0 {
		t.Fatalf("expected no rotation yet, got %d", stats.LastKeyRotation)
	}

	ctx := context.Background()
	if err := v.RotateKeys(ctx, ""); err != nil {
		t.Fatalf("RotateKeys: %v", err)
	}
	stats = v.Stats()
	if stats.KeyVersion != 2 {
		t.Fatalf("expected key version 2 after rotation, got %d", stats.KeyVersion)
	}
	if stats.LastKeyRotation == 0 {
		t.Fatal("expected last_key_rotation to be set after rotation")
	}
}

func TestRekeySubsetFallsBackToRetiredKey(t *testing.T) {
	v, _ := newTestVault(t)
	ctx := context.Background()

	if err := v.Store(ctx, "kept-old", "untouched", nil); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if err := v.Store(ctx, "rekeyed", "migrated", nil); err != nil {
		t.Fatalf("Store: %v", err)
	}

	n, err := v.RekeySubset(ctx, []string{"rekeyed"}, "another-new-passphrase")
	if err != nil {
		t.Fatalf("RekeySubset: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 rekeyed entry, got %d", n)
	}

	value, found, err := v.Retrieve(ctx, "kept-old")
	if err != nil || !found || value != "untouched" {
		t.Fatalf("kept-old via retired key: value=%v found=%v err=%v", value, found, err)
	}

	value, found, err = v.Retrieve(ctx, "rekeyed")
	if err != nil || !found || value != "migrated" {
		t.Fatalf("rekeyed via new key: value=%v found=%v err=%v", value, found, err)
	}
}

func TestSoftDeleteHidesThenRestoreRevealsAgain(t *testing.T) {
	v, _ := newTestVault(t)
	ctx := context.Background()

	if err := v.Store(ctx, "secret", "value", nil); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if err := v.SoftDelete(ctx, "secret"); err != nil {
		t.Fatalf("SoftDelete: %v", err)
	}

	if _, found, _ := v.Retrieve(ctx, "secret"); found {
		t.Fatal("expected soft-deleted entry to be hidden")
	}

	if err := v.Restore(ctx, "secret"); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	value, found, err := v.Retrieve(ctx, "secret")
	if err != nil || !found || value != "value" {
		t.Fatalf("after restore: value=%v found=%v err=%v", value, found, err)
	}
}

func TestPurgeExpiredRemovesOldTombstonesOnly(t *testing.T) {
	v, _ := newTestVault(t)
	ctx := context.Background()

	if err := v.Store(ctx, "old", "x", nil); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if err := v.Store(ctx, "fresh", "y", nil); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if err := v.SoftDelete(ctx, "old"); err != nil {
		t.Fatalf("SoftDelete: %v", err)
	}
	if err := v.SoftDelete(ctx, "fresh"); err != nil {
		t.Fatalf("SoftDelete: %v", err)
	}

	purged, err := v.PurgeExpired(ctx, 1000000)
	if err != nil {
		t.Fatalf("PurgeExpired: %v", err)
	}
	if purged != 0 {
		t.Fatalf("expected nothing purged within grace window, got %d", purged)
	}

	purged, err = v.PurgeExpired(ctx, 0)
	if err != nil {
		t.Fatalf("PurgeExpired: %v", err)
	}
	if purged != 2 {
		t.Fatalf("expected both tombstones purged, got %d", purged)
	}
}

func TestExportImportBackupRoundTrip(t *testing.T) {
	v, _ := newTestVault(t)
	ctx := context.Background()

	if err := v.Store(ctx, "a", "alpha", nil); err != nil {
		t.Fatalf("Store: %v", err)
	}

	backup, err := v.ExportBackup(ctx)
	if err != nil {
		t.Fatalf("ExportBackup: %v", err)
	}

	if err := v.Delete(ctx, "a"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, found, _ := v.Retrieve(ctx, "a"); found {
		t.Fatal("expected a to be gone before import")
	}

	if err := v.ImportBackup(ctx, backup); err != nil {
		t.Fatalf("ImportBackup: %v", err)
	}

	value, found, err := v.Retrieve(ctx, "a")
	if err != nil || !found || value != "alpha" {
		t.Fatalf("after import: value=%v found=%v err=%v", value, found, err)
	}
}

func TestNamespaceIsolation(t *testing.T) {
	adapter := newFakeAdapter()
	cfgA := DefaultConfig("pw-a")
	cfgA.Namespace = "vault-a"
	cfgB := DefaultConfig("pw-b")
	cfgB.Namespace = "vault-b"

	vaultA := New(adapter, cfgA, ticker())
	vaultB := New(adapter, cfgB, ticker())
	ctx := context.Background()
	if err := vaultA.Initialize(ctx); err != nil {
		t.Fatalf("Initialize A: %v", err)
	}
	if err := vaultB.Initialize(ctx); err != nil {
		t.Fatalf("Initialize B: %v", err)
	}

	if err := vaultA.Store(ctx, "shared-name", "value-a", nil); err != nil {
		t.Fatalf("Store A: %v", err)
	}
	if _, found, _ := vaultB.Retrieve(ctx, "shared-name"); found {
		t.Fatal("vault B must not see vault A's entries")
	}
}

func TestReservedKeysRejectedByStore(t *testing.T) {
	v, _ := newTestVault(t)
	ctx := context.Background()
	if err := v.Store(ctx, reservedVaultKey, "x", nil); err == nil {
		t.Fatal("expected reserved key to be rejected")
	}
}

func TestAutoRotateSchedulesTimer(t *testing.T) {
	adapter := newFakeAdapter()
	cfg := DefaultConfig("pw")
	cfg.AutoRotateKeys = true
	cfg.KeyRotationInterval = time.Hour
	v := New(adapter, cfg, ticker())
	if err := v.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if v.rotationTimer == nil {
		t.Fatal("expected rotation timer to be armed")
	}
	v.Close()
}
