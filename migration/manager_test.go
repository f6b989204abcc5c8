package migration

import (
	"context"
	"sync"
	"testing"
)

// fakeAdapter is a minimal in-memory StorageAdapter for migration tests.
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
		keys = append(keys, k)
	}
	return keys, nil
}

func ticker() func() int64 {
	var n int64
	return func() int64 {
		n++
		return n
	}
}

func TestMigrateDependencyOrder(t *testing.T) {
	adapter := newFakeAdapter()
	mgr := NewManager(adapter, ticker())

	var executed []string
	track := func(version string) Func {
		return func(ctx context.Context, a StorageAdapter) error {
			executed = append(executed, version)
			return nil
		}
	}

	for _, mig := range []Migration{
		{Version: "1.0.0", Up: track("1.0.0")},
		{Version: "2.0.0", Dependencies: []string{"1.0.0"}, Up: track("2.0.0")},
		{Version: "2.1.0", Dependencies: []string{"1.0.0"}, Up: track("2.1.0")},
		{Version: "3.0.0", Dependencies: []string{"2.0.0", "2.1.0"}, Up: track("3.0.0")},
	} {
		if err := mgr.AddMigration(mig); err != nil {
			t.Fatalf("AddMigration(%s): %v", mig.Version, err)
		}
	}

	results, err := mgr.Migrate(context.Background())
	if err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if len(results) != 4 {
		t.Fatalf("expected 4 results, got %d", len(results))
	}
	for _, r := range results {
		if !r.Success {
			t.Fatalf("migration %s did not succeed: %s", r.Version, r.Error)
		}
	}

	indexOf := func(v string) int {
		for i, ver := range executed {
			if ver == v {
				return i
			}
		}
		return -1
	}
	if indexOf("1.0.0") != 0 {
		t.Fatalf("expected 1.0.0 first, executed order: %v", executed)
	}
	if indexOf("3.0.0") != 3 {
		t.Fatalf("expected 3.0.0 last, executed order: %v", executed)
	}
	if indexOf("2.0.0") >= indexOf("3.0.0") || indexOf("2.1.0") >= indexOf("3.0.0") {
		t.Fatalf("expected both 2.x before 3.0.0, executed order: %v", executed)
	}
}

func TestMigrateDetectsCycle(t *testing.T) {
	adapter := newFakeAdapter()
	mgr := NewManager(adapter, ticker())

	noop := func(ctx context.Context, a StorageAdapter) error { return nil }
	_ = mgr.AddMigration(Migration{Version: "1.0.0", Dependencies: []string{"2.0.0"}, Up: noop})
	_ = mgr.AddMigration(Migration{Version: "2.0.0", Dependencies: []string{"1.0.0"}, Up: noop})

	if _, err := mgr.Migrate(context.Background()); err == nil {
		t.Fatal("expected circular dependency error")
	}
}

func TestMigrateStopsOnFirstFailure(t *testing.T) {
	adapter := newFakeAdapter()
	mgr := NewManager(adapter, ticker())

	var ran []string
	ok := func(version string) Func {
		return func(ctx context.Context, a StorageAdapter) error {
			ran = append(ran, version)
			return nil
		}
	}
	failing := func(ctx context.Context, a StorageAdapter) error {
		ran = append(ran, "2.0.0")
		return errBoom
	}

	_ = mgr.AddMigration(Migration{Version: "1.0.0", Up: ok("1.0.0")})
	_ = mgr.AddMigration(Migration{Version: "2.0.0", Dependencies: []string{"1.0.0"}, Up: failing})
	_ = mgr.AddMigration(Migration{Version: "3.0.0", Dependencies: []string{"2.0.0"}, Up: ok("3.0.0")})

	results, err := mgr.Migrate(context.Background())
	if err == nil {
		t.Fatal("expected an error from the failing migration")
	}
	if len(results) != 2 {
		t.Fatalf("expected partial results of length 2, got %d", len(results))
	}
	if results[1].Success {
		t.Fatal("expected second result to report failure")
	}
	if len(ran) != 2 {
		t.Fatalf("expected 3.0.0 to never run, ran: %v", ran)
	}
}

func TestRollbackRequiresReversible(t *testing.T) {
	adapter := newFakeAdapter()
	mgr := NewManager(adapter, ticker())

	up := func(ctx context.Context, a StorageAdapter) error { return nil }
	_ = mgr.AddMigration(Migration{Version: "1.0.0", Up: up})

	ctx := context.Background()
	if _, err := mgr.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}

	if _, err := mgr.Rollback(ctx, "0.0.0"); err == nil {
		t.Fatal("expected rollback to fail for an irreversible migration")
	}
}

func TestDuplicateVersionRejected(t *testing.T) {
	mgr := NewManager(newFakeAdapter(), ticker())
	up := func(ctx context.Context, a StorageAdapter) error { return nil }
	if err := mgr.AddMigration(Migration{Version: "1.0.0", Up: up}); err != nil {
		t.Fatalf("AddMigration: %v", err)
	}
	if err := mgr.AddMigration(Migration{Version: "1.0.0", Up: up}); err == nil {
		t.Fatal("expected duplicate version to be rejected")
	}
}

var errBoom = boomErr{}

type boomErr struct{}

func (boomErr) Error() string { return "boom" }
