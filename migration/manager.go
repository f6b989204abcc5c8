package migration

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/samber/lo"
)

// HistoryKey is the reserved key migration history is persisted
// under, per spec §3/§6.
const HistoryKey = "__migrations__"

// Manager is the migration manager of spec §4.8.
type Manager struct {
	mu         sync.Mutex
	adapter    StorageAdapter
	migrations map[string]*Migration
	nowMs      func() int64
}

// NewManager constructs a Manager bound to adapter. When nowMs is nil,
// every recorded timestamp and execution time is 0.
func NewManager(adapter StorageAdapter, nowMs func() int64) *Manager {
	return &Manager{
		adapter:    adapter,
		migrations: make(map[string]*Migration),
		nowMs:      nowMs,
	}
}

// AddMigration registers a migration, rejecting duplicate versions
// per spec §4.8.
func (m *Manager) AddMigration(mig Migration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if mig.Version == "" {
		return fmt.Errorf("migration_error: version must not be empty")
	}
	if _, exists := m.migrations[mig.Version]; exists {
		return fmt.Errorf("migration_error: duplicate migration version %q", mig.Version)
	}
	if mig.Down != nil && !mig.Reversible {
		// A Down function with Reversible left at its zero value
		// (false) is still a caller error if they meant it reversible;
		// spec treats Reversible as defaulting true when Down is set,
		// so honour that default here rather than silently forbidding
		// rollback for every caller who didn't set the flag.
		mig.Reversible = true
	}

	copied := mig
	m.migrations[mig.Version] = &copied
	return nil
}

func (m *Manager) loadHistory(ctx context.Context) ([]HistoryEntry, error) {
	value, found, err := m.adapter.Get(ctx, HistoryKey)
	if err != nil {
		return nil, fmt.Errorf("migration_error: failed reading history: %w", err)
	}
	if !found || value == nil {
		return []HistoryEntry{}, nil
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("migration_error: corrupt history: %w", err)
	}
	var history []HistoryEntry
	if err := json.Unmarshal(raw, &history); err != nil {
		return nil, fmt.Errorf("migration_error: corrupt history: %w", err)
	}
	return history, nil
}

func (m *Manager) saveHistory(ctx context.Context, history []HistoryEntry) error {
	if err := m.adapter.Set(ctx, HistoryKey, history); err != nil {
		return fmt.Errorf("migration_error: failed persisting history: %w", err)
	}
	return nil
}

func (m *Manager) now() int64 {
	if m.nowMs != nil {
		return m.nowMs()
	}
	return 0
}

// GetHistory returns the applied migration history.
func (m *Manager) GetHistory(ctx context.Context) ([]HistoryEntry, error) {
	return m.loadHistory(ctx)
}

// GetPendingMigrations returns declared migrations not yet applied,
// in no particular order (unsorted; Migrate determines execution
// order).
func (m *Manager) GetPendingMigrations(ctx context.Context) ([]Migration, error) {
	history, err := m.loadHistory(ctx)
	if err != nil {
		return nil, err
	}
	applied := lo.SliceToMap(history, func(h HistoryEntry) (string, bool) { return h.Version, true })

	m.mu.Lock()
	defer m.mu.Unlock()

	pending := make([]Migration, 0, len(m.migrations))
	for version, mig := range m.migrations {
		if !applied[version] {
			pending = append(pending, *mig)
		}
	}
	return pending, nil
}

// Migrate computes pending = declared - applied, topologically sorts
// them by Dependencies (cycle detection before any Up runs), executes
// sequentially, and persists history after each success. It stops at
// the first failure and returns partial results, per spec §4.8/§7.
func (m *Manager) Migrate(ctx context.Context) ([]Result, error) {
	history, err := m.loadHistory(ctx)
	if err != nil {
		return nil, err
	}
	applied := lo.SliceToMap(history, func(h HistoryEntry) (string, bool) { return h.Version, true })

	m.mu.Lock()
	pending := make(map[string]*Migration)
	for version, mig := range m.migrations {
		if !applied[version] {
			pending[version] = mig
		}
	}
	m.mu.Unlock()

	if len(pending) == 0 {
		return []Result{}, nil
	}

	order, err := topoSort(pending)
	if err != nil {
		return nil, fmt.Errorf("migration_error: %w", err)
	}

	results := make([]Result, 0, len(order))
	for _, version := range order {
		mig := pending[version]
		start := m.now()
		execErr := mig.Up(ctx, m.adapter)
		elapsed := m.now() - start
		executedAt := m.now()

		if execErr != nil {
			results = append(results, Result{
				Version:     version,
				Success:     false,
				ExecutionMs: elapsed,
				Error:       execErr.Error(),
				ExecutedAt:  executedAt,
			})
			return results, fmt.Errorf("migration_error: migration %q failed: %w", version, execErr)
		}

		history = append(history, HistoryEntry{
			Version:         version,
			AppliedAt:       executedAt,
			ExecutionTimeMs: elapsed,
			Description:     mig.Description,
		})
		if err := m.saveHistory(ctx, history); err != nil {
			results = append(results, Result{
				Version:     version,
				Success:     false,
				ExecutionMs: elapsed,
				Error:       err.Error(),
				ExecutedAt:  executedAt,
			})
			return results, err
		}

		results = append(results, Result{
			Version:     version,
			Success:     true,
			ExecutionMs: elapsed,
			ExecutedAt:  executedAt,
		})
	}

	return results, nil
}

// Rollback walks applied history in reverse, rolling back every entry
// with version > targetVersion (semver segment-wise compare), per
// spec §4.8. It requires Reversible and a defined Down for each
// migration it touches and stops at the first failure.
func (m *Manager) Rollback(ctx context.Context, targetVersion string) ([]Result, error) {
	history, err := m.loadHistory(ctx)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	migrations := m.migrations
	m.mu.Unlock()

	var toRollback []HistoryEntry
	for i := len(history) - 1; i >= 0; i-- {
		if compareVersions(history[i].Version, targetVersion) > 0 {
			toRollback = append(toRollback, history[i])
		}
	}

	results := make([]Result, 0, len(toRollback))
	remaining := append([]HistoryEntry{}, history...)

	for _, entry := range toRollback {
		mig, ok := migrations[entry.Version]
		if !ok {
			return results, fmt.Errorf("migration_error: unknown migration %q referenced by history", entry.Version)
		}
		if !mig.Reversible || mig.Down == nil {
			return results, fmt.Errorf("migration_error: migration %q is not reversible", entry.Version)
		}

		start := m.now()
		execErr := mig.Down(ctx, m.adapter)
		elapsed := m.now() - start
		executedAt := m.now()

		if execErr != nil {
			results = append(results, Result{
				Version:     entry.Version,
				Success:     false,
				ExecutionMs: elapsed,
				Error:       execErr.Error(),
				ExecutedAt:  executedAt,
			})
			return results, fmt.Errorf("migration_error: rollback of %q failed: %w", entry.Version, execErr)
		}

		remaining = removeVersion(remaining, entry.Version)
		if err := m.saveHistory(ctx, remaining); err != nil {
			return results, err
		}

		results = append(results, Result{
			Version:     entry.Version,
			Success:     true,
			ExecutionMs: elapsed,
			ExecutedAt:  executedAt,
		})
	}

	return results, nil
}

func removeVersion(history []HistoryEntry, version string) []HistoryEntry {
	return lo.Filter(history, func(h HistoryEntry, _ int) bool { return h.Version != version })
}
