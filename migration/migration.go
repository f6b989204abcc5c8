// Package migration implements the migration manager of spec §4.8:
// versioned, dependency-ordered schema evolution with rollback and
// history, persisted under the reserved key "__migrations__" the same
// way teacher's vault_settings.go persists service state under a
// single reserved row. It declares its own minimal StorageAdapter
// capability rather than importing the root package, so the root
// package can construct a Manager against any adapter without an
// import cycle.
package migration

import "context"

// StorageAdapter is the slice of the root storage API a migration
// needs: enough to read/write history and to let Up/Down functions
// manipulate persisted state.
type StorageAdapter interface {
	Get(ctx context.Context, key string) (any, bool, error)
	Set(ctx context.Context, key string, value any) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]string, error)
}

// Func is a migration step; it receives the adapter it should act on.
type Func func(ctx context.Context, adapter StorageAdapter) error

// Migration is a single versioned schema step, per spec §4.8.
type Migration struct {
	Version      string
	Description  string
	Up           Func
	Down         Func
	Dependencies []string
	// Reversible is forced to true by AddMigration whenever Down is
	// set, so a migration with a Down function is always reversible;
	// setting it to false does not forbid rollback in that case.
	Reversible bool
}

// HistoryEntry is the persisted record of a successfully applied
// migration, per spec §3.
type HistoryEntry struct {
	Version         string `json:"version"`
	AppliedAt       int64  `json:"applied_at"`
	ExecutionTimeMs int64  `json:"execution_time_ms"`
	Description     string `json:"description"`
}

// Result is the per-migration outcome spec §4.8 requires from both
// Migrate and Rollback.
type Result struct {
	Version     string `json:"version"`
	Success     bool   `json:"success"`
	ExecutionMs int64  `json:"execution_time_ms"`
	Error       string `json:"error,omitempty"`
	ExecutedAt  int64  `json:"executed_at"`
}
