package kvengine

import (
	"context"
	"database/sql"
	"log/slog"
	"sync"

	"github.com/corevault/kvengine/cache"
	"github.com/corevault/kvengine/compress"
	kcrypto "github.com/corevault/kvengine/crypto"
	"github.com/corevault/kvengine/migration"
	"github.com/corevault/kvengine/query"
	"github.com/corevault/kvengine/vault"
)

// StorageManager is the façade of spec §4.9: it eagerly constructs
// the concrete adapter from Config.Type, wires the migration manager
// to it, runs migrate() during Initialize, and instantiates the vault
// when encryption is enabled. Mirrors teacher's storeImplementation
// being the one type that owns construction, migration, and
// encryption bootstrap together.
type StorageManager struct {
	mu sync.Mutex

	cfg     Config
	adapter *baseAdapter
	raw     rawAdapter

	migrations *migration.Manager
	vaultStore *vault.Vault

	logger      *slog.Logger
	initialized bool

	nowMs func() int64
}

// ManagerOptions carries host-supplied resources a façade cannot
// construct itself (an already-open *sql.DB for the sqlite adapter,
// a logger override).
type ManagerOptions struct {
	DB     *sql.DB
	Logger *slog.Logger
	NowMs  func() int64
}

// NewManager constructs a StorageManager from cfg, eagerly building
// the concrete adapter per spec §4.9. Call Initialize before use.
func NewManager(cfg Config, opts ManagerOptions) (*StorageManager, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	nowMs := opts.NowMs
	if nowMs == nil {
		nowMs = defaultNowMs
	}

	raw, err := buildRawAdapter(cfg, opts, logger)
	if err != nil {
		return nil, err
	}

	base := &baseAdapter{
		raw:   raw,
		nowMs: nowMs,
	}

	if cfg.Compression.Enabled {
		base.compression = compress.NewService(true, cfg.Compression.MinSize, cfg.Compression.Level)
		base.compression.PreferredAlgorithm = compress.Algorithm(cfg.Compression.Algorithm)
	} else {
		base.compression = compress.NewService(false, cfg.Compression.MinSize, cfg.Compression.Level)
	}

	if cfg.Encryption.Enabled {
		base.encryption = kcrypto.NewService(kcrypto.Algorithm(cfg.Encryption.Algorithm))
		base.passphrase = cfg.Encryption.Passphrase
	}

	if cfg.Cache.MaxItems > 0 || cfg.Cache.MaxSizeBytes > 0 {
		base.cache = cache.New(cache.Config{
			MaxSize:     cfg.Cache.MaxItems,
			MaxBytes:    cfg.Cache.MaxSizeBytes,
			TTL:         cfg.Cache.TTL,
			EnableStats: cfg.Cache.EnableStats,
		})
	}

	return &StorageManager{
		cfg:     cfg,
		adapter: base,
		raw:     raw,
		logger:  logger,
		nowMs:   nowMs,
	}, nil
}

func buildRawAdapter(cfg Config, opts ManagerOptions, logger *slog.Logger) (rawAdapter, error) {
	switch cfg.Type {
	case AdapterMemory, "":
		return newMemoryAdapter(), nil
	case AdapterSQLite:
		if opts.DB == nil {
			return nil, newErr(KindInitialization, "sqlite adapter requires an open *sql.DB", nil)
		}
		return newSQLAdapter(sqlAdapterOptions{
			DB:                 opts.DB,
			TableName:          cfg.Name,
			AutomigrateEnabled: cfg.Migrations.AutoMigrate,
			EncryptionEnabled:  cfg.Encryption.Enabled,
			Logger:             logger,
		})
	case AdapterDexie:
		return nil, newErr(KindInitialization, "dexie adapter is not implemented by this core", nil)
	default:
		return nil, newErr(KindInitialization, "custom adapter is not implemented by this core", nil)
	}
}

// Initialize runs the construction sequence of spec §4.9: adapter
// init, migration manager bind + migrate(), vault bootstrap.
func (s *StorageManager) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.adapter.Initialize(ctx); err != nil {
		return err
	}

	if s.migrations == nil {
		s.migrations = migration.NewManager(managerStorageAdapter{s.adapter}, s.nowMs)
	}
	if _, err := s.migrations.Migrate(ctx); err != nil {
		return newErr(KindMigrationError, "startup migration failed", err)
	}

	if s.cfg.Encryption.Enabled {
		vc := s.cfg.Vault
		if vc == nil {
			defaults := DefaultVaultConfig(s.cfg.Encryption.Passphrase)
			vc = &defaults
		}
		vcfg := vault.Config{
			Namespace:           vc.Namespace,
			Passphrase:          vc.Passphrase,
			Algorithm:           kcrypto.Algorithm(vc.Algorithm),
			KeyRotationInterval: vc.KeyRotationInterval,
			MaxAccessLogSize:    vc.MaxAccessLogSize,
			AuditEnabled:        vc.AuditEnabled,
			AutoRotateKeys:      vc.AutoRotateKeys,
		}
		v := vault.New(managerStorageAdapter{s.adapter}, vcfg, s.nowMs)
		if err := v.Initialize(ctx); err != nil {
			return newErr(KindInitialization, "vault initialization failed", err)
		}
		s.vaultStore = v
	}

	s.initialized = true
	return nil
}

func (s *StorageManager) guard() error {
	if !s.initialized {
		return newErr(KindInitialization, "storage manager used before Initialize", nil)
	}
	return nil
}

// Close releases every resource the manager owns: vault, migrations
// adapter, and the underlying raw adapter.
func (s *StorageManager) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.vaultStore != nil {
		_ = s.vaultStore.Close()
	}
	return s.adapter.Close(ctx)
}

// Get/Set/Delete/Clear/List/Count/Has/SizeBytes/GetMany/SetMany all
// delegate to the base adapter once initialized, per spec §4.9's
// "every delegated method throws initialization if called
// pre-initialize()" guard.
func (s *StorageManager) Get(ctx context.Context, key string) (any, bool, error) {
	if err := s.guard(); err != nil {
		return nil, false, err
	}
	return s.adapter.Get(ctx, key)
}

func (s *StorageManager) Set(ctx context.Context, key string, value any) error {
	if err := s.guard(); err != nil {
		return err
	}
	return s.adapter.Set(ctx, key, value)
}

func (s *StorageManager) Delete(ctx context.Context, key string) error {
	if err := s.guard(); err != nil {
		return err
	}
	return s.adapter.Delete(ctx, key)
}

func (s *StorageManager) Clear(ctx context.Context) error {
	if err := s.guard(); err != nil {
		return err
	}
	return s.adapter.Clear(ctx)
}

func (s *StorageManager) List(ctx context.Context, prefix string) ([]string, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	return s.adapter.List(ctx, prefix)
}

func (s *StorageManager) Count(ctx context.Context, prefix string) (int, error) {
	if err := s.guard(); err != nil {
		return 0, err
	}
	return s.adapter.Count(ctx, prefix)
}

func (s *StorageManager) Has(ctx context.Context, key string) (bool, error) {
	if err := s.guard(); err != nil {
		return false, err
	}
	return s.adapter.Has(ctx, key)
}

func (s *StorageManager) SizeBytes(ctx context.Context) (int64, error) {
	if err := s.guard(); err != nil {
		return 0, err
	}
	return s.adapter.SizeBytes(ctx)
}

func (s *StorageManager) GetMany(ctx context.Context, keys []string) (map[string]Maybe, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	return s.adapter.GetMany(ctx, keys)
}

func (s *StorageManager) SetMany(ctx context.Context, values map[string]any) error {
	if err := s.guard(); err != nil {
		return err
	}
	return s.adapter.SetMany(ctx, values)
}

// AddMigration queues a migration; usable before or after Initialize,
// per spec §4.9 ("add any migrations queued before init").
func (s *StorageManager) AddMigration(m migration.Migration) error {
	if s.migrations == nil {
		s.migrations = migration.NewManager(managerStorageAdapter{s.adapter}, s.nowMs)
	}
	return s.migrations.AddMigration(m)
}

// Migrations exposes the migration manager for Rollback/GetHistory
// calls once initialized.
func (s *StorageManager) Migrations() (*migration.Manager, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	return s.migrations, nil
}

// VaultStorage returns the vault, erroring per spec §4.9 if encryption
// is off.
func (s *StorageManager) VaultStorage() (*vault.Vault, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	if s.vaultStore == nil {
		return nil, newErr(KindInitialization, "vault_storage requires encryption to be enabled", nil)
	}
	return s.vaultStore, nil
}

// Query returns a fluent query.Builder bound to collection, using the
// manager's native executor when the underlying adapter is a
// *sqlAdapter, otherwise the in-memory simple mode, per spec §4.7.
// Native execution relies on json_extract(value, ...) reading "value"
// as plain JSON text (spec §4.3), so it is only wired up when both
// encryption and compression are off — either one turns "value" into
// ciphertext or base64 the SQL engine cannot see into, per spec.md's
// "with encryption on, the adapter loses the ability to execute such
// predicates server-side."
func (s *StorageManager) Query(collection string) (*query.Builder, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	var native query.NativeExecutor
	if sa, ok := s.raw.(*sqlAdapter); ok && !s.cfg.Encryption.Enabled && !s.cfg.Compression.Enabled {
		native = sa
	}
	return query.New(managerStorageAdapter{s.adapter}, native, collection), nil
}

// Namespace returns a view over this manager that prefixes every key
// with "{name}:" and strips that prefix from List results, per spec
// §4.9.
func (s *StorageManager) Namespace(name string) *NamespaceView {
	return &NamespaceView{manager: s, name: name}
}

// NamespaceView is a namespaced façade over a StorageManager, per spec
// §4.9.
type NamespaceView struct {
	manager *StorageManager
	name    string
}

func (n *NamespaceView) key(k string) string { return n.name + ":" + k }

func (n *NamespaceView) Get(ctx context.Context, key string) (any, bool, error) {
	return n.manager.Get(ctx, n.key(key))
}

func (n *NamespaceView) Set(ctx context.Context, key string, value any) error {
	return n.manager.Set(ctx, n.key(key), value)
}

func (n *NamespaceView) Delete(ctx context.Context, key string) error {
	return n.manager.Delete(ctx, n.key(key))
}

// Clear deletes every key under this namespace (list+delete all), per
// spec §4.9.
func (n *NamespaceView) Clear(ctx context.Context) error {
	keys, err := n.manager.List(ctx, n.name+":")
	if err != nil {
		return err
	}
	for _, k := range keys {
		if err := n.manager.Delete(ctx, k); err != nil {
			return err
		}
	}
	return nil
}

// List returns keys under this namespace with the "{name}:" prefix
// stripped.
func (n *NamespaceView) List(ctx context.Context) ([]string, error) {
	prefixed, err := n.manager.List(ctx, n.name+":")
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(prefixed))
	prefix := n.name + ":"
	for _, k := range prefixed {
		out = append(out, k[len(prefix):])
	}
	return out, nil
}

func (n *NamespaceView) Count(ctx context.Context) (int, error) {
	return n.manager.Count(ctx, n.name+":")
}

// managerStorageAdapter adapts *baseAdapter to the small capability
// interfaces migration.StorageAdapter/vault.StorageAdapter/
// query.StorageAdapter declare for themselves, so those packages never
// import the root package.
type managerStorageAdapter struct {
	adapter *baseAdapter
}

func (m managerStorageAdapter) Get(ctx context.Context, key string) (any, bool, error) {
	return m.adapter.Get(ctx, key)
}

func (m managerStorageAdapter) Set(ctx context.Context, key string, value any) error {
	return m.adapter.Set(ctx, key, value)
}

func (m managerStorageAdapter) Delete(ctx context.Context, key string) error {
	return m.adapter.Delete(ctx, key)
}

func (m managerStorageAdapter) Clear(ctx context.Context) error {
	return m.adapter.Clear(ctx)
}

func (m managerStorageAdapter) List(ctx context.Context, prefix string) ([]string, error) {
	return m.adapter.List(ctx, prefix)
}

func (m managerStorageAdapter) Has(ctx context.Context, key string) (bool, error) {
	return m.adapter.Has(ctx, key)
}

func (m managerStorageAdapter) GetMany(ctx context.Context, keys []string) (map[string]query.Maybe, error) {
	res, err := m.adapter.GetMany(ctx, keys)
	if err != nil {
		return nil, err
	}
	out := make(map[string]query.Maybe, len(res))
	for k, v := range res {
		out[k] = query.Maybe{Value: v.Value, Found: v.Found}
	}
	return out, nil
}
