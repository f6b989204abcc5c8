package kvengine

import "time"

// AdapterType selects the concrete storage backend. Only Memory and
// SQLite are implemented by this core; Dexie and Custom are accepted
// for config compatibility and always fail initialisation.
type AdapterType string

const (
	AdapterMemory AdapterType = "memory"
	AdapterSQLite AdapterType = "sqlite"
	AdapterDexie  AdapterType = "dexie"
	AdapterCustom AdapterType = "custom"
)

// EncryptionAlgorithm selects the AEAD cipher used by the encryption
// service and the vault.
type EncryptionAlgorithm string

const (
	AlgoAESGCM           EncryptionAlgorithm = "aes-256-gcm"
	AlgoChaCha20Poly1305 EncryptionAlgorithm = "chacha20-poly1305"
)

// EncryptionConfig configures the encryption service (C3).
type EncryptionConfig struct {
	Enabled         bool
	Passphrase      string
	Algorithm       EncryptionAlgorithm
	EncryptedFields []string
}

// CompressionConfig configures the compression service (C4).
type CompressionConfig struct {
	Enabled   bool
	Algorithm CompressionAlgorithm
	MinSize   int
	Level     int
}

// CacheConfig configures the cache layer (C5).
type CacheConfig struct {
	MaxItems     int
	MaxSizeBytes int64
	TTL          time.Duration
	EnableStats  bool
}

// MigrationsConfig configures the migration manager (C10).
type MigrationsConfig struct {
	AutoMigrate bool
}

// VaultConfig configures the vault (C12).
type VaultConfig struct {
	Passphrase          string
	Namespace           string
	Algorithm           EncryptionAlgorithm
	KeyRotationInterval time.Duration
	MaxAccessLogSize    int
	AuditEnabled        bool
	AutoRotateKeys      bool
}

// Config is the top-level configuration surface of spec §6.
type Config struct {
	Type        AdapterType
	Path        string
	Name        string
	Encryption  EncryptionConfig
	Compression CompressionConfig
	Cache       CacheConfig
	Migrations  MigrationsConfig
	Vault       *VaultConfig
}

// Option mutates a Config; NewConfig applies defaults first, then
// every Option, the way teacher's NewStoreOptions is a plain struct
// but this module's surface is wide enough to warrant functional
// options for the nested sub-configs.
type Option func(*Config)

// DefaultConfig returns the documented defaults of spec §6.
func DefaultConfig() Config {
	return Config{
		Type: AdapterMemory,
		Name: "default",
		Compression: CompressionConfig{
			Algorithm: AlgoAuto,
			MinSize:   1024,
			Level:     6,
		},
		Cache: CacheConfig{
			MaxItems:     1000,
			MaxSizeBytes: 100 * 1024 * 1024,
			TTL:          5 * time.Minute,
			EnableStats:  true,
		},
		Migrations: MigrationsConfig{
			AutoMigrate: true,
		},
	}
}

func WithType(t AdapterType) Option { return func(c *Config) { c.Type = t } }
func WithPath(path string) Option   { return func(c *Config) { c.Path = path } }
func WithName(name string) Option   { return func(c *Config) { c.Name = name } }

func WithEncryption(enc EncryptionConfig) Option {
	return func(c *Config) { c.Encryption = enc }
}

func WithCompression(comp CompressionConfig) Option {
	return func(c *Config) {
		if comp.MinSize == 0 {
			comp.MinSize = 1024
		}
		if comp.Level == 0 {
			comp.Level = 6
		}
		comp.Level = clampLevel(comp.Level)
		c.Compression = comp
	}
}

func WithCache(cache CacheConfig) Option {
	return func(c *Config) { c.Cache = cache }
}

func WithMigrations(m MigrationsConfig) Option {
	return func(c *Config) { c.Migrations = m }
}

// DefaultVaultConfig returns the documented vault defaults of spec §6,
// the base a caller overrides before passing to WithVault.
func DefaultVaultConfig(passphrase string) VaultConfig {
	return VaultConfig{
		Passphrase:          passphrase,
		Namespace:           "vault",
		Algorithm:           AlgoAESGCM,
		KeyRotationInterval: 30 * 24 * time.Hour,
		MaxAccessLogSize:    1000,
		AuditEnabled:        true,
		AutoRotateKeys:      false,
	}
}

func WithVault(v VaultConfig) Option {
	return func(c *Config) {
		if v.Namespace == "" {
			v.Namespace = "vault"
		}
		if v.KeyRotationInterval == 0 {
			v.KeyRotationInterval = 30 * 24 * time.Hour
		}
		if v.MaxAccessLogSize == 0 {
			v.MaxAccessLogSize = 1000
		}
		c.Vault = &v
	}
}

// NewConfig builds a Config by starting from DefaultConfig() and
// applying opts in order, the functional-options construction path
// spec §6/§7 describes. NewManager still takes a plain Config
// directly for callers assembling one from deserialised settings
// rather than option calls.
func NewConfig(opts ...Option) Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// clampLevel enforces the §6 clamp of compression level to [-1, 9].
func clampLevel(level int) int {
	if level < -1 {
		return -1
	}
	if level > 9 {
		return 9
	}
	return level
}
