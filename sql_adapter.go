package kvengine

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"log/slog"
	"strings"

	_ "github.com/doug-martin/goqu/v9/dialect/mysql"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	"github.com/dracory/database"
	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// gormStorageRow is the internal GORM model for the storage table,
// the same "plain struct, TableName set dynamically" shape teacher's
// gormVaultRecord uses.
type gormStorageRow struct {
	ID          int64  `gorm:"primaryKey;autoIncrement;column:id"`
	Namespace   string `gorm:"column:namespace;index:idx_storage_namespace"`
	Key         string `gorm:"uniqueIndex:idx_storage_key;column:key"`
	Value       string `gorm:"type:text;column:value"`
	Metadata    string `gorm:"type:text;column:metadata"`
	CreatedAt   int64  `gorm:"column:created_at;index:idx_storage_created_at"`
	UpdatedAt   int64  `gorm:"column:updated_at"`
	AccessedAt  int64  `gorm:"column:accessed_at"`
	AccessCount int64  `gorm:"column:access_count"`
}

func (gormStorageRow) TableName() string { return "" } // set dynamically via db.Table

type gormMigrationRow struct {
	Version     string `gorm:"primaryKey;size:64;column:version"`
	Description string `gorm:"column:description"`
	AppliedAt   int64  `gorm:"column:applied_at"`
}

func (gormMigrationRow) TableName() string { return "" }

// sqlAdapter implements rawAdapter and batchRawAdapter over a
// GORM-wrapped *sql.DB, per spec §4.3. It follows teacher's
// store_new.go construction verbatim for SQLite (glebarez/sqlite's
// pure-Go dialector wrapping an already-open *sql.DB) and generalises
// it to MySQL/Postgres using the same dracory/database dialect
// detection store_implementation.go performs.
type sqlAdapter struct {
	db           *sql.DB
	gormDB       *gorm.DB
	dialect      string
	tableName    string
	migrationsTN string

	encryptionEnabled bool
	ftsEnabled        bool
	automigrate       bool
	debugEnabled      bool
	logger            *slog.Logger
}

// sqlAdapterOptions mirrors teacher's NewStoreOptions, narrowed to
// what the raw storage adapter needs.
type sqlAdapterOptions struct {
	DB                 *sql.DB
	DbDriverName       string
	TableName          string
	MigrationsTable    string
	AutomigrateEnabled bool
	DebugEnabled       bool
	EncryptionEnabled  bool
	Logger             *slog.Logger
}

func newSQLAdapter(opts sqlAdapterOptions) (*sqlAdapter, error) {
	if opts.DB == nil {
		return nil, newErr(KindInitialization, "sql adapter: DB is required", nil)
	}

	tableName := opts.TableName
	if tableName == "" {
		tableName = "kv_storage"
	}
	migrationsTN := opts.MigrationsTable
	if migrationsTN == "" {
		migrationsTN = "kv_migrations"
	}

	dialect := opts.DbDriverName
	if dialect == "" {
		dialect = database.DatabaseType(opts.DB)
	}

	var gormDB *gorm.DB
	var err error
	switch dialect {
	case "mysql":
		gormDB, err = gorm.Open(mysql.New(mysql.Config{Conn: opts.DB}), &gorm.Config{})
	case "postgres", "postgresql", "pgx":
		gormDB, err = gorm.Open(postgres.New(postgres.Config{Conn: opts.DB}), &gorm.Config{})
	default:
		// Default engine, exactly teacher's store_new.go construction:
		// glebarez/sqlite's pure-Go dialector wrapping the already-open
		// *sql.DB the host provides.
		gormDB, err = gorm.Open(&sqlite.Dialector{Conn: opts.DB}, &gorm.Config{})
	}
	if err != nil {
		return nil, newErr(KindInitialization, "sql adapter: failed to open gorm session", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &sqlAdapter{
		db:                opts.DB,
		gormDB:            gormDB,
		dialect:           dialect,
		tableName:         tableName,
		migrationsTN:      migrationsTN,
		encryptionEnabled: opts.EncryptionEnabled,
		ftsEnabled:        dialect == "sqlite" && !opts.EncryptionEnabled,
		automigrate:       opts.AutomigrateEnabled,
		debugEnabled:      opts.DebugEnabled,
		logger:            logger,
	}, nil
}

func (s *sqlAdapter) logSQL(query string) {
	if s.debugEnabled {
		log.Println(query)
	}
}

// initialize sets the SQLite pragmas of spec §4.3 and, when automigrate
// is enabled, runs the schema migration and then wires the FTS5 shadow
// table if the backend is SQLite with encryption off.
func (s *sqlAdapter) initialize(ctx context.Context) error {
	if s.dialect == "sqlite" {
		if err := s.applyPragmas(ctx); err != nil {
			return newErr(KindInitialization, "failed applying sqlite pragmas", err)
		}
	}

	if !s.automigrate {
		return nil
	}

	if err := s.autoMigrate(ctx); err != nil {
		return newErr(KindInitialization, "auto migration failed", err)
	}

	if s.ftsEnabled {
		if err := s.setupFTS(ctx); err != nil {
			return newErr(KindInitialization, "fts setup failed", err)
		}
	}

	return nil
}

// applyPragmas sets the durability/performance pragmas spec §4.3
// names. busy_timeout guards against SQLITE_BUSY under the
// concurrent writers the cache sweep and query planner both create.
func (s *sqlAdapter) applyPragmas(ctx context.Context) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA cache_size=-16000",
		"PRAGMA temp_store=MEMORY",
		"PRAGMA mmap_size=268435456",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=30000",
	}
	for _, p := range pragmas {
		s.logSQL(p)
		if _, err := s.db.ExecContext(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

func (s *sqlAdapter) autoMigrate(ctx context.Context) error {
	tx := s.gormDB.WithContext(ctx)
	if err := tx.Table(s.tableName).AutoMigrate(&gormStorageRow{}); err != nil {
		return err
	}
	if err := tx.Table(s.migrationsTN).AutoMigrate(&gormMigrationRow{}); err != nil {
		return err
	}
	return nil
}

// setupFTS creates an FTS5 virtual table mirroring the value column
// and triggers that keep it synchronised, per spec §4.3. It is
// skipped entirely when encryption is on, since ciphertext indexed
// for full-text search would leak nothing useful and would grow the
// database for no benefit.
func (s *sqlAdapter) setupFTS(ctx context.Context) error {
	ddl := []string{
		fmt.Sprintf(`CREATE VIRTUAL TABLE IF NOT EXISTS %s_fts USING fts5(key, value, content='%s', content_rowid='id')`, s.tableName, s.tableName),
		fmt.Sprintf(`CREATE TRIGGER IF NOT EXISTS %s_fts_ai AFTER INSERT ON %s BEGIN
			INSERT INTO %s_fts(rowid, key, value) VALUES (new.id, new.key, new.value);
		END`, s.tableName, s.tableName, s.tableName),
		fmt.Sprintf(`CREATE TRIGGER IF NOT EXISTS %s_fts_ad AFTER DELETE ON %s BEGIN
			INSERT INTO %s_fts(%s_fts, rowid, key, value) VALUES ('delete', old.id, old.key, old.value);
		END`, s.tableName, s.tableName, s.tableName, s.tableName),
		fmt.Sprintf(`CREATE TRIGGER IF NOT EXISTS %s_fts_au AFTER UPDATE ON %s BEGIN
			INSERT INTO %s_fts(%s_fts, rowid, key, value) VALUES ('delete', old.id, old.key, old.value);
			INSERT INTO %s_fts(rowid, key, value) VALUES (new.id, new.key, new.value);
		END`, s.tableName, s.tableName, s.tableName, s.tableName, s.tableName),
	}
	for _, stmt := range ddl {
		s.logSQL(stmt)
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *sqlAdapter) close(ctx context.Context) error {
	if s.dialect == "sqlite" {
		s.logSQL("PRAGMA optimize")
		_, _ = s.db.ExecContext(ctx, "PRAGMA optimize")
	}
	// The *sql.DB itself is owned by the host (it was handed to us
	// already open, same as teacher's NewStoreOptions.DB); closing it
	// here would break other consumers sharing the connection pool.
	return nil
}

func (s *sqlAdapter) rowToRecord(row *gormStorageRow) (*StorageRecord, error) {
	meta := &Metadata{}
	if err := meta.UnmarshalJSON([]byte(row.Metadata)); err != nil {
		return nil, err
	}
	return &StorageRecord{Value: row.Value, Metadata: meta}, nil
}

func (s *sqlAdapter) recordToRow(key string, rec *StorageRecord) (*gormStorageRow, error) {
	metaJSON, err := rec.Metadata.MarshalJSON()
	if err != nil {
		return nil, err
	}
	namespace, _ := splitNamespace(key)
	return &gormStorageRow{
		Namespace:   namespace,
		Key:         key,
		Value:       rec.Value,
		Metadata:    string(metaJSON),
		CreatedAt:   rec.Metadata.CreatedAt(),
		UpdatedAt:   rec.Metadata.UpdatedAt(),
		AccessedAt:  rec.Metadata.AccessedAt(),
		AccessCount: rec.Metadata.AccessCount(),
	}, nil
}

func (s *sqlAdapter) getRaw(ctx context.Context, key string) (*StorageRecord, bool, error) {
	var row gormStorageRow
	err := s.gormDB.WithContext(ctx).Table(s.tableName).Where("key = ?", key).First(&row).Error
	if err != nil {
		if strings.Contains(err.Error(), "record not found") {
			return nil, false, nil
		}
		return nil, false, err
	}
	rec, err := s.rowToRecord(&row)
	if err != nil {
		return nil, false, err
	}
	return rec, true, nil
}

// setRaw upserts on the key column, the same "insert-or-update on
// conflict" semantics spec §4.3's prepared-statement discipline
// requires, via GORM's ON CONFLICT clause rather than a manual
// select-then-branch.
func (s *sqlAdapter) setRaw(ctx context.Context, key string, rec *StorageRecord) error {
	row, err := s.recordToRow(key, rec)
	if err != nil {
		return err
	}
	return s.gormDB.WithContext(ctx).Table(s.tableName).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"namespace", "value", "metadata", "updated_at", "accessed_at", "access_count",
		}),
	}).Create(row).Error
}

func (s *sqlAdapter) deleteRaw(ctx context.Context, key string) error {
	return s.gormDB.WithContext(ctx).Table(s.tableName).Where("key = ?", key).Delete(&gormStorageRow{}).Error
}

func (s *sqlAdapter) clearRaw(ctx context.Context) error {
	return s.gormDB.WithContext(ctx).Table(s.tableName).Where("1 = 1").Delete(&gormStorageRow{}).Error
}

func (s *sqlAdapter) listRaw(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	db := s.gormDB.WithContext(ctx).Table(s.tableName)
	if prefix != "" {
		db = db.Where("key LIKE ? ESCAPE '\\'", escapeLike(prefix)+"%")
	}
	if err := db.Order("key ASC").Pluck("key", &keys).Error; err != nil {
		return nil, err
	}
	return keys, nil
}

func (s *sqlAdapter) countRaw(ctx context.Context, prefix string) (int, error) {
	var count int64
	db := s.gormDB.WithContext(ctx).Table(s.tableName)
	if prefix != "" {
		db = db.Where("key LIKE ? ESCAPE '\\'", escapeLike(prefix)+"%")
	}
	if err := db.Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

func (s *sqlAdapter) hasRaw(ctx context.Context, key string) (bool, error) {
	var count int64
	err := s.gormDB.WithContext(ctx).Table(s.tableName).Where("key = ?", key).Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// sizeBytesRaw sums 2*(len(key)+len(value)+len(metadata)) in a single
// aggregate query rather than loading every row, since spec §4.3
// expects this to stay cheap even for large stores.
func (s *sqlAdapter) sizeBytesRaw(ctx context.Context) (int64, error) {
	var total sql.NullInt64
	expr := "SUM(2 * (length(key) + length(value) + length(metadata)))"
	if s.dialect == "mysql" {
		expr = "SUM(2 * (CHAR_LENGTH(`key`) + CHAR_LENGTH(value) + CHAR_LENGTH(metadata)))"
	} else if s.dialect == "postgres" {
		expr = "SUM(2 * (length(key) + length(value) + length(metadata)))"
	}
	err := s.gormDB.WithContext(ctx).Table(s.tableName).Select(expr).Row().Scan(&total)
	if err != nil {
		return 0, err
	}
	return total.Int64, nil
}

// updateAccessRaw is the dedicated statement spec §4.3 reserves for
// the access-metadata bump, kept out of the general setRaw path so a
// read never pays the cost of re-serialising value+metadata.
func (s *sqlAdapter) updateAccessRaw(ctx context.Context, key string, accessedAtMs int64) error {
	return s.gormDB.WithContext(ctx).Table(s.tableName).
		Where("key = ?", key).
		Updates(map[string]any{
			"accessed_at":  accessedAtMs,
			"access_count": gorm.Expr("access_count + 1"),
		}).Error
}

// getManyRaw fetches every requested key in one query and remaps the
// rows back onto the caller's key set, satisfying batchRawAdapter.
func (s *sqlAdapter) getManyRaw(ctx context.Context, keys []string) (map[string]*StorageRecord, error) {
	if len(keys) == 0 {
		return map[string]*StorageRecord{}, nil
	}
	var rows []gormStorageRow
	if err := s.gormDB.WithContext(ctx).Table(s.tableName).Where("key IN ?", keys).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[string]*StorageRecord, len(rows))
	for i := range rows {
		rec, err := s.rowToRecord(&rows[i])
		if err != nil {
			return nil, err
		}
		out[rows[i].Key] = rec
	}
	return out, nil
}

func (s *sqlAdapter) setManyRaw(ctx context.Context, values map[string]*StorageRecord) error {
	return s.gormDB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for key, rec := range values {
			row, err := s.recordToRow(key, rec)
			if err != nil {
				return err
			}
			if err := tx.Table(s.tableName).Clauses(clause.OnConflict{
				Columns: []clause.Column{{Name: "key"}},
				DoUpdates: clause.AssignmentColumns([]string{
					"namespace", "value", "metadata", "updated_at", "accessed_at", "access_count",
				}),
			}).Create(row).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// vacuum reclaims free pages; analyze refreshes the query planner's
// statistics. Nothing in the module calls them; neither runs
// automatically, since they can briefly lock the whole database.
func (s *sqlAdapter) vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

func (s *sqlAdapter) analyze(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "ANALYZE")
	return err
}

// stats reports the aggregate row/size counters spec §4.3's
// storage_stats table tracks.
func (s *sqlAdapter) stats(ctx context.Context) (map[string]int64, error) {
	var rowCount int64
	if err := s.gormDB.WithContext(ctx).Table(s.tableName).Count(&rowCount).Error; err != nil {
		return nil, err
	}
	sizeBytes, err := s.sizeBytesRaw(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]int64{"row_count": rowCount, "size_bytes": sizeBytes}, nil
}

// escapeLike escapes the SQL LIKE wildcards that may be embedded in a
// caller-supplied key prefix, so a key containing "%" or "_" doesn't
// turn into an unintended wildcard scan.
func escapeLike(s string) string {
	replacer := strings.NewReplacer("\\", "\\\\", "%", "\\%", "_", "\\_")
	return replacer.Replace(s)
}

var _ rawAdapter = (*sqlAdapter)(nil)
var _ batchRawAdapter = (*sqlAdapter)(nil)
