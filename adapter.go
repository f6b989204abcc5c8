package kvengine

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"

	"github.com/corevault/kvengine/cache"
	"github.com/corevault/kvengine/compress"
	kcrypto "github.com/corevault/kvengine/crypto"
)

// reservedEncryptionSaltKey holds the salt used to derive the core
// store's single encryption key. The wire shape of EncryptedData
// (spec §6) carries no salt field, which only works if every record
// in a given store shares one key; this reserved key is where that
// key's salt is persisted across restarts, the same "reserved key as
// a system row" idiom the vault uses for its own "encryption-key"
// (spec §4.10).
const reservedEncryptionSaltKey = "__encryption_salt__"

// rawAdapter is the minimal persistence capability of Design Note §9:
// memoryAdapter and sqlAdapter implement only this; baseAdapter
// supplies the pipeline (serialise/compress/encrypt, validation,
// cache integration) once, on top of whichever raw adapter it wraps.
type rawAdapter interface {
	initialize(ctx context.Context) error
	close(ctx context.Context) error

	getRaw(ctx context.Context, key string) (*StorageRecord, bool, error)
	setRaw(ctx context.Context, key string, rec *StorageRecord) error
	deleteRaw(ctx context.Context, key string) error
	clearRaw(ctx context.Context) error
	listRaw(ctx context.Context, prefix string) ([]string, error)
	countRaw(ctx context.Context, prefix string) (int, error)
	hasRaw(ctx context.Context, key string) (bool, error)
	sizeBytesRaw(ctx context.Context) (int64, error)

	// updateAccessRaw bumps accessed_at/access_count without
	// rewriting the value; skipped entirely when encryption is on
	// (spec §3: "accessed_at updates... are skipped whenever
	// encryption is on, to avoid write amplification into FTS
	// triggers").
	updateAccessRaw(ctx context.Context, key string, accessedAtMs int64) error
}

// batchRawAdapter is the optional batch-hook capability of Design
// Note §9. sqlAdapter implements it (single transaction, single IN
// query); memoryAdapter does not, so baseAdapter falls back to
// looping per key.
type batchRawAdapter interface {
	getManyRaw(ctx context.Context, keys []string) (map[string]*StorageRecord, error)
	setManyRaw(ctx context.Context, values map[string]*StorageRecord) error
}

// Maybe represents a possibly-absent value, used by GetMany so the
// result map can carry exactly one entry per requested key even when
// some keys are missing, per spec §4.1's batch-completeness contract.
type Maybe struct {
	Value any
	Found bool
}

// StorageAdapter is the adapter-agnostic storage API of spec §4.1.
type StorageAdapter interface {
	Initialize(ctx context.Context) error
	Close(ctx context.Context) error

	Get(ctx context.Context, key string) (any, bool, error)
	Set(ctx context.Context, key string, value any) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error

	GetMany(ctx context.Context, keys []string) (map[string]Maybe, error)
	SetMany(ctx context.Context, values map[string]any) error

	List(ctx context.Context, prefix string) ([]string, error)
	Count(ctx context.Context, prefix string) (int, error)
	Has(ctx context.Context, key string) (bool, error)
	SizeBytes(ctx context.Context) (int64, error)
}

// baseAdapter implements StorageAdapter's pipeline over any rawAdapter,
// per Design Note §9: "the abstract base behaviour... belongs to a
// single composable type that wraps a minimal raw storage capability."
type baseAdapter struct {
	raw rawAdapter

	compression *compress.Service
	encryption  *kcrypto.Service
	passphrase  string // set only when encryption is enabled
	encKey      []byte // resolved once in Initialize when encryption is enabled
	encPassSalt []byte

	cache *cache.Cache

	nowMs func() int64
}

func (a *baseAdapter) Initialize(ctx context.Context) error {
	if err := a.raw.initialize(ctx); err != nil {
		return newErr(KindInitialization, "adapter initialization failed", err)
	}

	if a.encryption != nil {
		if err := a.bootstrapEncryptionKey(ctx); err != nil {
			return err
		}
	}

	return nil
}

func (a *baseAdapter) bootstrapEncryptionKey(ctx context.Context) error {
	rec, found, err := a.raw.getRaw(ctx, reservedEncryptionSaltKey)
	if err != nil {
		return newErr(KindInitialization, "failed reading encryption salt", err)
	}

	var salt []byte
	if found {
		salt, err = base64.StdEncoding.DecodeString(rec.Value)
		if err != nil {
			return newErr(KindKeyDerivationFailed, "stored encryption salt is corrupt", err)
		}
	} else {
		salt, err = kcrypto.RandomBytes(kcrypto.KDFSaltLength)
		if err != nil {
			return newErr(KindKeyDerivationFailed, "failed generating encryption salt", err)
		}
		meta := NewMetadata(a.now())
		if err := a.raw.setRaw(ctx, reservedEncryptionSaltKey, &StorageRecord{
			Value:    base64.StdEncoding.EncodeToString(salt),
			Metadata: meta,
		}); err != nil {
			return newErr(KindInitialization, "failed persisting encryption salt", err)
		}
	}

	key, err := a.encryption.DeriveKey(a.passphrase, salt)
	if err != nil {
		return newErr(KindKeyDerivationFailed, "failed deriving encryption key", err)
	}

	a.encPassSalt = salt
	a.encKey = key
	return nil
}

func (a *baseAdapter) Close(ctx context.Context) error {
	if a.cache != nil {
		a.cache.Close()
	}
	if err := a.raw.close(ctx); err != nil {
		return newErr(KindDatabase, "adapter close failed", err)
	}
	return nil
}

func (a *baseAdapter) now() int64 {
	if a.nowMs != nil {
		return a.nowMs()
	}
	return defaultNowMs()
}

// Get implements the pipeline of spec §4.1's inverse order: cache
// lookup, raw read, decrypt, decompress, JSON-parse, cache insert,
// access-metadata bump.
func (a *baseAdapter) Get(ctx context.Context, key string) (any, bool, error) {
	if err := validateKey(key); err != nil {
		return nil, false, err
	}

	if a.cache != nil {
		if v, ok := a.cache.Get(key); ok {
			return v, true, nil
		}
	}

	rec, found, err := a.raw.getRaw(ctx, key)
	if err != nil {
		return nil, false, newErr(KindDatabase, "raw read failed", err)
	}
	if !found {
		return nil, false, nil
	}

	value, err := a.decodeRecord(rec)
	if err != nil {
		return nil, false, err
	}

	if a.cache != nil {
		a.cache.Set(key, value)
	}

	if !rec.Metadata.Encrypted() {
		// Skipped when encrypted, per spec §3, to avoid write
		// amplification into FTS triggers. The raw adapter owns the
		// actual bump so there is exactly one write path per backend
		// (memoryAdapter mutates its stored Metadata in place;
		// sqlAdapter issues its dedicated prepared statement).
		_ = a.raw.updateAccessRaw(ctx, key, a.now())
	}

	return value, true, nil
}

func (a *baseAdapter) decodeRecord(rec *StorageRecord) (any, error) {
	payload := rec.Value

	if rec.Metadata.Encrypted() {
		var enc kcrypto.EncryptedData
		if err := json.Unmarshal([]byte(payload), &enc); err != nil {
			return nil, newErr(KindDataCorruption, "stored ciphertext is not valid JSON", err)
		}
		plaintext, err := kcrypto.DecryptWithKey(&enc, a.encKey)
		if err != nil {
			if isAuthFailure(err) {
				return nil, newErr(KindAuthenticationFail, "ciphertext failed authentication", err)
			}
			return nil, newErr(KindDecryptionFailed, "decryption failed", err)
		}
		payload = string(plaintext)
	}

	if rec.Metadata.Compressed() {
		raw, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return nil, newErr(KindDataCorruption, "stored compressed payload is not valid base64", err)
		}
		out, err := a.compression.Decompress(raw, compress.Algorithm(rec.Metadata.CompressionAlgorithm()))
		if err != nil {
			return nil, newErr(KindDecompressionFailed, "decompression failed", err)
		}
		payload = string(out)
	}

	var value any
	if err := json.Unmarshal([]byte(payload), &value); err != nil {
		return nil, newErr(KindSerialization, "stored value is not valid JSON", err)
	}
	return value, nil
}

// Set implements the pipeline of spec §4.1: serialise, compress,
// encrypt, persist, cache.
func (a *baseAdapter) Set(ctx context.Context, key string, value any) error {
	if err := validateKey(key); err != nil {
		return err
	}

	rec, err := a.encodeRecord(value)
	if err != nil {
		return err
	}

	if err := a.raw.setRaw(ctx, key, rec); err != nil {
		return newErr(KindDatabase, "raw write failed", err)
	}

	if a.cache != nil {
		a.cache.Set(key, value)
	}

	return nil
}

func (a *baseAdapter) encodeRecord(value any) (*StorageRecord, error) {
	s, err := json.Marshal(value)
	if err != nil {
		return nil, newErr(KindSerialization, "failed to serialise value", err)
	}

	meta := NewMetadata(a.now())
	meta.SetOriginalSize(len(s))
	payload := string(s)

	if a.compression != nil && a.compression.Enabled {
		result := a.compression.Compress(s, a.compression.PreferredAlgorithm)
		if result.Compressed {
			meta.SetCompression(CompressionAlgorithm(result.Algorithm), result.CompressedSize)
			payload = base64.StdEncoding.EncodeToString(result.Data)
		}
	}

	if a.encryption != nil {
		enc, err := a.encryption.EncryptWithKey([]byte(payload), a.encKey)
		if err != nil {
			return nil, newErr(KindEncryptionFailed, "encryption failed", err)
		}
		enc.Compressed = false // compression already folded in above, per spec §4.5
		enc.OriginalSize = meta.OriginalSize()
		encJSON, err := json.Marshal(enc)
		if err != nil {
			return nil, newErr(KindSerialization, "failed to serialise ciphertext container", err)
		}
		payload = string(encJSON)
		meta.SetEncrypted(true)
	}

	return &StorageRecord{Value: payload, Metadata: meta}, nil
}

func (a *baseAdapter) Delete(ctx context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if err := a.raw.deleteRaw(ctx, key); err != nil {
		return newErr(KindDatabase, "raw delete failed", err)
	}
	if a.cache != nil {
		a.cache.Delete(key)
	}
	return nil
}

func (a *baseAdapter) Clear(ctx context.Context) error {
	if err := a.raw.clearRaw(ctx); err != nil {
		return newErr(KindDatabase, "raw clear failed", err)
	}
	if a.cache != nil {
		a.cache.Clear()
	}
	return nil
}

// GetMany returns a map whose key set equals keys exactly, per §4.1's
// batch-completeness contract; it uses the raw adapter's batch hook
// when available.
func (a *baseAdapter) GetMany(ctx context.Context, keys []string) (map[string]Maybe, error) {
	result := make(map[string]Maybe, len(keys))

	if batch, ok := a.raw.(batchRawAdapter); ok {
		recs, err := batch.getManyRaw(ctx, keys)
		if err != nil {
			return nil, newErr(KindDatabase, "batch read failed", err)
		}
		for _, key := range keys {
			rec, found := recs[key]
			if !found {
				result[key] = Maybe{Found: false}
				continue
			}
			value, err := a.decodeRecord(rec)
			if err != nil {
				return nil, err
			}
			result[key] = Maybe{Value: value, Found: true}
			if a.cache != nil {
				a.cache.Set(key, value)
			}
		}
		return result, nil
	}

	for _, key := range keys {
		value, found, err := a.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		result[key] = Maybe{Value: value, Found: found}
	}
	return result, nil
}

// SetMany writes every entry in values. On backends with transaction
// support this is atomic; otherwise it is best-effort and halts on
// the first error, per §4.1/§5.
func (a *baseAdapter) SetMany(ctx context.Context, values map[string]any) error {
	records := make(map[string]*StorageRecord, len(values))
	for key, value := range values {
		if err := validateKey(key); err != nil {
			return err
		}
		rec, err := a.encodeRecord(value)
		if err != nil {
			return err
		}
		records[key] = rec
	}

	if batch, ok := a.raw.(batchRawAdapter); ok {
		if err := batch.setManyRaw(ctx, records); err != nil {
			return newErr(KindDatabase, "batch write failed", err)
		}
	} else {
		for key, rec := range records {
			if err := a.raw.setRaw(ctx, key, rec); err != nil {
				return newErr(KindDatabase, "raw write failed", err)
			}
		}
	}

	if a.cache != nil {
		for key, value := range values {
			a.cache.Set(key, value)
		}
	}
	return nil
}

func (a *baseAdapter) List(ctx context.Context, prefix string) ([]string, error) {
	keys, err := a.raw.listRaw(ctx, prefix)
	if err != nil {
		return nil, newErr(KindDatabase, "list failed", err)
	}
	return keys, nil
}

func (a *baseAdapter) Count(ctx context.Context, prefix string) (int, error) {
	n, err := a.raw.countRaw(ctx, prefix)
	if err != nil {
		return 0, newErr(KindDatabase, "count failed", err)
	}
	return n, nil
}

func (a *baseAdapter) Has(ctx context.Context, key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}
	ok, err := a.raw.hasRaw(ctx, key)
	if err != nil {
		return false, newErr(KindDatabase, "has failed", err)
	}
	return ok, nil
}

func (a *baseAdapter) SizeBytes(ctx context.Context) (int64, error) {
	n, err := a.raw.sizeBytesRaw(ctx)
	if err != nil {
		return 0, newErr(KindDatabase, "size estimate failed", err)
	}
	return n, nil
}

func isAuthFailure(err error) bool {
	return err != nil && strings.Contains(err.Error(), "authentication_failed")
}
