package vault

import (
	"context"
	"encoding/json"
	"strings"

	kcrypto "github.com/corevault/kvengine/crypto"
)

// Store double-encrypts value (inner with the vault key, outer with
// the passphrase-derived master key) and persists it, per spec
// §4.10's store() algorithm.
func (v *Vault) Store(ctx context.Context, key string, value any, metadata map[string]any) error {
	if reservedKeys[key] {
		return vaultErrf("vault_error", "key is reserved")
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	plaintext, err := marshalValue(value)
	if err != nil {
		return vaultErr("serialization", err)
	}

	inner, err := v.crypto.EncryptWithKey(plaintext, v.vaultKey)
	if err != nil {
		return vaultErr("encryption_failed", err)
	}
	innerJSON, err := json.Marshal(inner)
	if err != nil {
		return vaultErr("serialization", err)
	}

	outer, err := v.crypto.EncryptWithKey(innerJSON, v.masterKey)
	if err != nil {
		return vaultErr("encryption_failed", err)
	}

	now := v.now()
	entry := Entry{
		Data:         outer,
		CreatedAt:    now,
		LastAccessed: now,
		AccessCount:  0,
		KeyVersion:   v.keyVersion,
		Metadata:     metadata,
	}

	if err := v.adapter.Set(ctx, v.namespacedKey(key), entry); err != nil {
		return vaultErr("vault_error", err)
	}

	v.audit(key, "store")
	return nil
}

// decryptEntry opens the outer layer with masterKey (falling back
// through retiredMasterKeys for entries a RekeySubset call has not
// yet migrated) and the inner layer with vaultKey, returning the
// decoded value.
func (v *Vault) decryptEntry(entry *Entry) (any, error) {
	var innerJSON []byte
	var err error

	for _, key := range append([][]byte{v.masterKey}, v.retiredMasterKeys...) {
		innerJSON, err = kcrypto.DecryptWithKey(entry.Data, key)
		if err == nil {
			break
		}
	}
	if err != nil {
		if isAuthFailure(err) {
			return nil, vaultErr("authentication_failed", err)
		}
		return nil, vaultErr("decryption_failed", err)
	}

	var inner kcrypto.EncryptedData
	if err := json.Unmarshal(innerJSON, &inner); err != nil {
		return nil, vaultErr("data_corruption", err)
	}

	plaintext, err := kcrypto.DecryptWithKey(&inner, v.vaultKey)
	if err != nil {
		if isAuthFailure(err) {
			return nil, vaultErr("authentication_failed", err)
		}
		return nil, vaultErr("decryption_failed", err)
	}

	var value any
	if err := json.Unmarshal(plaintext, &value); err != nil {
		return nil, vaultErr("serialization", err)
	}
	return value, nil
}

// Retrieve inverts Store, refreshing last_accessed/access_count on
// the stored entry, per spec §4.10.
func (v *Vault) Retrieve(ctx context.Context, key string) (any, bool, error) {
	if reservedKeys[key] {
		return nil, false, vaultErrf("vault_error", "key is reserved")
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	entry, found, err := v.loadEntry(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if !found || entry.SoftDeletedAt != 0 {
		return nil, false, nil
	}

	value, err := v.decryptEntry(entry)
	if err != nil {
		return nil, false, err
	}

	entry.LastAccessed = v.now()
	entry.AccessCount++
	if err := v.adapter.Set(ctx, v.namespacedKey(key), *entry); err != nil {
		return nil, false, vaultErr("vault_error", err)
	}

	v.audit(key, "retrieve")
	return value, true, nil
}

func (v *Vault) loadEntry(ctx context.Context, key string) (*Entry, bool, error) {
	raw, found, err := v.adapter.Get(ctx, v.namespacedKey(key))
	if err != nil {
		return nil, false, vaultErr("vault_error", err)
	}
	if !found {
		return nil, false, nil
	}

	b, err := json.Marshal(raw)
	if err != nil {
		return nil, false, vaultErr("data_corruption", err)
	}
	var entry Entry
	if err := json.Unmarshal(b, &entry); err != nil {
		return nil, false, vaultErr("data_corruption", err)
	}
	return &entry, true, nil
}

// Has reports whether key exists (and is not soft-deleted) within the
// vault namespace.
func (v *Vault) Has(ctx context.Context, key string) (bool, error) {
	if reservedKeys[key] {
		return false, nil
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	entry, found, err := v.loadEntry(ctx, key)
	if err != nil {
		return false, err
	}
	return found && entry.SoftDeletedAt == 0, nil
}

// Delete removes key from the vault namespace.
func (v *Vault) Delete(ctx context.Context, key string) error {
	if reservedKeys[key] {
		return vaultErrf("vault_error", "key is reserved")
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.adapter.Delete(ctx, v.namespacedKey(key)); err != nil {
		return vaultErr("vault_error", err)
	}
	v.audit(key, "delete")
	return nil
}

// ListKeys returns every non-reserved key in the vault namespace, per
// spec §4.10.
func (v *Vault) ListKeys(ctx context.Context) ([]string, error) {
	prefixed, err := v.adapter.List(ctx, v.cfg.Namespace+":")
	if err != nil {
		return nil, vaultErr("vault_error", err)
	}
	keys := make([]string, 0, len(prefixed))
	prefix := v.cfg.Namespace + ":"
	for _, k := range prefixed {
		rest := strings.TrimPrefix(k, prefix)
		if reservedKeys[rest] {
			continue
		}
		keys = append(keys, rest)
	}
	return keys, nil
}

// Clear deletes every entry (reserved keys included) in the vault
// namespace.
func (v *Vault) Clear(ctx context.Context) error {
	prefixed, err := v.adapter.List(ctx, v.cfg.Namespace+":")
	if err != nil {
		return vaultErr("vault_error", err)
	}
	for _, k := range prefixed {
		if err := v.adapter.Delete(ctx, k); err != nil {
			return vaultErr("vault_error", err)
		}
	}
	return nil
}

func isAuthFailure(err error) bool {
	return err != nil && strings.Contains(err.Error(), "authentication_failed")
}
