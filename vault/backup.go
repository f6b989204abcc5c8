package vault

import (
	"context"
	"encoding/json"

	kcrypto "github.com/corevault/kvengine/crypto"
	"github.com/dracory/uid"
)

// ExportBackup returns an EncryptedData container whose plaintext is
// the full set of stored VaultEntry records, keyed by their unprefixed
// name and encrypted with the vault key, per spec §4.10.
func (v *Vault) ExportBackup(ctx context.Context) (*kcrypto.EncryptedData, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	prefixed, err := v.adapter.List(ctx, v.cfg.Namespace+":")
	if err != nil {
		return nil, vaultErr("vault_error", err)
	}

	entries := make(map[string]Entry, len(prefixed))
	for _, fullKey := range prefixed {
		key := stripNamespace(fullKey, v.cfg.Namespace)
		if reservedKeys[key] {
			continue
		}
		entry, found, err := v.loadEntry(ctx, key)
		if err != nil {
			return nil, err
		}
		if !found {
			continue
		}
		entries[key] = *entry
	}

	plaintext, err := json.Marshal(entries)
	if err != nil {
		return nil, vaultErr("serialization", err)
	}

	enc, err := v.crypto.EncryptWithKey(plaintext, v.vaultKey)
	if err != nil {
		return nil, vaultErr("encryption_failed", err)
	}
	v.audit("backup:"+uid.HumanUid(), "export_backup")
	return enc, nil
}

// ImportBackup decrypts enc with the vault's current vault key and
// writes each entry directly into storage, per spec §4.10.
func (v *Vault) ImportBackup(ctx context.Context, enc *kcrypto.EncryptedData) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	plaintext, err := kcrypto.DecryptWithKey(enc, v.vaultKey)
	if err != nil {
		if isAuthFailure(err) {
			return vaultErr("authentication_failed", err)
		}
		return vaultErr("decryption_failed", err)
	}

	var entries map[string]Entry
	if err := json.Unmarshal(plaintext, &entries); err != nil {
		return vaultErr("data_corruption", err)
	}

	for key, entry := range entries {
		if reservedKeys[key] {
			continue
		}
		e := entry
		if err := v.adapter.Set(ctx, v.namespacedKey(key), e); err != nil {
			return vaultErr("vault_error", err)
		}
	}

	v.audit("*", "import_backup")
	return nil
}
