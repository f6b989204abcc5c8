package vault

import (
	"context"
	"encoding/json"
	"time"

	kcrypto "github.com/corevault/kvengine/crypto"
)

// RotateKeys decrypts every entry with the current keys and
// re-encrypts it under a freshly generated random vault key and a
// master key derived under a new salt,
// bumping key_version and last_rotation, per spec §4.10. This is the
// generalisation of teacher's store_bulk_rekey_methods.go loop from
// "re-key every token" to "re-key every vault entry."
func (v *Vault) RotateKeys(ctx context.Context, newPassphrase string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.rotateKeysLocked(ctx, newPassphrase)
}

func (v *Vault) rotateKeysLocked(ctx context.Context, newPassphrase string) error {
	passphrase := newPassphrase
	if passphrase == "" {
		passphrase = v.cfg.Passphrase
	}

	prefixed, err := v.adapter.List(ctx, v.cfg.Namespace+":")
	if err != nil {
		return vaultErr("vault_error", err)
	}

	newVaultKey, err := kcrypto.RandomKey()
	if err != nil {
		return vaultErr("key_derivation_failed", err)
	}
	newSalt, err := kcrypto.RandomBytes(kcrypto.KDFSaltLength)
	if err != nil {
		return vaultErr("key_derivation_failed", err)
	}
	newMasterKey, err := v.crypto.DeriveKey(passphrase, newSalt)
	if err != nil {
		return vaultErr("key_derivation_failed", err)
	}

	newVersion := v.keyVersion + 1

	for _, fullKey := range prefixed {
		key := stripNamespace(fullKey, v.cfg.Namespace)
		if reservedKeys[key] {
			continue
		}

		entry, found, err := v.loadEntry(ctx, key)
		if err != nil {
			return err
		}
		if !found {
			continue
		}

		value, err := v.decryptEntry(entry)
		if err != nil {
			return err
		}

		if err := v.reencryptEntry(ctx, key, entry, value, newVaultKey, newMasterKey, newVersion); err != nil {
			return err
		}
	}

	if err := v.adapter.Set(ctx, v.reserved(reservedVaultKey), encodeBase64(newVaultKey)); err != nil {
		return vaultErr("vault_error", err)
	}
	if err := v.adapter.Set(ctx, v.reserved(reservedMasterSalt), encodeBase64(newSalt)); err != nil {
		return vaultErr("vault_error", err)
	}
	if err := v.adapter.Set(ctx, v.reserved(reservedKeyVersion), newVersion); err != nil {
		return vaultErr("vault_error", err)
	}
	now := v.now()
	if err := v.adapter.Set(ctx, v.reserved(reservedLastRotate), now); err != nil {
		return vaultErr("vault_error", err)
	}

	zero(v.vaultKey)
	zero(v.masterKey)
	v.vaultKey = newVaultKey
	v.masterSalt = newSalt
	v.masterKey = newMasterKey
	v.keyVersion = newVersion
	v.lastRotation = now
	v.cfg.Passphrase = passphrase
	v.retiredMasterKeys = nil

	if v.cfg.AutoRotateKeys {
		v.scheduleRotationLocked()
	}

	return nil
}

func (v *Vault) reencryptEntry(ctx context.Context, key string, entry *Entry, value any, vaultKey, masterKey []byte, version int) error {
	plaintext, err := marshalValue(value)
	if err != nil {
		return vaultErr("serialization", err)
	}
	inner, err := v.crypto.EncryptWithKey(plaintext, vaultKey)
	if err != nil {
		return vaultErr("encryption_failed", err)
	}
	innerJSON, err := json.Marshal(inner)
	if err != nil {
		return vaultErr("serialization", err)
	}
	outer, err := v.crypto.EncryptWithKey(innerJSON, masterKey)
	if err != nil {
		return vaultErr("encryption_failed", err)
	}

	entry.Data = outer
	entry.KeyVersion = version
	if err := v.adapter.Set(ctx, v.namespacedKey(key), *entry); err != nil {
		return vaultErr("vault_error", err)
	}
	return nil
}

// RekeySubset re-encrypts only the listed keys under a master key
// derived from newPassphrase, per SPEC_FULL.md §10.2. The superseded
// master key is retained in memory as a decrypt fallback so entries
// outside the subset keep working until a later Store of that key or a
// full RotateKeys re-encrypts them (Retrieve decrypts through the
// fallback but does not re-encrypt) — the same "decrypt with old, skip if
// it doesn't match" posture as store_bulk_rekey_methods.go's scan.
func (v *Vault) RekeySubset(ctx context.Context, keys []string, newPassphrase string) (int, error) {
	if newPassphrase == "" {
		return 0, vaultErrf("vault_error", "new passphrase must not be empty")
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	newMasterKey, err := v.crypto.DeriveKey(newPassphrase, v.masterSalt)
	if err != nil {
		return 0, vaultErr("key_derivation_failed", err)
	}

	rekeyed := 0
	for _, key := range keys {
		if reservedKeys[key] {
			continue
		}
		entry, found, err := v.loadEntry(ctx, key)
		if err != nil {
			return rekeyed, err
		}
		if !found {
			continue
		}

		value, err := v.decryptEntry(entry)
		if err != nil {
			return rekeyed, err
		}

		if err := v.reencryptEntry(ctx, key, entry, value, v.vaultKey, newMasterKey, v.keyVersion); err != nil {
			return rekeyed, err
		}
		rekeyed++
	}

	const maxRetiredKeys = 5
	v.retiredMasterKeys = append([][]byte{v.masterKey}, v.retiredMasterKeys...)
	if len(v.retiredMasterKeys) > maxRetiredKeys {
		v.retiredMasterKeys = v.retiredMasterKeys[:maxRetiredKeys]
	}
	v.masterKey = newMasterKey
	v.cfg.Passphrase = newPassphrase

	return rekeyed, nil
}

// scheduleRotationLocked arms the timer-based auto-rotation of spec
// §4.10; caller must hold v.mu.
func (v *Vault) scheduleRotationLocked() {
	if v.rotationTimer != nil {
		v.rotationTimer.Stop()
	}
	v.rotationTimer = time.AfterFunc(v.cfg.KeyRotationInterval, func() {
		v.mu.Lock()
		defer v.mu.Unlock()
		if v.closed {
			return
		}
		_ = v.rotateKeysLocked(context.Background(), "")
	})
}

func stripNamespace(fullKey, namespace string) string {
	prefix := namespace + ":"
	if len(fullKey) > len(prefix) && fullKey[:len(prefix)] == prefix {
		return fullKey[len(prefix):]
	}
	return fullKey
}
