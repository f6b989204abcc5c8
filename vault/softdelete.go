package vault

import "context"

// SoftDelete tombstones key instead of removing it outright, per
// SPEC_FULL.md §10.1. Retrieve and Has already treat a nonzero
// SoftDeletedAt as absent.
func (v *Vault) SoftDelete(ctx context.Context, key string) error {
	if reservedKeys[key] {
		return vaultErrf("vault_error", "key is reserved")
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	entry, found, err := v.loadEntry(ctx, key)
	if err != nil {
		return err
	}
	if !found {
		return vaultErrf("vault_error", "key not found")
	}

	entry.SoftDeletedAt = v.now()
	if err := v.adapter.Set(ctx, v.namespacedKey(key), *entry); err != nil {
		return vaultErr("vault_error", err)
	}
	v.audit(key, "soft_delete")
	return nil
}

// Restore clears a tombstone set by SoftDelete, making the entry
// visible to Retrieve/Has again. ListKeys does not check tombstones and
// lists soft-deleted keys as well.
func (v *Vault) Restore(ctx context.Context, key string) error {
	if reservedKeys[key] {
		return vaultErrf("vault_error", "key is reserved")
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	entry, found, err := v.loadEntry(ctx, key)
	if err != nil {
		return err
	}
	if !found {
		return vaultErrf("vault_error", "key not found")
	}

	entry.SoftDeletedAt = 0
	if err := v.adapter.Set(ctx, v.namespacedKey(key), *entry); err != nil {
		return vaultErr("vault_error", err)
	}
	v.audit(key, "restore")
	return nil
}

// PurgeExpired permanently removes every soft-deleted entry whose
// tombstone is older than graceMs milliseconds, returning the
// count removed. A graceMs of zero purges every tombstoned
// entry regardless of age.
func (v *Vault) PurgeExpired(ctx context.Context, graceMs int64) (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	prefixed, err := v.adapter.List(ctx, v.cfg.Namespace+":")
	if err != nil {
		return 0, vaultErr("vault_error", err)
	}

	now := v.now()
	purged := 0
	for _, fullKey := range prefixed {
		key := stripNamespace(fullKey, v.cfg.Namespace)
		if reservedKeys[key] {
			continue
		}
		entry, found, err := v.loadEntry(ctx, key)
		if err != nil {
			return purged, err
		}
		if !found || entry.SoftDeletedAt == 0 {
			continue
		}
		if graceMs > 0 && now-entry.SoftDeletedAt < graceMs {
			continue
		}
		if err := v.adapter.Delete(ctx, v.namespacedKey(key)); err != nil {
			return purged, vaultErr("vault_error", err)
		}
		purged++
	}
	v.audit("*", "purge_expired")
	return purged, nil
}
