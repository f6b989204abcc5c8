package vault

import "github.com/google/uuid"

// audit appends an entry to the in-memory audit log, trimmed to
// MaxAccessLogSize, per spec §4.10. Caller must hold v.mu, except
// where noted.
func (v *Vault) audit(key, action string) {
	if !v.cfg.AuditEnabled {
		return
	}
	v.auditLog = append(v.auditLog, AuditEntry{ID: uuid.NewString(), Key: key, Action: action, Timestamp: v.now()})
	if len(v.auditLog) > v.cfg.MaxAccessLogSize {
		v.auditLog = v.auditLog[len(v.auditLog)-v.cfg.MaxAccessLogSize:]
	}
}

// AuditLog returns a copy of the current audit log.
func (v *Vault) AuditLog() []AuditEntry {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]AuditEntry, len(v.auditLog))
	copy(out, v.auditLog)
	return out
}
