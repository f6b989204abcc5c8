package kvengine

import "fmt"

// Kind classifies a failure so callers can branch on it without
// parsing error strings.
type Kind string

const (
	KindInvalidKey          Kind = "invalid_key"
	KindInitialization      Kind = "initialization"
	KindDatabase            Kind = "database"
	KindSerialization       Kind = "serialization"
	KindCompressionFailed   Kind = "compression_failed"
	KindDecompressionFailed Kind = "decompression_failed"
	KindUnsupportedAlgo     Kind = "unsupported_algorithm"
	KindDataCorruption      Kind = "data_corruption"
	KindInvalidAlgorithm    Kind = "invalid_algorithm"
	KindEncryptionFailed    Kind = "encryption_failed"
	KindDecryptionFailed    Kind = "decryption_failed"
	KindKeyDerivationFailed Kind = "key_derivation_failed"
	KindAuthenticationFail  Kind = "authentication_failed"
	KindVaultError          Kind = "vault_error"
	KindMigrationError      Kind = "migration_error"
	KindQuotaExceeded       Kind = "quota_exceeded"
	KindPermissionDenied    Kind = "permission_denied"
)

// Error is the single fallible-result type used throughout the module.
// It always carries a machine-readable Kind; Cause, when present, is
// the underlying failure that triggered it.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is lets errors.Is(err, kvengine.ErrKind(KindInvalidKey)) style checks
// work alongside the usual sentinel comparisons.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// newErr builds an *Error, wrapping cause when non-nil.
func newErr(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// ErrKind constructs a bare sentinel of a given kind, useful with
// errors.Is at call sites that only care about the classification.
func ErrKind(kind Kind) error {
	return &Error{Kind: kind, Message: string(kind)}
}
