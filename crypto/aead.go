package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// Algorithm is the AEAD cipher used to produce an EncryptedData
// container.
type Algorithm string

const (
	AlgoAESGCM           Algorithm = "aes-256-gcm"
	AlgoChaCha20Poly1305 Algorithm = "chacha20-poly1305"
)

// ivLength is the IV spec.md §4.5/§9 commits to: 16 random bytes are
// generated per encryption regardless of what the underlying AEAD
// primitive nominally expects, then truncated to the primitive's
// actual nonce size before sealing. AES-GCM and ChaCha20-Poly1305 both
// take a 12-byte nonce; the extra 4 bytes of the 16-byte IV are
// reported on the wire but not fed to the cipher, satisfying the
// spec's "16-byte IV" wire contract without a non-standard nonce size.
const ivLength = 16

// EncryptedData is the wire-identical container of spec §6.
type EncryptedData struct {
	Data         string    `json:"data"`
	IV           string    `json:"iv"`
	AuthTag      string    `json:"authTag"`
	Algorithm    Algorithm `json:"algorithm"`
	Compressed   bool      `json:"compressed"`
	OriginalSize int       `json:"originalSize"`
}

// Service is the encryption service (C3): it derives keys and
// performs AEAD encrypt/decrypt, field-level encryption, ciphertext
// detection, and passphrase strength analysis.
type Service struct {
	deriver   *KeyDeriver
	algorithm Algorithm
}

// NewService constructs an encryption service using the given default
// algorithm (AES-256-GCM when empty).
func NewService(algorithm Algorithm) *Service {
	if algorithm == "" {
		algorithm = AlgoAESGCM
	}
	return &Service{deriver: NewKeyDeriver(), algorithm: algorithm}
}

func aeadFor(algorithm Algorithm, key []byte) (cipher.AEAD, error) {
	switch algorithm {
	case AlgoChaCha20Poly1305:
		return chacha20poly1305.New(key)
	case AlgoAESGCM, "":
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, err
		}
		return cipher.NewGCM(block)
	default:
		return nil, fmt.Errorf("unsupported algorithm %q", algorithm)
	}
}

// DeriveKey derives and returns just the key material for
// passphrase+salt, for callers (such as the root adapter and the
// vault) that need to hold onto a stable key across many
// Encrypt/DecryptWithKey calls instead of re-deriving per call.
func (s *Service) DeriveKey(passphrase string, salt []byte) ([]byte, error) {
	derived, err := s.deriver.Derive(passphrase, salt)
	if err != nil {
		return nil, err
	}
	return derived.Key, nil
}

// Encrypt derives a key from passphrase+salt (a fresh salt is
// generated when salt is nil) and seals plaintext, returning the wire
// container. The derived key's salt is not carried on the container
// itself — callers that need to re-derive must already know the salt
// (the vault stores it alongside the master key, per §4.10).
func (s *Service) Encrypt(plaintext []byte, passphrase string, salt []byte) (*EncryptedData, error) {
	derived, err := s.deriver.Derive(passphrase, salt)
	if err != nil {
		return nil, fmt.Errorf("key_derivation_failed: %w", err)
	}
	return s.EncryptWithKey(plaintext, derived.Key)
}

// EncryptWithKey seals plaintext under an already-derived key,
// generating a fresh IV.
func (s *Service) EncryptWithKey(plaintext []byte, key []byte) (*EncryptedData, error) {
	aead, err := aeadFor(s.algorithm, key)
	if err != nil {
		return nil, fmt.Errorf("encryption_failed: %w", err)
	}

	iv, err := RandomBytes(ivLength)
	if err != nil {
		return nil, fmt.Errorf("encryption_failed: %w", err)
	}
	nonce := iv[:aead.NonceSize()]

	sealed := aead.Seal(nil, nonce, plaintext, nil)
	tagSize := aead.Overhead()
	ciphertext := sealed[:len(sealed)-tagSize]
	tag := sealed[len(sealed)-tagSize:]

	return &EncryptedData{
		Data:         base64.StdEncoding.EncodeToString(ciphertext),
		IV:           base64.StdEncoding.EncodeToString(iv),
		AuthTag:      base64.StdEncoding.EncodeToString(tag),
		Algorithm:    s.algorithm,
		Compressed:   false,
		OriginalSize: len(plaintext),
	}, nil
}

// Decrypt inverts Encrypt: it derives the key from passphrase+salt and
// opens the container.
func (s *Service) Decrypt(enc *EncryptedData, passphrase string, salt []byte) ([]byte, error) {
	derived, err := s.deriver.Derive(passphrase, salt)
	if err != nil {
		return nil, fmt.Errorf("key_derivation_failed: %w", err)
	}
	return DecryptWithKey(enc, derived.Key)
}

// DecryptWithKey inverts EncryptWithKey.
func DecryptWithKey(enc *EncryptedData, key []byte) ([]byte, error) {
	if enc == nil || enc.Data == "" || enc.IV == "" || enc.AuthTag == "" || enc.Algorithm == "" {
		return nil, errors.New("decryption_failed: incomplete encrypted container")
	}

	iv, err := base64.StdEncoding.DecodeString(enc.IV)
	if err != nil {
		return nil, fmt.Errorf("decryption_failed: bad iv: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(enc.Data)
	if err != nil {
		return nil, fmt.Errorf("decryption_failed: bad data: %w", err)
	}
	tag, err := base64.StdEncoding.DecodeString(enc.AuthTag)
	if err != nil {
		return nil, fmt.Errorf("decryption_failed: bad auth tag: %w", err)
	}

	aead, err := aeadFor(enc.Algorithm, key)
	if err != nil {
		return nil, fmt.Errorf("decryption_failed: %w", err)
	}
	if len(iv) < aead.NonceSize() {
		return nil, errors.New("decryption_failed: iv too short")
	}
	nonce := iv[:aead.NonceSize()]

	sealed := append(append([]byte{}, ciphertext...), tag...)

	plaintext, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("authentication_failed: %w", err)
	}
	return plaintext, nil
}

// IsEncrypted is the structural check of spec §4.5: an object with
// the four required string fields.
func IsEncrypted(v any) bool {
	m, ok := v.(map[string]any)
	if !ok {
		b, err := json.Marshal(v)
		if err != nil {
			return false
		}
		if err := json.Unmarshal(b, &m); err != nil {
			return false
		}
	}
	for _, field := range []string{"data", "iv", "authTag", "algorithm"} {
		s, ok := m[field].(string)
		if !ok || s == "" {
			return false
		}
	}
	return true
}
