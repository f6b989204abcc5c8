// Package crypto implements the encryption service of spec §4.5: a
// Argon2id key derivation function feeding an AEAD cipher
// (AES-256-GCM by default, ChaCha20-Poly1305 optionally), plus the
// field-level encryption helpers and the passphrase strength
// analyser. It has no dependency on the root kvengine package so it
// can be used standalone.
package crypto

import (
	cryptorand "crypto/rand"
	"encoding/hex"
	"io"
	"sync"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters, identical to dracory/vaultstore's constants.go
// (ARGON2_ITERATIONS/MEMORY/PARALLELISM/KEY_LENGTH) — spec §4.5
// independently specifies the same numbers.
const (
	KDFIterations  = 3
	KDFMemoryKiB   = 64 * 1024
	KDFParallelism = 4
	KDFKeyLength   = 32
	KDFSaltLength  = 32
)

// DerivedKey is the output of the KDF: raw key material plus the salt
// and parameters used to produce it.
type DerivedKey struct {
	Key    []byte
	Salt   []byte
	Params KDFParams
}

// KDFParams records the Argon2id tuning used for a derivation, so a
// stored record can be verified against whatever parameters produced
// it even if the service's defaults change later.
type KDFParams struct {
	Iterations  uint32
	MemoryKiB   uint32
	Parallelism uint8
	KeyLength   uint32
}

func defaultParams() KDFParams {
	return KDFParams{
		Iterations:  KDFIterations,
		MemoryKiB:   KDFMemoryKiB,
		Parallelism: KDFParallelism,
		KeyLength:   KDFKeyLength,
	}
}

// KeyDeriver derives AEAD keys from passphrases and caches the result
// by (passphrase, salt) for the lifetime of the service instance. Per
// Design Note §9 this cache is never a package-level global — each
// Service owns its own.
type KeyDeriver struct {
	mu    sync.Mutex
	cache map[string]DerivedKey
}

// NewKeyDeriver constructs an empty, per-instance derivation cache.
func NewKeyDeriver() *KeyDeriver {
	return &KeyDeriver{cache: make(map[string]DerivedKey)}
}

// Derive produces a 32-byte key from passphrase and salt via Argon2id.
// A nil salt generates a fresh CSPRNG salt. Repeated calls with the
// same (passphrase, salt) hit the cache.
func (d *KeyDeriver) Derive(passphrase string, salt []byte) (DerivedKey, error) {
	if salt == nil {
		var err error
		salt, err = RandomBytes(KDFSaltLength)
		if err != nil {
			return DerivedKey{}, err
		}
	}

	cacheKey := passphrase + "\x00" + hex.EncodeToString(salt)

	d.mu.Lock()
	if cached, ok := d.cache[cacheKey]; ok {
		d.mu.Unlock()
		return cached, nil
	}
	d.mu.Unlock()

	params := defaultParams()
	key := argon2.IDKey([]byte(passphrase), salt, params.Iterations, params.MemoryKiB, params.Parallelism, params.KeyLength)

	derived := DerivedKey{Key: key, Salt: salt, Params: params}

	d.mu.Lock()
	d.cache[cacheKey] = derived
	d.mu.Unlock()

	return derived, nil
}

// RandomBytes returns n cryptographically secure random bytes, used
// both for KDF salts and for the random-key helper of spec §4.5.
func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(cryptorand.Reader, b); err != nil {
		return nil, err
	}
	return b, nil
}

// RandomKey returns 32 bytes of CSPRNG output, spec §4.5's "random key
// helper".
func RandomKey() ([]byte, error) {
	return RandomBytes(32)
}
