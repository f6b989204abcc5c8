package kvengine

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/dracory/dataobject"
)

// MaxKeyLength is the hard ceiling on key length enforced by every
// adapter before any pipeline work begins.
const MaxKeyLength = 250

// DefaultNamespace is used when a key carries no "namespace:" prefix.
const DefaultNamespace = "default"

// MigrationsKey is the reserved key under which migration history is
// persisted by every adapter.
const MigrationsKey = "__migrations__"

// validateKey enforces the non-empty, <=250-byte contract shared by
// every adapter; it never partially validates.
func validateKey(key string) error {
	if key == "" {
		return newErr(KindInvalidKey, "key must not be empty", nil)
	}
	if len(key) > MaxKeyLength {
		return newErr(KindInvalidKey, "key exceeds maximum length of 250 bytes", nil)
	}
	return nil
}

// splitNamespace returns the namespace and the remainder of a key of
// the form "namespace:rest"; a key without a colon belongs to
// DefaultNamespace.
func splitNamespace(key string) (namespace, rest string) {
	if idx := strings.IndexByte(key, ':'); idx >= 0 {
		return key[:idx], key[idx+1:]
	}
	return DefaultNamespace, key
}

// CompressionAlgorithm enumerates the algorithms the compression
// service may choose between.
type CompressionAlgorithm string

const (
	AlgoGzip    CompressionAlgorithm = "gzip"
	AlgoDeflate CompressionAlgorithm = "deflate"
	AlgoLZ4     CompressionAlgorithm = "lz4"
	AlgoBrotli  CompressionAlgorithm = "brotli"
	AlgoNone    CompressionAlgorithm = "none"
	AlgoAuto    CompressionAlgorithm = "auto"
)

// Metadata is the record metadata described in spec §3. It is backed
// by a dataobject.DataObject the same way teacher's record/meta
// structs are. Access bumps persist only accessed_at/access_count
// through updateAccessRaw; setRaw always writes every column.
type Metadata struct {
	dataobject.DataObject
}

const (
	metaCreatedAt       = "created_at"
	metaUpdatedAt       = "updated_at"
	metaAccessedAt      = "accessed_at"
	metaAccessCount     = "access_count"
	metaOriginalSize    = "original_size"
	metaCompressed      = "compressed"
	metaCompressionAlgo = "compression_algorithm"
	metaCompressedSize  = "compressed_size"
	metaEncrypted       = "encrypted"
)

// NewMetadata builds a fresh Metadata stamped with the given epoch-ms
// creation time.
func NewMetadata(nowMs int64) *Metadata {
	m := &Metadata{}
	m.Set(metaCreatedAt, itoa64(nowMs))
	m.Set(metaUpdatedAt, itoa64(nowMs))
	m.Set(metaAccessedAt, itoa64(nowMs))
	m.Set(metaAccessCount, "0")
	m.Set(metaCompressed, "false")
	m.Set(metaCompressionAlgo, string(AlgoNone))
	m.Set(metaEncrypted, "false")
	return m
}

func (m *Metadata) CreatedAt() int64   { return atoi64(m.Get(metaCreatedAt)) }
func (m *Metadata) UpdatedAt() int64   { return atoi64(m.Get(metaUpdatedAt)) }
func (m *Metadata) AccessedAt() int64  { return atoi64(m.Get(metaAccessedAt)) }
func (m *Metadata) AccessCount() int64 { return atoi64(m.Get(metaAccessCount)) }
func (m *Metadata) OriginalSize() int  { return int(atoi64(m.Get(metaOriginalSize))) }
func (m *Metadata) Compressed() bool   { return m.Get(metaCompressed) == "true" }
func (m *Metadata) CompressionAlgorithm() CompressionAlgorithm {
	return CompressionAlgorithm(m.Get(metaCompressionAlgo))
}
func (m *Metadata) CompressedSize() int { return int(atoi64(m.Get(metaCompressedSize))) }
func (m *Metadata) Encrypted() bool     { return m.Get(metaEncrypted) == "true" }

func (m *Metadata) SetUpdatedAt(ms int64) *Metadata  { m.Set(metaUpdatedAt, itoa64(ms)); return m }
func (m *Metadata) SetAccessedAt(ms int64) *Metadata { m.Set(metaAccessedAt, itoa64(ms)); return m }
func (m *Metadata) BumpAccessCount() *Metadata {
	m.Set(metaAccessCount, itoa64(m.AccessCount()+1))
	return m
}
func (m *Metadata) SetOriginalSize(n int) *Metadata { m.Set(metaOriginalSize, itoa64(int64(n))); return m }
func (m *Metadata) SetCompression(algo CompressionAlgorithm, compressedSize int) *Metadata {
	if algo == AlgoNone || algo == "" {
		m.Set(metaCompressed, "false")
		m.Set(metaCompressionAlgo, string(AlgoNone))
		m.Set(metaCompressedSize, "0")
		return m
	}
	m.Set(metaCompressed, "true")
	m.Set(metaCompressionAlgo, string(algo))
	m.Set(metaCompressedSize, itoa64(int64(compressedSize)))
	return m
}
func (m *Metadata) SetEncrypted(v bool) *Metadata {
	if v {
		m.Set(metaEncrypted, "true")
	} else {
		m.Set(metaEncrypted, "false")
	}
	return m
}

// MarshalJSON renders Metadata as the flat JSON document described in
// spec §3, rather than the raw string-map dataobject carries.
func (m *Metadata) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{
		"created_at":            m.CreatedAt(),
		"updated_at":            m.UpdatedAt(),
		"accessed_at":           m.AccessedAt(),
		"access_count":          m.AccessCount(),
		"original_size":         m.OriginalSize(),
		"compressed":            m.Compressed(),
		"compression_algorithm": string(m.CompressionAlgorithm()),
		"compressed_size":       m.CompressedSize(),
		"encrypted":             m.Encrypted(),
	})
}

// UnmarshalJSON restores Metadata from the flat JSON document.
func (m *Metadata) UnmarshalJSON(data []byte) error {
	var raw struct {
		CreatedAt    int64  `json:"created_at"`
		UpdatedAt    int64  `json:"updated_at"`
		AccessedAt   int64  `json:"accessed_at"`
		AccessCount  int64  `json:"access_count"`
		OriginalSize int    `json:"original_size"`
		Compressed   bool   `json:"compressed"`
		CompAlgo     string `json:"compression_algorithm"`
		CompSize     int    `json:"compressed_size"`
		Encrypted    bool   `json:"encrypted"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	m.DataObject = dataobject.DataObject{}
	m.Set(metaCreatedAt, itoa64(raw.CreatedAt))
	m.Set(metaUpdatedAt, itoa64(raw.UpdatedAt))
	m.Set(metaAccessedAt, itoa64(raw.AccessedAt))
	m.Set(metaAccessCount, itoa64(raw.AccessCount))
	m.SetOriginalSize(raw.OriginalSize)
	m.SetCompression(CompressionAlgorithm(raw.CompAlgo), raw.CompSize)
	if !raw.Compressed {
		m.SetCompression(AlgoNone, 0)
	}
	m.SetEncrypted(raw.Encrypted)
	return nil
}

// StorageRecord is the (value_bytes, metadata) pair of spec §3.
type StorageRecord struct {
	Value    string
	Metadata *Metadata
}

func itoa64(n int64) string {
	return strconv.FormatInt(n, 10)
}

func atoi64(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}
