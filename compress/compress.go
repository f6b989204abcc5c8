// Package compress implements the compression service of spec §4.4:
// gzip/deflate (stdlib, mandatory) plus lz4 and brotli (optional,
// ecosystem), with algorithm auto-selection, a 1.5x expansion guard,
// entropy-based recommendation, and a benchmarking helper.
package compress

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"fmt"
	"io"

	"github.com/andybalholm/brotli"
	"github.com/pierrec/lz4/v4"
)

// Algorithm enumerates the compression algorithms the service can
// choose between.
type Algorithm string

const (
	Gzip    Algorithm = "gzip"
	Deflate Algorithm = "deflate"
	LZ4     Algorithm = "lz4"
	Brotli  Algorithm = "brotli"
	None    Algorithm = "none"
	Auto    Algorithm = "auto"
)

// autoSmallThreshold is the §4.4 cutover point between lz4 (fast, for
// small payloads) and brotli (denser, for larger ones) under "auto".
const autoSmallThreshold = 10 * 1024

// expansionGuard is the 1.5x ratio above which Compress discards its
// output and returns the identity result, per spec §4.4.
const expansionGuard = 1.5

// Result is the outcome of a Compress call.
type Result struct {
	Data           []byte
	Compressed     bool
	Algorithm      Algorithm
	OriginalSize   int
	CompressedSize int
	Ratio          float64
}

// Service is the compression service (C4).
type Service struct {
	Enabled bool
	MinSize int
	Level   int
	// PreferredAlgorithm is the algorithm requested by configuration;
	// Auto (the default) defers to the size-based heuristic in
	// Compress.
	PreferredAlgorithm Algorithm
}

// NewService constructs a compression service; minSize defaults to
// 1024 bytes and level to 6 when zero, matching spec §6's defaults.
func NewService(enabled bool, minSize, level int) *Service {
	if minSize <= 0 {
		minSize = 1024
	}
	if level == 0 {
		level = 6
	}
	return &Service{Enabled: enabled, MinSize: minSize, Level: clampLevel(level), PreferredAlgorithm: Auto}
}

func clampLevel(level int) int {
	if level < -1 {
		return -1
	}
	if level > 9 {
		return 9
	}
	return level
}

// Compress implements the decide-and-compress algorithm of spec §4.4.
// It never fails outright: a genuine compressor error falls back to
// the identity result, since only authentication failures are meant
// to be fatal to the surrounding pipeline (spec §7).
func (s *Service) Compress(data []byte, algo Algorithm) Result {
	identity := Result{Data: data, Compressed: false, Algorithm: None, OriginalSize: len(data), CompressedSize: len(data), Ratio: 1}

	if !s.Enabled || len(data) < s.MinSize {
		return identity
	}

	chosen := algo
	if chosen == Auto || chosen == "" {
		if len(data) < autoSmallThreshold {
			chosen = LZ4
		} else {
			chosen = Brotli
		}
	}

	out, err := s.compressWith(chosen, data)
	if err != nil {
		return identity
	}

	ratio := float64(len(out)) / float64(len(data))
	if ratio > expansionGuard {
		return identity
	}

	return Result{
		Data:           out,
		Compressed:     true,
		Algorithm:      chosen,
		OriginalSize:   len(data),
		CompressedSize: len(out),
		Ratio:          ratio,
	}
}

// Decompress inverts Compress for a known algorithm; None returns the
// input unchanged.
func (s *Service) Decompress(data []byte, algo Algorithm) ([]byte, error) {
	switch algo {
	case None, "":
		return data, nil
	case Gzip:
		return decompressGzip(data)
	case Deflate:
		return decompressDeflate(data)
	case LZ4:
		out, err := decompressLZ4(data)
		if err != nil {
			return decompressGzip(data) // symmetric with the lz4->gzip fallback
		}
		return out, nil
	case Brotli:
		out, err := decompressBrotli(data)
		if err != nil {
			return decompressGzip(data)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported_algorithm: %q", algo)
	}
}

func (s *Service) compressWith(algo Algorithm, data []byte) ([]byte, error) {
	switch algo {
	case Gzip:
		return compressGzip(data, s.Level)
	case Deflate:
		return compressDeflate(data, s.Level)
	case LZ4:
		out, err := compressLZ4(data)
		if err != nil {
			return compressGzip(data, 1) // fallback per §4.4: lz4 unavailable -> gzip level 1
		}
		return out, nil
	case Brotli:
		out, err := compressBrotli(data, s.Level)
		if err != nil {
			return compressGzip(data, s.Level) // fallback per §4.4: brotli unavailable -> configured gzip level
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported_algorithm: %q", algo)
	}
}

func compressGzip(data []byte, level int) ([]byte, error) {
	var buf bytes.Buffer
	w, err := gzip.NewWriterLevel(&buf, level)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompressGzip(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

func compressDeflate(data []byte, level int) ([]byte, error) {
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, level)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompressDeflate(data []byte) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(data))
	defer r.Close()
	return io.ReadAll(r)
}

func compressLZ4(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompressLZ4(data []byte) ([]byte, error) {
	r := lz4.NewReader(bytes.NewReader(data))
	return io.ReadAll(r)
}

func compressBrotli(data []byte, level int) ([]byte, error) {
	var buf bytes.Buffer
	quality := level
	if quality < 0 || quality > 11 {
		quality = brotli.DefaultCompression
	}
	w := brotli.NewWriterLevel(&buf, quality)
	if _, err := w.Write(data); err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompressBrotli(data []byte) ([]byte, error) {
	r := brotli.NewReader(bytes.NewReader(data))
	return io.ReadAll(r)
}
