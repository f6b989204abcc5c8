package compress

import (
	"strings"
	"testing"
)

func TestCompressBelowMinSizeIsIdentity(t *testing.T) {
	s := NewService(true, 100, 6)
	result := s.Compress([]byte("short"), Auto)
	if result.Compressed {
		t.Fatalf("expected short input to be left uncompressed")
	}
	if result.Algorithm != None {
		t.Fatalf("expected algorithm none, got %s", result.Algorithm)
	}
}

func TestCompressRoundtripGzip(t *testing.T) {
	s := NewService(true, 10, 6)
	payload := []byte(strings.Repeat("ABCD", 1000))

	result := s.Compress(payload, Gzip)
	if !result.Compressed {
		t.Fatalf("expected highly repetitive payload to compress")
	}
	if result.Ratio >= 0.8 {
		t.Fatalf("expected a strong compression ratio, got %f", result.Ratio)
	}

	restored, err := s.Decompress(result.Data, result.Algorithm)
	if err != nil {
		t.Fatalf("Decompress failed: %v", err)
	}
	if string(restored) != string(payload) {
		t.Fatalf("roundtrip mismatch: expected %d bytes, got %d", len(payload), len(restored))
	}
}

func TestCompressRoundtripEveryAlgorithm(t *testing.T) {
	s := NewService(true, 10, 6)
	payload := []byte(strings.Repeat("the quick brown fox jumps over the lazy dog ", 200))

	for _, algo := range []Algorithm{Gzip, Deflate, LZ4, Brotli} {
		t.Run(string(algo), func(t *testing.T) {
			result := s.Compress(payload, algo)
			restored, err := s.Decompress(result.Data, result.Algorithm)
			if err != nil {
				t.Fatalf("Decompress failed: %v", err)
			}
			if string(restored) != string(payload) {
				t.Fatalf("roundtrip mismatch for %s", algo)
			}
		})
	}
}

func TestCompressDiscardsWhenExpanding(t *testing.T) {
	s := NewService(true, 1, 6)
	// High-entropy random-looking short payload compresses poorly;
	// the 1.5x expansion guard should discard the result.
	payload := []byte{0x01, 0x00, 0x02, 0xff, 0x10, 0x33}
	result := s.Compress(payload, Deflate)
	if result.Ratio > 1.5 {
		t.Fatalf("guard should have discarded output exceeding 1.5x, got ratio %f", result.Ratio)
	}
}

func TestAutoSelectsByThreshold(t *testing.T) {
	s := NewService(true, 1, 6)
	small := s.Compress([]byte(strings.Repeat("x", 100)), Auto)
	if small.Compressed && small.Algorithm != LZ4 {
		t.Fatalf("expected lz4 for small payloads under auto, got %s", small.Algorithm)
	}

	large := s.Compress([]byte(strings.Repeat("y", 20000)), Auto)
	if large.Compressed && large.Algorithm != Brotli {
		t.Fatalf("expected brotli for large payloads under auto, got %s", large.Algorithm)
	}
}

func TestAnalyzeRecommendsCompression(t *testing.T) {
	s := NewService(true, 100, 6)
	analysis := s.Analyze([]byte(strings.Repeat("aaaa", 1000)))
	if !analysis.ShouldCompress {
		t.Fatalf("expected low-entropy payload to be recommended for compression")
	}
}

func TestBenchmarkReturnsPerAlgorithmResults(t *testing.T) {
	s := NewService(true, 1, 6)
	results := s.Benchmark([]byte(strings.Repeat("benchmark payload ", 500)))
	if len(results) == 0 {
		t.Fatalf("expected at least one benchmark result")
	}
	for _, r := range results {
		if r.Size <= 0 {
			t.Fatalf("expected positive compressed size for %s", r.Algorithm)
		}
	}
}
