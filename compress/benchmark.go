package compress

import "time"

// BenchmarkResult reports the outcome of compressing once with a
// given algorithm, per spec §4.4's optional benchmarking helper.
type BenchmarkResult struct {
	Algorithm Algorithm
	TimeMs    float64
	Ratio     float64
	Size      int
}

// Benchmark compresses data once each with lz4, brotli, and deflate
// and reports timing, ratio, and resulting size for each.
func (s *Service) Benchmark(data []byte) []BenchmarkResult {
	algos := []Algorithm{LZ4, Brotli, Deflate}
	results := make([]BenchmarkResult, 0, len(algos))

	for _, algo := range algos {
		start := time.Now()
		out, err := s.compressWith(algo, data)
		elapsed := time.Since(start)
		if err != nil {
			continue
		}
		ratio := 1.0
		if len(data) > 0 {
			ratio = float64(len(out)) / float64(len(data))
		}
		results = append(results, BenchmarkResult{
			Algorithm: algo,
			TimeMs:    float64(elapsed.Microseconds()) / 1000.0,
			Ratio:     ratio,
			Size:      len(out),
		})
	}

	return results
}
