package kvengine

import "testing"

func TestNewConfigAppliesOptions(t *testing.T) {
	cfg := NewConfig(
		WithType(AdapterSQLite),
		WithName("widgets"),
		WithCompression(CompressionConfig{Algorithm: AlgoGzip, Level: 9}),
	)

	if cfg.Type != AdapterSQLite {
		t.Fatalf("expected AdapterSQLite, got %v", cfg.Type)
	}
	if cfg.Name != "widgets" {
		t.Fatalf("expected name widgets, got %q", cfg.Name)
	}
	if cfg.Compression.Algorithm != AlgoGzip {
		t.Fatalf("expected gzip compression, got %v", cfg.Compression.Algorithm)
	}
	// Cache/Migrations defaults survive since WithCompression doesn't touch them.
	if cfg.Migrations.AutoMigrate != true {
		t.Fatal("expected default AutoMigrate to survive unrelated options")
	}
}

func TestNewConfigClampsCompressionLevel(t *testing.T) {
	cfg := NewConfig(WithCompression(CompressionConfig{Algorithm: AlgoGzip, Level: 99}))
	if cfg.Compression.Level != clampLevel(99) {
		t.Fatalf("expected clamped level %d, got %d", clampLevel(99), cfg.Compression.Level)
	}
	if cfg.Compression.Level > 9 {
		t.Fatalf("expected level clamped to gzip max, got %d", cfg.Compression.Level)
	}
}
