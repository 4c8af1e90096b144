package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTemp(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "optimuscore.toml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func writeTempDir(t *testing.T, contents string) string {
	t.Helper()
	path := writeTemp(t, contents)
	return filepath.Dir(path)
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.MemorySize != 65536 {
		t.Fatalf("memory size = %d, want 65536", cfg.MemorySize)
	}
	if cfg.FrameBase != 60000 {
		t.Fatalf("frame base = %d, want 60000", cfg.FrameBase)
	}
	if cfg.ChunkCycles != 2000 {
		t.Fatalf("chunk cycles = %d, want 2000", cfg.ChunkCycles)
	}
	if cfg.TransportEnabled {
		t.Fatalf("expected transport disabled by default")
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := writeTemp(t, `
chunk-cycles = 5000
transport-enabled = true
listen-addr = ":9000"
`)
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.ChunkCycles != 5000 {
		t.Fatalf("chunk cycles = %d, want 5000", cfg.ChunkCycles)
	}
	if !cfg.TransportEnabled || cfg.ListenAddr != ":9000" {
		t.Fatalf("transport = %v %q", cfg.TransportEnabled, cfg.ListenAddr)
	}
	// journal path wasn't set in the file, so it keeps the default.
	if cfg.JournalPath != "optimuscore.journal.db" {
		t.Fatalf("journal path = %q", cfg.JournalPath)
	}
}

func TestLoadFileRejectsOutOfRangeChunkCycles(t *testing.T) {
	path := writeTemp(t, `
chunk-cycles = -1
`)
	if _, err := LoadFile(path); err == nil {
		t.Fatalf("expected validation error for negative chunk-cycles")
	}
}

func TestLoadFileRejectsNonPowerOfTwoMemorySize(t *testing.T) {
	path := writeTemp(t, `
memory-size = 60000
`)
	if _, err := LoadFile(path); err == nil {
		t.Fatalf("expected validation error for non-power-of-two memory-size")
	}
}

func TestLoadFileMissingFile(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}

func TestLoadReadsFromDirectory(t *testing.T) {
	dir := writeTempDir(t, `chunk-cycles = 4242`)
	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ChunkCycles != 4242 {
		t.Fatalf("chunk cycles = %d, want 4242", cfg.ChunkCycles)
	}
}

func TestFindAndLoadWalksUpToConfigFile(t *testing.T) {
	dir := writeTempDir(t, `listen-addr = ":6000"`)
	nested := filepath.Join(dir, "a", "b", "c")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	cfg, err := FindAndLoad(nested)
	if err != nil {
		t.Fatalf("FindAndLoad: %v", err)
	}
	if cfg.ListenAddr != ":6000" {
		t.Fatalf("listen addr = %q, want %q", cfg.ListenAddr, ":6000")
	}
}

func TestFindAndLoadFallsBackToDefaultWhenNoFileFound(t *testing.T) {
	cfg, err := FindAndLoad(t.TempDir())
	if err != nil {
		t.Fatalf("FindAndLoad: %v", err)
	}
	if cfg != Default() {
		t.Fatalf("expected Default() when no config file is found, got %+v", cfg)
	}
}
