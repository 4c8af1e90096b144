// Package config loads and validates optimuscore's host configuration
// file, the way chazu-maggie's manifest package loads maggie.toml: a
// plain TOML document, unmarshaled with BurntSushi/toml, defaulted where
// the file is silent. On top of that shape, values are additionally
// checked against a CUE schema so a malformed config fails fast with a
// pointed message instead of surfacing as a confusing runtime fault three
// layers away.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// Config holds every VM/runtime tunable the host shell reads at startup.
// MemorySize and FrameBase mirror the fixed values spec.md §6 mandates
// (65536 and 60000) — they exist here so a host can document and validate
// its assumption about those constants rather than because vm.Process
// currently accepts overrides for them.
type Config struct {
	MemorySize  int    `toml:"memory-size" json:"memory-size"`
	FrameBase   int    `toml:"frame-base" json:"frame-base"`
	HeapAlign   int    `toml:"heap-align" json:"heap-align"`
	ChunkCycles int    `toml:"chunk-cycles" json:"chunk-cycles"`
	ListenAddr  string `toml:"listen-addr" json:"listen-addr"`
	JournalPath string `toml:"journal-path" json:"journal-path"`

	// TransportEnabled gates cmd/cosh's remote WebSocket shell; cmd/cosh
	// sets it whenever -serve <addr> is given, so a config file need not
	// opt in.
	TransportEnabled bool `toml:"transport-enabled" json:"transport-enabled"`

	// Dir is the directory the config file was loaded from.
	Dir string `toml:"-" json:"-"`
}

// schema is the CUE definition every loaded Config is validated against
// before it's handed back to the caller: MemorySize must be a power of
// two from 4096 to 262144, and FrameBase must be non-negative and below
// 262144 (it is not compared against the configured MemorySize).
const schema = `
#Config: {
	"memory-size":       4096 | 8192 | 16384 | 32768 | 65536 | 131072 | 262144
	"frame-base":        int & >=0 & <262144
	"heap-align":        int & >=1
	"chunk-cycles":      int & >=1 & <=100000
	"listen-addr":       string
	"journal-path":      string
	"transport-enabled": bool
}
`

// Default returns the configuration optimuscore runs with when no config
// file is present: exactly the fixed values spec.md §6 specifies.
func Default() Config {
	return Config{
		MemorySize:       65536,
		FrameBase:        60000,
		HeapAlign:        4,
		ChunkCycles:      2000,
		ListenAddr:       ":7777",
		JournalPath:      "optimuscore.journal.db",
		TransportEnabled: false,
	}
}

// configFileName is the file Load and FindAndLoad look for, the way
// chazu-maggie's manifest package looks for maggie.toml.
const configFileName = "optimuscore.toml"

// Load reads and validates optimuscore.toml from dir, filling in
// Default()'s values for anything the file leaves unset.
func Load(dir string) (Config, error) {
	return LoadFile(filepath.Join(dir, configFileName))
}

// FindAndLoad walks upward from startDir looking for optimuscore.toml,
// the way chazu-maggie's manifest.FindAndLoad locates maggie.toml from
// wherever the CLI was invoked. It returns Default() with no error if no
// config file is found all the way up to the filesystem root.
func FindAndLoad(startDir string) (Config, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return Config{}, fmt.Errorf("resolving start dir: %w", err)
	}
	for {
		candidate := filepath.Join(dir, configFileName)
		if _, err := os.Stat(candidate); err == nil {
			return LoadFile(candidate)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return Default(), nil
		}
		dir = parent
	}
}

// LoadFile reads and validates the TOML config file at path exactly,
// filling in Default()'s values for anything the file leaves unset. This
// is what cmd/cosh's -config flag calls when a caller names a specific file
// rather than a directory to search.
func LoadFile(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config %s: %w", path, err)
	}
	if _, err := toml.Decode(string(data), &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
	}

	dir, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return Config{}, fmt.Errorf("resolving config dir: %w", err)
	}
	cfg.Dir = dir

	if err := validate(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// validate unifies cfg against the CUE #Config definition, catching
// out-of-range or missing fields the TOML decoder itself wouldn't reject
// (BurntSushi/toml happily accepts a negative chunk-cycles; CUE won't).
func validate(cfg Config) error {
	ctx := cuecontext.New()

	schemaVal := ctx.CompileString(schema)
	if err := schemaVal.Err(); err != nil {
		return fmt.Errorf("compiling schema: %w", err)
	}
	def := schemaVal.LookupPath(cue.ParsePath("#Config"))

	cfgVal := ctx.Encode(struct {
		MemorySize       int    `json:"memory-size"`
		FrameBase        int    `json:"frame-base"`
		HeapAlign        int    `json:"heap-align"`
		ChunkCycles      int    `json:"chunk-cycles"`
		ListenAddr       string `json:"listen-addr"`
		JournalPath      string `json:"journal-path"`
		TransportEnabled bool   `json:"transport-enabled"`
	}{cfg.MemorySize, cfg.FrameBase, cfg.HeapAlign, cfg.ChunkCycles, cfg.ListenAddr, cfg.JournalPath, cfg.TransportEnabled})
	if err := cfgVal.Err(); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	unified := def.Unify(cfgVal)
	return unified.Validate(cue.Concrete(true))
}
