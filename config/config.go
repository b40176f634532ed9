// Package config provides tilestore configuration: the swap directory,
// the tile cache budget and the tuning knobs around them.
//
// Configuration is read once, before the storage is opened:
//
//	cfg, err := config.Load("tilestore.toml") // missing file -> defaults
//	if err != nil { ... }
//	if err := cfg.ApplyEnv(os.LookupEnv); err != nil { ... }
//	st, err := tilestore.Open(cfg)
//
// A TOML file looks like:
//
//	swap_dir    = "/var/tmp/tilestore"
//	cache_size  = "512MiB"
//	tile_size   = 64
//	compression = "zstd"
//	log_level   = "info"
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// Configuration errors.
var (
	// ErrInvalid is wrapped by every validation failure.
	ErrInvalid = errors.New("config: invalid configuration")
)

// Tile size limits.
const (
	MinTileSize = 16
	MaxTileSize = 1024
)

// Config holds the storage configuration.
type Config struct {
	// SwapDir is the directory the swap file is created in.
	SwapDir string `toml:"swap_dir"`

	// CacheSize is the tile cache budget: the maximum number of bytes of
	// tile data kept in memory while unpinned.
	CacheSize ByteSize `toml:"cache_size"`

	// TileSize is the tile edge length in pixels (power of two).
	TileSize int `toml:"tile_size"`

	// Compression selects the swap codec: "none", "zstd" or "snappy".
	Compression string `toml:"compression"`

	// LogLevel is the minimum level for the storage logger when one is
	// built from configuration: "debug", "info", "warn" or "error".
	LogLevel string `toml:"log_level"`
}

// Default returns the default configuration: swap in the system temporary
// directory, a 256MiB cache, 64 pixel tiles and no compression.
func Default() Config {
	return Config{
		SwapDir:     filepath.Join(os.TempDir(), "tilestore"),
		CacheSize:   256 * MiB,
		TileSize:    64,
		Compression: "none",
		LogLevel:    "info",
	}
}

// Validate reports the first problem found in c.
func (c Config) Validate() error {
	if c.SwapDir == "" {
		return fmt.Errorf("%w: swap_dir is empty", ErrInvalid)
	}
	if c.CacheSize <= 0 {
		return fmt.Errorf("%w: cache_size must be positive, got %d", ErrInvalid, c.CacheSize)
	}
	if c.TileSize < MinTileSize || c.TileSize > MaxTileSize || c.TileSize&(c.TileSize-1) != 0 {
		return fmt.Errorf("%w: tile_size must be a power of two in [%d, %d], got %d",
			ErrInvalid, MinTileSize, MaxTileSize, c.TileSize)
	}
	switch c.Compression {
	case "", "none", "zstd", "snappy":
	default:
		return fmt.Errorf("%w: unknown compression %q", ErrInvalid, c.Compression)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// Level parses LogLevel. An empty level is Info.
func (c Config) Level() (slog.Level, error) {
	var l slog.Level
	if c.LogLevel == "" {
		return slog.LevelInfo, nil
	}
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("%w: log_level: %w", ErrInvalid, err)
	}
	return l, nil
}
