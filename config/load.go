package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/pelletier/go-toml/v2"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "TILESTORE_"

// ParseError represents an error while parsing a configuration file.
type ParseError struct {
	Path   string
	Line   int
	Column int
	Err    error
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("config: parse error in %s at line %d, column %d: %v", e.Path, e.Line, e.Column, e.Err)
	}
	return fmt.Sprintf("config: parse error in %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Load reads a TOML file over the defaults. A missing file is not an
// error: the defaults are returned. Unknown keys are rejected.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("config: reading %s: %w", path, err)
	}

	if err := Decode(path, data, &cfg); err != nil {
		return Default(), err
	}
	return cfg, nil
}

// Decode parses TOML data into cfg, keeping the values of keys the data
// does not mention.
func Decode(source string, data []byte, cfg *Config) error {
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		pe := &ParseError{Path: source, Err: err}
		var derr *toml.DecodeError
		if errors.As(err, &derr) {
			pe.Line, pe.Column = derr.Position()
		}
		return pe
	}
	return nil
}

// ApplyEnv overrides fields from TILESTORE_* variables found by lookup
// (normally os.LookupEnv): SWAP_DIR, CACHE_SIZE, TILE_SIZE, COMPRESSION
// and LOG_LEVEL.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvPrefix + "SWAP_DIR"); ok {
		c.SwapDir = v
	}
	if v, ok := lookup(EnvPrefix + "CACHE_SIZE"); ok {
		size, err := ParseByteSize(v)
		if err != nil {
			return fmt.Errorf("%sCACHE_SIZE: %w", EnvPrefix, err)
		}
		c.CacheSize = size
	}
	if v, ok := lookup(EnvPrefix + "TILE_SIZE"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %sTILE_SIZE: %w", ErrInvalid, EnvPrefix, err)
		}
		c.TileSize = n
	}
	if v, ok := lookup(EnvPrefix + "COMPRESSION"); ok {
		c.Compression = v
	}
	if v, ok := lookup(EnvPrefix + "LOG_LEVEL"); ok {
		c.LogLevel = v
	}
	return nil
}
