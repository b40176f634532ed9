package tilestore

import (
	"io"
	"log/slog"
)

// SwapFile is backing storage for the swap store. *os.File satisfies it.
type SwapFile interface {
	io.ReaderAt
	io.WriterAt
	Truncate(size int64) error
	Close() error
	Name() string
}

// Option configures a Storage during Open.
//
// Example:
//
//	st, err := tilestore.Open(cfg, tilestore.WithLogger(slog.Default()))
type Option func(*storageOptions)

// storageOptions holds optional configuration for Storage creation.
type storageOptions struct {
	logger   *slog.Logger
	swapFile SwapFile
}

// defaultOptions returns the default storage options.
func defaultOptions() storageOptions {
	return storageOptions{
		logger:   nil, // Logger() at Open time
		swapFile: nil, // created in the configured swap directory
	}
}

// WithLogger sets the logger for one storage instead of the package logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *storageOptions) {
		o.logger = l
	}
}

// WithSwapFile uses f as swap backing storage instead of creating a file
// in the configured swap directory. The storage closes f on Close but does
// not remove it.
func WithSwapFile(f SwapFile) Option {
	return func(o *storageOptions) {
		o.swapFile = f
	}
}
