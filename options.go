package mpq

import (
	"io"
	"log/slog"
)

const (
	defaultCacheSize     = 4096
	defaultNameCacheSize = 1024
)

// PayloadDecoder materialises the bytes of a compressed or encrypted block.
//
// The archive never decompresses or decrypts payloads itself. It hands the
// raw on-disk bytes of auxiliary files such as "(attributes)" to the
// configured decoder, which interprets entry.Flags.
type PayloadDecoder interface {
	DecodeBlock(name string, entry FileEntry, raw []byte) ([]byte, error)
}

// PayloadDecoderFunc adapts a function to PayloadDecoder.
type PayloadDecoderFunc func(name string, entry FileEntry, raw []byte) ([]byte, error)

// DecodeBlock calls f.
func (f PayloadDecoderFunc) DecodeBlock(name string, entry FileEntry, raw []byte) ([]byte, error) {
	return f(name, entry, raw)
}

// config collects the settings applied by Options before the tables are
// loaded.
type config struct {
	logger        *slog.Logger
	cacheSize     int
	nameCacheSize int
	decoder       PayloadDecoder
	preferClassic bool
}

func defaultConfig() config {
	return config{
		logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		cacheSize:     defaultCacheSize,
		nameCacheSize: defaultNameCacheSize,
	}
}

// Option configures an Archive during Open or NewArchive.
type Option func(*config)

// WithLogger sets the logger used while loading tables. If nil, a discard
// logger is used (the default).
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithCacheSize bounds the number of resolved lookups kept in the
// adaptive replacement cache. Non-positive values keep the default.
func WithCacheSize(entries int) Option {
	return func(c *config) {
		if entries > 0 {
			c.cacheSize = entries
		}
	}
}

// WithNameCacheSize bounds the number of memoised name hashes.
// Non-positive values keep the default.
func WithNameCacheSize(entries int) Option {
	return func(c *config) {
		if entries > 0 {
			c.nameCacheSize = entries
		}
	}
}

// WithDecoder installs the decoder used for compressed or encrypted
// auxiliary files.
func WithDecoder(d PayloadDecoder) Option {
	return func(c *config) { c.decoder = d }
}

// WithPreferClassic resolves names and blocks through the classic hash and
// block tables even when the archive also carries HET/BET tables.
func WithPreferClassic(prefer bool) Option {
	return func(c *config) { c.preferClassic = prefer }
}
