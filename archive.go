// Package mpq decodes the table layer of MPQ archives: the container format
// that stores game data as hashed, block-indexed files.
//
// The package resolves logical file names to physical blocks without
// extracting anything. A name is hashed and looked up either in the classic
// hash table or, in v3 archives, in the bit-packed HET table; the resulting
// index is then described by the classic block table or the bit-packed BET
// table, which report the block's 64-bit position, its sizes and its
// capability flags. An optional "(attributes)" overlay carries per-block
// checksums for verification.
//
// IMPLEMENTATION:
// Open memory-maps the archive, locates the header (following a user data
// shunt if present), then reads, decrypts and parses every table
// concurrently. Each table is parsed once from an immutable byte slice and is
// read-only afterwards, so every lookup method is safe for concurrent use.
// Resolved lookups are kept in an adaptive replacement cache (ARC) and name
// hashes in a small LRU, so repeated lookups of hot names cost one map probe.
//
// Payload compression and encryption are out of scope; callers
// that need auxiliary files decoded supply a PayloadDecoder.
package mpq

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/golang-lru/arc/v2"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/exp/mmap"
	"golang.org/x/sync/errgroup"
)

// AttributesName is the name of the attributes overlay inside an archive.
const AttributesName = "(attributes)"

// FileEntry is the resolved placement of one block, whichever table
// described it.
type FileEntry struct {
	// BlockIndex is the position of the block in the block (or BET) table.
	BlockIndex uint32

	// Position is the block offset relative to the start of the archive.
	Position uint64

	CompressedSize uint64
	FileSize       uint64
	Flags          Flags
}

// lookupKey identifies one cached resolution.
type lookupKey struct {
	name     string
	locale   Locale
	platform uint16
}

// lookupResult is the cached outcome of a resolution, misses included.
type lookupResult struct {
	entry FileEntry
	found bool
}

// nameHashes memoises both hash families of a name.
type nameHashes struct {
	classic NameHash
	jenkins uint64
}

// Archive provides concurrent, read-only name resolution over one MPQ
// archive.
//
// The tables are parsed eagerly by Open/NewArchive. Find and Block work from
// memory and stay usable after Close; methods that read payload bytes
// return ErrClosed once the archive is closed.
type Archive struct {
	r      io.ReaderAt
	size   int64
	closer io.Closer
	closed atomic.Bool

	// base is the file offset of the archive header. Every table offset
	// and block position is relative to it.
	base     int64
	header   ArchiveHeader
	userData *UserData

	// hashes and blocks are nil when the archive carries no classic
	// table of that kind; het and bet are nil unless the archive is v3
	// and carries them.
	hashes *HashTable
	blocks *BlockTable
	het    *HetTable
	bet    *BetTable

	cache *arc.ARCCache[lookupKey, lookupResult]
	names *lru.Cache[string, nameHashes]

	decoder       PayloadDecoder
	preferClassic bool
	log           *slog.Logger

	attrsOnce sync.Once
	attrs     *Attributes
	attrsErr  error
}

// Open memory-maps the archive at path and parses its tables.
//
// The returned Archive must be closed to release the mapping.
func Open(path string, opts ...Option) (*Archive, error) {
	m, err := mmap.Open(path)
	if err != nil {
		return nil, fmt.Errorf("mmap archive: %w", err)
	}
	a, err := NewArchive(m, int64(m.Len()), opts...)
	if err != nil {
		_ = m.Close()
		return nil, err
	}
	a.closer = m
	return a, nil
}

// NewArchive parses the archive stored in the first size bytes of r.
//
// The header is searched at 512-byte boundaries. The classic hash and block
// tables, the hi-block table and the HET/BET tables are then read, decrypted
// and parsed concurrently; either every table loads or NewArchive fails and
// nothing is returned.
//
// r must stay valid for the lifetime of the Archive. NewArchive does not
// take ownership of it; Close only releases resources acquired by Open.
func NewArchive(r io.ReaderAt, size int64, opts ...Option) (*Archive, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	base, ud, err := FindHeader(r, size)
	if err != nil {
		return nil, err
	}
	hdrBuf := make([]byte, min(int64(headerSizeV3), size-base))
	if _, err := r.ReadAt(hdrBuf, base); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read header: %w", err)
	}
	header, err := ParseHeader(hdrBuf)
	if err != nil {
		return nil, fmt.Errorf("parse header: %w", err)
	}

	a := &Archive{
		r:             r,
		size:          size,
		base:          base,
		header:        header,
		userData:      ud,
		decoder:       cfg.decoder,
		preferClassic: cfg.preferClassic,
		log:           cfg.logger,
	}
	if err := a.loadTables(); err != nil {
		return nil, err
	}
	if a.hashes == nil && a.het == nil {
		return nil, fmt.Errorf("%w: archive has neither a hash table nor a HET table", ErrFormat)
	}

	a.cache, err = arc.NewARC[lookupKey, lookupResult](cfg.cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create ARC cache: %w", err)
	}
	a.names, err = lru.New[string, nameHashes](cfg.nameCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create name cache: %w", err)
	}

	a.log.Debug("archive opened",
		"format", header.Format,
		"base", base,
		"hash_entries", header.HashTableSize,
		"block_entries", header.BlockTableSize,
		"het", a.het != nil,
		"bet", a.bet != nil,
	)
	return a, nil
}

// loadTables reads and parses every table the header declares. The tables
// are independent of each other, so each one is loaded in its own
// goroutine.
func (a *Archive) loadTables() error {
	h := a.header
	var g errgroup.Group

	if h.HashTableSize > 0 {
		g.Go(func() error {
			buf, err := a.readSection(h.HashTablePos(), uint64(h.HashTableSize)*hashEntrySize)
			if err != nil {
				return fmt.Errorf("read hash table: %w", err)
			}
			decryptTable(buf, hashTableKey)
			t, err := ParseHashTable(buf, h.HashTableSize)
			if err != nil {
				return fmt.Errorf("parse hash table: %w", err)
			}
			a.hashes = t
			return nil
		})
	}

	if h.BlockTableSize > 0 {
		g.Go(func() error {
			buf, err := a.readSection(h.BlockTablePos(), uint64(h.BlockTableSize)*blockEntrySize)
			if err != nil {
				return fmt.Errorf("read block table: %w", err)
			}
			decryptTable(buf, blockTableKey)

			var hi []byte
			if h.Format >= FormatV2 && h.HiBlockTableOffset != 0 {
				hi, err = a.readSection(h.HiBlockTableOffset, uint64(h.BlockTableSize)*hiBlockEntrySize)
				if err != nil {
					return fmt.Errorf("read hi-block table: %w", err)
				}
			}
			t, err := ParseBlockTable(buf, hi, h.BlockTableSize)
			if err != nil {
				return fmt.Errorf("parse block table: %w", err)
			}
			a.blocks = t
			return nil
		})
	}

	if h.Format >= FormatV3 && h.HetTableOffset != 0 {
		g.Go(func() error {
			buf, err := a.readExtTable(h.HetTableOffset, hashTableKey)
			if err != nil {
				return fmt.Errorf("read HET table: %w", err)
			}
			t, err := ParseHetTable(buf)
			if err != nil {
				return fmt.Errorf("parse HET table: %w", err)
			}
			a.het = t
			return nil
		})
	}

	if h.Format >= FormatV3 && h.BetTableOffset != 0 {
		g.Go(func() error {
			buf, err := a.readExtTable(h.BetTableOffset, blockTableKey)
			if err != nil {
				return fmt.Errorf("read BET table: %w", err)
			}
			t, err := ParseBetTable(buf)
			if err != nil {
				return fmt.Errorf("parse BET table: %w", err)
			}
			a.bet = t
			return nil
		})
	}

	return g.Wait()
}

// readSection returns a fresh copy of n bytes at archive-relative pos.
func (a *Archive) readSection(pos, n uint64) ([]byte, error) {
	start := uint64(a.base) + pos
	if start < pos || start+n < start || start+n > uint64(a.size) {
		return nil, fmt.Errorf("%w: %d bytes at archive offset %d exceed archive of %d bytes",
			ErrTruncated, n, pos, a.size-a.base)
	}
	buf := make([]byte, n)
	if _, err := a.r.ReadAt(buf, int64(start)); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return buf, nil
}

// readExtTable reads a HET or BET table at pos and decrypts the payload
// that follows its plain 12-byte header.
func (a *Archive) readExtTable(pos uint64, key uint32) ([]byte, error) {
	hdr, err := a.readSection(pos, extHeaderSize)
	if err != nil {
		return nil, err
	}
	dataSize := binary.LittleEndian.Uint32(hdr[8:12])
	buf, err := a.readSection(pos, extHeaderSize+uint64(dataSize))
	if err != nil {
		return nil, err
	}
	decryptTable(buf[extHeaderSize:], key)
	return buf, nil
}

// Header returns the parsed archive header.
func (a *Archive) Header() ArchiveHeader { return a.header }

// UserData returns the user data shunt, or nil if the archive has none.
func (a *Archive) UserData() *UserData { return a.userData }

// Offset returns the file offset of the archive header.
func (a *Archive) Offset() int64 { return a.base }

// HashTable returns the classic hash table, or nil if absent.
func (a *Archive) HashTable() *HashTable { return a.hashes }

// BlockTable returns the classic block table, or nil if absent.
func (a *Archive) BlockTable() *BlockTable { return a.blocks }

// HetTable returns the HET table, or nil if absent.
func (a *Archive) HetTable() *HetTable { return a.het }

// BetTable returns the BET table, or nil if absent.
func (a *Archive) BetTable() *BetTable { return a.bet }

func (a *Archive) useHET() bool { return a.het != nil && (!a.preferClassic || a.hashes == nil) }
func (a *Archive) useBET() bool { return a.bet != nil && (!a.preferClassic || a.blocks == nil) }

// BlockCount returns the number of entries in the table Block resolves
// against.
func (a *Archive) BlockCount() int {
	switch {
	case a.useBET():
		return a.bet.Len()
	case a.blocks != nil:
		return a.blocks.Len()
	}
	return 0
}

// Find resolves name to its block, first under locale and then, if that
// misses, under LocaleNeutral. The platform is always the default (0).
//
// HET lookups carry no locale, so locale only matters when resolution goes
// through the classic hash table. The boolean result reports whether the
// name resolved to an existing block; a miss is not an error.
func (a *Archive) Find(name string, locale Locale) (FileEntry, bool) {
	return a.FindPlatform(name, locale, 0)
}

// FindPlatform is Find for an explicit platform code.
func (a *Archive) FindPlatform(name string, locale Locale, platform uint16) (FileEntry, bool) {
	if e, ok := a.lookup(name, locale, platform); ok {
		return e, true
	}
	if locale != LocaleNeutral {
		return a.lookup(name, LocaleNeutral, platform)
	}
	return FileEntry{}, false
}

// lookup is a single cached resolution for one exact key.
func (a *Archive) lookup(name string, locale Locale, platform uint16) (FileEntry, bool) {
	key := lookupKey{name: name, locale: locale, platform: platform}
	if r, ok := a.cache.Get(key); ok {
		return r.entry, r.found
	}

	e, found := a.resolve(a.hashesOf(name), locale, platform)
	a.cache.Add(key, lookupResult{entry: e, found: found})
	return e, found
}

func (a *Archive) hashesOf(name string) nameHashes {
	if h, ok := a.names.Get(name); ok {
		return h
	}
	h := nameHashes{classic: HashName(name), jenkins: HashNameJenkins(name)}
	a.names.Add(name, h)
	return h
}

// resolve maps name hashes to a block. Blocks that do not hold a file
// (free space, unused slots, stale indexes) resolve as a miss.
func (a *Archive) resolve(h nameHashes, locale Locale, platform uint16) (FileEntry, bool) {
	var (
		idx uint32
		ok  bool
	)
	if a.useHET() {
		var verify func(uint32) bool
		if a.bet != nil {
			verify = func(i uint32) bool { return a.bet.matchesName(i, h.jenkins) }
		}
		idx, ok = a.het.FindHash(h.jenkins, verify)
	} else {
		idx, ok = a.hashes.FindHash(h.classic, locale, platform)
	}
	if !ok {
		return FileEntry{}, false
	}

	e, err := a.Block(idx)
	if err != nil || !e.Flags.Exists() {
		return FileEntry{}, false
	}
	return e, true
}

// Block describes block i through the BET table when present (and not
// overridden by WithPreferClassic), otherwise through the classic block
// table.
func (a *Archive) Block(i uint32) (FileEntry, error) {
	if a.useBET() {
		r, err := a.bet.Record(i)
		if err != nil {
			return FileEntry{}, err
		}
		return FileEntry{
			BlockIndex:     i,
			Position:       r.Position,
			CompressedSize: r.CompressedSize,
			FileSize:       r.FileSize,
			Flags:          r.Flags,
		}, nil
	}
	if a.blocks == nil {
		return FileEntry{}, fmt.Errorf("%w: block %d of 0", ErrOutOfRange, i)
	}
	b, err := a.blocks.Entry(i)
	if err != nil {
		return FileEntry{}, err
	}
	return FileEntry{
		BlockIndex:     i,
		Position:       b.Position(),
		CompressedSize: uint64(b.CompressedSize),
		FileSize:       uint64(b.FileSize),
		Flags:          b.Flags,
	}, nil
}

// Locales lists the locales under which name is stored in the classic hash
// table. It returns nil when the archive has no classic hash table.
func (a *Archive) Locales(name string) []Locale {
	if a.hashes == nil {
		return nil
	}
	return a.hashes.Locales(a.hashesOf(name).classic, 0)
}

// Attributes loads the "(attributes)" overlay on first use.
//
// An archive without the file yields an invalid overlay and no error. When
// the file is compressed or encrypted it is passed through the configured
// PayloadDecoder; without one ErrDecoderRequired is returned.
func (a *Archive) Attributes() (*Attributes, error) {
	if a.closed.Load() {
		return nil, ErrClosed
	}
	a.attrsOnce.Do(func() {
		a.attrs, a.attrsErr = a.loadAttributes()
	})
	return a.attrs, a.attrsErr
}

func (a *Archive) loadAttributes() (*Attributes, error) {
	count := uint32(a.BlockCount())
	e, ok := a.Find(AttributesName, LocaleNeutral)
	if !ok {
		a.log.Warn("archive has no attributes overlay")
		return ParseAttributes(nil, count), nil
	}

	raw, err := a.readSection(e.Position, e.CompressedSize)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", AttributesName, err)
	}
	data := raw
	if e.Flags.IsEncrypted() || e.Flags.IsCompressed() {
		if a.decoder == nil {
			return nil, fmt.Errorf("%w: %s has flags %v", ErrDecoderRequired, AttributesName, e.Flags)
		}
		if data, err = a.decoder.DecodeBlock(AttributesName, e, raw); err != nil {
			return nil, fmt.Errorf("decode %s: %w", AttributesName, err)
		}
	}

	attrs := ParseAttributes(data, count)
	if !attrs.IsValid() {
		a.log.Warn("attributes overlay is invalid", "version", attrs.Version, "flags", attrs.Flags, "bytes", len(data))
	}
	return attrs, nil
}

// Close releases the memory mapping acquired by Open. It is safe to call
// more than once; only the first call has an effect.
func (a *Archive) Close() error {
	if a == nil || a.closed.Swap(true) {
		return nil
	}
	if a.closer != nil {
		return a.closer.Close()
	}
	return nil
}
