// Package backend assembles the paged file, journal, cache, and
// allocators into the single mutex-guarded storage engine described in
// spec.md §4 and §5, and exposes the btree.Pager interface internal/btree
// descends and mutates through.
package backend

import "github.com/rs/zerolog"

// Config configures a Backend. There is deliberately no env/flag parsing
// here (spec.md's ambient-stack note): callers build a Config value and
// pass it to Open directly.
type Config struct {
	// PageSize is only consulted when creating a new database file; an
	// existing file's page size, recorded in its header, always wins.
	PageSize int
	// InitBlockCount is how many page ids the watermark grows by each
	// time the free list runs dry (spec.md §4.6).
	InitBlockCount int
	// JournalFullSize triggers a checkpoint once the journal file grows
	// past this many bytes after a commit (spec.md §4.4).
	JournalFullSize int64
	// CachePageCount bounds the LRU page cache (spec.md §4.2).
	CachePageCount int
	// Logger receives structured diagnostic events. A nil Logger means
	// no logging, not a panic — Open substitutes zerolog.Nop().
	Logger *zerolog.Logger
}

// DefaultConfig returns the engine's out-of-the-box tuning.
func DefaultConfig() Config {
	return Config{
		PageSize:        4096,
		InitBlockCount:  16,
		JournalFullSize: 1 << 20,
		CachePageCount:  1024,
	}
}

func (c Config) logger() zerolog.Logger {
	if c.Logger != nil {
		return *c.Logger
	}
	return zerolog.Nop()
}
