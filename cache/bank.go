package cache

import (
	"fmt"
	"io"
	"os"
)

// Line is one way within one set.
type Line struct {
	Valid bool
	Dirty bool
	// Tag is the full line number (address / line size). The set-index bits
	// stay inside the tag.
	Tag uint32
	// Age counts accesses to other ways of the set since this way was last
	// touched. It is never clamped; uint64 wraparound is the only bound.
	Age uint64
}

// AccessResult contains the result of a bank access.
type AccessResult struct {
	// Hit indicates whether the access was a cache hit.
	Hit bool
	// SetIndex and Way locate the line that serviced the access.
	SetIndex int
	Way      int
	// Tag is the tag computed for the address.
	Tag uint32
	// WroteBack is true if a dirty line was evicted.
	WroteBack bool
	// WritebackAddr is the byte address of the evicted dirty line.
	WritebackAddr uint32
}

// Option configures a Bank.
type Option func(*Bank)

// WithDiagnostics redirects verbose access diagnostics.
func WithDiagnostics(w io.Writer) Option {
	return func(b *Bank) {
		b.diag = w
	}
}

// Bank is one set-associative cache instance.
type Bank struct {
	config Config
	sets   [][]Line
	stats  Statistics
	diag   io.Writer
}

// New creates a bank with the given geometry. All lines start invalid.
func New(config Config, opts ...Option) (*Bank, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	sets := make([][]Line, config.NumSets)
	lines := make([]Line, config.NumSets*config.Ways)
	for i := range sets {
		sets[i] = lines[i*config.Ways : (i+1)*config.Ways : (i+1)*config.Ways]
	}

	b := &Bank{
		config: config,
		sets:   sets,
		diag:   os.Stdout,
	}

	for _, opt := range opts {
		opt(b)
	}

	return b, nil
}

// Config returns the bank configuration.
func (b *Bank) Config() Config {
	return b.config
}

// Stats returns bank statistics.
func (b *Bank) Stats() Statistics {
	return b.stats
}

// NumSets returns the number of sets.
func (b *Bank) NumSets() int {
	return b.config.NumSets
}

// Ways returns the associativity.
func (b *Bank) Ways() int {
	return b.config.Ways
}

// Line returns a copy of the line at the given set and way.
func (b *Bank) Line(setIndex, way int) Line {
	return b.sets[setIndex][way]
}

// Locate returns the set index and tag an address maps to.
func (b *Bank) Locate(addr uint32) (setIndex int, tag uint32) {
	lineIndex := addr / uint32(b.config.LineSize)
	setIndex = int(lineIndex % uint32(b.config.NumSets))
	return setIndex, lineIndex
}

// Access looks up addr, filling the line on a miss. When verbose is set,
// read misses and dirty evictions are reported on the diagnostics writer.
func (b *Bank) Access(addr uint32, isWrite, verbose bool) AccessResult {
	setIndex, tag := b.Locate(addr)
	set := b.sets[setIndex]

	for way := range set {
		line := &set[way]
		if !line.Valid || line.Tag != tag {
			continue
		}

		b.stats.Hits++
		if isWrite {
			b.stats.Writes++
			line.Dirty = true
		} else {
			b.stats.Reads++
		}
		touch(set, way)

		return AccessResult{
			Hit:      true,
			SetIndex: setIndex,
			Way:      way,
			Tag:      tag,
		}
	}

	return b.handleMiss(addr, setIndex, tag, isWrite, verbose)
}

func (b *Bank) handleMiss(
	addr uint32,
	setIndex int,
	tag uint32,
	isWrite, verbose bool,
) AccessResult {
	set := b.sets[setIndex]

	b.stats.Misses++
	if isWrite {
		b.stats.Writes++
	} else {
		b.stats.Reads++
		if verbose {
			fmt.Fprintf(b.diag, "Read from L2 %x\n", addr)
		}
	}

	way := findVictim(set)
	victim := &set[way]

	result := AccessResult{
		SetIndex: setIndex,
		Way:      way,
		Tag:      tag,
	}

	if victim.Valid {
		b.stats.Evictions++
		if victim.Dirty {
			b.stats.Writebacks++
			result.WroteBack = true
			result.WritebackAddr = victim.Tag * uint32(b.config.LineSize)
			if verbose {
				fmt.Fprintf(b.diag, "Write to L2 %x\n", result.WritebackAddr)
			}
		}
	}

	victim.Valid = true
	victim.Dirty = isWrite
	victim.Tag = tag
	touch(set, way)

	return result
}

// findVictim prefers the lowest invalid way, then the oldest valid way. Ties
// on age keep the lowest way.
func findVictim(set []Line) int {
	victim := 0
	var maxAge uint64
	for way := range set {
		if !set[way].Valid {
			return way
		}
		if way == 0 || set[way].Age > maxAge {
			maxAge = set[way].Age
			victim = way
		}
	}
	return victim
}

// touch makes way the most recently used line of the set.
func touch(set []Line, way int) {
	for i := range set {
		if i == way {
			set[i].Age = 0
		} else {
			set[i].Age++
		}
	}
}

// Reset invalidates all lines and clears statistics. The tags are left in
// place but can no longer match.
func (b *Bank) Reset() {
	b.stats = Statistics{}
	for _, set := range b.sets {
		for way := range set {
			set[way].Valid = false
			set[way].Dirty = false
			set[way].Age = 0
		}
	}
}

// DumpState writes every valid line, one row per set.
func (b *Bank) DumpState(w io.Writer) error {
	for i, set := range b.sets {
		if _, err := fmt.Fprintf(w, "Set %d: ", i); err != nil {
			return err
		}
		for _, line := range set {
			if !line.Valid {
				continue
			}
			_, err := fmt.Fprintf(w, "[Tag: %x, LRU: %d, Dirty: %d] ",
				line.Tag, line.Age, boolToInt(line.Dirty))
			if err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintln(w); err != nil {
			return err
		}
	}
	return nil
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
