package cache

import (
	akitacache "github.com/sarchlab/akita/v4/mem/cache"
)

// ReferenceResult contains the outcome of an access on the reference model.
type ReferenceResult struct {
	Hit           bool
	WroteBack     bool
	WritebackAddr uint32
}

// Reference is a tag-only model of a bank built on Akita's cache directory
// and its LRU victim finder. It is used to cross-check Bank.
type Reference struct {
	config Config

	// Akita cache directory for tag/state management
	directory *akitacache.DirectoryImpl
}

// NewReference creates a reference model with the same geometry as a bank.
func NewReference(config Config) (*Reference, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &Reference{
		config: config,
		directory: akitacache.NewDirectory(
			config.NumSets,
			config.Ways,
			config.LineSize,
			akitacache.NewLRUVictimFinder(),
		),
	}, nil
}

// Access performs a lookup, allocating the line on a miss.
func (r *Reference) Access(addr uint32, isWrite bool) ReferenceResult {
	// Akita tags blocks with their line-aligned address.
	lineSize := uint64(r.config.LineSize)
	blockAddr := (uint64(addr) / lineSize) * lineSize

	block := r.directory.Lookup(0, blockAddr) // PID=0
	if block != nil && block.IsValid {
		if isWrite {
			block.IsDirty = true
		}
		r.directory.Visit(block) // Update LRU

		return ReferenceResult{Hit: true}
	}

	result := ReferenceResult{}

	victim := r.directory.FindVictim(blockAddr)
	if victim == nil {
		// This shouldn't happen with proper directory setup
		return result
	}

	if victim.IsValid && victim.IsDirty {
		result.WroteBack = true
		result.WritebackAddr = uint32(victim.Tag)
	}

	victim.Tag = blockAddr
	victim.IsValid = true
	victim.IsDirty = isWrite

	r.directory.Visit(victim)

	return result
}

// Reset invalidates all lines.
func (r *Reference) Reset() {
	r.directory.Reset()
}

// ValidLines returns the number of valid lines in the directory.
func (r *Reference) ValidLines() int {
	n := 0
	for _, set := range r.directory.GetSets() {
		for _, block := range set.Blocks {
			if block.IsValid {
				n++
			}
		}
	}
	return n
}
