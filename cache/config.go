// Package cache models set-associative cache banks with LRU replacement and
// write-back dirty-line handling.
package cache

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidConfig is returned when a bank geometry cannot be simulated.
var ErrInvalidConfig = errors.New("invalid cache configuration")

// Reference geometry of the L1 caches.
const (
	DefaultLineSize        = 64
	DefaultNumSets         = 16384
	DefaultInstructionWays = 2
	DefaultDataWays        = 4
)

// Config holds the geometry of one cache bank.
type Config struct {
	// Name is used in reports and recordings.
	Name string
	// LineSize in bytes
	LineSize int
	// NumSets is the number of sets in the bank.
	NumSets int
	// Ways is the associativity (number of ways per set).
	Ways int
}

// DefaultInstructionConfig returns the reference L1 instruction cache:
// 16K sets, 2-way, 64B lines.
func DefaultInstructionConfig() Config {
	return Config{
		Name:     "Instruction Cache",
		LineSize: DefaultLineSize,
		NumSets:  DefaultNumSets,
		Ways:     DefaultInstructionWays,
	}
}

// DefaultDataConfig returns the reference L1 data cache:
// 16K sets, 4-way, 64B lines.
func DefaultDataConfig() Config {
	return Config{
		Name:     "Data Cache",
		LineSize: DefaultLineSize,
		NumSets:  DefaultNumSets,
		Ways:     DefaultDataWays,
	}
}

// Validate checks that the geometry can index a set and select a victim.
func (c Config) Validate() error {
	if c.LineSize <= 0 {
		return fmt.Errorf("%w: line size must be > 0, got %d",
			ErrInvalidConfig, c.LineSize)
	}
	if c.NumSets <= 0 {
		return fmt.Errorf("%w: number of sets must be > 0, got %d",
			ErrInvalidConfig, c.NumSets)
	}
	if c.Ways <= 0 {
		return fmt.Errorf("%w: number of ways must be > 0, got %d",
			ErrInvalidConfig, c.Ways)
	}

	// Addresses are 32 bits wide.
	if uint64(c.LineSize) > math.MaxUint32 {
		return fmt.Errorf("%w: line size must fit in 32 bits, got %d",
			ErrInvalidConfig, c.LineSize)
	}
	if uint64(c.NumSets) > math.MaxUint32 {
		return fmt.Errorf("%w: number of sets must fit in 32 bits, got %d",
			ErrInvalidConfig, c.NumSets)
	}
	return nil
}
