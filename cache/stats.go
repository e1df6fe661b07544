package cache

import (
	"math"
	"strconv"
)

// Statistics holds cache bank counters.
type Statistics struct {
	Hits       uint64
	Misses     uint64
	Reads      uint64
	Writes     uint64
	Evictions  uint64
	Writebacks uint64
}

// Accesses returns the number of accesses routed to the bank.
func (s Statistics) Accesses() uint64 {
	return s.Hits + s.Misses
}

// HitRatio returns hits / (hits + misses). A bank that has not been accessed
// has no defined ratio.
func (s Statistics) HitRatio() Ratio {
	total := s.Accesses()
	if total == 0 {
		return Ratio{Value: math.NaN()}
	}
	return Ratio{
		Value:   float64(s.Hits) / float64(total),
		Defined: true,
	}
}

// Ratio is a fraction that may be undefined.
type Ratio struct {
	Value   float64
	Defined bool
}

// String formats the ratio, or "undefined" when there is no denominator.
func (r Ratio) String() string {
	if !r.Defined {
		return "undefined"
	}
	return strconv.FormatFloat(r.Value, 'g', 6, 64)
}
