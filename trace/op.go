// Package trace defines memory-operation records and the providers that
// yield them in order.
package trace

import "fmt"

// Op is a trace operation code.
type Op int

// Operation codes. Values 4-7 are reserved.
const (
	ReadData         Op = 0
	WriteData        Op = 1
	InstructionFetch Op = 2
	// EvictL2 is reserved and has no effect.
	EvictL2    Op = 3
	ClearCache Op = 8
	PrintState Op = 9
)

// String returns the mnemonic of the operation.
func (o Op) String() string {
	switch o {
	case ReadData:
		return "read-data"
	case WriteData:
		return "write-data"
	case InstructionFetch:
		return "instruction-fetch"
	case EvictL2:
		return "evict-l2"
	case ClearCache:
		return "clear-cache"
	case PrintState:
		return "print-state"
	default:
		return fmt.Sprintf("op(%d)", int(o))
	}
}

// IsAccess reports whether the operation touches a cache bank.
func (o Op) IsAccess() bool {
	return o == ReadData || o == WriteData || o == InstructionFetch
}

// Record is one trace entry.
type Record struct {
	Op   Op
	Addr uint32
}

// Builtin returns the demonstration trace: a few instruction fetches around
// one data read and one data write, followed by a state dump.
func Builtin() []Record {
	return []Record{
		{Op: InstructionFetch, Addr: 0x408ED4},
		{Op: ReadData, Addr: 0x10019D94},
		{Op: WriteData, Addr: 0x10019D88},
		{Op: InstructionFetch, Addr: 0x408ED8},
		{Op: InstructionFetch, Addr: 0x408EDC},
		{Op: PrintState, Addr: 0},
	}
}
