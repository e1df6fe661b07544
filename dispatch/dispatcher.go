// Package dispatch replays a memory-operation trace on an instruction cache
// and a data cache.
package dispatch

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/sarchlab/cachesim/cache"
	"github.com/sarchlab/cachesim/record"
	"github.com/sarchlab/cachesim/trace"
)

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithVerbose enables read-miss and write-back diagnostics on the banks.
func WithVerbose(verbose bool) Option {
	return func(d *Dispatcher) {
		d.verbose = verbose
	}
}

// WithStateWriter sets where print-state operations dump the banks.
func WithStateWriter(w io.Writer) Option {
	return func(d *Dispatcher) {
		d.stateWriter = w
	}
}

// WithReference cross-checks every access against reference models of the
// data and instruction banks.
func WithReference(data, instruction *cache.Reference) Option {
	return func(d *Dispatcher) {
		d.dataRef = data
		d.instRef = instruction
	}
}

// WithRecorder records every access and the final summaries.
func WithRecorder(r record.Recorder) Option {
	return func(d *Dispatcher) {
		d.recorder = r
	}
}

// Dispatcher routes trace records to the bank they address.
type Dispatcher struct {
	data        *cache.Bank
	instruction *cache.Bank

	verbose     bool
	stateWriter io.Writer
	dataRef     *cache.Reference
	instRef     *cache.Reference
	recorder    record.Recorder

	records     uint64
	ignored     uint64
	divergences uint64
}

// New creates a dispatcher over a data bank and an instruction bank.
func New(data, instruction *cache.Bank, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		data:        data,
		instruction: instruction,
		stateWriter: os.Stdout,
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Run processes every record of p in order and returns the report. Bank
// state and counters carry over between runs.
func (d *Dispatcher) Run(p trace.Provider) (Report, error) {
	for {
		r, err := p.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return d.Report(), fmt.Errorf("record %d: %w", d.records, err)
		}

		seq := d.records
		if err := d.Dispatch(r); err != nil {
			return d.Report(), fmt.Errorf("record %d: %w", seq, err)
		}
	}

	report := d.Report()
	if d.recorder != nil {
		d.recorder.RecordSummary(report.Data.entry())
		d.recorder.RecordSummary(report.Instruction.entry())
		if err := d.recorder.Flush(); err != nil {
			return report, fmt.Errorf("failed to flush recorder: %w", err)
		}
	}

	return report, nil
}

// Dispatch applies a single record.
func (d *Dispatcher) Dispatch(r trace.Record) error {
	seq := d.records
	d.records++

	switch r.Op {
	case trace.ReadData, trace.WriteData:
		d.access(seq, r, d.data, d.dataRef, r.Op == trace.WriteData)
	case trace.InstructionFetch:
		d.access(seq, r, d.instruction, d.instRef, false)
	case trace.ClearCache:
		d.data.Reset()
		d.instruction.Reset()
		if d.dataRef != nil {
			d.dataRef.Reset()
		}
		if d.instRef != nil {
			d.instRef.Reset()
		}
	case trace.PrintState:
		if err := d.data.DumpState(d.stateWriter); err != nil {
			return fmt.Errorf("failed to dump data cache: %w", err)
		}
		if err := d.instruction.DumpState(d.stateWriter); err != nil {
			return fmt.Errorf("failed to dump instruction cache: %w", err)
		}
	default:
		// EvictL2 and unrecognized codes leave every bank untouched.
		d.ignored++
	}

	return nil
}

func (d *Dispatcher) access(
	seq uint64,
	r trace.Record,
	bank *cache.Bank,
	ref *cache.Reference,
	isWrite bool,
) {
	result := bank.Access(r.Addr, isWrite, d.verbose)

	if ref != nil {
		want := ref.Access(r.Addr, isWrite)
		if want.Hit != result.Hit ||
			want.WroteBack != result.WroteBack ||
			want.WritebackAddr != result.WritebackAddr {
			d.divergences++
		}
	}

	if d.recorder != nil {
		d.recorder.RecordAccess(record.AccessEntry{
			Seq:           seq,
			Bank:          bank.Config().Name,
			Op:            r.Op.String(),
			Addr:          r.Addr,
			Hit:           result.Hit,
			WroteBack:     result.WroteBack,
			WritebackAddr: result.WritebackAddr,
		})
	}
}

// Report snapshots the current statistics of both banks.
func (d *Dispatcher) Report() Report {
	return Report{
		Data:        summarize(d.data),
		Instruction: summarize(d.instruction),
		Records:     d.records,
		Ignored:     d.ignored,
		Divergences: d.divergences,
	}
}
