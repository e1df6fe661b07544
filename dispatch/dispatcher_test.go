package dispatch_test

import (
	"bytes"
	"errors"
	"io"
	"math/rand"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	gomock "go.uber.org/mock/gomock"

	"github.com/sarchlab/cachesim/cache"
	"github.com/sarchlab/cachesim/dispatch"
	"github.com/sarchlab/cachesim/record"
	"github.com/sarchlab/cachesim/trace"
)

var _ = Describe("Dispatcher", func() {
	var (
		mockCtrl    *gomock.Controller
		diag        *bytes.Buffer
		state       *bytes.Buffer
		data        *cache.Bank
		instruction *cache.Bank
	)

	newBank := func(config cache.Config) *cache.Bank {
		b, err := cache.New(config, cache.WithDiagnostics(diag))
		Expect(err).NotTo(HaveOccurred())
		return b
	}

	tinyConfig := func(name string, ways int) cache.Config {
		return cache.Config{Name: name, LineSize: 1, NumSets: 1, Ways: ways}
	}

	run := func(d *dispatch.Dispatcher, records ...trace.Record) dispatch.Report {
		report, err := d.Run(trace.NewSliceProvider(records))
		Expect(err).NotTo(HaveOccurred())
		return report
	}

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		diag = &bytes.Buffer{}
		state = &bytes.Buffer{}
		data = newBank(tinyConfig("Data Cache", 4))
		instruction = newBank(tinyConfig("Instruction Cache", 2))
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	Describe("Routing", func() {
		It("should send data reads and writes to the data bank", func() {
			d := dispatch.New(data, instruction, dispatch.WithStateWriter(state))
			report := run(d,
				trace.Record{Op: trace.ReadData, Addr: 1},
				trace.Record{Op: trace.WriteData, Addr: 1},
			)

			Expect(report.Data.Stats.Reads).To(Equal(uint64(1)))
			Expect(report.Data.Stats.Writes).To(Equal(uint64(1)))
			Expect(report.Data.Stats.Hits).To(Equal(uint64(1)))
			Expect(report.Instruction.Stats.Accesses()).To(BeZero())
			Expect(data.Line(0, 0).Dirty).To(BeTrue())
		})

		It("should send instruction fetches to the instruction bank as reads", func() {
			d := dispatch.New(data, instruction, dispatch.WithStateWriter(state))
			report := run(d,
				trace.Record{Op: trace.InstructionFetch, Addr: 5},
				trace.Record{Op: trace.InstructionFetch, Addr: 5},
			)

			Expect(report.Instruction.Stats.Reads).To(Equal(uint64(2)))
			Expect(report.Instruction.Stats.Writes).To(BeZero())
			Expect(report.Instruction.Stats.Hits).To(Equal(uint64(1)))
			Expect(report.Data.Stats.Accesses()).To(BeZero())
		})

		It("should reset both banks on clear-cache", func() {
			d := dispatch.New(data, instruction, dispatch.WithStateWriter(state))
			report := run(d,
				trace.Record{Op: trace.ReadData, Addr: 1},
				trace.Record{Op: trace.InstructionFetch, Addr: 2},
				trace.Record{Op: trace.ClearCache},
				trace.Record{Op: trace.ReadData, Addr: 1},
			)

			Expect(report.Data.Stats).To(Equal(cache.Statistics{Misses: 1, Reads: 1}))
			Expect(report.Instruction.Stats).To(Equal(cache.Statistics{}))
			Expect(instruction.Line(0, 0).Valid).To(BeFalse())
		})

		It("should ignore evict-l2 and unrecognized codes", func() {
			d := dispatch.New(data, instruction, dispatch.WithStateWriter(state))
			run(d, trace.Record{Op: trace.WriteData, Addr: 3})
			before := d.Report()

			report := run(d,
				trace.Record{Op: trace.EvictL2, Addr: 3},
				trace.Record{Op: 4, Addr: 3},
				trace.Record{Op: 5, Addr: 3},
				trace.Record{Op: 6, Addr: 3},
				trace.Record{Op: 7, Addr: 3},
				trace.Record{Op: 42, Addr: 3},
				trace.Record{Op: -1, Addr: 3},
			)

			Expect(report.Data.Stats).To(Equal(before.Data.Stats))
			Expect(report.Instruction.Stats).To(Equal(before.Instruction.Stats))
			Expect(report.Ignored).To(Equal(uint64(7)))
			Expect(report.Records).To(Equal(uint64(8)))
			Expect(data.Line(0, 0).Dirty).To(BeTrue())
			Expect(state.Len()).To(BeZero())
		})

		It("should process records strictly in order", func() {
			provider := NewMockProvider(mockCtrl)
			gomock.InOrder(
				provider.EXPECT().Next().Return(trace.Record{Op: trace.ReadData, Addr: 1}, nil),
				provider.EXPECT().Next().Return(trace.Record{Op: trace.ClearCache}, nil),
				provider.EXPECT().Next().Return(trace.Record{Op: trace.ReadData, Addr: 1}, nil),
				provider.EXPECT().Next().Return(trace.Record{}, io.EOF),
			)

			d := dispatch.New(data, instruction, dispatch.WithStateWriter(state))
			report, err := d.Run(provider)

			Expect(err).NotTo(HaveOccurred())
			Expect(report.Data.Stats.Hits).To(BeZero())
			Expect(report.Data.Stats.Misses).To(Equal(uint64(1)))
		})
	})

	Describe("State dump", func() {
		It("should dump the data bank and then the instruction bank", func() {
			d := dispatch.New(data, instruction, dispatch.WithStateWriter(state))
			run(d,
				trace.Record{Op: trace.WriteData, Addr: 0xa},
				trace.Record{Op: trace.InstructionFetch, Addr: 0xb},
				trace.Record{Op: trace.PrintState},
			)

			Expect(state.String()).To(Equal(
				"Set 0: [Tag: a, LRU: 0, Dirty: 1] \n" +
					"Set 0: [Tag: b, LRU: 0, Dirty: 0] \n"))
		})

		It("should not change any counter or outcome", func() {
			records := []trace.Record{
				{Op: trace.ReadData, Addr: 1},
				{Op: trace.ReadData, Addr: 2},
				{Op: trace.ReadData, Addr: 3},
				{Op: trace.ReadData, Addr: 4},
				{Op: trace.ReadData, Addr: 5},
			}

			withDumps := []trace.Record{}
			for _, r := range records {
				withDumps = append(withDumps, r,
					trace.Record{Op: trace.PrintState},
					trace.Record{Op: trace.PrintState})
			}

			plain := run(dispatch.New(
				newBank(tinyConfig("Data Cache", 4)),
				newBank(tinyConfig("Instruction Cache", 2)),
				dispatch.WithStateWriter(io.Discard)), records...)
			dumped := run(dispatch.New(data, instruction,
				dispatch.WithStateWriter(state)), withDumps...)

			Expect(dumped.Data.Stats).To(Equal(plain.Data.Stats))
			Expect(dumped.Instruction.Stats).To(Equal(plain.Instruction.Stats))
		})
	})

	Describe("Verbose diagnostics", func() {
		It("should report read misses and dirty evictions only when verbose", func() {
			records := []trace.Record{
				{Op: trace.WriteData, Addr: 1},
				{Op: trace.ReadData, Addr: 2},
				{Op: trace.ReadData, Addr: 3},
				{Op: trace.ReadData, Addr: 4},
				{Op: trace.ReadData, Addr: 5},
			}

			run(dispatch.New(data, instruction,
				dispatch.WithStateWriter(state)), records...)
			Expect(diag.Len()).To(BeZero())

			data.Reset()
			run(dispatch.New(data, instruction,
				dispatch.WithStateWriter(state),
				dispatch.WithVerbose(true)), records...)
			Expect(diag.String()).To(Equal(
				"Read from L2 2\n" +
					"Read from L2 3\n" +
					"Read from L2 4\n" +
					"Read from L2 5\n" +
					"Write to L2 1\n"))
		})
	})

	Describe("Report", func() {
		It("should mark an idle bank's hit ratio as undefined", func() {
			d := dispatch.New(data, instruction, dispatch.WithStateWriter(state))
			report := run(d, trace.Record{Op: trace.ReadData, Addr: 1})

			Expect(report.Data.HitRatio.Defined).To(BeTrue())
			Expect(report.Data.HitRatio.Value).To(BeZero())
			Expect(report.Instruction.HitRatio.Defined).To(BeFalse())

			out := &bytes.Buffer{}
			Expect(report.Write(out)).To(Succeed())
			Expect(out.String()).To(Equal(
				"Data Cache: Hits = 0, Misses = 1, Hit Ratio = 0\n" +
					"Instruction Cache: Hits = 0, Misses = 0, Hit Ratio = undefined\n"))
		})

		It("should reproduce the built-in trace with the reference geometry", func() {
			data = newBank(cache.DefaultDataConfig())
			instruction = newBank(cache.DefaultInstructionConfig())

			d := dispatch.New(data, instruction,
				dispatch.WithStateWriter(state),
				dispatch.WithVerbose(true))
			report := run(d, trace.Builtin()...)

			Expect(diag.String()).To(Equal(
				"Read from L2 408ed4\nRead from L2 10019d94\n"))
			Expect(state.String()).To(ContainSubstring(
				"Set 1654: [Tag: 400676, LRU: 0, Dirty: 1] \n"))
			Expect(state.String()).To(ContainSubstring(
				"Set 571: [Tag: 1023b, LRU: 0, Dirty: 0] \n"))
			Expect(strings.Count(state.String(), "\n")).To(Equal(2 * 16384))

			out := &bytes.Buffer{}
			Expect(report.Write(out)).To(Succeed())
			Expect(out.String()).To(Equal(
				"Data Cache: Hits = 1, Misses = 1, Hit Ratio = 0.5\n" +
					"Instruction Cache: Hits = 2, Misses = 1, Hit Ratio = 0.666667\n"))
		})
	})

	Describe("Errors", func() {
		It("should stop at a provider error", func() {
			readErr := errors.New("disk on fire")
			provider := NewMockProvider(mockCtrl)
			gomock.InOrder(
				provider.EXPECT().Next().Return(trace.Record{Op: trace.ReadData, Addr: 1}, nil),
				provider.EXPECT().Next().Return(trace.Record{}, readErr),
			)

			d := dispatch.New(data, instruction, dispatch.WithStateWriter(state))
			report, err := d.Run(provider)

			Expect(err).To(MatchError(readErr))
			Expect(err.Error()).To(ContainSubstring("record 1"))
			Expect(report.Data.Stats.Misses).To(Equal(uint64(1)))
		})

		It("should surface a malformed text trace", func() {
			d := dispatch.New(data, instruction, dispatch.WithStateWriter(state))
			_, err := d.Run(trace.NewReader(strings.NewReader("0 1\nbogus\n")))

			Expect(err).To(MatchError(trace.ErrMalformed))
		})
	})

	Describe("Recording", func() {
		It("should record each access and both summaries", func() {
			recorder := NewMockRecorder(mockCtrl)
			recorder.EXPECT().RecordAccess(record.AccessEntry{
				Seq: 0, Bank: "Data Cache", Op: "write-data", Addr: 7,
			})
			recorder.EXPECT().RecordAccess(record.AccessEntry{
				Seq: 2, Bank: "Instruction Cache", Op: "instruction-fetch", Addr: 9,
			})
			recorder.EXPECT().RecordSummary(gomock.Any()).Times(2)
			recorder.EXPECT().Flush().Return(nil)

			d := dispatch.New(data, instruction,
				dispatch.WithStateWriter(state),
				dispatch.WithRecorder(recorder))
			run(d,
				trace.Record{Op: trace.WriteData, Addr: 7},
				trace.Record{Op: trace.EvictL2, Addr: 7},
				trace.Record{Op: trace.InstructionFetch, Addr: 9},
			)
		})

		It("should report a failed flush", func() {
			recorder := NewMockRecorder(mockCtrl)
			recorder.EXPECT().RecordSummary(gomock.Any()).Times(2)
			recorder.EXPECT().Flush().Return(errors.New("no space"))

			d := dispatch.New(data, instruction,
				dispatch.WithStateWriter(state),
				dispatch.WithRecorder(recorder))
			_, err := d.Run(trace.NewSliceProvider(nil))

			Expect(err).To(MatchError(ContainSubstring("no space")))
		})
	})

	Describe("Cross-check", func() {
		It("should agree with the reference models", func() {
			dataConfig := cache.Config{Name: "Data Cache", LineSize: 64, NumSets: 8, Ways: 4}
			instConfig := cache.Config{Name: "Instruction Cache", LineSize: 64, NumSets: 8, Ways: 2}
			data = newBank(dataConfig)
			instruction = newBank(instConfig)

			dataRef, err := cache.NewReference(dataConfig)
			Expect(err).NotTo(HaveOccurred())
			instRef, err := cache.NewReference(instConfig)
			Expect(err).NotTo(HaveOccurred())

			ops := []trace.Op{
				trace.ReadData, trace.WriteData, trace.InstructionFetch,
				trace.ReadData, trace.WriteData, trace.InstructionFetch,
				trace.EvictL2, trace.ClearCache,
			}
			rng := rand.New(rand.NewSource(7))
			records := make([]trace.Record, 20000)
			for i := range records {
				records[i] = trace.Record{
					Op:   ops[rng.Intn(len(ops)-1)],
					Addr: uint32(rng.Intn(4096)),
				}
				if i%5000 == 2500 {
					records[i].Op = trace.ClearCache
				}
			}

			d := dispatch.New(data, instruction,
				dispatch.WithStateWriter(state),
				dispatch.WithReference(dataRef, instRef))
			report := run(d, records...)

			Expect(report.Divergences).To(BeZero())
			Expect(report.Data.Stats.Accesses()).NotTo(BeZero())
		})
	})
})
