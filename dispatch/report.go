package dispatch

import (
	"fmt"
	"io"

	"github.com/sarchlab/cachesim/cache"
	"github.com/sarchlab/cachesim/record"
)

// BankSummary holds the final statistics of one bank.
type BankSummary struct {
	Name     string
	Stats    cache.Statistics
	HitRatio cache.Ratio
}

func summarize(b *cache.Bank) BankSummary {
	stats := b.Stats()
	return BankSummary{
		Name:     b.Config().Name,
		Stats:    stats,
		HitRatio: stats.HitRatio(),
	}
}

func (s BankSummary) entry() record.SummaryEntry {
	return record.SummaryEntry{
		Bank:            s.Name,
		Hits:            s.Stats.Hits,
		Misses:          s.Stats.Misses,
		Reads:           s.Stats.Reads,
		Writes:          s.Stats.Writes,
		Evictions:       s.Stats.Evictions,
		Writebacks:      s.Stats.Writebacks,
		HitRatio:        s.HitRatio.Value,
		HitRatioDefined: s.HitRatio.Defined,
	}
}

// Report is the outcome of a trace run.
type Report struct {
	Data        BankSummary
	Instruction BankSummary

	// Records counts every record processed, Ignored the EvictL2 and
	// unrecognized ones.
	Records uint64
	Ignored uint64

	// Divergences counts accesses where the reference model disagreed.
	Divergences uint64
}

// Write prints one summary line per bank, data cache first.
func (r Report) Write(w io.Writer) error {
	for _, s := range []BankSummary{r.Data, r.Instruction} {
		_, err := fmt.Fprintf(w, "%s: Hits = %d, Misses = %d, Hit Ratio = %s\n",
			s.Name, s.Stats.Hits, s.Stats.Misses, s.HitRatio)
		if err != nil {
			return err
		}
	}
	return nil
}
