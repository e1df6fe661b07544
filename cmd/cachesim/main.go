// Package main provides the entry point for cachesim, a functional simulator
// of the L1 instruction and data caches driven by a memory trace.
package main

import (
	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		atexit.Exit(1)
	}
	atexit.Exit(0)
}

// newRootCmd builds the command tree. Flags bind to per-tree options so that
// trees can be built more than once.
func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "cachesim",
		Short: "Functional simulator of set-associative L1 caches.",
		Long: `cachesim replays a trace of memory operations on an instruction ` +
			`cache and a data cache, reporting hits, misses, write-backs, and ` +
			`hit ratios. Replacement is LRU with write-back dirty lines.`,
		SilenceUsage: true,
	}

	root.AddCommand(newRunCmd())
	root.AddCommand(newConfigCmd())
	root.AddCommand(newTraceCmd())

	return root
}
