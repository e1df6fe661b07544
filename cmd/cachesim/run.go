package main

import (
	"bufio"
	"fmt"
	"os"
	"runtime/pprof"

	"github.com/spf13/cobra"

	"github.com/sarchlab/cachesim/cache"
	"github.com/sarchlab/cachesim/config"
	"github.com/sarchlab/cachesim/dispatch"
	"github.com/sarchlab/cachesim/record"
	"github.com/sarchlab/cachesim/trace"
)

// configFlags are shared by the commands that need a configuration.
type configFlags struct {
	configPath string
	envFile    string
	verbose    bool
	quiet      bool
}

func (f *configFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.configPath, "config", "",
		"Path to a JSON configuration file")
	cmd.Flags().StringVar(&f.envFile, "env", "",
		"Path to an env file with CACHESIM_* overrides (default .env if present)")
	cmd.Flags().BoolVarP(&f.verbose, "verbose", "v", false,
		"Report read misses and dirty write-backs")
	cmd.Flags().BoolVarP(&f.quiet, "quiet", "q", false,
		"Suppress read-miss and write-back diagnostics")
}

// load resolves defaults, then the config file, then the environment, then
// the command-line switches.
func (f *configFlags) load(cmd *cobra.Command) (*config.SimConfig, error) {
	cfg := config.Default()
	if f.configPath != "" {
		var err error
		cfg, err = config.LoadConfig(f.configPath)
		if err != nil {
			return nil, err
		}
	}

	if err := cfg.ApplyEnv(f.envFile); err != nil {
		return nil, err
	}

	if cmd.Flags().Changed("verbose") {
		cfg.Verbose = f.verbose
	}
	if f.quiet {
		cfg.Verbose = false
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

type runOptions struct {
	configFlags

	check      bool
	recordPath string
	record     bool
	cpuProfile string
}

func newRunCmd() *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run [trace-file]",
		Short: "Replay a trace on the instruction and data caches.",
		Long: `Replay a trace on the instruction and data caches. Each trace line ` +
			`holds a decimal operation code and a hexadecimal address. Without ` +
			`a file the built-in demonstration trace is used; "-" reads stdin.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.record = cmd.Flags().Changed("record")
			return opts.run(cmd, args)
		},
	}

	opts.configFlags.register(cmd)
	cmd.Flags().BoolVar(&opts.check, "check", false,
		"Cross-check every access against the Akita directory model")
	cmd.Flags().StringVar(&opts.recordPath, "record", "",
		"Record accesses and summaries into <path>.sqlite3 (--record= names the file after the run)")
	cmd.Flags().StringVar(&opts.cpuProfile, "cpuprofile", "",
		"Write a CPU profile to file")

	return cmd
}

func (o *runOptions) run(cmd *cobra.Command, args []string) error {
	cfg, err := o.load(cmd)
	if err != nil {
		return err
	}

	if o.cpuProfile != "" {
		f, err := os.Create(o.cpuProfile)
		if err != nil {
			return fmt.Errorf("failed to create CPU profile: %w", err)
		}
		defer func() { _ = f.Close() }()

		if err := pprof.StartCPUProfile(f); err != nil {
			return fmt.Errorf("failed to start CPU profile: %w", err)
		}
		defer pprof.StopCPUProfile()
	}

	provider, closeTrace, err := openTrace(cmd, args)
	if err != nil {
		return err
	}
	defer closeTrace()

	out := bufio.NewWriter(cmd.OutOrStdout())
	defer func() { _ = out.Flush() }()

	data, err := cache.New(cfg.DataBank(), cache.WithDiagnostics(out))
	if err != nil {
		return err
	}
	instruction, err := cache.New(cfg.InstructionBank(), cache.WithDiagnostics(out))
	if err != nil {
		return err
	}

	dispatchOpts := []dispatch.Option{
		dispatch.WithVerbose(cfg.Verbose),
		dispatch.WithStateWriter(out),
	}

	if o.check {
		refOpts, err := referenceOption(cfg)
		if err != nil {
			return err
		}
		dispatchOpts = append(dispatchOpts, refOpts)
	}

	if o.record {
		recorder, err := record.NewSQLiteRecorder(o.recordPath)
		if err != nil {
			return err
		}
		defer func() { _ = recorder.Close() }()

		fmt.Fprintf(cmd.ErrOrStderr(), "Recording run %s to %s\n",
			recorder.RunID(), recorder.Filename())
		dispatchOpts = append(dispatchOpts, dispatch.WithRecorder(recorder))
	}

	d := dispatch.New(data, instruction, dispatchOpts...)
	report, err := d.Run(provider)
	if err != nil {
		return err
	}

	if err := report.Write(out); err != nil {
		return err
	}

	if o.check {
		fmt.Fprintf(out, "Reference check: %d divergences\n", report.Divergences)
		if report.Divergences > 0 {
			return fmt.Errorf("reference model disagreed on %d accesses",
				report.Divergences)
		}
	}

	return nil
}

func referenceOption(cfg *config.SimConfig) (dispatch.Option, error) {
	dataRef, err := cache.NewReference(cfg.DataBank())
	if err != nil {
		return nil, err
	}
	instRef, err := cache.NewReference(cfg.InstructionBank())
	if err != nil {
		return nil, err
	}
	return dispatch.WithReference(dataRef, instRef), nil
}

func openTrace(cmd *cobra.Command, args []string) (trace.Provider, func(), error) {
	if len(args) == 0 {
		return trace.NewSliceProvider(trace.Builtin()), func() {}, nil
	}

	if args[0] == "-" {
		return trace.NewReader(cmd.InOrStdin()), func() {}, nil
	}

	f, err := os.Open(args[0])
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open trace: %w", err)
	}

	return trace.NewReader(f), func() { _ = f.Close() }, nil
}
