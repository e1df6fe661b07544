package main

import (
	"github.com/spf13/cobra"

	"github.com/sarchlab/cachesim/trace"
)

func newConfigCmd() *cobra.Command {
	flags := &configFlags{}

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as JSON.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.load(cmd)
			if err != nil {
				return err
			}

			data, err := cfg.JSON()
			if err != nil {
				return err
			}

			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}

	flags.register(cmd)

	return cmd
}

func newTraceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "trace",
		Short: "Print the built-in demonstration trace in text form.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return trace.WriteText(cmd.OutOrStdout(), trace.Builtin())
		},
	}
}
