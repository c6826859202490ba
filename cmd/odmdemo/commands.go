package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var keepData bool

func newScenarioCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scenario",
		Short: "Seed the sample data and print the reference queries",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := newRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()
			return rt.dispatch(cmd.Context(), cmd.OutOrStdout(), actionScenario)
		},
	}
	cmd.Flags().BoolVar(&keepData, "keep", false, "Leave the seeded documents in place")
	return cmd
}

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Stream the Authors listing until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := newRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			rt.log.Info("Watching Authors, press Ctrl+C to stop")
			return rt.dispatch(ctx, cmd.OutOrStdout(), actionWatch)
		},
	}
}
