package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"kiln/internal/portmon"
)

func newPortsCommand(cctx *commandContext) *cobra.Command {
	var waitAttach bool
	var waitTimeout time.Duration

	cmd := &cobra.Command{
		Use:   "ports",
		Short: "List attached serial ports",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := portmon.Supported(); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			ports := portmon.ScanPorts()
			for _, port := range ports {
				fmt.Fprintln(out, port)
			}

			if !waitAttach {
				if len(ports) == 0 {
					fmt.Fprintln(out, "No serial ports attached.")
				}
				return nil
			}

			logger, err := cctx.ensureLogger()
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			if waitTimeout > 0 {
				var timeoutCancel context.CancelFunc
				ctx, timeoutCancel = context.WithTimeout(ctx, waitTimeout)
				defer timeoutCancel()
			}

			fmt.Fprintln(out, "Waiting for a board to be plugged in...")
			port, err := portmon.NewMonitor(logger).WaitForAttach(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, port)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&waitAttach, "wait", "w", false, "Wait for the next board to be plugged in")
	cmd.Flags().DurationVar(&waitTimeout, "wait-timeout", 2*time.Minute, "How long to wait with --wait")
	return cmd
}
