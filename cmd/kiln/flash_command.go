package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"kiln/internal/audio"
	"kiln/internal/catalog"
	"kiln/internal/errclass"
	"kiln/internal/firmware"
	"kiln/internal/flasher/esptool"
	"kiln/internal/portmon"
	"kiln/internal/session"
	"kiln/internal/telemetry"
)

const version = "0.3.0"

func newFlashCommand(cctx *commandContext) *cobra.Command {
	var (
		portFlag    string
		baudFlag    int
		eraseAll    bool
		waitAttach  bool
		waitTimeout time.Duration
		timeoutFlag time.Duration
		catalogFlag string
		noAudio     bool
	)

	cmd := &cobra.Command{
		Use:   "flash <project-id>",
		Short: "Flash a project's firmware onto a connected board",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := cctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := cctx.ensureLogger()
			if err != nil {
				return err
			}

			if err := portmon.Supported(); err != nil {
				return err
			}

			catalogPath := strings.TrimSpace(catalogFlag)
			if catalogPath == "" {
				catalogPath = cfg.Paths.CatalogPath
			}
			cat, err := catalog.Load(catalogPath)
			if err != nil {
				return err
			}
			project, ok := cat.Project(args[0])
			if !ok {
				return fmt.Errorf("unknown project %q (see `kiln projects`)", args[0])
			}
			if !project.IsEnabled() {
				return fmt.Errorf("project %q is disabled in the catalog", project.ID)
			}

			localizer, err := cctx.localizer()
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			if timeoutFlag > 0 {
				var timeoutCancel context.CancelFunc
				ctx, timeoutCancel = context.WithTimeout(ctx, timeoutFlag)
				defer timeoutCancel()
			}

			audioCfg := cfg.Audio
			if noAudio {
				audioCfg.Enabled = false
			}
			audioSvc := audio.New(audioCfg, localizer, logger)
			defer audioSvc.Close()

			port, err := resolvePort(ctx, portFlag, waitAttach, waitTimeout, audioSvc, logger, cmd)
			if err != nil {
				return err
			}

			baud := baudFlag
			if baud <= 0 {
				baud = cfg.Flash.Baud
			}
			opener, err := esptool.New(cfg.Flash.EsptoolBinary)
			if err != nil {
				return err
			}

			interactive := isatty.IsTerminal(os.Stdout.Fd())
			observer := newFlashObserver(cmd.OutOrStdout(), interactive)

			sess, err := session.New(session.Options{
				Project:         project,
				Port:            port,
				Baud:            baud,
				EraseAll:        eraseAll || cfg.Flash.EraseAll,
				Opener:          opener,
				Fetcher:         firmware.New(cfg.Paths.FirmwareDir, logger),
				CapabilityCheck: portmon.Supported,
				Audio:           audioSvc,
				Reporter:        telemetry.New(cfg.Telemetry, logger),
				Observer:        observer,
				Logger:          logger,
				Weights: session.Weights{
					DownloadEnd: cfg.Flash.WeightDownloadEnd,
					ConnectEnd:  cfg.Flash.WeightConnectEnd,
					EraseEnd:    cfg.Flash.WeightEraseEnd,
				},
				Context: map[string]string{
					"os":      runtime.GOOS,
					"arch":    runtime.GOARCH,
					"version": version,
				},
			})
			if err != nil {
				return err
			}

			runErr := sess.Run(ctx)
			observer.Finish(runErr == nil)
			if runErr != nil {
				category := errclass.Classify(runErr.Error())
				if hint := errclass.Hint(category); hint != "" {
					fmt.Fprintf(cmd.ErrOrStderr(), "Hint: %s\n", hint)
				}
				return runErr
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Flashed %s to %s\n", project.ID, port)
			return nil
		},
	}

	cmd.Flags().StringVarP(&portFlag, "port", "p", "", "Serial port (auto-detected when omitted)")
	cmd.Flags().IntVarP(&baudFlag, "baud", "b", 0, "Baud rate (defaults to the configured rate)")
	cmd.Flags().BoolVar(&eraseAll, "erase-all", false, "Erase the entire flash before writing")
	cmd.Flags().BoolVarP(&waitAttach, "wait", "w", false, "Wait for a board to be plugged in")
	cmd.Flags().DurationVar(&waitTimeout, "wait-timeout", 2*time.Minute, "How long to wait for a board with --wait")
	cmd.Flags().DurationVar(&timeoutFlag, "timeout", 0, "Abort the whole flash after this duration (0 disables)")
	cmd.Flags().StringVar(&catalogFlag, "catalog", "", "Catalog manifest path (defaults to the configured path)")
	cmd.Flags().BoolVar(&noAudio, "no-audio", false, "Disable audio cues for this run")
	return cmd
}

// resolvePort picks the serial port to flash: the explicit flag, a single
// attached port, or, with --wait, the next board that gets plugged in.
func resolvePort(ctx context.Context, flag string, wait bool, timeout time.Duration, audioSvc audio.Service, logger *slog.Logger, cmd *cobra.Command) (string, error) {
	if port := strings.TrimSpace(flag); port != "" {
		audioSvc.Cue(audio.EventPortSelected)
		return port, nil
	}

	ports := portmon.ScanPorts()
	switch {
	case len(ports) == 1:
		fmt.Fprintf(cmd.OutOrStdout(), "Using serial port %s\n", ports[0])
		audioSvc.Cue(audio.EventPortSelected)
		return ports[0], nil
	case len(ports) > 1:
		return "", fmt.Errorf("multiple serial ports attached (%s), pick one with --port", strings.Join(ports, ", "))
	}

	if !wait {
		return "", portmon.ErrNoPort
	}

	audioSvc.Cue(audio.EventDialogOpen)
	fmt.Fprintln(cmd.OutOrStdout(), "Waiting for a board to be plugged in...")

	waitCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	port, err := portmon.NewMonitor(logger).WaitForAttach(waitCtx)
	if err != nil {
		return "", fmt.Errorf("no board attached: %w", err)
	}
	audioSvc.Cue(audio.EventPortSelected)
	fmt.Fprintf(cmd.OutOrStdout(), "Detected %s\n", port)
	return port, nil
}
