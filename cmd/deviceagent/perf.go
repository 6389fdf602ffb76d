package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	deviceagent "github.com/httprunner/DeviceAgent"
	"github.com/httprunner/DeviceAgent/internal/config"
)

func newPerfCmd() *cobra.Command {
	var (
		flagDevice       string
		flagPackage      string
		flagPollInterval time.Duration
		flagOnce         bool
	)

	cmd := &cobra.Command{
		Use:   "perf",
		Short: "Sample device performance metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			agent, err := deviceagent.New(deviceagent.Config{})
			if err != nil {
				return err
			}
			if flagOnce {
				snap, err := agent.PerfSnapshot(ctx, flagDevice, flagPackage)
				if err != nil {
					return err
				}
				return json.NewEncoder(os.Stdout).Encode(snap)
			}

			info, err := agent.StartPerfMonitor(ctx, flagDevice, flagPackage, flagPollInterval)
			if err != nil {
				return err
			}
			log.Info().Str("session", info.SessionID).Str("device", info.DeviceID).
				Dur("poll_interval", info.PollInterval).Msg("perf monitor running")

			sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()
			<-sigCtx.Done()

			summary, err := agent.StopPerfMonitor(info.SessionID)
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(summary, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}

	cmd.Flags().StringVar(&flagDevice, "device", "", "Device serial (empty auto-resolves)")
	cmd.Flags().StringVar(&flagPackage, "package", "", "App package to scope CPU/memory/FPS metrics to")
	cmd.Flags().DurationVar(&flagPollInterval, "poll-interval",
		config.Duration("DEVICEAGENT_PERF_INTERVAL", 2*time.Second),
		"Sampling interval when running continuously")
	cmd.Flags().BoolVar(&flagOnce, "once", false, "Collect a single snapshot and exit")

	return cmd
}
