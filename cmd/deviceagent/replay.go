package main

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	deviceagent "github.com/httprunner/DeviceAgent"
	"github.com/httprunner/DeviceAgent/pkg/storage"
)

func newReplayCmd() *cobra.Command {
	var (
		flagDevice string
		flagSpeed  float64
		flagFile   string
	)

	cmd := &cobra.Command{
		Use:   "replay [recording-id]",
		Short: "Replay an archived or exported recording on a device",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			var payload string
			switch {
			case flagFile != "":
				data, err := os.ReadFile(flagFile)
				if err != nil {
					return errors.Wrap(err, "read recording file")
				}
				payload = string(data)
			case len(args) == 1:
				store, err := storage.Open()
				if err != nil {
					return err
				}
				archived, err := store.Load(args[0])
				store.Close()
				if err != nil {
					return err
				}
				payload = archived.Payload
			default:
				return errors.New("a recording id or --file is required")
			}

			agent, err := deviceagent.New(deviceagent.Config{})
			if err != nil {
				return err
			}
			rec, err := agent.ImportRecording(payload)
			if err != nil {
				return err
			}
			result, err := agent.PlayRecording(ctx, rec.ID, flagDevice, flagSpeed)
			if err != nil {
				return err
			}
			for _, evErr := range result.Errors {
				log.Warn().Int("event", evErr.EventIndex).Str("error", evErr.Message).
					Msg("replay event failed")
			}
			fmt.Printf("played %d/%d events, success=%t\n",
				result.PlayedCount, result.TotalEvents, result.Success)
			if !result.Success {
				return errors.Errorf("replay finished with %d event errors", len(result.Errors))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&flagDevice, "device", "", "Target device serial (empty replays on the recording's original device)")
	cmd.Flags().Float64Var(&flagSpeed, "speed", 1.0, "Playback speed multiplier")
	cmd.Flags().StringVar(&flagFile, "file", "", "Replay from an exported JSON file instead of the archive")

	return cmd
}
