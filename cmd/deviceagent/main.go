package main

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/httprunner/DeviceAgent/internal/env"
)

var rootCmd = &cobra.Command{
	Use:   "deviceagent",
	Short: "Android device control plane over adb",
	Long:  "deviceagent resolves connected Android devices, records and replays gesture sequences, and runs background performance and UI watcher loops on top of adb.",
}

func init() {
	output := zerolog.ConsoleWriter{Out: os.Stderr}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
	rootCmd.AddCommand(
		newDevicesCmd(),
		newRecordCmd(),
		newReplayCmd(),
		newPerfCmd(),
		newWatchCmd(),
	)
	_ = env.Ensure()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("deviceagent command failed")
	}
}
