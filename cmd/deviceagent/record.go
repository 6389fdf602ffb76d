package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/httprunner/DeviceAgent/internal/agent/recording"
	"github.com/httprunner/DeviceAgent/pkg/storage"
)

func newRecordCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Inspect the recording archive",
	}
	cmd.AddCommand(
		newRecordListCmd(),
		newRecordExportCmd(),
		newRecordImportCmd(),
		newRecordDeleteCmd(),
	)
	return cmd
}

func newRecordListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List archived recordings, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := storage.Open()
			if err != nil {
				return err
			}
			defer store.Close()
			recs, err := store.List()
			if err != nil {
				return err
			}
			for _, rec := range recs {
				fmt.Printf("%s\t%s\t%s\n", rec.RecordingID, rec.DeviceID, rec.CreatedAt.Format(time.RFC3339))
			}
			return nil
		},
	}
}

func newRecordExportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export <recording-id>",
		Short: "Print an archived recording's JSON payload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := storage.Open()
			if err != nil {
				return err
			}
			defer store.Close()
			rec, err := store.Load(args[0])
			if err != nil {
				return err
			}
			fmt.Println(rec.Payload)
			return nil
		},
	}
}

func newRecordImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Archive a recording from an exported JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return errors.Wrap(err, "read recording file")
			}
			var rec recording.Recording
			if err := json.Unmarshal(data, &rec); err != nil {
				return errors.Wrap(err, "parse recording file")
			}
			if rec.ID == "" {
				return errors.New("recording file missing recording_id")
			}
			store, err := storage.Open()
			if err != nil {
				return err
			}
			defer store.Close()
			if err := store.Save(storage.ArchivedRecording{
				RecordingID: rec.ID,
				DeviceID:    rec.DeviceID,
				CreatedAt:   rec.CreatedAt,
				Payload:     string(data),
			}); err != nil {
				return err
			}
			fmt.Println(rec.ID)
			return nil
		},
	}
}

func newRecordDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <recording-id>",
		Short: "Remove a recording from the archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := storage.Open()
			if err != nil {
				return err
			}
			defer store.Close()
			return store.Delete(args[0])
		},
	}
}
