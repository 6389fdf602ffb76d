package main

import (
	"fmt"

	"github.com/spf13/cobra"

	deviceagent "github.com/httprunner/DeviceAgent"
)

func newDevicesCmd() *cobra.Command {
	var flagResolve string

	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List connected devices or resolve an identifier",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			agent, err := deviceagent.New(deviceagent.Config{})
			if err != nil {
				return err
			}
			if flagResolve != "" {
				serial, err := agent.ResolveDevice(ctx, flagResolve)
				if err != nil {
					return err
				}
				fmt.Println(serial)
				return nil
			}
			serials, err := agent.ListDevices(ctx)
			if err != nil {
				return err
			}
			if len(serials) == 0 {
				fmt.Println("no devices connected")
				return nil
			}
			for _, serial := range serials {
				fmt.Println(serial)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&flagResolve, "resolve", "", "Resolve an identifier (or \"default\") to one serial instead of listing")

	return cmd
}
