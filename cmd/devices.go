package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"voice-activation-detection/capture"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List available capture devices",
	RunE: func(cmd *cobra.Command, _ []string) error {
		devices, err := capture.ListCaptureDevices()
		if err != nil {
			return err
		}

		if len(devices) == 0 {
			cmd.Println("no capture devices found")

			return nil
		}

		for _, device := range devices {
			cmd.Println(fmt.Sprintf("%d: %s", device.Index, device.Name))
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(devicesCmd)
}
