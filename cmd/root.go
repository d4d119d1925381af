package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"voice-activation-detection/config"
	"voice-activation-detection/logging"
)

var (
	configPath string
	logLevel   string
	logJSON    bool
)

var rootCmd = &cobra.Command{
	Use:   "voice-activation-detection",
	Short: "Hands-free voice activity and wake-word detection pipeline",
	Long: `Continuously captures microphone audio into a bounded rolling buffer,
dispatches overlapping analysis windows to voice-activity and wake-word
inference backends, and notifies observers on detections. Sensitivity adapts
to the device's power and thermal state.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "log as JSON to stdout")
}

func loadSettings() (*config.Settings, error) {
	logging.Init(logging.ParseLevel(logLevel), logJSON)

	return config.Load(configPath)
}
