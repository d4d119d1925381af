package cmd

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"voice-activation-detection/activation"
)

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Start continuous hands-free listening",
	RunE: func(_ *cobra.Command, _ []string) error {
		settings, err := loadSettings()
		if err != nil {
			return err
		}

		logger := slog.Default()

		p, err := buildPipeline(settings, logger, true)
		if err != nil {
			return err
		}
		defer p.close()

		p.router.Register(&logObserver{logger: logger})

		if err := p.router.StartContinuous(); err != nil {
			return err
		}

		logger.Info("listening, press ctrl-c to stop")

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit

		return nil
	},
}

func init() {
	rootCmd.AddCommand(listenCmd)
}

// logObserver reports activation events; a real deployment would register a
// UI or a recording trigger here instead.
type logObserver struct {
	logger *slog.Logger
}

func (o *logObserver) HandleActivation(event activation.Event) {
	switch event.Type {
	case activation.EventWakeWord:
		o.logger.Info("wake word detected",
			"keyword", event.Detection.Keyword,
			"confidence", event.Detection.Confidence)
	case activation.EventSustainedVoice:
		o.logger.Info("sustained voice activity",
			"energy_db", event.Detection.EnergyDB,
			"confidence", event.Detection.Confidence)
	case activation.EventDeviceLost:
		o.logger.Warn("capture device lost")
	case activation.EventRecordingDone:
		o.logger.Info("recording finished", "clip", event.Recording.Path)
	}
}
