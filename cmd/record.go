package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"voice-activation-detection/activation"
	"voice-activation-detection/clients/assistant"
	"voice-activation-detection/speech_to_text"
)

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record a clip manually, stopping on silence or ctrl-c",
	RunE: func(_ *cobra.Command, _ []string) error {
		settings, err := loadSettings()
		if err != nil {
			return err
		}

		logger := slog.Default()

		p, err := buildPipeline(settings, logger, false)
		if err != nil {
			return err
		}
		defer p.close()

		var assistantAPI assistant.API
		if settings.Assistant.Host != "" {
			assistantAPI, err = assistant.NewClient(&assistant.Config{ApiHost: settings.Assistant.Host})
			if err != nil {
				return err
			}
		}

		done := make(chan *activation.Event, 1)

		p.router.Register(observerFunc(func(event activation.Event) {
			if event.Type == activation.EventRecordingDone {
				select {
				case done <- &event:
				default:
				}
			}
		}))

		if err := p.router.StartManual(); err != nil {
			return err
		}

		logger.Info("recording, stop with ctrl-c or go quiet")

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

		var event *activation.Event

		select {
		case <-quit:
			p.router.Stop()

			// Stop emits the recording-done event; wait for it so the clip
			// path and transcript can be reported.
			select {
			case event = <-done:
			case <-quit:
			}
		case event = <-done:
		}

		if event == nil || event.Recording == nil {
			return nil
		}

		transcript := joinSegments(event.Recording.Transcript)

		logger.Info("clip saved",
			"path", event.Recording.Path,
			"duration", event.Recording.Duration,
			"transcript", transcript)

		if assistantAPI != nil && transcript != "" {
			response, err := assistantAPI.SendPrompt(context.Background(), transcript)
			if err != nil {
				logger.Error("sending prompt failed", "error", err)

				return nil
			}

			logger.Info("assistant response", "response", response)
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(recordCmd)
}

// observerFunc adapts a plain function to the activation.Observer interface.
type observerFunc func(event activation.Event)

func (f observerFunc) HandleActivation(event activation.Event) { f(event) }

func joinSegments(segments []speech_to_text.Segment) string {
	texts := make([]string, 0, len(segments))
	for _, segment := range segments {
		texts = append(texts, segment.Text)
	}

	return strings.TrimSpace(strings.Join(texts, " "))
}
