package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
	"github.com/spf13/afero"

	"voice-activation-detection/activation"
	"voice-activation-detection/analysis"
	"voice-activation-detection/capture"
	"voice-activation-detection/clients/inference"
	"voice-activation-detection/clients/wake_word"
	"voice-activation-detection/config"
	"voice-activation-detection/obfuscation"
	"voice-activation-detection/power"
	"voice-activation-detection/recording"
	"voice-activation-detection/ring_buffer"
	"voice-activation-detection/speech_to_text"
)

// pipeline bundles everything a command needs to run the capture stack and
// tear it down again.
type pipeline struct {
	router     *activation.Router
	obfuscator *obfuscation.Obfuscator
	model      whisper.Model
	cancel     context.CancelFunc
}

func (p *pipeline) close() {
	p.router.Stop()
	p.router.Close()
	p.cancel()
	p.obfuscator.Close()

	if p.model != nil {
		p.model.Close()
	}
}

// buildPipeline wires the full stack from settings. needWake controls
// whether a wake-word backend is mandatory (continuous listening) or can be
// skipped (manual recording only).
func buildPipeline(settings *config.Settings, logger *slog.Logger, needWake bool) (*pipeline, error) {
	obfuscator, err := obfuscation.New(&obfuscation.Config{Enabled: settings.Obfuscation.Enabled})
	if err != nil {
		return nil, fmt.Errorf("initializing obfuscation: %w", err)
	}

	buffer, err := ring_buffer.New[float32](settings.BufferCapacity())
	if err != nil {
		return nil, err
	}

	var source capture.Source
	if settings.Audio.Backend == "malgo" {
		source = capture.NewMalgoSource(settings.Audio.Device)
	} else {
		source = capture.NewPortAudioSource()
	}

	powerCtl, err := power.NewController(&power.Config{Logger: logger})
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	if settings.Power.PollInterval > 0 {
		go powerCtl.Poll(ctx, settings.Power.PollInterval)
	}

	// The whisper model serves both the in-process wake backend and clip
	// transcription; it is only loaded when configured.
	var (
		model     whisper.Model
		sttEngine speech_to_text.Interface
	)

	if settings.Wake.ModelPath != "" {
		model, err = whisper.New(settings.Wake.ModelPath)
		if err != nil {
			cancel()

			return nil, fmt.Errorf("loading whisper model: %w", err)
		}

		sttEngine, err = speech_to_text.New(&speech_to_text.Config{Model: model})
		if err != nil {
			cancel()

			return nil, err
		}
	}

	vadBackend, err := buildVADBackend(settings, logger)
	if err != nil {
		cancel()

		return nil, err
	}

	wakeBackend, err := buildWakeBackend(settings, sttEngine, logger)
	if err != nil {
		cancel()

		return nil, err
	}

	if wakeBackend == nil && needWake {
		cancel()

		return nil, fmt.Errorf("continuous listening needs a wake backend: set analysis.wakeworker or wake.modelpath")
	}

	if wakeBackend == nil {
		// Manual-only wiring still needs a dispatcher; a noop backend keeps
		// the contract satisfied without a model.
		wakeBackend = noopWakeBackend{}
	}

	var router *activation.Router

	engine, err := capture.NewEngine(&capture.EngineConfig{
		Source:     source,
		Buffer:     buffer,
		Obfuscator: obfuscator,
		Consumer:   capture.ConsumerFunc(func(frame capture.Frame) { router.Process(frame) }),
		Logger:     logger,
		FrameSize:  settings.Audio.FrameSize,
		SampleRate: config.SampleRate,
		OnStreamError: func(err error) {
			router.HandleStreamError(err)
		},
	})
	if err != nil {
		cancel()

		return nil, err
	}

	dispatcher, err := analysis.NewDispatcher(&analysis.Config{
		VAD:           vadBackend,
		WakeWord:      wakeBackend,
		Power:         powerCtl,
		Sink:          analysis.SinkFunc(func(result analysis.Result) { router.HandleResult(result) }),
		Logger:        logger,
		WindowSize:    settings.Analysis.WindowSize,
		HopSize:       settings.Analysis.HopSize,
		WorkerTimeout: settings.Analysis.WorkerTimeout,
	})
	if err != nil {
		cancel()

		return nil, err
	}

	recorder, err := recording.New(&recording.Config{
		FileSys:    afero.NewOsFs(),
		Dir:        settings.Recording.Dir,
		SampleRate: config.SampleRate,
		FrameSize:  settings.Audio.FrameSize,
		STTEngine:  sttEngine,
		QuietTime:  settings.Recording.QuietTime,
		OnSilence: func() {
			// Stop tears down the engine whose delivery goroutine invoked
			// this hook, so it must run elsewhere.
			go router.Stop()
		},
		Logger: logger,
	})
	if err != nil {
		cancel()

		return nil, err
	}

	router, err = activation.NewRouter(&activation.Config{
		Engine:        engine,
		Dispatcher:    dispatcher,
		Recorder:      recorder,
		Logger:        logger,
		MinConfidence: settings.Analysis.MinConfidence,
	})
	if err != nil {
		cancel()

		return nil, err
	}

	return &pipeline{
		router:     router,
		obfuscator: obfuscator,
		model:      model,
		cancel:     cancel,
	}, nil
}

func buildVADBackend(settings *config.Settings, logger *slog.Logger) (analysis.Backend, error) {
	if settings.Analysis.VADWorker == "" {
		return analysis.NewBuiltinVAD(settings.Analysis.WindowSize), nil
	}

	return inference.NewWorker(&inference.Config{
		Command: settings.Analysis.VADWorker,
		Mode:    inference.ModeVAD,
		Logger:  logger,
	})
}

func buildWakeBackend(settings *config.Settings, sttEngine speech_to_text.Interface, logger *slog.Logger) (analysis.Backend, error) {
	if settings.Analysis.WakeWorker != "" {
		return inference.NewWorker(&inference.Config{
			Command: settings.Analysis.WakeWorker,
			Mode:    inference.ModeWakeWord,
			Logger:  logger,
		})
	}

	if sttEngine != nil {
		return wake_word.New(&wake_word.Config{
			STTEngine: sttEngine,
			Keyword:   settings.Wake.Keyword,
		})
	}

	return nil, nil
}

type noopWakeBackend struct{}

func (noopWakeBackend) Name() string { return "wake-word-disabled" }

func (noopWakeBackend) Infer(_ context.Context, _ *analysis.Request) (*analysis.Result, error) {
	return &analysis.Result{Kind: analysis.KindNone}, nil
}
