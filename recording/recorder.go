package recording

import (
	"fmt"
	"log/slog"
	"path"
	"sync"
	"time"

	"github.com/spf13/afero"
	"github.com/zenwerk/go-wave"

	"voice-activation-detection/analysis/voice_activity_detection"
	"voice-activation-detection/capture"
	"voice-activation-detection/speech_to_text"
)

const (
	DefaultQuietTime = 200 * time.Millisecond

	// fluxRiseFactor is the onset/offset heuristic carried over from the
	// voice-triggered recording loop: spectral flux rising by this factor
	// marks speech, falling below its inverse marks silence.
	fluxRiseFactor = 1.75
)

// Recorder accumulates canonical frames for the manual recording path. Unlike
// the rolling ring buffer it keeps everything from Begin to Finish, including
// an optional pre-roll handed over from the ring, so the first words are not
// clipped. When speech has been heard and the stream then stays quiet for the
// configured period, the OnSilence hook fires once.
type Recorder struct {
	fileSys   afero.Fs
	dir       string
	rate      int
	frameSize int
	stt       speech_to_text.Interface
	quietTime time.Duration
	onSilence func()
	logger    *slog.Logger

	mu             sync.Mutex
	recording      bool
	samples        []float32
	vad            *voice_activity_detection.VAD
	lastFlux       float64
	heardSomething bool
	quiet          bool
	quietStart     time.Time
	silenceFired   bool
}

type Config struct {
	FileSys    afero.Fs
	Dir        string
	SampleRate int

	// FrameSize is the engine's frame size; the silence tracker's reference
	// spectrum is sized to it.
	FrameSize int

	// STTEngine is optional; when set, Finish also transcribes the clip.
	STTEngine speech_to_text.Interface

	QuietTime time.Duration
	OnSilence func()
	Logger    *slog.Logger
}

type Result struct {
	Path       string
	Duration   time.Duration
	Transcript []speech_to_text.Segment
}

func New(cfg *Config) (*Recorder, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	if cfg.FileSys == nil {
		return nil, fmt.Errorf("fileSys is nil")
	}

	rate := cfg.SampleRate
	if rate <= 0 {
		rate = capture.DefaultSampleRate
	}

	frameSize := cfg.FrameSize
	if frameSize <= 0 {
		frameSize = capture.DefaultFrameSize
	}

	quietTime := cfg.QuietTime
	if quietTime <= 0 {
		quietTime = DefaultQuietTime
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Recorder{
		fileSys:   cfg.FileSys,
		dir:       cfg.Dir,
		rate:      rate,
		frameSize: frameSize,
		stt:       cfg.STTEngine,
		quietTime: quietTime,
		onSilence: cfg.OnSilence,
		logger:    logger.With("component", "recording"),
	}, nil
}

// Begin starts accumulating. preRoll is prepended so audio captured just
// before the trigger is kept.
func (r *Recorder) Begin(preRoll []float32) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.recording = true
	r.samples = append([]float32(nil), preRoll...)
	r.vad = voice_activity_detection.New(r.frameSize)
	r.lastFlux = 0
	r.heardSomething = false
	r.quiet = false
	r.silenceFired = false
}

// Process implements capture.FrameConsumer. Frames arriving while no
// recording is active are dropped.
func (r *Recorder) Process(frame capture.Frame) {
	r.mu.Lock()

	if !r.recording {
		r.mu.Unlock()

		return
	}

	r.samples = append(r.samples, frame.Samples...)

	fireSilence := r.trackSilence(frame.Samples)

	r.mu.Unlock()

	if fireSilence && r.onSilence != nil {
		r.onSilence()
	}
}

// trackSilence runs the flux heuristic and reports whether the quiet period
// just elapsed. Caller holds the lock.
func (r *Recorder) trackSilence(samples []float32) bool {
	flux := r.vad.Flux(samples)

	if r.lastFlux == 0 {
		r.lastFlux = flux

		return false
	}

	if !r.heardSomething {
		if flux >= r.lastFlux*fluxRiseFactor {
			r.heardSomething = true
		}

		r.lastFlux = flux

		return false
	}

	if flux*fluxRiseFactor <= r.lastFlux {
		if !r.quiet {
			r.quiet = true
			r.quietStart = time.Now()

			return false
		}

		if time.Since(r.quietStart) > r.quietTime && !r.silenceFired {
			r.silenceFired = true

			return true
		}

		return false
	}

	r.quiet = false
	r.lastFlux = flux

	return false
}

// Recording reports whether a manual recording is in progress.
func (r *Recorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.recording
}

// Finish stops accumulating, writes the clip as a 16-bit WAV, optionally
// transcribes it, and resets the recorder.
func (r *Recorder) Finish() (*Result, error) {
	r.mu.Lock()

	if !r.recording {
		r.mu.Unlock()

		return nil, fmt.Errorf("not recording")
	}

	r.recording = false
	samples := r.samples
	r.samples = nil

	r.mu.Unlock()

	if len(samples) == 0 {
		return nil, fmt.Errorf("nothing recorded")
	}

	clipPath, err := r.writeWav(samples)
	if err != nil {
		return nil, err
	}

	result := &Result{
		Path:     clipPath,
		Duration: time.Duration(len(samples)) * time.Second / time.Duration(r.rate),
	}

	if r.stt != nil {
		segments, err := r.stt.Transcribe(samples)
		if err != nil {
			r.logger.Error("transcription failed", "clip", clipPath, "error", err)
		} else {
			result.Transcript = segments
		}
	}

	r.logger.Info("recording finished",
		"clip", clipPath,
		"duration", result.Duration,
		"segments", len(result.Transcript))

	return result, nil
}

func (r *Recorder) writeWav(samples []float32) (string, error) {
	clipPath := path.Join(r.dir, fmt.Sprintf("recording-%d.wav", time.Now().Unix()))

	clipFile, err := r.fileSys.Create(clipPath)
	if err != nil {
		return "", fmt.Errorf("creating clip file: %w", err)
	}

	param := wave.WriterParam{
		Out:           clipFile,
		Channel:       1,
		SampleRate:    r.rate,
		BitsPerSample: 16,
	}

	waveWriter, err := wave.NewWriter(param)
	if err != nil {
		clipFile.Close()

		return "", fmt.Errorf("creating wave writer: %w", err)
	}

	if _, err := waveWriter.WriteSample16(capture.ToInt16(samples)); err != nil {
		waveWriter.Close()

		return "", fmt.Errorf("writing samples: %w", err)
	}

	if err := waveWriter.Close(); err != nil {
		return "", fmt.Errorf("closing wave writer: %w", err)
	}

	return clipPath, nil
}
