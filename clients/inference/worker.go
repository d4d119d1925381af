package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"time"

	"voice-activation-detection/analysis"
)

// Mode selects which half of the worker contract a Worker speaks.
type Mode int

const (
	ModeVAD Mode = iota
	ModeWakeWord
)

// Worker invokes an external inference process per analysis window: the JSON
// request goes to the worker's stdin, the JSON result comes back on stdout.
// Process spawn failure, a non-zero exit, or an undecodable response all
// surface as errors, which the dispatcher downgrades to "no detection".
type Worker struct {
	command string
	args    []string
	mode    Mode
	logger  *slog.Logger
}

type Config struct {
	Command string
	Args    []string
	Mode    Mode
	Logger  *slog.Logger
}

func NewWorker(cfg *Config) (*Worker, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	if cfg.Command == "" {
		return nil, fmt.Errorf("command is empty")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Worker{
		command: cfg.Command,
		args:    cfg.Args,
		mode:    cfg.Mode,
		logger:  logger.With("component", "inference", "command", cfg.Command),
	}, nil
}

func (w *Worker) Name() string {
	if w.mode == ModeWakeWord {
		return "worker-wake-word"
	}

	return "worker-vad"
}

type workerRequest struct {
	AudioSamples []float32 `json:"audio_samples"`
	Threshold    *float64  `json:"threshold,omitempty"`
	Environment  string    `json:"environment,omitempty"`
	ResetBuffer  bool      `json:"reset_buffer"`
}

type workerResponse struct {
	VoiceDetected    *bool    `json:"voice_detected,omitempty"`
	WakeWordDetected *bool    `json:"wake_word_detected,omitempty"`
	Keyword          *string  `json:"keyword,omitempty"`
	Confidence       *float64 `json:"confidence,omitempty"`
	EnergyDB         *float64 `json:"energy_db,omitempty"`
}

func (w *Worker) Infer(ctx context.Context, req *analysis.Request) (*analysis.Result, error) {
	wireReq := workerRequest{
		AudioSamples: req.Samples,
		ResetBuffer:  req.ResetBuffer,
	}

	if w.mode == ModeVAD {
		threshold := req.ThresholdDB
		wireReq.Threshold = &threshold
		wireReq.Environment = req.Environment
	}

	payload, err := json.Marshal(&wireReq)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	var stdout, stderr bytes.Buffer

	cmd := exec.CommandContext(ctx, w.command, w.args...)
	cmd.Stdin = bytes.NewReader(payload)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	// Workers that spawn children holding our pipes must not stall the
	// pipeline past their deadline.
	cmd.WaitDelay = time.Second

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("worker timed out: %w", ctx.Err())
		}

		return nil, fmt.Errorf("worker exited: %w (stderr: %s)", err, stderr.String())
	}

	return w.decode(stdout.Bytes())
}

func (w *Worker) decode(raw []byte) (*analysis.Result, error) {
	var resp workerResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	result := &analysis.Result{Kind: analysis.KindNone}

	if resp.Confidence != nil {
		result.Confidence = *resp.Confidence
	}

	if resp.EnergyDB != nil {
		result.EnergyDB = *resp.EnergyDB
	}

	switch w.mode {
	case ModeVAD:
		if resp.VoiceDetected != nil && *resp.VoiceDetected {
			result.Kind = analysis.KindVoiceActivity
		}
	case ModeWakeWord:
		if resp.WakeWordDetected != nil && *resp.WakeWordDetected {
			result.Kind = analysis.KindWakeWord

			if resp.Keyword != nil {
				result.Keyword = *resp.Keyword
			}
		}
	}

	return result, nil
}
