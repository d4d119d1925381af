package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Settings is the full pipeline configuration.
type Settings struct {
	Audio struct {
		Backend   string `mapstructure:"backend"` // "portaudio" or "malgo"
		Device    string `mapstructure:"device"`  // malgo device name, empty for default
		FrameSize int    `mapstructure:"framesize"`
	} `mapstructure:"audio"`

	Buffer struct {
		Seconds int `mapstructure:"seconds"` // rolling window length
	} `mapstructure:"buffer"`

	Obfuscation struct {
		Enabled bool `mapstructure:"enabled"`
	} `mapstructure:"obfuscation"`

	Analysis struct {
		WindowSize    int           `mapstructure:"windowsize"`
		HopSize       int           `mapstructure:"hopsize"`
		WorkerTimeout time.Duration `mapstructure:"workertimeout"`

		// VADWorker and WakeWorker are external worker commands. When empty
		// the in-process backends are used instead.
		VADWorker  string `mapstructure:"vadworker"`
		WakeWorker string `mapstructure:"wakeworker"`

		MinConfidence float64 `mapstructure:"minconfidence"`
	} `mapstructure:"analysis"`

	Wake struct {
		Keyword   string `mapstructure:"keyword"`
		ModelPath string `mapstructure:"modelpath"` // whisper model for the in-process backend
	} `mapstructure:"wake"`

	Power struct {
		PollInterval time.Duration `mapstructure:"pollinterval"` // 0 disables sensor polling
	} `mapstructure:"power"`

	Recording struct {
		Dir       string        `mapstructure:"dir"`
		QuietTime time.Duration `mapstructure:"quiettime"`
	} `mapstructure:"recording"`

	Assistant struct {
		Host string `mapstructure:"host"` // empty disables forwarding
	} `mapstructure:"assistant"`
}

// SampleRate is fixed: the whole pipeline works in mono 16 kHz float32.
const SampleRate = 16000

func setDefaults(v *viper.Viper) {
	v.SetDefault("audio.backend", "portaudio")
	v.SetDefault("audio.framesize", 1024)
	v.SetDefault("buffer.seconds", 2)
	v.SetDefault("obfuscation.enabled", true)
	v.SetDefault("analysis.windowsize", 16000)
	v.SetDefault("analysis.hopsize", 8000)
	v.SetDefault("analysis.workertimeout", 2*time.Second)
	v.SetDefault("analysis.minconfidence", 0.5)
	v.SetDefault("wake.keyword", "hey computer")
	v.SetDefault("power.pollinterval", 30*time.Second)
	v.SetDefault("recording.dir", ".")
	v.SetDefault("recording.quiettime", 200*time.Millisecond)
}

// Load reads settings from the given file (optional) and the environment.
func Load(configPath string) (*Settings, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("VOICE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)

		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", configPath, err)
		}
	}

	settings := &Settings{}
	if err := v.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := settings.Validate(); err != nil {
		return nil, err
	}

	return settings, nil
}

func (s *Settings) Validate() error {
	if s.Audio.Backend != "portaudio" && s.Audio.Backend != "malgo" {
		return fmt.Errorf("unknown audio backend %q", s.Audio.Backend)
	}

	if s.Audio.FrameSize <= 0 {
		return fmt.Errorf("audio frame size must be positive, got %d", s.Audio.FrameSize)
	}

	if s.Buffer.Seconds <= 0 {
		return fmt.Errorf("buffer seconds must be positive, got %d", s.Buffer.Seconds)
	}

	if s.Analysis.HopSize > s.Analysis.WindowSize {
		return fmt.Errorf("analysis hop %d exceeds window %d", s.Analysis.HopSize, s.Analysis.WindowSize)
	}

	if s.Analysis.MinConfidence < 0 || s.Analysis.MinConfidence > 1 {
		return fmt.Errorf("min confidence must be in [0, 1], got %f", s.Analysis.MinConfidence)
	}

	if s.Analysis.WakeWorker == "" && s.Wake.Keyword == "" {
		return fmt.Errorf("wake keyword is required for the in-process wake backend")
	}

	return nil
}

// BufferCapacity is the rolling buffer size in samples.
func (s *Settings) BufferCapacity() int {
	return s.Buffer.Seconds * SampleRate
}
