package capture

import (
	"fmt"

	"github.com/gordonklaus/portaudio"
)

// PortAudioSource opens the default input device through PortAudio with
// blocking reads, the same way the manual recording path has always captured.
type PortAudioSource struct{}

func NewPortAudioSource() *PortAudioSource {
	return &PortAudioSource{}
}

func (s *PortAudioSource) Name() string {
	return "portaudio"
}

func (s *PortAudioSource) Open(cfg SourceConfig) (Stream, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	in := make([]int16, cfg.ReadSize*cfg.Channels)

	stream, err := portaudio.OpenDefaultStream(cfg.Channels, 0, float64(cfg.SampleRate), cfg.ReadSize, in)
	if err != nil {
		portaudio.Terminate()

		return nil, fmt.Errorf("opening default stream: %w", err)
	}

	return &portAudioStream{
		cfg:    cfg,
		stream: stream,
		in:     in,
	}, nil
}

type portAudioStream struct {
	cfg    SourceConfig
	stream *portaudio.Stream
	in     []int16
}

func (s *portAudioStream) Config() SourceConfig {
	return s.cfg
}

func (s *portAudioStream) Start() error {
	return s.stream.Start()
}

func (s *portAudioStream) Read() ([]int16, error) {
	if err := s.stream.Read(); err != nil {
		return nil, err
	}

	out := make([]int16, len(s.in))
	copy(out, s.in)

	return out, nil
}

func (s *portAudioStream) Stop() error {
	return s.stream.Stop()
}

func (s *portAudioStream) Close() error {
	err := s.stream.Close()
	portaudio.Terminate()

	return err
}
