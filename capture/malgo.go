package capture

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"
)

// MalgoSource captures through miniaudio. Unlike PortAudio it is
// callback-driven, so the stream adapts the callback into blocking reads, and
// miniaudio converts to the requested format itself, so negotiation always
// lands on the canonical rate.
type MalgoSource struct {
	deviceName string
}

func NewMalgoSource(deviceName string) *MalgoSource {
	return &MalgoSource{deviceName: deviceName}
}

func (s *MalgoSource) Name() string {
	return "malgo"
}

func (s *MalgoSource) Open(cfg SourceConfig) (Stream, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: init context: %v", ErrDeviceUnavailable, err)
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = uint32(cfg.Channels)
	deviceConfig.SampleRate = uint32(cfg.SampleRate)
	deviceConfig.Alsa.NoMMap = 1

	if s.deviceName != "" {
		infos, err := ctx.Devices(malgo.Capture)
		if err != nil {
			abortContext(ctx)

			return nil, fmt.Errorf("%w: enumerating devices: %v", ErrDeviceUnavailable, err)
		}

		found := false
		for i := range infos {
			if infos[i].Name() == s.deviceName {
				deviceConfig.Capture.DeviceID = infos[i].ID.Pointer()
				found = true

				break
			}
		}

		if !found {
			abortContext(ctx)

			return nil, fmt.Errorf("%w: no capture device named %q", ErrDeviceUnavailable, s.deviceName)
		}
	}

	ms := newMalgoStream(cfg)
	ms.ctx = ctx

	callbacks := malgo.DeviceCallbacks{
		Data: ms.onReceive,
	}

	device, err := malgo.InitDevice(ctx.Context, deviceConfig, callbacks)
	if err != nil {
		abortContext(ctx)

		return nil, fmt.Errorf("%w: init device: %v", ErrDeviceUnavailable, err)
	}

	ms.device = device

	return ms, nil
}

func abortContext(ctx *malgo.AllocatedContext) {
	_ = ctx.Uninit()
	ctx.Free()
}

const malgoQueueDepth = 8

type malgoStream struct {
	cfg    SourceConfig
	ctx    *malgo.AllocatedContext
	device *malgo.Device

	data chan []int16
	free chan []int16
	done chan struct{}
	once sync.Once

	inFlight []int16 // last slice handed out by Read, single consumer
}

func newMalgoStream(cfg SourceConfig) *malgoStream {
	s := &malgoStream{
		cfg:  cfg,
		data: make(chan []int16, malgoQueueDepth),
		free: make(chan []int16, malgoQueueDepth+2),
		done: make(chan struct{}),
	}

	for i := 0; i < cap(s.free); i++ {
		s.free <- make([]int16, 0, cfg.ReadSize*cfg.Channels)
	}

	return s
}

// onReceive runs on miniaudio's capture thread: decode into a recycled
// buffer and hand off. No allocation and no blocking on this thread; when
// the reader is behind, data drops.
func (s *malgoStream) onReceive(_, input []byte, frameCount uint32) {
	n := int(frameCount) * s.cfg.Channels

	var samples []int16
	select {
	case samples = <-s.free:
	default:
		return
	}

	if cap(samples) < n {
		// miniaudio delivered more frames than the negotiated read size.
		samples = make([]int16, n)
	}
	samples = samples[:n]

	for i := 0; i < n && 2*i+1 < len(input); i++ {
		samples[i] = int16(binary.LittleEndian.Uint16(input[2*i:]))
	}

	select {
	case s.data <- samples:
	case <-s.done:
	default:
		select {
		case s.free <- samples[:0]:
		default:
		}
	}
}

func (s *malgoStream) Config() SourceConfig {
	return s.cfg
}

func (s *malgoStream) Start() error {
	return s.device.Start()
}

// Read is single-consumer: the previously returned slice goes back on the
// freelist once the caller asks for the next one.
func (s *malgoStream) Read() ([]int16, error) {
	if s.inFlight != nil {
		select {
		case s.free <- s.inFlight[:0]:
		default:
		}

		s.inFlight = nil
	}

	select {
	case samples := <-s.data:
		s.inFlight = samples

		return samples, nil
	case <-s.done:
		return nil, errors.New("stream stopped")
	}
}

func (s *malgoStream) Stop() error {
	s.once.Do(func() {
		close(s.done)
	})

	return s.device.Stop()
}

func (s *malgoStream) Close() error {
	s.once.Do(func() {
		close(s.done)
	})

	s.device.Uninit()
	abortContext(s.ctx)

	return nil
}

// DeviceInfo describes one available capture device.
type DeviceInfo struct {
	Index int
	Name  string
}

// ListCaptureDevices enumerates the capture devices miniaudio can see.
func ListCaptureDevices() ([]DeviceInfo, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("initializing audio context: %w", err)
	}
	defer abortContext(ctx)

	infos, err := ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("enumerating capture devices: %w", err)
	}

	devices := make([]DeviceInfo, 0, len(infos))
	for i := range infos {
		devices = append(devices, DeviceInfo{Index: i, Name: infos[i].Name()})
	}

	return devices, nil
}
