package capture

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voice-activation-detection/obfuscation"
	"voice-activation-detection/ring_buffer"
)

// fakeStream serves queued chunks, then blocks until stopped (or fails with
// failAfter when set).
type fakeStream struct {
	cfg    SourceConfig
	chunks chan []int16
	done   chan struct{}
	once   sync.Once
	err    error
}

func (f *fakeStream) Config() SourceConfig { return f.cfg }
func (f *fakeStream) Start() error         { return nil }

func (f *fakeStream) Read() ([]int16, error) {
	select {
	case chunk := <-f.chunks:
		return chunk, nil
	case <-f.done:
		if f.err != nil {
			return nil, f.err
		}

		return nil, errors.New("stopped")
	}
}

func (f *fakeStream) Stop() error {
	f.once.Do(func() { close(f.done) })

	return nil
}

func (f *fakeStream) Close() error {
	f.once.Do(func() { close(f.done) })

	return nil
}

type fakeSource struct {
	cfg     SourceConfig // negotiated config, zero means echo the request
	openErr error
	stream  *fakeStream
}

func (f *fakeSource) Name() string { return "fake" }

func (f *fakeSource) Open(cfg SourceConfig) (Stream, error) {
	if f.openErr != nil {
		return nil, f.openErr
	}

	negotiated := f.cfg
	if negotiated.SampleRate == 0 {
		negotiated = cfg
	}

	f.stream = &fakeStream{
		cfg:    negotiated,
		chunks: make(chan []int16, 64),
		done:   make(chan struct{}),
	}

	return f.stream, nil
}

type recordingConsumer struct {
	mu     sync.Mutex
	frames []Frame
}

func (r *recordingConsumer) Process(frame Frame) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.frames = append(r.frames, frame)
}

func (r *recordingConsumer) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.frames)
}

func (r *recordingConsumer) all() []Frame {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Frame, len(r.frames))
	copy(out, r.frames)

	return out
}

func newTestEngine(t *testing.T, source Source, consumer FrameConsumer, obfuscate bool) (*Engine, *ring_buffer.Buffer[float32]) {
	t.Helper()

	buf, err := ring_buffer.New[float32](8192)
	require.NoError(t, err)

	obf, err := obfuscation.New(&obfuscation.Config{Enabled: obfuscate})
	require.NoError(t, err)

	engine, err := NewEngine(&EngineConfig{
		Source:     source,
		Buffer:     buf,
		Obfuscator: obf,
		Consumer:   consumer,
		FrameSize:  1024,
		SampleRate: 16000,
	})
	require.NoError(t, err)

	return engine, buf
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}

		time.Sleep(5 * time.Millisecond)
	}

	t.Fatal("condition not met in time")
}

func chunkOf(n int, value int16) []int16 {
	out := make([]int16, n)
	for i := range out {
		out[i] = value
	}

	return out
}

func TestEngine_DeliversFramesToBufferAndConsumer(t *testing.T) {
	source := &fakeSource{}
	consumer := &recordingConsumer{}

	engine, buf := newTestEngine(t, source, consumer, false)
	require.NoError(t, engine.Start())
	defer engine.Stop()

	source.stream.chunks <- chunkOf(1024, 16384) // 0.5 in float
	source.stream.chunks <- chunkOf(1024, -16384)

	waitFor(t, func() bool { return consumer.count() == 2 })

	frames := consumer.all()
	assert.Len(t, frames[0].Samples, 1024)
	assert.InDelta(t, 0.5, frames[0].Samples[0], 0.001)
	assert.InDelta(t, -0.5, frames[1].Samples[0], 0.001)
	assert.False(t, frames[0].Timestamp.IsZero())

	assert.Equal(t, 2048, buf.Len())
}

func TestEngine_ObfuscatesBufferAtRest(t *testing.T) {
	source := &fakeSource{}
	consumer := &recordingConsumer{}

	engine, buf := newTestEngine(t, source, consumer, true)
	require.NoError(t, engine.Start())
	defer engine.Stop()

	source.stream.chunks <- chunkOf(1024, 16384)

	waitFor(t, func() bool { return consumer.count() == 1 })

	stored := buf.ReadAll()
	plain := consumer.all()[0].Samples

	// At rest the buffer holds transformed samples; extraction decodes them.
	assert.NotEqual(t, plain, stored)

	extracted := engine.ExtractBuffered()
	require.Len(t, extracted, 1024)
	assert.InDelta(t, 0.5, float64(extracted[0]), 0.001)
	assert.InDelta(t, 0.5, float64(extracted[1023]), 0.001)
}

func TestEngine_ExtractAfterEviction(t *testing.T) {
	source := &fakeSource{}
	consumer := &recordingConsumer{}

	engine, _ := newTestEngine(t, source, consumer, true)
	require.NoError(t, engine.Start())
	defer engine.Stop()

	// 10 chunks of 1024 into an 8192-sample ring: first 2048 evicted.
	for i := 0; i < 10; i++ {
		source.stream.chunks <- chunkOf(1024, int16(1000+i))
	}

	waitFor(t, func() bool { return consumer.count() == 10 })

	extracted := engine.ExtractBuffered()
	require.Len(t, extracted, 8192)

	// The oldest surviving sample comes from the third chunk and must decode
	// to its original value even though the keystream offset is nonzero.
	assert.InDelta(t, float64(1002)/32768, float64(extracted[0]), 0.0001)
	assert.InDelta(t, float64(1009)/32768, float64(extracted[8191]), 0.0001)
}

func TestEngine_ExtractConcurrentWithCapture(t *testing.T) {
	source := &fakeSource{}
	consumer := &recordingConsumer{}

	engine, _ := newTestEngine(t, source, consumer, true)
	require.NoError(t, engine.Start())
	defer engine.Stop()

	stop := make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(1)

	go func() {
		defer wg.Done()

		for {
			select {
			case <-stop:
				return
			case source.stream.chunks <- chunkOf(1024, 16384):
			}
		}
	}()

	defer wg.Wait()
	defer close(stop)

	// Appends landing between the snapshot and its offset would decode the
	// whole extraction against the wrong keystream position. Every sample
	// ever fed is 0.5, so every extracted sample must decode to 0.5.
	for i := 0; i < 2000; i++ {
		for j, s := range engine.ExtractBuffered() {
			if s < 0.499 || s > 0.501 {
				t.Fatalf("iteration %d: sample %d decoded to %v, want 0.5", i, j, s)
			}
		}
	}
}

// stereoOnlySource rejects everything but 2-channel capture at the target
// rate, like a device with a hardwired stereo ADC.
type stereoOnlySource struct {
	fakeSource
}

func (s *stereoOnlySource) Open(cfg SourceConfig) (Stream, error) {
	if cfg.Channels != 2 || cfg.SampleRate != 16000 {
		return nil, errors.New("unsupported format")
	}

	return s.fakeSource.Open(cfg)
}

func TestEngine_NegotiatesStereoAtTargetRate(t *testing.T) {
	source := &stereoOnlySource{}
	consumer := &recordingConsumer{}

	engine, _ := newTestEngine(t, source, consumer, false)
	require.NoError(t, engine.Start())
	defer engine.Stop()

	// 1024 stereo frames at 16 kHz downmix to one canonical mono frame.
	source.stream.chunks <- chunkOf(1024*2, 16384)

	waitFor(t, func() bool { return consumer.count() == 1 })

	frame := consumer.all()[0]
	require.Len(t, frame.Samples, 1024)
	assert.InDelta(t, 0.5, frame.Samples[0], 0.001)
}

func TestEngine_StartIsIdempotent(t *testing.T) {
	source := &fakeSource{}
	engine, _ := newTestEngine(t, source, &recordingConsumer{}, false)

	require.NoError(t, engine.Start())
	require.NoError(t, engine.Start())

	assert.True(t, engine.Running())

	engine.Stop()
	assert.False(t, engine.Running())

	// Stop on a stopped engine is safe.
	engine.Stop()
}

func TestEngine_DeviceUnavailable(t *testing.T) {
	source := &fakeSource{openErr: ErrDeviceUnavailable}
	engine, _ := newTestEngine(t, source, &recordingConsumer{}, false)

	err := engine.Start()
	assert.ErrorIs(t, err, ErrDeviceUnavailable)
	assert.False(t, engine.Running())
}

func TestEngine_FormatNegotiationFailure(t *testing.T) {
	// Device insists on 44.1 kHz, which is not an integer multiple of 16 kHz.
	source := &fakeSource{cfg: SourceConfig{SampleRate: 44100, Channels: 1, ReadSize: 1024}}
	engine, _ := newTestEngine(t, source, &recordingConsumer{}, false)

	err := engine.Start()
	assert.ErrorIs(t, err, ErrFormatNegotiation)
}

func TestEngine_ConvertsStereo48k(t *testing.T) {
	source := &fakeSource{cfg: SourceConfig{SampleRate: 48000, Channels: 2, ReadSize: 3072}}
	consumer := &recordingConsumer{}

	engine, _ := newTestEngine(t, source, consumer, false)
	require.NoError(t, engine.Start())
	defer engine.Stop()

	// 3072 stereo frames at 48 kHz -> 1024 mono samples at 16 kHz.
	source.stream.chunks <- chunkOf(3072*2, 8192)

	waitFor(t, func() bool { return consumer.count() == 1 })

	frame := consumer.all()[0]
	require.Len(t, frame.Samples, 1024)
	assert.InDelta(t, 0.25, frame.Samples[0], 0.001)
}

func TestEngine_StreamErrorCallback(t *testing.T) {
	source := &fakeSource{}

	var (
		mu       sync.Mutex
		gotError error
	)

	buf, err := ring_buffer.New[float32](4096)
	require.NoError(t, err)

	obf, err := obfuscation.New(&obfuscation.Config{Enabled: false})
	require.NoError(t, err)

	engine, err := NewEngine(&EngineConfig{
		Source:     source,
		Buffer:     buf,
		Obfuscator: obf,
		Consumer:   &recordingConsumer{},
		FrameSize:  1024,
		SampleRate: 16000,
		OnStreamError: func(err error) {
			mu.Lock()
			gotError = err
			mu.Unlock()
		},
	})
	require.NoError(t, err)

	require.NoError(t, engine.Start())

	// Simulate the device disappearing mid-stream.
	source.stream.err = errors.New("device disconnected")
	source.stream.Stop()

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()

		return gotError != nil
	})

	engine.Stop()
}

func TestEngine_ClearBuffer(t *testing.T) {
	source := &fakeSource{}
	consumer := &recordingConsumer{}

	engine, buf := newTestEngine(t, source, consumer, false)
	require.NoError(t, engine.Start())

	source.stream.chunks <- chunkOf(1024, 100)
	waitFor(t, func() bool { return consumer.count() == 1 })

	engine.Stop()
	engine.ClearBuffer()

	assert.Zero(t, buf.Len())
	assert.Empty(t, engine.ExtractBuffered())
}
