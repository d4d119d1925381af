package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	settings, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "portaudio", settings.Audio.Backend)
	assert.Equal(t, 1024, settings.Audio.FrameSize)
	assert.Equal(t, 32000, settings.BufferCapacity())
	assert.True(t, settings.Obfuscation.Enabled)
	assert.Equal(t, 16000, settings.Analysis.WindowSize)
	assert.Equal(t, 8000, settings.Analysis.HopSize)
	assert.Equal(t, 2*time.Second, settings.Analysis.WorkerTimeout)
	assert.Equal(t, "hey computer", settings.Wake.Keyword)
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")

	yaml := []byte(`
audio:
  backend: malgo
  framesize: 512
buffer:
  seconds: 4
obfuscation:
  enabled: false
analysis:
  vadworker: /usr/local/bin/vad-worker
wake:
  keyword: "hey assistant"
`)
	require.NoError(t, os.WriteFile(configPath, yaml, 0o644))

	settings, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, "malgo", settings.Audio.Backend)
	assert.Equal(t, 512, settings.Audio.FrameSize)
	assert.Equal(t, 64000, settings.BufferCapacity())
	assert.False(t, settings.Obfuscation.Enabled)
	assert.Equal(t, "/usr/local/bin/vad-worker", settings.Analysis.VADWorker)
	assert.Equal(t, "hey assistant", settings.Wake.Keyword)
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("VOICE_AUDIO_BACKEND", "malgo")
	t.Setenv("VOICE_BUFFER_SECONDS", "3")

	settings, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "malgo", settings.Audio.Backend)
	assert.Equal(t, 48000, settings.BufferCapacity())
}

func TestValidate(t *testing.T) {
	settings, err := Load("")
	require.NoError(t, err)

	settings.Audio.Backend = "sdl"
	assert.Error(t, settings.Validate())

	settings, err = Load("")
	require.NoError(t, err)

	settings.Analysis.HopSize = settings.Analysis.WindowSize + 1
	assert.Error(t, settings.Validate())

	settings, err = Load("")
	require.NoError(t, err)

	settings.Wake.Keyword = ""
	assert.Error(t, settings.Validate())
}
