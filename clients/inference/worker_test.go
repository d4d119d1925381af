package inference

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voice-activation-detection/analysis"
)

func TestWorker_Decode(t *testing.T) {
	vad, err := NewWorker(&Config{Command: "vad-worker", Mode: ModeVAD})
	require.NoError(t, err)

	wake, err := NewWorker(&Config{Command: "wake-worker", Mode: ModeWakeWord})
	require.NoError(t, err)

	t.Run("voice detected", func(t *testing.T) {
		result, err := vad.decode([]byte(`{"voice_detected": true, "confidence": 0.92, "energy_db": -21.5}`))
		require.NoError(t, err)

		assert.Equal(t, analysis.KindVoiceActivity, result.Kind)
		assert.InDelta(t, 0.92, result.Confidence, 0.001)
		assert.InDelta(t, -21.5, result.EnergyDB, 0.001)
	})

	t.Run("no voice", func(t *testing.T) {
		result, err := vad.decode([]byte(`{"voice_detected": false, "energy_db": -55.0}`))
		require.NoError(t, err)

		assert.Equal(t, analysis.KindNone, result.Kind)
	})

	t.Run("wake word detected", func(t *testing.T) {
		result, err := wake.decode([]byte(`{"wake_word_detected": true, "keyword": "computer", "confidence": 0.87}`))
		require.NoError(t, err)

		assert.Equal(t, analysis.KindWakeWord, result.Kind)
		assert.Equal(t, "computer", result.Keyword)
		assert.InDelta(t, 0.87, result.Confidence, 0.001)
	})

	t.Run("missing fields mean no detection", func(t *testing.T) {
		result, err := wake.decode([]byte(`{}`))
		require.NoError(t, err)

		assert.Equal(t, analysis.KindNone, result.Kind)
	})

	t.Run("malformed response is an error", func(t *testing.T) {
		_, err := vad.decode([]byte(`not json at all`))
		assert.Error(t, err)
	})

	t.Run("vad fields ignored by wake worker", func(t *testing.T) {
		result, err := wake.decode([]byte(`{"voice_detected": true}`))
		require.NoError(t, err)

		assert.Equal(t, analysis.KindNone, result.Kind)
	})
}

func TestWorker_InvokesProcess(t *testing.T) {
	// The worker contract end to end: read the request from stdin, answer on
	// stdout.
	worker, err := NewWorker(&Config{
		Command: "sh",
		Args:    []string{"-c", `cat > /dev/null; echo '{"voice_detected": true, "confidence": 0.75}'`},
		Mode:    ModeVAD,
	})
	require.NoError(t, err)

	result, err := worker.Infer(context.Background(), &analysis.Request{
		Samples:     []float32{0.1, 0.2},
		ThresholdDB: -30,
		Environment: "office",
	})
	require.NoError(t, err)

	assert.Equal(t, analysis.KindVoiceActivity, result.Kind)
	assert.InDelta(t, 0.75, result.Confidence, 0.001)
}

func TestWorker_NonZeroExit(t *testing.T) {
	worker, err := NewWorker(&Config{
		Command: "sh",
		Args:    []string{"-c", "cat > /dev/null; exit 3"},
		Mode:    ModeVAD,
	})
	require.NoError(t, err)

	_, err = worker.Infer(context.Background(), &analysis.Request{Samples: []float32{0}})
	assert.Error(t, err)
}

func TestWorker_SpawnFailure(t *testing.T) {
	worker, err := NewWorker(&Config{Command: "/nonexistent/worker-binary", Mode: ModeWakeWord})
	require.NoError(t, err)

	_, err = worker.Infer(context.Background(), &analysis.Request{Samples: []float32{0}})
	assert.Error(t, err)
}

func TestWorker_Timeout(t *testing.T) {
	worker, err := NewWorker(&Config{
		Command: "sh",
		Args:    []string{"-c", "sleep 10 > /dev/null 2>&1"},
		Mode:    ModeVAD,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()

	_, err = worker.Infer(ctx, &analysis.Request{Samples: []float32{0}})
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestWorker_ConfigValidation(t *testing.T) {
	_, err := NewWorker(nil)
	assert.Error(t, err)

	_, err = NewWorker(&Config{})
	assert.Error(t, err)
}
