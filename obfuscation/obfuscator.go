package obfuscation

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/google/uuid"
)

const keySize = 32

// Obfuscator applies a reversible, position-keyed XOR transform to sample
// slices so raw audio never sits in memory in plain form. It is not a
// confidentiality control: anyone holding the session key can decode.
//
// The keystream word for a sample depends on the session key and the sample's
// absolute position in the capture session, so the same plaintext encoded at
// two offsets produces different ciphertext, and eviction from the ring buffer
// does not shift the key position of surviving samples.
type Obfuscator struct {
	sessionID string
	key       []byte
	enabled   bool
}

type Config struct {
	Enabled bool
}

func New(cfg *Config) (*Obfuscator, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	if !cfg.Enabled {
		return &Obfuscator{enabled: false}, nil
	}

	key := make([]byte, keySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generating session key: %w", err)
	}

	return &Obfuscator{
		sessionID: uuid.NewString(),
		key:       key,
		enabled:   true,
	}, nil
}

func (o *Obfuscator) Enabled() bool {
	return o.enabled
}

// SessionID identifies the key in use, for log correlation. Empty when
// obfuscation is disabled.
func (o *Obfuscator) SessionID() string {
	return o.sessionID
}

// Encode returns the transform of samples as stored at absolute sample
// position offset. The input is not modified.
func (o *Obfuscator) Encode(samples []float32, offset uint64) []float32 {
	return o.apply(samples, offset)
}

// Decode inverts Encode for samples stored at the same offset.
func (o *Obfuscator) Decode(samples []float32, offset uint64) []float32 {
	return o.apply(samples, offset)
}

// apply XORs each sample's bit pattern with the keystream word for its
// position. XOR is its own inverse, so encode and decode are the same
// operation.
func (o *Obfuscator) apply(samples []float32, offset uint64) []float32 {
	out := make([]float32, len(samples))

	if !o.enabled {
		copy(out, samples)

		return out
	}

	for i, s := range samples {
		mask := o.keystream(offset + uint64(i))
		out[i] = math.Float32frombits(math.Float32bits(s) ^ mask)
	}

	return out
}

func (o *Obfuscator) keystream(pos uint64) uint32 {
	word := binary.LittleEndian.Uint32(o.key[(pos*4)%keySize:])

	// Mix the position in so identical key words at different offsets still
	// diverge. Knuth's multiplicative hash keeps this cheap.
	return word ^ uint32(pos*2654435761)
}

// Close zeroizes the session key. The obfuscator must not be used afterwards.
func (o *Obfuscator) Close() {
	for i := range o.key {
		o.key[i] = 0
	}

	o.key = nil
	o.enabled = false
}
