package capture

import "errors"

var (
	// ErrDeviceUnavailable means no usable input device could be opened.
	ErrDeviceUnavailable = errors.New("audio input device unavailable")

	// ErrFormatNegotiation means the canonical format (mono, 16 kHz) cannot
	// be derived from any format the device offers.
	ErrFormatNegotiation = errors.New("audio format negotiation failed")
)
