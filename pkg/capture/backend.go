// ABOUTME: Hardware backend abstraction for the capture engine
// ABOUTME: Keeps the engine's drain/timestamp logic independent of miniaudio
package capture

import (
	"github.com/Wavebridge-Audio/wavebridge-go/pkg/clock"
	"github.com/Wavebridge-Audio/wavebridge-go/pkg/device"
	"github.com/Wavebridge-Audio/wavebridge-go/pkg/wave"
)

// Block is one hardware buffer handed up by a backend. Data is owned by the
// backend and may be mutated by the engine until the next ReadBlock call.
type Block struct {
	Data []byte

	// Timestamp is the hardware-domain time of the block's first frame.
	Timestamp clock.Ticks

	// Silent marks blocks the hardware flagged as silence; the engine
	// zero-fills these instead of trusting their contents.
	Silent bool
}

// Backend is the hardware half of the capture engine. Implementations exist
// for miniaudio (default), portaudio (build tag) and an in-memory fake used
// by the tests.
type Backend interface {
	device.FormatProvider

	// Open resolves the named endpoint ("" = system default). Fails with
	// device.ErrDeviceNotFound for an unknown name.
	Open(name string) error

	// EnableSpeechProcessing requests the device's speech-optimized
	// signal-processing profile. Called before Activate.
	EnableSpeechProcessing() error

	// Activate opens the hardware stream in the negotiated format with the
	// given period, buffering at least bufferMs of audio against a slow
	// worker. The stream does not run until Start.
	Activate(format wave.Format, periodMs, bufferMs int) error

	Start() error
	Stop() error
	Close() error

	// Ready signals (edge-triggered, capacity 1) whenever new data arrives.
	Ready() <-chan struct{}

	// ReadBlock pops the next buffered block; ok is false when none remain.
	ReadBlock() (blk Block, ok bool)

	// Clock is the hardware clock Block timestamps are expressed in.
	Clock() *clock.HardwareClock
}
