// ABOUTME: Playback sink abstraction for the render engine
// ABOUTME: Sinks report free space so the engine never overfills the device
package render

import (
	"errors"

	"github.com/Wavebridge-Audio/wavebridge-go/pkg/device"
	"github.com/Wavebridge-Audio/wavebridge-go/pkg/wave"
)

// ErrInvalidState means a lifecycle call arrived in the wrong engine state.
var ErrInvalidState = errors.New("render: invalid engine state")

// Sink is the hardware half of the render engine. Implementations exist for
// miniaudio (default), oto (push playback) and an in-memory fake used by
// the tests.
type Sink interface {
	device.FormatProvider

	// Open resolves the named endpoint ("" = system default).
	Open(name string) error

	// Activate opens the playback stream in the negotiated format, sized
	// to the target latency. Playback does not run until Start.
	Activate(format wave.Format, latencyMs int) error

	Start() error
	Stop() error
	Close() error

	// FreeBytes is how much the engine may write right now without
	// overfilling the device buffer.
	FreeBytes() int

	// Write copies up to FreeBytes of p toward the device and returns the
	// number of bytes accepted.
	Write(p []byte) int
}
