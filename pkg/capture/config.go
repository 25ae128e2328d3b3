// ABOUTME: Capture engine configuration record and cadence variants
// ABOUTME: Cadence is a closed set: event-driven or fixed-interval polling
package capture

import (
	"time"

	"github.com/Wavebridge-Audio/wavebridge-go/pkg/wave"
)

const (
	defaultTargetLatencyMs = 20
	defaultGain            = 1.0
)

// Cadence selects how the capture worker waits for hardware data. The set
// is closed: EventDriven or Polled.
type Cadence interface {
	// interval returns the polling interval, or 0 for event-driven waits.
	interval(targetLatency time.Duration) time.Duration
}

type eventDriven struct{}

func (eventDriven) interval(time.Duration) time.Duration { return 0 }

type polled struct{ d time.Duration }

func (p polled) interval(targetLatency time.Duration) time.Duration {
	if p.d > 0 {
		return p.d
	}
	// Default to half the target latency so two polls fit in one buffer.
	return targetLatency / 2
}

// EventDriven blocks the capture worker on the hardware data-ready signal
// with no timeout; each signal means at least one period of data is waiting.
func EventDriven() Cadence { return eventDriven{} }

// Polled wakes the capture worker on a fixed interval. A zero interval
// derives one from the target latency. The engine buffer is sized to at
// least twice the interval to absorb scheduling jitter.
func Polled(interval time.Duration) Cadence { return polled{d: interval} }

// Config is the capture engine parameter bundle. It is immutable after
// Initialize, except that Initialize records the actually negotiated device
// format back into Negotiated.
type Config struct {
	// DeviceName is the endpoint friendly name; empty means the system
	// default capture device.
	DeviceName string

	// TargetLatencyMs bounds the delay between live sound and delivery.
	TargetLatencyMs int

	// BufferMs sizes the engine-side buffering. Zero derives it from the
	// cadence (at least twice the polling interval).
	BufferMs int

	// Gain is an additional multiplier applied per sample (1.0 = unity).
	Gain float64

	// Cadence picks the wait strategy. Nil means event-driven.
	Cadence Cadence

	// SpeechOptimized requests the device's speech signal-processing
	// profile before format negotiation. Best effort: failure is logged,
	// never fatal.
	SpeechOptimized bool

	// DropOutOfOrder drops buffers whose pipeline timestamp would regress
	// instead of treating the regression as fatal.
	DropOutOfOrder bool

	// Format is the desired wire format. Nil means capture in whatever the
	// device's native mix format is, with no resampling stage.
	Format *wave.Format

	// Negotiated is written by Initialize: the format the device was
	// actually opened in.
	Negotiated wave.Format
}

func (c *Config) normalize() {
	if c.TargetLatencyMs <= 0 {
		c.TargetLatencyMs = defaultTargetLatencyMs
	}
	if c.Gain == 0 {
		c.Gain = defaultGain
	}
	if c.Cadence == nil {
		c.Cadence = EventDriven()
	}
	interval := c.Cadence.interval(time.Duration(c.TargetLatencyMs) * time.Millisecond)
	minBuffer := 2 * int(interval/time.Millisecond)
	if c.BufferMs < minBuffer {
		c.BufferMs = minBuffer
	}
	if c.BufferMs < 2*c.TargetLatencyMs {
		c.BufferMs = 2 * c.TargetLatencyMs
	}
}
