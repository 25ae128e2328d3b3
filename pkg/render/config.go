// ABOUTME: Render engine configuration record
// ABOUTME: Immutable after Initialize except the negotiated-format write-back
package render

import "github.com/Wavebridge-Audio/wavebridge-go/pkg/wave"

const (
	defaultTargetLatencyMs = 40
	defaultRingMs          = 500
	defaultGain            = 1.0
)

// Config is the render engine parameter bundle.
type Config struct {
	// DeviceName is the endpoint friendly name; empty means the system
	// default render device.
	DeviceName string

	// TargetLatencyMs bounds the buffering delay inside the device path.
	// The worker ticks at half this interval.
	TargetLatencyMs int

	// RingMs sizes the AppendAudio ring buffer.
	RingMs int

	// Gain is an additional multiplier applied per sample (1.0 = unity).
	Gain float64

	// Format is the wire format of audio fed through AppendAudio.
	// Required.
	Format *wave.Format

	// Negotiated is written by Initialize: the format the device was
	// actually opened in.
	Negotiated wave.Format
}

func (c *Config) normalize() {
	if c.TargetLatencyMs <= 0 {
		c.TargetLatencyMs = defaultTargetLatencyMs
	}
	if c.RingMs <= 0 {
		c.RingMs = defaultRingMs
	}
	if c.Gain == 0 {
		c.Gain = defaultGain
	}
}
