// ABOUTME: Timestamp domains measured in 100-nanosecond ticks
// ABOUTME: Converts hardware (monotonic) timestamps into pipeline wall-clock time
package clock

import (
	"sync"
	"time"
)

// Ticks is a count of 100-nanosecond intervals, the timestamp unit shared by
// the capture and render engines.
type Ticks int64

// TicksPerSecond is the tick rate of the timestamp domain.
const TicksPerSecond = 10_000_000

// FromDuration converts a duration to ticks.
func FromDuration(d time.Duration) Ticks {
	return Ticks(d.Nanoseconds() / 100)
}

// Duration converts ticks to a duration.
func (t Ticks) Duration() time.Duration {
	return time.Duration(int64(t) * 100)
}

// DurationOfBytes returns the play time of n bytes of audio at the given byte
// rate, in ticks.
func DurationOfBytes(n, avgBytesPerSec int) Ticks {
	if avgBytesPerSec <= 0 {
		return 0
	}
	return Ticks(int64(TicksPerSecond) * int64(n) / int64(avgBytesPerSec))
}

// WallNow returns the current wall-clock time in ticks since the Unix epoch.
func WallNow() Ticks {
	return Ticks(time.Now().UnixNano() / 100)
}

// HardwareClock reads a monotonic clock in ticks. It stands in for the
// performance counter that hardware buffer timestamps are expressed in.
type HardwareClock struct {
	origin time.Time
}

// NewHardwareClock creates a hardware clock anchored at the current instant.
func NewHardwareClock() *HardwareClock {
	return &HardwareClock{origin: time.Now()}
}

// Now returns the monotonic time in ticks since the clock was created.
func (c *HardwareClock) Now() Ticks {
	return FromDuration(time.Since(c.origin))
}

// Converter maps hardware-domain timestamps into the pipeline wall-clock
// domain. It tracks both an offset and a drift rate, because the two clocks
// advance at slightly different frequencies and the wall clock is subject to
// step adjustments; re-observing the pair over a long capture session is what
// produces the occasional backwards-moving pipeline timestamp the engines
// must tolerate.
type Converter struct {
	mu         sync.RWMutex
	offset     Ticks   // pipeline - hardware at the last observation
	drift      float64 // ticks of offset change per hardware tick
	lastHW     Ticks
	smoothing  float64
	observed   int
}

// NewConverter creates a converter with a fixed initial offset and no drift.
func NewConverter(offset Ticks) *Converter {
	return &Converter{offset: offset, smoothing: 0.1}
}

// Observe feeds a simultaneous reading of both clocks. The first observation
// sets the offset directly; later ones are smoothed and refine the drift
// estimate.
func (c *Converter) Observe(hw, wall Ticks) {
	c.mu.Lock()
	defer c.mu.Unlock()

	measured := wall - hw
	if c.observed == 0 {
		c.offset = measured
		c.lastHW = hw
		c.observed++
		return
	}

	dt := float64(hw - c.lastHW)
	if dt <= 0 {
		return
	}

	predicted := c.offset + Ticks(c.drift*dt)
	residual := measured - predicted

	c.offset = predicted + Ticks(c.smoothing*float64(residual))
	c.drift += c.smoothing * float64(residual) / dt
	c.lastHW = hw
	c.observed++
}

// Convert maps a hardware timestamp into the pipeline domain.
func (c *Converter) Convert(hw Ticks) Ticks {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return hw + c.offset + Ticks(c.drift*float64(hw-c.lastHW))
}

// Offset returns the current offset estimate.
func (c *Converter) Offset() Ticks {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.offset
}
