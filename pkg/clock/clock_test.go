// ABOUTME: Tests for tick conversions and the hardware-to-pipeline converter
// ABOUTME: Covers byte durations, offset observation, and drift tracking
package clock

import (
	"testing"
	"time"
)

func TestFromDuration(t *testing.T) {
	tests := []struct {
		name     string
		duration time.Duration
		expected Ticks
	}{
		{"zero", 0, 0},
		{"one second", time.Second, TicksPerSecond},
		{"one millisecond", time.Millisecond, 10_000},
		{"100ns is one tick", 100 * time.Nanosecond, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FromDuration(tt.duration); got != tt.expected {
				t.Errorf("FromDuration(%v) = %d, want %d", tt.duration, got, tt.expected)
			}
		})
	}
}

func TestTicksDurationRoundTrip(t *testing.T) {
	d := 20 * time.Millisecond
	if got := FromDuration(d).Duration(); got != d {
		t.Errorf("round trip = %v, want %v", got, d)
	}
}

func TestDurationOfBytes(t *testing.T) {
	tests := []struct {
		name     string
		n        int
		byteRate int
		expected Ticks
	}{
		{"one second of 16k mono s16", 32000, 32000, TicksPerSecond},
		{"half second", 16000, 32000, TicksPerSecond / 2},
		{"20ms of 48k stereo f32", 7680, 384000, 200_000},
		{"zero bytes", 0, 32000, 0},
		{"zero rate", 100, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DurationOfBytes(tt.n, tt.byteRate); got != tt.expected {
				t.Errorf("DurationOfBytes(%d, %d) = %d, want %d", tt.n, tt.byteRate, got, tt.expected)
			}
		})
	}
}

func TestHardwareClockAdvances(t *testing.T) {
	c := NewHardwareClock()
	a := c.Now()
	time.Sleep(2 * time.Millisecond)
	b := c.Now()
	if b <= a {
		t.Errorf("hardware clock went backwards: %d then %d", a, b)
	}
}

func TestConverterFirstObservationSetsOffset(t *testing.T) {
	c := NewConverter(0)
	c.Observe(1000, 501000)

	if got := c.Offset(); got != 500000 {
		t.Errorf("Offset() = %d, want 500000", got)
	}
	if got := c.Convert(1000); got != 501000 {
		t.Errorf("Convert(1000) = %d, want 501000", got)
	}
}

func TestConverterInitialOffsetWithoutObservation(t *testing.T) {
	c := NewConverter(250)
	if got := c.Convert(100); got != 350 {
		t.Errorf("Convert(100) = %d, want 350", got)
	}
}

func TestConverterTracksDrift(t *testing.T) {
	c := NewConverter(0)

	// Wall clock runs 0.1% fast relative to hardware.
	var hw, wall Ticks
	for i := 0; i < 200; i++ {
		hw += 100_000
		wall = hw + Ticks(float64(hw)*0.001)
		c.Observe(hw, wall)
	}

	got := c.Convert(hw)
	diff := got - wall
	if diff < 0 {
		diff = -diff
	}
	// A converged estimate should be within 1ms of the true mapping.
	if diff > 10_000 {
		t.Errorf("Convert(%d) = %d, want within 10000 of %d (diff %d)", hw, got, wall, diff)
	}
}

func TestConverterIgnoresNonAdvancingHardware(t *testing.T) {
	c := NewConverter(0)
	c.Observe(1000, 2000)
	c.Observe(1000, 9999)

	if got := c.Offset(); got != 1000 {
		t.Errorf("Offset() = %d, want 1000 after repeated hardware timestamp", got)
	}
}
