// ABOUTME: Resampling transform between two wire formats with latency-sized staging
// ABOUTME: Chunks oversized input and advances each chunk's timestamp by its duration
package resample

import (
	"errors"
	"fmt"

	"github.com/Wavebridge-Audio/wavebridge-go/pkg/clock"
	"github.com/Wavebridge-Audio/wavebridge-go/pkg/wave"
)

// ErrUnsupportedConversion means the kernel cannot convert between the two
// formats (for example a channel layout it does not know how to remix).
// Fatal at construction; the caller must not attempt the resampling stage.
var ErrUnsupportedConversion = errors.New("resample: unsupported conversion")

// resampleQuality is the oov polyphase filter quality (0..10).
const resampleQuality = 10

// OutputFunc receives converted audio. The byte slice is owned by the
// transform and overwritten on the next emission; copy to retain.
type OutputFunc func(p []byte, ts clock.Ticks)

// Transform converts audio from one PCM wire format to another, carrying
// timestamps through the conversion. It is driven by a single engine worker
// thread and needs no internal locking.
type Transform struct {
	in        wave.Format
	out       wave.Format
	latencyMs int
	cb        OutputFunc

	// Staging buffers sized to the target latency on each side.
	inCap  int
	outBuf []byte

	kernel *kernel

	// Output-side monotonicity, preserved across Reinitialize.
	lastOut clock.Ticks
	started bool
}

// New creates a transform bound to (in, out) with staging buffers sized to
// latencyMs of audio on each side.
func New(in, out wave.Format, latencyMs int, cb OutputFunc) (*Transform, error) {
	if cb == nil {
		return nil, errors.New("resample: nil output callback")
	}
	t := &Transform{out: out, latencyMs: latencyMs, cb: cb}
	if err := t.bind(in); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Transform) bind(in wave.Format) error {
	if !in.Valid() || !t.out.Valid() {
		return fmt.Errorf("%w: invalid format (%s -> %s)", ErrUnsupportedConversion, in, t.out)
	}
	if !in.IsPCM() || !t.out.IsPCM() {
		return fmt.Errorf("%w: non-PCM format (%s -> %s)", ErrUnsupportedConversion, in, t.out)
	}
	if !channelsConvertible(in.Channels, t.out.Channels) {
		return fmt.Errorf("%w: cannot remix %d -> %d channels", ErrUnsupportedConversion, in.Channels, t.out.Channels)
	}

	k, err := newKernel(in, t.out)
	if err != nil {
		return err
	}

	t.in = in
	t.kernel = k
	t.inCap = t.latencyMs * in.AvgBytesPerSec() / 1000
	if t.inCap < in.BlockAlign() {
		t.inCap = in.BlockAlign()
	}
	// Round the staging capacity down to whole frames.
	t.inCap -= t.inCap % in.BlockAlign()
	outCap := t.latencyMs * t.out.AvgBytesPerSec() / 1000
	if cap(t.outBuf) < outCap {
		t.outBuf = make([]byte, 0, outCap)
	}
	return nil
}

// InputFormat returns the format the transform currently accepts.
func (t *Transform) InputFormat() wave.Format { return t.in }

// OutputFormat returns the format the transform produces.
func (t *Transform) OutputFormat() wave.Format { return t.out }

// Resample pushes input bytes stamped with the hardware time of their first
// frame. Input larger than the staging buffer is split into staging-sized
// chunks, each advancing the timestamp by its own duration; the output
// callback fires zero or more times as converted audio becomes available.
// Returns the number of input bytes consumed.
func (t *Transform) Resample(p []byte, ts clock.Ticks) (int, error) {
	if t.kernel == nil {
		return 0, ErrUnsupportedConversion
	}

	consumed := 0
	for consumed < len(p) {
		chunk := len(p) - consumed
		if chunk > t.inCap {
			chunk = t.inCap
		}
		// Never split a frame across chunks.
		chunk -= chunk % t.in.BlockAlign()
		if chunk == 0 {
			// Trailing partial frame; leave it to the caller.
			break
		}

		out := t.kernel.process(p[consumed:consumed+chunk], t.outBuf[:0])
		if len(out) > 0 {
			t.outBuf = out[:0]
			t.emit(out, ts)
		}

		ts += clock.DurationOfBytes(chunk, t.in.AvgBytesPerSec())
		consumed += chunk
	}
	return consumed, nil
}

func (t *Transform) emit(p []byte, ts clock.Ticks) {
	// The clock domains feeding ts can step backwards across a
	// reinitialization; clamp so downstream monotonicity holds.
	if t.started && ts < t.lastOut {
		ts = t.lastOut
	}
	t.lastOut = ts
	t.started = true
	t.cb(p, ts)
}

// Reinitialize tears down the conversion kernel and rebuilds it for a new
// input format, keeping the output format and the output-side timestamp
// floor. Required whenever the observed input format changes mid-stream.
func (t *Transform) Reinitialize(newInput wave.Format) error {
	if newInput.Equal(t.in) {
		return nil
	}
	return t.bind(newInput)
}
