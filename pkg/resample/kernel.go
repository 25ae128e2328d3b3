// ABOUTME: Conversion kernel chaining sample decode, channel remix and rate change
// ABOUTME: Rate conversion runs per channel on planar float32 via a polyphase filter
package resample

import (
	"github.com/Wavebridge-Audio/wavebridge-go/pkg/wave"
	"github.com/oov/audio/resampler"
)

// kernel performs the actual conversion for one (input, output) binding.
// All scratch buffers are reused between calls; a returned byte slice is
// valid until the next process call.
type kernel struct {
	in  wave.Format
	out wave.Format

	rs *resampler.Resampler // nil when sample rates already match

	floatIn []float32
	mixBuf  []float32

	// Per-channel planar staging for the rate converter. carry holds input
	// frames the filter did not consume this round.
	planarIn  [][]float32
	planarOut [][]float32
	carry     [][]float32

	interleaved []float32
}

func newKernel(in, out wave.Format) (*kernel, error) {
	k := &kernel{in: in, out: out}
	if in.SamplesPerSec != out.SamplesPerSec {
		k.rs = resampler.New(out.Channels, in.SamplesPerSec, out.SamplesPerSec, resampleQuality)
		k.planarIn = make([][]float32, out.Channels)
		k.planarOut = make([][]float32, out.Channels)
		k.carry = make([][]float32, out.Channels)
	}
	return k, nil
}

// process converts one staged chunk of input bytes into dst's storage and
// returns the converted bytes.
func (k *kernel) process(p []byte, dst []byte) []byte {
	k.floatIn = decodeSamples(k.in, p, k.floatIn)

	mixed := convertChannels(k.floatIn, k.in.Channels, k.out.Channels, k.mixBuf)
	if k.in.Channels != k.out.Channels {
		k.mixBuf = mixed
	}

	if k.rs == nil {
		return encodeSamples(k.out, mixed, dst)
	}

	ch := k.out.Channels
	inFrames := len(mixed) / ch

	// Deinterleave, prefixing each channel with its carried-over frames.
	for c := 0; c < ch; c++ {
		k.planarIn[c] = append(k.planarIn[c][:0], k.carry[c]...)
		for i := 0; i < inFrames; i++ {
			k.planarIn[c] = append(k.planarIn[c], mixed[i*ch+c])
		}
	}

	want := (len(k.planarIn[0])*k.out.SamplesPerSec)/k.in.SamplesPerSec + 16
	written := 0
	for c := 0; c < ch; c++ {
		if cap(k.planarOut[c]) < want {
			k.planarOut[c] = make([]float32, want)
		}
		k.planarOut[c] = k.planarOut[c][:want]

		read, w := k.rs.ProcessFloat32(c, k.planarIn[c], k.planarOut[c])
		k.carry[c] = append(k.carry[c][:0], k.planarIn[c][read:]...)
		written = w
	}

	if written == 0 {
		return dst[:0]
	}

	if cap(k.interleaved) < written*ch {
		k.interleaved = make([]float32, written*ch)
	}
	k.interleaved = k.interleaved[:written*ch]
	for c := 0; c < ch; c++ {
		for i := 0; i < written; i++ {
			k.interleaved[i*ch+c] = k.planarOut[c][i]
		}
	}

	return encodeSamples(k.out, k.interleaved, dst)
}
