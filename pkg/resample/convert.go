// ABOUTME: Sample format and channel layout conversion for the transform
// ABOUTME: Decodes wire bytes to float32, remixes channels, re-encodes
package resample

import (
	"encoding/binary"
	"math"

	"github.com/Wavebridge-Audio/wavebridge-go/pkg/wave"
)

// decodeSamples converts wire bytes into interleaved float32 samples in
// [-1, 1). dst is reused when large enough.
func decodeSamples(f wave.Format, p []byte, dst []float32) []float32 {
	n := len(p) / (f.BitsPerSample / 8)
	if cap(dst) < n {
		dst = make([]float32, n)
	}
	dst = dst[:n]

	switch {
	case f.IsFloat():
		for i := 0; i < n; i++ {
			bits := binary.LittleEndian.Uint32(p[i*4:])
			dst[i] = math.Float32frombits(bits)
		}
	case f.BitsPerSample == 16:
		for i := 0; i < n; i++ {
			v := int16(binary.LittleEndian.Uint16(p[i*2:]))
			dst[i] = float32(v) / 32768.0
		}
	case f.BitsPerSample == 24:
		for i := 0; i < n; i++ {
			v := int32(p[i*3]) | int32(p[i*3+1])<<8 | int32(p[i*3+2])<<16
			if v&0x800000 != 0 {
				v |= ^0xFFFFFF
			}
			dst[i] = float32(v) / 8388608.0
		}
	case f.BitsPerSample == 32:
		for i := 0; i < n; i++ {
			v := int32(binary.LittleEndian.Uint32(p[i*4:]))
			dst[i] = float32(float64(v) / 2147483648.0)
		}
	}
	return dst
}

// encodeSamples converts interleaved float32 samples back into wire bytes.
// dst is reused when large enough.
func encodeSamples(f wave.Format, src []float32, dst []byte) []byte {
	size := len(src) * (f.BitsPerSample / 8)
	if cap(dst) < size {
		dst = make([]byte, size)
	}
	dst = dst[:size]

	switch {
	case f.IsFloat():
		for i, s := range src {
			binary.LittleEndian.PutUint32(dst[i*4:], math.Float32bits(s))
		}
	case f.BitsPerSample == 16:
		for i, s := range src {
			binary.LittleEndian.PutUint16(dst[i*2:], uint16(clampInt(s, 32767)))
		}
	case f.BitsPerSample == 24:
		for i, s := range src {
			v := clampInt(s, 8388607)
			dst[i*3] = byte(v)
			dst[i*3+1] = byte(v >> 8)
			dst[i*3+2] = byte(v >> 16)
		}
	case f.BitsPerSample == 32:
		for i, s := range src {
			v := clampInt64(s, 2147483647)
			binary.LittleEndian.PutUint32(dst[i*4:], uint32(v))
		}
	}
	return dst
}

func clampInt(s float32, max int32) int32 {
	v := int32(s * float32(max+1))
	if s >= 1.0 {
		return max
	}
	if s < -1.0 {
		return -max - 1
	}
	return v
}

func clampInt64(s float32, max int64) int64 {
	v := int64(float64(s) * float64(max+1))
	if v > max {
		return max
	}
	if v < -max-1 {
		return -max - 1
	}
	return v
}

// channelsConvertible reports whether the kernel knows how to remix.
func channelsConvertible(in, out int) bool {
	switch {
	case in == out:
		return true
	case out == 1 && in > 1:
		return true
	case in == 1 && out == 2:
		return true
	}
	return false
}

// convertChannels remixes interleaved samples. Supported layouts: identity,
// any-to-mono mixdown by averaging, and mono-to-stereo duplication.
func convertChannels(src []float32, inCh, outCh int, dst []float32) []float32 {
	if inCh == outCh {
		return src
	}
	frames := len(src) / inCh
	if cap(dst) < frames*outCh {
		dst = make([]float32, frames*outCh)
	}
	dst = dst[:frames*outCh]

	if outCh == 1 {
		for i := 0; i < frames; i++ {
			var sum float32
			for ch := 0; ch < inCh; ch++ {
				sum += src[i*inCh+ch]
			}
			dst[i] = sum / float32(inCh)
		}
		return dst
	}

	// mono to stereo
	for i := 0; i < frames; i++ {
		dst[2*i] = src[i]
		dst[2*i+1] = src[i]
	}
	return dst
}
