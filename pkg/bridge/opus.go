// ABOUTME: Opus encoding for bandwidth-efficient bridge streaming
// ABOUTME: Accumulates PCM into fixed 20ms frames and converts float input to int16
package bridge

import (
	"fmt"
	"log"
	"math"

	"github.com/Wavebridge-Audio/wavebridge-go/pkg/wave"
	"gopkg.in/hraban/opus.v2"
)

const opusFrameMs = 20

// OpusEncoder turns a stream of PCM bytes in one fixed format into Opus
// packets. Opus requires whole frames, so input is accumulated and any
// remainder carries over to the next call.
type OpusEncoder struct {
	encoder   *opus.Encoder
	format    wave.Format
	frameSize int // samples per channel per frame
	pending   []int16
	out       []byte
}

// NewOpusEncoder creates an encoder for the given engine format. Opus only
// accepts a fixed set of sample rates; 16 and 32-bit PCM and 32-bit float
// input are converted to int16.
func NewOpusEncoder(f wave.Format) (*OpusEncoder, error) {
	switch f.SamplesPerSec {
	case 8000, 12000, 16000, 24000, 48000:
	default:
		return nil, fmt.Errorf("opus does not support %d Hz", f.SamplesPerSec)
	}
	if f.Channels != 1 && f.Channels != 2 {
		return nil, fmt.Errorf("opus requires mono or stereo, got %d channels", f.Channels)
	}

	encoder, err := opus.NewEncoder(f.SamplesPerSec, f.Channels, opus.AppAudio)
	if err != nil {
		return nil, fmt.Errorf("failed to create opus encoder: %w", err)
	}

	bitrate := 64000 * f.Channels
	if err := encoder.SetBitrate(bitrate); err != nil {
		log.Printf("Warning: Failed to set Opus bitrate: %v", err)
	}

	return &OpusEncoder{
		encoder:   encoder,
		format:    f,
		frameSize: f.SamplesPerSec * opusFrameMs / 1000,
		out:       make([]byte, 4000),
	}, nil
}

// Encode consumes PCM bytes in the encoder's format and returns zero or
// more Opus packets. Bytes that do not complete a frame are buffered.
func (e *OpusEncoder) Encode(pcm []byte) ([][]byte, error) {
	samples, err := e.toInt16(pcm)
	if err != nil {
		return nil, err
	}
	e.pending = append(e.pending, samples...)

	perFrame := e.frameSize * e.format.Channels
	var packets [][]byte
	for len(e.pending) >= perFrame {
		n, err := e.encoder.Encode(e.pending[:perFrame], e.out)
		if err != nil {
			return nil, fmt.Errorf("opus encode failed: %w", err)
		}
		packets = append(packets, append([]byte(nil), e.out[:n]...))
		e.pending = e.pending[perFrame:]
	}
	return packets, nil
}

func (e *OpusEncoder) toInt16(pcm []byte) ([]int16, error) {
	switch {
	case e.format.IsFloat() && e.format.BitsPerSample == 32:
		n := len(pcm) / 4
		out := make([]int16, n)
		for i := 0; i < n; i++ {
			bits := uint32(pcm[i*4]) | uint32(pcm[i*4+1])<<8 | uint32(pcm[i*4+2])<<16 | uint32(pcm[i*4+3])<<24
			s := math.Float32frombits(bits)
			if s > 1 {
				s = 1
			} else if s < -1 {
				s = -1
			}
			out[i] = int16(s * 32767)
		}
		return out, nil
	case e.format.IsPCM() && e.format.BitsPerSample == 16:
		n := len(pcm) / 2
		out := make([]int16, n)
		for i := 0; i < n; i++ {
			out[i] = int16(uint16(pcm[i*2]) | uint16(pcm[i*2+1])<<8)
		}
		return out, nil
	case e.format.IsPCM() && e.format.BitsPerSample == 32:
		n := len(pcm) / 4
		out := make([]int16, n)
		for i := 0; i < n; i++ {
			v := int32(uint32(pcm[i*4]) | uint32(pcm[i*4+1])<<8 | uint32(pcm[i*4+2])<<16 | uint32(pcm[i*4+3])<<24)
			out[i] = int16(v >> 16)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported opus input format: %s", e.format.String())
	}
}

// Close releases the encoder. The underlying library needs no teardown.
func (e *OpusEncoder) Close() error {
	return nil
}
