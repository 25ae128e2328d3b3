// ABOUTME: Records captured audio to a WAV file
// ABOUTME: Drains an adapter queue on its own goroutine so disk IO never touches the audio path
package app

import (
	"fmt"
	"log"
	"math"
	"os"

	"github.com/Wavebridge-Audio/wavebridge-go/pkg/bridge"
	"github.com/Wavebridge-Audio/wavebridge-go/pkg/wave"
	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// Recorder writes captured PCM to a WAV file. Audio arrives through the
// capture engine's data callback, which only lends its buffer, so blocks
// are copied onto an adapter queue and written to disk by a dedicated
// goroutine.
type Recorder struct {
	file    *os.File
	enc     *wav.Encoder
	format  wave.Format
	adapter *bridge.Adapter
	done    chan struct{}
	err     error
}

// NewRecorder creates a WAV file for the given capture format. Float
// input is converted to 16-bit PCM on the way in; integer input keeps its
// bit depth.
func NewRecorder(path string, format wave.Format) (*Recorder, error) {
	if !format.Valid() {
		return nil, fmt.Errorf("invalid recording format: %s", format.String())
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create output file: %w", err)
	}

	bitDepth := format.BitsPerSample
	if format.IsFloat() {
		bitDepth = 16
	}

	enc := wav.NewEncoder(f, format.SamplesPerSec, bitDepth, format.Channels, 1)

	r := &Recorder{
		file:    f,
		enc:     enc,
		format:  format,
		adapter: bridge.NewAdapter(64),
		done:    make(chan struct{}),
	}
	go r.drain()
	return r, nil
}

// Callback is the capture engine data callback feeding this recorder.
func (r *Recorder) Callback(buf *wave.Buffer) {
	r.adapter.Post(buf)
}

// Dropped returns how many blocks the writer fell behind on.
func (r *Recorder) Dropped() uint64 {
	return r.adapter.Dropped()
}

// Close stops accepting audio, flushes the writer, and finalizes the WAV
// header.
func (r *Recorder) Close() error {
	r.adapter.Close()
	<-r.done

	if err := r.enc.Close(); err != nil {
		r.file.Close()
		return fmt.Errorf("failed to finalize wav file: %w", err)
	}
	if err := r.file.Close(); err != nil {
		return err
	}
	return r.err
}

func (r *Recorder) drain() {
	defer close(r.done)

	buf := &goaudio.IntBuffer{
		Format: &goaudio.Format{
			NumChannels: r.format.Channels,
			SampleRate:  r.format.SamplesPerSec,
		},
		SourceBitDepth: r.enc.BitDepth,
	}

	for msg := range r.adapter.Messages() {
		samples, err := r.toInts(msg.Data)
		if err != nil {
			r.fail(err)
			continue
		}
		buf.Data = samples
		if err := r.enc.Write(buf); err != nil {
			r.fail(fmt.Errorf("wav write failed: %w", err))
		}
	}
}

func (r *Recorder) fail(err error) {
	if r.err == nil {
		r.err = err
		log.Printf("Recorder error: %v", err)
	}
}

// toInts unpacks little-endian PCM bytes into the int samples the WAV
// encoder wants.
func (r *Recorder) toInts(p []byte) ([]int, error) {
	switch {
	case r.format.IsFloat() && r.format.BitsPerSample == 32:
		n := len(p) / 4
		out := make([]int, n)
		for i := 0; i < n; i++ {
			bits := uint32(p[i*4]) | uint32(p[i*4+1])<<8 | uint32(p[i*4+2])<<16 | uint32(p[i*4+3])<<24
			s := math.Float32frombits(bits)
			if s > 1 {
				s = 1
			} else if s < -1 {
				s = -1
			}
			out[i] = int(s * 32767)
		}
		return out, nil
	case r.format.IsPCM() && r.format.BitsPerSample == 16:
		n := len(p) / 2
		out := make([]int, n)
		for i := 0; i < n; i++ {
			out[i] = int(int16(uint16(p[i*2]) | uint16(p[i*2+1])<<8))
		}
		return out, nil
	case r.format.IsPCM() && r.format.BitsPerSample == 24:
		n := len(p) / 3
		out := make([]int, n)
		for i := 0; i < n; i++ {
			v := int32(p[i*3]) | int32(p[i*3+1])<<8 | int32(p[i*3+2])<<16
			if v&0x800000 != 0 {
				v |= ^int32(0xFFFFFF)
			}
			out[i] = int(v)
		}
		return out, nil
	case r.format.IsPCM() && r.format.BitsPerSample == 32:
		n := len(p) / 4
		out := make([]int, n)
		for i := 0; i < n; i++ {
			out[i] = int(int32(uint32(p[i*4]) | uint32(p[i*4+1])<<8 | uint32(p[i*4+2])<<16 | uint32(p[i*4+3])<<24))
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported recording format: %s", r.format.String())
	}
}
