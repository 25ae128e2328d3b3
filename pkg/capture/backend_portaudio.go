//go:build portaudio

// ABOUTME: PortAudio capture backend
// ABOUTME: Alternative hardware backend behind the portaudio build tag
package capture

import (
	"fmt"
	"math"
	"sync"

	"github.com/Wavebridge-Audio/wavebridge-go/pkg/clock"
	"github.com/Wavebridge-Audio/wavebridge-go/pkg/device"
	"github.com/Wavebridge-Audio/wavebridge-go/pkg/wave"
	"github.com/gordonklaus/portaudio"
)

// portAudioBackend captures from the default input device via PortAudio.
// Only the system default endpoint is reachable through this backend.
type portAudioBackend struct {
	hw     *clock.HardwareClock
	stream *portaudio.Stream
	format wave.Format

	mu     sync.Mutex
	queue  []Block
	pool   [][]byte
	lent   []byte
	queued int

	maxQueued int

	ready chan struct{}
}

// NewPortAudioBackend creates a PortAudio capture backend.
func NewPortAudioBackend() Backend {
	return &portAudioBackend{
		hw:    clock.NewHardwareClock(),
		ready: make(chan struct{}, 1),
	}
}

func (b *portAudioBackend) Open(name string) error {
	if name != "" {
		return fmt.Errorf("%w: portaudio backend only opens the default device", device.ErrDeviceNotFound)
	}
	return portaudio.Initialize()
}

func (b *portAudioBackend) MixFormat() wave.Format {
	return wave.NewIEEEFloat(48000, 2)
}

// NativeFormats is nil: PortAudio converts to whatever the stream asks for.
func (b *portAudioBackend) NativeFormats() []wave.Format { return nil }

func (b *portAudioBackend) Clock() *clock.HardwareClock { return b.hw }
func (b *portAudioBackend) Ready() <-chan struct{}      { return b.ready }

func (b *portAudioBackend) EnableSpeechProcessing() error {
	return ErrSpeechProcessingUnavailable
}

func (b *portAudioBackend) Activate(format wave.Format, periodMs, bufferMs int) error {
	if !format.IsFloat() {
		return fmt.Errorf("portaudio backend captures float32 only, got %s", format)
	}

	if periodMs < 1 {
		periodMs = 1
	}
	b.maxQueued = bufferMs / periodMs
	if b.maxQueued < 2 {
		b.maxQueued = 2
	}

	frames := format.SamplesPerSec * periodMs / 1000
	stream, err := portaudio.OpenDefaultStream(format.Channels, 0, float64(format.SamplesPerSec), frames,
		func(in []float32) {
			b.push(in, format)
		})
	if err != nil {
		portaudio.Terminate()
		return fmt.Errorf("failed to open capture stream: %w", err)
	}
	b.stream = stream
	b.format = format
	return nil
}

func (b *portAudioBackend) push(in []float32, format wave.Format) {
	now := b.hw.Now()

	b.mu.Lock()
	size := len(in) * 4
	backlog := b.queued + size
	ts := now - clock.DurationOfBytes(backlog, format.AvgBytesPerSec())

	var buf []byte
	if n := len(b.pool); n > 0 {
		buf = b.pool[n-1]
		b.pool = b.pool[:n-1]
	}
	if cap(buf) < size {
		buf = make([]byte, size)
	}
	buf = buf[:size]
	for i, s := range in {
		bits := math.Float32bits(s)
		buf[i*4] = byte(bits)
		buf[i*4+1] = byte(bits >> 8)
		buf[i*4+2] = byte(bits >> 16)
		buf[i*4+3] = byte(bits >> 24)
	}

	if len(b.queue) >= b.maxQueued {
		old := b.queue[0]
		b.queue = b.queue[1:]
		b.queued -= len(old.Data)
		b.pool = append(b.pool, old.Data)
	}
	b.queue = append(b.queue, Block{Data: buf, Timestamp: ts})
	b.queued += size
	b.mu.Unlock()

	select {
	case b.ready <- struct{}{}:
	default:
	}
}

func (b *portAudioBackend) ReadBlock() (Block, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.lent != nil {
		b.pool = append(b.pool, b.lent)
		b.lent = nil
	}
	if len(b.queue) == 0 {
		return Block{}, false
	}
	blk := b.queue[0]
	b.queue = b.queue[1:]
	b.queued -= len(blk.Data)
	b.lent = blk.Data
	return blk, true
}

func (b *portAudioBackend) Start() error {
	if b.stream == nil {
		return ErrInvalidState
	}
	return b.stream.Start()
}

func (b *portAudioBackend) Stop() error {
	if b.stream == nil {
		return nil
	}
	return b.stream.Stop()
}

func (b *portAudioBackend) Close() error {
	if b.stream != nil {
		if err := b.stream.Close(); err != nil {
			return err
		}
		b.stream = nil
	}
	return portaudio.Terminate()
}
