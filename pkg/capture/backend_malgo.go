// ABOUTME: Miniaudio capture backend
// ABOUTME: Device callback copies blocks into a pooled queue and edge-signals the worker
package capture

import (
	"fmt"
	"sync"

	"github.com/Wavebridge-Audio/wavebridge-go/pkg/clock"
	"github.com/Wavebridge-Audio/wavebridge-go/pkg/device"
	"github.com/Wavebridge-Audio/wavebridge-go/pkg/wave"
	"github.com/gen2brain/malgo"
)

// malgoBackend adapts a miniaudio capture device to the Backend interface.
// The miniaudio callback thread only copies and signals; all real work
// happens on the engine worker.
type malgoBackend struct {
	ctx *device.Context
	ep  *device.Endpoint
	dev *malgo.Device
	hw  *clock.HardwareClock

	format wave.Format

	mu      sync.Mutex
	queue   []Block
	pool    [][]byte
	lent    []byte // block storage currently borrowed by the engine
	queued  int    // bytes waiting in queue, for timestamp back-dating
	dropped uint64

	// maxQueued bounds the callback-side queue in blocks; beyond it the
	// oldest block is recycled, since a stalled worker must not grow
	// memory unbounded. Sized from the configured buffer at Activate.
	maxQueued int

	ready chan struct{}
}

func newMalgoBackend(ctx *device.Context) *malgoBackend {
	return &malgoBackend{
		ctx:   ctx,
		hw:    clock.NewHardwareClock(),
		ready: make(chan struct{}, 1),
	}
}

func (b *malgoBackend) Open(name string) error {
	ep, err := b.ctx.Resolve(device.Capture, name)
	if err != nil {
		return err
	}
	b.ep = ep
	return nil
}

func (b *malgoBackend) MixFormat() wave.Format       { return b.ep.MixFormat() }
func (b *malgoBackend) NativeFormats() []wave.Format { return b.ep.NativeFormats() }
func (b *malgoBackend) Clock() *clock.HardwareClock  { return b.hw }
func (b *malgoBackend) Ready() <-chan struct{}       { return b.ready }

func (b *malgoBackend) EnableSpeechProcessing() error {
	// miniaudio exposes no echo/noise suppression profile.
	return ErrSpeechProcessingUnavailable
}

func (b *malgoBackend) Activate(format wave.Format, periodMs, bufferMs int) error {
	mctx, err := b.ctx.Malgo()
	if err != nil {
		return err
	}

	// One queue slot holds one period of audio.
	if periodMs < 1 {
		periodMs = 1
	}
	b.maxQueued = bufferMs / periodMs
	if b.maxQueued < 2 {
		b.maxQueued = 2
	}

	mf, err := device.ToMalgoFormat(format)
	if err != nil {
		return fmt.Errorf("failed to map capture format: %w", err)
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = mf
	cfg.Capture.Channels = uint32(format.Channels)
	cfg.Capture.DeviceID = b.ep.Pointer()
	cfg.SampleRate = uint32(format.SamplesPerSec)
	cfg.PeriodSizeInMilliseconds = uint32(periodMs)
	cfg.Alsa.NoMMap = 1

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, frameCount uint32) {
			b.push(input)
		},
	}

	dev, err := malgo.InitDevice(mctx.Context, cfg, callbacks)
	if err != nil {
		return fmt.Errorf("failed to initialize capture device: %w", err)
	}

	b.dev = dev
	b.format = format
	return nil
}

// push runs on the miniaudio callback thread. It copies the hardware buffer
// into a pooled block stamped with the hardware time of its first frame.
func (b *malgoBackend) push(input []byte) {
	now := b.hw.Now()

	b.mu.Lock()
	// The first frame of this buffer was captured one queue's worth of
	// audio plus this buffer's duration before "now".
	backlog := b.queued + len(input)
	ts := now - clock.DurationOfBytes(backlog, b.format.AvgBytesPerSec())

	var buf []byte
	if n := len(b.pool); n > 0 {
		buf = b.pool[n-1]
		b.pool = b.pool[:n-1]
	}
	if cap(buf) < len(input) {
		buf = make([]byte, len(input))
	}
	buf = buf[:len(input)]
	copy(buf, input)

	if len(b.queue) >= b.maxQueued {
		old := b.queue[0]
		b.queue = b.queue[1:]
		b.queued -= len(old.Data)
		b.pool = append(b.pool, old.Data)
		b.dropped++
	}
	b.queue = append(b.queue, Block{Data: buf, Timestamp: ts})
	b.queued += len(input)
	b.mu.Unlock()

	select {
	case b.ready <- struct{}{}:
	default:
	}
}

func (b *malgoBackend) ReadBlock() (Block, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	// The previously lent block is done with; the engine borrows storage
	// only until its next ReadBlock call.
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

func (b *malgoBackend) Start() error {
	if b.dev == nil {
		return ErrInvalidState
	}
	if err := b.dev.Start(); err != nil {
		return fmt.Errorf("failed to start capture device: %w", err)
	}
	return nil
}

func (b *malgoBackend) Stop() error {
	if b.dev == nil {
		return nil
	}
	if err := b.dev.Stop(); err != nil {
		return fmt.Errorf("failed to stop capture device: %w", err)
	}
	return nil
}

func (b *malgoBackend) Close() error {
	if b.dev != nil {
		b.dev.Uninit()
		b.dev = nil
	}
	return nil
}
