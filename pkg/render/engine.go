// ABOUTME: Render engine pulling from a shared ring into a playback sink
// ABOUTME: Ticks at half latency, keeps draining backlog, never overfills the device
package render

import (
	"errors"
	"log"
	"math"
	"sync"
	"time"

	"github.com/Wavebridge-Audio/wavebridge-go/pkg/clock"
	"github.com/Wavebridge-Audio/wavebridge-go/pkg/device"
	"github.com/Wavebridge-Audio/wavebridge-go/pkg/resample"
	"github.com/Wavebridge-Audio/wavebridge-go/pkg/ring"
	"github.com/Wavebridge-Audio/wavebridge-go/pkg/wave"
	"github.com/google/uuid"
)

// State is the engine lifecycle phase.
type State int32

const (
	StateUninitialized State = iota
	StateInitialized
	StateRendering
	StateStopped
)

// RequestFunc supplies audio to the render worker. It fills up to len(p)
// bytes and returns the count; 0 means nothing queued right now, a negative
// value is the shutdown sentinel.
type RequestFunc func(p []byte) int

// Engine renders audio to one endpoint. The producer feeds AppendAudio from
// its own thread; a dedicated worker pulls from the shared ring on its own
// cadence, resamples if format negotiation demanded it, applies gain, and
// writes into the device without overfilling it.
type Engine struct {
	mu  sync.Mutex
	cfg *Config

	sink      Sink
	transform *resample.Transform
	buf       *ring.Buffer
	source    RequestFunc

	state State

	engineFormat wave.Format
	wireFormat   wave.Format

	stopCh chan struct{}
	done   chan struct{}

	// Worker-thread state.
	req     []byte
	pending int // leftover partial-frame bytes at the front of req
	wireTS  clock.Ticks

	levelMu   sync.Mutex
	level     float64
	muted     bool
	onChanged func(level float64, muted bool, token uuid.UUID)
}

// NewEngine creates a render engine on the default miniaudio sink.
func NewEngine(ctx *device.Context, cfg *Config) *Engine {
	return NewEngineWithSink(newMalgoSink(ctx), cfg)
}

// NewEngineWithSink creates a render engine on a custom playback sink.
func NewEngineWithSink(s Sink, cfg *Config) *Engine {
	return &Engine{
		cfg:   cfg,
		sink:  s,
		level: 1.0,
	}
}

// SetSource overrides the default ring-backed audio source. Must be called
// before Start.
func (e *Engine) SetSource(fn RequestFunc) {
	e.mu.Lock()
	e.source = fn
	e.mu.Unlock()
}

// Initialize resolves the device, negotiates the render format and sizes
// the ring. Playback does not start until Start.
func (e *Engine) Initialize() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateUninitialized {
		return ErrInvalidState
	}
	if e.cfg.Format == nil {
		return errors.New("render: config requires an input format")
	}

	e.cfg.normalize()

	if err := e.sink.Open(e.cfg.DeviceName); err != nil {
		return err
	}

	neg := device.Negotiate(e.sink, e.cfg.Format)
	e.engineFormat = neg.Engine
	e.wireFormat = *e.cfg.Format
	log.Printf("Render format negotiation: %s, engine format %s", neg.Support, neg.Engine)

	if neg.Resample {
		t, err := resample.New(e.wireFormat, neg.Engine, e.cfg.TargetLatencyMs, e.writeConverted)
		if err != nil {
			return err
		}
		e.transform = t
	}

	if err := e.sink.Activate(neg.Engine, e.cfg.TargetLatencyMs); err != nil {
		return err
	}

	e.cfg.Negotiated = neg.Engine
	e.buf = ring.New(e.cfg.RingMs * e.wireFormat.AvgBytesPerSec() / 1000)
	e.req = make([]byte, e.cfg.TargetLatencyMs*e.wireFormat.AvgBytesPerSec()/1000)
	if e.source == nil {
		e.source = e.buf.Read
	}
	e.state = StateInitialized
	return nil
}

// AppendAudio queues raw PCM in the engine's wire format. With
// overwritePending it always succeeds immediately, discarding the oldest
// unplayed audio if the ring is full; without it the call blocks in bounded
// retry slices until the worker has drained enough space (the backpressure
// path for normal-speed playback).
func (e *Engine) AppendAudio(p []byte, overwritePending bool) error {
	e.mu.Lock()
	buf := e.buf
	e.mu.Unlock()

	if buf == nil {
		return ErrInvalidState
	}
	if overwritePending {
		buf.Write(p, true)
		return nil
	}
	return buf.WriteBlocking(p)
}

// Start launches the render worker and begins playback.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateInitialized {
		return ErrInvalidState
	}

	if err := e.sink.Start(); err != nil {
		return err
	}

	e.stopCh = make(chan struct{})
	e.done = make(chan struct{})
	e.state = StateRendering
	go e.run()
	return nil
}

// Stop signals the worker, joins it, and halts playback. It also closes the
// ring so a producer blocked in AppendAudio is released. Calling Stop again
// is a no-op.
func (e *Engine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateRendering {
		if e.state == StateInitialized {
			// Release any producer blocked in AppendAudio.
			if e.buf != nil {
				e.buf.Close()
			}
			e.state = StateStopped
		}
		return nil
	}

	if e.buf != nil {
		e.buf.Close()
	}
	close(e.stopCh)
	<-e.done

	if err := e.sink.Stop(); err != nil {
		log.Printf("Warning: render sink stop error: %v", err)
	}
	e.state = StateStopped
	return nil
}

// Close stops the engine if needed and releases the device. Safe after Stop.
func (e *Engine) Close() error {
	if err := e.Stop(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sink.Close()
}

// State returns the current lifecycle phase.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Buffered returns how many wire-format bytes are queued and not yet pulled
// by the worker.
func (e *Engine) Buffered() int {
	e.mu.Lock()
	buf := e.buf
	e.mu.Unlock()
	if buf == nil {
		return 0
	}
	return buf.Buffered()
}

// run is the render worker. Once per half-latency tick it pulls queued
// audio and keeps rendering while any remains rather than waiting for the
// next tick.
func (e *Engine) run() {
	defer close(e.done)

	half := time.Duration(e.cfg.TargetLatencyMs) * time.Millisecond / 2
	ticker := time.NewTicker(half)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
		}

		for {
			n := e.source(e.req[e.pending:])
			if n < 0 {
				// Shutdown sentinel from the source.
				return
			}
			if n == 0 {
				break
			}

			p := e.req[:e.pending+n]
			if e.transform != nil {
				consumed, err := e.transform.Resample(p, e.wireTS)
				if err != nil {
					log.Printf("Render resample error: %v", err)
					return
				}
				e.wireTS += clock.DurationOfBytes(consumed, e.wireFormat.AvgBytesPerSec())
				// A byte-granular read can end mid-frame; carry the tail
				// into the next pass so frame alignment survives.
				e.pending = copy(e.req, p[consumed:])
			} else {
				if !e.writeOut(p) {
					return
				}
			}
		}
	}
}

// writeConverted is the resampling transform's output callback.
func (e *Engine) writeConverted(p []byte, _ clock.Ticks) {
	e.writeOut(p)
}

// writeOut pushes device-format bytes into the sink in chunks no larger
// than the device's current free space, sleeping half the latency interval
// when the device buffer is full instead of busy-spinning. Returns false
// when shutdown was signaled mid-write.
func (e *Engine) writeOut(p []byte) bool {
	e.applyGain(p)

	half := time.Duration(e.cfg.TargetLatencyMs) * time.Millisecond / 2
	for len(p) > 0 {
		free := e.sink.FreeBytes()
		if free == 0 {
			select {
			case <-e.stopCh:
				return false
			case <-time.After(half):
			}
			continue
		}
		n := len(p)
		if n > free {
			n = free
		}
		written := e.sink.Write(p[:n])
		p = p[written:]
		if written == 0 {
			select {
			case <-e.stopCh:
				return false
			case <-time.After(half):
			}
		}
	}
	return true
}

// applyGain multiplies samples by gain times level, assuming 32-bit float
// samples; integer formats pass through untouched. Muted output is zeroed.
func (e *Engine) applyGain(p []byte) {
	e.levelMu.Lock()
	mult := e.cfg.Gain * e.level
	if e.muted {
		mult = 0
	}
	e.levelMu.Unlock()

	if mult == 0 {
		// True silence, not float samples scaled to negative zero.
		for i := range p {
			p[i] = 0
		}
		return
	}
	if mult == 1.0 || !e.engineFormat.IsFloat() {
		return
	}

	for i := 0; i+4 <= len(p); i += 4 {
		bits := uint32(p[i]) | uint32(p[i+1])<<8 | uint32(p[i+2])<<16 | uint32(p[i+3])<<24
		s := math.Float32frombits(bits) * float32(mult)
		bits = math.Float32bits(s)
		p[i] = byte(bits)
		p[i+1] = byte(bits >> 8)
		p[i+2] = byte(bits >> 16)
		p[i+3] = byte(bits >> 24)
	}
}

// SetLevel sets the engine level in [0, 1], tagging the resulting
// notification with the caller's correlation token.
func (e *Engine) SetLevel(level float64, token uuid.UUID) error {
	if level < 0 {
		level = 0
	}
	if level > 1 {
		level = 1
	}
	e.levelMu.Lock()
	e.level = level
	muted := e.muted
	fn := e.onChanged
	e.levelMu.Unlock()

	if fn != nil {
		fn(level, muted, token)
	}
	return nil
}

// Level returns the current level.
func (e *Engine) Level() float64 {
	e.levelMu.Lock()
	defer e.levelMu.Unlock()
	return e.level
}

// SetMuted sets the mute state, tagging the notification with the caller's
// correlation token.
func (e *Engine) SetMuted(muted bool, token uuid.UUID) error {
	e.levelMu.Lock()
	e.muted = muted
	level := e.level
	fn := e.onChanged
	e.levelMu.Unlock()

	if fn != nil {
		fn(level, muted, token)
	}
	return nil
}

// Muted returns the current mute state.
func (e *Engine) Muted() bool {
	e.levelMu.Lock()
	defer e.levelMu.Unlock()
	return e.muted
}

// OnLevelChanged registers the single level-change callback. Pass nil to
// unregister.
func (e *Engine) OnLevelChanged(fn func(level float64, muted bool, token uuid.UUID)) {
	e.levelMu.Lock()
	e.onChanged = fn
	e.levelMu.Unlock()
}
