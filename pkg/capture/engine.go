// ABOUTME: Capture engine driving a dedicated worker thread per session
// ABOUTME: Drains hardware blocks, applies gain, enforces monotonic pipeline timestamps
package capture

import (
	"log"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Wavebridge-Audio/wavebridge-go/pkg/clock"
	"github.com/Wavebridge-Audio/wavebridge-go/pkg/device"
	"github.com/Wavebridge-Audio/wavebridge-go/pkg/resample"
	"github.com/Wavebridge-Audio/wavebridge-go/pkg/wave"
	"github.com/google/uuid"
)

// State is the engine lifecycle phase.
type State int32

const (
	StateUninitialized State = iota
	StateInitialized
	StateCapturing
	StateStopped
)

// DataFunc receives captured audio. It runs synchronously on the capture
// worker thread: the buffer is borrowed only until the callback returns
// (clone it to retain the samples), and the callback must stay fast and
// non-blocking or audio will glitch.
type DataFunc func(buf *wave.Buffer)

// Engine captures live audio from one endpoint. Lifecycle:
// Uninitialized -> Initialize -> Start -> Stop (-> Close). Initialize
// resolves the device and negotiates formats but does not start hardware
// capture; Start launches the worker thread; Stop joins it and is
// guaranteed to return only after the last callback has fired.
type Engine struct {
	mu  sync.Mutex // serializes lifecycle transitions
	cfg *Config
	cb  DataFunc

	backend   Backend
	transform *resample.Transform
	conv      *clock.Converter

	state State

	engineFormat wave.Format // what the hardware delivers
	wireFormat   wave.Format // what the callback receives

	stopCh chan struct{}
	done   chan struct{}

	// Worker-thread state; mutated only on the worker.
	lastHW     clock.Ticks
	haveHW     bool
	lastPosted clock.Ticks
	havePosted bool
	cbBuf      wave.Buffer // reused across callbacks; contents borrowed per call

	fatal   atomic.Value // error
	dropped uint64

	// Level control shared with the volume bridge.
	levelMu   sync.Mutex
	level     float64
	muted     bool
	onChanged func(level float64, muted bool, token uuid.UUID)
}

// NewEngine creates a capture engine on the default miniaudio backend.
func NewEngine(ctx *device.Context, cfg *Config, cb DataFunc) *Engine {
	return NewEngineWithBackend(newMalgoBackend(ctx), cfg, cb)
}

// NewEngineWithBackend creates a capture engine on a custom hardware
// backend.
func NewEngineWithBackend(b Backend, cfg *Config, cb DataFunc) *Engine {
	return &Engine{
		cfg:     cfg,
		cb:      cb,
		backend: b,
		level:   1.0,
	}
}

// Initialize resolves the device, negotiates the format and sizes buffers.
// The hardware does not start capturing until Start.
func (e *Engine) Initialize() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateUninitialized {
		return ErrInvalidState
	}

	e.cfg.normalize()

	if err := e.backend.Open(e.cfg.DeviceName); err != nil {
		return err
	}

	if e.cfg.SpeechOptimized {
		if err := e.backend.EnableSpeechProcessing(); err != nil {
			log.Printf("Speech optimization unavailable: %v (capturing without it)", err)
		}
	}

	neg := device.Negotiate(e.backend, e.cfg.Format)
	e.engineFormat = neg.Engine
	e.wireFormat = neg.Engine
	log.Printf("Capture format negotiation: %s, engine format %s", neg.Support, neg.Engine)

	if neg.Resample {
		t, err := resample.New(neg.Engine, *e.cfg.Format, e.cfg.TargetLatencyMs, e.postConverted)
		if err != nil {
			return err
		}
		e.transform = t
		e.wireFormat = *e.cfg.Format
	}

	interval := e.cfg.Cadence.interval(time.Duration(e.cfg.TargetLatencyMs) * time.Millisecond)
	periodMs := e.cfg.TargetLatencyMs
	if interval > 0 {
		periodMs = int(interval / time.Millisecond)
	}
	if err := e.backend.Activate(neg.Engine, periodMs, e.cfg.BufferMs); err != nil {
		return err
	}

	e.cfg.Negotiated = neg.Engine
	e.conv = clock.NewConverter(clock.WallNow() - e.backend.Clock().Now())
	e.state = StateInitialized
	return nil
}

// Start launches the capture worker and begins hardware capture.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateInitialized {
		return ErrInvalidState
	}

	if err := e.backend.Start(); err != nil {
		return err
	}

	e.stopCh = make(chan struct{})
	e.done = make(chan struct{})
	e.state = StateCapturing
	go e.run()
	return nil
}

// Stop signals the worker, joins it and halts hardware capture. No callback
// fires after Stop returns. Calling Stop again is a no-op.
func (e *Engine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateCapturing {
		if e.state == StateInitialized {
			e.state = StateStopped
		}
		return nil
	}

	close(e.stopCh)
	<-e.done

	if err := e.backend.Stop(); err != nil {
		log.Printf("Warning: capture backend stop error: %v", err)
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
	return e.backend.Close()
}

// State returns the current lifecycle phase.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// WireFormat returns the format handed to the data callback: the desired
// format when a resampling stage was inserted, otherwise the negotiated
// device format.
func (e *Engine) WireFormat() wave.Format {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.wireFormat
}

// Err returns the fatal error that halted posting, if any.
func (e *Engine) Err() error {
	if v := e.fatal.Load(); v != nil {
		return v.(error)
	}
	return nil
}

// Dropped returns the number of buffers discarded for out-of-order
// timestamps.
func (e *Engine) Dropped() uint64 {
	return atomic.LoadUint64(&e.dropped)
}

// run is the capture worker. It blocks only on the shutdown signal, the
// hardware data-ready signal, or the polling ticker, and drains every
// available block per wake.
func (e *Engine) run() {
	defer close(e.done)

	interval := e.cfg.Cadence.interval(time.Duration(e.cfg.TargetLatencyMs) * time.Millisecond)

	var tick <-chan time.Time
	if interval > 0 {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		if interval > 0 {
			select {
			case <-e.stopCh:
				return
			case <-tick:
			}
		} else {
			select {
			case <-e.stopCh:
				return
			case <-e.backend.Ready():
			}
		}

		// Track wall clock against the hardware clock so long sessions
		// survive drift; this is also what occasionally produces a
		// backwards pipeline timestamp for the policy below to handle.
		e.conv.Observe(e.backend.Clock().Now(), clock.WallNow())

		// Drain everything that is ready; do not wait for the next wake
		// while data remains.
		for {
			blk, ok := e.backend.ReadBlock()
			if !ok {
				break
			}
			e.process(blk)
		}
	}
}

func (e *Engine) process(blk Block) {
	if e.Err() != nil {
		// A fatal timestamp regression halts posting; the worker stays
		// alive until Stop.
		return
	}

	// Guard against double-delivery: the hardware timestamp must strictly
	// increase within a session.
	if e.haveHW && blk.Timestamp <= e.lastHW {
		return
	}
	e.lastHW = blk.Timestamp
	e.haveHW = true

	if blk.Silent {
		for i := range blk.Data {
			blk.Data[i] = 0
		}
	} else {
		e.applyGain(blk.Data)
	}

	if e.transform != nil {
		if _, err := e.transform.Resample(blk.Data, blk.Timestamp); err != nil {
			e.fatal.Store(err)
		}
		return
	}
	e.post(blk.Data, e.engineFormat, blk.Timestamp)
}

// postConverted is the resampling transform's output callback.
func (e *Engine) postConverted(p []byte, ts clock.Ticks) {
	e.post(p, e.wireFormat, ts)
}

// post derives the pipeline timestamp at the buffer's end, enforces
// monotonicity against the previously posted buffer, and invokes the
// consumer callback.
func (e *Engine) post(p []byte, f wave.Format, start clock.Ticks) {
	if e.Err() != nil {
		return
	}

	end := start + clock.DurationOfBytes(len(p), f.AvgBytesPerSec())
	ts := e.conv.Convert(end)

	if e.havePosted && ts < e.lastPosted {
		if e.cfg.DropOutOfOrder {
			atomic.AddUint64(&e.dropped, 1)
			return
		}
		e.fatal.Store(&TimestampRegressionError{Previous: e.lastPosted, Observed: ts})
		return
	}

	e.lastPosted = ts
	e.havePosted = true
	if e.cb != nil {
		e.cbBuf = wave.Buffer{Data: p, Format: &f, Timestamp: ts}
		e.cb(&e.cbBuf)
	}
}

// applyGain multiplies every sample by the configured gain times the
// current level, assuming 32-bit float samples (the shared-mode capture
// format). Muted output is zeroed.
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
