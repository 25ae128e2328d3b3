// ABOUTME: Tests for the capture engine using an in-memory fake backend
// ABOUTME: Covers lifecycle, timestamps, gain, mute, silence, and drop policy
package capture

import (
	"encoding/binary"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/Wavebridge-Audio/wavebridge-go/pkg/clock"
	"github.com/Wavebridge-Audio/wavebridge-go/pkg/device"
	"github.com/Wavebridge-Audio/wavebridge-go/pkg/wave"
	"github.com/google/uuid"
)

type fakeBackend struct {
	mix    wave.Format
	native []wave.Format
	hw     *clock.HardwareClock
	ready  chan struct{}

	mu    sync.Mutex
	queue []Block

	speechErr    error
	speechCalled bool

	periodMs int
	bufferMs int

	started bool
	stopped bool
	closed  bool
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		mix:   wave.NewIEEEFloat(48000, 2),
		hw:    clock.NewHardwareClock(),
		ready: make(chan struct{}, 1),
	}
}

func (b *fakeBackend) MixFormat() wave.Format       { return b.mix }
func (b *fakeBackend) NativeFormats() []wave.Format { return b.native }

func (b *fakeBackend) Open(name string) error {
	if name == "missing" {
		return device.ErrDeviceNotFound
	}
	return nil
}

func (b *fakeBackend) EnableSpeechProcessing() error {
	b.speechCalled = true
	return b.speechErr
}

func (b *fakeBackend) Activate(_ wave.Format, periodMs, bufferMs int) error {
	b.periodMs = periodMs
	b.bufferMs = bufferMs
	return nil
}

func (b *fakeBackend) Start() error                { b.started = true; return nil }
func (b *fakeBackend) Stop() error                 { b.stopped = true; return nil }
func (b *fakeBackend) Close() error                { b.closed = true; return nil }
func (b *fakeBackend) Ready() <-chan struct{}      { return b.ready }
func (b *fakeBackend) Clock() *clock.HardwareClock { return b.hw }

func (b *fakeBackend) push(blk Block) {
	b.mu.Lock()
	b.queue = append(b.queue, blk)
	b.mu.Unlock()

	select {
	case b.ready <- struct{}{}:
	default:
	}
}

func (b *fakeBackend) ReadBlock() (Block, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.queue) == 0 {
		return Block{}, false
	}
	blk := b.queue[0]
	b.queue = b.queue[1:]
	return blk, true
}

type received struct {
	data   []byte
	format wave.Format
	ts     clock.Ticks
}

// collector is a data callback that copies every delivery onto a channel.
func collector(ch chan received) DataFunc {
	return func(buf *wave.Buffer) {
		if !buf.Valid() {
			return
		}
		c := buf.Clone()
		ch <- received{data: c.Data, format: *c.Format, ts: c.Timestamp}
	}
}

func waitFor(t *testing.T, ch chan received) received {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for data callback")
		return received{}
	}
}

func expectNone(t *testing.T, ch chan received) {
	t.Helper()
	select {
	case r := <-ch:
		t.Fatalf("unexpected callback delivery: %d bytes at %d", len(r.data), r.ts)
	case <-time.After(50 * time.Millisecond):
	}
}

func floatBlock(vals ...float32) []byte {
	out := make([]byte, len(vals)*4)
	for i, v := range vals {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(v))
	}
	return out
}

func newTestEngine(t *testing.T, b *fakeBackend, cfg *Config, ch chan received) *Engine {
	t.Helper()
	e := NewEngineWithBackend(b, cfg, collector(ch))
	if err := e.Initialize(); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	return e
}

func TestLifecycle(t *testing.T) {
	b := newFakeBackend()
	f := wave.NewIEEEFloat(48000, 2)
	e := NewEngineWithBackend(b, &Config{Format: &f}, nil)

	if err := e.Start(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Start before Initialize = %v, want ErrInvalidState", err)
	}

	if err := e.Initialize(); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if e.State() != StateInitialized {
		t.Errorf("State() = %v, want StateInitialized", e.State())
	}
	if err := e.Initialize(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("second Initialize = %v, want ErrInvalidState", err)
	}

	if err := e.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !b.started {
		t.Error("backend was not started")
	}

	if err := e.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if !b.stopped {
		t.Error("backend was not stopped")
	}
	if err := e.Stop(); err != nil {
		t.Errorf("second Stop = %v, want nil", err)
	}

	if err := e.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if !b.closed {
		t.Error("backend was not closed")
	}
}

func TestOpenUnknownDevice(t *testing.T) {
	b := newFakeBackend()
	e := NewEngineWithBackend(b, &Config{DeviceName: "missing"}, nil)

	if err := e.Initialize(); !errors.Is(err, device.ErrDeviceNotFound) {
		t.Errorf("Initialize = %v, want ErrDeviceNotFound", err)
	}
}

func TestNegotiatedWrittenBack(t *testing.T) {
	b := newFakeBackend()
	f := wave.NewPCM(16000, 1, 16)
	cfg := &Config{Format: &f}
	ch := make(chan received, 16)

	e := newTestEngine(t, b, cfg, ch)
	defer e.Close()

	// A nil native list means the backend converts; the engine opens in the
	// desired format directly.
	if !cfg.Negotiated.Equal(f) {
		t.Errorf("Negotiated = %s, want %s", cfg.Negotiated.String(), f.String())
	}
	if !e.WireFormat().Equal(f) {
		t.Errorf("WireFormat() = %s, want %s", e.WireFormat().String(), f.String())
	}
}

func TestCallbackDelivery(t *testing.T) {
	b := newFakeBackend()
	f := wave.NewIEEEFloat(48000, 2)
	ch := make(chan received, 16)
	e := newTestEngine(t, b, &Config{Format: &f}, ch)
	defer e.Close()

	if err := e.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	b.push(Block{Data: floatBlock(0.25, -0.25), Timestamp: b.hw.Now()})
	r := waitFor(t, ch)

	if len(r.data) != 8 {
		t.Errorf("received %d bytes, want 8", len(r.data))
	}
	if !r.format.Equal(f) {
		t.Errorf("received format %s, want %s", r.format.String(), f.String())
	}
	e.Stop()
}

func TestTimestampsMonotonic(t *testing.T) {
	b := newFakeBackend()
	f := wave.NewIEEEFloat(48000, 2)
	ch := make(chan received, 16)
	e := newTestEngine(t, b, &Config{Format: &f}, ch)
	defer e.Close()
	e.Start()

	data := floatBlock(0.1, 0.1, 0.1, 0.1)
	base := b.hw.Now()
	for i := 0; i < 5; i++ {
		b.push(Block{Data: data, Timestamp: base + clock.Ticks(i+1)*10_000})
	}

	var last clock.Ticks
	for i := 0; i < 5; i++ {
		r := waitFor(t, ch)
		if i > 0 && r.ts < last {
			t.Errorf("delivery %d timestamp %d regressed below %d", i, r.ts, last)
		}
		last = r.ts
	}
	e.Stop()
}

func TestRepeatedHardwareTimestampIgnored(t *testing.T) {
	b := newFakeBackend()
	f := wave.NewIEEEFloat(48000, 2)
	ch := make(chan received, 16)
	e := newTestEngine(t, b, &Config{Format: &f}, ch)
	defer e.Close()
	e.Start()

	ts := b.hw.Now()
	b.push(Block{Data: floatBlock(0.1, 0.1), Timestamp: ts})
	waitFor(t, ch)

	// Same hardware timestamp again: double delivery, must be ignored.
	b.push(Block{Data: floatBlock(0.2, 0.2), Timestamp: ts})
	expectNone(t, ch)
	e.Stop()
}

func TestSilentBlockZeroFilled(t *testing.T) {
	b := newFakeBackend()
	f := wave.NewIEEEFloat(48000, 2)
	ch := make(chan received, 16)
	e := newTestEngine(t, b, &Config{Format: &f}, ch)
	defer e.Close()
	e.Start()

	b.push(Block{Data: floatBlock(0.7, -0.7), Timestamp: b.hw.Now(), Silent: true})
	r := waitFor(t, ch)

	for i, c := range r.data {
		if c != 0 {
			t.Fatalf("silent block byte %d = %#x, want 0", i, c)
		}
	}
	e.Stop()
}

func TestGainApplied(t *testing.T) {
	b := newFakeBackend()
	f := wave.NewIEEEFloat(48000, 2)
	ch := make(chan received, 16)
	e := newTestEngine(t, b, &Config{Format: &f, Gain: 0.5}, ch)
	defer e.Close()
	e.Start()

	b.push(Block{Data: floatBlock(0.8, -0.8), Timestamp: b.hw.Now()})
	r := waitFor(t, ch)

	s0 := math.Float32frombits(binary.LittleEndian.Uint32(r.data[0:]))
	if math.Abs(float64(s0-0.4)) > 1e-6 {
		t.Errorf("sample 0 = %f, want 0.4", s0)
	}
	e.Stop()
}

func TestMuteZeroesOutput(t *testing.T) {
	b := newFakeBackend()
	f := wave.NewIEEEFloat(48000, 2)
	ch := make(chan received, 16)
	e := newTestEngine(t, b, &Config{Format: &f}, ch)
	defer e.Close()
	e.Start()

	e.SetMuted(true, uuid.New())
	b.push(Block{Data: floatBlock(0.8, -0.8), Timestamp: b.hw.Now()})
	r := waitFor(t, ch)

	for i, c := range r.data {
		if c != 0 {
			t.Fatalf("muted block byte %d = %#x, want 0", i, c)
		}
	}
	e.Stop()
}

// regression: a long block followed by a slightly later, much shorter block
// produces an end-of-buffer pipeline timestamp that moves backwards.
func pushRegression(b *fakeBackend) {
	base := b.hw.Now()
	long := make([]byte, 384000/10) // 100ms at 48k stereo f32
	b.push(Block{Data: long, Timestamp: base})
	short := floatBlock(0.1, 0.1)
	b.push(Block{Data: short, Timestamp: base + 1})
}

func TestRegressionFatalByDefault(t *testing.T) {
	b := newFakeBackend()
	f := wave.NewIEEEFloat(48000, 2)
	ch := make(chan received, 16)
	e := newTestEngine(t, b, &Config{Format: &f}, ch)
	defer e.Close()
	e.Start()

	pushRegression(b)
	waitFor(t, ch)    // long block delivered
	expectNone(t, ch) // short block triggers the fatal policy

	var regress *TimestampRegressionError
	if err := e.Err(); !errors.As(err, &regress) {
		t.Fatalf("Err() = %v, want TimestampRegressionError", err)
	}

	// Posting is halted for good.
	b.push(Block{Data: floatBlock(0.1, 0.1), Timestamp: b.hw.Now() + clock.TicksPerSecond})
	expectNone(t, ch)
	e.Stop()
}

func TestRegressionDroppedWhenConfigured(t *testing.T) {
	b := newFakeBackend()
	f := wave.NewIEEEFloat(48000, 2)
	ch := make(chan received, 16)
	e := newTestEngine(t, b, &Config{Format: &f, DropOutOfOrder: true}, ch)
	defer e.Close()
	e.Start()

	pushRegression(b)
	waitFor(t, ch)
	expectNone(t, ch)

	if err := e.Err(); err != nil {
		t.Errorf("Err() = %v, want nil with drop policy", err)
	}
	if e.Dropped() != 1 {
		t.Errorf("Dropped() = %d, want 1", e.Dropped())
	}

	// The stream continues after a drop.
	b.push(Block{Data: floatBlock(0.1, 0.1), Timestamp: b.hw.Now() + clock.TicksPerSecond})
	waitFor(t, ch)
	e.Stop()
}

func TestBackendBufferSizedFromConfig(t *testing.T) {
	f := wave.NewIEEEFloat(48000, 2)

	t.Run("polled interval floor", func(t *testing.T) {
		b := newFakeBackend()
		e := NewEngineWithBackend(b, &Config{Format: &f, Cadence: Polled(30 * time.Millisecond)}, nil)
		if err := e.Initialize(); err != nil {
			t.Fatalf("Initialize failed: %v", err)
		}
		defer e.Close()

		if b.periodMs != 30 {
			t.Errorf("backend period = %dms, want polling interval 30ms", b.periodMs)
		}
		if b.bufferMs < 2*b.periodMs {
			t.Errorf("backend buffer = %dms, want at least twice the %dms period", b.bufferMs, b.periodMs)
		}
	})

	t.Run("explicit buffer passes through", func(t *testing.T) {
		b := newFakeBackend()
		e := NewEngineWithBackend(b, &Config{Format: &f, BufferMs: 500}, nil)
		if err := e.Initialize(); err != nil {
			t.Fatalf("Initialize failed: %v", err)
		}
		defer e.Close()

		if b.bufferMs != 500 {
			t.Errorf("backend buffer = %dms, want configured 500ms", b.bufferMs)
		}
	})
}

func TestSpeechOptimizationBestEffort(t *testing.T) {
	b := newFakeBackend()
	b.speechErr = ErrSpeechProcessingUnavailable
	f := wave.NewIEEEFloat(48000, 2)

	e := NewEngineWithBackend(b, &Config{Format: &f, SpeechOptimized: true}, nil)
	if err := e.Initialize(); err != nil {
		t.Fatalf("Initialize = %v, want success despite speech opt failure", err)
	}
	if !b.speechCalled {
		t.Error("speech processing was never requested")
	}
	e.Close()
}

func TestLevelNotificationToken(t *testing.T) {
	b := newFakeBackend()
	e := NewEngineWithBackend(b, &Config{}, nil)

	var gotLevel float64
	var gotToken uuid.UUID
	e.OnLevelChanged(func(level float64, muted bool, token uuid.UUID) {
		gotLevel = level
		gotToken = token
	})

	token := uuid.New()
	if err := e.SetLevel(0.3, token); err != nil {
		t.Fatalf("SetLevel failed: %v", err)
	}
	if gotLevel != 0.3 {
		t.Errorf("notified level = %f, want 0.3", gotLevel)
	}
	if gotToken != token {
		t.Error("notification token does not match the caller's")
	}
	if e.Level() != 0.3 {
		t.Errorf("Level() = %f, want 0.3", e.Level())
	}

	// Out-of-range levels clamp.
	e.SetLevel(1.5, token)
	if e.Level() != 1.0 {
		t.Errorf("Level() = %f, want clamped 1.0", e.Level())
	}
}
