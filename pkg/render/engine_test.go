// ABOUTME: Tests for the render engine using an in-memory fake sink
// ABOUTME: Covers backpressure, overwrite appends, gain, and lifecycle
package render

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/Wavebridge-Audio/wavebridge-go/pkg/wave"
	"github.com/google/uuid"
)

type fakeSink struct {
	mix    wave.Format
	native []wave.Format

	mu       sync.Mutex
	written  []byte
	capacity int
	pending  int

	activated wave.Format
	started   bool
	stopped   bool
	closed    bool
}

func newFakeSink() *fakeSink {
	return &fakeSink{
		mix:      wave.NewIEEEFloat(48000, 2),
		capacity: 1 << 20,
	}
}

func (s *fakeSink) MixFormat() wave.Format       { return s.mix }
func (s *fakeSink) NativeFormats() []wave.Format { return s.native }
func (s *fakeSink) Open(string) error            { return nil }

func (s *fakeSink) Activate(f wave.Format, _ int) error {
	s.activated = f
	return nil
}

func (s *fakeSink) Start() error { s.started = true; return nil }
func (s *fakeSink) Stop() error  { s.stopped = true; return nil }
func (s *fakeSink) Close() error { s.closed = true; return nil }

func (s *fakeSink) FreeBytes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.capacity - s.pending
}

func (s *fakeSink) Write(p []byte) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	free := s.capacity - s.pending
	if len(p) > free {
		p = p[:free]
	}
	s.written = append(s.written, p...)
	s.pending += len(p)
	return len(p)
}

// drain simulates the device consuming n queued bytes.
func (s *fakeSink) drain(n int) {
	s.mu.Lock()
	if n > s.pending {
		n = s.pending
	}
	s.pending -= n
	s.mu.Unlock()
}

func (s *fakeSink) writtenBytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.written...)
}

func newTestRenderEngine(t *testing.T, s *fakeSink, cfg *Config) *Engine {
	t.Helper()
	e := NewEngineWithSink(s, cfg)
	if err := e.Initialize(); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	return e
}

func waitForWritten(t *testing.T, s *fakeSink, n int) []byte {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		got := s.writtenBytes()
		if len(got) >= n {
			return got
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("sink received %d bytes, want at least %d", len(s.writtenBytes()), n)
	return nil
}

func TestInitializeRequiresFormat(t *testing.T) {
	e := NewEngineWithSink(newFakeSink(), &Config{})
	if err := e.Initialize(); err == nil {
		t.Error("Initialize without a format should fail")
	}
}

func TestAppendBeforeInitialize(t *testing.T) {
	f := wave.NewIEEEFloat(48000, 2)
	e := NewEngineWithSink(newFakeSink(), &Config{Format: &f})
	if err := e.AppendAudio([]byte{0}, false); !errors.Is(err, ErrInvalidState) {
		t.Errorf("AppendAudio before Initialize = %v, want ErrInvalidState", err)
	}
}

func TestRendersAppendedAudio(t *testing.T) {
	s := newFakeSink()
	f := wave.NewIEEEFloat(48000, 2)
	e := newTestRenderEngine(t, s, &Config{Format: &f, TargetLatencyMs: 10})
	defer e.Close()

	if !s.activated.Equal(f) {
		t.Errorf("sink activated in %s, want %s", s.activated.String(), f.String())
	}

	if err := e.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	want := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	if err := e.AppendAudio(want, false); err != nil {
		t.Fatalf("AppendAudio failed: %v", err)
	}

	got := waitForWritten(t, s, len(want))
	if !bytes.Equal(got[:len(want)], want) {
		t.Errorf("sink received %v, want %v", got[:len(want)], want)
	}
	e.Stop()
}

func TestBackpressureNeverOverfillsSink(t *testing.T) {
	s := newFakeSink()
	s.capacity = 64

	f := wave.NewIEEEFloat(48000, 2)
	e := newTestRenderEngine(t, s, &Config{Format: &f, TargetLatencyMs: 2})
	defer e.Close()
	e.Start()

	// More audio than the device buffer holds.
	data := make([]byte, 256)
	for i := range data {
		data[i] = byte(i)
	}
	if err := e.AppendAudio(data, false); err != nil {
		t.Fatalf("AppendAudio failed: %v", err)
	}

	// Drain the device as it "plays"; the worker must feed the rest without
	// ever exceeding FreeBytes.
	deadline := time.Now().Add(2 * time.Second)
	for len(s.writtenBytes()) < len(data) && time.Now().Before(deadline) {
		s.drain(16)
		time.Sleep(time.Millisecond)
	}

	got := s.writtenBytes()
	if !bytes.Equal(got, data) {
		t.Fatalf("sink received %d bytes, want all %d in order", len(got), len(data))
	}
	e.Stop()
}

func TestOverwritePendingBoundsLatency(t *testing.T) {
	s := newFakeSink()
	f := wave.NewPCM(16000, 1, 16)
	// Tiny ring: 1ms of 16k mono s16 is 32 bytes.
	e := newTestRenderEngine(t, s, &Config{Format: &f, RingMs: 1, TargetLatencyMs: 10})
	defer e.Close()
	// Not started: the worker never drains, so the ring state is inspectable.

	first := make([]byte, 32)
	second := bytes.Repeat([]byte{9}, 32)
	if err := e.AppendAudio(first, true); err != nil {
		t.Fatalf("AppendAudio failed: %v", err)
	}
	if err := e.AppendAudio(second, true); err != nil {
		t.Fatalf("overwrite AppendAudio failed: %v", err)
	}

	if got := e.Buffered(); got != 32 {
		t.Errorf("Buffered() = %d, want 32 (oldest audio discarded)", got)
	}
	e.Stop()
}

func TestGainAppliedToFloatOutput(t *testing.T) {
	s := newFakeSink()
	f := wave.NewIEEEFloat(48000, 1)
	e := newTestRenderEngine(t, s, &Config{Format: &f, Gain: 0.5, TargetLatencyMs: 2})
	defer e.Close()
	e.Start()

	in := make([]byte, 4)
	binary.LittleEndian.PutUint32(in, math.Float32bits(0.8))
	if err := e.AppendAudio(in, false); err != nil {
		t.Fatalf("AppendAudio failed: %v", err)
	}

	got := waitForWritten(t, s, 4)
	s0 := math.Float32frombits(binary.LittleEndian.Uint32(got))
	if math.Abs(float64(s0-0.4)) > 1e-6 {
		t.Errorf("rendered sample = %f, want 0.4", s0)
	}
	e.Stop()
}

func TestMutedOutputIsZeroed(t *testing.T) {
	s := newFakeSink()
	f := wave.NewIEEEFloat(48000, 1)
	e := newTestRenderEngine(t, s, &Config{Format: &f, TargetLatencyMs: 2})
	defer e.Close()
	e.Start()

	e.SetMuted(true, uuid.New())

	in := make([]byte, 8)
	binary.LittleEndian.PutUint32(in, math.Float32bits(0.8))
	binary.LittleEndian.PutUint32(in[4:], math.Float32bits(-0.8))
	if err := e.AppendAudio(in, false); err != nil {
		t.Fatalf("AppendAudio failed: %v", err)
	}

	got := waitForWritten(t, s, 8)
	for i, c := range got[:8] {
		if c != 0 {
			t.Fatalf("muted output byte %d = %#x, want 0", i, c)
		}
	}
	e.Stop()
}

func TestPartialFrameReadsKeepAlignment(t *testing.T) {
	s := newFakeSink()
	s.native = []wave.Format{wave.NewIEEEFloat(48000, 1)}

	// Wire format differs from the device format, so the worker feeds every
	// read through the resampling transform.
	f := wave.NewPCM(48000, 1, 16)
	e := NewEngineWithSink(s, &Config{Format: &f, TargetLatencyMs: 2})

	// 160 little-endian int16 samples with a recognizable ramp, delivered
	// split mid-frame: 1 byte, then the remaining 319.
	in := make([]byte, 320)
	for i := 0; i < 160; i++ {
		binary.LittleEndian.PutUint16(in[i*2:], uint16(int16(i*100)))
	}
	sent := 0
	e.SetSource(func(p []byte) int {
		if sent >= len(in) {
			return 0
		}
		if sent == 0 {
			// Split the first frame across two reads.
			sent = copy(p[:1], in[:1])
			return sent
		}
		n := copy(p, in[sent:])
		sent += n
		return n
	})

	if err := e.Initialize(); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	defer e.Close()
	if e.transform == nil {
		t.Fatal("negotiation did not install a resampling transform")
	}
	if err := e.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// Every input frame must come out: 160 s16 frames as 160 f32 frames.
	got := waitForWritten(t, s, 640)
	e.Stop()
	if len(got) != 640 {
		t.Fatalf("sink received %d bytes, want exactly 640", len(got))
	}
	for i := 0; i < 160; i++ {
		want := float32(int16(i*100)) / 32768
		v := math.Float32frombits(binary.LittleEndian.Uint32(got[i*4:]))
		if math.Abs(float64(v-want)) > 1e-4 {
			t.Fatalf("sample %d = %f, want %f (frame alignment lost)", i, v, want)
		}
	}
}

func TestCustomSourceShutdownSentinel(t *testing.T) {
	s := newFakeSink()
	f := wave.NewIEEEFloat(48000, 2)
	e := NewEngineWithSink(s, &Config{Format: &f, TargetLatencyMs: 2})

	calls := 0
	e.SetSource(func(p []byte) int {
		calls++
		if calls == 1 {
			return copy(p, []byte{1, 2, 3, 4})
		}
		return -1 // shutdown
	})

	if err := e.Initialize(); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	defer e.Close()
	if err := e.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	waitForWritten(t, s, 4)

	// The sentinel ends the worker on its own; Stop must still return.
	done := make(chan struct{})
	go func() {
		e.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop hung after source shutdown sentinel")
	}
}

func TestStopReleasesBlockedProducer(t *testing.T) {
	s := newFakeSink()
	f := wave.NewPCM(16000, 1, 16)
	e := newTestRenderEngine(t, s, &Config{Format: &f, RingMs: 1, TargetLatencyMs: 10})
	defer e.Close()
	// Worker not started: nothing drains the ring.

	e.AppendAudio(make([]byte, 32), true)

	errCh := make(chan error, 1)
	go func() {
		errCh <- e.AppendAudio(make([]byte, 32), false)
	}()

	time.Sleep(10 * time.Millisecond)
	e.Stop()

	select {
	case err := <-errCh:
		if err == nil {
			t.Error("blocked AppendAudio returned nil after Stop, want error")
		}
	case <-time.After(time.Second):
		t.Fatal("AppendAudio still blocked after Stop")
	}
}
