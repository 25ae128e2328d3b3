// ABOUTME: Adapter between engine callbacks and downstream consumers
// ABOUTME: Copies borrowed audio onto a bounded channel, dropping oldest on overflow
package bridge

import (
	"sync"
	"sync/atomic"

	"github.com/Wavebridge-Audio/wavebridge-go/pkg/wave"
)

// Adapter decouples the capture engine's callback thread from slow
// consumers. The engine's data callback lends its buffer only for the
// duration of the call, so Post copies it before queuing. When the queue
// is full the oldest message is discarded so the audio thread never
// blocks.
type Adapter struct {
	ch      chan AudioMessage
	mu      sync.Mutex
	closed  bool
	format  wave.Format
	dropped atomic.Uint64
}

// NewAdapter creates an adapter holding at most depth queued messages.
func NewAdapter(depth int) *Adapter {
	if depth <= 0 {
		depth = 32
	}
	return &Adapter{ch: make(chan AudioMessage, depth)}
}

// SetFormat records the stream's wire format, normally the engine's
// negotiated format, before any consumer attaches.
func (a *Adapter) SetFormat(f wave.Format) {
	a.mu.Lock()
	a.format = f
	a.mu.Unlock()
}

// Format returns the stream's wire format.
func (a *Adapter) Format() wave.Format {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.format
}

// Post copies a borrowed audio buffer and queues it. Safe to call from the
// engine's data callback; never blocks. Invalid buffers are ignored.
func (a *Adapter) Post(buf *wave.Buffer) {
	if buf == nil || !buf.Valid() {
		return
	}
	msg := AudioMessage{
		Data:      append([]byte(nil), buf.Data...),
		Format:    *buf.Format,
		Timestamp: buf.Timestamp,
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}

	for {
		select {
		case a.ch <- msg:
			return
		default:
		}
		select {
		case <-a.ch:
			a.dropped.Add(1)
		default:
		}
	}
}

// Messages is the consumer side of the queue. It is closed by Close.
func (a *Adapter) Messages() <-chan AudioMessage {
	return a.ch
}

// Dropped returns how many messages overflow has discarded.
func (a *Adapter) Dropped() uint64 {
	return a.dropped.Load()
}

// Close closes the queue. Posts after Close are ignored.
func (a *Adapter) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	a.closed = true
	close(a.ch)
}
