// ABOUTME: Single-producer single-consumer byte ring buffer
// ABOUTME: Supports overwrite-on-overrun and blocking append for backpressure
package ring

import (
	"errors"
	"sync"
	"time"
)

// ErrClosed is returned by blocking writes once the ring has been closed.
var ErrClosed = errors.New("ring: closed")

// defaultRetryInterval is the bounded sleep slice used while a blocking
// write waits for the consumer to drain space.
const defaultRetryInterval = 5 * time.Millisecond

// Buffer is a mutex-guarded circular byte buffer for one producer and one
// consumer running concurrently. It backs the render engine's AppendAudio
// path: the application thread produces, the render worker consumes.
type Buffer struct {
	mu       sync.Mutex
	buf      []byte
	readPos  int
	writePos int
	count    int
	closed   bool

	retryInterval time.Duration

	underruns uint64
	overruns  uint64
}

// New creates a ring with the given capacity in bytes.
func New(capacity int) *Buffer {
	return &Buffer{
		buf:           make([]byte, capacity),
		retryInterval: defaultRetryInterval,
	}
}

// Write appends p to the ring. With overwrite set, the oldest unread bytes
// are discarded so that all of p always fits; otherwise only the bytes that
// fit are written. Returns the number of bytes from p accepted.
func (b *Buffer) Write(p []byte, overwrite bool) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return 0
	}

	if overwrite && len(p) > len(b.buf) {
		// Only the tail of p can survive anyway.
		p = p[len(p)-len(b.buf):]
	}

	free := len(b.buf) - b.count
	if len(p) > free {
		if !overwrite {
			p = p[:free]
		} else {
			// Discard oldest unplayed bytes to keep latency bounded.
			drop := len(p) - free
			b.readPos = (b.readPos + drop) % len(b.buf)
			b.count -= drop
			b.overruns++
		}
	}

	for _, c := range p {
		b.buf[b.writePos] = c
		b.writePos = (b.writePos + 1) % len(b.buf)
	}
	b.count += len(p)
	return len(p)
}

// WriteBlocking appends all of p, retrying in bounded sleep slices until the
// consumer has drained enough space. It returns ErrClosed if the ring is
// closed before every byte has been accepted.
func (b *Buffer) WriteBlocking(p []byte) error {
	for len(p) > 0 {
		n := b.Write(p, false)
		p = p[n:]
		if len(p) == 0 {
			return nil
		}
		if b.Closed() {
			return ErrClosed
		}
		time.Sleep(b.retryInterval)
	}
	return nil
}

// Read copies up to len(p) buffered bytes into p and returns the count. A
// short or zero read means the ring is running dry, not an error.
func (b *Buffer) Read(p []byte) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := len(p)
	if n > b.count {
		if b.count == 0 && n > 0 {
			b.underruns++
		}
		n = b.count
	}
	for i := 0; i < n; i++ {
		p[i] = b.buf[b.readPos]
		b.readPos = (b.readPos + 1) % len(b.buf)
	}
	b.count -= n
	return n
}

// Buffered returns the number of unread bytes.
func (b *Buffer) Buffered() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Free returns the writable space in bytes.
func (b *Buffer) Free() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buf) - b.count
}

// Capacity returns the total size of the ring.
func (b *Buffer) Capacity() int {
	return len(b.buf)
}

// Close marks the ring closed, unblocking any waiting producer. Reads of
// already-buffered data still succeed.
func (b *Buffer) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
}

// Closed reports whether Close has been called.
func (b *Buffer) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// Stats returns the underrun and overrun counters.
func (b *Buffer) Stats() (underruns, overruns uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.underruns, b.overruns
}
