// ABOUTME: Timestamped byte buffer handed across the engine callback boundary
// ABOUTME: Storage is reused between callbacks; callers must copy to retain data
package wave

import "github.com/Wavebridge-Audio/wavebridge-go/pkg/clock"

// Buffer is a timestamped, mutable-capacity byte buffer tagged with the
// format of its contents.
//
// The engine that produced a Buffer owns its storage. A Buffer handed to a
// data callback is borrowed only for the duration of the call: the engine
// will overwrite the storage for the next callback, so a consumer that needs
// the samples afterwards must copy them out.
type Buffer struct {
	Data      []byte
	Format    *Format
	Timestamp clock.Ticks
}

// Valid reports whether the buffer has both storage and a format.
func (b *Buffer) Valid() bool {
	return b.Data != nil && b.Format != nil
}

// Ensure resizes the backing storage to exactly n bytes, reallocating only
// when the required size differs from the current one.
func (b *Buffer) Ensure(n int) {
	if len(b.Data) == n {
		return
	}
	if cap(b.Data) >= n {
		b.Data = b.Data[:n]
		return
	}
	b.Data = make([]byte, n)
}

// Clone returns a deep copy, for consumers that must retain audio past the
// callback boundary.
func (b *Buffer) Clone() Buffer {
	out := Buffer{Timestamp: b.Timestamp}
	if b.Format != nil {
		f := *b.Format
		out.Format = &f
	}
	if b.Data != nil {
		out.Data = make([]byte, len(b.Data))
		copy(out.Data, b.Data)
	}
	return out
}
