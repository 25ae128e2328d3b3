// ABOUTME: Tests for file playback streaming
// ABOUTME: Uses an in-memory source to check chunking and error propagation
package app

import (
	"errors"
	"io"
	"testing"

	"github.com/Wavebridge-Audio/wavebridge-go/pkg/wave"
)

// memSource serves a fixed PCM payload from memory.
type memSource struct {
	format wave.Format
	data   []byte
	pos    int
}

func (s *memSource) Format() wave.Format { return s.format }

func (s *memSource) Read(p []byte) (int, error) {
	if s.pos >= len(s.data) {
		return 0, io.EOF
	}
	n := copy(p, s.data[s.pos:])
	s.pos += n
	return n, nil
}

func (s *memSource) Close() error { return nil }

func TestStreamDeliversAllBytes(t *testing.T) {
	format := wave.NewPCM(16000, 1, 16)
	data := make([]byte, 10000)
	for i := range data {
		data[i] = byte(i)
	}
	src := &memSource{format: format, data: data}

	var got []byte
	err := Stream(src, 100, func(p []byte) error {
		got = append(got, p...)
		return nil
	})
	if err != nil {
		t.Fatalf("Stream failed: %v", err)
	}
	if len(got) != len(data) {
		t.Fatalf("delivered %d bytes, want %d", len(got), len(data))
	}
	for i := range got {
		if got[i] != data[i] {
			t.Fatalf("byte %d = %d, want %d", i, got[i], data[i])
		}
	}
}

func TestStreamChunkSize(t *testing.T) {
	format := wave.NewPCM(16000, 1, 16) // 32000 bytes/sec
	src := &memSource{format: format, data: make([]byte, 20000)}

	var sizes []int
	err := Stream(src, 100, func(p []byte) error {
		sizes = append(sizes, len(p))
		return nil
	})
	if err != nil {
		t.Fatalf("Stream failed: %v", err)
	}

	// 100 ms at 32000 bytes/sec is 3200 bytes per chunk.
	for i, n := range sizes[:len(sizes)-1] {
		if n != 3200 {
			t.Errorf("chunk %d = %d bytes, want 3200", i, n)
		}
	}
	if n := sizes[len(sizes)-1]; n == 0 || n > 3200 {
		t.Errorf("final chunk = %d bytes", n)
	}
}

func TestStreamStopsOnEnqueueError(t *testing.T) {
	format := wave.NewPCM(16000, 1, 16)
	src := &memSource{format: format, data: make([]byte, 20000)}

	wantErr := errors.New("queue closed")
	calls := 0
	err := Stream(src, 100, func(p []byte) error {
		calls++
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("Stream error = %v, want %v", err, wantErr)
	}
	if calls != 1 {
		t.Errorf("enqueue called %d times after error, want 1", calls)
	}
}

func TestOpenSourceRejectsUnknownExtension(t *testing.T) {
	if _, err := OpenSource("song.ogg"); err == nil {
		t.Error("OpenSource accepted an unsupported extension")
	}
}
