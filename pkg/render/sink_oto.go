// ABOUTME: Oto playback sink as an alternative push-based backend
// ABOUTME: An oto player pulls from the staging ring; underruns read silence
package render

import (
	"fmt"

	"github.com/Wavebridge-Audio/wavebridge-go/pkg/ring"
	"github.com/Wavebridge-Audio/wavebridge-go/pkg/wave"
	"github.com/ebitengine/oto/v3"
)

// otoSink plays through oto. Oto has no device selection, so only the
// system default endpoint is reachable, and the staging ring plays the role
// of the device buffer for free-space accounting.
type otoSink struct {
	ctx     *oto.Context
	player  *oto.Player
	format  wave.Format
	staging *ring.Buffer
}

// NewOtoSink creates an oto-backed playback sink.
func NewOtoSink() Sink {
	return &otoSink{}
}

func (s *otoSink) Open(name string) error {
	if name != "" {
		return fmt.Errorf("oto sink only opens the default device, got %q", name)
	}
	return nil
}

func (s *otoSink) MixFormat() wave.Format { return wave.NewPCM(48000, 2, 16) }

// NativeFormats is nil: oto accepts any rate/channel pair, and unsupported
// sample encodings fail at Activate.
func (s *otoSink) NativeFormats() []wave.Format { return nil }

func (s *otoSink) Activate(format wave.Format, latencyMs int) error {
	var otoFormat oto.Format
	switch {
	case format.IsFloat() && format.BitsPerSample == 32:
		otoFormat = oto.FormatFloat32LE
	case !format.IsFloat() && format.BitsPerSample == 16:
		otoFormat = oto.FormatSignedInt16LE
	default:
		return fmt.Errorf("oto sink supports s16 and f32 only, got %s", format)
	}

	s.staging = ring.New(2 * latencyMs * format.AvgBytesPerSec() / 1000)

	op := &oto.NewContextOptions{
		SampleRate:   format.SamplesPerSec,
		ChannelCount: format.Channels,
		Format:       otoFormat,
	}
	ctx, readyChan, err := oto.NewContext(op)
	if err != nil {
		return fmt.Errorf("failed to create oto context: %w", err)
	}
	<-readyChan

	s.ctx = ctx
	s.player = ctx.NewPlayer(silenceFillReader{s.staging})
	s.format = format
	return nil
}

// silenceFillReader feeds the oto player from the staging ring, padding
// underruns with silence so the player never starves.
type silenceFillReader struct {
	staging *ring.Buffer
}

func (r silenceFillReader) Read(p []byte) (int, error) {
	n := r.staging.Read(p)
	for i := n; i < len(p); i++ {
		p[i] = 0
	}
	return len(p), nil
}

func (s *otoSink) FreeBytes() int {
	if s.staging == nil {
		return 0
	}
	return s.staging.Free()
}

func (s *otoSink) Write(p []byte) int {
	if s.staging == nil {
		return 0
	}
	return s.staging.Write(p, false)
}

func (s *otoSink) Start() error {
	if s.player == nil {
		return ErrInvalidState
	}
	s.player.Play()
	return nil
}

func (s *otoSink) Stop() error {
	if s.player != nil {
		s.player.Pause()
	}
	return nil
}

func (s *otoSink) Close() error {
	if s.player != nil {
		if err := s.player.Close(); err != nil {
			return err
		}
		s.player = nil
	}
	if s.ctx != nil {
		s.ctx.Suspend()
		s.ctx = nil
	}
	return nil
}
