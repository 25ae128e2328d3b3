// ABOUTME: Miniaudio playback sink
// ABOUTME: Device callback drains a staging ring; underruns play silence
package render

import (
	"fmt"

	"github.com/Wavebridge-Audio/wavebridge-go/pkg/device"
	"github.com/Wavebridge-Audio/wavebridge-go/pkg/ring"
	"github.com/Wavebridge-Audio/wavebridge-go/pkg/wave"
	"github.com/gen2brain/malgo"
)

// malgoSink drives a miniaudio playback device. The staging ring stands in
// for the device buffer: its free space is exactly what the engine may
// write without overfilling.
type malgoSink struct {
	ctx *device.Context
	ep  *device.Endpoint
	dev *malgo.Device

	format  wave.Format
	staging *ring.Buffer
}

func newMalgoSink(ctx *device.Context) *malgoSink {
	return &malgoSink{ctx: ctx}
}

func (s *malgoSink) Open(name string) error {
	ep, err := s.ctx.Resolve(device.Render, name)
	if err != nil {
		return err
	}
	s.ep = ep
	return nil
}

func (s *malgoSink) MixFormat() wave.Format       { return s.ep.MixFormat() }
func (s *malgoSink) NativeFormats() []wave.Format { return s.ep.NativeFormats() }

func (s *malgoSink) Activate(format wave.Format, latencyMs int) error {
	mctx, err := s.ctx.Malgo()
	if err != nil {
		return err
	}

	mf, err := device.ToMalgoFormat(format)
	if err != nil {
		return fmt.Errorf("failed to map render format: %w", err)
	}

	// Two target latencies of staging absorbs scheduling jitter on the
	// feeding side without growing the audible delay.
	s.staging = ring.New(2 * latencyMs * format.AvgBytesPerSec() / 1000)

	cfg := malgo.DefaultDeviceConfig(malgo.Playback)
	cfg.Playback.Format = mf
	cfg.Playback.Channels = uint32(format.Channels)
	cfg.Playback.DeviceID = s.ep.Pointer()
	cfg.SampleRate = uint32(format.SamplesPerSec)
	cfg.PeriodSizeInMilliseconds = uint32(latencyMs / 2)
	cfg.Alsa.NoMMap = 1

	callbacks := malgo.DeviceCallbacks{
		Data: func(output, _ []byte, frameCount uint32) {
			n := s.staging.Read(output)
			// Underrun: the rest plays as silence.
			for i := n; i < len(output); i++ {
				output[i] = 0
			}
		},
	}

	dev, err := malgo.InitDevice(mctx.Context, cfg, callbacks)
	if err != nil {
		return fmt.Errorf("failed to initialize playback device: %w", err)
	}
	s.dev = dev
	s.format = format
	return nil
}

func (s *malgoSink) FreeBytes() int {
	if s.staging == nil {
		return 0
	}
	return s.staging.Free()
}

func (s *malgoSink) Write(p []byte) int {
	if s.staging == nil {
		return 0
	}
	return s.staging.Write(p, false)
}

func (s *malgoSink) Start() error {
	if s.dev == nil {
		return ErrInvalidState
	}
	if err := s.dev.Start(); err != nil {
		return fmt.Errorf("failed to start playback device: %w", err)
	}
	return nil
}

func (s *malgoSink) Stop() error {
	if s.dev == nil {
		return nil
	}
	if err := s.dev.Stop(); err != nil {
		return fmt.Errorf("failed to stop playback device: %w", err)
	}
	return nil
}

func (s *malgoSink) Close() error {
	if s.dev != nil {
		s.dev.Uninit()
		s.dev = nil
	}
	return nil
}
