//go:build !portaudio

// ABOUTME: PortAudio backend stub when the library is not compiled in
// ABOUTME: Compile-time placeholder; Open always fails with guidance
package capture

import (
	"errors"

	"github.com/Wavebridge-Audio/wavebridge-go/pkg/clock"
	"github.com/Wavebridge-Audio/wavebridge-go/pkg/wave"
)

var errNoPortAudio = errors.New("portaudio support not enabled (build with -tags portaudio)")

type portAudioBackend struct{}

// NewPortAudioBackend creates a PortAudio capture backend (stub).
func NewPortAudioBackend() Backend { return &portAudioBackend{} }

func (b *portAudioBackend) Open(string) error                    { return errNoPortAudio }
func (b *portAudioBackend) MixFormat() wave.Format               { return wave.NewIEEEFloat(48000, 2) }
func (b *portAudioBackend) NativeFormats() []wave.Format         { return nil }
func (b *portAudioBackend) Clock() *clock.HardwareClock          { return clock.NewHardwareClock() }
func (b *portAudioBackend) Ready() <-chan struct{}               { return nil }
func (b *portAudioBackend) EnableSpeechProcessing() error        { return errNoPortAudio }
func (b *portAudioBackend) Activate(wave.Format, int, int) error { return errNoPortAudio }
func (b *portAudioBackend) Start() error                         { return errNoPortAudio }
func (b *portAudioBackend) Stop() error                          { return nil }
func (b *portAudioBackend) Close() error                         { return nil }
func (b *portAudioBackend) ReadBlock() (Block, bool)             { return Block{}, false }
