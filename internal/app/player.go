// ABOUTME: Plays WAV and MP3 files through a render engine
// ABOUTME: Streams PCM with blocking backpressure so the whole file never sits in memory
package app

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/Wavebridge-Audio/wavebridge-go/pkg/wave"
	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	mp3 "github.com/hajimehoshi/go-mp3"
)

// Source yields PCM bytes in one fixed format until io.EOF.
type Source interface {
	Format() wave.Format
	Read(p []byte) (int, error)
	Close() error
}

// OpenSource opens a WAV or MP3 file as a PCM source, picked by extension.
func OpenSource(path string) (Source, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".wav":
		return openWAV(path)
	case ".mp3":
		return openMP3(path)
	default:
		return nil, fmt.Errorf("unsupported audio file: %s (supported: .wav, .mp3)", ext)
	}
}

// AppendFunc queues PCM for playback, blocking while downstream is full.
type AppendFunc func(p []byte) error

// Stream copies a source into the playback queue in roughly chunkMs-sized
// slices until EOF.
func Stream(src Source, chunkMs int, enqueue AppendFunc) error {
	if chunkMs <= 0 {
		chunkMs = 100
	}
	f := src.Format()
	chunk := chunkMs * f.AvgBytesPerSec() / 1000
	chunk -= chunk % f.BlockAlign()
	if chunk == 0 {
		chunk = f.BlockAlign()
	}
	buf := make([]byte, chunk)

	for {
		n, err := src.Read(buf)
		if n > 0 {
			if qErr := enqueue(buf[:n]); qErr != nil {
				return qErr
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("source read failed: %w", err)
		}
	}
}

// wavSource reads a WAV file through the go-audio decoder.
type wavSource struct {
	file    *os.File
	decoder *wav.Decoder
	format  wave.Format
	buf     *goaudio.IntBuffer
}

func openWAV(path string) (*wavSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open wav file: %w", err)
	}

	d := wav.NewDecoder(f)
	if !d.IsValidFile() {
		f.Close()
		return nil, fmt.Errorf("not a valid wav file: %s", path)
	}
	d.ReadInfo()

	switch d.BitDepth {
	case 16, 24, 32:
	default:
		f.Close()
		return nil, fmt.Errorf("unsupported wav bit depth: %d", d.BitDepth)
	}

	format := wave.NewPCM(int(d.SampleRate), int(d.NumChans), int(d.BitDepth))
	log.Printf("Loaded WAV: %s (%s)", filepath.Base(path), format.String())

	return &wavSource{
		file:    f,
		decoder: d,
		format:  format,
	}, nil
}

func (s *wavSource) Format() wave.Format { return s.format }

func (s *wavSource) Read(p []byte) (int, error) {
	bytesPer := s.format.BitsPerSample / 8
	want := len(p) / bytesPer
	if want == 0 {
		return 0, nil
	}

	if s.buf == nil || len(s.buf.Data) != want {
		s.buf = &goaudio.IntBuffer{
			Format: &goaudio.Format{
				NumChannels: s.format.Channels,
				SampleRate:  s.format.SamplesPerSec,
			},
			Data:           make([]int, want),
			SourceBitDepth: s.format.BitsPerSample,
		}
	}

	n, err := s.decoder.PCMBuffer(s.buf)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, io.EOF
	}

	for i := 0; i < n; i++ {
		v := s.buf.Data[i]
		switch bytesPer {
		case 2:
			p[i*2] = byte(v)
			p[i*2+1] = byte(v >> 8)
		case 3:
			p[i*3] = byte(v)
			p[i*3+1] = byte(v >> 8)
			p[i*3+2] = byte(v >> 16)
		case 4:
			p[i*4] = byte(v)
			p[i*4+1] = byte(v >> 8)
			p[i*4+2] = byte(v >> 16)
			p[i*4+3] = byte(v >> 24)
		}
	}
	return n * bytesPer, nil
}

func (s *wavSource) Close() error {
	return s.file.Close()
}

// mp3Source reads an MP3 file; the decoder emits 16-bit stereo PCM at the
// file's sample rate.
type mp3Source struct {
	file    *os.File
	decoder *mp3.Decoder
	format  wave.Format
}

func openMP3(path string) (*mp3Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open mp3 file: %w", err)
	}

	d, err := mp3.NewDecoder(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to decode mp3: %w", err)
	}

	format := wave.NewPCM(d.SampleRate(), 2, 16)
	log.Printf("Loaded MP3: %s (%s)", filepath.Base(path), format.String())

	return &mp3Source{
		file:    f,
		decoder: d,
		format:  format,
	}, nil
}

func (s *mp3Source) Format() wave.Format { return s.format }

func (s *mp3Source) Read(p []byte) (int, error) {
	return s.decoder.Read(p)
}

func (s *mp3Source) Close() error {
	return s.file.Close()
}
