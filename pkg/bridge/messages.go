// ABOUTME: Wire message types for the streaming bridge
// ABOUTME: JSON control frames plus a compact binary audio chunk layout
package bridge

import (
	"encoding/binary"
	"fmt"

	"github.com/Wavebridge-Audio/wavebridge-go/pkg/clock"
	"github.com/Wavebridge-Audio/wavebridge-go/pkg/wave"
)

const (
	// Binary chunk kinds; first byte of every binary frame.
	ChunkPCM  = 1
	ChunkOpus = 2
)

// Message is the JSON control envelope exchanged with clients.
type Message struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// StreamStart announces the format of the binary frames that follow.
type StreamStart struct {
	Codec         string `json:"codec"` // "pcm" or "opus"
	SampleRate    int    `json:"sample_rate"`
	Channels      int    `json:"channels"`
	BitsPerSample int    `json:"bits_per_sample"`
}

// ClientHello is the first message a subscriber sends.
type ClientHello struct {
	ClientID string   `json:"client_id"`
	Name     string   `json:"name"`
	Codecs   []string `json:"codecs,omitempty"`
}

// ServerHello acknowledges a subscriber.
type ServerHello struct {
	ServerID string `json:"server_id"`
	Name     string `json:"name"`
	Version  int    `json:"version"`
}

// VolumeState carries level and mute over the control channel, in both
// directions.
type VolumeState struct {
	Level float64 `json:"level"`
	Muted bool    `json:"muted"`
}

// AudioMessage is one block of audio handed across the bridge boundary.
// Data is owned by the message; producers must not retain it after posting.
type AudioMessage struct {
	Data      []byte
	Format    wave.Format
	Timestamp clock.Ticks
}

// streamStartFor maps an engine format onto the wire announcement.
func streamStartFor(codec string, f wave.Format) StreamStart {
	return StreamStart{
		Codec:         codec,
		SampleRate:    f.SamplesPerSec,
		Channels:      f.Channels,
		BitsPerSample: f.BitsPerSample,
	}
}

// EncodeChunk lays out a binary audio frame:
// [kind:1][timestamp_ticks:8 big-endian][payload:N].
func EncodeChunk(kind byte, ts clock.Ticks, payload []byte) []byte {
	chunk := make([]byte, 1+8+len(payload))
	chunk[0] = kind
	binary.BigEndian.PutUint64(chunk[1:9], uint64(ts))
	copy(chunk[9:], payload)
	return chunk
}

// DecodeChunk splits a binary audio frame back into its parts. The payload
// aliases p.
func DecodeChunk(p []byte) (kind byte, ts clock.Ticks, payload []byte, err error) {
	if len(p) < 9 {
		return 0, 0, nil, fmt.Errorf("audio chunk too short: %d bytes", len(p))
	}
	return p[0], clock.Ticks(binary.BigEndian.Uint64(p[1:9])), p[9:], nil
}
