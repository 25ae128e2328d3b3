// ABOUTME: Wire format descriptor for PCM and tagged compressed audio streams
// ABOUTME: Derived block alignment and byte rate are always computed from base fields
package wave

import (
	"fmt"

	"github.com/google/uuid"
)

// FormatTag identifies the encoding of an audio stream.
type FormatTag uint16

const (
	TagPCM        FormatTag = 0x0001
	TagIEEEFloat  FormatTag = 0x0003
	TagMP3        FormatTag = 0x0055
	TagExtensible FormatTag = 0xFFFE
)

// Sub-format identifiers for extensible formats.
var (
	SubFormatPCM       = uuid.MustParse("00000001-0000-0010-8000-00aa00389b71")
	SubFormatIEEEFloat = uuid.MustParse("00000003-0000-0010-8000-00aa00389b71")
)

// Format describes a PCM (or tagged compressed) audio stream.
//
// Block alignment and average byte rate are derived quantities; they are
// recomputed from the base fields on every call so they can never drift out
// of sync after a field change.
type Format struct {
	Tag           FormatTag
	Channels      int
	SamplesPerSec int
	BitsPerSample int

	// SubFormat identifies the sample encoding for TagExtensible formats.
	// It is zero for every other tag.
	SubFormat uuid.UUID
}

// NewPCM returns a linear PCM format.
func NewPCM(samplesPerSec, channels, bitsPerSample int) Format {
	return Format{
		Tag:           TagPCM,
		Channels:      channels,
		SamplesPerSec: samplesPerSec,
		BitsPerSample: bitsPerSample,
	}
}

// NewIEEEFloat returns a 32-bit float PCM format, the shared-mode capture
// format on most platforms.
func NewIEEEFloat(samplesPerSec, channels int) Format {
	return Format{
		Tag:           TagIEEEFloat,
		Channels:      channels,
		SamplesPerSec: samplesPerSec,
		BitsPerSample: 32,
	}
}

// NewExtensible returns an extensible format carrying the given sub-format.
func NewExtensible(samplesPerSec, channels, bitsPerSample int, subFormat uuid.UUID) Format {
	return Format{
		Tag:           TagExtensible,
		Channels:      channels,
		SamplesPerSec: samplesPerSec,
		BitsPerSample: bitsPerSample,
		SubFormat:     subFormat,
	}
}

// BlockAlign returns the size in bytes of one frame (one sample per channel).
func (f Format) BlockAlign() int {
	return f.Channels * f.BitsPerSample / 8
}

// AvgBytesPerSec returns the byte rate of the stream.
func (f Format) AvgBytesPerSec() int {
	return f.BlockAlign() * f.SamplesPerSec
}

// IsFloat reports whether samples are 32-bit IEEE floats.
func (f Format) IsFloat() bool {
	return f.Tag == TagIEEEFloat || (f.Tag == TagExtensible && f.SubFormat == SubFormatIEEEFloat)
}

// IsPCM reports whether samples are linear PCM, integer or float.
func (f Format) IsPCM() bool {
	switch f.Tag {
	case TagPCM, TagIEEEFloat:
		return true
	case TagExtensible:
		return f.SubFormat == SubFormatPCM || f.SubFormat == SubFormatIEEEFloat
	}
	return false
}

// Valid reports whether the base fields describe a usable stream.
func (f Format) Valid() bool {
	return f.Channels > 0 && f.SamplesPerSec > 0 && f.BitsPerSample > 0 && f.BitsPerSample%8 == 0
}

// Equal reports field-complete equality. The sub-format is compared only for
// extensible formats, where it is part of the stream identity.
func (f Format) Equal(other Format) bool {
	if f.Tag != other.Tag ||
		f.Channels != other.Channels ||
		f.SamplesPerSec != other.SamplesPerSec ||
		f.BitsPerSample != other.BitsPerSample {
		return false
	}
	if f.Tag == TagExtensible {
		return f.SubFormat == other.SubFormat
	}
	return true
}

// String renders the format for logs.
func (f Format) String() string {
	kind := "int"
	if f.IsFloat() {
		kind = "float"
	}
	return fmt.Sprintf("%dHz/%dch/%dbit-%s", f.SamplesPerSec, f.Channels, f.BitsPerSample, kind)
}
