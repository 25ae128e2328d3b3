// ABOUTME: Format negotiation between a desired wire format and a device
// ABOUTME: Decides whether an engine can run natively or needs a resampling stage
package device

import "github.com/Wavebridge-Audio/wavebridge-go/pkg/wave"

// Support classifies how well an endpoint can serve a desired format.
type Support int

const (
	// Supported means the device produces/consumes the desired format
	// directly; no resampling stage is inserted.
	Supported Support = iota

	// SupportedWithClosestMatch means the device suggested a near format;
	// the engine initializes in that format and a resampling transform
	// converts to/from the desired one.
	SupportedWithClosestMatch

	// Unsupported means no suggestion either; the engine initializes in the
	// device's native mix format and resampling is still inserted.
	Unsupported
)

func (s Support) String() string {
	switch s {
	case Supported:
		return "supported"
	case SupportedWithClosestMatch:
		return "closest-match"
	default:
		return "unsupported"
	}
}

// FormatProvider describes what an endpoint (or a sink backend) can do
// natively. A nil NativeFormats slice means the backend converts to any
// requested format itself.
type FormatProvider interface {
	MixFormat() wave.Format
	NativeFormats() []wave.Format
}

// Negotiation is the outcome of format negotiation: the format the engine
// initializes the hardware in, and whether a resampling transform must sit
// between the hardware and the desired wire format.
type Negotiation struct {
	Support  Support
	Engine   wave.Format
	Resample bool
}

// Negotiate applies the format policy. A nil desired format means "whatever
// the device runs in", which is trivially supported by the mix format.
func Negotiate(p FormatProvider, desired *wave.Format) Negotiation {
	mix := p.MixFormat()
	if desired == nil || desired.Equal(mix) {
		return Negotiation{Support: Supported, Engine: mix}
	}

	native := p.NativeFormats()
	if native == nil {
		// Backend performs its own conversion; any format is direct.
		return Negotiation{Support: Supported, Engine: *desired}
	}

	for _, f := range native {
		if f.Equal(*desired) {
			return Negotiation{Support: Supported, Engine: *desired}
		}
	}

	// Closest match: a native format at the desired sample rate spares the
	// transform a rate conversion, the expensive part.
	for _, f := range native {
		if f.SamplesPerSec == desired.SamplesPerSec {
			return Negotiation{Support: SupportedWithClosestMatch, Engine: f, Resample: true}
		}
	}

	return Negotiation{Support: Unsupported, Engine: mix, Resample: true}
}
