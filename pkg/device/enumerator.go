// ABOUTME: Endpoint enumeration and resolution by friendly name
// ABOUTME: Empty name resolves to the system default for the direction
package device

import (
	"fmt"
	"unsafe"

	"github.com/Wavebridge-Audio/wavebridge-go/pkg/wave"
	"github.com/gen2brain/malgo"
)

// sharedMixFallback is the assumed shared-mode mix format when the backend
// does not report native formats for an endpoint.
var sharedMixFallback = wave.NewIEEEFloat(48000, 2)

// Endpoint is a resolved audio device of one direction.
type Endpoint struct {
	Direction Direction
	Name      string
	IsDefault bool

	id      *malgo.DeviceID
	formats []wave.Format
}

// ListDevices returns every endpoint for the given direction. The list is
// finite and re-queries the OS on every call.
func ListDevices(ctx *Context, dir Direction) ([]*Endpoint, error) {
	mctx, err := ctx.Malgo()
	if err != nil {
		return nil, err
	}
	infos, err := mctx.Devices(dir.deviceType())
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate %s devices: %w", dir, err)
	}
	endpoints := make([]*Endpoint, 0, len(infos))
	for i := range infos {
		endpoints = append(endpoints, endpointFromInfo(dir, &infos[i], infos[i].IsDefault != 0))
	}
	return endpoints, nil
}

// Resolve returns the endpoint with the given friendly name, or the system
// default endpoint for the direction when name is empty. A non-empty name
// with no match fails with ErrDeviceNotFound.
func (c *Context) Resolve(dir Direction, name string) (*Endpoint, error) {
	mctx, err := c.Malgo()
	if err != nil {
		return nil, err
	}
	infos, err := mctx.Devices(dir.deviceType())
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate %s devices: %w", dir, err)
	}

	if name == "" {
		// Prefer the endpoint the OS flags as default; fall back to letting
		// the backend pick by passing no device id at all.
		for i := range infos {
			if infos[i].IsDefault != 0 {
				return endpointFromInfo(dir, &infos[i], true), nil
			}
		}
		return &Endpoint{Direction: dir, Name: "", IsDefault: true}, nil
	}

	for i := range infos {
		if infos[i].Name() == name {
			return endpointFromInfo(dir, &infos[i], infos[i].IsDefault != 0), nil
		}
	}
	return nil, fmt.Errorf("%w: no %s device named %q", ErrDeviceNotFound, dir, name)
}

func endpointFromInfo(dir Direction, info *malgo.DeviceInfo, isDefault bool) *Endpoint {
	id := info.ID
	ep := &Endpoint{
		Direction: dir,
		Name:      info.Name(),
		IsDefault: isDefault,
		id:        &id,
	}
	for _, df := range info.Formats[:info.FormatCount] {
		f, ok := fromMalgoDataFormat(df)
		if ok {
			ep.formats = append(ep.formats, f)
		}
	}
	return ep
}

// Pointer returns the backend device id for stream activation, or nil for
// the system default endpoint.
func (e *Endpoint) Pointer() unsafe.Pointer {
	if e == nil || e.id == nil {
		return nil
	}
	return e.id.Pointer()
}

// MixFormat returns the endpoint's native mix format: the first reported
// native format, or the shared-mode fallback when the backend reports none.
func (e *Endpoint) MixFormat() wave.Format {
	if len(e.formats) > 0 {
		return e.formats[0]
	}
	return sharedMixFallback
}

// NativeFormats returns the formats the endpoint reports supporting
// directly. May be nil, which negotiation treats as "backend converts to
// anything".
func (e *Endpoint) NativeFormats() []wave.Format {
	return e.formats
}

func fromMalgoDataFormat(df malgo.DataFormat) (wave.Format, bool) {
	switch df.Format {
	case malgo.FormatS16:
		return wave.NewPCM(int(df.SampleRate), int(df.Channels), 16), true
	case malgo.FormatS24:
		return wave.NewPCM(int(df.SampleRate), int(df.Channels), 24), true
	case malgo.FormatS32:
		return wave.NewPCM(int(df.SampleRate), int(df.Channels), 32), true
	case malgo.FormatF32:
		return wave.NewIEEEFloat(int(df.SampleRate), int(df.Channels)), true
	}
	return wave.Format{}, false
}

// ToMalgoFormat maps a wave format onto the backend sample format.
func ToMalgoFormat(f wave.Format) (malgo.FormatType, error) {
	if f.IsFloat() {
		if f.BitsPerSample != 32 {
			return malgo.FormatUnknown, fmt.Errorf("unsupported float bit depth: %d", f.BitsPerSample)
		}
		return malgo.FormatF32, nil
	}
	switch f.BitsPerSample {
	case 16:
		return malgo.FormatS16, nil
	case 24:
		return malgo.FormatS24, nil
	case 32:
		return malgo.FormatS32, nil
	}
	return malgo.FormatUnknown, fmt.Errorf("unsupported bit depth: %d (supported: 16, 24, 32)", f.BitsPerSample)
}
