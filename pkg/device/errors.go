// ABOUTME: Error values for device resolution and lifetime
// ABOUTME: Initialization-time failures surface synchronously to the caller
package device

import "errors"

var (
	// ErrDeviceNotFound means a device name was supplied but no endpoint
	// with that friendly name exists. Surfaced at initialization, not retried.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrDeviceLost means the endpoint disappeared mid-stream (unplugged,
	// default switched away). Engines shut down when they see it.
	ErrDeviceLost = errors.New("device: lost")

	// ErrContextClosed means the owning Context was already released.
	ErrContextClosed = errors.New("device: context closed")
)
