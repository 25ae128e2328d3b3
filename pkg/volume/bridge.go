// ABOUTME: Bridges endpoint volume and mute state to application observers
// ABOUTME: Correlation tokens keep the bridge from echoing its own writes back
package volume

import (
	"sync"

	"github.com/google/uuid"
)

// Endpoint is anything with a controllable level and mute state that can
// report external changes. Both the capture and render engines satisfy it.
type Endpoint interface {
	SetLevel(level float64, token uuid.UUID) error
	Level() float64
	SetMuted(muted bool, token uuid.UUID) error
	Muted() bool
	OnLevelChanged(fn func(level float64, muted bool, token uuid.UUID))
}

// Notification describes a level or mute change observed on the endpoint.
type Notification struct {
	Level float64
	Muted bool
	// External is true when the change did not originate from this bridge,
	// e.g. the user moved a system volume slider. Self-initiated changes
	// are suppressed entirely, so delivered notifications always carry it.
	External bool
}

// Bridge relays level changes between an endpoint and a single observer.
// Changes made through the bridge carry its private correlation token and
// are never relayed back to the observer; only genuinely external changes
// are.
type Bridge struct {
	mu       sync.Mutex
	endpoint Endpoint
	token    uuid.UUID
	observer func(Notification)
	active   bool
}

// NewBridge wraps an endpoint. The bridge is inert until Subscribe.
func NewBridge(ep Endpoint) *Bridge {
	return &Bridge{
		endpoint: ep,
		token:    uuid.New(),
	}
}

// Subscribe registers the observer and starts relaying change
// notifications. Notifications caused by this bridge's own SetLevel and
// SetMuted calls are suppressed. Subscribing while already subscribed
// replaces the observer.
func (b *Bridge) Subscribe(fn func(Notification)) {
	b.mu.Lock()
	b.observer = fn
	already := b.active
	b.active = true
	b.mu.Unlock()

	if !already {
		b.endpoint.OnLevelChanged(b.relay)
	}
}

// Unsubscribe detaches the observer. Calling it when not subscribed is a
// no-op.
func (b *Bridge) Unsubscribe() {
	b.mu.Lock()
	wasActive := b.active
	b.active = false
	b.observer = nil
	b.mu.Unlock()

	if wasActive {
		b.endpoint.OnLevelChanged(nil)
	}
}

// SetLevel changes the endpoint level through the bridge.
func (b *Bridge) SetLevel(level float64) error {
	return b.endpoint.SetLevel(level, b.token)
}

// Level returns the endpoint's current level.
func (b *Bridge) Level() float64 {
	return b.endpoint.Level()
}

// SetMuted changes the endpoint mute state through the bridge.
func (b *Bridge) SetMuted(muted bool) error {
	return b.endpoint.SetMuted(muted, b.token)
}

// Muted returns the endpoint's current mute state.
func (b *Bridge) Muted() bool {
	return b.endpoint.Muted()
}

func (b *Bridge) relay(level float64, muted bool, token uuid.UUID) {
	b.mu.Lock()
	fn := b.observer
	own := token == b.token
	b.mu.Unlock()

	// Changes carrying this bridge's own token are echoes of its SetLevel
	// and SetMuted calls; republishing them would loop them back to
	// whoever asked for the change in the first place.
	if own || fn == nil {
		return
	}
	fn(Notification{Level: level, Muted: muted, External: true})
}
