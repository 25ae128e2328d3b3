// ABOUTME: Tests for the volume bridge
// ABOUTME: Covers echo suppression, external change relay, and idempotent subscribe
package volume

import (
	"testing"

	"github.com/google/uuid"
)

type fakeEndpoint struct {
	level float64
	muted bool
	fn    func(level float64, muted bool, token uuid.UUID)
}

func newFakeEndpoint() *fakeEndpoint {
	return &fakeEndpoint{level: 1.0}
}

func (f *fakeEndpoint) SetLevel(level float64, token uuid.UUID) error {
	f.level = level
	if f.fn != nil {
		f.fn(level, f.muted, token)
	}
	return nil
}

func (f *fakeEndpoint) Level() float64 { return f.level }

func (f *fakeEndpoint) SetMuted(muted bool, token uuid.UUID) error {
	f.muted = muted
	if f.fn != nil {
		f.fn(f.level, muted, token)
	}
	return nil
}

func (f *fakeEndpoint) Muted() bool { return f.muted }

func (f *fakeEndpoint) OnLevelChanged(fn func(level float64, muted bool, token uuid.UUID)) {
	f.fn = fn
}

// externalChange simulates the system mixer changing the endpoint outside
// the bridge.
func (f *fakeEndpoint) externalChange(level float64, muted bool) {
	f.level = level
	f.muted = muted
	if f.fn != nil {
		f.fn(level, muted, uuid.New())
	}
}

func TestBridgeWritesReachEndpoint(t *testing.T) {
	ep := newFakeEndpoint()
	b := NewBridge(ep)

	if err := b.SetLevel(0.4); err != nil {
		t.Fatalf("SetLevel failed: %v", err)
	}
	if ep.level != 0.4 {
		t.Errorf("endpoint level = %f, want 0.4", ep.level)
	}
	if b.Level() != 0.4 {
		t.Errorf("Level() = %f, want 0.4", b.Level())
	}

	if err := b.SetMuted(true); err != nil {
		t.Fatalf("SetMuted failed: %v", err)
	}
	if !b.Muted() {
		t.Error("Muted() = false, want true")
	}
}

func TestOwnChangesAreSuppressed(t *testing.T) {
	ep := newFakeEndpoint()
	b := NewBridge(ep)

	var got []Notification
	b.Subscribe(func(n Notification) { got = append(got, n) })
	defer b.Unsubscribe()

	// Neither the level write nor the mute write may come back; echoing
	// them would loop a subscriber's own request straight back to it.
	b.SetLevel(0.5)
	b.SetMuted(true)

	if len(got) != 0 {
		t.Fatalf("observer saw %d notifications of bridge-originated changes, want 0", len(got))
	}
	if ep.level != 0.5 || !ep.muted {
		t.Errorf("endpoint state = (%f, %v), want (0.5, true)", ep.level, ep.muted)
	}
}

func TestExternalChangesAreFlagged(t *testing.T) {
	ep := newFakeEndpoint()
	b := NewBridge(ep)

	var got []Notification
	b.Subscribe(func(n Notification) { got = append(got, n) })
	defer b.Unsubscribe()

	ep.externalChange(0.2, true)

	if len(got) != 1 {
		t.Fatalf("observer saw %d notifications, want 1", len(got))
	}
	if !got[0].External {
		t.Error("external change not flagged as External")
	}
	if got[0].Level != 0.2 || !got[0].Muted {
		t.Errorf("notification = %+v, want level 0.2 muted", got[0])
	}
}

func TestUnsubscribeStopsNotifications(t *testing.T) {
	ep := newFakeEndpoint()
	b := NewBridge(ep)

	count := 0
	b.Subscribe(func(Notification) { count++ })
	b.Unsubscribe()

	ep.externalChange(0.9, false)
	if count != 0 {
		t.Errorf("observer fired %d times after Unsubscribe", count)
	}

	// Unsubscribing again is a no-op.
	b.Unsubscribe()
}

func TestResubscribeReplacesObserver(t *testing.T) {
	ep := newFakeEndpoint()
	b := NewBridge(ep)

	first, second := 0, 0
	b.Subscribe(func(Notification) { first++ })
	b.Subscribe(func(Notification) { second++ })
	defer b.Unsubscribe()

	ep.externalChange(0.1, false)

	if first != 0 {
		t.Errorf("replaced observer fired %d times", first)
	}
	if second != 1 {
		t.Errorf("current observer fired %d times, want 1", second)
	}
}
