// ABOUTME: Scoped ownership of the miniaudio context
// ABOUTME: Released exactly once on Close, never reference-counted at use sites
package device

import (
	"fmt"
	"log"
	"sync"

	"github.com/gen2brain/malgo"
)

// Direction selects between capture and render endpoints.
type Direction int

const (
	Capture Direction = iota
	Render
)

func (d Direction) String() string {
	if d == Capture {
		return "capture"
	}
	return "render"
}

func (d Direction) deviceType() malgo.DeviceType {
	if d == Capture {
		return malgo.Capture
	}
	return malgo.Playback
}

// Context owns the OS audio subsystem handle shared by all endpoints and
// engines. Create one per process, close it once everything built on it has
// been disposed.
type Context struct {
	mu     sync.Mutex
	mctx   *malgo.AllocatedContext
	closed bool
}

// NewContext initializes the audio subsystem.
func NewContext() (*Context, error) {
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize audio context: %w", err)
	}
	return &Context{mctx: mctx}, nil
}

// Malgo exposes the underlying allocated context to stream backends.
func (c *Context) Malgo() (*malgo.AllocatedContext, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrContextClosed
	}
	return c.mctx, nil
}

// Close releases the context. Safe to call more than once; only the first
// call does anything.
func (c *Context) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if err := c.mctx.Uninit(); err != nil {
		log.Printf("Warning: audio context uninit error: %v", err)
	}
	c.mctx.Free()
	return nil
}
