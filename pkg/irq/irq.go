// Package irq provides scoped interrupt masking for code shared between
// the foreground and the step interrupt.
//
// On a host the "interrupt" is the reactor's dispatch of the step timer.
// The dispatcher holds the controller's mask while a handler runs, and
// foreground code holds it for short critical sections; handlers themselves
// never take it.
package irq

import "sync"

// State is the mask state returned by Disable and handed back to Restore.
type State uint32

// Controller masks and unmasks the step interrupt.
type Controller interface {
	Disable() State
	Restore(State)
}

// Critical runs fn with the interrupt masked.
func Critical(c Controller, fn func()) {
	s := c.Disable()
	defer c.Restore(s)
	fn()
}

// Mask is a Controller for host builds. It is not reentrant: critical
// sections must not nest.
type Mask struct {
	mu sync.Mutex
}

// NewMask creates an unmasked controller.
func NewMask() *Mask {
	return &Mask{}
}

// Disable blocks until no handler is running and prevents dispatch.
func (m *Mask) Disable() State {
	m.mu.Lock()
	return 1
}

// Restore re-enables dispatch.
func (m *Mask) Restore(State) {
	m.mu.Unlock()
}

// Dispatch runs an interrupt handler under the mask.
func (m *Mask) Dispatch(handler func() uint32) uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return handler()
}

// None is a Controller for single-threaded use, such as a virtual
// reactor driven from the test goroutine.
type None struct{}

func (None) Disable() State { return 0 }
func (None) Restore(State)  {}
