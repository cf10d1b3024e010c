package audio

import "sync"

// Callback is the shared handle to a user closure. Invoke may be called from
// any number of native capture threads; the closure itself runs for at most
// one caller at a time and the others block until it returns. Nothing is
// queued or dropped, so a slow closure stalls the native thread that
// delivered the frame.
type Callback struct {
	mu sync.Mutex
	fn func(Frame)
}

// NewCallback wraps fn. A nil fn yields a callback that discards frames.
func NewCallback(fn func(Frame)) *Callback {
	return &Callback{fn: fn}
}

// Invoke hands frame to the user closure. The lock covers exactly one
// closure execution and is released even if the closure panics; the panic
// itself propagates to the caller.
func (c *Callback) Invoke(frame Frame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fn != nil {
		c.fn(frame)
	}
}
