package resolver

import "sync"

// coalescedCall is the shared in-flight future late joiners attach to.
type coalescedCall struct {
	done   chan struct{}
	result []Answer
	err    error
}

// Coalescer de-duplicates concurrent identical resolve requests, guaranteeing
// at most one in-flight upstream exchange per (lowercased-name, type-set)
// key (§3, §5, §8).
type Coalescer struct {
	mu    sync.Mutex
	calls map[string]*coalescedCall
}

func NewCoalescer() *Coalescer {
	return &Coalescer{calls: make(map[string]*coalescedCall)}
}

// Do runs fn for key if no call is already in flight for it, otherwise waits
// on the existing call's result. The coalescer entry is removed as soon as
// the call settles (§4.1 step 8).
func (c *Coalescer) Do(key string, fn func() ([]Answer, error)) ([]Answer, error) {
	c.mu.Lock()
	if call, ok := c.calls[key]; ok {
		c.mu.Unlock()
		<-call.done
		return call.result, call.err
	}
	call := &coalescedCall{done: make(chan struct{})}
	c.calls[key] = call
	c.mu.Unlock()

	call.result, call.err = fn()

	c.mu.Lock()
	delete(c.calls, key)
	c.mu.Unlock()
	close(call.done)

	return call.result, call.err
}
